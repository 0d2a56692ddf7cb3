package filters

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/medmesh/trimesh"
	"github.com/unixpickle/medmesh/volume"
	"github.com/unixpickle/model3d/model3d"
)

func TestIntensityWindow(t *testing.T) {
	grid := volume.NewVoxelGrid(volume.NewGeometry(7, 1, 1))
	grid.Values = []float64{-3000, -1000, 0, 1500, 4000, 9000, math.NaN()}

	var n Native
	res, err := n.IntensityWindow(grid, -1000, 4000)
	require.NoError(t, err)
	assert.Equal(t, grid.Geometry, res.Geometry)
	expected := []float64{0, 0, 0.2, 0.5, 1, 1, 0}
	for i, x := range res.Values {
		assert.InDelta(t, expected[i], x, 1e-12, "index %d", i)
		assert.True(t, x >= 0 && x <= 1)
	}
	assert.Equal(t, -3000.0, grid.Values[0], "input must not change")

	_, err = n.IntensityWindow(grid, 5, 5)
	assert.Error(t, err)
}

func TestIntensityWindowRange(t *testing.T) {
	grid := volume.NewVoxelGrid(volume.NewGeometry(100, 1, 1))
	for i := range grid.Values {
		grid.Values[i] = float64(i*i) - 3000
	}
	var n Native
	for _, window := range [][2]float64{{-1000, 4000}, {-100, 300}, {0, 1e-3}, {-5e6, 5e6}} {
		res, err := n.IntensityWindow(grid, window[0], window[1])
		require.NoError(t, err)
		for i, x := range res.Values {
			assert.True(t, x >= 0 && x <= 1, "window %v value %v", window, x)
			if grid.Values[i] <= window[0] {
				assert.Equal(t, 0.0, x)
			} else if grid.Values[i] >= window[1] {
				assert.Equal(t, 1.0, x)
			}
		}
	}
}

func TestBinaryThresholdInclusive(t *testing.T) {
	grid := volume.NewVoxelGrid(volume.NewGeometry(5, 1, 1))
	grid.Values = []float64{0.1, 0.3, 0.5, 1.0, 1.1}
	var n Native
	mask, err := n.BinaryThreshold(grid, 0.3, 1.0)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 1, 1, 1, 0}, mask.Values)

	_, err = n.BinaryThreshold(grid, 0.8, 0.2)
	assert.Error(t, err)
}

// fillBox sets the voxels of [min, max) in a mask.
func fillBox(m *volume.Mask, min, max [3]int) {
	for z := min[2]; z < max[2]; z++ {
		for y := min[1]; y < max[1]; y++ {
			for x := min[0]; x < max[0]; x++ {
				m.Values[m.Index(x, y, z)] = 1
			}
		}
	}
}

func TestConnectedComponentsSizes(t *testing.T) {
	g := volume.NewGeometry(20, 8, 8)
	g.Spacing = [3]float64{0.5, 1, 2}
	mask := volume.NewMask(g)
	fillBox(mask, [3]int{0, 0, 0}, [3]int{10, 1, 1})  // 10 voxels
	fillBox(mask, [3]int{0, 3, 3}, [3]int{10, 8, 4})  // 50 voxels
	fillBox(mask, [3]int{15, 0, 6}, [3]int{20, 1, 7}) // 5 voxels

	var n Native
	labels, sizes, err := n.ConnectedComponents(mask)
	require.NoError(t, err)
	require.Len(t, sizes, 3)
	assert.Equal(t, map[int32]float64{1: 10, 2: 50, 3: 5}, sizes)
	assert.Equal(t, int32(1), labels.Labels[g.Index(0, 0, 0)])
	assert.Equal(t, int32(2), labels.Labels[g.Index(0, 3, 3)])
	assert.Equal(t, int32(3), labels.Labels[g.Index(19, 0, 6)])
	assert.Equal(t, int32(0), labels.Labels[g.Index(12, 0, 0)])
}

func TestConnectedComponentsDiagonal(t *testing.T) {
	mask := volume.NewMask(volume.NewGeometry(3, 3, 3))
	mask.Values[mask.Index(0, 0, 0)] = 1
	mask.Values[mask.Index(1, 1, 1)] = 1
	mask.Values[mask.Index(2, 2, 2)] = 1
	mask.Values[mask.Index(2, 0, 2)] = 1

	var n Native
	_, sizes, err := n.ConnectedComponents(mask)
	require.NoError(t, err)
	assert.Equal(t, map[int32]float64{1: 4}, sizes, "corner neighbors are connected")
}

func TestConnectedComponentsEmpty(t *testing.T) {
	var n Native
	labels, sizes, err := n.ConnectedComponents(volume.NewMask(volume.NewGeometry(4, 4, 4)))
	require.NoError(t, err)
	assert.Empty(t, sizes)
	for _, l := range labels.Labels {
		assert.Equal(t, int32(0), l)
	}
}

func TestMedianFilter(t *testing.T) {
	mask := volume.NewMask(volume.NewGeometry(9, 9, 9))
	fillBox(mask, [3]int{2, 2, 2}, [3]int{7, 7, 7})
	// A hole in the block and a stray voxel outside of it.
	mask.Values[mask.Index(4, 4, 4)] = 0
	mask.Values[mask.Index(0, 8, 0)] = 1

	var n Native
	res, err := n.MedianFilter(mask, 1)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), res.Get(4, 4, 4), "hole is filled")
	assert.Equal(t, uint8(0), res.Get(0, 8, 0), "stray voxel is removed")
	assert.Equal(t, uint8(1), res.Get(3, 3, 3))
	assert.Equal(t, uint8(0), res.Get(2, 2, 2), "block corners are eroded")
	assert.Equal(t, uint8(1), res.Get(2, 4, 4), "face centers survive")
	assert.Equal(t, uint8(0), mask.Get(4, 4, 4), "input must not change")

	same, err := n.MedianFilter(mask, 0)
	require.NoError(t, err)
	assert.Equal(t, mask.Values, same.Values)
}

func TestMedianFilterBorder(t *testing.T) {
	// A full mask stays full thanks to replicated borders.
	mask := volume.NewMask(volume.NewGeometry(3, 3, 3))
	for i := range mask.Values {
		mask.Values[i] = 1
	}
	var n Native
	res, err := n.MedianFilter(mask, 1)
	require.NoError(t, err)
	assert.Equal(t, 27, res.Count())
}

func edgeUseCounts(m *trimesh.Mesh) map[[2]int]int {
	counts := map[[2]int]int{}
	for _, t := range m.Triangles {
		for i := 0; i < 3; i++ {
			a, b := t[i], t[(i+1)%3]
			if a > b {
				a, b = b, a
			}
			counts[[2]int{a, b}]++
		}
	}
	return counts
}

func signedVolume(m *trimesh.Mesh) float64 {
	var v float64
	for i := range m.Triangles {
		tri := m.Triangle(i)
		v += tri[0].Dot(tri[1].Cross(tri[2])) / 6
	}
	return v
}

func boxMask() *volume.Mask {
	g := volume.NewGeometry(7, 7, 7)
	g.Spacing = [3]float64{1, 1, 2}
	g.Origin = [3]float64{10, 0, 0}
	mask := volume.NewMask(g)
	fillBox(mask, [3]int{2, 2, 2}, [3]int{5, 5, 5})
	return mask
}

func TestIsosurfaceBox(t *testing.T) {
	var n Native
	mesh, err := n.Isosurface(boxMask(), 0.5)
	require.NoError(t, err)
	require.NoError(t, mesh.Validate())
	require.NotEmpty(t, mesh.Vertices)
	require.NotEmpty(t, mesh.Triangles)

	min, max := mesh.Bounds()
	const eps = 1e-2
	assert.InDelta(t, 11.5, min.X, eps)
	assert.InDelta(t, 14.5, max.X, eps)
	assert.InDelta(t, 1.5, min.Y, eps)
	assert.InDelta(t, 4.5, max.Y, eps)
	assert.InDelta(t, 3, min.Z, eps)
	assert.InDelta(t, 9, max.Z, eps)

	for e, count := range edgeUseCounts(mesh) {
		assert.Equal(t, 2, count, "edge %v", e)
	}
	vol := signedVolume(mesh)
	assert.Greater(t, vol, 20.0, "surface must face outward and enclose the box")
	assert.Less(t, vol, 54.0)
}

func TestIsosurfaceDeterministic(t *testing.T) {
	var n Native
	first, err := n.Isosurface(boxMask(), 0.5)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		next, err := n.Isosurface(boxMask(), 0.5)
		require.NoError(t, err)
		assert.Equal(t, first, next)
	}
}

func TestIsosurfaceEmpty(t *testing.T) {
	var n Native
	mesh, err := n.Isosurface(volume.NewMask(volume.NewGeometry(4, 4, 4)), 0.5)
	require.NoError(t, err)
	assert.Empty(t, mesh.Triangles)

	_, err = n.Isosurface(boxMask(), 1.5)
	assert.Error(t, err)
}

// bumpyPlane creates a size x size grid of vertices in the
// z=0 plane with a spike at the center vertex.
func bumpyPlane(size int) (*trimesh.Mesh, int) {
	m := &trimesh.Mesh{}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			m.Vertices = append(m.Vertices, model3d.XYZ(float64(x), float64(y), 0))
		}
	}
	for y := 0; y+1 < size; y++ {
		for x := 0; x+1 < size; x++ {
			i := x + y*size
			m.Triangles = append(m.Triangles, [3]int{i, i + 1, i + size}, [3]int{i + 1, i + size + 1, i + size})
		}
	}
	center := size/2 + (size/2)*size
	m.Vertices[center].Z = 1
	return m, center
}

func TestSmoothMeshReducesSpike(t *testing.T) {
	m, center := bumpyPlane(9)
	var n Native
	res, err := n.SmoothMesh(m, 20, 0.1)
	require.NoError(t, err)
	assert.Equal(t, m.Triangles, res.Triangles)
	assert.Less(t, math.Abs(res.Vertices[center].Z), 0.5)
	assert.Equal(t, 1.0, m.Vertices[center].Z, "input must not change")

	// Corners of the open boundary are pinned.
	assert.Equal(t, model3d.XYZ(0, 0, 0), res.Vertices[0])
	assert.Equal(t, model3d.XYZ(8, 8, 0), res.Vertices[len(res.Vertices)-1])
}

func TestSmoothMeshKeepsPlanesFlat(t *testing.T) {
	m, center := bumpyPlane(7)
	m.Vertices[center].Z = 0
	var n Native
	res, err := n.SmoothMesh(m, 15, 0.001)
	require.NoError(t, err)
	for _, v := range res.Vertices {
		assert.InDelta(t, 0, v.Z, 1e-12)
	}
}

func TestSmoothMeshTranslationInvariant(t *testing.T) {
	var n Native
	mesh, err := n.Isosurface(boxMask(), 0.5)
	require.NoError(t, err)
	offset := model3d.XYZ(3, -7, 11)
	moved := mesh.Copy()
	for i, v := range moved.Vertices {
		moved.Vertices[i] = v.Add(offset)
	}

	a, err := n.SmoothMesh(mesh, 20, 0.001)
	require.NoError(t, err)
	b, err := n.SmoothMesh(moved, 20, 0.001)
	require.NoError(t, err)
	for i := range a.Vertices {
		assert.InDelta(t, 0, a.Vertices[i].Add(offset).Dist(b.Vertices[i]), 1e-9)
	}
	assert.Greater(t, signedVolume(a), 0.0)
}

func TestSmoothMeshZeroIterations(t *testing.T) {
	m, _ := bumpyPlane(5)
	var n Native
	res, err := n.SmoothMesh(m, 0, 0.001)
	require.NoError(t, err)
	assert.Equal(t, m.Vertices, res.Vertices)
	assert.Equal(t, m.Triangles, res.Triangles)

	_, err = n.SmoothMesh(m, -1, 0.001)
	assert.Error(t, err)
	_, err = n.SmoothMesh(m, 5, 0)
	assert.Error(t, err)
}

func TestSincCoefficientsPassBand(t *testing.T) {
	for _, passBand := range []float64{0.001, 0.01, 0.1} {
		for _, iters := range []int{1, 5, 20, 100} {
			coeffs := sincCoefficients(iters, passBand)
			assert.InDelta(t, 1, filterResponse(coeffs, passBand), 1e-3,
				"pass band %v iterations %d", passBand, iters)
		}
	}
}

func TestSmoothMeshKeepsVolume(t *testing.T) {
	mask := volume.NewMask(volume.NewGeometry(16, 16, 16))
	for i := range mask.Values {
		x, y, z := mask.Coords(i)
		dx, dy, dz := float64(x)-7.5, float64(y)-7.5, float64(z)-7.5
		if dx*dx+dy*dy+dz*dz <= 36 {
			mask.Values[i] = 1
		}
	}
	var n Native
	mesh, err := n.Isosurface(mask, 0.5)
	require.NoError(t, err)
	smoothed, err := n.SmoothMesh(mesh, 20, 0.001)
	require.NoError(t, err)

	before := signedVolume(mesh)
	after := signedVolume(smoothed)
	assert.Greater(t, after, 0.5*before)
	assert.Less(t, after, 1.1*before)

	min, max := smoothed.Bounds()
	assert.Greater(t, max.X-min.X, 9.0)
	assert.Greater(t, max.Z-min.Z, 9.0)
}

// filterResponse evaluates the Chebyshev series coeffs at
// the Laplacian frequency k.
func filterResponse(coeffs []float64, k float64) float64 {
	theta := math.Acos(1 - 0.5*k)
	var res float64
	for i, c := range coeffs {
		res += c * math.Cos(float64(i)*theta)
	}
	return res
}
