package main

import (
	"math"

	"github.com/unixpickle/medmesh/volume"
	"github.com/unixpickle/model3d/model3d"
)

type VoxelCoord [3]int

// A VoxelConnector creates voxel masks based on direct
// connectivity between points in space relative to some
// mesh surface.
type VoxelConnector struct {
	Space    *VoxelSpace
	Collider model3d.Collider
}

// NewVoxelConnector creates a new VoxelConnector for a
// given 3D model and voxel grid size.
func NewVoxelConnector(m *model3d.Mesh, gridSize int) *VoxelConnector {
	collider := model3d.MeshToCollider(m)
	return &VoxelConnector{
		Space:    NewVoxelSpace(collider, gridSize),
		Collider: collider,
	}
}

// Mask creates a voxel mask of the model using a simple
// search algorithm.
//
// A voxel is 1 if it is unreachable from outside the mesh
// or if it is close to a boundary of the mesh.
// Otherwise, it is 0.
func (v *VoxelConnector) Mask() *volume.Mask {
	reachable := NewBorderVoxels(v.Space.GridSize)
	edges := NewBorderVoxels(v.Space.GridSize)

	queue := []VoxelCoord{{-1, -1, -1}}
	*reachable.At(queue[0]) = true

	for len(queue) > 0 {
		coord := queue[0]
		queue = queue[1:]
		reachable.Neighbors(coord, func(neighbor VoxelCoord) {
			connected, onEdge := v.Connect(coord, neighbor)
			if connected {
				r := reachable.At(neighbor)
				if !*r {
					*r = true
					queue = append(queue, neighbor)
				}
			} else if onEdge {
				*edges.At(coord) = true
			}
		})
	}

	mask := volume.NewMask(v.Space.Geometry())
	for i := range mask.Values {
		x, y, z := mask.Coords(i)
		c := VoxelCoord{x, y, z}
		if *edges.At(c) || !*reachable.At(c) {
			mask.Values[i] = 1
		}
	}
	return mask
}

// Connect attempts to make a connection from v1 to v2.
//
// If a connection can be made, the first return value is
// true. Otherwise, the second return value indicates
// whether or not v1 is closer to the surface standing in
// the way of v1 and v2.
func (v *VoxelConnector) Connect(v1, v2 VoxelCoord) (connected, sourceBorder bool) {
	c1 := v.Space.Coord(v1)
	c2 := v.Space.Coord(v2)

	// If the sphere containing the line segment does
	// not contain anything, no surface can be in the
	// way.
	if !v.Collider.SphereCollision(c1.Mid(c2), c1.Dist(c2)/(2-1e-8)) {
		return true, false
	}

	ray := &model3d.Ray{
		Origin:    c1,
		Direction: c2.Sub(c1),
	}
	coll, ok := v.Collider.FirstRayCollision(ray)
	if !ok || coll.Scale > 1 {
		return true, false
	}
	return false, coll.Scale < 0.5
}

// BorderVoxels is a cubic grid of flags padded by one
// voxel on every side, so coordinates range from -1 to
// GridSize inclusive.
type BorderVoxels struct {
	GridSize int
	Data     []bool
}

func NewBorderVoxels(gridSize int) *BorderVoxels {
	g := gridSize + 2
	return &BorderVoxels{
		GridSize: gridSize,
		Data:     make([]bool, g*g*g),
	}
}

func (b *BorderVoxels) At(coord VoxelCoord) *bool {
	size := b.GridSize + 2
	return &b.Data[(coord[0]+1)+((coord[1]+1)+(coord[2]+1)*size)*size]
}

func (b *BorderVoxels) Neighbors(coord VoxelCoord, f func(VoxelCoord)) {
	for z := -1; z <= 1; z++ {
		for y := -1; y <= 1; y++ {
			for x := -1; x <= 1; x++ {
				if x == 0 && y == 0 && z == 0 {
					continue
				}
				newCoord := VoxelCoord{coord[0] + x, coord[1] + y, coord[2] + z}
				if b.InBounds(newCoord) {
					f(newCoord)
				}
			}
		}
	}
}

func (b *BorderVoxels) InBounds(c VoxelCoord) bool {
	for _, x := range c {
		if x < -1 || x > b.GridSize {
			return false
		}
	}
	return true
}

// A VoxelSpace is a cube of GridSize^3 voxels with its
// minimum corner at Origin.
type VoxelSpace struct {
	Origin   model3d.Coord3D
	Size     float64
	GridSize int
}

// NewVoxelSpace creates the smallest cube of voxels that
// contains b, centered on b.
func NewVoxelSpace(b model3d.Bounder, gridSize int) *VoxelSpace {
	sizes := b.Max().Sub(b.Min())
	size := math.Max(math.Max(sizes.X, sizes.Y), sizes.Z)
	unit := model3d.XYZ(1, 1, 1)
	return &VoxelSpace{
		Origin:   sizes.Sub(unit.Scale(size)).Scale(0.5).Add(b.Min()),
		Size:     size,
		GridSize: gridSize,
	}
}

// Coord gets the center of a voxel.
func (v *VoxelSpace) Coord(vc VoxelCoord) model3d.Coord3D {
	unit := model3d.XYZ(1, 1, 1)
	idxCoord := model3d.XYZ(float64(vc[0]), float64(vc[1]), float64(vc[2]))
	return v.Origin.Add(idxCoord.Add(unit.Scale(0.5)).Scale(v.CellSize()))
}

func (v *VoxelSpace) CellSize() float64 {
	return v.Size / float64(v.GridSize)
}

// Geometry describes the space as a scan lattice whose
// sample points are the voxel centers.
func (v *VoxelSpace) Geometry() volume.Geometry {
	cell := v.CellSize()
	return volume.Geometry{
		Dims:    [3]int{v.GridSize, v.GridSize, v.GridSize},
		Spacing: [3]float64{cell, cell, cell},
		Origin:  v.Coord(VoxelCoord{}).Array(),
	}
}
