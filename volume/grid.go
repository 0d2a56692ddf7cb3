// Package volume holds voxel grids, binary masks and
// label grids, along with readers and writers for the
// scan formats the pipeline ingests.
package volume

import (
	"math"

	"github.com/pkg/errors"
	"github.com/unixpickle/model3d/model3d"
)

// Geometry describes the sampling lattice shared by every
// grid derived from one scan.
//
// Voxel (x, y, z) is stored at index x+nx*(y+ny*z) and
// sits at Origin + (x, y, z)*Spacing in physical space.
type Geometry struct {
	Dims    [3]int
	Spacing [3]float64
	Origin  [3]float64
}

// NewGeometry creates a Geometry with unit spacing and a
// zero origin.
func NewGeometry(nx, ny, nz int) Geometry {
	return Geometry{
		Dims:    [3]int{nx, ny, nz},
		Spacing: [3]float64{1, 1, 1},
	}
}

// Validate checks that the dimensions are positive and
// the spacing is positive and finite.
func (g Geometry) Validate() error {
	for i, d := range g.Dims {
		if d <= 0 {
			return errors.Errorf("invalid geometry: dimension %d is %d", i, d)
		}
	}
	for i, s := range g.Spacing {
		if !(s > 0) || math.IsInf(s, 0) {
			return errors.Errorf("invalid geometry: spacing %d is %v", i, s)
		}
	}
	for i, o := range g.Origin {
		if math.IsNaN(o) || math.IsInf(o, 0) {
			return errors.Errorf("invalid geometry: origin %d is %v", i, o)
		}
	}
	return nil
}

// NumVoxels returns nx*ny*nz.
func (g Geometry) NumVoxels() int {
	return g.Dims[0] * g.Dims[1] * g.Dims[2]
}

// VoxelVolume returns the physical volume of one voxel.
func (g Geometry) VoxelVolume() float64 {
	return g.Spacing[0] * g.Spacing[1] * g.Spacing[2]
}

// Index gets the flat buffer index of a voxel.
// The coordinates are not bounds checked.
func (g Geometry) Index(x, y, z int) int {
	return x + g.Dims[0]*(y+g.Dims[1]*z)
}

// Coords inverts Index.
func (g Geometry) Coords(idx int) (x, y, z int) {
	x = idx % g.Dims[0]
	idx /= g.Dims[0]
	y = idx % g.Dims[1]
	z = idx / g.Dims[1]
	return
}

// InBounds checks if integer voxel coordinates are inside
// the grid.
func (g Geometry) InBounds(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < g.Dims[0] && y < g.Dims[1] && z < g.Dims[2]
}

// Physical maps a (possibly fractional) index-space point
// into physical space.
func (g Geometry) Physical(c model3d.Coord3D) model3d.Coord3D {
	return model3d.XYZ(
		g.Origin[0]+c.X*g.Spacing[0],
		g.Origin[1]+c.Y*g.Spacing[1],
		g.Origin[2]+c.Z*g.Spacing[2],
	)
}

// Equal checks if two geometries describe the same lattice.
func (g Geometry) Equal(other Geometry) bool {
	return g == other
}

// A VoxelGrid is a scalar volume, such as a CT scan in
// Hounsfield units or a normalized intensity field.
type VoxelGrid struct {
	Geometry
	Values []float64
}

// NewVoxelGrid creates a zero-filled grid.
func NewVoxelGrid(g Geometry) *VoxelGrid {
	return &VoxelGrid{Geometry: g, Values: make([]float64, g.NumVoxels())}
}

// Validate checks the geometry and the buffer length.
func (v *VoxelGrid) Validate() error {
	if v == nil {
		return errors.New("invalid voxel grid: nil grid")
	}
	if err := v.Geometry.Validate(); err != nil {
		return err
	}
	if len(v.Values) != v.NumVoxels() {
		return errors.Errorf("invalid voxel grid: %d values for %dx%dx%d voxels",
			len(v.Values), v.Dims[0], v.Dims[1], v.Dims[2])
	}
	return nil
}

// Get gets the exact value at integer coordinates.
// If a coordinate is out of bounds, 0 is returned.
func (v *VoxelGrid) Get(x, y, z int) float64 {
	if !v.InBounds(x, y, z) {
		return 0
	}
	return v.Values[v.Index(x, y, z)]
}

// Set sets the value at integer coordinates.
func (v *VoxelGrid) Set(x, y, z int, value float64) {
	v.Values[v.Index(x, y, z)] = value
}

// Interp gets a trilinear interpolated value for the grid
// at the given index-space point.
//
// Samples outside of the grid are treated as 0.
func (v *VoxelGrid) Interp(c model3d.Coord3D) float64 {
	return interp(c, v.Get)
}

// A Mask is a binary volume with values in {0, 1}.
type Mask struct {
	Geometry
	Values []uint8
}

// NewMask creates an all-background mask.
func NewMask(g Geometry) *Mask {
	return &Mask{Geometry: g, Values: make([]uint8, g.NumVoxels())}
}

// Validate checks the geometry, the buffer length, and
// that every value is 0 or 1.
func (m *Mask) Validate() error {
	if m == nil {
		return errors.New("invalid mask: nil mask")
	}
	if err := m.Geometry.Validate(); err != nil {
		return err
	}
	if len(m.Values) != m.NumVoxels() {
		return errors.Errorf("invalid mask: %d values for %d voxels", len(m.Values), m.NumVoxels())
	}
	for i, x := range m.Values {
		if x > 1 {
			return errors.Errorf("invalid mask: value %d at index %d", x, i)
		}
	}
	return nil
}

// Get gets the mask value, or 0 out of bounds.
func (m *Mask) Get(x, y, z int) uint8 {
	if !m.InBounds(x, y, z) {
		return 0
	}
	return m.Values[m.Index(x, y, z)]
}

// Count returns the number of foreground voxels.
func (m *Mask) Count() int {
	var n int
	for _, x := range m.Values {
		n += int(x)
	}
	return n
}

// Interp gets a trilinear interpolation of the mask,
// treating it as a field of 0s and 1s.
func (m *Mask) Interp(c model3d.Coord3D) float64 {
	return interp(c, func(x, y, z int) float64 {
		return float64(m.Get(x, y, z))
	})
}

// A LabeledGrid assigns every foreground voxel a positive
// component label. Label 0 is background.
type LabeledGrid struct {
	Geometry
	Labels []int32
}

// NewLabeledGrid creates an all-background label grid.
func NewLabeledGrid(g Geometry) *LabeledGrid {
	return &LabeledGrid{Geometry: g, Labels: make([]int32, g.NumVoxels())}
}

// Select creates a mask containing only the given label.
func (l *LabeledGrid) Select(label int32) *Mask {
	res := NewMask(l.Geometry)
	for i, x := range l.Labels {
		if x == label {
			res.Values[i] = 1
		}
	}
	return res
}

func interp(c model3d.Coord3D, get func(x, y, z int) float64) float64 {
	xs, xFracs := roundedCoords(c.X)
	ys, yFracs := roundedCoords(c.Y)
	zs, zFracs := roundedCoords(c.Z)
	var value float64
	for i, x := range xs {
		xFrac := xFracs[i]
		if xFrac == 0 {
			continue
		}
		for j, y := range ys {
			yFrac := yFracs[j]
			if yFrac == 0 {
				continue
			}
			for k, z := range zs {
				zFrac := zFracs[k]
				if zFrac == 0 {
					continue
				}
				value += xFrac * yFrac * zFrac * get(x, y, z)
			}
		}
	}
	return value
}

func roundedCoords(c float64) (vals [2]int, fracs [2]float64) {
	min := int(math.Floor(c))
	max := min + 1
	minFrac := float64(max) - c
	maxFrac := 1 - minFrac
	return [2]int{min, max}, [2]float64{minFrac, maxFrac}
}
