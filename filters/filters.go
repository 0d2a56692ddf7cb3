// Package filters is a native Go implementation of the
// volumetric operations used by the segmentation-to-mesh
// pipeline: intensity windowing, thresholding, connected
// components, median filtering, isosurface extraction and
// windowed-sinc mesh smoothing.
package filters

import (
	"math"

	"github.com/pkg/errors"
	"github.com/unixpickle/medmesh/volume"
)

// DefaultSearchIters is the number of bisection steps used
// to place isosurface vertices along grid edges.
const DefaultSearchIters = 8

// Native implements every filter in Go.
//
// The zero value is ready to use.
type Native struct {
	// SearchIters overrides DefaultSearchIters if positive.
	SearchIters int

	// EdgeAngle is the turning angle, in degrees, above which
	// a boundary vertex is pinned during smoothing.
	// If 0, 15 degrees is used.
	EdgeAngle float64
}

// IntensityWindow linearly maps [min, max] onto [0, 1],
// clamping values outside of the window.
func (n *Native) IntensityWindow(grid *volume.VoxelGrid, min, max float64) (*volume.VoxelGrid, error) {
	if err := grid.Validate(); err != nil {
		return nil, errors.Wrap(err, "intensity window")
	}
	if !(min < max) {
		return nil, errors.Errorf("intensity window: min %v must be less than max %v", min, max)
	}
	res := volume.NewVoxelGrid(grid.Geometry)
	scale := 1 / (max - min)
	for i, x := range grid.Values {
		switch {
		case x <= min || math.IsNaN(x):
			res.Values[i] = 0
		case x >= max:
			res.Values[i] = 1
		default:
			res.Values[i] = math.Min(1, math.Max(0, (x-min)*scale))
		}
	}
	return res, nil
}

// BinaryThreshold marks voxels inside [lo, hi] as 1.
func (n *Native) BinaryThreshold(grid *volume.VoxelGrid, lo, hi float64) (*volume.Mask, error) {
	if err := grid.Validate(); err != nil {
		return nil, errors.Wrap(err, "binary threshold")
	}
	if !(lo <= hi) {
		return nil, errors.Errorf("binary threshold: lower %v exceeds upper %v", lo, hi)
	}
	res := volume.NewMask(grid.Geometry)
	for i, x := range grid.Values {
		if x >= lo && x <= hi {
			res.Values[i] = 1
		}
	}
	return res, nil
}

func (n *Native) searchIters() int {
	if n.SearchIters > 0 {
		return n.SearchIters
	}
	return DefaultSearchIters
}

func (n *Native) edgeAngle() float64 {
	if n.EdgeAngle > 0 {
		return n.EdgeAngle
	}
	return 15
}
