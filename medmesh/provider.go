package medmesh

import (
	"github.com/unixpickle/medmesh/filters"
	"github.com/unixpickle/medmesh/trimesh"
	"github.com/unixpickle/medmesh/volume"
)

// A FilterProvider implements the volumetric operations the
// pipeline is built from.
//
// Implementations must not modify their inputs.
type FilterProvider interface {
	IntensityWindow(grid *volume.VoxelGrid, min, max float64) (*volume.VoxelGrid, error)
	BinaryThreshold(grid *volume.VoxelGrid, lo, hi float64) (*volume.Mask, error)
	ConnectedComponents(mask *volume.Mask) (*volume.LabeledGrid, map[int32]float64, error)
	MedianFilter(mask *volume.Mask, radius int) (*volume.Mask, error)
	Isosurface(mask *volume.Mask, isovalue float64) (*trimesh.Mesh, error)
	SmoothMesh(mesh *trimesh.Mesh, iterations int, passBand float64) (*trimesh.Mesh, error)
}

var _ FilterProvider = (*filters.Native)(nil)

// A Loader reads a scan from a path.
type Loader func(path string) (*volume.VoxelGrid, error)
