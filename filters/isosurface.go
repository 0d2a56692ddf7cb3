package filters

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/medmesh/trimesh"
	"github.com/unixpickle/medmesh/volume"
	"github.com/unixpickle/model3d/model3d"
)

// Isosurface extracts the surface where the trilinearly
// interpolated mask crosses isovalue.
//
// Marching cubes runs in index space with one sample per
// voxel, so every voxel center is a grid corner, and the
// result is then mapped through the mask's spacing and
// origin. Triangles face away from the foreground.
func (n *Native) Isosurface(mask *volume.Mask, isovalue float64) (*trimesh.Mesh, error) {
	if err := mask.Validate(); err != nil {
		return nil, errors.Wrap(err, "isosurface")
	}
	if !(isovalue > 0 && isovalue < 1) {
		return nil, errors.Errorf("isosurface: isovalue %v outside (0, 1)", isovalue)
	}
	dims := mask.Dims

	// The bounds include a ring of background voxels so the
	// surface is closed where the mask touches the border.
	solid := model3d.CheckedFuncSolid(
		model3d.XYZ(-1, -1, -1),
		model3d.XYZ(float64(dims[0]), float64(dims[1]), float64(dims[2])),
		func(c model3d.Coord3D) bool {
			return mask.Interp(c) >= isovalue
		},
	)
	mesh := model3d.MarchingCubesSearch(solid, 1, n.searchIters())
	mesh = mesh.MapCoords(mask.Physical)
	return trimesh.FromModel3D(mesh), nil
}
