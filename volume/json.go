package volume

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// ReadJSON reads a VoxelGrid encoded as a JSON array of
// z-planes, each an array of y-rows, each an array of x
// values.
//
// The resulting grid has unit spacing and a zero origin.
func ReadJSON(r io.Reader) (*VoxelGrid, error) {
	var object [][][]float64
	dec := json.NewDecoder(r)
	if err := dec.Decode(&object); err != nil {
		return nil, errors.Wrap(err, "read voxel grid")
	}
	if len(object) == 0 || len(object[0]) == 0 || len(object[0][0]) == 0 {
		return nil, errors.Wrap(ErrNoData, "read voxel grid")
	}
	nz, ny, nx := len(object), len(object[0]), len(object[0][0])
	result := make([]float64, 0, nx*ny*nz)
	for _, yPlane := range object {
		if len(yPlane) != ny {
			return nil, errors.New("read voxel grid: invalid dimensions")
		}
		for _, xLine := range yPlane {
			if len(xLine) != nx {
				return nil, errors.New("read voxel grid: invalid dimensions")
			}
			result = append(result, xLine...)
		}
	}
	return &VoxelGrid{
		Geometry: NewGeometry(nx, ny, nz),
		Values:   result,
	}, nil
}
