package filters

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/medmesh/volume"
)

// MedianFilter applies a binary median filter over a cubic
// window of the given radius.
//
// A voxel becomes foreground iff more than half of its
// (2r+1)^3 window is foreground. Out-of-bounds window
// positions take the value of the nearest voxel in bounds.
func (n *Native) MedianFilter(mask *volume.Mask, radius int) (*volume.Mask, error) {
	if err := mask.Validate(); err != nil {
		return nil, errors.Wrap(err, "median filter")
	}
	if radius < 0 {
		return nil, errors.Errorf("median filter: negative radius %d", radius)
	}
	res := volume.NewMask(mask.Geometry)
	if radius == 0 {
		copy(res.Values, mask.Values)
		return res, nil
	}

	side := 2*radius + 1
	window := side * side * side
	dims := mask.Dims
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				var count int
				for dz := -radius; dz <= radius; dz++ {
					wz := clamp(z+dz, dims[2])
					for dy := -radius; dy <= radius; dy++ {
						wy := clamp(y+dy, dims[1])
						for dx := -radius; dx <= radius; dx++ {
							wx := clamp(x+dx, dims[0])
							count += int(mask.Values[mask.Index(wx, wy, wz)])
						}
					}
				}
				if 2*count > window {
					res.Values[mask.Index(x, y, z)] = 1
				}
			}
		}
	}
	return res, nil
}

func clamp(i, size int) int {
	if i < 0 {
		return 0
	} else if i >= size {
		return size - 1
	}
	return i
}
