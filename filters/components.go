package filters

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/medmesh/volume"
)

// ConnectedComponents labels the 26-connected foreground
// regions of a mask.
//
// Labels start at 1 and are assigned in voxel index order
// of each region's first voxel. The returned map gives the
// physical size of each label: its voxel count times the
// volume of one voxel.
func (n *Native) ConnectedComponents(mask *volume.Mask) (*volume.LabeledGrid, map[int32]float64, error) {
	if err := mask.Validate(); err != nil {
		return nil, nil, errors.Wrap(err, "connected components")
	}
	labels := volume.NewLabeledGrid(mask.Geometry)
	sizes := map[int32]float64{}
	voxelVolume := mask.VoxelVolume()

	var next int32
	var queue []int
	for start, v := range mask.Values {
		if v == 0 || labels.Labels[start] != 0 {
			continue
		}
		next++
		labels.Labels[start] = next
		queue = append(queue[:0], start)
		var count int
		for len(queue) > 0 {
			idx := queue[0]
			queue = queue[1:]
			count++
			neighbors(mask.Geometry, idx, func(neighbor int) {
				if mask.Values[neighbor] != 0 && labels.Labels[neighbor] == 0 {
					labels.Labels[neighbor] = next
					queue = append(queue, neighbor)
				}
			})
		}
		sizes[next] = float64(count) * voxelVolume
	}
	return labels, sizes, nil
}

// neighbors calls f with the index of every in-bounds voxel
// in the 26-neighborhood of idx.
func neighbors(g volume.Geometry, idx int, f func(int)) {
	cx, cy, cz := g.Coords(idx)
	for z := -1; z <= 1; z++ {
		for y := -1; y <= 1; y++ {
			for x := -1; x <= 1; x++ {
				if x == 0 && y == 0 && z == 0 {
					continue
				}
				nx, ny, nz := cx+x, cy+y, cz+z
				if g.InBounds(nx, ny, nz) {
					f(g.Index(nx, ny, nz))
				}
			}
		}
	}
}
