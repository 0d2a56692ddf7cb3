// Package trimesh implements indexed triangle meshes,
// vertex normals, and triangle-soup interchange.
package trimesh

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/unixpickle/model3d/model3d"
)

// A Mesh is an indexed triangle mesh.
//
// Triangles index into Vertices. Normals is either empty
// or parallel to Vertices.
type Mesh struct {
	Vertices  []model3d.Coord3D
	Triangles [][3]int
	Normals   []model3d.Coord3D
}

// Validate checks that every index is in range and that
// Normals, if present, matches the vertex count.
func (m *Mesh) Validate() error {
	if m == nil {
		return errors.New("invalid mesh: nil mesh")
	}
	n := len(m.Vertices)
	for i, t := range m.Triangles {
		for _, idx := range t {
			if idx < 0 || idx >= n {
				return errors.Errorf("invalid mesh: triangle %d references vertex %d of %d", i, idx, n)
			}
		}
	}
	if len(m.Normals) != 0 && len(m.Normals) != n {
		return errors.Errorf("invalid mesh: %d normals for %d vertices", len(m.Normals), n)
	}
	return nil
}

// Copy creates a deep copy of the mesh.
func (m *Mesh) Copy() *Mesh {
	res := &Mesh{
		Vertices:  append([]model3d.Coord3D{}, m.Vertices...),
		Triangles: append([][3]int{}, m.Triangles...),
	}
	if m.Normals != nil {
		res.Normals = append([]model3d.Coord3D{}, m.Normals...)
	}
	return res
}

// Bounds gets the per-axis minimum and maximum over all
// vertices. An empty mesh has zero bounds.
func (m *Mesh) Bounds() (min, max model3d.Coord3D) {
	if len(m.Vertices) == 0 {
		return
	}
	min, max = m.Vertices[0], m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		min = min.Min(v)
		max = max.Max(v)
	}
	return
}

// Triangle gets the coordinates of the i-th triangle.
func (m *Mesh) Triangle(i int) *model3d.Triangle {
	t := m.Triangles[i]
	return &model3d.Triangle{m.Vertices[t[0]], m.Vertices[t[1]], m.Vertices[t[2]]}
}

// Area computes the total surface area.
func (m *Mesh) Area() float64 {
	var res float64
	for i := range m.Triangles {
		res += m.Triangle(i).Area()
	}
	return res
}

// Model3D converts the mesh into a model3d.Mesh, which is
// keyed by coordinates instead of indices.
func (m *Mesh) Model3D() *model3d.Mesh {
	res := model3d.NewMesh()
	for i := range m.Triangles {
		res.Add(m.Triangle(i))
	}
	return res
}

// FromTriangles welds a triangle soup into an indexed mesh.
//
// Vertices with identical coordinates are merged and
// numbered in order of first appearance, so the result is
// fully determined by the order of the input.
func FromTriangles(tris []*model3d.Triangle) *Mesh {
	res := &Mesh{Triangles: make([][3]int, 0, len(tris))}
	indices := map[model3d.Coord3D]int{}
	for _, t := range tris {
		var indexed [3]int
		for i, c := range t {
			idx, ok := indices[c]
			if !ok {
				idx = len(res.Vertices)
				indices[c] = idx
				res.Vertices = append(res.Vertices, c)
			}
			indexed[i] = idx
		}
		res.Triangles = append(res.Triangles, indexed)
	}
	return res
}

// FromModel3D converts a model3d.Mesh into an indexed mesh.
//
// Triangles are sorted by their coordinates first, since a
// model3d.Mesh does not iterate in a stable order.
func FromModel3D(m *model3d.Mesh) *Mesh {
	tris := m.TriangleSlice()
	SortTriangles(tris)
	return FromTriangles(tris)
}

// SortTriangles sorts triangles lexicographically by their
// vertex coordinates, keeping each triangle's winding.
func SortTriangles(tris []*model3d.Triangle) {
	sort.Slice(tris, func(i, j int) bool {
		a, b := tris[i], tris[j]
		for k := 0; k < 3; k++ {
			aa, ba := a[k].Array(), b[k].Array()
			for l := 0; l < 3; l++ {
				if aa[l] != ba[l] {
					return aa[l] < ba[l]
				}
			}
		}
		return false
	})
}

func isFinite(c model3d.Coord3D) bool {
	for _, x := range c.Array() {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
