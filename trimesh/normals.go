package trimesh

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/model3d/model3d"
)

// ComputeNormals creates a copy of the mesh with one unit
// normal per vertex.
//
// Each triangle contributes (v1-v0)x(v2-v0) to its three
// vertices. The cross product is left unnormalized, so
// larger triangles weigh more. Vertices whose accumulated
// normal has zero length, such as vertices only touched by
// degenerate triangles or by no triangle at all, keep the
// zero vector.
func ComputeNormals(m *Mesh) (*Mesh, error) {
	if err := m.Validate(); err != nil {
		return nil, errors.Wrap(err, "compute normals")
	}
	normals := make([]model3d.Coord3D, len(m.Vertices))
	for _, t := range m.Triangles {
		v0, v1, v2 := m.Vertices[t[0]], m.Vertices[t[1]], m.Vertices[t[2]]
		n := v1.Sub(v0).Cross(v2.Sub(v0))
		for _, idx := range t {
			normals[idx] = normals[idx].Add(n)
		}
	}
	for i, n := range normals {
		if norm := n.Norm(); norm > 0 && isFinite(n) {
			normals[i] = n.Scale(1 / norm)
		} else {
			normals[i] = model3d.Coord3D{}
		}
	}
	return &Mesh{
		Vertices:  m.Vertices,
		Triangles: m.Triangles,
		Normals:   normals,
	}, nil
}
