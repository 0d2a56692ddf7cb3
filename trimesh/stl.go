package trimesh

import (
	"bufio"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/unixpickle/model3d/model3d"
)

// ReadSTL reads an STL triangle soup and welds it into an
// indexed mesh.
func ReadSTL(r io.Reader) (*Mesh, error) {
	tris, err := model3d.ReadSTL(r)
	if err != nil {
		return nil, errors.Wrap(err, "read stl")
	}
	return FromTriangles(tris), nil
}

// LoadSTL reads an STL file.
func LoadSTL(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "read stl")
	}
	defer f.Close()
	return ReadSTL(bufio.NewReader(f))
}

// WriteSTL writes the mesh as a binary STL triangle soup.
func WriteSTL(w io.Writer, m *Mesh) error {
	if err := m.Validate(); err != nil {
		return errors.Wrap(err, "write stl")
	}
	tris := make([]*model3d.Triangle, len(m.Triangles))
	for i := range tris {
		tris[i] = m.Triangle(i)
	}
	return errors.Wrap(model3d.WriteSTL(w, tris), "write stl")
}

// SaveSTL writes the mesh to an STL file.
func SaveSTL(path string, m *Mesh) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "write stl")
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	if err := WriteSTL(bw, m); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "write stl")
	}
	return errors.Wrap(f.Close(), "write stl")
}
