// Command mesh_to_scan voxelizes STL meshes into synthetic
// CT-like volumes, which can be fed back into the scan
// pipeline as phantoms.
//
// The output format is picked from the output extension:
// .nrrd, .npy or .npz. If the input is a directory, every
// STL file under it is converted into the output directory.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/medmesh/trimesh"
	"github.com/unixpickle/medmesh/volume"
)

// Options controls how a mesh becomes a scan.
type Options struct {
	GridSize    int
	InsideHU    float64
	OutsideHU   float64
	NonManifold bool
	Compress    bool
	Format      string
}

func main() {
	var opts Options
	flag.IntVar(&opts.GridSize, "grid-size", 64, "number of voxels along each dimension")
	flag.Float64Var(&opts.InsideHU, "inside", 1000, "intensity inside the mesh")
	flag.Float64Var(&opts.OutsideHU, "outside", -1000, "intensity outside the mesh")
	flag.BoolVar(&opts.NonManifold, "non-manifold", false, "use ray parity for meshes with duplicate triangles")
	flag.BoolVar(&opts.Compress, "compress", true, "gzip NRRD payloads")
	flag.StringVar(&opts.Format, "format", ".nrrd", "output extension when converting a directory")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage:", os.Args[0], "[flags] <input.stl> <output.nrrd>")
		fmt.Fprintln(os.Stderr, "       "+os.Args[0], "[flags] <input_dir> <output_dir>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	flag.Parse()
	if len(flag.Args()) != 2 {
		flag.Usage()
	}

	inPath := flag.Args()[0]
	outPath := flag.Args()[1]

	info, err := os.Stat(inPath)
	essentials.Must(err)
	if !info.IsDir() {
		essentials.Must(ConvertModel(inPath, outPath, opts))
		return
	}

	err = filepath.Walk(inPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(inPath, path)
		essentials.Must(err)
		outFile := filepath.Join(outPath, relPath)

		if info.IsDir() {
			return os.MkdirAll(outFile, 0755)
		}
		if strings.ToLower(filepath.Ext(path)) == ".stl" {
			outFile = strings.TrimSuffix(outFile, filepath.Ext(outFile)) + opts.Format
			return ConvertModel(path, outFile, opts)
		}
		return nil
	})
	essentials.Must(err)
}

func ConvertModel(inPath, outPath string, opts Options) error {
	log.Println("Converting", inPath, "...")

	mesh, err := trimesh.LoadSTL(inPath)
	if err != nil {
		return err
	}
	grid, err := MeshToScan(mesh, opts)
	if err != nil {
		return errors.Wrap(err, inPath)
	}
	switch strings.ToLower(filepath.Ext(outPath)) {
	case ".nrrd":
		return volume.SaveNRRD(outPath, grid, opts.Compress)
	case ".npy", ".npz":
		return volume.SaveNumpy(outPath, grid)
	}
	return errors.Errorf("unsupported output format: %s", outPath)
}

// MeshToScan voxelizes a mesh and assigns the inside and
// outside intensities.
func MeshToScan(mesh *trimesh.Mesh, opts Options) (*volume.VoxelGrid, error) {
	if len(mesh.Triangles) == 0 {
		return nil, errors.New("mesh has no triangles")
	}
	if opts.GridSize <= 0 {
		return nil, errors.Errorf("invalid grid size: %d", opts.GridSize)
	}
	m := mesh.Model3D()

	var mask *volume.Mask
	if opts.NonManifold {
		connector := NewVoxelConnector(m, opts.GridSize)
		mask = SolidMask(&NonManifoldSolid{Collider: connector.Collider}, connector.Space)
	} else {
		mask = NewVoxelConnector(m, opts.GridSize).Mask()
	}

	grid := volume.NewVoxelGrid(mask.Geometry)
	for i, x := range mask.Values {
		if x == 1 {
			grid.Values[i] = opts.InsideHU
		} else {
			grid.Values[i] = opts.OutsideHU
		}
	}
	return grid, nil
}
