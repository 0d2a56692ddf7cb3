// Command grid_to_stl converts a JSON-encoded grid of
// voxel probabilities into a smoothed triangle mesh and
// saves it as an STL file.
//
// The JSON input is read from stdin and decoded as a 3D
// array with z on the outer dimension, then y, then x.
// The grid may have any dimensions.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/medmesh/medmesh"
	"github.com/unixpickle/medmesh/trimesh"
	"github.com/unixpickle/medmesh/volume"
)

func main() {
	var threshold float64
	var iterations int
	var voxelSize float64
	var outputPath string
	flag.Float64Var(&threshold, "threshold", 0.5, "minimum value for containment")
	flag.IntVar(&iterations, "iterations", 0, "mesh smoothing iterations")
	flag.Float64Var(&voxelSize, "voxel-size", 1, "edge length of a voxel")
	flag.StringVar(&outputPath, "output", "output.stl", "output STL file")
	flag.Parse()

	grid, err := volume.ReadJSON(os.Stdin)
	essentials.Must(err)
	grid.Spacing = [3]float64{voxelSize, voxelSize, voxelSize}

	// The grid already holds probabilities, so the window
	// is the identity on [0, 1].
	cfg := medmesh.DefaultConfig()
	cfg.WindowMin = 0
	cfg.WindowMax = 1
	cfg.LowerThreshold = threshold
	cfg.UpperThreshold = 1
	cfg.SmoothingIterations = iterations

	log.Println("Generating mesh...")
	result, err := medmesh.New().RunGrid(grid, cfg)
	essentials.Must(err)

	log.Println("Saving", outputPath, "...")
	essentials.Must(trimesh.SaveSTL(outputPath, result.Mesh))
}
