// Command stl_to_gltf converts STL meshes into glTF
// documents with vertex normals and a colored material.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/medmesh/gltfmesh"
	"github.com/unixpickle/medmesh/medmesh"
	"github.com/unixpickle/medmesh/trimesh"
)

// batchModels are the outputs of the skull, brain and
// vessel pipelines, colored like their presets.
var batchModels = []struct {
	Input  string
	Output string
	Preset string
}{
	{"skull_model.stl", "skull.gltf", "bone"},
	{"brain_tissue.stl", "brain.gltf", "soft-tissue"},
	{"vessels.stl", "vessels.gltf", "vessels"},
}

func main() {
	var batch bool
	var presetName string
	var red, green, blue float64
	flag.BoolVar(&batch, "batch", false, "convert the skull, brain and vessel models in a directory")
	flag.StringVar(&presetName, "preset", "default", "preset to take the color from")
	flag.Float64Var(&red, "red", -1, "base color red channel (overrides -preset)")
	flag.Float64Var(&green, "green", -1, "base color green channel (overrides -preset)")
	flag.Float64Var(&blue, "blue", -1, "base color blue channel (overrides -preset)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage:", os.Args[0], "[flags] <input.stl> <output.gltf>")
		fmt.Fprintln(os.Stderr, "       "+os.Args[0], "-batch <dir>")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
		os.Exit(1)
	}
	flag.Parse()

	if batch {
		if len(flag.Args()) != 1 {
			flag.Usage()
		}
		ConvertBatch(flag.Args()[0])
		return
	}

	if len(flag.Args()) != 2 {
		flag.Usage()
	}
	cfg, err := medmesh.Preset(presetName)
	essentials.Must(err)
	color := gltfmesh.Color(cfg.Color)
	for i, c := range []float64{red, green, blue} {
		if c >= 0 {
			color[i] = c
		}
	}
	essentials.Must(ConvertModel(flag.Args()[0], flag.Args()[1], color))
}

// ConvertBatch converts every batch model that exists in
// dir, logging and skipping the ones that are missing or
// fail to convert.
func ConvertBatch(dir string) {
	for _, model := range batchModels {
		inPath := filepath.Join(dir, model.Input)
		if _, err := os.Stat(inPath); os.IsNotExist(err) {
			log.Println("Skipping missing", inPath)
			continue
		}
		cfg, err := medmesh.Preset(model.Preset)
		essentials.Must(err)
		outPath := filepath.Join(dir, model.Output)
		if err := ConvertModel(inPath, outPath, gltfmesh.Color(cfg.Color)); err != nil {
			log.Println("Failed to convert", inPath+":", err)
		}
	}
}

func ConvertModel(inPath, outPath string, color gltfmesh.Color) error {
	log.Println("Converting", inPath, "...")

	mesh, err := trimesh.LoadSTL(inPath)
	if err != nil {
		return err
	}
	mesh, err = trimesh.ComputeNormals(mesh)
	if err != nil {
		return err
	}
	doc, err := gltfmesh.Encode(mesh, color)
	if err != nil {
		return err
	}
	data, err := gltfmesh.Marshal(doc)
	if err != nil {
		return err
	}
	result := &medmesh.Result{Document: doc, JSON: data, Mesh: mesh}
	if err := medmesh.WriteResult(outPath, result); err != nil {
		return err
	}
	log.Printf("Saved %s (%d vertices, %d triangles)", outPath, len(mesh.Vertices),
		len(mesh.Triangles))
	return nil
}
