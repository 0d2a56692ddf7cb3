// Command scan_to_gltf converts a volumetric scan into a
// glTF surface model.
//
// The input may be an NRRD, NumPy or JSON volume, or a
// directory of PNG or TIFF slices.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/medmesh/gltfmesh"
	"github.com/unixpickle/medmesh/medmesh"
	"github.com/unixpickle/medmesh/trimesh"
)

func main() {
	var presetName string
	var configPath string
	var stlPath string
	var verify bool
	var verbose bool
	var windowMin, windowMax float64
	var lower, upper float64
	var iterations int
	var passBand float64
	var red, green, blue float64

	defaults := medmesh.DefaultConfig()
	flag.StringVar(&presetName, "preset", "default", "configuration preset")
	flag.StringVar(&configPath, "config", "", "JSON or YAML configuration file (overrides -preset)")
	flag.StringVar(&stlPath, "stl", "", "also save the smoothed mesh as an STL file")
	flag.BoolVar(&verify, "verify", false, "decode the written document and check its buffers")
	flag.BoolVar(&verbose, "verbose", false, "log every stage")
	flag.Float64Var(&windowMin, "window-min", defaults.WindowMin, "lower bound of the intensity window")
	flag.Float64Var(&windowMax, "window-max", defaults.WindowMax, "upper bound of the intensity window")
	flag.Float64Var(&lower, "lower", defaults.LowerThreshold, "lower segmentation threshold")
	flag.Float64Var(&upper, "upper", defaults.UpperThreshold, "upper segmentation threshold")
	flag.IntVar(&iterations, "iterations", defaults.SmoothingIterations, "smoothing iterations (0 disables smoothing)")
	flag.Float64Var(&passBand, "pass-band", defaults.PassBand, "smoothing pass band")
	flag.Float64Var(&red, "red", defaults.Color[0], "base color red channel")
	flag.Float64Var(&green, "green", defaults.Color[1], "base color green channel")
	flag.Float64Var(&blue, "blue", defaults.Color[2], "base color blue channel")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage:", os.Args[0], "[flags] <input> <output.gltf>")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Presets:", medmesh.PresetNames())
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
		os.Exit(1)
	}
	flag.Parse()
	if len(flag.Args()) != 2 {
		flag.Usage()
	}
	inputPath := flag.Args()[0]
	outputPath := flag.Args()[1]

	var cfg *medmesh.Config
	var err error
	if configPath != "" {
		cfg, err = medmesh.LoadConfig(configPath)
	} else {
		cfg, err = medmesh.Preset(presetName)
	}
	essentials.Must(err)

	// Flags given explicitly override the preset or file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "window-min":
			cfg.WindowMin = windowMin
		case "window-max":
			cfg.WindowMax = windowMax
		case "lower":
			cfg.LowerThreshold = lower
		case "upper":
			cfg.UpperThreshold = upper
		case "iterations":
			cfg.SmoothingIterations = iterations
		case "pass-band":
			cfg.PassBand = passBand
		case "red":
			cfg.Color[0] = red
		case "green":
			cfg.Color[1] = green
		case "blue":
			cfg.Color[2] = blue
		}
	})

	p := medmesh.New()
	if verbose {
		p.Logger = slog.Default()
	}

	log.Println("Converting", inputPath, "...")
	result, err := p.Run(inputPath, cfg)
	if err != nil {
		essentials.Die(err)
	}
	log.Printf("Kept component %d of %d (%.1f cubic units)", result.KeptLabel,
		result.NumComponents, result.KeptSize)
	log.Printf("Mesh has %d vertices and %d triangles", len(result.Mesh.Vertices),
		len(result.Mesh.Triangles))

	log.Println("Saving", outputPath, "...")
	essentials.Must(medmesh.WriteResult(outputPath, result))

	if stlPath != "" {
		log.Println("Saving", stlPath, "...")
		essentials.Must(trimesh.SaveSTL(stlPath, result.Mesh))
	}

	if verify {
		data, err := os.ReadFile(outputPath)
		essentials.Must(err)
		doc, buffers, err := gltfmesh.Decode(data)
		essentials.Must(err)
		for i, b := range buffers {
			log.Printf("Buffer %d: %d bytes", i, len(b))
		}
		log.Printf("Verified %d accessors", len(doc.Accessors))
	}
}
