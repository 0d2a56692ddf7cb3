// Command batch_convert converts every scan in a directory
// tree into a glTF model.
//
// Scans are volume files (.nrrd, .nhdr, .npy, .npz, .json)
// and directories of DICOM or image slices. Each scan gets its own
// pipeline; a failed scan is reported and the rest of the
// batch continues.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/medmesh/medmesh"
	"github.com/unixpickle/medmesh/volume"
)

func main() {
	var presetName string
	var configPath string
	var numWorkers int
	flag.StringVar(&presetName, "preset", "default", "configuration preset")
	flag.StringVar(&configPath, "config", "", "JSON or YAML configuration file (overrides -preset)")
	flag.IntVar(&numWorkers, "workers", 1, "number of scans to convert concurrently")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage:", os.Args[0], "[flags] <input_dir> <output_dir>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	flag.Parse()
	if len(flag.Args()) != 2 {
		flag.Usage()
	}
	inDir := flag.Args()[0]
	outDir := flag.Args()[1]

	var cfg *medmesh.Config
	var err error
	if configPath != "" {
		cfg, err = medmesh.LoadConfig(configPath)
	} else {
		cfg, err = medmesh.Preset(presetName)
	}
	essentials.Must(err)

	scans, err := FindScans(inDir)
	essentials.Must(err)
	log.Println("Found", len(scans), "scans")

	var lock sync.Mutex
	var failures []string
	essentials.ConcurrentMap(numWorkers, len(scans), func(i int) {
		if err := ConvertScan(inDir, outDir, scans[i], cfg); err != nil {
			log.Println("Failed", scans[i]+":", err)
			lock.Lock()
			failures = append(failures, scans[i])
			lock.Unlock()
		}
	})

	sort.Strings(failures)
	log.Printf("Converted %d of %d scans", len(scans)-len(failures), len(scans))
	if len(failures) > 0 {
		essentials.Die("failed scans:", strings.Join(failures, ", "))
	}
}

// FindScans lists every scan under dir, relative to dir.
//
// Hidden files and directories are skipped. A directory of
// slices is a single scan, so its contents are not
// searched further.
func FindScans(dir string) ([]string, error) {
	var res []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			isSeries, err := volume.IsSeriesDir(path)
			if err != nil {
				return err
			}
			if isSeries {
				res = append(res, relPath)
				return filepath.SkipDir
			}
			return nil
		}
		if volume.IsScanPath(path) {
			res = append(res, relPath)
		}
		return nil
	})
	return res, err
}

// ConvertScan runs a fresh pipeline on one scan and writes
// the result under outDir, mirroring the input layout.
func ConvertScan(inDir, outDir, relPath string, cfg *medmesh.Config) error {
	log.Println("Converting", relPath, "...")

	outPath := filepath.Join(outDir, relPath)
	if relPath == "." {
		outPath = filepath.Join(outDir, filepath.Base(inDir))
	}
	if volume.IsScanPath(relPath) {
		outPath = strings.TrimSuffix(outPath, filepath.Ext(relPath))
	}
	outPath += ".gltf"
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return err
	}

	result, err := medmesh.New().Run(filepath.Join(inDir, relPath), cfg)
	if err != nil {
		return err
	}
	return medmesh.WriteResult(outPath, result)
}
