package volume

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoData is returned when a location does not contain
// any volumetric data the readers understand.
var ErrNoData = errors.New("no volumetric data found")

// Load reads a scan from a file or a directory.
//
// Directories holding DICOM files are read as a DICOM
// series. Other directories are read as image slice series
// with the default SeriesOptions. Files are dispatched on their extension:
// .nrrd and .nhdr, .npy and .npz, and .json.
func Load(path string) (*VoxelGrid, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNoData, "load %s", path)
		}
		return nil, errors.Wrapf(err, "load %s", path)
	}
	if info.IsDir() {
		dicomFiles, err := DICOMFiles(path)
		if err != nil {
			return nil, errors.Wrapf(err, "load %s", path)
		}
		if len(dicomFiles) > 0 {
			return ReadDICOMSeries(path)
		}
		return ReadSeries(path, DefaultSeriesOptions())
	}

	var grid *VoxelGrid
	switch strings.ToLower(filepath.Ext(path)) {
	case ".nrrd", ".nhdr":
		grid, err = ReadNRRDFile(path)
	case ".npy", ".npz":
		grid, err = ReadNumpyFile(path)
	case ".json":
		grid, err = readFile(path, ReadJSON)
	default:
		return nil, errors.Wrapf(ErrNoData, "load %s: unsupported extension", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	if err := grid.Validate(); err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return grid, nil
}

// IsScanPath checks if a path looks like a scan that Load
// can read without inspecting a directory.
func IsScanPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".nrrd", ".nhdr", ".npy", ".npz", ".json":
		return true
	}
	return false
}

// IsSeriesDir checks if a directory directly contains the
// slices of a DICOM or image series.
func IsSeriesDir(dir string) (bool, error) {
	dicomFiles, err := DICOMFiles(dir)
	if err != nil || len(dicomFiles) > 0 {
		return len(dicomFiles) > 0, err
	}
	slices, err := SeriesFiles(dir)
	return len(slices) > 0, err
}

func readFile[T any](path string, f func(r io.Reader) (T, error)) (T, error) {
	r, err := os.Open(path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer r.Close()
	return f(r)
}
