package volume

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/tiff"
)

// SeriesOptions controls how a directory of 2D slices is
// stacked into a volume.
type SeriesOptions struct {
	// PixelSpacing is the in-plane (x, y) spacing.
	PixelSpacing [2]float64

	// SliceSpacing is the distance between slices.
	SliceSpacing float64

	// Stored pixel values p become RescaleSlope*p +
	// RescaleIntercept, e.g. slope 1 and intercept -1024
	// for CT slices stored as unsigned 16-bit images.
	RescaleSlope     float64
	RescaleIntercept float64
}

// DefaultSeriesOptions uses unit spacing and no rescale.
func DefaultSeriesOptions() SeriesOptions {
	return SeriesOptions{
		PixelSpacing: [2]float64{1, 1},
		SliceSpacing: 1,
		RescaleSlope: 1,
	}
}

// SeriesFiles lists the slice images in a directory,
// sorted by name. Hidden files such as "._" resource forks
// are skipped.
func SeriesFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".tif", ".tiff":
			names = append(names, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(names)
	return names, nil
}

// ReadSeries stacks the slices of a directory into a
// volume, one slice per z index.
func ReadSeries(dir string, opts SeriesOptions) (*VoxelGrid, error) {
	files, err := SeriesFiles(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read series")
	}
	if len(files) == 0 {
		return nil, errors.Wrapf(ErrNoData, "read series %s", dir)
	}

	var grid *VoxelGrid
	for z, path := range files {
		img, err := readFile(path, func(r io.Reader) (image.Image, error) {
			return decodeSlice(path, r)
		})
		if err != nil {
			return nil, errors.Wrapf(err, "read series slice %s", filepath.Base(path))
		}
		b := img.Bounds()
		if grid == nil {
			geom := NewGeometry(b.Dx(), b.Dy(), len(files))
			geom.Spacing = [3]float64{opts.PixelSpacing[0], opts.PixelSpacing[1], opts.SliceSpacing}
			if err := geom.Validate(); err != nil {
				return nil, errors.Wrap(err, "read series")
			}
			grid = NewVoxelGrid(geom)
		} else if b.Dx() != grid.Dims[0] || b.Dy() != grid.Dims[1] {
			return nil, errors.Errorf("read series: slice %s is %dx%d, expected %dx%d",
				filepath.Base(path), b.Dx(), b.Dy(), grid.Dims[0], grid.Dims[1])
		}
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				p := slicePixel(img, b.Min.X+x, b.Min.Y+y)
				grid.Set(x, y, z, opts.RescaleSlope*p+opts.RescaleIntercept)
			}
		}
	}
	return grid, nil
}

func decodeSlice(path string, r io.Reader) (image.Image, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return tiff.Decode(r)
	default:
		return png.Decode(r)
	}
}

func slicePixel(img image.Image, x, y int) float64 {
	switch img := img.(type) {
	case *image.Gray16:
		return float64(img.Gray16At(x, y).Y)
	case *image.Gray:
		return float64(img.GrayAt(x, y).Y)
	default:
		return float64(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
	}
}
