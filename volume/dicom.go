package volume

import (
	"bytes"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// dicomMagic follows the 128 byte preamble of a DICOM file.
const dicomMagic = "DICM"

// IsDICOMFile checks for the DICM marker after the file
// preamble. Series from scanners often have no extension,
// so the name alone is not enough.
func IsDICOMFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	header := make([]byte, 132)
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return bytes.Equal(header[128:], []byte(dicomMagic))
}

// DICOMFiles lists the DICOM files in a directory, sorted
// by name. Files named *.dcm are always included; files
// with no extension are included if they carry the DICM
// marker.
func DICOMFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".dcm":
			names = append(names, path)
		case "":
			if IsDICOMFile(path) {
				names = append(names, path)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

type dicomSlice struct {
	instance  int
	position  [3]float64
	hasPos    bool
	rows      int
	cols      int
	spacing   [2]float64
	thickness float64
	slope     float64
	intercept float64
	values    []float64
}

// ReadDICOMSeries reads a directory of single-frame DICOM
// slices into a volume of Hounsfield units.
//
// Slices are ordered by their position along the slice
// normal when every slice has ImagePositionPatient, and by
// InstanceNumber otherwise. The z spacing is the median gap
// between consecutive positions, falling back to
// SliceThickness. Stored values are mapped through
// RescaleSlope and RescaleIntercept.
func ReadDICOMSeries(dir string) (*VoxelGrid, error) {
	files, err := DICOMFiles(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read DICOM series")
	}
	if len(files) == 0 {
		return nil, errors.Wrapf(ErrNoData, "read DICOM series %s", dir)
	}

	slices := make([]*dicomSlice, 0, len(files))
	for _, path := range files {
		s, err := readDICOMSlice(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read DICOM series slice %s", filepath.Base(path))
		}
		if len(slices) > 0 && (s.rows != slices[0].rows || s.cols != slices[0].cols) {
			return nil, errors.Errorf("read DICOM series: slice %s is %dx%d, expected %dx%d",
				filepath.Base(path), s.cols, s.rows, slices[0].cols, slices[0].rows)
		}
		slices = append(slices, s)
	}

	sliceSpacing := sortDICOMSlices(slices)
	first := slices[0]
	geom := Geometry{
		Dims: [3]int{first.cols, first.rows, len(slices)},
		// PixelSpacing is (row spacing, column spacing).
		Spacing: [3]float64{first.spacing[1], first.spacing[0], sliceSpacing},
	}
	if first.hasPos {
		geom.Origin = first.position
	}
	if err := geom.Validate(); err != nil {
		return nil, errors.Wrap(err, "read DICOM series")
	}

	grid := NewVoxelGrid(geom)
	plane := first.rows * first.cols
	for z, s := range slices {
		copy(grid.Values[z*plane:(z+1)*plane], s.values)
	}
	return grid, nil
}

// sortDICOMSlices orders the slices in place and returns the
// spacing between them.
func sortDICOMSlices(slices []*dicomSlice) float64 {
	usePositions := true
	for _, s := range slices {
		usePositions = usePositions && s.hasPos
	}
	if !usePositions {
		sort.SliceStable(slices, func(i, j int) bool {
			return slices[i].instance < slices[j].instance
		})
		return fallbackSliceSpacing(slices[0])
	}

	// Sort along the axis the positions vary the most on,
	// which is the slice normal for axial series.
	var axis int
	var bestRange float64
	for a := 0; a < 3; a++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, s := range slices {
			lo = math.Min(lo, s.position[a])
			hi = math.Max(hi, s.position[a])
		}
		if hi-lo > bestRange {
			axis, bestRange = a, hi-lo
		}
	}
	sort.SliceStable(slices, func(i, j int) bool {
		return slices[i].position[axis] < slices[j].position[axis]
	})
	if len(slices) < 2 || bestRange == 0 {
		return fallbackSliceSpacing(slices[0])
	}

	gaps := make([]float64, len(slices)-1)
	for i := range gaps {
		gaps[i] = slices[i+1].position[axis] - slices[i].position[axis]
	}
	sort.Float64s(gaps)
	return gaps[len(gaps)/2]
}

func fallbackSliceSpacing(s *dicomSlice) float64 {
	if s.thickness > 0 {
		return s.thickness
	}
	return 1
}

func readDICOMSlice(path string) (*dicomSlice, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, err
	}
	s := &dicomSlice{
		spacing: [2]float64{1, 1},
		slope:   1,
	}

	if x, ok := dicomFloats(ds, tag.InstanceNumber); ok && len(x) > 0 {
		s.instance = int(x[0])
	}
	if x, ok := dicomFloats(ds, tag.ImagePositionPatient); ok && len(x) == 3 {
		s.position = [3]float64{x[0], x[1], x[2]}
		s.hasPos = true
	}
	if x, ok := dicomFloats(ds, tag.PixelSpacing); ok && len(x) == 2 {
		s.spacing = [2]float64{x[0], x[1]}
	}
	if x, ok := dicomFloats(ds, tag.SliceThickness); ok && len(x) > 0 {
		s.thickness = x[0]
	}
	if x, ok := dicomFloats(ds, tag.RescaleSlope); ok && len(x) > 0 {
		s.slope = x[0]
	}
	if x, ok := dicomFloats(ds, tag.RescaleIntercept); ok && len(x) > 0 {
		s.intercept = x[0]
	}
	var signed bool
	if x, ok := dicomFloats(ds, tag.PixelRepresentation); ok && len(x) > 0 {
		signed = x[0] == 1
	}
	bitsStored := 16
	if x, ok := dicomFloats(ds, tag.BitsStored); ok && len(x) > 0 && x[0] > 0 {
		bitsStored = int(x[0])
	}

	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, errors.Wrap(err, "pixel data")
	}
	info := dicom.MustGetPixelDataInfo(elem.Value)
	if len(info.Frames) != 1 {
		return nil, errors.Errorf("expected one frame but got %d", len(info.Frames))
	}
	for _, fr := range info.Frames {
		native, err := fr.GetNativeFrame()
		if err != nil {
			return nil, errors.Wrap(err, "pixel data")
		}
		if native.Rows <= 0 || native.Cols <= 0 || len(native.Data) != native.Rows*native.Cols {
			return nil, errors.Errorf("pixel data: %d samples for %dx%d slice",
				len(native.Data), native.Cols, native.Rows)
		}
		s.rows, s.cols = native.Rows, native.Cols
		s.values = make([]float64, len(native.Data))
		for i, sample := range native.Data {
			if len(sample) == 0 {
				return nil, errors.New("pixel data: empty sample")
			}
			p := sample[0]
			if signed && bitsStored < 64 && p >= 1<<(bitsStored-1) {
				p -= 1 << bitsStored
			}
			s.values[i] = s.slope*float64(p) + s.intercept
		}
	}
	return s, nil
}

// dicomFloats reads a numeric element, which the parser may
// hold as decimal strings (IS, DS) or as integers (US, SS).
func dicomFloats(ds dicom.Dataset, t tag.Tag) ([]float64, bool) {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return nil, false
	}
	var res []float64
	switch v := elem.Value.GetValue().(type) {
	case []string:
		for _, str := range v {
			for _, part := range strings.Split(str, "\\") {
				part = strings.TrimSpace(strings.Trim(part, "\x00"))
				if part == "" {
					continue
				}
				x, err := strconv.ParseFloat(part, 64)
				if err != nil {
					return nil, false
				}
				res = append(res, x)
			}
		}
	case []int:
		for _, x := range v {
			res = append(res, float64(x))
		}
	case []float64:
		res = append(res, v...)
	default:
		return nil, false
	}
	return res, true
}
