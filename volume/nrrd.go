package volume

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ReadNRRDFile reads a .nrrd file with attached data, or a
// .nhdr header whose data file is resolved relative to the
// header's directory.
func ReadNRRDFile(path string) (*VoxelGrid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "read nrrd")
	}
	defer f.Close()
	return readNRRD(f, filepath.Dir(path))
}

// ReadNRRD reads an NRRD stream with attached data.
func ReadNRRD(r io.Reader) (*VoxelGrid, error) {
	return readNRRD(r, "")
}

func readNRRD(r io.Reader, dir string) (*VoxelGrid, error) {
	br := bufio.NewReader(r)
	header, err := readNRRDHeader(br)
	if err != nil {
		return nil, errors.Wrap(err, "read nrrd")
	}
	geom, err := header.geometry()
	if err != nil {
		return nil, errors.Wrap(err, "read nrrd")
	}

	var data io.Reader = br
	if header.dataFile != "" {
		if dir == "" {
			return nil, errors.New("read nrrd: detached data requires a file path")
		}
		dataPath := header.dataFile
		if !filepath.IsAbs(dataPath) {
			dataPath = filepath.Join(dir, dataPath)
		}
		df, err := os.Open(dataPath)
		if err != nil {
			return nil, errors.Wrap(err, "read nrrd data file")
		}
		defer df.Close()
		data = bufio.NewReader(df)
	}

	switch header.encoding {
	case "raw":
	case "gzip", "gz":
		zr, err := gzip.NewReader(data)
		if err != nil {
			return nil, errors.Wrap(err, "read nrrd")
		}
		defer zr.Close()
		data = zr
	default:
		return nil, errors.Errorf("read nrrd: unsupported encoding %q", header.encoding)
	}

	values, err := readSamples(data, header.sampleType, header.byteOrder, geom.NumVoxels())
	if err != nil {
		return nil, errors.Wrap(err, "read nrrd")
	}
	return &VoxelGrid{Geometry: geom, Values: values}, nil
}

type nrrdHeader struct {
	sampleType string
	dimension  int
	sizes      []int
	spacings   []float64
	directions [][3]float64
	origin     [3]float64
	encoding   string
	byteOrder  binary.ByteOrder
	dataFile   string
}

func readNRRDHeader(r *bufio.Reader) (*nrrdHeader, error) {
	magic, err := r.ReadString('\n')
	if err != nil {
		return nil, errors.Wrap(err, "read magic")
	}
	if !strings.HasPrefix(magic, "NRRD000") {
		return nil, errors.New("missing NRRD magic")
	}

	h := &nrrdHeader{encoding: "raw", byteOrder: binary.LittleEndian}
	for {
		line, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "read header")
		}
		eof := err == io.EOF
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		// Key/value pairs (key:=value) carry free-form metadata.
		if strings.HasPrefix(line, "#") || strings.Contains(line, ":=") {
			if eof {
				break
			}
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, errors.Errorf("malformed header line %q", line)
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "type":
			h.sampleType, err = canonicalSampleType(value)
		case "dimension":
			h.dimension, err = strconv.Atoi(value)
		case "sizes":
			h.sizes, err = parseInts(value)
		case "spacings":
			h.spacings, err = parseFloats(value)
		case "space directions":
			h.directions, err = parseVectors(value)
		case "space origin":
			var vecs [][3]float64
			vecs, err = parseVectors(value)
			if err == nil && len(vecs) != 1 {
				err = errors.New("space origin must be one vector")
			}
			if err == nil {
				h.origin = vecs[0]
			}
		case "encoding":
			h.encoding = strings.ToLower(value)
		case "endian":
			switch strings.ToLower(value) {
			case "little":
				h.byteOrder = binary.LittleEndian
			case "big":
				h.byteOrder = binary.BigEndian
			default:
				err = errors.Errorf("unknown endian %q", value)
			}
		case "data file", "datafile":
			h.dataFile = value
		}
		if err != nil {
			return nil, errors.Wrapf(err, "header field %q", key)
		}
		if eof {
			break
		}
	}
	if h.sampleType == "" {
		return nil, errors.New("missing type field")
	}
	return h, nil
}

func (h *nrrdHeader) geometry() (Geometry, error) {
	if h.dimension != 3 || len(h.sizes) != 3 {
		return Geometry{}, errors.Errorf("expected a 3D volume, got dimension %d", h.dimension)
	}
	g := NewGeometry(h.sizes[0], h.sizes[1], h.sizes[2])
	g.Origin = h.origin
	if len(h.directions) == 3 {
		// Oblique directions are reduced to their lengths.
		for i, d := range h.directions {
			g.Spacing[i] = math.Sqrt(d[0]*d[0] + d[1]*d[1] + d[2]*d[2])
		}
	} else if len(h.spacings) == 3 {
		for i, s := range h.spacings {
			if !math.IsNaN(s) {
				g.Spacing[i] = s
			}
		}
	}
	return g, g.Validate()
}

func canonicalSampleType(name string) (string, error) {
	switch strings.ToLower(name) {
	case "signed char", "int8", "int8_t":
		return "int8", nil
	case "uchar", "unsigned char", "uint8", "uint8_t":
		return "uint8", nil
	case "short", "short int", "signed short", "signed short int", "int16", "int16_t":
		return "int16", nil
	case "ushort", "unsigned short", "unsigned short int", "uint16", "uint16_t":
		return "uint16", nil
	case "int", "signed int", "int32", "int32_t":
		return "int32", nil
	case "uint", "unsigned int", "uint32", "uint32_t":
		return "uint32", nil
	case "float":
		return "float32", nil
	case "double":
		return "float64", nil
	}
	return "", errors.Errorf("unsupported type %q", name)
}

// readSamples decodes n samples of a fixed-size type and
// widens them to float64.
func readSamples(r io.Reader, sampleType string, order binary.ByteOrder, n int) ([]float64, error) {
	res := make([]float64, n)
	var err error
	switch sampleType {
	case "int8":
		err = readInto(r, order, res, make([]int8, n))
	case "uint8":
		err = readInto(r, order, res, make([]uint8, n))
	case "int16":
		err = readInto(r, order, res, make([]int16, n))
	case "uint16":
		err = readInto(r, order, res, make([]uint16, n))
	case "int32":
		err = readInto(r, order, res, make([]int32, n))
	case "uint32":
		err = readInto(r, order, res, make([]uint32, n))
	case "float32":
		err = readInto(r, order, res, make([]float32, n))
	case "float64":
		err = binary.Read(r, order, res)
	default:
		err = errors.Errorf("unsupported sample type %q", sampleType)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

type sample interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~float32
}

func readInto[T sample](r io.Reader, order binary.ByteOrder, dst []float64, buf []T) error {
	if err := binary.Read(r, order, buf); err != nil {
		return err
	}
	for i, x := range buf {
		dst[i] = float64(x)
	}
	return nil
}

// WriteNRRD encodes a grid as float32 samples with an
// attached, optionally gzip-compressed, payload.
func WriteNRRD(w io.Writer, grid *VoxelGrid, compress bool) error {
	if err := grid.Validate(); err != nil {
		return errors.Wrap(err, "write nrrd")
	}
	encoding := "raw"
	if compress {
		encoding = "gzip"
	}
	s, o := grid.Spacing, grid.Origin
	header := "NRRD0004\n" +
		"type: float\n" +
		"dimension: 3\n" +
		"space dimension: 3\n" +
		fmt.Sprintf("sizes: %d %d %d\n", grid.Dims[0], grid.Dims[1], grid.Dims[2]) +
		fmt.Sprintf("space directions: (%s,0,0) (0,%s,0) (0,0,%s)\n",
			formatFloat(s[0]), formatFloat(s[1]), formatFloat(s[2])) +
		fmt.Sprintf("space origin: (%s,%s,%s)\n", formatFloat(o[0]), formatFloat(o[1]), formatFloat(o[2])) +
		"endian: little\n" +
		"encoding: " + encoding + "\n\n"
	if _, err := io.WriteString(w, header); err != nil {
		return errors.Wrap(err, "write nrrd")
	}

	samples := make([]float32, len(grid.Values))
	for i, x := range grid.Values {
		samples[i] = float32(x)
	}
	if !compress {
		return errors.Wrap(binary.Write(w, binary.LittleEndian, samples), "write nrrd")
	}
	zw := gzip.NewWriter(w)
	if err := binary.Write(zw, binary.LittleEndian, samples); err != nil {
		return errors.Wrap(err, "write nrrd")
	}
	return errors.Wrap(zw.Close(), "write nrrd")
}

// SaveNRRD writes a grid to an NRRD file.
func SaveNRRD(path string, grid *VoxelGrid, compress bool) error {
	w, err := os.Create(path)
	if err != nil {
		return err
	}
	defer w.Close()
	bw := bufio.NewWriter(w)
	if err := WriteNRRD(bw, grid, compress); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return w.Close()
}

func formatFloat(x float64) string {
	return strconv.FormatFloat(x, 'g', -1, 64)
}

func parseInts(s string) ([]int, error) {
	var res []int
	for _, field := range strings.Fields(s) {
		x, err := strconv.Atoi(field)
		if err != nil {
			return nil, err
		}
		res = append(res, x)
	}
	return res, nil
}

func parseFloats(s string) ([]float64, error) {
	var res []float64
	for _, field := range strings.Fields(s) {
		if strings.EqualFold(field, "nan") {
			res = append(res, math.NaN())
			continue
		}
		x, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, err
		}
		res = append(res, x)
	}
	return res, nil
}

// parseVectors parses NRRD vectors such as "(1,0,0) (0,1,0)".
// The "none" placeholder is skipped.
func parseVectors(s string) ([][3]float64, error) {
	var res [][3]float64
	for _, field := range strings.Fields(s) {
		if field == "none" {
			continue
		}
		if !strings.HasPrefix(field, "(") || !strings.HasSuffix(field, ")") {
			return nil, errors.Errorf("malformed vector %q", field)
		}
		parts := strings.Split(field[1:len(field)-1], ",")
		if len(parts) != 3 {
			return nil, errors.Errorf("expected a 3-vector, got %q", field)
		}
		var vec [3]float64
		for i, p := range parts {
			x, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, err
			}
			vec[i] = x
		}
		res = append(res, vec)
	}
	return res, nil
}
