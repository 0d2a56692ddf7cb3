package volume

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const numpyMagic = "\x93NUMPY"

// NumpyEntryName is the array name used inside .npz files
// written by SaveNumpy.
const NumpyEntryName = "voxels.npy"

// ReadNumpyFile reads a 3D array from a .npy file, or the
// first 3D array of a .npz archive.
//
// Arrays are indexed (z, y, x) in C order, so x varies
// fastest, matching the VoxelGrid layout.
func ReadNumpyFile(path string) (*VoxelGrid, error) {
	if strings.ToLower(filepath.Ext(path)) != ".npz" {
		return readFile(path, ReadNumpy)
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrap(err, "read npz")
	}
	defer zr.Close()

	var entry *zip.File
	for _, f := range zr.File {
		if f.Name == NumpyEntryName {
			entry = f
			break
		}
		if entry == nil && strings.HasSuffix(f.Name, ".npy") {
			entry = f
		}
	}
	if entry == nil {
		return nil, errors.Wrap(ErrNoData, "read npz")
	}
	r, err := entry.Open()
	if err != nil {
		return nil, errors.Wrap(err, "read npz")
	}
	defer r.Close()
	return ReadNumpy(r)
}

// ReadNumpy decodes a .npy stream holding a 3D array.
func ReadNumpy(r io.Reader) (*VoxelGrid, error) {
	br := bufio.NewReader(r)
	prefix := make([]byte, len(numpyMagic)+2)
	if _, err := io.ReadFull(br, prefix); err != nil {
		return nil, errors.Wrap(err, "read npy")
	}
	if string(prefix[:len(numpyMagic)]) != numpyMagic {
		return nil, errors.New("read npy: missing magic")
	}
	var headerLen int
	switch major := prefix[len(numpyMagic)]; major {
	case 1:
		var n uint16
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, errors.Wrap(err, "read npy")
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, errors.Wrap(err, "read npy")
		}
		headerLen = int(n)
	default:
		return nil, errors.Errorf("read npy: unsupported version %d", major)
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, errors.Wrap(err, "read npy")
	}

	descr, fortran, shape, err := parseNumpyHeader(string(header))
	if err != nil {
		return nil, errors.Wrap(err, "read npy")
	}
	if fortran {
		return nil, errors.New("read npy: fortran order is not supported")
	}
	if len(shape) != 3 {
		return nil, errors.Errorf("read npy: expected 3 dimensions, got %d", len(shape))
	}
	geom := NewGeometry(shape[2], shape[1], shape[0])
	if err := geom.Validate(); err != nil {
		return nil, errors.Wrap(err, "read npy")
	}

	var order binary.ByteOrder = binary.LittleEndian
	if strings.HasPrefix(descr, ">") {
		order = binary.BigEndian
	}
	var sampleType string
	switch strings.TrimLeft(descr, "<>|=") {
	case "b1", "u1":
		sampleType = "uint8"
	case "i1":
		sampleType = "int8"
	case "i2":
		sampleType = "int16"
	case "u2":
		sampleType = "uint16"
	case "i4":
		sampleType = "int32"
	case "u4":
		sampleType = "uint32"
	case "f4":
		sampleType = "float32"
	case "f8":
		sampleType = "float64"
	default:
		return nil, errors.Errorf("read npy: unsupported dtype %q", descr)
	}
	values, err := readSamples(br, sampleType, order, geom.NumVoxels())
	if err != nil {
		return nil, errors.Wrap(err, "read npy")
	}
	return &VoxelGrid{Geometry: geom, Values: values}, nil
}

// parseNumpyHeader extracts the fields of a header like
// {'descr': '<f4', 'fortran_order': False, 'shape': (2, 3, 4), }
func parseNumpyHeader(h string) (descr string, fortran bool, shape []int, err error) {
	field := func(name string) (string, bool) {
		idx := strings.Index(h, "'"+name+"'")
		if idx < 0 {
			return "", false
		}
		rest := h[idx+len(name)+2:]
		colon := strings.Index(rest, ":")
		if colon < 0 {
			return "", false
		}
		return strings.TrimSpace(rest[colon+1:]), true
	}

	d, ok := field("descr")
	if !ok || !strings.HasPrefix(d, "'") {
		return "", false, nil, errors.New("missing descr")
	}
	end := strings.Index(d[1:], "'")
	if end < 0 {
		return "", false, nil, errors.New("malformed descr")
	}
	descr = d[1 : end+1]

	f, ok := field("fortran_order")
	if !ok {
		return "", false, nil, errors.New("missing fortran_order")
	}
	fortran = strings.HasPrefix(f, "True")

	s, ok := field("shape")
	if !ok || !strings.HasPrefix(s, "(") {
		return "", false, nil, errors.New("missing shape")
	}
	closeIdx := strings.Index(s, ")")
	if closeIdx < 0 {
		return "", false, nil, errors.New("malformed shape")
	}
	for _, part := range strings.Split(s[1:closeIdx], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		x, err := strconv.Atoi(strings.TrimSuffix(part, "L"))
		if err != nil {
			return "", false, nil, errors.Wrap(err, "parse shape")
		}
		shape = append(shape, x)
	}
	return descr, fortran, shape, nil
}

// EncodeNumpy encodes a grid as a little-endian float32
// .npy array of shape (nz, ny, nx).
func EncodeNumpy(grid *VoxelGrid) []byte {
	header := "{'descr': '<f4', 'fortran_order': False, 'shape': ("
	header += fmt.Sprintf("%d, %d, %d), }", grid.Dims[2], grid.Dims[1], grid.Dims[0])
	// Magic, version and length take 10 bytes; the whole
	// preamble is padded to a multiple of 64.
	for (10+len(header)+1)%64 != 0 {
		header += " "
	}
	header += "\n"

	var buf bytes.Buffer
	buf.WriteString(numpyMagic)
	buf.Write([]byte{1, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	samples := make([]float32, len(grid.Values))
	for i, x := range grid.Values {
		samples[i] = float32(x)
	}
	binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

// SaveNumpy writes a grid to a .npy file, or to a .npz
// archive containing NumpyEntryName.
func SaveNumpy(path string, grid *VoxelGrid) error {
	if err := grid.Validate(); err != nil {
		return errors.Wrap(err, "save numpy")
	}
	w, err := os.Create(path)
	if err != nil {
		return err
	}
	defer w.Close()
	if strings.ToLower(filepath.Ext(path)) != ".npz" {
		if _, err := w.Write(EncodeNumpy(grid)); err != nil {
			return err
		}
		return w.Close()
	}
	zipWriter := zip.NewWriter(w)
	fileWriter, err := zipWriter.Create(NumpyEntryName)
	if err != nil {
		return err
	}
	if _, err := fileWriter.Write(EncodeNumpy(grid)); err != nil {
		return err
	}
	if err := zipWriter.Close(); err != nil {
		return err
	}
	return w.Close()
}
