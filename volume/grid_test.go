package volume

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/model3d/model3d"
)

func TestGeometryIndexing(t *testing.T) {
	g := NewGeometry(4, 3, 2)
	require.NoError(t, g.Validate())
	assert.Equal(t, 24, g.NumVoxels())

	seen := map[int]bool{}
	for z := 0; z < 2; z++ {
		for y := 0; y < 3; y++ {
			for x := 0; x < 4; x++ {
				idx := g.Index(x, y, z)
				assert.False(t, seen[idx], "duplicate index %d", idx)
				seen[idx] = true
				x1, y1, z1 := g.Coords(idx)
				assert.Equal(t, [3]int{x, y, z}, [3]int{x1, y1, z1})
			}
		}
	}
	assert.Equal(t, 1, g.Index(1, 0, 0), "x must vary fastest")
	assert.Equal(t, 12, g.Index(0, 0, 1))
}

func TestGeometryValidate(t *testing.T) {
	g := NewGeometry(2, 2, 2)
	g.Spacing[1] = 0
	assert.Error(t, g.Validate())

	g = NewGeometry(2, 0, 2)
	assert.Error(t, g.Validate())

	g = NewGeometry(2, 2, 2)
	g.Spacing[2] = math.NaN()
	assert.Error(t, g.Validate())
}

func TestGeometryPhysical(t *testing.T) {
	g := NewGeometry(2, 2, 2)
	g.Spacing = [3]float64{0.5, 2, 3}
	g.Origin = [3]float64{10, 20, 30}
	p := g.Physical(model3d.XYZ(1, 2, 3))
	assert.Equal(t, model3d.XYZ(10.5, 24, 39), p)
	assert.Equal(t, 3.0, g.VoxelVolume())
}

func TestVoxelGridValidate(t *testing.T) {
	grid := NewVoxelGrid(NewGeometry(2, 2, 2))
	require.NoError(t, grid.Validate())
	grid.Values = grid.Values[:7]
	assert.Error(t, grid.Validate())

	var nilGrid *VoxelGrid
	assert.Error(t, nilGrid.Validate())
}

func TestVoxelGridInterp(t *testing.T) {
	grid := NewVoxelGrid(NewGeometry(2, 1, 1))
	grid.Set(0, 0, 0, 1)
	grid.Set(1, 0, 0, 3)

	assert.InDelta(t, 1.0, grid.Interp(model3d.XYZ(0, 0, 0)), 1e-12)
	assert.InDelta(t, 2.0, grid.Interp(model3d.XYZ(0.5, 0, 0)), 1e-12)
	assert.InDelta(t, 3.0, grid.Interp(model3d.XYZ(1, 0, 0)), 1e-12)
	assert.InDelta(t, 1.5, grid.Interp(model3d.XYZ(1.5, 0, 0)), 1e-12, "outside samples are 0")
	assert.Equal(t, 0.0, grid.Get(-1, 0, 0))
}

func TestMaskValidateAndCount(t *testing.T) {
	m := NewMask(NewGeometry(3, 1, 1))
	m.Values[1] = 1
	require.NoError(t, m.Validate())
	assert.Equal(t, 1, m.Count())
	assert.InDelta(t, 0.5, m.Interp(model3d.XYZ(0.5, 0, 0)), 1e-12)

	m.Values[2] = 2
	assert.Error(t, m.Validate())
}

func TestLabeledGridSelect(t *testing.T) {
	l := NewLabeledGrid(NewGeometry(4, 1, 1))
	l.Labels = []int32{0, 1, 2, 1}
	m := l.Select(1)
	assert.Equal(t, []uint8{0, 1, 0, 1}, m.Values)
	assert.Equal(t, l.Geometry, m.Geometry)
}

func TestReadJSON(t *testing.T) {
	grid, err := ReadJSON(strings.NewReader(`[[[1,2,3],[4,5,6]]]`))
	require.NoError(t, err)
	assert.Equal(t, [3]int{3, 2, 1}, grid.Dims)
	assert.Equal(t, 6.0, grid.Get(2, 1, 0))
	assert.Equal(t, 2.0, grid.Get(1, 0, 0))

	_, err = ReadJSON(strings.NewReader(`[[[1,2,3],[4,5]]]`))
	assert.Error(t, err)

	_, err = ReadJSON(strings.NewReader(`[]`))
	assert.True(t, errors.Is(err, ErrNoData))
}

func testGrid() *VoxelGrid {
	g := NewGeometry(3, 2, 2)
	g.Spacing = [3]float64{0.5, 0.75, 2.5}
	g.Origin = [3]float64{-10, 4, 1.5}
	grid := NewVoxelGrid(g)
	for i := range grid.Values {
		grid.Values[i] = float64(i*100 - 1000)
	}
	return grid
}

func TestNRRDRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		grid := testGrid()
		var buf bytes.Buffer
		require.NoError(t, WriteNRRD(&buf, grid, compress))
		decoded, err := ReadNRRD(&buf)
		require.NoError(t, err, "compress=%v", compress)
		assert.Equal(t, grid.Geometry, decoded.Geometry)
		assert.Equal(t, grid.Values, decoded.Values)
	}
}

func TestReadNRRDShortSpacings(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("NRRD0004\n# comment\ntype: short\ndimension: 3\nsizes: 2 1 1\n" +
		"spacings: 0.5 0.5 3\nendian: big\nencoding: raw\nmeta:=value\n\n")
	buf.Write([]byte{0xfc, 0x18, 0x00, 0x10}) // -1000, 16
	grid, err := ReadNRRD(&buf)
	require.NoError(t, err)
	assert.Equal(t, [3]float64{0.5, 0.5, 3}, grid.Spacing)
	assert.Equal(t, []float64{-1000, 16}, grid.Values)
}

func TestReadNRRDDetached(t *testing.T) {
	dir := t.TempDir()
	header := "NRRD0004\ntype: uchar\ndimension: 3\nsizes: 2 2 1\ndata file: scan.raw\nencoding: raw\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan.nhdr"), []byte(header), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan.raw"), []byte{1, 2, 3, 4}, 0644))

	grid, err := Load(filepath.Join(dir, "scan.nhdr"))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, grid.Values)
}

func TestNumpyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	grid := testGrid()
	for _, name := range []string{"scan.npy", "scan.npz"} {
		path := filepath.Join(dir, name)
		require.NoError(t, SaveNumpy(path, grid))
		decoded, err := Load(path)
		require.NoError(t, err, name)
		assert.Equal(t, grid.Dims, decoded.Dims)
		assert.Equal(t, [3]float64{1, 1, 1}, decoded.Spacing)
		assert.Equal(t, grid.Values, decoded.Values)
	}
}

func TestEncodeNumpyAlignment(t *testing.T) {
	data := EncodeNumpy(testGrid())
	headerLen := int(data[8]) | int(data[9])<<8
	assert.Equal(t, 0, (10+headerLen)%64)
	assert.Equal(t, byte('\n'), data[10+headerLen-1])
}

func TestReadSeries(t *testing.T) {
	dir := t.TempDir()
	for z := 0; z < 3; z++ {
		img := image.NewGray16(image.Rect(0, 0, 4, 2))
		for y := 0; y < 2; y++ {
			for x := 0; x < 4; x++ {
				img.SetGray16(x, y, color.Gray16{Y: uint16(1000*z + 10*y + x)})
			}
		}
		f, err := os.Create(filepath.Join(dir, "slice"+string(rune('a'+z))+".png"))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "._slicea.png"), []byte("junk"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("junk"), 0644))

	opts := DefaultSeriesOptions()
	opts.SliceSpacing = 2.5
	opts.RescaleIntercept = -1024
	grid, err := ReadSeries(dir, opts)
	require.NoError(t, err)
	assert.Equal(t, [3]int{4, 2, 3}, grid.Dims)
	assert.Equal(t, [3]float64{1, 1, 2.5}, grid.Spacing)
	assert.Equal(t, float64(2000+10+3-1024), grid.Get(3, 1, 2))
}

func TestLoadNoData(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.nrrd"))
	assert.True(t, errors.Is(err, ErrNoData))

	_, err = Load(dir)
	assert.True(t, errors.Is(err, ErrNoData), "empty directory")

	path := filepath.Join(dir, "scan.xyz")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	_, err = Load(path)
	assert.True(t, errors.Is(err, ErrNoData), "unknown extension")
}

func TestSummarize(t *testing.T) {
	grid := NewVoxelGrid(NewGeometry(4, 1, 1))
	grid.Values = []float64{-2, 0, 2, 4}
	s := Summarize(grid)
	assert.Equal(t, -2.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
	assert.InDelta(t, 1.0, s.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(20.0/3), s.StdDev, 1e-12)
}
