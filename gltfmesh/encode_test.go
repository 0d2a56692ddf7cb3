package gltfmesh

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/medmesh/trimesh"
	"github.com/unixpickle/model3d/model3d"
)

func cubeWithNormals(t *testing.T) *trimesh.Mesh {
	m := &trimesh.Mesh{}
	for i := 0; i < 8; i++ {
		m.Vertices = append(m.Vertices, model3d.XYZ(float64(i&1), float64((i>>1)&1), float64((i>>2)&1)))
	}
	m.Triangles = [][3]int{
		{0, 2, 1}, {1, 2, 3},
		{4, 5, 6}, {5, 7, 6},
		{0, 1, 4}, {1, 5, 4},
		{2, 6, 3}, {3, 6, 7},
		{0, 4, 2}, {2, 4, 6},
		{1, 3, 5}, {3, 7, 5},
	}
	res, err := trimesh.ComputeNormals(m)
	require.NoError(t, err)
	return res
}

// rawDocument mirrors the parts of the glTF schema checked
// by the tests, independent of the gltf package's types.
type rawDocument struct {
	Asset struct {
		Version string `json:"version"`
	} `json:"asset"`
	Scene  *int `json:"scene"`
	Scenes []struct {
		Nodes []int `json:"nodes"`
	} `json:"scenes"`
	Nodes []struct {
		Mesh *int `json:"mesh"`
	} `json:"nodes"`
	Meshes []struct {
		Primitives []struct {
			Attributes map[string]int `json:"attributes"`
			Indices    *int           `json:"indices"`
			Material   *int           `json:"material"`
		} `json:"primitives"`
	} `json:"meshes"`
	Materials []struct {
		PBR struct {
			BaseColorFactor []float64 `json:"baseColorFactor"`
			MetallicFactor  float64   `json:"metallicFactor"`
			RoughnessFactor float64   `json:"roughnessFactor"`
		} `json:"pbrMetallicRoughness"`
	} `json:"materials"`
	Accessors []struct {
		BufferView    int       `json:"bufferView"`
		ComponentType int       `json:"componentType"`
		Count         int       `json:"count"`
		Type          string    `json:"type"`
		Min           []float64 `json:"min"`
		Max           []float64 `json:"max"`
	} `json:"accessors"`
	BufferViews []struct {
		Buffer     int `json:"buffer"`
		ByteLength int `json:"byteLength"`
		Target     int `json:"target"`
	} `json:"bufferViews"`
	Buffers []struct {
		URI        string `json:"uri"`
		ByteLength int    `json:"byteLength"`
	} `json:"buffers"`
}

func encodeRaw(t *testing.T, m *trimesh.Mesh, color Color) (*rawDocument, []byte) {
	doc, err := Encode(m, color)
	require.NoError(t, err)
	data, err := Marshal(doc)
	require.NoError(t, err)
	var raw rawDocument
	require.NoError(t, json.Unmarshal(data, &raw))
	return &raw, data
}

func TestEncodeCube(t *testing.T) {
	raw, _ := encodeRaw(t, cubeWithNormals(t), Color{0.95, 0.95, 0.85})

	assert.Equal(t, "2.0", raw.Asset.Version)
	require.NotNil(t, raw.Scene)
	assert.Equal(t, 0, *raw.Scene)
	require.Len(t, raw.Scenes, 1)
	assert.Equal(t, []int{0}, raw.Scenes[0].Nodes)
	require.Len(t, raw.Nodes, 1)
	require.NotNil(t, raw.Nodes[0].Mesh)
	require.Len(t, raw.Meshes, 1)
	require.Len(t, raw.Meshes[0].Primitives, 1)
	prim := raw.Meshes[0].Primitives[0]
	assert.Equal(t, map[string]int{"POSITION": 0, "NORMAL": 1}, prim.Attributes)
	require.NotNil(t, prim.Indices)
	assert.Equal(t, 2, *prim.Indices)
	require.NotNil(t, prim.Material)
	assert.Equal(t, 0, *prim.Material)

	require.Len(t, raw.Accessors, 3)
	pos, norm, idx := raw.Accessors[0], raw.Accessors[1], raw.Accessors[2]
	assert.Equal(t, 5126, pos.ComponentType)
	assert.Equal(t, "VEC3", pos.Type)
	assert.Equal(t, 8, pos.Count)
	assert.Equal(t, []float64{0, 0, 0}, pos.Min)
	assert.Equal(t, []float64{1, 1, 1}, pos.Max)
	assert.Equal(t, 5126, norm.ComponentType)
	assert.Equal(t, "VEC3", norm.Type)
	assert.Equal(t, 8, norm.Count)
	assert.Nil(t, norm.Min)
	assert.Nil(t, norm.Max)
	assert.Equal(t, 5125, idx.ComponentType)
	assert.Equal(t, "SCALAR", idx.Type)
	assert.Equal(t, 36, idx.Count)
	for i, a := range raw.Accessors {
		assert.Equal(t, i, a.BufferView)
	}

	expectedLengths := []int{96, 96, 144}
	require.Len(t, raw.BufferViews, 3)
	require.Len(t, raw.Buffers, 3)
	for i, length := range expectedLengths {
		assert.Equal(t, i, raw.BufferViews[i].Buffer)
		assert.Equal(t, length, raw.BufferViews[i].ByteLength)
		assert.Equal(t, length, raw.Buffers[i].ByteLength)
	}
	assert.Equal(t, 34962, raw.BufferViews[0].Target)
	assert.Equal(t, 34963, raw.BufferViews[2].Target)

	require.Len(t, raw.Materials, 1)
	pbr := raw.Materials[0].PBR
	assert.Equal(t, []float64{0.95, 0.95, 0.85, 1}, pbr.BaseColorFactor)
	assert.Equal(t, 0.1, pbr.MetallicFactor)
	assert.Equal(t, 0.8, pbr.RoughnessFactor)
}

func TestEncodedBuffersDecode(t *testing.T) {
	mesh := cubeWithNormals(t)
	raw, _ := encodeRaw(t, mesh, Color{0.8, 0.8, 0.9})
	for i, b := range raw.Buffers {
		require.True(t, strings.HasPrefix(b.URI, DataURIPrefix), "buffer %d", i)
		data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(b.URI, DataURIPrefix))
		require.NoError(t, err)
		assert.Len(t, data, b.ByteLength, "buffer %d", i)
	}

	data, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(raw.Buffers[IndexBuffer].URI, DataURIPrefix))
	for i, tri := range mesh.Triangles {
		for j, idx := range tri {
			assert.Equal(t, uint32(idx), binary.LittleEndian.Uint32(data[4*(3*i+j):]))
		}
	}
	data, _ = base64.StdEncoding.DecodeString(strings.TrimPrefix(raw.Buffers[PositionBuffer].URI, DataURIPrefix))
	for i, v := range mesh.Vertices {
		for axis, x := range v.Array() {
			bits := binary.LittleEndian.Uint32(data[4*(3*i+axis):])
			assert.Equal(t, float32(x), math.Float32frombits(bits))
		}
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	mesh := cubeWithNormals(t)
	_, data := encodeRaw(t, mesh, Color{0.8, 0.2, 0.2})
	doc, buffers, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, buffers, 3)
	assert.Equal(t, 8, doc.Accessors[PositionBuffer].Count)
	packed, err := Pack(mesh)
	require.NoError(t, err)
	assert.Equal(t, packed.Positions, buffers[PositionBuffer])
	assert.Equal(t, packed.Normals, buffers[NormalBuffer])
	assert.Equal(t, packed.Indices, buffers[IndexBuffer])
}

func TestBoundsUseTrueExtremes(t *testing.T) {
	mesh := &trimesh.Mesh{
		Vertices: []model3d.Coord3D{
			model3d.XYZ(3, -2, 5),
			model3d.XYZ(-1, 7, 0.5),
			model3d.XYZ(2, 0, -4),
		},
		Triangles: [][3]int{{0, 1, 2}},
	}
	mesh, err := trimesh.ComputeNormals(mesh)
	require.NoError(t, err)
	raw, _ := encodeRaw(t, mesh, Color{1, 1, 1})
	assert.Equal(t, []float64{-1, -2, -4}, raw.Accessors[0].Min)
	assert.Equal(t, []float64{3, 7, 5}, raw.Accessors[0].Max)
}

func TestEncodeDeterministic(t *testing.T) {
	_, first := encodeRaw(t, cubeWithNormals(t), Color{0.5, 0.5, 0.5})
	for i := 0; i < 3; i++ {
		_, next := encodeRaw(t, cubeWithNormals(t), Color{0.5, 0.5, 0.5})
		assert.Equal(t, first, next)
	}
}

func TestEncodeInconsistent(t *testing.T) {
	mesh := cubeWithNormals(t)

	noNormals := mesh.Copy()
	noNormals.Normals = nil
	_, err := Encode(noNormals, Color{1, 1, 1})
	assert.True(t, errors.Is(err, ErrInconsistent))

	badIndex := mesh.Copy()
	badIndex.Triangles[5][2] = 8
	_, err = Encode(badIndex, Color{1, 1, 1})
	assert.True(t, errors.Is(err, ErrInconsistent))

	_, err = Encode(mesh, Color{1.5, 0, 0})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrInconsistent))
}

func TestVerifyDetectsTampering(t *testing.T) {
	doc, err := Encode(cubeWithNormals(t), Color{1, 1, 1})
	require.NoError(t, err)
	require.NoError(t, Verify(doc))

	doc.Buffers[NormalBuffer].ByteLength += 4
	assert.True(t, errors.Is(Verify(doc), ErrInconsistent))
	doc.Buffers[NormalBuffer].ByteLength -= 4

	doc.BufferViews[IndexBuffer].ByteLength = 10
	assert.True(t, errors.Is(Verify(doc), ErrInconsistent))
	doc.BufferViews[IndexBuffer].ByteLength = 144

	doc.Accessors[PositionBuffer].Count = 4
	assert.True(t, errors.Is(Verify(doc), ErrInconsistent))
	doc.Accessors[PositionBuffer].Count = 8
	require.NoError(t, Verify(doc))

	indices := make([]byte, 144)
	binary.LittleEndian.PutUint32(indices[40:], 9)
	doc.Buffers[IndexBuffer].URI = DataURIPrefix + base64.StdEncoding.EncodeToString(indices)
	assert.True(t, errors.Is(Verify(doc), ErrInconsistent))
}
