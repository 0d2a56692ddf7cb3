// Package gltfmesh encodes an indexed triangle mesh as a
// self-contained glTF 2.0 document.
//
// The document has one scene, one node, one mesh with one
// triangle primitive, and one material. Positions, normals
// and indices each live in their own buffer, embedded in
// the JSON as a base64 data URI.
package gltfmesh

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"
	"github.com/unixpickle/medmesh/trimesh"
)

// DataURIPrefix precedes the base64 payload of every
// embedded buffer.
const DataURIPrefix = "data:application/octet-stream;base64,"

// Generator is recorded in the asset metadata.
const Generator = "medmesh"

// Material constants for a matte anatomical surface.
const (
	Alpha     = 1.0
	Metallic  = 0.1
	Roughness = 0.8
)

// Buffer indices within the document. Each buffer has a
// buffer view and an accessor with the same index.
const (
	PositionBuffer = 0
	NormalBuffer   = 1
	IndexBuffer    = 2
)

// ErrInconsistent is wrapped by every error that indicates
// the packed document disagrees with the mesh it encodes.
var ErrInconsistent = errors.New("serialization consistency violation")

// Color is a linear RGB base color with channels in [0, 1].
type Color [3]float64

// Packed holds the raw little-endian payloads of the three
// buffers.
type Packed struct {
	Positions []byte
	Normals   []byte
	Indices   []byte
}

// Pack lays out vertex positions and normals as float32
// triples and triangle indices as uint32 triples.
//
// The mesh must have one normal per vertex and only valid
// indices.
func Pack(m *trimesh.Mesh) (*Packed, error) {
	if err := m.Validate(); err != nil {
		return nil, errors.Wrap(ErrInconsistent, err.Error())
	}
	if len(m.Normals) != len(m.Vertices) {
		return nil, errors.Wrapf(ErrInconsistent, "%d normals for %d vertices",
			len(m.Normals), len(m.Vertices))
	}
	if uint64(len(m.Vertices)) > math.MaxUint32 {
		return nil, errors.Wrap(ErrInconsistent, "too many vertices for 32-bit indices")
	}

	res := &Packed{
		Positions: make([]byte, 0, 12*len(m.Vertices)),
		Normals:   make([]byte, 0, 12*len(m.Normals)),
		Indices:   make([]byte, 0, 12*len(m.Triangles)),
	}
	for _, v := range m.Vertices {
		for _, x := range v.Array() {
			res.Positions = binary.LittleEndian.AppendUint32(res.Positions, math.Float32bits(float32(x)))
		}
	}
	for _, n := range m.Normals {
		for _, x := range n.Array() {
			res.Normals = binary.LittleEndian.AppendUint32(res.Normals, math.Float32bits(float32(x)))
		}
	}
	for _, t := range m.Triangles {
		for _, idx := range t {
			res.Indices = binary.LittleEndian.AppendUint32(res.Indices, uint32(idx))
		}
	}
	return res, nil
}

// Bounds computes the per-axis minimum and maximum of the
// packed float32 positions.
func (p *Packed) Bounds() (min, max []float64) {
	count := len(p.Positions) / 12
	if count == 0 {
		return nil, nil
	}
	min = []float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	max = []float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for i := 0; i < count; i++ {
		for axis := 0; axis < 3; axis++ {
			offset := 4 * (3*i + axis)
			x := float64(math.Float32frombits(binary.LittleEndian.Uint32(p.Positions[offset:])))
			min[axis] = math.Min(min[axis], x)
			max[axis] = math.Max(max[axis], x)
		}
	}
	return min, max
}

// Encode creates a glTF document for a mesh with normals.
//
// Errors wrap ErrInconsistent: the mesh is missing normals,
// has an out-of-range index, or a packed buffer does not
// match its declared length.
func Encode(m *trimesh.Mesh, color Color) (*gltf.Document, error) {
	for _, c := range color {
		if !(c >= 0 && c <= 1) {
			return nil, errors.Errorf("encode gltf: color channel %v outside [0, 1]", c)
		}
	}
	packed, err := Pack(m)
	if err != nil {
		return nil, errors.Wrap(err, "encode gltf")
	}
	min, max := packed.Bounds()

	payloads := [3][]byte{packed.Positions, packed.Normals, packed.Indices}
	doc := &gltf.Document{
		Asset: gltf.Asset{
			Version:   "2.0",
			Generator: Generator,
		},
		Scene:  gltf.Index(0),
		Scenes: []*gltf.Scene{{Nodes: []int{0}}},
		Nodes:  []*gltf.Node{{Mesh: gltf.Index(0)}},
		Meshes: []*gltf.Mesh{{
			Primitives: []*gltf.Primitive{{
				Attributes: map[string]int{
					"POSITION": PositionBuffer,
					"NORMAL":   NormalBuffer,
				},
				Indices:  gltf.Index(IndexBuffer),
				Material: gltf.Index(0),
				Mode:     gltf.PrimitiveTriangles,
			}},
		}},
		Materials: []*gltf.Material{{
			PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
				BaseColorFactor: &[4]float64{color[0], color[1], color[2], Alpha},
				MetallicFactor:  gltf.Float(Metallic),
				RoughnessFactor: gltf.Float(Roughness),
			},
		}},
		Accessors: []*gltf.Accessor{
			{
				BufferView:    gltf.Index(PositionBuffer),
				ComponentType: gltf.ComponentFloat,
				Count:         len(m.Vertices),
				Type:          gltf.AccessorVec3,
				Min:           min,
				Max:           max,
			},
			{
				BufferView:    gltf.Index(NormalBuffer),
				ComponentType: gltf.ComponentFloat,
				Count:         len(m.Normals),
				Type:          gltf.AccessorVec3,
			},
			{
				BufferView:    gltf.Index(IndexBuffer),
				ComponentType: gltf.ComponentUint,
				Count:         3 * len(m.Triangles),
				Type:          gltf.AccessorScalar,
			},
		},
	}
	targets := [3]gltf.Target{gltf.TargetArrayBuffer, gltf.TargetArrayBuffer, gltf.TargetElementArrayBuffer}
	for i, data := range payloads {
		doc.BufferViews = append(doc.BufferViews, &gltf.BufferView{
			Buffer:     i,
			ByteLength: len(data),
			Target:     targets[i],
		})
		doc.Buffers = append(doc.Buffers, &gltf.Buffer{
			ByteLength: len(data),
			URI:        DataURIPrefix + base64.StdEncoding.EncodeToString(data),
			Data:       data,
		})
	}

	if err := Verify(doc); err != nil {
		return nil, errors.Wrap(err, "encode gltf")
	}
	return doc, nil
}

// Marshal encodes a document as indented JSON.
func Marshal(doc *gltf.Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal gltf")
	}
	return append(data, '\n'), nil
}

// Verify checks the invariants of a document produced by
// Encode: each embedded payload decodes to exactly its
// declared byte length, the accessor counts match the
// payloads, and every index refers to an existing vertex.
func Verify(doc *gltf.Document) error {
	if len(doc.Buffers) != 3 || len(doc.BufferViews) != 3 || len(doc.Accessors) != 3 {
		return errors.Wrap(ErrInconsistent, "expected three buffers, views and accessors")
	}
	payloads, err := Buffers(doc)
	if err != nil {
		return err
	}
	for i, data := range payloads {
		if doc.Buffers[i].ByteLength != len(data) {
			return errors.Wrapf(ErrInconsistent, "buffer %d declares %d bytes but holds %d",
				i, doc.Buffers[i].ByteLength, len(data))
		}
		if doc.BufferViews[i].ByteLength != len(data) {
			return errors.Wrapf(ErrInconsistent, "buffer view %d declares %d bytes but buffer holds %d",
				i, doc.BufferViews[i].ByteLength, len(data))
		}
	}

	vertexCount := doc.Accessors[PositionBuffer].Count
	if 12*vertexCount != len(payloads[PositionBuffer]) {
		return errors.Wrapf(ErrInconsistent, "position accessor count %d does not match %d bytes",
			vertexCount, len(payloads[PositionBuffer]))
	}
	if doc.Accessors[NormalBuffer].Count != vertexCount || len(payloads[NormalBuffer]) != 12*vertexCount {
		return errors.Wrapf(ErrInconsistent, "normal accessor count %d does not match %d vertices",
			doc.Accessors[NormalBuffer].Count, vertexCount)
	}
	indexCount := doc.Accessors[IndexBuffer].Count
	if 4*indexCount != len(payloads[IndexBuffer]) || indexCount%3 != 0 {
		return errors.Wrapf(ErrInconsistent, "index accessor count %d does not match %d bytes",
			indexCount, len(payloads[IndexBuffer]))
	}
	indices := payloads[IndexBuffer]
	for i := 0; i < len(indices); i += 4 {
		if idx := binary.LittleEndian.Uint32(indices[i:]); int64(idx) >= int64(vertexCount) {
			return errors.Wrapf(ErrInconsistent, "index %d references vertex %d of %d", i/4, idx, vertexCount)
		}
	}
	return nil
}

// Decode parses a document produced by Marshal, verifies
// it, and returns it with its decoded buffers.
func Decode(data []byte) (*gltf.Document, [][]byte, error) {
	var doc gltf.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, errors.Wrap(err, "decode gltf")
	}
	if err := Verify(&doc); err != nil {
		return nil, nil, errors.Wrap(err, "decode gltf")
	}
	buffers, err := Buffers(&doc)
	if err != nil {
		return nil, nil, errors.Wrap(err, "decode gltf")
	}
	return &doc, buffers, nil
}

// Buffers decodes the embedded payload of every buffer.
func Buffers(doc *gltf.Document) ([][]byte, error) {
	res := make([][]byte, len(doc.Buffers))
	for i, b := range doc.Buffers {
		if !strings.HasPrefix(b.URI, DataURIPrefix) {
			return nil, errors.Wrapf(ErrInconsistent, "buffer %d is not an embedded data URI", i)
		}
		data, err := base64.StdEncoding.DecodeString(b.URI[len(DataURIPrefix):])
		if err != nil {
			return nil, errors.Wrapf(ErrInconsistent, "buffer %d: %s", i, err)
		}
		res[i] = data
	}
	return res, nil
}
