package medmesh

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"
	"github.com/unixpickle/medmesh/gltfmesh"
	"github.com/unixpickle/medmesh/trimesh"
	"github.com/unixpickle/medmesh/volume"
)

// Stage names, in execution order.
const (
	StageConfigure         = "configure"
	StageIngest            = "ingest"
	StagePreprocess        = "preprocess"
	StageThreshold         = "threshold"
	StageSelectLargest     = "selectLargestComponent"
	StageDenoise           = "denoiseMask"
	StageExtractIsosurface = "extractIsosurface"
	StageSmoothMesh        = "smoothMesh"
	StageComputeNormals    = "computeNormals"
	StageSerialize         = "serialize"
)

// DenoiseRadius is the median filter radius applied to the
// selected component.
const DenoiseRadius = 1

// runContext is the data passed from one stage to the next.
// Stages receive it by value and return an extended copy;
// the grids and meshes it points to are never modified.
type runContext struct {
	config *Config

	scan     *volume.VoxelGrid
	summary  volume.Summary
	windowed *volume.VoxelGrid

	thresholded *volume.Mask
	numLabels   int
	keptLabel   int32
	keptSize    float64
	largest     *volume.Mask
	cleaned     *volume.Mask

	rawMesh    *trimesh.Mesh
	smoothMesh *trimesh.Mesh
	mesh       *trimesh.Mesh

	document *gltf.Document
	encoded  []byte
}

type stageFunc func(p *Pipeline, ctx runContext) (runContext, *StageError)

type stage struct {
	name string
	run  stageFunc

	// reached is the state entered when the stage finishes,
	// or Idle if the stage does not end a phase.
	reached State
}

var stages = []stage{
	{StagePreprocess, (*Pipeline).preprocess, Preprocessed},
	{StageThreshold, (*Pipeline).threshold, Idle},
	{StageSelectLargest, (*Pipeline).selectLargestComponent, Idle},
	{StageDenoise, (*Pipeline).denoiseMask, Segmented},
	{StageExtractIsosurface, (*Pipeline).extractIsosurface, Idle},
	{StageSmoothMesh, (*Pipeline).smoothMesh, Idle},
	{StageComputeNormals, (*Pipeline).computeNormals, MeshGenerated},
	{StageSerialize, (*Pipeline).serialize, Exported},
}

func failure(kind Kind, err error) *StageError {
	return &StageError{Kind: kind, Err: err}
}

func (p *Pipeline) ingestGrid(ctx runContext, grid *volume.VoxelGrid) (runContext, *StageError) {
	if err := grid.Validate(); err != nil {
		return ctx, failure(IngestionError, err)
	}
	ctx.scan = grid
	ctx.summary = volume.Summarize(grid)
	p.logger().Info("loaded volume",
		"dims", grid.Dims,
		"spacing", grid.Spacing,
		"min", ctx.summary.Min,
		"max", ctx.summary.Max,
		"mean", ctx.summary.Mean,
		"stddev", ctx.summary.StdDev)
	return ctx, nil
}

func (p *Pipeline) preprocess(ctx runContext) (runContext, *StageError) {
	windowed, err := p.Filters.IntensityWindow(ctx.scan, ctx.config.WindowMin, ctx.config.WindowMax)
	if err != nil {
		return ctx, failure(FilterError, err)
	}
	ctx.windowed = windowed
	return ctx, nil
}

func (p *Pipeline) threshold(ctx runContext) (runContext, *StageError) {
	mask, err := p.Filters.BinaryThreshold(ctx.windowed, ctx.config.LowerThreshold,
		ctx.config.UpperThreshold)
	if err != nil {
		return ctx, failure(FilterError, err)
	}
	ctx.thresholded = mask
	p.logger().Debug("thresholded volume", "foreground", mask.Count())
	return ctx, nil
}

func (p *Pipeline) selectLargestComponent(ctx runContext) (runContext, *StageError) {
	labels, sizes, err := p.Filters.ConnectedComponents(ctx.thresholded)
	if err != nil {
		return ctx, failure(FilterError, err)
	}
	label, size, ok := LargestLabel(sizes)
	if !ok {
		return ctx, failure(EmptySegmentationError,
			errors.Errorf("no foreground voxels in [%v, %v]", ctx.config.LowerThreshold,
				ctx.config.UpperThreshold))
	}
	ctx.numLabels = len(sizes)
	ctx.keptLabel = label
	ctx.keptSize = size
	ctx.largest = labels.Select(label)
	p.logger().Info("selected largest component",
		"components", len(sizes), "label", label, "size", size)
	return ctx, nil
}

func (p *Pipeline) denoiseMask(ctx runContext) (runContext, *StageError) {
	cleaned, err := p.Filters.MedianFilter(ctx.largest, DenoiseRadius)
	if err != nil {
		return ctx, failure(FilterError, err)
	}
	ctx.cleaned = cleaned
	p.logger().Debug("denoised mask", "before", ctx.largest.Count(), "after", cleaned.Count())
	return ctx, nil
}

func (p *Pipeline) extractIsosurface(ctx runContext) (runContext, *StageError) {
	mesh, err := p.Filters.Isosurface(ctx.cleaned, ctx.config.Isovalue)
	if err != nil {
		return ctx, failure(FilterError, err)
	}
	if serr := checkMesh(mesh); serr != nil {
		return ctx, serr
	}
	ctx.rawMesh = mesh
	p.logger().Info("extracted isosurface",
		"vertices", len(mesh.Vertices), "triangles", len(mesh.Triangles))
	return ctx, nil
}

func (p *Pipeline) smoothMesh(ctx runContext) (runContext, *StageError) {
	if ctx.config.SmoothingIterations == 0 {
		ctx.smoothMesh = ctx.rawMesh
		return ctx, nil
	}
	mesh, err := p.Filters.SmoothMesh(ctx.rawMesh, ctx.config.SmoothingIterations,
		ctx.config.PassBand)
	if err != nil {
		return ctx, failure(FilterError, err)
	}
	if serr := checkMesh(mesh); serr != nil {
		return ctx, serr
	}
	ctx.smoothMesh = mesh
	return ctx, nil
}

func (p *Pipeline) computeNormals(ctx runContext) (runContext, *StageError) {
	mesh, err := trimesh.ComputeNormals(ctx.smoothMesh)
	if err != nil {
		return ctx, failure(SerializationConsistencyError, err)
	}
	ctx.mesh = mesh
	return ctx, nil
}

func (p *Pipeline) serialize(ctx runContext) (runContext, *StageError) {
	doc, err := gltfmesh.Encode(ctx.mesh, gltfmesh.Color(ctx.config.Color))
	if err != nil {
		if !errors.Is(err, gltfmesh.ErrInconsistent) {
			return ctx, failure(InvalidConfigurationError, err)
		}
		return ctx, failure(SerializationConsistencyError, err)
	}
	encoded, err := gltfmesh.Marshal(doc)
	if err != nil {
		return ctx, failure(SerializationConsistencyError, err)
	}
	ctx.document = doc
	ctx.encoded = encoded
	return ctx, nil
}

// checkMesh rejects empty meshes and meshes a provider
// built with invalid indices.
func checkMesh(m *trimesh.Mesh) *StageError {
	if m == nil || len(m.Vertices) == 0 || len(m.Triangles) == 0 {
		var v, t int
		if m != nil {
			v, t = len(m.Vertices), len(m.Triangles)
		}
		return failure(DegenerateMeshError, errors.Errorf("mesh has %d vertices and %d triangles", v, t))
	}
	if err := m.Validate(); err != nil {
		return failure(FilterError, err)
	}
	return nil
}

// LargestLabel finds the foreground label with the largest
// physical size. Ties go to the lowest label.
//
// The last return value is false if there are no
// foreground labels.
func LargestLabel(sizes map[int32]float64) (label int32, size float64, ok bool) {
	labels := make([]int32, 0, len(sizes))
	for l := range sizes {
		// Label 0 is background.
		if l > 0 {
			labels = append(labels, l)
		}
	}
	if len(labels) == 0 {
		return 0, 0, false
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	label = labels[0]
	size = sizes[label]
	for _, l := range labels[1:] {
		if sizes[l] > size {
			label, size = l, sizes[l]
		}
	}
	return label, size, true
}
