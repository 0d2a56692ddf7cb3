// Package medmesh turns a volumetric scan into a glTF
// surface model.
//
// A Pipeline runs a fixed sequence of stages: intensity
// windowing, thresholding, largest component selection,
// mask denoising, isosurface extraction, mesh smoothing,
// vertex normals and serialization. The numerical work is
// done by a FilterProvider; the pipeline validates the
// configuration, sequences the stages and classifies
// failures.
package medmesh

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"
	"github.com/unixpickle/medmesh/filters"
	"github.com/unixpickle/medmesh/trimesh"
	"github.com/unixpickle/medmesh/volume"
)

// ErrPipelineUsed is returned when Run or RunGrid is called
// on a Pipeline that has already run.
var ErrPipelineUsed = errors.New("pipeline has already run")

// State is the progress of a Pipeline.
type State int

const (
	Idle State = iota
	Loaded
	Preprocessed
	Segmented
	MeshGenerated
	Exported
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Loaded:
		return "Loaded"
	case Preprocessed:
		return "Preprocessed"
	case Segmented:
		return "Segmented"
	case MeshGenerated:
		return "MeshGenerated"
	case Exported:
		return "Exported"
	case Failed:
		return "Failed"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Terminal checks if no further transitions are possible.
func (s State) Terminal() bool {
	return s == Exported || s == Failed
}

// A Transition records a state change and the stage that
// caused it.
type Transition struct {
	From  State
	To    State
	Stage string
}

// Result is the output of a successful run.
type Result struct {
	Document *gltf.Document

	// JSON is the encoded document, ready to be written.
	JSON []byte

	// Mesh is the smoothed mesh with vertex normals.
	Mesh *trimesh.Mesh

	// Summary describes the raw scan intensities.
	Summary volume.Summary

	NumComponents int
	KeptLabel     int32

	// KeptSize is the physical volume of the kept component.
	KeptSize float64
}

// A Pipeline converts one scan into one document.
//
// A Pipeline may only be run once. Independent pipelines
// share no state and may run concurrently.
type Pipeline struct {
	Filters FilterProvider
	Loader  Loader

	// Logger receives stage progress. If nil, nothing is
	// logged.
	Logger *slog.Logger

	state       State
	used        bool
	transitions []Transition
}

// New creates a Pipeline that uses the native filters and
// volume.Load.
func New() *Pipeline {
	return &Pipeline{
		Filters: &filters.Native{},
		Loader:  volume.Load,
	}
}

// State returns the current state.
func (p *Pipeline) State() State {
	return p.state
}

// Transitions returns every state change so far.
func (p *Pipeline) Transitions() []Transition {
	return append([]Transition{}, p.transitions...)
}

// Run loads a scan and converts it.
//
// The configuration is validated before the scan is read.
// Errors are *StageError values carrying a Kind, except
// for ErrPipelineUsed.
func (p *Pipeline) Run(source string, cfg *Config) (*Result, error) {
	if err := p.start(); err != nil {
		return nil, err
	}
	if err := p.validate(cfg); err != nil {
		return nil, err
	}
	if p.Loader == nil {
		return nil, p.fail(stageError(StageIngest, IngestionError, errors.New("no loader")))
	}

	start := time.Now()
	p.logger().Info("stage started", "stage", StageIngest, "source", source)
	grid, err := p.Loader(source)
	if err != nil {
		return nil, p.fail(stageError(StageIngest, IngestionError, err))
	}
	return p.run(cfg, grid, start)
}

// RunGrid converts a grid that is already in memory.
func (p *Pipeline) RunGrid(grid *volume.VoxelGrid, cfg *Config) (*Result, error) {
	if err := p.start(); err != nil {
		return nil, err
	}
	if err := p.validate(cfg); err != nil {
		return nil, err
	}
	p.logger().Info("stage started", "stage", StageIngest)
	return p.run(cfg, grid, time.Now())
}

func (p *Pipeline) start() error {
	if p.used {
		return ErrPipelineUsed
	}
	p.used = true
	if p.Filters == nil {
		p.Filters = &filters.Native{}
	}
	return nil
}

func (p *Pipeline) validate(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return p.fail(stageError(StageConfigure, InvalidConfigurationError, err))
	}
	return nil
}

func (p *Pipeline) run(cfg *Config, grid *volume.VoxelGrid, ingestStart time.Time) (*Result, error) {
	// Copy the configuration so the caller cannot change it
	// mid-run.
	cfgCopy := *cfg
	ctx := runContext{config: &cfgCopy}

	ctx, serr := p.ingestGrid(ctx, grid)
	if serr != nil {
		serr.Stage = StageIngest
		return nil, p.fail(serr)
	}
	p.logger().Info("stage finished", "stage", StageIngest, "duration", time.Since(ingestStart))
	p.transition(Loaded, StageIngest)

	for _, s := range stages {
		start := time.Now()
		p.logger().Debug("stage started", "stage", s.name)
		next, serr := s.run(p, ctx)
		if serr != nil {
			serr.Stage = s.name
			return nil, p.fail(serr)
		}
		ctx = next
		p.logger().Info("stage finished", "stage", s.name, "duration", time.Since(start))
		if s.reached != Idle {
			p.transition(s.reached, s.name)
		}
	}

	return &Result{
		Document:      ctx.document,
		JSON:          ctx.encoded,
		Mesh:          ctx.mesh,
		Summary:       ctx.summary,
		NumComponents: ctx.numLabels,
		KeptLabel:     ctx.keptLabel,
		KeptSize:      ctx.keptSize,
	}, nil
}

func (p *Pipeline) transition(to State, stage string) {
	p.transitions = append(p.transitions, Transition{From: p.state, To: to, Stage: stage})
	p.state = to
}

func (p *Pipeline) fail(err *StageError) error {
	p.logger().Error("stage failed", "stage", err.Stage, "kind", string(err.Kind), "error", err.Err)
	p.transition(Failed, err.Stage)
	return err
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return newNopLogger()
	}
	return p.Logger
}

// WriteResult writes the encoded document of a successful
// run to path.
//
// The document is written to a temporary file in the same
// directory and renamed into place, so path is either left
// untouched or holds the complete document.
func WriteResult(path string, r *Result) error {
	if r == nil || len(r.JSON) == 0 {
		return errors.New("write result: no document")
	}
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "write result")
	}
	tmpPath := f.Name()
	if err := f.Chmod(0644); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "write result")
	}
	if _, err := f.Write(r.JSON); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "write result")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "write result")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "write result")
	}
	return nil
}
