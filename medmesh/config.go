package medmesh

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the tunable parameters of a pipeline run.
type Config struct {
	// WindowMin and WindowMax are the intensity window, in
	// the scan's native units, mapped onto [0, 1].
	WindowMin float64 `json:"window_min" yaml:"window_min"`
	WindowMax float64 `json:"window_max" yaml:"window_max"`

	// LowerThreshold and UpperThreshold select foreground
	// voxels in the windowed volume, inclusively.
	LowerThreshold float64 `json:"lower_threshold" yaml:"lower_threshold"`
	UpperThreshold float64 `json:"upper_threshold" yaml:"upper_threshold"`

	// SmoothingIterations is the number of windowed-sinc
	// terms. Zero disables mesh smoothing.
	SmoothingIterations int     `json:"smoothing_iterations" yaml:"smoothing_iterations"`
	PassBand            float64 `json:"pass_band" yaml:"pass_band"`

	Isovalue float64    `json:"isovalue" yaml:"isovalue"`
	Color    [3]float64 `json:"color" yaml:"color"`
}

// DefaultConfig returns the general purpose configuration.
func DefaultConfig() *Config {
	return &Config{
		WindowMin:           -1000,
		WindowMax:           4000,
		LowerThreshold:      0.3,
		UpperThreshold:      1.0,
		SmoothingIterations: 20,
		PassBand:            0.001,
		Isovalue:            0.5,
		Color:               [3]float64{0.8, 0.8, 0.9},
	}
}

// Validate checks every parameter before a run starts.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("missing configuration")
	}
	finite := []struct {
		name  string
		value float64
	}{
		{"window_min", c.WindowMin},
		{"window_max", c.WindowMax},
		{"lower_threshold", c.LowerThreshold},
		{"upper_threshold", c.UpperThreshold},
	}
	for _, f := range finite {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return errors.Errorf("%s must be finite, got %v", f.name, f.value)
		}
	}

	if !(c.WindowMin < c.WindowMax) {
		return errors.Errorf("window_min (%v) must be less than window_max (%v)",
			c.WindowMin, c.WindowMax)
	}
	if !(c.LowerThreshold <= c.UpperThreshold) {
		return errors.Errorf("lower_threshold (%v) must not exceed upper_threshold (%v)",
			c.LowerThreshold, c.UpperThreshold)
	}
	if c.SmoothingIterations < 0 {
		return errors.Errorf("smoothing_iterations must be non-negative, got %d",
			c.SmoothingIterations)
	}
	if !(c.PassBand > 0 && c.PassBand <= 2) {
		return errors.Errorf("pass_band must be in (0, 2], got %v", c.PassBand)
	}
	if !(c.Isovalue > 0 && c.Isovalue < 1) {
		return errors.Errorf("isovalue must be in (0, 1), got %v", c.Isovalue)
	}
	for i, x := range c.Color {
		if !(x >= 0 && x <= 1) {
			return errors.Errorf("color channel %d must be in [0, 1], got %v", i, x)
		}
	}
	return nil
}

// Presets for common anatomical targets.
var presets = map[string]func() *Config{
	"default": DefaultConfig,
	"bone": func() *Config {
		c := DefaultConfig()
		c.LowerThreshold = 0.4
		c.SmoothingIterations = 15
		c.Color = [3]float64{0.95, 0.95, 0.85}
		return c
	},
	"soft-tissue": func() *Config {
		c := DefaultConfig()
		c.WindowMin, c.WindowMax = -100, 300
		c.LowerThreshold, c.UpperThreshold = 0.2, 0.7
		c.SmoothingIterations = 5
		c.Color = [3]float64{0.83, 0.65, 0.65}
		return c
	},
	"vessels": func() *Config {
		c := DefaultConfig()
		c.WindowMin, c.WindowMax = -100, 300
		c.LowerThreshold, c.UpperThreshold = 0.7, 1.0
		c.SmoothingIterations = 3
		c.Color = [3]float64{0.8, 0.2, 0.2}
		return c
	},
}

// PresetNames lists the available presets in sorted order.
func PresetNames() []string {
	var res []string
	for name := range presets {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}

// Preset returns a fresh copy of a named configuration.
func Preset(name string) (*Config, error) {
	f, ok := presets[name]
	if !ok {
		return nil, errors.Errorf("unknown preset %q (expected one of %s)", name,
			strings.Join(PresetNames(), ", "))
	}
	return f(), nil
}

// ConfigFile is the on-disk form of a Config.
//
// Fields that are omitted keep the value of the named
// preset, or of DefaultConfig if no preset is named.
type ConfigFile struct {
	Preset string `json:"preset,omitempty" yaml:"preset,omitempty"`

	WindowMin           *float64  `json:"window_min,omitempty" yaml:"window_min,omitempty"`
	WindowMax           *float64  `json:"window_max,omitempty" yaml:"window_max,omitempty"`
	LowerThreshold      *float64  `json:"lower_threshold,omitempty" yaml:"lower_threshold,omitempty"`
	UpperThreshold      *float64  `json:"upper_threshold,omitempty" yaml:"upper_threshold,omitempty"`
	SmoothingIterations *int      `json:"smoothing_iterations,omitempty" yaml:"smoothing_iterations,omitempty"`
	PassBand            *float64  `json:"pass_band,omitempty" yaml:"pass_band,omitempty"`
	Isovalue            *float64  `json:"isovalue,omitempty" yaml:"isovalue,omitempty"`
	Color               []float64 `json:"color,omitempty" yaml:"color,omitempty"`
}

// Config resolves the file against its preset.
func (f *ConfigFile) Config() (*Config, error) {
	name := f.Preset
	if name == "" {
		name = "default"
	}
	c, err := Preset(name)
	if err != nil {
		return nil, err
	}
	setFloat := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setFloat(&c.WindowMin, f.WindowMin)
	setFloat(&c.WindowMax, f.WindowMax)
	setFloat(&c.LowerThreshold, f.LowerThreshold)
	setFloat(&c.UpperThreshold, f.UpperThreshold)
	setFloat(&c.PassBand, f.PassBand)
	setFloat(&c.Isovalue, f.Isovalue)
	if f.SmoothingIterations != nil {
		c.SmoothingIterations = *f.SmoothingIterations
	}
	if f.Color != nil {
		if len(f.Color) != 3 {
			return nil, errors.Errorf("color must have 3 channels, got %d", len(f.Color))
		}
		copy(c.Color[:], f.Color)
	}
	return c, nil
}

// LoadConfig reads a JSON or YAML configuration file,
// chosen by extension, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".json":
		err = json.Unmarshal(data, &file)
	default:
		return nil, errors.Errorf("load config: unsupported extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	c, err := file.Config()
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	return c, nil
}
