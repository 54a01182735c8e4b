// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gomlx/vizflow/composite"
	"github.com/gomlx/vizflow/resident"
	"github.com/gomlx/vizflow/ui/commandline"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Modes of compositing.
const (
	ModeImage    = "image"
	ModeGeometry = "geometry"
)

// Filters applied to the field.
const (
	FilterContour   = "contour"
	FilterThreshold = "threshold"
	FilterSlice     = "slice"
)

// FieldConfig selects the analytic field sampled by the source.
type FieldConfig struct {
	// Kind is "distance" (distance to Center) or "plane" (signed distance to the plane through Center with Normal).
	Kind   string     `yaml:"kind" toml:"kind"`
	Center [3]float64 `yaml:"center" toml:"center"`
	Normal [3]float64 `yaml:"normal" toml:"normal"`
}

// Config of a vizflow run.
type Config struct {
	// Processes in the group, one piece each. Ignored when Addresses is set.
	Processes int `yaml:"processes" toml:"processes"`

	// Addresses ("host:port") of every rank, to run as one process of a gRPC group (see -rank).
	Addresses []string `yaml:"addresses" toml:"addresses"`

	// Device configuration, e.g. "sim:workers=4". If empty, $VIZFLOW_DEVICE or the default device is used.
	Device string `yaml:"device" toml:"device"`

	// Mode is "image" (sort-last image compositing) or "geometry" (gather triangles on the leader).
	Mode string `yaml:"mode" toml:"mode"`

	// Strategy of image compositing: "gather" or "tree".
	Strategy string `yaml:"strategy" toml:"strategy"`

	// Filter is "contour", "threshold" or "slice".
	Filter string `yaml:"filter" toml:"filter"`

	Field       FieldConfig `yaml:"field" toml:"field"`
	WholeExtent [6]int      `yaml:"whole_extent" toml:"whole_extent"`
	Origin      [3]float64  `yaml:"origin" toml:"origin"`
	Spacing     [3]float64  `yaml:"spacing" toml:"spacing"`
	GhostLevel  int         `yaml:"ghost_level" toml:"ghost_level"`

	// Values runs one round per value: the iso value of the contour, the lower bound of the threshold
	// (the upper bound being value+ThresholdWidth), or the offset of the slice plane along the field normal.
	Values         []float64 `yaml:"values" toml:"values"`
	ThresholdWidth float64   `yaml:"threshold_width" toml:"threshold_width"`

	Width  int `yaml:"width" toml:"width"`
	Height int `yaml:"height" toml:"height"`

	// Output is the path of the PNG image saved for each round, with "{round}" replaced by the round number.
	// If empty no image is saved.
	Output string `yaml:"output" toml:"output"`

	// OutputScale resizes the saved images.
	OutputScale float64 `yaml:"output_scale" toml:"output_scale"`

	// TimeoutSeconds bounds the whole run, 0 for no limit.
	TimeoutSeconds float64 `yaml:"timeout_seconds" toml:"timeout_seconds"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Processes:      4,
		Mode:           ModeImage,
		Strategy:       composite.GatherToLeader.String(),
		Filter:         FilterContour,
		Field:          FieldConfig{Kind: "distance", Normal: [3]float64{0, 0, 1}},
		WholeExtent:    [6]int{0, 32, 0, 32, 0, 32},
		Origin:         [3]float64{-1, -1, -1},
		Spacing:        [3]float64{1.0 / 16, 1.0 / 16, 1.0 / 16},
		Values:         []float64{0.5, 0.7, 0.9},
		ThresholdWidth: 0.05,
		Width:          320,
		Height:         240,
		OutputScale:    1,
	}
}

// LoadConfig reads the configuration from a YAML or TOML (".toml" extension) file, over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	contents, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading configuration")
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(contents, &cfg)
	} else {
		err = yaml.Unmarshal(contents, &cfg)
	}
	if err != nil {
		return cfg, errors.Wrapf(err, "parsing configuration %q", path)
	}
	return cfg, nil
}

// Whole extent of the field.
func (c *Config) Whole() resident.Extent { return resident.Extent(c.WholeExtent) }

// Timeout of the run, 0 if unbounded.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// NumProcesses in the group.
func (c *Config) NumProcesses() int {
	if len(c.Addresses) > 0 {
		return len(c.Addresses)
	}
	return c.Processes
}

// OutputPath for the round, or "" if no output is configured.
func (c *Config) OutputPath(round int) string {
	if c.Output == "" {
		return ""
	}
	return strings.ReplaceAll(c.Output, "{round}", strconv.Itoa(round))
}

// Validate the configuration.
func (c *Config) Validate() error {
	if c.NumProcesses() < 1 {
		return errors.Errorf("invalid number of processes %d", c.NumProcesses())
	}
	if !slices.Contains([]string{ModeImage, ModeGeometry}, c.Mode) {
		return errors.Errorf("unknown mode %q, valid values are %q and %q", c.Mode, ModeImage, ModeGeometry)
	}
	if _, err := composite.ParseStrategy(c.Strategy); err != nil {
		return err
	}
	if !slices.Contains([]string{FilterContour, FilterThreshold, FilterSlice}, c.Filter) {
		return errors.Errorf("unknown filter %q", c.Filter)
	}
	if c.Mode == ModeGeometry && c.Filter == FilterThreshold {
		return errors.Errorf("mode %q requires a filter producing triangles, %q produces points", c.Mode, c.Filter)
	}
	if !slices.Contains([]string{"distance", "plane"}, c.Field.Kind) {
		return errors.Errorf("unknown field kind %q", c.Field.Kind)
	}
	if (c.Field.Kind == "plane" || c.Filter == FilterSlice) && c.Field.Normal == [3]float64{} {
		return errors.New("the field normal can't be zero")
	}
	if c.Whole().IsEmpty() {
		return errors.Errorf("empty whole extent %v", c.WholeExtent)
	}
	if c.GhostLevel < 0 {
		return errors.Errorf("invalid ghost level %d", c.GhostLevel)
	}
	if len(c.Values) == 0 {
		return errors.New("at least one value is required, one round is run per value")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Errorf("invalid image size %dx%d", c.Width, c.Height)
	}
	if c.OutputScale <= 0 {
		return errors.Errorf("invalid output scale %g", c.OutputScale)
	}
	return nil
}

// Settings returns the configuration values that can be overridden from the command line.
func (c *Config) Settings() *commandline.Settings {
	s := commandline.NewSettings()
	s.Set("processes", c.Processes)
	s.Set("device", c.Device)
	s.Set("mode", c.Mode)
	s.Set("strategy", c.Strategy)
	s.Set("filter", c.Filter)
	s.Set("field", c.Field.Kind)
	s.Set("ghost_level", c.GhostLevel)
	s.Set("values", slices.Clone(c.Values))
	s.Set("threshold_width", c.ThresholdWidth)
	s.Set("width", c.Width)
	s.Set("height", c.Height)
	s.Set("output", c.Output)
	s.Set("output_scale", c.OutputScale)
	s.Set("timeout_seconds", c.TimeoutSeconds)
	return s
}

// ApplySettings copies the values of s (see Settings) back to the configuration.
func (c *Config) ApplySettings(s *commandline.Settings) {
	c.Processes = commandline.GetOr(s, "processes", c.Processes)
	c.Device = commandline.GetOr(s, "device", c.Device)
	c.Mode = commandline.GetOr(s, "mode", c.Mode)
	c.Strategy = commandline.GetOr(s, "strategy", c.Strategy)
	c.Filter = commandline.GetOr(s, "filter", c.Filter)
	c.Field.Kind = commandline.GetOr(s, "field", c.Field.Kind)
	c.GhostLevel = commandline.GetOr(s, "ghost_level", c.GhostLevel)
	c.Values = commandline.GetOr(s, "values", c.Values)
	c.ThresholdWidth = commandline.GetOr(s, "threshold_width", c.ThresholdWidth)
	c.Width = commandline.GetOr(s, "width", c.Width)
	c.Height = commandline.GetOr(s, "height", c.Height)
	c.Output = commandline.GetOr(s, "output", c.Output)
	c.OutputScale = commandline.GetOr(s, "output_scale", c.OutputScale)
	c.TimeoutSeconds = commandline.GetOr(s, "timeout_seconds", c.TimeoutSeconds)
}
