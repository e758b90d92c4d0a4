package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/andreiashu/geophotos"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Settings is the run configuration. It is read from an optional YAML
// file and then overridden by command-line flags and environment.
type Settings struct {
	Photos        string         `yaml:"photos"`
	Boundaries    string         `yaml:"boundaries"`
	BoundariesURL string         `yaml:"boundaries_url,omitempty"`
	Snapshot      string         `yaml:"snapshot,omitempty"`
	NameAttribute string         `yaml:"name_attribute,omitempty"`
	Workers       int            `yaml:"workers,omitempty"`
	Top           int            `yaml:"top,omitempty"`
	IncludeNone   bool           `yaml:"include_none,omitempty"`
	HeatPrecision int            `yaml:"heat_precision,omitempty"`
	Heat          map[string]any `yaml:"heat,omitempty"`
	Output        Output         `yaml:"output"`
}

// Output lists the files a run writes. Empty paths are skipped.
type Output struct {
	CSV          string `yaml:"csv,omitempty"`
	FilterAbsent bool   `yaml:"filter_absent,omitempty"`
	Map          string `yaml:"map,omitempty"`
	Metrics      string `yaml:"metrics,omitempty"`
}

// loadSettings reads the YAML file at path. An empty path yields zero
// Settings.
func loadSettings(path string) (*Settings, error) {
	var s Settings
	if path == "" {
		return &s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &s, nil
}

// merge overlays non-zero flag values on s.
func (s *Settings) merge(o *Options) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&s.Photos, o.Photos)
	set(&s.Boundaries, o.Boundaries)
	set(&s.BoundariesURL, o.BoundariesURL)
	set(&s.Snapshot, o.Snapshot)
	set(&s.NameAttribute, o.NameAttribute)
	set(&s.Output.CSV, o.CSV)
	set(&s.Output.Map, o.Map)
	set(&s.Output.Metrics, o.MetricsFile)
	if o.Workers > 0 {
		s.Workers = o.Workers
	}
	if o.Top > 0 {
		s.Top = o.Top
	}
	if o.HeatPrecision > 0 {
		s.HeatPrecision = o.HeatPrecision
	}
	s.IncludeNone = s.IncludeNone || o.IncludeNone
	s.Output.FilterAbsent = s.Output.FilterAbsent || o.FilterAbsent
}

func (s *Settings) applyDefaults() {
	if s.Boundaries == "" {
		s.Boundaries = "data/world_borders.geojson"
	}
	if s.NameAttribute == "" {
		s.NameAttribute = geophotos.DefaultNameAttribute
	}
	if s.Top == 0 {
		s.Top = 10
	}
}

// Validate reports every problem with s at once.
func (s *Settings) Validate() error {
	var errs []string

	if s.Photos == "" {
		errs = append(errs, "photos pattern is required")
	}
	if s.Workers < 0 {
		errs = append(errs, fmt.Sprintf("workers must not be negative, got %d", s.Workers))
	}
	if s.Top < 0 {
		errs = append(errs, fmt.Sprintf("top must not be negative, got %d", s.Top))
	}
	if s.HeatPrecision < 0 || s.HeatPrecision > 12 {
		errs = append(errs, fmt.Sprintf("heat_precision must be 0-12, got %d", s.HeatPrecision))
	}
	if err := geophotos.HeatOptions(s.Heat).Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// newLogger builds a zap logger. format is "json" or "console".
func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = lvl
	return cfg.Build()
}
