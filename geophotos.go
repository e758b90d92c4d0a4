// Package geophotos turns geotagged photographs into country statistics.
//
// GPS coordinates are pulled out of EXIF metadata, resolved against an
// in-memory index of national boundary polygons and reduced into
// frequency tables:
//
//	idx, err := geophotos.LoadBoundaryIndex("data/world_borders.geojson")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ex := geophotos.NewExtractor(geophotos.NewExifReader())
//	res := ex.ExtractAll(ctx, paths, true)
//	located, err := idx.LocateAll(ctx, res.Coordinates(), 0)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	top, _ := geophotos.NewAggregator(located).MostCommon(5, false)
//
// A loaded BoundaryIndex is immutable and safe for concurrent use.
package geophotos

import (
	"errors"
	"runtime"

	"go.uber.org/zap"
)

var (
	// ErrFileNotFound is reported per photo when the file does not exist.
	ErrFileNotFound = errors.New("geophotos: file not found")
	// ErrUnreadableImage is reported per photo when the file cannot be decoded.
	ErrUnreadableImage = errors.New("geophotos: unreadable image")
	// ErrInvalidTimestamp marks a date-time tag that is not "YYYY:MM:DD HH:MM:SS".
	// It never invalidates the coordinate extracted from the same photo.
	ErrInvalidTimestamp = errors.New("geophotos: invalid timestamp")
	// ErrInvalidRational marks a GPS rational with a zero denominator.
	ErrInvalidRational = errors.New("geophotos: invalid rational")
	// ErrDatasetUnavailable is returned when a boundary dataset cannot be opened.
	ErrDatasetUnavailable = errors.New("geophotos: boundary dataset unavailable")
	// ErrCorruptDataset is returned when a feature lacks a name or usable geometry.
	// No partial index is ever produced.
	ErrCorruptDataset = errors.New("geophotos: corrupt boundary dataset")
	// ErrCorruptSnapshot is returned when a snapshot fails validation.
	ErrCorruptSnapshot = errors.New("geophotos: corrupt snapshot")
	// ErrInvalidArgument reports a caller error such as a negative count.
	ErrInvalidArgument = errors.New("geophotos: invalid argument")
	// ErrCapabilityUnavailable is returned when an optional component is missing.
	ErrCapabilityUnavailable = errors.New("geophotos: capability unavailable")
)

// DefaultNameAttribute is the feature attribute holding a country name.
const DefaultNameAttribute = "NAME"

// Config contains options shared by the extractor and the boundary index.
type Config struct {
	Logger        *zap.Logger
	Metrics       *Metrics
	Workers       int    // fan-out limit for batch operations (default: GOMAXPROCS)
	NameAttribute string // feature attribute holding the country name (default: "NAME")
}

// Option is a functional option for configuring extractors and indexes.
type Option func(*Config)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithWorkers sets the number of concurrent workers for batch operations.
func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

// WithNameAttribute sets the feature attribute holding the country name.
func WithNameAttribute(key string) Option {
	return func(c *Config) {
		c.NameAttribute = key
	}
}

func defaultConfig() *Config {
	return &Config{
		Logger:        zap.NewNop(),
		Workers:       runtime.GOMAXPROCS(0),
		NameAttribute: DefaultNameAttribute,
	}
}

func newConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.NameAttribute == "" {
		cfg.NameAttribute = DefaultNameAttribute
	}
	return cfg
}
