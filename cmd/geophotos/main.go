// Command geophotos reports which countries a set of geotagged photos
// were taken in.
//
// Usage:
//
//	geophotos -p 'photos/**/*.jpg' -b data/world_borders.geojson --top 5
//
// Settings may also come from a YAML file (-c), the environment or a
// .env file.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/andreiashu/geophotos"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Options are the command-line flags.
type Options struct {
	ConfigFile    string `short:"c" long:"config"         env:"GEOPHOTOS_CONFIG"         description:"Path to YAML configuration file"`
	EnvFile       string `long:"env-file"                 env:"GEOPHOTOS_ENV_FILE"       description:"Optional .env file" default:".env"`
	Photos        string `short:"p" long:"photos"         env:"GEOPHOTOS_PHOTOS"         description:"Glob of photos to process, ** matches directories"`
	Boundaries    string `short:"b" long:"boundaries"     env:"GEOPHOTOS_BOUNDARIES"     description:"Boundary dataset (.geojson, .shp, .zip, .gz, .bz2)"`
	BoundariesURL string `long:"boundaries-url"           env:"GEOPHOTOS_BOUNDARIES_URL" description:"Download the boundary dataset from here when missing"`
	Snapshot      string `short:"s" long:"snapshot"       env:"GEOPHOTOS_SNAPSHOT"       description:"Load the boundary index from a snapshot"`
	NameAttribute string `long:"name-attribute"           env:"GEOPHOTOS_NAME_ATTRIBUTE" description:"Feature attribute holding the country name"`
	Workers       int    `short:"w" long:"workers"        env:"GEOPHOTOS_WORKERS"        description:"Concurrent workers (default: GOMAXPROCS)"`
	Top           int    `short:"n" long:"top"            description:"Number of countries to rank"`
	IncludeNone   bool   `long:"include-none"             description:"Count photos outside every boundary"`
	HeatPrecision int    `long:"heat-precision"           description:"Print geohash heat cells of this precision (1-12)"`
	CSV           string `short:"o" long:"csv"            description:"Write timestamp,latitude,longitude rows here"`
	FilterAbsent  bool   `long:"filter-absent"            description:"Drop CSV rows missing a timestamp or position"`
	Map           string `short:"m" long:"map"            description:"Write a GeoJSON map here"`
	MetricsFile   string `long:"metrics-file"             env:"GEOPHOTOS_METRICS_FILE"   description:"Write Prometheus metrics in textfile format here"`
	LogLevel      string `long:"log-level"                env:"GEOPHOTOS_LOG_LEVEL"      description:"Log level" default:"info"`
	LogFormat     string `long:"log-format"               env:"GEOPHOTOS_LOG_FORMAT"     description:"Log format" choice:"json" choice:"console" default:"console"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err == nil {
			// Re-parse so values from the .env file reach env-tagged flags.
			opts = Options{}
			if _, err := flags.NewParser(&opts, flags.Default).Parse(); err != nil {
				os.Exit(1)
			}
		}
	}

	logger, err := newLogger(opts.LogLevel, opts.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	settings, err := loadSettings(opts.ConfigFile)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	settings.merge(&opts)
	settings.applyDefaults()
	if err := settings.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, logger); err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}
}

func run(ctx context.Context, s *Settings, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	metrics, err := geophotos.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	libOpts := []geophotos.Option{
		geophotos.WithLogger(logger),
		geophotos.WithMetrics(metrics),
		geophotos.WithWorkers(s.Workers),
		geophotos.WithNameAttribute(s.NameAttribute),
	}

	idx, err := openIndex(ctx, s, libOpts, logger)
	if err != nil {
		return err
	}

	paths, err := geophotos.FindPhotos(s.Photos)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		logger.Warn("no photos matched", zap.String("pattern", s.Photos))
	}

	ex := geophotos.NewExtractor(geophotos.NewExifReader(), libOpts...)
	res := ex.ExtractAll(ctx, paths, true)
	for _, f := range res.Failures {
		if errors.Is(f.Err, geophotos.ErrInvalidTimestamp) {
			logger.Info("photo has malformed timestamp", zap.String("path", f.Path), zap.Error(f.Err))
		}
	}

	located, err := idx.LocateAll(ctx, res.Coordinates(), 0)
	if err != nil {
		return err
	}
	agg := geophotos.NewAggregator(located)

	top, err := agg.MostCommon(s.Top, s.IncludeNone)
	if err != nil {
		return err
	}
	fmt.Printf("%d photos, %d countries\n", len(res.Photos), agg.CountCountries(s.IncludeNone))
	for i, e := range top {
		name := e.Country
		if name == geophotos.NoCountry {
			name = "(none)"
		}
		fmt.Printf("%3d. %-40s %d\n", i+1, name, e.Count)
	}

	if s.HeatPrecision > 0 {
		cells, err := agg.HeatCells(s.HeatPrecision)
		if err != nil {
			return err
		}
		for _, c := range cells {
			fmt.Printf("%s\t%d\n", c.Cell, c.Count)
		}
	}

	if s.Output.CSV != "" {
		if err := writeCSV(s.Output.CSV, geophotos.Rows(res.Photos, s.Output.FilterAbsent)); err != nil {
			return err
		}
		logger.Info("wrote csv", zap.String("path", s.Output.CSV))
	}

	if s.Output.Map != "" {
		if err := writeMap(s, idx, res.Coordinates(), agg); err != nil {
			return err
		}
		logger.Info("wrote map", zap.String("path", s.Output.Map))
	}

	if s.Output.Metrics != "" {
		if err := prometheus.WriteToTextfile(s.Output.Metrics, reg); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	return nil
}

// openIndex prefers a snapshot, then the dataset on disk, downloading it
// first when a URL is configured.
func openIndex(ctx context.Context, s *Settings, opts []geophotos.Option, logger *zap.Logger) (*geophotos.BoundaryIndex, error) {
	if s.Snapshot != "" {
		snap, err := geophotos.LoadSnapshot(s.Snapshot, opts...)
		switch {
		case err == nil && snap.Index != nil:
			logger.Info("loaded boundary snapshot", zap.String("path", s.Snapshot), zap.Int("features", snap.Index.Len()))
			return snap.Index, nil
		case err == nil:
			logger.Warn("snapshot holds no boundary index", zap.String("path", s.Snapshot))
		case errors.Is(err, geophotos.ErrCorruptSnapshot):
			logger.Warn("ignoring corrupt snapshot", zap.String("path", s.Snapshot), zap.Error(err))
		case !errors.Is(err, fs.ErrNotExist):
			return nil, err
		}
	}

	if s.BoundariesURL != "" {
		if _, err := os.Stat(s.Boundaries); errors.Is(err, fs.ErrNotExist) {
			logger.Info("downloading boundary dataset", zap.String("url", s.BoundariesURL))
			if err := geophotos.FetchDataset(ctx, s.BoundariesURL, s.Boundaries); err != nil {
				return nil, err
			}
		}
	}
	return geophotos.LoadBoundaryIndexOnce(s.Boundaries, opts...)
}

func writeCSV(path string, rows []geophotos.Row) error {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := geophotos.WriteCSV(fh, rows, true); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

func writeMap(s *Settings, idx *geophotos.BoundaryIndex, coords []geophotos.Coordinate, agg *geophotos.Aggregator) error {
	view := geophotos.NewMapView(idx, geophotos.NewGeoJSONRenderer())
	if err := view.AddHeat(coords, s.Heat); err != nil {
		return err
	}
	if err := view.AddCountryLayer(agg.UniqueCountries(false)...); err != nil {
		return err
	}

	fh, err := os.Create(s.Output.Map)
	if err != nil {
		return fmt.Errorf("creating %s: %w", s.Output.Map, err)
	}
	if err := view.Render(fh); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}
