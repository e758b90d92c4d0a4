// Command build-snapshot converts a boundary dataset into a snapshot
// that geophotos can load without re-parsing the source geometry.
//
// Usage:
//
//	go run ./cmd/build-snapshot -i data/world_borders.shp -o data/world_borders.snap
//
// The written snapshot is read back and compared against the dataset
// before the command reports success.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/andreiashu/geophotos"
	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"
)

type Options struct {
	Input         string        `short:"i" long:"input"  env:"GEOPHOTOS_BOUNDARIES"     description:"Boundary dataset to convert" required:"true"`
	Output        string        `short:"o" long:"output" env:"GEOPHOTOS_SNAPSHOT"       description:"Snapshot file to write" required:"true"`
	URL           string        `short:"u" long:"url"    env:"GEOPHOTOS_BOUNDARIES_URL" description:"Download the dataset from here when the input is missing"`
	NameAttribute string        `long:"name-attribute"   env:"GEOPHOTOS_NAME_ATTRIBUTE" description:"Feature attribute holding the country name" default:"NAME"`
	Timeout       time.Duration `long:"timeout"          description:"Download timeout" default:"5m"`
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

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := build(opts, logger); err != nil {
		logger.Fatal("snapshot build failed", zap.Error(err))
	}
	logger.Info("snapshot written", zap.String("path", opts.Output))
}

func build(opts Options, logger *zap.Logger) error {
	if _, err := os.Stat(opts.Input); errors.Is(err, fs.ErrNotExist) && opts.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
		defer cancel()
		logger.Info("downloading boundary dataset", zap.String("url", opts.URL))
		if err := geophotos.FetchDataset(ctx, opts.URL, opts.Input); err != nil {
			return err
		}
	}

	libOpts := []geophotos.Option{
		geophotos.WithLogger(logger),
		geophotos.WithNameAttribute(opts.NameAttribute),
	}
	idx, err := geophotos.LoadBoundaryIndex(opts.Input, libOpts...)
	if err != nil {
		return err
	}
	if err := geophotos.SaveSnapshot(opts.Output, idx, nil); err != nil {
		return err
	}
	return verify(opts.Output, idx, libOpts)
}

// verify reads the snapshot back and checks names and vertex counts.
func verify(path string, want *geophotos.BoundaryIndex, opts []geophotos.Option) error {
	snap, err := geophotos.LoadSnapshot(path, opts...)
	if err != nil {
		return fmt.Errorf("reading back snapshot: %w", err)
	}
	if snap.Index == nil {
		return fmt.Errorf("snapshot %s holds no index", path)
	}
	got, exp := snap.Index.Polygons(), want.Polygons()
	if len(got) != len(exp) {
		return fmt.Errorf("snapshot has %d features, dataset has %d", len(got), len(exp))
	}
	for i := range exp {
		if got[i].Name != exp[i].Name {
			return fmt.Errorf("feature %d: name %q, want %q", i, got[i].Name, exp[i].Name)
		}
		if vertices(got[i]) != vertices(exp[i]) {
			return fmt.Errorf("feature %d (%s): %d vertices, want %d", i, exp[i].Name, vertices(got[i]), vertices(exp[i]))
		}
	}
	fmt.Printf("%d features OK\n", len(exp))
	return nil
}

func vertices(p geophotos.BoundaryPolygon) int {
	n := 0
	for _, part := range p.Geometry {
		for _, ring := range part {
			n += len(ring)
		}
	}
	return n
}
