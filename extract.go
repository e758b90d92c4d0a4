package geophotos

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PhotoCoordinate pairs a photo path with its extracted coordinate.
type PhotoCoordinate struct {
	Path       string
	Coordinate Coordinate
}

// PhotoFailure records a per-photo failure. Failures never abort a batch.
type PhotoFailure struct {
	Path string
	Err  error
}

func (f PhotoFailure) Error() string { return f.Path + ": " + f.Err.Error() }

func (f PhotoFailure) Unwrap() error { return f.Err }

// ExtractResult is the outcome of ExtractAll. A photo whose timestamp is
// malformed appears in both Photos and Failures; a photo that could not
// be read appears only in Failures.
type ExtractResult struct {
	Photos   []PhotoCoordinate
	Failures []PhotoFailure
}

// Coordinates returns the coordinates of r.Photos in order.
func (r ExtractResult) Coordinates() []Coordinate {
	out := make([]Coordinate, len(r.Photos))
	for i, p := range r.Photos {
		out[i] = p.Coordinate
	}
	return out
}

// Extractor pulls coordinates out of photos in parallel.
// Safe for concurrent use.
type Extractor struct {
	reader MetadataReader
	config *Config
}

// NewExtractor returns an Extractor reading metadata through reader.
func NewExtractor(reader MetadataReader, opts ...Option) *Extractor {
	return &Extractor{reader: reader, config: newConfig(opts)}
}

// Extract reads and converts a single photo.
func (e *Extractor) Extract(path string) (Coordinate, error) {
	md, err := e.reader.ReadMetadata(path)
	if err != nil {
		return AbsentCoordinate(), err
	}
	return extract(md, e.config.Logger.With(zap.String("path", path)))
}

type extractOutcome struct {
	coord   Coordinate
	err     error
	skipped bool
}

// ExtractAll processes every path independently. The returned photos keep
// input order unless sortByTime is set, in which case they are stably
// ordered by timestamp, then coordinate. Cancelling ctx stops scheduling
// new work; unprocessed photos are reported as failures with ctx.Err().
func (e *Extractor) ExtractAll(ctx context.Context, paths []string, sortByTime bool) ExtractResult {
	outcomes := make([]extractOutcome, len(paths))
	for i := range outcomes {
		outcomes[i].skipped = true
	}

	g := new(errgroup.Group)
	g.SetLimit(e.config.Workers)
	for i, p := range paths {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			c, err := e.Extract(p)
			outcomes[i] = extractOutcome{coord: c, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var res ExtractResult
	for i, o := range outcomes {
		path := paths[i]
		switch {
		case o.skipped:
			res.Failures = append(res.Failures, PhotoFailure{Path: path, Err: ctx.Err()})
			e.config.Metrics.photo("skipped")
		case o.err == nil:
			res.Photos = append(res.Photos, PhotoCoordinate{Path: path, Coordinate: o.coord})
			e.config.Metrics.photo(photoResult(o.coord))
		case errors.Is(o.err, ErrInvalidTimestamp):
			res.Photos = append(res.Photos, PhotoCoordinate{Path: path, Coordinate: o.coord})
			res.Failures = append(res.Failures, PhotoFailure{Path: path, Err: o.err})
			e.config.Metrics.photo("invalid_timestamp")
		default:
			res.Failures = append(res.Failures, PhotoFailure{Path: path, Err: o.err})
			e.config.Metrics.photo("unreadable")
			e.config.Logger.Warn("photo extraction failed", zap.String("path", path), zap.Error(o.err))
		}
	}
	if sortByTime {
		SortPhotos(res.Photos)
	}

	e.config.Logger.Info("extracted photo coordinates",
		zap.Int("photos", len(paths)),
		zap.Int("extracted", len(res.Photos)),
		zap.Int("failures", len(res.Failures)),
	)
	return res
}

func photoResult(c Coordinate) string {
	if c.Present() {
		return "located"
	}
	return "no_gps"
}

// SortPhotos orders photos by timestamp, then latitude, then longitude.
// Absent timestamps and absent coordinates sort last; ties keep input order.
func SortPhotos(photos []PhotoCoordinate) {
	sort.SliceStable(photos, func(i, j int) bool {
		return lessCoordinate(photos[i].Coordinate, photos[j].Coordinate)
	})
}

func lessCoordinate(a, b Coordinate) bool {
	ta, oka := a.Timestamp()
	tb, okb := b.Timestamp()
	if oka != okb {
		return oka
	}
	if oka && !ta.Equal(tb) {
		return ta.Before(tb)
	}
	if a.present != b.present {
		return a.present
	}
	if a.lat != b.lat {
		return a.lat < b.lat
	}
	return a.lon < b.lon
}
