package geophotos

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/golang/geo/r2"
	"github.com/paulmach/orb"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NoCountry is the country of a coordinate that no polygon contains,
// and of an absent coordinate. Dataset names are never empty.
const NoCountry = ""

// maxFuzzyDistance caps the edit distance accepted by Lookup.
const maxFuzzyDistance = 3

// BoundaryPolygon is one named feature of a boundary dataset. Each part of
// Geometry is an ordered ring list: the first ring is the outer boundary,
// the rest are holes. Coordinates are (longitude, latitude).
type BoundaryPolygon struct {
	Name     string
	Geometry orb.MultiPolygon

	bounds []r2.Rect // planar bounding box of each part's outer ring
}

func (p *BoundaryPolygon) computeBounds() {
	p.bounds = make([]r2.Rect, len(p.Geometry))
	for i, part := range p.Geometry {
		outer := part[0]
		pts := make([]r2.Point, len(outer))
		for j, pt := range outer {
			pts[j] = r2.Point{X: pt[0], Y: pt[1]}
		}
		p.bounds[i] = r2.RectFromPoints(pts...)
	}
}

// Contains reports whether (lon, lat) lies in any part of the polygon:
// inside the part's outer ring and outside all of its holes.
func (p *BoundaryPolygon) Contains(lon, lat float64) bool {
	pt := r2.Point{X: lon, Y: lat}
	for i, part := range p.Geometry {
		if p.bounds != nil && !p.bounds[i].ContainsPoint(pt) {
			continue
		}
		if polygonContains(part, lon, lat) {
			return true
		}
	}
	return false
}

// polygonContains applies the outer-ring/holes rule to one part.
func polygonContains(poly orb.Polygon, lon, lat float64) bool {
	if len(poly) == 0 || !ringContains(poly[0], lon, lat) {
		return false
	}
	for _, hole := range poly[1:] {
		if ringContains(hole, lon, lat) {
			return false
		}
	}
	return true
}

// ringContains is an even-odd ray cast towards +x in planar lon/lat.
// Points exactly on an edge may land on either side; the first-match
// rule in Locate keeps the outcome deterministic.
func ringContains(ring orb.Ring, x, y float64) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// BoundaryIndex is an ordered, immutable collection of boundary polygons.
// Index order is the dataset's feature order and decides which polygon
// wins when several contain a point. Safe for concurrent use.
type BoundaryIndex struct {
	polygons []BoundaryPolygon
	byName   map[string]int // lowercase name -> first index
	config   *Config
}

// NewBoundaryIndex validates polygons and builds an index over them in the
// given order. Any invalid polygon fails the whole build with
// ErrCorruptDataset.
func NewBoundaryIndex(polygons []BoundaryPolygon, opts ...Option) (*BoundaryIndex, error) {
	idx := &BoundaryIndex{
		polygons: make([]BoundaryPolygon, len(polygons)),
		byName:   make(map[string]int, len(polygons)),
		config:   newConfig(opts),
	}
	for i, p := range polygons {
		if err := validatePolygon(p); err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		p.computeBounds()
		idx.polygons[i] = p
		key := toLower(p.Name)
		if _, ok := idx.byName[key]; !ok {
			idx.byName[key] = i
		}
	}
	return idx, nil
}

func validatePolygon(p BoundaryPolygon) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("missing name: %w", ErrCorruptDataset)
	}
	if len(p.Geometry) == 0 {
		return fmt.Errorf("%q: empty geometry: %w", p.Name, ErrCorruptDataset)
	}
	for pi, part := range p.Geometry {
		if len(part) == 0 {
			return fmt.Errorf("%q part %d: no rings: %w", p.Name, pi, ErrCorruptDataset)
		}
		for ri, ring := range part {
			if err := validateRing(ring); err != nil {
				return fmt.Errorf("%q part %d ring %d: %v: %w", p.Name, pi, ri, err, ErrCorruptDataset)
			}
		}
	}
	return nil
}

func validateRing(ring orb.Ring) error {
	for _, pt := range ring {
		if math.IsNaN(pt[0]) || math.IsNaN(pt[1]) || math.IsInf(pt[0], 0) || math.IsInf(pt[1], 0) {
			return fmt.Errorf("non-finite vertex %v", pt)
		}
	}
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		n--
	}
	if n < 3 {
		return fmt.Errorf("%d vertices", n)
	}
	return nil
}

// Len returns the number of polygons.
func (idx *BoundaryIndex) Len() int { return len(idx.polygons) }

// Polygons returns the polygons in index order. The geometry is shared
// with the index and must not be modified.
func (idx *BoundaryIndex) Polygons() []BoundaryPolygon {
	return slices.Clone(idx.polygons)
}

// Names returns polygon names in index order. Names may repeat when a
// dataset splits a country over several features.
func (idx *BoundaryIndex) Names() []string {
	names := make([]string, len(idx.polygons))
	for i, p := range idx.polygons {
		names[i] = p.Name
	}
	return names
}

// Lookup finds a polygon by name, case-insensitively. With maxDist > 0 the
// closest name within that Levenshtein distance is accepted; ties go to
// the earlier polygon.
func (idx *BoundaryIndex) Lookup(name string, maxDist int) (BoundaryPolygon, bool) {
	key, ok := idx.matchName(name, maxDist)
	if !ok {
		return BoundaryPolygon{}, false
	}
	return idx.polygons[idx.byName[key]], true
}

// LookupAll is like Lookup but returns every polygon carrying the matched
// name, in index order.
func (idx *BoundaryIndex) LookupAll(name string, maxDist int) []BoundaryPolygon {
	key, ok := idx.matchName(name, maxDist)
	if !ok {
		return nil
	}
	var out []BoundaryPolygon
	for _, p := range idx.polygons[idx.byName[key]:] {
		if toLower(p.Name) == key {
			out = append(out, p)
		}
	}
	return out
}

// matchName resolves name to the lowercase key of an indexed name.
func (idx *BoundaryIndex) matchName(name string, maxDist int) (string, bool) {
	key := toLower(strings.TrimSpace(name))
	if _, ok := idx.byName[key]; ok {
		return key, true
	}
	if maxDist <= 0 || key == "" {
		return "", false
	}
	if maxDist > maxFuzzyDistance {
		maxDist = maxFuzzyDistance
	}
	best, bestDist := "", maxDist+1
	for _, p := range idx.polygons {
		candidate := toLower(p.Name)
		if d := levenshtein.ComputeDistance(key, candidate); d < bestDist {
			best, bestDist = candidate, d
		}
	}
	return best, best != ""
}

// Locate returns the name of the first polygon, in index order, that
// contains c. Absent coordinates and unmapped positions (open sea,
// unlisted territory) return NoCountry and false.
func (idx *BoundaryIndex) Locate(c Coordinate) (string, bool) {
	lat, lon, ok := c.LatLon()
	if !ok {
		return NoCountry, false
	}
	return idx.Country(lat, lon)
}

// Country is Locate for a bare latitude/longitude pair.
func (idx *BoundaryIndex) Country(lat, lon float64) (string, bool) {
	start := time.Now()
	for i := range idx.polygons {
		if idx.polygons[i].Contains(lon, lat) {
			idx.config.Metrics.lookup(true, time.Since(start))
			return idx.polygons[i].Name, true
		}
	}
	idx.config.Metrics.lookup(false, time.Since(start))
	return NoCountry, false
}

// CountryAssignment is the outcome of locating one coordinate.
type CountryAssignment struct {
	Coordinate Coordinate
	Country    string // NoCountry when unmapped or absent
}

// LocateAll locates every coordinate with a bounded number of workers
// (the index's configured worker count when workers <= 0). The result
// has the same order as coords. The only error is ctx.Err().
func (idx *BoundaryIndex) LocateAll(ctx context.Context, coords []Coordinate, workers int) ([]CountryAssignment, error) {
	if workers <= 0 {
		workers = idx.config.Workers
	}
	out := make([]CountryAssignment, len(coords))
	if len(coords) == 0 {
		return out, nil
	}
	chunk := (len(coords) + workers - 1) / workers

	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(coords); start += chunk {
		end := min(start+chunk, len(coords))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if i%256 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				name, _ := idx.Locate(coords[i])
				out[i] = CountryAssignment{Coordinate: coords[i], Country: name}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	idx.config.Logger.Debug("located coordinates", zap.Int("coordinates", len(coords)), zap.Int("workers", workers))
	return out, nil
}

// Process-wide registry backing LoadBoundaryIndexOnce.
var (
	indexRegistryMu sync.Mutex
	indexRegistry   = make(map[string]func() (*BoundaryIndex, error))
)

// LoadBoundaryIndexOnce loads the dataset at path at most once per process
// and shares the result (including a load error) with every later caller.
// Options of the first call win.
func LoadBoundaryIndexOnce(path string, opts ...Option) (*BoundaryIndex, error) {
	key := filepath.Clean(path)
	if abs, err := filepath.Abs(key); err == nil {
		key = abs
	}

	indexRegistryMu.Lock()
	load, ok := indexRegistry[key]
	if !ok {
		load = sync.OnceValues(func() (*BoundaryIndex, error) {
			return LoadBoundaryIndex(path, opts...)
		})
		indexRegistry[key] = load
	}
	indexRegistryMu.Unlock()

	return load()
}

// toLower is strings.ToLower; boundary names are UTF-8 ("Côte d'Ivoire")
// so byte-level folding is not an option.
func toLower(s string) string {
	return strings.ToLower(s)
}
