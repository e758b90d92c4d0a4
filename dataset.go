package geophotos

import (
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
)

// LoadBoundaryIndex reads a boundary dataset and builds an index over its
// features in file order. Supported inputs, chosen by extension:
//
//	.geojson, .json   GeoJSON FeatureCollection of (Multi)Polygons
//	.gz, .bz2         compressed GeoJSON
//	.shp              ESRI shapefile with its .dbf alongside
//	.zip              archive holding one GeoJSON file or one shapefile set
//
// A missing or unreadable path yields ErrDatasetUnavailable. A feature
// without a name or polygonal geometry yields ErrCorruptDataset; no
// partial index is returned.
func LoadBoundaryIndex(path string, opts ...Option) (*BoundaryIndex, error) {
	cfg := newConfig(opts)
	start := time.Now()

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", path, err, ErrDatasetUnavailable)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: not a regular file: %w", path, ErrDatasetUnavailable)
	}

	var polygons []BoundaryPolygon
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".shp":
		polygons, err = readShapefile(path, cfg.NameAttribute)
	case ".zip":
		polygons, err = readZipDataset(path, cfg.NameAttribute)
	default:
		polygons, err = readGeoJSONFile(path, cfg.NameAttribute)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	idx, err := NewBoundaryIndex(polygons, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	elapsed := time.Since(start)
	cfg.Metrics.indexLoaded(idx.Len(), elapsed)
	cfg.Logger.Info("loaded boundary dataset",
		zap.String("path", path),
		zap.Int("features", idx.Len()),
		zap.Duration("elapsed", elapsed),
	)
	return idx, nil
}

// datasetFile marks read failures of the underlying file as
// ErrDatasetUnavailable so they stay distinct from format errors raised
// by the decompressors and parsers reading through it.
type datasetFile struct {
	*os.File
}

func (f datasetFile) Read(p []byte) (int, error) {
	n, err := f.File.Read(p)
	if err != nil && err != io.EOF {
		err = fmt.Errorf("%v: %w", err, ErrDatasetUnavailable)
	}
	return n, err
}

// readFailure classifies an error from reading a dataset stream.
func readFailure(what string, err error) error {
	if errors.Is(err, ErrDatasetUnavailable) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("%s: %v: %w", what, err, ErrCorruptDataset)
}

// openOptionallyCompressed opens path, transparently decompressing .gz
// and .bz2 files.
func openOptionallyCompressed(path string) (io.Reader, func() error, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%v: %w", err, ErrDatasetUnavailable)
	}
	src := datasetFile{fh}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		gz, err := gzip.NewReader(src)
		if err != nil {
			fh.Close()
			return nil, nil, readFailure("gzip", err)
		}
		return gz, func() error {
			gz.Close()
			return fh.Close()
		}, nil
	case ".bz2":
		return bzip2.NewReader(src), fh.Close, nil
	}
	return src, fh.Close, nil
}

func readGeoJSONFile(path, nameKey string) ([]BoundaryPolygon, error) {
	r, cleanup, err := openOptionallyCompressed(path)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, readFailure("reading", err)
	}
	return parseGeoJSON(data, nameKey)
}

func parseGeoJSON(data []byte, nameKey string) ([]BoundaryPolygon, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("geojson: %v: %w", err, ErrCorruptDataset)
	}

	polygons := make([]BoundaryPolygon, 0, len(fc.Features))
	for i, f := range fc.Features {
		name, _ := f.Properties[nameKey].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("feature %d: missing %s attribute: %w", i, nameKey, ErrCorruptDataset)
		}
		mp, err := toMultiPolygon(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d (%s): %w", i, name, err)
		}
		polygons = append(polygons, BoundaryPolygon{Name: name, Geometry: mp})
	}
	return polygons, nil
}

func toMultiPolygon(g orb.Geometry) (orb.MultiPolygon, error) {
	switch t := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{t}, nil
	case orb.MultiPolygon:
		return t, nil
	case nil:
		return nil, fmt.Errorf("null geometry: %w", ErrCorruptDataset)
	default:
		return nil, fmt.Errorf("unsupported geometry %s: %w", g.GeoJSONType(), ErrCorruptDataset)
	}
}

func readShapefile(path, nameKey string) ([]BoundaryPolygon, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("shapefile: %v: %w", err, ErrCorruptDataset)
	}
	defer r.Close()

	nameField := -1
	for i, f := range r.Fields() {
		if strings.EqualFold(f.String(), nameKey) {
			nameField = i
			break
		}
	}
	if nameField < 0 {
		return nil, fmt.Errorf("no %s attribute: %w", nameKey, ErrCorruptDataset)
	}

	var polygons []BoundaryPolygon
	for r.Next() {
		n, shape := r.Shape()
		name := strings.TrimSpace(strings.Trim(r.ReadAttribute(n, nameField), "\x00"))
		if name == "" {
			return nil, fmt.Errorf("feature %d: missing %s attribute: %w", n, nameKey, ErrCorruptDataset)
		}
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			return nil, fmt.Errorf("feature %d (%s): unsupported shape %T: %w", n, name, shape, ErrCorruptDataset)
		}
		polygons = append(polygons, BoundaryPolygon{Name: name, Geometry: shapeRings(poly)})
	}
	// Next stops silently on a short read, so compare against the record count.
	if len(polygons) != r.AttributeCount() {
		return nil, fmt.Errorf("read %d of %d features: %w", len(polygons), r.AttributeCount(), ErrCorruptDataset)
	}
	return polygons, nil
}

// shapeRings groups shapefile parts into polygons. Clockwise rings are
// outer rings. A counter-clockwise ring is a hole of the first outer ring
// that contains its first vertex; ring order in the file is not
// significant. A hole no outer ring contains falls back to the outer ring
// preceding it, or stands alone when there is none.
func shapeRings(p *shp.Polygon) orb.MultiPolygon {
	type hole struct {
		ring orb.Ring
		prev int
	}
	var (
		mp    orb.MultiPolygon
		holes []hole
	)
	for i := range p.Parts {
		start := int(p.Parts[i])
		end := len(p.Points)
		if i+1 < len(p.Parts) {
			end = int(p.Parts[i+1])
		}
		if start < 0 || start > end || end > len(p.Points) {
			continue
		}
		ring := make(orb.Ring, 0, end-start)
		for _, pt := range p.Points[start:end] {
			ring = append(ring, orb.Point{pt.X, pt.Y})
		}
		if ring.Orientation() == orb.CCW {
			holes = append(holes, hole{ring: ring, prev: len(mp) - 1})
			continue
		}
		mp = append(mp, orb.Polygon{ring})
	}

	outers := len(mp)
	for _, h := range holes {
		owner := h.prev
		if len(h.ring) > 0 {
			for j := 0; j < outers; j++ {
				if ringContains(mp[j][0], h.ring[0][0], h.ring[0][1]) {
					owner = j
					break
				}
			}
		}
		if owner < 0 {
			mp = append(mp, orb.Polygon{h.ring})
			continue
		}
		mp[owner] = append(mp[owner], h.ring)
	}
	return mp
}

var shapefileSidecars = []string{".shp", ".shx", ".dbf"}

func readZipDataset(path, nameKey string) ([]BoundaryPolygon, error) {
	rz, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("zip: %v: %w", err, ErrCorruptDataset)
	}
	defer rz.Close()

	var shpEntries = make(map[string]*zip.File)
	var jsonEntry *zip.File
	for _, f := range rz.File {
		ext := strings.ToLower(filepath.Ext(f.Name))
		switch ext {
		case ".geojson", ".json":
			if jsonEntry == nil {
				jsonEntry = f
			}
		case ".shp", ".shx", ".dbf":
			shpEntries[ext] = f
		}
	}

	if jsonEntry != nil {
		data, err := readZipEntry(jsonEntry)
		if err != nil {
			return nil, err
		}
		return parseGeoJSON(data, nameKey)
	}
	if _, ok := shpEntries[".shp"]; ok {
		return readZippedShapefile(shpEntries, nameKey)
	}
	return nil, fmt.Errorf("zip holds no GeoJSON or shapefile: %w", ErrCorruptDataset)
}

// readZipEntry reads one archive member into memory. Entries are never
// written to disk under their archive names.
func readZipEntry(f *zip.File) ([]byte, error) {
	fi, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s in zip: %v: %w", f.Name, err, ErrCorruptDataset)
	}
	defer fi.Close()
	data, err := io.ReadAll(fi)
	if err != nil {
		return nil, fmt.Errorf("reading %s in zip: %v: %w", f.Name, err, ErrCorruptDataset)
	}
	return data, nil
}

// readZippedShapefile copies the shapefile members into a temporary
// directory under fixed names, since the shapefile reader needs paths.
func readZippedShapefile(entries map[string]*zip.File, nameKey string) ([]BoundaryPolygon, error) {
	dir, err := os.MkdirTemp("", "geophotos-shp-")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	for _, ext := range shapefileSidecars {
		f, ok := entries[ext]
		if !ok {
			continue
		}
		data, err := readZipEntry(f)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(dir, "boundaries"+ext), data, 0600); err != nil {
			return nil, fmt.Errorf("extracting %s: %w", f.Name, err)
		}
	}
	return readShapefile(filepath.Join(dir, "boundaries.shp"), nameKey)
}

var httpClient = &http.Client{Timeout: 5 * time.Minute}

// FetchDataset downloads a boundary dataset from url and installs it at
// dest. The body is staged in a temporary file next to dest and renamed
// into place once complete, so dest is either absent or whole. A non-200
// response yields ErrDatasetUnavailable.
func FetchDataset(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %s: %s: %w", url, resp.Status, ErrDatasetUnavailable)
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return err
	}
	staged := tmp.Name()
	defer os.Remove(staged)

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("fetching %s: after %d bytes: %w", url, n, err)
	}
	if err := os.Chmod(staged, 0644); err != nil {
		return err
	}
	return os.Rename(staged, dest)
}
