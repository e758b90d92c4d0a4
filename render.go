package geophotos

import (
	"fmt"
	"io"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// heatOptionKeys are the heat layer options a Renderer may honour.
var heatOptionKeys = map[string]bool{
	"name":        true,
	"min_opacity": true,
	"max_zoom":    true,
	"max_val":     true,
	"radius":      true,
	"blur":        true,
	"gradient":    true,
	"overlay":     true,
	"control":     true,
	"show":        true,
}

// HeatOptions configures a heat layer, e.g. {"radius": 25, "blur": 15}.
type HeatOptions map[string]any

// Validate rejects keys outside the supported set.
func (o HeatOptions) Validate() error {
	var bad []string
	for k := range o {
		if !heatOptionKeys[k] {
			bad = append(bad, k)
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return fmt.Errorf("unknown heat options %q: %w", bad, ErrInvalidArgument)
	}
	return nil
}

// HeatLayer is a set of points drawn as a heat map.
type HeatLayer struct {
	Points  []Coordinate // present coordinates only
	Options HeatOptions
}

// Marker is a single labelled point.
type Marker struct {
	Coordinate Coordinate
	Popup      string
	Tooltip    string
}

// MapLayers is everything a MapView hands to its Renderer.
type MapLayers struct {
	Heat      []HeatLayer
	Markers   []Marker
	Countries []BoundaryPolygon
}

// Renderer draws map layers to w.
type Renderer interface {
	Render(w io.Writer, layers MapLayers) error
}

// MapView collects map layers and delegates drawing to an optional
// Renderer. Country layers need a BoundaryIndex. A MapView is not safe
// for concurrent use.
type MapView struct {
	renderer Renderer
	index    *BoundaryIndex
	layers   MapLayers
}

// NewMapView returns a MapView. Either argument may be nil; the
// operations that need it then fail with ErrCapabilityUnavailable.
func NewMapView(idx *BoundaryIndex, r Renderer) *MapView {
	return &MapView{renderer: r, index: idx}
}

// AddHeat adds a heat layer over the present coordinates of coords.
func (m *MapView) AddHeat(coords []Coordinate, opts HeatOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	layer := HeatLayer{Options: make(HeatOptions, len(opts))}
	for k, v := range opts {
		layer.Options[k] = v
	}
	for _, c := range coords {
		if c.Present() {
			layer.Points = append(layer.Points, c)
		}
	}
	m.layers.Heat = append(m.layers.Heat, layer)
	return nil
}

// AddMarker adds a marker at c, which must be present.
func (m *MapView) AddMarker(c Coordinate, popup, tooltip string) error {
	if !c.Present() {
		return fmt.Errorf("marker without position: %w", ErrInvalidArgument)
	}
	m.layers.Markers = append(m.layers.Markers, Marker{Coordinate: c, Popup: popup, Tooltip: tooltip})
	return nil
}

// AddCountryLayer highlights the named countries, including every feature
// of a country split over several. Names are matched case-insensitively
// with a small typo tolerance.
func (m *MapView) AddCountryLayer(names ...string) error {
	if m.index == nil {
		return fmt.Errorf("country layer needs a boundary index: %w", ErrCapabilityUnavailable)
	}
	polygons := make([]BoundaryPolygon, 0, len(names))
	for _, name := range names {
		matches := m.index.LookupAll(name, maxFuzzyDistance)
		if len(matches) == 0 {
			return fmt.Errorf("unknown country %q: %w", name, ErrInvalidArgument)
		}
		polygons = append(polygons, matches...)
	}
	m.layers.Countries = append(m.layers.Countries, polygons...)
	return nil
}

// Layers returns the layers added so far.
func (m *MapView) Layers() MapLayers { return m.layers }

// Render draws the map with the configured Renderer.
func (m *MapView) Render(w io.Writer) error {
	if m.renderer == nil {
		return fmt.Errorf("no map renderer configured: %w", ErrCapabilityUnavailable)
	}
	return m.renderer.Render(w, m.layers)
}

// GeoJSONRenderer writes map layers as one GeoJSON FeatureCollection.
// Each feature carries a "layer" property: "heat", "marker" or "country".
type GeoJSONRenderer struct{}

// NewGeoJSONRenderer returns a Renderer producing GeoJSON.
func NewGeoJSONRenderer() *GeoJSONRenderer { return &GeoJSONRenderer{} }

// Render implements Renderer.
func (GeoJSONRenderer) Render(w io.Writer, layers MapLayers) error {
	fc := geojson.NewFeatureCollection()

	for _, h := range layers.Heat {
		mp := make(orb.MultiPoint, 0, len(h.Points))
		for _, c := range h.Points {
			lat, lon, _ := c.LatLon()
			mp = append(mp, orb.Point{lon, lat})
		}
		f := geojson.NewFeature(mp)
		for k, v := range h.Options {
			f.Properties[k] = v
		}
		f.Properties["layer"] = "heat"
		fc.Append(f)
	}

	for _, mk := range layers.Markers {
		lat, lon, _ := mk.Coordinate.LatLon()
		f := geojson.NewFeature(orb.Point{lon, lat})
		f.Properties["layer"] = "marker"
		if mk.Popup != "" {
			f.Properties["popup"] = mk.Popup
		}
		if mk.Tooltip != "" {
			f.Properties["tooltip"] = mk.Tooltip
		}
		if ts, ok := mk.Coordinate.Timestamp(); ok {
			f.Properties["timestamp"] = ts.UTC().Format(timestampLayout)
		}
		fc.Append(f)
	}

	for _, p := range layers.Countries {
		f := geojson.NewFeature(p.Geometry)
		f.Properties["layer"] = "country"
		f.Properties["name"] = p.Name
		fc.Append(f)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding geojson: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing geojson: %w", err)
	}
	return nil
}
