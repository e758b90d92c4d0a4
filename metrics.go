package geophotos

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by extractors and
// boundary indexes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	PhotosTotal    *prometheus.CounterVec
	LookupsTotal   *prometheus.CounterVec
	LocateDuration prometheus.Histogram
	IndexPolygons  prometheus.Gauge
	IndexLoadTime  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		PhotosTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geophotos_photos_total",
			Help: "Photos processed by outcome",
		}, []string{"result"}),
		LookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geophotos_lookups_total",
			Help: "Reverse geolocation lookups by outcome",
		}, []string{"result"}),
		LocateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "geophotos_locate_duration_seconds",
			Help:    "Point-in-polygon lookup duration",
			Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		IndexPolygons: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geophotos_index_polygons",
			Help: "Boundary features held by the most recently loaded index",
		}),
		IndexLoadTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geophotos_index_load_seconds",
			Help: "Duration of the most recent boundary dataset load",
		}),
	}
	for _, c := range []prometheus.Collector{m.PhotosTotal, m.LookupsTotal, m.LocateDuration, m.IndexPolygons, m.IndexLoadTime} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) photo(result string) {
	if m == nil {
		return
	}
	m.PhotosTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) lookup(found bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	if found {
		result = "hit"
	}
	m.LookupsTotal.WithLabelValues(result).Inc()
	m.LocateDuration.Observe(d.Seconds())
}

func (m *Metrics) indexLoaded(polygons int, d time.Duration) {
	if m == nil {
		return
	}
	m.IndexPolygons.Set(float64(polygons))
	m.IndexLoadTime.Set(d.Seconds())
}
