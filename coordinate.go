package geophotos

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang/geo/s2"
	"go.uber.org/zap"
)

// EXIF tag names consumed by the extractor.
const (
	TagDateTime        = "DateTime"
	TagGPSLatitude     = "GPSLatitude"
	TagGPSLatitudeRef  = "GPSLatitudeRef"
	TagGPSLongitude    = "GPSLongitude"
	TagGPSLongitudeRef = "GPSLongitudeRef"
)

// timestampLayout is the EXIF date-time form after the date colons
// have been rewritten to dashes.
const timestampLayout = "2006-01-02 15:04:05"

// Rational is an EXIF unsigned rational kept as numerator/denominator.
type Rational struct {
	Num int64
	Den int64
}

// Float returns Num/Den.
func (r Rational) Float() (float64, error) {
	if r.Den == 0 {
		return 0, fmt.Errorf("%d/0: %w", r.Num, ErrInvalidRational)
	}
	return float64(r.Num) / float64(r.Den), nil
}

// GPSRational is a degrees/minutes/seconds triple plus hemisphere reference.
type GPSRational struct {
	Degrees Rational
	Minutes Rational
	Seconds Rational
	Ref     string // "N"/"S" or "E"/"W"
}

// Magnitude returns degrees + minutes/60 + seconds/3600, ignoring Ref.
func (g GPSRational) Magnitude() (float64, error) {
	d, err := g.Degrees.Float()
	if err != nil {
		return 0, err
	}
	m, err := g.Minutes.Float()
	if err != nil {
		return 0, err
	}
	s, err := g.Seconds.Float()
	if err != nil {
		return 0, err
	}
	return d + m/60 + s/3600, nil
}

// Decimal returns the signed decimal-degree value. positive is the
// reference that keeps the sign ("N" for latitude, "E" for longitude);
// any other reference negates the magnitude.
func (g GPSRational) Decimal(positive string) (float64, error) {
	v, err := g.Magnitude()
	if err != nil {
		return 0, err
	}
	if g.Ref != positive {
		v = -v
	}
	return v, nil
}

// GPSInfo is the GPS sub-block of a photo's metadata keyed by EXIF tag name.
// Triples are [3]Rational or []Rational; references are strings.
type GPSInfo map[string]any

// Metadata is what a MetadataReader exposes for one photo.
// A nil GPS means the photo has no GPS block.
type Metadata struct {
	Tags map[string]string
	GPS  GPSInfo
}

// Coordinate is a decimal-degree position with an optional timestamp.
// Latitude and longitude are either both present or both absent.
type Coordinate struct {
	lat, lon float64
	present  bool
	ts       time.Time
	hasTS    bool
}

// NewCoordinate returns a present coordinate. Latitude must lie in
// [-90, 90] and longitude in [-180, 180].
func NewCoordinate(lat, lon float64) (Coordinate, error) {
	if !s2.LatLngFromDegrees(lat, lon).IsValid() {
		return Coordinate{}, fmt.Errorf("coordinate (%v, %v) out of range: %w", lat, lon, ErrInvalidArgument)
	}
	return Coordinate{lat: lat, lon: lon, present: true}, nil
}

// AbsentCoordinate returns the "no coordinate" value.
func AbsentCoordinate() Coordinate {
	return Coordinate{}
}

// Present reports whether latitude and longitude are set.
func (c Coordinate) Present() bool { return c.present }

// LatLon returns latitude, longitude and whether they are present.
func (c Coordinate) LatLon() (lat, lon float64, ok bool) {
	return c.lat, c.lon, c.present
}

// Timestamp returns the capture time, if known.
func (c Coordinate) Timestamp() (time.Time, bool) {
	return c.ts, c.hasTS
}

// WithTimestamp returns a copy of c carrying t.
func (c Coordinate) WithTimestamp(t time.Time) Coordinate {
	c.ts = t
	c.hasTS = true
	return c
}

// String formats the coordinate for logs.
func (c Coordinate) String() string {
	if !c.present {
		return "(none)"
	}
	return fmt.Sprintf("(%.6f, %.6f)", c.lat, c.lon)
}

// ParseTimestamp parses an EXIF date-time string ("2020:05:01 12:00:00").
// The result is in UTC since EXIF carries no zone.
func ParseTimestamp(s string) (time.Time, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("%q: %w", s, ErrInvalidTimestamp)
	}
	date := strings.ReplaceAll(parts[0], ":", "-")
	t, err := time.Parse(timestampLayout, date+" "+parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("%q: %w", s, ErrInvalidTimestamp)
	}
	return t, nil
}

// Extract converts one photo's metadata into a Coordinate.
//
// A missing GPS block, or any of the four required GPS fields missing,
// yields an absent coordinate and no error. The only error is
// ErrInvalidTimestamp, in which case the coordinate is still returned.
func Extract(md Metadata) (Coordinate, error) {
	return extract(md, zap.NewNop())
}

func extract(md Metadata, logger *zap.Logger) (Coordinate, error) {
	c := extractPosition(md.GPS, logger)

	raw, ok := md.Tags[TagDateTime]
	if !ok || strings.TrimSpace(raw) == "" {
		return c, nil
	}
	t, err := ParseTimestamp(raw)
	if err != nil {
		return c, err
	}
	return c.WithTimestamp(t), nil
}

func extractPosition(gps GPSInfo, logger *zap.Logger) Coordinate {
	if gps == nil {
		return AbsentCoordinate()
	}
	latRef := refValue(gps[TagGPSLatitudeRef])
	lonRef := refValue(gps[TagGPSLongitudeRef])
	latDMS, latOK := tripleValue(gps[TagGPSLatitude])
	lonDMS, lonOK := tripleValue(gps[TagGPSLongitude])
	if latRef == "" || lonRef == "" || !latOK || !lonOK {
		return AbsentCoordinate()
	}

	lat, err := GPSRational{Degrees: latDMS[0], Minutes: latDMS[1], Seconds: latDMS[2], Ref: latRef}.Decimal("N")
	if err != nil {
		logger.Debug("malformed GPS latitude", zap.Error(err))
		return AbsentCoordinate()
	}
	lon, err := GPSRational{Degrees: lonDMS[0], Minutes: lonDMS[1], Seconds: lonDMS[2], Ref: lonRef}.Decimal("E")
	if err != nil {
		logger.Debug("malformed GPS longitude", zap.Error(err))
		return AbsentCoordinate()
	}
	c, err := NewCoordinate(lat, lon)
	if err != nil {
		logger.Debug("GPS position out of range", zap.Error(err))
		return AbsentCoordinate()
	}
	return c
}

func refValue(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimRight(s, "\x00 ")
}

func tripleValue(v any) ([3]Rational, bool) {
	switch t := v.(type) {
	case [3]Rational:
		return t, true
	case []Rational:
		if len(t) == 3 {
			return [3]Rational{t[0], t[1], t[2]}, true
		}
	}
	return [3]Rational{}, false
}
