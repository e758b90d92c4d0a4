package geophotos

import (
	"errors"
	"math"
	"testing"
	"time"
)

func dms(d, m, s Rational) [3]Rational { return [3]Rational{d, m, s} }

func whole(n int64) Rational { return Rational{Num: n, Den: 1} }

func copenhagenGPS() GPSInfo {
	return GPSInfo{
		TagGPSLatitude:     dms(whole(55), whole(38), Rational{416544, 10000}),
		TagGPSLatitudeRef:  "N",
		TagGPSLongitude:    []Rational{whole(12), whole(34), {37074, 1000}},
		TagGPSLongitudeRef: "E",
	}
}

func TestGPSRationalDecimal(t *testing.T) {
	tests := []struct {
		name     string
		g        GPSRational
		positive string
		want     float64
		wantErr  error
	}{
		{"north", GPSRational{whole(55), whole(30), whole(0), "N"}, "N", 55.5, nil},
		{"south", GPSRational{whole(33), whole(52), Rational{1080, 100}, "S"}, "N", -(33 + 52.0/60 + 10.8/3600), nil},
		{"east", GPSRational{whole(12), whole(0), whole(36), "E"}, "E", 12.01, nil},
		{"west", GPSRational{whole(122), whole(25), whole(9), "W"}, "E", -(122 + 25.0/60 + 9.0/3600), nil},
		{"zero", GPSRational{whole(0), whole(0), whole(0), "N"}, "N", 0, nil},
		{"zero denominator", GPSRational{whole(1), Rational{5, 0}, whole(0), "N"}, "N", 0, ErrInvalidRational},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.g.Decimal(tc.positive)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Decimal() error = %v, want %v", err, tc.wantErr)
			}
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("Decimal() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2020:05:01 12:00:00", time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC), false},
		{"1999:12:31 23:59:59", time.Date(1999, 12, 31, 23, 59, 59, 0, time.UTC), false},
		{"  2021:01:02   03:04:05 ", time.Date(2021, 1, 2, 3, 4, 5, 0, time.UTC), false},
		{"2020:05:01", time.Time{}, true},
		{"2020:13:01 12:00:00", time.Time{}, true},
		{"2020-05-01T12:00:00", time.Time{}, true},
		{"2020:05:01 12:00:00 extra", time.Time{}, true},
		{"0000:00:00 00:00:00", time.Time{}, true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseTimestamp(tc.in)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidTimestamp) {
					t.Fatalf("ParseTimestamp(%q) error = %v, want ErrInvalidTimestamp", tc.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimestamp(%q) unexpected error: %v", tc.in, err)
			}
			if !got.Equal(tc.want) {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestExtract(t *testing.T) {
	t.Run("FullMetadata", func(t *testing.T) {
		md := Metadata{
			Tags: map[string]string{TagDateTime: "2020:05:01 12:00:00"},
			GPS:  copenhagenGPS(),
		}
		c, err := Extract(md)
		if err != nil {
			t.Fatalf("Extract() unexpected error: %v", err)
		}
		lat, lon, ok := c.LatLon()
		if !ok {
			t.Fatal("Extract() returned absent coordinate")
		}
		if math.Abs(lat-55.644904) > 1e-6 || math.Abs(lon-12.576965) > 1e-6 {
			t.Errorf("Extract() = (%v, %v), want (55.644904, 12.576965)", lat, lon)
		}
		ts, ok := c.Timestamp()
		if !ok || !ts.Equal(time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)) {
			t.Errorf("Extract() timestamp = %v, %v", ts, ok)
		}
	})

	t.Run("NoGPSBlock", func(t *testing.T) {
		c, err := Extract(Metadata{Tags: map[string]string{TagDateTime: "2020:05:01 12:00:00"}})
		if err != nil {
			t.Fatalf("Extract() unexpected error: %v", err)
		}
		if c.Present() {
			t.Errorf("Extract() = %v, want absent", c)
		}
		if _, ok := c.Timestamp(); !ok {
			t.Error("Extract() dropped the timestamp")
		}
	})

	t.Run("MissingTimestampIsNotAnError", func(t *testing.T) {
		c, err := Extract(Metadata{GPS: copenhagenGPS()})
		if err != nil {
			t.Fatalf("Extract() unexpected error: %v", err)
		}
		if !c.Present() {
			t.Error("Extract() lost the position")
		}
		if _, ok := c.Timestamp(); ok {
			t.Error("Extract() invented a timestamp")
		}
	})

	t.Run("InvalidTimestampKeepsCoordinate", func(t *testing.T) {
		c, err := Extract(Metadata{
			Tags: map[string]string{TagDateTime: "yesterday"},
			GPS:  copenhagenGPS(),
		})
		if !errors.Is(err, ErrInvalidTimestamp) {
			t.Fatalf("Extract() error = %v, want ErrInvalidTimestamp", err)
		}
		if !c.Present() {
			t.Error("Extract() dropped the coordinate with the timestamp")
		}
	})

	for _, missing := range []string{TagGPSLatitude, TagGPSLatitudeRef, TagGPSLongitude, TagGPSLongitudeRef} {
		t.Run("Missing"+missing, func(t *testing.T) {
			gps := copenhagenGPS()
			delete(gps, missing)
			c, err := Extract(Metadata{GPS: gps})
			if err != nil {
				t.Fatalf("Extract() unexpected error: %v", err)
			}
			if c.Present() {
				t.Errorf("Extract() = %v, want absent", c)
			}
		})
	}

	malformed := map[string]func(GPSInfo){
		"WrongArity":      func(g GPSInfo) { g[TagGPSLatitude] = []Rational{whole(55), whole(38)} },
		"WrongType":       func(g GPSInfo) { g[TagGPSLongitude] = "12.5" },
		"ZeroDenominator": func(g GPSInfo) { g[TagGPSLatitude] = dms(whole(55), Rational{1, 0}, whole(0)) },
		"OutOfRange":      func(g GPSInfo) { g[TagGPSLatitude] = dms(whole(95), whole(0), whole(0)) },
		"NonStringRef":    func(g GPSInfo) { g[TagGPSLatitudeRef] = 'N' },
	}
	for name, mutate := range malformed {
		t.Run(name, func(t *testing.T) {
			gps := copenhagenGPS()
			mutate(gps)
			c, err := Extract(Metadata{GPS: gps})
			if err != nil {
				t.Fatalf("Extract() unexpected error: %v", err)
			}
			if c.Present() {
				t.Errorf("Extract() = %v, want absent", c)
			}
		})
	}

	t.Run("SouthWest", func(t *testing.T) {
		gps := GPSInfo{
			TagGPSLatitude:     dms(whole(33), whole(51), whole(54)),
			TagGPSLatitudeRef:  "S",
			TagGPSLongitude:    dms(whole(151), whole(12), whole(36)),
			TagGPSLongitudeRef: "W",
		}
		c, _ := Extract(Metadata{GPS: gps})
		lat, lon, _ := c.LatLon()
		if lat >= 0 || lon >= 0 {
			t.Errorf("Extract() = (%v, %v), want both negative", lat, lon)
		}
	})
}

func TestNewCoordinate(t *testing.T) {
	tests := []struct {
		lat, lon float64
		ok       bool
	}{
		{0, 0, true},
		{90, 180, true},
		{-90, -180, true},
		{90.0001, 0, false},
		{0, -180.5, false},
		{math.NaN(), 0, false},
	}
	for _, tc := range tests {
		_, err := NewCoordinate(tc.lat, tc.lon)
		if (err == nil) != tc.ok {
			t.Errorf("NewCoordinate(%v, %v) error = %v, want ok=%v", tc.lat, tc.lon, err, tc.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("NewCoordinate(%v, %v) error = %v, want ErrInvalidArgument", tc.lat, tc.lon, err)
		}
	}
}
