package geophotos

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// csvHeader is the column layout written by WriteCSV.
var csvHeader = []string{"timestamp", "latitude", "longitude"}

// e7 scales Takeout's integer degrees (degrees * 10^7).
const e7 = 1e7

// Row is one (timestamp?, latitude, longitude) record.
type Row struct {
	Coordinate Coordinate
}

// Complete reports whether the row has a timestamp and a position.
func (r Row) Complete() bool {
	_, ok := r.Coordinate.Timestamp()
	return ok && r.Coordinate.Present()
}

// Rows converts photos to rows in order. With filterAbsent, rows
// missing the timestamp or the position are dropped.
func Rows(photos []PhotoCoordinate, filterAbsent bool) []Row {
	out := make([]Row, 0, len(photos))
	for _, p := range photos {
		row := Row{Coordinate: p.Coordinate}
		if filterAbsent && !row.Complete() {
			continue
		}
		out = append(out, row)
	}
	return out
}

// WriteCSV writes rows as timestamp,latitude,longitude. Absent fields
// are written as empty cells.
func WriteCSV(w io.Writer, rows []Row, header bool) error {
	cw := csv.NewWriter(w)
	if header {
		if err := cw.Write(csvHeader); err != nil {
			return fmt.Errorf("writing csv header: %w", err)
		}
	}
	record := make([]string, len(csvHeader))
	for i, r := range rows {
		record[0], record[1], record[2] = "", "", ""
		if ts, ok := r.Coordinate.Timestamp(); ok {
			record[0] = ts.UTC().Format(timestampLayout)
		}
		if lat, lon, ok := r.Coordinate.LatLon(); ok {
			record[1] = strconv.FormatFloat(lat, 'f', -1, 64)
			record[2] = strconv.FormatFloat(lon, 'f', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCoordinatesCSV reads coordinates from a delimited file whose first
// line is a header. latColumn and lonColumn are 1-based. A row with an
// empty latitude or longitude cell yields an absent coordinate.
func ReadCoordinatesCSV(r io.Reader, latColumn, lonColumn int, delimiter rune) ([]Coordinate, error) {
	if latColumn < 1 || lonColumn < 1 {
		return nil, fmt.Errorf("columns %d,%d must be 1-based: %w", latColumn, lonColumn, ErrInvalidArgument)
	}
	cr := csv.NewReader(r)
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading csv header: %w", err)
	}

	var out []Coordinate
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv line %d: %w", line, err)
		}
		if latColumn > len(record) || lonColumn > len(record) {
			return nil, fmt.Errorf("line %d has %d columns: %w", line, len(record), ErrInvalidArgument)
		}
		latS := strings.TrimSpace(record[latColumn-1])
		lonS := strings.TrimSpace(record[lonColumn-1])
		if latS == "" || lonS == "" {
			out = append(out, AbsentCoordinate())
			continue
		}
		lat, err := strconv.ParseFloat(latS, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d latitude %q: %w", line, latS, ErrInvalidArgument)
		}
		lon, err := strconv.ParseFloat(lonS, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d longitude %q: %w", line, lonS, ErrInvalidArgument)
		}
		c, err := NewCoordinate(lat, lon)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// takeoutHistory is the subset of a Google Takeout "Location History"
// export that is read. Older exports carry timestampMs; newer ones an
// RFC 3339 timestamp.
type takeoutHistory struct {
	Locations []struct {
		TimestampMs string `json:"timestampMs"`
		Timestamp   string `json:"timestamp"`
		LatitudeE7  *int64 `json:"latitudeE7"`
		LongitudeE7 *int64 `json:"longitudeE7"`
	} `json:"locations"`
}

// TakeoutRows converts a Takeout location history export to rows in
// file order. Timestamps are UTC.
func TakeoutRows(r io.Reader) ([]Row, error) {
	var h takeoutHistory
	if err := json.NewDecoder(r).Decode(&h); err != nil {
		return nil, fmt.Errorf("decoding takeout json: %v: %w", err, ErrInvalidArgument)
	}

	rows := make([]Row, 0, len(h.Locations))
	for i, loc := range h.Locations {
		c := AbsentCoordinate()
		if loc.LatitudeE7 != nil && loc.LongitudeE7 != nil {
			var err error
			c, err = NewCoordinate(float64(*loc.LatitudeE7)/e7, float64(*loc.LongitudeE7)/e7)
			if err != nil {
				return nil, fmt.Errorf("location %d: %w", i, err)
			}
		}
		switch {
		case loc.TimestampMs != "":
			ms, err := strconv.ParseInt(loc.TimestampMs, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("location %d timestampMs %q: %w", i, loc.TimestampMs, ErrInvalidTimestamp)
			}
			c = c.WithTimestamp(time.UnixMilli(ms).UTC())
		case loc.Timestamp != "":
			t, err := time.Parse(time.RFC3339Nano, loc.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("location %d timestamp %q: %w", i, loc.Timestamp, ErrInvalidTimestamp)
			}
			c = c.WithTimestamp(t.UTC())
		}
		rows = append(rows, Row{Coordinate: c})
	}
	return rows, nil
}
