package geophotos

import (
	"fmt"
	"sort"

	geohash "github.com/TomiHiltunen/geohash-golang"
)

// maxGeohashPrecision is the length of a full geohash.
const maxGeohashPrecision = 12

// FrequencyEntry is one row of a country frequency table.
type FrequencyEntry struct {
	Country string // NoCountry for the "none" bucket
	Count   uint64
}

// Aggregator reduces a complete batch of country assignments into
// frequency tables. Counts are computed once, at construction, together
// with the order in which each country first appeared.
type Aggregator struct {
	order  []string // distinct countries, first-seen order (may include NoCountry)
	counts map[string]uint64
	coords []Coordinate
}

// NewAggregator builds an Aggregator over assignments.
func NewAggregator(assignments []CountryAssignment) *Aggregator {
	a := &Aggregator{counts: make(map[string]uint64)}
	for _, as := range assignments {
		a.add(as.Country)
		if as.Coordinate.Present() {
			a.coords = append(a.coords, as.Coordinate)
		}
	}
	return a
}

// AggregateCountries builds an Aggregator over bare country names, with
// NoCountry standing for "none". HeatCells is empty for such an Aggregator.
func AggregateCountries(countries []string) *Aggregator {
	a := &Aggregator{counts: make(map[string]uint64)}
	for _, c := range countries {
		a.add(c)
	}
	return a
}

func (a *Aggregator) add(country string) {
	if _, ok := a.counts[country]; !ok {
		a.order = append(a.order, country)
	}
	a.counts[country]++
}

// UniqueCountries returns the distinct countries in first-seen order.
// NoCountry is included only when includeNone is set.
func (a *Aggregator) UniqueCountries(includeNone bool) []string {
	out := make([]string, 0, len(a.order))
	for _, c := range a.order {
		if c == NoCountry && !includeNone {
			continue
		}
		out = append(out, c)
	}
	return out
}

// CountCountries returns len(UniqueCountries(includeNone)).
func (a *Aggregator) CountCountries(includeNone bool) int {
	n := len(a.order)
	if _, ok := a.counts[NoCountry]; ok && !includeNone {
		n--
	}
	return n
}

// CountryFrequency returns occurrence counts per country. Unsorted
// entries are in first-seen order. Sorted entries are by count,
// descending, with ties left in first-seen order.
func (a *Aggregator) CountryFrequency(includeNone, sorted bool) []FrequencyEntry {
	out := make([]FrequencyEntry, 0, len(a.order))
	for _, c := range a.order {
		if c == NoCountry && !includeNone {
			continue
		}
		out = append(out, FrequencyEntry{Country: c, Count: a.counts[c]})
	}
	if sorted {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Count > out[j].Count
		})
	}
	return out
}

// MostCommon returns the first n entries of the sorted frequency table,
// or all of them when n exceeds the number of distinct countries.
func (a *Aggregator) MostCommon(n int, includeNone bool) ([]FrequencyEntry, error) {
	if n < 0 {
		return nil, fmt.Errorf("most common n=%d: %w", n, ErrInvalidArgument)
	}
	entries := a.CountryFrequency(includeNone, true)
	if n < len(entries) {
		entries = entries[:n]
	}
	return entries, nil
}

// CellCount is the number of photos falling in one geohash cell.
type CellCount struct {
	Cell  string
	Count uint64
}

// HeatCells buckets the present coordinates into geohash cells of the
// given precision (1..12 characters). Cells are in first-seen order.
func (a *Aggregator) HeatCells(precision int) ([]CellCount, error) {
	if precision < 1 || precision > maxGeohashPrecision {
		return nil, fmt.Errorf("geohash precision %d not in 1..%d: %w", precision, maxGeohashPrecision, ErrInvalidArgument)
	}
	pos := make(map[string]int)
	var out []CellCount
	for _, c := range a.coords {
		lat, lon, _ := c.LatLon()
		cell := geohash.Encode(lat, lon)
		if len(cell) > precision {
			cell = cell[:precision]
		}
		i, ok := pos[cell]
		if !ok {
			i = len(out)
			pos[cell] = i
			out = append(out, CellCount{Cell: cell})
		}
		out[i].Count++
	}
	return out, nil
}
