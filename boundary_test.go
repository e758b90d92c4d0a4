package geophotos

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"reflect"
	"sync"
	"testing"

	"github.com/paulmach/orb"
)

func square(minX, minY, maxX, maxY float64) orb.Ring {
	return orb.Ring{{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY}}
}

func mustIndex(t *testing.T, polygons ...BoundaryPolygon) *BoundaryIndex {
	t.Helper()
	idx, err := NewBoundaryIndex(polygons)
	if err != nil {
		t.Fatalf("NewBoundaryIndex() error: %v", err)
	}
	return idx
}

func TestRingContains(t *testing.T) {
	triangle := orb.Ring{{0, 0}, {10, 0}, {5, 10}}
	tests := []struct {
		name string
		x, y float64
		want bool
	}{
		{"centre", 5, 3, true},
		{"near apex", 5, 9.9, true},
		{"left of edge", 1, 5, false},
		{"below", 5, -1, false},
		{"far right", 100, 5, false},
		{"vertex row outside", -1, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ringContains(triangle, tc.x, tc.y); got != tc.want {
				t.Errorf("ringContains(%v, %v) = %v, want %v", tc.x, tc.y, got, tc.want)
			}
		})
	}

	// Closing vertex or not, the answer is the same.
	open := orb.Ring{{0, 0}, {4, 0}, {4, 4}, {0, 4}}
	if !ringContains(open, 2, 2) || !ringContains(append(open, orb.Point{0, 0}), 2, 2) {
		t.Error("ringContains depends on ring closure")
	}
	if ringContains(orb.Ring{{0, 0}, {1, 1}}, 0.5, 0.5) {
		t.Error("degenerate ring contains a point")
	}
}

func TestConcaveRing(t *testing.T) {
	// A "U" shape: the notch between the arms is outside.
	u := orb.Ring{{0, 0}, {6, 0}, {6, 6}, {4, 6}, {4, 2}, {2, 2}, {2, 6}, {0, 6}, {0, 0}}
	idx := mustIndex(t, BoundaryPolygon{Name: "U", Geometry: orb.MultiPolygon{{u}}})

	if name, _ := idx.Country(5, 1); name != "U" {
		t.Errorf("left arm = %q, want U", name)
	}
	if name, _ := idx.Country(5, 5); name != "U" {
		t.Errorf("right arm = %q, want U", name)
	}
	if _, ok := idx.Country(4, 3); ok {
		t.Error("notch is inside")
	}
}

func TestHoles(t *testing.T) {
	outer := square(0, 0, 10, 10)
	hole := square(3, 3, 6, 6)
	idx := mustIndex(t,
		BoundaryPolygon{Name: "Ring", Geometry: orb.MultiPolygon{{outer, hole}}},
		BoundaryPolygon{Name: "Inner", Geometry: orb.MultiPolygon{{hole}}},
	)

	tests := []struct {
		lat, lon float64
		want     string
	}{
		{1, 1, "Ring"},
		{4, 4, "Inner"},
		{9, 9, "Ring"},
		{20, 20, NoCountry},
	}
	for _, tc := range tests {
		if got, _ := idx.Country(tc.lat, tc.lon); got != tc.want {
			t.Errorf("Country(%v, %v) = %q, want %q", tc.lat, tc.lon, got, tc.want)
		}
	}
}

func TestFirstMatchWins(t *testing.T) {
	idx, err := LoadBoundaryIndex("testdata/overlap.geojson")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		lat, lon float64
		want     string
	}{
		{1, 1, "First"},
		{7, 7, "First"},
		{15, 15, "Third"},
		{-1, -1, NoCountry},
	}
	for _, tc := range tests {
		if got, _ := idx.Country(tc.lat, tc.lon); got != tc.want {
			t.Errorf("Country(%v, %v) = %q, want %q", tc.lat, tc.lon, got, tc.want)
		}
	}
}

func TestBoundingBoxFilterPreservesResults(t *testing.T) {
	polygons := []BoundaryPolygon{
		{Name: "A", Geometry: orb.MultiPolygon{{square(-20, -20, 0, 0)}, {square(30, 30, 40, 45)}}},
		{Name: "B", Geometry: orb.MultiPolygon{{orb.Ring{{-5, -5}, {25, 0}, {10, 35}}}}},
		{Name: "C", Geometry: orb.MultiPolygon{{square(-180, -90, 180, 90), square(-170, -80, 170, 80)}}},
	}
	idx := mustIndex(t, polygons...)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		lat := rng.Float64()*180 - 90
		lon := rng.Float64()*360 - 180
		var want string
		for _, p := range polygons {
			found := false
			for _, part := range p.Geometry {
				if polygonContains(part, lon, lat) {
					found = true
					break
				}
			}
			if found {
				want = p.Name
				break
			}
		}
		if got, _ := idx.Country(lat, lon); got != want {
			t.Fatalf("Country(%v, %v) = %q, unfiltered scan says %q", lat, lon, got, want)
		}
	}
}

func TestNewBoundaryIndexValidation(t *testing.T) {
	tests := []struct {
		name string
		p    BoundaryPolygon
	}{
		{"empty name", BoundaryPolygon{Name: " ", Geometry: orb.MultiPolygon{{square(0, 0, 1, 1)}}}},
		{"no geometry", BoundaryPolygon{Name: "X"}},
		{"part without rings", BoundaryPolygon{Name: "X", Geometry: orb.MultiPolygon{{}}}},
		{"two distinct vertices", BoundaryPolygon{Name: "X", Geometry: orb.MultiPolygon{{orb.Ring{{0, 0}, {1, 1}, {0, 0}}}}}},
		{"NaN vertex", BoundaryPolygon{Name: "X", Geometry: orb.MultiPolygon{{orb.Ring{{0, 0}, {1, math.NaN()}, {1, 1}}}}}},
		{"bad hole", BoundaryPolygon{Name: "X", Geometry: orb.MultiPolygon{{square(0, 0, 5, 5), orb.Ring{{1, 1}}}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			good := BoundaryPolygon{Name: "Good", Geometry: orb.MultiPolygon{{square(0, 0, 1, 1)}}}
			idx, err := NewBoundaryIndex([]BoundaryPolygon{good, tc.p})
			if !errors.Is(err, ErrCorruptDataset) {
				t.Errorf("NewBoundaryIndex() error = %v, want ErrCorruptDataset", err)
			}
			if idx != nil {
				t.Error("NewBoundaryIndex() returned a partial index")
			}
		})
	}

	idx, err := NewBoundaryIndex(nil)
	if err != nil || idx.Len() != 0 {
		t.Errorf("NewBoundaryIndex(nil) = %v, %v; want empty index", idx, err)
	}
	if _, ok := idx.Country(0, 0); ok {
		t.Error("empty index located a point")
	}
}

func TestLocateAll(t *testing.T) {
	idx := mustIndex(t,
		BoundaryPolygon{Name: "West", Geometry: orb.MultiPolygon{{square(-10, -10, 0, 10)}}},
		BoundaryPolygon{Name: "East", Geometry: orb.MultiPolygon{{square(0.5, -10, 10, 10)}}},
	)
	coords := make([]Coordinate, 1000)
	want := make([]string, len(coords))
	for i := range coords {
		switch i % 3 {
		case 0:
			coords[i], _ = NewCoordinate(1, -5)
			want[i] = "West"
		case 1:
			coords[i], _ = NewCoordinate(1, 5)
			want[i] = "East"
		default:
			coords[i] = AbsentCoordinate()
			want[i] = NoCountry
		}
	}

	for _, workers := range []int{0, 1, 3, 64, 5000} {
		got, err := idx.LocateAll(context.Background(), coords, workers)
		if err != nil {
			t.Fatalf("LocateAll(workers=%d) error: %v", workers, err)
		}
		if len(got) != len(coords) {
			t.Fatalf("LocateAll(workers=%d) returned %d results", workers, len(got))
		}
		for i := range got {
			if got[i].Country != want[i] {
				t.Fatalf("LocateAll(workers=%d)[%d] = %q, want %q", workers, i, got[i].Country, want[i])
			}
			if got[i].Coordinate != coords[i] {
				t.Fatalf("LocateAll(workers=%d)[%d] changed the coordinate", workers, i)
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := idx.LocateAll(ctx, coords, 2); !errors.Is(err, context.Canceled) {
		t.Errorf("LocateAll on cancelled context error = %v", err)
	}

	got, err := idx.LocateAll(context.Background(), nil, 4)
	if err != nil || len(got) != 0 {
		t.Errorf("LocateAll(nil) = %v, %v", got, err)
	}
}

func TestConcurrentQueries(t *testing.T) {
	idx, err := LoadBoundaryIndex("testdata/world.geojson")
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	errs := make(chan string, 16)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if name, _ := idx.Country(-29.31, 27.48); name != "Lesotho" {
					errs <- name
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for name := range errs {
		t.Errorf("concurrent Country() = %q, want Lesotho", name)
	}
}

func TestLoadBoundaryIndexOnce(t *testing.T) {
	a, errA := LoadBoundaryIndexOnce("testdata/world.geojson")
	b, errB := LoadBoundaryIndexOnce("./testdata/../testdata/world.geojson")
	if errA != nil || errB != nil {
		t.Fatalf("LoadBoundaryIndexOnce errors: %v, %v", errA, errB)
	}
	if a != b {
		t.Error("LoadBoundaryIndexOnce loaded the same dataset twice")
	}

	_, err1 := LoadBoundaryIndexOnce("testdata/no-such-dataset.geojson")
	_, err2 := LoadBoundaryIndexOnce("testdata/no-such-dataset.geojson")
	if !errors.Is(err1, ErrDatasetUnavailable) || err1 != err2 {
		t.Errorf("cached load errors = %v, %v", err1, err2)
	}
}

func TestRepeatedLoadsLocateIdentically(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	coords := []Coordinate{AbsentCoordinate()}
	for i := 0; i < 2000; i++ {
		c, err := NewCoordinate(rng.Float64()*120-60, rng.Float64()*180-20)
		if err != nil {
			t.Fatal(err)
		}
		coords = append(coords, c)
	}
	for _, p := range [][2]float64{{55.6, 12.5}, {-29.3, 27.4}, {-25, 25}, {35.6, 139.7}} {
		c, _ := NewCoordinate(p[0], p[1])
		coords = append(coords, c)
	}

	var runs [][]CountryAssignment
	for i := 0; i < 2; i++ {
		idx, err := LoadBoundaryIndex("testdata/world.geojson")
		if err != nil {
			t.Fatal(err)
		}
		for _, workers := range []int{1, 4} {
			got, err := idx.LocateAll(context.Background(), coords, workers)
			if err != nil {
				t.Fatal(err)
			}
			runs = append(runs, got)
		}
	}

	located := 0
	for _, a := range runs[0] {
		if a.Country != NoCountry {
			located++
		}
	}
	if located < 4 {
		t.Errorf("only %d coordinates located, the sample misses the dataset", located)
	}
	for i := 1; i < len(runs); i++ {
		if !reflect.DeepEqual(runs[0], runs[i]) {
			t.Errorf("run %d assignments differ from run 0", i)
		}
	}
}
