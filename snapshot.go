package geophotos

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb"
)

// Snapshot layout:
//
//	magic    [8]byte  "GEOPHSNP"
//	version  uint16   big endian
//	length   uint32   big endian, size of payload
//	payload  []byte   gzip(gob(snapshotGob))
//	checksum uint32   big endian, CRC-32 (IEEE) of payload
const (
	snapshotMagic   = "GEOPHSNP"
	snapshotVersion = 1

	// maxSnapshotPayload bounds the allocation made for a length field read
	// from an untrusted file.
	maxSnapshotPayload = 1 << 30
)

// Snapshot is a persisted boundary index and/or assignment sequence.
// Index is nil when the snapshot was written without one.
type Snapshot struct {
	Index       *BoundaryIndex
	Assignments []CountryAssignment
}

// snapshotGob is the gob payload. Coordinates are flattened since
// Coordinate has no exported fields.
type snapshotGob struct {
	HasIndex    bool
	Polygons    []polygonGob
	Assignments []assignmentGob
}

type polygonGob struct {
	Name  string
	Parts [][][][2]float64 // part -> ring -> vertex -> (lon, lat)
}

type assignmentGob struct {
	Present   bool
	Lat, Lon  float64
	HasTime   bool
	Timestamp time.Time
	Country   string
}

// WriteSnapshot serializes idx (which may be nil) and assignments to w.
// Names, ring order and vertex order are preserved exactly.
func WriteSnapshot(w io.Writer, idx *BoundaryIndex, assignments []CountryAssignment) error {
	payload := snapshotGob{HasIndex: idx != nil}
	if idx != nil {
		payload.Polygons = make([]polygonGob, len(idx.polygons))
		for i, p := range idx.polygons {
			payload.Polygons[i] = polygonToGob(p)
		}
	}
	payload.Assignments = make([]assignmentGob, len(assignments))
	for i, a := range assignments {
		lat, lon, ok := a.Coordinate.LatLon()
		ts, hasTS := a.Coordinate.Timestamp()
		payload.Assignments[i] = assignmentGob{
			Present:   ok,
			Lat:       lat,
			Lon:       lon,
			HasTime:   hasTS,
			Timestamp: ts,
			Country:   a.Country,
		}
	}

	var body bytes.Buffer
	zw := gzip.NewWriter(&body)
	if err := gob.NewEncoder(zw).Encode(payload); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compressing snapshot: %w", err)
	}
	if body.Len() > maxSnapshotPayload {
		return fmt.Errorf("snapshot payload of %d bytes too large: %w", body.Len(), ErrInvalidArgument)
	}

	bw := bufio.NewWriter(w)
	bw.WriteString(snapshotMagic)
	binary.Write(bw, binary.BigEndian, uint16(snapshotVersion))
	binary.Write(bw, binary.BigEndian, uint32(body.Len()))
	bw.Write(body.Bytes())
	binary.Write(bw, binary.BigEndian, crc32.ChecksumIEEE(body.Bytes()))
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

func polygonToGob(p BoundaryPolygon) polygonGob {
	pg := polygonGob{Name: p.Name, Parts: make([][][][2]float64, len(p.Geometry))}
	for i, part := range p.Geometry {
		rings := make([][][2]float64, len(part))
		for j, ring := range part {
			pts := make([][2]float64, len(ring))
			for k, pt := range ring {
				pts[k] = [2]float64(pt)
			}
			rings[j] = pts
		}
		pg.Parts[i] = rings
	}
	return pg
}

func polygonFromGob(pg polygonGob) BoundaryPolygon {
	mp := make(orb.MultiPolygon, len(pg.Parts))
	for i, rings := range pg.Parts {
		poly := make(orb.Polygon, len(rings))
		for j, pts := range rings {
			ring := make(orb.Ring, len(pts))
			for k, pt := range pts {
				ring[k] = orb.Point(pt)
			}
			poly[j] = ring
		}
		mp[i] = poly
	}
	return BoundaryPolygon{Name: pg.Name, Geometry: mp}
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot. Any
// structural problem yields ErrCorruptSnapshot and no partial state.
// opts configure the rebuilt index.
func ReadSnapshot(r io.Reader, opts ...Option) (*Snapshot, error) {
	var header [len(snapshotMagic) + 2 + 4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, corruptSnapshot("header", err)
	}
	if string(header[:len(snapshotMagic)]) != snapshotMagic {
		return nil, corruptSnapshot("bad magic", nil)
	}
	version := binary.BigEndian.Uint16(header[len(snapshotMagic):])
	if version != snapshotVersion {
		return nil, corruptSnapshot(fmt.Sprintf("unsupported version %d", version), nil)
	}
	length := binary.BigEndian.Uint32(header[len(snapshotMagic)+2:])
	if length > maxSnapshotPayload {
		return nil, corruptSnapshot(fmt.Sprintf("payload length %d", length), nil)
	}

	body := make([]byte, int(length)+4)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, corruptSnapshot("truncated payload", err)
	}
	payload, sum := body[:length], binary.BigEndian.Uint32(body[length:])
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, corruptSnapshot("checksum mismatch", nil)
	}

	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, corruptSnapshot("gzip", err)
	}
	defer zr.Close()
	var sg snapshotGob
	if err := gob.NewDecoder(zr).Decode(&sg); err != nil {
		return nil, corruptSnapshot("gob", err)
	}

	snap := &Snapshot{}
	if sg.HasIndex {
		polygons := make([]BoundaryPolygon, len(sg.Polygons))
		for i, pg := range sg.Polygons {
			polygons[i] = polygonFromGob(pg)
		}
		idx, err := NewBoundaryIndex(polygons, opts...)
		if err != nil {
			return nil, corruptSnapshot("index", err)
		}
		snap.Index = idx
	}
	snap.Assignments = make([]CountryAssignment, len(sg.Assignments))
	for i, ag := range sg.Assignments {
		c := AbsentCoordinate()
		if ag.Present {
			if c, err = NewCoordinate(ag.Lat, ag.Lon); err != nil {
				return nil, corruptSnapshot(fmt.Sprintf("assignment %d", i), err)
			}
		}
		if ag.HasTime {
			c = c.WithTimestamp(ag.Timestamp)
		}
		snap.Assignments[i] = CountryAssignment{Coordinate: c, Country: ag.Country}
	}
	return snap, nil
}

func corruptSnapshot(what string, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %v: %w", what, err, ErrCorruptSnapshot)
	}
	return fmt.Errorf("%s: %w", what, ErrCorruptSnapshot)
}

// SaveSnapshot writes a snapshot to path, replacing any existing file
// only once the new one is complete.
func SaveSnapshot(path string, idx *BoundaryIndex, assignments []CountryAssignment) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := WriteSnapshot(tmp, idx, assignments); err != nil {
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the snapshot at path. A missing file is reported
// with fs.ErrNotExist, not ErrCorruptSnapshot.
func LoadSnapshot(path string, opts ...Option) (*Snapshot, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer fh.Close()

	snap, err := ReadSnapshot(bufio.NewReader(fh), opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

