package geophotos

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MetadataReader reads the metadata mapping of one photo.
// Implementations must be safe for concurrent use.
type MetadataReader interface {
	ReadMetadata(path string) (Metadata, error)
}

// MetadataReaderFunc adapts a function to MetadataReader.
type MetadataReaderFunc func(path string) (Metadata, error)

// ReadMetadata calls f(path).
func (f MetadataReaderFunc) ReadMetadata(path string) (Metadata, error) { return f(path) }

// ExifReader reads EXIF metadata from image files.
type ExifReader struct{}

// NewExifReader returns a MetadataReader backed by goexif.
func NewExifReader() *ExifReader { return &ExifReader{} }

var gpsTriples = []exif.FieldName{exif.GPSLatitude, exif.GPSLongitude}
var gpsRefs = []exif.FieldName{exif.GPSLatitudeRef, exif.GPSLongitudeRef}

// ReadMetadata opens path and decodes its EXIF block. An image that
// decodes but carries no EXIF yields empty Metadata and no error.
func (r *ExifReader) ReadMetadata(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, fmt.Errorf("%s: %w", path, ErrFileNotFound)
		}
		return Metadata{}, fmt.Errorf("%s: %v: %w", path, err, ErrUnreadableImage)
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil && x != nil && !exif.IsCriticalError(err) {
		// A broken sub-IFD still leaves the other tags readable.
		return metadataFromExif(x), nil
	}
	if err != nil {
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			return Metadata{}, fmt.Errorf("%s: %v: %w", path, serr, ErrUnreadableImage)
		}
		if _, _, cerr := image.DecodeConfig(f); cerr != nil {
			return Metadata{}, fmt.Errorf("%s: %v: %w", path, cerr, ErrUnreadableImage)
		}
		return Metadata{}, nil
	}
	return metadataFromExif(x), nil
}

func metadataFromExif(x *exif.Exif) Metadata {
	md := Metadata{Tags: make(map[string]string)}

	if tag, err := x.Get(exif.DateTime); err == nil {
		if s, err := tag.StringVal(); err == nil {
			md.Tags[TagDateTime] = strings.TrimRight(s, "\x00")
		}
	}

	gps := GPSInfo{}
	for _, name := range gpsTriples {
		tag, err := x.Get(name)
		if err != nil {
			continue
		}
		if triple, ok := rationalTriple(tag); ok {
			gps[string(name)] = triple
		}
	}
	for _, name := range gpsRefs {
		tag, err := x.Get(name)
		if err != nil {
			continue
		}
		if s, err := tag.StringVal(); err == nil {
			gps[string(name)] = strings.TrimRight(s, "\x00 ")
		}
	}
	if len(gps) > 0 {
		md.GPS = gps
	}
	return md
}

func rationalTriple(tag *tiff.Tag) ([3]Rational, bool) {
	var out [3]Rational
	if tag.Count < 3 {
		return out, false
	}
	for i := 0; i < 3; i++ {
		num, den, err := tag.Rat2(i)
		if err != nil {
			return out, false
		}
		out[i] = Rational{Num: num, Den: den}
	}
	return out, true
}

// FindPhotos expands a glob pattern into a sorted, de-duplicated list of
// regular files. Every "**" element matches any number of directories,
// including none.
func FindPhotos(pattern string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}

	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m] {
			continue
		}
		if info, err := os.Stat(m); err != nil || !info.Mode().IsRegular() {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}
