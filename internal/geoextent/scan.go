package geoextent

import (
	"context"
	"encoding/json"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DirectoryScanner extracts the bounding box of every recognized
// geospatial file under a directory by walking the tree and folding
// each file's own extent into a running minimum/maximum. It is the
// in-process default Extractor, used directly by tests and by
// cmd/geoextent-probe when run as the isolated subprocess.
type DirectoryScanner struct{}

// Extract implements Extractor. softTimeout is unused: DirectoryScanner
// is a pure filesystem walk with no unbounded external calls, so only
// the hard wall-clock kill enforced by the subprocess wrapper applies.
func (s DirectoryScanner) Extract(_ context.Context, dir string, _ time.Duration) (*[4]float64, error) {
	return s.scan(dir)
}

func (DirectoryScanner) scan(dir string) (*[4]float64, error) {
	var acc *[4]float64

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		bbox, err := extentOfFile(path)
		if err != nil || bbox == nil {
			return nil
		}
		acc = mergeBbox(acc, bbox)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func mergeBbox(a, b *[4]float64) *[4]float64 {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return &[4]float64{
		math.Min(a[0], b[0]), math.Min(a[1], b[1]),
		math.Max(a[2], b[2]), math.Max(a[3], b[3]),
	}
}

// extentOfFile dispatches on extension to the format-specific reader.
// Unrecognized extensions return (nil, nil), not an error.
func extentOfFile(path string) (*[4]float64, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return extentOfGeoJSON(path)
	default:
		return nil, nil
	}
}

// extentOfGeoJSON recurses through a GeoJSON document's geometry
// coordinates, folding every [lon, lat, ...] leaf into a bounding box.
func extentOfGeoJSON(path string) (*[4]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil // not GeoJSON; ignore rather than fail the whole extraction
	}

	var acc *[4]float64
	walkGeometries(doc, func(g map[string]any) {
		coords, ok := g["coordinates"]
		if !ok {
			return
		}
		if b := extentOfCoordinates(coords); b != nil {
			acc = mergeBbox(acc, b)
		}
	})
	return acc, nil
}

// walkGeometries visits every object that looks like a GeoJSON geometry
// ({"type": ..., "coordinates": ...}) reachable from doc, whether it is
// a bare Geometry, a Feature, or a FeatureCollection.
func walkGeometries(node any, visit func(map[string]any)) {
	switch v := node.(type) {
	case map[string]any:
		if _, ok := v["coordinates"]; ok {
			visit(v)
		}
		if geom, ok := v["geometry"].(map[string]any); ok {
			walkGeometries(geom, visit)
		}
		if features, ok := v["features"].([]any); ok {
			for _, f := range features {
				walkGeometries(f, visit)
			}
		}
		if geometries, ok := v["geometries"].([]any); ok {
			for _, g := range geometries {
				walkGeometries(g, visit)
			}
		}
	}
}

func extentOfCoordinates(coords any) *[4]float64 {
	var acc *[4]float64
	var walk func(any)
	walk = func(c any) {
		arr, ok := c.([]any)
		if !ok {
			return
		}
		if isNumericPair(arr) {
			lon, lonOK := toFloat(arr[0])
			lat, latOK := toFloat(arr[1])
			if lonOK && latOK {
				acc = mergeBbox(acc, &[4]float64{lon, lat, lon, lat})
			}
			return
		}
		for _, e := range arr {
			walk(e)
		}
	}
	walk(coords)
	return acc
}

func isNumericPair(arr []any) bool {
	if len(arr) < 2 {
		return false
	}
	_, ok0 := toFloat(arr[0])
	_, ok1 := toFloat(arr[1])
	return ok0 && ok1
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
