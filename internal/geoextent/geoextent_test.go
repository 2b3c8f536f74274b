package geoextent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ladrex/geoextent-harvest/internal/normalize"
	"github.com/ladrex/geoextent-harvest/internal/pipeline"
)

func writeGeoJSON(t *testing.T, dir, name string, coords ...[2]float64) {
	t.Helper()
	points := make([][2]float64, len(coords))
	copy(points, coords)
	doc := map[string]any{
		"type": "Feature",
		"geometry": map[string]any{
			"type":        "MultiPoint",
			"coordinates": points,
		},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), b, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestDirectoryScannerExtractsBoundingBox(t *testing.T) {
	dir := t.TempDir()
	writeGeoJSON(t, dir, "points.geojson", [2]float64{10, 20}, [2]float64{30, 40})

	bbox, err := (DirectoryScanner{}).scan(dir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if bbox == nil {
		t.Fatal("expected a bounding box")
	}
	want := [4]float64{10, 20, 30, 40}
	if *bbox != want {
		t.Fatalf("bbox = %v, want %v", *bbox, want)
	}
}

func TestDirectoryScannerNoGeospatialFilesReturnsNil(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hello"), 0o644)

	bbox, err := (DirectoryScanner{}).scan(dir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if bbox != nil {
		t.Fatalf("expected nil bbox, got %v", bbox)
	}
}

type fakeExtractor struct {
	bbox  *[4]float64
	delay time.Duration
}

func (f fakeExtractor) Extract(ctx context.Context, dir string, softTimeout time.Duration) (*[4]float64, error) {
	select {
	case <-time.After(f.delay):
		return f.bbox, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestProcessFailedDownloadBypassesExtraction(t *testing.T) {
	cfg := Config{Extractor: fakeExtractor{}, Workers: 1}
	in := make(chan pipeline.DownloadResult, 1)
	in <- pipeline.DownloadResult{Key: 1, ContentProvider: normalize.Dryad, Failed: true}
	close(in)

	out := Run(context.Background(), cfg, in)
	r := <-out
	if r.Bbox != nil || r.Timeout != nil {
		t.Fatalf("expected no bbox/timeout for a failed download, got %+v", r)
	}
}

// S6 — a runaway extractor is killed at the hard wall-clock limit and
// the result carries the fabricated timeout marker.
func TestProcessHardTimeoutFabricatesTimeoutMarker(t *testing.T) {
	scratch := t.TempDir()
	cfg := Config{
		Extractor:    fakeExtractor{delay: time.Hour},
		Workers:      1,
		HardTimeout:  50 * time.Millisecond,
		TimeoutValue: 3600,
	}
	in := make(chan pipeline.DownloadResult, 1)
	in <- pipeline.DownloadResult{Key: 1, ContentProvider: normalize.Dryad, Scratch: pipeline.NewScratchDir(scratch)}
	close(in)

	out := Run(context.Background(), cfg, in)
	select {
	case r := <-out:
		if r.Timeout == nil || *r.Timeout != 3600 {
			t.Fatalf("expected Timeout=3600, got %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}
