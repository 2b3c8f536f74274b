package analyzer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ladrex/geoextent-harvest/internal/normalize"
	"github.com/ladrex/geoextent-harvest/internal/pipeline"
	"github.com/ladrex/geoextent-harvest/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "analyzer.sqlite3"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func insertRow(t *testing.T, st *store.Store, kind normalize.Kind, id string, sumSize int64) int64 {
	t.Helper()
	rec := normalize.CanonicalRecord{ContentProvider: kind, ID: id, DOI: id, SumSize: sumSize, DownloadFlag: true}
	if err := st.InsertCanonical(context.Background(), []store.HarvestedRecord{{Canonical: rec, Raw: normalize.RawMetadata{}}}); err != nil {
		t.Fatalf("InsertCanonical: %v", err)
	}
	rows, err := st.SelectAnalysisCandidates(context.Background(), kind, 1<<62, 10)
	if err != nil {
		t.Fatalf("SelectAnalysisCandidates: %v", err)
	}
	for _, r := range rows {
		if r.ID == id {
			return r.Key
		}
	}
	t.Fatalf("inserted row %s not found among candidates", id)
	return 0
}

func TestRunCommitsAndStopsOnProcessedThreshold(t *testing.T) {
	st := openTestStore(t)
	key1 := insertRow(t, st, normalize.Dryad, "a", 100)
	key2 := insertRow(t, st, normalize.Dryad, "b", 200)

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan pipeline.ExtractionResult, 2)
	bbox := [4]float64{1, 2, 3, 4}
	in <- pipeline.ExtractionResult{Key: key1, ContentProvider: normalize.Dryad, SumSize: 100, Bbox: &bbox}
	in <- pipeline.ExtractionResult{Key: key2, ContentProvider: normalize.Dryad, SumSize: 200}
	close(in)

	cfg := Config{
		Store:   st,
		Budgets: map[normalize.Kind]ProviderBudget{normalize.Dryad: {ProcessedThreshold: 2, WallClockBudget: time.Hour}},
	}

	if err := Run(ctx, cfg, in, cancel); err != nil {
		t.Fatalf("Run: %v", err)
	}

	candidates, err := st.SelectAnalysisCandidates(context.Background(), normalize.Dryad, 1<<62, 10)
	if err != nil {
		t.Fatalf("SelectAnalysisCandidates: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected both rows marked processed, %d still pending", len(candidates))
	}

	if ctx.Err() == nil {
		t.Fatal("expected stop() to have cancelled ctx once the processed threshold was reached")
	}
}

func TestRunWallClockBudgetOverridesProcessedThreshold(t *testing.T) {
	st := openTestStore(t)
	key := insertRow(t, st, normalize.Zenodo, "z", 50)

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan pipeline.ExtractionResult, 1)
	in <- pipeline.ExtractionResult{Key: key, ContentProvider: normalize.Zenodo, SumSize: 50}
	close(in)

	cfg := Config{
		Store: st,
		// processed threshold never reached (set absurdly high), but the
		// wall-clock budget has already elapsed by the time commit runs.
		Budgets: map[normalize.Kind]ProviderBudget{normalize.Zenodo: {ProcessedThreshold: 1000000, WallClockBudget: time.Nanosecond}},
	}

	if err := Run(ctx, cfg, in, cancel); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ctx.Err() == nil {
		t.Fatal("expected the wall-clock budget (defaulted effectively to elapsed>=0) to trigger stop")
	}
}
