package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/ladrex/geoextent-harvest/internal/normalize"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")

	ck := New(normalize.Dryad, normalize.Figshare, normalize.Zenodo)
	ck.Get(normalize.Dryad).RecordSuccess("doi:10.5061/dryad.70d46")
	ck.Get(normalize.Dryad).RecordFailure("doi:10.5061/dryad.bad01", "404")

	if err := Save(path, ck); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	dryad := loaded.Get(normalize.Dryad)
	if dryad.CounterSuccessful != 1 || dryad.CounterFailed != 1 {
		t.Fatalf("unexpected counters: %+v", dryad)
	}
	if dryad.Processed() != 2 {
		t.Fatalf("Processed() = %d, want 2", dryad.Processed())
	}
	if got := dryad.HTTPError["404"]; len(got) != 1 || got[0] != "doi:10.5061/dryad.bad01" {
		t.Fatalf("unexpected http_error bucket: %+v", dryad.HTTPError)
	}
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	ck, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ck) != 0 {
		t.Fatalf("expected empty checkpoint, got %+v", ck)
	}
}
