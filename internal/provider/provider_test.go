package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ladrex/geoextent-harvest/internal/httpclient"
	"github.com/ladrex/geoextent-harvest/internal/openaire"
)

func recordWithPIDs(scheme string, values ...string) openaire.Record {
	var pids []openaire.PID
	for _, v := range values {
		pids = append(pids, openaire.PID{Scheme: scheme, Value: v})
	}
	return openaire.Record{Instances: []openaire.Instance{{Pids: pids}}}
}

// S1 — Dryad identifier normalization.
func TestDryadExtractIdentifier(t *testing.T) {
	a := newDryadAdapter(nil)
	rec := recordWithPIDs("doi", "10.5061/dryad.70d46/3", "10.5061/dryad.70d46")
	id, ok := a.ExtractIdentifier(rec)
	if !ok {
		t.Fatal("expected identifier extraction to succeed")
	}
	if id != "doi:10.5061/dryad.70d46" {
		t.Fatalf("id = %q, want doi:10.5061/dryad.70d46", id)
	}
}

// S2 — Figshare identifier, smallest after sort.
func TestFigshareExtractIdentifier(t *testing.T) {
	a := newFigshareAdapter(nil)
	rec := recordWithPIDs("doi",
		"10.6084/m9.figshare.9978467.v1",
		"10.6084/m9.figshare.9978473",
		"10.6084/m9.figshare.9978473.v1")
	id, ok := a.ExtractIdentifier(rec)
	if !ok {
		t.Fatal("expected identifier extraction to succeed")
	}
	if id != "9978467" {
		t.Fatalf("id = %q, want 9978467", id)
	}
}

// S3 — Zenodo OAI fallback.
func TestZenodoExtractIdentifierOAIFallback(t *testing.T) {
	a := newZenodoAdapter(nil)
	rec := recordWithPIDs("oai", "oai:zenodo.org:1220711")
	id, ok := a.ExtractIdentifier(rec)
	if !ok {
		t.Fatal("expected identifier extraction to succeed")
	}
	if id != "1220711" {
		t.Fatalf("id = %q, want 1220711", id)
	}
}

func TestZenodoExtractIdentifierUndefinedIsFailure(t *testing.T) {
	a := newZenodoAdapter(nil)
	rec := recordWithPIDs("oai", "oai:example.org:not-zenodo")
	if _, ok := a.ExtractIdentifier(rec); ok {
		t.Fatal("expected extraction to fail for an unrecognized oai identifier")
	}
}

func TestDryadFetchMetadataNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"message": "not found"})
	}))
	defer srv.Close()

	a := newDryadAdapter(httpclient.New(httpclient.Options{Provider: httpclient.ProviderDryad}))
	meta, status, err := a.fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchMetadata: %v", err)
	}
	if meta != nil || status != nil {
		t.Fatalf("expected structured not-found (nil, nil), got meta=%v status=%v", meta, status)
	}
}

// S5 — Zenodo rate-limit header pins the next permissible instant.
func TestZenodoThrottleHonorsRateLimitHeader(t *testing.T) {
	reset := time.Now().Add(5 * time.Second).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ratelimit-remaining", "1")
		w.Header().Set("x-ratelimit-reset", strconv.FormatInt(reset, 10))
		json.NewEncoder(w).Encode(map[string]any{"id": 1})
	}))
	defer srv.Close()

	c := httpclient.New(httpclient.Options{Provider: httpclient.ProviderZenodo})
	resp, err := c.Get(context.Background(), srv.URL, httpclient.GetOptions{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	start := time.Now()
	resp2, err := c.Get(context.Background(), srv.URL, httpclient.GetOptions{})
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	resp2.Body.Close()
	if time.Since(start) < 4*time.Second {
		t.Fatalf("second request fired after %v, want at least ~5s per the rate-limit reset", time.Since(start))
	}
}

