package normalize

import "testing"

func TestClassifyFileGeospatialAndArchive(t *testing.T) {
	cases := []struct {
		name                 string
		geospatial, archive bool
	}{
		{"points.geojson", true, false},
		{"data.CSV", true, false},
		{"scan.TIFF", true, false},
		{"bundle.zip", false, true},
		{"bundle.TAR.gz", false, true}, // only the final extension is classified
		{"readme.txt", false, false},
		{"noext", false, false},
	}
	for _, c := range cases {
		g, a := ClassifyFile(c.name)
		if g != c.geospatial || a != c.archive {
			t.Errorf("ClassifyFile(%q) = (%v, %v), want (%v, %v)", c.name, g, a, c.geospatial, c.archive)
		}
	}
}

func TestParseDateAcceptsListedShapes(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"2021-03-04", "2021-03-04"},
		{"2021-03-04T15:04:05Z", "2021-03-04"},
		{"2021-03-04T15:04:05.123456Z", "2021-03-04"},
		{"2021-03-04T15:04:05+00:00", "2021-03-04"},
	}
	for _, c := range cases {
		got := parseDate(c.in)
		if got == nil || *got != c.want {
			t.Errorf("parseDate(%v) = %v, want %q", c.in, got, c.want)
		}
	}
}

func TestParseDateRejectsInvalidShapes(t *testing.T) {
	for _, in := range []any{"not a date", "", 12345, nil, "2021/03/04"} {
		if got := parseDate(in); got != nil {
			t.Errorf("parseDate(%v) = %v, want nil", in, *got)
		}
	}
}

// Invariant 1: sum_size equals the sum of file sizes.
func TestNormalizeSumSizeMatchesFileSizes(t *testing.T) {
	raw := RawMetadata{
		"files": []any{
			map[string]any{"name": "a.csv", "download_url": "https://x/a.csv", "size": float64(100)},
			map[string]any{"name": "b.zip", "download_url": "https://x/b.zip", "size": float64(250)},
		},
	}
	rec := Normalize(Figshare, "1", raw)
	if rec.SumSize != 350 {
		t.Fatalf("SumSize = %d, want 350", rec.SumSize)
	}
	if len(rec.Files) != 2 {
		t.Fatalf("len(Files) = %d, want 2", len(rec.Files))
	}
}

// Invariant 2: geospatial_flag is true iff a files_types entry is in the
// geospatial set.
func TestNormalizeGeospatialFlag(t *testing.T) {
	withGeo := RawMetadata{"files": []any{
		map[string]any{"name": "shape.geojson", "download_url": "https://x/s.geojson", "size": float64(1)},
	}}
	if rec := Normalize(Figshare, "1", withGeo); !rec.GeospatialFlag {
		t.Fatal("expected GeospatialFlag=true for a .geojson file")
	}

	withoutGeo := RawMetadata{"files": []any{
		map[string]any{"name": "notes.txt", "download_url": "https://x/n.txt", "size": float64(1)},
	}}
	if rec := Normalize(Figshare, "1", withoutGeo); rec.GeospatialFlag {
		t.Fatal("expected GeospatialFlag=false when no file is geospatial")
	}
}

// Invariant 3: download_flag is true iff at least one file is geospatial
// or archive.
func TestNormalizeDownloadFlag(t *testing.T) {
	archiveOnly := RawMetadata{"files": []any{
		map[string]any{"name": "bundle.zip", "download_url": "https://x/b.zip", "size": float64(1)},
	}}
	rec := Normalize(Figshare, "1", archiveOnly)
	if !rec.DownloadFlag {
		t.Fatal("expected DownloadFlag=true for an archive-only file set")
	}
	if rec.GeospatialFlag {
		t.Fatal("a .zip file should not set GeospatialFlag")
	}

	neither := RawMetadata{"files": []any{
		map[string]any{"name": "readme.txt", "download_url": "https://x/r.txt", "size": float64(1)},
	}}
	if rec := Normalize(Figshare, "1", neither); rec.DownloadFlag {
		t.Fatal("expected DownloadFlag=false when no file is geospatial or archive")
	}
}

func TestEnumerateDryadFilesSkipsEntriesWithoutDownloadLink(t *testing.T) {
	raw := RawMetadata{
		"files_embedded": map[string]any{
			"stash:files": []any{
				map[string]any{
					"path": "data.csv",
					"size": float64(42),
					"_links": map[string]any{
						"stash:download": map[string]any{"href": "/api/v2/files/1/download"},
					},
				},
				map[string]any{"path": "orphan.csv", "size": float64(1)},
			},
		},
	}
	files := enumerateDryadFiles(raw)
	if len(files) != 1 {
		t.Fatalf("len(files) = %d, want 1", len(files))
	}
	if files[0].URL != "https://datadryad.org/api/v2/files/1/download" {
		t.Fatalf("URL = %q", files[0].URL)
	}
}

func TestEnumerateZenodoFilesDerivesNameFromSelfLink(t *testing.T) {
	raw := RawMetadata{
		"files": []any{
			map[string]any{
				"size":  float64(7),
				"links": map[string]any{"self": "https://zenodo.org/api/files/bucket-id/result.csv/content"},
			},
		},
	}
	files := enumerateZenodoFiles(raw)
	if len(files) != 1 {
		t.Fatalf("len(files) = %d, want 1", len(files))
	}
	if files[0].Name != "result.csv" {
		t.Fatalf("Name = %q, want result.csv", files[0].Name)
	}
}

func TestNormalizeZenodoPullsNestedMetadataAndLinks(t *testing.T) {
	raw := RawMetadata{
		"metadata": map[string]any{
			"description": "a dataset",
			"keywords":    []any{"geo", "climate"},
			"doi":         "10.5281/zenodo.123",
		},
		"links": map[string]any{
			"self": "https://zenodo.org/api/records/123",
			"html": "https://zenodo.org/records/123",
		},
		"created": "2020-01-02T00:00:00Z",
		"updated": "2020-06-07T00:00:00Z",
	}
	rec := Normalize(Zenodo, "123", raw)
	if rec.DOI != "10.5281/zenodo.123" {
		t.Fatalf("DOI = %q", rec.DOI)
	}
	if rec.URLAPI != "https://zenodo.org/api/records/123" || rec.URLHTML != "https://zenodo.org/records/123" {
		t.Fatalf("URLAPI/URLHTML = %q/%q", rec.URLAPI, rec.URLHTML)
	}
	if rec.CreatedDate == nil || *rec.CreatedDate != "2020-01-02" {
		t.Fatalf("CreatedDate = %v", rec.CreatedDate)
	}
	if rec.ModifiedDate == nil || *rec.ModifiedDate != "2020-06-07" {
		t.Fatalf("ModifiedDate = %v", rec.ModifiedDate)
	}
}
