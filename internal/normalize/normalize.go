package normalize

import (
	"path"
	"time"
)

// dateLayouts are the three ISO-8601 shapes the core specification
// accepts plus RFC 3339 with a numeric offset, tried in order. helper_metadata_downloader.py swallows
// TypeError/ValueError from its date parser; Normalize does the same by
// returning nil instead of an error.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z",
	time.RFC3339Nano,
	time.RFC3339,
}

func parseDate(raw any) *string {
	s, ok := raw.(string)
	if !ok || s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			out := t.Format("2006-01-02")
			return &out
		}
	}
	return nil
}

func asString(m RawMetadata, key string) string {
	v, _ := m[key].(string)
	return v
}

func asStringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Normalize maps one provider's RawMetadata into the canonical record.
// It never errors: malformed or missing fields simply come out zero-valued,
// matching the permissive shape of the source extractors.
func Normalize(kind Kind, id string, raw RawMetadata) CanonicalRecord {
	files := EnumerateFiles(kind, raw)

	var sumSize int64
	typeSet := map[string]bool{}
	var filesTypes []string
	var filesList [][2]string
	geospatial := false
	download := false

	for _, f := range files {
		sumSize += f.Size
		filesList = append(filesList, [2]string{f.Name, f.URL})
		g, a := ClassifyFile(f.Name)
		if g {
			geospatial = true
		}
		if g || a {
			download = true
		}
		ext := extOf(f.Name)
		if ext != "" && !typeSet[ext] {
			typeSet[ext] = true
			filesTypes = append(filesTypes, ext)
		}
	}

	rec := CanonicalRecord{
		ContentProvider: kind,
		ID:              id,
		Title:           asString(raw, "title"),
		Description:     asString(raw, "description"),
		Keywords:        asStringSlice(raw["keywords"]),
		SumSize:         sumSize,
		FilesTypes:      filesTypes,
		Files:           filesList,
		GeospatialFlag:  geospatial,
		DownloadFlag:    download,
	}

	switch kind {
	case Dryad:
		rec.DOI = asString(raw, "identifier")
		rec.URLAPI = "https://datadryad.org/api/v2/datasets/" + id
		rec.URLHTML = "https://datadryad.org/stash/dataset/" + id
		rec.CreatedDate = parseDate(raw["lastModificationDate"])
		rec.ModifiedDate = parseDate(raw["lastModificationDate"])
	case Figshare:
		rec.DOI = asString(raw, "doi")
		rec.URLAPI = asString(raw, "url")
		rec.URLHTML = asString(raw, "url_public_html")
		rec.CreatedDate = parseDate(raw["created_date"])
		rec.ModifiedDate = parseDate(raw["modified_date"])
	case Zenodo:
		if meta, ok := raw["metadata"].(map[string]any); ok {
			rec.Description = asString(RawMetadata(meta), "description")
			rec.Keywords = asStringSlice(meta["keywords"])
			rec.DOI = asString(RawMetadata(meta), "doi")
		}
		if links, ok := raw["links"].(map[string]any); ok {
			rec.URLAPI = asString(RawMetadata(links), "self")
			rec.URLHTML = asString(RawMetadata(links), "html")
		}
		rec.CreatedDate = parseDate(raw["created"])
		rec.ModifiedDate = parseDate(raw["updated"])
	}

	return rec
}

// EnumerateFiles lists one provider's files straight out of its raw
// metadata document, used both by Normalize and directly by the provider
// adapters (which need sizes that CanonicalRecord.Files, a [name,url]
// pair list, does not carry).
func EnumerateFiles(kind Kind, raw RawMetadata) []FileEntry {
	switch kind {
	case Dryad:
		return enumerateDryadFiles(raw)
	case Figshare:
		return enumerateFigshareFiles(raw)
	case Zenodo:
		return enumerateZenodoFiles(raw)
	default:
		return nil
	}
}

func enumerateDryadFiles(raw RawMetadata) []FileEntry {
	embedded, _ := raw["files_embedded"].(map[string]any)
	if embedded == nil {
		return nil
	}
	list, _ := embedded["stash:files"].([]any)
	out := make([]FileEntry, 0, len(list))
	for _, item := range list {
		f, ok := item.(map[string]any)
		if !ok {
			continue
		}
		links, _ := f["_links"].(map[string]any)
		dl, _ := links["stash:download"].(map[string]any)
		href, _ := dl["href"].(string)
		if href == "" {
			continue
		}
		name, _ := f["path"].(string)
		size, _ := asFloat(f["size"])
		out = append(out, FileEntry{
			Name: name,
			URL:  "https://datadryad.org" + href,
			Size: int64(size),
		})
	}
	return out
}

func enumerateFigshareFiles(raw RawMetadata) []FileEntry {
	list, _ := raw["files"].([]any)
	out := make([]FileEntry, 0, len(list))
	for _, item := range list {
		f, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := f["name"].(string)
		url, _ := f["download_url"].(string)
		size, _ := asFloat(f["size"])
		out = append(out, FileEntry{Name: name, URL: url, Size: int64(size)})
	}
	return out
}

func enumerateZenodoFiles(raw RawMetadata) []FileEntry {
	list, _ := raw["files"].([]any)
	out := make([]FileEntry, 0, len(list))
	for _, item := range list {
		f, ok := item.(map[string]any)
		if !ok {
			continue
		}
		links, _ := f["links"].(map[string]any)
		self, _ := links["self"].(string)
		if self == "" {
			continue
		}
		name := path.Base(path.Dir(self))
		size, _ := asFloat(f["size"])
		out = append(out, FileEntry{Name: name, URL: self, Size: int64(size)})
	}
	return out
}
