// Package normalize maps provider-specific JSON metadata into the single
// canonical record shape the rest of the pipeline operates on, and
// classifies files by extension for the geospatial/archive flags.
package normalize

// Kind names one of the three content providers. It lives here rather than
// in internal/provider because both internal/provider and internal/store
// need it and normalize must not import either.
type Kind string

const (
	Dryad    Kind = "dryad"
	Figshare Kind = "figshare"
	Zenodo   Kind = "zenodo"
)

// RawMetadata is the verbatim JSON document returned by a provider API,
// decoded generically. normalized_metadata is stripped before this value
// is persisted (see store.InsertCanonical).
type RawMetadata map[string]any

// FileEntry is one file listed in a provider's metadata, prior to
// normalization into CanonicalRecord.Files.
type FileEntry struct {
	Name string
	URL  string
	Size int64
}

// CanonicalRecord is the normalized form of one dataset, identical in
// meaning across all three providers.
type CanonicalRecord struct {
	ContentProvider Kind
	ID              string
	DOI             string
	URLAPI          string
	URLHTML         string
	CreatedDate     *string
	ModifiedDate    *string
	Title           string
	Description     string
	Keywords        []string
	SumSize         int64
	FilesTypes      []string
	Files           [][2]string
	GeospatialFlag  bool
	DownloadFlag    bool
}

// geospatialExt and archiveExt are the two file-classification sets of
// the core specification, keyed by lowercased extension including the
// leading dot.
var geospatialExt = map[string]bool{
	".geojson": true, ".csv": true, ".geotiff": true, ".tif": true,
	".tiff": true, ".shp": true, ".gpkg": true, ".gpx": true,
	".gml": true, ".kml": true,
}

var archiveExt = map[string]bool{
	".7z": true, ".cb7": true, ".ace": true, ".cba": true, ".adf": true,
	".alz": true, ".ape": true, ".a": true, ".arc": true, ".arj": true,
	".bz2": true, ".bz3": true, ".cab": true, ".chm": true, ".z": true,
	".cpio": true, ".deb": true, ".dms": true, ".flac": true, ".gz": true,
	".iso": true, ".lrz": true, ".lha": true, ".lzh": true, ".lz": true,
	".lzma": true, ".lzo": true, ".rpm": true, ".rar": true, ".cbr": true,
	".rz": true, ".shn": true, ".tar": true, ".cbt": true, ".udf": true,
	".xz": true, ".zip": true, ".jar": true, ".cbz": true, ".zoo": true,
	".zst": true,
}

// ClassifyFile reports whether name's extension falls in the geospatial
// or archive set, matched case-insensitively.
func ClassifyFile(name string) (geospatial, archive bool) {
	ext := extOf(name)
	return geospatialExt[ext], archiveExt[ext]
}

func extOf(name string) string {
	dot := -1
	for i := len(name) - 1; i >= 0; i-- {
		c := name[i]
		if c == '/' || c == '\\' {
			break
		}
		if c == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return ""
	}
	ext := name[dot:]
	out := make([]byte, len(ext))
	for i := 0; i < len(ext); i++ {
		c := ext[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
