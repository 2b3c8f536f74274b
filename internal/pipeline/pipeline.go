// Package pipeline holds the types that flow between the dataset
// analyzer's three stages (downloader, geoextent, analyzer) without
// forcing any of those packages to import one another directly.
package pipeline

import (
	"os"

	"github.com/ladrex/geoextent-harvest/internal/normalize"
)

// ScratchDir is a linear handle to a per-record scratch directory: it is
// created by the downloader, handed off by value through a channel to
// the extractor, and released exactly once by whichever stage is last
// to touch it on a given exit path.
type ScratchDir struct {
	path string
}

// NewScratchDir wraps an already-created directory path.
func NewScratchDir(path string) ScratchDir { return ScratchDir{path: path} }

// Path returns the directory's filesystem path.
func (s ScratchDir) Path() string { return s.path }

// Release removes the scratch directory and everything in it. Safe to
// call on a zero-value ScratchDir (no-op).
func (s ScratchDir) Release() error {
	if s.path == "" {
		return nil
	}
	return os.RemoveAll(s.path)
}

// DownloadResult is produced by internal/downloader for one analysis
// candidate and consumed by internal/geoextent.
type DownloadResult struct {
	Key             int64
	ContentProvider normalize.Kind
	DOI             string
	SumSize         int64

	// FilesStatus is either a []any of per-file status codes, with
	// "undefined" for a file that never got one (per-file download), or a
	// single int (Dryad bulk-zip path), matching spec.md §4.7 step 4's
	// "JSON array or a single scalar".
	FilesStatus any

	// Scratch is empty (zero value) when the download failed terminally
	// before anything useful was staged; Failed carries the record
	// straight to the analyzer with no extraction step.
	Scratch ScratchDir
	Failed  bool
}

// ExtractionResult is produced by internal/geoextent for one
// DownloadResult and consumed by internal/analyzer.
type ExtractionResult struct {
	Key             int64
	ContentProvider normalize.Kind
	SumSize         int64
	FilesStatus     any
	Bbox            *[4]float64
	Timeout         *int
}
