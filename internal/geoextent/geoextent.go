// Package geoextent implements the geospatial extraction stage (C7): a
// pool of workers consumes staged scratch directories and produces a
// bounding box (or a timeout marker) for each. With SubprocessExtractor
// every extraction call runs in its own OS process, which is killed at
// the hard timeout; an in-process Extractor such as DirectoryScanner runs
// inside the worker's process and at the hard timeout only sees its
// context cancelled while the worker stops waiting for it.
package geoextent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ladrex/geoextent-harvest/internal/pipeline"
)

// Extractor produces a bounding box for the dataset staged under dir,
// or an error if none could be determined. softTimeout is advisory —
// the caller enforces the hard wall-clock limit itself by cancelling ctx
// and no longer waiting for the result.
type Extractor interface {
	Extract(ctx context.Context, dir string, softTimeout time.Duration) (*[4]float64, error)
}

// Config drives Run.
type Config struct {
	Extractor    Extractor
	Workers      int           // default 2 when unset; not derived from the downloader's worker count
	SoftTimeout  time.Duration // default 30m, passed to the extraction library
	HardTimeout  time.Duration // default 60m, kills the subprocess
	TimeoutValue int           // fabricated metadata.timeout value on hard timeout; default 3600
}

// Run consumes downloader results and produces extraction results. It
// closes the output channel once in is closed and every worker has
// finished its in-flight item.
func Run(ctx context.Context, cfg Config, in <-chan pipeline.DownloadResult) <-chan pipeline.ExtractionResult {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.SoftTimeout <= 0 {
		cfg.SoftTimeout = 30 * time.Minute
	}
	if cfg.HardTimeout <= 0 {
		cfg.HardTimeout = 60 * time.Minute
	}
	if cfg.TimeoutValue <= 0 {
		cfg.TimeoutValue = 3600
	}

	out := make(chan pipeline.ExtractionResult, 64)
	var wg sync.WaitGroup

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case r, ok := <-in:
					if !ok {
						return
					}
					er := process(ctx, cfg, r)
					if ctx.Err() != nil {
						// cancellation is not a hard timeout: drop the
						// result rather than emit a fabricated marker
						return
					}
					select {
					case <-ctx.Done():
						return
					case out <- er:
					}
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// process runs extraction for one downloader result, releasing its
// scratch directory on every exit path.
func process(ctx context.Context, cfg Config, r pipeline.DownloadResult) pipeline.ExtractionResult {
	if r.Failed {
		// a download that never staged usable bytes never reaches
		// geoextent's subprocess; it carries straight through with no
		// bbox, matching spec.md §4.5's "enqueues a result with empty
		// metadata" behavior.
		return pipeline.ExtractionResult{Key: r.Key, ContentProvider: r.ContentProvider, SumSize: r.SumSize, FilesStatus: r.FilesStatus}
	}
	defer r.Scratch.Release()

	hardCtx, cancel := context.WithTimeout(ctx, cfg.HardTimeout)
	defer cancel()

	type extractOutcome struct {
		bbox *[4]float64
		err  error
	}
	done := make(chan extractOutcome, 1)
	go func() {
		bbox, err := cfg.Extractor.Extract(hardCtx, r.Scratch.Path(), cfg.SoftTimeout)
		done <- extractOutcome{bbox: bbox, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			slog.Debug("geoextent_extract_failed", "provider", r.ContentProvider, "key", r.Key, "error", o.err)
			return pipeline.ExtractionResult{Key: r.Key, ContentProvider: r.ContentProvider, SumSize: r.SumSize, FilesStatus: r.FilesStatus}
		}
		return pipeline.ExtractionResult{Key: r.Key, ContentProvider: r.ContentProvider, SumSize: r.SumSize, FilesStatus: r.FilesStatus, Bbox: o.bbox}
	case <-hardCtx.Done():
		slog.Warn("geoextent_hard_timeout", "provider", r.ContentProvider, "key", r.Key)
		timeout := cfg.TimeoutValue
		return pipeline.ExtractionResult{Key: r.Key, ContentProvider: r.ContentProvider, SumSize: r.SumSize, FilesStatus: r.FilesStatus, Timeout: &timeout}
	}
}
