// Package analyzer implements the dataset analyzer consumer (C8): a
// single goroutine drains extraction results, commits the five-step
// update of spec.md §4.7 inside one transaction per record, and prints
// a progress line until every provider's shutdown policy fires.
package analyzer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ladrex/geoextent-harvest/internal/normalize"
	"github.com/ladrex/geoextent-harvest/internal/pipeline"
	"github.com/ladrex/geoextent-harvest/internal/store"
)

// ProviderBudget is one provider's shutdown policy.
type ProviderBudget struct {
	ProcessedThreshold int64
	WallClockBudget    time.Duration // default 10h
}

// Config drives Run.
type Config struct {
	Store    *store.Store
	Budgets  map[normalize.Kind]ProviderBudget
	Progress bool // when true, overwrite a progress line on stdout every iteration
}

type providerState struct {
	processed int64
	withBbox  int64
	timeouts  int64
	volume    int64
	stopped   bool
}

// Run commits every result it reads from in and returns once in is
// closed. Once every configured provider's stop policy has fired (spec.md
// §4.7's termination condition), Run calls stop (which cancels the
// shared context driving the downloader and geoextent stages upstream)
// and then keeps draining in until it closes; commits are not tied to
// ctx's cancellation, so every result that reaches in is committed.
func Run(ctx context.Context, cfg Config, in <-chan pipeline.ExtractionResult, stop context.CancelFunc) error {
	start := time.Now()
	commitCtx := context.WithoutCancel(ctx)
	states := make(map[normalize.Kind]*providerState, len(cfg.Budgets))
	for k := range cfg.Budgets {
		states[k] = &providerState{}
	}
	stopSignaled := false

	for r := range in {
		if err := commit(commitCtx, cfg, r, states); err != nil {
			return err
		}
		if cfg.Progress {
			printProgress(start, states)
		}
		checkBudgets(cfg, states, start)
		if !stopSignaled && allStopped(cfg, states) {
			stopSignaled = true
			stop()
		}
	}
	return nil
}

func allStopped(cfg Config, states map[normalize.Kind]*providerState) bool {
	for kind := range cfg.Budgets {
		if !states[kind].stopped {
			return false
		}
	}
	return true
}

func commit(ctx context.Context, cfg Config, r pipeline.ExtractionResult, states map[normalize.Kind]*providerState) error {
	st := states[r.ContentProvider]
	if st == nil {
		st = &providerState{}
		states[r.ContentProvider] = st
	}

	now := time.Now()
	result := store.AnalysisResult{
		Key:                 r.Key,
		ContentProvider:     r.ContentProvider,
		SumSize:             r.SumSize,
		FilesHTTPStatusCode: r.FilesStatus,
		Bbox:                r.Bbox,
		Timeout:             r.Timeout,
	}
	if err := cfg.Store.CommitAnalysisResult(ctx, result, now); err != nil {
		return fmt.Errorf("analyzer: committing key %d: %w", r.Key, err)
	}

	st.processed++
	st.volume += r.SumSize
	if r.Bbox != nil {
		st.withBbox++
	}
	if r.Timeout != nil {
		st.timeouts++
	}
	return nil
}

// checkBudgets applies the per-provider shutdown policy: a provider stops
// as soon as either trigger fires, the wall-clock budget (default 10h)
// or, when ProcessedThreshold is positive, the processed-counter
// threshold.
func checkBudgets(cfg Config, states map[normalize.Kind]*providerState, start time.Time) {
	elapsed := time.Since(start)
	for kind, budget := range cfg.Budgets {
		st := states[kind]
		if st.stopped {
			continue
		}
		wallBudget := budget.WallClockBudget
		if wallBudget <= 0 {
			wallBudget = 10 * time.Hour
		}
		if elapsed >= wallBudget {
			st.stopped = true
			continue
		}
		if budget.ProcessedThreshold > 0 && st.processed >= budget.ProcessedThreshold {
			st.stopped = true
		}
	}
}

func printProgress(start time.Time, states map[normalize.Kind]*providerState) {
	line := fmt.Sprintf("runtime=%s", time.Since(start).Round(time.Second))
	for kind, st := range states {
		line += fmt.Sprintf(" %s[bbox=%d/%d vol=%s]", kind, st.withBbox, st.processed, humanize.Bytes(uint64(st.volume)))
	}
	fmt.Fprintf(os.Stdout, "\r\033[K%s", line)
}
