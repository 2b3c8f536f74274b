// Package harvester implements the metadata harvester pipeline (C5): one
// input queue and one worker per provider feeding a shared result
// channel, drained by a single checkpointing consumer.
package harvester

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ladrex/geoextent-harvest/internal/checkpoint"
	"github.com/ladrex/geoextent-harvest/internal/normalize"
	"github.com/ladrex/geoextent-harvest/internal/provider"
	"github.com/ladrex/geoextent-harvest/internal/store"
)

// Config drives one Run.
type Config struct {
	Identifiers         map[normalize.Kind][]string
	Checkpoint          checkpoint.Checkpoint
	CheckpointPath      string
	Store               *store.Store
	Registry            provider.Registry
	AccessTokens        map[normalize.Kind]string
	SuccessfulThreshold int64 // default 100000, per provider
	BatchSize           int   // default 1000
}

// Result summarizes one Run.
type Result struct {
	Checkpoint checkpoint.Checkpoint
	Duration   time.Duration
}

type harvestResult struct {
	kind       normalize.Kind
	identifier string
	canonical  *normalize.CanonicalRecord
	raw        normalize.RawMetadata
	statusCode *int
	notFound   bool
}

// Run drives the full harvester pipeline to completion: it terminates
// once the result channel has been fully drained, which happens when
// every provider's stop signal is set or every identifier list has been
// worked through.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.SuccessfulThreshold <= 0 {
		cfg.SuccessfulThreshold = 100000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.Checkpoint == nil {
		cfg.Checkpoint = checkpoint.Checkpoint{}
	}

	start := time.Now()

	kinds := make([]normalize.Kind, 0, len(cfg.Identifiers))
	for k := range cfg.Identifiers {
		kinds = append(kinds, k)
	}

	allAlreadyDone := true
	for _, k := range kinds {
		if cfg.Checkpoint.Get(k).CounterSuccessful < cfg.SuccessfulThreshold {
			allAlreadyDone = false
			break
		}
	}
	if allAlreadyDone && time.Since(start) < 10*time.Second {
		slog.Info("harvester_already_complete", "elapsed", time.Since(start).String())
		return Result{Checkpoint: cfg.Checkpoint, Duration: time.Since(start)}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan harvestResult, 256)
	var wg sync.WaitGroup
	var activeWorkers int64

	for _, kind := range kinds {
		queue := make(chan string, 64)
		ids := cfg.Identifiers[kind]
		skip := cfg.Checkpoint.Get(kind).Processed()

		wg.Add(1)
		go feedQueue(ctx, queue, ids, skip, &wg)

		wg.Add(1)
		atomic.AddInt64(&activeWorkers, 1)
		go worker(ctx, kind, queue, cfg.Registry[kind], cfg.AccessTokens[kind], results, &wg, &activeWorkers)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	if err := consume(ctx, cfg, results, cancel, &activeWorkers); err != nil {
		return Result{}, err
	}

	return Result{Checkpoint: cfg.Checkpoint, Duration: time.Since(start)}, nil
}

func feedQueue(ctx context.Context, queue chan<- string, ids []string, skip int64, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(queue)
	for i, id := range ids {
		if int64(i) < skip {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case queue <- id:
		}
	}
}

func worker(ctx context.Context, kind normalize.Kind, queue <-chan string, adapter provider.Adapter, accessToken string, results chan<- harvestResult, wg *sync.WaitGroup, activeWorkers *int64) {
	defer wg.Done()
	defer atomic.AddInt64(activeWorkers, -1)

	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-queue:
			if !ok {
				return
			}
			r := fetchOne(ctx, kind, adapter, id, accessToken)
			select {
			case <-ctx.Done():
				return
			case results <- r:
			}
		}
	}
}

func fetchOne(ctx context.Context, kind normalize.Kind, adapter provider.Adapter, id string, accessToken string) harvestResult {
	raw, status, err := adapter.FetchMetadata(ctx, id, accessToken)
	if err != nil {
		slog.Debug("harvest_fetch_error", "provider", kind, "identifier", id, "error", err)
		return harvestResult{kind: kind, identifier: id, statusCode: nil, notFound: false}
	}
	if status != nil {
		return harvestResult{kind: kind, identifier: id, statusCode: status}
	}
	if raw == nil {
		return harvestResult{kind: kind, identifier: id, notFound: true}
	}
	canonical := normalize.Normalize(kind, id, raw)
	return harvestResult{kind: kind, identifier: id, canonical: &canonical, raw: raw}
}

// consume is the single checkpointing consumer: it applies the commit
// policy (batch of 1000, checkpoint-then-insert) and the stop policy
// (counter_successful threshold per provider).
func consume(ctx context.Context, cfg Config, results <-chan harvestResult, stop context.CancelFunc, activeWorkers *int64) error {
	var pending []store.HarvestedRecord
	stopped := false
	lastLog := time.Now()
	storeCtx := context.WithoutCancel(ctx)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := checkpoint.Save(cfg.CheckpointPath, cfg.Checkpoint); err != nil {
			return fmt.Errorf("harvester: saving checkpoint: %w", err)
		}
		if err := cfg.Store.InsertCanonical(storeCtx, pending); err != nil {
			return fmt.Errorf("harvester: inserting batch: %w", err)
		}
		pending = pending[:0]
		return nil
	}

	for r := range results {
		pc := cfg.Checkpoint.Get(r.kind)

		switch {
		case r.canonical != nil:
			pc.RecordSuccess(r.identifier)
			pending = append(pending, store.HarvestedRecord{Canonical: *r.canonical, Raw: r.raw})
		case r.notFound:
			pc.RecordFailure(r.identifier, "undefined")
		case r.statusCode != nil:
			pc.RecordFailure(r.identifier, strconv.Itoa(*r.statusCode))
		default:
			pc.RecordFailure(r.identifier, "undefined")
		}

		if len(pending) >= cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}

		if time.Since(lastLog) >= 30*time.Second {
			lastLog = time.Now()
			for kind := range cfg.Identifiers {
				kpc := cfg.Checkpoint.Get(kind)
				slog.Info("harvester_progress", "provider", kind,
					"successful", kpc.CounterSuccessful, "failed", kpc.CounterFailed,
					"active_workers", atomic.LoadInt64(activeWorkers))
			}
		}

		if !stopped && allProvidersDone(cfg) {
			stopped = true
			stop()
		}
	}

	return flush()
}

func allProvidersDone(cfg Config) bool {
	for k := range cfg.Identifiers {
		if cfg.Checkpoint.Get(k).CounterSuccessful < cfg.SuccessfulThreshold {
			return false
		}
	}
	return true
}
