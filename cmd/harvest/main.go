// Command harvest runs the metadata harvester pipeline (C5): for each
// content provider it reads the OpenAIRE-bucketed record file produced
// by cmd/sort-openaire, extracts canonical identifiers, fetches each
// dataset's metadata, normalizes it, and commits canonical records plus
// a resumable checkpoint to the durable store.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ladrex/geoextent-harvest/internal/checkpoint"
	"github.com/ladrex/geoextent-harvest/internal/config"
	"github.com/ladrex/geoextent-harvest/internal/harvester"
	"github.com/ladrex/geoextent-harvest/internal/httpclient"
	"github.com/ladrex/geoextent-harvest/internal/normalize"
	"github.com/ladrex/geoextent-harvest/internal/openaire"
	"github.com/ladrex/geoextent-harvest/internal/provider"
	"github.com/ladrex/geoextent-harvest/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to a YAML config file (optional; env GEOEXTENT_* and flags layer on top)")
		openaireIn = flag.String("openaire-dir", "", "Directory of <provider>.jsonl files produced by sort-openaire")
		logFormat  = flag.String("log-format", "text", "Logging format: text|json")
		logLevel   = flag.String("log-level", "info", "Logging level: debug|info|warn|error")
		batchSize  = flag.Int("batch-size", 1000, "Records committed per checkpoint+store batch")
		threshold  = flag.Int64("successful-threshold", 100000, "Per-provider counter_successful stop threshold")
	)
	flag.Parse()

	setupLogging(*logFormat, *logLevel)

	if *openaireIn == "" {
		slog.Error("missing required flag -openaire-dir")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		slog.Error("store_open_failed", "path", cfg.StorePath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ck, err := checkpoint.Load(cfg.CheckpointPath)
	if err != nil {
		slog.Error("checkpoint_load_failed", "path", cfg.CheckpointPath, "error", err)
		os.Exit(1)
	}

	accessTokens := map[normalize.Kind]string{}
	clients := map[normalize.Kind]*httpclient.Client{
		normalize.Dryad:    httpclient.New(httpclient.Options{Provider: httpclient.ProviderDryad}),
		normalize.Figshare: httpclient.New(httpclient.Options{Provider: httpclient.ProviderFigshare}),
		normalize.Zenodo:   httpclient.New(httpclient.Options{Provider: httpclient.ProviderZenodo}),
	}
	for name, pc := range cfg.Providers {
		kind := normalize.Kind(strings.ToLower(name))
		accessTokens[kind] = pc.AccessToken
	}

	registry := provider.NewRegistry(func(kind normalize.Kind) *httpclient.Client { return clients[kind] })

	identifiers, err := extractIdentifiers(*openaireIn, registry)
	if err != nil {
		slog.Error("identifier_extraction_failed", "error", err)
		os.Exit(1)
	}

	ck, err = st.ReconcileCheckpoint(context.Background(), ck)
	if err != nil {
		slog.Error("checkpoint_reconcile_failed", "error", err)
		os.Exit(1)
	}

	successfulThreshold := cfg.SuccessfulThreshold
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "successful-threshold" {
			successfulThreshold = *threshold
		}
	})

	result, err := harvester.Run(context.Background(), harvester.Config{
		Identifiers:         identifiers,
		Checkpoint:          ck,
		CheckpointPath:      cfg.CheckpointPath,
		Store:               st,
		Registry:            registry,
		AccessTokens:        accessTokens,
		SuccessfulThreshold: successfulThreshold,
		BatchSize:           *batchSize,
	})
	if err != nil {
		slog.Error("harvester_run_failed", "error", err)
		os.Exit(1)
	}

	slog.Info("harvester_done", "elapsed", result.Duration.String())
}

// extractIdentifiers reads every "<provider>.jsonl" file under dir and
// runs each record through that provider's adapter, per spec.md §4.1.
func extractIdentifiers(dir string, registry provider.Registry) (map[normalize.Kind][]string, error) {
	out := make(map[normalize.Kind][]string)
	for kind, adapter := range registry {
		path := dir + "/" + string(kind) + ".jsonl"
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 1<<20), 64<<20)
		var ids []string
		for scanner.Scan() {
			var rec openaire.Record
			if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
				continue
			}
			if id, ok := adapter.ExtractIdentifier(rec); ok {
				ids = append(ids, id)
			}
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", path, err)
		}
		out[kind] = ids
	}
	return out, nil
}

func setupLogging(format, level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error", "err":
		lvl = slog.LevelError
	}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}
