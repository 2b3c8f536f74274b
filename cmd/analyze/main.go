// Command analyze runs the dataset analyzer pipeline: the downloader
// (C6) stages each candidate's files into a scratch directory, geoextent
// (C7) extracts a bounding box in an isolated subprocess, and the
// analyzer (C8) commits results and enforces each provider's shutdown
// policy. It supersedes the crate-mirroring download-crates binary.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ladrex/geoextent-harvest/internal/analyzer"
	"github.com/ladrex/geoextent-harvest/internal/config"
	"github.com/ladrex/geoextent-harvest/internal/downloader"
	"github.com/ladrex/geoextent-harvest/internal/geoextent"
	"github.com/ladrex/geoextent-harvest/internal/httpclient"
	"github.com/ladrex/geoextent-harvest/internal/normalize"
	"github.com/ladrex/geoextent-harvest/internal/quantile"
	"github.com/ladrex/geoextent-harvest/internal/store"
)

func main() {
	var (
		configPath     = flag.String("config", "", "Path to a YAML config file")
		logFormat      = flag.String("log-format", "text", "Logging format: text|json")
		logLevel       = flag.String("log-level", "info", "Logging level: debug|info|warn|error")
		listenAddr     = flag.String("listen", "", "Address to serve /metrics on; empty disables the server")
		probeBinary    = flag.String("geoextent-probe", "", "Path to the geoextent-probe binary; empty uses the in-process DirectoryScanner")
		archiveScratch = flag.Bool("archive-scratch", false, "Bundle each scratch directory with zstd + fingerprint it before release")
		archiveDir     = flag.String("archive-dir", "", "Destination directory for -archive-scratch bundles")
		hasherBinary   = flag.String("hasher-binary", "", "Path to the Archive-Hasher binary; required with -archive-scratch")
		progress       = flag.Bool("progress", true, "Print a live progress line to stdout")
	)
	flag.Parse()

	setupLogging(*logFormat, *logLevel)

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	downloader.StartMetrics(reg)
	if *listenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: *listenAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics_server_failed", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			srv.Shutdown(shutdownCtx)
		}()
	}

	kinds := []normalize.Kind{normalize.Dryad, normalize.Figshare, normalize.Zenodo}
	clients := map[normalize.Kind]*httpclient.Client{
		normalize.Dryad:    httpclient.New(httpclient.Options{Provider: httpclient.ProviderDryad}),
		normalize.Figshare: httpclient.New(httpclient.Options{Provider: httpclient.ProviderFigshare}),
		normalize.Zenodo:   httpclient.New(httpclient.Options{Provider: httpclient.ProviderZenodo}),
	}

	dlProviders := make(map[normalize.Kind]downloader.ProviderConfig, len(kinds))
	budgets := make(map[normalize.Kind]analyzer.ProviderBudget, len(kinds))
	for _, kind := range kinds {
		pc := cfg.Providers[string(kind)]
		threshold := pc.SizeThreshold
		if threshold <= 0 {
			threshold = estimateSizeThreshold(ctx, st, kind)
		}
		dlProviders[kind] = downloader.ProviderConfig{
			Workers:       4,
			SizeThreshold: threshold,
		}

		wallClock := time.Duration(cfg.WallClockBudgetSecs) * time.Second
		countThreshold := pc.CountThreshold
		if countThreshold <= 0 {
			countThreshold = cfg.SuccessfulThreshold
		}
		budgets[kind] = analyzer.ProviderBudget{
			ProcessedThreshold: countThreshold,
			WallClockBudget:    wallClock,
		}
	}

	downloads, err := downloader.Run(ctx, downloader.Config{
		Store:          st,
		HTTPClients:    clients,
		ScratchRoot:    cfg.ScratchRoot,
		Providers:      dlProviders,
		ArchiveScratch: *archiveScratch,
		ArchiveDir:     *archiveDir,
		HasherBinary:   *hasherBinary,
	})
	if err != nil {
		slog.Error("downloader_start_failed", "error", err)
		os.Exit(1)
	}

	var extractor geoextent.Extractor
	if *probeBinary != "" {
		extractor = geoextent.SubprocessExtractor{BinaryPath: *probeBinary}
	} else {
		extractor = geoextent.DirectoryScanner{}
	}

	extractions := geoextent.Run(ctx, geoextent.Config{
		Extractor: extractor,
		Workers:   8,
	}, downloads)

	if err := analyzer.Run(ctx, analyzer.Config{
		Store:    st,
		Budgets:  budgets,
		Progress: *progress,
	}, extractions, cancel); err != nil {
		slog.Error("analyzer_run_failed", "error", err)
		os.Exit(1)
	}

	if *progress {
		os.Stdout.WriteString("\n")
	}
	slog.Info("analyze_done")
}

// estimateSizeThreshold runs the pending rows for kind through a
// streaming P² quantile estimator to find a default size cutoff, per
// SPEC_FULL.md's domain-stack wiring for internal/quantile.
func estimateSizeThreshold(ctx context.Context, st *store.Store, kind normalize.Kind) int64 {
	est := quantile.NewP2Estimator(0.95)
	n := 0
	err := st.QuantileSizes(ctx, kind, func(sumSize int64) error {
		est.Observe(float64(sumSize))
		n++
		return nil
	})
	if err != nil || n == 0 {
		return 1 << 62 // no data yet: admit everything
	}
	return int64(est.Value())
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
