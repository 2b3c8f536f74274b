// Package downloader implements the dataset downloader (C6): one worker
// pool per provider pulls analysis candidates from the durable store and
// stages their files into a scratch directory, using Dryad's bulk-zip
// shortcut where eligible and falling back to sequential per-file GETs
// everywhere else.
package downloader

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ladrex/geoextent-harvest/internal/httpclient"
	"github.com/ladrex/geoextent-harvest/internal/normalize"
	"github.com/ladrex/geoextent-harvest/internal/pipeline"
	"github.com/ladrex/geoextent-harvest/internal/store"
)

// dryadBulkZipCeiling is the sum_size below which the bulk-zip path is
// attempted at all, per spec.md §4.5.
const dryadBulkZipCeiling = 200_000_000

// dryadBulkZipTooLarge is the literal response body Dryad returns when a
// dataset is too large for on-demand zip packaging.
const dryadBulkZipTooLarge = "The dataset is too large for zip file generation. Please download each file individually."

// Metrics, registered once per process via StartMetrics.
var (
	metOnce     sync.Once
	metAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "downloader_file_attempts_total", Help: "File download attempts by provider and outcome"},
		[]string{"provider", "outcome"},
	)
	metBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "downloader_bytes_total", Help: "Bytes streamed to scratch directories"},
		[]string{"provider"},
	)
	metCandidates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "downloader_queue_depth", Help: "Pending analysis candidates fetched but not yet handed to geoextent"},
		[]string{"provider"},
	)
)

// StartMetrics registers the downloader's Prometheus collectors. Safe to
// call multiple times; registration happens once.
func StartMetrics(reg *prometheus.Registry) {
	metOnce.Do(func() {
		reg.MustRegister(metAttempts, metBytes, metCandidates)
	})
}

// ProviderConfig tunes one provider's worker pool.
type ProviderConfig struct {
	Workers        int
	SizeThreshold  int64 // default: that provider's quantile.NewP2Estimator(0.95) output
	CandidateBatch int   // default 50
	PollInterval   time.Duration
}

// Config drives Run.
type Config struct {
	Store          *store.Store
	HTTPClients    map[normalize.Kind]*httpclient.Client
	ScratchRoot    string
	Providers      map[normalize.Kind]ProviderConfig
	ArchiveScratch bool   // when set, bundle each scratch dir into ArchiveDir before release
	ArchiveDir     string // target directory for -archive-scratch bundles
	HasherBinary   string // path to the Archive-Hasher binary; empty disables fingerprinting
}

// Run starts one feeder+worker-pool per configured provider and returns
// the shared output channel geoextent consumes from. Run returns as soon
// as the goroutines are spawned; the channel closes once ctx is
// cancelled and every worker has drained.
func Run(ctx context.Context, cfg Config) (<-chan pipeline.DownloadResult, error) {
	if cfg.ScratchRoot == "" {
		return nil, errors.New("downloader: ScratchRoot is required")
	}
	if err := os.MkdirAll(cfg.ScratchRoot, 0o755); err != nil {
		return nil, fmt.Errorf("downloader: creating scratch root: %w", err)
	}

	out := make(chan pipeline.DownloadResult, 64)
	var wg sync.WaitGroup

	for kind, pc := range cfg.Providers {
		if pc.Workers <= 0 {
			pc.Workers = 1
		}
		if pc.CandidateBatch <= 0 {
			pc.CandidateBatch = 50
		}
		if pc.PollInterval <= 0 {
			pc.PollInterval = 5 * time.Second
		}

		candidates := make(chan store.AnalysisCandidate, pc.CandidateBatch)
		wg.Add(1)
		go feedCandidates(ctx, cfg.Store, kind, pc, candidates, &wg)

		for i := 0; i < pc.Workers; i++ {
			wg.Add(1)
			go worker(ctx, kind, cfg, cfg.HTTPClients[kind], candidates, out, &wg)
		}
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

// feedCandidates repeatedly queries the store for unprocessed,
// downloadable rows below the provider's size threshold, pushing them
// onto candidates. It polls because new rows keep arriving from the
// harvester concurrently; it stops only when ctx is cancelled.
func feedCandidates(ctx context.Context, st *store.Store, kind normalize.Kind, pc ProviderConfig, candidates chan<- store.AnalysisCandidate, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(candidates)

	for {
		if ctx.Err() != nil {
			return
		}
		rows, err := st.SelectAnalysisCandidates(ctx, kind, pc.SizeThreshold, pc.CandidateBatch)
		if err != nil {
			slog.Error("downloader_select_candidates_failed", "provider", kind, "error", err)
			rows = nil
		}
		metCandidates.WithLabelValues(string(kind)).Set(float64(len(rows)))

		if len(rows) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pc.PollInterval):
				continue
			}
		}

		for _, row := range rows {
			select {
			case <-ctx.Done():
				return
			case candidates <- row:
			}
		}
	}
}

func worker(ctx context.Context, kind normalize.Kind, cfg Config, client *httpclient.Client, candidates <-chan store.AnalysisCandidate, out chan<- pipeline.DownloadResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candidates:
			if !ok {
				return
			}
			r := downloadOne(ctx, kind, cfg, client, c)
			select {
			case <-ctx.Done():
				r.Scratch.Release()
				return
			case out <- r:
			}
		}
	}
}

func downloadOne(ctx context.Context, kind normalize.Kind, cfg Config, client *httpclient.Client, c store.AnalysisCandidate) pipeline.DownloadResult {
	recordDir, err := os.MkdirTemp(cfg.ScratchRoot, "dataset-*")
	if err != nil {
		slog.Error("downloader_mkdir_failed", "provider", kind, "key", c.Key, "error", err)
		metAttempts.WithLabelValues(string(kind), "error").Inc()
		return pipeline.DownloadResult{Key: c.Key, ContentProvider: kind, SumSize: c.SumSize, Failed: true}
	}
	scratch := pipeline.NewScratchDir(recordDir)

	if kind == normalize.Dryad && c.SumSize < dryadBulkZipCeiling {
		status, err := downloadDryadBulkZip(ctx, client, c, recordDir)
		switch {
		case err == nil:
			metAttempts.WithLabelValues(string(kind), "ok").Inc()
			finalizeScratch(cfg, kind, scratch)
			return pipeline.DownloadResult{Key: c.Key, ContentProvider: kind, DOI: c.DOI, SumSize: c.SumSize, FilesStatus: status, Scratch: scratch}
		case errors.Is(err, errBulkZipUnavailable):
			slog.Debug("downloader_bulk_zip_fallback", "provider", kind, "key", c.Key)
			// fall through to per-file downloads below
		default:
			metAttempts.WithLabelValues(string(kind), "error").Inc()
			scratch.Release()
			return pipeline.DownloadResult{Key: c.Key, ContentProvider: kind, SumSize: c.SumSize, FilesStatus: status, Failed: true}
		}
	}

	statuses := make([]int, len(c.Files))
	anyOK := false
	for i, f := range c.Files {
		name, fileURL := f[0], f[1]
		code, err := downloadOneFile(ctx, client, fileURL, filepath.Join(recordDir, sanitizeFileName(name)))
		if err != nil {
			slog.Debug("downloader_file_failed", "provider", kind, "key", c.Key, "file", name, "error", err)
			statuses[i] = 0
			continue
		}
		statuses[i] = code
		if code >= 200 && code < 300 {
			anyOK = true
		}
	}

	if !anyOK && len(c.Files) > 0 {
		metAttempts.WithLabelValues(string(kind), "error").Inc()
		scratch.Release()
		return pipeline.DownloadResult{Key: c.Key, ContentProvider: kind, SumSize: c.SumSize, FilesStatus: intsToAny(statuses), Failed: true}
	}

	metAttempts.WithLabelValues(string(kind), "ok").Inc()
	finalizeScratch(cfg, kind, scratch)
	return pipeline.DownloadResult{Key: c.Key, ContentProvider: kind, DOI: c.DOI, SumSize: c.SumSize, FilesStatus: intsToAny(statuses), Scratch: scratch}
}

var errBulkZipUnavailable = errors.New("downloader: dryad bulk zip unavailable for this dataset")

// downloadDryadBulkZip streams Dryad's whole-dataset zip into one file
// under dir. It returns errBulkZipUnavailable on the documented 4xx
// fallback body so the caller can retry per-file.
func downloadDryadBulkZip(ctx context.Context, client *httpclient.Client, c store.AnalysisCandidate, dir string) (int, error) {
	doi := strings.TrimPrefix(c.DOI, "doi:")
	endpoint := "https://datadryad.org/api/v2/datasets/" + url.PathEscape(doi) + "/download"

	resp, err := client.Get(ctx, endpoint, httpclient.GetOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if resp.Body != nil {
			resp.Body.Close()
		}
	}()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if strings.Contains(string(body), dryadBulkZipTooLarge) {
			return resp.StatusCode, errBulkZipUnavailable
		}
		return resp.StatusCode, fmt.Errorf("downloader: dryad bulk zip: HTTP %d", resp.StatusCode)
	}

	out, err := os.Create(filepath.Join(dir, "dataset.zip"))
	if err != nil {
		return 0, err
	}
	defer out.Close()

	n, err := streamCopy(out, resp.Body)
	if err != nil {
		return 0, err
	}
	metBytes.WithLabelValues(string(normalize.Dryad)).Add(float64(n))
	return resp.StatusCode, nil
}

func downloadOneFile(ctx context.Context, client *httpclient.Client, fileURL, destPath string) (int, error) {
	resp, err := client.Get(ctx, fileURL, httpclient.GetOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if resp.Body != nil {
			resp.Body.Close()
		}
	}()
	if resp.Body == nil {
		return resp.StatusCode, nil
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, nil
	}

	f, err := os.Create(destPath)
	if err != nil {
		return resp.StatusCode, err
	}
	defer f.Close()
	if _, err := streamCopy(f, resp.Body); err != nil {
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}

// streamCopy writes in fixed-size chunks rather than relying on
// io.Copy's default internal buffer sizing, per spec.md §4.5's
// "streaming body reader writing fixed-size chunks".
func streamCopy(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 256*1024)
	return io.CopyBuffer(dst, src, buf)
}

func sanitizeFileName(name string) string {
	name = filepath.Base(name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

func intsToAny(statuses []int) any {
	out := make([]any, len(statuses))
	for i, s := range statuses {
		if s == 0 {
			out[i] = "undefined"
			continue
		}
		out[i] = s
	}
	return out
}

// finalizeScratch optionally bundles a retained scratch directory into
// a .tar.zst archive and fingerprints it with the Archive-Hasher binary
// before handing the directory off downstream, per SPEC_FULL §2's
// -archive-scratch mode.
func finalizeScratch(cfg Config, kind normalize.Kind, scratch pipeline.ScratchDir) {
	if !cfg.ArchiveScratch {
		return
	}
	if err := bundleScratch(cfg.ArchiveDir, kind, scratch.Path()); err != nil {
		slog.Warn("downloader_archive_failed", "provider", kind, "dir", scratch.Path(), "error", err)
	}
	if cfg.HasherBinary != "" {
		if err := fingerprintScratch(cfg.HasherBinary, scratch.Path()); err != nil {
			slog.Warn("downloader_fingerprint_failed", "provider", kind, "dir", scratch.Path(), "error", err)
		}
	}
}

// bundleScratch tars+zstd-compresses every regular file directly under
// dir (subdirectories are skipped) into a single archive named after the
// scratch directory's basename.
func bundleScratch(archiveDir string, kind normalize.Kind, dir string) error {
	if archiveDir == "" {
		return nil
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return err
	}
	name := filepath.Join(archiveDir, string(kind)+"-"+filepath.Base(dir)+".tar.zst")
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer zw.Close()
	tw := tar.NewWriter(zw)
	defer tw.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = e.Name()
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		src, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		if _, err := io.Copy(tw, src); err != nil {
			src.Close()
			return err
		}
		src.Close()
	}
	return nil
}

// fingerprintScratch shells out to the standalone Archive-Hasher
// command, which writes its own JSON manifest alongside dir.
func fingerprintScratch(binary, dir string) error {
	cmd := exec.Command(binary, "-dir", dir)
	return cmd.Run()
}
