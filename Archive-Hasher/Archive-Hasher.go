// =========================================================
// Script Name: Archive-Hasher.go
// Description: Fingerprints every file under a dataset-analysis scratch
//              directory with SHA-256, BLAKE3, and XXH3, and writes a JSON
//              manifest alongside it. Run standalone against a retained
//              scratch directory (see internal/downloader's -archive-scratch
//              mode) for reproducibility audits of what geoextent actually
//              probed.
// Author: Based on APTlantis Team's dir_hasher.go
//
// Dependencies:
// - github.com/zeebo/xxh3
// - lukechampine.com/blake3
//
// Usage:
//   go run Archive-Hasher.go -dir /path/to/scratch [options]
// =========================================================

package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
	"lukechampine.com/blake3"
)

var (
	dirPath     string
	outPath     string
	logFormat   string
	logLevel    string
	hashWorkers int
)

func init() {
	flag.StringVar(&dirPath, "dir", "", "Scratch directory to fingerprint")
	flag.StringVar(&outPath, "out", "", "Manifest output path (default: <dir>.digest.json)")
	flag.StringVar(&logFormat, "log-format", "text", "Logging format: text|json")
	flag.StringVar(&logLevel, "log-level", "info", "Logging level: debug|info|warn|error")
	flag.IntVar(&hashWorkers, "hash-workers", runtime.NumCPU(), "Number of concurrent file readers")
	flag.Parse()

	lvl := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error", "err":
		lvl = slog.LevelError
	}
	var handler slog.Handler
	if strings.EqualFold(logFormat, "json") {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	if dirPath == "" {
		slog.Error("missing required flag -dir")
		os.Exit(2)
	}
	if outPath == "" {
		outPath = strings.TrimRight(dirPath, string(filepath.Separator)) + ".digest.json"
	}
}

// FileDigest holds the three content hashes computed for one scratch file.
type FileDigest struct {
	RelPath string `json:"rel_path"`
	Size    int64  `json:"size"`
	SHA256  string `json:"sha256"`
	BLAKE3  string `json:"blake3"`
	XXH3    string `json:"xxh3"`
}

// Manifest is the JSON document written alongside a retained scratch directory.
type Manifest struct {
	RootDir     string       `json:"root_dir"`
	GeneratedAt time.Time    `json:"generated_at"`
	TotalFiles  int          `json:"total_files"`
	TotalSize   int64        `json:"total_size"`
	Files       []FileDigest `json:"files"`
}

func main() {
	start := time.Now()

	var paths []string
	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			slog.Warn("access path error; skipping", "path", path, "err", err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		slog.Error("walk failed", "dir", dirPath, "err", err)
		os.Exit(1)
	}

	if hashWorkers < 1 {
		hashWorkers = 1
	}

	digests := make([]FileDigest, len(paths))
	jobs := make(chan int, len(paths))
	var wg sync.WaitGroup
	var totalSize int64

	for w := 0; w < hashWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				d, err := digestFile(dirPath, paths[idx])
				if err != nil {
					slog.Warn("digest failed; skipping file", "path", paths[idx], "err", err)
					continue
				}
				digests[idx] = d
			}
		}()
	}
	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	out := make([]FileDigest, 0, len(digests))
	for _, d := range digests {
		if d.RelPath == "" {
			continue
		}
		out = append(out, d)
		totalSize += d.Size
	}

	manifest := Manifest{
		RootDir:     dirPath,
		GeneratedAt: start.UTC(),
		TotalFiles:  len(out),
		TotalSize:   totalSize,
		Files:       out,
	}

	f, err := os.Create(outPath)
	if err != nil {
		slog.Error("create manifest failed", "path", outPath, "err", err)
		os.Exit(1)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(manifest); err != nil {
		slog.Error("write manifest failed", "err", err)
		os.Exit(1)
	}

	slog.Info("scratch_digest_done", "files", len(out), "total_size", totalSize, "elapsed", time.Since(start).String(), "manifest", outPath)
	fmt.Println(outPath)
}

func digestFile(root, path string) (FileDigest, error) {
	relPath, err := filepath.Rel(root, path)
	if err != nil {
		relPath = path
	}

	f, err := os.Open(path)
	if err != nil {
		return FileDigest{}, err
	}
	defer f.Close()

	sha256Hasher := sha256.New()
	blake3Hasher := blake3.New(32, nil)
	xxh3Hasher := xxh3.New()

	mw := io.MultiWriter(sha256Hasher, blake3Hasher, xxh3Hasher)
	size, err := io.Copy(mw, f)
	if err != nil {
		return FileDigest{}, err
	}

	return FileDigest{
		RelPath: filepath.ToSlash(relPath),
		Size:    size,
		SHA256:  hex.EncodeToString(sha256Hasher.Sum(nil)),
		BLAKE3:  hex.EncodeToString(blake3Hasher.Sum(nil)),
		XXH3:    hex.EncodeToString(xxh3Hasher.Sum(nil)),
	}, nil
}
