// Command geoextent-probe runs one extraction call in its own process.
// It is never invoked directly by an operator; internal/geoextent's
// SubprocessExtractor exec.CommandContexts it so the hard wall-clock
// timeout can kill a runaway extraction without taking the rest of the
// analyzer pipeline down with it.
package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ladrex/geoextent-harvest/internal/geoextent"
)

type request struct {
	Dir         string `json:"dir"`
	SoftTimeout int64  `json:"soft_timeout_seconds"`
}

type response struct {
	Bbox  *[4]float64 `json:"bbox,omitempty"`
	Error string      `json:"error,omitempty"`
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		emit(response{Error: "reading request: " + err.Error()})
		os.Exit(1)
	}

	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		emit(response{Error: "decoding request: " + err.Error()})
		os.Exit(1)
	}

	// the hard wall-clock limit lives in the parent's exec.CommandContext,
	// which kills this process outright; this context only needs to exist.
	scanner := geoextent.DirectoryScanner{}
	bbox, err := scanner.Extract(context.Background(), req.Dir, time.Duration(req.SoftTimeout)*time.Second)
	if err != nil {
		emit(response{Error: err.Error()})
		os.Exit(1)
	}
	emit(response{Bbox: bbox})
}

func emit(r response) {
	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(r); err != nil {
		slog.Error("geoextent_probe_encode_failed", "error", err)
	}
}
