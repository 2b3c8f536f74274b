package geoextent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// probeRequest/probeResponse are the JSON contract spoken over stdin/
// stdout with cmd/geoextent-probe.
type probeRequest struct {
	Dir         string `json:"dir"`
	SoftTimeout int64  `json:"soft_timeout_seconds"`
}

type probeResponse struct {
	Bbox  *[4]float64 `json:"bbox,omitempty"`
	Error string      `json:"error,omitempty"`
}

// SubprocessExtractor runs the real extraction logic out-of-process via
// cmd/geoextent-probe, mirroring threaded_dataset_analysis.py's
// multiprocessing.Process isolation: the extraction library's own
// internal timeout does not reliably interrupt CPU-bound paths, so the
// hard wall-clock limit is enforced here by killing the OS process
// rather than relying on in-process cancellation (spec.md §9).
type SubprocessExtractor struct {
	// BinaryPath is the path to the cmd/geoextent-probe executable.
	BinaryPath string
}

func (s SubprocessExtractor) Extract(ctx context.Context, dir string, softTimeout time.Duration) (*[4]float64, error) {
	req, err := json.Marshal(probeRequest{Dir: dir, SoftTimeout: int64(softTimeout.Seconds())})
	if err != nil {
		return nil, fmt.Errorf("geoextent: encoding probe request: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.BinaryPath)
	cmd.Stdin = bytes.NewReader(req)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		// ctx's deadline firing kills the process via CommandContext;
		// the caller (process in geoextent.go) distinguishes that case
		// by its own hardCtx.Done() select branch, not by this error.
		return nil, fmt.Errorf("geoextent: probe subprocess: %w", err)
	}

	var resp probeResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("geoextent: decoding probe response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("geoextent: probe: %s", resp.Error)
	}
	return resp.Bbox, nil
}
