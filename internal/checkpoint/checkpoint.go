// Package checkpoint persists the harvester's per-provider progress
// record, overwritten atomically on each commit.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ladrex/geoextent-harvest/internal/normalize"
)

// ProviderCheckpoint is one provider's progress record.
type ProviderCheckpoint struct {
	CounterSuccessful  int64               `json:"counter_successful"`
	CounterFailed      int64               `json:"counter_failed"`
	DatasetsSuccessful []string            `json:"datasets_successful"`
	DatasetsFailed     []string            `json:"datasets_failed"`
	HTTPError          map[string][]string `json:"http_error"`
}

// Checkpoint is the full blob, one ProviderCheckpoint per provider.
type Checkpoint map[normalize.Kind]*ProviderCheckpoint

// Get returns the provider's checkpoint, creating an empty one if absent.
func (c Checkpoint) Get(kind normalize.Kind) *ProviderCheckpoint {
	pc, ok := c[kind]
	if !ok {
		pc = &ProviderCheckpoint{HTTPError: map[string][]string{}}
		c[kind] = pc
	}
	return pc
}

// RecordSuccess appends id to the provider's successful list.
func (pc *ProviderCheckpoint) RecordSuccess(id string) {
	pc.CounterSuccessful++
	pc.DatasetsSuccessful = append(pc.DatasetsSuccessful, id)
}

// RecordFailure appends id to the provider's failed list and buckets it
// under the given status token (an HTTP status code as a string, or
// "undefined" for a structured not-found or non-HTTP failure).
func (pc *ProviderCheckpoint) RecordFailure(id string, statusToken string) {
	pc.CounterFailed++
	pc.DatasetsFailed = append(pc.DatasetsFailed, id)
	if pc.HTTPError == nil {
		pc.HTTPError = map[string][]string{}
	}
	pc.HTTPError[statusToken] = append(pc.HTTPError[statusToken], id)
}

// Processed is the count used for the resume skip: successful+failed, per
// spec.md's "resume skip uses successful+failed" (see DESIGN.md Open
// Question 1 — intentionally not reconciled with the successful-only stop
// condition).
func (pc *ProviderCheckpoint) Processed() int64 {
	return pc.CounterSuccessful + pc.CounterFailed
}

// New returns an empty Checkpoint with an entry for each given provider.
func New(kinds ...normalize.Kind) Checkpoint {
	ck := make(Checkpoint, len(kinds))
	for _, k := range kinds {
		ck.Get(k)
	}
	return ck
}

// Load reads the checkpoint blob at path. A missing file is not an error:
// it returns an empty Checkpoint, matching a fresh start.
func Load(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: reading %s: %w", path, err)
	}
	var ck Checkpoint
	if err := json.Unmarshal(data, &ck); err != nil {
		return nil, fmt.Errorf("checkpoint: decoding %s: %w", path, err)
	}
	return ck, nil
}

// Save writes the checkpoint blob via write-temp-then-rename, the same
// atomic-write shape the teacher's index walker uses for its sidecar
// files and its manifest writer.
func Save(path string, ck Checkpoint) error {
	data, err := json.MarshalIndent(ck, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: encoding: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("checkpoint: creating dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("checkpoint: renaming %s to %s: %w", tmp, path, err)
	}
	return nil
}
