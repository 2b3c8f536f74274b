// Package store implements the durable record store (C4): the
// append-only dataset log plus the mutable per-provider statistics row,
// backed by modernc.org/sqlite (pure Go, no cgo) with a single-writer
// discipline enforced by routing every mutating call through one
// *sql.DB held by the caller's consumer goroutine.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ladrex/geoextent-harvest/internal/checkpoint"
	"github.com/ladrex/geoextent-harvest/internal/normalize"
)

const schema = `
CREATE TABLE IF NOT EXISTS datasets (
	key INTEGER PRIMARY KEY,
	content_provider TEXT,
	created_date TEXT,
	modified_date TEXT,
	id TEXT,
	doi TEXT,
	url_api TEXT,
	url_html TEXT,
	title TEXT,
	description TEXT,
	keywords TEXT,
	sum_size INTEGER,
	files_types TEXT,
	files TEXT,
	files_http_status_code TEXT,
	geospatial_flag INTEGER,
	download_flag INTEGER,
	processed_flag INTEGER,
	timeout INTEGER,
	bbox TEXT,
	time_result_insert INTEGER,
	metadata TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_datasets_provider_id ON datasets(content_provider, id);
CREATE INDEX IF NOT EXISTS idx_datasets_analysis_candidates ON datasets(content_provider, download_flag, processed_flag, sum_size);

CREATE TABLE IF NOT EXISTS statistics_dataset_analysis (
	id INTEGER PRIMARY KEY,
	content_provider TEXT UNIQUE,
	processed_counter INTEGER NOT NULL DEFAULT 0,
	processed_data_volume INTEGER NOT NULL DEFAULT 0,
	timeout_counter INTEGER NOT NULL DEFAULT 0,
	with_bbox INTEGER NOT NULL DEFAULT 0
);
`

// Store wraps the sqlite connection. All exported methods are safe to
// call only from the single consumer goroutine that owns it, per the
// concurrency model's single-writer discipline — Store does not
// internally serialize calls.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path, enables
// WAL mode, and bootstraps the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: bootstrapping schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// HarvestedRecord pairs a normalized record with the raw metadata it was
// derived from, for persistence into the metadata column.
type HarvestedRecord struct {
	Canonical normalize.CanonicalRecord
	Raw       normalize.RawMetadata
}

// InsertCanonical batch-inserts harvested records. Records whose
// (content_provider, id) already exist are ignored, matching the
// invariant that a CanonicalRecord is committed at most once. The
// persisted metadata column omits normalized_metadata, since the
// canonical columns already carry that data (see DESIGN.md Open
// Question 4).
func (s *Store) InsertCanonical(ctx context.Context, records []HarvestedRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO datasets (
			content_provider, created_date, modified_date, id, doi, url_api, url_html,
			title, description, keywords, sum_size, files_types, files,
			geospatial_flag, download_flag, processed_flag, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`)
	if err != nil {
		return fmt.Errorf("store: preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, hr := range records {
		r := hr.Canonical
		keywords, err := json.Marshal(r.Keywords)
		if err != nil {
			return fmt.Errorf("store: encoding keywords: %w", err)
		}
		filesTypes, err := json.Marshal(r.FilesTypes)
		if err != nil {
			return fmt.Errorf("store: encoding files_types: %w", err)
		}
		files, err := json.Marshal(r.Files)
		if err != nil {
			return fmt.Errorf("store: encoding files: %w", err)
		}

		var metadataJSON []byte
		if hr.Raw != nil {
			stripped := make(normalize.RawMetadata, len(hr.Raw))
			for k, v := range hr.Raw {
				if k == "normalized_metadata" {
					continue
				}
				stripped[k] = v
			}
			metadataJSON, err = json.Marshal(stripped)
			if err != nil {
				return fmt.Errorf("store: encoding metadata: %w", err)
			}
		}

		if _, err := stmt.ExecContext(ctx,
			string(r.ContentProvider), deref(r.CreatedDate), deref(r.ModifiedDate),
			r.ID, r.DOI, r.URLAPI, r.URLHTML, r.Title, r.Description,
			string(keywords), r.SumSize, string(filesTypes), string(files),
			boolToInt(r.GeospatialFlag), boolToInt(r.DownloadFlag), string(metadataJSON),
		); err != nil {
			return fmt.Errorf("store: inserting %s/%s: %w", r.ContentProvider, r.ID, err)
		}
	}

	return tx.Commit()
}

// AnalysisCandidate is one row selected for download+extraction.
type AnalysisCandidate struct {
	Key     int64
	DOI     string
	ID      string
	Files   [][2]string
	SumSize int64
}

// SelectAnalysisCandidates returns unprocessed, downloadable rows for one
// provider whose sum_size is below the given threshold.
func (s *Store) SelectAnalysisCandidates(ctx context.Context, kind normalize.Kind, sizeThreshold int64, limit int) ([]AnalysisCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, doi, id, files, sum_size FROM datasets
		WHERE content_provider = ? AND download_flag = 1 AND processed_flag = 0 AND sum_size < ?
		ORDER BY key
		LIMIT ?`, string(kind), sizeThreshold, limit)
	if err != nil {
		return nil, fmt.Errorf("store: selecting candidates: %w", err)
	}
	defer rows.Close()

	var out []AnalysisCandidate
	for rows.Next() {
		var c AnalysisCandidate
		var filesJSON string
		if err := rows.Scan(&c.Key, &c.DOI, &c.ID, &filesJSON, &c.SumSize); err != nil {
			return nil, fmt.Errorf("store: scanning candidate: %w", err)
		}
		if err := json.Unmarshal([]byte(filesJSON), &c.Files); err != nil {
			return nil, fmt.Errorf("store: decoding files for key %d: %w", c.Key, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AnalysisResult is the analyzer's commit payload for one record, per
// spec.md §4.7's five-step update.
type AnalysisResult struct {
	Key                 int64
	ContentProvider     normalize.Kind
	SumSize             int64
	FilesHTTPStatusCode any // []any or a single int
	Bbox                *[4]float64
	Timeout             *int
}

// CommitAnalysisResult applies the analyzer's five-step update
// (processed_flag, bbox, timeout, files_http_status_code,
// time_result_insert) and the matching ProviderStats update inside one
// transaction, so a crash never leaves the dataset row and the stats row
// inconsistent.
func (s *Store) CommitAnalysisResult(ctx context.Context, r AnalysisResult, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning tx: %w", err)
	}
	defer tx.Rollback()

	var bboxJSON any
	withBboxDelta := 0
	if r.Bbox != nil && validBbox(*r.Bbox) {
		b, err := json.Marshal(r.Bbox)
		if err != nil {
			return fmt.Errorf("store: encoding bbox: %w", err)
		}
		bboxJSON = string(b)
		withBboxDelta = 1
	}

	statusJSON, err := json.Marshal(r.FilesHTTPStatusCode)
	if err != nil {
		return fmt.Errorf("store: encoding files_http_status_code: %w", err)
	}

	var timeoutValue any
	timeoutDelta := 0
	if r.Timeout != nil {
		timeoutValue = *r.Timeout
		timeoutDelta = 1
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE datasets SET
			files_http_status_code = ?, bbox = ?, processed_flag = 1,
			timeout = ?, time_result_insert = ?
		WHERE key = ?`,
		string(statusJSON), bboxJSON, timeoutValue, now.Unix(), r.Key,
	); err != nil {
		return fmt.Errorf("store: updating dataset %d: %w", r.Key, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO statistics_dataset_analysis (content_provider, processed_counter, processed_data_volume, timeout_counter, with_bbox)
		VALUES (?, 1, ?, ?, ?)
		ON CONFLICT(content_provider) DO UPDATE SET
			processed_counter = processed_counter + 1,
			processed_data_volume = processed_data_volume + excluded.processed_data_volume,
			timeout_counter = timeout_counter + excluded.timeout_counter,
			with_bbox = with_bbox + excluded.with_bbox`,
		string(r.ContentProvider), r.SumSize, timeoutDelta, withBboxDelta,
	); err != nil {
		return fmt.Errorf("store: updating stats for %s: %w", r.ContentProvider, err)
	}

	return tx.Commit()
}

// UpsertProviderStats seeds one provider's statistics row with zero
// counters if it is absent; an existing row is left unchanged. Used by
// cmd/migrate to bootstrap the three provider rows.
func (s *Store) UpsertProviderStats(ctx context.Context, kind normalize.Kind) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO statistics_dataset_analysis (content_provider, processed_counter, processed_data_volume, timeout_counter, with_bbox)
		VALUES (?, 0, 0, 0, 0)
		ON CONFLICT(content_provider) DO NOTHING`, string(kind))
	if err != nil {
		return fmt.Errorf("store: seeding stats for %s: %w", kind, err)
	}
	return nil
}

// QuantileSizes streams every sum_size for a provider's downloadable,
// unprocessed rows, for internal/quantile to estimate the size threshold.
func (s *Store) QuantileSizes(ctx context.Context, kind normalize.Kind, fn func(sumSize int64) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sum_size FROM datasets
		WHERE content_provider = ? AND download_flag = 1 AND processed_flag = 0`, string(kind))
	if err != nil {
		return fmt.Errorf("store: querying sizes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var size int64
		if err := rows.Scan(&size); err != nil {
			return fmt.Errorf("store: scanning size: %w", err)
		}
		if err := fn(size); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ReconcileCheckpoint applies the "store wins" reconciliation of DESIGN
// NOTES §9: any provider/id already present in the store is folded into
// the checkpoint's successful set if the checkpoint has not already
// recorded it, so a checkpoint that lagged behind a crash never causes
// the harvester to refetch a record that was in fact committed.
func (s *Store) ReconcileCheckpoint(ctx context.Context, ck checkpoint.Checkpoint) (checkpoint.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT content_provider, id FROM datasets`)
	if err != nil {
		return nil, fmt.Errorf("store: reconciling checkpoint: %w", err)
	}
	defer rows.Close()

	known := map[normalize.Kind]map[string]bool{}
	for kind, pc := range ck {
		known[kind] = map[string]bool{}
		for _, id := range pc.DatasetsSuccessful {
			known[kind][id] = true
		}
		for _, id := range pc.DatasetsFailed {
			known[kind][id] = true
		}
	}

	for rows.Next() {
		var providerStr, id string
		if err := rows.Scan(&providerStr, &id); err != nil {
			return nil, fmt.Errorf("store: scanning reconcile row: %w", err)
		}
		kind := normalize.Kind(providerStr)
		if known[kind] == nil {
			known[kind] = map[string]bool{}
		}
		if known[kind][id] {
			continue
		}
		known[kind][id] = true
		ck.Get(kind).RecordSuccess(id)
	}
	return ck, rows.Err()
}

func validBbox(b [4]float64) bool {
	for _, v := range b {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
