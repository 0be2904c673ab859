// Package store persists file records and scan metadata in SQLite.
//
// One row per absolute path. A record whose full_hash is empty is
// pending: its content has not been confirmed since the last metadata
// change. The scan watermark and the active hash algorithm live in the
// scan_metadata table.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned by lookups for paths without a record.
var ErrNotFound = errors.New("store: record not found")

// DefaultBatchSize is the number of rows written per transaction.
const DefaultBatchSize = 1000

// mtimeEpsilonSec absorbs float-column rounding when the upsert compares
// stored and observed modification times. Mirrors the policy epsilon.
const mtimeEpsilonSec = 1e-6

const (
	keyLastScan  = "last_scan_timestamp"
	keyAlgorithm = "hash_algorithm"
)

// FileRecord is one observed file.
type FileRecord struct {
	ID           int64
	AbsolutePath string
	Filename     string
	FileSize     int64
	ModifiedTime time.Time
	TierOneHash  string
	FullHash     string
	ScanDate     time.Time
}

// Observation is the walk-phase input to ObserveBatch. Refresh marks a
// file the change policy verified as unchanged: only scan_date is
// touched. Otherwise the upsert applies the metadata-diff rule.
type Observation struct {
	AbsolutePath string
	Filename     string
	FileSize     int64
	ModifiedTime time.Time
	ScanDate     time.Time
	Refresh      bool
}

// PendingFile is a record awaiting a full digest. TierOne is empty when
// the tier-1 digest still has to be computed.
type PendingFile struct {
	ID           int64
	AbsolutePath string
	FileSize     int64
	TierOne      string
}

// TierOneUpdate assigns a tier-1 digest to a record.
type TierOneUpdate struct {
	ID      int64
	TierOne string
}

// HashUpdate assigns both digests to a record.
type HashUpdate struct {
	ID      int64
	TierOne string
	Full    string
}

// Signature identifies a (size, tier-1) candidate group.
type Signature struct {
	Size    int64
	TierOne string
}

// Store wraps the SQLite handle. Batched writes commit in chunks of
// batchSize rows, each chunk one transaction.
type Store struct {
	db        *sql.DB
	batchSize int
}

// New returns a Store over db. batchSize <= 0 selects DefaultBatchSize.
func New(db *sql.DB, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Store{db: db, batchSize: batchSize}
}

// unixFloat converts t to the float epoch-seconds storage format.
func unixFloat(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func fromUnixFloat(s float64) time.Time {
	if s == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

const observeSQL = `
	INSERT INTO files (absolute_path, filename, file_size, modified_time, tier1_hash, full_hash, scan_date)
	VALUES (?, ?, ?, ?, '', '', ?)
	ON CONFLICT(absolute_path) DO UPDATE SET
		filename      = excluded.filename,
		tier1_hash    = CASE WHEN files.file_size = excluded.file_size
		                      AND abs(files.modified_time - excluded.modified_time) <= ?
		                     THEN files.tier1_hash ELSE '' END,
		full_hash     = CASE WHEN files.file_size = excluded.file_size
		                      AND abs(files.modified_time - excluded.modified_time) <= ?
		                     THEN files.full_hash ELSE '' END,
		file_size     = excluded.file_size,
		modified_time = excluded.modified_time,
		scan_date     = excluded.scan_date`

const refreshSQL = `UPDATE files SET scan_date = ? WHERE absolute_path = ?`

// ObserveBatch upserts walk observations keyed on absolute_path. New
// paths insert as pending. Existing rows keep their digests when the
// observed (size, modified_time) match the stored pair within epsilon
// and lose them otherwise. Refresh observations only bump scan_date.
func (s *Store) ObserveBatch(ctx context.Context, obs []Observation) error {
	for i := 0; i < len(obs); i += s.batchSize {
		end := i + s.batchSize
		if end > len(obs) {
			end = len(obs)
		}
		if err := s.observeChunk(ctx, obs[i:end]); err != nil {
			return fmt.Errorf("observe batch: %w", err)
		}
	}
	return nil
}

func (s *Store) observeChunk(ctx context.Context, obs []Observation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	upsert, err := tx.PrepareContext(ctx, observeSQL)
	if err != nil {
		return fmt.Errorf("prepare observe: %w", err)
	}
	defer upsert.Close()

	refresh, err := tx.PrepareContext(ctx, refreshSQL)
	if err != nil {
		return fmt.Errorf("prepare refresh: %w", err)
	}
	defer refresh.Close()

	for _, o := range obs {
		if o.Refresh {
			if _, err := refresh.ExecContext(ctx, unixFloat(o.ScanDate), o.AbsolutePath); err != nil {
				return fmt.Errorf("refresh %s: %w", o.AbsolutePath, err)
			}
			continue
		}
		if _, err := upsert.ExecContext(ctx,
			o.AbsolutePath, o.Filename, o.FileSize, unixFloat(o.ModifiedTime), unixFloat(o.ScanDate),
			mtimeEpsilonSec, mtimeEpsilonSec,
		); err != nil {
			return fmt.Errorf("observe %s: %w", o.AbsolutePath, err)
		}
	}
	return tx.Commit()
}

// Pending returns every record whose full digest is missing, in
// descending size order. Zero-byte files never become pending. The
// result reflects all ObserveBatch calls of the current cycle.
func (s *Store) Pending(ctx context.Context) ([]PendingFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, absolute_path, file_size, tier1_hash
		FROM files
		WHERE full_hash = '' AND file_size > 0
		ORDER BY file_size DESC, absolute_path`)
	if err != nil {
		return nil, fmt.Errorf("pending: %w", err)
	}
	defer rows.Close()

	var out []PendingFile
	for rows.Next() {
		var p PendingFile
		if err := rows.Scan(&p.ID, &p.AbsolutePath, &p.FileSize, &p.TierOne); err != nil {
			return nil, fmt.Errorf("pending scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetTierOneBatch stores tier-1 digests, chunked per transaction.
func (s *Store) SetTierOneBatch(ctx context.Context, updates []TierOneUpdate) error {
	for i := 0; i < len(updates); i += s.batchSize {
		end := i + s.batchSize
		if end > len(updates) {
			end = len(updates)
		}
		err := s.execChunk(ctx, `UPDATE files SET tier1_hash = ? WHERE id = ?`, len(updates[i:end]), func(stmt *sql.Stmt, j int) error {
			u := updates[i+j]
			_, err := stmt.ExecContext(ctx, u.TierOne, u.ID)
			return err
		})
		if err != nil {
			return fmt.Errorf("set tier1 batch: %w", err)
		}
	}
	return nil
}

// SetHashBatch stores both digests, chunked per transaction. A chunk
// commits or rolls back as a whole.
func (s *Store) SetHashBatch(ctx context.Context, updates []HashUpdate) error {
	for i := 0; i < len(updates); i += s.batchSize {
		end := i + s.batchSize
		if end > len(updates) {
			end = len(updates)
		}
		err := s.execChunk(ctx, `UPDATE files SET tier1_hash = ?, full_hash = ? WHERE id = ?`, len(updates[i:end]), func(stmt *sql.Stmt, j int) error {
			u := updates[i+j]
			_, err := stmt.ExecContext(ctx, u.TierOne, u.Full, u.ID)
			return err
		})
		if err != nil {
			return fmt.Errorf("set hash batch: %w", err)
		}
	}
	return nil
}

// execChunk runs one statement n times inside a single transaction.
func (s *Store) execChunk(ctx context.Context, query string, n int, exec func(*sql.Stmt, int) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for j := 0; j < n; j++ {
		if err := exec(stmt, j); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const recordColumns = `id, absolute_path, filename, file_size, modified_time, tier1_hash, full_hash, scan_date`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*FileRecord, error) {
	var rec FileRecord
	var mtime, scanDate float64
	if err := row.Scan(&rec.ID, &rec.AbsolutePath, &rec.Filename, &rec.FileSize,
		&mtime, &rec.TierOneHash, &rec.FullHash, &scanDate); err != nil {
		return nil, err
	}
	rec.ModifiedTime = fromUnixFloat(mtime)
	rec.ScanDate = fromUnixFloat(scanDate)
	return &rec, nil
}

// ByPath returns the record for an absolute path or ErrNotFound.
func (s *Store) ByPath(ctx context.Context, path string) (*FileRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM files WHERE absolute_path = ?`, path)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", path, err)
	}
	return rec, nil
}

// All enumerates every record, largest files first. Feeds duplicate
// grouping, reporting, and the walk-phase policy index.
func (s *Store) All(ctx context.Context) ([]FileRecord, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM files ORDER BY file_size DESC, absolute_path`)
}

// Page enumerates records for the HTTP API.
func (s *Store) Page(ctx context.Context, limit, offset int) ([]FileRecord, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM files ORDER BY file_size DESC, absolute_path LIMIT ? OFFSET ?`,
		limit, offset)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("records: %w", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("records scan: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Count returns the number of records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// ConfirmedSignatures returns the (size, tier-1) pairs among sizes that
// already carry a full digest. The scan uses it to escalate a lone
// pending file whose size matches an already-confirmed record.
func (s *Store) ConfirmedSignatures(ctx context.Context, sizes []int64) (map[Signature]bool, error) {
	out := make(map[Signature]bool)
	const chunk = 500
	for i := 0; i < len(sizes); i += chunk {
		end := i + chunk
		if end > len(sizes) {
			end = len(sizes)
		}
		part := sizes[i:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(part)), ",")
		args := make([]any, len(part))
		for j, size := range part {
			args[j] = size
		}
		rows, err := s.db.QueryContext(ctx, `
			SELECT DISTINCT file_size, tier1_hash
			FROM files
			WHERE full_hash != '' AND tier1_hash != '' AND file_size IN (`+placeholders+`)`,
			args...)
		if err != nil {
			return nil, fmt.Errorf("confirmed signatures: %w", err)
		}
		for rows.Next() {
			var sig Signature
			if err := rows.Scan(&sig.Size, &sig.TierOne); err != nil {
				rows.Close()
				return nil, fmt.Errorf("confirmed signatures scan: %w", err)
			}
			out[sig] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// Remove deletes the records for paths, chunked per transaction. Used
// when pruning records of vanished files.
func (s *Store) Remove(ctx context.Context, paths []string) error {
	for i := 0; i < len(paths); i += s.batchSize {
		end := i + s.batchSize
		if end > len(paths) {
			end = len(paths)
		}
		err := s.execChunk(ctx, `DELETE FROM files WHERE absolute_path = ?`, len(paths[i:end]), func(stmt *sql.Stmt, j int) error {
			_, err := stmt.ExecContext(ctx, paths[i+j])
			return err
		})
		if err != nil {
			return fmt.Errorf("remove batch: %w", err)
		}
	}
	return nil
}

// ClearHashes blanks every stored digest. Called when the configured
// algorithm no longer matches the one the digests were computed with.
func (s *Store) ClearHashes(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE files SET tier1_hash = '', full_hash = ''`); err != nil {
		return fmt.Errorf("clear hashes: %w", err)
	}
	return nil
}

// Watermark returns the completion time of the last successful scan,
// or the zero time when no scan has completed.
func (s *Store) Watermark(ctx context.Context) (time.Time, error) {
	v, err := s.metadata(ctx, keyLastScan)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("watermark value %q: %w", v, err)
	}
	return fromUnixFloat(f), nil
}

// SetWatermark records the scan completion time. Written once, at the
// very end of a fully flushed cycle.
func (s *Store) SetWatermark(ctx context.Context, t time.Time) error {
	return s.setMetadata(ctx, keyLastScan, strconv.FormatFloat(unixFloat(t), 'f', -1, 64))
}

// Algorithm returns the algorithm the stored digests were computed
// with, or "" for a fresh store.
func (s *Store) Algorithm(ctx context.Context) (string, error) {
	return s.metadata(ctx, keyAlgorithm)
}

// SetAlgorithm records the digest algorithm in use.
func (s *Store) SetAlgorithm(ctx context.Context, name string) error {
	return s.setMetadata(ctx, keyAlgorithm, name)
}

func (s *Store) metadata(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM scan_metadata WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("metadata %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) setMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}
