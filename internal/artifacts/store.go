package artifacts

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"lyrebird/internal/config"
	"lyrebird/internal/services"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("artifact schema version mismatch")

// Record describes one file produced by a stage.
type Record struct {
	ID          int64
	JobID       string
	Fingerprint string
	Stage       string
	Name        string
	Path        string
	SizeBytes   int64
	SHA256      string
	CreatedAt   time.Time
}

// Store manages the artifact index backed by SQLite. The index lives in its
// own database file so clearing job history never discards finished outputs.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the artifact database, which sits next to
// the registry database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(filepath.Dir(cfg.Paths.DatabasePath), "artifacts.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	err = s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the artifact database to rebuild the index)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// Record indexes a produced file. Recording the same (fingerprint, stage,
// name) twice is a no-op, so stage retries and concurrent writers collapse
// into exactly one entry.
func (s *Store) Record(ctx context.Context, rec Record) error {
	rec.Fingerprint = strings.ToLower(strings.TrimSpace(rec.Fingerprint))
	rec.Stage = strings.TrimSpace(rec.Stage)
	rec.Name = strings.TrimSpace(rec.Name)
	if rec.Fingerprint == "" || rec.Stage == "" || rec.Name == "" {
		return services.Wrap(services.ErrValidation, rec.Stage, "record artifact", "fingerprint, stage, and name are required", nil)
	}
	if strings.TrimSpace(rec.Path) == "" {
		return services.Wrap(services.ErrValidation, rec.Stage, "record artifact", "path is required", nil)
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO artifacts (job_id, fingerprint, stage, name, path, size_bytes, sha256, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(fingerprint, stage, name) DO NOTHING`,
		rec.JobID,
		rec.Fingerprint,
		rec.Stage,
		rec.Name,
		rec.Path,
		rec.SizeBytes,
		nullableString(rec.SHA256),
		timestamp,
	)
	if err != nil {
		return fmt.Errorf("record artifact: %w", err)
	}
	return nil
}

// FindByFingerprint returns the indexed artifacts for a fingerprint and stage.
func (s *Store) FindByFingerprint(ctx context.Context, fp, stage string) ([]*Record, error) {
	return s.query(
		ctx,
		`SELECT `+recordColumns+` FROM artifacts WHERE fingerprint = ? AND stage = ? ORDER BY name`,
		strings.ToLower(strings.TrimSpace(fp)),
		stage,
	)
}

// FindArtifact returns the indexed artifacts for a job and stage.
func (s *Store) FindArtifact(ctx context.Context, jobID, stage string) ([]*Record, error) {
	return s.query(
		ctx,
		`SELECT `+recordColumns+` FROM artifacts WHERE job_id = ? AND stage = ? ORDER BY name`,
		jobID,
		stage,
	)
}

// ListForJob returns every indexed artifact for a job in stage order.
func (s *Store) ListForJob(ctx context.Context, jobID string) ([]*Record, error) {
	return s.query(
		ctx,
		`SELECT `+recordColumns+` FROM artifacts WHERE job_id = ? ORDER BY stage, name`,
		jobID,
	)
}

// VerifiedForStage reports whether the stage's outputs can be served from
// cache. It returns the records and true only when at least one artifact is
// indexed and every indexed file still exists with its recorded size. Stale
// entries are dropped from the index so the stage reruns cleanly.
func (s *Store) VerifiedForStage(ctx context.Context, fp, stage string) ([]*Record, bool, error) {
	records, err := s.FindByFingerprint(ctx, fp, stage)
	if err != nil {
		return nil, false, err
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	for _, rec := range records {
		if verifyOnDisk(rec) {
			continue
		}
		if err := s.removeForFingerprintStage(ctx, fp, stage); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return records, true, nil
}

// RemoveForJob drops every index entry for a job. The files themselves are
// left alone.
func (s *Store) RemoveForJob(ctx context.Context, jobID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE job_id = ?`, jobID)
	if err != nil {
		return 0, fmt.Errorf("remove artifacts: %w", err)
	}
	return res.RowsAffected()
}

// Clear drops the whole index.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts`)
	if err != nil {
		return 0, fmt.Errorf("clear artifacts: %w", err)
	}
	return res.RowsAffected()
}

// Stats summarizes index usage for status output.
type Stats struct {
	Entries    int   `json:"entries"`
	Jobs       int   `json:"jobs"`
	TotalBytes int64 `json:"totalBytes"`
}

// Stats returns aggregate index counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1), COUNT(DISTINCT job_id), COALESCE(SUM(size_bytes), 0) FROM artifacts`)
	if err := row.Scan(&stats.Entries, &stats.Jobs, &stats.TotalBytes); err != nil {
		return Stats{}, fmt.Errorf("artifact stats: %w", err)
	}
	return stats, nil
}

func (s *Store) removeForFingerprintStage(ctx context.Context, fp, stage string) error {
	if _, err := s.db.ExecContext(
		ctx,
		`DELETE FROM artifacts WHERE fingerprint = ? AND stage = ?`,
		fp,
		stage,
	); err != nil {
		return fmt.Errorf("drop stale artifacts: %w", err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

const recordColumns = "id, job_id, fingerprint, stage, name, path, size_bytes, sha256, created_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		id         int64
		jobID      string
		fp         string
		stage      string
		name       string
		path       string
		sizeBytes  int64
		sha        sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(&id, &jobID, &fp, &stage, &name, &path, &sizeBytes, &sha, &createdRaw); err != nil {
		return nil, err
	}
	rec := &Record{
		ID:          id,
		JobID:       jobID,
		Fingerprint: fp,
		Stage:       stage,
		Name:        name,
		Path:        path,
		SizeBytes:   sizeBytes,
		SHA256:      sha.String,
	}
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		rec.CreatedAt = created
	}
	return rec, nil
}

func verifyOnDisk(rec *Record) bool {
	info, err := os.Stat(rec.Path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Size() == rec.SizeBytes
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
