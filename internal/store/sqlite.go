package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const columns = `id, filename, stored_path, upload_size, total_frames, segments,
	scores, positive, sampled, threshold, policy, duration_ms, created_at`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex // Protects concurrent access
	path string
}

// NewSQLiteStore creates a new SQLite-backed store.
// The database file is created if it doesn't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL so history reads don't block the writer
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// SaveAnalysis persists a record using INSERT OR REPLACE.
func (s *SQLiteStore) SaveAnalysis(ctx context.Context, rec *Record) error {
	scores, err := json.Marshal(nonNilFloats(rec.Scores))
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	positive, err := json.Marshal(nonNilInts(rec.Positive))
	if err != nil {
		return fmt.Errorf("encode positives: %w", err)
	}
	sampled, err := json.Marshal(nonNilInts(rec.Sampled))
	if err != nil {
		return fmt.Errorf("encode sample counts: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO analyses (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.Filename, rec.StoredPath, rec.UploadSize, rec.TotalFrames, rec.Segments,
		string(scores), string(positive), string(sampled), rec.Threshold, rec.Policy,
		nullInt64(rec.DurationMS), formatTime(rec.CreatedAt),
	)
	return err
}

// GetAnalysis retrieves a record by ID.
func (s *SQLiteStore) GetAnalysis(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM analyses WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListAnalyses returns the most recent records, newest first.
func (s *SQLiteStore) ListAnalyses(ctx context.Context, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+columns+` FROM analyses
		ORDER BY created_at DESC, id ASC
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Similar is not available on SQLite; it has no vector index.
func (s *SQLiteStore) Similar(ctx context.Context, id string, limit int) ([]*Record, error) {
	return nil, ErrUnsupported
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var scores, positive, sampled string
	var durationMS sql.NullInt64
	var createdAt string

	err := row.Scan(
		&rec.ID, &rec.Filename, &rec.StoredPath, &rec.UploadSize, &rec.TotalFrames, &rec.Segments,
		&scores, &positive, &sampled, &rec.Threshold, &rec.Policy, &durationMS, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(scores), &rec.Scores); err != nil {
		return nil, fmt.Errorf("decode scores for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(positive), &rec.Positive); err != nil {
		return nil, fmt.Errorf("decode positives for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(sampled), &rec.Sampled); err != nil {
		return nil, fmt.Errorf("decode sample counts for %s: %w", rec.ID, err)
	}
	rec.DurationMS = durationMS.Int64
	rec.CreatedAt = parseTime(createdAt)

	return &rec, nil
}

func nonNilFloats(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

func nullInt64(i int64) any {
	if i == 0 {
		return nil
	}
	return i
}

// Millisecond precision keeps ORDER BY created_at stable for fast uploads.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s)
	return t
}
