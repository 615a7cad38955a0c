package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const pgSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS analyses (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	stored_path TEXT NOT NULL,
	upload_size BIGINT NOT NULL DEFAULT 0,
	total_frames BIGINT NOT NULL DEFAULT 0,
	segments INTEGER NOT NULL DEFAULT 0,
	scores DOUBLE PRECISION[] NOT NULL DEFAULT '{}',
	positive INTEGER[] NOT NULL DEFAULT '{}',
	sampled INTEGER[] NOT NULL DEFAULT '{}',
	threshold DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	policy TEXT NOT NULL DEFAULT 'pad',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	profile vector,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);
`

const pgColumns = `a.id, a.filename, a.stored_path, a.upload_size, a.total_frames, a.segments,
	a.scores, a.positive, a.sampled, a.threshold, a.policy, a.duration_ms, a.created_at`

// PostgresStore implements Store on PostgreSQL with the pgvector extension.
// Each record's score series is also stored as a vector so attempts with a
// similar shape can be found.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and creates the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// SaveAnalysis upserts a record.
func (s *PostgresStore) SaveAnalysis(ctx context.Context, rec *Record) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO analyses (id, filename, stored_path, upload_size, total_frames, segments,
			scores, positive, sampled, threshold, policy, duration_ms, profile, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			filename = EXCLUDED.filename,
			stored_path = EXCLUDED.stored_path,
			upload_size = EXCLUDED.upload_size,
			total_frames = EXCLUDED.total_frames,
			segments = EXCLUDED.segments,
			scores = EXCLUDED.scores,
			positive = EXCLUDED.positive,
			sampled = EXCLUDED.sampled,
			threshold = EXCLUDED.threshold,
			policy = EXCLUDED.policy,
			duration_ms = EXCLUDED.duration_ms,
			profile = EXCLUDED.profile,
			created_at = EXCLUDED.created_at
	`,
		rec.ID, rec.Filename, rec.StoredPath, rec.UploadSize, rec.TotalFrames, rec.Segments,
		nonNilFloats(rec.Scores), toInt32s(rec.Positive), toInt32s(rec.Sampled),
		rec.Threshold, rec.Policy, rec.DurationMS, profile(rec.Scores), createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save analysis %s: %w", rec.ID, err)
	}
	return nil
}

// GetAnalysis retrieves a record by ID.
func (s *PostgresStore) GetAnalysis(ctx context.Context, id string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM analyses a WHERE a.id = $1`, id)
	rec, err := scanPgRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListAnalyses returns the most recent records, newest first.
func (s *PostgresStore) ListAnalyses(ctx context.Context, limit int) ([]*Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgColumns+` FROM analyses a
		ORDER BY a.created_at DESC, a.id ASC
		LIMIT $1
	`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Similar orders other records by L2 distance between score vectors.
func (s *PostgresStore) Similar(ctx context.Context, id string, limit int) ([]*Record, error) {
	if _, err := s.GetAnalysis(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+pgColumns+`, a.profile <-> t.profile AS distance
		FROM analyses a, analyses t
		WHERE t.id = $1
			AND a.id <> t.id
			AND a.profile IS NOT NULL
			AND t.profile IS NOT NULL
			AND vector_dims(a.profile) = vector_dims(t.profile)
		ORDER BY distance ASC
		LIMIT $2
	`, id, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("similar to %s: %w", id, err)
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		var distance float64
		rec, err := scanPgRecord(rows, &distance)
		if err != nil {
			return nil, err
		}
		rec.Distance = distance
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPgRecord(row pgx.Row, extra ...any) (*Record, error) {
	var rec Record
	var positive, sampled []int32

	dest := []any{
		&rec.ID, &rec.Filename, &rec.StoredPath, &rec.UploadSize, &rec.TotalFrames, &rec.Segments,
		&rec.Scores, &positive, &sampled, &rec.Threshold, &rec.Policy, &rec.DurationMS, &rec.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	rec.Positive = fromInt32s(positive)
	rec.Sampled = fromInt32s(sampled)
	if rec.Scores == nil {
		rec.Scores = []float64{}
	}
	return &rec, nil
}

// profile converts a score series to a pgvector value. pgvector has no
// zero-dimension vectors, so an empty series is stored as NULL.
func profile(scores []float64) any {
	if len(scores) == 0 {
		return nil
	}
	v := make([]float32, len(scores))
	for i, s := range scores {
		v[i] = float32(s)
	}
	return pgvector.NewVector(v)
}

func toInt32s(v []int) []int32 {
	out := make([]int32, len(v))
	for i, n := range v {
		out[i] = int32(n)
	}
	return out
}

func fromInt32s(v []int32) []int {
	out := make([]int, len(v))
	for i, n := range v {
		out[i] = int(n)
	}
	return out
}
