// Package store persists completed analyses.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no analysis has the requested ID.
	ErrNotFound = errors.New("analysis not found")

	// ErrUnsupported is returned by backends that cannot answer a query,
	// such as similarity search on SQLite.
	ErrUnsupported = errors.New("not supported by this store")
)

// Record is one completed analysis.
type Record struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`    // as uploaded
	StoredPath  string    `json:"stored_path"` // sanitized path on disk
	UploadSize  int64     `json:"upload_size"`
	TotalFrames int64     `json:"total_frames"`
	Segments    int       `json:"segments"`
	Scores      []float64 `json:"scores"`
	Positive    []int     `json:"positive"`
	Sampled     []int     `json:"sampled"`
	Threshold   float64   `json:"threshold"`
	Policy      string    `json:"policy"`
	DurationMS  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`

	// Distance is set only on Similar results.
	Distance float64 `json:"distance,omitempty"`
}

// Store defines the persistence interface for analysis history.
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveAnalysis persists a record. An existing record with the same ID is replaced.
	SaveAnalysis(ctx context.Context, rec *Record) error

	// GetAnalysis returns the record with the given ID, or ErrNotFound.
	GetAnalysis(ctx context.Context, id string) (*Record, error)

	// ListAnalyses returns up to limit records, newest first.
	ListAnalyses(ctx context.Context, limit int) ([]*Record, error)

	// Similar returns up to limit other records whose score series is
	// nearest to id's by L2 distance. Only records with the same number
	// of segments are compared.
	Similar(ctx context.Context, id string, limit int) ([]*Record, error)

	// Close closes the store and releases resources.
	Close() error
}

// DefaultListLimit is used when a caller passes a non-positive limit.
const DefaultListLimit = 50

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > 500 {
		return 500
	}
	return limit
}

// InitStore opens the Postgres store when databaseURL is set, otherwise the
// SQLite store at sqlitePath.
func InitStore(ctx context.Context, databaseURL, sqlitePath string) (Store, error) {
	if databaseURL != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	return NewSQLiteStore(sqlitePath)
}
