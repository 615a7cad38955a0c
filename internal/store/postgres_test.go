package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Set SHOTCLOCK_TEST_DATABASE_URL to a Postgres database with pgvector
// available to run these.
func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("SHOTCLOCK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SHOTCLOCK_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, url)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresStore_SaveAndGet(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()

	id := uuid.NewString()
	rec := createTestRecord(id, time.Now().Truncate(time.Millisecond))
	if err := store.SaveAnalysis(ctx, rec); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.GetAnalysis(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(got.Scores) != 4 || len(got.Positive) != 2 {
		t.Errorf("series not round-tripped: %v %v", got.Scores, got.Positive)
	}

	if _, err := store.GetAnalysis(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStore_Similar(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()

	target := createTestRecord(uuid.NewString(), time.Now())
	near := createTestRecord(uuid.NewString(), time.Now())
	near.Scores = []float64{0.25, 0.6, 0.85, 0.3}
	far := createTestRecord(uuid.NewString(), time.Now())
	far.Scores = []float64{0.9, 0.1, 0.1, 0.9}
	other := createTestRecord(uuid.NewString(), time.Now())
	other.Scores = []float64{0.2, 0.6}
	empty := createTestRecord(uuid.NewString(), time.Now())
	empty.Scores = nil

	for _, rec := range []*Record{target, near, far, other, empty} {
		if err := store.SaveAnalysis(ctx, rec); err != nil {
			t.Fatalf("save %s failed: %v", rec.ID, err)
		}
	}

	got, err := store.Similar(ctx, target.ID, 500)
	if err != nil {
		t.Fatalf("similar failed: %v", err)
	}

	pos := map[string]int{}
	for i, rec := range got {
		pos[rec.ID] = i
		if len(rec.Scores) != len(target.Scores) {
			t.Errorf("record %s with %d scores compared against %d", rec.ID, len(rec.Scores), len(target.Scores))
		}
		if rec.ID == target.ID {
			t.Error("target returned as its own neighbour")
		}
	}
	if _, ok := pos[other.ID]; ok {
		t.Error("record with different segment count was compared")
	}
	if pos[near.ID] >= pos[far.ID] {
		t.Errorf("expected near before far, got %d and %d", pos[near.ID], pos[far.ID])
	}
}
