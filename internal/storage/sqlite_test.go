package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"subwatch/internal/model"
)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	tests := []struct {
		name  string
		entry model.CacheEntry
	}{
		{
			name: "photo with source",
			entry: model.CacheEntry{
				ID:               model.SubmissionID{Site: "fa", ID: 1221},
				MediaKind:        model.MediaPhoto,
				MediaID:          "AgACAgIAAxkBAAIB",
				MediaAccessToken: "AQADc6kxG",
				SourceURL:        "https://d.example.net/art/1221.png",
				Caption:          "Deer in the woods",
				CachedAt:         time.Date(2024, 5, 1, 12, 30, 15, 123456789, time.UTC),
				IsFullResolution: false,
			},
		},
		{
			name: "full resolution document without source",
			entry: model.CacheEntry{
				ID:               model.SubmissionID{Site: "fa", ID: 1222},
				MediaKind:        model.MediaDocument,
				MediaID:          "BQACAgIAAxkBAAIC",
				Caption:          "",
				CachedAt:         time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC),
				IsFullResolution: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Put(ctx, tt.entry); err != nil {
				t.Fatalf("Put() error: %v", err)
			}
			got, ok, err := s.Get(ctx, tt.entry.ID)
			if err != nil {
				t.Fatalf("Get() error: %v", err)
			}
			if !ok {
				t.Fatal("Get() returned no entry")
			}
			if diff := cmp.Diff(tt.entry, got); diff != "" {
				t.Errorf("entry mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCacheMiss(t *testing.T) {
	s := newTestDB(t)

	_, ok, err := s.Get(context.Background(), model.SubmissionID{Site: "fa", ID: 1})
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ok {
		t.Error("Get() on empty cache returned an entry")
	}
}

func TestCachePutReplaces(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	id := model.SubmissionID{Site: "fa", ID: 7}

	first := model.CacheEntry{ID: id, MediaKind: model.MediaPhoto, MediaID: "old", CachedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	second := model.CacheEntry{ID: id, MediaKind: model.MediaDocument, MediaID: "new", CachedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), IsFullResolution: true}

	for _, e := range []model.CacheEntry{first, second} {
		if err := s.Put(ctx, e); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
	}

	got, _, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if diff := cmp.Diff(second, got); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestCacheSitesAreDistinct(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	fa := model.CacheEntry{ID: model.SubmissionID{Site: "fa", ID: 5}, MediaKind: model.MediaPhoto, MediaID: "fa-media", CachedAt: time.Now().UTC()}
	if err := s.Put(ctx, fa); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if _, ok, _ := s.Get(ctx, model.SubmissionID{Site: "e621", ID: 5}); ok {
		t.Error("Get() for another site returned an entry")
	}
}
