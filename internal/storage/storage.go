// Package storage persists the media already sent for each submission so it
// can be re-sent without uploading again.
package storage

import (
	"context"

	"subwatch/internal/model"
)

// Cache maps a submission to the media previously sent for it. Implementations
// must support concurrent reads and upserts.
type Cache interface {
	Get(ctx context.Context, id model.SubmissionID) (model.CacheEntry, bool, error)
	Put(ctx context.Context, entry model.CacheEntry) error
}
