package pipeline

import (
	"fmt"
	"time"

	"subwatch/internal/model"
)

// RefreshWindow is how long a refresh entry is kept after it was last seen.
const RefreshWindow = 5 * time.Minute

type refreshEntry struct {
	count      int
	firstSeen  time.Time
	latestSeen time.Time
}

// RefreshCounter limits how often one submission can be refreshed within
// RefreshWindow. It is not safe for concurrent use.
type RefreshCounter struct {
	limit   int
	window  time.Duration
	now     func() time.Time
	entries map[model.SubmissionID]*refreshEntry
}

// NewRefreshCounter allows limit refreshes per window. A nil now uses time.Now.
func NewRefreshCounter(limit int, now func() time.Time) *RefreshCounter {
	if now == nil {
		now = time.Now
	}
	return &RefreshCounter{
		limit:   limit,
		window:  RefreshWindow,
		now:     now,
		entries: make(map[model.SubmissionID]*refreshEntry),
	}
}

// Add records a refresh of id. It returns ErrTooManyRefresh once the count
// within the window exceeds the limit.
func (c *RefreshCounter) Add(id model.SubmissionID) error {
	now := c.now()
	c.purge(now)

	e, ok := c.entries[id]
	if !ok {
		e = &refreshEntry{firstSeen: now}
		c.entries[id] = e
	}
	e.count++
	e.latestSeen = now
	if e.count > c.limit {
		return fmt.Errorf("%s refreshed %d times since %s: %w", id, e.count, e.firstSeen.Format(time.TimeOnly), ErrTooManyRefresh)
	}
	return nil
}

// Count returns the refreshes of id within the window.
func (c *RefreshCounter) Count(id model.SubmissionID) int {
	c.purge(c.now())
	if e, ok := c.entries[id]; ok {
		return e.count
	}
	return 0
}

func (c *RefreshCounter) purge(now time.Time) {
	for id, e := range c.entries {
		if now.Sub(e.latestSeen) > c.window {
			delete(c.entries, id)
		}
	}
}
