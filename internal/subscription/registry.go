package subscription

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"subwatch/internal/model"
	"subwatch/internal/query"
)

// latestIDsKept is how many processed ids are remembered in the checkpoint.
const latestIDsKept = 15

// Registry owns every subscription, the per-destination blocklists and the
// checkpoint of processed submissions. It is safe for concurrent use.
type Registry struct {
	path string

	mu        sync.RWMutex
	subs      map[key]*Subscription
	blocks    map[int64]map[string]string // casefolded -> raw
	latestIDs []model.SubmissionID

	parsed sync.Map // raw blocklist query -> query.Query

	saveMu sync.Mutex
}

// NewRegistry returns an empty registry persisted to path. An empty path
// disables persistence.
func NewRegistry(path string) *Registry {
	return &Registry{
		path:   path,
		subs:   make(map[key]*Subscription),
		blocks: make(map[int64]map[string]string),
	}
}

// Add parses raw and subscribes dest to it.
func (r *Registry) Add(dest int64, raw string) (*Subscription, error) {
	sub, err := New(raw, dest)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if _, ok := r.subs[sub.key()]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("subscription %q: %w", sub.Query, ErrExists)
	}
	r.subs[sub.key()] = sub
	r.mu.Unlock()

	return sub, r.Save()
}

// Remove deletes the subscription of dest to raw.
func (r *Registry) Remove(dest int64, raw string) error {
	k := keyOf(raw, dest)
	r.mu.Lock()
	if _, ok := r.subs[k]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("subscription %q: %w", raw, ErrNotFound)
	}
	delete(r.subs, k)
	r.mu.Unlock()

	return r.Save()
}

// Pause stops deliveries for one subscription.
func (r *Registry) Pause(dest int64, raw string) error {
	return r.setPaused(dest, raw, true)
}

// Resume restarts deliveries for one subscription.
func (r *Registry) Resume(dest int64, raw string) error {
	return r.setPaused(dest, raw, false)
}

func (r *Registry) setPaused(dest int64, raw string, paused bool) error {
	r.mu.Lock()
	sub, ok := r.subs[keyOf(raw, dest)]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("subscription %q: %w", raw, ErrNotFound)
	}
	sub.Paused = paused
	r.mu.Unlock()

	return r.Save()
}

// PauseDestination pauses every subscription of dest and returns how many
// changed state.
func (r *Registry) PauseDestination(dest int64) (int, error) {
	return r.setDestinationPaused(dest, true)
}

// ResumeDestination resumes every subscription of dest.
func (r *Registry) ResumeDestination(dest int64) (int, error) {
	return r.setDestinationPaused(dest, false)
}

func (r *Registry) setDestinationPaused(dest int64, paused bool) (int, error) {
	r.mu.Lock()
	changed := 0
	for _, sub := range r.subs {
		if sub.Destination == dest && sub.Paused != paused {
			sub.Paused = paused
			changed++
		}
	}
	r.mu.Unlock()

	if changed == 0 {
		return 0, nil
	}
	return changed, r.Save()
}

// AddBlock adds raw to the blocklist of dest.
func (r *Registry) AddBlock(dest int64, raw string) error {
	raw = strings.TrimSpace(raw)
	if _, err := r.parseBlock(raw); err != nil {
		return err
	}
	folded := strings.ToLower(raw)

	r.mu.Lock()
	set, ok := r.blocks[dest]
	if !ok {
		set = make(map[string]string)
		r.blocks[dest] = set
	}
	if _, exists := set[folded]; exists {
		r.mu.Unlock()
		return fmt.Errorf("block %q: %w", raw, ErrExists)
	}
	set[folded] = raw
	r.mu.Unlock()

	return r.Save()
}

// RemoveBlock removes raw from the blocklist of dest.
func (r *Registry) RemoveBlock(dest int64, raw string) error {
	folded := strings.ToLower(strings.TrimSpace(raw))

	r.mu.Lock()
	set := r.blocks[dest]
	if _, ok := set[folded]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("block %q: %w", raw, ErrNotFound)
	}
	delete(set, folded)
	if len(set) == 0 {
		delete(r.blocks, dest)
	}
	r.mu.Unlock()

	return r.Save()
}

// Blocks returns the blocklist of dest sorted alphabetically.
func (r *Registry) Blocks(dest int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.blocks[dest]))
	for _, raw := range r.blocks[dest] {
		out = append(out, raw)
	}
	slices.Sort(out)
	return out
}

// List returns copies of the subscriptions of dest ordered by query.
func (r *Registry) List(dest int64) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Subscription
	for _, sub := range r.subs {
		if sub.Destination == dest {
			out = append(out, *sub)
		}
	}
	sortSubscriptions(out)
	return out
}

// All returns copies of every subscription ordered by destination and query.
func (r *Registry) All() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, *sub)
	}
	sortSubscriptions(out)
	return out
}

// Count returns the number of subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Matching returns the active subscriptions matching s grouped by destination.
// A subscription only matches when s also passes its destination's blocklist.
func (r *Registry) Matching(s *model.Submission) map[int64][]Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[int64][]Subscription)
	blocklists := make(map[int64]query.Query)
	for _, sub := range r.subs {
		if sub.Paused {
			continue
		}
		q := sub.Parsed
		if len(r.blocks[sub.Destination]) > 0 {
			bl, ok := blocklists[sub.Destination]
			if !ok {
				bl = r.blocklistLocked(sub.Destination)
				blocklists[sub.Destination] = bl
			}
			q = &query.And{Queries: []query.Query{sub.Parsed, bl}}
		}
		if q.Matches(s) {
			out[sub.Destination] = append(out[sub.Destination], *sub)
		}
	}
	for dest := range out {
		sortSubscriptions(out[dest])
	}
	return out
}

// HasMatch reports whether any active subscription matches s.
func (r *Registry) HasMatch(s *model.Submission) bool {
	return len(r.Matching(s)) > 0
}

// blocklistLocked combines the blocklist of dest into And(Not(q)...).
func (r *Registry) blocklistLocked(dest int64) query.Query {
	raws := make([]string, 0, len(r.blocks[dest]))
	for _, raw := range r.blocks[dest] {
		raws = append(raws, raw)
	}
	slices.Sort(raws)

	nots := make([]query.Query, 0, len(raws))
	for _, raw := range raws {
		q, err := r.parseBlock(raw)
		if err != nil {
			// Blocks are validated when added or loaded.
			continue
		}
		nots = append(nots, &query.Not{Query: q})
	}
	return &query.And{Queries: nots}
}

func (r *Registry) parseBlock(raw string) (query.Query, error) {
	if q, ok := r.parsed.Load(raw); ok {
		return q.(query.Query), nil
	}
	q, err := query.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse block: %w", err)
	}
	r.parsed.Store(raw, q)
	return q, nil
}

// Touch records a delivery at the given time for the listed subscriptions.
func (r *Registry) Touch(at time.Time, subs ...Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range subs {
		if sub, ok := r.subs[s.key()]; ok {
			sub.LatestUpdate = at
		}
	}
}

// LatestID returns the newest processed submission, if any.
func (r *Registry) LatestID() (model.SubmissionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.latestIDs) == 0 {
		return model.SubmissionID{}, false
	}
	return slices.MaxFunc(r.latestIDs, func(a, b model.SubmissionID) int {
		return cmp.Compare(a.ID, b.ID)
	}), true
}

// RecordProcessed advances the checkpoint and persists the registry.
func (r *Registry) RecordProcessed(id model.SubmissionID) error {
	r.mu.Lock()
	r.latestIDs = append(r.latestIDs, id)
	if n := len(r.latestIDs); n > latestIDsKept {
		r.latestIDs = slices.Clone(r.latestIDs[n-latestIDsKept:])
	}
	r.mu.Unlock()

	return r.Save()
}

func sortSubscriptions(subs []Subscription) {
	slices.SortFunc(subs, func(a, b Subscription) int {
		if c := cmp.Compare(a.Destination, b.Destination); c != 0 {
			return c
		}
		return cmp.Compare(a.Query, b.Query)
	})
}
