package pipeline

import (
	"context"
	"sync"

	"subwatch/internal/model"
)

type checkState struct {
	id        model.SubmissionID
	data      *model.Submission
	cached    *model.CacheEntry
	uploaded  *model.MediaHandle
	settings  model.SendSettings
	degraded  bool
	uploading bool
}

func (s *checkState) fetched() bool { return s.data != nil }

func (s *checkState) ready() bool { return s.cached != nil || s.uploaded != nil || s.degraded }

func (s *checkState) awaitingMedia() bool { return s.fetched() && !s.ready() && !s.uploading }

func (s *checkState) reset() {
	s.data = nil
	s.cached = nil
	s.uploaded = nil
	s.settings = model.SendSettings{}
	s.degraded = false
	s.uploading = false
}

// Ready is a submission whose media is resolved and which can be sent.
// Cached and Media are both nil for a degraded, caption-only delivery.
type Ready struct {
	ID         model.SubmissionID
	Submission *model.Submission
	Cached     *model.CacheEntry
	Media      *model.MediaHandle
	Settings   model.SendSettings
}

// Degraded reports whether the submission has to be sent without media.
func (r *Ready) Degraded() bool { return r.Cached == nil && r.Media == nil }

// Stats counts in-flight submissions per stage.
type Stats struct {
	Discovered int
	Fetched    int
	Uploading  int
	Ready      int
	Queued     int
}

// Map returns the stats keyed by stage name.
func (s Stats) Map() map[string]int {
	return map[string]int{
		"discovered": s.Discovered,
		"fetched":    s.Fetched,
		"uploading":  s.Uploading,
		"ready":      s.Ready,
		"queued":     s.Queued,
	}
}

// Total is the number of tracked submissions.
func (s Stats) Total() int { return s.Discovered + s.Fetched + s.Uploading + s.Ready }

// WaitPool tracks every in-flight submission and hands work to the pipeline
// stages. Submissions leave it in ascending id order.
type WaitPool struct {
	mu           sync.Mutex
	slotFreed    *sync.Cond
	readyChanged *sync.Cond

	states      map[model.SubmissionID]*checkState
	queue       *FetchQueue
	maxAwaiting int
}

// NewWaitPool returns a pool that holds at most maxAwaiting fetched
// submissions waiting for media.
func NewWaitPool(queue *FetchQueue, maxAwaiting int) *WaitPool {
	p := &WaitPool{
		states:      make(map[model.SubmissionID]*checkState),
		queue:       queue,
		maxAwaiting: maxAwaiting,
	}
	p.slotFreed = sync.NewCond(&p.mu)
	p.readyChanged = sync.NewCond(&p.mu)
	return p
}

// Add tracks a newly discovered submission and queues it for a data fetch.
func (p *WaitPool) Add(id model.SubmissionID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.states[id]; ok {
		return
	}
	p.states[id] = &checkState{id: id}
	p.queue.PutNew(id)
}

// NextForDataFetch returns the next submission to fetch or ErrEmpty.
func (p *WaitPool) NextForDataFetch() (model.SubmissionID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		id, err := p.queue.GetNowait()
		if err != nil {
			return id, err
		}
		if _, ok := p.states[id]; ok {
			return id, nil
		}
	}
}

// SetFetched attaches the fetched data of id. It blocks while the number of
// submissions waiting for media is at the limit. Unknown ids are ignored.
func (p *WaitPool) SetFetched(ctx context.Context, id model.SubmissionID, data *model.Submission) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stop := p.wakeOnDone(ctx)
	defer stop()

	for p.awaitingLocked() >= p.maxAwaiting {
		if ctx.Err() != nil {
			return ErrShutdown
		}
		if _, ok := p.states[id]; !ok {
			return nil
		}
		p.slotFreed.Wait()
	}

	st, ok := p.states[id]
	if !ok {
		return nil
	}
	st.data = data
	return nil
}

// Revert sends id back to the fetch queue with all progress cleared. When the
// refresh limit is exhausted it returns ErrTooManyRefresh and leaves the
// submission untouched.
func (p *WaitPool) Revert(id model.SubmissionID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[id]
	if !ok {
		return nil
	}
	if err := p.queue.PutRefresh(id); err != nil {
		return err
	}
	st.reset()
	p.slotFreed.Broadcast()
	return nil
}

// NextForMediaUpload claims the fetched submission with the smallest id that
// still needs media.
func (p *WaitPool) NextForMediaUpload() (*model.Submission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var next *checkState
	for _, st := range p.states {
		if !st.awaitingMedia() {
			continue
		}
		if next == nil || st.id.Less(next.id) {
			next = st
		}
	}
	if next == nil {
		return nil, ErrEmpty
	}
	next.uploading = true
	p.slotFreed.Broadcast()
	return next.data, nil
}

// SetCached resolves the media of id from the submission cache.
func (p *WaitPool) SetCached(id model.SubmissionID, entry model.CacheEntry) {
	p.resolve(id, func(st *checkState) {
		st.cached = &entry
	})
}

// SetUploaded resolves the media of id with a fresh upload. A nil media marks
// the submission for a caption-only delivery.
func (p *WaitPool) SetUploaded(id model.SubmissionID, media *model.MediaHandle, settings model.SendSettings) {
	p.resolve(id, func(st *checkState) {
		st.uploaded = media
		st.settings = settings
		st.degraded = media == nil
	})
}

func (p *WaitPool) resolve(id model.SubmissionID, set func(*checkState)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[id]
	if !ok {
		return
	}
	set(st)
	st.uploading = false
	p.slotFreed.Broadcast()
	p.readyChanged.Broadcast()
}

// Remove stops tracking id.
func (p *WaitPool) Remove(id model.SubmissionID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.states, id)
	p.slotFreed.Broadcast()
	p.readyChanged.Broadcast()
}

// PopNextReadyToSend removes and returns the submission with the smallest
// tracked id if its media is resolved. Newer ready submissions wait behind
// an older unresolved one.
func (p *WaitPool) PopNextReadyToSend() (*Ready, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.popLocked()
}

// WaitNextReady blocks until PopNextReadyToSend would return a submission.
func (p *WaitPool) WaitNextReady(ctx context.Context) (*Ready, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stop := p.wakeOnDone(ctx)
	defer stop()

	for {
		if r, ok := p.popLocked(); ok {
			return r, nil
		}
		if ctx.Err() != nil {
			return nil, ErrShutdown
		}
		p.readyChanged.Wait()
	}
}

func (p *WaitPool) popLocked() (*Ready, bool) {
	var head *checkState
	for _, st := range p.states {
		if head == nil || st.id.Less(head.id) {
			head = st
		}
	}
	if head == nil || !head.fetched() || !head.ready() {
		return nil, false
	}
	delete(p.states, head.id)
	p.slotFreed.Broadcast()
	return &Ready{
		ID:         head.id,
		Submission: head.data,
		Cached:     head.cached,
		Media:      head.uploaded,
		Settings:   head.settings,
	}, true
}

// Stats returns the number of submissions in each stage.
func (p *WaitPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Queued: p.queue.Len()}
	for _, st := range p.states {
		switch {
		case st.ready():
			s.Ready++
		case st.uploading:
			s.Uploading++
		case st.fetched():
			s.Fetched++
		default:
			s.Discovered++
		}
	}
	return s
}

func (p *WaitPool) awaitingLocked() int {
	n := 0
	for _, st := range p.states {
		if st.awaitingMedia() {
			n++
		}
	}
	return n
}

// wakeOnDone wakes every waiter when ctx is done so it can observe the
// cancellation. Must be called with p.mu held.
func (p *WaitPool) wakeOnDone(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.slotFreed.Broadcast()
		p.readyChanged.Broadcast()
	})
}
