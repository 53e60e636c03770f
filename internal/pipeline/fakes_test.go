package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"subwatch/internal/model"
	"subwatch/internal/subscription"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sid(n int64) model.SubmissionID {
	return model.SubmissionID{Site: "fa", ID: n}
}

type fakeSource struct {
	mu    sync.Mutex
	subs  map[int64]*model.Submission
	errs  map[int64][]error
	calls map[int64]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		subs:  make(map[int64]*model.Submission),
		errs:  make(map[int64][]error),
		calls: make(map[int64]int),
	}
}

func (f *fakeSource) Fetch(_ context.Context, id model.SubmissionID) (*model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[id.ID]++
	if errs := f.errs[id.ID]; len(errs) > 0 {
		f.errs[id.ID] = errs[1:]
		return nil, errs[0]
	}
	if s, ok := f.subs[id.ID]; ok {
		return s, nil
	}
	return nil, model.ErrNotFound
}

type fakeUploader struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *fakeUploader) Upload(_ context.Context, s *model.Submission) (model.MediaHandle, model.SendSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return model.MediaHandle{}, model.SendSettings{}, err
	}
	return model.MediaHandle{Kind: model.MediaPhoto, FileID: "file-" + s.ID.String()}, model.SendSettings{}, nil
}

type sentMessage struct {
	Dest    int64
	Media   *model.MediaHandle
	Caption string
	Cached  bool
}

type fakeTransport struct {
	mu         sync.Mutex
	sent       []sentMessage
	sendErrs   map[int64]error
	resendErr  error
	resends    int
}

func (f *fakeTransport) Send(_ context.Context, dest int64, media *model.MediaHandle, _ model.SendSettings, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.sendErrs[dest]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{Dest: dest, Media: media, Caption: caption})
	return nil
}

func (f *fakeTransport) ResendCached(_ context.Context, dest int64, entry model.CacheEntry, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resends++
	if err := f.sendErrs[dest]; err != nil {
		return err
	}
	if f.resendErr != nil {
		return f.resendErr
	}
	h := entry.Handle()
	f.sent = append(f.sent, sentMessage{Dest: dest, Media: &h, Caption: caption, Cached: true})
	return nil
}

func (f *fakeTransport) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[model.SubmissionID]model.CacheEntry
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[model.SubmissionID]model.CacheEntry)}
}

func (f *fakeCache) Get(_ context.Context, id model.SubmissionID) (model.CacheEntry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	return e, ok, nil
}

func (f *fakeCache) Put(_ context.Context, e model.CacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[e.ID] = e
	return nil
}

type testEnv struct {
	p         *Pipeline
	registry  *subscription.Registry
	source    *fakeSource
	uploader  *fakeUploader
	transport *fakeTransport
	cache     *fakeCache
}

func testConfig() Config {
	cfg := DefaultConfig("fa")
	cfg.GatherEvery = 10 * time.Millisecond
	cfg.IdleDelay = 5 * time.Millisecond
	cfg.ProtectionCooldown = time.Millisecond
	cfg.ErrorCooldown = time.Millisecond
	cfg.UploadCooldown = time.Millisecond
	cfg.ListingBackoff = time.Millisecond
	cfg.ListingBackoffMax = 5 * time.Millisecond
	cfg.StatsEvery = 0
	cfg.SendRate = 0
	return cfg
}

func newTestEnv(t *testing.T, cfg Config, listings ...Listing) *testEnv {
	t.Helper()
	env := &testEnv{
		registry:  subscription.NewRegistry(""),
		source:    newFakeSource(),
		uploader:  &fakeUploader{},
		transport: &fakeTransport{sendErrs: make(map[int64]error)},
		cache:     newFakeCache(),
	}
	env.p = New(cfg, Deps{
		Registry:  env.registry,
		Listings:  listings,
		Source:    env.source,
		Uploader:  env.uploader,
		Transport: env.transport,
		Cache:     env.cache,
	}, discardLogger())
	return env
}

func (e *testEnv) subscribe(t *testing.T, dest int64, queries ...string) {
	t.Helper()
	for _, q := range queries {
		if _, err := e.registry.Add(dest, q); err != nil {
			t.Fatalf("Add(%d, %q) error: %v", dest, q, err)
		}
	}
}
