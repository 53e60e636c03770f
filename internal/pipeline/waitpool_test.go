package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"subwatch/internal/model"
)

func newTestPool(maxAwaiting, refreshLimit int) *WaitPool {
	return NewWaitPool(NewFetchQueue(NewRefreshCounter(refreshLimit, nil)), maxAwaiting)
}

func submission(n int64) *model.Submission {
	return &model.Submission{ID: sid(n), Title: "item"}
}

func mustFetch(t *testing.T, p *WaitPool, n int64) {
	t.Helper()
	if err := p.SetFetched(context.Background(), sid(n), submission(n)); err != nil {
		t.Fatalf("SetFetched(%d) error: %v", n, err)
	}
}

func TestWaitPoolHeadOfLineOrdering(t *testing.T) {
	p := newTestPool(10, 5)
	p.Add(sid(5))
	p.Add(sid(7))
	mustFetch(t, p, 5)
	mustFetch(t, p, 7)
	p.SetCached(sid(7), model.CacheEntry{ID: sid(7), MediaID: "seven"})

	if r, ok := p.PopNextReadyToSend(); ok {
		t.Fatalf("PopNextReadyToSend() = %v, want nothing while 5 is unresolved", r.ID)
	}

	p.SetUploaded(sid(5), &model.MediaHandle{Kind: model.MediaPhoto, FileID: "five"}, model.SendSettings{})

	var got []model.SubmissionID
	for {
		r, ok := p.PopNextReadyToSend()
		if !ok {
			break
		}
		got = append(got, r.ID)
	}
	if diff := cmp.Diff([]model.SubmissionID{sid(5), sid(7)}, got); diff != "" {
		t.Errorf("send order mismatch (-want +got):\n%s", diff)
	}
}

func TestWaitPoolRemoveUnblocksHead(t *testing.T) {
	p := newTestPool(10, 5)
	p.Add(sid(5))
	p.Add(sid(7))
	mustFetch(t, p, 7)
	p.SetCached(sid(7), model.CacheEntry{ID: sid(7)})

	p.Remove(sid(5))

	r, ok := p.PopNextReadyToSend()
	if !ok || r.ID != sid(7) {
		t.Fatalf("PopNextReadyToSend() = %v, %v, want 7", r, ok)
	}
}

func TestWaitPoolBackpressure(t *testing.T) {
	p := newTestPool(2, 5)
	for n := int64(1); n <= 3; n++ {
		p.Add(sid(n))
	}
	mustFetch(t, p, 1)
	mustFetch(t, p, 2)

	done := make(chan error, 1)
	go func() {
		done <- p.SetFetched(context.Background(), sid(3), submission(3))
	}()

	select {
	case err := <-done:
		t.Fatalf("third SetFetched returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	sub, err := p.NextForMediaUpload()
	if err != nil {
		t.Fatalf("NextForMediaUpload() error: %v", err)
	}
	if sub.ID != sid(1) {
		t.Errorf("NextForMediaUpload() = %v, want smallest id 1", sub.ID)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("SetFetched() error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("third SetFetched still blocked after a slot was freed")
	}

	want := Stats{Fetched: 2, Uploading: 1, Queued: 3}
	if diff := cmp.Diff(want, p.Stats()); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
}

func TestWaitPoolSetFetchedShutdown(t *testing.T) {
	p := newTestPool(1, 5)
	p.Add(sid(1))
	p.Add(sid(2))
	mustFetch(t, p, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.SetFetched(ctx, sid(2), submission(2))
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrShutdown) {
			t.Errorf("SetFetched() error = %v, want ErrShutdown", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SetFetched did not wake on cancellation")
	}
}

func TestWaitPoolSetFetchedUnknownID(t *testing.T) {
	p := newTestPool(1, 5)
	if err := p.SetFetched(context.Background(), sid(99), submission(99)); err != nil {
		t.Fatalf("SetFetched() error: %v", err)
	}
	if got := p.Stats().Total(); got != 0 {
		t.Errorf("Stats().Total() = %d, want 0", got)
	}
}

func TestWaitPoolRevert(t *testing.T) {
	p := newTestPool(10, 5)
	p.Add(sid(1))
	if _, err := p.NextForDataFetch(); err != nil {
		t.Fatal(err)
	}
	mustFetch(t, p, 1)
	if _, err := p.NextForMediaUpload(); err != nil {
		t.Fatal(err)
	}

	if err := p.Revert(sid(1)); err != nil {
		t.Fatalf("Revert() error: %v", err)
	}

	id, err := p.NextForDataFetch()
	if err != nil || id != sid(1) {
		t.Fatalf("NextForDataFetch() = %v, %v, want 1", id, err)
	}
	if diff := cmp.Diff(Stats{Discovered: 1}, p.Stats()); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
}

func TestWaitPoolRevertExhaustedKeepsData(t *testing.T) {
	p := newTestPool(10, 0)
	p.Add(sid(1))
	mustFetch(t, p, 1)
	if _, err := p.NextForMediaUpload(); err != nil {
		t.Fatal(err)
	}

	if err := p.Revert(sid(1)); !errors.Is(err, ErrTooManyRefresh) {
		t.Fatalf("Revert() error = %v, want ErrTooManyRefresh", err)
	}
	p.SetUploaded(sid(1), nil, model.SendSettings{})

	r, ok := p.PopNextReadyToSend()
	if !ok {
		t.Fatal("degraded submission is not ready")
	}
	if r.Submission == nil || !r.Degraded() {
		t.Errorf("Ready = %+v, want data kept and degraded", r)
	}
}

func TestWaitPoolNextForMediaUploadEmpty(t *testing.T) {
	p := newTestPool(10, 5)
	p.Add(sid(1))
	if _, err := p.NextForMediaUpload(); !errors.Is(err, ErrEmpty) {
		t.Errorf("NextForMediaUpload() error = %v, want ErrEmpty", err)
	}
	if _, err := p.NextForDataFetch(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.NextForDataFetch(); !errors.Is(err, ErrEmpty) {
		t.Errorf("NextForDataFetch() error = %v, want ErrEmpty", err)
	}
}

func TestWaitPoolNextForDataFetchSkipsRemoved(t *testing.T) {
	p := newTestPool(10, 5)
	p.Add(sid(1))
	p.Add(sid(2))
	p.Remove(sid(1))

	id, err := p.NextForDataFetch()
	if err != nil || id != sid(2) {
		t.Errorf("NextForDataFetch() = %v, %v, want 2", id, err)
	}
}

func TestWaitPoolWaitNextReady(t *testing.T) {
	p := newTestPool(10, 5)
	p.Add(sid(1))
	mustFetch(t, p, 1)

	got := make(chan *Ready, 1)
	go func() {
		r, err := p.WaitNextReady(context.Background())
		if err != nil {
			t.Errorf("WaitNextReady() error: %v", err)
		}
		got <- r
	}()

	time.Sleep(20 * time.Millisecond)
	p.SetCached(sid(1), model.CacheEntry{ID: sid(1), MediaID: "m"})

	select {
	case r := <-got:
		if r == nil || r.ID != sid(1) || r.Cached == nil {
			t.Errorf("WaitNextReady() = %+v, want cached 1", r)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitNextReady did not wake")
	}
}

func TestWaitPoolWaitNextReadyShutdown(t *testing.T) {
	p := newTestPool(10, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.WaitNextReady(ctx); !errors.Is(err, ErrShutdown) {
		t.Errorf("WaitNextReady() error = %v, want ErrShutdown", err)
	}
}
