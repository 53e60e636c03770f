// Package pipeline discovers new submissions, fetches their data and media and
// delivers them to every matching subscription in ascending id order.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"subwatch/internal/metrics"
	"subwatch/internal/model"
	"subwatch/internal/storage"
	"subwatch/internal/subscription"
)

// Listing reports the newest submission id visible in one upstream listing.
type Listing func(ctx context.Context) (int64, error)

// Source fetches full submission data from upstream.
type Source interface {
	Fetch(ctx context.Context, id model.SubmissionID) (*model.Submission, error)
}

// Uploader uploads the media of a submission to the transport once.
type Uploader interface {
	Upload(ctx context.Context, s *model.Submission) (model.MediaHandle, model.SendSettings, error)
}

// Transport delivers messages to destinations.
type Transport interface {
	Send(ctx context.Context, dest int64, media *model.MediaHandle, settings model.SendSettings, caption string) error
	// ResendCached sends the media of a cache entry. Errors other than
	// ErrDestinationBlocked and ErrTransportRecoverable mean the cached
	// media is no longer usable.
	ResendCached(ctx context.Context, dest int64, entry model.CacheEntry, caption string) error
}

// Config holds the pipeline settings.
type Config struct {
	Site          string
	DataFetchers  int
	MediaFetchers int
	MaxAwaiting   int
	RefreshLimit  int
	GatherEvery   time.Duration
	SendRate      float64

	IdleDelay          time.Duration
	ProtectionCooldown time.Duration
	ErrorCooldown      time.Duration
	UploadCooldown     time.Duration
	ListingBackoff     time.Duration
	ListingBackoffMax  time.Duration
	StatsEvery         time.Duration
}

// DefaultConfig returns the production settings for site.
func DefaultConfig(site string) Config {
	return Config{
		Site:               site,
		DataFetchers:       2,
		MediaFetchers:      2,
		MaxAwaiting:        100,
		RefreshLimit:       5,
		GatherEvery:        10 * time.Second,
		SendRate:           20,
		IdleDelay:          500 * time.Millisecond,
		ProtectionCooldown: 20 * time.Second,
		ErrorCooldown:      5 * time.Second,
		UploadCooldown:     10 * time.Second,
		ListingBackoff:     time.Second,
		ListingBackoffMax:  time.Minute,
		StatsEvery:         15 * time.Second,
	}
}

// Pipeline wires the gatherer, the fetcher pools and the sender around a
// shared WaitPool.
type Pipeline struct {
	cfg       Config
	log       *slog.Logger
	pool      *WaitPool
	registry  *subscription.Registry
	listings  []Listing
	source    Source
	uploader  Uploader
	transport Transport
	cache     storage.Cache
	metrics   metrics.Recorder
	limiter   *rate.Limiter
	now       func() time.Time
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Registry  *subscription.Registry
	Listings  []Listing
	Source    Source
	Uploader  Uploader
	Transport Transport
	Cache     storage.Cache
	Metrics   metrics.Recorder
}

// New creates a Pipeline.
func New(cfg Config, deps Deps, log *slog.Logger) *Pipeline {
	rec := deps.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}
	queue := NewFetchQueue(NewRefreshCounter(cfg.RefreshLimit, nil))
	limit := rate.Inf
	if cfg.SendRate > 0 {
		limit = rate.Limit(cfg.SendRate)
	}
	return &Pipeline{
		cfg:       cfg,
		log:       log.With("component", "pipeline"),
		pool:      NewWaitPool(queue, cfg.MaxAwaiting),
		registry:  deps.Registry,
		listings:  deps.Listings,
		source:    deps.Source,
		uploader:  deps.Uploader,
		transport: deps.Transport,
		cache:     deps.Cache,
		metrics:   rec,
		limiter:   rate.NewLimiter(limit, 1),
		now:       time.Now,
	}
}

// Pool returns the wait pool, for status reporting.
func (p *Pipeline) Pool() *WaitPool { return p.pool }

// Run starts every stage and blocks until ctx is cancelled or a stage fails.
// Cancellation is a clean stop and returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return p.runGatherer(ctx) })
	for i := range p.cfg.DataFetchers {
		g.Go(func() error { return p.runDataFetcher(ctx, i) })
	}
	for i := range p.cfg.MediaFetchers {
		g.Go(func() error { return p.runMediaFetcher(ctx, i) })
	}
	g.Go(func() error { return p.runSender(ctx) })
	if p.cfg.StatsEvery > 0 {
		g.Go(func() error { return p.runStats(ctx) })
	}

	p.log.Info("pipeline started",
		"data_fetchers", p.cfg.DataFetchers,
		"media_fetchers", p.cfg.MediaFetchers,
		"max_awaiting", p.cfg.MaxAwaiting,
	)
	if err := g.Wait(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	p.log.Info("pipeline stopped")
	return nil
}

func (p *Pipeline) runStats(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.StatsEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.metrics.RecordPoolStates(p.pool.Stats().Map())
		}
	}
}

// sleep waits for d and reports false when ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
