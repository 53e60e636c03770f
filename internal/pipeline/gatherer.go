package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sethvargo/go-retry"

	"subwatch/internal/model"
)

// Gatherer watches the upstream listings and queues every submission id
// published since the previous check.
type Gatherer struct {
	p        *Pipeline
	baseline int64
	started  bool
}

func newGatherer(p *Pipeline) *Gatherer {
	g := &Gatherer{p: p}
	if id, ok := p.registry.LatestID(); ok {
		g.baseline = id.ID
		g.started = true
	}
	return g
}

func (p *Pipeline) runGatherer(ctx context.Context) error {
	g := newGatherer(p)
	log := p.log.With("worker", "gatherer")
	if g.started {
		log.Info("resuming from checkpoint", "latest_id", g.baseline)
	}

	for {
		ids, err := g.Gather(ctx)
		if errors.Is(err, ErrShutdown) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			log.Debug("queued new submissions", "count", len(ids), "first", ids[0], "last", ids[len(ids)-1])
		}
		if !sleep(ctx, p.cfg.GatherEvery) {
			return nil
		}
	}
}

// Gather runs one discovery cycle and returns the queued ids, oldest first.
// The first cycle without a checkpoint only records the baseline.
func (g *Gatherer) Gather(ctx context.Context) ([]model.SubmissionID, error) {
	newest, err := g.newest(ctx)
	if err != nil {
		return nil, err
	}

	if !g.started {
		g.baseline = newest
		g.started = true
		g.p.log.Info("recorded baseline", "newest_id", newest)
		return nil, nil
	}
	if newest < g.baseline {
		g.p.log.Warn("newest id went backwards, keeping baseline", "newest_id", newest, "baseline", g.baseline)
		return nil, nil
	}

	ids := make([]model.SubmissionID, 0, newest-g.baseline)
	for n := g.baseline + 1; n <= newest; n++ {
		id := model.SubmissionID{Site: g.p.cfg.Site, ID: n}
		g.p.pool.Add(id)
		ids = append(ids, id)
	}
	g.baseline = newest
	if len(ids) > 0 {
		g.p.metrics.RecordDiscovered(len(ids))
	}
	return ids, nil
}

// newest asks each listing in turn, backing off when all of them fail.
func (g *Gatherer) newest(ctx context.Context) (int64, error) {
	var newest int64
	backoff := retry.WithCappedDuration(g.p.cfg.ListingBackoffMax, retry.NewExponential(g.p.cfg.ListingBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var errs []error
		for i, listing := range g.p.listings {
			id, err := listing(ctx)
			if err == nil {
				newest = id
				return nil
			}
			g.p.log.Warn("listing failed", "listing", i, "error", err)
			errs = append(errs, err)
		}
		return retry.RetryableError(fmt.Errorf("all listings failed: %w", errors.Join(errs...)))
	})
	if ctx.Err() != nil {
		return 0, ErrShutdown
	}
	if err != nil {
		return 0, err
	}
	return newest, nil
}
