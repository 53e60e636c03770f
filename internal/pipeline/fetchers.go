package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"subwatch/internal/model"
)

func (p *Pipeline) runDataFetcher(ctx context.Context, n int) error {
	log := p.log.With("worker", "data_fetcher", "index", n)
	for {
		if ctx.Err() != nil {
			return nil
		}
		id, err := p.pool.NextForDataFetch()
		if errors.Is(err, ErrEmpty) {
			if !sleep(ctx, p.cfg.IdleDelay) {
				return nil
			}
			continue
		}
		if err := p.processData(ctx, id); err != nil {
			if errors.Is(err, ErrShutdown) {
				return nil
			}
			log.Error("data fetcher stopped", "submission_id", id, "error", err)
			return err
		}
	}
}

// processData fetches the data of id and keeps it only when a subscription
// wants it.
func (p *Pipeline) processData(ctx context.Context, id model.SubmissionID) error {
	sub, err := p.fetchData(ctx, id)
	switch {
	case errors.Is(err, model.ErrNotFound):
		p.log.Debug("submission not found", "submission_id", id)
		p.pool.Remove(id)
		p.metrics.RecordDropped("not_found")
		return nil
	case err != nil:
		return err
	}

	if !p.registry.HasMatch(sub) {
		p.pool.Remove(id)
		p.metrics.RecordDropped("unmatched")
		return nil
	}
	p.metrics.RecordMatched()
	return p.pool.SetFetched(ctx, id, sub)
}

// fetchData retries until the source returns the submission, reports it
// missing or the pipeline stops.
func (p *Pipeline) fetchData(ctx context.Context, id model.SubmissionID) (*model.Submission, error) {
	var (
		sub      *model.Submission
		cooldown time.Duration
	)
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		return cooldown, false
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		s, err := p.source.Fetch(ctx, id)
		switch {
		case err == nil:
			sub = s
			return nil
		case errors.Is(err, model.ErrNotFound):
			return err
		case errors.Is(err, model.ErrUpstreamProtection):
			cooldown = p.cfg.ProtectionCooldown
			p.log.Warn("upstream protection, cooling down", "submission_id", id, "cooldown", cooldown)
		default:
			cooldown = p.cfg.ErrorCooldown
			p.log.Warn("fetch failed, retrying", "submission_id", id, "cooldown", cooldown, "error", err)
		}
		return retry.RetryableError(err)
	})
	if ctx.Err() != nil {
		return nil, ErrShutdown
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (p *Pipeline) runMediaFetcher(ctx context.Context, n int) error {
	log := p.log.With("worker", "media_fetcher", "index", n)
	for {
		if ctx.Err() != nil {
			return nil
		}
		sub, err := p.pool.NextForMediaUpload()
		if errors.Is(err, ErrEmpty) {
			if !sleep(ctx, p.cfg.IdleDelay) {
				return nil
			}
			continue
		}
		if err := p.processMedia(ctx, sub); err != nil {
			if errors.Is(err, ErrShutdown) {
				return nil
			}
			log.Error("media fetcher stopped", "submission_id", sub.ID, "error", err)
			return err
		}
	}
}

// processMedia resolves the media of sub from the cache or a fresh upload.
func (p *Pipeline) processMedia(ctx context.Context, sub *model.Submission) error {
	entry, ok, err := p.cache.Get(ctx, sub.ID)
	if err != nil {
		p.log.Warn("cache lookup failed", "submission_id", sub.ID, "error", err)
	}
	if ok {
		p.pool.SetCached(sub.ID, entry)
		p.metrics.RecordMedia("cache")
		return nil
	}

	media, settings, err := p.upload(ctx, sub)
	switch {
	case err == nil:
		p.pool.SetUploaded(sub.ID, &media, settings)
		p.metrics.RecordMedia("upload")
		return nil
	case errors.Is(err, ErrShutdown):
		return err
	case errors.Is(err, model.ErrMediaGone):
		rerr := p.pool.Revert(sub.ID)
		if errors.Is(rerr, ErrTooManyRefresh) {
			p.log.Warn("media still missing after refreshes, sending without it", "submission_id", sub.ID, "error", rerr)
			p.pool.SetUploaded(sub.ID, nil, model.SendSettings{})
			p.metrics.RecordMedia("degraded")
			return nil
		}
		if rerr != nil {
			return rerr
		}
		p.log.Info("media gone, refreshing submission", "submission_id", sub.ID)
		p.metrics.RecordRefresh()
		return nil
	}
	return fmt.Errorf("upload %s: %w", sub.ID, err)
}

// upload retries recoverable transport errors with a fixed cooldown.
func (p *Pipeline) upload(ctx context.Context, sub *model.Submission) (model.MediaHandle, model.SendSettings, error) {
	var (
		media    model.MediaHandle
		settings model.SendSettings
	)
	err := retry.Do(ctx, retry.NewConstant(p.cfg.UploadCooldown), func(ctx context.Context) error {
		m, s, err := p.uploader.Upload(ctx, sub)
		switch {
		case err == nil:
			media, settings = m, s
			return nil
		case errors.Is(err, model.ErrTransportRecoverable):
			p.log.Warn("upload failed, retrying", "submission_id", sub.ID, "cooldown", p.cfg.UploadCooldown, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if ctx.Err() != nil {
		return media, settings, ErrShutdown
	}
	return media, settings, err
}
