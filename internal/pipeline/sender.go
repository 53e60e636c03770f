package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"subwatch/internal/model"
	"subwatch/internal/subscription"
)

func (p *Pipeline) runSender(ctx context.Context) error {
	log := p.log.With("worker", "sender")
	for {
		r, err := p.pool.WaitNextReady(ctx)
		if errors.Is(err, ErrShutdown) {
			return nil
		}
		if err != nil {
			return err
		}

		// A popped submission is always delivered and checkpointed, even
		// when a stop is requested meanwhile.
		p.Deliver(context.WithoutCancel(ctx), r)
		if err := p.registry.RecordProcessed(r.ID); err != nil {
			log.Error("save checkpoint", "submission_id", r.ID, "error", err)
		}
	}
}

// Deliver sends r once to every destination with a matching subscription.
func (p *Pipeline) Deliver(ctx context.Context, r *Ready) {
	matches := p.registry.Matching(r.Submission)
	if len(matches) == 0 {
		p.log.Debug("no subscriptions left for submission", "submission_id", r.ID)
		return
	}

	d := &delivery{Ready: r}
	for _, dest := range slices.Sorted(maps.Keys(matches)) {
		subs := matches[dest]

		if err := p.limiter.Wait(ctx); err != nil {
			p.log.Warn("send limiter", "error", err)
			return
		}
		err := p.sendTo(ctx, dest, d, subs)
		p.registry.Touch(p.now(), subs...)

		switch {
		case err == nil:
			p.metrics.RecordDelivery("ok")
		case errors.Is(err, model.ErrDestinationBlocked):
			n, perr := p.registry.PauseDestination(dest)
			if perr != nil {
				p.log.Error("pause destination", "destination", dest, "error", perr)
			}
			p.log.Warn("destination blocked, paused its subscriptions", "destination", dest, "paused", n, "error", err)
			p.metrics.RecordDelivery("blocked")
		default:
			p.log.Error("delivery failed", "destination", dest, "submission_id", r.ID, "error", err)
			p.metrics.RecordDelivery("error")
		}
	}
}

type delivery struct {
	*Ready
	cacheStale  bool
	inlineTried bool
	cacheStored bool
}

// sendTo prefers re-sending cached media, then the fresh upload. When the
// cached file is rejected the media is uploaded once more for all remaining
// destinations.
func (p *Pipeline) sendTo(ctx context.Context, dest int64, d *delivery, subs []subscription.Subscription) error {
	if d.Cached != nil && !d.cacheStale {
		err := p.transport.ResendCached(ctx, dest, *d.Cached, Caption(subs, d.Submission, false))
		switch {
		case err == nil:
			return nil
		case errors.Is(err, model.ErrDestinationBlocked), errors.Is(err, model.ErrTransportRecoverable):
			return fmt.Errorf("resend %s to %d: %w", d.ID, dest, err)
		}
		p.log.Warn("cached media could not be re-sent", "submission_id", d.ID, "destination", dest, "error", err)
		d.cacheStale = true
	}
	if d.cacheStale && d.Media == nil && !d.inlineTried {
		d.inlineTried = true
		media, settings, err := p.uploader.Upload(ctx, d.Submission)
		if err != nil {
			p.log.Warn("inline upload failed", "submission_id", d.ID, "error", err)
		} else {
			d.Media, d.Settings = &media, settings
		}
	}

	caption := Caption(subs, d.Submission, d.Media == nil)
	if err := p.transport.Send(ctx, dest, d.Media, d.Settings, caption); err != nil {
		return fmt.Errorf("send %s to %d: %w", d.ID, dest, err)
	}
	if d.Media != nil && !d.cacheStored {
		d.cacheStored = true
		p.storeCache(ctx, d.Ready)
	}
	return nil
}

func (p *Pipeline) storeCache(ctx context.Context, r *Ready) {
	entry := model.CacheEntry{
		ID:               r.ID,
		MediaKind:        r.Media.Kind,
		MediaID:          r.Media.FileID,
		MediaAccessToken: r.Media.FileUniqueID,
		SourceURL:        r.Submission.DownloadURL,
		Caption:          r.Submission.Title,
		CachedAt:         p.now(),
		IsFullResolution: r.Settings.FullResolution,
	}
	if err := p.cache.Put(ctx, entry); err != nil {
		p.log.Warn("store cache entry", "submission_id", r.ID, "error", err)
	}
}

// Caption builds the message text for one destination.
func Caption(subs []subscription.Subscription, s *model.Submission, degraded bool) string {
	quoted := make([]string, len(subs))
	for i, sub := range subs {
		quoted[i] = `"` + sub.Query + `"`
	}

	var b strings.Builder
	word := "subscription"
	if len(subs) > 1 {
		word = "subscriptions"
	}
	fmt.Fprintf(&b, "Update on %s %s:\n", strings.Join(quoted, ", "), word)
	b.WriteString(s.Title)
	if s.Artist.Name != "" {
		fmt.Fprintf(&b, " by %s", s.Artist.Name)
	}
	if s.Link != "" {
		b.WriteString("\n" + s.Link)
	}
	if degraded {
		b.WriteString("\n(media unavailable)")
	}
	return b.String()
}
