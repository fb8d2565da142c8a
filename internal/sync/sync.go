// Package sync checks subscribed podcast feeds for new episodes. Feeds
// are checked sequentially; new episodes are recorded in storage and,
// for auto-process subscriptions, run through the pipeline.
package sync

import (
	"context"
	"log/slog"
	"time"

	"distill/internal/model"
	"distill/internal/pipeline"
	"distill/internal/source"
	"distill/internal/storage"
)

// Processor runs one content item through the processing pipeline.
type Processor interface {
	Process(ctx context.Context, item pipeline.Item, opts pipeline.Options) (*model.Article, string, error)
}

// Syncer checks subscriptions for new episodes.
type Syncer struct {
	store     storage.Storage
	podcast   *source.Podcast
	processor Processor // nil disables auto-processing
	opts      pipeline.Options
	log       *slog.Logger
	tick      time.Duration
}

// New creates a Syncer. opts are the pipeline options used when a
// subscription has auto-processing enabled.
func New(store storage.Storage, pod *source.Podcast, processor Processor, opts pipeline.Options, log *slog.Logger) *Syncer {
	return &Syncer{
		store:     store,
		podcast:   pod,
		processor: processor,
		opts:      opts,
		log:       log,
		tick:      24 * time.Hour,
	}
}

// SetTickInterval overrides the default 24-hour check interval.
func (s *Syncer) SetTickInterval(d time.Duration) {
	s.tick = d
}

// Run starts the periodic sync loop, blocking until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) {
	s.SyncAll(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncAll(ctx)
		}
	}
}

// SyncAll checks every subscription once. Feed failures are logged and
// do not stop the remaining feeds from being checked.
func (s *Syncer) SyncAll(ctx context.Context) {
	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		s.log.Error("list subscriptions", "error", err)
		return
	}

	for _, sub := range subs {
		if ctx.Err() != nil {
			return
		}
		s.syncFeed(ctx, sub)
	}
}

func (s *Syncer) syncFeed(ctx context.Context, sub model.Subscription) {
	s.log.Debug("checking feed", "feed_url", sub.FeedURL, "title", sub.Title)

	feed, err := s.podcast.FetchFeed(ctx, sub.FeedURL)
	if err != nil {
		s.log.Error("fetch feed", "feed_url", sub.FeedURL, "error", err)
		s.updateLastCheck(ctx, sub.FeedURL)
		return
	}

	// The first sync of a feed records its backlog without processing;
	// only episodes published after that are treated as new.
	count, err := s.store.CountEpisodes(ctx, sub.FeedURL)
	if err != nil {
		s.log.Error("count episodes", "feed_url", sub.FeedURL, "error", err)
		return
	}
	baseline := count == 0

	added := 0
	for _, ep := range feed.Episodes {
		if ctx.Err() != nil {
			return
		}

		// Episodes are deduplicated by feed GUID, so a re-hosted audio
		// enclosure does not look like a new episode.
		seen, err := s.store.HasEpisode(ctx, sub.FeedURL, ep.GUID)
		if err != nil {
			s.log.Error("check episode", "feed_url", sub.FeedURL, "guid", ep.GUID, "error", err)
			continue
		}
		if seen {
			continue
		}

		if !baseline && sub.AutoProcess && s.processor != nil {
			src, err := source.EpisodeSource(ep, sub.FeedURL)
			if err != nil {
				s.log.Error("episode source", "feed_url", sub.FeedURL, "title", ep.Title, "error", err)
				continue
			}
			if _, _, err := s.processor.Process(ctx, pipeline.Item{Source: *src}, s.opts); err != nil {
				// Not marked seen, so the next sync retries it.
				s.log.Error("process episode", "feed_url", sub.FeedURL, "title", ep.Title, "error", err)
				continue
			}
			s.log.Info("processed episode", "feed_url", sub.FeedURL, "title", ep.Title)
		}

		if err := s.store.AddEpisode(ctx, sub.FeedURL, ep.GUID); err != nil {
			s.log.Error("record episode", "feed_url", sub.FeedURL, "guid", ep.GUID, "error", err)
			continue
		}
		added++
	}

	if added > 0 {
		s.log.Info("new episodes", "feed_url", sub.FeedURL, "title", sub.Title, "count", added, "baseline", baseline)
	}

	s.updateLastCheck(ctx, sub.FeedURL)
}

func (s *Syncer) updateLastCheck(ctx context.Context, feedURL string) {
	if err := s.store.UpdateSubscriptionChecked(ctx, feedURL); err != nil {
		s.log.Error("update last check", "feed_url", feedURL, "error", err)
	}
}
