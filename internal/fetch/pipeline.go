package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"feedsync/internal/domain"
)

// FeedStore is the storage surface the pipeline needs for feed records.
type FeedStore interface {
	GetFeed(ctx context.Context, feedID string) (*domain.Feed, error)
	MarkFetchUnchanged(ctx context.Context, feedID, etag, lastModified string, nextFetchAt time.Time) error
	MarkFetchSuccess(ctx context.Context, feedID, title, etag, lastModified, bodyHash, hubURL string, nextFetchAt time.Time) error
	MarkFetchFailure(ctx context.Context, feedID, lastError string, failures int, nextFetchAt time.Time) error
	RetireFeed(ctx context.Context, feedID string) error
}

// HubSubscriber is notified when a fetched feed advertises a hub, so a push
// subscription can be established alongside polling.
type HubSubscriber interface {
	EnsureSubscription(ctx context.Context, feed *domain.Feed, hubURL string) error
}

// Pipeline executes one fetch_feed job end to end: conditional retrieval,
// change detection, redirect migration, parsing, and entry reconciliation.
type Pipeline struct {
	feeds      FeedStore
	fetcher    *Fetcher
	parser     *Parser
	reconciler *Reconciler
	migrator   *Migrator
	subscriber HubSubscriber // optional
	backoff    domain.BackoffPolicy
	logger     *slog.Logger
}

// PipelineConfig holds pipeline dependencies
type PipelineConfig struct {
	Feeds      FeedStore
	Fetcher    *Fetcher
	Parser     *Parser
	Reconciler *Reconciler
	Migrator   *Migrator
	Subscriber HubSubscriber
	Logger     *slog.Logger
}

// NewPipeline creates a new Pipeline instance
func NewPipeline(cfg *PipelineConfig) *Pipeline {
	return &Pipeline{
		feeds:      cfg.Feeds,
		fetcher:    cfg.Fetcher,
		parser:     cfg.Parser,
		reconciler: cfg.Reconciler,
		migrator:   cfg.Migrator,
		subscriber: cfg.Subscriber,
		backoff:    domain.DefaultFeedBackoff,
		logger:     cfg.Logger,
	}
}

// Run fetches one feed and reconciles its entries.
//
// Transport and parse failures are recorded on the feed (failure streak,
// capped backoff, last_error) and do NOT fail the job: the feed carries its
// own retry schedule and one broken feed must never stall other work. Only
// infrastructure errors (storage) propagate and trigger a job retry.
func (p *Pipeline) Run(ctx context.Context, feedID string) error {
	feed, err := p.feeds.GetFeed(ctx, feedID)
	if err != nil {
		return err
	}

	now := time.Now()

	result, err := p.fetcher.Fetch(ctx, feed.URL, feed.ETag, feed.LastModified)
	if err != nil {
		return p.recordFailure(ctx, feed, now, err)
	}

	// A permanent relocation migrates subscriber history before any other
	// bookkeeping. Identity moves even when the content at the destination
	// is momentarily unchanged; otherwise the feed would re-traverse the
	// redirect on every poll.
	target := feed
	if result.Redirect && result.FinalURL != feed.URL {
		target, err = p.migrator.HandleRedirect(ctx, feed, result.FinalURL)
		if err != nil {
			return err
		}
		if target.FeedID != feed.FeedID {
			if err := p.feeds.RetireFeed(ctx, feed.FeedID); err != nil {
				return err
			}
		}
	}

	if result.NotModified {
		p.logger.Debug("Feed not modified",
			slog.String("feed_id", target.FeedID),
			slog.String("url", target.URL),
		)
		return p.feeds.MarkFetchUnchanged(ctx, target.FeedID,
			pick(result.ETag, target.ETag),
			pick(result.LastModified, target.LastModified),
			now.Add(p.successInterval(target)),
		)
	}

	if target.BodyHash != "" && result.BodyHash == target.BodyHash {
		// Byte-identical body even though the validators changed: skip
		// parsing and reconciliation entirely.
		p.logger.Debug("Feed body unchanged",
			slog.String("feed_id", target.FeedID),
			slog.String("body_hash", result.BodyHash),
		)
		return p.feeds.MarkFetchUnchanged(ctx, target.FeedID,
			pick(result.ETag, target.ETag),
			pick(result.LastModified, target.LastModified),
			now.Add(p.successInterval(target)),
		)
	}

	parsed, err := p.parser.Parse(result.Body)
	if err != nil {
		return p.recordFailure(ctx, target, now, err)
	}

	if err := p.reconciler.ReconcileAll(ctx, target.FeedID, parsed.Items, now); err != nil {
		return fmt.Errorf("failed to reconcile entries: %w", err)
	}

	hubURL := pick(result.HubURL, target.HubURL)
	err = p.feeds.MarkFetchSuccess(ctx, target.FeedID,
		pick(parsed.Title, target.Title),
		result.ETag,
		result.LastModified,
		result.BodyHash,
		hubURL,
		now.Add(p.successInterval(target)),
	)
	if err != nil {
		return err
	}

	p.logger.Info("Feed fetched",
		slog.String("feed_id", target.FeedID),
		slog.String("url", target.URL),
		slog.Int("items", len(parsed.Items)),
	)

	if p.subscriber != nil && result.HubURL != "" {
		// Push setup failures downgrade the feed to polling-only; the fetch
		// itself already succeeded.
		if err := p.subscriber.EnsureSubscription(ctx, target, result.HubURL); err != nil {
			p.logger.Warn("Failed to establish push subscription, staying on polling",
				slog.String("feed_id", target.FeedID),
				slog.String("hub_url", result.HubURL),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// successInterval is the poll interval after a successful fetch, with the
// failure streak considered cleared.
func (p *Pipeline) successInterval(feed *domain.Feed) time.Duration {
	cleared := *feed
	cleared.ConsecutiveFailures = 0
	return cleared.PollInterval(p.backoff)
}

func (p *Pipeline) recordFailure(ctx context.Context, feed *domain.Feed, now time.Time, fetchErr error) error {
	failures := feed.ConsecutiveFailures + 1
	next := now.Add(p.backoff.Delay(failures))

	p.logger.Warn("Feed fetch failed",
		slog.String("feed_id", feed.FeedID),
		slog.String("url", feed.URL),
		slog.Int("consecutive_failures", failures),
		slog.Time("next_fetch_at", next),
		slog.String("error", fetchErr.Error()),
	)

	return p.feeds.MarkFetchFailure(ctx, feed.FeedID, fetchErr.Error(), failures, next)
}

func pick(fresh, stored string) string {
	if fresh != "" {
		return fresh
	}
	return stored
}
