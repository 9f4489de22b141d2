package hub

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"feedsync/internal/domain"
	"feedsync/internal/fetch"
)

// Verification modes carried by the hub's callback GET.
const (
	ModeSubscribe   = "subscribe"
	ModeUnsubscribe = "unsubscribe"
	ModeDenied      = "denied"
)

// PushStore is the storage surface the manager needs.
type PushStore interface {
	CreatePushSubscription(ctx context.Context, feedID, hubURL, topic, secret string) (*domain.PushSubscription, error)
	GetPushSubscription(ctx context.Context, pushID string) (*domain.PushSubscription, error)
	MarkSubscribeVerified(ctx context.Context, pushID string, leaseExpiresAt time.Time) error
	MarkPushFailed(ctx context.Context, pushID string) error
	MarkPushExpired(ctx context.Context, pushID string) error
	RecordUnsubscribeRequested(ctx context.Context, pushID string) error
	FinalizeUnsubscribe(ctx context.Context, pushID string) error
	ListExpiringPushSubscriptions(ctx context.Context, window time.Duration) ([]domain.PushSubscription, error)
	SetPushActive(ctx context.Context, feedID string, active bool) error
}

// Config holds hub manager configuration
type Config struct {
	CallbackBaseURL   string
	LeaseSeconds      int
	VerificationGrace time.Duration
	HTTPTimeout       time.Duration
}

// Manager runs the push-subscription protocol state machine for every
// (feed, hub) pair. Push supplements polling, it never replaces it: any
// failure here downgrades the feed to polling-only and nothing is lost.
type Manager struct {
	store      PushStore
	reconciler *fetch.Reconciler
	parser     *fetch.Parser
	client     *http.Client
	config     Config
	logger     *slog.Logger
}

// NewManager creates a new Manager instance
func NewManager(store PushStore, reconciler *fetch.Reconciler, cfg Config, logger *slog.Logger) *Manager {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Manager{
		store:      store,
		reconciler: reconciler,
		parser:     fetch.NewParser(),
		client:     &http.Client{Timeout: timeout},
		config:     cfg,
		logger:     logger,
	}
}

// EnsureSubscription creates (or resets) a push subscription for the feed's
// advertised hub and sends the subscribe request. Called from the fetch
// pipeline whenever a feed advertises a hub.
func (m *Manager) EnsureSubscription(ctx context.Context, feed *domain.Feed, hubURL string) error {
	if feed.PushActive && feed.HubURL == hubURL {
		return nil
	}

	secret, err := newSecret()
	if err != nil {
		return err
	}

	push, err := m.store.CreatePushSubscription(ctx, feed.FeedID, hubURL, feed.URL, secret)
	if err != nil {
		return err
	}

	return m.Subscribe(ctx, push)
}

// Subscribe sends the subscribe request to the hub. The subscription stays
// PENDING until the hub's verification GET succeeds; a request failure marks
// it FAILED and drops the feed back to polling-only.
func (m *Manager) Subscribe(ctx context.Context, push *domain.PushSubscription) error {
	err := m.sendHubRequest(ctx, push, ModeSubscribe)
	if err != nil {
		m.logger.Warn("Hub subscribe request failed, falling back to polling",
			slog.String("push_id", push.PushID),
			slog.String("hub_url", push.HubURL),
			slog.String("error", err.Error()),
		)
		return m.downgrade(ctx, push, err)
	}

	m.logger.Info("Hub subscribe request sent",
		slog.String("push_id", push.PushID),
		slog.String("hub_url", push.HubURL),
		slog.String("topic", push.Topic),
	)

	return nil
}

// Renew re-subscribes an active lease. Run by hub_renew jobs enqueued for
// leases expiring within the renewal window.
func (m *Manager) Renew(ctx context.Context, pushID string) error {
	push, err := m.store.GetPushSubscription(ctx, pushID)
	if err != nil {
		return err
	}

	if push.Status != domain.PushStatusActive && push.Status != domain.PushStatusPending {
		m.logger.Warn("Skipping renewal for inactive push subscription",
			slog.String("push_id", pushID),
			slog.String("status", push.Status),
		)
		return nil
	}

	return m.Subscribe(ctx, push)
}

// RequestUnsubscribe starts the unsubscribe sub-protocol: the request
// timestamp is recorded, the hub is asked to stop, and local removal is
// deferred until the hub confirms with its own verification GET.
func (m *Manager) RequestUnsubscribe(ctx context.Context, pushID string) error {
	push, err := m.store.GetPushSubscription(ctx, pushID)
	if err != nil {
		return err
	}

	if err := m.store.RecordUnsubscribeRequested(ctx, pushID); err != nil {
		return err
	}

	if err := m.sendHubRequest(ctx, push, ModeUnsubscribe); err != nil {
		m.logger.Warn("Hub unsubscribe request failed",
			slog.String("push_id", pushID),
			slog.String("error", err.Error()),
		)
		return err
	}

	return nil
}

// VerifyCallback processes the hub's verification GET. The returned echo
// must be sent back as the literal response body; ok=false means the
// request must be rejected without a challenge echo.
func (m *Manager) VerifyCallback(ctx context.Context, pushID, mode, topic, challenge, leaseSeconds string) (echo string, ok bool) {
	push, err := m.store.GetPushSubscription(ctx, pushID)
	if err != nil {
		m.logger.Warn("Verification for unknown push subscription",
			slog.String("push_id", pushID),
			slog.String("mode", mode),
		)
		return "", false
	}

	if topic != push.Topic || challenge == "" {
		m.logger.Warn("Verification rejected",
			slog.String("push_id", pushID),
			slog.String("mode", mode),
			slog.String("topic", topic),
		)
		return "", false
	}

	switch mode {
	case ModeSubscribe:
		if push.Status != domain.PushStatusPending && push.Status != domain.PushStatusActive {
			return "", false
		}
		if m.config.VerificationGrace > 0 && time.Since(push.UpdatedAt) > m.config.VerificationGrace {
			m.logger.Warn("Verification arrived outside grace window",
				slog.String("push_id", pushID),
			)
			_ = m.downgrade(ctx, push, fmt.Errorf("verification outside grace window"))
			return "", false
		}

		lease := m.leaseDuration(leaseSeconds)
		if err := m.store.MarkSubscribeVerified(ctx, pushID, time.Now().Add(lease)); err != nil {
			m.logger.Error("Failed to activate push subscription",
				slog.String("push_id", pushID),
				slog.String("error", err.Error()),
			)
			return "", false
		}
		if err := m.store.SetPushActive(ctx, push.FeedID, true); err != nil {
			m.logger.Error("Failed to flag feed push-active",
				slog.String("feed_id", push.FeedID),
				slog.String("error", err.Error()),
			)
		}
		return challenge, true

	case ModeUnsubscribe:
		// Only honored after we actually asked the hub to stop; the
		// subscribe and unsubscribe confirmations are independent.
		if push.UnsubscribeRequestedAt == nil {
			return "", false
		}
		if err := m.store.FinalizeUnsubscribe(ctx, pushID); err != nil {
			m.logger.Error("Failed to finalize unsubscribe",
				slog.String("push_id", pushID),
				slog.String("error", err.Error()),
			)
			return "", false
		}
		if err := m.store.SetPushActive(ctx, push.FeedID, false); err != nil {
			m.logger.Error("Failed to clear feed push flag",
				slog.String("feed_id", push.FeedID),
				slog.String("error", err.Error()),
			)
		}
		return challenge, true

	case ModeDenied:
		_ = m.downgrade(ctx, push, fmt.Errorf("hub denied subscription"))
		return "", false
	}

	return "", false
}

// HandleNotification processes a signed content notification POST. The HMAC
// over the raw body must verify before anything in it is trusted; on success
// each item flows through the same reconciler as polled content, so arrival
// order against a concurrent poll does not matter.
func (m *Manager) HandleNotification(ctx context.Context, pushID string, body []byte, signature string) error {
	push, err := m.store.GetPushSubscription(ctx, pushID)
	if err != nil {
		return err
	}

	if err := VerifySignature(push.Secret, body, signature); err != nil {
		m.logger.Warn("Rejected hub notification with bad signature",
			slog.String("push_id", pushID),
		)
		_ = m.downgrade(ctx, push, err)
		return err
	}

	parsed, err := m.parser.Parse(body)
	if err != nil {
		m.logger.Warn("Failed to parse hub notification, feed stays on polling",
			slog.String("push_id", pushID),
			slog.String("error", err.Error()),
		)
		_ = m.downgrade(ctx, push, err)
		return err
	}

	now := time.Now()
	if err := m.reconciler.ReconcileAll(ctx, push.FeedID, parsed.Items, now); err != nil {
		return err
	}

	m.logger.Info("Hub notification reconciled",
		slog.String("push_id", pushID),
		slog.String("feed_id", push.FeedID),
		slog.Int("items", len(parsed.Items)),
	)

	return nil
}

// ExpireLapsed transitions ACTIVE subscriptions whose lease has fully
// elapsed to EXPIRED and drops their feeds back to polling cadence.
func (m *Manager) ExpireLapsed(ctx context.Context) error {
	pushes, err := m.store.ListExpiringPushSubscriptions(ctx, 0)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, push := range pushes {
		if push.LeaseExpiresAt != nil && push.LeaseExpiresAt.After(now) {
			continue
		}
		if err := m.store.MarkPushExpired(ctx, push.PushID); err != nil {
			return err
		}
		if err := m.store.SetPushActive(ctx, push.FeedID, false); err != nil {
			return err
		}
		m.logger.Info("Push subscription lease expired",
			slog.String("push_id", push.PushID),
			slog.String("feed_id", push.FeedID),
		)
	}

	return nil
}

// downgrade marks the subscription FAILED and flips its feed back to
// polling-only. Polling was never stopped, so no updates are missed.
func (m *Manager) downgrade(ctx context.Context, push *domain.PushSubscription, cause error) error {
	if err := m.store.MarkPushFailed(ctx, push.PushID); err != nil {
		return err
	}
	if err := m.store.SetPushActive(ctx, push.FeedID, false); err != nil {
		return err
	}
	return cause
}

// sendHubRequest posts a subscribe/unsubscribe request to the hub, retrying
// transient failures with exponential backoff.
func (m *Manager) sendHubRequest(ctx context.Context, push *domain.PushSubscription, mode string) error {
	form := url.Values{}
	form.Set("hub.mode", mode)
	form.Set("hub.topic", push.Topic)
	form.Set("hub.callback", m.callbackURL(push.PushID))
	form.Set("hub.secret", push.Secret)
	if mode == ModeSubscribe {
		form.Set("hub.lease_seconds", strconv.Itoa(m.config.LeaseSeconds))
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, push.HubURL,
			strings.NewReader(form.Encode()))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := m.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("hub returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("hub returned %d", resp.StatusCode))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 15 * time.Second
	policy.MaxElapsedTime = time.Minute

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

func (m *Manager) callbackURL(pushID string) string {
	return strings.TrimSuffix(m.config.CallbackBaseURL, "/") + "/" + pushID
}

func (m *Manager) leaseDuration(leaseSeconds string) time.Duration {
	if secs, err := strconv.Atoi(leaseSeconds); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Duration(m.config.LeaseSeconds) * time.Second
}

func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
