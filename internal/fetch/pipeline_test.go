package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedsync/internal/domain"
)

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example Feed</title>
    <link>https://example.com/</link>
    <item>
      <title>First Post</title>
      <link>https://example.com/posts/1</link>
      <guid>post-1</guid>
      <description>Hello world</description>
    </item>
  </channel>
</rss>`

type fakeFeedStore struct {
	feeds map[string]*domain.Feed

	unchanged       int
	lastUnchangedID string
	successes       int
	failures        int
	retired         []string
	lastFailure     struct {
		feedID   string
		lastErr  string
		failures int
		next     time.Time
	}
	lastSuccess struct {
		feedID string
		title  string
		hubURL string
	}
}

func newFakeFeedStore(feeds ...*domain.Feed) *fakeFeedStore {
	s := &fakeFeedStore{feeds: make(map[string]*domain.Feed)}
	for _, feed := range feeds {
		s.feeds[feed.FeedID] = feed
	}
	return s
}

func (s *fakeFeedStore) GetFeed(_ context.Context, feedID string) (*domain.Feed, error) {
	feed, ok := s.feeds[feedID]
	if !ok {
		return nil, domain.ErrFeedNotFound
	}
	return feed, nil
}

func (s *fakeFeedStore) MarkFetchUnchanged(_ context.Context, feedID, etag, lastModified string, nextFetchAt time.Time) error {
	s.unchanged++
	s.lastUnchangedID = feedID
	return nil
}

func (s *fakeFeedStore) MarkFetchSuccess(_ context.Context, feedID, title, etag, lastModified, bodyHash, hubURL string, nextFetchAt time.Time) error {
	s.successes++
	s.lastSuccess.feedID = feedID
	s.lastSuccess.title = title
	s.lastSuccess.hubURL = hubURL
	return nil
}

func (s *fakeFeedStore) MarkFetchFailure(_ context.Context, feedID, lastError string, failures int, nextFetchAt time.Time) error {
	s.failures++
	s.lastFailure.feedID = feedID
	s.lastFailure.lastErr = lastError
	s.lastFailure.failures = failures
	s.lastFailure.next = nextFetchAt
	return nil
}

func (s *fakeFeedStore) RetireFeed(_ context.Context, feedID string) error {
	s.retired = append(s.retired, feedID)
	return nil
}

type fakeSubscriber struct {
	calls   int
	feedID  string
	hubURL  string
	failErr error
}

func (f *fakeSubscriber) EnsureSubscription(_ context.Context, feed *domain.Feed, hubURL string) error {
	f.calls++
	f.feedID = feed.FeedID
	f.hubURL = hubURL
	return f.failErr
}

func newTestPipeline(feeds *fakeFeedStore, entries *fakeEntryStore, migrations *fakeMigrationStore, sub HubSubscriber) *Pipeline {
	logger := discardLogger()
	return NewPipeline(&PipelineConfig{
		Feeds:      feeds,
		Fetcher:    newTestFetcher(),
		Parser:     NewParser(),
		Reconciler: NewReconciler(entries, logger),
		Migrator:   NewMigrator(migrations, logger),
		Subscriber: sub,
		Logger:     logger,
	})
}

func TestPipeline_Run_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(testRSS))
	}))
	defer server.Close()

	feeds := newFakeFeedStore(&domain.Feed{FeedID: "feed-1", URL: server.URL})
	entries := newFakeEntryStore()
	p := newTestPipeline(feeds, entries, newFakeMigrationStore(), nil)

	require.NoError(t, p.Run(context.Background(), "feed-1"))

	assert.Equal(t, 1, entries.inserts)
	assert.Equal(t, 1, feeds.successes)
	assert.Equal(t, "feed-1", feeds.lastSuccess.feedID)
	assert.Equal(t, "Example Feed", feeds.lastSuccess.title)
	assert.Zero(t, feeds.failures)
}

func TestPipeline_Run_NotModified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	feeds := newFakeFeedStore(&domain.Feed{FeedID: "feed-1", URL: server.URL, ETag: `"v1"`})
	entries := newFakeEntryStore()
	p := newTestPipeline(feeds, entries, newFakeMigrationStore(), nil)

	require.NoError(t, p.Run(context.Background(), "feed-1"))

	assert.Equal(t, 1, feeds.unchanged)
	assert.Zero(t, feeds.successes)
	assert.Zero(t, entries.inserts)
}

func TestPipeline_Run_BodyHashShortCircuit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testRSS))
	}))
	defer server.Close()

	// Stored hash matches what the server will return, so the pipeline must
	// stop before parsing even though no validators matched.
	priming, err := newTestFetcher().Fetch(context.Background(), server.URL, "", "")
	require.NoError(t, err)

	feeds := newFakeFeedStore(&domain.Feed{FeedID: "feed-1", URL: server.URL, BodyHash: priming.BodyHash})
	entries := newFakeEntryStore()
	p := newTestPipeline(feeds, entries, newFakeMigrationStore(), nil)

	require.NoError(t, p.Run(context.Background(), "feed-1"))

	assert.Equal(t, 1, feeds.unchanged)
	assert.Zero(t, entries.inserts)
	assert.Zero(t, entries.touches)
}

func TestPipeline_Run_TransportFailureRecordedOnFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	feeds := newFakeFeedStore(&domain.Feed{FeedID: "feed-1", URL: server.URL, ConsecutiveFailures: 2})
	p := newTestPipeline(feeds, newFakeEntryStore(), newFakeMigrationStore(), nil)

	// A broken feed must not fail the job.
	require.NoError(t, p.Run(context.Background(), "feed-1"))

	assert.Equal(t, 1, feeds.failures)
	assert.Equal(t, 3, feeds.lastFailure.failures)
	assert.NotEmpty(t, feeds.lastFailure.lastErr)
	assert.True(t, feeds.lastFailure.next.After(time.Now()))
}

func TestPipeline_Run_ParseFailureRecordedOnFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not a feed"))
	}))
	defer server.Close()

	feeds := newFakeFeedStore(&domain.Feed{FeedID: "feed-1", URL: server.URL})
	p := newTestPipeline(feeds, newFakeEntryStore(), newFakeMigrationStore(), nil)

	require.NoError(t, p.Run(context.Background(), "feed-1"))
	assert.Equal(t, 1, feeds.failures)
	assert.Equal(t, 1, feeds.lastFailure.failures)
}

func TestPipeline_Run_PermanentRedirectMigrates(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testRSS))
	})

	feeds := newFakeFeedStore(&domain.Feed{FeedID: "feed-old", URL: server.URL + "/old"})
	entries := newFakeEntryStore()
	migrations := newFakeMigrationStore()
	p := newTestPipeline(feeds, entries, migrations, nil)

	require.NoError(t, p.Run(context.Background(), "feed-old"))

	require.Len(t, migrations.migrations, 1)
	assert.Equal(t, "feed-old", migrations.migrations[0][0])
	newFeedID := migrations.migrations[0][1]

	assert.Equal(t, []string{"feed-old"}, feeds.retired)
	assert.Equal(t, newFeedID, feeds.lastSuccess.feedID)

	// Entries land under the destination feed, not the retired one.
	entry := entries.entries[entryKey(newFeedID, "post-1")]
	assert.NotNil(t, entry)
	assert.Nil(t, entries.entries[entryKey("feed-old", "post-1")])
}

func TestPipeline_Run_RedirectMigratesDespiteUnchangedBody(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testRSS))
	})

	// The stored hash already matches what the destination serves. Identity
	// must still move; only the destination's own state decides whether
	// parsing can be skipped.
	priming, err := newTestFetcher().Fetch(context.Background(), server.URL+"/new", "", "")
	require.NoError(t, err)

	feeds := newFakeFeedStore(&domain.Feed{FeedID: "feed-old", URL: server.URL + "/old", BodyHash: priming.BodyHash})
	entries := newFakeEntryStore()
	migrations := newFakeMigrationStore()
	p := newTestPipeline(feeds, entries, migrations, nil)

	require.NoError(t, p.Run(context.Background(), "feed-old"))

	require.Len(t, migrations.migrations, 1)
	assert.Equal(t, "feed-old", migrations.migrations[0][0])
	assert.Equal(t, []string{"feed-old"}, feeds.retired)

	newFeedID := migrations.migrations[0][1]
	assert.NotNil(t, entries.entries[entryKey(newFeedID, "post-1")])
}

func TestPipeline_Run_RedirectMigratesDespiteNotModified(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	})

	feeds := newFakeFeedStore(&domain.Feed{FeedID: "feed-old", URL: server.URL + "/old", ETag: `"v1"`})
	entries := newFakeEntryStore()
	migrations := newFakeMigrationStore()
	p := newTestPipeline(feeds, entries, migrations, nil)

	require.NoError(t, p.Run(context.Background(), "feed-old"))

	require.Len(t, migrations.migrations, 1)
	assert.Equal(t, []string{"feed-old"}, feeds.retired)

	newFeedID := migrations.migrations[0][1]
	assert.Equal(t, 1, feeds.unchanged)
	assert.Equal(t, newFeedID, feeds.lastUnchangedID)
	assert.Zero(t, entries.inserts)
}

func TestPipeline_Run_HubDiscoveryTriggersSubscription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", `<https://hub.example.com/>; rel="hub"`)
		_, _ = w.Write([]byte(testRSS))
	}))
	defer server.Close()

	feeds := newFakeFeedStore(&domain.Feed{FeedID: "feed-1", URL: server.URL})
	sub := &fakeSubscriber{}
	p := newTestPipeline(feeds, newFakeEntryStore(), newFakeMigrationStore(), sub)

	require.NoError(t, p.Run(context.Background(), "feed-1"))

	assert.Equal(t, 1, sub.calls)
	assert.Equal(t, "feed-1", sub.feedID)
	assert.Equal(t, "https://hub.example.com/", sub.hubURL)
	assert.Equal(t, "https://hub.example.com/", feeds.lastSuccess.hubURL)
}

func TestPipeline_Run_SubscriptionFailureIsNotFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", `<https://hub.example.com/>; rel="hub"`)
		_, _ = w.Write([]byte(testRSS))
	}))
	defer server.Close()

	feeds := newFakeFeedStore(&domain.Feed{FeedID: "feed-1", URL: server.URL})
	sub := &fakeSubscriber{failErr: assert.AnError}
	p := newTestPipeline(feeds, newFakeEntryStore(), newFakeMigrationStore(), sub)

	require.NoError(t, p.Run(context.Background(), "feed-1"))
	assert.Equal(t, 1, feeds.successes)
}
