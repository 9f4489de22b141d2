package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher() *Fetcher {
	return NewFetcher("feedsync-test/1.0", 5*time.Second, 1<<20)
}

func TestFetcher_Fetch_SendsConditionalHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `"etag-1"`, r.Header.Get("If-None-Match"))
		assert.Equal(t, "Wed, 01 Jan 2025 00:00:00 GMT", r.Header.Get("If-Modified-Since"))
		assert.Equal(t, "feedsync-test/1.0", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	result, err := newTestFetcher().Fetch(context.Background(), server.URL, `"etag-1"`, "Wed, 01 Jan 2025 00:00:00 GMT")
	require.NoError(t, err)
	assert.True(t, result.NotModified)
	assert.Nil(t, result.Body)
}

func TestFetcher_Fetch_Success(t *testing.T) {
	body := `<rss version="2.0"><channel><title>Test</title></channel></rss>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"etag-2"`)
		w.Header().Set("Last-Modified", "Thu, 02 Jan 2025 00:00:00 GMT")
		w.Header().Set("Link", `<https://hub.example.com/>; rel="hub"`)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	result, err := newTestFetcher().Fetch(context.Background(), server.URL, "", "")
	require.NoError(t, err)

	assert.False(t, result.NotModified)
	assert.Equal(t, []byte(body), result.Body)

	sum := sha256.Sum256([]byte(body))
	assert.Equal(t, hex.EncodeToString(sum[:]), result.BodyHash)

	assert.Equal(t, `"etag-2"`, result.ETag)
	assert.Equal(t, "Thu, 02 Jan 2025 00:00:00 GMT", result.LastModified)
	assert.Equal(t, "https://hub.example.com/", result.HubURL)
	assert.False(t, result.Redirect)
}

func TestFetcher_Fetch_PermanentRedirect(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<rss/>"))
	})

	result, err := newTestFetcher().Fetch(context.Background(), server.URL+"/old", "", "")
	require.NoError(t, err)

	assert.True(t, result.Redirect)
	assert.Equal(t, server.URL+"/new", result.FinalURL)
	assert.Equal(t, []byte("<rss/>"), result.Body)
}

func TestFetcher_Fetch_TemporaryRedirectNotFlagged(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<rss/>"))
	})

	result, err := newTestFetcher().Fetch(context.Background(), server.URL+"/old", "", "")
	require.NoError(t, err)
	assert.False(t, result.Redirect)
}

func TestFetcher_Fetch_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestFetcher().Fetch(context.Background(), server.URL, "", "")
	assert.Error(t, err)
}

func TestHubFromLinkHeader(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		want   string
	}{
		{
			name:   "no link header",
			header: http.Header{},
			want:   "",
		},
		{
			name:   "hub relation",
			header: http.Header{"Link": {`<https://hub.example.com/>; rel="hub"`}},
			want:   "https://hub.example.com/",
		},
		{
			name:   "self relation ignored",
			header: http.Header{"Link": {`<https://example.com/feed>; rel="self"`}},
			want:   "",
		},
		{
			name: "hub among multiple values",
			header: http.Header{"Link": {
				`<https://example.com/feed>; rel="self"`,
				`<https://hub.example.com/>; rel="hub"`,
			}},
			want: "https://hub.example.com/",
		},
		{
			name:   "combined header value",
			header: http.Header{"Link": {`<https://example.com/feed>; rel="self", <https://hub.example.com/>; rel="hub"`}},
			want:   "https://hub.example.com/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hubFromLinkHeader(tt.header))
		})
	}
}
