package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultMaxBodySize = 10 << 20

// FetchResult is the outcome of one conditional retrieval.
type FetchResult struct {
	NotModified  bool
	Body         []byte
	BodyHash     string
	ETag         string
	LastModified string
	HubURL       string
	// FinalURL differs from the requested URL when the source signaled a
	// permanent relocation.
	FinalURL string
	Redirect bool
}

// Fetcher performs conditional feed retrievals. All requests are time-bounded
// by the client timeout and the caller's context.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	maxBodySize int64
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(userAgent string, timeout time.Duration, maxBodySize int64) *Fetcher {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxBodySize
	}

	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		userAgent:   userAgent,
		maxBodySize: maxBodySize,
	}
}

// Fetch retrieves url conditionally using the stored validators. A 304
// response short-circuits to NotModified with no body. Permanent redirects
// (301/308) are followed and reported so the caller can migrate the feed.
func (f *Fetcher) Fetch(ctx context.Context, url, etag, lastModified string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml, text/xml")

	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	var permanentURL string
	client := *f.client
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return fmt.Errorf("stopped after 10 redirects")
		}
		if req.Response != nil {
			switch req.Response.StatusCode {
			case http.StatusMovedPermanently, http.StatusPermanentRedirect:
				permanentURL = req.URL.String()
			}
		}
		return nil
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	result := &FetchResult{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		HubURL:       hubFromLinkHeader(resp.Header),
		FinalURL:     url,
	}
	if permanentURL != "" {
		result.FinalURL = permanentURL
		result.Redirect = true
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		result.NotModified = true
		return result, nil

	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	sum := sha256.Sum256(body)
	result.Body = body
	result.BodyHash = hex.EncodeToString(sum[:])

	return result, nil
}

// hubFromLinkHeader extracts the hub advertised in a Link header, the
// discovery mechanism of the push-subscription protocol:
//
//	Link: <https://hub.example.com/>; rel="hub"
func hubFromLinkHeader(header http.Header) string {
	for _, link := range header.Values("Link") {
		for _, part := range strings.Split(link, ",") {
			segments := strings.Split(part, ";")
			if len(segments) < 2 {
				continue
			}

			target := strings.TrimSpace(segments[0])
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}

			for _, param := range segments[1:] {
				param = strings.TrimSpace(param)
				if param == `rel="hub"` || param == "rel=hub" {
					return strings.Trim(target, "<>")
				}
			}
		}
	}
	return ""
}
