package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	appLog "timetable/internal/log"
)

// maxBodyBytes caps a single feed download.
const maxBodyBytes = 8 << 20

// Source represents a single ICS subscription source.
type Source struct {
	// ID is an internal identifier (e.g., config ICS ID).
	ID string
	// URL is the ICS endpoint.
	URL string
}

// FetchResult contains the outcome of fetching a single ICS source.
type FetchResult struct {
	Source    Source
	Body      []byte // ICS payload (either freshly fetched or from cache)
	FromCache bool   // true if we reused the cached body
}

// cacheEntry holds HTTP validators and the last body for one URL.
type cacheEntry struct {
	etag         string
	lastModified string
	body         []byte
	updatedAt    time.Time
}

// Fetcher fetches ICS feeds with conditional requests (ETag /
// Last-Modified). Bodies are cached in memory only; nothing is written to
// disk.
type Fetcher struct {
	client *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewFetcher creates a Fetcher. A nil client gets a 15s timeout default.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{
		client: client,
		cache:  make(map[string]cacheEntry),
	}
}

// FetchAll fetches all given sources. Per-source errors are logged and
// returned; results only contain sources that produced a body.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	results := make([]FetchResult, 0, len(sources))
	errs := make([]error, 0)

	for _, src := range sources {
		res, err := f.FetchOne(ctx, src)
		if err != nil {
			errs = append(errs, fmt.Errorf("ics %s: %w", src.ID, err))
			appLog.Error("ics fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		results = append(results, res)
	}

	return results, errs
}

// FetchOne fetches a single ICS source. On network errors or non-OK
// statuses the last cached body is served if there is one.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}

	f.mu.Lock()
	cached, hasCache := f.cache[src.URL]
	f.mu.Unlock()

	fromCache := func(reason string, cause error) (FetchResult, error) {
		if !hasCache || len(cached.body) == 0 {
			return FetchResult{}, cause
		}
		appLog.Warn("ics fetch "+reason+"; using cached body", "id", src.ID, "url", redactURL(src.URL), "err", cause)
		return FetchResult{Source: src, Body: cached.body, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if hasCache {
		if cached.etag != "" {
			req.Header.Set("If-None-Match", cached.etag)
		}
		if cached.lastModified != "" {
			req.Header.Set("If-Modified-Since", cached.lastModified)
		}
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", redactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		return fromCache("network error", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if readErr != nil {
			return fromCache("read error", readErr)
		}
		f.mu.Lock()
		f.cache[src.URL] = cacheEntry{
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
			body:         body,
			updatedAt:    time.Now().UTC(),
		}
		f.mu.Unlock()
		appLog.Info("ics fetch success", "id", src.ID, "url", redactURL(src.URL), "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if !hasCache || len(cached.body) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("ics fetch not modified; using cache", "id", src.ID, "url", redactURL(src.URL))
		return FetchResult{Source: src, Body: cached.body, FromCache: true}, nil

	default:
		return fromCache("non-OK status", errors.New(resp.Status))
	}
}

// redactURL keeps scheme and host only; subscription URLs often carry
// secrets in the path or query.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "ics://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + redactedSuffix
}
