package calendar

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "caltimer/internal/log"
)

// Source is one ICS subscription.
type Source struct {
	ID  string
	URL string
}

// validators are the HTTP cache validators stored next to a cached body.
type validators struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// ErrStaleCache is returned when a feed cannot be fetched and its cached
// copy is older than the fetcher's limit.
var ErrStaleCache = errors.New("cached feed is too old")

// Fetcher downloads ICS feeds with conditional requests and keeps the last
// good body on disk, so a feed that is briefly unreachable still yields
// events. The cached body is served for at most maxStale after the feed
// was last confirmed.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	maxStale time.Duration
	now      func() time.Time
}

// NewFetcher returns a Fetcher caching under cacheDir. maxStale <= 0 means
// one hour.
func NewFetcher(cacheDir string, maxStale time.Duration) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	if maxStale <= 0 {
		maxStale = time.Hour
	}
	return &Fetcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheDir: cacheDir,
		maxStale: maxStale,
		now:      time.Now,
	}
}

// Fetch returns the feed body and whether it came from the disk cache.
func (f *Fetcher) Fetch(ctx context.Context, src Source) ([]byte, bool, error) {
	if src.URL == "" {
		return nil, false, errors.New("feed url is empty")
	}
	dir := f.entryDir(src.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, false, err
	}

	meta := f.readValidators(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.ics"))
	lg := appLog.With("feed", src.ID, "url", redactURL(src.URL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, false, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) == 0 {
			return nil, false, err
		}
		if age := f.now().Sub(meta.FetchedAt); age > f.maxStale {
			return nil, false, fmt.Errorf("%w (age %s): %v", ErrStaleCache, age.Round(time.Second), err)
		}
		lg.Warn("feed unreachable, using cached copy", "error", err)
		return cached, true, nil
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, err
		}
		meta = validators{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			FetchedAt:    f.now().UTC(),
		}
		if err := f.store(dir, meta, body); err != nil {
			lg.Error("caching feed failed", err)
		}
		lg.Debug("feed fetched", "bytes", len(body))
		return body, false, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return nil, false, errors.New("304 Not Modified without a cached body")
		}
		meta.FetchedAt = f.now().UTC()
		if err := f.store(dir, meta, cached); err != nil {
			lg.Error("caching feed failed", err)
		}
		lg.Debug("feed not modified")
		return cached, true, nil
	}

	if len(cached) == 0 {
		return nil, false, fmt.Errorf("unexpected status %s", resp.Status)
	}
	if age := f.now().Sub(meta.FetchedAt); age > f.maxStale {
		return nil, false, fmt.Errorf("%w (age %s): unexpected status %s", ErrStaleCache, age.Round(time.Second), resp.Status)
	}
	lg.Warn("feed returned an error status, using cached copy", "status", resp.StatusCode)
	return cached, true, nil
}

func (f *Fetcher) entryDir(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) readValidators(dir string) validators {
	var v validators
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return v
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return validators{}
	}
	return v
}

// store writes the body before the validators so the validators never
// refer to a body that is not there.
func (f *Fetcher) store(dir string, v validators, body []byte) error {
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host; private feed URLs carry their
// secret in the path or query.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
