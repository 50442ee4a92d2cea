// Package fetch implements the HTTP-only acquisition path (domtab.LevelHTTP).
// No browser, no JS — a single HTTP GET that produces the raw HTML for a
// keyframe. Covers static sites and any page that doesn't need a browser
// to render its initial content; the recorder's "auto" stealth level
// escalates to a browser tab when IsSufficient reports false.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Result is the outcome of an HTTP fetch.
type Result struct {
	HTML       []byte
	HTMLHash   string // hex sha256, for keyframe dedup against a prior recording
	Sufficient bool   // true if the HTML has enough content (no escalation needed)
	StatusCode int
	ETag       string
	LastMod    string
}

// Fetcher performs HTTP GETs and produces fetch Results.
type Fetcher struct {
	client *http.Client
	ua     string
	logger *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.ua = ua }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher with sensible defaults.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		ua:     "Mozilla/5.0 (compatible; domrec/1.0)",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch GETs a URL and returns the result with HTML bytes and a
// sufficiency signal.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: do: %w", err)
	}
	defer resp.Body.Close()

	// Cap read to 10MB to prevent runaway downloads.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}

	sum := sha256.Sum256(body)

	res := &Result{
		HTML:       body,
		HTMLHash:   hex.EncodeToString(sum[:]),
		StatusCode: resp.StatusCode,
		ETag:       resp.Header.Get("ETag"),
		LastMod:    resp.Header.Get("Last-Modified"),
		Sufficient: IsSufficient(body),
	}

	f.logger.Debug("fetch: fetched",
		"url", pageURL, "status", resp.StatusCode,
		"size", len(body), "sufficient", res.Sufficient)

	return res, nil
}

// FetchAsset GETs an arbitrary asset URL (image, font, stylesheet, ...)
// for inline's out-of-band resolution path. Unlike Fetch it makes no
// sufficiency judgement — the caller already knows it wants bytes.
func (f *Fetcher) FetchAsset(ctx context.Context, assetURL string) (body []byte, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("fetch: new asset request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch: asset do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("fetch: asset %s: status %d", assetURL, resp.StatusCode)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, "", fmt.Errorf("fetch: read asset body: %w", err)
	}

	return body, resp.Header.Get("Content-Type"), nil
}

// Head performs a HEAD request to check ETag/Last-Modified without downloading.
func (f *Fetcher) Head(ctx context.Context, pageURL string) (etag, lastMod string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, pageURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("fetch: head request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch: head do: %w", err)
	}
	resp.Body.Close()

	return resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), nil
}
