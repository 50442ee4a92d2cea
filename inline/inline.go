// Package inline implements the recording side's subtree-to-virtual-DOM
// walk (§4.3): it turns a serialized live document into a wire.Document,
// rewriting every asset-bearing attribute and stylesheet url(...) to an
// asset:N placeholder, and fetches the referenced bytes out-of-band with
// bounded concurrency.
package inline

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/sync/semaphore"

	"github.com/hazyhaar/domrec/asset"
	"github.com/hazyhaar/domrec/wire"
)

// Fetcher performs the inliner's out-of-band asset GETs. fetch.Fetcher
// satisfies this.
type Fetcher interface {
	FetchAsset(ctx context.Context, assetURL string) (body []byte, contentType string, err error)
}

// Config tunes the Inliner's behaviour (§4.3).
type Config struct {
	// Concurrency bounds simultaneous out-of-band asset fetches. Zero
	// means the spec's default of 6.
	Concurrency int
	// CrossOriginInline enables fetching assets whose origin differs
	// from the document's. When false, cross-origin assets are still
	// interned and placeholder-rewritten, but always resolve with empty
	// bytes (triggering the player's original-URL fallback).
	CrossOriginInline bool
}

// AssetResult is one out-of-band fetch's outcome, ready to become an
// Asset frame. Empty Bytes signals fetch failure or a disallowed
// cross-origin fetch — the spec's fallback path.
type AssetResult struct {
	ID    int
	URL   string
	Bytes []byte
	Mime  string
}

// Inliner walks a serialized document and produces its virtual-DOM form.
type Inliner struct {
	cfg     Config
	pending *asset.Pending
	fetcher Fetcher
	base    *url.URL
}

// New creates an Inliner. baseURL is the document's base URL, used to
// resolve every relative asset reference to an absolute one before
// interning it.
func New(fetcher Fetcher, pending *asset.Pending, baseURL string, cfg Config) (*Inliner, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("inline: parse base url %q: %w", baseURL, err)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 6
	}
	return &Inliner{cfg: cfg, pending: pending, fetcher: fetcher, base: base}, nil
}

type internedRef struct {
	id          int
	url         string
	crossOrigin bool
}

// Inline parses serialized HTML, builds a wire.Document with every asset
// reference rewritten to a placeholder, and fetches the newly-interned
// assets' bytes. adopted carries the document's current adopted
// stylesheets (discovered by the caller via CDP, since they are live JS
// objects with no HTML serialization) — their text is scanned for
// url(...) references the same way <style> element text is.
func (in *Inliner) Inline(ctx context.Context, documentID int, doc []byte, adopted []wire.StyleSheetRef) (*wire.Document, []AssetResult, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, nil, fmt.Errorf("inline: parse document: %w", err)
	}

	w := &walker{in: in, nextID: 1}
	var children []wire.VNode
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode || c.Type == html.DoctypeNode || c.Type == html.CommentNode {
			children = append(children, w.convert(c))
		}
	}

	sheets := make([]wire.StyleSheetRef, len(adopted))
	for i, s := range adopted {
		sheets[i] = wire.StyleSheetRef{
			ID:    s.ID,
			Media: s.Media,
			Text:  asset.ReplaceCSSURLs(s.Text, w.internCSSURL),
		}
	}

	wireDoc := &wire.Document{
		ID:                 documentID,
		AdoptedStyleSheets: sheets,
		Children:           children,
	}

	results, err := in.fetchAll(ctx, w.refs)
	if err != nil {
		return nil, nil, err
	}
	return wireDoc, results, nil
}

func (in *Inliner) fetchAll(ctx context.Context, refs []internedRef) ([]AssetResult, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	sem := semaphore.NewWeighted(int64(in.cfg.Concurrency))
	results := make([]AssetResult, len(refs))

	errCh := make(chan error, len(refs))
	for i, ref := range refs {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("inline: acquire fetch slot: %w", err)
		}
		go func(i int, ref internedRef) {
			defer sem.Release(1)
			results[i] = in.fetchOne(ctx, ref)
			errCh <- nil
		}(i, ref)
	}
	for range refs {
		<-errCh
	}
	return results, nil
}

func (in *Inliner) fetchOne(ctx context.Context, ref internedRef) AssetResult {
	if ref.crossOrigin && !in.cfg.CrossOriginInline {
		return AssetResult{ID: ref.id, URL: ref.url}
	}
	body, mime, err := in.fetcher.FetchAsset(ctx, ref.url)
	if err != nil {
		return AssetResult{ID: ref.id, URL: ref.url}
	}
	return AssetResult{ID: ref.id, URL: ref.url, Bytes: body, Mime: mime}
}

// internCSSURL resolves, interns, and replaces one url(...) production's
// contents found while scanning CSS text. data:/blob: URLs pass through.
func (w *walker) internCSSURL(raw string) string {
	return w.internURL(raw)
}

func (w *walker) internURL(raw string) string {
	if strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "blob:") {
		return raw
	}
	abs, err := w.in.base.Parse(raw)
	if err != nil {
		return raw
	}
	absStr := abs.String()
	id, isNew := w.in.pending.Intern(absStr)
	if isNew {
		w.refs = append(w.refs, internedRef{
			id:          id,
			url:         absStr,
			crossOrigin: abs.Host != w.in.base.Host,
		})
	}
	return asset.Placeholder(id)
}
