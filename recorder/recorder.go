// Package recorder implements the DomRecorder (§6's producer contract):
// it drives a source tab through domtab, seeds and runs the change
// detector and stylesheet tracker, interns newly-discovered assets as
// they appear in both the keyframe and the live operation stream, and
// writes the resulting binary frame stream (§6, package wire) to an
// io.Writer.
package recorder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hazyhaar/domrec/asset"
	"github.com/hazyhaar/domrec/detector"
	"github.com/hazyhaar/domrec/domtab"
	"github.com/hazyhaar/domrec/fetch"
	"github.com/hazyhaar/domrec/inline"
	"github.com/hazyhaar/domrec/nodeid"
	"github.com/hazyhaar/domrec/styletrack"
	"github.com/hazyhaar/domrec/wire"
)

// documentNodeID is the id carried by the wire.Document pseudo-node
// itself, as distinct from its children. The Inliner's walk numbers the
// document's actual top-level nodes starting at 1, so 0 never collides
// with a real node and is reserved for the document wrapper.
// detector.Seed already tolerates this: adopting a root with id 0 logs
// one benign ErrOrphanedChild warning and still adopts every descendant
// normally, since the walk continues past the unassignable root.
const documentNodeID = 0

// Recorder is one page's DomRecorder: source tab, change detector,
// stylesheet tracker, and asset interning, all funneled into one frame
// stream.
type Recorder struct {
	cfg     Config
	logger  *slog.Logger
	out     io.Writer
	outMu   sync.Mutex
	baseURL *url.URL

	mgr     *domtab.Manager
	tab     *domtab.Tab
	ids     *nodeid.Map
	pending *asset.Pending
	inliner *inline.Inliner
	fetcher *fetch.Fetcher
	det     *detector.Detector
	tracker *styletrack.Tracker

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Recorder. out receives the binary frame stream; the
// caller owns its lifetime (a file, a network connection, a pipe to a
// storage process).
func New(cfg Config, out io.Writer) *Recorder {
	cfg.defaults()
	return &Recorder{
		cfg:     cfg,
		logger:  cfg.Logger,
		out:     out,
		fetcher: fetch.New(fetch.WithLogger(cfg.Logger)),
	}
}

// Start opens the source tab (or performs a single HTTP fetch, for the
// "0"/"http" and HTTP-sufficient "auto" cases), writes the magic header
// and keyframe, and — browser modes only — begins live tracking on
// background goroutines. It returns once the keyframe has been written.
func (r *Recorder) Start(ctx context.Context) error {
	base, err := url.Parse(r.cfg.PageURL)
	if err != nil {
		return fmt.Errorf("recorder: parse page url %q: %w", r.cfg.PageURL, err)
	}
	r.baseURL = base

	level, httpOnly, err := r.resolveLevel(ctx)
	if err != nil {
		return fmt.Errorf("recorder: resolve stealth level: %w", err)
	}
	if httpOnly {
		return r.recordHTTPOnly(ctx)
	}

	r.cfg.Browser.Stealth = level
	r.mgr = domtab.NewManager(r.cfg.Browser)
	if _, err := r.mgr.Start(ctx); err != nil {
		return fmt.Errorf("recorder: start browser: %w", err)
	}

	tab, err := domtab.OpenTab(ctx, r.mgr, domtab.RoleSource, r.cfg.PageURL, r.cfg.PageID, level)
	if err != nil {
		return fmt.Errorf("recorder: open tab: %w", err)
	}
	r.tab = tab

	if err := tab.EnableDOMTracking(ctx); err != nil {
		r.logger.Warn("recorder: enable dom tracking", "error", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.ctx = runCtx
	r.cancel = cancel

	r.ids = nodeid.New()
	r.pending = asset.NewPending()

	r.inliner, err = inline.New(r.fetcher, r.pending, r.cfg.PageURL, inline.Config{
		Concurrency:       r.cfg.Concurrency,
		CrossOriginInline: r.cfg.CrossOriginInline,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("recorder: build inliner: %w", err)
	}

	r.tracker = styletrack.New(r.ids, styletrack.Config{Logger: r.logger})
	if err := r.tracker.Start(ctx, tab); err != nil {
		cancel()
		return fmt.Errorf("recorder: start stylesheet tracker: %w", err)
	}
	r.tracker.SetEmit(r.emitSheetOp)

	doc, assets, err := r.buildKeyframe(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("recorder: build keyframe: %w", err)
	}

	if err := r.writeMagic(); err != nil {
		cancel()
		return err
	}
	if err := r.writeFrame(wire.Frame{Tag: wire.TagKeyframe, Payload: wire.KeyframePayload{
		Document:   *doc,
		AssetCount: len(assets),
	}}); err != nil {
		cancel()
		return err
	}
	for _, a := range assets {
		if err := r.writeAsset(a); err != nil {
			cancel()
			return err
		}
	}
	markEmittedTree(r.tracker, doc.Children)
	markAdoptedEmitted(r.tracker, doc.AdoptedStyleSheets)

	r.det = detector.New(r.ids, detector.Config{Interval: r.cfg.Interval, Logger: r.logger})
	r.det.SetEmit(r.emitOps)
	if err := r.det.Seed(ctx, tab, doc); err != nil {
		cancel()
		return fmt.Errorf("recorder: seed detector: %w", err)
	}
	if err := r.det.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("recorder: start detector: %w", err)
	}

	go r.timestampLoop(runCtx)
	return nil
}

// Stop halts live tracking and tears down the source tab and browser.
// Safe to call after an HTTP-only Start, where it is a no-op.
func (r *Recorder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.det != nil {
		r.det.Stop()
	}
	if r.tracker != nil {
		r.tracker.Stop()
	}
	if r.tab != nil {
		r.tab.Close()
	}
	if r.mgr != nil {
		r.mgr.Close()
	}
}

// resolveLevel decides the automation mode, resolving "auto" via an HTTP
// probe exactly as the teacher's Watcher.resolveStealthLevel does:
// fetch once, escalate to headless only if the static HTML looks
// insufficient.
func (r *Recorder) resolveLevel(ctx context.Context) (level domtab.StealthLevel, httpOnly bool, err error) {
	switch r.cfg.StealthLevel {
	case "0", "http":
		return domtab.LevelHTTP, true, nil
	case "auto":
		result, ferr := r.fetcher.Fetch(ctx, r.cfg.PageURL)
		if ferr != nil {
			r.logger.Warn("recorder: auto-detect fetch failed, escalating to headless",
				"url", r.cfg.PageURL, "error", ferr)
			return domtab.LevelHeadless, false, nil
		}
		if result.Sufficient {
			return domtab.LevelHTTP, true, nil
		}
		r.logger.Info("recorder: content insufficient via HTTP, escalating to headless", "url", r.cfg.PageURL)
		return domtab.LevelHeadless, false, nil
	default:
		return resolveStealthLevel(r.cfg.StealthLevel), false, nil
	}
}

// recordHTTPOnly builds a single keyframe from one HTTP GET and no
// browser at all. There is nothing to adopt (no live CSSOM) and nothing
// to track afterward (§4.3's HTTP-only mode never escalates mid-stream).
func (r *Recorder) recordHTTPOnly(ctx context.Context) error {
	result, err := r.fetcher.Fetch(ctx, r.cfg.PageURL)
	if err != nil {
		return fmt.Errorf("recorder: http fetch: %w", err)
	}

	r.pending = asset.NewPending()
	inliner, err := inline.New(r.fetcher, r.pending, r.cfg.PageURL, inline.Config{
		Concurrency:       r.cfg.Concurrency,
		CrossOriginInline: r.cfg.CrossOriginInline,
	})
	if err != nil {
		return fmt.Errorf("recorder: build inliner: %w", err)
	}

	doc, assets, err := inliner.Inline(ctx, documentNodeID, result.HTML, nil)
	if err != nil {
		return fmt.Errorf("recorder: inline http snapshot: %w", err)
	}

	if err := r.writeMagic(); err != nil {
		return err
	}
	if err := r.writeFrame(wire.Frame{Tag: wire.TagKeyframe, Payload: wire.KeyframePayload{
		Document:   *doc,
		AssetCount: len(assets),
	}}); err != nil {
		return err
	}
	for _, a := range assets {
		if err := r.writeAsset(a); err != nil {
			return err
		}
	}
	return nil
}

// buildKeyframe assembles the initial full-document snapshot: pre-
// existing adopted stylesheets the tracker can't otherwise see, the
// serialized DOM, and the Inliner's asset-interning walk over both.
func (r *Recorder) buildKeyframe(ctx context.Context) (*wire.Document, []inline.AssetResult, error) {
	seeds, err := r.tracker.SeedAdopted(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("seed adopted stylesheets: %w", err)
	}
	adopted := make([]wire.StyleSheetRef, len(seeds))
	for i, s := range seeds {
		adopted[i] = wire.StyleSheetRef{ID: s.ID, Media: s.Media, Text: s.Text}
	}

	html, err := r.tab.GetFullDOM(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("get full dom: %w", err)
	}

	return r.inliner.Inline(ctx, documentNodeID, html, adopted)
}

// markEmittedTree tells the stylesheet tracker that every element in a
// just-announced subtree (a keyframe or a fresh insert) is now visible
// downstream, flushing any sheet events it had queued against one of
// these owners while waiting (§4.5).
func markEmittedTree(tracker *styletrack.Tracker, nodes []wire.VNode) {
	for i := range nodes {
		n := &nodes[i]
		if n.Kind == wire.KindElement {
			tracker.MarkEmitted(n.ID)
		}
		markEmittedTree(tracker, n.Children)
		if n.Shadow != nil {
			markEmittedTree(tracker, n.Shadow)
		}
	}
}

// markAdoptedEmitted tells the tracker that every adopted sheet the
// keyframe seeded (SeedAdopted, before tracking began) is now announced,
// so a later rule-insert/-delete/-replace event against one of these
// pre-existing sheets delivers immediately instead of queuing forever —
// there is no further "sheet-added" event coming for a sheet that already
// existed when recording started.
func markAdoptedEmitted(tracker *styletrack.Tracker, sheets []wire.StyleSheetRef) {
	for _, s := range sheets {
		tracker.MarkEmitted(s.ID)
	}
}

// emitSheetOp is the stylesheet tracker's delivery callback: one
// StyleSheetChanged frame per sheet event, in emission order.
func (r *Recorder) emitSheetOp(op wire.SheetOp) {
	if err := r.writeFrame(wire.Frame{Tag: wire.TagStyleSheetChanged, Payload: wire.StyleSheetChangedPayload{Op: op}}); err != nil {
		r.logger.Warn("recorder: write stylesheet frame", "error", err)
	}
}

// emitOps is the change detector's batch delivery callback. The detector
// itself never rewrites asset references — it diffs the live DOM
// verbatim — so every insert and attribute change passes through
// internSubtree/internURL here before it's framed, exactly mirroring
// what the Inliner already did for the keyframe.
func (r *Recorder) emitOps(ops []wire.Operation) {
	for _, op := range ops {
		switch op.Kind {
		case wire.OpInsert:
			r.emitInsert(op)
		case wire.OpRemove:
			r.tracker.MarkRemoved(op.NodeID)
			if err := r.writeFrame(wire.Frame{Tag: wire.TagDomNodeRemoved, Payload: wire.DomNodeRemovedPayload{NodeID: op.NodeID}}); err != nil {
				r.logger.Warn("recorder: write remove frame", "error", err)
			}
		case wire.OpUpdateAttribute:
			r.emitUpdateAttribute(op)
		case wire.OpRemoveAttribute:
			if err := r.writeFrame(wire.Frame{Tag: wire.TagDomAttributeRemoved, Payload: wire.DomAttributeRemovedPayload{NodeID: op.NodeID, Name: op.Name}}); err != nil {
				r.logger.Warn("recorder: write attribute-removed frame", "error", err)
			}
		case wire.OpUpdateText:
			if err := r.writeFrame(wire.Frame{Tag: wire.TagDomTextChanged, Payload: wire.DomTextChangedPayload{
				NodeID: op.NodeID, Edits: wire.ToWireEdits(op.Edits),
			}}); err != nil {
				r.logger.Warn("recorder: write text frame", "error", err)
			}
		default:
			r.logger.Warn("recorder: unknown operation kind", "kind", op.Kind)
		}
	}
}

// emitInsert interns every asset reference in the freshly-inserted
// subtree, frames the insert (with the now-placeholder-bearing node and
// how many Asset frames follow), frames those assets, and marks every
// element in the subtree as emitted so any sheet events the stylesheet
// tracker queued against one of its owners can flush.
func (r *Recorder) emitInsert(op wire.Operation) {
	if op.Node == nil {
		r.logger.Warn("recorder: insert op missing node")
		return
	}

	var refs []internedAssetRef
	r.internNode(op.Node, &refs)
	assets := r.fetchRefs(r.ctx, refs)

	if err := r.writeFrame(wire.Frame{Tag: wire.TagDomNodeAdded, Payload: wire.DomNodeAddedPayload{
		ParentID:   op.ParentID,
		Index:      op.Index,
		Node:       *op.Node,
		AssetCount: len(assets),
	}}); err != nil {
		r.logger.Warn("recorder: write insert frame", "error", err)
		return
	}
	for _, a := range assets {
		if err := r.writeAsset(a); err != nil {
			r.logger.Warn("recorder: write asset frame", "error", err)
		}
	}

	markEmittedTree(r.tracker, []wire.VNode{*op.Node})
}

// emitUpdateAttribute interns any asset reference the new attribute
// value carries before framing the change. Resolution is asynchronous
// from here on — the player's asset.Manager binds the placeholder
// immediately and rebinds in place once the matching Asset frame
// arrives — so, unlike an insert, there is no count to report up front.
func (r *Recorder) emitUpdateAttribute(op wire.Operation) {
	value := op.Value
	var assets []inline.AssetResult

	if asset.IsAssetAttribute(op.Name) {
		var refs []internedAssetRef
		switch strings.ToLower(op.Name) {
		case "style":
			value = asset.ReplaceCSSURLs(value, func(u string) string { return r.internURL(u, &refs) })
		case "srcset":
			value = asset.RewriteSrcset(value, func(u string) string { return r.internURL(u, &refs) })
		default:
			value = r.internURL(value, &refs)
		}
		assets = r.fetchRefs(r.ctx, refs)
	}

	if err := r.writeFrame(wire.Frame{Tag: wire.TagDomAttributeChanged, Payload: wire.DomAttributeChangedPayload{
		NodeID: op.NodeID, Name: op.Name, Value: value,
	}}); err != nil {
		r.logger.Warn("recorder: write attribute frame", "error", err)
		return
	}
	for _, a := range assets {
		if err := r.writeAsset(a); err != nil {
			r.logger.Warn("recorder: write asset frame", "error", err)
		}
	}
}

// internedAssetRef is one newly-interned URL discovered in a live
// operation, queued for out-of-band fetch the same way inline.internedRef
// is at keyframe time.
type internedAssetRef struct {
	id          int
	url         string
	crossOrigin bool
}

// internNode rewrites every asset-bearing attribute (and <style> text
// content) in n and its descendants — Children and, for a shadow host,
// Shadow — to an asset:N placeholder, the live-operation counterpart of
// inline/walk.go's rewriteAttribute/convertStyleChildren.
func (r *Recorder) internNode(n *wire.VNode, refs *[]internedAssetRef) {
	if n.Kind == wire.KindElement {
		if strings.EqualFold(n.Tag, "style") {
			for i := range n.Children {
				c := &n.Children[i]
				if c.Kind == wire.KindText {
					c.Data = asset.ReplaceCSSURLs(c.Data, func(u string) string { return r.internURL(u, refs) })
				}
			}
		} else if len(n.Attributes) > 0 {
			for name, value := range n.Attributes {
				if !asset.IsAssetAttribute(name) {
					continue
				}
				switch strings.ToLower(name) {
				case "style":
					n.Attributes[name] = asset.ReplaceCSSURLs(value, func(u string) string { return r.internURL(u, refs) })
				case "srcset":
					n.Attributes[name] = asset.RewriteSrcset(value, func(u string) string { return r.internURL(u, refs) })
				default:
					n.Attributes[name] = r.internURL(value, refs)
				}
			}
		}
	}

	for i := range n.Children {
		r.internNode(&n.Children[i], refs)
	}
	for i := range n.Shadow {
		r.internNode(&n.Shadow[i], refs)
	}
}

// internURL resolves raw against the document's base URL, interns it
// through the same Pending table the keyframe's Inliner uses (so a URL
// already seen in the keyframe or an earlier operation reuses its id),
// and returns the placeholder. data:/blob: URLs pass through untouched.
func (r *Recorder) internURL(raw string, refs *[]internedAssetRef) string {
	if strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "blob:") {
		return raw
	}
	abs, err := r.baseURL.Parse(raw)
	if err != nil {
		return raw
	}
	absStr := abs.String()
	id, isNew := r.pending.Intern(absStr)
	if isNew {
		*refs = append(*refs, internedAssetRef{id: id, url: absStr, crossOrigin: abs.Host != r.baseURL.Host})
	}
	return asset.Placeholder(id)
}

// fetchRefs fetches newly-interned assets out-of-band with the same
// bounded concurrency inline.Inliner.fetchAll uses.
func (r *Recorder) fetchRefs(ctx context.Context, refs []internedAssetRef) []inline.AssetResult {
	if len(refs) == 0 {
		return nil
	}
	sem := semaphore.NewWeighted(int64(r.cfg.Concurrency))
	results := make([]inline.AssetResult, len(refs))
	var wg sync.WaitGroup
	for i, ref := range refs {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = inline.AssetResult{ID: ref.id, URL: ref.url}
			continue
		}
		wg.Add(1)
		go func(i int, ref internedAssetRef) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = r.fetchOne(ctx, ref)
		}(i, ref)
	}
	wg.Wait()
	return results
}

func (r *Recorder) fetchOne(ctx context.Context, ref internedAssetRef) inline.AssetResult {
	if ref.crossOrigin && !r.cfg.CrossOriginInline {
		return inline.AssetResult{ID: ref.id, URL: ref.url}
	}
	body, mime, err := r.fetcher.FetchAsset(ctx, ref.url)
	if err != nil {
		return inline.AssetResult{ID: ref.id, URL: ref.url}
	}
	return inline.AssetResult{ID: ref.id, URL: ref.url, Bytes: body, Mime: mime}
}

func (r *Recorder) timestampLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.TimestampInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if err := r.writeFrame(wire.Frame{Tag: wire.TagTimestamp, Payload: wire.TimestampPayload{EpochMs: t.UnixMilli()}}); err != nil {
				r.logger.Warn("recorder: write timestamp frame", "error", err)
			}
		}
	}
}

func (r *Recorder) writeMagic() error {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	if err := wire.WriteMagic(r.out); err != nil {
		return fmt.Errorf("recorder: write magic: %w", err)
	}
	return nil
}

func (r *Recorder) writeFrame(f wire.Frame) error {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	if err := wire.WriteFrame(r.out, f); err != nil {
		return fmt.Errorf("recorder: write frame: %w", err)
	}
	return nil
}

func (r *Recorder) writeAsset(a inline.AssetResult) error {
	return r.writeFrame(wire.Frame{Tag: wire.TagAsset, Payload: wire.AssetPayload{
		ID: a.ID, URL: a.URL, Mime: a.Mime, Bytes: a.Bytes,
	}})
}
