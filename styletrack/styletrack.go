// Package styletrack implements the StyleSheetTracker (§4.5): it patches
// the live page's CSSOM to observe mutations the change detector's DOM
// watching cannot see (rule insert/delete, sheet replacement, adopted-list
// assignment), and emits them as an ordered SheetOp stream.
//
// Owner-backed sheets (created by <style>/<link>) are identified by their
// owner element's recording id, which the change detector stamps onto the
// live element via detector.InternalIDAttr — styletrack never assigns node
// ids itself. Adopted (constructed) sheets have no owner element, so the
// tracker stamps its own monotonic id the first time it sees one, drawn
// from the same nodeid.Map the detector uses, so the two id spaces never
// collide (§3's "share the same integer space").
package styletrack

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/domrec/domtab"
	"github.com/hazyhaar/domrec/nodeid"
	"github.com/hazyhaar/domrec/wire"
)

//go:embed styletrack.js
var trackerJS []byte

const bindingName = "__styletrack_binding"

// Config configures a Tracker.
type Config struct {
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// sheetMarker is a throwaway nodeid.Node used purely to draw a fresh,
// never-colliding id out of the shared Map for one adopted sheet. It is
// never linked into a tree — Children is always empty.
type sheetMarker struct{ id int }

func (m *sheetMarker) NodeID() int          { return m.id }
func (m *sheetMarker) SetNodeID(id int)     { m.id = id }
func (m *sheetMarker) Children() []nodeid.Node { return nil }

// Tracker is the Go half of the StyleSheetTracker: it owns the emit queue
// (§4.5's ordering invariant) and the adopted-sheet id table; the injected
// JS does the CSSOM patching and reports events over a Runtime binding.
type Tracker struct {
	cfg Config
	ids *nodeid.Map
	tab *domtab.Tab

	mu             sync.Mutex
	announced      map[int]bool
	queues         map[int][]wire.SheetOp
	adoptedMarkers map[string]*sheetMarker

	emit   func(wire.SheetOp)
	cancel context.CancelFunc
}

// New creates a Tracker. ids must be the same Map the document's Detector
// uses, so owner-backed sheet ids and adopted-sheet ids never collide.
func New(ids *nodeid.Map, cfg Config) *Tracker {
	cfg.defaults()
	return &Tracker{
		cfg:            cfg,
		ids:            ids,
		announced:      make(map[int]bool),
		queues:         make(map[int][]wire.SheetOp),
		adoptedMarkers: make(map[string]*sheetMarker),
	}
}

// SetEmit installs the callback invoked once per sheet operation, in
// emission order.
func (t *Tracker) SetEmit(fn func(wire.SheetOp)) {
	t.emit = fn
}

// Start installs the Runtime binding, injects the patching script, and
// begins listening for binding calls.
func (t *Tracker) Start(ctx context.Context, tab *domtab.Tab) error {
	t.tab = tab

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(tab.Page); err != nil {
		return fmt.Errorf("styletrack: add binding: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	go t.listenBinding(runCtx)

	if _, err := tab.Page.Eval(string(trackerJS)); err != nil {
		return fmt.Errorf("styletrack: inject script: %w", err)
	}
	return nil
}

// Stop halts the binding listener. The injected JS stays patched in the
// page — it is harmless once nothing reads its output.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
}

// AdoptedSeed is one document-level adopted sheet the recorder found
// already in place before tracking began.
type AdoptedSeed struct {
	ID    int
	Media string
	Text  string
}

// SeedAdopted reads the document's current adopted stylesheets — the
// keyframe's job, since the tracker's own event stream only reports
// sheets added *after* installation (§4.5) — and assigns each one an id
// from the same shared id space owner-backed nodes and later-adopted
// sheets draw from. It also registers that id as the sheet object's
// local key on the page, so if one of these pre-existing sheets is
// mutated later, the tracker reports it under the same id the keyframe
// already used rather than minting a second, disconnected one. Call once
// after Start, before the recorder builds the keyframe.
func (t *Tracker) SeedAdopted(ctx context.Context) ([]AdoptedSeed, error) {
	res, err := t.tab.Page.Context(ctx).Eval(`() => JSON.stringify((document.adoptedStyleSheets || []).map((s) => ({
		media: Array.from(s.media || []).join(", "),
		text: Array.from(s.cssRules).map((r) => r.cssText).join("\n"),
	})))`)
	if err != nil {
		return nil, fmt.Errorf("styletrack: read adopted sheets: %w", err)
	}

	var raw []struct {
		Media string `json:"media"`
		Text  string `json:"text"`
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), &raw); err != nil {
		return nil, fmt.Errorf("styletrack: decode adopted sheets: %w", err)
	}

	t.mu.Lock()
	keys := make([]string, len(raw))
	seeds := make([]AdoptedSeed, len(raw))
	for i, s := range raw {
		marker := &sheetMarker{}
		id := t.ids.GetID(marker)
		key := fmt.Sprintf("seed:%d", id)
		t.adoptedMarkers[key] = marker
		keys[i] = key
		seeds[i] = AdoptedSeed{ID: id, Media: s.Media, Text: s.Text}
	}
	t.mu.Unlock()

	if _, err := t.tab.Page.Context(ctx).Eval(`(keys) => window.__styletrack_seedAdopted(keys)`, keys); err != nil {
		return nil, fmt.Errorf("styletrack: register adopted keys: %w", err)
	}
	return seeds, nil
}

// MarkEmitted tells the tracker the stream has now announced ownerID
// (the detector just emitted an insert, or a keyframe, naming that node).
// Any sheet events queued for it are flushed in arrival order.
func (t *Tracker) MarkEmitted(ownerID int) {
	t.mu.Lock()
	t.announced[ownerID] = true
	queued := t.queues[ownerID]
	delete(t.queues, ownerID)
	t.mu.Unlock()

	for _, op := range queued {
		t.deliver(op)
	}
}

// MarkRemoved discards any sheet events still queued for an owner that was
// removed before ever being announced. Memory must not accumulate for
// owners the stream never mentions.
func (t *Tracker) MarkRemoved(ownerID int) {
	t.mu.Lock()
	delete(t.queues, ownerID)
	delete(t.announced, ownerID)
	t.mu.Unlock()
}

func (t *Tracker) deliver(op wire.SheetOp) {
	if t.emit != nil {
		t.emit(op)
	}
}

// jsEvent mirrors the payload shapes styletrack.js sends over the binding.
type jsEvent struct {
	Op        string `json:"op"`
	OwnerID   *int   `json:"ownerId"`
	LocalKey  string `json:"localKey"`
	Rule      string `json:"rule"`
	Index     int    `json:"index"`
	Text      string `json:"text"`
	RootID    *int   `json:"rootId"`
	SheetKeys []string `json:"sheetKeys"`
}

func (t *Tracker) listenBinding(ctx context.Context) {
	wait := t.tab.Page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		var events []jsEvent
		if err := json.Unmarshal([]byte(e.Payload), &events); err != nil {
			t.cfg.Logger.Warn("styletrack: parse binding payload", "error", err)
			return
		}
		for _, ev := range events {
			t.handleEvent(ev)
		}
	})
	wait()
}

func (t *Tracker) handleEvent(ev jsEvent) {
	switch ev.Op {
	case "sheet-rules-insert":
		t.routeSheetOp(ev, wire.SheetOp{Kind: wire.SheetRulesInsert, Rule: ev.Rule, Index: ev.Index})
	case "sheet-rules-delete":
		t.routeSheetOp(ev, wire.SheetOp{Kind: wire.SheetRulesDelete, Index: ev.Index})
	case "sheet-replace":
		t.routeSheetOp(ev, wire.SheetOp{Kind: wire.SheetReplace, Text: ev.Text})
	case "sheet-added":
		id := t.resolveAdoptedID(ev.LocalKey)
		t.MarkEmitted(id)
		t.deliver(wire.SheetOp{Kind: wire.SheetAdded, SheetID: id, Adopted: true, Text: ev.Text})
	case "sheet-removed":
		id := t.resolveAdoptedID(ev.LocalKey)
		t.deliver(wire.SheetOp{Kind: wire.SheetRemoved, SheetID: id, Adopted: true})
	case "adopted-list-changed":
		if ev.RootID == nil {
			return
		}
		ids := make([]int, len(ev.SheetKeys))
		for i, key := range ev.SheetKeys {
			ids[i] = t.resolveAdoptedID(key)
		}
		t.deliver(wire.SheetOp{
			Kind:             wire.SheetAdoptedListChanged,
			DocumentOrRootID: *ev.RootID,
			SheetIDs:         ids,
		})
	default:
		t.cfg.Logger.Warn("styletrack: unknown event", "op", ev.Op)
	}
}

// routeSheetOp applies §4.5's emit-queue rule to a rule-insert/-delete/
// replace event. Owner-backed sheets (ev.OwnerID set) are keyed by their
// owning element's recording id, announced when the detector's insert for
// that element reaches the stream. Adopted sheets (ev.OwnerID nil,
// ev.LocalKey set — styletrack.js's dispatch() takes this branch whenever
// sheet.ownerNode is null) are keyed by the adopted-sheet id resolved from
// LocalKey, announced when "sheet-added" first reports that key (or, for a
// sheet seeded from a pre-existing keyframe, when the recorder marks its
// seeded id emitted). Both keyspaces share the same announced/queues maps
// since they're drawn from the same nodeid.Map and never collide.
func (t *Tracker) routeSheetOp(ev jsEvent, op wire.SheetOp) {
	switch {
	case ev.OwnerID != nil:
		op.SheetID = *ev.OwnerID
	case ev.LocalKey != "":
		op.SheetID = t.resolveAdoptedID(ev.LocalKey)
		op.Adopted = true
	default:
		t.cfg.Logger.Warn("styletrack: sheet event missing both ownerId and localKey", "op", ev.Op)
		return
	}

	t.mu.Lock()
	if t.announced[op.SheetID] {
		t.mu.Unlock()
		t.deliver(op)
		return
	}
	t.queues[op.SheetID] = append(t.queues[op.SheetID], op)
	t.mu.Unlock()
}

// resolveAdoptedID maps a JS-local sheet key to a stable recording id,
// assigning one from the shared nodeid.Map the first time this key is
// seen.
func (t *Tracker) resolveAdoptedID(localKey string) int {
	t.mu.Lock()
	marker, ok := t.adoptedMarkers[localKey]
	if !ok {
		marker = &sheetMarker{}
		t.adoptedMarkers[localKey] = marker
	}
	t.mu.Unlock()
	return t.ids.GetID(marker)
}
