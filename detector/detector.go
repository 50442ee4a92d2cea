// Package detector implements the DomChangeDetector (§4.4): it maintains
// a shadow snapshot of the recorded document, watches CDP's DOM domain
// for mutations, and on each processing pass diffs the live document
// against the snapshot to emit a causally-ordered operation stream.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/domrec/domtab"
	"github.com/hazyhaar/domrec/nodeid"
	"github.com/hazyhaar/domrec/wire"
)

// InternalIDAttr is a synthetic DOM attribute the detector stamps onto
// every live element it assigns a recording id to, via
// DOM.setAttributeValue. It lets styletrack's injected JS read an
// element's recording id straight off the owner node (sheet.ownerNode)
// without resolving a remote object back to a CDP node id. It is never
// treated as a recorded attribute — cdpView.Attrs strips it before the
// diff engine ever sees it.
const InternalIDAttr = "data-domrecid"

// Config tunes the detector's processing cadence (§4.4's "fixed interval
// (batched mode)").
type Config struct {
	// Interval between processing passes. Default 100ms.
	Interval time.Duration
	// MaxDirty is defaulted to 256 but not consulted by the processing
	// loop: passes run only on the Interval tick, however many roots are
	// dirty.
	MaxDirty int
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 100 * time.Millisecond
	}
	if c.MaxDirty <= 0 {
		c.MaxDirty = 256
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Detector is a single document's change detector. One Detector per
// recorded document (the top-level page or an iframe).
type Detector struct {
	cfg Config
	ids *nodeid.Map
	tab *domtab.Tab

	mu         sync.Mutex
	root       *shadowNode
	cdpToOurID map[proto.NodeID]int
	ourIDToCDP map[int]proto.NodeID
	parent     map[int]int // our id -> parent's our id, 0 for the root
	dirty      map[int]bool

	emit   func([]wire.Operation)
	cancel context.CancelFunc
}

// New creates a Detector. ids is the recorder's NodeIdMap, which the
// recorder also hands to its stylesheet tracker (the player owns a
// separate one).
func New(ids *nodeid.Map, cfg Config) *Detector {
	cfg.defaults()
	return &Detector{
		cfg:        cfg,
		ids:        ids,
		cdpToOurID: make(map[proto.NodeID]int),
		ourIDToCDP: make(map[int]proto.NodeID),
		parent:     make(map[int]int),
		dirty:      make(map[int]bool),
	}
}

// SetEmit installs the callback invoked once per processing pass with
// that pass's accumulated operations. Never called with an empty slice.
func (d *Detector) SetEmit(fn func([]wire.Operation)) {
	d.emit = fn
}

// Seed installs doc as the detector's shadow snapshot and establishes the
// id correspondence against the live document's CDP node ids (§4.4's
// "mirroring on initialization"). doc must describe the exact document
// tab currently renders — it is normally the same wire.Document the
// Inliner just produced for the keyframe.
func (d *Detector) Seed(ctx context.Context, tab *domtab.Tab, doc *wire.Document) error {
	depth := -1
	cdpDoc, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(tab.Page)
	if err != nil {
		return fmt.Errorf("detector: get document: %w", err)
	}

	root := &shadowNode{id: doc.ID, kind: wire.KindElement}
	for _, c := range doc.Children {
		root.children = append(root.children, buildShadowFromVNode(c))
	}
	if err := d.ids.AdoptSubtree(idAdapter{root}); err != nil {
		d.cfg.Logger.Warn("detector: adopt seed subtree", "error", err)
	}

	d.mu.Lock()
	d.tab = tab
	d.root = root
	d.buildParentMapLocked(root, 0)
	d.pairCDPLocked(cdpDoc.Root, root)
	d.mu.Unlock()
	return nil
}

// stampIDLocked writes InternalIDAttr onto the live element cdp identifies,
// so styletrack's injected JS can later read an owner node's recording id
// directly off the DOM. Only elements carry attributes; other node kinds
// are skipped.
func (d *Detector) stampIDLocked(cdp proto.NodeID, shadow *shadowNode) {
	if shadow.kind != wire.KindElement || d.tab == nil {
		return
	}
	err := proto.DOMSetAttributeValue{
		NodeID: cdp,
		Name:   InternalIDAttr,
		Value:  fmt.Sprint(shadow.id),
	}.Call(d.tab.Page)
	if err != nil {
		d.cfg.Logger.Warn("detector: stamp internal id", "nodeId", shadow.id, "error", err)
	}
}

func (d *Detector) buildParentMapLocked(n *shadowNode, parentID int) {
	d.parent[n.id] = parentID
	for _, c := range n.children {
		d.buildParentMapLocked(c, n.id)
	}
}

// pairCDPLocked walks the CDP document tree and the freshly seeded
// shadow tree in lockstep, recording cdp-node-id <-> recording-id
// correspondence. Both trees describe the same document at the same
// moment, so a pre-order, child-index walk is sufficient — no separate
// structural match is needed at seed time.
func (d *Detector) pairCDPLocked(cdp *proto.DOMNode, shadow *shadowNode) {
	d.cdpToOurID[cdp.NodeID] = shadow.id
	d.ourIDToCDP[shadow.id] = cdp.NodeID
	d.stampIDLocked(cdp.NodeID, shadow)

	n := len(cdp.Children)
	if len(shadow.children) < n {
		n = len(shadow.children)
	}
	for i := 0; i < n; i++ {
		d.pairCDPLocked(cdp.Children[i], shadow.children[i])
	}
}

// Start enables DOM domain tracking and subscribes to the mutation
// events that mark dirty roots, then begins the interval-driven
// processing loop.
func (d *Detector) Start(ctx context.Context) error {
	if err := (proto.DOMEnable{}).Call(d.tab.Page); err != nil {
		return fmt.Errorf("detector: enable DOM domain: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.listenEvents(runCtx)
	go d.loop(runCtx)
	return nil
}

// Stop halts the processing loop and event listener.
func (d *Detector) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Detector) listenEvents(ctx context.Context) {
	wait := d.tab.Page.Context(ctx).EachEvent(
		func(e *proto.DOMChildNodeInserted) { d.markDirtyByCDPID(e.ParentNodeID) },
		func(e *proto.DOMChildNodeRemoved) { d.markDirtyByCDPID(e.ParentNodeID) },
		func(e *proto.DOMAttributeModified) { d.markDirtyByCDPID(e.NodeID) },
		func(e *proto.DOMAttributeRemoved) { d.markDirtyByCDPID(e.NodeID) },
		func(e *proto.DOMCharacterDataModified) { d.markDirtyByCDPID(e.NodeID) },
	)
	wait()
}

// markDirtyByCDPID marks the node's recording id dirty when its CDP id is
// already tracked. An event on an untracked node (such as a just-inserted
// grandchild that has no recording id yet) is dropped; it is not raised
// to an ancestor.
func (d *Detector) markDirtyByCDPID(cdp proto.NodeID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.cdpToOurID[cdp]; ok {
		d.dirty[id] = true
		return
	}
}

func (d *Detector) loop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.processOnce(ctx)
		}
	}
}

// processOnce runs one processing pass (§4.4's numbered steps): snapshot
// and clear the dirty set, compress it, diff each surviving root, and
// deliver everything accumulated in one call.
func (d *Detector) processOnce(ctx context.Context) {
	d.mu.Lock()
	if len(d.dirty) == 0 {
		d.mu.Unlock()
		return
	}
	dirty := d.dirty
	d.dirty = make(map[int]bool)
	dirty = d.compressDirtyLocked(dirty)
	d.mu.Unlock()

	var ops []wire.Operation
	for id := range dirty {
		op, err := d.diffOneRoot(ctx, id)
		if err != nil {
			d.cfg.Logger.Warn("detector: diff root failed", "nodeId", id, "error", err)
			continue
		}
		ops = append(ops, op...)
	}
	if len(ops) > 0 && d.emit != nil {
		d.emit(ops)
	}
}

// compressDirtyLocked drops any dirty id that has an ancestor also in the
// dirty set (§4.4's dirty-set compression). Caller holds d.mu.
func (d *Detector) compressDirtyLocked(dirty map[int]bool) map[int]bool {
	out := make(map[int]bool, len(dirty))
	for id := range dirty {
		subsumed := false
		for anc := d.parent[id]; anc != 0; anc = d.parent[anc] {
			if dirty[anc] {
				subsumed = true
				break
			}
		}
		if !subsumed {
			out[id] = true
		}
	}
	return out
}

func (d *Detector) diffOneRoot(ctx context.Context, id int) ([]wire.Operation, error) {
	d.mu.Lock()
	n, ok := d.ids.GetByID(id)
	cdpID, cdpOK := d.ourIDToCDP[id]
	d.mu.Unlock()
	if !ok || !cdpOK {
		return nil, nil // covered by an ancestor or already removed (§4.4 step 1)
	}
	shadow := n.(idAdapter).s

	depth := -1
	live, err := proto.DOMDescribeNode{NodeID: cdpID, Depth: &depth, Pierce: true}.Call(d.tab.Page)
	if err != nil {
		return nil, fmt.Errorf("describe node %d: %w", cdpID, err)
	}

	view := newCDPView(live.Node, d.cdpToOurID)

	d.mu.Lock()
	ops := d.diffNode(shadow, view)
	d.registerIDsLocked(shadow, view)
	d.mu.Unlock()
	return ops, nil
}

// registerIDsLocked walks shadow and view together after a diff pass,
// recording the cdp-id <-> recording-id pairing for any node that was
// freshly assigned an id during this pass (an insertion), and refreshing
// the parent map to match the now-current tree shape.
func (d *Detector) registerIDsLocked(shadow *shadowNode, view NodeView) {
	if cv, ok := view.(interface{ CDPID() proto.NodeID }); ok {
		_, known := d.cdpToOurID[cv.CDPID()]
		d.cdpToOurID[cv.CDPID()] = shadow.id
		d.ourIDToCDP[shadow.id] = cv.CDPID()
		if !known {
			d.stampIDLocked(cv.CDPID(), shadow)
		}
	}
	children := view.Children()
	for i, c := range shadow.children {
		d.parent[c.id] = shadow.id
		if i < len(children) {
			d.registerIDsLocked(c, children[i])
		}
	}
}
