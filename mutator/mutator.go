// Package mutator implements the DomMutator (§4.6): it applies a batch of
// structural operations to the player's target document, maintaining its
// own NodeIdMap the same way the recorder's detector maintains its shadow
// snapshot's.
package mutator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/domrec/asset"
	"github.com/hazyhaar/domrec/domtab"
	"github.com/hazyhaar/domrec/nodeid"
	"github.com/hazyhaar/domrec/strdiff"
	"github.com/hazyhaar/domrec/wire"
)

// Mutator applies DomOp frames to one target tab.
type Mutator struct {
	ids    *nodeid.Map
	tab    *domtab.Tab
	assets *asset.Manager
	logger *slog.Logger

	rootID int
}

// New creates a Mutator. ids is the player's own NodeIdMap — the recorder
// side's Map is a completely separate instance.
func New(ids *nodeid.Map, tab *domtab.Tab, assets *asset.Manager, logger *slog.Logger) *Mutator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mutator{ids: ids, tab: tab, assets: assets, logger: logger}
}

// MaterializeDocument serializes a keyframe's children to one HTML
// string, binding every asset:N placeholder along the way through the
// asset manager exactly as an insert would, then builds and adopts the
// matching playerNode mirror. The caller (the Player) writes the
// returned HTML into the target tab with a single document.write — far
// cheaper than replaying the keyframe node by node — and only then is
// the mirror usable for later Apply calls.
func (m *Mutator) MaterializeDocument(ctx context.Context, doc *wire.Document) (string, error) {
	root := &playerNode{id: doc.ID, kind: wire.KindElement}
	var b strings.Builder
	for _, c := range doc.Children {
		childHTML, child, err := m.materialize(ctx, c)
		if err != nil {
			return "", fmt.Errorf("mutator: materialize keyframe: %w", err)
		}
		child.parent = root
		root.children = append(root.children, child)
		b.WriteString(childHTML)
	}
	m.rootID = doc.ID
	if err := m.ids.AdoptSubtree(root); err != nil {
		m.logger.Warn("mutator: adopt keyframe tree", "error", err)
	}
	return b.String(), nil
}

// Apply applies ops in order. A single failing operation is logged and
// skipped — it must never abort the batch (§4.6, §7).
func (m *Mutator) Apply(ctx context.Context, ops []wire.Operation) {
	for _, op := range ops {
		if err := m.applyOne(ctx, op); err != nil {
			m.logger.Warn("mutator: operation failed", "kind", op.Kind, "nodeId", op.NodeID, "error", err)
		}
	}
}

func (m *Mutator) applyOne(ctx context.Context, op wire.Operation) error {
	switch op.Kind {
	case wire.OpInsert:
		return m.insert(ctx, op)
	case wire.OpRemove:
		return m.remove(ctx, op)
	case wire.OpUpdateAttribute:
		return m.updateAttribute(ctx, op)
	case wire.OpRemoveAttribute:
		return m.removeAttribute(ctx, op)
	case wire.OpUpdateText:
		return m.updateText(ctx, op)
	default:
		return fmt.Errorf("mutator: unknown op kind %d", op.Kind)
	}
}

func (m *Mutator) insert(ctx context.Context, op wire.Operation) error {
	pn, ok := m.ids.GetByID(op.ParentID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrMissingParent, op.ParentID)
	}
	parent := pn.(*playerNode)

	if op.Index < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeIndex, op.Index)
	}
	if op.Index > len(parent.children) {
		return fmt.Errorf("%w: index %d, %d children", ErrIndexOutOfBounds, op.Index, len(parent.children))
	}

	if op.Node == nil {
		return fmt.Errorf("mutator: insert op missing node")
	}
	html, child, err := m.materialize(ctx, *op.Node)
	if err != nil {
		return fmt.Errorf("mutator: materialize: %w", err)
	}

	script := fmt.Sprintf(`(html, idx) => {
		const parent = %s;
		const tmpl = document.createElement("template");
		tmpl.innerHTML = html;
		const node = tmpl.content.firstChild;
		const ref = parent.childNodes[idx] || null;
		parent.insertBefore(node, ref);
	}`, m.locateExpr(parent))
	if _, err := m.tab.Page.Context(ctx).Eval(script, html, op.Index); err != nil {
		return fmt.Errorf("mutator: insert: %w", err)
	}

	child.parent = parent
	parent.children = append(parent.children, nil)
	copy(parent.children[op.Index+1:], parent.children[op.Index:])
	parent.children[op.Index] = child

	if err := m.ids.AdoptSubtree(child); err != nil {
		m.logger.Warn("mutator: adopt inserted subtree", "error", err)
	}
	return nil
}

func (m *Mutator) remove(ctx context.Context, op wire.Operation) error {
	n, ok := m.ids.GetByID(op.NodeID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrMissingNode, op.NodeID)
	}
	target := n.(*playerNode)

	script := fmt.Sprintf(`() => {
		const node = %s;
		if (node && node.parentNode) node.parentNode.removeChild(node);
	}`, m.locateExpr(target))
	if _, err := m.tab.Page.Context(ctx).Eval(script); err != nil {
		return fmt.Errorf("mutator: remove: %w", err)
	}

	if target.parent != nil {
		idx := indexInParent(target)
		if idx >= 0 {
			target.parent.children = append(target.parent.children[:idx], target.parent.children[idx+1:]...)
		}
	}

	m.releaseSubtreeAssets(ctx, target)
	if err := m.ids.RemoveSubtree(target); err != nil {
		m.logger.Warn("mutator: remove subtree from id map", "error", err)
	}
	return nil
}

func (m *Mutator) releaseSubtreeAssets(ctx context.Context, n *playerNode) {
	for _, id := range n.assets {
		if err := m.assets.Release(ctx, id); err != nil {
			m.logger.Warn("mutator: release asset", "assetId", id, "error", err)
		}
	}
	for _, c := range n.children {
		m.releaseSubtreeAssets(ctx, c)
	}
}

func (m *Mutator) updateAttribute(ctx context.Context, op wire.Operation) error {
	n, ok := m.ids.GetByID(op.NodeID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrMissingNode, op.NodeID)
	}
	target := n.(*playerNode)
	if target.kind != wire.KindElement {
		return fmt.Errorf("%w: node %d", ErrNotAnElement, op.NodeID)
	}

	resolved, boundIDs, err := m.resolveAttribute(ctx, op.NodeID, op.Name, op.Value)
	if err != nil {
		return fmt.Errorf("mutator: resolve attribute: %w", err)
	}
	target.assets = append(target.assets, boundIDs...)

	script := fmt.Sprintf(`(name, value) => {
		const el = %s;
		if (el) el.setAttribute(name, value);
	}`, m.locateExpr(target))
	if _, err := m.tab.Page.Context(ctx).Eval(script, op.Name, resolved); err != nil {
		return fmt.Errorf("mutator: update attribute: %w", err)
	}
	return nil
}

func (m *Mutator) removeAttribute(ctx context.Context, op wire.Operation) error {
	n, ok := m.ids.GetByID(op.NodeID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrMissingNode, op.NodeID)
	}
	target := n.(*playerNode)
	if target.kind != wire.KindElement {
		return fmt.Errorf("%w: node %d", ErrNotAnElement, op.NodeID)
	}

	script := fmt.Sprintf(`(name) => {
		const el = %s;
		if (el) el.removeAttribute(name);
	}`, m.locateExpr(target))
	_, err := m.tab.Page.Context(ctx).Eval(script, op.Name)
	return err // idempotent by construction — removeAttribute on an absent attribute is a no-op
}

func (m *Mutator) updateText(ctx context.Context, op wire.Operation) error {
	n, ok := m.ids.GetByID(op.NodeID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrMissingNode, op.NodeID)
	}
	target := n.(*playerNode)
	switch target.kind {
	case wire.KindText, wire.KindComment, wire.KindCData:
	default:
		return fmt.Errorf("%w: node %d", ErrNotCharacterData, op.NodeID)
	}

	readScript := fmt.Sprintf(`() => { const n = %s; return n ? n.nodeValue : ""; }`, m.locateExpr(target))
	res, err := m.tab.Page.Context(ctx).Eval(readScript)
	if err != nil {
		return fmt.Errorf("mutator: read text: %w", err)
	}
	current := res.Value.Str()
	next := strdiff.Apply(current, op.Edits)

	writeScript := fmt.Sprintf(`(value) => { const n = %s; if (n) n.nodeValue = value; }`, m.locateExpr(target))
	if _, err := m.tab.Page.Context(ctx).Eval(writeScript, next); err != nil {
		return fmt.Errorf("mutator: write text: %w", err)
	}
	return nil
}
