package detector

import (
	"github.com/hazyhaar/domrec/nodeid"
	"github.com/hazyhaar/domrec/strdiff"
	"github.com/hazyhaar/domrec/wire"
)

// diffNode compares shadow (the last-known snapshot) against live (freshly
// read from the document) and returns the operations needed to bring
// shadow back in sync, mutating shadow in the same pass so it again
// equals live (§4.4). Attribute/text changes on this node are emitted
// before recursing into children, per the causal-order requirement.
func (d *Detector) diffNode(shadow *shadowNode, live NodeView) []wire.Operation {
	var ops []wire.Operation

	if shadow.kind == wire.KindElement {
		ops = append(ops, diffAttributes(shadow.id, shadow.attrs, live.Attrs())...)
		shadow.attrs = cloneAttrs(live.Attrs())
	} else if edits := strdiff.Diff(shadow.text, live.Text()); len(edits) > 0 {
		ops = append(ops, wire.Operation{Kind: wire.OpUpdateText, NodeID: shadow.id, Edits: edits})
		shadow.text = live.Text()
	}

	ops = append(ops, d.diffChildren(shadow, live.Children())...)
	return ops
}

// diffAttributes implements §4.4's attribute-diff rule: removals for
// attributes missing from live, updates for attributes added or changed.
func diffAttributes(nodeIDValue int, oldAttrs, newAttrs map[string]string) []wire.Operation {
	var ops []wire.Operation
	for name := range oldAttrs {
		if _, ok := newAttrs[name]; !ok {
			ops = append(ops, wire.Operation{Kind: wire.OpRemoveAttribute, NodeID: nodeIDValue, Name: name})
		}
	}
	for name, val := range newAttrs {
		if old, ok := oldAttrs[name]; !ok || old != val {
			ops = append(ops, wire.Operation{Kind: wire.OpUpdateAttribute, NodeID: nodeIDValue, Name: name, Value: val})
		}
	}
	return ops
}

func cloneAttrs(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type matchedPair struct {
	shadow *shadowNode
	live   NodeView
}

// diffChildren implements the two-pointer child-alignment algorithm
// (§4.4). It rebuilds parent's children in live order, emits insert/
// remove operations for structural changes, and recurses into matched
// pairs only after the full sibling-level pass completes.
func (d *Detector) diffChildren(parent *shadowNode, live []NodeView) []wire.Operation {
	snapshot := parent.children
	var ops []wire.Operation
	var rebuilt []*shadowNode
	var matched []matchedPair

	i, j := 0, 0
	for i < len(snapshot) || j < len(live) {
		switch {
		case i < len(snapshot) && j < len(live) && live[j].ID() != 0 && snapshot[i].id == live[j].ID():
			matched = append(matched, matchedPair{snapshot[i], live[j]})
			rebuilt = append(rebuilt, snapshot[i])
			i++
			j++

		case j < len(live) && !snapshotHasID(snapshot, live[j].ID()):
			newShadow, clone := d.materializeInsert(live[j])
			ops = append(ops, wire.Operation{
				Kind: wire.OpInsert, ParentID: parent.id, Index: len(rebuilt), Node: &clone,
			})
			rebuilt = append(rebuilt, newShadow)
			j++

		case i < len(snapshot) && !liveHasID(live, snapshot[i].id):
			ops = append(ops, wire.Operation{Kind: wire.OpRemove, NodeID: snapshot[i].id})
			if err := d.ids.RemoveSubtree(idAdapter{snapshot[i]}); err != nil {
				d.cfg.Logger.Warn("detector: remove subtree", "error", err)
			}
			i++

		case i < len(snapshot) && j < len(live):
			// Reorder/replace: the old child reappears later in live (or
			// doesn't exist, handled above) and the new child already
			// exists somewhere else in the snapshot — splice it out here
			// and reinsert the live child at this position.
			ops = append(ops, wire.Operation{Kind: wire.OpRemove, NodeID: snapshot[i].id})
			newShadow, clone := d.materializeInsert(live[j])
			ops = append(ops, wire.Operation{
				Kind: wire.OpInsert, ParentID: parent.id, Index: len(rebuilt), Node: &clone,
			})
			rebuilt = append(rebuilt, newShadow)
			i++
			j++

		case i < len(snapshot):
			ops = append(ops, wire.Operation{Kind: wire.OpRemove, NodeID: snapshot[i].id})
			i++

		default:
			newShadow, clone := d.materializeInsert(live[j])
			ops = append(ops, wire.Operation{
				Kind: wire.OpInsert, ParentID: parent.id, Index: len(rebuilt), Node: &clone,
			})
			rebuilt = append(rebuilt, newShadow)
			j++
		}
	}
	parent.children = rebuilt

	for _, mp := range matched {
		ops = append(ops, d.diffNode(mp.shadow, mp.live)...)
	}
	return ops
}

func snapshotHasID(snapshot []*shadowNode, id int) bool {
	if id == 0 {
		return false
	}
	for _, s := range snapshot {
		if s.id == id {
			return true
		}
	}
	return false
}

func liveHasID(live []NodeView, id int) bool {
	for _, v := range live {
		if v.ID() == id {
			return true
		}
	}
	return false
}

// materializeInsert produces the (snapshot, wire) pair for a live node
// entering the tree at a new position. A node the id map already knows
// (a move) reuses its existing shadowNode; a genuinely new node gets a
// fresh subtree with fresh ids, assigned via nodeid.Map.AssignSubtree so
// the wire clone's ids are registered exactly once (§4.4's clone-twice
// rule: the wire copy is a separate Go value from the snapshot copy).
func (d *Detector) materializeInsert(live NodeView) (*shadowNode, wire.VNode) {
	if id := live.ID(); id != 0 {
		if n, ok := d.ids.GetByID(id); ok {
			if a, ok := n.(idAdapter); ok {
				return a.s, a.s.toWireVNode()
			}
		}
	}
	fresh := newShadowFromView(live)
	d.ids.AssignSubtree(idAdapter{fresh})
	return fresh, fresh.toWireVNode()
}

var _ nodeid.Node = idAdapter{}
