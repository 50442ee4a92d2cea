package mutator

import (
	"github.com/hazyhaar/domrec/nodeid"
	"github.com/hazyhaar/domrec/wire"
)

// playerNode is the player's own mirror of one target-tree node (§4.6
// "maintaining the target NodeIdMap"). It never holds a live handle into
// the page — the player locates the corresponding DOM node lazily, by
// selector or structural path, only when an operation needs to touch it
// (see locate.go). The mirror's sole job is bookkeeping: ids, structure,
// and which asset ids a node's attributes are currently bound to, so
// removing the node can release them (§4.7's ref-counting).
type playerNode struct {
	id     int
	kind   wire.NodeKind
	parent *playerNode

	children []*playerNode
	assets   []int // asset ids this node's attributes are currently bound to
}

func (n *playerNode) NodeID() int      { return n.id }
func (n *playerNode) SetNodeID(id int) { n.id = id }

func (n *playerNode) Children() []nodeid.Node {
	out := make([]nodeid.Node, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

// indexInParent returns n's position among its parent's children, or -1 if
// n has no parent (the document root).
func indexInParent(n *playerNode) int {
	if n.parent == nil {
		return -1
	}
	for i, c := range n.parent.children {
		if c == n {
			return i
		}
	}
	return -1
}
