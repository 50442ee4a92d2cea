// Package nodeid implements the bidirectional id<->node mapping shared by
// the recorder's change detector and the player's mutator (§3, §4.1 of the
// design this module follows). Node identifiers are dense, monotonic
// integers assigned by a depth-first walk — never UUIDs, never reused.
package nodeid

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOrphanedChild is reported when RemoveSubtree encounters a descendant
// that was never assigned an id. The known portion of the subtree is still
// removed; this is a warning-grade condition, not a halt.
var ErrOrphanedChild = errors.New("nodeid: orphaned child")

// Node is anything that can carry a stable identifier and expose its
// children for a depth-first walk. The recorder's live/shadow tree nodes
// and the player's target-tree nodes all implement it; nodeid has no
// notion of "DOM" beyond this.
type Node interface {
	// NodeID returns the id previously assigned, or 0 if none.
	NodeID() int
	// SetNodeID stores an id on the node (the "hidden property" of §3).
	SetNodeID(id int)
	// Children returns the node's children in document order.
	Children() []Node
}

// Map is the bidirectional id<->node table. One Map is owned by the
// recorder (shared by its detector and tracker, which both assign ids in
// it) and a second,
// independent Map is owned by the player's mutator.
type Map struct {
	mu     sync.Mutex
	byID   map[int]Node
	byNode map[Node]int
	next   int
}

// New creates an empty Map. Ids start at 1; 0 is reserved to mean
// "unassigned".
func New() *Map {
	return &Map{
		byID:   make(map[int]Node),
		byNode: make(map[Node]int),
		next:   1,
	}
}

// GetID returns node's id, assigning a fresh one if it has none.
func (m *Map) GetID(node Node) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getIDLocked(node)
}

func (m *Map) getIDLocked(node Node) int {
	if id := node.NodeID(); id != 0 {
		if _, ok := m.byID[id]; !ok {
			m.byID[id] = node
			m.byNode[node] = id
		}
		return id
	}
	id := m.next
	m.next++
	node.SetNodeID(id)
	m.byID[id] = node
	m.byNode[node] = id
	return id
}

// GetByID looks up the node currently holding id.
func (m *Map) GetByID(id int) (Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.byID[id]
	return n, ok
}

// AssignSubtree walks root depth-first, pre-order, assigning fresh ids to
// every node that doesn't already have one. Idempotent: if root is already
// assigned, only genuinely new descendants receive ids.
func (m *Map) AssignSubtree(root Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.walk(root, func(n Node) {
		m.getIDLocked(n)
	})
}

// AdoptSubtree installs ids that nodes already carry (e.g. materialized
// from a wire vnode that specified an explicit id) into the map, and
// advances the monotonic counter past the highest id seen so recorded and
// newly assigned ranges never collide.
func (m *Map) AdoptSubtree(root Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	m.walk(root, func(n Node) {
		id := n.NodeID()
		if id == 0 {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: node missing id during adopt", ErrOrphanedChild)
			}
			return
		}
		m.byID[id] = n
		m.byNode[n] = id
		if id >= m.next {
			m.next = id + 1
		}
	})
	return firstErr
}

// MirrorSubtree copies id structure from src onto a structurally identical
// dst, so the two share ids node-for-node. Used to keep the detector's
// shadow snapshot's ids in lockstep with the live tree. Asserts (returns an
// error rather than panicking) that child counts match at every level.
func (m *Map) MirrorSubtree(src, dst Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mirror(src, dst)
}

func (m *Map) mirror(src, dst Node) error {
	id := src.NodeID()
	if id == 0 {
		id = m.next
		m.next++
		src.SetNodeID(id)
		m.byID[id] = src
		m.byNode[src] = id
	}
	dst.SetNodeID(id)
	m.byID[id] = dst
	m.byNode[dst] = id

	sc, dc := src.Children(), dst.Children()
	if len(sc) != len(dc) {
		return fmt.Errorf("nodeid: mirror child count mismatch at id %d: %d vs %d", id, len(sc), len(dc))
	}
	for i := range sc {
		if err := m.mirror(sc[i], dc[i]); err != nil {
			return err
		}
	}
	return nil
}

// RemoveSubtree deletes the ids for root and all its descendants from the
// map. A descendant lacking an id is an OrphanedChild condition: the known
// portion of the subtree is still removed, and the first error encountered
// is returned so the caller can log it.
func (m *Map) RemoveSubtree(root Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	m.walk(root, func(n Node) {
		id := n.NodeID()
		if id == 0 {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: node %v", ErrOrphanedChild, n)
			}
			return
		}
		delete(m.byID, id)
		delete(m.byNode, n)
	})
	return firstErr
}

// walk visits root and every descendant, pre-order, calling visit on each.
// Caller must hold m.mu.
func (m *Map) walk(root Node, visit func(Node)) {
	visit(root)
	for _, c := range root.Children() {
		m.walk(c, visit)
	}
}

// Len returns the number of ids currently tracked. Mostly useful in tests.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}
