package detector

import "github.com/hazyhaar/domrec/nodeid"

// idAdapter lets a shadowNode participate in nodeid.Map walks without
// shadowNode itself having to pick one Children() return type — it needs
// []NodeView for diffing and []nodeid.Node for id bookkeeping, and Go
// doesn't let one method serve both.
type idAdapter struct{ s *shadowNode }

func (a idAdapter) NodeID() int      { return a.s.id }
func (a idAdapter) SetNodeID(id int) { a.s.id = id }
func (a idAdapter) Children() []nodeid.Node {
	out := make([]nodeid.Node, len(a.s.children))
	for i, c := range a.s.children {
		out[i] = idAdapter{c}
	}
	return out
}

func (a idAdapter) shadow() *shadowNode { return a.s }
