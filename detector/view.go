package detector

import "github.com/hazyhaar/domrec/wire"

// NodeView is the read-only shape the diff engine needs from either side
// of a comparison: the detector's own snapshot (shadowNode) or a tree
// freshly read back from the live document (cdpView). ID returns 0 for a
// live node the detector has never assigned an id to.
type NodeView interface {
	ID() int
	Kind() wire.NodeKind
	Tag() string
	Namespace() string
	Attrs() map[string]string
	Text() string
	Children() []NodeView
}

// shadowNode is the detector's mutable mirror of one live node (§4.4's
// "shadow snapshot"). It implements NodeView (for diffing); the idAdapter
// wrapper (idadapter.go) presents it as a nodeid.Node for NodeIdMap. Its
// Children/Attrs/Text are updated in place every processing pass so it
// again equals live.
type shadowNode struct {
	id        int
	kind      wire.NodeKind
	tag       string
	namespace string
	text      string
	attrs     map[string]string
	children  []*shadowNode
}

func (s *shadowNode) Children() []NodeView {
	out := make([]NodeView, len(s.children))
	for i, c := range s.children {
		out[i] = c
	}
	return out
}

func (s *shadowNode) ID() int                  { return s.id }
func (s *shadowNode) Kind() wire.NodeKind      { return s.kind }
func (s *shadowNode) Tag() string              { return s.tag }
func (s *shadowNode) Namespace() string        { return s.namespace }
func (s *shadowNode) Text() string             { return s.text }
func (s *shadowNode) Attrs() map[string]string { return s.attrs }

// buildShadowFromVNode builds a shadow tree from a keyframe's vnode tree,
// preserving the ids the inliner already assigned (§4.4's seeding step:
// the detector never re-derives ids at seed time, it adopts the
// keyframe's).
func buildShadowFromVNode(v wire.VNode) *shadowNode {
	s := &shadowNode{
		id:        v.ID,
		kind:      v.Kind,
		tag:       v.Tag,
		namespace: v.Namespace,
		text:      v.Data,
	}
	if v.Attributes != nil {
		s.attrs = make(map[string]string, len(v.Attributes))
		for k, val := range v.Attributes {
			s.attrs[k] = val
		}
	}
	for _, c := range v.Children {
		s.children = append(s.children, buildShadowFromVNode(c))
	}
	return s
}

// newShadowFromView builds a brand-new, unregistered shadow subtree from
// a live view discovered during diffing — used for genuine insertions,
// before nodeid.Map.AssignSubtree gives it ids.
func newShadowFromView(v NodeView) *shadowNode {
	s := &shadowNode{
		kind:      v.Kind(),
		tag:       v.Tag(),
		namespace: v.Namespace(),
		text:      v.Text(),
	}
	if attrs := v.Attrs(); attrs != nil {
		s.attrs = make(map[string]string, len(attrs))
		for k, val := range attrs {
			s.attrs[k] = val
		}
	}
	for _, c := range v.Children() {
		s.children = append(s.children, newShadowFromView(c))
	}
	return s
}

// toWireVNode deep-clones s into wire form. This is always a separate Go
// value from s itself — the clone-for-operation rule (§4.4): the node
// embedded in an insert operation must not alias the snapshot node the
// mutator's DOM-move semantics would otherwise splice out from under us.
func (s *shadowNode) toWireVNode() wire.VNode {
	v := wire.VNode{
		Kind:      s.kind,
		ID:        s.id,
		Data:      s.text,
		Tag:       s.tag,
		Namespace: s.namespace,
	}
	if s.attrs != nil {
		v.Attributes = make(map[string]string, len(s.attrs))
		for k, val := range s.attrs {
			v.Attributes[k] = val
		}
	}
	for _, c := range s.children {
		v.Children = append(v.Children, c.toWireVNode())
	}
	return v
}
