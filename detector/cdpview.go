package detector

import (
	"strings"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/domrec/wire"
)

// cdpView adapts a *proto.DOMNode (read back from CDP's DOM.describeNode,
// depth -1, pierce true) to NodeView, resolving each node's id from the
// detector's cdp-node-id <-> recording-id table. A node the detector has
// never seen before reports ID() == 0, which diffChildren treats as "not
// present in the snapshot".
type cdpView struct {
	node   *proto.DOMNode
	cdpIDs map[proto.NodeID]int
}

func newCDPView(n *proto.DOMNode, cdpIDs map[proto.NodeID]int) *cdpView {
	return &cdpView{node: n, cdpIDs: cdpIDs}
}

// CDPID exposes the underlying CDP node id so the detector can register
// a fresh id <-> cdp-id pairing after a node is first assigned one.
func (v *cdpView) CDPID() proto.NodeID { return v.node.NodeID }

func (v *cdpView) ID() int {
	return v.cdpIDs[v.node.NodeID]
}

func (v *cdpView) Kind() wire.NodeKind {
	switch v.node.NodeType {
	case 3:
		return wire.KindText
	case 4:
		return wire.KindCData
	case 7:
		return wire.KindProcessingInstruction
	case 8:
		return wire.KindComment
	case 10:
		return wire.KindDocumentType
	default:
		return wire.KindElement
	}
}

func (v *cdpView) Tag() string {
	return strings.ToLower(v.node.NodeName)
}

func (v *cdpView) Namespace() string {
	return ""
}

func (v *cdpView) Text() string {
	return v.node.NodeValue
}

func (v *cdpView) Attrs() map[string]string {
	attrs := v.node.Attributes
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		if attrs[i] == InternalIDAttr {
			continue
		}
		out[attrs[i]] = attrs[i+1]
	}
	return out
}

func (v *cdpView) Children() []NodeView {
	if len(v.node.Children) == 0 {
		return nil
	}
	out := make([]NodeView, len(v.node.Children))
	for i, c := range v.node.Children {
		out[i] = newCDPView(c, v.cdpIDs)
	}
	return out
}
