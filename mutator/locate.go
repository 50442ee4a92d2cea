package mutator

import (
	"fmt"

	"github.com/hazyhaar/domrec/wire"
)

// internalIDAttr mirrors detector.InternalIDAttr's convention on the
// player side: every element the mutator materializes is stamped with its
// recording id as a plain DOM attribute, so it can be found again by
// selector without the mutator having to keep a live CDP/remote-object
// handle around. mutator and detector don't share a package, but they do
// share the convention — both sides of a recording agree on one hidden
// attribute name.
const internalIDAttr = "data-domrecid"

// locateExpr returns a JS expression (valid inside an Eval script body)
// that evaluates to n's corresponding live DOM node. Elements are found
// directly by their stamped id attribute. Non-element nodes (text,
// comment, cdata, processing instructions) can't carry an attribute, so
// they're addressed by position within their parent's childNodes — every
// non-element, non-root node's parent is necessarily an element (only
// elements and the document itself can have children), so this never
// recurses more than one level deep.
func (m *Mutator) locateExpr(n *playerNode) string {
	if n.id == m.rootID {
		return "document"
	}
	if n.kind == wire.KindElement {
		return fmt.Sprintf(`document.querySelector('[%s="%d"]')`, internalIDAttr, n.id)
	}
	parentExpr := m.locateExpr(n.parent)
	idx := indexInParent(n)
	return fmt.Sprintf(`%s.childNodes[%d]`, parentExpr, idx)
}
