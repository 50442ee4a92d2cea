// Package wire defines the recording's on-disk/on-wire vocabulary: the
// virtual-DOM node shapes (§3), the structural operations the change
// detector emits (§4.4), and the length-prefixed, tag-dispatched binary
// frame stream a recorder writes and a player reads (§6). Types here are
// tagged variants in the teacher's style (domwatch/mutation's
// Batch/Record/Op): one Go type per wire shape, a Kind/Tag discriminator
// plus only the fields that kind uses.
package wire

import "github.com/hazyhaar/domrec/strdiff"

// NodeKind discriminates the VNode tagged variant.
type NodeKind uint32

const (
	KindText NodeKind = iota
	KindCData
	KindComment
	KindProcessingInstruction
	KindDocumentType
	KindElement
)

// StyleSheetRef is a document-level adopted stylesheet entry.
type StyleSheetRef struct {
	ID    int
	Media string
	Text  string
}

// VNode is the virtual-DOM node wire form (§3). Only the fields relevant
// to Kind are populated; the rest are zero values.
type VNode struct {
	Kind NodeKind
	ID   int

	// text, cdata, comment, processingInstruction data.
	Data string
	// processingInstruction target.
	Target string
	// documentType name/publicId/systemId.
	Name     string
	PublicID string
	SystemID string

	// element fields.
	Tag        string
	Namespace  string
	Attributes map[string]string
	Children   []VNode
	Shadow     []VNode // only non-nil for elements hosting an open shadow root
}

// Document is the top-level container carried by a Keyframe: a document
// id, its adopted stylesheets, and its child nodes.
type Document struct {
	ID                 int
	AdoptedStyleSheets []StyleSheetRef
	Children           []VNode
}

// OpKind discriminates the Operation tagged variant (§3).
type OpKind uint32

const (
	OpInsert OpKind = iota
	OpRemove
	OpUpdateAttribute
	OpRemoveAttribute
	OpUpdateText
)

// Operation is one structural mutation (§3, §4.4). Only the fields
// relevant to Kind are populated.
type Operation struct {
	Kind OpKind

	// insert
	ParentID int
	Index    int
	Node     *VNode

	// remove, updateAttribute, removeAttribute, updateText
	NodeID int

	// updateAttribute, removeAttribute
	Name  string
	Value string

	// updateText
	Edits []strdiff.Edit
}

// SheetOpKind discriminates the stylesheet-tracker event variant (§4.5).
type SheetOpKind uint32

const (
	SheetRulesInsert SheetOpKind = iota
	SheetRulesDelete
	SheetReplace
	SheetAdoptedListChanged
	SheetAdded
	SheetRemoved
)

// SheetOp is one stylesheet-object-model event (§4.5), carried inside a
// StyleSheetChanged frame.
type SheetOp struct {
	Kind    SheetOpKind
	SheetID int
	Adopted bool

	// sheet-rules-insert
	Rule  string
	Index int

	// sheet-replace, sheet-added
	Text string

	// adopted-list-changed
	DocumentOrRootID int
	SheetIDs         []int
}
