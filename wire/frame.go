package wire

// FrameTag is the 4-byte tag that selects a frame's payload type (§6).
type FrameTag uint32

const (
	TagTimestamp           FrameTag = 0
	TagKeyframe            FrameTag = 1
	TagAsset               FrameTag = 2
	TagViewportResized     FrameTag = 3
	TagScrollOffsetChanged FrameTag = 4
	// 5-9: input/focus/selection, deliberately out of scope.
	TagDomNodeAdded        FrameTag = 10
	TagDomNodeRemoved      FrameTag = 11
	TagDomAttributeChanged FrameTag = 12
	TagDomAttributeRemoved FrameTag = 13
	TagDomTextChanged      FrameTag = 14
	TagDomNodeResized      FrameTag = 15
	TagStyleSheetChanged   FrameTag = 16
)

// Payload is implemented by every frame's data. Frame itself carries only
// the tag and the payload; the payload knows how to encode/decode its own
// body via the codec in codec.go.
type Payload interface {
	frameTag() FrameTag
}

// Frame is one record in the recorder's output stream / the player's
// input stream.
type Frame struct {
	Tag     FrameTag
	Payload Payload
}

// TimestampPayload marks a point in recording time (tag 0).
type TimestampPayload struct {
	EpochMs int64
}

func (TimestampPayload) frameTag() FrameTag { return TagTimestamp }

// KeyframePayload is the initial full document snapshot (tag 1). The
// player must wait for AssetCount Asset frames before considering the
// keyframe complete.
type KeyframePayload struct {
	Document   Document
	AssetCount int
}

func (KeyframePayload) frameTag() FrameTag { return TagKeyframe }

// AssetPayload carries resolved (or failed) asset bytes (tag 2). Empty
// Bytes signals a fetch failure; the player falls back to URL.
type AssetPayload struct {
	ID    int
	URL   string
	Mime  string
	Bytes []byte
}

func (AssetPayload) frameTag() FrameTag { return TagAsset }

// ViewportResizedPayload (tag 3).
type ViewportResizedPayload struct {
	Width  int
	Height int
}

func (ViewportResizedPayload) frameTag() FrameTag { return TagViewportResized }

// ScrollOffsetChangedPayload (tag 4).
type ScrollOffsetChangedPayload struct {
	X int
	Y int
}

func (ScrollOffsetChangedPayload) frameTag() FrameTag { return TagScrollOffsetChanged }

// DomNodeAddedPayload (tag 10). AssetCount mirrors the keyframe's
// contract: the inserted subtree may reference this many not-yet-arrived
// assets.
type DomNodeAddedPayload struct {
	ParentID   int
	Index      int
	Node       VNode
	AssetCount int
}

func (DomNodeAddedPayload) frameTag() FrameTag { return TagDomNodeAdded }

// DomNodeRemovedPayload (tag 11).
type DomNodeRemovedPayload struct {
	NodeID int
}

func (DomNodeRemovedPayload) frameTag() FrameTag { return TagDomNodeRemoved }

// DomAttributeChangedPayload (tag 12).
type DomAttributeChangedPayload struct {
	NodeID int
	Name   string
	Value  string
}

func (DomAttributeChangedPayload) frameTag() FrameTag { return TagDomAttributeChanged }

// DomAttributeRemovedPayload (tag 13).
type DomAttributeRemovedPayload struct {
	NodeID int
	Name   string
}

func (DomAttributeRemovedPayload) frameTag() FrameTag { return TagDomAttributeRemoved }

// DomTextChangedPayload (tag 14).
type DomTextChangedPayload struct {
	NodeID int
	Edits  []TextEditWire
}

func (DomTextChangedPayload) frameTag() FrameTag { return TagDomTextChanged }

// TextEditWire mirrors strdiff.Edit's two variants for the wire form.
type TextEditWire struct {
	Insert bool // true: Insert{Index,Content}; false: Remove{Index,Count}
	Index  int
	Content string
	Count   int
}

// DomNodeResizedPayload (tag 15). Not produced by the core (no layout
// observer here) but reserved so a host transport adapter can interleave
// its own resize signals without a tag collision.
type DomNodeResizedPayload struct {
	NodeID int
	Width  int
	Height int
}

func (DomNodeResizedPayload) frameTag() FrameTag { return TagDomNodeResized }

// StyleSheetChangedPayload (tag 16).
type StyleSheetChangedPayload struct {
	Op SheetOp
}

func (StyleSheetChangedPayload) frameTag() FrameTag { return TagStyleSheetChanged }
