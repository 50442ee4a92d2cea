package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hazyhaar/domrec/strdiff"
)

// MagicBytes opens every frame stream, mirroring the teacher's dbsync
// wire format (magic bytes + length-prefixed records).
const MagicBytes = "DREC"

// WriteMagic writes the stream's magic bytes. Call once, before the first
// WriteFrame.
func WriteMagic(w io.Writer) error {
	_, err := w.Write([]byte(MagicBytes))
	return err
}

// ReadMagic reads and validates the stream's magic bytes. Call once,
// before the first ReadFrame.
func ReadMagic(r io.Reader) error {
	buf := make([]byte, len(MagicBytes))
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("%w: magic: %v", ErrBufferUnderflow, err)
	}
	if string(buf) != MagicBytes {
		return fmt.Errorf("%w: bad magic %q", ErrDecodeError, buf)
	}
	return nil
}

// WriteFrame encodes f and writes it as [uint64 length][uint32 tag][body].
func WriteFrame(w io.Writer, f Frame) error {
	body, err := encodeBody(f)
	if err != nil {
		return fmt.Errorf("wire: encode frame: %w", err)
	}

	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(4+len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write frame length: %w", err)
	}

	var tagBuf [4]byte
	binary.BigEndian.PutUint32(tagBuf[:], uint32(f.Tag))
	if _, err := w.Write(tagBuf[:]); err != nil {
		return fmt.Errorf("wire: write frame tag: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed, tag-dispatched frame. Truncated
// input yields ErrBufferUnderflow; structurally invalid input yields
// ErrDecodeError.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, fmt.Errorf("%w: frame length: %v", ErrBufferUnderflow, err)
	}
	n := binary.BigEndian.Uint64(lenBuf[:])
	if n < 4 {
		return Frame{}, fmt.Errorf("%w: frame length %d too small for a tag", ErrDecodeError, n)
	}

	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return Frame{}, fmt.Errorf("%w: frame body: %v", ErrBufferUnderflow, err)
	}

	tag := FrameTag(binary.BigEndian.Uint32(raw[:4]))
	rd := newReader(raw[4:])
	payload, err := decodeBody(tag, rd)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Tag: tag, Payload: payload}, nil
}

// --- low-level writer/reader --------------------------------------------

type writer struct {
	buf bytes.Buffer
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) boolean(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *writer) str(s string) {
	w.u64(uint64(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) bytesField(b []byte) {
	w.u64(uint64(len(b)))
	w.buf.Write(b)
}

type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader { return &reader{data: data} }

func (r *reader) remaining() int { return len(r.data) - r.pos }

func (r *reader) u32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, ErrBufferUnderflow
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, ErrBufferUnderflow
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) boolean() (bool, error) {
	if r.remaining() < 1 {
		return false, ErrBufferUnderflow
	}
	v := r.data[r.pos] != 0
	r.pos++
	return v, nil
}

func (r *reader) str() (string, error) {
	n, err := r.u64()
	if err != nil {
		return "", err
	}
	if uint64(r.remaining()) < n {
		return "", ErrBufferUnderflow
	}
	s := string(r.data[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *reader) bytesField() ([]byte, error) {
	n, err := r.u64()
	if err != nil {
		return nil, err
	}
	if uint64(r.remaining()) < n {
		return nil, ErrBufferUnderflow
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return b, nil
}

// --- VNode / Document ----------------------------------------------------

func encodeVNode(w *writer, n *VNode) {
	w.u32(uint32(n.Kind))
	w.u64(uint64(n.ID))

	switch n.Kind {
	case KindText, KindCData, KindComment:
		w.str(n.Data)
	case KindProcessingInstruction:
		w.str(n.Target)
		w.str(n.Data)
	case KindDocumentType:
		w.str(n.Name)
		w.str(n.PublicID)
		w.str(n.SystemID)
	case KindElement:
		w.str(n.Tag)
		w.str(n.Namespace)
		w.u32(uint32(len(n.Attributes)))
		for k, v := range n.Attributes {
			w.str(k)
			w.str(v)
		}
		w.u32(uint32(len(n.Children)))
		for i := range n.Children {
			encodeVNode(w, &n.Children[i])
		}
		w.boolean(n.Shadow != nil)
		if n.Shadow != nil {
			w.u32(uint32(len(n.Shadow)))
			for i := range n.Shadow {
				encodeVNode(w, &n.Shadow[i])
			}
		}
	}
}

func decodeVNode(r *reader) (VNode, error) {
	kind, err := r.u32()
	if err != nil {
		return VNode{}, err
	}
	id, err := r.u64()
	if err != nil {
		return VNode{}, err
	}
	n := VNode{Kind: NodeKind(kind), ID: int(id)}

	switch n.Kind {
	case KindText, KindCData, KindComment:
		if n.Data, err = r.str(); err != nil {
			return VNode{}, err
		}
	case KindProcessingInstruction:
		if n.Target, err = r.str(); err != nil {
			return VNode{}, err
		}
		if n.Data, err = r.str(); err != nil {
			return VNode{}, err
		}
	case KindDocumentType:
		if n.Name, err = r.str(); err != nil {
			return VNode{}, err
		}
		if n.PublicID, err = r.str(); err != nil {
			return VNode{}, err
		}
		if n.SystemID, err = r.str(); err != nil {
			return VNode{}, err
		}
	case KindElement:
		if n.Tag, err = r.str(); err != nil {
			return VNode{}, err
		}
		if n.Namespace, err = r.str(); err != nil {
			return VNode{}, err
		}
		attrCount, err := r.u32()
		if err != nil {
			return VNode{}, err
		}
		if attrCount > 0 {
			n.Attributes = make(map[string]string, attrCount)
			for i := uint32(0); i < attrCount; i++ {
				k, err := r.str()
				if err != nil {
					return VNode{}, err
				}
				v, err := r.str()
				if err != nil {
					return VNode{}, err
				}
				n.Attributes[k] = v
			}
		}
		childCount, err := r.u32()
		if err != nil {
			return VNode{}, err
		}
		if childCount > 0 {
			n.Children = make([]VNode, childCount)
			for i := uint32(0); i < childCount; i++ {
				c, err := decodeVNode(r)
				if err != nil {
					return VNode{}, err
				}
				n.Children[i] = c
			}
		}
		hasShadow, err := r.boolean()
		if err != nil {
			return VNode{}, err
		}
		if hasShadow {
			shadowCount, err := r.u32()
			if err != nil {
				return VNode{}, err
			}
			n.Shadow = make([]VNode, shadowCount)
			for i := uint32(0); i < shadowCount; i++ {
				c, err := decodeVNode(r)
				if err != nil {
					return VNode{}, err
				}
				n.Shadow[i] = c
			}
		}
	default:
		return VNode{}, fmt.Errorf("%w: unknown node kind %d", ErrDecodeError, kind)
	}
	return n, nil
}

func encodeDocument(w *writer, d *Document) {
	w.u64(uint64(d.ID))
	w.u32(uint32(len(d.AdoptedStyleSheets)))
	for _, s := range d.AdoptedStyleSheets {
		w.u64(uint64(s.ID))
		w.str(s.Media)
		w.str(s.Text)
	}
	w.u32(uint32(len(d.Children)))
	for i := range d.Children {
		encodeVNode(w, &d.Children[i])
	}
}

func decodeDocument(r *reader) (Document, error) {
	id, err := r.u64()
	if err != nil {
		return Document{}, err
	}
	d := Document{ID: int(id)}

	sheetCount, err := r.u32()
	if err != nil {
		return Document{}, err
	}
	for i := uint32(0); i < sheetCount; i++ {
		sid, err := r.u64()
		if err != nil {
			return Document{}, err
		}
		media, err := r.str()
		if err != nil {
			return Document{}, err
		}
		text, err := r.str()
		if err != nil {
			return Document{}, err
		}
		d.AdoptedStyleSheets = append(d.AdoptedStyleSheets, StyleSheetRef{ID: int(sid), Media: media, Text: text})
	}

	childCount, err := r.u32()
	if err != nil {
		return Document{}, err
	}
	for i := uint32(0); i < childCount; i++ {
		c, err := decodeVNode(r)
		if err != nil {
			return Document{}, err
		}
		d.Children = append(d.Children, c)
	}
	return d, nil
}

// --- text edits ------------------------------------------------------------

// ToWireEdits converts a strdiff edit script to its wire form, for
// callers (the recorder) building a DomTextChangedPayload directly from
// a detector Operation rather than round-tripping through
// EncodeOperation/DecodeOperation.
func ToWireEdits(edits []strdiff.Edit) []TextEditWire { return toWireEdits(edits) }

func toWireEdits(edits []strdiff.Edit) []TextEditWire {
	out := make([]TextEditWire, len(edits))
	for i, e := range edits {
		out[i] = TextEditWire{
			Insert:  e.Op == strdiff.OpInsert,
			Index:   e.Index,
			Content: e.Content,
			Count:   e.Count,
		}
	}
	return out
}

// FromWireEdits converts a wire edit script back to strdiff form, for
// callers (the player) applying a DomTextChangedPayload directly against
// a target document without round-tripping through DecodeOperation.
func FromWireEdits(edits []TextEditWire) []strdiff.Edit { return fromWireEdits(edits) }

func fromWireEdits(edits []TextEditWire) []strdiff.Edit {
	out := make([]strdiff.Edit, len(edits))
	for i, e := range edits {
		if e.Insert {
			out[i] = strdiff.Edit{Op: strdiff.OpInsert, Index: e.Index, Content: e.Content}
		} else {
			out[i] = strdiff.Edit{Op: strdiff.OpRemove, Index: e.Index, Count: e.Count}
		}
	}
	return out
}

func encodeEdits(w *writer, edits []TextEditWire) {
	w.u32(uint32(len(edits)))
	for _, e := range edits {
		w.boolean(e.Insert)
		w.u64(uint64(e.Index))
		if e.Insert {
			w.str(e.Content)
		} else {
			w.u64(uint64(e.Count))
		}
	}
}

func decodeEdits(r *reader) ([]TextEditWire, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	edits := make([]TextEditWire, n)
	for i := uint32(0); i < n; i++ {
		ins, err := r.boolean()
		if err != nil {
			return nil, err
		}
		idx, err := r.u64()
		if err != nil {
			return nil, err
		}
		e := TextEditWire{Insert: ins, Index: int(idx)}
		if ins {
			if e.Content, err = r.str(); err != nil {
				return nil, err
			}
		} else {
			cnt, err := r.u64()
			if err != nil {
				return nil, err
			}
			e.Count = int(cnt)
		}
		edits[i] = e
	}
	return edits, nil
}

// --- SheetOp ---------------------------------------------------------------

func encodeSheetOp(w *writer, op *SheetOp) {
	w.u32(uint32(op.Kind))
	w.u64(uint64(op.SheetID))
	w.boolean(op.Adopted)
	w.str(op.Rule)
	w.u64(uint64(op.Index))
	w.str(op.Text)
	w.u64(uint64(op.DocumentOrRootID))
	w.u32(uint32(len(op.SheetIDs)))
	for _, id := range op.SheetIDs {
		w.u64(uint64(id))
	}
}

func decodeSheetOp(r *reader) (SheetOp, error) {
	kind, err := r.u32()
	if err != nil {
		return SheetOp{}, err
	}
	op := SheetOp{Kind: SheetOpKind(kind)}

	sid, err := r.u64()
	if err != nil {
		return SheetOp{}, err
	}
	op.SheetID = int(sid)

	if op.Adopted, err = r.boolean(); err != nil {
		return SheetOp{}, err
	}
	if op.Rule, err = r.str(); err != nil {
		return SheetOp{}, err
	}
	idx, err := r.u64()
	if err != nil {
		return SheetOp{}, err
	}
	op.Index = int(idx)
	if op.Text, err = r.str(); err != nil {
		return SheetOp{}, err
	}
	docID, err := r.u64()
	if err != nil {
		return SheetOp{}, err
	}
	op.DocumentOrRootID = int(docID)

	count, err := r.u32()
	if err != nil {
		return SheetOp{}, err
	}
	for i := uint32(0); i < count; i++ {
		id, err := r.u64()
		if err != nil {
			return SheetOp{}, err
		}
		op.SheetIDs = append(op.SheetIDs, int(id))
	}
	return op, nil
}

// --- Operation ---------------------------------------------------------------

// EncodeOperation/DecodeOperation encode and decode a single Operation on
// its own, without a frame envelope.
func EncodeOperation(op Operation) []byte {
	w := &writer{}
	encodeOperation(w, &op)
	return w.buf.Bytes()
}

func DecodeOperation(data []byte) (Operation, error) {
	r := newReader(data)
	return decodeOperation(r)
}

func encodeOperation(w *writer, op *Operation) {
	w.u32(uint32(op.Kind))
	switch op.Kind {
	case OpInsert:
		w.u64(uint64(op.ParentID))
		w.u64(uint64(op.Index))
		encodeVNode(w, op.Node)
	case OpRemove:
		w.u64(uint64(op.NodeID))
	case OpUpdateAttribute:
		w.u64(uint64(op.NodeID))
		w.str(op.Name)
		w.str(op.Value)
	case OpRemoveAttribute:
		w.u64(uint64(op.NodeID))
		w.str(op.Name)
	case OpUpdateText:
		w.u64(uint64(op.NodeID))
		encodeEdits(w, toWireEdits(op.Edits))
	}
}

func decodeOperation(r *reader) (Operation, error) {
	kind, err := r.u32()
	if err != nil {
		return Operation{}, err
	}
	op := Operation{Kind: OpKind(kind)}

	switch op.Kind {
	case OpInsert:
		pid, err := r.u64()
		if err != nil {
			return Operation{}, err
		}
		op.ParentID = int(pid)
		idx, err := r.u64()
		if err != nil {
			return Operation{}, err
		}
		op.Index = int(idx)
		n, err := decodeVNode(r)
		if err != nil {
			return Operation{}, err
		}
		op.Node = &n
	case OpRemove:
		id, err := r.u64()
		if err != nil {
			return Operation{}, err
		}
		op.NodeID = int(id)
	case OpUpdateAttribute:
		id, err := r.u64()
		if err != nil {
			return Operation{}, err
		}
		op.NodeID = int(id)
		if op.Name, err = r.str(); err != nil {
			return Operation{}, err
		}
		if op.Value, err = r.str(); err != nil {
			return Operation{}, err
		}
	case OpRemoveAttribute:
		id, err := r.u64()
		if err != nil {
			return Operation{}, err
		}
		op.NodeID = int(id)
		if op.Name, err = r.str(); err != nil {
			return Operation{}, err
		}
	case OpUpdateText:
		id, err := r.u64()
		if err != nil {
			return Operation{}, err
		}
		op.NodeID = int(id)
		wireEdits, err := decodeEdits(r)
		if err != nil {
			return Operation{}, err
		}
		op.Edits = fromWireEdits(wireEdits)
	default:
		return Operation{}, fmt.Errorf("%w: unknown operation kind %d", ErrDecodeError, kind)
	}
	return op, nil
}

// --- Frame bodies ------------------------------------------------------------

func encodeBody(f Frame) ([]byte, error) {
	w := &writer{}
	switch p := f.Payload.(type) {
	case TimestampPayload:
		w.u64(uint64(p.EpochMs))
	case KeyframePayload:
		encodeDocument(w, &p.Document)
		w.u64(uint64(p.AssetCount))
	case AssetPayload:
		w.u64(uint64(p.ID))
		w.str(p.URL)
		w.str(p.Mime)
		w.bytesField(p.Bytes)
	case ViewportResizedPayload:
		w.u64(uint64(p.Width))
		w.u64(uint64(p.Height))
	case ScrollOffsetChangedPayload:
		w.u64(uint64(p.X))
		w.u64(uint64(p.Y))
	case DomNodeAddedPayload:
		w.u64(uint64(p.ParentID))
		w.u64(uint64(p.Index))
		encodeVNode(w, &p.Node)
		w.u64(uint64(p.AssetCount))
	case DomNodeRemovedPayload:
		w.u64(uint64(p.NodeID))
	case DomAttributeChangedPayload:
		w.u64(uint64(p.NodeID))
		w.str(p.Name)
		w.str(p.Value)
	case DomAttributeRemovedPayload:
		w.u64(uint64(p.NodeID))
		w.str(p.Name)
	case DomTextChangedPayload:
		w.u64(uint64(p.NodeID))
		encodeEdits(w, p.Edits)
	case DomNodeResizedPayload:
		w.u64(uint64(p.NodeID))
		w.u64(uint64(p.Width))
		w.u64(uint64(p.Height))
	case StyleSheetChangedPayload:
		encodeSheetOp(w, &p.Op)
	default:
		return nil, fmt.Errorf("%w: unknown payload type %T", ErrDecodeError, f.Payload)
	}
	return w.buf.Bytes(), nil
}

func decodeBody(tag FrameTag, r *reader) (Payload, error) {
	switch tag {
	case TagTimestamp:
		v, err := r.u64()
		if err != nil {
			return nil, err
		}
		return TimestampPayload{EpochMs: int64(v)}, nil
	case TagKeyframe:
		doc, err := decodeDocument(r)
		if err != nil {
			return nil, err
		}
		count, err := r.u64()
		if err != nil {
			return nil, err
		}
		return KeyframePayload{Document: doc, AssetCount: int(count)}, nil
	case TagAsset:
		id, err := r.u64()
		if err != nil {
			return nil, err
		}
		url, err := r.str()
		if err != nil {
			return nil, err
		}
		mime, err := r.str()
		if err != nil {
			return nil, err
		}
		b, err := r.bytesField()
		if err != nil {
			return nil, err
		}
		return AssetPayload{ID: int(id), URL: url, Mime: mime, Bytes: b}, nil
	case TagViewportResized:
		w, err := r.u64()
		if err != nil {
			return nil, err
		}
		h, err := r.u64()
		if err != nil {
			return nil, err
		}
		return ViewportResizedPayload{Width: int(w), Height: int(h)}, nil
	case TagScrollOffsetChanged:
		x, err := r.u64()
		if err != nil {
			return nil, err
		}
		y, err := r.u64()
		if err != nil {
			return nil, err
		}
		return ScrollOffsetChangedPayload{X: int(x), Y: int(y)}, nil
	case TagDomNodeAdded:
		pid, err := r.u64()
		if err != nil {
			return nil, err
		}
		idx, err := r.u64()
		if err != nil {
			return nil, err
		}
		n, err := decodeVNode(r)
		if err != nil {
			return nil, err
		}
		count, err := r.u64()
		if err != nil {
			return nil, err
		}
		return DomNodeAddedPayload{ParentID: int(pid), Index: int(idx), Node: n, AssetCount: int(count)}, nil
	case TagDomNodeRemoved:
		id, err := r.u64()
		if err != nil {
			return nil, err
		}
		return DomNodeRemovedPayload{NodeID: int(id)}, nil
	case TagDomAttributeChanged:
		id, err := r.u64()
		if err != nil {
			return nil, err
		}
		name, err := r.str()
		if err != nil {
			return nil, err
		}
		val, err := r.str()
		if err != nil {
			return nil, err
		}
		return DomAttributeChangedPayload{NodeID: int(id), Name: name, Value: val}, nil
	case TagDomAttributeRemoved:
		id, err := r.u64()
		if err != nil {
			return nil, err
		}
		name, err := r.str()
		if err != nil {
			return nil, err
		}
		return DomAttributeRemovedPayload{NodeID: int(id), Name: name}, nil
	case TagDomTextChanged:
		id, err := r.u64()
		if err != nil {
			return nil, err
		}
		edits, err := decodeEdits(r)
		if err != nil {
			return nil, err
		}
		return DomTextChangedPayload{NodeID: int(id), Edits: edits}, nil
	case TagDomNodeResized:
		id, err := r.u64()
		if err != nil {
			return nil, err
		}
		w, err := r.u64()
		if err != nil {
			return nil, err
		}
		h, err := r.u64()
		if err != nil {
			return nil, err
		}
		return DomNodeResizedPayload{NodeID: int(id), Width: int(w), Height: int(h)}, nil
	case TagStyleSheetChanged:
		op, err := decodeSheetOp(r)
		if err != nil {
			return nil, err
		}
		return StyleSheetChangedPayload{Op: op}, nil
	default:
		return nil, fmt.Errorf("%w: unknown frame tag %d", ErrDecodeError, tag)
	}
}
