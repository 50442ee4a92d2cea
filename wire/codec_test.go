package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/hazyhaar/domrec/strdiff"
)

func roundtrip(t *testing.T, f Frame) Frame {
	t.Helper()
	var buf bytes.Buffer
	if err := WriteMagic(&buf); err != nil {
		t.Fatalf("write magic: %v", err)
	}
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	if err := ReadMagic(&buf); err != nil {
		t.Fatalf("read magic: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return got
}

func TestKeyframeRoundtrip(t *testing.T) {
	doc := Document{
		ID: 1,
		AdoptedStyleSheets: []StyleSheetRef{
			{ID: 100, Media: "screen", Text: ".a{color:red}"},
		},
		Children: []VNode{
			{
				Kind:       KindElement,
				ID:         2,
				Tag:        "div",
				Attributes: map[string]string{"class": "root"},
				Children: []VNode{
					{Kind: KindText, ID: 3, Data: "hello"},
				},
			},
		},
	}
	f := Frame{Tag: TagKeyframe, Payload: KeyframePayload{Document: doc, AssetCount: 2}}
	got := roundtrip(t, f)

	kp, ok := got.Payload.(KeyframePayload)
	if !ok {
		t.Fatalf("expected KeyframePayload, got %T", got.Payload)
	}
	if kp.AssetCount != 2 {
		t.Errorf("assetCount = %d, want 2", kp.AssetCount)
	}
	if len(kp.Document.Children) != 1 || kp.Document.Children[0].Tag != "div" {
		t.Errorf("document children mismatch: %+v", kp.Document.Children)
	}
	if kp.Document.Children[0].Children[0].Data != "hello" {
		t.Errorf("text content mismatch: %+v", kp.Document.Children[0].Children[0])
	}
	if kp.Document.AdoptedStyleSheets[0].Text != ".a{color:red}" {
		t.Errorf("adopted stylesheet text mismatch")
	}
}

func TestDomNodeAddedRoundtrip(t *testing.T) {
	f := Frame{
		Tag: TagDomNodeAdded,
		Payload: DomNodeAddedPayload{
			ParentID: 1,
			Index:    0,
			Node: VNode{
				Kind: KindElement,
				ID:   2,
				Tag:  "span",
				Children: []VNode{
					{Kind: KindText, ID: 3, Data: "Test"},
				},
			},
			AssetCount: 0,
		},
	}
	got := roundtrip(t, f)
	p, ok := got.Payload.(DomNodeAddedPayload)
	if !ok {
		t.Fatalf("expected DomNodeAddedPayload, got %T", got.Payload)
	}
	if p.ParentID != 1 || p.Node.Tag != "span" || p.Node.Children[0].Data != "Test" {
		t.Errorf("roundtrip mismatch: %+v", p)
	}
}

func TestDomTextChangedRoundtrip(t *testing.T) {
	edits := strdiff.Diff("hello", "hullo")
	f := Frame{
		Tag:     TagDomTextChanged,
		Payload: DomTextChangedPayload{NodeID: 7, Edits: toWireEdits(edits)},
	}
	got := roundtrip(t, f)
	p, ok := got.Payload.(DomTextChangedPayload)
	if !ok {
		t.Fatalf("expected DomTextChangedPayload, got %T", got.Payload)
	}
	if p.NodeID != 7 {
		t.Errorf("nodeID = %d, want 7", p.NodeID)
	}
	back := fromWireEdits(p.Edits)
	if got := strdiff.Apply("hello", back); got != "hullo" {
		t.Errorf("applying roundtripped edits gave %q, want hullo", got)
	}
}

func TestAssetPayloadRoundtrip(t *testing.T) {
	f := Frame{
		Tag: TagAsset,
		Payload: AssetPayload{
			ID:    5,
			URL:   "https://example.com/logo.png",
			Mime:  "image/png",
			Bytes: []byte{0x89, 0x50, 0x4e, 0x47},
		},
	}
	got := roundtrip(t, f)
	p, ok := got.Payload.(AssetPayload)
	if !ok {
		t.Fatalf("expected AssetPayload, got %T", got.Payload)
	}
	if p.URL != f.Payload.(AssetPayload).URL || !bytes.Equal(p.Bytes, f.Payload.(AssetPayload).Bytes) {
		t.Errorf("asset payload mismatch: %+v", p)
	}
}

func TestStyleSheetChangedRoundtrip(t *testing.T) {
	f := Frame{
		Tag: TagStyleSheetChanged,
		Payload: StyleSheetChangedPayload{Op: SheetOp{
			Kind:    SheetRulesInsert,
			SheetID: 42,
			Adopted: true,
			Rule:    "p{color:red}",
			Index:   0,
		}},
	}
	got := roundtrip(t, f)
	p, ok := got.Payload.(StyleSheetChangedPayload)
	if !ok {
		t.Fatalf("expected StyleSheetChangedPayload, got %T", got.Payload)
	}
	if p.Op.SheetID != 42 || p.Op.Rule != "p{color:red}" || !p.Op.Adopted {
		t.Errorf("sheet op mismatch: %+v", p.Op)
	}
}

func TestReadFrameTruncatedYieldsBufferUnderflow(t *testing.T) {
	var buf bytes.Buffer
	WriteMagic(&buf)
	WriteFrame(&buf, Frame{Tag: TagTimestamp, Payload: TimestampPayload{EpochMs: 123}})
	full := buf.Bytes()

	// Truncate after the magic bytes and part of the length prefix.
	truncated := bytes.NewReader(full[:len(MagicBytes)+4])
	if err := ReadMagic(truncated); err != nil {
		t.Fatalf("read magic: %v", err)
	}
	_, err := ReadFrame(truncated)
	if !errors.Is(err, ErrBufferUnderflow) {
		t.Fatalf("expected ErrBufferUnderflow, got %v", err)
	}
}

func TestReadMagicBadBytesYieldsDecodeError(t *testing.T) {
	buf := bytes.NewReader([]byte("NOPE"))
	err := ReadMagic(buf)
	if !errors.Is(err, ErrDecodeError) {
		t.Fatalf("expected ErrDecodeError, got %v", err)
	}
}

func TestOperationEncodeDecodeRoundtrip(t *testing.T) {
	op := Operation{
		Kind:     OpInsert,
		ParentID: 1,
		Index:    0,
		Node:     &VNode{Kind: KindElement, ID: 9, Tag: "p"},
	}
	data := EncodeOperation(op)
	got, err := DecodeOperation(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != OpInsert || got.Node.Tag != "p" {
		t.Errorf("operation roundtrip mismatch: %+v", got)
	}
}
