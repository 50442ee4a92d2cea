package recorder

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/hazyhaar/domrec/asset"
	"github.com/hazyhaar/domrec/fetch"
	"github.com/hazyhaar/domrec/nodeid"
	"github.com/hazyhaar/domrec/styletrack"
	"github.com/hazyhaar/domrec/wire"
)

// TestMarkAdoptedEmittedWithNothingQueuedEmitsNothing checks that
// markAdoptedEmitted over keyframe-seeded adopted sheet ids with nothing
// queued against them neither panics nor emits. Which ids end up marked is
// not observable from this package; the announce/queue-flush behavior that
// marking unlocks is exercised by styletrack's own
// TestAdoptedSheetRuleInsertDeliveredImmediatelyOnceSeeded.
func TestMarkAdoptedEmittedWithNothingQueuedEmitsNothing(t *testing.T) {
	tr := styletrack.New(nodeid.New(), styletrack.Config{})
	var got []wire.SheetOp
	tr.SetEmit(func(op wire.SheetOp) { got = append(got, op) })

	// MarkEmitted on a sheet id with nothing queued against it is a no-op
	// that must not panic or emit anything.
	markAdoptedEmitted(tr, []wire.StyleSheetRef{{ID: 41}, {ID: 42}})
	if len(got) != 0 {
		t.Fatalf("expected no emission from marking emitted alone, got %+v", got)
	}
}

func TestResolveStealthLevelMapping(t *testing.T) {
	if resolveStealthLevel("0") != 0 {
		t.Fatalf("expected LevelHTTP for \"0\"")
	}
	if resolveStealthLevel("2") != 2 {
		t.Fatalf("expected LevelHeadful for \"2\"")
	}
	if resolveStealthLevel("bogus") != 1 {
		t.Fatalf("expected LevelHeadless default, got different value")
	}
}

func newTestRecorder(t *testing.T, base string) *Recorder {
	t.Helper()
	u, err := url.Parse(base)
	if err != nil {
		t.Fatalf("parse base: %v", err)
	}
	return &Recorder{
		cfg:     Config{Concurrency: 6, Logger: slog.Default()},
		logger:  slog.Default(),
		baseURL: u,
		pending: asset.NewPending(),
		fetcher: fetch.New(),
		ctx:     context.Background(),
	}
}

func TestInternURLDedupesSameURL(t *testing.T) {
	r := newTestRecorder(t, "https://example.com/page")
	var refs []internedAssetRef
	a := r.internURL("/a.png", &refs)
	b := r.internURL("/a.png", &refs)
	if a != b {
		t.Fatalf("expected same placeholder for repeated url, got %q and %q", a, b)
	}
	if len(refs) != 1 {
		t.Fatalf("expected exactly one interned ref, got %d", len(refs))
	}
}

func TestInternURLMarksCrossOrigin(t *testing.T) {
	r := newTestRecorder(t, "https://example.com/page")
	var refs []internedAssetRef
	r.internURL("https://cdn.other.com/x.png", &refs)
	if len(refs) != 1 || !refs[0].crossOrigin {
		t.Fatalf("expected cross-origin ref, got %+v", refs)
	}
}

func TestInternURLPassesThroughDataAndBlob(t *testing.T) {
	r := newTestRecorder(t, "https://example.com/page")
	var refs []internedAssetRef
	out := r.internURL("data:image/png;base64,AAAA", &refs)
	if out != "data:image/png;base64,AAAA" {
		t.Fatalf("expected data url unchanged, got %q", out)
	}
	if len(refs) != 0 {
		t.Fatalf("expected no interned refs for data url")
	}
}

func TestInternNodeRewritesPlainAttribute(t *testing.T) {
	r := newTestRecorder(t, "https://example.com/page")
	n := &wire.VNode{
		Kind:       wire.KindElement,
		Tag:        "img",
		Attributes: map[string]string{"src": "/pic.png"},
	}
	var refs []internedAssetRef
	r.internNode(n, &refs)
	if n.Attributes["src"] != asset.Placeholder(1) {
		t.Fatalf("expected placeholder asset:1, got %q", n.Attributes["src"])
	}
	if len(refs) != 1 {
		t.Fatalf("expected one interned ref, got %d", len(refs))
	}
}

func TestInternNodeRewritesStyleAttributeCSSURL(t *testing.T) {
	r := newTestRecorder(t, "https://example.com/page")
	n := &wire.VNode{
		Kind:       wire.KindElement,
		Tag:        "div",
		Attributes: map[string]string{"style": "background: url(/bg.png)"},
	}
	var refs []internedAssetRef
	r.internNode(n, &refs)
	if n.Attributes["style"] == "background: url(/bg.png)" {
		t.Fatalf("expected style attribute rewritten, got unchanged %q", n.Attributes["style"])
	}
	if len(refs) != 1 {
		t.Fatalf("expected one interned ref from style attribute, got %d", len(refs))
	}
}

func TestInternNodeRewritesStyleElementText(t *testing.T) {
	r := newTestRecorder(t, "https://example.com/page")
	n := &wire.VNode{
		Kind: wire.KindElement,
		Tag:  "style",
		Children: []wire.VNode{
			{Kind: wire.KindText, Data: ".a { background: url(/bg.png); }"},
		},
	}
	var refs []internedAssetRef
	r.internNode(n, &refs)
	if n.Children[0].Data == ".a { background: url(/bg.png); }" {
		t.Fatalf("expected style text rewritten")
	}
	if len(refs) != 1 {
		t.Fatalf("expected one interned ref from style text, got %d", len(refs))
	}
}

func TestInternNodeRecursesIntoShadow(t *testing.T) {
	r := newTestRecorder(t, "https://example.com/page")
	n := &wire.VNode{
		Kind: wire.KindElement,
		Tag:  "my-widget",
		Shadow: []wire.VNode{
			{Kind: wire.KindElement, Tag: "img", Attributes: map[string]string{"src": "/shadow.png"}},
		},
	}
	var refs []internedAssetRef
	r.internNode(n, &refs)
	if n.Shadow[0].Attributes["src"] != asset.Placeholder(1) {
		t.Fatalf("expected shadow subtree's attribute rewritten, got %q", n.Shadow[0].Attributes["src"])
	}
}

func TestRecordHTTPOnlyWritesKeyframeAndAsset(t *testing.T) {
	var imgBytes = []byte("fake-png-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<html><body><img src="/pic.png"><p>` +
				`This page carries plenty of genuinely static paragraph text, written out long enough that the ` +
				`text-to-markup sufficiency heuristic clears its two hundred character floor comfortably, with ` +
				`no single-page-application shell markers anywhere in this document at all.` +
				`</p></body></html>`))
		case "/pic.png":
			w.Write(imgBytes)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	var buf bytes.Buffer
	rec := New(Config{PageURL: srv.URL + "/", StealthLevel: "0"}, &buf)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	r := bytes.NewReader(buf.Bytes())
	if err := wire.ReadMagic(r); err != nil {
		t.Fatalf("read magic: %v", err)
	}
	frame, err := wire.ReadFrame(r)
	if err != nil {
		t.Fatalf("read keyframe: %v", err)
	}
	kf, ok := frame.Payload.(wire.KeyframePayload)
	if !ok {
		t.Fatalf("expected keyframe payload, got %T", frame.Payload)
	}
	if kf.AssetCount != 1 {
		t.Fatalf("expected 1 asset referenced by keyframe, got %d", kf.AssetCount)
	}

	assetFrame, err := wire.ReadFrame(r)
	if err != nil {
		t.Fatalf("read asset frame: %v", err)
	}
	ap, ok := assetFrame.Payload.(wire.AssetPayload)
	if !ok {
		t.Fatalf("expected asset payload, got %T", assetFrame.Payload)
	}
	if string(ap.Bytes) != string(imgBytes) {
		t.Fatalf("expected asset bytes %q, got %q", imgBytes, ap.Bytes)
	}
}
