package player

import (
	"log/slog"
	"testing"

	"github.com/hazyhaar/domrec/wire"
)

// Play's frame dispatch and keyframe materialization are exercised
// through a live target tab (domtab.Tab wraps a concrete *rod.Page, the
// same way the rest of this module talks to Chrome — there is no
// browser-free fast path on the player side the way recorder has for
// HTTP-only recording, since rendering a keyframe always needs
// somewhere to render it). Config defaulting is the one piece of this
// package that's pure enough to unit test without a tab.

func TestConfigDefaultsFillsLoggerAndPropagatesToSubsystems(t *testing.T) {
	var cfg Config
	cfg.defaults()
	if cfg.Logger == nil {
		t.Fatalf("expected default logger")
	}
	if cfg.Browser.Logger == nil {
		t.Fatalf("expected browser config to inherit logger")
	}
	if cfg.StyleSheet.Logger == nil {
		t.Fatalf("expected stylesheet config to inherit logger")
	}
}

func TestConfigDefaultsRespectsExplicitLogger(t *testing.T) {
	custom := slog.Default()
	cfg := Config{Logger: custom}
	cfg.defaults()
	if cfg.Browser.Logger != custom || cfg.StyleSheet.Logger != custom {
		t.Fatalf("expected explicit logger propagated unchanged")
	}
}

func TestDocumentElementIDFindsTopLevelElement(t *testing.T) {
	doc := wire.Document{Children: []wire.VNode{
		{Kind: wire.KindDocumentType, ID: 1, Name: "html"},
		{Kind: wire.KindElement, ID: 2, Tag: "html"},
	}}
	id, ok := documentElementID(doc)
	if !ok || id != 2 {
		t.Fatalf("expected (2, true), got (%d, %v)", id, ok)
	}
}

func TestDocumentElementIDReportsMissingForFragment(t *testing.T) {
	doc := wire.Document{Children: []wire.VNode{
		{Kind: wire.KindText, ID: 1, Data: "hi"},
	}}
	if _, ok := documentElementID(doc); ok {
		t.Fatalf("expected no element root in a text-only fragment")
	}
}
