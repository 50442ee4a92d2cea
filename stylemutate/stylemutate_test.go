package stylemutate

import (
	"context"
	"strings"
	"testing"

	"github.com/hazyhaar/domrec/asset"
)

type fakeBlobber struct{ n int }

func (f *fakeBlobber) CreateBlobURL(ctx context.Context, bytes []byte, mime string) (string, error) {
	f.n++
	return "blob:fake/sheet" + string(rune('a'+f.n)), nil
}
func (f *fakeBlobber) RevokeBlobURL(ctx context.Context, url string) error { return nil }

func newTestMutator() *Mutator {
	return New(nil, asset.NewManager(&fakeBlobber{}, nil), Config{})
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.MaxRetries != 50 {
		t.Fatalf("expected default 50 retries, got %d", cfg.MaxRetries)
	}
	if cfg.RetryInterval.Milliseconds() != 10 {
		t.Fatalf("expected default 10ms retry interval, got %v", cfg.RetryInterval)
	}
	if cfg.MaxTotal.Seconds() != 5 {
		t.Fatalf("expected default 5s total budget, got %v", cfg.MaxTotal)
	}
}

func TestSheetExprOwnerBacked(t *testing.T) {
	m := newTestMutator()
	got := m.sheetExpr(7, false)
	if !strings.Contains(got, `data-domrecid="7"`) {
		t.Fatalf("expected selector referencing id 7, got %q", got)
	}
}

func TestSheetExprAdopted(t *testing.T) {
	m := newTestMutator()
	got := m.sheetExpr(7, true)
	if !strings.Contains(got, "__domrecAdoptedSheets.get(7)") {
		t.Fatalf("expected adopted-map lookup, got %q", got)
	}
}

func TestResolveRuleTextReplacesPlaceholder(t *testing.T) {
	m := newTestMutator()
	out, err := m.resolveRuleText(context.Background(), 1, false, `.a { background: url(asset:3); }`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "asset:3") {
		t.Fatalf("expected placeholder replaced, got %q", out)
	}
	if !strings.Contains(out, "blob:fake/sheet") {
		t.Fatalf("expected synthetic url, got %q", out)
	}
}

func TestResolveRuleTextBindsAssetOnce(t *testing.T) {
	m := newTestMutator()
	if _, err := m.resolveRuleText(context.Background(), 1, false, `.a { background: url(asset:5); }`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := m.assets.State(5); !ok {
		t.Fatalf("expected asset 5 tracked by manager")
	}
}

func TestResolveSheetTextRewritesNestedAtRules(t *testing.T) {
	m := newTestMutator()
	css := `@media (min-width: 100px) { .a { background: url(asset:2); } } .b { color: red; }`
	out, err := m.resolveSheetText(context.Background(), 1, false, css)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "asset:2") {
		t.Fatalf("expected nested placeholder replaced, got %q", out)
	}
	if !strings.Contains(out, "min-width") {
		t.Fatalf("expected media query preserved, got %q", out)
	}
	if !strings.Contains(out, "color") {
		t.Fatalf("expected sibling rule preserved, got %q", out)
	}
}

func TestResolveSheetTextFallsBackOnInvalidCSS(t *testing.T) {
	m := newTestMutator()
	// Not valid CSS, but still carries a placeholder the fallback path
	// must still resolve via opaque substitution.
	out, err := m.resolveSheetText(context.Background(), 1, false, `not { valid css :: url(asset:9)`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "asset:9") {
		t.Fatalf("expected placeholder replaced even on fallback path, got %q", out)
	}
}

func TestBindCSSAssetsDedupesAcrossMultipleTexts(t *testing.T) {
	m := newTestMutator()
	resolved, err := m.bindCSSAssets(context.Background(), 1, false,
		"url(asset:4)", "url(asset:4) url(asset:6)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("expected 2 unique ids resolved, got %d", len(resolved))
	}
	state, ok := m.assets.State(4)
	if !ok || state.String() != "pending" {
		t.Fatalf("expected asset 4 pending, got %v (ok=%v)", state, ok)
	}
}
