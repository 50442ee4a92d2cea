package asset

import "testing"

func TestScanCSSURLsFindsEveryURL(t *testing.T) {
	css := `body { background: url(bg.png); } .icon { background-image: url("icons/x.svg"); }`
	matches := ScanCSSURLs(css)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(matches), matches)
	}
	if matches[0].URL != "bg.png" {
		t.Fatalf("expected bg.png, got %q", matches[0].URL)
	}
	if matches[1].URL != "icons/x.svg" {
		t.Fatalf("expected unquoted icons/x.svg, got %q", matches[1].URL)
	}
}

func TestScanCSSURLsNoMatches(t *testing.T) {
	css := `body { color: red; }`
	if matches := ScanCSSURLs(css); len(matches) != 0 {
		t.Fatalf("expected no matches, got %+v", matches)
	}
}

func TestReplaceCSSURLsRewritesInPlace(t *testing.T) {
	css := `body { background: url(asset:1); } .icon { background-image: url("asset:2"); }`
	out := ReplaceCSSURLs(css, func(url string) string {
		if url == "asset:1" {
			return "blob:one"
		}
		if url == "asset:2" {
			return "blob:two"
		}
		return url
	})
	want := `body { background: url(blob:one); } .icon { background-image: url(blob:two); }`
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}

func TestReplaceCSSURLsNoMatchesReturnsOriginal(t *testing.T) {
	css := `body { color: blue; }`
	if out := ReplaceCSSURLs(css, func(url string) string { return "x" }); out != css {
		t.Fatalf("expected unchanged css, got %q", out)
	}
}
