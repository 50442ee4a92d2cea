package asset

import (
	"reflect"
	"testing"
)

func TestPlaceholderFormat(t *testing.T) {
	if got := Placeholder(42); got != "asset:42" {
		t.Fatalf("expected asset:42, got %q", got)
	}
}

func TestFindPlaceholdersDeduplicatesInOrder(t *testing.T) {
	ids := FindPlaceholders("asset:3,asset:1,asset:3,asset:2")
	want := []int{3, 1, 2}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
}

func TestFindPlaceholdersNoMatches(t *testing.T) {
	if ids := FindPlaceholders("no tokens here"); ids != nil {
		t.Fatalf("expected nil, got %v", ids)
	}
}

func TestIsAssetAttribute(t *testing.T) {
	for _, name := range []string{"src", "href", "poster", "xlink:href", "data-src", "srcset", "style", "SRC"} {
		if !IsAssetAttribute(name) {
			t.Fatalf("expected %q to be an asset attribute", name)
		}
	}
	if IsAssetAttribute("class") {
		t.Fatalf("expected class to not be an asset attribute")
	}
}

func TestReplaceAttributePlainURL(t *testing.T) {
	out := ReplaceAttribute("src", "asset:1", func(id int) string {
		if id == 1 {
			return "blob:resolved"
		}
		return "?"
	})
	if out != "blob:resolved" {
		t.Fatalf("expected blob:resolved, got %q", out)
	}
}

func TestReplaceAttributeSrcsetPreservesDescriptors(t *testing.T) {
	out := ReplaceAttribute("srcset", "asset:1 1x, asset:2 2x", func(id int) string {
		if id == 1 {
			return "blob:one"
		}
		return "blob:two"
	})
	want := "blob:one 1x, blob:two 2x"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}

func TestReplaceAttributeStyleRewritesCSSURL(t *testing.T) {
	out := ReplaceAttribute("style", `background: url(asset:5)`, func(id int) string {
		return "blob:five"
	})
	want := `background: url(blob:five)`
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}
