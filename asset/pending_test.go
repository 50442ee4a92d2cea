package asset

import "testing"

func TestInternAssignsSequentialIDsStartingAtOne(t *testing.T) {
	p := NewPending()
	id1, isNew1 := p.Intern("https://example.com/a.png")
	if !isNew1 || id1 != 1 {
		t.Fatalf("expected (1, true), got (%d, %v)", id1, isNew1)
	}
	id2, isNew2 := p.Intern("https://example.com/b.png")
	if !isNew2 || id2 != 2 {
		t.Fatalf("expected (2, true), got (%d, %v)", id2, isNew2)
	}
}

func TestInternIsIdempotentPerURL(t *testing.T) {
	p := NewPending()
	id1, _ := p.Intern("https://example.com/a.png")
	id2, isNew := p.Intern("https://example.com/a.png")
	if isNew {
		t.Fatalf("expected second intern of same url to report isNew=false")
	}
	if id1 != id2 {
		t.Fatalf("expected same id for repeated url, got %d vs %d", id1, id2)
	}
}

func TestURLLooksUpByID(t *testing.T) {
	p := NewPending()
	id, _ := p.Intern("https://example.com/a.png")
	url, ok := p.URL(id)
	if !ok || url != "https://example.com/a.png" {
		t.Fatalf("expected reverse lookup to succeed, got (%q, %v)", url, ok)
	}
	if _, ok := p.URL(999); ok {
		t.Fatalf("expected lookup of unknown id to fail")
	}
}

func TestLenCountsDistinctURLs(t *testing.T) {
	p := NewPending()
	p.Intern("https://example.com/a.png")
	p.Intern("https://example.com/b.png")
	p.Intern("https://example.com/a.png")
	if p.Len() != 2 {
		t.Fatalf("expected 2 distinct urls, got %d", p.Len())
	}
}
