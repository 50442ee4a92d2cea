package asset

import (
	"context"
	"errors"
	"testing"
)

type fakeBlobber struct {
	created int
	revoked int
	fail    bool
}

func (f *fakeBlobber) CreateBlobURL(ctx context.Context, data []byte, mime string) (string, error) {
	if f.fail {
		return "", errors.New("boom")
	}
	f.created++
	if len(data) == 0 {
		return "blob:placeholder", nil
	}
	return "blob:resolved", nil
}

func (f *fakeBlobber) RevokeBlobURL(ctx context.Context, url string) error {
	f.revoked++
	return nil
}

type fakeWaiter struct {
	urls []string
}

func (w *fakeWaiter) Rebind(ctx context.Context, url string) error {
	w.urls = append(w.urls, url)
	return nil
}

func TestBindCreatesPlaceholderThenResolve(t *testing.T) {
	b := &fakeBlobber{}
	m := NewManager(b, nil)
	w := &fakeWaiter{}

	url, err := m.Bind(context.Background(), 1, "https://example.com/a.png", w)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if url != "blob:placeholder" {
		t.Fatalf("expected placeholder url, got %q", url)
	}
	if state, _ := m.State(1); state != StatePending {
		t.Fatalf("expected pending, got %v", state)
	}

	if err := m.Resolve(context.Background(), 1, []byte("pngdata"), "image/png", "https://example.com/a.png"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if state, _ := m.State(1); state != StateResolved {
		t.Fatalf("expected resolved, got %v", state)
	}
	if len(w.urls) != 1 || w.urls[0] != "blob:resolved" {
		t.Fatalf("expected waiter rebound to resolved url, got %v", w.urls)
	}
	if b.revoked != 1 {
		t.Fatalf("expected placeholder revoked once, got %d", b.revoked)
	}
}

func TestBindAfterResolveReturnsResolvedURLDirectly(t *testing.T) {
	b := &fakeBlobber{}
	m := NewManager(b, nil)
	w1 := &fakeWaiter{}
	if _, err := m.Bind(context.Background(), 1, "u", w1); err != nil {
		t.Fatal(err)
	}
	if err := m.Resolve(context.Background(), 1, []byte("x"), "text/plain", "u"); err != nil {
		t.Fatal(err)
	}

	w2 := &fakeWaiter{}
	url, err := m.Bind(context.Background(), 1, "u", w2)
	if err != nil {
		t.Fatal(err)
	}
	if url != "blob:resolved" {
		t.Fatalf("expected resolved url on late bind, got %q", url)
	}
}

func TestResolveFallsBackToOriginalURLOnEmptyBytes(t *testing.T) {
	b := &fakeBlobber{}
	m := NewManager(b, nil)
	w := &fakeWaiter{}
	if _, err := m.Bind(context.Background(), 1, "https://example.com/missing.png", w); err != nil {
		t.Fatal(err)
	}

	if err := m.Resolve(context.Background(), 1, nil, "", "https://example.com/missing.png"); err != nil {
		t.Fatal(err)
	}
	if len(w.urls) != 1 || w.urls[0] != "https://example.com/missing.png" {
		t.Fatalf("expected fallback to original url, got %v", w.urls)
	}
}

func TestReleaseRevokesOnlyAtZeroRefCount(t *testing.T) {
	b := &fakeBlobber{}
	m := NewManager(b, nil)
	w1, w2 := &fakeWaiter{}, &fakeWaiter{}
	if _, err := m.Bind(context.Background(), 1, "u", w1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Bind(context.Background(), 1, "u", w2); err != nil {
		t.Fatal(err)
	}

	if err := m.Release(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if b.revoked != 0 {
		t.Fatalf("expected no revoke yet, refCount still 1, got revoked=%d", b.revoked)
	}

	if err := m.Release(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if b.revoked != 1 {
		t.Fatalf("expected revoke at refCount 0, got revoked=%d", b.revoked)
	}
	if _, ok := m.State(1); ok {
		t.Fatalf("expected entry removed after release")
	}
}

func TestOutstandingTracksLiveEntries(t *testing.T) {
	b := &fakeBlobber{}
	m := NewManager(b, nil)
	if _, err := m.Bind(context.Background(), 1, "u1", &fakeWaiter{}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Bind(context.Background(), 2, "u2", &fakeWaiter{}); err != nil {
		t.Fatal(err)
	}
	if got := len(m.Outstanding()); got != 2 {
		t.Fatalf("expected 2 outstanding, got %d", got)
	}
	if err := m.Release(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if got := len(m.Outstanding()); got != 1 {
		t.Fatalf("expected 1 outstanding after release, got %d", got)
	}
}

func TestBindCreatePlaceholderErrorPropagates(t *testing.T) {
	b := &fakeBlobber{fail: true}
	m := NewManager(b, nil)
	if _, err := m.Bind(context.Background(), 1, "u", &fakeWaiter{}); err == nil {
		t.Fatal("expected error from failing blobber")
	}
}
