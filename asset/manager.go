// Package asset implements the two halves of the recording's asset
// indirection layer (§2, §4.7): Pending, the recorder-side URL->id intern
// table, and Manager, the player-side per-asset state machine that binds
// asset:N placeholders to synthetic in-memory URLs and reference-counts
// them for cleanup.
package asset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// State is an asset's position in the player-side lifecycle (§4.7).
type State int

const (
	StateUnresolved State = iota
	StatePending
	StateResolved
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Waiter is a binding site: either (element, attribute) or (sheet,
// nested-asset-set). It is re-invoked with the current synthetic URL
// whenever the asset it's bound to changes URL (placeholder creation,
// resolve, or fallback).
type Waiter interface {
	Rebind(ctx context.Context, url string) error
}

// Blobber creates and revokes the synthetic in-memory URLs backing
// unresolved placeholders and resolved assets. domtab.Tab implements this
// over a live Chrome tab via Page.Eval and URL.createObjectURL.
type Blobber interface {
	CreateBlobURL(ctx context.Context, bytes []byte, mime string) (string, error)
	RevokeBlobURL(ctx context.Context, url string) error
}

type entry struct {
	state          State
	placeholderURL string
	resolvedURL    string
	originalURL    string
	bytes          []byte
	mime           string
	waiters        []Waiter
	refCount       int
}

// Manager is the player-side asset-manager (§4.7). One Manager serves an
// entire playback session.
type Manager struct {
	mu      sync.Mutex
	blobber Blobber
	logger  *slog.Logger
	entries map[int]*entry
}

// NewManager creates a Manager bound to a live tab's blob-URL capability.
func NewManager(blobber Blobber, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		blobber: blobber,
		logger:  logger,
		entries: make(map[int]*entry),
	}
}

// Bind registers w as a waiter on asset id, incrementing its refCount, and
// returns the synthetic URL currently bound to it — a placeholder if the
// asset hasn't resolved yet, or the real content URL if it has.
func (m *Manager) Bind(ctx context.Context, id int, originalURL string, w Waiter) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		e = &entry{state: StateUnresolved, originalURL: originalURL}
		m.entries[id] = e
	}
	e.refCount++
	e.waiters = append(e.waiters, w)

	switch e.state {
	case StateResolved:
		return e.resolvedURL, nil
	case StateUnresolved:
		url, err := m.blobber.CreateBlobURL(ctx, nil, "application/octet-stream")
		if err != nil {
			return "", fmt.Errorf("asset: create placeholder url for %d: %w", id, err)
		}
		e.placeholderURL = url
		e.state = StatePending
		return url, nil
	default: // StatePending
		return e.placeholderURL, nil
	}
}

// Resolve delivers an asset's bytes (an Asset frame). Empty bytes signal a
// fetch failure: the manager falls back to the original URL and every
// waiter is rebound to it directly, per §4.7's fallback rule.
func (m *Manager) Resolve(ctx context.Context, id int, bytes []byte, mime, originalURL string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		e = &entry{state: StateUnresolved, originalURL: originalURL}
		m.entries[id] = e
	}
	oldPlaceholder := e.placeholderURL
	waiters := append([]Waiter(nil), e.waiters...)
	m.mu.Unlock()

	var newURL string
	if len(bytes) == 0 {
		newURL = originalURL
		if newURL == "" {
			newURL = e.originalURL
		}
	} else {
		url, err := m.blobber.CreateBlobURL(ctx, bytes, mime)
		if err != nil {
			return fmt.Errorf("asset: create resolved url for %d: %w", id, err)
		}
		newURL = url
	}

	m.mu.Lock()
	e.state = StateResolved
	e.resolvedURL = newURL
	e.bytes = bytes
	e.mime = mime
	m.mu.Unlock()

	for _, w := range waiters {
		if err := w.Rebind(ctx, newURL); err != nil {
			m.logger.Warn("asset: rebind failed", "assetId", id, "error", err)
		}
	}

	if oldPlaceholder != "" && oldPlaceholder != newURL {
		if err := m.blobber.RevokeBlobURL(ctx, oldPlaceholder); err != nil {
			m.logger.Warn("asset: revoke placeholder failed", "assetId", id, "error", err)
		}
	}
	return nil
}

// Release decrements id's refCount. At zero, the resolved synthetic URL
// (if any) is revoked and the entry transitions to released.
func (m *Manager) Release(ctx context.Context, id int) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	e.refCount--
	if e.refCount > 0 {
		m.mu.Unlock()
		return nil
	}
	url := e.resolvedURL
	if url == "" {
		url = e.placeholderURL
	}
	e.state = StateReleased
	delete(m.entries, id)
	m.mu.Unlock()

	if url == "" {
		return nil
	}
	if err := m.blobber.RevokeBlobURL(ctx, url); err != nil {
		return fmt.Errorf("asset: revoke %d: %w", id, err)
	}
	return nil
}

// State reports an asset's current lifecycle state, mostly for tests and
// diagnostics.
func (m *Manager) State(id int) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return StateUnresolved, false
	}
	return e.state, true
}

// Outstanding returns the ids still holding a live synthetic URL — used
// by the player's teardown path to assert the ref-count-soundness
// property (§8: every created URL must eventually be revoked).
func (m *Manager) Outstanding() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	return ids
}
