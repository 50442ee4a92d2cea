package asset

import "sync"

// Pending is the recorder-side intern table: absolute URL -> asset id
// (§2's "PendingAssets"). The Inliner calls Intern for every URL it finds
// and rewrites the source value to Placeholder(id); recorder then emits
// an Asset frame for each newly-interned id as its bytes arrive.
type Pending struct {
	mu    sync.Mutex
	byURL map[string]int
	byID  map[int]string
	next  int
}

// NewPending creates an empty intern table. Ids start at 1.
func NewPending() *Pending {
	return &Pending{
		byURL: make(map[string]int),
		byID:  make(map[int]string),
		next:  1,
	}
}

// Intern returns the id for url, allocating a fresh one if url hasn't been
// seen before in this recording. isNew tells the caller whether this is
// the first time (and therefore whether a fetch + Asset frame is needed).
func (p *Pending) Intern(url string) (id int, isNew bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.byURL[url]; ok {
		return id, false
	}
	id = p.next
	p.next++
	p.byURL[url] = id
	p.byID[id] = url
	return id, true
}

// URL returns the original absolute URL for a previously interned id.
func (p *Pending) URL(id int) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byID[id]
	return u, ok
}

// Len returns the number of distinct URLs interned so far.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}
