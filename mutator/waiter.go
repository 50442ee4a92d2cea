package mutator

import (
	"context"
	"fmt"
	"sync"

	"github.com/hazyhaar/domrec/asset"
)

// attrWaiter is the (element, attribute, assetId) binding site §4.7
// describes. An attribute can reference more than one asset (srcset
// candidates, multiple url(...) in a style attribute), so Rebind can't
// simply overwrite the whole attribute with the new URL — it re-derives
// the value by replacing just its own previous synthetic URL substring
// with the new one, the same "string-replacement of the old synthetic URL
// with the new" rule §4.7 describes for stylesheet text, generalized to
// attributes.
type attrWaiter struct {
	m      *Mutator
	nodeID int
	attr   string

	mu     sync.Mutex
	oldURL string
}

func (w *attrWaiter) Rebind(ctx context.Context, newURL string) error {
	n, ok := w.m.ids.GetByID(w.nodeID)
	if !ok {
		return nil // node was removed before the asset resolved; nothing to rebind
	}
	pn := n.(*playerNode)

	w.mu.Lock()
	oldURL := w.oldURL
	w.mu.Unlock()

	script := fmt.Sprintf(`(name, oldURL, newURL) => {
		const el = %s;
		if (!el) return;
		const current = el.getAttribute(name) || "";
		el.setAttribute(name, current.split(oldURL).join(newURL));
	}`, w.m.locateExpr(pn))
	if _, err := w.m.tab.Page.Context(ctx).Eval(script, w.attr, oldURL, newURL); err != nil {
		return err
	}

	w.mu.Lock()
	w.oldURL = newURL
	w.mu.Unlock()
	return nil
}

var _ asset.Waiter = (*attrWaiter)(nil)
