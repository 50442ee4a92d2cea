package stylemutate

import (
	"context"
	"fmt"
	"sync"

	"github.com/hazyhaar/domrec/asset"
)

// sheetWaiter is a stylesheet's binding site for one asset referenced from
// its rule text — the sheet-level counterpart to the mutator package's
// attrWaiter. A sheet can reference many assets across many rules, and one
// rule can reference several (multiple url() in a background shorthand),
// so Rebind re-derives the sheet's live text rather than overwriting it:
// it reads every current rule's cssText back from the CSSOM, replaces just
// this waiter's previous synthetic URL substring, and reapplies the whole
// sheet via replaceSync. That mirrors §4.7 point 4's rule for stylesheet
// text directly ("re-derive the sheet text by string-replacement of the
// old synthetic URL with the new one"); attrWaiter generalizes the same
// rule to single attribute values.
type sheetWaiter struct {
	m       *Mutator
	sheetID int
	adopted bool

	mu     sync.Mutex
	oldURL string
}

func (w *sheetWaiter) Rebind(ctx context.Context, newURL string) error {
	w.mu.Lock()
	oldURL := w.oldURL
	w.mu.Unlock()

	script := fmt.Sprintf(`(oldURL, newURL) => {
		const sheet = %s;
		if (!sheet) return false;
		const text = Array.from(sheet.cssRules).map((r) => r.cssText).join("\n");
		sheet.replaceSync(text.split(oldURL).join(newURL));
		return true;
	}`, w.m.sheetExpr(w.sheetID, w.adopted))
	if _, err := w.m.tab.Page.Context(ctx).Eval(script, oldURL, newURL); err != nil {
		return err
	}

	w.mu.Lock()
	w.oldURL = newURL
	w.mu.Unlock()
	return nil
}

var _ asset.Waiter = (*sheetWaiter)(nil)
