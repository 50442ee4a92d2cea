// Package stylemutate implements the StyleSheetMutator (§4.8): the
// player-side counterpart to styletrack, applying recorded stylesheet
// events (rule insert/delete, full-sheet replace, adopted-sheet
// create/remove/reorder) against a live tab's CSSOM.
package stylemutate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/domrec/asset"
	"github.com/hazyhaar/domrec/domtab"
	"github.com/hazyhaar/domrec/wire"
)

// Config tunes the owner-backed sheet lookup's retry budget (§4.8's
// "lookup with backoff").
type Config struct {
	Logger        *slog.Logger  `yaml:"-"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	MaxTotal      time.Duration `yaml:"max_total"`
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 50
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = 10 * time.Millisecond
	}
	if c.MaxTotal == 0 {
		c.MaxTotal = 5 * time.Second
	}
	return c
}

// Mutator applies StyleSheetChanged frames to one target tab. Adopted
// (constructed) sheets are tracked in a page-side map keyed by sheetId,
// since — unlike owner-backed sheets — there is no DOM attribute to
// rediscover them by; owner-backed sheets are found the same way the
// mutator package finds any node, through the data-domrecid convention.
type Mutator struct {
	tab    *domtab.Tab
	assets *asset.Manager
	cfg    Config
}

// New creates a Mutator bound to one target tab and its asset manager.
func New(tab *domtab.Tab, assets *asset.Manager, cfg Config) *Mutator {
	return &Mutator{tab: tab, assets: assets, cfg: cfg.withDefaults()}
}

// Start installs the page-side adopted-sheet registry. Call once before
// the first Apply.
func (m *Mutator) Start(ctx context.Context) error {
	_, err := m.tab.Page.Context(ctx).Eval(`() => {
		window.__domrecAdoptedSheets = window.__domrecAdoptedSheets || new Map();
	}`)
	if err != nil {
		return fmt.Errorf("stylemutate: start: %w", err)
	}
	return nil
}

// Apply applies one stylesheet op. Failures are the caller's to log —
// §7 treats a stylesheet-mutator failure as non-fatal to the session.
func (m *Mutator) Apply(ctx context.Context, op wire.SheetOp) error {
	switch op.Kind {
	case wire.SheetRulesInsert:
		return m.insertRule(ctx, op)
	case wire.SheetRulesDelete:
		return m.deleteRule(ctx, op)
	case wire.SheetReplace:
		return m.replaceSheet(ctx, op)
	case wire.SheetAdded:
		return m.sheetAdded(ctx, op)
	case wire.SheetRemoved:
		return m.sheetRemoved(ctx, op)
	case wire.SheetAdoptedListChanged:
		return m.adoptedListChanged(ctx, op)
	default:
		return fmt.Errorf("stylemutate: unknown sheet op kind %d", op.Kind)
	}
}

// sheetExpr returns a JS expression yielding the live CSSStyleSheet
// object for id, or null/undefined if it can't be found yet. No existence
// check is performed here — callers that need the retry-with-backoff
// behavior wrap this in withOwnerSheet.
func (m *Mutator) sheetExpr(sheetID int, adopted bool) string {
	if adopted {
		return fmt.Sprintf(`window.__domrecAdoptedSheets.get(%d)`, sheetID)
	}
	return fmt.Sprintf(`(() => { const el = document.querySelector('[data-domrecid="%d"]'); return el && el.sheet; })()`, sheetID)
}

// withOwnerSheet runs script, which must resolve the owner-backed sheet
// and return true on success or false if the sheet isn't there yet,
// retrying on false up to the configured budget (§4.8). Adopted sheets
// never need this: they're created synchronously by sheetAdded before any
// rule op against them can be emitted, so the map lookup is immediate.
func (m *Mutator) withOwnerSheet(ctx context.Context, ownerID int, script string, args ...interface{}) error {
	deadline := time.Now().Add(m.cfg.MaxTotal)
	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		res, err := m.tab.Page.Context(ctx).Eval(script, args...)
		if err != nil {
			return fmt.Errorf("stylemutate: %w", err)
		}
		if res.Value.Bool() {
			return nil
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.RetryInterval):
		}
	}

	diag := m.diagnose(ctx, ownerID)
	return fmt.Errorf("%w: owner %d: %s", ErrSheetNotFound, ownerID, diag)
}

type diagnostic struct {
	OwnerExists  bool  `json:"ownerExists"`
	OwnerIDs     []int `json:"ownerIds"`
	OwnedCount   int   `json:"ownedCount"`
	AdoptedCount int   `json:"adoptedCount"`
}

// diagnose builds the failure report §4.8 and §7 require when backoff is
// exhausted: whether the owner node exists, the owner-ids of every
// document-level sheet, and owned-vs-adopted counts.
func (m *Mutator) diagnose(ctx context.Context, ownerID int) string {
	script := fmt.Sprintf(`() => {
		const owner = document.querySelector('[data-domrecid="%d"]');
		const ownerIds = Array.from(document.styleSheets)
			.map((s) => s.ownerNode && s.ownerNode.getAttribute("data-domrecid"))
			.filter(Boolean)
			.map(Number);
		return JSON.stringify({
			ownerExists: !!owner,
			ownerIds: ownerIds,
			ownedCount: document.styleSheets.length,
			adoptedCount: (window.__domrecAdoptedSheets || new Map()).size,
		});
	}`, ownerID)

	res, err := m.tab.Page.Context(ctx).Eval(script)
	if err != nil {
		return fmt.Sprintf("diagnostics unavailable: %v", err)
	}
	var d diagnostic
	if err := json.Unmarshal([]byte(res.Value.Str()), &d); err != nil {
		return fmt.Sprintf("diagnostics unparseable: %v", err)
	}
	return fmt.Sprintf("ownerExists=%v ownerIds=%v ownedSheets=%d adoptedSheets=%d",
		d.OwnerExists, d.OwnerIDs, d.OwnedCount, d.AdoptedCount)
}

func (m *Mutator) insertRule(ctx context.Context, op wire.SheetOp) error {
	rule, err := m.resolveRuleText(ctx, op.SheetID, op.Adopted, op.Rule)
	if err != nil {
		return fmt.Errorf("stylemutate: resolve rule: %w", err)
	}

	if op.Adopted {
		script := fmt.Sprintf(`(rule, index) => {
			const sheet = %s;
			if (!sheet) return false;
			try { sheet.insertRule(rule, index); } catch (e) {}
			return true;
		}`, m.sheetExpr(op.SheetID, true))
		_, err := m.tab.Page.Context(ctx).Eval(script, rule, op.Index)
		return err
	}

	script := fmt.Sprintf(`(rule, index) => {
		const el = document.querySelector('[data-domrecid="%d"]');
		const sheet = el && el.sheet;
		if (!sheet) return false;
		try { sheet.insertRule(rule, index); } catch (e) {}
		return true;
	}`, op.SheetID)
	return m.withOwnerSheet(ctx, op.SheetID, script, rule, op.Index)
}

func (m *Mutator) deleteRule(ctx context.Context, op wire.SheetOp) error {
	if op.Adopted {
		script := fmt.Sprintf(`(index) => {
			const sheet = %s;
			if (!sheet) return false;
			try { sheet.deleteRule(index); } catch (e) {}
			return true;
		}`, m.sheetExpr(op.SheetID, true))
		_, err := m.tab.Page.Context(ctx).Eval(script, op.Index)
		return err
	}

	script := fmt.Sprintf(`(index) => {
		const el = document.querySelector('[data-domrecid="%d"]');
		const sheet = el && el.sheet;
		if (!sheet) return false;
		try { sheet.deleteRule(index); } catch (e) {}
		return true;
	}`, op.SheetID)
	return m.withOwnerSheet(ctx, op.SheetID, script, op.Index)
}

func (m *Mutator) replaceSheet(ctx context.Context, op wire.SheetOp) error {
	text, err := m.resolveSheetText(ctx, op.SheetID, op.Adopted, op.Text)
	if err != nil {
		return fmt.Errorf("stylemutate: resolve sheet text: %w", err)
	}

	if op.Adopted {
		script := fmt.Sprintf(`(text) => {
			const sheet = %s;
			if (!sheet) return false;
			sheet.replaceSync(text);
			return true;
		}`, m.sheetExpr(op.SheetID, true))
		_, err := m.tab.Page.Context(ctx).Eval(script, text)
		return err
	}

	script := fmt.Sprintf(`(text) => {
		const el = document.querySelector('[data-domrecid="%d"]');
		const sheet = el && el.sheet;
		if (!sheet) return false;
		sheet.replaceSync(text);
		return true;
	}`, op.SheetID)
	return m.withOwnerSheet(ctx, op.SheetID, script, text)
}

// sheetAdded materializes a newly-adopted (constructed) sheet. Owner-backed
// sheets never reach this path — they come into being as a side effect of
// inserting their owning <style>/<link> element (handled by the mutator
// package), not through an explicit creation event.
func (m *Mutator) sheetAdded(ctx context.Context, op wire.SheetOp) error {
	text, err := m.resolveSheetText(ctx, op.SheetID, true, op.Text)
	if err != nil {
		return fmt.Errorf("stylemutate: resolve added sheet text: %w", err)
	}
	script := `(id, text) => {
		const sheet = new CSSStyleSheet();
		sheet.replaceSync(text);
		window.__domrecAdoptedSheets.set(id, sheet);
	}`
	_, err = m.tab.Page.Context(ctx).Eval(script, op.SheetID, text)
	return err
}

func (m *Mutator) sheetRemoved(ctx context.Context, op wire.SheetOp) error {
	script := `(id) => { window.__domrecAdoptedSheets.delete(id); }`
	_, err := m.tab.Page.Context(ctx).Eval(script, op.SheetID)
	return err
}

// adoptedListChanged replaces a root's (document's or a shadow root's)
// adoptedStyleSheets list with the sheets named by op.SheetIDs, in order.
// op.DocumentOrRootID names the document's documentElement for the
// top-level document, or a shadow host element for a shadow root — the
// same convention styletrack's JS uses to report rootId (§4.5).
func (m *Mutator) adoptedListChanged(ctx context.Context, op wire.SheetOp) error {
	script := fmt.Sprintf(`(ids) => {
		const owner = document.querySelector('[data-domrecid="%d"]');
		if (!owner) return;
		const target = owner === document.documentElement ? document : owner.shadowRoot;
		if (!target) return;
		target.adoptedStyleSheets = ids
			.map((id) => window.__domrecAdoptedSheets.get(id))
			.filter(Boolean);
	}`, op.DocumentOrRootID)
	_, err := m.tab.Page.Context(ctx).Eval(script, op.SheetIDs)
	return err
}
