package stylemutate

import (
	"context"

	"github.com/aymerick/douceur/parser"
	douceurcss "github.com/aymerick/douceur/css"

	"github.com/hazyhaar/domrec/asset"
)

// bindCSSAssets finds every asset:N placeholder across texts, binds each
// one exactly once against a fresh sheetWaiter, and returns the resolved
// synthetic URL for each id. Binding once per unique id (rather than once
// per occurrence) keeps the asset manager's refcount meaningful — the
// same pattern mutator's resolveAttribute uses for a single attribute
// value, extended here across every declaration in a sheet.
func (m *Mutator) bindCSSAssets(ctx context.Context, sheetID int, adopted bool, texts ...string) (map[int]string, error) {
	seen := make(map[int]bool)
	var ids []int
	for _, t := range texts {
		for _, id := range asset.FindPlaceholders(t) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	resolved := make(map[int]string, len(ids))
	for _, id := range ids {
		w := &sheetWaiter{m: m, sheetID: sheetID, adopted: adopted}
		url, err := m.assets.Bind(ctx, id, "", w)
		if err != nil {
			return nil, err
		}
		w.oldURL = url
		resolved[id] = url
	}
	return resolved, nil
}

// resolveRuleText resolves asset placeholders in one insertRule production.
// A single rule is small and common (the player applies these far more
// often than full-sheet replacements), so a direct token substitution
// pass — the same gorilla/css/scanner-backed helper the asset package
// already uses for attribute and style text — is the right tool; there's
// no structural rewrite to perform on a single rule.
func (m *Mutator) resolveRuleText(ctx context.Context, sheetID int, adopted bool, rule string) (string, error) {
	resolved, err := m.bindCSSAssets(ctx, sheetID, adopted, rule)
	if err != nil {
		return "", err
	}
	return asset.ReplaceAttribute("style", rule, func(id int) string {
		if url, ok := resolved[id]; ok {
			return url
		}
		return asset.Placeholder(id)
	}), nil
}

// resolveSheetText resolves asset placeholders across an entire
// replacement stylesheet (sheet-replace, sheet-added). Unlike a single
// rule, a full sheet can carry nested at-rules (@media, @supports) that
// each hold their own declarations several levels deep — parsing the
// sheet's structure with douceur and walking every declaration's value
// is more robust than scanning the raw text for url(...) once, since a
// plain substitution pass has no notion of where one rule's text ends
// and the next begins and would happily rewrite a url() sitting inside a
// string literal or a comment. If the text doesn't parse as valid CSS
// (the source page fed the tracker something non-standard), the rewrite
// falls back to the same opaque substitution resolveRuleText uses.
func (m *Mutator) resolveSheetText(ctx context.Context, sheetID int, adopted bool, text string) (string, error) {
	sheet, err := parser.Parse(text)
	if err != nil {
		return m.resolveRuleText(ctx, sheetID, adopted, text)
	}

	values := collectDeclarationValues(sheet.Rules)
	resolved, err := m.bindCSSAssets(ctx, sheetID, adopted, values...)
	if err != nil {
		return "", err
	}

	rewriteDeclarations(sheet.Rules, resolved)
	return sheet.String(), nil
}

func collectDeclarationValues(rules []*douceurcss.Rule) []string {
	var out []string
	for _, r := range rules {
		for _, d := range r.Declarations {
			out = append(out, d.Value)
		}
		if len(r.Rules) > 0 {
			out = append(out, collectDeclarationValues(r.Rules)...)
		}
	}
	return out
}

func rewriteDeclarations(rules []*douceurcss.Rule, resolved map[int]string) {
	for _, r := range rules {
		for _, d := range r.Declarations {
			d.Value = asset.ReplaceAttribute("style", d.Value, func(id int) string {
				if url, ok := resolved[id]; ok {
					return url
				}
				return asset.Placeholder(id)
			})
		}
		if len(r.Rules) > 0 {
			rewriteDeclarations(r.Rules, resolved)
		}
	}
}
