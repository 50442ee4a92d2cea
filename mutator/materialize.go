package mutator

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/domrec/asset"
	"github.com/hazyhaar/domrec/wire"
)

var attrEscaper = strings.NewReplacer(`&`, "&amp;", `"`, "&quot;", `<`, "&lt;", `>`, "&gt;")
var textEscaper = strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;")

// materialize serializes a wire.VNode subtree to an HTML fragment, binding
// every asset:N placeholder it finds along the way through the asset
// manager (§4.6's "materialize the virtual node as a real subtree via the
// asset manager, which replaces placeholders at attribute-set time"). It
// also builds the corresponding playerNode mirror, recording which asset
// ids each element ends up bound to so a later remove can release them.
func (m *Mutator) materialize(ctx context.Context, v wire.VNode) (string, *playerNode, error) {
	n := &playerNode{id: v.ID, kind: v.Kind}

	switch v.Kind {
	case wire.KindText:
		return textEscaper.Replace(v.Data), n, nil
	case wire.KindComment:
		return "<!--" + strings.ReplaceAll(v.Data, "--", "- -") + "-->", n, nil
	case wire.KindCData:
		return "<!--[CDATA[" + strings.ReplaceAll(v.Data, "]]", "] ]") + "]]-->", n, nil
	case wire.KindProcessingInstruction:
		return fmt.Sprintf("<?%s %s?>", v.Target, v.Data), n, nil
	case wire.KindDocumentType:
		return fmt.Sprintf("<!DOCTYPE %s>", v.Name), n, nil
	}

	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(v.Tag)
	fmt.Fprintf(&b, ` %s="%d"`, internalIDAttr, v.ID)

	for name, value := range v.Attributes {
		resolved, boundIDs, err := m.resolveAttribute(ctx, v.ID, name, value)
		if err != nil {
			return "", nil, fmt.Errorf("mutator: resolve attribute %q: %w", name, err)
		}
		n.assets = append(n.assets, boundIDs...)
		fmt.Fprintf(&b, ` %s="%s"`, name, attrEscaper.Replace(resolved))
	}
	b.WriteByte('>')

	if len(v.Shadow) > 0 {
		shadowHTML, err := m.materializeFragment(ctx, v.Shadow)
		if err != nil {
			return "", nil, fmt.Errorf("mutator: materialize shadow root: %w", err)
		}
		b.WriteString(`<template shadowrootmode="open">`)
		b.WriteString(shadowHTML)
		b.WriteString(`</template>`)
	}

	for _, c := range v.Children {
		childHTML, child, err := m.materialize(ctx, c)
		if err != nil {
			return "", nil, err
		}
		child.parent = n
		n.children = append(n.children, child)
		b.WriteString(childHTML)
	}

	if !voidElements[strings.ToLower(v.Tag)] {
		b.WriteString("</")
		b.WriteString(v.Tag)
		b.WriteByte('>')
	}
	return b.String(), n, nil
}

// materializeFragment serializes a shadow root's content to HTML, binding
// asset placeholders the same way the host tree does. The resulting
// nodes are rendered for visual fidelity only: they're not folded into
// the playerNode mirror, since the detector never tracks mutations
// inside a shadow tree either (§4.3's declarative-shadow capture has no
// live counterpart) — there is nothing for a later Apply to locate.
func (m *Mutator) materializeFragment(ctx context.Context, nodes []wire.VNode) (string, error) {
	var b strings.Builder
	for _, c := range nodes {
		childHTML, _, err := m.materialize(ctx, c)
		if err != nil {
			return "", err
		}
		b.WriteString(childHTML)
	}
	return b.String(), nil
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// resolveAttribute binds every asset:N placeholder in value to its current
// synthetic URL via the asset manager, registering an attrWaiter so the
// attribute is rewritten in place whenever that asset later resolves.
// Returns the rewritten value and the asset ids it ended up bound to.
func (m *Mutator) resolveAttribute(ctx context.Context, nodeID int, name, value string) (string, []int, error) {
	ids := asset.FindPlaceholders(value)
	if len(ids) == 0 {
		return value, nil, nil
	}

	resolvedByID := make(map[int]string, len(ids))
	for _, id := range ids {
		w := &attrWaiter{m: m, nodeID: nodeID, attr: name}
		url, err := m.assets.Bind(ctx, id, "", w)
		if err != nil {
			return "", nil, err
		}
		w.oldURL = url
		resolvedByID[id] = url
	}

	out := asset.ReplaceAttribute(name, value, func(id int) string {
		if url, ok := resolvedByID[id]; ok {
			return url
		}
		return asset.Placeholder(id)
	})
	return out, ids, nil
}
