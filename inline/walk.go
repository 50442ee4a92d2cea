package inline

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domrec/asset"
	"github.com/hazyhaar/domrec/wire"
)

// walker converts one parsed html.Node subtree into wire.VNode form,
// assigning dense pre-order ids and collecting newly-interned asset
// references as it goes (§4.3).
type walker struct {
	in     *Inliner
	nextID int
	refs   []internedRef
}

func (w *walker) allocID() int {
	id := w.nextID
	w.nextID++
	return id
}

// convert serializes n and its descendants. Declarative shadow root
// templates (<template shadowrootmode="open">) are recognised and their
// content attached as the host element's Shadow rather than as a regular
// child (§4.3's "element carrying a shadow root").
func (w *walker) convert(n *html.Node) wire.VNode {
	id := w.allocID()

	switch n.Type {
	case html.TextNode:
		return wire.VNode{Kind: wire.KindText, ID: id, Data: n.Data}
	case html.CommentNode:
		return wire.VNode{Kind: wire.KindComment, ID: id, Data: n.Data}
	case html.DoctypeNode:
		return wire.VNode{
			Kind:     wire.KindDocumentType,
			ID:       id,
			Name:     n.Data,
			PublicID: attrValue(n, "public"),
			SystemID: attrValue(n, "system"),
		}
	}

	vn := wire.VNode{
		Kind:      wire.KindElement,
		ID:        id,
		Tag:       n.Data,
		Namespace: n.Namespace,
	}

	if len(n.Attr) > 0 {
		vn.Attributes = make(map[string]string, len(n.Attr))
		for _, a := range n.Attr {
			vn.Attributes[a.Key] = w.rewriteAttribute(n, a.Key, a.Val)
		}
	}

	if strings.EqualFold(n.Data, "style") {
		vn.Children = w.convertStyleChildren(n)
	} else {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if host, shadow := w.declarativeShadowHost(n, c); host {
				vn.Shadow = w.convertFragmentChildren(shadow)
				continue
			}
			vn.Children = append(vn.Children, w.convert(c))
		}
	}

	return vn
}

// convertStyleChildren rewrites a <style> element's text content in
// place, scanning for url(...) references, then wraps the rewritten text
// back up as a single text VNode child.
func (w *walker) convertStyleChildren(n *html.Node) []wire.VNode {
	var out []wire.VNode
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.TextNode {
			out = append(out, w.convert(c))
			continue
		}
		out = append(out, wire.VNode{
			Kind: wire.KindText,
			ID:   w.allocID(),
			Data: asset.ReplaceCSSURLs(c.Data, w.internCSSURL),
		})
	}
	return out
}

// declarativeShadowHost reports whether child is a declarative shadow
// root template attached to host, returning its content fragment if so.
func (w *walker) declarativeShadowHost(host, child *html.Node) (bool, *html.Node) {
	if child.Type != html.ElementNode || !strings.EqualFold(child.Data, "template") {
		return false, nil
	}
	if attrValue(child, "shadowrootmode") == "" {
		return false, nil
	}
	return true, child
}

func (w *walker) convertFragmentChildren(n *html.Node) []wire.VNode {
	var out []wire.VNode
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, w.convert(c))
	}
	return out
}

// rewriteAttribute rewrites one attribute's value, routing through the
// syntax appropriate to name: plain URL, comma-separated srcset
// candidates, or style text with embedded url(...) (§4.3, §3).
func (w *walker) rewriteAttribute(n *html.Node, name, value string) string {
	if !asset.IsAssetAttribute(name) {
		return value
	}
	switch strings.ToLower(name) {
	case "style":
		return asset.ReplaceCSSURLs(value, w.internCSSURL)
	case "srcset":
		return asset.RewriteSrcset(value, w.internURL)
	default:
		return w.internURL(value)
	}
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
