package asset

import (
	"strings"

	"github.com/gorilla/css/scanner"
)

// CSSURLMatch is one url(...) production found in a stylesheet or
// style-element text.
type CSSURLMatch struct {
	// URL is the unquoted, unwrapped contents of the url(...) production.
	URL string
	// Start/End bound the full "url(...)" production's raw text, for
	// string-splicing a replacement in place.
	Start, End int
}

// ScanCSSURLs tokenizes css and returns every url(...) production's
// location and unwrapped contents. Used by the Inliner to find absolute
// URLs to intern, and by the asset manager to find asset:N placeholders
// to re-resolve after a sheet-replace.
func ScanCSSURLs(css string) []CSSURLMatch {
	var out []CSSURLMatch
	s := scanner.New(css)
	pos := 0
	for {
		tok := s.Next()
		if tok.Type == scanner.TokenEOF || tok.Type == scanner.TokenError {
			break
		}
		if tok.Type == scanner.TokenURI {
			start := strings.Index(css[pos:], tok.Value)
			if start < 0 {
				pos += len(tok.Value)
				continue
			}
			start += pos
			end := start + len(tok.Value)
			out = append(out, CSSURLMatch{
				URL:   unwrapURI(tok.Value),
				Start: start,
				End:   end,
			})
			pos = end
		} else {
			pos += len(tok.Value)
		}
	}
	return out
}

// unwrapURI strips the "url(" / ")" wrapper and any quotes from a
// TokenURI's raw value.
func unwrapURI(raw string) string {
	v := strings.TrimSpace(raw)
	v = strings.TrimPrefix(v, "url(")
	v = strings.TrimSuffix(v, ")")
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			v = v[1 : len(v)-1]
		}
	}
	return v
}

// ReplaceCSSURLs rewrites every url(...) production in css, passing each
// unwrapped URL to replace and substituting its return value back inside
// an unquoted url(...) wrapper. Productions replace returns unchanged for
// (by returning the same string) are still re-wrapped verbatim.
func ReplaceCSSURLs(css string, replace func(url string) string) string {
	matches := ScanCSSURLs(css)
	if len(matches) == 0 {
		return css
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(css[last:m.Start])
		b.WriteString("url(")
		b.WriteString(replace(m.URL))
		b.WriteString(")")
		last = m.End
	}
	b.WriteString(css[last:])
	return b.String()
}
