package asset

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Placeholder returns the literal asset:N token for id (§3).
func Placeholder(id int) string {
	return fmt.Sprintf("asset:%d", id)
}

// tokenRe matches an asset:N placeholder token wherever it occurs — inside
// a plain URL attribute, a srcset candidate, or CSS url(...) text. The
// scheme is bespoke to this recording format; no general-purpose URL or
// CSS library parses it, so a small regexp is the appropriate tool here
// rather than hand-rolled character scanning.
var tokenRe = regexp.MustCompile(`asset:(\d+)`)

// FindPlaceholders returns every asset id referenced by s, in order of
// first appearance, without duplicates.
func FindPlaceholders(s string) []int {
	matches := tokenRe.FindAllStringSubmatch(s, -1)
	if matches == nil {
		return nil
	}
	seen := make(map[int]bool, len(matches))
	var ids []int
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// urlAttributes is the set of plain-URL attributes the Inliner rewrites
// and the asset manager resolves (§3's "src, href, poster, xlink:href,
// data-src"). srcset and style are handled by their own syntax below.
var urlAttributes = map[string]bool{
	"src":       true,
	"href":      true,
	"poster":    true,
	"xlink:href": true,
	"data-src":  true,
}

// IsAssetAttribute reports whether name is one of the attributes the
// Inliner scans for asset references.
func IsAssetAttribute(name string) bool {
	return urlAttributes[strings.ToLower(name)] || strings.ToLower(name) == "srcset" || strings.ToLower(name) == "style"
}

// ReplaceAttribute rewrites every asset:N placeholder in an attribute
// value, routing the replacement through resolve. It handles the three
// syntaxes the spec distinguishes (§4.7): plain URL, srcset candidate
// list, and style text with embedded url(...). Plain and srcset values
// never contain CSS syntax, so a single token substitution pass is
// sufficient and leaves descriptors (" 2x", " 800w") untouched.
func ReplaceAttribute(name, value string, resolve func(id int) string) string {
	if strings.EqualFold(name, "style") {
		return ReplaceCSSURLs(value, func(url string) string {
			if id, ok := parsePlaceholder(url); ok {
				return resolve(id)
			}
			return url
		})
	}
	return tokenRe.ReplaceAllStringFunc(value, func(tok string) string {
		id, err := strconv.Atoi(tok[len("asset:"):])
		if err != nil {
			return tok
		}
		return resolve(id)
	})
}

// RewriteSrcset rewrites every candidate URL in a srcset attribute's
// comma-separated list, preserving each candidate's descriptor suffix
// (" 2x", " 800w") untouched. Shared by the Inliner (original absolute
// URLs -> asset:N placeholders) and the recorder's incremental interning
// path (same rewrite, for subtrees the change detector finds later).
func RewriteSrcset(value string, rewrite func(string) string) string {
	candidates := strings.Split(value, ",")
	for i, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		parts := strings.SplitN(c, " ", 2)
		parts[0] = rewrite(parts[0])
		candidates[i] = strings.Join(parts, " ")
	}
	return strings.Join(candidates, ", ")
}

func parsePlaceholder(s string) (int, bool) {
	if !strings.HasPrefix(s, "asset:") {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimPrefix(s, "asset:"))
	if err != nil {
		return 0, false
	}
	return id, true
}
