// Package driver implements the Driver Adapter (C1): a uniform,
// operation-oriented API over one live browser session, backed by go-rod's
// CDP client. This file only parses a raw selector string; it holds no
// state and reloads no external pattern file.
package driver

import "strings"

// SelectorKind identifies which lookup strategy a parsed Selector uses.
type SelectorKind int

const (
	KindCSS SelectorKind = iota
	KindXPath
	KindID
	KindClass
	KindName
	KindTag
)

// Selector is the result of parsing a raw selector string per spec.md §4.1.
type Selector struct {
	Kind  SelectorKind
	Value string
}

// knownTags is the closed set of bare tag names the grammar recognizes;
// anything else bare falls through to CSS.
var knownTags = map[string]bool{
	"a": true, "button": true, "div": true, "span": true, "input": true,
	"select": true, "textarea": true, "img": true, "p": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "li": true, "table": true, "tr": true, "td": true, "th": true,
	"form": true, "label": true,
}

// ParseSelector implements the selector grammar from spec.md §4.1:
//
//   - leading "//" or "/"             -> XPath
//   - leading "#"                      -> by id
//   - leading "." with no space/"."    -> by class name
//   - "name=X"                         -> by name attribute
//   - bare tag from the closed set     -> by tag
//   - otherwise                        -> CSS selector
func ParseSelector(raw string) Selector {
	switch {
	case strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/"):
		return Selector{Kind: KindXPath, Value: raw}
	case strings.HasPrefix(raw, "#"):
		return Selector{Kind: KindID, Value: strings.TrimPrefix(raw, "#")}
	case strings.HasPrefix(raw, ".") && isBareClassToken(raw):
		return Selector{Kind: KindClass, Value: strings.TrimPrefix(raw, ".")}
	case strings.HasPrefix(raw, "name="):
		return Selector{Kind: KindName, Value: strings.TrimPrefix(raw, "name=")}
	case knownTags[strings.ToLower(raw)]:
		return Selector{Kind: KindTag, Value: strings.ToLower(raw)}
	default:
		return Selector{Kind: KindCSS, Value: raw}
	}
}

// isBareClassToken reports whether raw is ".foo" with no additional space or
// "." after the leading one -- spec.md's "no space or further '.'" condition
// for treating it as a bare class name rather than falling through to CSS.
func isBareClassToken(raw string) bool {
	rest := raw[1:]
	if rest == "" {
		return false
	}
	return !strings.ContainsAny(rest, " .")
}
