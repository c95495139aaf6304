package adb

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// MatchedAttribute records one attribute of an element that contains the term.
type MatchedAttribute struct {
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

// Match is a ranked search hit.
type Match struct {
	Element        Element            `json:"element"`
	Attributes     []MatchedAttribute `json:"matched_attributes"`
	MatchedValue   string             `json:"matched_value"`
	ExactMatch     bool               `json:"exact_match"`
	StartsWith     bool               `json:"starts_with"`
	WidgetPriority int                `json:"widget_priority"`
	CaseScore      int                `json:"case_match_score"`
}

// SearchResult is the outcome of a (possibly pipe-separated) search.
type SearchResult struct {
	Found   bool    `json:"found"`
	Term    string  `json:"term,omitempty"`
	Matches []Match `json:"matches"`
}

// Best returns the top-ranked match.
func (r SearchResult) Best() (Match, bool) {
	if len(r.Matches) == 0 {
		return Match{}, false
	}
	return r.Matches[0], true
}

var widgetClasses = []string{"button", "tab", "switch", "edittext"}

// SplitTerms splits "A|B|C" into its non-empty alternatives.
func SplitTerms(term string) []string {
	var terms []string
	for _, t := range strings.Split(term, "|") {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// IsXPath reports whether a term addresses an element by XPath.
func IsXPath(term string) bool {
	return strings.HasPrefix(term, "/") && (strings.Contains(term[1:], "/") || strings.Contains(term, "["))
}

// FindElements resolves a pipe-separated term against elements. Alternatives
// are tried left to right and the first one with any match wins.
func FindElements(elements []Element, term string) SearchResult {
	for _, t := range SplitTerms(term) {
		var matches []Match
		if IsXPath(t) {
			matches = XPathSearch(elements, t)
		} else {
			matches = SmartSearch(elements, t)
		}
		if len(matches) > 0 {
			return SearchResult{Found: true, Term: t, Matches: matches}
		}
	}
	return SearchResult{}
}

// XPathSearch matches term against computed XPaths. Exact matches come first,
// then substring and prefix matches in document order. No ranking applies.
func XPathSearch(elements []Element, term string) []Match {
	var exact, partial []Match
	for _, el := range elements {
		m := Match{
			Element:      el,
			Attributes:   []MatchedAttribute{{Attribute: "xpath", Value: el.XPath}},
			MatchedValue: el.XPath,
		}
		switch {
		case el.XPath == term:
			m.ExactMatch = true
			exact = append(exact, m)
		case strings.HasPrefix(el.XPath, term), strings.Contains(el.XPath, term):
			partial = append(partial, m)
		}
	}
	return append(exact, partial...)
}

// SmartSearch finds elements whose text, content-desc, resource-id or class
// contains term, case-insensitively, best first. Ranking is by exact match,
// prefix match, widget priority, case agreement, then shorter value.
func SmartSearch(elements []Element, term string) []Match {
	if term == "" {
		return nil
	}
	termRunes := []rune(term)

	var matches []Match
	for _, el := range elements {
		fields := []MatchedAttribute{
			{Attribute: "text", Value: el.Text},
			{Attribute: "content_desc", Value: el.ContentDesc},
			{Attribute: "resource_id", Value: el.ResourceID},
			{Attribute: "class_name", Value: el.ClassName},
		}

		var (
			m     Match
			found bool
		)
		for _, f := range fields {
			value := []rune(f.Value)
			idx := foldIndex(value, termRunes)
			if idx < 0 {
				continue
			}
			m.Attributes = append(m.Attributes, f)

			cand := Match{
				MatchedValue:   f.Value,
				ExactMatch:     strings.EqualFold(f.Value, term),
				StartsWith:     idx == 0,
				WidgetPriority: widgetPriority(el),
				CaseScore:      caseScore(value[idx:], termRunes),
			}
			if !found || less(m, cand) {
				cand.Attributes = m.Attributes
				m = cand
			}
			found = true
		}
		if found {
			m.Element = el
			matches = append(matches, m)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return less(matches[j], matches[i])
	})
	return matches
}

// less reports whether a ranks below b.
func less(a, b Match) bool {
	if a.ExactMatch != b.ExactMatch {
		return b.ExactMatch
	}
	if a.StartsWith != b.StartsWith {
		return b.StartsWith
	}
	if a.WidgetPriority != b.WidgetPriority {
		return a.WidgetPriority < b.WidgetPriority
	}
	if a.CaseScore != b.CaseScore {
		return a.CaseScore < b.CaseScore
	}
	return utf8.RuneCountInString(a.MatchedValue) > utf8.RuneCountInString(b.MatchedValue)
}

func widgetPriority(el Element) int {
	class := strings.ToLower(el.ClassName)
	for _, w := range widgetClasses {
		if strings.Contains(class, w) {
			return 2
		}
	}
	if el.Clickable {
		return 1
	}
	return 0
}

// caseScore counts positions where found and term agree exactly, which for
// a case-insensitive match means the letter case agrees.
func caseScore(found, term []rune) int {
	score := 0
	for i := 0; i < len(term) && i < len(found); i++ {
		if found[i] == term[i] {
			score++
		}
	}
	return score
}

// foldIndex returns the rune offset of the first case-insensitive match of
// term in value, or -1.
func foldIndex(value, term []rune) int {
	for i := 0; i+len(term) <= len(value); i++ {
		if strings.EqualFold(string(value[i:i+len(term)]), string(term)) {
			return i
		}
	}
	return -1
}
