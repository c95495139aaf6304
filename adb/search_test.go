package adb

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func texts(matches []Match) []string {
	var out []string
	for _, m := range matches {
		out = append(out, m.MatchedValue)
	}
	return out
}

func TestSmartSearchRanking(t *testing.T) {
	elements := []Element{
		{ID: 1, ClassName: "android.widget.TextView", Text: "Not OK", Enabled: true},
		{ID: 2, ClassName: "android.widget.TextView", Text: "OK please", Enabled: true},
		{ID: 3, ClassName: "android.widget.TextView", Text: "OK", Enabled: true},
	}

	got := texts(SmartSearch(elements, "OK"))
	if diff := cmp.Diff([]string{"OK", "OK please", "Not OK"}, got); diff != "" {
		t.Errorf("ranking mismatch (-want +got):\n%s", diff)
	}
}

func TestSmartSearchNonASCIICase(t *testing.T) {
	elements := []Element{
		{ID: 1, ClassName: "android.widget.TextView", Text: "x ok", Enabled: true},
		{ID: 2, ClassName: "android.widget.TextView", Text: "İ OK", Enabled: true},
		{ID: 3, ClassName: "android.widget.TextView", Text: "\u212Aey", Enabled: true},
	}

	matches := SmartSearch(elements, "OK")
	if diff := cmp.Diff([]string{"İ OK", "x ok"}, texts(matches)); diff != "" {
		t.Errorf("ranking mismatch (-want +got):\n%s", diff)
	}
	if matches[0].CaseScore != 2 {
		t.Errorf("CaseScore = %d, want 2", matches[0].CaseScore)
	}

	matches = SmartSearch(elements, "key")
	if len(matches) != 1 || matches[0].Element.ID != 3 || !matches[0].StartsWith {
		t.Errorf("expected Kelvin sign to fold onto k, got %+v", matches)
	}
}

func TestSmartSearchTieBreakers(t *testing.T) {
	elements := []Element{
		{ID: 1, ClassName: "android.widget.TextView", Text: "settings menu", Enabled: true},
		{ID: 2, ClassName: "android.widget.TextView", Text: "Settings", Enabled: true, Clickable: true},
		{ID: 3, ClassName: "android.widget.Button", Text: "settings and more", Enabled: true},
		{ID: 4, ClassName: "android.widget.TextView", Text: "Settings app", Enabled: true},
		{ID: 5, ClassName: "android.widget.TextView", Text: "settings app", Enabled: true},
	}

	got := texts(SmartSearch(elements, "Settings"))
	want := []string{
		"Settings",          // exact
		"settings and more", // starts with, button
		"Settings app",      // starts with, better case, shorter than tied peers
		"settings app",      // starts with, worse case, shorter
		"settings menu",     // starts with, worse case, longer
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ranking mismatch (-want +got):\n%s", diff)
	}
}

func TestSmartSearchMultipleAttributes(t *testing.T) {
	elements := []Element{
		{ID: 1, ClassName: "android.widget.ImageButton", ResourceID: "com.app:id/search_button", ContentDesc: "Search", Clickable: true, Enabled: true},
	}

	matches := SmartSearch(elements, "search")
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %d", len(matches))
	}
	var attrs []string
	for _, a := range matches[0].Attributes {
		attrs = append(attrs, a.Attribute)
	}
	if diff := cmp.Diff([]string{"content_desc", "resource_id"}, attrs); diff != "" {
		t.Errorf("matched attributes mismatch (-want +got):\n%s", diff)
	}
	if !matches[0].ExactMatch || matches[0].MatchedValue != "Search" {
		t.Errorf("expected exact content-desc match, got %+v", matches[0])
	}
	if matches[0].WidgetPriority != 2 {
		t.Errorf("WidgetPriority = %d, want 2", matches[0].WidgetPriority)
	}
}

func TestFindElementsPipeFallback(t *testing.T) {
	elements := []Element{
		{ID: 1, ClassName: "android.widget.Button", Text: "OK", Clickable: true, Enabled: true},
		{ID: 2, ClassName: "android.widget.Button", Text: "Confirm", Clickable: true, Enabled: true},
	}

	res := FindElements(elements, "Accept|OK|Confirm")
	if !res.Found || res.Term != "OK" {
		t.Fatalf("expected OK to win, got %+v", res)
	}
	if len(res.Matches) != 1 || res.Matches[0].Element.ID != 1 {
		t.Errorf("later terms should be ignored once one matches: %+v", res.Matches)
	}

	if res := FindElements(elements, "Accept| |Later"); res.Found {
		t.Errorf("expected no match, got %+v", res)
	}
}

func TestFindElementsXPath(t *testing.T) {
	elements := []Element{
		{ID: 1, Text: "a", XPath: "/android.widget.FrameLayout[1]/android.widget.Button[1]"},
		{ID: 2, Text: "b", XPath: "/android.widget.FrameLayout[1]/android.widget.Button[2]"},
		{ID: 3, Text: "c", XPath: "/android.widget.FrameLayout[1]"},
	}

	res := FindElements(elements, "/android.widget.FrameLayout[1]")
	var ids []int
	for _, m := range res.Matches {
		ids = append(ids, m.Element.ID)
	}
	if diff := cmp.Diff([]int{3, 1, 2}, ids); diff != "" {
		t.Errorf("xpath matches mismatch (-want +got):\n%s", diff)
	}
	if !res.Matches[0].ExactMatch {
		t.Error("exact xpath should come first")
	}
}

func TestIsXPath(t *testing.T) {
	tests := map[string]bool{
		"/android.widget.FrameLayout[1]": true,
		"//node/child":                   true,
		"/a/b":                           true,
		"/search":                        false,
		"OK":                             false,
		"a/b":                            false,
	}
	for term, want := range tests {
		if got := IsXPath(term); got != want {
			t.Errorf("IsXPath(%q) = %v, want %v", term, got, want)
		}
	}
}
