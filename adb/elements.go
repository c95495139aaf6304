package adb

import (
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/angelstreet/virtualpytest-sub004/logging"
)

// ErrElementNotFound is returned when no element matches a search term or id.
var ErrElementNotFound = errors.New("element not found")

// ErrMalformedBounds is returned for bounds that are not "[x1,y1][x2,y2]".
var ErrMalformedBounds = errors.New("malformed bounds")

// Element is one usable node of a UI dump. IDs are assigned per dump and are
// not stable across dumps; XPath is.
type Element struct {
	ID          int    `json:"id"`
	ClassName   string `json:"class_name"`
	Text        string `json:"text"`
	ResourceID  string `json:"resource_id"`
	ContentDesc string `json:"content_desc"`
	Package     string `json:"package,omitempty"`
	Bounds      string `json:"bounds"`
	Clickable   bool   `json:"clickable"`
	Enabled     bool   `json:"enabled"`
	XPath       string `json:"xpath"`
}

// Rect is a parsed bounds string.
type Rect struct {
	X1, Y1, X2, Y2 int
}

// Width of the rectangle.
func (r Rect) Width() int { return r.X2 - r.X1 }

// Height of the rectangle.
func (r Rect) Height() int { return r.Y2 - r.Y1 }

// Center returns the midpoint.
func (r Rect) Center() (int, int) {
	return (r.X1 + r.X2) / 2, (r.Y1 + r.Y2) / 2
}

var boundsRe = regexp.MustCompile(`^\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]$`)

// ParseBounds parses "[x1,y1][x2,y2]".
func ParseBounds(bounds string) (Rect, error) {
	m := boundsRe.FindStringSubmatch(strings.TrimSpace(bounds))
	if m == nil {
		return Rect{}, fmt.Errorf("%w %q", ErrMalformedBounds, bounds)
	}
	var v [4]int
	for i := range v {
		v[i], _ = strconv.Atoi(m[i+1])
	}
	return Rect{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, nil
}

// Center returns the tap point of the element.
func (e Element) Center() (int, int, error) {
	r, err := ParseBounds(e.Bounds)
	if err != nil {
		return 0, 0, err
	}
	x, y := r.Center()
	return x, y, nil
}

// FilterOptions are the size thresholds for layout containers. Clickable
// layouts without a label are dropped when either side is below MinSize or
// when they exceed MaxWidth x MaxHeight.
type FilterOptions struct {
	MinSize   int
	MaxWidth  int
	MaxHeight int
}

// DefaultFilterOptions returns the thresholds tuned for 1080p phones and TVs.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{MinSize: 20, MaxWidth: 900, MaxHeight: 1500}
}

func (o FilterOptions) withDefaults() FilterOptions {
	d := DefaultFilterOptions()
	if o.MinSize <= 0 {
		o.MinSize = d.MinSize
	}
	if o.MaxWidth <= 0 {
		o.MaxWidth = d.MaxWidth
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = d.MaxHeight
	}
	return o
}

var scrollContainers = []string{
	"ViewPager", "RecyclerView", "AbsListView", "ListView", "GridView", "ScrollView", "ComposeView",
}

var layoutContainers = []string{
	"FrameLayout", "LinearLayout", "RelativeLayout", "ConstraintLayout", "ViewGroup",
}

// rawNode is a parsed <node> before filtering.
type rawNode struct {
	attrs map[string]string
	xpath string
}

// ParseElements turns a UI dump into filtered elements. Malformed XML falls
// back to a tolerant tokenizer.
func ParseElements(dump string, opts FilterOptions) ([]Element, error) {
	dump = trimDump(dump)
	if dump == "" {
		return nil, fmt.Errorf("empty UI dump")
	}

	nodes, err := parseStrict(dump)
	if err != nil {
		logging.Warn("adb").Err(err).Msg("Strict XML parse failed, using fallback parser")
		nodes = parseLoose(dump)
		if len(nodes) == 0 {
			return nil, fmt.Errorf("no nodes found in UI dump: %w", err)
		}
	}

	opts = opts.withDefaults()
	elements := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		el := buildElement(n)
		if reason := discardReason(el, opts); reason != "" {
			logging.Debug("adb").
				Str("class", el.ClassName).
				Str("text", el.Text).
				Str("xpath", el.XPath).
				Str("reason", reason).
				Msg("Element filtered")
			continue
		}
		el.ID = len(elements) + 1
		elements = append(elements, el)
	}
	return elements, nil
}

// trimDump drops anything uiautomator prints around the XML document.
func trimDump(dump string) string {
	start := strings.Index(dump, "<?xml")
	if start < 0 {
		start = strings.Index(dump, "<hierarchy")
	}
	if start < 0 {
		start = strings.Index(dump, "<node")
	}
	if start < 0 {
		return ""
	}
	dump = dump[start:]
	if end := strings.LastIndex(dump, "</hierarchy>"); end >= 0 {
		dump = dump[:end+len("</hierarchy>")]
	}
	return strings.TrimSpace(dump)
}

// pathFrame tracks one open node while walking the tree.
type pathFrame struct {
	path     string
	siblings map[string]int
}

func (f *pathFrame) child(class string) string {
	if class == "" {
		class = "node"
	}
	f.siblings[class]++
	return fmt.Sprintf("%s/%s[%d]", f.path, class, f.siblings[class])
}

func newFrame(path string) *pathFrame {
	return &pathFrame{path: path, siblings: make(map[string]int)}
}

func parseStrict(dump string) ([]rawNode, error) {
	dec := xml.NewDecoder(strings.NewReader(dump))
	stack := []*pathFrame{newFrame("")}
	var nodes []rawNode

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "node" {
				continue
			}
			attrs := make(map[string]string, len(t.Attr))
			for _, a := range t.Attr {
				attrs[a.Name.Local] = a.Value
			}
			path := stack[len(stack)-1].child(attrs["class"])
			nodes = append(nodes, rawNode{attrs: attrs, xpath: path})
			stack = append(stack, newFrame(path))
		case xml.EndElement:
			if t.Name.Local == "node" && len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) != 1 {
		return nil, fmt.Errorf("unbalanced node tags")
	}
	return nodes, nil
}

var (
	nodeTagRe = regexp.MustCompile(`<node\b((?:[^>"]|"[^"]*")*?)(/?)>|</node>`)
	attrRe    = regexp.MustCompile(`([\w:-]+)="([^"]*)"`)
)

// parseLoose extracts nodes with regular expressions, keeping the same
// nesting rules as parseStrict so both produce identical XPaths.
func parseLoose(dump string) []rawNode {
	stack := []*pathFrame{newFrame("")}
	var nodes []rawNode

	for _, m := range nodeTagRe.FindAllStringSubmatch(dump, -1) {
		if strings.HasPrefix(m[0], "</") {
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			continue
		}

		attrs := make(map[string]string)
		for _, a := range attrRe.FindAllStringSubmatch(m[1], -1) {
			attrs[a[1]] = html.UnescapeString(a[2])
		}
		path := stack[len(stack)-1].child(attrs["class"])
		nodes = append(nodes, rawNode{attrs: attrs, xpath: path})
		if m[2] != "/" {
			stack = append(stack, newFrame(path))
		}
	}
	return nodes
}

func buildElement(n rawNode) Element {
	return Element{
		ClassName:   strings.TrimSpace(n.attrs["class"]),
		Text:        strings.TrimSpace(n.attrs["text"]),
		ResourceID:  strings.TrimSpace(n.attrs["resource-id"]),
		ContentDesc: strings.TrimSpace(n.attrs["content-desc"]),
		Package:     n.attrs["package"],
		Bounds:      n.attrs["bounds"],
		Clickable:   n.attrs["clickable"] == "true",
		Enabled:     n.attrs["enabled"] == "true",
		XPath:       n.xpath,
	}
}

// discardReason returns why el is not worth indexing, or "" to keep it.
func discardReason(el Element, opts FilterOptions) string {
	hasLabel := el.Text != "" || el.ContentDesc != ""

	if containsAny(el.ClassName, scrollContainers) {
		return "scroll container"
	}
	if containsAny(el.ClassName, layoutContainers) && !hasLabel {
		if !el.Clickable {
			return "non-clickable layout container"
		}
		if suspiciousSize(el.Bounds, opts) {
			return "suspicious size"
		}
	}
	if el.ClassName == "" && el.Text == "" && el.ResourceID == "" && el.ContentDesc == "" {
		return "no identifying attribute"
	}
	if el.ResourceID == "null" {
		return "null resource-id"
	}
	if !el.Clickable && !el.Enabled && el.Text == "" {
		return "non-interactive"
	}
	return ""
}

func suspiciousSize(bounds string, opts FilterOptions) bool {
	r, err := ParseBounds(bounds)
	if err != nil {
		return false
	}
	w, h := r.Width(), r.Height()
	if w < opts.MinSize || h < opts.MinSize {
		return true
	}
	return w > opts.MaxWidth && h > opts.MaxHeight
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
