package adb

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/angelstreet/virtualpytest-sub004/logging"
)

const uiDumpPath = "/sdcard/ui_dump.xml"

// UI runs element operations against one device.
type UI struct {
	client *Client
	serial string
	opts   FilterOptions

	mu   sync.Mutex
	last []Element
}

// DumpResult is delivered by DumpElementsAsync.
type DumpResult struct {
	Elements []Element
	Err      error
}

// UI returns element operations for serial.
func (c *Client) UI(serial string, opts FilterOptions) *UI {
	return &UI{client: c, serial: serial, opts: opts.withDefaults()}
}

// Serial of the device.
func (u *UI) Serial() string {
	return u.serial
}

// DumpElements dumps and parses the current UI hierarchy.
func (u *UI) DumpElements(ctx context.Context) ([]Element, error) {
	out, err := u.client.ShellWithTimeout(ctx, u.serial, "uiautomator dump "+uiDumpPath, LongTimeout)
	if err != nil {
		return nil, fmt.Errorf("ui dump failed: %w", err)
	}
	if strings.Contains(strings.ToLower(out), "error") {
		return nil, fmt.Errorf("ui dump failed: %s", strings.TrimSpace(out))
	}

	xmlData, err := u.client.ShellWithTimeout(ctx, u.serial, "cat "+uiDumpPath, LongTimeout)
	if err != nil {
		return nil, fmt.Errorf("reading ui dump failed: %w", err)
	}

	elements, err := ParseElements(xmlData, u.opts)
	if err != nil {
		return nil, err
	}
	logging.Debug("adb").Str("serial", u.serial).Int("elements", len(elements)).Msg("UI dumped")

	u.mu.Lock()
	u.last = elements
	u.mu.Unlock()
	return elements, nil
}

// LastDump returns the elements of the most recent successful dump.
func (u *UI) LastDump() []Element {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Element(nil), u.last...)
}

// DumpElementsAsync runs DumpElements in a goroutine. The channel receives
// exactly one result and is then closed.
func (u *UI) DumpElementsAsync(ctx context.Context) <-chan DumpResult {
	ch := make(chan DumpResult, 1)
	go func() {
		defer close(ch)
		elements, err := u.DumpElements(ctx)
		ch <- DumpResult{Elements: elements, Err: err}
	}()
	return ch
}

// CheckElementExists dumps the UI and searches for term.
func (u *UI) CheckElementExists(ctx context.Context, term string) (SearchResult, error) {
	elements, err := u.DumpElements(ctx)
	if err != nil {
		return SearchResult{}, err
	}
	return FindElements(elements, term), nil
}

// ClickElementBySearch taps the best match for term.
func (u *UI) ClickElementBySearch(ctx context.Context, term string) (SearchResult, error) {
	res, err := u.CheckElementExists(ctx, term)
	if err != nil {
		return res, err
	}
	best, ok := res.Best()
	if !ok {
		return res, fmt.Errorf("%w: %q", ErrElementNotFound, term)
	}
	return res, u.ClickElement(ctx, best.Element)
}

// ClickElement taps the center of el.
func (u *UI) ClickElement(ctx context.Context, el Element) error {
	x, y, err := el.Center()
	if err != nil {
		return fmt.Errorf("cannot click element %d: %w", el.ID, err)
	}
	logging.Info("adb").
		Str("serial", u.serial).
		Int("x", x).Int("y", y).
		Str("xpath", el.XPath).
		Msg("Clicking element")
	return u.client.SendTap(ctx, u.serial, x, y)
}

// ClickElementByID taps the element with id from a previous dump.
func (u *UI) ClickElementByID(ctx context.Context, elements []Element, id int) error {
	for _, el := range elements {
		if el.ID == id {
			return u.ClickElement(ctx, el)
		}
	}
	return fmt.Errorf("%w: id %d", ErrElementNotFound, id)
}

// InputText focuses the best match for term and types text into it.
func (u *UI) InputText(ctx context.Context, term, text string) (SearchResult, error) {
	res, err := u.ClickElementBySearch(ctx, term)
	if err != nil {
		return res, err
	}
	return res, u.client.SendText(ctx, u.serial, text)
}
