package adb

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newUITestClient(dump string) (*UI, *fakeRunner) {
	r := newFakeRunner()
	r.responses["-s dev shell uiautomator dump /sdcard/ui_dump.xml"] = "UI hierchary dumped to: /sdcard/ui_dump.xml\n"
	r.responses["-s dev shell cat /sdcard/ui_dump.xml"] = dump
	c := NewClient("adb", r)
	return c.UI("dev", FilterOptions{}), r
}

func TestCheckElementExistsFallback(t *testing.T) {
	ui, _ := newUITestClient(sampleDump)

	res, err := ui.CheckElementExists(context.Background(), "Accept|OK|Settings")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Found || res.Term != "OK" {
		t.Errorf("expected term OK, got %+v", res)
	}
}

func TestClickElementBySearchTapsCenter(t *testing.T) {
	ui, r := newUITestClient(sampleDump)

	if _, err := ui.ClickElementBySearch(context.Background(), "bluetooth"); err != nil {
		t.Fatalf("ClickElementBySearch failed: %v", err)
	}
	want := []string{
		"-s dev shell uiautomator dump /sdcard/ui_dump.xml",
		"-s dev shell cat /sdcard/ui_dump.xml",
		"-s dev shell input tap 540 380",
	}
	if diff := cmp.Diff(want, r.Calls()); diff != "" {
		t.Errorf("adb calls mismatch (-want +got):\n%s", diff)
	}
}

func TestClickElementBySearchNotFound(t *testing.T) {
	ui, r := newUITestClient(sampleDump)

	_, err := ui.ClickElementBySearch(context.Background(), "Cancel")
	if !errors.Is(err, ErrElementNotFound) {
		t.Errorf("expected ErrElementNotFound, got %v", err)
	}
	if len(r.Calls()) != 2 {
		t.Errorf("no tap expected, calls: %v", r.Calls())
	}
}

func TestClickElementMalformedBounds(t *testing.T) {
	ui, r := newUITestClient(sampleDump)

	err := ui.ClickElement(context.Background(), Element{ID: 9, Text: "x", Bounds: ""})
	if !errors.Is(err, ErrMalformedBounds) {
		t.Fatalf("expected ErrMalformedBounds, got %v", err)
	}
	if len(r.Calls()) != 0 {
		t.Errorf("no adb call expected, got %v", r.Calls())
	}
}

func TestInputText(t *testing.T) {
	ui, r := newUITestClient(sampleDump)

	if _, err := ui.InputText(context.Background(), "Wi-Fi", "my net"); err != nil {
		t.Fatal(err)
	}
	calls := r.Calls()
	if got := calls[len(calls)-1]; got != "-s dev shell input text my%snet" {
		t.Errorf("last call = %q", got)
	}
}

func TestDumpElementsAsync(t *testing.T) {
	ui, _ := newUITestClient(sampleDump)

	res := <-ui.DumpElementsAsync(context.Background())
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if len(res.Elements) != 4 {
		t.Errorf("expected 4 elements, got %d", len(res.Elements))
	}
	if diff := cmp.Diff(res.Elements, ui.LastDump()); diff != "" {
		t.Errorf("last dump mismatch (-want +got):\n%s", diff)
	}
}

func TestLastDumpKeptOnError(t *testing.T) {
	ui, r := newUITestClient(sampleDump)
	if _, err := ui.DumpElements(context.Background()); err != nil {
		t.Fatal(err)
	}

	r.responses["-s dev shell uiautomator dump /sdcard/ui_dump.xml"] = "ERROR: could not get idle state.\n"
	if _, err := ui.DumpElements(context.Background()); err == nil {
		t.Fatal("expected dump error")
	}
	if got := len(ui.LastDump()); got != 4 {
		t.Errorf("expected previous dump to survive, got %d elements", got)
	}
}

func TestDumpElementsError(t *testing.T) {
	ui, r := newUITestClient("")
	r.responses["-s dev shell uiautomator dump /sdcard/ui_dump.xml"] = "ERROR: could not get idle state.\n"

	if _, err := ui.DumpElements(context.Background()); err == nil {
		t.Error("expected dump error")
	}
}

func TestClickElementByID(t *testing.T) {
	ui, r := newUITestClient(sampleDump)
	elements, err := ui.DumpElements(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if err := ui.ClickElementByID(context.Background(), elements, 4); err != nil {
		t.Fatal(err)
	}
	calls := r.Calls()
	if got := calls[len(calls)-1]; got != "-s dev shell input tap 200 2290" {
		t.Errorf("last call = %q", got)
	}
	if err := ui.ClickElementByID(context.Background(), elements, 99); !errors.Is(err, ErrElementNotFound) {
		t.Errorf("expected ErrElementNotFound, got %v", err)
	}
}
