package web

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/angelstreet/virtualpytest-sub004/bridge"
	"github.com/angelstreet/virtualpytest-sub004/controller"
)

type scriptExec struct {
	methods []string
	reply   string
}

func (s *scriptExec) Exec(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	var req bridge.Request
	if err := json.Unmarshal(stdin, &req); err != nil {
		return nil, err
	}
	s.methods = append(s.methods, req.Method)
	return []byte(s.reply), nil
}

func newPlaywright(t *testing.T, reply string) (*Playwright, *scriptExec) {
	t.Helper()
	se := &scriptExec{reply: reply}
	spec := controller.Spec{Params: map[string]string{"web_browser_path": "/usr/bin/chromium"}}
	p, err := NewPlaywright(spec, controller.Deps{Bridges: controller.Bridges{Playwright: bridge.New("pw", se)}})
	if err != nil {
		t.Fatal(err)
	}
	return p, se
}

func TestNavigateTracksSession(t *testing.T) {
	p, se := newPlaywright(t, `{"success": true, "message": "loaded"}`)
	ctx := context.Background()

	if res := p.ExecuteCommand(ctx, "navigate_to_url", nil); res.Success {
		t.Error("expected failure without url")
	}
	if res := p.ExecuteCommand(ctx, "navigate_to_url", map[string]interface{}{"url": "https://example.com"}); !res.Success {
		t.Fatalf("navigate failed: %+v", res)
	}
	st := p.Status()
	if st["browser_open"] != true || st["current_url"] != "https://example.com" {
		t.Errorf("unexpected status: %v", st)
	}

	if err := p.Disconnect(ctx); err != nil {
		t.Fatal(err)
	}
	if st := p.Status(); st["browser_open"] != false {
		t.Errorf("browser still open: %v", st)
	}
	if got := se.methods[len(se.methods)-1]; got != "close_browser" {
		t.Errorf("last method = %q", got)
	}
}

func TestForwardedCommands(t *testing.T) {
	p, se := newPlaywright(t, `{"success": false, "error": "element not found"}`)
	res := p.ExecuteCommand(context.Background(), "click_element", map[string]interface{}{"selector": "#login"})
	if res.Success || res.Error != "element not found" {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(se.methods) != 1 || se.methods[0] != "click_element" {
		t.Errorf("methods = %v", se.methods)
	}
	if res := p.ExecuteCommand(context.Background(), "fly", nil); !res.Unknown {
		t.Errorf("expected unknown command, got %+v", res)
	}
}
