// Package web implements the Playwright browser controller. Browser
// automation runs in the Playwright bridge; this side owns the session
// bookkeeping.
package web

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelstreet/virtualpytest-sub004/bridge"
	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/models"
)

// Register adds the web implementations to r.
func Register(r *controller.Registry) {
	r.Register(controller.TypeWeb, controller.Playwright, controller.Adapt(NewPlaywright))
}

var forwarded = []string{
	"click_element",
	"execute_javascript",
	"get_page_info",
	"input_text",
	"press_key",
	"take_screenshot",
	"wait_for_element_to_appear",
	"wait_for_element_to_disappear",
}

// Playwright drives a browser through the Playwright bridge.
type Playwright struct {
	*controller.Base

	bridge      *bridge.Client
	browserPath string
	commands    controller.CommandTable

	mu          sync.Mutex
	browserOpen bool
	currentURL  string
}

// NewPlaywright creates a Playwright web controller.
func NewPlaywright(spec controller.Spec, deps controller.Deps) (*Playwright, error) {
	if !deps.Bridges.Playwright.Configured() {
		return nil, fmt.Errorf("%w: playwright bridge", controller.ErrMissingDependency)
	}
	p := &Playwright{
		Base:        controller.NewBase(controller.TypeWeb, controller.Playwright, spec.Param("real_device_name")),
		bridge:      deps.Bridges.Playwright,
		browserPath: spec.Param("web_browser_path"),
	}
	p.commands = controller.CommandTable{
		"open_browser":    p.openBrowser,
		"close_browser":   p.closeBrowser,
		"navigate_to_url": p.navigate,
	}
	for _, name := range forwarded {
		p.commands[name] = func(ctx context.Context, params map[string]interface{}) models.CommandResult {
			return controller.BridgeCommand(ctx, p.bridge, name, p.session(), params)
		}
	}
	return p, nil
}

func (p *Playwright) session() map[string]interface{} {
	return map[string]interface{}{"browser_path": p.browserPath}
}

// Commands lists the supported commands.
func (p *Playwright) Commands() []string { return p.commands.Names() }

// ExecuteCommand runs a browser command.
func (p *Playwright) ExecuteCommand(ctx context.Context, command string, params map[string]interface{}) models.CommandResult {
	return p.commands.Execute(ctx, command, params)
}

// Disconnect closes the browser if it is open.
func (p *Playwright) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	open := p.browserOpen
	p.mu.Unlock()
	if open {
		p.closeBrowser(ctx, nil)
	}
	p.SetConnected(false)
	return nil
}

func (p *Playwright) openBrowser(ctx context.Context, params map[string]interface{}) models.CommandResult {
	res := controller.BridgeCommand(ctx, p.bridge, "open_browser", p.session(), params)
	if res.Success {
		p.mu.Lock()
		p.browserOpen = true
		p.mu.Unlock()
	}
	return res
}

func (p *Playwright) closeBrowser(ctx context.Context, params map[string]interface{}) models.CommandResult {
	res := controller.BridgeCommand(ctx, p.bridge, "close_browser", p.session(), params)
	p.mu.Lock()
	p.browserOpen = false
	p.currentURL = ""
	p.mu.Unlock()
	return res
}

func (p *Playwright) navigate(ctx context.Context, params map[string]interface{}) models.CommandResult {
	url := controller.StringParam(params, "url")
	if url == "" {
		return models.CommandFailed("url is required")
	}
	res := controller.BridgeCommand(ctx, p.bridge, "navigate_to_url", p.session(), params)
	if res.Success {
		p.mu.Lock()
		p.browserOpen = true
		p.currentURL = url
		p.mu.Unlock()
	}
	return res
}

// Status adds the browser state.
func (p *Playwright) Status() map[string]interface{} {
	st := p.Base.Status()
	p.mu.Lock()
	st["browser_open"] = p.browserOpen
	st["current_url"] = p.currentURL
	p.mu.Unlock()
	return st
}
