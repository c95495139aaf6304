package remote

import (
	"context"
	"fmt"

	"github.com/angelstreet/virtualpytest-sub004/bridge"
	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/models"
)

var appiumCommands = []string{
	"click_element",
	"get_current_app",
	"input_text",
	"launch_app",
	"press_key",
	"swipe",
	"tap_coordinates",
}

// Appium drives iOS (or Android) devices through the Appium bridge.
type Appium struct {
	*controller.Base

	bridge   *bridge.Client
	platform string
	deviceID string
	server   string
}

// NewAppium creates an Appium remote from its spec.
func NewAppium(spec controller.Spec, deps controller.Deps) (*Appium, error) {
	if !deps.Bridges.Appium.Configured() {
		return nil, fmt.Errorf("%w: appium bridge", controller.ErrMissingDependency)
	}
	return &Appium{
		Base:     controller.NewBase(controller.TypeRemote, controller.AppiumRemote, spec.Param("real_device_name")),
		bridge:   deps.Bridges.Appium,
		platform: spec.Param("appium_platform_name"),
		deviceID: spec.Param("appium_device_id"),
		server:   spec.Param("appium_server_url"),
	}, nil
}

func (a *Appium) session() map[string]interface{} {
	return map[string]interface{}{
		"platform_name": a.platform,
		"device_id":     a.deviceID,
		"server_url":    a.server,
	}
}

// Connect opens an Appium session.
func (a *Appium) Connect(ctx context.Context) error {
	res, err := a.bridge.Call(ctx, "connect", a.session())
	if err != nil {
		a.SetConnected(false)
		return err
	}
	if !res.Success {
		a.SetConnected(false)
		return fmt.Errorf("appium connect failed: %s", res.Error)
	}
	a.SetConnected(true)
	return nil
}

// Commands lists the supported commands.
func (a *Appium) Commands() []string {
	return append([]string(nil), appiumCommands...)
}

// ExecuteCommand forwards command to the bridge.
func (a *Appium) ExecuteCommand(ctx context.Context, command string, params map[string]interface{}) models.CommandResult {
	known := false
	for _, c := range appiumCommands {
		if c == command {
			known = true
			break
		}
	}
	if !known {
		return models.UnknownCommand(command, a.Commands())
	}
	return controller.BridgeCommand(ctx, a.bridge, command, a.session(), params)
}

// ExecuteSequence runs a sequence of commands.
func (a *Appium) ExecuteSequence(ctx context.Context, actions, retryActions, failureActions []models.Action) bool {
	return controller.RunSequence(ctx, func(ctx context.Context, act models.Action) models.CommandResult {
		return a.ExecuteCommand(ctx, act.Command, act.Params)
	}, actions, retryActions, failureActions)
}
