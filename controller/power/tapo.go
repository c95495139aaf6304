// Package power implements power controllers. Tapo smart plugs are driven
// through the Tapo bridge.
package power

import (
	"context"
	"fmt"
	"time"

	"github.com/angelstreet/virtualpytest-sub004/bridge"
	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/logging"
	"github.com/angelstreet/virtualpytest-sub004/models"
)

// DefaultRebootDelay is the off time of a reboot.
const DefaultRebootDelay = 5 * time.Second

// Register adds the power implementations to r.
func Register(r *controller.Registry) {
	r.Register(controller.TypePower, controller.Tapo, controller.Adapt(NewTapo))
}

// Tapo switches a Tapo smart plug.
type Tapo struct {
	*controller.Base

	bridge   *bridge.Client
	name     string
	ip       string
	email    string
	password string
	commands controller.CommandTable
}

// NewTapo creates a Tapo controller from its spec.
func NewTapo(spec controller.Spec, deps controller.Deps) (*Tapo, error) {
	if !deps.Bridges.Tapo.Configured() {
		return nil, fmt.Errorf("%w: tapo bridge", controller.ErrMissingDependency)
	}
	ip := spec.Param("power_ip")
	if ip == "" || spec.Param("power_email") == "" || spec.Param("power_pwd") == "" {
		return nil, fmt.Errorf("tapo: power_ip, power_email and power_pwd are required")
	}
	t := &Tapo{
		Base:     controller.NewBase(controller.TypePower, controller.Tapo, spec.Param("real_device_name")),
		bridge:   deps.Bridges.Tapo,
		name:     spec.Param("power_name"),
		ip:       ip,
		email:    spec.Param("power_email"),
		password: spec.Param("power_pwd"),
	}
	t.commands = controller.CommandTable{
		"power_on":         t.call("power_on"),
		"power_off":        t.call("power_off"),
		"get_power_status": t.call("get_status"),
		"reboot":           t.reboot,
	}
	return t, nil
}

func (t *Tapo) auth() map[string]interface{} {
	return map[string]interface{}{"ip": t.ip, "email": t.email, "password": t.password}
}

func (t *Tapo) call(method string) controller.CommandHandler {
	return func(ctx context.Context, params map[string]interface{}) models.CommandResult {
		return controller.BridgeCommand(ctx, t.bridge, method, t.auth(), params)
	}
}

// Connect queries the plug once.
func (t *Tapo) Connect(ctx context.Context) error {
	res := controller.BridgeCommand(ctx, t.bridge, "get_status", t.auth(), nil)
	if !res.Success {
		t.SetConnected(false)
		return fmt.Errorf("tapo %s unreachable: %s", t.ip, res.Error)
	}
	t.SetConnected(true)
	return nil
}

// Commands lists the supported commands.
func (t *Tapo) Commands() []string { return t.commands.Names() }

// ExecuteCommand runs a power command.
func (t *Tapo) ExecuteCommand(ctx context.Context, command string, params map[string]interface{}) models.CommandResult {
	res := t.commands.Execute(ctx, command, params)
	logging.Info("power").
		Str("device", t.DeviceName()).
		Str("command", command).
		Bool("success", res.Success).
		Msg("Power command")
	return res
}

func (t *Tapo) reboot(ctx context.Context, params map[string]interface{}) models.CommandResult {
	if res := t.call("power_off")(ctx, nil); !res.Success {
		return res
	}
	if err := controller.Sleep(ctx, controller.SecondsParam(params, "delay", DefaultRebootDelay)); err != nil {
		return models.CommandFailed("reboot interrupted: " + err.Error())
	}
	res := t.call("power_on")(ctx, nil)
	if res.Success {
		res.Message = "rebooted"
	}
	return res
}

// Status adds the plug identity.
func (t *Tapo) Status() map[string]interface{} {
	st := t.Base.Status()
	st["power_name"] = t.name
	st["power_ip"] = t.ip
	return st
}
