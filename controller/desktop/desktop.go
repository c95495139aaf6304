// Package desktop implements controllers for the host desktop: shell
// commands through bash and GUI input through the PyAutoGUI bridge.
package desktop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelstreet/virtualpytest-sub004/bridge"
	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/logging"
	"github.com/angelstreet/virtualpytest-sub004/models"
)

// DefaultCommandTimeout bounds a bash command without an explicit timeout.
const DefaultCommandTimeout = 30 * time.Second

// Register adds the desktop implementations to r.
func Register(r *controller.Registry) {
	r.Register(controller.TypeDesktop, controller.Bash, controller.Adapt(NewBash))
	r.Register(controller.TypeDesktop, controller.PyAutoGUI, controller.Adapt(NewPyAutoGUI))
}

// Bash runs shell commands on the host.
type Bash struct {
	*controller.Base
	runner   controller.Runner
	commands controller.CommandTable
}

// NewBash creates a bash desktop controller.
func NewBash(spec controller.Spec, deps controller.Deps) (*Bash, error) {
	b := &Bash{
		Base:   controller.NewBase(controller.TypeDesktop, controller.Bash, spec.Param("real_device_name")),
		runner: deps.RunnerOrDefault(),
	}
	b.commands = controller.CommandTable{
		"execute_bash_command": b.execute,
	}
	return b, nil
}

// Commands lists the supported commands.
func (b *Bash) Commands() []string { return b.commands.Names() }

// ExecuteCommand runs a command.
func (b *Bash) ExecuteCommand(ctx context.Context, command string, params map[string]interface{}) models.CommandResult {
	return b.commands.Execute(ctx, command, params)
}

func (b *Bash) execute(ctx context.Context, params map[string]interface{}) models.CommandResult {
	script := controller.StringParam(params, "command")
	if strings.TrimSpace(script) == "" {
		return models.CommandFailed("command is required")
	}
	timeout := controller.SecondsParam(params, "timeout", DefaultCommandTimeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	out, err := b.runner.Run(ctx, "bash", "-c", script)
	output := strings.TrimRight(string(out), "\n")

	logging.Debug("desktop").
		Str("device", b.DeviceName()).
		Str("command", script).
		Dur("took", time.Since(start)).
		Err(err).
		Msg("Bash command")

	data := map[string]interface{}{"output": output}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return models.CommandResult{Error: fmt.Sprintf("command timed out after %v", timeout), Data: data}
		}
		return models.CommandResult{Error: err.Error(), Data: data}
	}
	res := models.CommandOK(output)
	res.Data = data
	return res
}

var pyautoguiCommands = []string{
	"click",
	"double_click",
	"hotkey",
	"key_press",
	"move_mouse",
	"screenshot",
	"scroll",
	"type_text",
}

// PyAutoGUI drives the host GUI through the PyAutoGUI bridge.
type PyAutoGUI struct {
	*controller.Base
	bridge *bridge.Client
}

// NewPyAutoGUI creates a PyAutoGUI desktop controller.
func NewPyAutoGUI(spec controller.Spec, deps controller.Deps) (*PyAutoGUI, error) {
	if !deps.Bridges.PyAutoGUI.Configured() {
		return nil, fmt.Errorf("%w: pyautogui bridge", controller.ErrMissingDependency)
	}
	return &PyAutoGUI{
		Base:   controller.NewBase(controller.TypeDesktop, controller.PyAutoGUI, spec.Param("real_device_name")),
		bridge: deps.Bridges.PyAutoGUI,
	}, nil
}

// Commands lists the supported commands.
func (p *PyAutoGUI) Commands() []string { return pyautoguiCommands }

// ExecuteCommand forwards a command to the bridge.
func (p *PyAutoGUI) ExecuteCommand(ctx context.Context, command string, params map[string]interface{}) models.CommandResult {
	for _, c := range pyautoguiCommands {
		if c == command {
			return controller.BridgeCommand(ctx, p.bridge, command, nil, params)
		}
	}
	return models.UnknownCommand(command, pyautoguiCommands)
}
