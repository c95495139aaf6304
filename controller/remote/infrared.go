package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/logging"
	"github.com/angelstreet/virtualpytest-sub004/models"
)

// IRSendTimeout bounds one ir-ctl transmission.
const IRSendTimeout = 5 * time.Second

// Infrared sends remote-control codes through a LIRC device with ir-ctl.
type Infrared struct {
	*controller.Base

	irPath     string
	irType     string
	configPath string
	runner     controller.Runner

	mu    sync.RWMutex
	codes map[string]string
}

// NewInfrared creates an IR remote from its spec.
func NewInfrared(spec controller.Spec, deps controller.Deps) (*Infrared, error) {
	irPath, irType := spec.Param("ir_path"), spec.Param("ir_type")
	if irPath == "" || irType == "" {
		return nil, fmt.Errorf("ir_remote: ir_path and ir_type are required")
	}
	return &Infrared{
		Base:       controller.NewBase(controller.TypeRemote, controller.IRRemote, spec.Param("real_device_name")),
		irPath:     irPath,
		irType:     irType,
		configPath: filepath.Join(deps.IRConfigDir, irType+".json"),
		runner:     deps.RunnerOrDefault(),
	}, nil
}

// Connect checks the IR device exists and loads the code table.
func (r *Infrared) Connect(ctx context.Context) error {
	if _, err := os.Stat(r.irPath); err != nil {
		r.SetConnected(false)
		return fmt.Errorf("IR device %s unavailable: %w", r.irPath, err)
	}

	data, err := os.ReadFile(r.configPath)
	if err != nil {
		r.SetConnected(false)
		return fmt.Errorf("IR config %s unavailable: %w", r.configPath, err)
	}
	codes, err := ParseIRConfig(data)
	if err != nil {
		r.SetConnected(false)
		return fmt.Errorf("IR config %s: %w", r.configPath, err)
	}

	r.mu.Lock()
	r.codes = codes
	r.mu.Unlock()
	r.SetConnected(true)

	logging.Info("remote").
		Str("device", r.DeviceName()).
		Str("ir_type", r.irType).
		Int("keys", len(codes)).
		Msg("IR remote ready")
	return nil
}

// ParseIRConfig reads a {"BUTTON": "+9000 -4500 ..."} table. Button names
// are upper-cased.
func ParseIRConfig(data []byte) (map[string]string, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("expected a JSON object")
	}
	codes := make(map[string]string)
	root.ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.String {
			codes[strings.ToUpper(key.String())] = value.String()
		}
		return true
	})
	if len(codes) == 0 {
		return nil, fmt.Errorf("no key codes")
	}
	return codes, nil
}

// PulseSpaceFile converts "+9000 -4500 +560" into the ir-ctl text format,
// one "pulse N" or "space N" line per value.
func PulseSpaceFile(code string) (string, error) {
	var b strings.Builder
	for _, tok := range strings.Fields(code) {
		n, err := strconv.Atoi(strings.TrimLeft(tok, "+-"))
		if err != nil || n <= 0 {
			return "", fmt.Errorf("invalid IR value %q", tok)
		}
		switch tok[0] {
		case '+':
			fmt.Fprintf(&b, "pulse %d\n", n)
		case '-':
			fmt.Fprintf(&b, "space %d\n", n)
		default:
			return "", fmt.Errorf("IR value %q has no sign", tok)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("empty IR code")
	}
	return b.String(), nil
}

// Commands lists the supported commands.
func (r *Infrared) Commands() []string {
	return []string{"list_keys", "press_key"}
}

// ExecuteCommand runs a command.
func (r *Infrared) ExecuteCommand(ctx context.Context, command string, params map[string]interface{}) models.CommandResult {
	switch command {
	case "press_key":
		return r.pressKey(ctx, controller.StringParam(params, "key"))
	case "list_keys":
		res := models.CommandOK("")
		res.Data = map[string]interface{}{"keys": r.Keys()}
		return res
	default:
		return models.UnknownCommand(command, r.Commands())
	}
}

// ExecuteSequence runs a sequence of commands.
func (r *Infrared) ExecuteSequence(ctx context.Context, actions, retryActions, failureActions []models.Action) bool {
	return controller.RunSequence(ctx, func(ctx context.Context, act models.Action) models.CommandResult {
		return r.ExecuteCommand(ctx, act.Command, act.Params)
	}, actions, retryActions, failureActions)
}

// Keys lists the buttons of the loaded table, sorted.
func (r *Infrared) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.codes))
	for k := range r.codes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Infrared) pressKey(ctx context.Context, key string) models.CommandResult {
	if !r.IsConnected() {
		return models.CommandFailed(controller.ErrNotConnected.Error())
	}
	key = strings.ToUpper(strings.TrimSpace(key))

	r.mu.RLock()
	code, ok := r.codes[key]
	r.mu.RUnlock()
	if !ok {
		return models.CommandFailed(fmt.Sprintf("key %q not in %s table", key, r.irType))
	}

	content, err := PulseSpaceFile(code)
	if err != nil {
		return models.CommandFailed(err.Error())
	}

	f, err := os.CreateTemp("", "ir-*.txt")
	if err != nil {
		return models.CommandFailed(err.Error())
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return models.CommandFailed(err.Error())
	}
	if err := f.Close(); err != nil {
		return models.CommandFailed(err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, IRSendTimeout)
	defer cancel()
	if out, err := r.runner.Run(ctx, "ir-ctl", "-d", r.irPath, "--send="+f.Name()); err != nil {
		logging.Error("remote").Str("device", r.DeviceName()).Str("key", key).Err(err).Msg("ir-ctl failed")
		return models.CommandFailed(fmt.Sprintf("ir-ctl failed: %v %s", err, strings.TrimSpace(string(out))))
	}
	return models.CommandOK("sent " + key)
}

// Status adds the IR identity.
func (r *Infrared) Status() map[string]interface{} {
	st := r.Base.Status()
	st["ir_path"] = r.irPath
	st["ir_type"] = r.irType
	return st
}
