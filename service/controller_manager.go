package service

import (
	"context"

	"github.com/angelstreet/virtualpytest-sub004/adb"
	"github.com/angelstreet/virtualpytest-sub004/bridge"
	"github.com/angelstreet/virtualpytest-sub004/config"
	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/controller/av"
	"github.com/angelstreet/virtualpytest-sub004/controller/desktop"
	"github.com/angelstreet/virtualpytest-sub004/controller/power"
	"github.com/angelstreet/virtualpytest-sub004/controller/remote"
	"github.com/angelstreet/virtualpytest-sub004/controller/verification"
	"github.com/angelstreet/virtualpytest-sub004/controller/web"
	"github.com/angelstreet/virtualpytest-sub004/logging"
	"github.com/angelstreet/virtualpytest-sub004/store"
)

// NewControllerRegistry returns a registry with every built-in
// implementation.
func NewControllerRegistry() *controller.Registry {
	r := controller.NewRegistry()
	av.Register(r)
	remote.Register(r)
	web.Register(r)
	verification.Register(r)
	power.Register(r)
	desktop.Register(r)
	return r
}

// NewDeps builds the shared constructor dependencies from host settings.
func NewDeps(hc config.HostConfig, records store.RecordStore) controller.Deps {
	client := adb.NewClient(hc.ADBPath, nil)
	if hc.ADBRateLimit > 0 {
		client.SetRateLimit(float64(hc.ADBRateLimit), max(hc.ADBRateBurst, 1))
	}
	return controller.Deps{
		ADB: client,
		Bridges: controller.Bridges{
			Tapo:       bridge.New(hc.TapoBridge, nil),
			Playwright: bridge.New(hc.PlaywrightBridge, nil),
			Appium:     bridge.New(hc.AppiumBridge, nil),
			PyAutoGUI:  bridge.New(hc.PyAutoGUIBridge, nil),
		},
		Filter: adb.FilterOptions{
			MinSize:   hc.FilterMinSize,
			MaxWidth:  hc.FilterMaxWidth,
			MaxHeight: hc.FilterMaxHeight,
		},
		IRConfigDir: hc.IRConfigDir,
		Store:       records,
	}
}

// ControllerManager assembles devices from their configuration.
type ControllerManager struct {
	registry    *controller.Registry
	deps        controller.Deps
	captureRoot string
}

// NewControllerManager creates a manager. deps.AV and deps.Web are ignored;
// they are filled per device during assembly.
func NewControllerManager(registry *controller.Registry, deps controller.Deps, captureRoot string) *ControllerManager {
	deps.AV, deps.Web = nil, nil
	return &ControllerManager{registry: registry, deps: deps, captureRoot: captureRoot}
}

// CreateDevice builds every controller of dev, AV first so verifications
// can use it, then attaches the executors. It never fails: controllers that
// cannot be built are logged and left out.
func (m *ControllerManager) CreateDevice(ctx context.Context, dev config.DeviceConfig) *Device {
	d := NewDevice(dev.DeviceID, dev.DeviceName, dev.DeviceModel)

	specs := controller.CreateControllerConfigs(dev, m.captureRoot)
	if len(specs) == 0 {
		logging.Warn("manager").Str("device", dev.DeviceID).Str("model", dev.DeviceModel).Msg("No controllers for device")
		return d
	}

	deps := m.deps
	for _, t := range controller.Types {
		for _, spec := range specs {
			if spec.Type != t {
				continue
			}
			c := m.build(ctx, dev, spec, deps)
			if c == nil {
				continue
			}
			d.AddController(spec.Key, c)
			switch t {
			case controller.TypeAV:
				if a, ok := c.(controller.AVController); ok {
					deps.AV = a
				}
			case controller.TypeWeb:
				if w, ok := c.(controller.WebController); ok {
					deps.Web = w
				}
			}
		}
	}

	m.attachExecutors(d)

	logging.Info("manager").
		Str("device", d.ID).
		Str("model", d.Model).
		Strs("controllers", d.Keys()).
		Msg("Device assembled")
	return d
}

func (m *ControllerManager) build(ctx context.Context, dev config.DeviceConfig, spec controller.Spec, deps controller.Deps) controller.Controller {
	if spec.Skipped() {
		logging.Warn("manager").Str("device", dev.DeviceID).Str("controller", spec.Key).Str("reason", spec.SkipReason).Msg("Controller skipped")
		return nil
	}
	if spec.Type == controller.TypeVerification {
		if spec.Implementation == controller.VerifyWeb {
			logging.Debug("manager").Str("device", dev.DeviceID).Msg("Web verification served by the web controller")
			return nil
		}
		if controller.AVVerifications[spec.Implementation] && deps.AV == nil {
			logging.Warn("manager").Str("device", dev.DeviceID).Str("controller", spec.Key).Msg("Controller skipped: no AV controller")
			return nil
		}
	}

	c, err := m.registry.Create(spec, deps)
	if err != nil {
		logging.Error("manager").Str("device", dev.DeviceID).Str("controller", spec.Key).Err(err).Msg("Controller construction failed")
		return nil
	}
	if err := c.Connect(ctx); err != nil {
		logging.Warn("manager").Str("device", dev.DeviceID).Str("controller", spec.Key).Err(err).Msg("Controller not connected")
	}
	return c
}

// attachExecutors adds the executors last: they look at the controllers the
// device ended up with.
func (m *ControllerManager) attachExecutors(d *Device) {
	actions, err := NewActionExecutor(d, m.deps.Store)
	if err != nil {
		logging.Warn("manager").Str("device", d.ID).Err(err).Msg("Action executor unavailable")
	}
	verifications, err := NewVerificationExecutor(d, m.deps.Store)
	if err != nil {
		logging.Warn("manager").Str("device", d.ID).Err(err).Msg("Verification executor unavailable")
	}
	navigation, err := NewNavigationExecutor(d, actions, verifications, m.deps.Store)
	if err != nil {
		logging.Warn("manager").Str("device", d.ID).Err(err).Msg("Navigation executor unavailable")
	}
	d.Actions, d.Verifications, d.Navigation = actions, verifications, navigation
}
