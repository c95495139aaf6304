package service

import (
	"sort"
	"sync"

	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/models"
)

// Device is an assembled device: its controllers, keyed as the config
// factory keys them, and the executors built over them.
type Device struct {
	ID    string
	Name  string
	Model string

	mu          sync.RWMutex
	controllers map[string]controller.Controller
	order       []string
	navigation  map[string]interface{}

	Actions       *ActionExecutor
	Verifications *VerificationExecutor
	Navigation    *NavigationExecutor
}

// NewDevice creates a device with no controllers.
func NewDevice(id, name, model string) *Device {
	return &Device{
		ID:          id,
		Name:        name,
		Model:       model,
		controllers: make(map[string]controller.Controller),
		navigation:  make(map[string]interface{}),
	}
}

// AddController registers c under key, replacing any previous one.
func (d *Device) AddController(key string, c controller.Controller) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.controllers[key]; !ok {
		d.order = append(d.order, key)
	}
	d.controllers[key] = c
}

// Controller returns the controller registered under key.
func (d *Device) Controller(key string) (controller.Controller, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.controllers[key]
	return c, ok
}

// ControllersOfType returns the controllers of t in construction order.
func (d *Device) ControllersOfType(t controller.Type) []controller.Controller {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []controller.Controller
	for _, key := range d.order {
		if c := d.controllers[key]; c.Type() == t {
			out = append(out, c)
		}
	}
	return out
}

// Keys lists the controller keys in construction order.
func (d *Device) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.order...)
}

// AV returns the device's AV controller.
func (d *Device) AV() (controller.AVController, bool) {
	c, ok := d.Controller(string(controller.TypeAV))
	if !ok {
		return nil, false
	}
	av, ok := c.(controller.AVController)
	return av, ok
}

// Web returns the device's web controller.
func (d *Device) Web() (controller.WebController, bool) {
	c, ok := d.Controller(string(controller.TypeWeb))
	if !ok {
		return nil, false
	}
	w, ok := c.(controller.WebController)
	return w, ok
}

// Remote returns the first remote controller.
func (d *Device) Remote() (controller.RemoteController, bool) {
	for _, c := range d.ControllersOfType(controller.TypeRemote) {
		if r, ok := c.(controller.RemoteController); ok {
			return r, true
		}
	}
	return nil, false
}

// Verification returns the verification controller of kind impl.
func (d *Device) Verification(impl controller.Implementation) (controller.VerificationController, bool) {
	c, ok := d.Controller(controller.Key(controller.TypeVerification, impl))
	if !ok {
		return nil, false
	}
	v, ok := c.(controller.VerificationController)
	return v, ok
}

// Capabilities lists the controller types present, sorted.
func (d *Device) Capabilities() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := map[string]bool{}
	caps := []string{}
	for _, c := range d.controllers {
		t := string(c.Type())
		if !seen[t] {
			seen[t] = true
			caps = append(caps, t)
		}
	}
	sort.Strings(caps)
	return caps
}

// NavigationValue reads the navigation context.
func (d *Device) NavigationValue(key string) (interface{}, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.navigation[key]
	return v, ok
}

// SetNavigation updates the navigation context.
func (d *Device) SetNavigation(values map[string]interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range values {
		d.navigation[k] = v
	}
}

// MoveTo makes node the current node and returns the one it replaces.
func (d *Device) MoveTo(node string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	previous, _ := d.navigation[CurrentNodeKey].(string)
	d.navigation[PreviousNodeKey] = previous
	d.navigation[CurrentNodeKey] = node
	return previous
}

// NavigationContext returns a copy of the navigation context.
func (d *Device) NavigationContext() map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]interface{}, len(d.navigation))
	for k, v := range d.navigation {
		out[k] = v
	}
	return out
}

// Info is the public view of the device.
func (d *Device) Info() models.DeviceInfo {
	d.mu.RLock()
	ctrls := make(map[string]string, len(d.controllers))
	for key, c := range d.controllers {
		ctrls[key] = string(c.Implementation())
	}
	d.mu.RUnlock()
	return models.DeviceInfo{
		ID:           d.ID,
		Name:         d.Name,
		Model:        d.Model,
		Capabilities: d.Capabilities(),
		Controllers:  ctrls,
	}
}

// Status collects every controller's status by key.
func (d *Device) Status() map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]interface{}, len(d.controllers))
	for key, c := range d.controllers {
		out[key] = c.Status()
	}
	return out
}
