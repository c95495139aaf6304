package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/angelstreet/virtualpytest-sub004/config"
	"github.com/angelstreet/virtualpytest-sub004/logging"
	"github.com/angelstreet/virtualpytest-sub004/models"
)

// Host is this machine and the devices attached to it.
type Host struct {
	Name string
	URL  string
	Port string

	mu      sync.RWMutex
	devices map[string]*Device
	order   []string
}

// NewHost creates a host without devices.
func NewHost(name, url, port string) *Host {
	return &Host{Name: name, URL: url, Port: port, devices: make(map[string]*Device)}
}

// AddDevice attaches d to the host.
func (h *Host) AddDevice(d *Device) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.devices[d.ID]; !ok {
		h.order = append(h.order, d.ID)
	}
	h.devices[d.ID] = d
}

// Device returns the device with id.
func (h *Host) Device(id string) (*Device, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.devices[id]
	return d, ok
}

// Devices returns the devices in the order they were added.
func (h *Host) Devices() []*Device {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Device, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.devices[id])
	}
	return out
}

// Info is the public view of the host.
func (h *Host) Info() models.HostInfo {
	devices := h.Devices()
	info := models.HostInfo{Name: h.Name, URL: h.URL, Port: h.Port, Devices: make([]models.DeviceInfo, 0, len(devices))}
	for _, d := range devices {
		info.Devices = append(info.Devices, d.Info())
	}
	return info
}

// Close disconnects every controller of every device.
func (h *Host) Close(ctx context.Context) {
	for _, d := range h.Devices() {
		for _, key := range d.Keys() {
			c, _ := d.Controller(key)
			if err := c.Disconnect(ctx); err != nil {
				logging.Warn("host").Str("device", d.ID).Str("controller", key).Err(err).Msg("Disconnect failed")
			}
		}
	}
}

// CreateHostFromEnvironment builds the host from DEVICE{n}_* slots, plus the
// host_vnc pseudo-device when HOST_VNC_STREAM_PATH is set. A non-empty
// deviceIDs keeps only those devices.
func CreateHostFromEnvironment(ctx context.Context, env config.Env, m *ControllerManager, deviceIDs []string) *Host {
	hc := config.LoadHostConfig(env)
	host := NewHost(hc.Name, hc.URL, hc.Port)

	configs := config.LoadDeviceConfigs(env)
	if hc.HasVNC() {
		configs = append(configs, config.HostDeviceConfig(hc))
	}

	wanted := map[string]bool{}
	for _, id := range deviceIDs {
		wanted[id] = true
	}
	for _, dc := range configs {
		if len(wanted) > 0 && !wanted[dc.DeviceID] {
			continue
		}
		host.AddDevice(m.CreateDevice(ctx, dc))
	}

	logging.Info("host").Str("host", host.Name).Int("devices", len(host.Devices())).Msg("Host created")
	return host
}

// ErrNoHostFactory is returned by Get before a factory is configured.
var ErrNoHostFactory = errors.New("host factory not configured")

// HostFactory builds the host on first use.
type HostFactory func(ctx context.Context, deviceIDs []string) (*Host, error)

// HostRegistry holds the process-wide host, built once on demand.
type HostRegistry struct {
	mu      sync.Mutex
	host    atomic.Pointer[Host]
	factory HostFactory
}

// NewHostRegistry creates a registry around factory.
func NewHostRegistry(factory HostFactory) *HostRegistry {
	return &HostRegistry{factory: factory}
}

// SetFactory replaces the factory. It does not affect a host already built.
func (r *HostRegistry) SetFactory(factory HostFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factory = factory
}

// Get returns the host, building it on the first call. deviceIDs only
// matter for that first call.
func (r *HostRegistry) Get(ctx context.Context, deviceIDs []string) (*Host, error) {
	if h := r.host.Load(); h != nil {
		return h, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h := r.host.Load(); h != nil {
		return h, nil
	}
	if r.factory == nil {
		return nil, ErrNoHostFactory
	}
	h, err := r.factory(ctx, deviceIDs)
	if err != nil {
		return nil, err
	}
	r.host.Store(h)
	return h, nil
}

// Reset disconnects and drops the host so the next Get builds a new one.
func (r *HostRegistry) Reset(ctx context.Context) {
	r.mu.Lock()
	h := r.host.Swap(nil)
	r.mu.Unlock()
	if h != nil {
		h.Close(ctx)
	}
}

var defaultHosts = NewHostRegistry(nil)

// SetHostFactory configures the factory of the package-level registry.
func SetHostFactory(factory HostFactory) { defaultHosts.SetFactory(factory) }

// GetHost returns the package-level host.
func GetHost(ctx context.Context, deviceIDs []string) (*Host, error) {
	return defaultHosts.Get(ctx, deviceIDs)
}

// ResetHost drops the package-level host.
func ResetHost(ctx context.Context) { defaultHosts.Reset(ctx) }
