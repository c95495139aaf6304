package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MaxDeviceSlots is the number of DEVICE{n}_* environment slots scanned.
const MaxDeviceSlots = 12

// HostDeviceID is the id of the pseudo-device representing the host itself.
const HostDeviceID = "host"

// Env looks up an environment variable. os.LookupEnv satisfies it.
type Env func(key string) (string, bool)

// OSEnv reads the process environment.
func OSEnv() Env {
	return os.LookupEnv
}

// MapEnv serves lookups from a map, for tests and tooling.
func MapEnv(m map[string]string) Env {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// Get returns the trimmed value of key or def when unset or blank.
func (e Env) Get(key, def string) string {
	if e == nil {
		return def
	}
	if val, ok := e(key); ok && strings.TrimSpace(val) != "" {
		return strings.TrimSpace(val)
	}
	return def
}

// Int returns key parsed as an int, or def.
func (e Env) Int(key string, def int) int {
	raw := e.Get(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// HostConfig is everything the host process reads about itself.
type HostConfig struct {
	Name             string
	Port             string
	URL              string
	VNCStreamPath    string
	VideoCapturePath string
	VNCPassword      string
	WebBrowserPath   string
	CaptureRoot      string
	DBPath           string
	IRConfigDir      string
	ADBPath          string
	LogLevel         string
	LogDir           string
	TapoBridge       string
	PlaywrightBridge string
	AppiumBridge     string
	PyAutoGUIBridge  string
	FilterMinSize    int
	FilterMaxWidth   int
	FilterMaxHeight  int
	ADBRateLimit     int // shell commands per second per device
	ADBRateBurst     int
}

// HasVNC reports whether the host should expose itself as a device.
func (h HostConfig) HasVNC() bool {
	return h.VNCStreamPath != ""
}

// LoadHostConfig reads HOST_* and tool settings.
func LoadHostConfig(env Env) HostConfig {
	port := env.Get("HOST_PORT", "6109")
	name := env.Get("HOST_NAME", "")
	if name == "" {
		if hn, err := os.Hostname(); err == nil {
			name = hn
		} else {
			name = "host"
		}
	}
	return HostConfig{
		Name:             name,
		Port:             port,
		URL:              env.Get("HOST_URL", fmt.Sprintf("http://localhost:%s", port)),
		VNCStreamPath:    env.Get("HOST_VNC_STREAM_PATH", ""),
		VideoCapturePath: env.Get("HOST_VIDEO_CAPTURE_PATH", ""),
		VNCPassword:      env.Get("HOST_VNC_PASSWORD", ""),
		WebBrowserPath:   env.Get("HOST_WEB_BROWSER_PATH", ""),
		CaptureRoot:      env.Get("HOST_CAPTURE_ROOT", "/var/www/html/stream"),
		DBPath:           env.Get("HOST_DB_PATH", "./data/virtualpytest.db"),
		IRConfigDir:      env.Get("IR_CONFIG_DIR", "./config/remote"),
		ADBPath:          env.Get("ADB_PATH", "adb"),
		LogLevel:         env.Get("LOG_LEVEL", "info"),
		LogDir:           env.Get("LOG_DIR", ""),
		TapoBridge:       env.Get("TAPO_BRIDGE", ""),
		PlaywrightBridge: env.Get("PLAYWRIGHT_BRIDGE", ""),
		AppiumBridge:     env.Get("APPIUM_BRIDGE", ""),
		PyAutoGUIBridge:  env.Get("PYAUTOGUI_BRIDGE", ""),
		FilterMinSize:    env.Int("ADB_FILTER_MIN_SIZE", 20),
		FilterMaxWidth:   env.Int("ADB_FILTER_MAX_WIDTH", 900),
		FilterMaxHeight:  env.Int("ADB_FILTER_MAX_HEIGHT", 1500),
		ADBRateLimit:     env.Int("ADB_RATE_LIMIT", 20),
		ADBRateBurst:     env.Int("ADB_RATE_BURST", 10),
	}
}

// DeviceConfig is one device as described by the environment. It is
// ephemeral: it only feeds the controller config factory.
type DeviceConfig struct {
	Slot             int
	DeviceID         string
	DeviceName       string
	DeviceModel      string
	Video            string
	VideoStreamPath  string
	VideoCapturePath string
	DeviceIP         string
	DevicePort       string
	IRPath           string
	IRType           string
	PowerName        string
	PowerIP          string
	PowerEmail       string
	PowerPwd         string
	AppiumPlatform   string
	AppiumDeviceID   string
	AppiumServerURL  string
	VNCPassword      string
	WebBrowserPath   string
}

// CaptureSlot is the capture directory name for this device, e.g. "capture1".
func (d DeviceConfig) CaptureSlot() string {
	if d.DeviceID == HostDeviceID {
		return "capture0"
	}
	return fmt.Sprintf("capture%d", d.Slot)
}

// LoadDeviceConfig reads DEVICE{slot}_*. ok is false when the slot is empty.
func LoadDeviceConfig(env Env, slot int) (DeviceConfig, bool) {
	prefix := fmt.Sprintf("DEVICE%d_", slot)
	name := env.Get(prefix+"NAME", "")
	if name == "" {
		return DeviceConfig{}, false
	}
	return DeviceConfig{
		Slot:             slot,
		DeviceID:         fmt.Sprintf("device%d", slot),
		DeviceName:       name,
		DeviceModel:      env.Get(prefix+"MODEL", ""),
		Video:            env.Get(prefix+"VIDEO", ""),
		VideoStreamPath:  env.Get(prefix+"VIDEO_STREAM_PATH", ""),
		VideoCapturePath: env.Get(prefix+"VIDEO_CAPTURE_PATH", ""),
		DeviceIP:         env.Get(prefix+"IP", ""),
		DevicePort:       env.Get(prefix+"PORT", ""),
		IRPath:           env.Get(prefix+"IR_PATH", ""),
		IRType:           env.Get(prefix+"IR_TYPE", ""),
		PowerName:        env.Get(prefix+"POWER_NAME", ""),
		PowerIP:          env.Get(prefix+"POWER_IP", ""),
		PowerEmail:       env.Get(prefix+"POWER_EMAIL", ""),
		PowerPwd:         env.Get(prefix+"POWER_PWD", ""),
		AppiumPlatform:   env.Get(prefix+"APPIUM_PLATFORM_NAME", ""),
		AppiumDeviceID:   env.Get(prefix+"APPIUM_DEVICE_ID", ""),
		AppiumServerURL:  env.Get(prefix+"APPIUM_SERVER_URL", ""),
	}, true
}

// LoadDeviceConfigs scans every slot and returns the populated ones in slot order.
func LoadDeviceConfigs(env Env) []DeviceConfig {
	var devices []DeviceConfig
	for slot := 1; slot <= MaxDeviceSlots; slot++ {
		if dc, ok := LoadDeviceConfig(env, slot); ok {
			devices = append(devices, dc)
		}
	}
	return devices
}

// HostDeviceConfig synthesizes the host_vnc pseudo-device from host settings.
func HostDeviceConfig(h HostConfig) DeviceConfig {
	return DeviceConfig{
		DeviceID:         HostDeviceID,
		DeviceName:       h.Name,
		DeviceModel:      "host_vnc",
		VideoStreamPath:  h.VNCStreamPath,
		VideoCapturePath: h.VideoCapturePath,
		VNCPassword:      h.VNCPassword,
		WebBrowserPath:   h.WebBrowserPath,
	}
}
