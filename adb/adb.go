package adb

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/angelstreet/virtualpytest-sub004/logging"
)

// Timeouts for ADB round trips. UI dumps and pulls are slow on most devices.
const (
	DefaultTimeout = 3 * time.Second
	LongTimeout    = 30 * time.Second
)

// ErrDeviceOffline is returned when a device is listed but not in "device" state.
var ErrDeviceOffline = errors.New("device offline")

// Runner executes an external program and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// DeviceEntry is one line of `adb devices -l`.
type DeviceEntry struct {
	Serial string `json:"serial"`
	State  string `json:"state"`
	Model  string `json:"model,omitempty"`
}

// Client wraps ADB command execution
type Client struct {
	ADBPath string
	runner  Runner

	// Per-serial throttling so a busy script cannot flood adbd.
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
}

// NewClient creates a new ADB client. An empty path means "adb" from PATH and
// a nil runner means os/exec.
func NewClient(adbPath string, runner Runner) *Client {
	if adbPath == "" {
		adbPath = "adb"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Client{
		ADBPath:  adbPath,
		runner:   runner,
		limit:    rate.Limit(20),
		burst:    10,
		limiters: make(map[string]*rate.Limiter),
	}
}

// SetRateLimit changes the per-device command rate. Existing limiters are reset.
func (c *Client) SetRateLimit(perSecond float64, burst int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limit = rate.Limit(perSecond)
	c.burst = burst
	c.limiters = make(map[string]*rate.Limiter)
}

func (c *Client) limiter(serial string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[serial]
	if !ok {
		l = rate.NewLimiter(c.limit, c.burst)
		c.limiters[serial] = l
	}
	return l
}

// run executes adb with args under timeout. Commands addressed to a device
// (-s <serial>) wait for that device's limiter first.
func (c *Client) run(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	if len(args) >= 2 && args[0] == "-s" {
		if err := c.limiter(args[1]).Wait(ctx); err != nil {
			return "", fmt.Errorf("adb rate limit: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := c.runner.Run(ctx, c.ADBPath, args...)
	res := string(output)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return res, fmt.Errorf("adb %s timed out after %v", strings.Join(args, " "), timeout)
		}
		return res, fmt.Errorf("adb %s failed: %w, output: %s", strings.Join(args, " "), err, strings.TrimSpace(res))
	}
	return res, nil
}

// Shell runs a shell command on the device with the default timeout.
func (c *Client) Shell(ctx context.Context, serial, command string) (string, error) {
	return c.ShellWithTimeout(ctx, serial, command, DefaultTimeout)
}

// ShellWithTimeout runs a shell command on the device with an explicit timeout.
func (c *Client) ShellWithTimeout(ctx context.Context, serial, command string, timeout time.Duration) (string, error) {
	return c.run(ctx, timeout, "-s", serial, "shell", command)
}

// Connect runs `adb connect` for a network device and checks it came up.
// It returns the serial (ip:port) to address the device with.
func (c *Client) Connect(ctx context.Context, ip, port string) (string, error) {
	serial := fmt.Sprintf("%s:%s", ip, port)

	out, err := c.run(ctx, DefaultTimeout, "connect", serial)
	if err != nil {
		return "", fmt.Errorf("adb connect %s failed: %w", serial, err)
	}

	lower := strings.ToLower(out)
	if !strings.Contains(lower, "connected to") && !strings.Contains(lower, "already connected") {
		return "", fmt.Errorf("adb connect %s: %s", serial, strings.TrimSpace(out))
	}

	devices, err := c.Devices(ctx)
	if err != nil {
		return "", err
	}
	for _, d := range devices {
		if d.Serial != serial {
			continue
		}
		if d.State != "device" {
			return "", fmt.Errorf("%w: %s is %s", ErrDeviceOffline, serial, d.State)
		}
		logging.Info("adb").Str("serial", serial).Msg("Device connected")
		return serial, nil
	}
	return "", fmt.Errorf("device %s not listed after connect", serial)
}

// Disconnect runs `adb disconnect` for a network device.
func (c *Client) Disconnect(ctx context.Context, serial string) error {
	_, err := c.run(ctx, DefaultTimeout, "disconnect", serial)
	return err
}

// Devices returns every device adb knows about, whatever its state.
func (c *Client) Devices(ctx context.Context) ([]DeviceEntry, error) {
	out, err := c.run(ctx, DefaultTimeout, "devices", "-l")
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return ParseDeviceList(out), nil
}

// ParseDeviceList parses the output of `adb devices [-l]`.
func ParseDeviceList(output string) []DeviceEntry {
	var devices []DeviceEntry
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}

		// Expected format: <serial> <state> [device info]
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		entry := DeviceEntry{Serial: parts[0], State: parts[1]}
		for _, part := range parts[2:] {
			if strings.HasPrefix(part, "model:") {
				entry.Model = strings.ReplaceAll(strings.TrimPrefix(part, "model:"), "_", " ")
			}
		}
		devices = append(devices, entry)
	}
	return devices
}

// Pull copies a file from the device to the host.
func (c *Client) Pull(ctx context.Context, serial, remotePath, localPath string) error {
	if _, err := c.run(ctx, LongTimeout, "-s", serial, "pull", remotePath, localPath); err != nil {
		return fmt.Errorf("pull %s failed: %w", remotePath, err)
	}
	return nil
}

// GetProperty reads a system property from the device.
func (c *Client) GetProperty(ctx context.Context, serial, property string) (string, error) {
	out, err := c.Shell(ctx, serial, "getprop "+property)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ScreenResolution returns the display size, preferring "Override size"
// because that is what is actually rendered.
func (c *Client) ScreenResolution(ctx context.Context, serial string) (string, error) {
	out, err := c.Shell(ctx, serial, "wm size")
	if err != nil {
		return "", err
	}

	var physicalSize, overrideSize string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "Physical size:") {
			if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
				physicalSize = strings.TrimSpace(parts[1])
			}
		}
		if strings.Contains(line, "Override size:") {
			if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
				overrideSize = strings.TrimSpace(parts[1])
			}
		}
	}

	if overrideSize != "" {
		return overrideSize, nil
	}
	if physicalSize != "" {
		return physicalSize, nil
	}
	return "", fmt.Errorf("screen size not found in %q", strings.TrimSpace(out))
}

// BatteryLevel returns the device battery level (0-100).
func (c *Client) BatteryLevel(ctx context.Context, serial string) (int, error) {
	out, err := c.Shell(ctx, serial, "dumpsys battery")
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "level:") {
			return strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "level:")))
		}
	}
	return 0, fmt.Errorf("battery level not found")
}

// SendTap sends a tap event to the device.
func (c *Client) SendTap(ctx context.Context, serial string, x, y int) error {
	if _, err := c.Shell(ctx, serial, fmt.Sprintf("input tap %d %d", x, y)); err != nil {
		return fmt.Errorf("tap failed: %w", err)
	}
	return nil
}

// SendSwipe sends a swipe gesture to the device.
func (c *Client) SendSwipe(ctx context.Context, serial string, x1, y1, x2, y2, duration int) error {
	cmd := fmt.Sprintf("input swipe %d %d %d %d %d", x1, y1, x2, y2, duration)
	if _, err := c.Shell(ctx, serial, cmd); err != nil {
		return fmt.Errorf("swipe failed: %w", err)
	}
	return nil
}

// SendText types text on the device. Spaces become %s and shell
// metacharacters are escaped so `input text` receives the literal string.
func (c *Client) SendText(ctx context.Context, serial, text string) error {
	if _, err := c.Shell(ctx, serial, "input text "+EscapeInputText(text)); err != nil {
		return fmt.Errorf("text input failed: %w", err)
	}
	return nil
}

// EscapeInputText prepares text for `input text`.
func EscapeInputText(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch r {
		case ' ':
			b.WriteString("%s")
		case '\'', '"', '\\', '&', '|', ';', '<', '>', '(', ')', '$', '`', '*', '?', '~', '#', '!':
			b.WriteRune('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SendKey sends a key event to the device.
func (c *Client) SendKey(ctx context.Context, serial string, keycode int) error {
	if _, err := c.Shell(ctx, serial, fmt.Sprintf("input keyevent %d", keycode)); err != nil {
		return fmt.Errorf("key event failed: %w", err)
	}
	return nil
}

// SendLongKey sends a long-press key event to the device.
func (c *Client) SendLongKey(ctx context.Context, serial string, keycode int) error {
	if _, err := c.Shell(ctx, serial, fmt.Sprintf("input keyevent --longpress %d", keycode)); err != nil {
		return fmt.Errorf("long key event failed: %w", err)
	}
	return nil
}

// OpenApp opens an app by package name.
func (c *Client) OpenApp(ctx context.Context, serial, packageName string) error {
	cmd := fmt.Sprintf("monkey -p %s -c android.intent.category.LAUNCHER 1", packageName)
	if _, err := c.Shell(ctx, serial, cmd); err != nil {
		return fmt.Errorf("app launch failed: %w", err)
	}
	return nil
}

// CloseApp force-stops an app.
func (c *Client) CloseApp(ctx context.Context, serial, packageName string) error {
	if _, err := c.Shell(ctx, serial, "am force-stop "+packageName); err != nil {
		return fmt.Errorf("app close failed: %w", err)
	}
	return nil
}

// CurrentPackage returns the package of the focused window.
func (c *Client) CurrentPackage(ctx context.Context, serial string) (string, error) {
	out, err := c.Shell(ctx, serial, "dumpsys window | grep -E 'mCurrentFocus|mFocusedApp'")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		// mCurrentFocus=Window{abc u0 com.android.settings/com.android.settings.Settings}
		idx := strings.LastIndex(line, " ")
		if idx < 0 {
			continue
		}
		component := strings.TrimRight(line[idx+1:], "}")
		if pkg, _, ok := strings.Cut(component, "/"); ok && pkg != "" {
			return pkg, nil
		}
	}
	return "", fmt.Errorf("no focused package in dumpsys output")
}
