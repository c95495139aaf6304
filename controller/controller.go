// Package controller defines the capability contracts every device
// controller implements, the (type, implementation) registry, and the
// factory turning a device configuration into controller specs.
package controller

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/angelstreet/virtualpytest-sub004/adb"
	"github.com/angelstreet/virtualpytest-sub004/bridge"
	"github.com/angelstreet/virtualpytest-sub004/capture"
	"github.com/angelstreet/virtualpytest-sub004/models"
	"github.com/angelstreet/virtualpytest-sub004/store"
)

// Type is a capability family.
type Type string

const (
	TypeAV           Type = "av"
	TypeRemote       Type = "remote"
	TypeVerification Type = "verification"
	TypePower        Type = "power"
	TypeDesktop      Type = "desktop"
	TypeWeb          Type = "web"
)

// Types lists capability families in construction order.
var Types = []Type{TypeAV, TypeRemote, TypeWeb, TypeVerification, TypePower, TypeDesktop}

// Implementation names a concrete controller within a family.
type Implementation string

// AV implementations
const (
	HDMIStream   Implementation = "hdmi_stream"
	CameraStream Implementation = "camera_stream"
	VNCStream    Implementation = "vnc_stream"
)

// Remote implementations
const (
	AndroidMobile Implementation = "android_mobile"
	AndroidTV     Implementation = "android_tv"
	IRRemote      Implementation = "ir_remote"
	AppiumRemote  Implementation = "appium"
)

// Verification implementations
const (
	VerifyImage  Implementation = "image"
	VerifyText   Implementation = "text"
	VerifyVideo  Implementation = "video"
	VerifyAudio  Implementation = "audio"
	VerifyADB    Implementation = "adb"
	VerifyAppium Implementation = "appium"
	VerifyWeb    Implementation = "web"
)

// Power, desktop and web implementations
const (
	Tapo       Implementation = "tapo"
	Bash       Implementation = "bash"
	PyAutoGUI  Implementation = "pyautogui"
	Playwright Implementation = "playwright"
)

var (
	// ErrUnknownImplementation is returned for an unregistered (type, implementation).
	ErrUnknownImplementation = errors.New("unknown controller implementation")
	// ErrMissingDependency is returned when a verification controller has no AV to read from.
	ErrMissingDependency = errors.New("missing controller dependency")
	// ErrNotConnected is returned for I/O on a disconnected controller.
	ErrNotConnected = errors.New("controller not connected")
)

// Controller is the lifecycle every controller shares.
type Controller interface {
	Type() Type
	Implementation() Implementation
	DeviceName() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	Status() map[string]interface{}
}

// Commander executes named commands.
type Commander interface {
	ExecuteCommand(ctx context.Context, command string, params map[string]interface{}) models.CommandResult
	Commands() []string
}

// RemoteController sends input to a device.
type RemoteController interface {
	Controller
	Commander
	ExecuteSequence(ctx context.Context, actions, retryActions, failureActions []models.Action) bool
}

// CaptureSession is the bookkeeping of a video capture. No encoder runs
// during a session; TakeVideo assembles stored segments on demand.
type CaptureSession struct {
	ID        string        `json:"session_id"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Filename  string        `json:"filename,omitempty"`
	Active    bool          `json:"active"`
}

// AVController references the output of the external capture process.
type AVController interface {
	Controller
	Store() *capture.Store
	ScreenshotFPS() int
	TakeScreenshot(ctx context.Context) (string, error)
	SaveScreenshot(ctx context.Context, name string) (string, error)
	StartVideoCapture(ctx context.Context, duration time.Duration, filename string) (CaptureSession, error)
	StopVideoCapture(ctx context.Context) (CaptureSession, bool)
	IsCapturingVideo() bool
	Session() (CaptureSession, bool)
	TakeVideo(ctx context.Context, duration time.Duration, outPath string) (string, error)
}

// VerificationController checks a condition on a device.
type VerificationController interface {
	Controller
	ExecuteVerification(ctx context.Context, cfg models.VerificationConfig) models.VerificationResult
}

// PowerController switches device power.
type PowerController interface {
	Controller
	Commander
}

// DesktopController drives the host desktop.
type DesktopController interface {
	Controller
	Commander
}

// WebController drives a browser.
type WebController interface {
	Controller
	Commander
}

// Bridges are the helper processes for SDK-backed controllers.
type Bridges struct {
	Tapo       *bridge.Client
	Playwright *bridge.Client
	Appium     *bridge.Client
	PyAutoGUI  *bridge.Client
}

// Deps carries what constructors need beyond their spec params. AV and Web
// are filled by the manager with controllers built earlier for the device.
type Deps struct {
	AV          AVController
	Web         WebController
	ADB         *adb.Client
	Bridges     Bridges
	Filter      adb.FilterOptions
	IRConfigDir string
	Store       store.RecordStore
	Runner      Runner
}

// Base implements the shared lifecycle. Embed it and override Connect when
// there is a real connection to check.
type Base struct {
	typ        Type
	impl       Implementation
	deviceName string
	connected  atomic.Bool
}

// NewBase creates the shared part of a controller.
func NewBase(t Type, impl Implementation, deviceName string) *Base {
	return &Base{typ: t, impl: impl, deviceName: deviceName}
}

func (b *Base) Type() Type                     { return b.typ }
func (b *Base) Implementation() Implementation { return b.impl }
func (b *Base) DeviceName() string             { return b.deviceName }
func (b *Base) IsConnected() bool              { return b.connected.Load() }

// SetConnected records the lifecycle state.
func (b *Base) SetConnected(v bool) { b.connected.Store(v) }

// Connect marks the controller connected.
func (b *Base) Connect(ctx context.Context) error {
	b.SetConnected(true)
	return nil
}

// Disconnect marks the controller disconnected.
func (b *Base) Disconnect(ctx context.Context) error {
	b.SetConnected(false)
	return nil
}

// Status reports the shared fields.
func (b *Base) Status() map[string]interface{} {
	return map[string]interface{}{
		"type":           string(b.typ),
		"implementation": string(b.impl),
		"device_name":    b.deviceName,
		"connected":      b.IsConnected(),
	}
}

// Runner executes an external program and returns its combined output.
// adb.ExecRunner satisfies it.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RunnerOrDefault returns deps.Runner, or an os/exec runner.
func (d Deps) RunnerOrDefault() Runner {
	if d.Runner != nil {
		return d.Runner
	}
	return adb.ExecRunner{}
}
