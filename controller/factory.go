package controller

import (
	"fmt"
	"sort"
	"strings"

	"github.com/angelstreet/virtualpytest-sub004/capture"
	"github.com/angelstreet/virtualpytest-sub004/config"
	"github.com/angelstreet/virtualpytest-sub004/logging"
)

// Models is the set of controllers a device model supports, per type.
type Models map[Type][]Implementation

// DeviceControllerMap lists the controllers of every known device model.
// Verification is derived, see ControllerVerificationMap.
var DeviceControllerMap = map[string]Models{
	"android_mobile": {
		TypeAV:     {HDMIStream},
		TypeRemote: {AndroidMobile},
		TypePower:  {Tapo},
	},
	"android_tv": {
		TypeAV:     {HDMIStream},
		TypeRemote: {AndroidTV, IRRemote},
		TypePower:  {Tapo},
	},
	"fire_tv": {
		TypeAV:     {HDMIStream},
		TypeRemote: {AndroidTV, IRRemote},
		TypePower:  {Tapo},
	},
	"stb": {
		TypeAV:     {HDMIStream},
		TypeRemote: {IRRemote},
		TypePower:  {Tapo},
	},
	"stb_camera": {
		TypeAV:     {CameraStream},
		TypeRemote: {IRRemote},
	},
	"ios_mobile": {
		TypeAV:     {HDMIStream},
		TypeRemote: {AppiumRemote},
	},
	"host_vnc": {
		TypeAV:      {VNCStream},
		TypeDesktop: {Bash, PyAutoGUI},
		TypeWeb:     {Playwright},
	},
}

// ControllerVerificationMap lists the verifications each controller
// implementation makes possible.
var ControllerVerificationMap = map[Implementation][]Implementation{
	HDMIStream:    {VerifyImage, VerifyText, VerifyVideo, VerifyAudio},
	CameraStream:  {VerifyImage, VerifyText, VerifyVideo, VerifyAudio},
	VNCStream:     {VerifyImage, VerifyText, VerifyVideo},
	AndroidMobile: {VerifyADB},
	AndroidTV:     {VerifyADB},
	AppiumRemote:  {VerifyAppium},
	Playwright:    {VerifyWeb},
}

// AVVerifications need an AV controller to read captures from.
var AVVerifications = map[Implementation]bool{
	VerifyImage: true,
	VerifyText:  true,
	VerifyVideo: true,
	VerifyAudio: true,
}

// DefaultADBPort is the adb-over-TCP port used when a device sets none.
const DefaultADBPort = "5555"

// DefaultAppiumServerURL is used when a device sets no Appium server.
const DefaultAppiumServerURL = "http://localhost:4723"

// Key returns the key a controller is addressed by on its device.
func Key(t Type, impl Implementation) string {
	switch t {
	case TypeAV, TypePower, TypeWeb:
		return string(t)
	default:
		return fmt.Sprintf("%s_%s", t, impl)
	}
}

// CreateControllerConfigs maps a device configuration to controller specs in
// construction order. It performs no I/O. Unknown models yield no specs.
// captureRoot is the parent of the default capture slot directories.
func CreateControllerConfigs(dev config.DeviceConfig, captureRoot string) []Spec {
	models, ok := DeviceControllerMap[dev.DeviceModel]
	if !ok {
		logging.Error("factory").
			Str("device", dev.DeviceID).
			Str("model", dev.DeviceModel).
			Msg("Unknown device model, no controllers created")
		return nil
	}

	byType := map[Type][]Spec{}
	var present []Implementation
	for _, t := range Types {
		for _, impl := range models[t] {
			spec := buildSpec(dev, t, impl, captureRoot)
			if spec.Skipped() {
				logging.Warn("factory").
					Str("device", dev.DeviceID).
					Str("controller", spec.Key).
					Str("reason", spec.SkipReason).
					Msg("Controller skipped")
			} else {
				present = append(present, impl)
			}
			byType[t] = append(byType[t], spec)
		}
	}
	byType[TypeVerification] = verificationSpecs(dev, present)

	var specs []Spec
	for _, t := range Types {
		specs = append(specs, byType[t]...)
	}
	return specs
}

func buildSpec(dev config.DeviceConfig, t Type, impl Implementation, captureRoot string) Spec {
	spec := Spec{
		Type:           t,
		Implementation: impl,
		Key:            Key(t, impl),
		Params: map[string]string{
			"device_id":        dev.DeviceID,
			"real_device_name": dev.DeviceName,
			"device_model":     dev.DeviceModel,
		},
	}
	p := spec.Params

	switch t {
	case TypeAV:
		slot := capture.PathsForSlot(captureRoot, dev.CaptureSlot())
		p["video_stream_path"] = firstNonEmpty(dev.VideoStreamPath, slot.Stream)
		p["video_capture_path"] = firstNonEmpty(dev.VideoCapturePath, slot.Capture)
		p["video_device"] = dev.Video
		if impl == VNCStream {
			p["vnc_password"] = dev.VNCPassword
			p["web_browser_path"] = dev.WebBrowserPath
		}

	case TypeRemote:
		switch impl {
		case AndroidMobile, AndroidTV:
			if dev.DeviceIP == "" {
				spec.SkipReason = "no device IP configured"
				break
			}
			p["device_ip"] = dev.DeviceIP
			p["device_port"] = firstNonEmpty(dev.DevicePort, DefaultADBPort)
		case IRRemote:
			if dev.IRPath == "" || dev.IRType == "" {
				spec.SkipReason = "IR remote requires ir_path and ir_type"
				break
			}
			p["ir_path"] = dev.IRPath
			p["ir_type"] = dev.IRType
		case AppiumRemote:
			if dev.AppiumDeviceID == "" {
				spec.SkipReason = "Appium remote requires appium_device_id"
				break
			}
			p["appium_platform_name"] = firstNonEmpty(dev.AppiumPlatform, "iOS")
			p["appium_device_id"] = dev.AppiumDeviceID
			p["appium_server_url"] = firstNonEmpty(dev.AppiumServerURL, DefaultAppiumServerURL)
		}

	case TypePower:
		if impl == Tapo {
			if !strings.Contains(strings.ToLower(dev.PowerName), "tapo") {
				spec.SkipReason = "no tapo power device configured"
				break
			}
			if dev.PowerIP == "" || dev.PowerEmail == "" || dev.PowerPwd == "" {
				spec.SkipReason = "tapo power requires ip, email and password"
				break
			}
			p["power_name"] = dev.PowerName
			p["power_ip"] = dev.PowerIP
			p["power_email"] = dev.PowerEmail
			p["power_pwd"] = dev.PowerPwd
		}

	case TypeVerification:
		switch impl {
		case VerifyADB:
			p["device_ip"] = dev.DeviceIP
			p["device_port"] = firstNonEmpty(dev.DevicePort, DefaultADBPort)
		case VerifyAppium:
			p["appium_platform_name"] = firstNonEmpty(dev.AppiumPlatform, "iOS")
			p["appium_device_id"] = dev.AppiumDeviceID
			p["appium_server_url"] = firstNonEmpty(dev.AppiumServerURL, DefaultAppiumServerURL)
		}

	case TypeWeb:
		p["web_browser_path"] = dev.WebBrowserPath
	}
	return spec
}

// verificationSpecs derives the verification controllers from the union of
// what the given controllers support, sorted by implementation.
func verificationSpecs(dev config.DeviceConfig, present []Implementation) []Spec {
	set := map[Implementation]bool{}
	for _, impl := range present {
		for _, v := range ControllerVerificationMap[impl] {
			set[v] = true
		}
	}

	impls := make([]Implementation, 0, len(set))
	for v := range set {
		impls = append(impls, v)
	}
	sort.Slice(impls, func(i, j int) bool { return impls[i] < impls[j] })

	specs := make([]Spec, 0, len(impls))
	for _, v := range impls {
		specs = append(specs, Spec{
			Type:           TypeVerification,
			Implementation: v,
			Key:            Key(TypeVerification, v),
			Params: map[string]string{
				"device_id":        dev.DeviceID,
				"real_device_name": dev.DeviceName,
				"device_model":     dev.DeviceModel,
			},
		})
	}
	return specs
}

// VerificationTypes returns the verification implementations a model can
// offer when all its controllers are configured, sorted.
func VerificationTypes(model string) []Implementation {
	models, ok := DeviceControllerMap[model]
	if !ok {
		return nil
	}
	var all []Implementation
	for _, impls := range models {
		all = append(all, impls...)
	}
	var out []Implementation
	for _, s := range verificationSpecs(config.DeviceConfig{DeviceModel: model}, all) {
		out = append(out, s.Implementation)
	}
	return out
}

// verificationPrecedence orders verification controllers for actions that do
// not name one.
var verificationPrecedence = []Implementation{VerifyADB, VerifyImage, VerifyText}

// ControllerTypeForDevice returns the controller key to address for an action
// category ("remote", "av", "verification", "power", "desktop", "web") on a
// device model.
func ControllerTypeForDevice(model, action string) (string, bool) {
	models, ok := DeviceControllerMap[model]
	if !ok {
		return "", false
	}

	t := Type(action)
	if t == TypeVerification {
		available := map[Implementation]bool{}
		for _, v := range VerificationTypes(model) {
			available[v] = true
		}
		for _, v := range verificationPrecedence {
			if available[v] {
				return Key(TypeVerification, v), true
			}
		}
		return "", false
	}

	impls := models[t]
	if len(impls) == 0 {
		return "", false
	}
	return Key(t, impls[0]), true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
