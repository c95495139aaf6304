package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/angelstreet/virtualpytest-sub004/config"
	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/controller/av"
	"github.com/angelstreet/virtualpytest-sub004/models"
	"github.com/angelstreet/virtualpytest-sub004/store"
)

type fakeRemote struct {
	*controller.Base

	mu      sync.Mutex
	failing map[string]bool
	sent    []string
}

func newFakeRemote(spec controller.Spec) *fakeRemote {
	return &fakeRemote{
		Base:    controller.NewBase(controller.TypeRemote, spec.Implementation, spec.Param("real_device_name")),
		failing: map[string]bool{},
	}
}

func (r *fakeRemote) Commands() []string { return []string{"press_key"} }

func (r *fakeRemote) ExecuteCommand(ctx context.Context, command string, params map[string]interface{}) models.CommandResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, command)
	if r.failing[command] {
		return models.CommandFailed(command + " failed")
	}
	return models.CommandOK(command)
}

func (r *fakeRemote) ExecuteSequence(ctx context.Context, actions, retryActions, failureActions []models.Action) bool {
	return controller.RunSequence(ctx, func(ctx context.Context, a models.Action) models.CommandResult {
		return r.ExecuteCommand(ctx, a.Command, a.Params)
	}, actions, retryActions, failureActions)
}

func (r *fakeRemote) Sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

type fakeVerifier struct {
	*controller.Base
}

func (v *fakeVerifier) ExecuteVerification(ctx context.Context, cfg models.VerificationConfig) models.VerificationResult {
	if controller.BoolParam(cfg.Params, "pass", false) {
		return models.VerificationResult{Success: true, Message: "ok", Confidence: 1}
	}
	return models.VerificationFailed(cfg.Command + " did not pass")
}

// testRegistry registers the real AV controller and fakes for the remote and
// verification families. Every constructor call is appended to built.
func testRegistry(built *[]string) *controller.Registry {
	r := controller.NewRegistry()
	av.Register(r)

	remote := func(spec controller.Spec, deps controller.Deps) (controller.Controller, error) {
		*built = append(*built, spec.Key)
		return newFakeRemote(spec), nil
	}
	for _, impl := range []controller.Implementation{controller.AndroidMobile, controller.AndroidTV, controller.IRRemote} {
		r.Register(controller.TypeRemote, impl, remote)
	}

	verifier := func(spec controller.Spec, deps controller.Deps) (controller.Controller, error) {
		*built = append(*built, spec.Key)
		return &fakeVerifier{Base: controller.NewBase(controller.TypeVerification, spec.Implementation, spec.Param("real_device_name"))}, nil
	}
	for _, impl := range []controller.Implementation{
		controller.VerifyImage, controller.VerifyText, controller.VerifyVideo,
		controller.VerifyAudio, controller.VerifyADB, controller.VerifyWeb,
	} {
		r.Register(controller.TypeVerification, impl, verifier)
	}
	return r
}

func openTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func tvConfig() config.DeviceConfig {
	return config.DeviceConfig{
		Slot:        1,
		DeviceID:    "device1",
		DeviceName:  "Living room TV",
		DeviceModel: "android_tv",
		DeviceIP:    "10.0.0.5",
	}
}

func TestCreateDeviceOrderAndSkips(t *testing.T) {
	var built []string
	m := NewControllerManager(testRegistry(&built), controller.Deps{}, t.TempDir())

	d := m.CreateDevice(context.Background(), tvConfig())

	// IR has no path and power no tapo plug: neither constructor may run.
	wantBuilt := []string{
		"remote_android_tv",
		"verification_adb",
		"verification_audio",
		"verification_image",
		"verification_text",
		"verification_video",
	}
	if diff := cmp.Diff(wantBuilt, built); diff != "" {
		t.Errorf("constructors called (-want +got):\n%s", diff)
	}

	wantKeys := append([]string{"av"}, wantBuilt...)
	if diff := cmp.Diff(wantKeys, d.Keys()); diff != "" {
		t.Errorf("device keys (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"av", "remote", "verification"}, d.Capabilities()); diff != "" {
		t.Errorf("capabilities (-want +got):\n%s", diff)
	}
	if d.Actions == nil || d.Verifications == nil || d.Navigation == nil {
		t.Errorf("executors not attached: %+v %+v %+v", d.Actions, d.Verifications, d.Navigation)
	}
}

func TestCreateDeviceWithoutAVSkipsCaptureVerifications(t *testing.T) {
	var built []string
	r := testRegistry(&built)
	r.Register(controller.TypeAV, controller.HDMIStream, func(controller.Spec, controller.Deps) (controller.Controller, error) {
		return nil, errors.New("capture card missing")
	})
	m := NewControllerManager(r, controller.Deps{}, t.TempDir())

	d := m.CreateDevice(context.Background(), tvConfig())

	if diff := cmp.Diff([]string{"remote_android_tv", "verification_adb"}, d.Keys()); diff != "" {
		t.Errorf("device keys (-want +got):\n%s", diff)
	}
	if _, ok := d.AV(); ok {
		t.Error("device should have no AV controller")
	}
}

func TestCreateDeviceUnknownModel(t *testing.T) {
	var built []string
	m := NewControllerManager(testRegistry(&built), controller.Deps{}, t.TempDir())

	dc := tvConfig()
	dc.DeviceModel = "toaster"
	d := m.CreateDevice(context.Background(), dc)

	if len(d.Keys()) != 0 || len(built) != 0 {
		t.Errorf("unknown model built %v, keys %v", built, d.Keys())
	}
	if d.Actions != nil {
		t.Error("action executor attached without a remote")
	}
	if diff := cmp.Diff([]string{}, d.Capabilities()); diff != "" {
		t.Errorf("capabilities (-want +got):\n%s", diff)
	}
}

func TestCreateDeviceWithoutIPHasNoRemote(t *testing.T) {
	var built []string
	m := NewControllerManager(testRegistry(&built), controller.Deps{}, t.TempDir())

	dc := tvConfig()
	dc.DeviceIP = ""
	d := m.CreateDevice(context.Background(), dc)

	if _, ok := d.Remote(); ok {
		t.Error("remote built without a device IP")
	}
	if _, ok := d.Verification(controller.VerifyADB); ok {
		t.Error("adb verification derived from a skipped remote")
	}
	if _, ok := d.Verification(controller.VerifyImage); !ok {
		t.Error("image verification missing")
	}
}

func TestDeviceNavigationContext(t *testing.T) {
	d := NewDevice("device1", "TV", "android_tv")
	if prev := d.MoveTo("home"); prev != "" {
		t.Errorf("first MoveTo previous = %q", prev)
	}
	if prev := d.MoveTo("settings"); prev != "home" {
		t.Errorf("second MoveTo previous = %q, want home", prev)
	}
	d.SetNavigation(map[string]interface{}{"tree_id": "main"})

	want := map[string]interface{}{
		CurrentNodeKey:  "settings",
		PreviousNodeKey: "home",
		"tree_id":       "main",
	}
	if diff := cmp.Diff(want, d.NavigationContext()); diff != "" {
		t.Errorf("navigation context (-want +got):\n%s", diff)
	}
}
