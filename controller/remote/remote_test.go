package remote

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/angelstreet/virtualpytest-sub004/adb"
	"github.com/angelstreet/virtualpytest-sub004/bridge"
	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/models"
)

const uiDump = `UI hierchary dumped to: /dev/tty
<hierarchy rotation="0">
  <node index="0" text="" resource-id="" class="android.widget.FrameLayout" package="com.example" content-desc="" clickable="false" enabled="true" bounds="[0,0][1080,2400]">
    <node index="0" text="Wi-Fi" resource-id="com.example:id/row" class="android.widget.TextView" package="com.example" content-desc="" clickable="true" enabled="true" bounds="[0,200][1080,320]" />
    <node index="1" text="OK" resource-id="com.example:id/ok" class="android.widget.Button" package="com.example" content-desc="" clickable="true" enabled="true" bounds="[100,2250][300,2330]" />
  </node>
</hierarchy>`

// scriptedRunner answers by joined args. failOnce entries fail the first call
// only.
type scriptedRunner struct {
	mu        sync.Mutex
	calls     []string
	responses map[string]string
	failOnce  map[string]error
}

func newScriptedRunner() *scriptedRunner {
	r := &scriptedRunner{responses: map[string]string{}, failOnce: map[string]error{}}
	r.responses["connect 10.0.0.5:5555"] = "connected to 10.0.0.5:5555\n"
	r.responses["devices -l"] = "List of devices attached\n10.0.0.5:5555 device\n"
	return r
}

func (r *scriptedRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.Join(args, " ")
	r.calls = append(r.calls, key)
	if err, ok := r.failOnce[key]; ok {
		delete(r.failOnce, key)
		return []byte("error: closed"), err
	}
	return []byte(r.responses[key]), nil
}

func (r *scriptedRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newTestAndroid(t *testing.T, r *scriptedRunner) *Android {
	t.Helper()
	spec := controller.Spec{
		Type:           controller.TypeRemote,
		Implementation: controller.AndroidTV,
		Params:         map[string]string{"device_ip": "10.0.0.5", "real_device_name": "living-room"},
	}
	a, err := NewAndroid(spec, controller.Deps{ADB: adb.NewClient("adb", r), Filter: adb.DefaultFilterOptions()})
	if err != nil {
		t.Fatalf("NewAndroid failed: %v", err)
	}
	return a
}

func TestNewAndroidRequirements(t *testing.T) {
	spec := controller.Spec{Implementation: controller.AndroidMobile, Params: map[string]string{"device_ip": "10.0.0.5"}}
	if _, err := NewAndroid(spec, controller.Deps{}); !errors.Is(err, controller.ErrMissingDependency) {
		t.Errorf("expected ErrMissingDependency, got %v", err)
	}

	spec.Params = map[string]string{}
	if _, err := NewAndroid(spec, controller.Deps{ADB: adb.NewClient("adb", newScriptedRunner())}); err == nil {
		t.Error("expected error without device_ip")
	}
}

func TestAndroidAutoConnectsAndPressesKey(t *testing.T) {
	r := newScriptedRunner()
	a := newTestAndroid(t, r)

	res := a.ExecuteCommand(context.Background(), "press_key", map[string]interface{}{"key": "HOME"})
	if !res.Success {
		t.Fatalf("press_key failed: %+v", res)
	}
	if !a.IsConnected() {
		t.Error("expected controller to be connected")
	}

	want := []string{
		"connect 10.0.0.5:5555",
		"devices -l",
		"-s 10.0.0.5:5555 shell input keyevent 3",
	}
	if diff := cmp.Diff(want, r.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestAndroidReconnectsOnceOnTransportFailure(t *testing.T) {
	r := newScriptedRunner()
	r.failOnce["-s 10.0.0.5:5555 shell input keyevent 3"] = errors.New("exit status 1")
	a := newTestAndroid(t, r)

	res := a.ExecuteCommand(context.Background(), "press_key", map[string]interface{}{"key": "HOME"})
	if !res.Success {
		t.Fatalf("expected retry to succeed: %+v", res)
	}

	want := []string{
		"connect 10.0.0.5:5555",
		"devices -l",
		"-s 10.0.0.5:5555 shell input keyevent 3",
		"connect 10.0.0.5:5555",
		"devices -l",
		"-s 10.0.0.5:5555 shell input keyevent 3",
	}
	if diff := cmp.Diff(want, r.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestAndroidLogicalFailureIsNotRetried(t *testing.T) {
	r := newScriptedRunner()
	a := newTestAndroid(t, r)

	res := a.ExecuteCommand(context.Background(), "press_key", map[string]interface{}{"key": "NOT_A_KEY"})
	if res.Success {
		t.Fatal("expected failure for unknown key")
	}
	if got := len(r.Calls()); got != 2 {
		t.Errorf("expected only the connect calls, got %d", got)
	}
	if _, ok := res.Data["valid_keys"]; !ok {
		t.Error("expected valid_keys in result data")
	}
}

func TestAndroidGetProperty(t *testing.T) {
	r := newScriptedRunner()
	r.responses["-s 10.0.0.5:5555 shell getprop ro.product.model"] = "SHIELD Android TV\n"
	a := newTestAndroid(t, r)

	res := a.ExecuteCommand(context.Background(), "get_property", map[string]interface{}{"property": "ro.product.model"})
	if !res.Success {
		t.Fatalf("get_property failed: %+v", res)
	}
	if got := res.Data["value"]; got != "SHIELD Android TV" {
		t.Errorf("value = %v, want SHIELD Android TV", got)
	}

	res = a.ExecuteCommand(context.Background(), "get_property", nil)
	if res.Success {
		t.Error("expected failure without property")
	}
}

func TestAndroidUnknownCommand(t *testing.T) {
	a := newTestAndroid(t, newScriptedRunner())

	res := a.ExecuteCommand(context.Background(), "teleport", nil)
	if res.Success || !res.Unknown {
		t.Fatalf("expected unknown command result, got %+v", res)
	}
	if diff := cmp.Diff(a.Commands(), res.ValidCommands); diff != "" {
		t.Errorf("valid commands mismatch (-want +got):\n%s", diff)
	}
}

func TestAndroidClickElement(t *testing.T) {
	r := newScriptedRunner()
	r.responses["-s 10.0.0.5:5555 shell uiautomator dump /sdcard/ui_dump.xml"] = "UI hierchary dumped to: /sdcard/ui_dump.xml"
	r.responses["-s 10.0.0.5:5555 shell cat /sdcard/ui_dump.xml"] = uiDump
	a := newTestAndroid(t, r)

	res := a.ExecuteCommand(context.Background(), "click_element", map[string]interface{}{"search_term": "ok"})
	if !res.Success {
		t.Fatalf("click_element failed: %+v", res)
	}
	calls := r.Calls()
	if got := calls[len(calls)-1]; got != "-s 10.0.0.5:5555 shell input tap 200 2290" {
		t.Errorf("last call = %q", got)
	}
	if len(a.Elements()) != 2 {
		t.Errorf("expected cached elements, got %d", len(a.Elements()))
	}

	res = a.ExecuteCommand(context.Background(), "click_element", map[string]interface{}{"search_term": "Cancel"})
	if res.Success {
		t.Error("expected failure for missing element")
	}
}

func TestAndroidElementCommands(t *testing.T) {
	r := newScriptedRunner()
	r.responses["-s 10.0.0.5:5555 shell uiautomator dump /sdcard/ui_dump.xml"] = "UI hierchary dumped to: /sdcard/ui_dump.xml"
	r.responses["-s 10.0.0.5:5555 shell cat /sdcard/ui_dump.xml"] = uiDump
	a := newTestAndroid(t, r)
	ctx := context.Background()

	res := a.ExecuteCommand(ctx, "dump_elements", nil)
	if !res.Success || res.Data["count"] != 2 {
		t.Fatalf("dump_elements: %+v", res)
	}
	ids := a.Elements()
	if len(ids) != 2 {
		t.Fatalf("expected 2 cached elements, got %d", len(ids))
	}

	before := len(r.Calls())
	res = a.ExecuteCommand(ctx, "click_element_by_id", map[string]interface{}{"element_id": ids[1].ID})
	if !res.Success {
		t.Fatalf("click_element_by_id: %+v", res)
	}
	want := []string{"-s 10.0.0.5:5555 shell input tap 200 2290"}
	if diff := cmp.Diff(want, r.Calls()[before:]); diff != "" {
		t.Errorf("click by id should reuse the last dump (-want +got):\n%s", diff)
	}

	res = a.ExecuteCommand(ctx, "click_element_by_id", map[string]interface{}{"element_id": 99})
	if res.Success {
		t.Error("expected failure for unknown id")
	}

	res = a.ExecuteCommand(ctx, "check_element_exists", map[string]interface{}{"search_term": "Cancel|Wi-Fi"})
	if !res.Success || res.Data["matched_term"] != "Wi-Fi" {
		t.Errorf("check_element_exists: %+v", res)
	}

	res = a.ExecuteCommand(ctx, "input_text_in_element", map[string]interface{}{"search_term": "Wi-Fi", "text": "home"})
	if !res.Success {
		t.Fatalf("input_text_in_element: %+v", res)
	}
	calls := r.Calls()
	want = []string{"-s 10.0.0.5:5555 shell input tap 540 260", "-s 10.0.0.5:5555 shell input text home"}
	if diff := cmp.Diff(want, calls[len(calls)-2:]); diff != "" {
		t.Errorf("input calls mismatch (-want +got):\n%s", diff)
	}
}

func TestAndroidSequence(t *testing.T) {
	r := newScriptedRunner()
	a := newTestAndroid(t, r)

	ok := a.ExecuteSequence(context.Background(),
		[]models.Action{{Command: "press_key", Params: map[string]interface{}{"key": "BOGUS"}}},
		nil,
		[]models.Action{{Command: "press_key", Params: map[string]interface{}{"key": "BACK"}}},
	)
	if !ok {
		t.Error("expected failure batch result to be reported")
	}
	calls := r.Calls()
	if got := calls[len(calls)-1]; got != "-s 10.0.0.5:5555 shell input keyevent 4" {
		t.Errorf("last call = %q", got)
	}
}

func TestPulseSpaceFile(t *testing.T) {
	got, err := PulseSpaceFile("+9000 -4500 +560")
	if err != nil {
		t.Fatal(err)
	}
	if want := "pulse 9000\nspace 4500\npulse 560\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	for _, bad := range []string{"", "9000", "+abc", "+0"} {
		if _, err := PulseSpaceFile(bad); err == nil {
			t.Errorf("PulseSpaceFile(%q): expected error", bad)
		}
	}
}

func TestParseIRConfig(t *testing.T) {
	codes, err := ParseIRConfig([]byte(`{"power": "+9000 -4500", "Home": "+100 -100", "meta": 3}`))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"POWER": "+9000 -4500", "HOME": "+100 -100"}
	if diff := cmp.Diff(want, codes); diff != "" {
		t.Errorf("codes mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{"not json", "[]", "{}"} {
		if _, err := ParseIRConfig([]byte(bad)); err == nil {
			t.Errorf("ParseIRConfig(%q): expected error", bad)
		}
	}
}

type recordingRunner struct {
	mu    sync.Mutex
	names []string
	args  [][]string
	sent  string
}

func (r *recordingRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	r.args = append(r.args, args)
	for _, a := range args {
		if path, ok := strings.CutPrefix(a, "--send="); ok {
			data, _ := os.ReadFile(path)
			r.sent = string(data)
		}
	}
	return nil, nil
}

func TestInfraredPressKey(t *testing.T) {
	dir := t.TempDir()
	device := filepath.Join(dir, "lirc0")
	if err := os.WriteFile(device, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "samsung.json"), []byte(`{"POWER": "+4500 -4500 +560"}`), 0644); err != nil {
		t.Fatal(err)
	}

	rr := &recordingRunner{}
	spec := controller.Spec{Params: map[string]string{"ir_path": device, "ir_type": "samsung"}}
	ir, err := NewInfrared(spec, controller.Deps{IRConfigDir: dir, Runner: rr})
	if err != nil {
		t.Fatal(err)
	}

	if res := ir.ExecuteCommand(context.Background(), "press_key", map[string]interface{}{"key": "power"}); res.Success {
		t.Error("expected failure before connect")
	}

	if err := ir.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	res := ir.ExecuteCommand(context.Background(), "press_key", map[string]interface{}{"key": "power"})
	if !res.Success {
		t.Fatalf("press_key failed: %+v", res)
	}
	if len(rr.names) != 1 || rr.names[0] != "ir-ctl" || rr.args[0][1] != device {
		t.Errorf("unexpected invocation: %v %v", rr.names, rr.args)
	}
	if rr.sent != "pulse 4500\nspace 4500\npulse 560\n" {
		t.Errorf("sent %q", rr.sent)
	}

	if res := ir.ExecuteCommand(context.Background(), "press_key", map[string]interface{}{"key": "MENU"}); res.Success {
		t.Error("expected failure for key missing from table")
	}
}

func TestInfraredConnectMissingDevice(t *testing.T) {
	spec := controller.Spec{Params: map[string]string{"ir_path": "/nonexistent/lirc9", "ir_type": "samsung"}}
	ir, err := NewInfrared(spec, controller.Deps{IRConfigDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if err := ir.Connect(context.Background()); err == nil {
		t.Error("expected error for missing IR device")
	}
	if ir.IsConnected() {
		t.Error("expected disconnected")
	}
}

type bridgeExec struct {
	out   string
	stdin []string
}

func (b *bridgeExec) Exec(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	b.stdin = append(b.stdin, string(stdin))
	return []byte(b.out), nil
}

func TestAppiumForwardsToBridge(t *testing.T) {
	be := &bridgeExec{out: `{"success": true, "message": "tapped"}`}
	spec := controller.Spec{Params: map[string]string{"appium_device_id": "UDID-1", "appium_platform_name": "iOS"}}
	a, err := NewAppium(spec, controller.Deps{Bridges: controller.Bridges{Appium: bridge.New("appium-bridge", be)}})
	if err != nil {
		t.Fatal(err)
	}

	res := a.ExecuteCommand(context.Background(), "tap_coordinates", map[string]interface{}{"x": 10, "y": 20})
	if !res.Success || res.Message != "tapped" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(be.stdin) != 1 || !strings.Contains(be.stdin[0], `"device_id":"UDID-1"`) || !strings.Contains(be.stdin[0], `"method":"tap_coordinates"`) {
		t.Errorf("unexpected request: %v", be.stdin)
	}

	if res := a.ExecuteCommand(context.Background(), "dump_elements", nil); !res.Unknown {
		t.Errorf("expected unknown command, got %+v", res)
	}
}

func TestAppiumCommandsReturnsCopy(t *testing.T) {
	spec := controller.Spec{Params: map[string]string{"appium_device_id": "UDID-1"}}
	a, err := NewAppium(spec, controller.Deps{Bridges: controller.Bridges{Appium: bridge.New("appium-bridge", &bridgeExec{})}})
	if err != nil {
		t.Fatal(err)
	}

	want := a.Commands()
	got := a.Commands()
	got[0] = "rm_rf"
	if diff := cmp.Diff(want, a.Commands()); diff != "" {
		t.Errorf("command list was mutated (-want +got):\n%s", diff)
	}
	res := a.ExecuteCommand(context.Background(), "teleport", nil)
	res.ValidCommands[0] = "rm_rf"
	if diff := cmp.Diff(want, a.Commands()); diff != "" {
		t.Errorf("command list was mutated through a result (-want +got):\n%s", diff)
	}
}

func TestNewAppiumRequiresBridge(t *testing.T) {
	if _, err := NewAppium(controller.Spec{}, controller.Deps{}); !errors.Is(err, controller.ErrMissingDependency) {
		t.Errorf("expected ErrMissingDependency, got %v", err)
	}
}
