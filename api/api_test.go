package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/controller/av"
	"github.com/angelstreet/virtualpytest-sub004/controller/desktop"
	"github.com/angelstreet/virtualpytest-sub004/models"
	"github.com/angelstreet/virtualpytest-sub004/service"
	"github.com/angelstreet/virtualpytest-sub004/store"
)

type fakeRemote struct {
	*controller.Base
	commands controller.CommandTable
}

func newFakeRemote() *fakeRemote {
	r := &fakeRemote{Base: controller.NewBase(controller.TypeRemote, controller.AndroidTV, "TV")}
	r.commands = controller.CommandTable{
		"press_key": func(ctx context.Context, p map[string]interface{}) models.CommandResult {
			if controller.StringParam(p, "key") == "" {
				return models.CommandFailed("key is required")
			}
			return models.CommandOK("pressed " + controller.StringParam(p, "key"))
		},
		"check_element_exists": func(ctx context.Context, p map[string]interface{}) models.CommandResult {
			res := models.CommandOK("found")
			res.Data = map[string]interface{}{"search_term": controller.StringParam(p, "search_term")}
			return res
		},
	}
	return r
}

func (r *fakeRemote) Commands() []string { return r.commands.Names() }

func (r *fakeRemote) ExecuteCommand(ctx context.Context, command string, params map[string]interface{}) models.CommandResult {
	return r.commands.Execute(ctx, command, params)
}

func (r *fakeRemote) ExecuteSequence(ctx context.Context, actions, retryActions, failureActions []models.Action) bool {
	return controller.RunSequence(ctx, func(ctx context.Context, a models.Action) models.CommandResult {
		return r.ExecuteCommand(ctx, a.Command, a.Params)
	}, actions, retryActions, failureActions)
}

type fakeVerifier struct {
	*controller.Base
}

func (v *fakeVerifier) ExecuteVerification(ctx context.Context, cfg models.VerificationConfig) models.VerificationResult {
	if controller.BoolParam(cfg.Params, "pass", false) {
		return models.VerificationResult{Success: true, Message: "ok", Confidence: 1}
	}
	return models.VerificationFailed("not found")
}

type echoRunner struct{}

func (echoRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return []byte(strings.Join(append([]string{name}, args...), " ") + "\n"), nil
}

type testServer struct {
	router   *gin.Engine
	host     *service.Host
	records  *store.SQLiteStore
	captures string
	hub      *WebSocketHub
	feed     *service.CaptureFeed
}

// newTestServer builds a host with device1 (AV, remote, image verification,
// bash desktop) and device2 (nothing).
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	records, err := store.Open(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { records.Close() })

	base := t.TempDir()
	captures := filepath.Join(base, "captures")
	if err := os.MkdirAll(captures, 0755); err != nil {
		t.Fatal(err)
	}
	a, err := av.New(controller.Spec{
		Type:           controller.TypeAV,
		Implementation: controller.HDMIStream,
		Params:         map[string]string{"video_capture_path": base},
	}, controller.Deps{Store: records})
	if err != nil {
		t.Fatal(err)
	}
	bash, err := desktop.NewBash(controller.Spec{}, controller.Deps{Runner: echoRunner{}})
	if err != nil {
		t.Fatal(err)
	}

	d := service.NewDevice("device1", "TV", "android_tv")
	d.AddController("av", a)
	d.AddController("remote_android_tv", newFakeRemote())
	d.AddController("verification_image", &fakeVerifier{Base: controller.NewBase(controller.TypeVerification, controller.VerifyImage, "TV")})
	d.AddController("desktop_bash", bash)
	d.Actions, _ = service.NewActionExecutor(d, records)
	d.Verifications, _ = service.NewVerificationExecutor(d, records)
	d.Navigation, _ = service.NewNavigationExecutor(d, d.Actions, d.Verifications, records)

	host := service.NewHost("bench-01", "http://localhost:6109", "6109")
	host.AddDevice(d)
	host.AddDevice(service.NewDevice("device2", "STB", "stb"))

	hub := NewWebSocketHub()
	go hub.Run()
	feed := service.NewCaptureFeed(host.Device, hub)
	t.Cleanup(feed.StopAll)

	router := gin.New()
	SetupRoutes(router, host, records, hub, feed)
	return &testServer{router: router, host: host, records: records, captures: captures, hub: hub, feed: feed}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, models.APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp models.APIResponse
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s %s: invalid JSON %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, resp
}

func dataMap(t *testing.T, resp models.APIResponse) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data is %T, want object", resp.Data)
	}
	return m
}

func TestHealthAndDevices(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodGet, "/health", nil)
	if code != http.StatusOK || dataMap(t, resp)["devices"] != float64(2) {
		t.Errorf("health = %d %+v", code, resp)
	}

	code, resp = s.do(t, http.MethodGet, "/api/devices", nil)
	if code != http.StatusOK {
		t.Fatalf("devices = %d", code)
	}
	devices := resp.Data.([]interface{})
	if len(devices) != 2 {
		t.Fatalf("got %d devices", len(devices))
	}
	first := devices[0].(map[string]interface{})
	if first["device_id"] != "device1" {
		t.Errorf("first device = %v", first)
	}
	caps := first["capabilities"].([]interface{})
	want := []interface{}{"av", "desktop", "remote", "verification"}
	if diff := cmp.Diff(want, caps); diff != "" {
		t.Errorf("capabilities (-want +got):\n%s", diff)
	}

	code, _ = s.do(t, http.MethodGet, "/api/devices/nope", nil)
	if code != http.StatusNotFound {
		t.Errorf("unknown device = %d, want 404", code)
	}

	code, resp = s.do(t, http.MethodGet, "/api/devices/device1", nil)
	if code != http.StatusOK {
		t.Fatalf("device1 = %d", code)
	}
	if _, ok := dataMap(t, resp)["status"].(map[string]interface{})["remote_android_tv"]; !ok {
		t.Errorf("status missing remote: %v", resp.Data)
	}
}

func TestRemoteCommand(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/devices/device1/remote/command", models.CommandRequest{
		Command: "press_key",
		Params:  map[string]interface{}{"key": "HOME"},
	})
	if code != http.StatusOK || !resp.Success || dataMap(t, resp)["message"] != "pressed HOME" {
		t.Errorf("press_key = %d %+v", code, resp)
	}

	code, resp = s.do(t, http.MethodPost, "/api/devices/device1/remote/command", models.CommandRequest{Command: "reboot"})
	if code != http.StatusBadRequest || resp.Success {
		t.Errorf("unknown command = %d %+v", code, resp)
	}
	valid := dataMap(t, resp)["valid_commands"].([]interface{})
	if diff := cmp.Diff([]interface{}{"check_element_exists", "press_key"}, valid); diff != "" {
		t.Errorf("valid_commands (-want +got):\n%s", diff)
	}

	code, _ = s.do(t, http.MethodPost, "/api/devices/device2/remote/command", models.CommandRequest{Command: "press_key"})
	if code != http.StatusConflict {
		t.Errorf("device without remote = %d, want 409", code)
	}
	code, _ = s.do(t, http.MethodPost, "/api/devices/device1/remote/command", nil)
	if code != http.StatusBadRequest {
		t.Errorf("missing body = %d, want 400", code)
	}
}

func TestControllerCommand(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/devices/device1/controllers/desktop_bash/command", models.CommandRequest{
		Command: "execute_bash_command",
		Params:  map[string]interface{}{"command": "uptime"},
	})
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("bash = %d %+v", code, resp)
	}
	if got := dataMap(t, resp)["data"].(map[string]interface{})["output"]; got != "bash -c uptime" {
		t.Errorf("output = %v", got)
	}

	code, _ = s.do(t, http.MethodPost, "/api/devices/device1/controllers/av/command", models.CommandRequest{Command: "x"})
	if code != http.StatusBadRequest {
		t.Errorf("AV command = %d, want 400", code)
	}
	code, _ = s.do(t, http.MethodPost, "/api/devices/device1/controllers/power/command", models.CommandRequest{Command: "x"})
	if code != http.StatusNotFound {
		t.Errorf("missing controller = %d, want 404", code)
	}
}

func TestSequenceAndExecutions(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/devices/device1/remote/sequence", models.SequenceRequest{
		Actions: []models.Action{{Command: "press_key", Params: map[string]interface{}{"key": "HOME"}}},
	})
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("sequence = %d %+v", code, resp)
	}

	code, resp = s.do(t, http.MethodPost, "/api/devices/device1/remote/sequence", models.SequenceRequest{
		Actions:        []models.Action{{Command: "press_key"}},
		FailureActions: []models.Action{{Command: "nope"}},
	})
	if code != http.StatusOK || resp.Success {
		t.Errorf("failing sequence = %d %+v", code, resp)
	}

	code, resp = s.do(t, http.MethodGet, "/api/executions?device_id=device1&limit=1", nil)
	if code != http.StatusOK {
		t.Fatalf("executions = %d", code)
	}
	recs := resp.Data.([]interface{})
	if len(recs) != 1 || recs[0].(map[string]interface{})["success"] != false {
		t.Errorf("executions = %v", recs)
	}

	code, resp = s.do(t, http.MethodPost, "/api/batch/sequence", models.BatchSequenceRequest{
		DeviceIDs:       []string{"device1", "device2"},
		SequenceRequest: models.SequenceRequest{Actions: []models.Action{{Command: "press_key", Params: map[string]interface{}{"key": "OK"}}}},
	})
	if code != http.StatusOK || resp.Success {
		t.Errorf("batch with a remote-less device = %d %+v", code, resp)
	}
	if results := resp.Data.([]interface{}); len(results) != 2 {
		t.Errorf("batch results = %v", results)
	}
}

func TestVerificationAndNavigation(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/devices/device1/verification", verificationRequest{
		Verifications: []models.VerificationConfig{{VerificationType: "image", Command: "wait_for_image_to_appear", Params: map[string]interface{}{"pass": true}}},
	})
	if code != http.StatusOK || !resp.Success {
		t.Errorf("verification = %d %+v", code, resp)
	}

	code, resp = s.do(t, http.MethodPost, "/api/devices/device1/navigation", models.Transition{
		ToNodeID: "home",
		Actions:  []models.Action{{Command: "press_key", Params: map[string]interface{}{"key": "HOME"}}},
	})
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("navigation = %d %+v", code, resp)
	}
	d, _ := s.host.Device("device1")
	if node, _ := d.NavigationValue(service.CurrentNodeKey); node != "home" {
		t.Errorf("current node = %v", node)
	}

	code, _ = s.do(t, http.MethodPost, "/api/devices/device1/navigation", models.Transition{})
	if code != http.StatusBadRequest {
		t.Errorf("navigation without target = %d, want 400", code)
	}
	code, _ = s.do(t, http.MethodPost, "/api/devices/device2/verification", verificationRequest{
		Verifications: []models.VerificationConfig{{VerificationType: "image"}},
	})
	if code != http.StatusConflict {
		t.Errorf("device without verification = %d, want 409", code)
	}
}

func TestSearchElements(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/devices/device1/elements/search", searchRequest{SearchTerm: "Settings"})
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("search = %d %+v", code, resp)
	}
	if got := dataMap(t, resp)["data"].(map[string]interface{})["search_term"]; got != "Settings" {
		t.Errorf("search_term = %v", got)
	}
	code, _ = s.do(t, http.MethodPost, "/api/devices/device1/elements/search", searchRequest{})
	if code != http.StatusBadRequest {
		t.Errorf("empty search = %d, want 400", code)
	}
}

func TestScreenshotAndVideo(t *testing.T) {
	s := newTestServer(t)

	path := filepath.Join(s.captures, "capture_7.jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0644); err != nil {
		t.Fatal(err)
	}
	code, resp := s.do(t, http.MethodPost, "/api/devices/device1/av/screenshot", nil)
	if code != http.StatusOK || dataMap(t, resp)["path"] != path {
		t.Errorf("screenshot = %d %+v", code, resp)
	}
	code, _ = s.do(t, http.MethodPost, "/api/devices/device2/av/screenshot", nil)
	if code != http.StatusConflict {
		t.Errorf("screenshot without AV = %d, want 409", code)
	}

	code, resp = s.do(t, http.MethodPost, "/api/devices/device1/av/video/start", videoRequest{Duration: 30, Filename: "run.mp4"})
	if code != http.StatusOK || dataMap(t, resp)["active"] != true {
		t.Fatalf("video start = %d %+v", code, resp)
	}
	code, _ = s.do(t, http.MethodPost, "/api/devices/device1/av/video/start", videoRequest{Duration: 30})
	if code != http.StatusConflict {
		t.Errorf("second start = %d, want 409", code)
	}
	code, resp = s.do(t, http.MethodPost, "/api/devices/device1/av/video/stop", nil)
	if code != http.StatusOK || dataMap(t, resp)["active"] != false {
		t.Errorf("video stop = %d %+v", code, resp)
	}
	code, _ = s.do(t, http.MethodPost, "/api/devices/device1/av/video/stop", nil)
	if code != http.StatusConflict {
		t.Errorf("stop without session = %d, want 409", code)
	}
}

func TestWebSocketCaptureFeed(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	read := func() map[string]interface{} {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		return msg
	}

	if err := conn.WriteJSON(ClientMessage{Type: "subscribe", DeviceID: "nope"}); err != nil {
		t.Fatal(err)
	}
	if msg := read(); msg["type"] != "error" {
		t.Errorf("subscribe to unknown device = %v", msg)
	}

	if err := conn.WriteJSON(ClientMessage{Type: "subscribe", DeviceID: "device1"}); err != nil {
		t.Fatal(err)
	}
	if msg := read(); msg["type"] != "subscribed" {
		t.Fatalf("subscribe = %v", msg)
	}
	if s.feed.State("device1") != service.FeedRunning {
		t.Errorf("feed state = %s", s.feed.State("device1"))
	}

	if err := os.WriteFile(filepath.Join(s.captures, "capture_3.jpg"), []byte("jpeg"), 0644); err != nil {
		t.Fatal(err)
	}
	msg := read()
	if msg["type"] != "capture" || msg["device_id"] != "device1" || msg["sequence"] != float64(3) {
		t.Errorf("capture message = %v", msg)
	}

	if err := conn.WriteJSON(ClientMessage{Type: "unsubscribe", DeviceID: "device1"}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for s.feed.Viewers("device1") != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := s.feed.State("device1"); got != service.FeedIdle {
		t.Errorf("feed state after unsubscribe = %s, want IDLE", got)
	}
}
