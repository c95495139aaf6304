// Package av implements the AV controllers. They never drive capture
// themselves: an external FFmpeg service keeps writing frames and HLS
// segments, and these controllers pick files out of its output.
package av

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelstreet/virtualpytest-sub004/capture"
	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/logging"
	"github.com/angelstreet/virtualpytest-sub004/store"
)

// Capture rates of the external capture process.
const (
	VNCFPS     = 2
	DefaultFPS = 5
)

// DefaultSegmentDuration is the HLS segment length the capture process uses.
const DefaultSegmentDuration = 2 * time.Second

const sessionsTable = "capture_sessions"

// Controller is an AV controller over one capture slot.
type Controller struct {
	*controller.Base

	deviceID   string
	streamPath string
	store      *capture.Store
	fps        int
	records    store.RecordStore
	runner     controller.Runner

	mu      sync.Mutex
	session controller.CaptureSession
	timer   *time.Timer
}

// Register adds the AV implementations to r.
func Register(r *controller.Registry) {
	for _, impl := range []controller.Implementation{controller.HDMIStream, controller.CameraStream, controller.VNCStream} {
		r.Register(controller.TypeAV, impl, controller.Adapt(New))
	}
}

// New creates an AV controller from its spec.
func New(spec controller.Spec, deps controller.Deps) (*Controller, error) {
	capturePath := spec.Param("video_capture_path")
	if capturePath == "" {
		return nil, fmt.Errorf("%s: video_capture_path is required", spec.Implementation)
	}

	fps := DefaultFPS
	if spec.Implementation == controller.VNCStream {
		fps = VNCFPS
	}

	return &Controller{
		Base:       controller.NewBase(controller.TypeAV, spec.Implementation, spec.Param("real_device_name")),
		deviceID:   spec.Param("device_id"),
		streamPath: spec.Param("video_stream_path"),
		store:      capture.NewStore(capturePath),
		fps:        fps,
		records:    deps.Store,
		runner:     deps.RunnerOrDefault(),
	}, nil
}

// Connect checks the capture directory is there.
func (c *Controller) Connect(ctx context.Context) error {
	if _, err := os.Stat(c.store.Base()); err != nil {
		c.SetConnected(false)
		return fmt.Errorf("capture path unavailable: %w", err)
	}
	c.SetConnected(true)
	return nil
}

// Disconnect stops any capture session.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.StopVideoCapture(ctx)
	c.SetConnected(false)
	return nil
}

// Store returns the capture reader.
func (c *Controller) Store() *capture.Store { return c.store }

// ScreenshotFPS is the capture rate of the slot.
func (c *Controller) ScreenshotFPS() int { return c.fps }

// StreamPath is where the live stream is served from.
func (c *Controller) StreamPath() string { return c.streamPath }

// TakeScreenshot returns the capture closest to now. It fails rather than
// returning an old frame.
func (c *Controller) TakeScreenshot(ctx context.Context) (string, error) {
	path, err := c.store.TakeScreenshot(ctx)
	if err != nil {
		logging.Warn("av").Str("device", c.DeviceName()).Err(err).Msg("No fresh screenshot")
		return "", err
	}
	return path, nil
}

// SaveScreenshot copies the current screenshot to <capture>/saved/<name>.jpg
// so it survives capture rotation.
func (c *Controller) SaveScreenshot(ctx context.Context, name string) (string, error) {
	src, err := c.TakeScreenshot(ctx)
	if err != nil {
		return "", err
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(src), ".jpg")
	}
	dst := filepath.Join(c.store.Base(), "saved", filepath.Base(name)+".jpg")
	if err := copyFile(src, dst); err != nil {
		return "", fmt.Errorf("save screenshot failed: %w", err)
	}
	return dst, nil
}

// StartVideoCapture opens a capture session that stops by itself after
// duration.
func (c *Controller) StartVideoCapture(ctx context.Context, duration time.Duration, filename string) (controller.CaptureSession, error) {
	if duration <= 0 {
		return controller.CaptureSession{}, fmt.Errorf("invalid capture duration %v", duration)
	}

	c.mu.Lock()
	if c.session.Active {
		s := c.session
		c.mu.Unlock()
		return s, fmt.Errorf("capture session %s already active", s.ID)
	}
	session := controller.CaptureSession{
		ID:        uuid.New().String(),
		StartTime: time.Now(),
		Duration:  duration,
		Filename:  filename,
		Active:    true,
	}
	c.session = session
	id := session.ID
	c.timer = time.AfterFunc(duration, func() { c.autoStop(id) })
	c.mu.Unlock()

	logging.Info("av").
		Str("device", c.DeviceName()).
		Str("session", id).
		Dur("duration", duration).
		Msg("Video capture started")
	c.record(ctx, session)
	return session, nil
}

// StopVideoCapture ends the active session. ok is false when none was active.
func (c *Controller) StopVideoCapture(ctx context.Context) (controller.CaptureSession, bool) {
	c.mu.Lock()
	if !c.session.Active {
		c.mu.Unlock()
		return controller.CaptureSession{}, false
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.session.Active = false
	s := c.session
	c.mu.Unlock()

	logging.Info("av").Str("device", c.DeviceName()).Str("session", s.ID).Msg("Video capture stopped")
	c.record(ctx, s)
	return s, true
}

// autoStop ends session id if it is still the active one.
func (c *Controller) autoStop(id string) {
	c.mu.Lock()
	if !c.session.Active || c.session.ID != id {
		c.mu.Unlock()
		return
	}
	c.session.Active = false
	c.timer = nil
	s := c.session
	c.mu.Unlock()

	logging.Info("av").Str("device", c.DeviceName()).Str("session", id).Msg("Video capture duration elapsed")
	c.record(context.Background(), s)
}

// IsCapturingVideo reports whether a session is active.
func (c *Controller) IsCapturingVideo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Active
}

// Session returns the last session and whether one was ever started.
func (c *Controller) Session() (controller.CaptureSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.session.ID != ""
}

func (c *Controller) record(ctx context.Context, s controller.CaptureSession) {
	if c.records == nil {
		return
	}
	rec := store.Record{
		"id":               s.ID,
		"device_id":        c.deviceID,
		"device_name":      c.DeviceName(),
		"start_time":       s.StartTime.Format(time.RFC3339Nano),
		"duration_seconds": s.Duration.Seconds(),
		"filename":         s.Filename,
		"active":           s.Active,
	}
	if _, err := c.records.Upsert(ctx, sessionsTable, rec); err != nil {
		logging.Warn("av").Err(err).Str("session", s.ID).Msg("Failed to record capture session")
	}
}

// TakeVideo concatenates the most recent HLS segments covering duration into
// an MP4 at outPath (or <capture>/videos/video_<unix>.mp4).
func (c *Controller) TakeVideo(ctx context.Context, duration time.Duration, outPath string) (string, error) {
	segments, err := c.store.ListSegments()
	if err != nil {
		return "", err
	}
	picked := RecentSegments(segments, duration, DefaultSegmentDuration)
	if len(picked) == 0 {
		return "", fmt.Errorf("no HLS segments in %s", c.store.SegmentsDir())
	}

	if outPath == "" {
		outPath = filepath.Join(c.store.Base(), "videos", fmt.Sprintf("video_%d.mp4", time.Now().Unix()))
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return "", err
	}

	list, err := os.CreateTemp("", "segments-*.txt")
	if err != nil {
		return "", err
	}
	defer os.Remove(list.Name())
	for _, s := range picked {
		fmt.Fprintf(list, "file '%s'\n", strings.ReplaceAll(s.Path, "'", `'\''`))
	}
	if err := list.Close(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	out, err := c.runner.Run(ctx, "ffmpeg", "-y", "-f", "concat", "-safe", "0", "-i", list.Name(), "-c", "copy", outPath)
	if err != nil {
		return "", fmt.Errorf("ffmpeg concat failed: %w, output: %s", err, lastLine(string(out)))
	}

	logging.Info("av").Str("device", c.DeviceName()).Int("segments", len(picked)).Str("path", outPath).Msg("Video assembled")
	return outPath, nil
}

// RecentSegments returns the newest segments (in sequence order) whose total
// length covers duration.
func RecentSegments(segments []capture.Capture, duration, segmentLen time.Duration) []capture.Capture {
	if len(segments) == 0 {
		return nil
	}
	n := int((duration + segmentLen - 1) / segmentLen)
	if n < 1 {
		n = 1
	}
	if n > len(segments) {
		n = len(segments)
	}
	return segments[len(segments)-n:]
}

// Status adds capture state to the shared fields.
func (c *Controller) Status() map[string]interface{} {
	st := c.Base.Status()
	st["video_stream_path"] = c.streamPath
	st["video_capture_path"] = c.store.Base()
	st["screenshot_fps"] = c.fps
	c.mu.Lock()
	st["is_capturing_video"] = c.session.Active
	if c.session.ID != "" {
		st["capture_session_id"] = c.session.ID
		st["capture_start_time"] = c.session.StartTime
		st["capture_duration"] = c.session.Duration.Seconds()
	}
	c.mu.Unlock()
	return st
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
