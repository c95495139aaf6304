package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/angelstreet/virtualpytest-sub004/capture"
	"github.com/angelstreet/virtualpytest-sub004/logging"
)

// Broadcaster delivers messages to the subscribers of a device.
type Broadcaster interface {
	BroadcastToDevice(deviceID string, message interface{})
}

// DeviceLookup finds a device by id.
type DeviceLookup func(id string) (*Device, bool)

// WarmFeedTTL keeps a feed watching after its last viewer leaves.
const WarmFeedTTL = 120 * time.Second

// FeedState is the lifecycle state of a device feed.
type FeedState int

const (
	FeedStopped FeedState = iota // not watching
	FeedRunning                  // watching with viewers
	FeedIdle                     // watching without viewers, waiting for TTL
)

func (s FeedState) String() string {
	return [...]string{"STOPPED", "RUNNING", "IDLE"}[s]
}

// CaptureMessage is what viewers receive for each new capture.
type CaptureMessage struct {
	Type      string `json:"type"`
	DeviceID  string `json:"device_id"`
	Path      string `json:"path"`
	Sequence  int    `json:"sequence"`
	Timestamp int64  `json:"timestamp"` // unix ms
}

func newCaptureMessage(ev capture.Event) CaptureMessage {
	return CaptureMessage{
		Type:      "capture",
		DeviceID:  ev.DeviceID,
		Path:      ev.Path,
		Sequence:  ev.Sequence,
		Timestamp: ev.Time.UnixMilli(),
	}
}

// CaptureFeed pushes new captures of a device to its WebSocket viewers. A
// feed starts with its first viewer and stops WarmFeedTTL after its last.
type CaptureFeed struct {
	lookup DeviceLookup
	hub    Broadcaster
	ttl    time.Duration
	mu     sync.RWMutex
	feeds  map[string]*deviceFeed
}

type deviceFeed struct {
	deviceID string
	watcher  *capture.Watcher

	mu        sync.Mutex
	state     FeedState
	viewers   int
	idleTimer *time.Timer
	cancel    context.CancelFunc
	last      *capture.Event
}

// NewCaptureFeed creates a feed service.
func NewCaptureFeed(lookup DeviceLookup, hub Broadcaster) *CaptureFeed {
	return &CaptureFeed{
		lookup: lookup,
		hub:    hub,
		ttl:    WarmFeedTTL,
		feeds:  make(map[string]*deviceFeed),
	}
}

// SetTTL changes the warm period for feeds going idle from now on.
func (f *CaptureFeed) SetTTL(ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttl = ttl
}

func (f *CaptureFeed) feed(deviceID string) (*deviceFeed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if fd, ok := f.feeds[deviceID]; ok {
		return fd, nil
	}
	d, ok := f.lookup(deviceID)
	if !ok {
		return nil, fmt.Errorf("device not found: %s", deviceID)
	}
	av, ok := d.AV()
	if !ok {
		return nil, fmt.Errorf("device %s has no AV controller", deviceID)
	}
	fd := &deviceFeed{
		deviceID: deviceID,
		watcher:  capture.NewWatcher(av.Store(), deviceID),
	}
	f.feeds[deviceID] = fd
	return fd, nil
}

func (f *CaptureFeed) existing(deviceID string) (*deviceFeed, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fd, ok := f.feeds[deviceID]
	return fd, ok
}

// AddViewer counts a viewer, starting the feed if needed. The last capture
// seen, if any, is sent right away.
func (f *CaptureFeed) AddViewer(deviceID string) error {
	fd, err := f.feed(deviceID)
	if err != nil {
		return err
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()

	if fd.idleTimer != nil {
		fd.idleTimer.Stop()
		fd.idleTimer = nil
	}

	switch fd.state {
	case FeedIdle:
		fd.state = FeedRunning
		logging.Debug("feed").Str("device", deviceID).Msg("Feed resumed from idle")
	case FeedStopped:
		if err := fd.watcher.Start(); err != nil {
			return fmt.Errorf("capture watcher for %s: %w", deviceID, err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		fd.cancel = cancel
		fd.state = FeedRunning
		go f.forward(ctx, fd)
	}
	fd.viewers++

	logging.Info("feed").Str("device", deviceID).Int("viewers", fd.viewers).Msg("Viewer added")
	if fd.last != nil {
		f.hub.BroadcastToDevice(deviceID, newCaptureMessage(*fd.last))
	}
	return nil
}

// RemoveViewer uncounts a viewer. A feed left without viewers goes idle.
func (f *CaptureFeed) RemoveViewer(deviceID string) {
	fd, ok := f.existing(deviceID)
	if !ok {
		return
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()

	if fd.viewers > 0 {
		fd.viewers--
	}
	logging.Info("feed").Str("device", deviceID).Int("viewers", fd.viewers).Msg("Viewer removed")

	if fd.viewers == 0 && fd.state == FeedRunning {
		fd.state = FeedIdle
		f.mu.RLock()
		ttl := f.ttl
		f.mu.RUnlock()
		fd.idleTimer = time.AfterFunc(ttl, func() { f.idleTimeout(fd) })
	}
}

func (f *CaptureFeed) idleTimeout(fd *deviceFeed) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	if fd.viewers != 0 || fd.state != FeedIdle {
		return
	}
	logging.Info("feed").Str("device", fd.deviceID).Msg("Idle timeout reached, stopping feed")
	fd.stopLocked()
}

func (fd *deviceFeed) stopLocked() {
	if fd.idleTimer != nil {
		fd.idleTimer.Stop()
		fd.idleTimer = nil
	}
	if fd.cancel != nil {
		fd.cancel()
		fd.cancel = nil
	}
	fd.watcher.Stop()
	fd.state = FeedStopped
}

func (f *CaptureFeed) forward(ctx context.Context, fd *deviceFeed) {
	events := fd.watcher.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			fd.mu.Lock()
			fd.last = &ev
			fd.mu.Unlock()
			f.hub.BroadcastToDevice(fd.deviceID, newCaptureMessage(ev))
		}
	}
}

// StopAll stops every feed.
func (f *CaptureFeed) StopAll() {
	f.mu.RLock()
	feeds := make([]*deviceFeed, 0, len(f.feeds))
	for _, fd := range f.feeds {
		feeds = append(feeds, fd)
	}
	f.mu.RUnlock()

	for _, fd := range feeds {
		fd.mu.Lock()
		fd.viewers = 0
		fd.stopLocked()
		fd.mu.Unlock()
	}
}

// State returns the state of a device feed.
func (f *CaptureFeed) State(deviceID string) FeedState {
	fd, ok := f.existing(deviceID)
	if !ok {
		return FeedStopped
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.state
}

// Viewers returns the viewer count of a device feed.
func (f *CaptureFeed) Viewers(deviceID string) int {
	fd, ok := f.existing(deviceID)
	if !ok {
		return 0
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.viewers
}

// Status reports every feed.
func (f *CaptureFeed) Status() map[string]interface{} {
	f.mu.RLock()
	defer f.mu.RUnlock()

	status := make(map[string]interface{}, len(f.feeds))
	for id, fd := range f.feeds {
		fd.mu.Lock()
		status[id] = map[string]interface{}{
			"state":   fd.state.String(),
			"viewers": fd.viewers,
		}
		fd.mu.Unlock()
	}
	return status
}
