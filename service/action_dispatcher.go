package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelstreet/virtualpytest-sub004/logging"
	"github.com/angelstreet/virtualpytest-sub004/models"
)

// DefaultDispatchWorkers bounds how many devices run a batch at once.
const DefaultDispatchWorkers = 4

// DispatchResult is the outcome of a sequence on one device of a batch.
type DispatchResult struct {
	DeviceID  string                  `json:"device_id"`
	Execution *models.ExecutionResult `json:"execution,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// ActionDispatcher runs one action sequence on several devices of a host.
type ActionDispatcher struct {
	lookup  DeviceLookup
	workers int
}

// NewActionDispatcher creates a dispatcher. workers <= 0 uses
// DefaultDispatchWorkers.
func NewActionDispatcher(lookup DeviceLookup, workers int) *ActionDispatcher {
	if workers <= 0 {
		workers = DefaultDispatchWorkers
	}
	return &ActionDispatcher{lookup: lookup, workers: workers}
}

// DispatchToDevice runs req on a single device.
func (d *ActionDispatcher) DispatchToDevice(ctx context.Context, deviceID string, req models.SequenceRequest) (models.ExecutionResult, error) {
	device, ok := d.lookup(deviceID)
	if !ok {
		return models.ExecutionResult{}, fmt.Errorf("device not found: %s", deviceID)
	}
	if device.Actions == nil {
		return models.ExecutionResult{}, fmt.Errorf("%s: %w", deviceID, ErrNoRemote)
	}
	return device.Actions.Execute(ctx, req.Actions, req.RetryActions, req.FailureActions), nil
}

// DispatchBatch runs req on every device in deviceIDs. Results keep the
// order of deviceIDs; a device that cannot run the sequence gets an Error.
func (d *ActionDispatcher) DispatchBatch(ctx context.Context, deviceIDs []string, req models.SequenceRequest) []DispatchResult {
	results := make([]DispatchResult, len(deviceIDs))
	queue := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < min(d.workers, len(deviceIDs)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				results[i] = d.dispatchOne(ctx, deviceIDs[i], req)
			}
		}()
	}

	for i := range deviceIDs {
		queue <- i
	}
	close(queue)
	wg.Wait()

	ok := 0
	for _, r := range results {
		if r.Execution != nil && r.Execution.Success {
			ok++
		}
	}
	logging.Info("dispatcher").Int("devices", len(deviceIDs)).Int("succeeded", ok).Msg("Batch dispatched")
	return results
}

func (d *ActionDispatcher) dispatchOne(ctx context.Context, deviceID string, req models.SequenceRequest) DispatchResult {
	if err := ctx.Err(); err != nil {
		return DispatchResult{DeviceID: deviceID, Error: err.Error()}
	}
	res, err := d.DispatchToDevice(ctx, deviceID, req)
	if err != nil {
		logging.Warn("dispatcher").Str("device", deviceID).Err(err).Msg("Failed to dispatch")
		return DispatchResult{DeviceID: deviceID, Error: err.Error()}
	}
	return DispatchResult{DeviceID: deviceID, Execution: &res}
}
