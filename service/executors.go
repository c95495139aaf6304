package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/logging"
	"github.com/angelstreet/virtualpytest-sub004/models"
	"github.com/angelstreet/virtualpytest-sub004/store"
)

// ExecutionsTable holds one record per executor run.
const ExecutionsTable = "execution_results"

// Navigation context keys.
const (
	CurrentNodeKey  = "current_node_id"
	PreviousNodeKey = "previous_node_id"
)

var (
	// ErrNoRemote is returned when a device has nothing to send actions to.
	ErrNoRemote = errors.New("device has no remote controller")
	// ErrNoVerification is returned when a device has no verification controller.
	ErrNoVerification = errors.New("device has no verification controller")
)

// recorder persists execution results. A nil store records nothing.
type recorder struct {
	records store.RecordStore
}

func (r recorder) save(ctx context.Context, res models.ExecutionResult) {
	if r.records == nil {
		return
	}
	rec := store.Record{
		"id":             res.ID,
		"device_id":      res.DeviceID,
		"execution_type": res.Type,
		"success":        res.Success,
		"message":        res.Message,
		"started_at":     res.StartedAt,
		"duration_ms":    res.DurationMs,
	}
	if len(res.Verifications) > 0 {
		rec["verification_count"] = len(res.Verifications)
	}
	if _, err := r.records.Insert(ctx, ExecutionsTable, rec); err != nil {
		logging.Warn("executor").Str("execution", res.ID).Err(err).Msg("Failed to record execution")
	}
}

func newExecution(deviceID, kind string) (models.ExecutionResult, time.Time) {
	start := time.Now()
	return models.ExecutionResult{
		ID:        uuid.New().String(),
		DeviceID:  deviceID,
		Type:      kind,
		StartedAt: start.UnixMilli(),
	}, start
}

// ActionExecutor runs action sequences on the device's remote controller.
type ActionExecutor struct {
	device *Device
	remote controller.RemoteController
	recorder
}

// NewActionExecutor binds to the first remote controller of d.
func NewActionExecutor(d *Device, records store.RecordStore) (*ActionExecutor, error) {
	r, ok := d.Remote()
	if !ok {
		return nil, ErrNoRemote
	}
	return &ActionExecutor{device: d, remote: r, recorder: recorder{records}}, nil
}

// Execute runs actions with the retry and failure batches.
func (e *ActionExecutor) Execute(ctx context.Context, actions, retryActions, failureActions []models.Action) models.ExecutionResult {
	res, start := newExecution(e.device.ID, "action")
	res.Success = e.remote.ExecuteSequence(ctx, actions, retryActions, failureActions)
	res.DurationMs = time.Since(start).Milliseconds()
	if res.Success {
		res.Message = fmt.Sprintf("%d actions executed", len(actions))
	} else {
		res.Message = "action sequence failed"
	}
	e.save(ctx, res)
	return res
}

// VerificationExecutor routes verifications to the matching controller.
type VerificationExecutor struct {
	device *Device
	recorder
}

// NewVerificationExecutor requires at least one verification controller.
func NewVerificationExecutor(d *Device, records store.RecordStore) (*VerificationExecutor, error) {
	if len(d.ControllersOfType(controller.TypeVerification)) == 0 {
		return nil, ErrNoVerification
	}
	return &VerificationExecutor{device: d, recorder: recorder{records}}, nil
}

// Execute runs every config. It succeeds when all of them pass; a config
// naming a missing controller fails.
func (e *VerificationExecutor) Execute(ctx context.Context, configs []models.VerificationConfig) models.ExecutionResult {
	res, start := newExecution(e.device.ID, "verification")
	res.Success = true
	res.Verifications = make([]models.VerificationResult, 0, len(configs))
	passed := 0
	for _, cfg := range configs {
		vr := e.run(ctx, cfg)
		if vr.Success {
			passed++
		} else {
			res.Success = false
		}
		res.Verifications = append(res.Verifications, vr)
	}
	res.DurationMs = time.Since(start).Milliseconds()
	res.Message = fmt.Sprintf("%d/%d verifications passed", passed, len(configs))
	e.save(ctx, res)
	return res
}

func (e *VerificationExecutor) run(ctx context.Context, cfg models.VerificationConfig) models.VerificationResult {
	v, ok := e.device.Verification(controller.Implementation(cfg.VerificationType))
	if !ok {
		return models.VerificationFailed(fmt.Sprintf("no %s verification controller on %s", cfg.VerificationType, e.device.ID))
	}
	return v.ExecuteVerification(ctx, cfg)
}

// NavigationExecutor moves the device along transitions and tracks where
// it is.
type NavigationExecutor struct {
	device        *Device
	actions       *ActionExecutor
	verifications *VerificationExecutor
	recorder
}

// NewNavigationExecutor needs an action executor. Verifications are optional.
func NewNavigationExecutor(d *Device, actions *ActionExecutor, verifications *VerificationExecutor, records store.RecordStore) (*NavigationExecutor, error) {
	if actions == nil {
		return nil, fmt.Errorf("navigation: %w", ErrNoRemote)
	}
	return &NavigationExecutor{device: d, actions: actions, verifications: verifications, recorder: recorder{records}}, nil
}

// Navigate runs t's actions and then its verifications. On success the
// device's current node becomes t.ToNodeID.
func (e *NavigationExecutor) Navigate(ctx context.Context, t models.Transition) models.ExecutionResult {
	res, start := newExecution(e.device.ID, "navigation")
	if t.ToNodeID == "" {
		res.Message = "to_node_id is required"
		return res
	}
	finish := func(ok bool, msg string) models.ExecutionResult {
		res.Success = ok
		res.Message = msg
		res.DurationMs = time.Since(start).Milliseconds()
		e.save(ctx, res)
		return res
	}

	if len(t.Actions) > 0 {
		if ar := e.actions.Execute(ctx, t.Actions, t.RetryActions, t.FailureActions); !ar.Success {
			return finish(false, "transition actions failed")
		}
	}

	if len(t.Verifications) > 0 {
		if e.verifications == nil {
			return finish(false, ErrNoVerification.Error())
		}
		vr := e.verifications.Execute(ctx, t.Verifications)
		res.Verifications = vr.Verifications
		if !vr.Success {
			return finish(false, "transition verifications failed: "+vr.Message)
		}
	}

	previous := e.device.MoveTo(t.ToNodeID)
	logging.Info("navigation").Str("device", e.device.ID).Str("from", previous).Str("to", t.ToNodeID).Msg("Node reached")
	if previous == "" {
		return finish(true, "navigated to "+t.ToNodeID)
	}
	return finish(true, fmt.Sprintf("navigated %s -> %s", previous, t.ToNodeID))
}
