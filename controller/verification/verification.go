// Package verification implements the verification controllers. Capture
// based kinds (image, text, video, audio) read frames through the device's
// AV controller; adb and appium query the device UI.
package verification

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/models"
)

// DefaultPollInterval is the delay between checks of a wait_for_* command.
const DefaultPollInterval = 500 * time.Millisecond

// Register adds the verification implementations to r. There is no web
// verification: browser checks are commands of the web controller.
func Register(r *controller.Registry) {
	r.Register(controller.TypeVerification, controller.VerifyImage, controller.Adapt(NewImage))
	r.Register(controller.TypeVerification, controller.VerifyText, controller.Adapt(NewText))
	r.Register(controller.TypeVerification, controller.VerifyVideo, controller.Adapt(NewVideo))
	r.Register(controller.TypeVerification, controller.VerifyAudio, controller.Adapt(NewAudio))
	r.Register(controller.TypeVerification, controller.VerifyADB, controller.Adapt(NewADB))
	r.Register(controller.TypeVerification, controller.VerifyAppium, controller.Adapt(NewAppium))
}

type checkFunc func(ctx context.Context, params map[string]interface{}) models.VerificationResult

// checks dispatches verification commands.
type checks map[string]checkFunc

func (c checks) run(ctx context.Context, cfg models.VerificationConfig) models.VerificationResult {
	fn, ok := c[cfg.Command]
	if !ok {
		res := models.VerificationFailed("unknown verification command: " + cfg.Command)
		res.Details = map[string]interface{}{"valid_commands": c.names()}
		return res
	}
	params := cfg.Params
	if params == nil {
		params = map[string]interface{}{}
	}
	return fn(ctx, params)
}

func (c checks) names() []string {
	names := make([]string, 0, len(c))
	for n := range c {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// captureBase is shared by the verifications that read the AV controller.
type captureBase struct {
	*controller.Base
	av controller.AVController
}

func newCaptureBase(impl controller.Implementation, spec controller.Spec, deps controller.Deps) (captureBase, error) {
	if deps.AV == nil {
		return captureBase{}, fmt.Errorf("%w: %s verification needs an AV controller", controller.ErrMissingDependency, impl)
	}
	return captureBase{
		Base: controller.NewBase(controller.TypeVerification, impl, spec.Param("real_device_name")),
		av:   deps.AV,
	}, nil
}

// AV returns the capture source.
func (b captureBase) AV() controller.AVController { return b.av }

// poll runs check until it succeeds or timeout elapses. A zero timeout
// checks once. The last result is returned with the attempt count and the
// elapsed time in its details.
func poll(ctx context.Context, timeout, interval time.Duration, check func(ctx context.Context) models.VerificationResult) models.VerificationResult {
	start := time.Now()
	deadline := start.Add(timeout)
	attempts := 0
	for {
		attempts++
		res := check(ctx)
		if res.Success || time.Now().Add(interval).After(deadline) {
			return withTiming(res, attempts, time.Since(start))
		}
		select {
		case <-ctx.Done():
			res = models.VerificationFailed("verification cancelled: " + ctx.Err().Error())
			return withTiming(res, attempts, time.Since(start))
		case <-time.After(interval):
		}
	}
}

func withTiming(res models.VerificationResult, attempts int, elapsed time.Duration) models.VerificationResult {
	if res.Details == nil {
		res.Details = map[string]interface{}{}
	}
	res.Details["attempts"] = attempts
	res.Details["elapsed_seconds"] = elapsed.Seconds()
	return res
}

// probe looks for something once. err means the check itself could not run.
type probe func(ctx context.Context) (found bool, confidence float64, details map[string]interface{}, err error)

// waitFor polls p until what is present (appear) or absent (!appear).
func waitFor(ctx context.Context, params map[string]interface{}, what string, appear bool, p probe) models.VerificationResult {
	return poll(ctx, timeoutParam(params), DefaultPollInterval, func(ctx context.Context) models.VerificationResult {
		found, confidence, details, err := p(ctx)
		if err != nil {
			res := models.VerificationFailed(err.Error())
			res.Details = details
			return res
		}
		res := models.VerificationResult{Success: found == appear, Confidence: confidence, Details: details}
		if !appear {
			res.Confidence = 1 - confidence
		}
		switch {
		case found && appear:
			res.Message = what + " found"
		case found:
			res.Message = what + " still present"
		case appear:
			res.Message = what + " not found"
		default:
			res.Message = what + " not present"
		}
		return res
	})
}

func timeoutParam(params map[string]interface{}) time.Duration {
	return controller.SecondsParam(params, "timeout", 0)
}
