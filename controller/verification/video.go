package verification

import (
	"context"
	"fmt"
	"image"

	"github.com/angelstreet/virtualpytest-sub004/capture"
	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/models"
)

// Defaults for the frame comparisons.
const (
	DefaultMotionFrames    = 3
	DefaultMotionThreshold = 0.02
)

// Video detects motion and freezes by comparing consecutive captures.
type Video struct {
	captureBase
	checks checks
}

// NewVideo creates a video verification controller.
func NewVideo(spec controller.Spec, deps controller.Deps) (*Video, error) {
	base, err := newCaptureBase(controller.VerifyVideo, spec, deps)
	if err != nil {
		return nil, err
	}
	v := &Video{captureBase: base}
	v.checks = checks{
		"detect_motion": func(ctx context.Context, p map[string]interface{}) models.VerificationResult {
			return v.wait(ctx, p, true)
		},
		"detect_freeze": func(ctx context.Context, p map[string]interface{}) models.VerificationResult {
			return v.wait(ctx, p, false)
		},
	}
	return v, nil
}

// ExecuteVerification runs one video check.
func (v *Video) ExecuteVerification(ctx context.Context, cfg models.VerificationConfig) models.VerificationResult {
	return v.checks.run(ctx, cfg)
}

func (v *Video) wait(ctx context.Context, params map[string]interface{}, motion bool) models.VerificationResult {
	frames := controller.IntParam(params, "frames", DefaultMotionFrames)
	if frames < 2 {
		frames = 2
	}
	threshold := controller.FloatParam(params, "threshold", DefaultMotionThreshold)

	return waitFor(ctx, params, "motion", motion, func(ctx context.Context) (bool, float64, map[string]interface{}, error) {
		recent, err := v.av.Store().Recent(frames)
		if err != nil {
			return false, 0, nil, err
		}
		if len(recent) < 2 {
			return false, 0, nil, fmt.Errorf("need 2 captures, have %d", len(recent))
		}
		diffs, err := FrameDifferences(recent)
		if err != nil {
			return false, 0, nil, err
		}
		max := 0.0
		for _, d := range diffs {
			if d > max {
				max = d
			}
		}
		details := map[string]interface{}{
			"frames":      len(recent),
			"differences": diffs,
			"threshold":   threshold,
		}
		confidence := max / threshold
		if confidence > 1 {
			confidence = 1
		}
		return max > threshold, confidence, details, nil
	})
}

// FrameDifferences returns 1-similarity for each consecutive pair.
func FrameDifferences(frames []capture.Capture) ([]float64, error) {
	var prev image.Image
	var diffs []float64
	for _, f := range frames {
		img, err := LoadImage(f.Path)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			diffs = append(diffs, 1-Similarity(img, img.Bounds(), prev))
		}
		prev = img
	}
	return diffs, nil
}
