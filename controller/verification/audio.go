package verification

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/models"
)

// Audio defaults.
const (
	DefaultAudioDuration  = 4 * time.Second
	DefaultSilenceLevelDB = -50.0
	volumeDetectTimeout   = 30 * time.Second
)

var (
	meanVolumeRe = regexp.MustCompile(`mean_volume:\s*(-?[\d.]+|-inf) dB`)
	maxVolumeRe  = regexp.MustCompile(`max_volume:\s*(-?[\d.]+|-inf) dB`)
)

// Audio measures the volume of recent HLS segments.
type Audio struct {
	captureBase
	runner controller.Runner
	checks checks
}

// NewAudio creates an audio verification controller.
func NewAudio(spec controller.Spec, deps controller.Deps) (*Audio, error) {
	base, err := newCaptureBase(controller.VerifyAudio, spec, deps)
	if err != nil {
		return nil, err
	}
	v := &Audio{captureBase: base, runner: deps.RunnerOrDefault()}
	v.checks = checks{
		"detect_audio": func(ctx context.Context, p map[string]interface{}) models.VerificationResult {
			return v.wait(ctx, p, true)
		},
		"detect_silence": func(ctx context.Context, p map[string]interface{}) models.VerificationResult {
			return v.wait(ctx, p, false)
		},
	}
	return v, nil
}

// ExecuteVerification runs one audio check.
func (v *Audio) ExecuteVerification(ctx context.Context, cfg models.VerificationConfig) models.VerificationResult {
	return v.checks.run(ctx, cfg)
}

func (v *Audio) wait(ctx context.Context, params map[string]interface{}, audible bool) models.VerificationResult {
	duration := controller.SecondsParam(params, "duration", DefaultAudioDuration)
	level := controller.FloatParam(params, "threshold_db", DefaultSilenceLevelDB)

	return waitFor(ctx, params, "audio", audible, func(ctx context.Context) (bool, float64, map[string]interface{}, error) {
		mean, peak, err := v.measure(ctx, duration)
		if err != nil {
			return false, 0, nil, err
		}
		details := map[string]interface{}{
			"mean_volume_db": mean,
			"max_volume_db":  peak,
			"threshold_db":   level,
		}
		return mean > level, 1, details, nil
	})
}

// measure assembles the last duration of segments and runs volumedetect.
func (v *Audio) measure(ctx context.Context, duration time.Duration) (float64, float64, error) {
	dir, err := os.MkdirTemp("", "audio-")
	if err != nil {
		return 0, 0, err
	}
	defer os.RemoveAll(dir)

	clip, err := v.av.TakeVideo(ctx, duration, filepath.Join(dir, "clip.mp4"))
	if err != nil {
		return 0, 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, volumeDetectTimeout)
	defer cancel()
	out, err := v.runner.Run(ctx, "ffmpeg", "-hide_banner", "-i", clip, "-af", "volumedetect", "-vn", "-f", "null", "-")
	if err != nil {
		return 0, 0, fmt.Errorf("volumedetect failed: %w", err)
	}
	return ParseVolume(string(out))
}

// ParseVolume extracts mean and max volume (dB) from ffmpeg volumedetect
// output. -inf is reported as -200.
func ParseVolume(out string) (mean, peak float64, err error) {
	m := meanVolumeRe.FindStringSubmatch(out)
	if m == nil {
		return 0, 0, fmt.Errorf("no mean_volume in ffmpeg output")
	}
	if mean, err = parseDB(m[1]); err != nil {
		return 0, 0, err
	}
	peak = mean
	if m := maxVolumeRe.FindStringSubmatch(out); m != nil {
		if peak, err = parseDB(m[1]); err != nil {
			return 0, 0, err
		}
	}
	return mean, peak, nil
}

func parseDB(s string) (float64, error) {
	if s == "-inf" {
		return -200, nil
	}
	return strconv.ParseFloat(s, 64)
}
