package verification

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"strings"
	"time"

	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/models"
)

// OCRTimeout bounds one tesseract run.
const OCRTimeout = 15 * time.Second

// Text looks for text on screen with tesseract.
type Text struct {
	captureBase
	runner controller.Runner
	checks checks
}

// NewText creates a text verification controller.
func NewText(spec controller.Spec, deps controller.Deps) (*Text, error) {
	base, err := newCaptureBase(controller.VerifyText, spec, deps)
	if err != nil {
		return nil, err
	}
	v := &Text{captureBase: base, runner: deps.RunnerOrDefault()}
	v.checks = checks{
		"wait_for_text_to_appear": func(ctx context.Context, p map[string]interface{}) models.VerificationResult {
			return v.wait(ctx, p, true)
		},
		"wait_for_text_to_disappear": func(ctx context.Context, p map[string]interface{}) models.VerificationResult {
			return v.wait(ctx, p, false)
		},
		"get_text": v.getText,
	}
	return v, nil
}

// ExecuteVerification runs one text check.
func (v *Text) ExecuteVerification(ctx context.Context, cfg models.VerificationConfig) models.VerificationResult {
	return v.checks.run(ctx, cfg)
}

func (v *Text) wait(ctx context.Context, params map[string]interface{}, appear bool) models.VerificationResult {
	want := strings.TrimSpace(controller.StringParam(params, "text"))
	if want == "" {
		return models.VerificationFailed("text is required")
	}
	caseSensitive := controller.BoolParam(params, "case_sensitive", false)

	return waitFor(ctx, params, fmt.Sprintf("text %q", want), appear, func(ctx context.Context) (bool, float64, map[string]interface{}, error) {
		shot, got, err := v.read(ctx, params)
		if err != nil {
			return false, 0, nil, err
		}
		details := map[string]interface{}{"screenshot": shot, "extracted_text": got}
		if ContainsText(got, want, caseSensitive) {
			return true, 1, details, nil
		}
		return false, 0, details, nil
	})
}

func (v *Text) getText(ctx context.Context, params map[string]interface{}) models.VerificationResult {
	shot, got, err := v.read(ctx, params)
	if err != nil {
		return models.VerificationFailed(err.Error())
	}
	return models.VerificationResult{
		Success:    got != "",
		Message:    fmt.Sprintf("extracted %d characters", len(got)),
		Confidence: 1,
		Details:    map[string]interface{}{"screenshot": shot, "extracted_text": got},
	}
}

// read OCRs the current screenshot, cropped to params["area"] if given.
func (v *Text) read(ctx context.Context, params map[string]interface{}) (string, string, error) {
	shot, err := v.av.TakeScreenshot(ctx)
	if err != nil {
		return "", "", err
	}

	input := shot
	if area, ok := AreaParam(params); ok {
		cropped, err := cropToTemp(shot, area)
		if err != nil {
			return shot, "", err
		}
		defer os.Remove(cropped)
		input = cropped
	}

	args := []string{input, "stdout"}
	if lang := controller.StringParam(params, "language"); lang != "" {
		args = append(args, "-l", lang)
	}
	ctx, cancel := context.WithTimeout(ctx, OCRTimeout)
	defer cancel()
	out, err := v.runner.Run(ctx, "tesseract", args...)
	if err != nil {
		return shot, "", fmt.Errorf("tesseract failed: %w", err)
	}
	return shot, NormalizeOCR(string(out)), nil
}

// NormalizeOCR collapses whitespace in tesseract output.
func NormalizeOCR(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ContainsText reports whether want occurs in got, ignoring whitespace layout.
func ContainsText(got, want string, caseSensitive bool) bool {
	got, want = NormalizeOCR(got), NormalizeOCR(want)
	if !caseSensitive {
		got, want = strings.ToLower(got), strings.ToLower(want)
	}
	return strings.Contains(got, want)
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func cropToTemp(path string, area image.Rectangle) (string, error) {
	img, err := LoadImage(path)
	if err != nil {
		return "", err
	}
	si, ok := img.(subImager)
	if !ok {
		return "", fmt.Errorf("cannot crop %T", img)
	}
	region := area.Add(img.Bounds().Min).Intersect(img.Bounds())
	if region.Empty() {
		return "", fmt.Errorf("area %v outside screenshot", area)
	}

	f, err := os.CreateTemp("", "ocr-*.png")
	if err != nil {
		return "", err
	}
	if err := png.Encode(f, si.SubImage(region)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
