package verification

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/models"
)

// DefaultImageThreshold is the similarity an image match needs.
const DefaultImageThreshold = 0.8

// maxSamples bounds the pixels compared per axis.
const maxSamples = 256

// coarseSamples bounds the pixels compared per axis while scanning
// positions for a reference smaller than the region.
const coarseSamples = 16

// Image matches a reference image against the current screenshot.
type Image struct {
	captureBase
	checks checks
}

// NewImage creates an image verification controller.
func NewImage(spec controller.Spec, deps controller.Deps) (*Image, error) {
	base, err := newCaptureBase(controller.VerifyImage, spec, deps)
	if err != nil {
		return nil, err
	}
	v := &Image{captureBase: base}
	v.checks = checks{
		"wait_for_image_to_appear": func(ctx context.Context, p map[string]interface{}) models.VerificationResult {
			return v.wait(ctx, p, true)
		},
		"wait_for_image_to_disappear": func(ctx context.Context, p map[string]interface{}) models.VerificationResult {
			return v.wait(ctx, p, false)
		},
	}
	return v, nil
}

// ExecuteVerification runs one image check.
func (v *Image) ExecuteVerification(ctx context.Context, cfg models.VerificationConfig) models.VerificationResult {
	return v.checks.run(ctx, cfg)
}

func (v *Image) wait(ctx context.Context, params map[string]interface{}, appear bool) models.VerificationResult {
	refPath := controller.StringParam(params, "image_path")
	if refPath == "" {
		return models.VerificationFailed("image_path is required")
	}
	ref, err := LoadImage(refPath)
	if err != nil {
		return models.VerificationFailed(err.Error())
	}
	threshold := controller.FloatParam(params, "threshold", DefaultImageThreshold)
	area, hasArea := AreaParam(params)

	return waitFor(ctx, params, "image", appear, func(ctx context.Context) (bool, float64, map[string]interface{}, error) {
		shot, err := v.av.TakeScreenshot(ctx)
		if err != nil {
			return false, 0, nil, err
		}
		screen, err := LoadImage(shot)
		if err != nil {
			return false, 0, nil, err
		}
		region := screen.Bounds()
		if hasArea {
			region = area.Add(region.Min).Intersect(region)
		}
		score, at := MatchImage(screen, region, ref)
		details := map[string]interface{}{
			"screenshot": shot,
			"reference":  refPath,
			"threshold":  threshold,
			"similarity": score,
			"location":   map[string]int{"x": at.X, "y": at.Y},
		}
		return score >= threshold, score, details, nil
	})
}

// LoadImage decodes a JPEG or PNG file.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// AreaParam reads params["area"] = {x, y, width, height}.
func AreaParam(params map[string]interface{}) (image.Rectangle, bool) {
	m, ok := params["area"].(map[string]interface{})
	if !ok {
		return image.Rectangle{}, false
	}
	x, y := controller.IntParam(m, "x", 0), controller.IntParam(m, "y", 0)
	w, h := controller.IntParam(m, "width", 0), controller.IntParam(m, "height", 0)
	if w <= 0 || h <= 0 {
		return image.Rectangle{}, false
	}
	return image.Rect(x, y, x+w, y+h), true
}

// Similarity compares region of screen with ref, scaling ref onto the
// region. 1 means identical luminance.
func Similarity(screen image.Image, region image.Rectangle, ref image.Image) float64 {
	rb := ref.Bounds()
	if region.Empty() || rb.Empty() {
		return 0
	}

	stepX, stepY := sampleStep(rb.Dx()), sampleStep(rb.Dy())
	var diff, n float64
	for ry := rb.Min.Y; ry < rb.Max.Y; ry += stepY {
		sy := region.Min.Y + (ry-rb.Min.Y)*region.Dy()/rb.Dy()
		for rx := rb.Min.X; rx < rb.Max.X; rx += stepX {
			sx := region.Min.X + (rx-rb.Min.X)*region.Dx()/rb.Dx()
			d := luma(screen.At(sx, sy).RGBA()) - luma(ref.At(rx, ry).RGBA())
			if d < 0 {
				d = -d
			}
			diff += d
			n++
		}
	}
	return 1 - diff/n/0xffff
}

// MatchImage finds ref inside region of screen. A reference that fits is
// searched at native size, coarse positions first and then pixel by pixel
// around the best one; a larger reference is scaled onto the region. It
// returns the best similarity and the top-left corner it was found at.
func MatchImage(screen image.Image, region image.Rectangle, ref image.Image) (float64, image.Point) {
	rb := ref.Bounds()
	if region.Empty() || rb.Empty() {
		return 0, region.Min
	}
	if rb.Dx() > region.Dx() || rb.Dy() > region.Dy() {
		return Similarity(screen, region, ref), region.Min
	}

	maxX, maxY := region.Max.X-rb.Dx(), region.Max.Y-rb.Dy()
	step := min(rb.Dx(), rb.Dy()) / 4
	if step < 1 {
		step = 1
	}

	best, bestAt := -1.0, region.Min
	scan := func(x0, y0, x1, y1, by int) {
		for y := y0; y <= y1; y += by {
			for x := x0; x <= x1; x += by {
				if s := nativeSimilarity(screen, image.Pt(x, y), ref, coarseSamples); s > best {
					best, bestAt = s, image.Pt(x, y)
				}
			}
		}
	}
	scan(region.Min.X, region.Min.Y, maxX, maxY, step)
	// the last row and column are not on the coarse grid
	scan(maxX, region.Min.Y, maxX, maxY, step)
	scan(region.Min.X, maxY, maxX, maxY, step)
	if step > 1 {
		c := bestAt
		scan(max(region.Min.X, c.X-step), max(region.Min.Y, c.Y-step), min(maxX, c.X+step), min(maxY, c.Y+step), 1)
	}
	return nativeSimilarity(screen, bestAt, ref, maxSamples), bestAt
}

// nativeSimilarity compares ref with the screen area of the same size at at.
func nativeSimilarity(screen image.Image, at image.Point, ref image.Image, samples int) float64 {
	rb := ref.Bounds()
	stepX, stepY := stride(rb.Dx(), samples), stride(rb.Dy(), samples)
	var diff, n float64
	for ry := rb.Min.Y; ry < rb.Max.Y; ry += stepY {
		for rx := rb.Min.X; rx < rb.Max.X; rx += stepX {
			d := luma(screen.At(at.X+rx-rb.Min.X, at.Y+ry-rb.Min.Y).RGBA()) - luma(ref.At(rx, ry).RGBA())
			if d < 0 {
				d = -d
			}
			diff += d
			n++
		}
	}
	return 1 - diff/n/0xffff
}

func sampleStep(size int) int {
	return stride(size, maxSamples)
}

func stride(size, samples int) int {
	if size <= samples {
		return 1
	}
	return size / samples
}

func luma(r, g, b, _ uint32) float64 {
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}
