package verification

import (
	"context"
	"fmt"

	"github.com/angelstreet/virtualpytest-sub004/bridge"
	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/models"
)

// Appium checks for elements through the Appium bridge.
type Appium struct {
	*controller.Base

	bridge  *bridge.Client
	session map[string]interface{}
	checks  checks
}

// NewAppium creates an Appium verification controller.
func NewAppium(spec controller.Spec, deps controller.Deps) (*Appium, error) {
	if !deps.Bridges.Appium.Configured() {
		return nil, fmt.Errorf("%w: appium bridge", controller.ErrMissingDependency)
	}
	v := &Appium{
		Base:   controller.NewBase(controller.TypeVerification, controller.VerifyAppium, spec.Param("real_device_name")),
		bridge: deps.Bridges.Appium,
		session: map[string]interface{}{
			"platform_name": spec.Param("appium_platform_name"),
			"device_id":     spec.Param("appium_device_id"),
			"server_url":    spec.Param("appium_server_url"),
		},
	}
	v.checks = checks{
		"wait_for_element_to_appear": func(ctx context.Context, p map[string]interface{}) models.VerificationResult {
			return v.wait(ctx, p, true)
		},
		"wait_for_element_to_disappear": func(ctx context.Context, p map[string]interface{}) models.VerificationResult {
			return v.wait(ctx, p, false)
		},
	}
	return v, nil
}

// ExecuteVerification runs one element check.
func (v *Appium) ExecuteVerification(ctx context.Context, cfg models.VerificationConfig) models.VerificationResult {
	return v.checks.run(ctx, cfg)
}

func (v *Appium) wait(ctx context.Context, params map[string]interface{}, appear bool) models.VerificationResult {
	term := controller.StringParam(params, "search_term")
	if term == "" {
		return models.VerificationFailed("search_term is required")
	}
	req := make(map[string]interface{}, len(v.session)+1)
	for k, val := range v.session {
		req[k] = val
	}
	req["search_term"] = term

	return waitFor(ctx, params, fmt.Sprintf("element %q", term), appear, func(ctx context.Context) (bool, float64, map[string]interface{}, error) {
		res, err := v.bridge.Call(ctx, "find_element", req)
		if err != nil {
			return false, 0, nil, err
		}
		if res.Error != "" && !res.Success {
			return false, 0, res.Data, fmt.Errorf("appium: %s", res.Error)
		}
		found, _ := res.Data["found"].(bool)
		return found, 1, res.Data, nil
	})
}
