package verification

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelstreet/virtualpytest-sub004/adb"
	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/logging"
	"github.com/angelstreet/virtualpytest-sub004/models"
)

// ADB checks the Android UI hierarchy for elements.
type ADB struct {
	*controller.Base

	client *adb.Client
	filter adb.FilterOptions
	ip     string
	port   string

	mu sync.Mutex
	ui *adb.UI

	checks checks
}

// NewADB creates an adb verification controller.
func NewADB(spec controller.Spec, deps controller.Deps) (*ADB, error) {
	if deps.ADB == nil {
		return nil, fmt.Errorf("%w: adb client", controller.ErrMissingDependency)
	}
	ip := spec.Param("device_ip")
	if ip == "" {
		return nil, fmt.Errorf("adb verification: device_ip is required")
	}
	port := spec.Param("device_port")
	if port == "" {
		port = controller.DefaultADBPort
	}
	v := &ADB{
		Base:   controller.NewBase(controller.TypeVerification, controller.VerifyADB, spec.Param("real_device_name")),
		client: deps.ADB,
		filter: deps.Filter,
		ip:     ip,
		port:   port,
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

// Connect runs adb connect.
func (v *ADB) Connect(ctx context.Context) error {
	serial, err := v.client.Connect(ctx, v.ip, v.port)
	if err != nil {
		v.SetConnected(false)
		return err
	}
	v.mu.Lock()
	v.ui = v.client.UI(serial, v.filter)
	v.mu.Unlock()
	v.SetConnected(true)
	return nil
}

// ExecuteVerification runs one element check.
func (v *ADB) ExecuteVerification(ctx context.Context, cfg models.VerificationConfig) models.VerificationResult {
	return v.checks.run(ctx, cfg)
}

func (v *ADB) uiHandle(ctx context.Context) (*adb.UI, error) {
	v.mu.Lock()
	ui := v.ui
	v.mu.Unlock()
	if ui != nil {
		return ui, nil
	}
	if err := v.Connect(ctx); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ui, nil
}

func (v *ADB) wait(ctx context.Context, params map[string]interface{}, appear bool) models.VerificationResult {
	term := controller.StringParam(params, "search_term")
	if term == "" {
		return models.VerificationFailed("search_term is required")
	}

	return waitFor(ctx, params, fmt.Sprintf("element %q", term), appear, func(ctx context.Context) (bool, float64, map[string]interface{}, error) {
		ui, err := v.uiHandle(ctx)
		if err != nil {
			return false, 0, nil, err
		}
		res, err := ui.CheckElementExists(ctx, term)
		if err != nil {
			logging.Debug("verification").Str("term", term).Err(err).Msg("Element check failed")
			return false, 0, nil, err
		}
		details := map[string]interface{}{"search_term": term, "matches": len(res.Matches)}
		if best, ok := res.Best(); ok {
			details["matched_term"] = res.Term
			details["element"] = best.Element
		}
		return res.Found, 1, details, nil
	})
}
