// Package remote implements the remote controllers: Android over adb,
// infrared through ir-ctl, and Appium through its bridge.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/angelstreet/virtualpytest-sub004/adb"
	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/logging"
	"github.com/angelstreet/virtualpytest-sub004/models"
)

// androidHandler returns an error only for adb transport failures; those
// trigger a reconnect and one retry.
type androidHandler func(ctx context.Context, params map[string]interface{}) (models.CommandResult, error)

// Android controls an Android phone or TV over adb.
type Android struct {
	*controller.Base

	client *adb.Client
	filter adb.FilterOptions
	ip     string
	port   string

	mu     sync.Mutex
	serial string
	ui     *adb.UI

	handlers map[string]androidHandler
}

// NewAndroid creates an Android remote from its spec.
func NewAndroid(spec controller.Spec, deps controller.Deps) (*Android, error) {
	if deps.ADB == nil {
		return nil, fmt.Errorf("%w: adb client", controller.ErrMissingDependency)
	}
	ip := spec.Param("device_ip")
	if ip == "" {
		return nil, fmt.Errorf("%s: device_ip is required", spec.Implementation)
	}
	port := spec.Param("device_port")
	if port == "" {
		port = controller.DefaultADBPort
	}

	a := &Android{
		Base:   controller.NewBase(controller.TypeRemote, spec.Implementation, spec.Param("real_device_name")),
		client: deps.ADB,
		filter: deps.Filter,
		ip:     ip,
		port:   port,
	}
	a.handlers = map[string]androidHandler{
		"press_key":             a.pressKey,
		"long_press_key":        a.longPressKey,
		"input_text":            a.inputText,
		"tap_coordinates":       a.tap,
		"swipe":                 a.swipe,
		"launch_app":            a.launchApp,
		"close_app":             a.closeApp,
		"get_current_app":       a.currentApp,
		"dump_elements":         a.dumpElements,
		"click_element":         a.clickElement,
		"click_element_by_id":   a.clickElementByID,
		"check_element_exists":  a.checkElementExists,
		"input_text_in_element": a.inputTextInElement,
		"get_battery_level":     a.batteryLevel,
		"get_screen_resolution": a.screenResolution,
		"get_property":          a.property,
	}
	return a, nil
}

// Connect runs adb connect and prepares element operations.
func (a *Android) Connect(ctx context.Context) error {
	serial, err := a.client.Connect(ctx, a.ip, a.port)
	if err != nil {
		a.SetConnected(false)
		logging.Error("remote").Str("device", a.DeviceName()).Err(err).Msg("ADB connect failed")
		return err
	}

	a.mu.Lock()
	a.serial = serial
	if a.ui == nil || a.ui.Serial() != serial {
		a.ui = a.client.UI(serial, a.filter)
	}
	a.mu.Unlock()

	a.SetConnected(true)
	return nil
}

// Disconnect runs adb disconnect.
func (a *Android) Disconnect(ctx context.Context) error {
	a.SetConnected(false)
	a.mu.Lock()
	serial := a.serial
	a.mu.Unlock()
	if serial == "" {
		return nil
	}
	return a.client.Disconnect(ctx, serial)
}

// Commands lists the supported commands.
func (a *Android) Commands() []string {
	names := make([]string, 0, len(a.handlers))
	for name := range a.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExecuteCommand runs a command. A transport failure causes one reconnect
// and retry before giving up.
func (a *Android) ExecuteCommand(ctx context.Context, command string, params map[string]interface{}) models.CommandResult {
	h, ok := a.handlers[command]
	if !ok {
		return models.UnknownCommand(command, a.Commands())
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	if !a.IsConnected() {
		if err := a.Connect(ctx); err != nil {
			return models.CommandFailed("device not connected: " + err.Error())
		}
	}

	res, err := h(ctx, params)
	if err == nil {
		return res
	}

	logging.Warn("remote").
		Str("device", a.DeviceName()).
		Str("command", command).
		Err(err).
		Msg("Command failed, reconnecting and retrying")
	if cerr := a.Connect(ctx); cerr != nil {
		return models.CommandFailed(fmt.Sprintf("%v (reconnect failed: %v)", err, cerr))
	}
	res, err = h(ctx, params)
	if err != nil {
		return models.CommandFailed(err.Error())
	}
	return res
}

// ExecuteSequence runs a sequence of commands.
func (a *Android) ExecuteSequence(ctx context.Context, actions, retryActions, failureActions []models.Action) bool {
	return controller.RunSequence(ctx, func(ctx context.Context, act models.Action) models.CommandResult {
		return a.ExecuteCommand(ctx, act.Command, act.Params)
	}, actions, retryActions, failureActions)
}

// UI returns element operations for the connected device.
func (a *Android) UI() (*adb.UI, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ui == nil {
		return nil, controller.ErrNotConnected
	}
	return a.ui, nil
}

// Elements returns the elements of the last dump.
func (a *Android) Elements() []adb.Element {
	ui, err := a.UI()
	if err != nil {
		return nil
	}
	return ui.LastDump()
}

// Status adds the adb identity.
func (a *Android) Status() map[string]interface{} {
	st := a.Base.Status()
	a.mu.Lock()
	st["device_ip"] = a.ip
	st["device_port"] = a.port
	st["serial"] = a.serial
	a.mu.Unlock()
	return st
}

func (a *Android) currentSerial() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.serial
}

func (a *Android) pressKey(ctx context.Context, p map[string]interface{}) (models.CommandResult, error) {
	key := controller.StringParam(p, "key")
	code, ok := adb.LookupKey(key)
	if !ok {
		res := models.CommandFailed(fmt.Sprintf("unknown key %q", key))
		res.Data = map[string]interface{}{"valid_keys": adb.KeyNames()}
		return res, nil
	}
	if err := a.client.SendKey(ctx, a.currentSerial(), code); err != nil {
		return models.CommandResult{}, err
	}
	return models.CommandOK("pressed " + key), nil
}

func (a *Android) longPressKey(ctx context.Context, p map[string]interface{}) (models.CommandResult, error) {
	key := controller.StringParam(p, "key")
	code, ok := adb.LookupKey(key)
	if !ok {
		return models.CommandFailed(fmt.Sprintf("unknown key %q", key)), nil
	}
	if err := a.client.SendLongKey(ctx, a.currentSerial(), code); err != nil {
		return models.CommandResult{}, err
	}
	return models.CommandOK("long pressed " + key), nil
}

func (a *Android) inputText(ctx context.Context, p map[string]interface{}) (models.CommandResult, error) {
	text := controller.StringParam(p, "text")
	if text == "" {
		return models.CommandFailed("text is required"), nil
	}
	if err := a.client.SendText(ctx, a.currentSerial(), text); err != nil {
		return models.CommandResult{}, err
	}
	return models.CommandOK("text entered"), nil
}

func (a *Android) tap(ctx context.Context, p map[string]interface{}) (models.CommandResult, error) {
	x, y := controller.IntParam(p, "x", -1), controller.IntParam(p, "y", -1)
	if x < 0 || y < 0 {
		return models.CommandFailed("x and y are required"), nil
	}
	if err := a.client.SendTap(ctx, a.currentSerial(), x, y); err != nil {
		return models.CommandResult{}, err
	}
	return models.CommandOK(fmt.Sprintf("tapped %d,%d", x, y)), nil
}

func (a *Android) swipe(ctx context.Context, p map[string]interface{}) (models.CommandResult, error) {
	x1, y1 := controller.IntParam(p, "x1", -1), controller.IntParam(p, "y1", -1)
	x2, y2 := controller.IntParam(p, "x2", -1), controller.IntParam(p, "y2", -1)
	if x1 < 0 || y1 < 0 || x2 < 0 || y2 < 0 {
		return models.CommandFailed("x1, y1, x2 and y2 are required"), nil
	}
	duration := controller.IntParam(p, "duration", 300)
	if err := a.client.SendSwipe(ctx, a.currentSerial(), x1, y1, x2, y2, duration); err != nil {
		return models.CommandResult{}, err
	}
	return models.CommandOK("swiped"), nil
}

func (a *Android) launchApp(ctx context.Context, p map[string]interface{}) (models.CommandResult, error) {
	pkg := controller.StringParam(p, "package")
	if pkg == "" {
		return models.CommandFailed("package is required"), nil
	}
	if err := a.client.OpenApp(ctx, a.currentSerial(), pkg); err != nil {
		return models.CommandResult{}, err
	}
	return models.CommandOK("launched " + pkg), nil
}

func (a *Android) closeApp(ctx context.Context, p map[string]interface{}) (models.CommandResult, error) {
	pkg := controller.StringParam(p, "package")
	if pkg == "" {
		return models.CommandFailed("package is required"), nil
	}
	if err := a.client.CloseApp(ctx, a.currentSerial(), pkg); err != nil {
		return models.CommandResult{}, err
	}
	return models.CommandOK("closed " + pkg), nil
}

func (a *Android) currentApp(ctx context.Context, p map[string]interface{}) (models.CommandResult, error) {
	pkg, err := a.client.CurrentPackage(ctx, a.currentSerial())
	if err != nil {
		return models.CommandResult{}, err
	}
	res := models.CommandOK(pkg)
	res.Data = map[string]interface{}{"package": pkg}
	return res, nil
}

func (a *Android) batteryLevel(ctx context.Context, p map[string]interface{}) (models.CommandResult, error) {
	level, err := a.client.BatteryLevel(ctx, a.currentSerial())
	if err != nil {
		return models.CommandResult{}, err
	}
	res := models.CommandOK(fmt.Sprintf("%d%%", level))
	res.Data = map[string]interface{}{"level": level}
	return res, nil
}

func (a *Android) property(ctx context.Context, p map[string]interface{}) (models.CommandResult, error) {
	name := controller.StringParam(p, "property")
	if name == "" {
		return models.CommandFailed("property is required"), nil
	}
	value, err := a.client.GetProperty(ctx, a.currentSerial(), name)
	if err != nil {
		return models.CommandResult{}, err
	}
	res := models.CommandOK(value)
	res.Data = map[string]interface{}{"property": name, "value": value}
	return res, nil
}

func (a *Android) screenResolution(ctx context.Context, p map[string]interface{}) (models.CommandResult, error) {
	size, err := a.client.ScreenResolution(ctx, a.currentSerial())
	if err != nil {
		return models.CommandResult{}, err
	}
	res := models.CommandOK(size)
	res.Data = map[string]interface{}{"resolution": size}
	return res, nil
}

// elementFailure turns a search or bounds error into a failed result. Any
// other error is returned as a transport failure.
func elementFailure(err error) (models.CommandResult, error) {
	if errors.Is(err, adb.ErrElementNotFound) || errors.Is(err, adb.ErrMalformedBounds) {
		return models.CommandFailed(err.Error()), nil
	}
	return models.CommandResult{}, err
}

func (a *Android) dumpElements(ctx context.Context, p map[string]interface{}) (models.CommandResult, error) {
	ui, err := a.UI()
	if err != nil {
		return models.CommandResult{}, err
	}
	select {
	case r := <-ui.DumpElementsAsync(ctx):
		if r.Err != nil {
			return models.CommandResult{}, r.Err
		}
		res := models.CommandOK(fmt.Sprintf("%d elements", len(r.Elements)))
		res.Data = map[string]interface{}{"elements": r.Elements, "count": len(r.Elements)}
		return res, nil
	case <-ctx.Done():
		return models.CommandFailed("ui dump cancelled: " + ctx.Err().Error()), nil
	}
}

func searchTerm(p map[string]interface{}) string {
	for _, key := range []string{"search_term", "element_id", "text"} {
		if v := controller.StringParam(p, key); v != "" {
			return v
		}
	}
	return ""
}

func searchResult(res adb.SearchResult) models.CommandResult {
	out := models.CommandOK("found " + res.Term)
	data := map[string]interface{}{"matched_term": res.Term, "count": len(res.Matches)}
	if best, ok := res.Best(); ok {
		data["element"] = best.Element
		data["matched_attributes"] = best.Attributes
	}
	out.Data = data
	return out
}

func (a *Android) clickElement(ctx context.Context, p map[string]interface{}) (models.CommandResult, error) {
	term := searchTerm(p)
	if term == "" {
		return models.CommandFailed("search_term is required"), nil
	}
	ui, err := a.UI()
	if err != nil {
		return models.CommandResult{}, err
	}
	found, err := ui.ClickElementBySearch(ctx, term)
	if err != nil {
		return elementFailure(err)
	}
	return searchResult(found), nil
}

// clickElementByID resolves the id against the last dump, dumping first when
// there is none.
func (a *Android) clickElementByID(ctx context.Context, p map[string]interface{}) (models.CommandResult, error) {
	id := controller.IntParam(p, "element_id", -1)
	if id < 0 {
		return models.CommandFailed("element_id is required"), nil
	}
	ui, err := a.UI()
	if err != nil {
		return models.CommandResult{}, err
	}
	elements := ui.LastDump()
	if len(elements) == 0 {
		if elements, err = ui.DumpElements(ctx); err != nil {
			return models.CommandResult{}, err
		}
	}
	if err := ui.ClickElementByID(ctx, elements, id); err != nil {
		return elementFailure(err)
	}
	return models.CommandOK(fmt.Sprintf("clicked element %d", id)), nil
}

func (a *Android) checkElementExists(ctx context.Context, p map[string]interface{}) (models.CommandResult, error) {
	term := searchTerm(p)
	if term == "" {
		return models.CommandFailed("search_term is required"), nil
	}
	ui, err := a.UI()
	if err != nil {
		return models.CommandResult{}, err
	}
	found, err := ui.CheckElementExists(ctx, term)
	if err != nil {
		return models.CommandResult{}, err
	}
	if !found.Found {
		return models.CommandFailed(fmt.Sprintf("element %q not found", term)), nil
	}
	return searchResult(found), nil
}

func (a *Android) inputTextInElement(ctx context.Context, p map[string]interface{}) (models.CommandResult, error) {
	text := controller.StringParam(p, "text")
	term := controller.StringParam(p, "search_term")
	if term == "" || text == "" {
		return models.CommandFailed("search_term and text are required"), nil
	}
	ui, err := a.UI()
	if err != nil {
		return models.CommandResult{}, err
	}
	found, err := ui.InputText(ctx, term, text)
	if err != nil {
		return elementFailure(err)
	}
	res := searchResult(found)
	res.Message = "text entered in " + term
	return res, nil
}
