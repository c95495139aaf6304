package controller

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/angelstreet/virtualpytest-sub004/models"
)

// CommandHandler executes one named command.
type CommandHandler func(ctx context.Context, params map[string]interface{}) models.CommandResult

// CommandTable dispatches command names to handlers.
type CommandTable map[string]CommandHandler

// Execute runs command, or returns a structured unknown-command result.
func (t CommandTable) Execute(ctx context.Context, command string, params map[string]interface{}) models.CommandResult {
	h, ok := t[command]
	if !ok {
		return models.UnknownCommand(command, t.Names())
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return h(ctx, params)
}

// Names lists the commands, sorted.
func (t CommandTable) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StringParam returns params[key] as a string.
func StringParam(params map[string]interface{}, key string) string {
	switch v := params[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// IntParam returns params[key] as an int. JSON numbers arrive as float64.
func IntParam(params map[string]interface{}, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// FloatParam returns params[key] as a float64.
func FloatParam(params map[string]interface{}, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// BoolParam returns params[key] as a bool.
func BoolParam(params map[string]interface{}, key string, def bool) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// SecondsParam reads a duration given in seconds.
func SecondsParam(params map[string]interface{}, key string, def time.Duration) time.Duration {
	f := FloatParam(params, key, -1)
	if f < 0 {
		return def
	}
	return time.Duration(f * float64(time.Second))
}
