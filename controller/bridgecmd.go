package controller

import (
	"context"

	"github.com/angelstreet/virtualpytest-sub004/bridge"
	"github.com/angelstreet/virtualpytest-sub004/models"
)

// BridgeCommand calls method on b with base and params merged and converts
// the reply into a command result.
func BridgeCommand(ctx context.Context, b *bridge.Client, method string, base, params map[string]interface{}) models.CommandResult {
	merged := make(map[string]interface{}, len(base)+len(params))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}

	res, err := b.Call(ctx, method, merged)
	if err != nil {
		return models.CommandFailed(err.Error())
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = res.Message
		}
		return models.CommandFailed(msg)
	}
	out := models.CommandOK(res.Message)
	out.Data = res.Data
	return out
}
