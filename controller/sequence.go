package controller

import (
	"context"
	"time"

	"github.com/angelstreet/virtualpytest-sub004/logging"
	"github.com/angelstreet/virtualpytest-sub004/models"
)

// ExecFunc runs one action.
type ExecFunc func(ctx context.Context, action models.Action) models.CommandResult

// RunSequence runs actions in order and stops at the first failure. When the
// main batch fails the retry batch runs; when that fails too (or there is no
// retry batch) the failure batch runs. The result is the result of the last
// batch that ran.
func RunSequence(ctx context.Context, exec ExecFunc, actions, retryActions, failureActions []models.Action) bool {
	if runBatch(ctx, exec, "main", actions) {
		return true
	}

	ok := false
	if len(retryActions) > 0 {
		logging.Info("sequence").Int("count", len(retryActions)).Msg("Main actions failed, running retry actions")
		ok = runBatch(ctx, exec, "retry", retryActions)
		if ok {
			return true
		}
	}

	if len(failureActions) > 0 {
		logging.Info("sequence").Int("count", len(failureActions)).Msg("Running failure actions")
		ok = runBatch(ctx, exec, "failure", failureActions)
	}
	return ok
}

func runBatch(ctx context.Context, exec ExecFunc, batch string, actions []models.Action) bool {
	for i, action := range actions {
		if err := ctx.Err(); err != nil {
			logging.Warn("sequence").Str("batch", batch).Err(err).Msg("Sequence cancelled")
			return false
		}

		res := exec(ctx, action)
		if !res.Success {
			logging.Warn("sequence").
				Str("batch", batch).
				Int("step", i+1).
				Str("command", action.Command).
				Str("error", res.Error).
				Msg("Action failed")
			return false
		}

		if action.Delay > 0 {
			if err := Sleep(ctx, time.Duration(action.Delay)*time.Millisecond); err != nil {
				return false
			}
		}
	}
	return true
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
