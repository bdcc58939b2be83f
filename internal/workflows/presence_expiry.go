package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// ExpiryInput is the input for the presence expiry workflow.
type ExpiryInput struct {
	// Parallelism bounds concurrent ExpirePresence activities.
	Parallelism int
}

// ExpiryResult reports one sweep.
type ExpiryResult struct {
	Stale   int
	Expired int
	Failed  []string
}

// PresenceExpiryWorkflow deactivates users who stopped sending updates
// without stopping their share. It runs on a cron schedule; each run is one
// sweep. A failed expiry is retried by the activity policy and then reported,
// the remaining users are still processed.
func PresenceExpiryWorkflow(ctx workflow.Context, input ExpiryInput) (ExpiryResult, error) {
	logger := workflow.GetLogger(ctx)

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)

	var result ExpiryResult
	var stale []string
	if err := workflow.ExecuteActivity(ctx, "FindStalePresences").Get(ctx, &stale); err != nil {
		return result, err
	}
	result.Stale = len(stale)
	if len(stale) == 0 {
		return result, nil
	}

	parallelism := input.Parallelism
	if parallelism <= 0 {
		parallelism = 10
	}

	for start := 0; start < len(stale); start += parallelism {
		end := min(start+parallelism, len(stale))
		futures := make([]workflow.Future, 0, end-start)
		for _, id := range stale[start:end] {
			futures = append(futures, workflow.ExecuteActivity(ctx, "ExpirePresence", id))
		}
		for i, f := range futures {
			id := stale[start+i]
			if err := f.Get(ctx, nil); err != nil {
				logger.Warn("presence expiry failed", "user_id", id, "error", err)
				result.Failed = append(result.Failed, id)
				continue
			}
			result.Expired++
		}
	}

	logger.Info("presence sweep finished", "stale", result.Stale, "expired", result.Expired, "failed", len(result.Failed))
	return result, nil
}
