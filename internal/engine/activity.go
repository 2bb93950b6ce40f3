package engine

import (
	"context"
	"time"

	"github.com/petrijr/reportflow/pkg/api"
)

// invoke runs one activity under the retry policy registered for it in the
// pipeline's policy table. Every attempt is bounded by the policy's
// start-to-close timeout. Errors marked api.NonRetryable stop immediately.
func (r *instanceRun) invoke(ctx context.Context, phase string, step api.StepDefinition, activity string, signal *api.SignalPayload) (api.Data, error) {
	policy := r.d.def.Policies.For(activity)
	maxAttempts := policy.Attempts()

	inst := r.view()
	in := api.ActivityInput{
		InstanceID: inst.ID,
		CycleID:    inst.CycleID,
		ReportID:   inst.ReportID,
		UserID:     inst.UserID,
		Phase:      phase,
		Step:       step.Name,
		Args:       step.Args.Clone(),
		Signal:     signal,
	}
	ref := inst.Ref()

	var lastErr error
	attempt := 1
	for ; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if policy.StartToCloseTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, policy.StartToCloseTimeout)
		}

		in.Attempt = attempt
		start := time.Now()
		out, err := r.d.activities.Invoke(attemptCtx, activity, in)
		cancel()
		r.d.observer.OnActivityAttempt(ctx, ref, phase, step.Name, activity, attempt, err, time.Since(start))

		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if api.IsNonRetryable(err) || attempt == maxAttempts {
			break
		}

		r.d.record(ctx, api.WorkflowEvent{
			InstanceID: ref.ID,
			Type:       api.EventStepRetried,
			Phase:      phase,
			Step:       step.Name,
			Detail:     err.Error(),
		})

		if delay := policy.Delay(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return nil, &api.ActivityExhaustedError{Activity: activity, Attempts: attempt, Err: lastErr}
}
