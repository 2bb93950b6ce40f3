package reporttesting

import (
	"context"
	"log/slog"

	"github.com/petrijr/reportflow"
	"github.com/petrijr/reportflow/pkg/api"
)

// StubActivities returns a registry holding every activity of Pipeline.
// The stubs only echo what they received; real deployments register
// activities that persist business entities instead.
func StubActivities(logger *slog.Logger) *api.ActivityRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	reg := api.NewActivityRegistry()

	typed := map[string]api.ActivityFunc{
		"process_planning_documents": reportflow.TypedActivity(func(ctx context.Context, in api.ActivityInput) (received, error) {
			p, err := reportflow.SignalData[PlanningDocuments](in)
			if err != nil {
				return received{}, err
			}
			return received{Count: len(p.Documents), SubmittedBy: in.Signal.UserID}, nil
		}),
		"save_planning_attributes": reportflow.TypedActivity(func(ctx context.Context, in api.ActivityInput) (received, error) {
			p, err := reportflow.SignalData[PlanningAttributes](in)
			if err != nil {
				return received{}, err
			}
			return received{Count: len(p.Attributes), SubmittedBy: in.Signal.UserID}, nil
		}),
		"save_data_owner_assignments": reportflow.TypedActivity(func(ctx context.Context, in api.ActivityInput) (received, error) {
			p, err := reportflow.SignalData[DataOwnerAssignments](in)
			if err != nil {
				return received{}, err
			}
			return received{Count: len(p.Assignments), SubmittedBy: in.Signal.UserID}, nil
		}),
		"collect_evidence": reportflow.TypedActivity(func(ctx context.Context, in api.ActivityInput) (received, error) {
			p, err := reportflow.SignalData[Evidence](in)
			if err != nil {
				return received{}, err
			}
			return received{Count: len(p.Files), SubmittedBy: in.Signal.UserID}, nil
		}),
	}

	for _, name := range Pipeline().Activities() {
		fn, ok := typed[name]
		if !ok {
			fn = echo(name)
		}
		reg.MustRegister(name, logged(logger, name, fn))
	}
	return reg
}

// received summarizes a consumed gate payload.
type received struct {
	Count       int   `json:"count"`
	SubmittedBy int64 `json:"submitted_by"`
}

func echo(name string) api.ActivityFunc {
	return func(ctx context.Context, in api.ActivityInput) (api.Data, error) {
		out := api.Data{"activity": name}
		if in.Signal != nil {
			out["input_type"] = in.Signal.InputType
			out["submitted_by"] = in.Signal.UserID
		}
		return out, nil
	}
}

func logged(logger *slog.Logger, name string, fn api.ActivityFunc) api.ActivityFunc {
	return func(ctx context.Context, in api.ActivityInput) (api.Data, error) {
		logger.DebugContext(ctx, "activity_stub",
			slog.String("activity", name),
			slog.String("instance_id", in.InstanceID),
			slog.String("phase", in.Phase),
			slog.Int("attempt", in.Attempt),
		)
		return fn(ctx, in)
	}
}
