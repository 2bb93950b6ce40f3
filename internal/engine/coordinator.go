package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/petrijr/reportflow/pkg/api"
)

// runParallel runs the fork/join stage. Both branches start together and
// each commits its own PhaseResult as soon as it finishes. The first branch
// failure cancels the other branch; its completed steps are not undone.
func (r *instanceRun) runParallel(ctx context.Context, phases []api.PhaseDefinition) error {
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = p.Name
	}
	if err := r.activate(ctx, names...); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, phase := range phases {
		g.Go(func() error {
			return r.runPhase(gctx, phase)
		})
	}
	return g.Wait()
}
