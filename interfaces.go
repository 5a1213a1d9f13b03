package shiko

import "context"

// FinalizeHook receives async notifications after a best path has been
// extracted from a run. Multiple hooks may be registered via multiple
// WithFinalizeHook calls. Hook methods run in goroutines: they must not block
// indefinitely. Failures are logged but never reach the caller of
// tot_get_best_path.
type FinalizeHook interface {
	OnRunFinalized(ctx context.Context, run FinalizedRun) error
}
