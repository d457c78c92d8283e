package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/desertthunder/cutline/internal/shared"
)

type gateKey struct {
	projectID string
	kind      Kind
}

type run struct {
	cancel     context.CancelFunc
	cancelling bool
}

// Gate tracks in-flight runs per (project, kind) and their cancellation markers.
//
// A pair moves Idle -> Running on [Gate.Begin], Running -> Cancelling on [Gate.Cancel], and back
// to Idle only through [Gate.Settle], which the run calls once its engine call has returned.
type Gate struct {
	mu   sync.Mutex
	runs map[gateKey]*run
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{runs: make(map[gateKey]*run)}
}

// Begin registers a run of kind for projectID. It fails with [shared.ErrTaskConflict] when any
// run or marker exists for the project, of either kind.
func (g *Gate) Begin(projectID string, kind Kind, cancel context.CancelFunc) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, k := range []Kind{KindMusic, KindDetection} {
		if r, ok := g.runs[gateKey{projectID, k}]; ok {
			if r.cancelling {
				return fmt.Errorf("%w: %s run for project %s is cancelling", shared.ErrTaskConflict, k, projectID)
			}
			return fmt.Errorf("%w: %s run for project %s is active", shared.ErrTaskConflict, k, projectID)
		}
	}

	g.runs[gateKey{projectID, kind}] = &run{cancel: cancel}
	return nil
}

// Active reports whether a run of kind is registered for projectID.
func (g *Gate) Active(projectID string, kind Kind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.runs[gateKey{projectID, kind}]
	return ok
}

// Cancelling reports whether the (projectID, kind) pair carries a cancellation marker.
func (g *Gate) Cancelling(projectID string, kind Kind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.runs[gateKey{projectID, kind}]
	return ok && r.cancelling
}

// Cancel sets the marker for the pair and forwards the request through stop. The run's context
// is cancelled only once stop succeeds; if stop fails the marker is cleared and the error returned.
//
// Cancelling a pair with no run returns [shared.ErrNoActiveTask]. A repeated request while the
// marker is set is a no-op.
func (g *Gate) Cancel(projectID string, kind Kind, stop func(projectID string) error) error {
	key := gateKey{projectID, kind}

	g.mu.Lock()
	r, ok := g.runs[key]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: no %s run for project %s", shared.ErrNoActiveTask, kind, projectID)
	}
	if r.cancelling {
		g.mu.Unlock()
		return nil
	}
	r.cancelling = true
	g.mu.Unlock()

	if stop != nil {
		if err := stop(projectID); err != nil {
			g.mu.Lock()
			if g.runs[key] == r {
				r.cancelling = false
			}
			g.mu.Unlock()
			return fmt.Errorf("failed to stop %s run for project %s: %w", kind, projectID, err)
		}
	}

	r.cancel()
	return nil
}

// Settle removes the run for the pair and reports whether it had been marked for cancellation.
func (g *Gate) Settle(projectID string, kind Kind) bool {
	key := gateKey{projectID, kind}

	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.runs[key]
	if !ok {
		return false
	}
	delete(g.runs, key)
	r.cancel()
	return r.cancelling
}
