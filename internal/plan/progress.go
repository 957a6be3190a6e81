// ABOUTME: Pure step-approval progress arithmetic shared by the orchestrator.
// ABOUTME: No I/O and no locks; callers pass the current step slice.

package plan

import "sort"

// Progress summarizes how far a plan's steps have advanced.
type Progress struct {
	Completed int
	Total     int

	// Ready is true when every step is execution-terminal, which is the
	// plan's completion condition. Rejected steps were forced terminal at
	// decision time, so they count toward Completed.
	Ready bool
}

// Measure computes progress over the given steps. A step counts as completed
// once its execution status is terminal, whether it ran or was skipped.
func Measure(steps []*Step) Progress {
	p := Progress{Total: len(steps)}
	for _, s := range steps {
		if s.ExecStatus.Terminal() {
			p.Completed++
		}
	}
	p.Ready = p.Total > 0 && p.Completed == p.Total
	return p
}

// NextDispatchable returns the accepted, not-yet-started step with the lowest
// sequence index, or nil when nothing is eligible. A step awaiting approval
// blocks only itself: later accepted steps dispatch ahead of it.
func NextDispatchable(steps []*Step) *Step {
	var next *Step
	for _, s := range steps {
		if s.Approval != ApprovalAccepted || s.ExecStatus != ExecPending {
			continue
		}
		if next == nil || s.SequenceIndex < next.SequenceIndex {
			next = s
		}
	}
	return next
}

// Running counts steps currently executing.
func Running(steps []*Step) int {
	n := 0
	for _, s := range steps {
		if s.ExecStatus == ExecRunning {
			n++
		}
	}
	return n
}

// Sort orders steps by sequence index in place.
func Sort(steps []*Step) {
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].SequenceIndex < steps[j].SequenceIndex
	})
}
