// Package rollback implements the per-operation LIFO undo stack (C3).
// Every multi-step orchestrator operation pushes an inverse action after
// each mutation; on failure the stack unwinds in reverse, logging but not
// aborting on a failing entry -- the same best-effort philosophy as the
// teacher's teardown()/nukeWalker, which keep going after individual
// log.Errorln failures instead of stopping the whole sweep.
package rollback

import (
	"github.com/google/uuid"
	"github.com/sandia-rt/rt-containers/internal/rtlog"
)

// Action is a single reversible step.
type Action struct {
	ID          string
	Description string
	Undo        func() error
}

// Stack is an append-only LIFO of Actions tied to one operation.
type Stack struct {
	actions []Action
}

// New returns an empty Stack.
func New() *Stack {
	return &Stack{}
}

// Push records the inverse of the most recent mutation.
func (s *Stack) Push(description string, undo func() error) {
	s.actions = append(s.actions, Action{
		ID:          uuid.NewString(),
		Description: description,
		Undo:        undo,
	})
}

// Len reports how many actions are pending.
func (s *Stack) Len() int {
	return len(s.actions)
}

// Clear discards every pending action without running them -- called on
// successful completion of an operation.
func (s *Stack) Clear() {
	s.actions = nil
}

// Unwind runs every action in LIFO order. Each failure is logged but does
// not stop the unwind; it returns the count of actions whose Undo failed.
func (s *Stack) Unwind() int {
	failures := 0
	for i := len(s.actions) - 1; i >= 0; i-- {
		a := s.actions[i]
		rtlog.WithField("action", a.Description).Debug("rollback: unwinding")
		if err := a.Undo(); err != nil {
			failures++
			rtlog.WithFields(map[string]interface{}{
				"action": a.Description,
				"error":  err,
			}).Warn("rollback: undo failed, continuing")
		}
	}
	s.actions = nil
	return failures
}
