package types

import "fmt"

// ProjectState is the lifecycle state of an indexed project
type ProjectState string

const (
	StateUninitialized     ProjectState = "uninitialized"
	StateIndexing          ProjectState = "indexing"
	StateReady             ProjectState = "ready"
	StateReadyWithWarnings ProjectState = "ready_with_warnings"
	StateSyncing           ProjectState = "syncing"
	StateRemoving          ProjectState = "removing"
)

// IsBusy reports whether a writer currently owns the project
func (s ProjectState) IsBusy() bool {
	switch s {
	case StateIndexing, StateSyncing, StateRemoving:
		return true
	}
	return false
}

// IsReady reports whether the project can serve queries from a completed run
func (s ProjectState) IsReady() bool {
	return s == StateReady || s == StateReadyWithWarnings
}

// CanTransition reports whether moving from s to next is allowed
func (s ProjectState) CanTransition(next ProjectState) bool {
	switch s {
	case StateUninitialized:
		return next == StateIndexing || next == StateRemoving
	case StateIndexing, StateSyncing:
		// an interrupted run leaves the project usable with warnings
		return next == StateReady || next == StateReadyWithWarnings || next == StateUninitialized
	case StateReady, StateReadyWithWarnings:
		return next == StateSyncing || next == StateIndexing || next == StateRemoving
	}
	return false
}

// Transition validates a move and returns the next state
func (s ProjectState) Transition(next ProjectState) (ProjectState, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidProjectState, s, next)
	}
	return next, nil
}
