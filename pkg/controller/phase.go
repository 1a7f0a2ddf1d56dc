// Package controller implements the Controller Loop (spec §4.11, C11): the
// Phase state machine, stall detector, observations buffer, mode-aware
// verification, and termination logic that drives one run end to end. The
// Phase type and its transition table follow odvcencio-buckley's
// pkg/ralph/state.go State/validTransitions/CanTransitionTo pattern.
package controller

import (
	"fmt"
	"slices"
)

// Phase is spec §3's Phase enum. Initial: MEASURE. Terminal: DONE or
// BAILOUT.
type Phase string

const (
	PhaseMeasure         Phase = "MEASURE"
	PhaseModel           Phase = "MODEL"
	PhaseApplyTools      Phase = "APPLY_TOOLS"
	PhaseGeneratePatches Phase = "GENERATE_PATCHES"
	PhaseEvaluate        Phase = "EVALUATE"
	PhaseApplyWinner     Phase = "APPLY_WINNER"
	PhaseFinalVerify     Phase = "FINAL_VERIFY"
	PhaseBailout         Phase = "BAILOUT"
	PhaseDone            Phase = "DONE"
)

// validTransitions encodes spec §3 invariant (a)/(b)/(c): every edge here
// corresponds to a logged event, FINAL_VERIFY is reachable only from a
// passing repair-mode MEASURE or a model-declared completion routed through
// MODEL, and DONE is reachable only from FINAL_VERIFY.
var validTransitions = map[Phase][]Phase{
	PhaseMeasure:         {PhaseModel, PhaseFinalVerify, PhaseBailout},
	PhaseModel:           {PhaseApplyTools, PhaseGeneratePatches, PhaseFinalVerify, PhaseBailout},
	PhaseApplyTools:      {PhaseMeasure, PhaseModel, PhaseGeneratePatches, PhaseBailout},
	PhaseGeneratePatches: {PhaseEvaluate, PhaseBailout},
	PhaseEvaluate:        {PhaseApplyWinner, PhaseGeneratePatches, PhaseModel, PhaseBailout},
	PhaseApplyWinner:     {PhaseMeasure, PhaseBailout},
	PhaseFinalVerify:     {PhaseDone, PhaseModel, PhaseBailout},
	PhaseBailout:         {},
	PhaseDone:            {},
}

// CanTransitionTo reports whether a move from p to next is legal.
func (p Phase) CanTransitionTo(next Phase) bool {
	allowed, ok := validTransitions[p]
	if !ok {
		return false
	}
	return slices.Contains(allowed, next)
}

// Terminal reports whether p is DONE or BAILOUT.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseBailout
}

func (p Phase) String() string { return string(p) }

// ErrInvalidTransition is returned by LoopState.Transition on an illegal
// Phase move.
type ErrInvalidTransition struct {
	From Phase
	To   Phase
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid phase transition: %s -> %s", e.From, e.To)
}
