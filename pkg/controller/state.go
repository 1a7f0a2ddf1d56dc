package controller

import (
	"strconv"
	"strings"
)

const observationsBufferLimit = 50_000

// recentSignatureWindow is the stall detector's lookback window (spec §4.11:
// "recent-signature queue (last 5)").
const recentSignatureWindow = 5

// stallRepeatThreshold and stallPatchAttemptThreshold are spec §4.11's
// is_stalled constants: the same fingerprint appearing at least this many
// times in the window, or this many patch attempts with tests still
// failing.
const (
	stallRepeatThreshold       = 3
	stallPatchAttemptThreshold = 3
)

// Observation is spec §3's Observation: a bounded summary of one tool
// execution.
type Observation struct {
	Tool       string
	ArgsDigest string
	ExitCode   int
	StdoutHead string
	Step       int
}

const observationStdoutHeadLimit = 500

// NewObservation truncates stdout to spec §3's 500-char prefix.
func NewObservation(tool, argsDigest string, exitCode int, stdout string, step int) Observation {
	head := stdout
	if len(head) > observationStdoutHeadLimit {
		head = head[:observationStdoutHeadLimit]
	}
	return Observation{Tool: tool, ArgsDigest: argsDigest, ExitCode: exitCode, StdoutHead: head, Step: step}
}

func (o Observation) render() string {
	return "[step " + strconv.Itoa(o.Step) + "] " + o.Tool + " (" + o.ArgsDigest + ") exit=" +
		strconv.Itoa(o.ExitCode) + ": " + o.StdoutHead
}

// ObservationBuffer is LoopState's bounded, FIFO-evicting accumulation of
// Observations rendered to text for the next model prompt (spec §3:
// "≤50,000 chars, FIFO eviction").
type ObservationBuffer struct {
	entries []Observation
	size    int
}

// Append adds obs, evicting the oldest entries until the buffer is back
// under the char limit.
func (b *ObservationBuffer) Append(obs Observation) {
	rendered := obs.render()
	b.entries = append(b.entries, obs)
	b.size += len(rendered) + 1

	for b.size > observationsBufferLimit && len(b.entries) > 0 {
		evicted := b.entries[0].render()
		b.entries = b.entries[1:]
		b.size -= len(evicted) + 1
	}
}

// Render joins all retained observations, newline-separated, for prompt
// construction.
func (b *ObservationBuffer) Render() string {
	rendered := make([]string, len(b.entries))
	for i, o := range b.entries {
		rendered[i] = o.render()
	}
	return strings.Join(rendered, "\n")
}

// StallDetector tracks the recent-signature queue and distinct-signature
// set spec §4.11 defines is_stalled over.
type StallDetector struct {
	recent        []string
	distinct      map[string]bool
	patchAttempts int
}

func NewStallDetector() *StallDetector {
	return &StallDetector{distinct: make(map[string]bool)}
}

// Observe pushes fingerprint onto the recent-signature queue (capped at
// recentSignatureWindow, FIFO) and records it in the distinct set.
func (d *StallDetector) Observe(fingerprint string) {
	d.recent = append(d.recent, fingerprint)
	if len(d.recent) > recentSignatureWindow {
		d.recent = d.recent[len(d.recent)-recentSignatureWindow:]
	}
	d.distinct[fingerprint] = true
}

// RecordPatchAttempt increments the patch-attempt counter (spec §4.11: a
// GENERATE_PATCHES round with no winner).
func (d *StallDetector) RecordPatchAttempt() {
	d.patchAttempts++
}

// IsStalled implements spec §4.11's is_stalled predicate:
// (queue.count(sig) >= 3) OR (patch_attempts >= 3 AND failing_tests != []).
func (d *StallDetector) IsStalled(currentFingerprint string, failingTestCount int) bool {
	count := 0
	for _, sig := range d.recent {
		if sig == currentFingerprint {
			count++
		}
	}
	if count >= stallRepeatThreshold {
		return true
	}
	return d.patchAttempts >= stallPatchAttemptThreshold && failingTestCount > 0
}

// DistinctSignatureCount reports the size of the all-time-distinct set.
func (d *StallDetector) DistinctSignatureCount() int { return len(d.distinct) }

// LoopState is spec §3's LoopState: everything the Loop carries between
// steps within one run.
type LoopState struct {
	Step                 int
	Phase                Phase
	Observations         ObservationBuffer
	Stall                *StallDetector
	PatchAttempts        int
	MinFailingTestsSeen  int
	FailingTestsBefore   int
	StepsWithoutProgress int
	minFailingTestsSet   bool
	firstMeasurementSet  bool
}

// NewLoopState starts a fresh LoopState in the initial Phase (spec §3).
func NewLoopState() *LoopState {
	return &LoopState{
		Phase: PhaseMeasure,
		Stall: NewStallDetector(),
	}
}

// Transition moves to next, returning ErrInvalidTransition if the move
// isn't in the Phase table. Callers must log the event themselves (spec §3
// invariant (a): the event log, not this type, is the authority on
// "logged").
func (s *LoopState) Transition(next Phase) error {
	if !s.Phase.CanTransitionTo(next) {
		return ErrInvalidTransition{From: s.Phase, To: next}
	}
	s.Phase = next
	return nil
}

// RecordMeasurement updates MinFailingTestsSeen and StepsWithoutProgress
// from one MEASURE's failing-test count (spec §4.11 step 1). The first
// call's count is retained as FailingTestsBefore for evidence metadata.
func (s *LoopState) RecordMeasurement(failingTestCount int) {
	if !s.firstMeasurementSet {
		s.FailingTestsBefore = failingTestCount
		s.firstMeasurementSet = true
	}
	if !s.minFailingTestsSet || failingTestCount < s.MinFailingTestsSeen {
		s.MinFailingTestsSeen = failingTestCount
		s.minFailingTestsSet = true
		s.StepsWithoutProgress = 0
		return
	}
	s.StepsWithoutProgress++
}
