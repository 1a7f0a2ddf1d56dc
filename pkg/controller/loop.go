package controller

import (
	"context"
	"strconv"

	"github.com/riftlabs/rfsn-controller/pkg/eventlog"
	"github.com/riftlabs/rfsn-controller/pkg/evaluator"
	"github.com/riftlabs/rfsn-controller/pkg/hygiene"
	"github.com/riftlabs/rfsn-controller/pkg/intent"
	"github.com/riftlabs/rfsn-controller/pkg/llm"
	"github.com/riftlabs/rfsn-controller/pkg/modelio"
	"github.com/riftlabs/rfsn-controller/pkg/rerr"
	"github.com/riftlabs/rfsn-controller/pkg/sandbox"
	"github.com/riftlabs/rfsn-controller/pkg/toolmgr"
	"github.com/riftlabs/rfsn-controller/pkg/verify"
)

// BailoutReason enumerates spec §4.11's termination causes.
type BailoutReason string

const (
	BailoutNoProgress   BailoutReason = "no_progress"
	BailoutMaxSteps     BailoutReason = "max_steps_reached"
	BailoutException    BailoutReason = "exception"
	BailoutVerification BailoutReason = "verification_failed"
	BailoutToolQuota    BailoutReason = "tool_quota_exhausted"
)

// Result is what Run returns: either DONE or BAILOUT(reason).
type Result struct {
	Done   bool
	Reason BailoutReason
	Steps  int
	Fatal  error
}

// Loop owns one run's Sandbox, Provider, Tool Manager, and LoopState, and
// drives the MEASURE/MODEL/.../DONE state machine of spec §4.11.
type Loop struct {
	Config   RunConfig
	Sandbox  *sandbox.Sandbox
	Provider llm.Provider
	Log      *eventlog.Log
	Tools    *toolmgr.Manager
	State    *LoopState

	// per-step scratch state carried between phase dispatches within one
	// Run call; never read across runs.
	lastVerify      verify.Result
	lastIntent      intent.Decision
	lastPrompt      string
	pendingRequests []modelio.ToolRequestItem
	lastWinnerDiff  string
	lastHygiene     hygiene.Result
	firstVerify     verify.Result
	firstVerifySet  bool
}

// WinnerDiff returns the last diff applied via GENERATE_PATCHES/EVALUATE,
// for evidence export. Empty if no candidate has won yet.
func (l *Loop) WinnerDiff() string { return l.lastWinnerDiff }

// WinnerHygiene returns the Patch Hygiene Gate's stats for the winning
// diff, for evidence export.
func (l *Loop) WinnerHygiene() hygiene.Result { return l.lastHygiene }

// FirstVerify returns the run's first MEASURE result, for evidence export's
// before.txt.
func (l *Loop) FirstVerify() verify.Result { return l.firstVerify }

// LastVerify returns the most recent MEASURE result, for evidence export's
// after.txt.
func (l *Loop) LastVerify() verify.Result { return l.lastVerify }

// NewLoop wires one run's components together, normalizing cfg.
func NewLoop(cfg RunConfig, sb *sandbox.Sandbox, provider llm.Provider, log *eventlog.Log) *Loop {
	cfg.Normalize()
	return &Loop{
		Config:   cfg,
		Sandbox:  sb,
		Provider: provider,
		Log:      log,
		Tools:    toolmgr.New(),
		State:    NewLoopState(),
	}
}

// Run drives the Loop to completion. The perimeter recover here is spec
// §9's "exception-for-control-flow": the Loop's top level is the only
// catch-all, everywhere inside failures are values.
func (l *Loop) Run(ctx context.Context) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			l.Log.Write(string(l.State.Phase), "bailout", map[string]any{
				"reason": string(BailoutException),
				"panic":  r,
			})
			result = Result{Done: false, Reason: BailoutException, Steps: l.State.Step}
		}
	}()

	for {
		l.Log.SetStep(l.State.Step)

		if l.Config.MaxSteps > 0 && l.State.Step >= l.Config.MaxSteps {
			return l.bailout(BailoutMaxSteps)
		}
		if l.State.StepsWithoutProgress >= l.Config.MaxStepsWithoutProgress && l.Config.MaxStepsWithoutProgress > 0 {
			return l.bailout(BailoutNoProgress)
		}

		switch l.State.Phase {
		case PhaseMeasure:
			if done, res := l.stepMeasure(ctx); done {
				return res
			}
		case PhaseModel:
			if done, res := l.stepModel(ctx); done {
				return res
			}
		case PhaseApplyTools:
			if done, res := l.stepApplyTools(ctx); done {
				return res
			}
		case PhaseGeneratePatches:
			if done, res := l.stepGeneratePatches(ctx); done {
				return res
			}
		case PhaseEvaluate:
			// folded into stepGeneratePatches; unreachable as a standalone
			// dispatch target but kept in the Phase enum per spec §3.
			_ = l.State.Transition(PhaseModel)
		case PhaseApplyWinner:
			_ = l.State.Transition(PhaseMeasure)
		case PhaseFinalVerify:
			if done, res := l.stepFinalVerify(ctx); done {
				return res
			}
		case PhaseBailout:
			return Result{Done: false, Reason: BailoutException, Steps: l.State.Step}
		case PhaseDone:
			return Result{Done: true, Steps: l.State.Step}
		}

		l.State.Step++
	}
}

func (l *Loop) bailout(reason BailoutReason) Result {
	_ = l.State.Transition(PhaseBailout)
	l.Log.Write(string(PhaseBailout), "bailout", map[string]any{"reason": string(reason), "step": l.State.Step})
	return Result{Done: false, Reason: reason, Steps: l.State.Step}
}

// verifyArgv derives the argv vector to run for measurement/final
// verification from the configured test command. It splits on spaces and
// tabs only and does not interpret quotes; Sandbox.Run then applies
// shellguard.Check to each resulting element before executing.
func verifyArgv(cmd string) []string {
	var argv []string
	var cur []rune
	for _, r := range cmd {
		if r == ' ' || r == '\t' {
			if len(cur) > 0 {
				argv = append(argv, string(cur))
				cur = nil
			}
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		argv = append(argv, string(cur))
	}
	return argv
}

func (l *Loop) stepMeasure(ctx context.Context) (bool, Result) {
	allowSkip := l.Config.Mode == ModeFeature
	argv := verifyArgv(l.Config.TestCmd)

	vr := verify.RunTests(ctx, l.Sandbox, argv, 300, allowSkip)
	l.State.Stall.Observe(vr.Fingerprint)
	l.State.RecordMeasurement(len(vr.FailingTests))

	l.Log.Write(string(l.State.Phase), "measure", map[string]any{
		"ok":            vr.OK,
		"exit_code":     vr.ExitCode,
		"failing_tests": vr.FailingTests,
		"fingerprint":   vr.Fingerprint,
		"skipped":       vr.Skipped,
	})

	l.lastVerify = vr
	if !l.firstVerifySet {
		l.firstVerify = vr
		l.firstVerifySet = true
	}

	if vr.OK && l.Config.Mode == ModeRepair {
		_ = l.State.Transition(PhaseFinalVerify)
		return false, Result{}
	}

	stalled := l.State.Stall.IsStalled(vr.Fingerprint, len(vr.FailingTests))
	l.lastIntent = intent.Classify(vr.Stdout, vr.Stderr, l.Config.TestCmd, vr.FailingTests)
	if stalled {
		l.lastIntent.Intent = "gather_evidence"
		l.Log.Write(string(l.State.Phase), "stall_detected", map[string]any{
			"fingerprint": vr.Fingerprint,
		})
	}

	_ = l.State.Transition(PhaseModel)
	return false, Result{}
}

func (l *Loop) stepModel(ctx context.Context) (bool, Result) {
	l.lastPrompt = l.buildPrompt()
	featureMode := l.Config.Mode == ModeFeature

	reply, err := l.callModel(ctx, l.lastPrompt, firstTemperature(l.Config.Temperatures))
	if err != nil {
		return true, l.bailout(BailoutException)
	}

	parsed, validateErr := modelio.Validate(reply, featureMode)
	if validateErr != nil {
		l.Log.Write(string(l.State.Phase), "model", map[string]any{"synthetic": true, "why": parsed.Why})
	}

	switch parsed.Mode {
	case modelio.ModeToolRequest:
		l.pendingRequests = parsed.ToolRequests
		_ = l.State.Transition(PhaseApplyTools)
	case modelio.ModePatch:
		_ = l.State.Transition(PhaseGeneratePatches)
	case modelio.ModeFeatureSummary:
		if parsed.CompletionStatus == modelio.StatusComplete {
			_ = l.State.Transition(PhaseFinalVerify)
		} else {
			_ = l.State.Transition(PhaseModel)
		}
	}
	return false, Result{}
}

func firstTemperature(temps []float64) float64 {
	if len(temps) == 0 {
		return 0.0
	}
	return temps[0]
}

func (l *Loop) callModel(ctx context.Context, prompt string, temperature float64) (string, error) {
	reply, err := l.Provider.Complete(ctx, prompt, temperature)
	if err != nil {
		return "", rerr.Wrap(err, rerr.CodeUnexpectedException, "model call failed")
	}
	return reply, nil
}

func (l *Loop) stepApplyTools(ctx context.Context) (bool, Result) {
	requests := make([]toolmgr.Request, 0, len(l.pendingRequests))
	for _, r := range l.pendingRequests {
		if r.Malformed {
			l.State.Observations.Append(NewObservation(r.Tool, "malformed", 1, r.Reason, l.State.Step))
			l.Log.Write(string(l.State.Phase), "tools_executed", map[string]any{
				"tool": r.Tool, "malformed": true, "reason": r.Reason,
			})
			continue
		}
		requests = append(requests, toolmgr.Request{Tool: r.Tool, Args: r.Args})
	}
	outcomes := l.Tools.Filter(requests)

	for _, o := range outcomes {
		if !o.Allowed {
			l.Log.Write(string(l.State.Phase), "tools_executed", map[string]any{
				"tool": o.Request.Tool, "blocked": true, "reason": o.Reason,
			})
			continue
		}
		exitCode, stdout, _, _ := l.dispatchTool(ctx, o.Request)
		l.State.Observations.Append(NewObservation(o.Request.Tool, o.Request.Signature(), exitCode, stdout, l.State.Step))
		l.Log.Write(string(l.State.Phase), "tools_executed", map[string]any{
			"tool": o.Request.Tool, "exit_code": exitCode,
		})
	}

	if l.Tools.RunQuotaExhausted() {
		_ = l.State.Transition(PhaseGeneratePatches)
		return false, Result{}
	}

	_ = l.State.Transition(PhaseMeasure)
	return false, Result{}
}

// dispatchTool maps a canonical tool name to a Sandbox operation. Tool
// names mirror spec §4.1's exposed surface, namespaced "sandbox.<op>".
func (l *Loop) dispatchTool(ctx context.Context, req toolmgr.Request) (exitCode int, stdout, stderr string, err error) {
	switch req.Tool {
	case "sandbox.run":
		cmd, _ := req.Args["cmd"].(string)
		return l.Sandbox.Run(ctx, verifyArgv(cmd), 120)
	case "sandbox.read_file":
		path, _ := req.Args["path"].(string)
		content, readErr := l.Sandbox.ReadFile(path)
		if readErr != nil {
			return 1, "", readErr.Error(), readErr
		}
		return 0, content, "", nil
	case "sandbox.grep":
		pattern, _ := req.Args["pattern"].(string)
		path, _ := req.Args["path"].(string)
		matches, grepErr := l.Sandbox.Grep(pattern, path)
		if grepErr != nil {
			return 1, "", grepErr.Error(), grepErr
		}
		return 0, joinLines(matches), "", nil
	case "sandbox.list_tree":
		paths, listErr := l.Sandbox.ListTree(0)
		if listErr != nil {
			return 1, "", listErr.Error(), listErr
		}
		return 0, joinLines(paths), "", nil
	default:
		return 1, "", "unknown tool: " + req.Tool, rerr.New(rerr.CodeUnexpectedException, "unknown tool "+req.Tool)
	}
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// stepGeneratePatches samples one candidate diff per configured
// temperature (spec §4.10: N independent generations, not N copies of one
// diff), drops any that fail the Patch Hygiene Gate, and hands the
// survivors to the evaluator.
func (l *Loop) stepGeneratePatches(ctx context.Context) (bool, Result) {
	candidates := make([]evaluator.Candidate, 0, len(l.Config.Temperatures))
	hygieneByDiff := make(map[string]hygiene.Result, len(l.Config.Temperatures))
	for _, t := range l.Config.Temperatures {
		reply, err := l.callModel(ctx, l.lastPrompt, t)
		if err != nil {
			continue
		}
		parsed := modelio.Parse(reply, l.Config.Mode == ModeFeature)
		if parsed.Mode != modelio.ModePatch || parsed.Synthetic {
			continue
		}
		hres, err := hygiene.Check(parsed.Diff, hygieneMode(l.Config.Mode), l.hygieneLimits(), l.Config.HygieneOverrides.AllowLockfileChanges)
		if err != nil {
			l.Log.Write(string(l.State.Phase), "hygiene_rejected", map[string]any{"temperature": t, "reason": err.Error()})
			continue
		}
		hygieneByDiff[parsed.Diff] = hres
		candidates = append(candidates, evaluator.Candidate{Temperature: t, Diff: parsed.Diff})
	}

	_ = l.State.Transition(PhaseEvaluate)
	if len(candidates) == 0 {
		l.State.Stall.RecordPatchAttempt()
		_ = l.State.Transition(PhaseModel)
		return false, Result{}
	}

	argv := verifyArgv(l.Config.TestCmd)
	outcome := evaluator.Evaluate(ctx, candidates, l.worktreeFactory(), argv, 300)

	l.Log.Write(string(l.State.Phase), "candidate_eval", map[string]any{
		"candidates": len(candidates),
		"winner":     outcome.Winner != nil,
	})

	if outcome.Winner == nil {
		l.State.Stall.RecordPatchAttempt()
		_ = l.State.Transition(PhaseModel)
		return false, Result{}
	}

	if err := l.Sandbox.ApplyPatch(ctx, outcome.Winner.Candidate.Diff); err != nil {
		l.State.Stall.RecordPatchAttempt()
		_ = l.State.Transition(PhaseModel)
		return false, Result{}
	}

	l.lastWinnerDiff = outcome.Winner.Candidate.Diff
	l.lastHygiene = hygieneByDiff[outcome.Winner.Candidate.Diff]
	l.Log.Write(string(l.State.Phase), "apply_winner", map[string]any{
		"temperature": outcome.Winner.Candidate.Temperature,
	})
	_ = l.State.Transition(PhaseApplyWinner)
	return false, Result{}
}

func hygieneMode(m Mode) hygiene.Mode {
	if m == ModeFeature {
		return hygiene.ModeFeature
	}
	return hygiene.ModeRepair
}

func (l *Loop) hygieneLimits() hygiene.Limits {
	cfg := l.Config
	limits := hygiene.DefaultLimits(hygieneMode(cfg.Mode))
	if cfg.Mode == ModeFeature {
		limits.MaxLinesChanged += hygiene.LanguageBonus(string(l.Sandbox.Language))
	}
	if cfg.HygieneOverrides.MaxLinesChanged > 0 {
		limits.MaxLinesChanged = cfg.HygieneOverrides.MaxLinesChanged
	}
	if cfg.HygieneOverrides.MaxFilesChanged > 0 {
		limits.MaxFilesChanged = cfg.HygieneOverrides.MaxFilesChanged
	}
	limits.AllowLockfileWrite = cfg.HygieneOverrides.AllowLockfileChanges
	return limits
}

func (l *Loop) worktreeFactory() evaluator.WorktreeFactory {
	return func(ctx context.Context, idx int) (evaluator.Worktree, error) {
		wt, err := l.Sandbox.CreateWorktree(ctx, "candidate-"+strconv.Itoa(idx))
		if err != nil {
			return nil, err
		}
		return worktreeAdapter{sb: wt, primary: l.Sandbox}, nil
	}
}

type worktreeAdapter struct {
	sb      *sandbox.Sandbox
	primary *sandbox.Sandbox
}

func (w worktreeAdapter) ApplyPatch(ctx context.Context, diff string) error {
	return w.sb.ApplyPatch(ctx, diff)
}

func (w worktreeAdapter) Run(ctx context.Context, argv []string, timeoutSec int) (int, string, string, error) {
	return w.sb.Run(ctx, argv, timeoutSec)
}

func (w worktreeAdapter) Destroy(ctx context.Context) error {
	return w.sb.DestroyWorktree(ctx, w.primary)
}

func (l *Loop) stepFinalVerify(ctx context.Context) (bool, Result) {
	for _, cmd := range l.Config.FocusedVerifyCmds {
		if res := verify.RunCommand(ctx, l.Sandbox, verifyArgv(cmd), 300); !res.OK {
			return l.rejectFinalVerify()
		}
	}
	for _, cmd := range l.Config.ExtraVerifyCmds {
		if res := verify.RunCommand(ctx, l.Sandbox, verifyArgv(cmd), 300); !res.OK {
			return l.rejectFinalVerify()
		}
	}
	if l.Config.VerifyPolicy != VerifyPolicyCmdsOnly {
		vr := verify.RunTests(ctx, l.Sandbox, verifyArgv(l.Config.TestCmd), 300, false)
		if !vr.OK {
			return l.rejectFinalVerify()
		}
	}

	_ = l.State.Transition(PhaseDone)
	l.Log.Write(string(PhaseDone), "done", map[string]any{"steps": l.State.Step})
	return true, Result{Done: true, Steps: l.State.Step}
}

func (l *Loop) rejectFinalVerify() (bool, Result) {
	l.Log.Write(string(l.State.Phase), "verification_failed", map[string]any{"step": l.State.Step})
	l.State.Observations.Append(NewObservation("final_verify", "completion-rejection", 1,
		"COMPLETION REJECTED: final verification failed after feature_summary{complete}", l.State.Step))
	_ = l.State.Transition(PhaseModel)
	return false, Result{}
}

func (l *Loop) buildPrompt() string {
	var b []byte
	b = append(b, "mode: "...)
	b = append(b, l.Config.Mode...)
	b = append(b, "\nintent: "...)
	b = append(b, l.lastIntent.Intent...)
	b = append(b, "\nsubgoal: "...)
	b = append(b, l.lastIntent.Subgoal...)
	b = append(b, "\nobservations:\n"...)
	b = append(b, l.State.Observations.Render()...)
	if l.Config.Mode == ModeFeature {
		b = append(b, "\nfeature_description: "...)
		b = append(b, l.Config.FeatureDescription...)
	}
	return string(b)
}
