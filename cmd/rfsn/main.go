// Command rfsn is the CLI entrypoint for the Controller (spec §6): it
// parses the flag surface, assembles a RunConfig, clones the target repo
// into a fresh Sandbox, and drives the Controller Loop to DONE or BAILOUT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/riftlabs/rfsn-controller/pkg/config"
	"github.com/riftlabs/rfsn-controller/pkg/controller"
	"github.com/riftlabs/rfsn-controller/pkg/evidence"
	"github.com/riftlabs/rfsn-controller/pkg/eventlog"
	"github.com/riftlabs/rfsn-controller/pkg/llm"
	"github.com/riftlabs/rfsn-controller/pkg/repourl"
	"github.com/riftlabs/rfsn-controller/pkg/sandbox"
)

// exit codes per spec §6: 0 DONE, 1 BAILOUT, 2 config error.
const (
	exitDone        = 0
	exitBailout     = 1
	exitConfigError = 2
)

type exitCoder interface{ ExitCode() int }

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error { return e.err }
func (e exitError) ExitCode() int { return e.code }

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

func exitCodeForError(err error) int {
	if err == nil {
		return exitDone
	}
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return exitBailout
}

// repeatableFlag implements flag.Value for flags spec §6 marks "repeatable"
// (--acceptance-criteria, --focused-verify-cmd, --verify-cmd-extra).
type repeatableFlag struct{ values []string }

func (r *repeatableFlag) String() string { return strings.Join(r.values, ",") }
func (r *repeatableFlag) Set(v string) error {
	r.values = append(r.values, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("rfsn", flag.ContinueOnError)

	repo := fs.String("repo", "", "target repository URL (required)")
	ref := fs.String("ref", "", "git ref to check out")
	test := fs.String("test", "", "test command to run (repair mode)")
	steps := fs.Int("steps", 40, "maximum controller steps")
	fixAll := fs.Bool("fix-all", false, "run unbounded (ignore --steps)")
	maxStepsNoProgress := fs.Int("max-steps-without-progress", 8, "bail out after this many steps with no improvement")
	model := fs.String("model", "", "model identifier override")
	collectFinetuning := fs.Bool("collect-finetuning-data", false, "emit finetuning_data events")
	featureMode := fs.Bool("feature-mode", false, "run in feature-implementation mode")
	featureDescription := fs.String("feature-description", "", "feature description (feature mode)")
	verifyPolicy := fs.String("verify-policy", "cmds_then_tests", "tests_only|cmds_then_tests|cmds_only")
	maxLinesChanged := fs.Int("max-lines-changed", 0, "hygiene override: max lines changed (0 = mode default)")
	maxFilesChanged := fs.Int("max-files-changed", 0, "hygiene override: max files changed (0 = mode default)")
	allowLockfileChanges := fs.Bool("allow-lockfile-changes", false, "permit lockfile diffs through the hygiene gate")
	evidencePack := fs.Bool("evidence-pack", true, "export an evidence pack on DONE")

	var acceptanceCriteria, focusedVerifyCmds, extraVerifyCmds repeatableFlag
	fs.Var(&acceptanceCriteria, "acceptance-criteria", "acceptance criterion (repeatable, feature mode)")
	fs.Var(&focusedVerifyCmds, "focused-verify-cmd", "focused verify command (repeatable)")
	fs.Var(&extraVerifyCmds, "verify-cmd-extra", "extra verify command (repeatable)")

	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}

	if err := repourl.Validate(*repo); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	runCfg := buildRunConfig(cfg, *repo, *ref, *test, *steps, *fixAll, *maxStepsNoProgress, *model,
		*collectFinetuning, *featureMode, *featureDescription, acceptanceCriteria.values,
		*verifyPolicy, focusedVerifyCmds.values, extraVerifyCmds.values,
		*maxLinesChanged, *maxFilesChanged, *allowLockfileChanges, *evidencePack)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := execute(ctx, cfg, runCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeForError(err)
	}
	if !result.Done {
		fmt.Fprintf(os.Stderr, "BAILOUT: %s\n", result.Reason)
		return exitBailout
	}
	fmt.Printf("DONE after %d step(s)\n", result.Steps)
	return exitDone
}

func buildRunConfig(
	cfg *config.Config,
	repoURL, ref, test string,
	steps int, fixAll bool, maxStepsNoProgress int,
	model string, collectFinetuning, featureMode bool, featureDescription string, acceptanceCriteria []string,
	verifyPolicy string, focusedVerifyCmds, extraVerifyCmds []string,
	maxLinesChanged, maxFilesChanged int, allowLockfileChanges, evidencePack bool,
) controller.RunConfig {
	mode := controller.ModeRepair
	if featureMode {
		mode = controller.ModeFeature
	}

	maxSteps := steps
	if fixAll {
		maxSteps = 0
	}

	modelID := model
	if modelID == "" {
		modelID = cfg.Model.DefaultID
	}

	rc := controller.RunConfig{
		RepoURL:                 repoURL,
		Ref:                     ref,
		Mode:                    mode,
		TestCmd:                 test,
		FeatureDescription:      featureDescription,
		AcceptanceCriteria:      acceptanceCriteria,
		MaxSteps:                maxSteps,
		MaxStepsWithoutProgress: maxStepsNoProgress,
		Temperatures:            append([]float64{}, cfg.Model.Temperatures...),
		ModelID:                 modelID,
		VerifyPolicy:            controller.VerifyPolicy(verifyPolicy),
		FocusedVerifyCmds:       focusedVerifyCmds,
		ExtraVerifyCmds:         extraVerifyCmds,
		HygieneOverrides: controller.HygieneOverrides{
			MaxLinesChanged:      maxLinesChanged,
			MaxFilesChanged:      maxFilesChanged,
			AllowLockfileChanges: allowLockfileChanges || cfg.Hygiene.AllowLockfileChanges,
		},
		CollectFinetuningData: collectFinetuning,
		EvidencePack:          evidencePack,
	}
	rc.Normalize()
	return rc
}

// execute wires Sandbox, Provider, and event log together and drives one
// Loop to completion. Startup failures (clone, provider misconfiguration)
// are fail-closed per spec §7 and surfaced as exit code 2.
func execute(ctx context.Context, cfg *config.Config, runCfg controller.RunConfig) (controller.Result, error) {
	sb := sandbox.New(cfg.Sandbox.BaseDir)
	if err := sb.Clone(ctx, runCfg.RepoURL, runCfg.Ref); err != nil {
		return controller.Result{}, withExitCode(err, exitConfigError)
	}

	runDir := filepath.Join(cfg.Sandbox.BaseDir, "rfsn_sb_"+sb.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return controller.Result{}, withExitCode(err, exitConfigError)
	}

	log, err := eventlog.Open(filepath.Join(runDir, "run.jsonl"))
	if err != nil {
		return controller.Result{}, withExitCode(err, exitConfigError)
	}
	defer log.Close()

	log.Write("startup", "setup", map[string]any{
		"repo":     repourl.RepoName(runCfg.RepoURL),
		"language": string(sb.Language),
		"mode":     string(runCfg.Mode),
	})

	provider, err := llm.NewHTTPProvider(providerEndpoint(cfg), cfg.Model.ProviderEnvVar, runCfg.ModelID)
	if err != nil {
		return controller.Result{}, withExitCode(err, exitConfigError)
	}

	loop := controller.NewLoop(runCfg, sb, provider, log)
	result := loop.Run(ctx)

	if result.Done && runCfg.EvidencePack {
		exportEvidence(runDir, sb, loop, result)
	}

	return result, nil
}

func providerEndpoint(cfg *config.Config) string {
	if v := os.Getenv("RFSN_MODEL_ENDPOINT"); v != "" {
		return v
	}
	return "https://api.openai.com/v1/chat/completions"
}

// exportEvidence is best-effort: a failed export never turns a DONE result
// into a BAILOUT (spec §4.13 only requires the pack "on success").
func exportEvidence(runDir string, sb *sandbox.Sandbox, loop *controller.Loop, result controller.Result) {
	winnerDiff := loop.WinnerDiff()
	after := loop.LastVerify()

	// VerifyResult carries the failing-test list, not a total test count, so
	// passingTestsAfter is 0 unless the final MEASURE was fully green.
	passingTestsAfter := 0
	if after.OK {
		passingTestsAfter = loop.State.FailingTestsBefore
	}

	metadata := evidence.NewMetadata(
		sb.RunID, loop.Config.RepoURL, winnerDiff, evidence.FilesChanged(winnerDiff),
		loop.WinnerHygiene().LinesAdded, loop.WinnerHygiene().LinesRemoved,
		loop.State.FailingTestsBefore, passingTestsAfter, result.Steps, loop.Config.ModelID,
		time.Now(),
	)
	pack := evidence.Pack{
		Metadata:            metadata,
		WinnerDiff:          winnerDiff,
		FailingOutputBefore: loop.FirstVerify().Stdout + loop.FirstVerify().Stderr,
		PassingOutputAfter:  after.Stdout + after.Stderr,
	}
	_, _ = evidence.Export(runDir, sb.RunID, pack)
}
