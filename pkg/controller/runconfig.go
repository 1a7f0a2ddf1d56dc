package controller

// Mode selects repair-vs-feature semantics throughout the Loop (spec §3).
type Mode string

const (
	ModeRepair  Mode = "repair"
	ModeFeature Mode = "feature"
)

// VerifyPolicy controls what FINAL_VERIFY runs (spec §3/§4.11).
type VerifyPolicy string

const (
	VerifyPolicyTestsOnly     VerifyPolicy = "tests_only"
	VerifyPolicyCmdsThenTests VerifyPolicy = "cmds_then_tests"
	VerifyPolicyCmdsOnly      VerifyPolicy = "cmds_only"
)

// RunConfig is spec §3's RunConfig: immutable for the duration of one run.
type RunConfig struct {
	RepoURL string
	Ref     string
	Mode    Mode
	TestCmd string

	FeatureDescription string
	AcceptanceCriteria []string

	MaxSteps                int // 0 means unbounded (fix-all)
	MaxStepsWithoutProgress int
	Temperatures            []float64

	ModelID string

	VerifyPolicy      VerifyPolicy
	FocusedVerifyCmds []string
	ExtraVerifyCmds   []string

	HygieneOverrides HygieneOverrides

	CollectFinetuningData bool
	EvidencePack          bool
}

// HygieneOverrides is spec §3's "hygiene overrides" field.
type HygieneOverrides struct {
	MaxLinesChanged      int // 0 means use mode default
	MaxFilesChanged      int
	AllowLockfileChanges bool
}

// DefaultTemperatures is spec §9's documented default and Open Question
// resolution: accept any non-empty list, treat the first element as the
// tie-break preference.
var DefaultTemperatures = []float64{0.0, 0.2, 0.4}

// Normalize fills RunConfig fields spec.md calls out as having defaults.
func (c *RunConfig) Normalize() {
	if len(c.Temperatures) == 0 {
		c.Temperatures = append([]float64{}, DefaultTemperatures...)
	}
	if c.VerifyPolicy == "" {
		c.VerifyPolicy = VerifyPolicyCmdsThenTests
	}
}
