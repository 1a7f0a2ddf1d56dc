// Package intent classifies a test-failure blob into a repair intent and
// subgoal (spec §4.5, C5). It is deliberately a heuristic regex scan, not a
// learned classifier: grounded on original_source/rfsn_controller/policy.py,
// generalized from the original's Python-exception vocabulary to the wider
// set spec.md names plus the original's extra categories (key/index/value/
// name/zero-division), which SPEC_FULL.md keeps as a supplemented feature.
package intent

import (
	"regexp"
	"strings"
)

// Decision is spec §4.5's classification output.
type Decision struct {
	Intent        string
	Subgoal       string
	Confidence    float64
	FocusTestCmd  string
	FocusTestPath string
}

type category struct {
	name     string
	patterns []*regexp.Regexp
}

func compile(pats ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(pats))
	for i, p := range pats {
		out[i] = regexp.MustCompile("(?i)" + p)
	}
	return out
}

var categories = []category{
	{"import", compile(`ModuleNotFoundError`, `ImportError`, `No module named`, `cannot import name`)},
	{"name", compile(`NameError`, `name.*is not defined`)},
	{"syntax", compile(`SyntaxError`, `IndentationError`, `invalid syntax`)},
	{"attribute", compile(`AttributeError`, `has no attribute`)},
	{"type", compile(`TypeError`, `unsupported operand type`, `object of type`, `expected.*got`)},
	{"key", compile(`KeyError`, `key not found`)},
	{"index", compile(`IndexError`, `list index out of range`, `string index out of range`)},
	{"value", compile(`ValueError`, `invalid literal`, `could not convert`)},
	{"zero_division", compile(`ZeroDivisionError`, `division by zero`)},
	{"assertion", compile(`AssertionError`, `\bassert\b`)},
}

// classify returns the set of categories whose patterns matched; the order
// in which they are considered comes from the priority table below.
func classify(blob string) map[string]bool {
	found := make(map[string]bool)
	for _, c := range categories {
		for _, re := range c.patterns {
			if re.MatchString(blob) {
				found[c.name] = true
				break
			}
		}
	}
	return found
}

// priority mirrors the original's _choose_intent_from_categories: import and
// syntax failures are addressed first since they block every test in a file,
// then attribute/type/key/index/value errors, then bare assertion failures
// (logic bugs) last since they're the least specific signal.
var priority = []struct {
	category   string
	intent     string
	subgoal    string
	confidence float64
}{
	{"import", "dependency_or_import_fix", "fix_imports", 0.9},
	{"name", "name_fix", "resolve_undefined_names", 0.85},
	{"syntax", "syntax_fix", "correct_syntax_errors", 0.95},
	{"attribute", "attribute_fix", "fix_missing_attr", 0.85},
	{"type", "type_fix", "reduce_type_errors", 0.8},
	{"key", "key_error_fix", "handle_missing_keys", 0.8},
	{"index", "index_error_fix", "fix_index_bounds", 0.8},
	{"value", "value_error_fix", "validate_inputs", 0.75},
	{"zero_division", "zero_division_fix", "add_division_checks", 0.9},
	{"assertion", "logic_fix", "reduce_assertions", 0.7},
}

// Classify inspects combined stdout+stderr from a failed verification run
// and returns the chosen repair Decision. failingTests, when non-empty,
// narrows FocusTestCmd to the first failing test's file for faster
// feedback on the next MEASURE step (spec §4.5).
func Classify(stdout, stderr, fallbackTestCmd string, failingTests []string) Decision {
	blob := stdout + "\n" + stderr
	cats := classify(blob)

	d := Decision{Intent: "general_fix", Subgoal: "reduce_failing_tests", Confidence: 0.5}
	for _, p := range priority {
		if cats[p.category] {
			d.Intent, d.Subgoal, d.Confidence = p.intent, p.subgoal, p.confidence
			break
		}
	}

	if len(failingTests) == 0 {
		if strings.TrimSpace(blob) == "" {
			d.Intent, d.Subgoal, d.Confidence = "gather_evidence", "collect_more_output", 0.3
		}
		d.FocusTestCmd = fallbackTestCmd
		return d
	}

	first := failingTests[0]
	testFile := first
	if idx := strings.Index(first, "::"); idx >= 0 {
		testFile = first[:idx]
	}
	d.FocusTestPath = testFile
	d.FocusTestCmd = "pytest -q " + testFile
	return d
}
