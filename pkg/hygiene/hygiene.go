// Package hygiene implements the Patch Hygiene Gate (spec §4.6, C6):
// mode-aware size/path/content rules applied to a proposed unified diff
// before it may reach the Parallel Candidate Evaluator. Diff parsing is
// grounded on sourcegraph/go-diff, following the parse/tally/scan pipeline
// in services/code_buddy/validate/patch.go of the AleutianLocal pack repo.
package hygiene

import (
	"regexp"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/riftlabs/rfsn-controller/pkg/rerr"
)

// Mode selects which rule set from spec §4.6's table applies.
type Mode string

const (
	ModeRepair  Mode = "repair"
	ModeFeature Mode = "feature"
)

// Limits is a mode's effective size ceiling, overridable per RunConfig
// (spec §3's "hygiene overrides").
type Limits struct {
	MaxLinesChanged    int
	MaxFilesChanged    int
	AllowTestModify    bool
	AllowLockfileWrite bool
}

// DefaultLimits returns spec §4.6's base table values for mode, before any
// per-language or per-run override is applied.
func DefaultLimits(mode Mode) Limits {
	if mode == ModeFeature {
		return Limits{MaxLinesChanged: 500, MaxFilesChanged: 15, AllowTestModify: true}
	}
	return Limits{MaxLinesChanged: 200, MaxFilesChanged: 5, AllowTestModify: false}
}

// LanguageBonus is spec §4.6's per-language line-count addition in feature
// mode ("+200 Java/.NET, +100 Node").
func LanguageBonus(lang string) int {
	switch lang {
	case "java", "dotnet":
		return 200
	case "node":
		return 100
	default:
		return 0
	}
}

var forbiddenPathPrefixes = []string{".git/", "node_modules/", "vendor/", ".venv/", "dist/", "build/", "target/"}

var lockfileNames = map[string]bool{
	"package-lock.json": true, "yarn.lock": true, "pnpm-lock.yaml": true,
	"poetry.lock": true, "Pipfile.lock": true, "Cargo.lock": true,
	"go.sum": true, "composer.lock": true, "Gemfile.lock": true,
}

var forbiddenContentPatterns = []struct {
	label string
	re    *regexp.Regexp
}{
	{"debugger breakpoint", regexp.MustCompile(`\bpdb\.set_trace\(|breakpoint\(`)},
	{"skip decorator", regexp.MustCompile(`@pytest\.mark\.skip`)},
	{"likely secret token", regexp.MustCompile(`(?i)(api[_-]?key|secret|password|token)\s*[:=]\s*['"][A-Za-z0-9/+=_-]{12,}['"]`)},
}

// Result is the gate's verdict on one diff.
type Result struct {
	Accepted     bool
	Reason       string
	LinesAdded   int
	LinesRemoved int
	FilesChanged int
}

// Check parses diffText as a unified multi-file diff and applies mode's
// rules (after language/override adjustment supplied by the caller via
// limits). allowLockfileOverride mirrors RunConfig's explicit escape hatch.
func Check(diffText string, mode Mode, limits Limits, allowLockfileOverride bool) (Result, error) {
	if strings.TrimSpace(diffText) == "" {
		return Result{}, rerr.New(rerr.CodeHygieneRejected, "empty diff")
	}

	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(diffText)).ReadAllFiles()
	if err != nil {
		return Result{}, rerr.Wrap(err, rerr.CodeHygieneRejected, "diff did not parse as unified diff")
	}
	if len(fileDiffs) == 0 {
		return Result{}, rerr.New(rerr.CodeHygieneRejected, "diff contained no file sections")
	}

	res := Result{FilesChanged: len(fileDiffs)}

	for _, fd := range fileDiffs {
		path := diffPath(fd)

		for _, prefix := range forbiddenPathPrefixes {
			if strings.HasPrefix(path, prefix) {
				return reject(res, "path "+path+" under forbidden prefix "+prefix)
			}
		}

		base := baseName(path)
		if lockfileNames[base] && !allowLockfileOverride {
			return reject(res, "lockfile "+path+" modified without override")
		}

		isTest := looksLikeTest(path)
		if isTest {
			if fd.NewName == "/dev/null" {
				return reject(res, "test file "+path+" deleted")
			}
			if !limits.AllowTestModify {
				return reject(res, "test file "+path+" modified in "+string(mode)+" mode")
			}
		}

		for _, hunk := range fd.Hunks {
			added, removed, addedLines := tallyHunk(hunk)
			res.LinesAdded += added
			res.LinesRemoved += removed

			for _, line := range addedLines {
				for _, pat := range forbiddenContentPatterns {
					if pat.re.MatchString(line) {
						return reject(res, "forbidden content ("+pat.label+") in "+path)
					}
				}
				if !isTest && looksLikeStrayPrint(line, path) {
					return reject(res, "stray debug print in "+path)
				}
			}
		}
	}

	if res.FilesChanged > limits.MaxFilesChanged {
		return reject(res, "too many files changed")
	}
	if total := res.LinesAdded + res.LinesRemoved; total > limits.MaxLinesChanged {
		return reject(res, "too many lines changed")
	}

	res.Accepted = true
	return res, nil
}

func reject(res Result, reason string) (Result, error) {
	res.Accepted = false
	res.Reason = reason
	return res, rerr.New(rerr.CodeHygieneRejected, reason)
}

func tallyHunk(hunk *diff.Hunk) (added, removed int, addedLines []string) {
	for _, line := range strings.Split(string(hunk.Body), "\n") {
		switch {
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			added++
			addedLines = append(addedLines, strings.TrimPrefix(line, "+"))
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			removed++
		}
	}
	return added, removed, addedLines
}

func diffPath(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	return strings.TrimPrefix(strings.TrimPrefix(name, "b/"), "a/")
}

func baseName(path string) string {
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

func looksLikeTest(path string) bool {
	lower := strings.ToLower(path)
	return strings.Contains(lower, "test_") || strings.Contains(lower, "_test.") ||
		strings.Contains(lower, "/tests/") || strings.Contains(lower, "/test/") ||
		strings.HasPrefix(lower, "tests/") || strings.HasPrefix(lower, "test/") ||
		strings.Contains(lower, ".test.") || strings.Contains(lower, ".spec.")
}

var printCallPattern = regexp.MustCompile(`^\s*print\(`)

// looksLikeStrayPrint flags a bare print( call added to a non-example,
// non-script Python file — spec §4.6's "stray print() in non-example code".
func looksLikeStrayPrint(line, path string) bool {
	if !strings.HasSuffix(path, ".py") {
		return false
	}
	if strings.Contains(path, "example") || strings.Contains(path, "script") {
		return false
	}
	return printCallPattern.MatchString(line)
}
