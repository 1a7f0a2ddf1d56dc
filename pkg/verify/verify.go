// Package verify runs a test command and parses its outcome into a
// VerifyResult (spec §3, §4.4, C4): pass/fail, the failing-test list, exit
// code, and a stable error fingerprint used to detect repeated failures.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Result is spec §3's VerifyResult.
type Result struct {
	OK           bool
	ExitCode     int
	Stdout       string
	Stderr       string
	FailingTests []string
	Fingerprint  string
	Predicate    string // "tests" | "command"
	Skipped      bool
}

// Runner executes a command in the sandbox and returns its raw outcome.
// Satisfied by *sandbox.Sandbox; kept as an interface here so verify has no
// import-cycle dependency on the sandbox package.
type Runner interface {
	Run(ctx context.Context, argv []string, timeout int) (exitCode int, stdout, stderr string, err error)
}

var pytestFailedRe = regexp.MustCompile(`(?m)^FAILED\s+(.+?)\s*$`)

// noTestsIndicators are substrings (checked case-insensitively) the original
// implementation treats as "no tests collected yet" during feature-mode
// early scaffolding (spec §4.4, §9 Open Question 2). Not generalized beyond
// this literal list.
var noTestsIndicators = []string{
	"no tests ran",
	"no test",
	"collected 0 items",
	"cannot find",
	"does not exist",
}

// RunTests runs cmd as a shell-free argv vector through r and classifies the
// outcome. allowSkip enables the "no tests collected" early-scaffolding
// success documented in spec §4.4/§9.
func RunTests(ctx context.Context, r Runner, argv []string, timeoutSec int, allowSkip bool) Result {
	exitCode, stdout, stderr, runErr := r.Run(ctx, argv, timeoutSec)
	combined := stdout + stderr

	if runErr != nil && exitCode == 0 {
		exitCode = 1
	}

	if allowSkip {
		lower := strings.ToLower(combined)
		for _, indicator := range noTestsIndicators {
			if strings.Contains(lower, indicator) {
				return Result{
					OK:        true,
					ExitCode:  0,
					Stdout:    stdout,
					Stderr:    stderr,
					Predicate: "tests",
					Skipped:   true,
				}
			}
		}
	}

	failing := parsePytestFailures(combined)
	ok := exitCode == 0 && len(failing) == 0

	return Result{
		OK:           ok,
		ExitCode:     exitCode,
		Stdout:       stdout,
		Stderr:       stderr,
		FailingTests: failing,
		Fingerprint:  Fingerprint(stdout, stderr),
		Predicate:    "tests",
	}
}

// RunCommand runs a non-test verification command (focused/extra verify
// commands, spec §4.11's FINAL_VERIFY) and reports ok purely from the exit
// code.
func RunCommand(ctx context.Context, r Runner, argv []string, timeoutSec int) Result {
	exitCode, stdout, stderr, runErr := r.Run(ctx, argv, timeoutSec)
	if runErr != nil && exitCode == 0 {
		exitCode = 1
	}
	return Result{
		OK:          exitCode == 0,
		ExitCode:    exitCode,
		Stdout:      stdout,
		Stderr:      stderr,
		Fingerprint: Fingerprint(stdout, stderr),
		Predicate:   "command",
	}
}

func parsePytestFailures(output string) []string {
	matches := pytestFailedRe.FindAllStringSubmatch(output, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// Fingerprint computes spec §3's stable error fingerprint: SHA-256 over the
// last five lines of combined stdout+stderr that contain "Error" (exact
// case) or "error" (any case) — i.e. a case-sensitive match on the leading
// "E" of "Error" but case-insensitive overall — newline-joined. When no such
// lines exist, it is the SHA-256 of the empty string.
func Fingerprint(stdout, stderr string) string {
	combined := stdout + stderr
	lines := strings.Split(combined, "\n")

	var matched []string
	for _, line := range lines {
		if containsErrorToken(line) {
			matched = append(matched, line)
		}
	}
	if len(matched) > 5 {
		matched = matched[len(matched)-5:]
	}

	sum := sha256.Sum256([]byte(strings.Join(matched, "\n")))
	return hex.EncodeToString(sum[:])
}

func containsErrorToken(line string) bool {
	if strings.Contains(line, "Error") {
		return true
	}
	return strings.Contains(strings.ToLower(line), "error")
}
