package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	exitCode int
	stdout   string
	stderr   string
	err      error
}

func (f fakeRunner) Run(ctx context.Context, argv []string, timeout int) (int, string, string, error) {
	return f.exitCode, f.stdout, f.stderr, f.err
}

func TestRunTestsPassOnCleanExit(t *testing.T) {
	r := fakeRunner{exitCode: 0, stdout: "5 passed in 0.3s\n"}
	res := RunTests(context.Background(), r, []string{"pytest", "-q"}, 60, false)
	assert.True(t, res.OK)
	assert.Empty(t, res.FailingTests)
}

func TestRunTestsParsesFailingTests(t *testing.T) {
	r := fakeRunner{
		exitCode: 1,
		stdout:   "FAILED tests/test_x.py::test_one\nFAILED tests/test_y.py::test_two\n1 Error occurred\n",
	}
	res := RunTests(context.Background(), r, []string{"pytest", "-q"}, 60, false)
	require.False(t, res.OK)
	assert.Equal(t, []string{"tests/test_x.py::test_one", "tests/test_y.py::test_two"}, res.FailingTests)
	assert.NotEmpty(t, res.Fingerprint)
}

func TestRunTestsAllowSkipOnNoTestsCollected(t *testing.T) {
	r := fakeRunner{exitCode: 4, stdout: "no tests ran in 0.01s\n"}
	res := RunTests(context.Background(), r, []string{"pytest", "-q"}, 60, true)
	assert.True(t, res.OK)
	assert.True(t, res.Skipped)
}

func TestRunTestsAllowSkipDoesNotMaskRealFailures(t *testing.T) {
	r := fakeRunner{exitCode: 1, stdout: "FAILED tests/test_x.py::test_one\n"}
	res := RunTests(context.Background(), r, []string{"pytest", "-q"}, 60, true)
	assert.False(t, res.OK)
}

func TestRunCommandUsesExitCodeOnly(t *testing.T) {
	ok := RunCommand(context.Background(), fakeRunner{exitCode: 0, stdout: "fine"}, []string{"go", "build", "./..."}, 60)
	assert.True(t, ok.OK)

	fail := RunCommand(context.Background(), fakeRunner{exitCode: 2, stderr: "build failed"}, []string{"go", "build", "./..."}, 60)
	assert.False(t, fail.OK)
}

func TestFingerprintEmptyWhenNoErrorLines(t *testing.T) {
	assert.Equal(t, Fingerprint("", ""), Fingerprint("all good\nstill good\n", ""))
}

func TestFingerprintStableAcrossIdenticalFailures(t *testing.T) {
	out := "Traceback...\nTypeError: bad arg\n"
	assert.Equal(t, Fingerprint(out, ""), Fingerprint(out, ""))
}

func TestFingerprintKeepsOnlyLastFiveErrorLines(t *testing.T) {
	var lines string
	for i := 0; i < 8; i++ {
		lines += "an error occurred here\n"
	}
	fp1 := Fingerprint(lines, "")
	fp2 := Fingerprint("an error occurred here\nan error occurred here\nan error occurred here\nan error occurred here\nan error occurred here\n", "")
	assert.Equal(t, fp2, fp1)
}

func TestFingerprintDiffersOnDifferentErrors(t *testing.T) {
	assert.NotEqual(t, Fingerprint("TypeError: a\n", ""), Fingerprint("ValueError: b\n", ""))
}
