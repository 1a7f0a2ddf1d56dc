package evaluator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorktree struct {
	applyErr  error
	exitCode  int
	stdout    string
	stderr    string
	destroyed *bool
}

func (f fakeWorktree) ApplyPatch(ctx context.Context, diff string) error { return f.applyErr }

func (f fakeWorktree) Run(ctx context.Context, argv []string, timeoutSec int) (int, string, string, error) {
	return f.exitCode, f.stdout, f.stderr, nil
}

func (f fakeWorktree) Destroy(ctx context.Context) error {
	*f.destroyed = true
	return nil
}

func TestEvaluatePicksPassingCandidate(t *testing.T) {
	destroyed := make([]bool, 3)
	candidates := []Candidate{{Temperature: 0.0}, {Temperature: 0.2}, {Temperature: 0.4}}

	factory := func(ctx context.Context, idx int) (Worktree, error) {
		exitCode := 1
		if idx == 1 {
			exitCode = 0
		}
		return fakeWorktree{exitCode: exitCode, destroyed: &destroyed[idx]}, nil
	}

	out := Evaluate(context.Background(), candidates, factory, []string{"pytest", "-q"}, 30)
	require.NotNil(t, out.Winner)
	assert.Equal(t, 1, out.Winner.Index)
	for i, d := range destroyed {
		assert.True(t, d, "worktree %d should be destroyed", i)
	}
}

func TestEvaluateReturnsBestLoserWhenNonePass(t *testing.T) {
	destroyed := make([]bool, 2)
	candidates := []Candidate{{Temperature: 0.0}, {Temperature: 0.2}}

	factory := func(ctx context.Context, idx int) (Worktree, error) {
		stdout := "FAILED a::b\nFAILED a::c\n"
		if idx == 1 {
			stdout = "FAILED a::b\n"
		}
		return fakeWorktree{exitCode: 1, stdout: stdout, destroyed: &destroyed[idx]}, nil
	}

	out := Evaluate(context.Background(), candidates, factory, []string{"pytest", "-q"}, 30)
	assert.Nil(t, out.Winner)
	require.NotNil(t, out.BestLoser)
	assert.Equal(t, 1, out.BestLoser.Index)
}

func TestEvaluateHandlesApplyFailure(t *testing.T) {
	destroyed := make([]bool, 1)
	candidates := []Candidate{{Temperature: 0.0}}

	factory := func(ctx context.Context, idx int) (Worktree, error) {
		return fakeWorktree{applyErr: assertErr{}, destroyed: &destroyed[idx]}, nil
	}

	out := Evaluate(context.Background(), candidates, factory, []string{"pytest", "-q"}, 30)
	assert.Nil(t, out.Winner)
	require.Len(t, out.Results, 1)
	assert.Error(t, out.Results[0].ApplyErr)
}

type assertErr struct{}

func (assertErr) Error() string { return "apply failed" }

func TestEvaluateWorktreeFactoryFailure(t *testing.T) {
	candidates := []Candidate{{Temperature: 0.0}}
	factory := func(ctx context.Context, idx int) (Worktree, error) {
		return nil, assertErr{}
	}
	out := Evaluate(context.Background(), candidates, factory, []string{"pytest", "-q"}, 30)
	assert.Nil(t, out.Winner)
	require.Len(t, out.Results, 1)
	assert.Error(t, out.Results[0].ApplyErr)
}
