// Package evaluator implements the Parallel Candidate Evaluator (spec
// §4.10, C10): apply N speculative patch candidates concurrently, each in
// its own isolated sandbox worktree, wait for all of them to finish, and
// return the lowest-index passing result. Outstanding candidates are not
// cancelled when one passes. Fan-out pattern grounded on
// odvcencio-buckley's pkg/ralph/orchestrator.go executeParallel: results are
// collected under a mutex, and golang.org/x/sync/errgroup provides the
// goroutine-group bookkeeping.
package evaluator

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/riftlabs/rfsn-controller/pkg/verify"
)

// Candidate is spec §3's PatchCandidate: one generation's proposed diff.
type Candidate struct {
	Temperature float64
	Diff        string
	ContentHash string
}

// CandidateResult pairs a Candidate with its VerifyResult in an isolated
// worktree.
type CandidateResult struct {
	Candidate Candidate
	Index     int
	Verify    verify.Result
	ApplyErr  error
}

// Worktree abstracts one candidate's isolated evaluation environment.
// Satisfied by the Sandbox returned from sandbox.Sandbox.CreateWorktree.
type Worktree interface {
	ApplyPatch(ctx context.Context, diff string) error
	Run(ctx context.Context, argv []string, timeoutSec int) (exitCode int, stdout, stderr string, err error)
	Destroy(ctx context.Context) error
}

// WorktreeFactory creates an isolated Worktree for candidate index idx.
type WorktreeFactory func(ctx context.Context, idx int) (Worktree, error)

// Outcome is the evaluator's verdict across all candidates.
type Outcome struct {
	Winner    *CandidateResult
	BestLoser *CandidateResult  // set only when Winner is nil
	Results   []CandidateResult // all results, for loser-report logging
}

// Evaluate runs every candidate concurrently to completion: create a
// worktree, apply the diff, run verifyArgv, tear the worktree down on every
// exit path. Workers never fail the errgroup (each records its own error in
// its result slot instead), so gctx is never cancelled early; Evaluate waits
// for all candidates and then picks the lowest-index passing one. Ties
// across passing candidates favor the lowest index (== lowest temperature,
// per the input ordering convention).
func Evaluate(ctx context.Context, candidates []Candidate, newWorktree WorktreeFactory, verifyArgv []string, timeoutSec int) Outcome {
	results := make([]CandidateResult, len(candidates))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)

	for i, cand := range candidates {
		i, cand := i, cand
		g.Go(func() error {
			wt, err := newWorktree(gctx, i)
			if err != nil {
				mu.Lock()
				results[i] = CandidateResult{Candidate: cand, Index: i, ApplyErr: err}
				mu.Unlock()
				return nil
			}
			defer wt.Destroy(context.Background())

			if applyErr := wt.ApplyPatch(gctx, cand.Diff); applyErr != nil {
				mu.Lock()
				results[i] = CandidateResult{Candidate: cand, Index: i, ApplyErr: applyErr}
				mu.Unlock()
				return nil
			}

			vr := verify.RunTests(gctx, runnerFunc(wt.Run), verifyArgv, timeoutSec, false)

			mu.Lock()
			results[i] = CandidateResult{Candidate: cand, Index: i, Verify: vr}
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	return selectOutcome(results)
}

type runnerFunc func(ctx context.Context, argv []string, timeoutSec int) (int, string, string, error)

func (f runnerFunc) Run(ctx context.Context, argv []string, timeoutSec int) (int, string, string, error) {
	return f(ctx, argv, timeoutSec)
}

func selectOutcome(results []CandidateResult) Outcome {
	for i := range results {
		if results[i].Verify.OK {
			winner := results[i]
			return Outcome{Winner: &winner, Results: results}
		}
	}

	// No winner: loser-report sorted by failing-test-count ascending,
	// lowest index breaking ties (spec §4.10).
	if len(results) == 0 {
		return Outcome{Results: results}
	}
	sorted := make([]CandidateResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(a, b int) bool {
		return len(sorted[a].Verify.FailingTests) < len(sorted[b].Verify.FailingTests)
	})
	best := sorted[0]

	return Outcome{BestLoser: &best, Results: results}
}
