// Package sandbox implements the Sandbox (spec §4.1, C1): a disposable
// working directory that clones the target repo, runs allowlisted
// subprocesses with no shell, and mediates file reads/greps/patches/resets
// against the repo root. Clone and worktree management follow
// odvcencio-buckley's pkg/ralph/sandbox.go and pkg/worktree/manager.go: use
// go-git for clone and ref checkout and shell out to the git binary for
// apply, reset, and worktree add/remove, which go-git does not fully support.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/oklog/ulid/v2"

	"github.com/riftlabs/rfsn-controller/pkg/allowlist"
	"github.com/riftlabs/rfsn-controller/pkg/detect"
	"github.com/riftlabs/rfsn-controller/pkg/rerr"
	"github.com/riftlabs/rfsn-controller/pkg/shellguard"
)

var forbiddenDirPrefixes = []string{".git/", "node_modules/", "vendor/", ".venv/"}

const maxListTreeDefault = 2000

// Sandbox is one run's disposable working directory.
type Sandbox struct {
	RunID    string
	BaseDir  string
	RepoDir  string
	Language detect.Language
	Profile  *allowlist.Profile

	repo *git.Repository
}

// New allocates RunID and BaseDir but does not clone yet.
func New(baseDir string) *Sandbox {
	return &Sandbox{
		RunID:   ulid.Make().String(),
		BaseDir: baseDir,
	}
}

// Clone clones url at ref (branch, tag, or commit-ish; empty means default
// branch) into s.BaseDir/repo, then detects the project language and builds
// its command-allowlist profile.
func (s *Sandbox) Clone(ctx context.Context, url, ref string) error {
	s.RepoDir = filepath.Join(s.BaseDir, "repo")

	opts := &git.CloneOptions{URL: url}
	if ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
		opts.SingleBranch = true
	}

	repo, err := git.PlainCloneContext(ctx, s.RepoDir, false, opts)
	if err != nil && ref != "" {
		// ref may be a tag or bare commit-ish rather than a branch; retry
		// with a full clone and an explicit checkout.
		repo, err = git.PlainCloneContext(ctx, s.RepoDir, false, &git.CloneOptions{URL: url})
		if err == nil {
			wt, wtErr := repo.Worktree()
			if wtErr != nil {
				return rerr.Wrap(wtErr, rerr.CodeCloneFailed, "open worktree after clone")
			}
			if coErr := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(ref)}); coErr != nil {
				if coErr = wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewTagReferenceName(ref)}); coErr != nil {
					return rerr.Wrap(coErr, rerr.CodeCloneFailed, "checkout ref "+ref)
				}
			}
		}
	}
	if err != nil {
		return rerr.Wrap(err, rerr.CodeCloneFailed, "clone "+url)
	}
	s.repo = repo

	s.Language = detect.Detect(s.RepoDir)
	s.Profile = allowlist.ForLanguage(s.Language)
	return nil
}

// ListTree lists up to max regular file paths under the repo root, skipping
// excluded directories, relative to RepoDir.
func (s *Sandbox) ListTree(max int) ([]string, error) {
	if max <= 0 {
		max = maxListTreeDefault
	}
	var paths []string
	err := filepath.Walk(s.RepoDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if len(paths) >= max {
			return filepath.SkipAll
		}
		rel, relErr := filepath.Rel(s.RepoDir, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() {
			if isForbidden(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, rerr.Wrap(err, rerr.CodeUnexpectedException, "list_tree")
	}
	return paths, nil
}

// ReadFile returns the content of path, resolved against RepoDir.
func (s *Sandbox) ReadFile(path string) (string, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", rerr.Wrap(err, rerr.CodeUnexpectedException, "read_file "+path)
	}
	return string(data), nil
}

// Grep searches for pattern (a Go regexp) across path, or the whole repo
// tree when path is empty, returning "path:lineno:text" matches.
func (s *Sandbox) Grep(pattern, path string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, rerr.Wrap(err, rerr.CodeUnexpectedException, "grep: invalid pattern")
	}

	var targets []string
	if path != "" {
		resolved, rErr := s.resolve(path)
		if rErr != nil {
			return nil, rErr
		}
		targets = []string{resolved}
	} else {
		rels, lErr := s.ListTree(maxListTreeDefault)
		if lErr != nil {
			return nil, lErr
		}
		for _, rel := range rels {
			targets = append(targets, filepath.Join(s.RepoDir, rel))
		}
	}

	var matches []string
	for _, t := range targets {
		data, rErr := os.ReadFile(t)
		if rErr != nil {
			continue
		}
		rel, _ := filepath.Rel(s.RepoDir, t)
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				matches = append(matches, fmt.Sprintf("%s:%d:%s", filepath.ToSlash(rel), i+1, line))
			}
		}
	}
	return matches, nil
}

// Run execs argv directly (never through a shell) after checking argv[0]
// against the effective allowlist and every element against shellguard's
// idiom detector. timeout is in seconds.
func (s *Sandbox) Run(ctx context.Context, argv []string, timeoutSec int) (exitCode int, stdout, stderr string, err error) {
	if len(argv) == 0 {
		return -1, "", "", rerr.New(rerr.CodeCommandNotAllowed, "empty command")
	}
	if !s.Profile.Allows(argv[0]) {
		return -1, "", "", rerr.New(rerr.CodeCommandNotAllowed, "command not allowed: "+argv[0]).
			WithContext("argv0", argv[0])
	}
	for _, arg := range argv {
		if sgErr := shellguard.Check(arg); sgErr != nil {
			return -1, "", "", sgErr
		}
	}

	if timeoutSec <= 0 {
		timeoutSec = 120
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...) //nolint:gosec // argv[0] checked against allowlist above
	cmd.Dir = s.RepoDir
	cmd.Env = os.Environ()

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	exitCode = cmd.ProcessState.ExitCode()
	stdout, stderr = outBuf.String(), errBuf.String()

	if runCtx.Err() != nil {
		return exitCode, stdout, stderr, rerr.New(rerr.CodeTestTimeout, "command timed out after "+(time.Duration(timeoutSec)*time.Second).String())
	}
	return exitCode, stdout, stderr, runErr
}

// ApplyPatch shells out to `git apply` for the unified diff text — applying
// a diff by hand would have to reimplement `git apply`'s fuzzy context
// matching, which this sandbox has no reason to do when the real binary is
// available and already on the allowlist's trust boundary.
func (s *Sandbox) ApplyPatch(ctx context.Context, diffText string) error {
	cmd := exec.CommandContext(ctx, "git", "apply", "--whitespace=nowarn", "-")
	cmd.Dir = s.RepoDir
	cmd.Stdin = strings.NewReader(diffText)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return rerr.Wrap(err, rerr.CodePatchApplyFailed, "git apply failed: "+string(out))
	}
	return nil
}

// ResetHard discards all working-copy changes back to ref.
func (s *Sandbox) ResetHard(ctx context.Context, ref string) error {
	args := []string{"reset", "--hard"}
	if ref != "" {
		args = append(args, ref)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.RepoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return rerr.Wrap(err, rerr.CodeUnexpectedException, "git reset --hard failed: "+string(out))
	}
	return nil
}

// CreateWorktree creates an isolated git worktree off the current HEAD for
// name, returning a Sandbox view over it sharing this Sandbox's language
// profile. go-git has no full worktree-add support, so this shells out to
// the git CLI, same as buckley's SandboxManager.CreateWorktree.
func (s *Sandbox) CreateWorktree(ctx context.Context, name string) (*Sandbox, error) {
	path := filepath.Join(s.BaseDir, "worktrees", name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, rerr.Wrap(err, rerr.CodeUnexpectedException, "mkdir worktree parent")
	}

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "--detach", path, "HEAD")
	cmd.Dir = s.RepoDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, rerr.Wrap(err, rerr.CodeUnexpectedException, "git worktree add failed: "+string(out))
	}

	return &Sandbox{
		RunID:    s.RunID,
		BaseDir:  s.BaseDir,
		RepoDir:  path,
		Language: s.Language,
		Profile:  s.Profile,
	}, nil
}

// DestroyWorktree removes the worktree at this Sandbox's RepoDir. Call on
// the *Sandbox returned by CreateWorktree, not on the primary sandbox.
func (s *Sandbox) DestroyWorktree(ctx context.Context, primary *Sandbox) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", s.RepoDir)
	cmd.Dir = primary.RepoDir
	_, _ = cmd.CombinedOutput() // best-effort; directory removal below is authoritative
	return os.RemoveAll(s.RepoDir)
}

// resolve joins path against RepoDir, rejecting escapes and forbidden
// prefixes (spec §4.1).
func (s *Sandbox) resolve(path string) (string, error) {
	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) {
		return "", rerr.New(rerr.CodeUnexpectedException, "absolute paths are not allowed: "+path)
	}
	if isForbidden(clean) {
		return "", rerr.New(rerr.CodeUnexpectedException, "path under forbidden prefix: "+path)
	}

	joined := filepath.Join(s.RepoDir, clean)
	relToRoot, err := filepath.Rel(s.RepoDir, joined)
	if err != nil || strings.HasPrefix(relToRoot, "..") {
		return "", rerr.New(rerr.CodeUnexpectedException, "path escapes repo root: "+path)
	}
	return joined, nil
}

func isForbidden(rel string) bool {
	slashed := filepath.ToSlash(rel)
	for _, prefix := range forbiddenDirPrefixes {
		if strings.HasPrefix(slashed, prefix) {
			return true
		}
	}
	return false
}
