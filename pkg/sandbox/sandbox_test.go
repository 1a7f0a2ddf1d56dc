package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftlabs/rfsn-controller/pkg/allowlist"
	"github.com/riftlabs/rfsn-controller/pkg/detect"
	"github.com/riftlabs/rfsn-controller/pkg/rerr"
)

var testAuthor = object.Signature{Name: "test", Email: "test@example.com", When: time.Unix(0, 0)}

func newLocalRepoSandbox(t *testing.T) *Sandbox {
	t.Helper()
	base := t.TempDir()
	repoDir := filepath.Join(base, "repo")

	repo, err := git.PlainInit(repoDir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "main.py"), []byte("print('hi')\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(repoDir, "vendor"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "vendor", "lib.py"), []byte("x = 1\n"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(".")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &testAuthor,
	})
	require.NoError(t, err)

	return &Sandbox{
		RunID:    "test",
		BaseDir:  base,
		RepoDir:  repoDir,
		Language: detect.Python,
		Profile:  allowlist.ForLanguage(detect.Python),
	}
}

func TestListTreeSkipsVendor(t *testing.T) {
	s := newLocalRepoSandbox(t)
	paths, err := s.ListTree(0)
	require.NoError(t, err)
	assert.Contains(t, paths, "main.py")
	for _, p := range paths {
		assert.NotContains(t, p, "vendor/")
	}
}

func TestReadFile(t *testing.T) {
	s := newLocalRepoSandbox(t)
	content, err := s.ReadFile("main.py")
	require.NoError(t, err)
	assert.Contains(t, content, "print")
}

func TestReadFileRejectsPathEscape(t *testing.T) {
	s := newLocalRepoSandbox(t)
	_, err := s.ReadFile("../../etc/passwd")
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.CodeUnexpectedException))
}

func TestReadFileRejectsForbiddenPrefix(t *testing.T) {
	s := newLocalRepoSandbox(t)
	_, err := s.ReadFile("vendor/lib.py")
	assert.Error(t, err)
}

func TestGrepFindsMatch(t *testing.T) {
	s := newLocalRepoSandbox(t)
	matches, err := s.Grep("print", "main.py")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0], "main.py:1:")
}

func TestRunRejectsDisallowedCommand(t *testing.T) {
	s := newLocalRepoSandbox(t)
	_, _, _, err := s.Run(context.Background(), []string{"curl", "http://example.com"}, 5)
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.CodeCommandNotAllowed))
}

func TestRunRejectsShellIdiomInArg(t *testing.T) {
	s := newLocalRepoSandbox(t)
	_, _, _, err := s.Run(context.Background(), []string{"echo", "a && b"}, 5)
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.CodeShellIdiomRejected))
}

func TestRunAllowedCommandSucceeds(t *testing.T) {
	s := newLocalRepoSandbox(t)
	exitCode, stdout, _, err := s.Run(context.Background(), []string{"echo", "hello"}, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout, "hello")
}

func TestCreateAndDestroyWorktree(t *testing.T) {
	s := newLocalRepoSandbox(t)
	wt, err := s.CreateWorktree(context.Background(), "candidate-0")
	require.NoError(t, err)
	assert.DirExists(t, wt.RepoDir)
	assert.NotEqual(t, s.RepoDir, wt.RepoDir)

	require.NoError(t, wt.DestroyWorktree(context.Background(), s))
	assert.NoDirExists(t, wt.RepoDir)
}
