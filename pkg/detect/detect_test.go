package detect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestDetectSingleMarker(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "go.mod"))
	require.Equal(t, Go, Detect(dir))
}

func TestDetectPrecedenceAtSameDepth(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "package.json"))
	touch(t, filepath.Join(dir, "pyproject.toml"))
	require.Equal(t, Python, Detect(dir))
}

func TestDetectShallowestWins(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "package.json"))
	touch(t, filepath.Join(dir, "nested", "pyproject.toml"))
	require.Equal(t, Node, Detect(dir))
}

func TestDetectUnknown(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "README.md"))
	require.Equal(t, Unknown, Detect(dir))
}

func TestDetectIgnoresVendorDirs(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "vendor", "go.mod"))
	require.Equal(t, Unknown, Detect(dir))
}

func TestDetectRuby(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "Gemfile"))
	require.Equal(t, Ruby, Detect(dir))
}
