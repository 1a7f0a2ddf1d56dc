package evidence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDiffHashDeterministic(t *testing.T) {
	d := "diff --git a/x b/x\n+1\n"
	assert.Equal(t, ComputeDiffHash(d), ComputeDiffHash(d))
	assert.Len(t, ComputeDiffHash(d), 64)
}

func TestExportWritesAllArtifacts(t *testing.T) {
	dir := t.TempDir()
	meta := NewMetadata("run-1", "https://github.com/a/b", "diff-text", []string{"a.py", "b.py"}, 3, 1, 2, 0, 4, "gpt-x", time.Unix(0, 0))
	pack := Pack{
		Metadata:            meta,
		WinnerDiff:          "diff-text",
		FailingOutputBefore: "FAILED a::b\n",
		PassingOutputAfter:  "2 passed\n",
		CommandLog:          []string{"pytest -q"},
		ToolRequests:        []map[string]any{{"tool": "sandbox.read_file"}},
	}

	runDir, err := Export(dir, "run-1", pack)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-1"), runDir)

	for _, f := range []string{"winner.diff", "evidence_pack.json", "metadata.json", "before.txt", "after.txt", "files_changed.txt"} {
		assert.FileExists(t, filepath.Join(runDir, f))
	}

	raw, err := os.ReadFile(filepath.Join(runDir, "metadata.json"))
	require.NoError(t, err)
	var got WinnerMetadata
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, meta.DiffHash, got.DiffHash)

	filesChanged, err := os.ReadFile(filepath.Join(runDir, "files_changed.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a.py\nb.py\n", string(filesChanged))
}
