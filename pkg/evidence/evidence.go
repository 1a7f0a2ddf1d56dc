// Package evidence implements Evidence Export (spec §4.13, C13): on DONE,
// materialize the winning diff plus a context bundle for team sharing,
// fine-tuning data collection, and audit trails. Grounded on
// original_source/rfsn_controller/evidence_export.py's
// WinnerMetadata/EvidencePack shape and its winner.diff/evidence_pack.json/
// metadata.json file layout; SPEC_FULL.md supplements it with
// before.txt/after.txt/files_changed.txt, which the original writes inline
// elsewhere but this package exposes as first-class artifacts.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/riftlabs/rfsn-controller/pkg/rerr"
)

// WinnerMetadata is original_source's WinnerMetadata, field-for-field.
type WinnerMetadata struct {
	RunID              string   `json:"run_id"`
	Timestamp          string   `json:"timestamp"`
	RepoURL            string   `json:"repo_url"`
	DiffHash           string   `json:"diff_hash"`
	FilesChanged       []string `json:"files_changed"`
	LinesAdded         int      `json:"lines_added"`
	LinesRemoved       int      `json:"lines_removed"`
	FailingTestsBefore int      `json:"failing_tests_before"`
	PassingTestsAfter  int      `json:"passing_tests_after"`
	StepsTaken         int      `json:"steps_taken"`
	ModelUsed          string   `json:"model_used"`
}

// Pack is original_source's EvidencePack.
type Pack struct {
	Metadata            WinnerMetadata   `json:"metadata"`
	WinnerDiff          string           `json:"winner_diff"`
	FailingOutputBefore string           `json:"failing_output_before"`
	PassingOutputAfter  string           `json:"passing_output_after"`
	CommandLog          []string         `json:"command_log"`
	ToolRequests        []map[string]any `json:"tool_requests"`
}

// FilesChanged extracts the new-file path of every FileDiff in diffText,
// for WinnerMetadata.FilesChanged. Unparsable input yields an empty list
// rather than an error: evidence export is best-effort (spec §4.13).
func FilesChanged(diffText string) []string {
	files, err := diff.NewMultiFileDiffReader(strings.NewReader(diffText)).ReadAllFiles()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		name := f.NewName
		if name == "" || name == "/dev/null" {
			name = f.OrigName
		}
		out = append(out, strings.TrimPrefix(strings.TrimPrefix(name, "b/"), "a/"))
	}
	return out
}

// ComputeDiffHash is the SHA-256 hex digest of diff (used for
// cross-run deduplication of identical winning patches).
func ComputeDiffHash(diffText string) string {
	sum := sha256.Sum256([]byte(diffText))
	return hex.EncodeToString(sum[:])
}

// Export writes winner.diff, evidence_pack.json, metadata.json, and the
// supplemented before.txt/after.txt/files_changed.txt into
// resultsDir/runID, creating the directory if needed.
func Export(resultsDir, runID string, pack Pack) (dir string, err error) {
	runDir := filepath.Join(resultsDir, runID)
	if mkErr := os.MkdirAll(runDir, 0o755); mkErr != nil {
		return "", rerr.Wrap(mkErr, rerr.CodeUnexpectedException, "create evidence run dir")
	}

	if wErr := os.WriteFile(filepath.Join(runDir, "winner.diff"), []byte(pack.WinnerDiff), 0o644); wErr != nil {
		return "", rerr.Wrap(wErr, rerr.CodeUnexpectedException, "write winner.diff")
	}

	packJSON, jErr := json.MarshalIndent(pack, "", "  ")
	if jErr != nil {
		return "", rerr.Wrap(jErr, rerr.CodeUnexpectedException, "marshal evidence pack")
	}
	if wErr := os.WriteFile(filepath.Join(runDir, "evidence_pack.json"), packJSON, 0o644); wErr != nil {
		return "", rerr.Wrap(wErr, rerr.CodeUnexpectedException, "write evidence_pack.json")
	}

	metaJSON, mErr := json.MarshalIndent(pack.Metadata, "", "  ")
	if mErr != nil {
		return "", rerr.Wrap(mErr, rerr.CodeUnexpectedException, "marshal winner metadata")
	}
	if wErr := os.WriteFile(filepath.Join(runDir, "metadata.json"), metaJSON, 0o644); wErr != nil {
		return "", rerr.Wrap(wErr, rerr.CodeUnexpectedException, "write metadata.json")
	}

	if wErr := os.WriteFile(filepath.Join(runDir, "before.txt"), []byte(pack.FailingOutputBefore), 0o644); wErr != nil {
		return "", rerr.Wrap(wErr, rerr.CodeUnexpectedException, "write before.txt")
	}
	if wErr := os.WriteFile(filepath.Join(runDir, "after.txt"), []byte(pack.PassingOutputAfter), 0o644); wErr != nil {
		return "", rerr.Wrap(wErr, rerr.CodeUnexpectedException, "write after.txt")
	}
	if wErr := os.WriteFile(filepath.Join(runDir, "files_changed.txt"), []byte(strings.Join(pack.Metadata.FilesChanged, "\n")+"\n"), 0o644); wErr != nil {
		return "", rerr.Wrap(wErr, rerr.CodeUnexpectedException, "write files_changed.txt")
	}

	return runDir, nil
}

// NewMetadata assembles a WinnerMetadata, stamping Timestamp as RFC3339.
func NewMetadata(runID, repoURL, diff string, filesChanged []string, linesAdded, linesRemoved, failingBefore, passingAfter, steps int, model string, now time.Time) WinnerMetadata {
	return WinnerMetadata{
		RunID:              runID,
		Timestamp:          now.UTC().Format(time.RFC3339),
		RepoURL:            repoURL,
		DiffHash:           ComputeDiffHash(diff),
		FilesChanged:       filesChanged,
		LinesAdded:         linesAdded,
		LinesRemoved:       linesRemoved,
		FailingTestsBefore: failingBefore,
		PassingTestsAfter:  passingAfter,
		StepsTaken:         steps,
		ModelUsed:          model,
	}
}
