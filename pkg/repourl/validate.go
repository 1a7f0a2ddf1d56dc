// Package repourl validates the --repo URL surface from spec §6, adapted
// from the Sandbox's clone-URL gate in the teacher (pkg/giturl): only
// https://github.com/<owner>/<repo>[.git] is accepted, and URLs pointing at
// a file, tree, or commit view rather than a repository root are rejected.
package repourl

import (
	"regexp"
	"strings"

	"github.com/riftlabs/rfsn-controller/pkg/rerr"
)

var repoPattern = regexp.MustCompile(`^https://github\.com/[A-Za-z0-9._-]+/[A-Za-z0-9._-]+(\.git)?$`)

var blockedPathSegments = []string{"/blob/", "/tree/", "/commit/"}

// Validate checks raw against spec §6's allowed shape, returning a
// *rerr.Error with Code CodeURLInvalid on rejection.
func Validate(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return rerr.New(rerr.CodeURLInvalid, "repo URL is empty")
	}

	for _, seg := range blockedPathSegments {
		if strings.Contains(trimmed, seg) {
			return rerr.New(rerr.CodeURLInvalid, "repo URL must point at a repository root, not a file/tree/commit view").
				WithContext("url", trimmed).WithContext("blocked_segment", seg)
		}
	}

	if !repoPattern.MatchString(trimmed) {
		return rerr.New(rerr.CodeURLInvalid, "repo URL must match https://github.com/<owner>/<repo>[.git]").
			WithContext("url", trimmed)
	}

	return nil
}

// RepoName extracts "<owner>/<repo>" (without a trailing .git) from a
// validated URL, for use in sandbox directory naming and evidence metadata.
func RepoName(raw string) string {
	trimmed := strings.TrimSuffix(strings.TrimSpace(raw), ".git")
	trimmed = strings.TrimPrefix(trimmed, "https://github.com/")
	return trimmed
}
