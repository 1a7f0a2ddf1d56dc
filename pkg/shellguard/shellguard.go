// Package shellguard rejects shell idioms in tool-requested commands
// (spec §4.7, C7). The Sandbox only ever execs argv vectors directly —
// never through a shell — so any chaining, piping, redirection, or
// substitution syntax in a requested command string cannot do what the
// model intends; reject it early with a corrective message instead of
// letting it silently no-op.
package shellguard

import (
	"regexp"
	"strings"

	"github.com/riftlabs/rfsn-controller/pkg/rerr"
)

var envAssignmentPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=\S+\s+`)

// reasons, in the order checked, so Check can build a precise message.
type idiomCheck struct {
	label string
	match func(string) bool
}

var checks = []idiomCheck{
	{"command chaining (&&, ||, ;)", func(s string) bool {
		return strings.Contains(s, "&&") || strings.Contains(s, "||") || strings.Contains(s, ";")
	}},
	{"pipes or redirects (|, <, >)", func(s string) bool {
		return containsUnquoted(s, '|') || containsUnquoted(s, '<') || containsUnquoted(s, '>')
	}},
	{"command substitution", func(s string) bool {
		return strings.Contains(s, "$(") || strings.Contains(s, "`")
	}},
	{"multi-line command", func(s string) bool {
		return strings.ContainsAny(s, "\n\r")
	}},
	{"cd (commands run from repo root)", func(s string) bool {
		lower := strings.ToLower(strings.TrimSpace(s))
		return strings.HasPrefix(lower, "cd ") || strings.Contains(lower, " cd ")
	}},
	{"inline environment variable assignment", func(s string) bool {
		return envAssignmentPattern.MatchString(s)
	}},
}

// containsUnquoted reports whether r appears in s outside of any '...' or
// "..." quoted span — a conservative check so args like grep "a|b" aren't
// flagged for an operator that's really just quoted text.
func containsUnquoted(s string, r rune) bool {
	var quote rune
	for _, c := range s {
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '\'' || c == '"' {
			quote = c
			continue
		}
		if c == r {
			return true
		}
	}
	return false
}

// Check inspects a single command string (the normalized form of one
// argv element, or a whole command line before tokenizing) for shell
// idioms. It returns nil if cmd is safe to tokenize and exec directly, or
// a *rerr.Error with Code CodeShellIdiomRejected and a corrective message
// otherwise.
func Check(cmd string) error {
	var hit []string
	for _, c := range checks {
		if c.match(cmd) {
			hit = append(hit, c.label)
		}
	}
	if len(hit) == 0 {
		return nil
	}
	return rerr.New(rerr.CodeShellIdiomRejected, "shell syntax detected: "+strings.Join(hit, ", ")+
		". Commands run with no shell: split into separate tool requests, use explicit paths, and issue commands from the repo root.").
		WithContext("command", cmd)
}
