// Package allowlist holds the language-scoped command allowlists of spec
// §4.3, adapted from the original's allowlist_profiles.py with the fuller
// per-language sets it carries (SPEC_FULL.md's "supplemented features").
package allowlist

import "github.com/riftlabs/rfsn-controller/pkg/detect"

// base is always present regardless of detected language (spec §4.3).
var base = []string{
	"git", "cat", "ls", "grep", "find", "head", "tail", "wc", "echo", "pwd",
	"tar", "unzip", "make",
}

// hardBlocked is rejected in every profile, even if a caller's override
// would otherwise admit it.
var hardBlocked = map[string]bool{
	"curl": true, "wget": true, "ssh": true, "scp": true, "rsync": true,
	"ftp": true, "nc": true, "telnet": true, "sudo": true, "su": true,
	"docker": true, "kubectl": true, "systemctl": true, "service": true,
	"crontab": true, "at": true, "cd": true,
}

var perLanguage = map[detect.Language][]string{
	detect.Python: {"python", "python3", "pip", "pip3", "pytest", "ruff", "mypy", "black", "pipenv", "poetry", "flake8", "pylint", "tox", "coverage", "sphinx-build"},
	detect.Node:   {"node", "npm", "yarn", "pnpm", "npx", "tsc", "jest", "mocha", "eslint", "prettier", "vite", "next"},
	detect.Rust:   {"cargo", "rustc", "rustup", "rustfmt", "clippy"},
	detect.Go:     {"go", "gofmt", "goimports", "golangci-lint"},
	detect.Java:   {"mvn", "gradle", "javac", "java", "ant"},
	detect.Dotnet: {"dotnet", "nuget", "msbuild"},
	detect.Ruby:   {"gem", "bundle", "rspec", "rubocop", "rake"},
}

// Profile is the effective command allowlist for one detected language: a
// set of executable basenames a Sandbox.Run call's argv[0] must be in.
type Profile struct {
	lang    detect.Language
	allowed map[string]bool
}

// ForLanguage builds the effective profile for lang, combining the base set
// with that language's additions. Unrecognized languages (including
// detect.Unknown) get the base set only.
func ForLanguage(lang detect.Language) *Profile {
	allowed := make(map[string]bool, len(base))
	for _, c := range base {
		allowed[c] = true
	}
	for _, c := range perLanguage[lang] {
		allowed[c] = true
	}
	return &Profile{lang: lang, allowed: allowed}
}

// Allows reports whether argv0 may be executed under this profile. Entries
// in hardBlocked are always rejected, regardless of the profile.
func (p *Profile) Allows(argv0 string) bool {
	if hardBlocked[argv0] {
		return false
	}
	return p != nil && p.allowed[argv0]
}

// Commands returns the allowed basenames in no particular order (map
// iteration order), mainly for diagnostics and evidence metadata.
func (p *Profile) Commands() []string {
	out := make([]string, 0, len(p.allowed))
	for c := range p.allowed {
		out = append(out, c)
	}
	return out
}
