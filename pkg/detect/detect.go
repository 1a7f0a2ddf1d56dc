// Package detect classifies a repository's language from marker files
// (spec §4.2, C2).
package detect

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Language is one of the project languages the Controller recognizes.
type Language string

const (
	Python  Language = "python"
	Node    Language = "node"
	Rust    Language = "rust"
	Go      Language = "go"
	Java    Language = "java"
	Dotnet  Language = "dotnet"
	Ruby    Language = "ruby"
	Unknown Language = "unknown"
)

// marker pairs a glob (relative to a candidate directory) with the language
// it identifies. Order here is precedence order within a single directory;
// first match wins (spec §4.2).
type marker struct {
	lang  Language
	globs []string
}

var markers = []marker{
	{Python, []string{"pyproject.toml", "requirements.txt", "setup.py"}},
	{Node, []string{"package.json"}},
	{Rust, []string{"Cargo.toml"}},
	{Go, []string{"go.mod"}},
	{Java, []string{"pom.xml", "build.gradle", "build.gradle.kts"}},
	{Dotnet, []string{"*.csproj", "*.sln"}},
	{Ruby, []string{"Gemfile"}},
}

// Detect walks root looking for marker files, returning the shallowest
// match; ties at the same depth are broken by the marker precedence order
// above.
func Detect(root string) Language {
	type hit struct {
		depth int
		order int
	}
	best := map[Language]hit{}

	maxDepth := 3
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		depth := 0
		if rel != "." {
			depth = strings.Count(rel, string(filepath.Separator)) + 1
		}
		if d.IsDir() {
			if depth > maxDepth || isExcludedDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if depth > maxDepth {
			return nil
		}
		for order, m := range markers {
			for _, glob := range m.globs {
				matched, _ := filepath.Match(glob, d.Name())
				if !matched {
					continue
				}
				cur, ok := best[m.lang]
				if !ok || depth < cur.depth || (depth == cur.depth && order < cur.order) {
					best[m.lang] = hit{depth: depth, order: order}
				}
			}
		}
		return nil
	})

	if len(best) == 0 {
		return Unknown
	}

	langs := make([]Language, 0, len(best))
	for l := range best {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool {
		a, b := best[langs[i]], best[langs[j]]
		if a.depth != b.depth {
			return a.depth < b.depth
		}
		return a.order < b.order
	})
	return langs[0]
}

func isExcludedDir(name string) bool {
	switch name {
	case ".git", "node_modules", "vendor", ".venv", "dist", "build", "target":
		return true
	default:
		return false
	}
}
