package loader

import (
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ignoreMatcher understands the common subset of .gitignore syntax:
// comments, negation, anchored patterns, directory-only patterns and "**".
type ignoreMatcher struct {
	rules []ignoreRule
}

type ignoreRule struct {
	pattern string
	negate  bool
	dirOnly bool
}

func newIgnoreMatcher(file string) *ignoreMatcher {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil
	}
	return parseIgnore(string(data))
}

func parseIgnore(content string) *ignoreMatcher {
	var rules []ignoreRule
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var r ignoreRule
		if strings.HasPrefix(line, "!") {
			r.negate = true
			line = line[1:]
		}
		if strings.HasSuffix(line, "/") {
			r.dirOnly = true
			line = strings.TrimSuffix(line, "/")
		}
		anchored := strings.Contains(line, "/")
		line = strings.TrimPrefix(line, "/")
		if line == "" {
			continue
		}
		if !anchored {
			line = "**/" + line
		}
		r.pattern = line
		rules = append(rules, r)
	}
	if len(rules) == 0 {
		return nil
	}
	return &ignoreMatcher{rules: rules}
}

// Match reports whether rel (slash separated, relative to the root) is
// ignored. The last matching rule wins. Files below an ignored directory are
// caught by the walker skipping that directory.
func (m *ignoreMatcher) Match(rel string, dir bool) bool {
	if m == nil {
		return false
	}
	rel = path.Clean(rel)
	ignored := false
	for _, r := range m.rules {
		if r.dirOnly && !dir {
			continue
		}
		if ok, _ := doublestar.Match(r.pattern, rel); ok {
			ignored = !r.negate
		}
	}
	return ignored
}
