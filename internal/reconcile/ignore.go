package reconcile

import (
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreList excludes target paths from publishing using gitignore rules
// relative to the root directory.
type IgnoreList struct {
	root   string
	ignore *gitignore.GitIgnore
}

func NewIgnoreList(root string, lines ...string) *IgnoreList {
	var rules []string
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			rules = append(rules, line)
		}
	}
	if len(rules) == 0 {
		return nil
	}
	return &IgnoreList{
		root:   strings.Trim(root, "/"),
		ignore: gitignore.CompileIgnoreLines(rules...),
	}
}

// ShouldIgnore is nil safe; a nil list ignores nothing.
func (l *IgnoreList) ShouldIgnore(path string) bool {
	if l == nil {
		return false
	}
	rel := path
	if l.root != "" {
		rel = strings.TrimPrefix(strings.TrimPrefix(path, l.root), "/")
	}
	return l.ignore.MatchesPath(rel)
}
