package repo

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// SubmoduleInfo is one [submodule] section of .gitmodules.
type SubmoduleInfo struct {
	Name   string
	Path   string
	URL    string
	Branch string
}

// ReadGitmodules parses the .gitmodules file at path.
func ReadGitmodules(path string) ([]SubmoduleInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ParseGitmodules(f)
}

// ParseGitmodules parses .gitmodules content. Sections without a path are
// skipped.
func ParseGitmodules(r io.Reader) ([]SubmoduleInfo, error) {
	var submodules []SubmoduleInfo
	var current *SubmoduleInfo

	flush := func() {
		if current != nil && current.Path != "" {
			submodules = append(submodules, *current)
		}
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}

		if strings.HasPrefix(line, "[") {
			flush()
			current = nil
			// [submodule "name"]
			section := strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
			kind, name, ok := strings.Cut(section, " ")
			if ok && strings.EqualFold(kind, "submodule") {
				current = &SubmoduleInfo{Name: strings.Trim(strings.TrimSpace(name), "\"")}
			}
			continue
		}

		if current == nil {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), "\"")
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "path":
			current.Path = filepath.ToSlash(value)
		case "url":
			current.URL = value
		case "branch":
			current.Branch = value
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return submodules, nil
}

// GitDir resolves the git directory of a work tree. Submodule work trees
// hold a ".git" file pointing at the real directory.
func GitDir(workTree string) (string, error) {
	dotGit := filepath.Join(workTree, ".git")
	info, err := os.Stat(dotGit)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return dotGit, nil
	}

	data, err := os.ReadFile(dotGit)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(data))
	target, ok := strings.CutPrefix(line, "gitdir:")
	if !ok {
		return "", os.ErrNotExist
	}
	target = strings.TrimSpace(target)
	if !filepath.IsAbs(target) {
		target = filepath.Join(workTree, target)
	}
	return filepath.Clean(target), nil
}
