// Package matcher resolves comma-separated glob specifications against a
// build workspace.
package matcher

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gitdeploy/internal/deployerr"

	"github.com/bmatcuk/doublestar/v4"
)

// Split breaks a glob specification into its trimmed, non-empty segments and
// validates each one. Backslashes are treated as path separators and a
// leading "./" is dropped.
func Split(globSpec string) ([]string, error) {
	if strings.TrimSpace(globSpec) == "" {
		return nil, deployerr.New(deployerr.InvalidGlobSpec, "glob specification is empty")
	}

	var segments []string
	for _, raw := range strings.Split(globSpec, ",") {
		seg := strings.TrimSpace(raw)
		if seg == "" {
			continue
		}
		seg = strings.ReplaceAll(seg, `\`, "/")
		for strings.HasPrefix(seg, "./") {
			seg = strings.TrimPrefix(seg, "./")
		}
		if err := validateSegment(seg); err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}

	if len(segments) == 0 {
		return nil, deployerr.New(deployerr.InvalidGlobSpec, "glob specification %q has no patterns", globSpec)
	}
	return segments, nil
}

func validateSegment(seg string) error {
	if seg == "" {
		return deployerr.New(deployerr.InvalidGlobSpec, "pattern is empty")
	}
	if strings.HasPrefix(seg, "/") || filepath.IsAbs(seg) || filepath.VolumeName(seg) != "" {
		return deployerr.New(deployerr.InvalidGlobSpec, "pattern %q must be relative to the workspace", seg)
	}
	for _, elem := range strings.Split(seg, "/") {
		if elem == ".." {
			return deployerr.New(deployerr.InvalidGlobSpec, "pattern %q escapes the workspace", seg)
		}
	}
	if !doublestar.ValidatePattern(seg) {
		return deployerr.New(deployerr.InvalidGlobSpec, "pattern %q is not a valid glob", seg)
	}
	return nil
}

// Resolve returns the regular files under root matched by globSpec.
//
// Paths are slash-separated and relative to root. Segments are applied in
// order, each segment's matches sorted lexically, duplicates dropped on first
// occurrence. Files inside a .git directory are never returned. An empty
// result is not an error.
func Resolve(root, globSpec string) ([]string, error) {
	segments, err := Split(globSpec)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, deployerr.Wrap(deployerr.NoFilesMatched, err, "workspace %s is not readable", root)
	}
	if !info.IsDir() {
		return nil, deployerr.New(deployerr.NoFilesMatched, "workspace %s is not a directory", root)
	}

	fsys := os.DirFS(root)
	seen := make(map[string]bool)
	var files []string

	for _, seg := range segments {
		matches, err := doublestar.Glob(fsys, seg, doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
		if err != nil {
			return nil, deployerr.Wrap(deployerr.NoFilesMatched, err, "failed to match %q in %s", seg, root)
		}
		sort.Strings(matches)

		for _, m := range matches {
			if seen[m] || insideGitDir(m) {
				continue
			}
			if !isRegular(fsys, m) {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}

	return files, nil
}

func insideGitDir(p string) bool {
	for _, elem := range strings.Split(path.Dir(p), "/") {
		if elem == ".git" {
			return true
		}
	}
	return path.Base(p) == ".git"
}

// isRegular follows symlinks, so a link to a regular file counts.
func isRegular(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
