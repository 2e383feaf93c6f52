package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// SystemConfigDir is the system-wide configuration directory.
const SystemConfigDir = "/etc/gitdeploy"

// SearchPaths returns the first existing path, or an error listing all of them.
func SearchPaths(paths []string) (string, error) {
	if found := SearchPathsOptional(paths); found != "" {
		return found, nil
	}
	return "", fmt.Errorf("file not found in any of the search paths: %v", paths)
}

// SearchPathsOptional returns the first existing path, or "".
func SearchPathsOptional(paths []string) string {
	for _, path := range paths {
		if PathExists(path) {
			return path
		}
	}
	return ""
}

// DefaultConfigPaths lists where filename is looked up, in order:
// ./<filename>, ./config/<filename>, /etc/gitdeploy/<filename>.
func DefaultConfigPaths(filename string) []string {
	return []string{
		filepath.Join(".", filename),
		filepath.Join(".", "config", filename),
		filepath.Join(SystemConfigDir, filename),
	}
}

// FindConfig searches the default locations for filename.
func FindConfig(filename string) (string, error) {
	return SearchPaths(DefaultConfigPaths(filename))
}

// FileExists reports whether path exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// DirExists reports whether path exists and is a directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// PathExists reports whether anything exists at path.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
