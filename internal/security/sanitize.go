package security

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	branchPattern     = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
	projectPattern    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	repoPathPattern   = regexp.MustCompile(`^/[a-zA-Z0-9_./-]+$`)
	repositoryPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+/[a-zA-Z0-9_.-]+$`)
)

// ValidateDeployURL checks a Git deployment endpoint taken from configuration.
// Only HTTPS is accepted and credentials must not be embedded in the URL.
func ValidateDeployURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url cannot be empty")
	}
	if strings.ContainsAny(rawURL, " \t\n;|&`$") {
		return fmt.Errorf("url contains invalid characters")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("only https deployment urls are allowed, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host")
	}
	if u.User != nil {
		return fmt.Errorf("url must not embed credentials, use username and password instead")
	}
	if !repoPathPattern.MatchString(u.Path) || strings.Contains(u.Path, "..") {
		return fmt.Errorf("url path %q is not a repository path", u.Path)
	}

	return nil
}

// ValidateBranchName ensures a branch name is safe to use in a refspec.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if strings.Contains(branch, "..") || strings.HasSuffix(branch, "/") || strings.HasSuffix(branch, ".lock") {
		return fmt.Errorf("branch name %q is not a valid git ref", branch)
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters")
	}
	return nil
}

// ValidateProjectName ensures a project name is safe for use in paths and URLs.
func ValidateProjectName(name string) error {
	if name == "" {
		return fmt.Errorf("project name cannot be empty")
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("project name cannot start with '-' or '.'")
	}
	if !projectPattern.MatchString(name) {
		return fmt.Errorf("project name contains invalid characters (only a-z, A-Z, 0-9, _, - allowed)")
	}
	return nil
}

// ValidateRepository checks a GitHub "owner/repo" reference.
func ValidateRepository(repo string) error {
	if !repositoryPattern.MatchString(repo) || strings.Contains(repo, "..") {
		return fmt.Errorf("repository must be in owner/repo form, got %q", repo)
	}
	return nil
}

// WithinRoot resolves targetPath and ensures it lies inside basePath after
// symlinks are evaluated. It returns the resolved target.
func WithinRoot(basePath, targetPath string) (string, error) {
	cleanBase, err := canonical(basePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	cleanTarget, err := canonical(targetPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve target path: %w", err)
	}

	rel, err := filepath.Rel(cleanBase, cleanTarget)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: '%s' is outside '%s'", cleanTarget, cleanBase)
	}

	return cleanTarget, nil
}

func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}
