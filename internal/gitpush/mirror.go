// Package gitpush stages files into a throwaway Git repository and
// force-pushes it to a deployment remote.
package gitpush

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gitdeploy/internal/profile"
	"gitdeploy/pkg/fileutil"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

const (
	// DefaultBranch is the branch App Service builds from.
	DefaultBranch = "master"

	remoteName = "deploy"

	authorName  = "gitdeploy"
	authorEmail = "gitdeploy@localhost"
)

// Mirror is a scratch repository owned by a single deployment.
type Mirror struct {
	dir    string
	branch plumbing.ReferenceName
	repo   *git.Repository
}

// NewMirror creates a fresh repository in a new directory under scratchRoot
// (the system temp directory when empty). HEAD points at branch.
func NewMirror(scratchRoot, branch string) (*Mirror, error) {
	if branch == "" {
		branch = DefaultBranch
	}
	if scratchRoot != "" {
		if err := os.MkdirAll(scratchRoot, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create scratch root: %w", err)
		}
	}

	dir, err := os.MkdirTemp(scratchRoot, "gitdeploy-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	ref := plumbing.NewBranchReferenceName(branch)
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: ref},
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to initialise scratch repository: %w", err)
	}

	return &Mirror{dir: dir, branch: ref, repo: repo}, nil
}

// Dir is the mirror's working tree.
func (m *Mirror) Dir() string {
	return m.dir
}

// Branch is the branch the mirror commits to and pushes.
func (m *Mirror) Branch() string {
	return m.branch.Short()
}

// Stage copies files, given relative to root with forward slashes, into the
// working tree. Cancellation is checked between files.
func (m *Mirror) Stage(ctx context.Context, root string, files []string) error {
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		src := filepath.Join(root, filepath.FromSlash(rel))
		dst := filepath.Join(m.dir, filepath.FromSlash(rel))
		if err := fileutil.CopyFile(src, dst); err != nil {
			return fmt.Errorf("failed to stage %s: %w", rel, err)
		}
	}
	return nil
}

// Commit records the whole working tree as a single parentless commit and
// returns its hash.
func (m *Mirror) Commit(message string, when time.Time) (string, error) {
	wt, err := m.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to open worktree: %w", err)
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to add files: %w", err)
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  authorName,
			Email: authorEmail,
			When:  when,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}

	return hash.String(), nil
}

// Push force-pushes the mirror branch to the same branch on target.
// An up-to-date remote counts as success. Transport progress is written to
// progress when it is not nil.
func (m *Mirror) Push(ctx context.Context, target *profile.Target, progress io.Writer) error {
	if _, err := m.repo.Remote(remoteName); errors.Is(err, git.ErrRemoteNotFound) {
		if _, err := m.repo.CreateRemote(&config.RemoteConfig{
			Name: remoteName,
			URLs: []string{target.URL},
		}); err != nil {
			return fmt.Errorf("failed to configure remote: %w", err)
		}
	}

	refSpec := config.RefSpec(fmt.Sprintf("+%s:%s", m.branch, m.branch))
	opts := &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{refSpec},
		Force:      true,
		Auth: &http.BasicAuth{
			Username: target.Username,
			Password: target.Password,
		},
	}
	if progress != nil {
		opts.Progress = progress
	}

	err := m.repo.PushContext(ctx, opts)
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}
	return nil
}

// Close removes the scratch directory.
func (m *Mirror) Close() error {
	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("failed to remove scratch directory %s: %w", m.dir, err)
	}
	return nil
}
