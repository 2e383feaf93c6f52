// Package gitpushtest provides local bare repositories that deployments can
// push to without a git binary or network access.
package gitpushtest

import (
	"sync"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/client"
	"github.com/go-git/go-git/v5/plumbing/transport/server"
)

var installOnce sync.Once

// InstallFileTransport serves file:// URLs in-process.
func InstallFileTransport() {
	installOnce.Do(func() {
		client.InstallProtocol("file", server.DefaultServer)
	})
}

// Remote is a bare repository standing in for an App Service SCM endpoint.
type Remote struct {
	Dir string
	URL string
}

// NewRemote creates an empty bare repository in a test temp directory.
func NewRemote(t testing.TB) *Remote {
	t.Helper()
	InstallFileTransport()

	dir := t.TempDir()
	if _, err := git.PlainInit(dir, true); err != nil {
		t.Fatalf("failed to init bare remote: %v", err)
	}
	return &Remote{Dir: dir, URL: "file://" + dir}
}

// Head returns the commit branch points to, or nil if the branch is absent.
func (r *Remote) Head(t testing.TB, branch string) *object.Commit {
	t.Helper()

	repo, err := git.PlainOpen(r.Dir)
	if err != nil {
		t.Fatalf("failed to open remote: %v", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err == plumbing.ErrReferenceNotFound {
		return nil
	}
	if err != nil {
		t.Fatalf("failed to read %s: %v", branch, err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		t.Fatalf("failed to read commit %s: %v", ref.Hash(), err)
	}
	return commit
}

// Files returns path to content for every file in branch's tip commit.
func (r *Remote) Files(t testing.TB, branch string) map[string]string {
	t.Helper()

	commit := r.Head(t, branch)
	if commit == nil {
		return nil
	}
	tree, err := commit.Tree()
	if err != nil {
		t.Fatalf("failed to read tree: %v", err)
	}

	files := make(map[string]string)
	err = tree.Files().ForEach(func(f *object.File) error {
		content, err := f.Contents()
		if err != nil {
			return err
		}
		files[f.Name] = content
		return nil
	})
	if err != nil {
		t.Fatalf("failed to walk tree: %v", err)
	}
	return files
}
