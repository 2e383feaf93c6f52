package gitpush

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gitdeploy/internal/gitpush/gitpushtest"
	"gitdeploy/internal/profile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workspace(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func TestMirror_StageCommitPush(t *testing.T) {
	remote := gitpushtest.NewRemote(t)
	root := workspace(t, map[string]string{
		"server.js":    "console.log('Hello NodeJS!')",
		"package.json": `{"name":"app"}`,
		"lib/util.js":  "module.exports = {}",
		"README.md":    "not deployed",
	})

	m, err := NewMirror(t.TempDir(), "")
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, DefaultBranch, m.Branch())

	ctx := context.Background()
	require.NoError(t, m.Stage(ctx, root, []string{"server.js", "package.json", "lib/util.js"}))

	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	hash, err := m.Commit("Deploy jenkins-job-1", when)
	require.NoError(t, err)
	assert.Len(t, hash, 40)

	var progress bytes.Buffer
	target := &profile.Target{URL: remote.URL, Username: "$app", Password: "pwd"}
	require.NoError(t, m.Push(ctx, target, &progress))

	head := remote.Head(t, "master")
	require.NotNil(t, head)
	assert.Equal(t, hash, head.Hash.String())
	assert.Equal(t, "Deploy jenkins-job-1", head.Message)
	assert.Equal(t, 0, head.NumParents())
	assert.True(t, head.Author.When.Equal(when))

	assert.Equal(t, map[string]string{
		"server.js":    "console.log('Hello NodeJS!')",
		"package.json": `{"name":"app"}`,
		"lib/util.js":  "module.exports = {}",
	}, remote.Files(t, "master"))
}

func TestMirror_ForcePushReplacesHistory(t *testing.T) {
	remote := gitpushtest.NewRemote(t)
	target := &profile.Target{URL: remote.URL, Username: "$app", Password: "pwd"}
	ctx := context.Background()

	deploy := func(files map[string]string, message string) string {
		root := workspace(t, files)
		names := make([]string, 0, len(files))
		for name := range files {
			names = append(names, name)
		}

		m, err := NewMirror("", "master")
		require.NoError(t, err)
		defer m.Close()

		require.NoError(t, m.Stage(ctx, root, names))
		hash, err := m.Commit(message, time.Now())
		require.NoError(t, err)
		require.NoError(t, m.Push(ctx, target, nil))
		return hash
	}

	deploy(map[string]string{"index.php": "<?php echo 'v1';", "old.php": "gone"}, "Deploy 1")
	second := deploy(map[string]string{"index.php": "<?php echo 'Hello PHP!';"}, "Deploy 2")

	head := remote.Head(t, "master")
	require.NotNil(t, head)
	assert.Equal(t, second, head.Hash.String())
	assert.Equal(t, 0, head.NumParents())
	assert.Equal(t, map[string]string{"index.php": "<?php echo 'Hello PHP!';"}, remote.Files(t, "master"))
}

func TestMirror_PushToCustomBranch(t *testing.T) {
	remote := gitpushtest.NewRemote(t)
	root := workspace(t, map[string]string{"app.py": "print('Hello, Python!')"})

	m, err := NewMirror("", "main")
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Stage(context.Background(), root, []string{"app.py"}))
	_, err = m.Commit("Deploy", time.Now())
	require.NoError(t, err)
	require.NoError(t, m.Push(context.Background(), &profile.Target{URL: remote.URL, Username: "u", Password: "p"}, nil))

	assert.NotNil(t, remote.Head(t, "main"))
	assert.Nil(t, remote.Head(t, "master"))
}

func TestMirror_PushFailure(t *testing.T) {
	gitpushtest.InstallFileTransport()
	root := workspace(t, map[string]string{"a.js": "x"})

	m, err := NewMirror("", "")
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Stage(context.Background(), root, []string{"a.js"}))
	_, err = m.Commit("Deploy", time.Now())
	require.NoError(t, err)

	missing := "file://" + filepath.Join(t.TempDir(), "no-such-repo.git")
	err = m.Push(context.Background(), &profile.Target{URL: missing, Username: "u", Password: "p"}, nil)
	assert.Error(t, err)
}

func TestMirror_StageHonoursCancellation(t *testing.T) {
	root := workspace(t, map[string]string{"a.js": "a", "b.js": "b"})

	m, err := NewMirror("", "")
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = m.Stage(ctx, root, []string{"a.js", "b.js"})
	assert.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(filepath.Join(m.Dir(), "a.js"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestMirror_StageMissingFile(t *testing.T) {
	root := workspace(t, map[string]string{"a.js": "a"})

	m, err := NewMirror("", "")
	require.NoError(t, err)
	defer m.Close()

	assert.Error(t, m.Stage(context.Background(), root, []string{"missing.js"}))
}

func TestMirror_CloseRemovesScratchDirectory(t *testing.T) {
	scratch := t.TempDir()

	m, err := NewMirror(scratch, "")
	require.NoError(t, err)

	dir := m.Dir()
	assert.Equal(t, scratch, filepath.Dir(dir))
	_, err = os.Stat(filepath.Join(dir, ".git"))
	require.NoError(t, err)

	require.NoError(t, m.Close())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestNewMirror_UniqueDirectories(t *testing.T) {
	scratch := t.TempDir()

	a, err := NewMirror(scratch, "")
	require.NoError(t, err)
	defer a.Close()
	b, err := NewMirror(scratch, "")
	require.NoError(t, err)
	defer b.Close()

	assert.NotEqual(t, a.Dir(), b.Dir())
}
