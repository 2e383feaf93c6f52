package deployment

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"gitdeploy/internal/deployerr"
	"gitdeploy/internal/gitpush/gitpushtest"
	"gitdeploy/internal/profile"
	"gitdeploy/internal/project"
)

const testPassword = "s3cr3t-publishing-pwd"

func writeWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func nodeWorkspace(t *testing.T) string {
	return writeWorkspace(t, map[string]string{
		"index.js":     "require('http').createServer((q, s) => s.end('Hello NodeJS!')).listen(process.env.PORT)",
		"package.json": `{"name":"nodeapp","main":"index.js"}`,
		"process.json": `{"apps":[{"script":"index.js"}]}`,
		"README.md":    "# nodeapp",
	})
}

func commandData(workspace, glob string, remote *gitpushtest.Remote, out *bytes.Buffer) *StaticCommandData {
	d := &StaticCommandData{
		Run:   NewLocalBuild(workspace, map[string]string{BuildTagVar: "jenkins-nodeapp-7"}),
		Files: glob,
	}
	if out != nil {
		d.Output = out
	}
	if remote != nil {
		d.Profile = &profile.PublishingProfile{GitURL: remote.URL, Username: "$nodeapp", Password: testPassword}
	}
	return d
}

func assertScratchEmpty(t *testing.T, scratch string) {
	t.Helper()
	entries, err := os.ReadDir(scratch)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch directory not cleaned up: %d entries left", len(entries))
	}
}

func TestCommand_Execute_Success(t *testing.T) {
	remote := gitpushtest.NewRemote(t)
	scratch := t.TempDir()
	var out bytes.Buffer

	cmd := NewCommand(Options{ScratchDir: scratch}, nil)
	result := cmd.Execute(context.Background(), commandData(nodeWorkspace(t), "*.js,*.json", remote, &out))

	if !result.OK() {
		t.Fatalf("Execute() failed: %v", result.Err())
	}
	if result.State != StateSucceeded || result.Kind != "" || result.Err() != nil {
		t.Errorf("unexpected result %+v", result)
	}

	wantFiles := []string{"index.js", "package.json", "process.json"}
	if !reflect.DeepEqual(result.Files, wantFiles) {
		t.Errorf("Files = %v, want %v", result.Files, wantFiles)
	}

	head := remote.Head(t, "master")
	if head == nil {
		t.Fatal("remote master branch was not pushed")
	}
	if head.Hash.String() != result.Commit {
		t.Errorf("remote head %s, result commit %s", head.Hash, result.Commit)
	}
	if head.Message != "Deploy jenkins-nodeapp-7" {
		t.Errorf("commit message = %q", head.Message)
	}

	pushed := remote.Files(t, "master")
	if len(pushed) != 3 || pushed["README.md"] != "" {
		t.Errorf("remote files = %v", pushed)
	}
	if !strings.Contains(pushed["index.js"], "Hello NodeJS!") {
		t.Errorf("index.js content = %q", pushed["index.js"])
	}

	if !strings.Contains(out.String(), "Matched 3 files") {
		t.Errorf("listener output missing match summary: %s", out.String())
	}
	if strings.Contains(result.Target, testPassword) || strings.Contains(out.String(), testPassword) {
		t.Error("password leaked into output")
	}
	assertScratchEmpty(t, scratch)
}

func TestCommand_Execute_Idempotent(t *testing.T) {
	remote := gitpushtest.NewRemote(t)
	workspace := nodeWorkspace(t)
	cmd := NewCommand(Options{}, nil)

	first := cmd.Execute(context.Background(), commandData(workspace, "*.js,*.json", remote, nil))
	firstFiles := remote.Files(t, "master")
	second := cmd.Execute(context.Background(), commandData(workspace, "*.js,*.json", remote, nil))

	if !first.OK() || !second.OK() {
		t.Fatalf("Execute() failed: %v / %v", first.Err(), second.Err())
	}
	if !reflect.DeepEqual(firstFiles, remote.Files(t, "master")) {
		t.Error("second deployment changed the deployed file set")
	}
	if head := remote.Head(t, "master"); head.NumParents() != 0 {
		t.Errorf("remote history accumulated: head has %d parents", head.NumParents())
	}
}

func TestCommand_Execute_NoFilesMatched(t *testing.T) {
	remote := gitpushtest.NewRemote(t)
	scratch := t.TempDir()

	result := NewCommand(Options{ScratchDir: scratch}, nil).
		Execute(context.Background(), commandData(nodeWorkspace(t), "*.py,requirements.txt", remote, nil))

	if result.OK() || result.State != StateFailed {
		t.Fatalf("expected failure, got %+v", result)
	}
	if result.Kind != deployerr.NoFilesMatched || !errors.Is(result.Err(), deployerr.ErrNoFilesMatched) {
		t.Errorf("Kind = %q, err = %v", result.Kind, result.Err())
	}
	if remote.Head(t, "master") != nil {
		t.Error("nothing should have been pushed")
	}
	assertScratchEmpty(t, scratch)
}

func TestCommand_Execute_InvalidGlob(t *testing.T) {
	for _, glob := range []string{"", " , ", "../*.js", "/etc/passwd"} {
		result := NewCommand(Options{}, nil).
			Execute(context.Background(), commandData(nodeWorkspace(t), glob, gitpushtest.NewRemote(t), nil))

		if result.Kind != deployerr.InvalidGlobSpec {
			t.Errorf("glob %q: Kind = %q, want %q", glob, result.Kind, deployerr.InvalidGlobSpec)
		}
	}
}

func TestCommand_Execute_MissingCredentials(t *testing.T) {
	tests := []struct {
		name    string
		profile *profile.PublishingProfile
	}{
		{"no profile", nil},
		{"no git url", &profile.PublishingProfile{Username: "$app", Password: "pw", FTPURL: "ftp://waws.ftp.azurewebsites.windows.net"}},
		{"no password", &profile.PublishingProfile{GitURL: "https://app.scm.azurewebsites.net/app.git", Username: "$app"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scratch := t.TempDir()
			data := commandData(nodeWorkspace(t), "*.js", nil, nil)
			data.Profile = tt.profile

			result := NewCommand(Options{ScratchDir: scratch}, nil).Execute(context.Background(), data)

			if result.Kind != deployerr.MissingCredentials {
				t.Errorf("Kind = %q, want %q", result.Kind, deployerr.MissingCredentials)
			}
			assertScratchEmpty(t, scratch)
		})
	}
}

func TestCommand_Execute_PushFailure(t *testing.T) {
	gitpushtest.InstallFileTransport()
	scratch := t.TempDir()
	data := commandData(nodeWorkspace(t), "*.js", nil, nil)
	data.Profile = &profile.PublishingProfile{
		GitURL:   "file://" + filepath.Join(t.TempDir(), "missing.git"),
		Username: "$nodeapp",
		Password: testPassword,
	}

	result := NewCommand(Options{ScratchDir: scratch}, nil).Execute(context.Background(), data)

	if result.Kind != deployerr.DeployPushFailed {
		t.Fatalf("Kind = %q, want %q (%v)", result.Kind, deployerr.DeployPushFailed, result.Err())
	}
	if result.Commit == "" {
		t.Error("commit should be recorded before the push")
	}
	if strings.Contains(result.Message, testPassword) {
		t.Error("password leaked into failure message")
	}
	assertScratchEmpty(t, scratch)
}

func TestCommand_Execute_Cancelled(t *testing.T) {
	remote := gitpushtest.NewRemote(t)
	scratch := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewCommand(Options{ScratchDir: scratch}, nil).
		Execute(ctx, commandData(nodeWorkspace(t), "*.js", remote, nil))

	if result.Kind != deployerr.Cancelled || !errors.Is(result.Err(), deployerr.ErrCancelled) {
		t.Errorf("Kind = %q, err = %v", result.Kind, result.Err())
	}
	if remote.Head(t, "master") != nil {
		t.Error("cancelled deployment should not push")
	}
	assertScratchEmpty(t, scratch)
}

func TestCommand_Execute_PostStageHooks(t *testing.T) {
	remote := gitpushtest.NewRemote(t)
	workspace := writeWorkspace(t, map[string]string{"index.php": "<?php echo 'Hello PHP!';"})

	cmd := NewCommand(Options{
		PostStage: [][]string{
			{"mkdir", "public"},
			{"cp", "index.php", "public/index.php"},
		},
	}, nil)
	result := cmd.Execute(context.Background(), commandData(workspace, "*.php", remote, nil))

	if !result.OK() {
		t.Fatalf("Execute() failed: %v", result.Err())
	}
	pushed := remote.Files(t, "master")
	if pushed["public/index.php"] != "<?php echo 'Hello PHP!';" {
		t.Errorf("hook output not committed: %v", pushed)
	}
	if _, err := os.Stat(filepath.Join(workspace, "public")); !os.IsNotExist(err) {
		t.Error("hooks must not run in the workspace")
	}
}

func TestCommand_Execute_PostStageFailure(t *testing.T) {
	remote := gitpushtest.NewRemote(t)
	scratch := t.TempDir()

	cmd := NewCommand(Options{
		ScratchDir: scratch,
		PostStage:  [][]string{{"cp", "does-not-exist.txt", "x.txt"}},
	}, nil)
	result := cmd.Execute(context.Background(), commandData(nodeWorkspace(t), "*.js", remote, nil))

	if result.Kind != deployerr.StagingFailed {
		t.Errorf("Kind = %q, want %q", result.Kind, deployerr.StagingFailed)
	}
	if !strings.Contains(result.Message, "post_stage command 0") {
		t.Errorf("Message = %q", result.Message)
	}
	if remote.Head(t, "master") != nil {
		t.Error("failed staging should not push")
	}
	assertScratchEmpty(t, scratch)
}

func TestCommand_Execute_PostStageNotAllowed(t *testing.T) {
	cmd := NewCommand(Options{PostStage: [][]string{{"rm", "-rf", "."}}}, nil)
	result := cmd.Execute(context.Background(), commandData(nodeWorkspace(t), "*.js", gitpushtest.NewRemote(t), nil))

	if result.Kind != deployerr.StagingFailed || !strings.Contains(result.Message, "command not allowed") {
		t.Errorf("Kind = %q, Message = %q", result.Kind, result.Message)
	}
}

func TestCommand_CommitMessage(t *testing.T) {
	remote := gitpushtest.NewRemote(t)
	workspace := nodeWorkspace(t)

	data := commandData(workspace, "*.js", remote, nil)
	data.Run = &LocalBuild{Dir: workspace, Name: "nightly #12"}
	result := NewCommand(Options{}, nil).Execute(context.Background(), data)
	if !result.OK() {
		t.Fatalf("Execute() failed: %v", result.Err())
	}
	if msg := remote.Head(t, "master").Message; msg != "Deploy nightly #12" {
		t.Errorf("fallback commit message = %q", msg)
	}

	data = commandData(workspace, "*.js", remote, nil)
	data.Run = NewLocalBuild(workspace, map[string]string{BuildTagVar: "jenkins-7", "GIT_COMMIT": "abc123"})
	result = NewCommand(Options{CommitTemplate: "{{BUILD_TAG}} from {{GIT_COMMIT}}"}, nil).Execute(context.Background(), data)
	if !result.OK() {
		t.Fatalf("Execute() failed: %v", result.Err())
	}
	if msg := remote.Head(t, "master").Message; msg != "jenkins-7 from abc123" {
		t.Errorf("templated commit message = %q", msg)
	}
}

func TestCommand_Execute_CustomBranch(t *testing.T) {
	remote := gitpushtest.NewRemote(t)

	result := NewCommand(Options{Branch: "main"}, nil).
		Execute(context.Background(), commandData(nodeWorkspace(t), "*.js", remote, nil))

	if !result.OK() {
		t.Fatalf("Execute() failed: %v", result.Err())
	}
	if remote.Head(t, "main") == nil || remote.Head(t, "master") != nil {
		t.Error("deployment should only update the configured branch")
	}
}

func TestCommand_Execute_ConcurrentDeployments(t *testing.T) {
	scratch := t.TempDir()
	cmd := NewCommand(Options{ScratchDir: scratch}, nil)

	const n = 4
	remotes := make([]*gitpushtest.Remote, n)
	workspaces := make([]string, n)
	for i := range remotes {
		remotes[i] = gitpushtest.NewRemote(t)
		workspaces[i] = nodeWorkspace(t)
	}

	var wg sync.WaitGroup
	results := make([]*Result, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cmd.Execute(context.Background(), commandData(workspaces[i], "*.js,*.json", remotes[i], nil))
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if !r.OK() {
			t.Errorf("deployment %d failed: %v", i, r.Err())
		}
		if len(remotes[i].Files(t, "master")) != 3 {
			t.Errorf("deployment %d pushed wrong files", i)
		}
	}
	assertScratchEmpty(t, scratch)
}

func TestFromProject(t *testing.T) {
	remote := gitpushtest.NewRemote(t)
	workspace := writeWorkspace(t, map[string]string{"app.py": "print('Hello, Python!')", "requirements.txt": "flask"})

	p := &project.Project{
		Name:             "pyapp",
		Workspace:        workspace,
		Files:            "*.py,requirements.txt",
		Branch:           "master",
		CommitMessage:    "pyapp {{BUILD_TAG}}",
		PostStage:        [][]string{{"mkdir", "static"}},
		PostStageTimeout: 30,
	}

	data := &StaticCommandData{
		Run:     NewLocalBuild(p.Workspace, map[string]string{BuildTagVar: "b-1"}),
		Files:   p.Files,
		Profile: &profile.PublishingProfile{GitURL: remote.URL, Username: "$pyapp", Password: "pw"},
	}
	result := FromProject(p, t.TempDir(), nil).Execute(context.Background(), data)

	if !result.OK() {
		t.Fatalf("Execute() failed: %v", result.Err())
	}
	if msg := remote.Head(t, "master").Message; msg != "pyapp b-1" {
		t.Errorf("commit message = %q", msg)
	}
}

func TestResult_TerminalStatesAreFinal(t *testing.T) {
	r := &Result{State: StateIdle}
	r.advance(StateMatching)
	r.fail(deployerr.New(deployerr.NoFilesMatched, "nothing"))
	r.advance(StatePushing)
	r.fail(deployerr.New(deployerr.DeployPushFailed, "late"))

	if r.State != StateFailed || r.Kind != deployerr.NoFilesMatched {
		t.Errorf("terminal state changed: %+v", r)
	}
}

func TestLocalBuild(t *testing.T) {
	env := map[string]string{BuildTagVar: "jenkins-1"}
	b := NewLocalBuild("/ws", env)
	env[BuildTagVar] = "mutated"

	got, err := b.Environment()
	if err != nil || got[BuildTagVar] != "jenkins-1" {
		t.Errorf("Environment() = %v, %v", got, err)
	}
	got["X"] = "y"
	if _, ok := b.Env["X"]; ok {
		t.Error("Environment() must return a copy")
	}
	if b.DisplayName() != "jenkins-1" {
		t.Errorf("DisplayName() = %q", b.DisplayName())
	}
	if (&LocalBuild{}).DisplayName() != "local" {
		t.Error("DisplayName() fallback should be local")
	}
}
