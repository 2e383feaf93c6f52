// Package deployment pushes a build's matched files to an App Service Git
// endpoint.
//
// A Command runs one deployment per Execute call:
//
//	Idle -> Matching -> Staging -> Pushing -> Succeeded
//
// with any step able to end in Failed. Each run stages into its own scratch
// repository, so concurrent runs never share a Git index.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gitdeploy/internal/deployerr"
	"gitdeploy/internal/gitpush"
	"gitdeploy/internal/matcher"
	"gitdeploy/internal/profile"
	"gitdeploy/internal/project"
	"gitdeploy/pkg/templates"

	"go.uber.org/multierr"
)

// Options configures a Command.
type Options struct {
	// Branch is the remote branch to overwrite. Empty means master.
	Branch string

	// CommitTemplate renders the commit message from the build environment.
	CommitTemplate string

	// PostStage commands run inside the scratch mirror before committing.
	PostStage        [][]string
	PostStageTimeout time.Duration

	// AllowedCommands extends the post-stage allow list.
	AllowedCommands []string

	// ScratchDir holds the per-run mirrors. Empty means the system temp dir.
	ScratchDir string
}

// Command deploys matched workspace files to a Git remote.
type Command struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewCommand creates a Command. A nil logger discards.
func NewCommand(opts Options, logger *slog.Logger) *Command {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Branch == "" {
		opts.Branch = gitpush.DefaultBranch
	}
	if opts.CommitTemplate == "" {
		opts.CommitTemplate = templates.DefaultCommitMessage
	}
	return &Command{opts: opts, logger: logger, now: time.Now}
}

// FromProject creates the Command configured by p.
func FromProject(p *project.Project, scratchDir string, logger *slog.Logger) *Command {
	if logger != nil {
		logger = logger.With("project", p.Name)
	}
	return NewCommand(Options{
		Branch:           p.Branch,
		CommitTemplate:   p.CommitMessage,
		PostStage:        p.PostStage,
		PostStageTimeout: time.Duration(p.PostStageTimeout) * time.Second,
		ScratchDir:       scratchDir,
	}, logger)
}

// Execute runs one deployment. It never returns nil; failures are reported
// through the Result's Kind and Err.
func (c *Command) Execute(ctx context.Context, data CommandData) (result *Result) {
	start := c.now()
	result = &Result{State: StateIdle}
	out := data.Listener()
	if out == nil {
		out = io.Discard
	}

	defer func() {
		result.Duration = c.now().Sub(start)
		if result.OK() {
			fmt.Fprintf(out, "Deployment of %d files to %s succeeded (commit %s)\n", len(result.Files), result.Target, result.Commit)
			c.logger.Info("Deployment succeeded",
				"target", result.Target,
				"files", len(result.Files),
				"commit", result.Commit,
				"duration", result.Duration)
			return
		}
		fmt.Fprintf(out, "Deployment failed: %s\n", result.Message)
		c.logger.Error("Deployment failed",
			"kind", result.Kind,
			"target", result.Target,
			"error", result.err,
			"duration", result.Duration)
	}()

	fail := func(err error) *Result {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, deployerr.ErrCancelled) {
			err = deployerr.Wrap(deployerr.Cancelled, ctxErr, "deployment cancelled while %s", result.State)
		}
		result.fail(err)
		return result
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	// Matching
	result.advance(StateMatching)
	build := data.Build()
	if build == nil {
		return fail(deployerr.New(deployerr.StagingFailed, "no build to deploy"))
	}

	files, err := matcher.Resolve(build.Workspace(), data.FilePath())
	if err != nil {
		return fail(err)
	}
	if len(files) == 0 {
		return fail(deployerr.New(deployerr.NoFilesMatched, "%q matched no files in %s", data.FilePath(), build.Workspace()))
	}
	result.Files = files
	fmt.Fprintf(out, "Matched %d files in %s\n", len(files), build.Workspace())

	target, err := profile.FromPublishingProfile(data.PublishingProfile())
	if err != nil {
		return fail(err)
	}
	result.Target = target.String()

	env, err := build.Environment()
	if err != nil {
		return fail(deployerr.Wrap(deployerr.StagingFailed, err, "cannot read build environment"))
	}

	// Staging
	result.advance(StateStaging)
	mirror, err := gitpush.NewMirror(c.opts.ScratchDir, c.opts.Branch)
	if err != nil {
		return fail(deployerr.Wrap(deployerr.StagingFailed, err, "cannot create scratch repository"))
	}
	defer func() {
		if closeErr := mirror.Close(); closeErr != nil {
			if result.OK() {
				c.logger.Warn("Failed to remove scratch repository", "dir", mirror.Dir(), "error", closeErr)
				return
			}
			result.err = multierr.Append(result.err, closeErr)
			result.Message = result.err.Error()
		}
	}()

	if err := mirror.Stage(ctx, build.Workspace(), files); err != nil {
		return fail(deployerr.Wrap(deployerr.StagingFailed, err, "cannot stage files"))
	}

	if len(c.opts.PostStage) > 0 {
		executor := NewExecutor(mirror.Dir(), env, out)
		executor.Allow(c.opts.AllowedCommands...)
		if _, err := executor.RunPostStageCommands(ctx, c.opts.PostStage, c.opts.PostStageTimeout); err != nil {
			return fail(deployerr.Wrap(deployerr.StagingFailed, err, "post-stage command failed"))
		}
	}

	message := c.commitMessage(build, env)
	commit, err := mirror.Commit(message, c.now())
	if err != nil {
		return fail(deployerr.Wrap(deployerr.StagingFailed, err, "cannot commit staged files"))
	}
	result.Commit = commit

	// Pushing
	result.advance(StatePushing)
	fmt.Fprintf(out, "Pushing %s to %s\n", commit, target)
	if err := mirror.Push(ctx, target, out); err != nil {
		return fail(deployerr.Wrap(deployerr.DeployPushFailed, errors.New(target.Redact(err.Error())),
			"push to %s failed", target))
	}

	result.advance(StateSucceeded)
	return result
}

// commitMessage renders the template with the build environment. A missing
// build tag is replaced by the build's display name.
func (c *Command) commitMessage(build Build, env map[string]string) string {
	data := templates.TemplateData{}
	for k, v := range env {
		data[k] = v
	}
	if data[BuildTagVar] == "" {
		data[BuildTagVar] = build.DisplayName()
	}
	if missing := templates.Missing(c.opts.CommitTemplate, data); len(missing) > 0 {
		c.logger.Warn("Commit message has unset variables", "variables", missing)
	}
	return templates.Render(c.opts.CommitTemplate, data)
}
