package server

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"time"

	"gitdeploy/internal/deployerr"
	"gitdeploy/internal/deployment"
	"gitdeploy/internal/history"
	"gitdeploy/internal/notify"
	"gitdeploy/internal/profile"
	"gitdeploy/internal/project"
	"gitdeploy/pkg/cmdutil"
)

// runDeployment takes an accepted trigger through deploy, readiness check,
// history and commit status.
func (s *Server) runDeployment(ctx context.Context, proj *project.Project, trigger Trigger, record *history.DeploymentRecord) {
	logger := s.Logger.With("project", proj.Name, "deployment_id", record.DeploymentID)
	notifier := s.notifier(proj)

	if notifier != nil {
		if err := notifier.Pending(ctx, trigger.Commit, ""); err != nil {
			logger.Warn("Failed to report pending status", "error", err)
		}
	}

	var console bytes.Buffer
	pp, res := s.deploy(ctx, proj, trigger, &console, logger)

	readyURL := proj.ReadinessURL(pp)
	var readyErr error
	if res.OK() && proj.Readiness != nil {
		readyErr = s.waitForReady(ctx, proj, readyURL)
		if readyErr != nil {
			logger.Error("Readiness check failed", "url", readyURL, "error", readyErr)
		} else {
			logger.Info("Deployment is serving", "url", readyURL)
		}
	}

	if s.ExposeOutput {
		secrets := []string{proj.Secret}
		if pp != nil {
			secrets = append(secrets, pp.Password, pp.FTPPassword)
		}
		logger.Info("deployment_output", "output", string(cmdutil.SanitizeOutput(console.Bytes(), secrets)))
	}

	record.Complete(res, readyErr)
	if s.History != nil {
		// The deploy context may be cancelled by now; the outcome is still recorded.
		if err := s.History.CompleteDeployment(context.WithoutCancel(ctx), record); err != nil {
			logger.Error("Failed to record deployment history", "error", err)
		}
	}

	if notifier != nil {
		outcome := res.Err()
		if outcome == nil {
			outcome = readyErr
		}
		if err := notifier.Report(context.WithoutCancel(ctx), trigger.Commit, outcome, readyURL); err != nil {
			logger.Warn("Failed to report commit status", "error", err)
		}
	}

	logger.Info("Deployment finished", "status", record.Status, "commit", res.Commit, "files", len(res.Files))
}

func (s *Server) deploy(ctx context.Context, proj *project.Project, trigger Trigger, console *bytes.Buffer, logger *slog.Logger) (*profile.PublishingProfile, *deployment.Result) {
	pp, err := project.ResolveProfile(ctx, proj, s.ProfileSource)
	if err != nil {
		logger.Error("Cannot resolve publishing profile", "error", err)
		return nil, deployment.Failed(err)
	}

	env := map[string]string{}
	if trigger.BuildTag != "" {
		env[deployment.BuildTagVar] = trigger.BuildTag
	}
	if trigger.Commit != "" {
		env["GIT_COMMIT"] = trigger.Commit
	}

	cmd := deployment.FromProject(proj, s.ScratchDir, s.Logger)
	res := cmd.Execute(ctx, &deployment.StaticCommandData{
		Run:     deployment.NewLocalBuild(proj.Workspace, env),
		Output:  console,
		Files:   proj.Files,
		Profile: pp,
	})
	return pp, res
}

func (s *Server) waitForReady(ctx context.Context, proj *project.Project, url string) error {
	if url == "" {
		return deployerr.New(deployerr.ReadinessTimeout, "no readiness URL for project '%s'", proj.Name)
	}
	timeout := time.Duration(proj.Readiness.Timeout) * time.Second
	return s.Poller.WaitForReady(ctx, url, proj.Readiness.Expect, timeout)
}

// notifier returns the commit status reporter of proj, or nil when the
// project has none or its token is not set.
func (s *Server) notifier(proj *project.Project) *notify.GitHubStatus {
	if proj.GitHub == nil {
		return nil
	}

	token := os.Getenv(proj.GitHub.TokenEnv)
	if token == "" {
		s.Logger.Warn("GitHub token not set, skipping commit status", "project", proj.Name, "env", proj.GitHub.TokenEnv)
		return nil
	}

	g, err := notify.NewGitHubStatus(proj.GitHub.Repository, token, proj.Name, s.Logger)
	if err != nil {
		s.Logger.Warn("Cannot create GitHub status reporter", "project", proj.Name, "error", err)
		return nil
	}
	if s.GitHubAPIURL != "" {
		if err := g.SetBaseURL(s.GitHubAPIURL); err != nil {
			s.Logger.Warn("Invalid GitHub API URL", "error", err)
			return nil
		}
	}
	return g
}
