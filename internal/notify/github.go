// Package notify reports deployment outcomes as GitHub commit statuses.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"gitdeploy/internal/security"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// maxDescription is GitHub's limit for status descriptions.
const maxDescription = 140

// GitHubStatus posts commit statuses for one project.
type GitHubStatus struct {
	client  *github.Client
	owner   string
	repo    string
	context string
	logger  *slog.Logger
}

// NewGitHubStatus creates a notifier for repository ("owner/repo")
// authenticated with token. Statuses use the context "gitdeploy/<project>".
func NewGitHubStatus(repository, token, project string, logger *slog.Logger) (*GitHubStatus, error) {
	if err := security.ValidateRepository(repository); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fmt.Errorf("no GitHub token for %s", repository)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(context.Background(), ts)

	owner, repo, _ := strings.Cut(repository, "/")
	return &GitHubStatus{
		client:  github.NewClient(tc),
		owner:   owner,
		repo:    repo,
		context: "gitdeploy/" + project,
		logger:  logger,
	}, nil
}

// SetBaseURL points the notifier at another API endpoint, such as GitHub
// Enterprise.
func (g *GitHubStatus) SetBaseURL(baseURL string) error {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid GitHub API url: %w", err)
	}
	g.client.BaseURL = u
	return nil
}

// Pending marks commit as being deployed.
func (g *GitHubStatus) Pending(ctx context.Context, commit, targetURL string) error {
	return g.post(ctx, commit, "pending", "Deployment in progress", targetURL)
}

// Report marks commit as deployed, or failed when deployErr is not nil.
func (g *GitHubStatus) Report(ctx context.Context, commit string, deployErr error, targetURL string) error {
	if deployErr != nil {
		return g.post(ctx, commit, "failure", deployErr.Error(), targetURL)
	}
	return g.post(ctx, commit, "success", "Deployed", targetURL)
}

func (g *GitHubStatus) post(ctx context.Context, commit, state, description, targetURL string) error {
	if commit == "" {
		g.logger.Debug("No commit to report status for", "context", g.context)
		return nil
	}

	if len(description) > maxDescription {
		description = description[:maxDescription-3] + "..."
	}

	status := &github.RepoStatus{
		State:       github.String(state),
		Description: github.String(description),
		Context:     github.String(g.context),
	}
	if targetURL != "" {
		status.TargetURL = github.String(targetURL)
	}

	if _, _, err := g.client.Repositories.CreateStatus(ctx, g.owner, g.repo, commit, status); err != nil {
		return fmt.Errorf("creating commit status: %w", err)
	}

	g.logger.Info("Reported commit status", "repository", g.owner+"/"+g.repo, "commit", commit, "state", state)
	return nil
}
