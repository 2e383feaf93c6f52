package install

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"gitdeploy/internal/security"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// NewGitHubClient creates an authenticated GitHub client. An empty baseURL
// means api.github.com.
func NewGitHubClient(ctx context.Context, token, baseURL string) (*github.Client, error) {
	if token == "" {
		return nil, fmt.Errorf("no GitHub token")
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	client := github.NewClient(oauth2.NewClient(ctx, ts))

	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API url: %w", err)
		}
		client.BaseURL = u
	}
	return client, nil
}

// EnsureWebhook registers a push webhook on repository ("owner/repo") that
// posts to hookURL signed with secret. It reports false when a hook for
// hookURL already exists.
func EnsureWebhook(ctx context.Context, client *github.Client, repository, hookURL, secret string) (bool, error) {
	if err := security.ValidateRepository(repository); err != nil {
		return false, err
	}
	owner, repo, _ := strings.Cut(repository, "/")

	opts := &github.ListOptions{PerPage: 100}
	for {
		hooks, resp, err := client.Repositories.ListHooks(ctx, owner, repo, opts)
		if err != nil {
			return false, fmt.Errorf("listing webhooks: %w", err)
		}
		for _, hook := range hooks {
			if u, ok := hook.Config["url"].(string); ok && u == hookURL {
				return false, nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	hook := &github.Hook{
		Events: []string{"push"},
		Active: github.Bool(true),
		Config: map[string]interface{}{
			"url":          hookURL,
			"content_type": "json",
			"secret":       secret,
			"insecure_ssl": "0",
		},
	}
	if _, _, err := client.Repositories.CreateHook(ctx, owner, repo, hook); err != nil {
		return false, fmt.Errorf("creating webhook: %w", err)
	}
	return true, nil
}
