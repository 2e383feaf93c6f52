package project

import (
	"context"
	"fmt"
	"os"

	"gitdeploy/internal/deployerr"
	"gitdeploy/internal/profile"
)

// ProfileSource fetches publishing profiles from Azure Resource Manager.
type ProfileSource interface {
	PublishingProfile(ctx context.Context, subscriptionID, resourceGroup, appName string) (*profile.PublishingProfile, error)
}

// ResolveProfile loads the publishing profile configured for p. source is
// only consulted for Azure-backed projects and may be nil otherwise.
// Every failure is a MissingCredentials error.
func ResolveProfile(ctx context.Context, p *Project, source ProfileSource) (*profile.PublishingProfile, error) {
	cfg := p.Profile

	switch {
	case cfg.File != "":
		pp, err := profile.LoadFile(cfg.File)
		if err != nil {
			return nil, deployerr.Wrap(deployerr.MissingCredentials, err, "cannot load publishing profile for project '%s'", p.Name)
		}
		return pp, nil

	case cfg.GitURL != "":
		password := cfg.Password
		if cfg.PasswordEnv != "" {
			password = os.Getenv(cfg.PasswordEnv)
			if password == "" {
				return nil, deployerr.New(deployerr.MissingCredentials, "environment variable %s is not set", cfg.PasswordEnv)
			}
		}
		return &profile.PublishingProfile{
			GitURL:   cfg.GitURL,
			Username: cfg.Username,
			Password: password,
		}, nil

	case cfg.Azure != nil:
		if source == nil {
			return nil, deployerr.New(deployerr.MissingCredentials, "project '%s' needs Azure credentials to fetch its publishing profile", p.Name)
		}
		a := cfg.Azure
		pp, err := source.PublishingProfile(ctx, a.SubscriptionID, a.ResourceGroup, a.AppName)
		if err != nil {
			if ctx.Err() != nil {
				return nil, deployerr.Wrap(deployerr.Cancelled, err, "fetching publishing profile for %s cancelled", a.AppName)
			}
			return nil, deployerr.Wrap(deployerr.MissingCredentials, err, "cannot fetch publishing profile for %s", a.AppName)
		}
		return pp, nil
	}

	return nil, deployerr.New(deployerr.MissingCredentials, "project '%s' has no publishing profile", p.Name)
}

// ReadinessURL returns the URL to poll after a deployment, or "" when the
// project has no readiness check.
func (p *Project) ReadinessURL(pp *profile.PublishingProfile) string {
	if p.Readiness == nil {
		return ""
	}
	if p.Readiness.URL != "" {
		return p.Readiness.URL
	}
	if pp != nil {
		return pp.DestinationAppURL
	}
	return ""
}

// String identifies the profile source without exposing secrets.
func (c ProfileConfig) String() string {
	switch {
	case c.File != "":
		return "file " + c.File
	case c.GitURL != "":
		return fmt.Sprintf("git %s (user %s)", c.GitURL, c.Username)
	case c.Azure != nil:
		return fmt.Sprintf("azure %s/%s", c.Azure.ResourceGroup, c.Azure.AppName)
	}
	return "none"
}
