package profile

import (
	"fmt"
	"net/url"

	"gitdeploy/internal/deployerr"
	"gitdeploy/pkg/cmdutil"
)

// Target is the remote a deployment pushes to.
type Target struct {
	URL      string
	Username string
	Password string
}

// FromPublishingProfile extracts the Git deployment target from p.
// It performs no network I/O.
func FromPublishingProfile(p *PublishingProfile) (*Target, error) {
	if p == nil {
		return nil, deployerr.New(deployerr.MissingCredentials, "no publishing profile")
	}
	if p.GitURL == "" {
		return nil, deployerr.New(deployerr.MissingCredentials, "publishing profile has no git deployment url")
	}
	u, err := url.Parse(p.GitURL)
	if err != nil || u.Scheme == "" || (u.Host == "" && u.Scheme != "file") {
		return nil, deployerr.New(deployerr.MissingCredentials, "publishing profile git url %q is not a valid url", p.GitURL)
	}
	if p.Username == "" || p.Password == "" {
		return nil, deployerr.New(deployerr.MissingCredentials, "publishing profile for %s has no git credentials", p.GitURL)
	}

	return &Target{
		URL:      p.GitURL,
		Username: p.Username,
		Password: p.Password,
	}, nil
}

func (t *Target) String() string {
	return fmt.Sprintf("%s (user %s)", t.URL, t.Username)
}

// Redact removes the password from text.
func (t *Target) Redact(text string) string {
	return string(cmdutil.SanitizeOutput([]byte(text), []string{t.Password, url.QueryEscape(t.Password)}))
}
