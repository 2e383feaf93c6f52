package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gitdeploy/internal/server"

	"github.com/fatih/color"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"
)

var triggerFlags struct {
	serverURL string
	secret    string
	buildTag  string
	commit    string
	ref       string
	retryFor  time.Duration
}

var triggerCmd = &cobra.Command{
	Use:   "trigger PROJECT",
	Short: "Ask a running trigger server to deploy a project",
	Long: `Send a signed deployment trigger to a gitdeploy server.

The request body is signed with the project's secret. Connection failures and
server errors are retried for --retry-for.`,
	Example: `  gitdeploy trigger nodeapp --server http://deploy.internal:5000 \
      --build-tag "$BUILD_TAG" --commit "$GIT_COMMIT"`,
	Args: cobra.ExactArgs(1),
	RunE: runTrigger,
}

func init() {
	f := triggerCmd.Flags()
	f.StringVar(&triggerFlags.serverURL, "server", getEnvOrDefault("GITDEPLOY_SERVER", "http://127.0.0.1:5000"), "Trigger server base URL")
	f.StringVar(&triggerFlags.secret, "secret", os.Getenv("GITDEPLOY_SECRET"), "Project trigger secret")
	f.StringVar(&triggerFlags.buildTag, "build-tag", os.Getenv("BUILD_TAG"), "Build tag")
	f.StringVar(&triggerFlags.commit, "commit", os.Getenv("GIT_COMMIT"), "Source commit")
	f.StringVar(&triggerFlags.ref, "ref", "", "Source ref, e.g. refs/heads/master")
	f.DurationVar(&triggerFlags.retryFor, "retry-for", 30*time.Second, "Keep retrying failed requests this long")
}

func runTrigger(cmd *cobra.Command, args []string) error {
	if triggerFlags.secret == "" {
		return fmt.Errorf("no secret: set --secret or GITDEPLOY_SECRET")
	}

	payload, err := json.Marshal(server.Trigger{
		BuildTag: triggerFlags.buildTag,
		Commit:   triggerFlags.commit,
		Ref:      triggerFlags.ref,
	})
	if err != nil {
		return err
	}

	url := strings.TrimSuffix(triggerFlags.serverURL, "/") + "/in/" + args[0]
	status, body, err := postTrigger(cmd.Context(), url, payload, triggerFlags.secret, triggerFlags.retryFor)
	if err != nil {
		return err
	}

	var response map[string]string
	_ = json.Unmarshal(body, &response)

	switch status {
	case http.StatusAccepted:
		color.Green("✓ Deployment of %s accepted (id %s)", args[0], response["deployment_id"])
		return nil
	case http.StatusOK:
		color.Yellow("%s: %s", args[0], response["message"])
		return nil
	default:
		msg := response["error"]
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return fmt.Errorf("trigger rejected with status %d: %s", status, msg)
	}
}

// postTrigger sends a signed trigger, retrying transport errors and 5xx
// responses at a fixed interval until retryFor has elapsed.
func postTrigger(ctx context.Context, url string, payload []byte, secret string, retryFor time.Duration) (int, []byte, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	signature := server.Sign(payload, secret)

	var (
		status int
		body   []byte
	)
	backoff := retry.WithMaxDuration(retryFor, retry.NewConstant(2*time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(server.SignatureHeader, signature)

		resp, err := client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if err != nil {
			return retry.RetryableError(err)
		}
		status = resp.StatusCode
		if status >= 500 {
			return retry.RetryableError(fmt.Errorf("server answered %s", resp.Status))
		}
		return nil
	})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send trigger to %s: %w", url, err)
	}
	return status, body, nil
}
