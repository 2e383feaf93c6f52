package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusCall struct {
	Path          string
	Authorization string
	Body          map[string]string
}

func statusServer(t *testing.T, code int) (*httptest.Server, func() []statusCall) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []statusCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		mu.Lock()
		calls = append(calls, statusCall{Path: r.URL.Path, Authorization: r.Header.Get("Authorization"), Body: body})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"id": 1}`))
	}))
	t.Cleanup(srv.Close)

	return srv, func() []statusCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]statusCall(nil), calls...)
	}
}

func newNotifier(t *testing.T, url string) *GitHubStatus {
	t.Helper()
	g, err := NewGitHubStatus("owner/nodeapp", "ghp_testtoken", "nodeapp", nil)
	require.NoError(t, err)
	require.NoError(t, g.SetBaseURL(url))
	return g
}

func TestGitHubStatus_ReportSuccess(t *testing.T) {
	srv, calls := statusServer(t, http.StatusCreated)
	g := newNotifier(t, srv.URL)

	err := g.Report(context.Background(), "3f786850e387550fdab836ed7e6dc881de23001b", nil, "https://nodeapp.azurewebsites.net")
	require.NoError(t, err)

	got := calls()
	require.Len(t, got, 1)
	assert.Equal(t, "/repos/owner/nodeapp/statuses/3f786850e387550fdab836ed7e6dc881de23001b", got[0].Path)
	assert.Equal(t, "Bearer ghp_testtoken", got[0].Authorization)
	assert.Equal(t, "success", got[0].Body["state"])
	assert.Equal(t, "gitdeploy/nodeapp", got[0].Body["context"])
	assert.Equal(t, "https://nodeapp.azurewebsites.net", got[0].Body["target_url"])
}

func TestGitHubStatus_ReportFailureTruncatesDescription(t *testing.T) {
	srv, calls := statusServer(t, http.StatusCreated)
	g := newNotifier(t, srv.URL)

	err := g.Report(context.Background(), "abc123", errors.New(strings.Repeat("x", 300)), "")
	require.NoError(t, err)

	got := calls()
	require.Len(t, got, 1)
	assert.Equal(t, "failure", got[0].Body["state"])
	assert.Len(t, got[0].Body["description"], maxDescription)
	assert.NotContains(t, got[0].Body, "target_url")
}

func TestGitHubStatus_Pending(t *testing.T) {
	srv, calls := statusServer(t, http.StatusCreated)
	g := newNotifier(t, srv.URL)

	require.NoError(t, g.Pending(context.Background(), "abc123", ""))
	require.Len(t, calls(), 1)
	assert.Equal(t, "pending", calls()[0].Body["state"])
}

func TestGitHubStatus_SkipsEmptyCommit(t *testing.T) {
	srv, calls := statusServer(t, http.StatusCreated)
	g := newNotifier(t, srv.URL)

	require.NoError(t, g.Report(context.Background(), "", nil, ""))
	assert.Empty(t, calls())
}

func TestGitHubStatus_APIError(t *testing.T) {
	srv, _ := statusServer(t, http.StatusUnprocessableEntity)
	g := newNotifier(t, srv.URL)

	err := g.Report(context.Background(), "abc123", nil, "")
	assert.ErrorContains(t, err, "creating commit status")
}

func TestNewGitHubStatus_Validation(t *testing.T) {
	_, err := NewGitHubStatus("not-a-repo", "token", "app", nil)
	assert.Error(t, err)

	_, err = NewGitHubStatus("owner/repo", "", "app", nil)
	assert.ErrorContains(t, err, "no GitHub token")
}
