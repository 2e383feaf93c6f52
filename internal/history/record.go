package history

import (
	"time"

	"gitdeploy/internal/deployerr"
	"gitdeploy/internal/deployment"
)

// Complete fills r from a finished deployment. A readiness failure after a
// successful push marks the deployment failed.
func (r *DeploymentRecord) Complete(res *deployment.Result, readinessErr error) {
	now := time.Now().UTC()
	r.CompletedAt = &now

	duration := res.Duration.Seconds()
	if !r.StartedAt.IsZero() {
		duration = now.Sub(r.StartedAt).Seconds()
	}
	r.DurationSeconds = &duration
	r.FileCount = len(res.Files)
	if res.Commit != "" {
		r.CommitHash = &res.Commit
	}

	err := res.Err()
	if err == nil {
		err = readinessErr
	}
	if err == nil {
		r.Status = StatusSuccess
		r.ErrorKind = nil
		r.ErrorMessage = nil
		return
	}

	r.Status = StatusFailed
	r.ErrorMessage = stringPtrOrNil(err.Error())
	if kind, ok := deployerr.KindOf(err); ok {
		r.ErrorKind = stringPtrOrNil(string(kind))
	}
}

func stringPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
