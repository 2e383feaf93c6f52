package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gitdeploy/internal/deployerr"
	"gitdeploy/internal/deployment"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()
	hist, err := NewHistory(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create history: %v", err)
	}
	t.Cleanup(func() { hist.Close() })
	return hist
}

func TestHistory_RecordDeployment(t *testing.T) {
	hist := newTestHistory(t)

	duration := 5.5
	commitHash := "3f786850e387550fdab836ed7e6dc881de23001b"
	record := &DeploymentRecord{
		Project:         "nodeapp",
		BuildTag:        "jenkins-nodeapp-7",
		Branch:          "master",
		Status:          StatusSuccess,
		FileCount:       3,
		DurationSeconds: &duration,
		CommitHash:      &commitHash,
	}

	id, err := hist.RecordDeployment(context.Background(), record)
	if err != nil {
		t.Fatalf("Failed to record deployment: %v", err)
	}
	if id == 0 || record.ID != id {
		t.Errorf("Expected non-zero deployment ID, got %d (record %d)", id, record.ID)
	}
	if len(record.DeploymentID) != 36 {
		t.Errorf("Expected generated UUID, got %q", record.DeploymentID)
	}
	if record.CompletedAt == nil {
		t.Error("Finished deployments should get a completion time")
	}

	latest, err := hist.GetLatestDeployment(context.Background(), "nodeapp")
	if err != nil {
		t.Fatalf("Failed to get latest deployment: %v", err)
	}
	if latest.DeploymentID != record.DeploymentID || latest.BuildTag != "jenkins-nodeapp-7" || latest.FileCount != 3 {
		t.Errorf("Unexpected record %+v", latest)
	}
	if latest.CommitHash == nil || *latest.CommitHash != commitHash {
		t.Errorf("Expected commit hash %s, got %v", commitHash, latest.CommitHash)
	}
	if !latest.StartedAt.Equal(record.StartedAt.UTC()) {
		t.Errorf("StartedAt = %v, want %v", latest.StartedAt, record.StartedAt)
	}
}

func TestHistory_GetLatestDeployment(t *testing.T) {
	hist := newTestHistory(t)
	ctx := context.Background()

	for i, status := range []string{StatusSuccess, StatusFailed} {
		duration := float64(i + 1)
		if _, err := hist.RecordDeployment(ctx, &DeploymentRecord{
			Project:         "phpapp",
			BuildTag:        "build",
			Branch:          "master",
			Status:          status,
			DurationSeconds: &duration,
		}); err != nil {
			t.Fatalf("Failed to record deployment: %v", err)
		}
	}

	latest, err := hist.GetLatestDeployment(ctx, "phpapp")
	if err != nil {
		t.Fatalf("Failed to get latest deployment: %v", err)
	}
	if latest == nil {
		t.Fatal("Expected latest deployment to be non-nil")
	}
	if latest.Status != StatusFailed {
		t.Errorf("Expected latest status 'failed', got %q", latest.Status)
	}
	if latest.DurationSeconds == nil || *latest.DurationSeconds != 2.0 {
		t.Errorf("Expected duration 2.0, got %v", latest.DurationSeconds)
	}
}

func TestHistory_GetLatestDeployment_NoRecords(t *testing.T) {
	hist := newTestHistory(t)

	latest, err := hist.GetLatestDeployment(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Expected no error for nonexistent project, got: %v", err)
	}
	if latest != nil {
		t.Errorf("Expected nil for nonexistent project, got: %v", latest)
	}
}

func TestHistory_GetDeploymentHistory(t *testing.T) {
	hist := newTestHistory(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		duration := float64(i)
		if _, err := hist.RecordDeployment(ctx, &DeploymentRecord{
			Project:         "pyapp",
			BuildTag:        "build",
			Branch:          "master",
			Status:          StatusSuccess,
			DurationSeconds: &duration,
		}); err != nil {
			t.Fatalf("Failed to record deployment %d: %v", i, err)
		}
	}

	history, err := hist.GetDeploymentHistory(ctx, "pyapp", 3)
	if err != nil {
		t.Fatalf("Failed to get deployment history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(history))
	}
	if history[0].DurationSeconds == nil || *history[0].DurationSeconds != 4.0 {
		t.Errorf("Expected newest record first, got %v", history[0].DurationSeconds)
	}

	empty, err := hist.GetDeploymentHistory(ctx, "unknown", 3)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("Expected empty non-nil history, got %v, %v", empty, err)
	}
}

func TestHistory_GetAllProjectsStatus(t *testing.T) {
	hist := newTestHistory(t)
	ctx := context.Background()

	records := []struct{ project, status string }{
		{"nodeapp", StatusFailed},
		{"phpapp", StatusFailed},
		{"nodeapp", StatusSuccess},
	}
	for _, r := range records {
		if _, err := hist.RecordDeployment(ctx, &DeploymentRecord{Project: r.project, BuildTag: "b", Branch: "master", Status: r.status}); err != nil {
			t.Fatal(err)
		}
	}

	status, err := hist.GetAllProjectsStatus(ctx)
	if err != nil {
		t.Fatalf("Failed to get all projects status: %v", err)
	}
	if len(status) != 2 {
		t.Errorf("Expected 2 projects, got %d", len(status))
	}
	if status["nodeapp"] == nil || status["nodeapp"].Status != StatusSuccess {
		t.Errorf("Expected nodeapp status 'success', got %+v", status["nodeapp"])
	}
	if status["phpapp"] == nil || status["phpapp"].Status != StatusFailed {
		t.Errorf("Expected phpapp status 'failed', got %+v", status["phpapp"])
	}
}

func TestHistory_CompleteDeployment(t *testing.T) {
	hist := newTestHistory(t)
	ctx := context.Background()

	record := &DeploymentRecord{Project: "nodeapp", BuildTag: "jenkins-1", Branch: "master", Status: StatusInProgress}
	if _, err := hist.RecordDeployment(ctx, record); err != nil {
		t.Fatal(err)
	}
	if record.CompletedAt != nil {
		t.Error("In-progress deployments should not be completed")
	}

	record.Complete(&deployment.Result{
		State:  deployment.StateSucceeded,
		Files:  []string{"index.js", "package.json"},
		Commit: "abc123",
	}, nil)
	if err := hist.CompleteDeployment(ctx, record); err != nil {
		t.Fatalf("CompleteDeployment() error = %v", err)
	}

	latest, err := hist.GetLatestDeployment(ctx, "nodeapp")
	if err != nil {
		t.Fatal(err)
	}
	if latest.Status != StatusSuccess || latest.FileCount != 2 || latest.CompletedAt == nil {
		t.Errorf("Unexpected completed record %+v", latest)
	}
	if latest.ErrorKind != nil || latest.ErrorMessage != nil {
		t.Error("Successful deployment should have no error")
	}

	missing := &DeploymentRecord{DeploymentID: "00000000-0000-0000-0000-000000000000", Status: StatusFailed}
	if err := hist.CompleteDeployment(ctx, missing); err == nil {
		t.Error("Expected error for unknown deployment")
	}
}

func TestDeploymentRecord_Complete(t *testing.T) {
	t.Run("deploy failure", func(t *testing.T) {
		r := &DeploymentRecord{StartedAt: time.Now().Add(-2 * time.Second)}
		r.Complete(deployment.Failed(deployerr.New(deployerr.NoFilesMatched, "nothing matched")), nil)

		if r.Status != StatusFailed {
			t.Errorf("Status = %q", r.Status)
		}
		if r.ErrorKind == nil || *r.ErrorKind != string(deployerr.NoFilesMatched) {
			t.Errorf("ErrorKind = %v", r.ErrorKind)
		}
		if r.ErrorMessage == nil || *r.ErrorMessage != "nothing matched" {
			t.Errorf("ErrorMessage = %v", r.ErrorMessage)
		}
		if r.DurationSeconds == nil || *r.DurationSeconds < 2 {
			t.Errorf("DurationSeconds = %v", r.DurationSeconds)
		}
		if r.CommitHash != nil {
			t.Error("CommitHash should be nil")
		}
	})

	t.Run("readiness failure", func(t *testing.T) {
		r := &DeploymentRecord{}
		res := &deployment.Result{State: deployment.StateSucceeded, Commit: "abc", Duration: time.Second}
		r.Complete(res, deployerr.New(deployerr.ReadinessTimeout, "not ready"))

		if r.Status != StatusFailed || r.ErrorKind == nil || *r.ErrorKind != string(deployerr.ReadinessTimeout) {
			t.Errorf("Unexpected record %+v", r)
		}
		if r.CommitHash == nil || *r.CommitHash != "abc" {
			t.Error("CommitHash should be kept")
		}
		if r.DurationSeconds == nil || *r.DurationSeconds != 1 {
			t.Errorf("DurationSeconds = %v, want result duration", r.DurationSeconds)
		}
	})
}
