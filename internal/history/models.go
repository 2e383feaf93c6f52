package history

import "time"

// Deployment statuses
const (
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusRejected   = "rejected"
	StatusInProgress = "in_progress"
)

// DeploymentRecord represents a single deployment event in the database
type DeploymentRecord struct {
	ID              int64      `json:"id"`
	DeploymentID    string     `json:"deployment_id"`
	Project         string     `json:"project"`
	BuildTag        string     `json:"build_tag"`
	Branch          string     `json:"branch"`
	Status          string     `json:"status"`
	ErrorKind       *string    `json:"error_kind,omitempty"`
	CommitHash      *string    `json:"commit_hash,omitempty"`
	FileCount       int        `json:"file_count"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
}

// DeploymentStatus represents the latest status of a project
type DeploymentStatus struct {
	Project          string             `json:"project"`
	Deploying        bool               `json:"deploying"`
	LatestDeployment *DeploymentRecord  `json:"latest_deployment,omitempty"`
	RecentHistory    []DeploymentRecord `json:"recent_history"`
}
