package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"gitdeploy/internal/history"
	"gitdeploy/internal/security"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	MaxPayloadBytes        = 1_000_000
	RecentDeploymentsLimit = 10
)

// Trigger is the body of a deployment request. GitHub push payloads carry
// the pushed commit in After.
type Trigger struct {
	BuildTag string `json:"build_tag"`
	Commit   string `json:"commit"`
	Ref      string `json:"ref"`
	After    string `json:"after,omitempty"`
}

// HandleTrigger validates a trigger and starts the deployment it asks for.
func (s *Server) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	projectName := chi.URLParam(r, "projectName")

	if err := security.ValidateProjectName(projectName); err != nil {
		s.Logger.Warn("Invalid project name in trigger request", "project", projectName, "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid project name: %v", err)})
		return
	}

	proj, err := s.Registry.Get(projectName)
	if err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown project"})
		return
	}

	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		s.respondJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "Invalid content type"})
		return
	}

	// GitHub sends pings and other events to the same hook; CI jobs send no
	// event header at all.
	if event := r.Header.Get("X-GitHub-Event"); event != "" && event != "push" {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Ignoring non-push event"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes+1))
	if err != nil {
		s.Logger.Error("Failed to read request body", "error", err, "project", projectName)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read payload"})
		return
	}
	if len(body) > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	if proj.Secret == "" {
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Remote triggers are disabled for this project"})
		return
	}
	if !VerifySignature(body, r.Header.Get(SignatureHeader), proj.Secret) {
		s.Logger.Warn("Rejected trigger with invalid signature", "project", projectName, "ip", clientIP(r))
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Invalid signature"})
		return
	}

	var trigger Trigger
	if err := json.Unmarshal(body, &trigger); err != nil {
		s.Logger.Error("Failed to parse JSON payload", "error", err, "project", projectName)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}
	if trigger.Commit == "" {
		trigger.Commit = trigger.After
	}

	if !proj.MatchesRef(trigger.Ref) {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Not trigger branch, skipping"})
		return
	}

	if !s.LockManager.TryLock(projectName) {
		s.Logger.Warn("Deployment already in progress, rejecting", "project", projectName)

		if s.History != nil {
			if _, err := s.History.RecordDeployment(r.Context(), &history.DeploymentRecord{
				Project:      projectName,
				BuildTag:     trigger.BuildTag,
				Branch:       proj.Branch,
				Status:       history.StatusRejected,
				CommitHash:   stringPtrOrNil(trigger.Commit),
				ErrorMessage: stringPtr("Deployment already in progress"),
			}); err != nil {
				s.Logger.Error("Failed to record rejection in history", "error", err, "project", projectName)
			}
		}

		s.respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Deployment already in progress"})
		return
	}

	record := &history.DeploymentRecord{
		DeploymentID: uuid.NewString(),
		Project:      projectName,
		BuildTag:     trigger.BuildTag,
		Branch:       proj.Branch,
		Status:       history.StatusInProgress,
		CommitHash:   stringPtrOrNil(trigger.Commit),
		StartedAt:    time.Now().UTC(),
	}
	if s.History != nil {
		if _, err := s.History.RecordDeployment(r.Context(), record); err != nil {
			s.Logger.Error("Failed to record deployment start", "error", err, "project", projectName)
		}
	}

	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"message":       "Deployment accepted",
		"project":       projectName,
		"deployment_id": record.DeploymentID,
	})

	s.deployWg.Add(1)
	go func() {
		defer s.deployWg.Done()
		defer s.LockManager.Unlock(projectName)
		s.runDeployment(s.deployCtx, proj, trigger, record)
	}()
}

// HandleHealth reports the configured projects.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"projects":      s.Registry.List(),
		"project_count": s.Registry.Count(),
		"deploying":     s.LockManager.Active(),
	})
}

// HandleStatus reports the latest and recent deployments of one project.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	projectName := chi.URLParam(r, "projectName")

	if err := security.ValidateProjectName(projectName); err != nil {
		s.Logger.Warn("Invalid project name in status request", "project", projectName, "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid project name: %v", err)})
		return
	}

	if _, err := s.Registry.Get(projectName); err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown project"})
		return
	}

	if s.History == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "History not available"})
		return
	}

	latest, err := s.History.GetLatestDeployment(r.Context(), projectName)
	if err != nil {
		s.Logger.Error("Failed to get latest deployment", "error", err, "project", projectName)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	recent, err := s.History.GetDeploymentHistory(r.Context(), projectName, RecentDeploymentsLimit)
	if err != nil {
		s.Logger.Error("Failed to get deployment history", "error", err, "project", projectName)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	s.respondJSON(w, http.StatusOK, history.DeploymentStatus{
		Project:          projectName,
		Deploying:        s.LockManager.IsLocked(projectName),
		LatestDeployment: latest,
		RecentHistory:    recent,
	})
}

// HandleStatusAll reports the latest deployment of every project.
func (s *Server) HandleStatusAll(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "History not available"})
		return
	}

	latest, err := s.History.GetAllProjectsStatus(r.Context())
	if err != nil {
		s.Logger.Error("Failed to get projects status", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	statuses := make([]history.DeploymentStatus, 0, s.Registry.Count())
	for _, name := range s.Registry.List() {
		statuses = append(statuses, history.DeploymentStatus{
			Project:          name,
			Deploying:        s.LockManager.IsLocked(name),
			LatestDeployment: latest[name],
			RecentHistory:    []history.DeploymentRecord{},
		})
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{"projects": statuses})
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}

func stringPtr(s string) *string {
	return &s
}

func stringPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
