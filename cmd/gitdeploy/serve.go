package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gitdeploy/internal/azure"
	"gitdeploy/internal/history"
	"gitdeploy/internal/project"
	"gitdeploy/internal/security"
	"gitdeploy/internal/server"

	"github.com/spf13/cobra"
)

var serveFlags struct {
	dbPath          string
	host            string
	port            int
	scratchDir      string
	tenantID        string
	githubAPIURL    string
	shutdownTimeout time.Duration
	testMode        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the trigger server",
	Long: `Start the HTTP server that CI jobs post deployment triggers to.

Each configured project with a secret accepts signed triggers on
/in/<project>. Deployment history is available on /status.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.dbPath, "db", getEnvOrDefault("GITDEPLOY_DB_PATH", "./deployments.db"), "Path to SQLite database")
	f.StringVar(&serveFlags.host, "host", getEnvOrDefault("GITDEPLOY_HOST", "127.0.0.1"), "Host to bind to")
	f.IntVarP(&serveFlags.port, "port", "p", getEnvOrDefaultInt("GITDEPLOY_PORT", 5000), "Port to listen on")
	f.StringVar(&serveFlags.scratchDir, "scratch-dir", getEnvOrDefault("GITDEPLOY_SCRATCH_DIR", ""), "Directory for temporary Git mirrors")
	f.StringVar(&serveFlags.tenantID, "tenant", os.Getenv("AZURE_TENANT_ID"), "Azure tenant for projects with an azure profile")
	f.StringVar(&serveFlags.githubAPIURL, "github-api", os.Getenv("GITDEPLOY_GITHUB_API"), "GitHub API URL for commit statuses (GitHub Enterprise)")
	f.DurationVar(&serveFlags.shutdownTimeout, "shutdown-timeout", 10*time.Minute, "How long to wait for running deployments on shutdown")
	f.BoolVar(&serveFlags.testMode, "test-mode", os.Getenv("GITDEPLOY_TEST_MODE") == "1", "Disable rate limiting and history")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logFile == "" {
		logFile = "./deployments.log"
	}
	logger, closeLog, err := setupLogging(os.Stdout, logFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer closeLog()

	logger.Info("Starting gitdeploy", "version", version)

	configPath, projects, err := loadProjects(logger)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return err
	}
	logger.Info("Configuration validated successfully", "config", configPath, "count", len(projects))

	if len(projects) == 0 {
		logger.Warn("No projects configured in config file", "config", configPath)
		logger.Warn("The server will start but won't handle any deployments until projects are added")
	}
	for name, p := range projects {
		if p.Secret == "" {
			logger.Warn("Project has no secret, remote triggers are disabled", "project", name)
		}
	}

	var hist *history.History
	if !serveFlags.testMode {
		if err := os.MkdirAll(filepath.Dir(serveFlags.dbPath), security.PermDirectory); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		logger.Info("Initializing history database", "db", serveFlags.dbPath)
		hist, err = history.NewHistory(serveFlags.dbPath)
		if err != nil {
			logger.Error("Failed to initialize history database", "error", err)
			return fmt.Errorf("failed to initialize history database: %w", err)
		}
	}

	registry := project.NewRegistry(projects)
	for _, p := range registry.All() {
		logger.Info("Project loaded", "project", p.Name, "profile", p.Profile.String(), "trigger_branch", p.TriggerBranch, "signed", p.Secret != "")
	}

	srv := server.NewServer(registry, hist, logger, serveFlags.testMode)
	srv.ScratchDir = serveFlags.scratchDir
	srv.GitHubAPIURL = serveFlags.githubAPIURL

	if usesAzure(projects) {
		cred, err := azure.NewCredential(serveFlags.tenantID)
		if err != nil {
			return err
		}
		srv.ProfileSource = azure.NewClient(cred, nil, logger)
	}

	httpServer := srv.HTTPServer(serveFlags.host, serveFlags.port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down", "active_deployments", srv.LockManager.Active())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveFlags.shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("Stopped")
	return nil
}

func usesAzure(projects map[string]*project.Project) bool {
	for _, p := range projects {
		if p.Profile.Azure != nil {
			return true
		}
	}
	return false
}
