package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"gitdeploy/internal/project"
	"gitdeploy/internal/security"
	"gitdeploy/pkg/fileutil"
)

var (
	configFile string
	logFile    string
	verbose    bool
)

// setupLogging returns a JSON logger writing to w and, when logPath is set,
// to that file. The returned close function is never nil.
func setupLogging(w io.Writer, logPath string) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	closeFn := func() error { return nil }
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), security.PermDirectory); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := security.OpenAppendFile(logPath, security.PermLogFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(w, file)
		closeFn = file.Close
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler), closeFn, nil
}

// findConfig returns --config or the first projects.yaml in the default
// locations.
func findConfig() (string, error) {
	if configFile != "" {
		return configFile, nil
	}

	path, err := fileutil.FindConfig("projects.yaml")
	if err == nil {
		return path, nil
	}

	fmt.Fprintf(os.Stderr, "No configuration file found in default locations:\n")
	for _, path := range fileutil.DefaultConfigPaths("projects.yaml") {
		fmt.Fprintf(os.Stderr, "  - %s\n", path)
	}
	fmt.Fprintf(os.Stderr, "Use --config flag to specify a custom location\n")
	return "", fmt.Errorf("configuration file not found")
}

// loadProjects loads and validates the configuration file.
func loadProjects(logger *slog.Logger) (string, map[string]*project.Project, error) {
	path, err := findConfig()
	if err != nil {
		return "", nil, err
	}

	logger.Info("Loading configuration", "config", path)
	if err := security.ValidateSecurePermissions(path); err != nil {
		logger.Warn("Configuration file permissions are too open", "config", path, "error", err)
	}

	_, projects, err := project.LoadConfig(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return path, projects, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
