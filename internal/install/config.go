// Package install onboards a project: it adds the project to the
// configuration file, registers the GitHub push webhook that triggers it and
// renders a systemd unit for the trigger server.
package install

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gitdeploy/internal/project"
	"gitdeploy/internal/security"

	"gopkg.in/yaml.v3"
)

// Action reports what WriteProject did to the configuration file.
type Action string

const (
	ActionCreated Action = "created"
	ActionAdded   Action = "added"
	ActionUpdated Action = "updated"
	ActionKept    Action = "kept"
)

// WriteProject adds project name to the configuration at configPath, creating
// the file when needed. An existing project is only replaced when overwrite is
// set; otherwise ActionKept is returned and the file is left alone.
//
// cfg is validated the same way the server validates it on startup, so a
// written file always loads.
func WriteProject(configPath, name string, cfg project.ProjectConfig, overwrite bool) (Action, error) {
	if errs := project.ValidateProjectConfig(name, cfg); len(errs) > 0 {
		return "", fmt.Errorf("invalid project:\n%s", strings.Join(errs, "\n"))
	}

	config := project.Config{Projects: make(map[string]project.ProjectConfig)}
	action := ActionCreated

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return "", fmt.Errorf("parsing existing %s: %w", configPath, err)
		}
		// YAML unmarshaling can leave a nil map
		if config.Projects == nil {
			config.Projects = make(map[string]project.ProjectConfig)
		}
		action = ActionAdded
		if _, exists := config.Projects[name]; exists {
			if !overwrite {
				return ActionKept, nil
			}
			action = ActionUpdated
		}
	case os.IsNotExist(err):
		if err := os.MkdirAll(filepath.Dir(configPath), security.PermDirectory); err != nil {
			return "", fmt.Errorf("creating config directory: %w", err)
		}
	default:
		return "", fmt.Errorf("reading %s: %w", configPath, err)
	}

	config.Projects[name] = cfg

	out, err := yaml.Marshal(&config)
	if err != nil {
		return "", fmt.Errorf("marshaling %s: %w", configPath, err)
	}

	if err := os.WriteFile(configPath, out, security.PermConfigFile); err != nil {
		return "", fmt.Errorf("writing %s: %w", configPath, err)
	}
	// Bypass umask
	if err := os.Chmod(configPath, security.PermConfigFile); err != nil {
		return "", fmt.Errorf("setting %s permissions: %w", configPath, err)
	}

	return action, nil
}

// TriggerURL is the URL a project's triggers are posted to on the server at
// serverURL.
func TriggerURL(serverURL, name string) string {
	return strings.TrimSuffix(serverURL, "/") + "/in/" + name
}
