package project

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gitdeploy/internal/matcher"
	"gitdeploy/internal/security"
	"gitdeploy/pkg/cmdutil"
	"gitdeploy/pkg/templates"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBranch           = "master"
	DefaultPostStageTimeout = 300
	DefaultReadinessTimeout = 300
	DefaultTokenEnv         = "GITHUB_TOKEN"

	// WorkspaceRootEnv, when set, confines every workspace to that directory.
	WorkspaceRootEnv = "GITDEPLOY_WORKSPACE_ROOT"
)

// LoadConfig loads and validates the configuration from a YAML file
func LoadConfig(configPath string) (*Config, map[string]*Project, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	// Empty YAML files leave Projects nil
	if config.Projects == nil {
		config.Projects = make(map[string]ProjectConfig)
	}

	names := make([]string, 0, len(config.Projects))
	for name := range config.Projects {
		names = append(names, name)
	}
	sort.Strings(names)

	var problems []string
	projects := make(map[string]*Project)
	for _, name := range names {
		projectConfig := config.Projects[name]
		if errs := ValidateProjectConfig(name, projectConfig); len(errs) > 0 {
			problems = append(problems, errs...)
			continue
		}

		p, err := newProject(name, projectConfig)
		if err != nil {
			return nil, nil, err
		}
		projects[name] = p
	}

	if len(problems) > 0 {
		return nil, nil, fmt.Errorf("invalid configuration:\n%s", strings.Join(problems, "\n"))
	}

	return &config, projects, nil
}

// NewProject validates cfg and returns the project it describes.
func NewProject(name string, cfg ProjectConfig) (*Project, error) {
	if errs := ValidateProjectConfig(name, cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid project:\n%s", strings.Join(errs, "\n"))
	}
	return newProject(name, cfg)
}

// newProject applies defaults to a validated config.
func newProject(name string, cfg ProjectConfig) (*Project, error) {
	workspace, err := filepath.EvalSymlinks(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace for project '%s': %w", name, err)
	}

	branch := cfg.Branch
	if branch == "" {
		branch = DefaultBranch
	}

	commitMessage := cfg.CommitMessage
	if commitMessage == "" {
		commitMessage = templates.DefaultCommitMessage
	}

	postStageTimeout := cfg.PostStageTimeout
	if postStageTimeout == 0 {
		postStageTimeout = DefaultPostStageTimeout
	}

	postStage := make([][]string, 0, len(cfg.PostStage))
	for i, raw := range cfg.PostStage {
		parts, err := cmdutil.ParseCommandList(raw)
		if err != nil {
			return nil, fmt.Errorf("project '%s': post_stage[%d]: %w", name, i, err)
		}
		postStage = append(postStage, parts)
	}

	var readiness *ReadinessConfig
	if cfg.Readiness != nil {
		r := *cfg.Readiness
		if r.Timeout == 0 {
			r.Timeout = DefaultReadinessTimeout
		}
		readiness = &r
	}

	var gh *GitHubConfig
	if cfg.GitHub != nil {
		g := *cfg.GitHub
		if g.TokenEnv == "" {
			g.TokenEnv = DefaultTokenEnv
		}
		gh = &g
	}

	return &Project{
		Name:             name,
		Workspace:        workspace,
		Files:            cfg.Files,
		Branch:           branch,
		TriggerBranch:    cfg.TriggerBranch,
		Secret:           cfg.Secret,
		CommitMessage:    commitMessage,
		PostStage:        postStage,
		PostStageTimeout: postStageTimeout,
		Profile:          cfg.Profile,
		Readiness:        readiness,
		GitHub:           gh,
	}, nil
}

// ValidateProjectConfig validates a single project configuration
func ValidateProjectConfig(name string, config ProjectConfig) []string {
	var errors []string
	add := func(format string, args ...interface{}) {
		errors = append(errors, fmt.Sprintf("  - Project '%s': ", name)+fmt.Sprintf(format, args...))
	}

	if err := security.ValidateProjectName(name); err != nil {
		add("invalid name: %v", err)
	}

	errors = append(errors, validateWorkspace(name, config.Workspace)...)

	if strings.TrimSpace(config.Files) == "" {
		add("missing required 'files' field")
	} else if _, err := matcher.Split(config.Files); err != nil {
		add("invalid files glob: %v", err)
	}

	branch := config.Branch
	if branch == "" {
		branch = DefaultBranch
	}
	if err := security.ValidateBranchName(branch); err != nil {
		add("invalid branch: %v", err)
	}
	if config.TriggerBranch != "" {
		if err := security.ValidateBranchName(config.TriggerBranch); err != nil {
			add("invalid trigger_branch: %v", err)
		}
	}

	// Secret is only needed by the trigger server
	if config.Secret != "" {
		if err := security.ValidateSecret(config.Secret); err != nil {
			add("%v", err)
		}
	}

	if config.CommitMessage != "" {
		if err := templates.Validate(config.CommitMessage); err != nil {
			add("invalid commit_message: %v", err)
		}
	}

	if config.PostStageTimeout < 0 {
		add("post_stage_timeout must be a positive integer, got %d", config.PostStageTimeout)
	}

	sandbox := security.NewSandboxedExecutor("")
	for i, cmd := range config.PostStage {
		parts, err := cmdutil.ParseCommandList(cmd)
		if err != nil {
			add("post_stage[%d] must be a string or list, got %T", i, cmd)
			continue
		}
		if err := sandbox.ValidateCommandParts(parts); err != nil {
			add("post_stage[%d]: %v", i, err)
		}
	}

	errors = append(errors, validateProfile(name, config.Profile)...)

	if r := config.Readiness; r != nil {
		if r.Expect == "" {
			add("readiness requires 'expect'")
		}
		if r.URL != "" {
			if u, err := url.Parse(r.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				add("readiness url must be an http(s) url, got '%s'", r.URL)
			}
		}
		if r.Timeout < 0 {
			add("readiness timeout must be a positive integer, got %d", r.Timeout)
		}
	}

	if gh := config.GitHub; gh != nil {
		if err := security.ValidateRepository(gh.Repository); err != nil {
			add("invalid github repository: %v", err)
		}
	}

	return errors
}

func validateWorkspace(name, workspace string) []string {
	var errors []string

	if workspace == "" {
		return []string{fmt.Sprintf("  - Project '%s': missing required 'workspace' field", name)}
	}
	if !filepath.IsAbs(workspace) {
		return []string{fmt.Sprintf("  - Project '%s': workspace must be absolute, got '%s'", name, workspace)}
	}

	realPath, err := filepath.EvalSymlinks(workspace)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{fmt.Sprintf("  - Project '%s': workspace does not exist: '%s'", name, workspace)}
		}
		return []string{fmt.Sprintf("  - Project '%s': cannot resolve workspace '%s': %v", name, workspace, err)}
	}

	info, err := os.Stat(realPath)
	if err != nil {
		errors = append(errors, fmt.Sprintf("  - Project '%s': cannot stat workspace '%s': %v", name, realPath, err))
	} else if !info.IsDir() {
		errors = append(errors, fmt.Sprintf("  - Project '%s': workspace is not a directory: '%s'", name, realPath))
	}

	// Check workspace is within allowed root if configured
	if root := os.Getenv(WorkspaceRootEnv); root != "" {
		if _, err := security.WithinRoot(root, realPath); err != nil {
			errors = append(errors, fmt.Sprintf("  - Project '%s': workspace '%s' is outside allowed root '%s'", name, realPath, root))
		}
	}

	return errors
}

func validateProfile(name string, cfg ProfileConfig) []string {
	var errors []string
	add := func(format string, args ...interface{}) {
		errors = append(errors, fmt.Sprintf("  - Project '%s': ", name)+fmt.Sprintf(format, args...))
	}

	inline := cfg.GitURL != "" || cfg.Username != "" || cfg.Password != "" || cfg.PasswordEnv != ""
	sources := 0
	for _, set := range []bool{cfg.File != "", inline, cfg.Azure != nil} {
		if set {
			sources++
		}
	}
	switch sources {
	case 0:
		add("profile requires one of 'file', 'git_url' or 'azure'")
		return errors
	case 1:
	default:
		add("profile must use exactly one of 'file', 'git_url' or 'azure'")
		return errors
	}

	switch {
	case cfg.File != "":
		if !filepath.IsAbs(cfg.File) {
			add("profile file must be absolute, got '%s'", cfg.File)
		} else if info, err := os.Stat(cfg.File); err != nil || info.IsDir() {
			add("profile file is not readable: '%s'", cfg.File)
		}

	case inline:
		if cfg.GitURL == "" {
			add("profile requires 'git_url'")
		} else if err := security.ValidateDeployURL(cfg.GitURL); err != nil {
			add("invalid profile git_url: %v", err)
		}
		if cfg.Username == "" {
			add("profile requires 'username'")
		}
		if cfg.Password != "" && cfg.PasswordEnv != "" {
			add("profile must set only one of 'password' and 'password_env'")
		} else if cfg.Password == "" && cfg.PasswordEnv == "" {
			add("profile requires 'password' or 'password_env'")
		}

	default:
		if cfg.Azure.SubscriptionID == "" {
			add("azure profile requires 'subscription_id'")
		}
		if cfg.Azure.ResourceGroup == "" {
			add("azure profile requires 'resource_group'")
		}
		if cfg.Azure.AppName == "" {
			add("azure profile requires 'app_name'")
		}
	}

	return errors
}

// MatchesRef reports whether a pushed ref should trigger a deployment.
// Projects without a trigger branch accept every ref.
func (p *Project) MatchesRef(ref string) bool {
	if p.TriggerBranch == "" {
		return true
	}
	return ref == fmt.Sprintf("refs/heads/%s", p.TriggerBranch)
}
