package project

// Project represents a validated deployment project configuration
type Project struct {
	Name             string
	Workspace        string
	Files            string
	Branch           string
	TriggerBranch    string
	Secret           string
	CommitMessage    string
	PostStage        [][]string
	PostStageTimeout int
	Profile          ProfileConfig
	Readiness        *ReadinessConfig
	GitHub           *GitHubConfig
}

// ProjectConfig represents the YAML configuration for a project
type ProjectConfig struct {
	Workspace        string           `yaml:"workspace"`
	Files            string           `yaml:"files"`
	Branch           string           `yaml:"branch,omitempty"`
	TriggerBranch    string           `yaml:"trigger_branch,omitempty"`
	Secret           string           `yaml:"secret,omitempty"`
	CommitMessage    string           `yaml:"commit_message,omitempty"`
	PostStage        []interface{}    `yaml:"post_stage,omitempty"`
	PostStageTimeout int              `yaml:"post_stage_timeout,omitempty"`
	Profile          ProfileConfig    `yaml:"profile,omitempty"`
	Readiness        *ReadinessConfig `yaml:"readiness,omitempty"`
	GitHub           *GitHubConfig    `yaml:"github,omitempty"`
}

// ProfileConfig names where a project's publishing credentials come from.
// Exactly one of File, the inline Git fields, or Azure is set.
type ProfileConfig struct {
	File        string       `yaml:"file,omitempty"`
	GitURL      string       `yaml:"git_url,omitempty"`
	Username    string       `yaml:"username,omitempty"`
	Password    string       `yaml:"password,omitempty"`
	PasswordEnv string       `yaml:"password_env,omitempty"`
	Azure       *AzureConfig `yaml:"azure,omitempty"`
}

// AzureConfig identifies a Web App whose publishing profile is fetched from
// Azure Resource Manager.
type AzureConfig struct {
	SubscriptionID string `yaml:"subscription_id,omitempty"`
	ResourceGroup  string `yaml:"resource_group,omitempty"`
	AppName        string `yaml:"app_name,omitempty"`
}

// ReadinessConfig describes the post-deploy check. An empty URL falls back to
// the destination app URL of the publishing profile.
type ReadinessConfig struct {
	URL     string `yaml:"url,omitempty"`
	Expect  string `yaml:"expect,omitempty"`
	Timeout int    `yaml:"timeout,omitempty"`
}

// GitHubConfig enables commit status reporting.
type GitHubConfig struct {
	Repository string `yaml:"repository,omitempty"`
	TokenEnv   string `yaml:"token_env,omitempty"`
}

// Config represents the root configuration structure
type Config struct {
	Projects map[string]ProjectConfig `yaml:"projects"`
}
