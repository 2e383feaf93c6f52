package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gitdeploy/internal/install"
	"gitdeploy/internal/project"
	"gitdeploy/internal/security"
	"gitdeploy/pkg/fileutil"

	"github.com/spf13/cobra"
)

var installFlags struct {
	workspace     string
	files         string
	profileFile   string
	gitURL        string
	username      string
	passwordEnv   string
	subscription  string
	resourceGroup string
	appName       string
	branch        string
	triggerBranch string
	expect        string
	waitURL       string
	githubRepo    string
	tokenEnv      string
	serverURL     string
	githubAPI     string
	noSecret      bool
	force         bool
	unitPath      string
	serviceUser   string
	serviceGroup  string
	serviceHome   string
}

var installCmd = &cobra.Command{
	Use:   "install PROJECT",
	Short: "Add a project to the configuration",
	Long: `Add a project to projects.yaml, creating the file when needed.

A trigger secret is generated unless --no-secret is given. With --server and
--github-repo, a push webhook posting to the trigger server is registered on
the repository using GH_TOKEN or GITHUB_TOKEN. With --systemd-unit, a unit
file running the trigger server is written to the given path, or to
` + install.DefaultUnitPath + ` without one ("--systemd-unit=-" prints it).

Missing values are asked for when running on a terminal.`,
	Example: `  gitdeploy install nodeapp --workspace /var/lib/jenkins/workspace/nodeapp \
      --files "*.js,*.json" --profile /etc/gitdeploy/nodeapp.PublishSettings
  gitdeploy install phpapp --workspace /srv/builds/phpapp --files "**/*.php" \
      --azure-subscription "$AZURE_SUBSCRIPTION_ID" --azure-resource-group web \
      --azure-app phpapp --expect "Hello PHP!" \
      --server https://deploy.example.com --github-repo owner/phpapp`,
	Args: cobra.ExactArgs(1),
	RunE: runInstall,
}

func init() {
	f := installCmd.Flags()
	f.StringVarP(&installFlags.workspace, "workspace", "w", "", "Build workspace of the project")
	f.StringVarP(&installFlags.files, "files", "f", "", "Comma-separated glob patterns of files to deploy")
	f.StringVar(&installFlags.profileFile, "profile", "", "Azure .PublishSettings file")
	f.StringVar(&installFlags.gitURL, "git-url", "", "App Service Git URL")
	f.StringVar(&installFlags.username, "username", "", "Deployment username")
	f.StringVar(&installFlags.passwordEnv, "password-env", "", "Environment variable holding the deployment password")
	f.StringVar(&installFlags.subscription, "azure-subscription", os.Getenv("AZURE_SUBSCRIPTION_ID"), "Azure subscription of the Web App")
	f.StringVar(&installFlags.resourceGroup, "azure-resource-group", "", "Resource group of the Web App")
	f.StringVar(&installFlags.appName, "azure-app", "", "Web App name")
	f.StringVar(&installFlags.branch, "branch", "", "Remote branch to overwrite (default master)")
	f.StringVar(&installFlags.triggerBranch, "trigger-branch", "", "Only deploy triggers for this source branch")
	f.StringVar(&installFlags.expect, "expect", "", "Text the site must serve after a deployment")
	f.StringVar(&installFlags.waitURL, "wait-url", "", "URL to poll after a deployment")
	f.StringVar(&installFlags.githubRepo, "github-repo", "", "GitHub repository (owner/repo) for commit statuses and the webhook")
	f.StringVar(&installFlags.tokenEnv, "github-token-env", "", "Environment variable holding the GitHub token on the server")
	f.StringVar(&installFlags.serverURL, "server", "", "Public URL of the trigger server, for the GitHub webhook")
	f.StringVar(&installFlags.githubAPI, "github-api", os.Getenv("GITDEPLOY_GITHUB_API"), "GitHub API URL (GitHub Enterprise)")
	f.BoolVar(&installFlags.noSecret, "no-secret", false, "Do not generate a trigger secret")
	f.BoolVar(&installFlags.force, "force", false, "Replace an existing project of the same name")
	f.StringVar(&installFlags.unitPath, "systemd-unit", "", "Write a systemd unit for the trigger server to this path")
	f.Lookup("systemd-unit").NoOptDefVal = install.DefaultUnitPath
	f.StringVar(&installFlags.serviceUser, "service-user", "gitdeploy", "User the trigger server runs as")
	f.StringVar(&installFlags.serviceGroup, "service-group", "", "Group the trigger server runs as (default: the user)")
	f.StringVar(&installFlags.serviceHome, "service-home", "/var/lib/gitdeploy", "Directory for the history database and log")
}

func runInstall(cmd *cobra.Command, args []string) error {
	name := args[0]
	out := cmd.OutOrStdout()

	if err := security.ValidateProjectName(name); err != nil {
		return err
	}

	var prompter *install.Prompter
	if install.IsInteractive(os.Stdin) {
		prompter = install.NewPrompter(os.Stdin, out)
		promptMissing(prompter)
	}

	cfg, err := installConfig()
	if err != nil {
		return err
	}

	secret := ""
	if !installFlags.noSecret {
		if secret, err = security.GenerateSecret(); err != nil {
			return err
		}
		cfg.Secret = secret
	}

	path := installConfigPath()
	action, err := install.WriteProject(path, name, cfg, installFlags.force)
	install.Step(out, fmt.Sprintf("Writing project '%s' to %s", name, path), err)
	if err != nil {
		return err
	}
	if action == install.ActionKept && prompter != nil &&
		prompter.Confirm(fmt.Sprintf("Project '%s' already exists. Replace it?", name)) {
		action, err = install.WriteProject(path, name, cfg, true)
		install.Step(out, fmt.Sprintf("Replacing project '%s'", name), err)
		if err != nil {
			return err
		}
	}
	if action == install.ActionKept {
		install.Warn(out, fmt.Sprintf("Project '%s' already exists, use --force to replace it", name))
		return nil
	}

	if secret != "" {
		fmt.Fprintf(out, "\nTrigger secret: %s\n", secret)
		fmt.Fprintf(out, "Keep it safe, it signs every trigger for %s\n\n", name)
	}

	if installFlags.serverURL != "" && installFlags.githubRepo != "" {
		if err := registerWebhook(cmd, out, name, secret); err != nil {
			return err
		}
	}

	if installFlags.unitPath != "" {
		if err := writeUnit(out, path); err != nil {
			return err
		}
	}

	return nil
}

func installConfig() (project.ProjectConfig, error) {
	workspace, err := filepath.Abs(installFlags.workspace)
	if err != nil || installFlags.workspace == "" {
		return project.ProjectConfig{}, fmt.Errorf("--workspace is required")
	}

	cfg := project.ProjectConfig{
		Workspace:     workspace,
		Files:         installFlags.files,
		Branch:        installFlags.branch,
		TriggerBranch: installFlags.triggerBranch,
		Profile: project.ProfileConfig{
			GitURL:      installFlags.gitURL,
			Username:    installFlags.username,
			PasswordEnv: installFlags.passwordEnv,
		},
	}

	if installFlags.profileFile != "" {
		if cfg.Profile.File, err = filepath.Abs(installFlags.profileFile); err != nil {
			return cfg, fmt.Errorf("invalid profile path: %w", err)
		}
	}
	if installFlags.appName != "" {
		cfg.Profile.Azure = &project.AzureConfig{
			SubscriptionID: installFlags.subscription,
			ResourceGroup:  installFlags.resourceGroup,
			AppName:        installFlags.appName,
		}
	}
	if installFlags.expect != "" {
		cfg.Readiness = &project.ReadinessConfig{URL: installFlags.waitURL, Expect: installFlags.expect}
	}
	if installFlags.githubRepo != "" {
		cfg.GitHub = &project.GitHubConfig{Repository: installFlags.githubRepo, TokenEnv: installFlags.tokenEnv}
	}
	return cfg, nil
}

func promptMissing(p *install.Prompter) {
	if installFlags.workspace == "" {
		cwd, _ := os.Getwd()
		installFlags.workspace = p.Ask("Enter workspace", "Directory the build leaves its output in", cwd)
	}
	if installFlags.files == "" {
		installFlags.files = p.Ask("Enter file patterns", "Comma-separated globs of the files to deploy, e.g. *.js,*.json", "")
	}
	if installFlags.profileFile == "" && installFlags.gitURL == "" && installFlags.appName == "" {
		installFlags.profileFile = p.Ask("Enter publishing profile", "Path of the .PublishSettings file downloaded from the Azure portal", "")
	}
}

// installConfigPath is --config, an existing projects.yaml in a default
// location, or the first default location.
func installConfigPath() string {
	if configFile != "" {
		return configFile
	}
	searchPaths := fileutil.DefaultConfigPaths("projects.yaml")
	if path := fileutil.SearchPathsOptional(searchPaths); path != "" {
		return path
	}
	return searchPaths[0]
}

func registerWebhook(cmd *cobra.Command, out io.Writer, name, secret string) error {
	if secret == "" {
		install.Warn(out, "No trigger secret, skipping GitHub webhook")
		return nil
	}
	token := getEnvOrDefault("GH_TOKEN", os.Getenv("GITHUB_TOKEN"))
	if token == "" {
		install.Warn(out, "GH_TOKEN or GITHUB_TOKEN not set, skipping GitHub webhook")
		return nil
	}

	client, err := install.NewGitHubClient(cmd.Context(), token, installFlags.githubAPI)
	if err != nil {
		return err
	}

	hookURL := install.TriggerURL(installFlags.serverURL, name)
	created, err := install.EnsureWebhook(cmd.Context(), client, installFlags.githubRepo, hookURL, secret)
	if err != nil {
		install.Step(out, "Creating GitHub webhook", err)
		return err
	}
	if !created {
		install.Warn(out, "GitHub webhook for "+hookURL+" already exists")
		return nil
	}
	install.Step(out, "Creating GitHub webhook for "+hookURL, nil)
	return nil
}

func writeUnit(out io.Writer, configPath string) error {
	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot locate gitdeploy binary: %w", err)
	}
	absConfig, err := filepath.Abs(configPath)
	if err != nil {
		return err
	}

	unit, err := install.SystemdUnit(install.UnitOptions{
		User:   installFlags.serviceUser,
		Group:  installFlags.serviceGroup,
		Home:   installFlags.serviceHome,
		Binary: binary,
		Config: absConfig,
	})
	if err != nil {
		return err
	}

	if installFlags.unitPath == "-" {
		fmt.Fprint(out, unit)
		return nil
	}
	err = install.WriteUnit(installFlags.unitPath, unit)
	install.Step(out, "Writing systemd unit "+installFlags.unitPath, err)
	if err == nil {
		fmt.Fprintln(out, "Run: systemctl daemon-reload && systemctl enable --now gitdeploy")
	}
	return err
}
