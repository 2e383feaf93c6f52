package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gitdeploy/internal/azure"
	"gitdeploy/internal/deployerr"
	"gitdeploy/internal/deployment"
	"gitdeploy/internal/history"
	"gitdeploy/internal/profile"
	"gitdeploy/internal/project"
	"gitdeploy/internal/readiness"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var deployFlags struct {
	workspace   string
	files       string
	profileFile string
	gitURL      string
	username    string
	password    string
	branch      string
	message     string
	buildTag    string
	scratchDir  string
	waitURL     string
	expect      string
	timeout     int
	interval    time.Duration
	dbPath      string
	tenantID    string
}

var deployCmd = &cobra.Command{
	Use:   "deploy [PROJECT]",
	Short: "Push build files to an App Service Git endpoint",
	Long: `Deploy the files of a build workspace.

With PROJECT, the deployment is read from the configuration file; --files,
--branch, --message and the readiness flags override it when given.
Without PROJECT, --workspace, --files and one of --profile or
--git-url/--username/--password describe the deployment.

When --expect is set the command waits until the site serves that text.`,
	Example: `  gitdeploy deploy nodeapp --build-tag "$BUILD_TAG"
  gitdeploy deploy --files "*.js,*.json" --profile nodeapp.PublishSettings \
      --wait-url https://nodeapp.azurewebsites.net --expect "Hello NodeJS!"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDeploy,
}

// deployFailure marks a deployment that ran and failed, as opposed to a
// usage or configuration error.
type deployFailure struct {
	err error
}

func (f *deployFailure) Error() string { return f.err.Error() }
func (f *deployFailure) Unwrap() error { return f.err }

func init() {
	f := deployCmd.Flags()
	f.StringVarP(&deployFlags.workspace, "workspace", "w", getEnvOrDefault("WORKSPACE", "."), "Build workspace to deploy from")
	f.StringVarP(&deployFlags.files, "files", "f", "", "Comma-separated glob patterns of files to deploy")
	f.StringVar(&deployFlags.profileFile, "profile", "", "Azure .PublishSettings file")
	f.StringVar(&deployFlags.gitURL, "git-url", "", "App Service Git URL")
	f.StringVar(&deployFlags.username, "username", "", "Deployment username")
	f.StringVar(&deployFlags.password, "password", "", "Deployment password (default $GITDEPLOY_PASSWORD)")
	f.StringVar(&deployFlags.branch, "branch", "", "Remote branch to overwrite (default master)")
	f.StringVarP(&deployFlags.message, "message", "m", "", "Commit message template")
	f.StringVar(&deployFlags.buildTag, "build-tag", os.Getenv(deployment.BuildTagVar), "Build tag used in the commit message")
	f.StringVar(&deployFlags.scratchDir, "scratch-dir", getEnvOrDefault("GITDEPLOY_SCRATCH_DIR", ""), "Directory for temporary Git mirrors")
	f.StringVar(&deployFlags.waitURL, "wait-url", "", "URL to poll after the push (default: the app URL of the profile)")
	f.StringVar(&deployFlags.expect, "expect", "", "Text the site must serve for the deployment to count as ready")
	f.IntVar(&deployFlags.timeout, "timeout", project.DefaultReadinessTimeout, "Readiness timeout in seconds")
	f.DurationVar(&deployFlags.interval, "interval", readiness.DefaultInterval, "Delay between readiness requests")
	f.StringVar(&deployFlags.dbPath, "db", getEnvOrDefault("GITDEPLOY_DB_PATH", ""), "Record the deployment in this history database")
	f.StringVar(&deployFlags.tenantID, "tenant", os.Getenv("AZURE_TENANT_ID"), "Azure tenant for projects with an azure profile")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	logger, closeLog, err := setupLogging(os.Stderr, logFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proj, err := deployProject(cmd, args, logger)
	if err != nil {
		return err
	}

	source, err := profileSource(proj.Profile, deployFlags.tenantID, logger)
	if err != nil {
		return err
	}

	start := time.Now()
	pp, res := executeDeploy(ctx, proj, source, logger)

	var readyErr error
	readyURL := proj.ReadinessURL(pp)
	if res.OK() && proj.Readiness != nil {
		readyErr = waitForDeployment(ctx, proj, readyURL, logger)
	}

	if deployFlags.dbPath != "" {
		recordDeployment(ctx, proj, start, res, readyErr, logger)
	}

	printSummary(proj, res, readyURL, readyErr)

	if err := res.Err(); err != nil {
		return &deployFailure{err: err}
	}
	if readyErr != nil {
		return &deployFailure{err: readyErr}
	}
	return nil
}

// deployProject returns the configured project named by args, with explicit
// flags applied, or an ad hoc project built from flags.
func deployProject(cmd *cobra.Command, args []string, logger *slog.Logger) (*project.Project, error) {
	changed := cmd.Flags().Changed

	if len(args) == 0 {
		workspace, err := filepath.Abs(deployFlags.workspace)
		if err != nil {
			return nil, fmt.Errorf("invalid workspace: %w", err)
		}
		cfg := project.ProjectConfig{
			Workspace:     workspace,
			Files:         deployFlags.files,
			Branch:        deployFlags.branch,
			CommitMessage: deployFlags.message,
			Profile: project.ProfileConfig{
				File:     deployFlags.profileFile,
				GitURL:   deployFlags.gitURL,
				Username: deployFlags.username,
				Password: deployPassword(),
			},
		}
		if cfg.Profile.File != "" {
			if cfg.Profile.File, err = filepath.Abs(cfg.Profile.File); err != nil {
				return nil, fmt.Errorf("invalid profile path: %w", err)
			}
		}
		if deployFlags.expect != "" {
			cfg.Readiness = &project.ReadinessConfig{URL: deployFlags.waitURL, Expect: deployFlags.expect, Timeout: deployFlags.timeout}
		}
		return project.NewProject(projectName(workspace), cfg)
	}

	_, projects, err := loadProjects(logger)
	if err != nil {
		return nil, err
	}
	proj, err := project.NewRegistry(projects).Get(args[0])
	if err != nil {
		return nil, err
	}

	if changed("files") {
		proj.Files = deployFlags.files
	}
	if changed("branch") {
		proj.Branch = deployFlags.branch
	}
	if changed("message") {
		proj.CommitMessage = deployFlags.message
	}
	if changed("expect") || changed("wait-url") || changed("timeout") {
		r := project.ReadinessConfig{Timeout: project.DefaultReadinessTimeout}
		if proj.Readiness != nil {
			r = *proj.Readiness
		}
		if changed("expect") {
			r.Expect = deployFlags.expect
		}
		if changed("wait-url") {
			r.URL = deployFlags.waitURL
		}
		if changed("timeout") {
			r.Timeout = deployFlags.timeout
		}
		if r.Expect == "" {
			return nil, fmt.Errorf("readiness check of project '%s' needs --expect", proj.Name)
		}
		proj.Readiness = &r
	}
	return proj, nil
}

// projectName derives a project name from a workspace directory.
func projectName(workspace string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, filepath.Base(workspace))
	name = strings.TrimLeft(name, "-")
	if name == "" {
		return "workspace"
	}
	return name
}

// profileSource returns an Azure-backed source when cfg needs one.
func profileSource(cfg project.ProfileConfig, tenantID string, logger *slog.Logger) (project.ProfileSource, error) {
	if cfg.Azure == nil {
		return nil, nil
	}
	cred, err := azure.NewCredential(tenantID)
	if err != nil {
		return nil, err
	}
	return azure.NewClient(cred, nil, logger), nil
}

func executeDeploy(ctx context.Context, proj *project.Project, source project.ProfileSource, logger *slog.Logger) (*profile.PublishingProfile, *deployment.Result) {
	pp, err := project.ResolveProfile(ctx, proj, source)
	if err != nil {
		return nil, deployment.Failed(err)
	}

	env := environMap()
	if deployFlags.buildTag != "" {
		env[deployment.BuildTagVar] = deployFlags.buildTag
	}

	fmt.Fprintf(os.Stdout, "Deploying %s (%s) from %s\n", proj.Name, proj.Files, proj.Workspace)
	cmd := deployment.FromProject(proj, deployFlags.scratchDir, logger)
	res := cmd.Execute(ctx, &deployment.StaticCommandData{
		Run:     localBuild(proj.Workspace, env),
		Output:  os.Stdout,
		Files:   proj.Files,
		Profile: pp,
	})
	return pp, res
}

// deployPassword is --password, else $GITDEPLOY_PASSWORD. The variable is
// read here rather than as the flag default so help output never shows it.
func deployPassword() string {
	if deployFlags.password != "" {
		return deployFlags.password
	}
	return os.Getenv("GITDEPLOY_PASSWORD")
}

// localBuild names the build after the Jenkins job and build number when
// both are set.
func localBuild(workspace string, env map[string]string) *deployment.LocalBuild {
	build := deployment.NewLocalBuild(workspace, env)
	if job, num := env["JOB_NAME"], env["BUILD_NUMBER"]; job != "" && num != "" {
		build.Name = fmt.Sprintf("%s #%s", job, num)
	}
	return build
}

func waitForDeployment(ctx context.Context, proj *project.Project, url string, logger *slog.Logger) error {
	if url == "" {
		return deployerr.New(deployerr.ReadinessTimeout, "no readiness URL for project '%s': set --wait-url or use a profile with a destination app URL", proj.Name)
	}
	fmt.Fprintf(os.Stdout, "Waiting up to %ds for %s to serve %q\n", proj.Readiness.Timeout, url, proj.Readiness.Expect)

	poller := readiness.NewPoller(logger)
	poller.Interval = deployFlags.interval
	return poller.WaitForReady(ctx, url, proj.Readiness.Expect, time.Duration(proj.Readiness.Timeout)*time.Second)
}

func recordDeployment(ctx context.Context, proj *project.Project, start time.Time, res *deployment.Result, readyErr error, logger *slog.Logger) {
	hist, err := history.NewHistory(deployFlags.dbPath)
	if err != nil {
		logger.Error("Failed to open history database", "db", deployFlags.dbPath, "error", err)
		return
	}
	defer hist.Close()

	record := &history.DeploymentRecord{
		Project:   proj.Name,
		BuildTag:  deployFlags.buildTag,
		Branch:    proj.Branch,
		StartedAt: start,
	}
	record.Complete(res, readyErr)
	if _, err := hist.RecordDeployment(context.WithoutCancel(ctx), record); err != nil {
		logger.Error("Failed to record deployment", "error", err)
	}
}

func printSummary(proj *project.Project, res *deployment.Result, readyURL string, readyErr error) {
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	if !res.OK() {
		red.Printf("✗ %s: deployment failed (%s)\n", proj.Name, res.Kind)
		fmt.Printf("  %s\n", res.Message)
		return
	}

	green.Printf("✓ %s: pushed %d files to %s\n", proj.Name, len(res.Files), res.Target)
	fmt.Printf("  Commit:   %s\n", res.Commit)
	fmt.Printf("  Duration: %s\n", res.Duration.Round(time.Millisecond))

	if proj.Readiness == nil {
		return
	}
	if readyErr != nil {
		red.Printf("✗ %s is not serving the new version: %v\n", readyURL, readyErr)
		return
	}
	green.Printf("✓ %s is serving %q\n", readyURL, proj.Readiness.Expect)
}

func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
