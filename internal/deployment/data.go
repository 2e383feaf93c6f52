package deployment

import (
	"io"

	"gitdeploy/internal/profile"
)

// BuildTagVar is the environment variable naming the build being deployed.
const BuildTagVar = "BUILD_TAG"

// Build is the build whose workspace is deployed.
type Build interface {
	Workspace() string
	Environment() (map[string]string, error)
	DisplayName() string
}

// CommandData is everything a Command needs from its host for one run.
type CommandData interface {
	Build() Build
	Listener() io.Writer
	FilePath() string
	PublishingProfile() *profile.PublishingProfile
}

// LocalBuild is a Build backed by a directory and an explicit environment.
type LocalBuild struct {
	Dir  string
	Env  map[string]string
	Name string
}

// NewLocalBuild returns a build for dir. env is copied.
func NewLocalBuild(dir string, env map[string]string) *LocalBuild {
	copied := make(map[string]string, len(env))
	for k, v := range env {
		copied[k] = v
	}
	return &LocalBuild{Dir: dir, Env: copied}
}

func (b *LocalBuild) Workspace() string {
	return b.Dir
}

// Environment returns a copy of the build environment.
func (b *LocalBuild) Environment() (map[string]string, error) {
	env := make(map[string]string, len(b.Env))
	for k, v := range b.Env {
		env[k] = v
	}
	return env, nil
}

// DisplayName is Name, else the build tag, else "local".
func (b *LocalBuild) DisplayName() string {
	if b.Name != "" {
		return b.Name
	}
	if tag := b.Env[BuildTagVar]; tag != "" {
		return tag
	}
	return "local"
}

// StaticCommandData is a CommandData holding fixed values.
type StaticCommandData struct {
	Run     Build
	Output  io.Writer
	Files   string
	Profile *profile.PublishingProfile
}

func (d *StaticCommandData) Build() Build {
	return d.Run
}

// Listener returns Output, or a discarding writer when Output is nil.
func (d *StaticCommandData) Listener() io.Writer {
	if d.Output == nil {
		return io.Discard
	}
	return d.Output
}

func (d *StaticCommandData) FilePath() string {
	return d.Files
}

func (d *StaticCommandData) PublishingProfile() *profile.PublishingProfile {
	return d.Profile
}
