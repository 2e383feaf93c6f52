package deployment

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"gitdeploy/internal/security"
	"gitdeploy/pkg/cmdutil"
)

// DefaultHookTimeout bounds each post-stage command.
const DefaultHookTimeout = 300 * time.Second

// Executor runs post-stage commands inside a scratch mirror
type Executor struct {
	MirrorDir string
	executor  *security.SandboxedExecutor
}

// NewExecutor creates an executor for mirrorDir. The commands see the
// process environment overlaid with env.
func NewExecutor(mirrorDir string, env map[string]string, output io.Writer) *Executor {
	sandbox := security.NewSandboxedExecutor(mirrorDir)
	sandbox.Env = append(os.Environ(), cmdutil.EnvList(env)...)
	sandbox.Output = output

	return &Executor{
		MirrorDir: mirrorDir,
		executor:  sandbox,
	}
}

// Allow extends the allow list of this executor only.
func (e *Executor) Allow(commands ...string) {
	for _, c := range commands {
		e.executor.AddAllowedCommand(c)
	}
}

// RunPostStageCommands executes commands sequentially, stopping at the first
// failure. Each command gets its own timeout.
func (e *Executor) RunPostStageCommands(ctx context.Context, commands [][]string, timeout time.Duration) ([]*cmdutil.Result, error) {
	results := make([]*cmdutil.Result, 0, len(commands))
	if timeout <= 0 {
		timeout = DefaultHookTimeout
	}
	e.executor.Timeout = timeout

	for i, cmd := range commands {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result, err := e.executor.Execute(ctx, cmd)
		if result != nil {
			results = append(results, result)
		}

		if err != nil {
			return results, fmt.Errorf("post_stage command %d failed: %w (command: %s)",
				i, err, cmdutil.FormatCommand(cmd))
		}

		if !result.OK() {
			return results, fmt.Errorf("post_stage command %d exited with code %d (command: %s)",
				i, result.ExitCode, cmdutil.FormatCommand(cmd))
		}
	}

	return results, nil
}
