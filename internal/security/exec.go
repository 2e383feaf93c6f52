package security

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gitdeploy/pkg/cmdutil"
)

// DefaultAllowedCommands are the programs post-stage hooks may run.
var DefaultAllowedCommands = map[string]bool{
	"npm":      true,
	"npx":      true,
	"yarn":     true,
	"pnpm":     true,
	"node":     true,
	"composer": true,
	"php":      true,
	"python":   true,
	"python3":  true,
	"pip":      true,
	"pip3":     true,
	"make":     true,
	"cp":       true,
	"mv":       true,
	"mkdir":    true,
	"chmod":    true,
}

// shellMetachars can chain or redirect commands if an argument ever reaches
// a shell.
const shellMetachars = ";|&$`\n><(){}*?[]\\'\""

// SandboxedExecutor runs allow-listed commands without a shell.
type SandboxedExecutor struct {
	AllowedCommands map[string]bool

	// WorkDir is the working directory for command execution.
	WorkDir string

	// Env holds "KEY=value" entries for the command.
	Env []string

	// Timeout bounds each command. Zero means no limit.
	Timeout time.Duration

	// Output receives the command output as it is produced.
	Output io.Writer

	// AllowShellMetachars disables the argument check. Almost always false.
	AllowShellMetachars bool
}

// NewSandboxedExecutor creates an executor with the default allow list.
func NewSandboxedExecutor(workDir string) *SandboxedExecutor {
	allowed := make(map[string]bool, len(DefaultAllowedCommands))
	for k, v := range DefaultAllowedCommands {
		allowed[k] = v
	}
	return &SandboxedExecutor{
		AllowedCommands: allowed,
		WorkDir:         workDir,
	}
}

// Execute validates cmdParts and runs them in WorkDir.
func (e *SandboxedExecutor) Execute(ctx context.Context, cmdParts []string) (*cmdutil.Result, error) {
	if err := e.ValidateCommandParts(cmdParts); err != nil {
		return nil, err
	}

	return cmdutil.Run(ctx, cmdutil.ExecOptions{
		Dir:     e.WorkDir,
		Timeout: e.Timeout,
		Env:     e.Env,
		Output:  e.Output,
	}, cmdParts)
}

// ValidateCommandParts checks a command without running it.
func (e *SandboxedExecutor) ValidateCommandParts(cmdParts []string) error {
	if len(cmdParts) == 0 {
		return fmt.Errorf("empty command")
	}

	if !e.AllowedCommands[cmdParts[0]] {
		return fmt.Errorf("command not allowed: %s (must be one of: %s)",
			cmdParts[0], strings.Join(e.allowedList(), ", "))
	}

	if !e.AllowShellMetachars {
		for i, arg := range cmdParts[1:] {
			if containsShellMetachars(arg) {
				return fmt.Errorf("argument %d contains shell metacharacters: %s", i+1, arg)
			}
		}
	}

	return nil
}

// AddAllowedCommand adds a command to the allow list.
func (e *SandboxedExecutor) AddAllowedCommand(cmd string) {
	if e.AllowedCommands == nil {
		e.AllowedCommands = make(map[string]bool)
	}
	e.AllowedCommands[cmd] = true
}

// IsCommandAllowed checks if a command is in the allow list.
func (e *SandboxedExecutor) IsCommandAllowed(cmd string) bool {
	return e.AllowedCommands[cmd]
}

func (e *SandboxedExecutor) allowedList() []string {
	commands := make([]string, 0, len(e.AllowedCommands))
	for cmd, ok := range e.AllowedCommands {
		if ok {
			commands = append(commands, cmd)
		}
	}
	sort.Strings(commands)
	return commands
}

func containsShellMetachars(s string) bool {
	return strings.ContainsAny(s, shellMetachars)
}
