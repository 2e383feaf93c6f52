package cmdutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// RedactedPlaceholder replaces secrets in sanitized output.
const RedactedPlaceholder = "***REDACTED***"

// ExecOptions configures command execution.
type ExecOptions struct {
	// Dir is the working directory for the command.
	Dir string

	// Timeout bounds the execution time. Zero means no timeout.
	Timeout time.Duration

	// Env holds "KEY=value" entries. Nil inherits the current environment.
	Env []string

	// Output, when set, receives combined stdout and stderr as it is produced.
	Output io.Writer
}

// Result contains the result of a command execution.
type Result struct {
	// Output is the combined stdout and stderr.
	Output []byte

	ExitCode int
	Duration time.Duration
}

// OK reports whether the command exited with status zero.
func (r *Result) OK() bool {
	return r != nil && r.ExitCode == 0
}

// Run executes cmdParts without a shell. A non-nil Result is returned
// whenever the process was started.
func Run(ctx context.Context, opts ExecOptions, cmdParts []string) (*Result, error) {
	if len(cmdParts) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, cmdParts[0], cmdParts[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env

	var buf bytes.Buffer
	var w io.Writer = &buf
	if opts.Output != nil {
		w = io.MultiWriter(&buf, opts.Output)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Output:   buf.Bytes(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return result, fmt.Errorf("command timed out after %s: %w", opts.Timeout, err)
		}
		return result, fmt.Errorf("command failed: %w", err)
	}

	return result, nil
}

// EnvList converts an environment map to sorted "KEY=value" entries.
func EnvList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}

// ParseCommandString splits a shell-quoted command string.
//
//	"pip install -r \"requirements.txt\"" -> ["pip", "install", "-r", "requirements.txt"]
func ParseCommandString(cmdStr string) ([]string, error) {
	parts, err := shellquote.Split(cmdStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command string: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command string")
	}
	return parts, nil
}

// ParseCommandList accepts both YAML command forms:
//   - "npm install --production"
//   - ["npm", "install", "--production"]
func ParseCommandList(cmd interface{}) ([]string, error) {
	switch v := cmd.(type) {
	case string:
		return ParseCommandString(v)
	case []interface{}:
		if len(v) == 0 {
			return nil, fmt.Errorf("empty command list")
		}
		parts := make([]string, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("command list item %d is not a string: %T", i, item)
			}
			parts[i] = str
		}
		return parts, nil
	case []string:
		if len(v) == 0 {
			return nil, fmt.Errorf("empty command list")
		}
		return v, nil
	default:
		return nil, fmt.Errorf("invalid command type: %T (must be string or list)", cmd)
	}
}

// FormatCommand renders command parts for logs, quoting where needed.
func FormatCommand(cmdParts []string) string {
	if len(cmdParts) == 0 {
		return "<empty command>"
	}

	quoted := make([]string, len(cmdParts))
	for i, part := range cmdParts {
		if part == "" || strings.ContainsAny(part, " \t\n\"'$") {
			quoted[i] = shellquote.Join(part)
		} else {
			quoted[i] = part
		}
	}

	return strings.Join(quoted, " ")
}

// SanitizeOutput replaces every non-empty secret in output.
func SanitizeOutput(output []byte, secrets []string) []byte {
	sanitized := string(output)
	for _, secret := range secrets {
		if secret != "" {
			sanitized = strings.ReplaceAll(sanitized, secret, RedactedPlaceholder)
		}
	}
	return []byte(sanitized)
}
