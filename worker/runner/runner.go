package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

const progressPrefix = "PROGRESS:"

// Result is the outcome of one external binary run. A nonzero exit code is a
// result, not an error; exit codes carry domain meaning for the watermarking
// tools.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ProgressFunc receives one parsed PROGRESS line: the step token and any
// trailing arguments.
type ProgressFunc func(step string, args []string)

// SpawnError means the binary could not be launched at all.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ToolError means the binary ran but exited nonzero. Handlers build it from a
// Result once they have ruled out the exit codes they understand.
type ToolError struct {
	Name     string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Name, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

type Runner struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run executes the binary to completion, streaming stdout so progress lines
// reach the callback as soon as each full line arrives. No throttling happens
// here; that is the caller's concern.
func (r *Runner) Run(ctx context.Context, path string, args []string, onProgress ProgressFunc) (*Result, error) {
	cmd := exec.CommandContext(ctx, path, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}

	r.logger.Info("External process started",
		zap.String("path", path),
		zap.Strings("args", args),
	)

	var stdout strings.Builder
	scanner := bufio.NewScanner(stdoutPipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		stdout.WriteString(line)
		stdout.WriteByte('\n')

		if step, stepArgs, ok := parseProgressLine(line); ok && onProgress != nil {
			onProgress(step, stepArgs)
		}
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()

	result := &Result{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, &SpawnError{Path: path, Err: waitErr}
		}
	}
	if scanErr != nil {
		r.logger.Warn("Error reading process stdout",
			zap.String("path", path),
			zap.Error(scanErr),
		)
	}

	r.logger.Info("External process finished",
		zap.String("path", path),
		zap.Int("exit_code", result.ExitCode),
	)

	return result, nil
}

// parseProgressLine splits "PROGRESS:<step>[:<arg>...]" on colons. Lines
// without the prefix, or with an empty step, are not progress lines.
func parseProgressLine(line string) (string, []string, bool) {
	if !strings.HasPrefix(line, progressPrefix) {
		return "", nil, false
	}

	parts := strings.Split(strings.TrimPrefix(line, progressPrefix), ":")
	if len(parts) == 0 || parts[0] == "" {
		return "", nil, false
	}
	return parts[0], parts[1:], true
}
