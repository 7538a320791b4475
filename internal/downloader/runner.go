package downloader

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
)

// Runner runs an external command in dir, passing each stdout line to
// onLine, and returns what the command wrote to stderr.
type Runner interface {
	Run(ctx context.Context, dir string, onLine func(string), name string, args ...string) ([]byte, error)
}

// CommandRunner runs commands with os/exec.
type CommandRunner struct{}

func NewCommandRunner() *CommandRunner {
	return &CommandRunner{}
}

func (r *CommandRunner) Run(ctx context.Context, dir string, onLine func(string), name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}

	err = cmd.Wait()
	return stderr.Bytes(), err
}
