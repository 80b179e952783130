package openwrt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// Runner executes external build commands.
type Runner interface {
	// Run streams output to the process stdout and stderr.
	Run(ctx context.Context, dir string, stdin io.Reader, name string, args ...string) error
	// Output captures stdout and stderr.
	Output(ctx context.Context, dir string, name string, args ...string) (stdout, stderr string, err error)
}

// CommandError carries the captured streams of a failed command.
type CommandError struct {
	Cmd    string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Cmd, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, stdin io.Reader, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdin = stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	log.Debug().Str("op", "openwrt/runner").Msgf("running %s %s in %s", name, strings.Join(args, " "), dir)
	if err := cmd.Run(); err != nil {
		return &CommandError{Cmd: name + " " + strings.Join(args, " "), Err: err}
	}
	return nil
}

func (ExecRunner) Output(ctx context.Context, dir string, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	line := name + " " + strings.Join(args, " ")
	err := cmd.Run()
	if err != nil {
		log.Error().Str("op", "openwrt/runner").Msgf("%s failed\nstdout: %s\nstderr: %s", line, stdout.String(), stderr.String())
		return stdout.String(), stderr.String(), &CommandError{Cmd: line, Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
	}
	log.Debug().Str("op", "openwrt/runner").Msgf("%s succeeded\nstdout: %s\nstderr: %s", line, stdout.String(), stderr.String())
	return stdout.String(), stderr.String(), nil
}
