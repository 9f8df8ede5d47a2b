package filer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	mferrors "github.com/infodancer/mailfiler/errors"
)

// DefaultShell runs pipe targets and alert commands.
const DefaultShell = "/bin/sh"

// CommandRunner runs a shell command line with stdin attached.
type CommandRunner interface {
	Run(ctx context.Context, command string, env []string, stdin io.Reader) error
}

// ShellRunner runs commands with "sh -c". A non-zero exit status is
// reported as errors.ErrCommandFailed with the command's stderr.
type ShellRunner struct {
	// Shell defaults to DefaultShell.
	Shell string
}

func (r ShellRunner) Run(ctx context.Context, command string, env []string, stdin io.Reader) error {
	shell := r.Shell
	if shell == "" {
		shell = DefaultShell
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Env = env
	cmd.Stdin = stdin
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: exit status %d: %s", mferrors.ErrCommandFailed, exitErr.ExitCode(), msg)
		}
		return fmt.Errorf("%w: exit status %d", mferrors.ErrCommandFailed, exitErr.ExitCode())
	}
	return fmt.Errorf("%w: %v", mferrors.ErrCommandFailed, err)
}
