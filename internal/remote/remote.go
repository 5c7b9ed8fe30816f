// Package remote runs shell commands on the local host or on peers over
// ssh/scp.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// CommandError is returned when a command exits non-zero or fails to start.
type CommandError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q failed: %v", e.Command, e.Err)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner executes commands through bash. With DryRun set, commands are
// logged and never executed.
type Runner struct {
	DryRun bool
	Log    logrus.FieldLogger
	// Stdout and Stderr receive the output of Run* commands. They default to
	// the process streams.
	Stdout io.Writer
	Stderr io.Writer
}

func NewRunner(dryRun bool, log logrus.FieldLogger) *Runner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{DryRun: dryRun, Log: log}
}

func (r *Runner) logger() logrus.FieldLogger {
	if r.Log == nil {
		return logrus.StandardLogger()
	}
	return r.Log
}

// RunLocal runs cmd, streaming its output.
func (r *Runner) RunLocal(ctx context.Context, cmd string) error {
	stdout, stderr := r.Stdout, r.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	_, err := r.run(ctx, cmd, stdout, stderr)
	return err
}

// QueryLocal runs cmd and returns its trimmed stdout.
func (r *Runner) QueryLocal(ctx context.Context, cmd string) (string, error) {
	out, err := r.run(ctx, cmd, nil, nil)
	return strings.TrimSpace(out), err
}

// RunSSH starts cmd on host in the background over ssh. A port of 0 uses
// the ssh default.
func (r *Runner) RunSSH(ctx context.Context, host string, port int, cmd string) error {
	return r.RunLocal(ctx, SSHCommand(host, port, cmd, true))
}

// QuerySSH runs cmd on host and returns its trimmed stdout.
func (r *Runner) QuerySSH(ctx context.Context, host string, port int, cmd string) (string, error) {
	return r.QueryLocal(ctx, SSHCommand(host, port, cmd, false))
}

// CopySCP copies src recursively to dst on host.
func (r *Runner) CopySCP(ctx context.Context, host string, port int, src, dst string) error {
	return r.RunLocal(ctx, SCPCommand(host, port, src, dst))
}

func (r *Runner) run(ctx context.Context, cmd string, stdout, stderr io.Writer) (string, error) {
	log := r.logger().WithField("command", cmd)
	if r.DryRun {
		log.Info("dry run, not executing")
		return "", nil
	}
	log.Debug("running command")

	var outBuf, errBuf bytes.Buffer
	c := exec.CommandContext(ctx, "bash", "-c", cmd)
	c.Stdout = &outBuf
	c.Stderr = &errBuf
	// exec copies each stream in its own goroutine, and the sinks may be
	// the same writer.
	var mu sync.Mutex
	if stdout != nil {
		c.Stdout = io.MultiWriter(&lockedWriter{mu: &mu, w: stdout}, &outBuf)
	}
	if stderr != nil {
		c.Stderr = io.MultiWriter(&lockedWriter{mu: &mu, w: stderr}, &errBuf)
	}

	if err := c.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return outBuf.String(), &CommandError{
			Command:  cmd,
			ExitCode: code,
			Stdout:   outBuf.String(),
			Stderr:   errBuf.String(),
			Err:      err,
		}
	}
	return outBuf.String(), nil
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// SSHCommand builds "ssh [-f] -n [-p port] host 'cmd'". background adds -f
// so ssh returns once the remote command has started.
func SSHCommand(host string, port int, cmd string, background bool) string {
	parts := []string{"ssh"}
	if background {
		parts = append(parts, "-f")
	}
	parts = append(parts, "-n")
	if port > 0 {
		parts = append(parts, "-p", fmt.Sprint(port))
	}
	parts = append(parts, host, Quote(cmd))
	return strings.Join(parts, " ")
}

// SCPCommand builds "scp [-P port] -r src host:dst".
func SCPCommand(host string, port int, src, dst string) string {
	parts := []string{"scp"}
	if port > 0 {
		parts = append(parts, "-P", fmt.Sprint(port))
	}
	parts = append(parts, "-r", Quote(src), host+":"+Quote(dst))
	return strings.Join(parts, " ")
}

// Quote wraps s in single quotes for bash.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
