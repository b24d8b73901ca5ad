// Package runner runs the external detection tool and streams its console output.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	maxLineLength = 1024 * 1024     // Longest output line passed on.
	waitDelay     = 5 * time.Second // Grace period for the output pipe after a kill.
)

// Command is a program invocation.
type Command struct {
	Path string   // The program.
	Args []string // The arguments, without the program.
	Dir  string   // The working directory; empty for the current directory.
}

// String formats c as a shell-like command line, for display only.
func (c Command) String() string {
	parts := make([]string, 0, 1+len(c.Args))
	for _, s := range append([]string{c.Path}, c.Args...) {
		if strings.ContainsAny(s, " \t\"") {
			s = `"` + strings.Replace(s, `"`, `\"`, -1) + `"`
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}

// Result describes a finished process.
type Result struct {
	ExitCode  int
	Cancelled bool // The context was done before the process exited.
}

// Run starts the command and calls out with each non-empty line the process writes to stdout or
// stderr, trimmed of surrounding white space. Carriage returns end a line, so progress bar updates
// arrive as separate lines. out is called from a single goroutine.
//
// Run returns when the process has exited and all output has been passed on. Cancelling ctx kills
// the process. A non-zero exit status is returned as an error along with the Result.
func Run(ctx context.Context, c Command, out func(line string)) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = waitDelay

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, errors.Wrapf(err, "failed to start %q", c.Path)
	}

	done := make(chan error, 1)
	go func() {
		done <- streamLines(pr, out)
	}()

	waitErr := cmd.Wait()
	_ = pw.Close()
	streamErr := <-done

	res := Result{ExitCode: cmd.ProcessState.ExitCode()}
	if ctx.Err() != nil {
		res.Cancelled = true
		return res, errors.Wrap(ctx.Err(), "process stopped")
	}
	if waitErr != nil {
		if _, ok := waitErr.(*exec.ExitError); ok {
			return res, errors.Errorf("%s exited with status %d", c.Path, res.ExitCode)
		}
		return res, errors.Wrapf(waitErr, "failed to run %q", c.Path)
	}
	if streamErr != nil {
		return res, errors.Wrap(streamErr, "failed to read the process output")
	}
	return res, nil
}

// streamLines reads r until EOF and passes each non-empty trimmed line to out.
func streamLines(r io.Reader, out func(line string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	scanner.Split(scanLinesOrCR)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || out == nil {
			continue
		}
		out(line)
	}
	err := scanner.Err()
	// Drain the pipe so the process never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
	return err
}

// scanLinesOrCR is bufio.ScanLines with a lone carriage return also ending a line.
func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			return i + 2, data[:i], nil
		}
		if data[i] == '\r' && i+1 == len(data) && !atEOF {
			// Might be the first half of CRLF.
			return 0, nil, nil
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
