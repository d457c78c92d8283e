package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cutline/internal/shared"
)

// stderrTail is the number of trailing stderr lines kept for error messages.
const stderrTail = 20

// toolRun describes one child process invocation.
type toolRun struct {
	name   string
	args   []string
	env    []string
	stdout func(line string) // optional, called per stdout line
	stderr func(line string) // optional, called per stderr line
}

// runTool executes the tool and blocks until it exits or ctx is cancelled.
//
// A cancelled context yields an error wrapping [shared.ErrCancelled]; a missing binary wraps
// [shared.ErrToolNotFound]; a non-zero exit wraps [shared.ErrToolFailed] with the stderr tail.
func runTool(ctx context.Context, logger *log.Logger, run toolRun) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s not started: %v", shared.ErrCancelled, run.name, err)
	}

	path, err := exec.LookPath(run.name)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", shared.ErrToolNotFound, run.name, err)
	}

	cmd := exec.CommandContext(ctx, path, run.args...)
	cmd.Env = append(cmd.Environ(), run.env...)
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout of %s: %w", run.name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr of %s: %w", run.name, err)
	}

	logger.Debug("starting tool", "tool", run.name, "args", strings.Join(run.args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: failed to start %s: %v", shared.ErrToolFailed, run.name, err)
	}

	tail := make(chan []string, 1)
	go func() {
		tail <- consume(stderr, stderrTail, run.stderr)
	}()
	consume(stdout, 0, run.stdout)
	lines := <-tail

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s: %v", shared.ErrCancelled, run.name, ctx.Err())
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return fmt.Errorf("%w: %s exited with code %d: %s", shared.ErrToolFailed, run.name, exitErr.ExitCode(), strings.Join(lines, "\n"))
		}
		return fmt.Errorf("%w: %s: %v", shared.ErrToolFailed, run.name, waitErr)
	}

	logger.Debug("tool finished", "tool", run.name)
	return nil
}

// consume reads r line by line, forwarding each line to fn and returning the last keep lines.
func consume(r io.Reader, keep int, fn func(string)) []string {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sc.Split(scanLines)

	var last []string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if fn != nil {
			fn(line)
		}
		if keep > 0 {
			last = append(last, line)
			if len(last) > keep {
				last = last[1:]
			}
		}
	}
	io.Copy(io.Discard, r)
	return last
}
