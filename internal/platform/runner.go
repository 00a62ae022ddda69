package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-cmd/cmd"
)

// Output is the captured result of one command.
type Output struct {
	Stdout []string
	Stderr []string
	Exit   int
}

// Runner executes a command and returns its buffered output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Output, error)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct {
	Timeout time.Duration
}

// Run starts name with args and waits for it, honouring ctx and the runner timeout.
// A non-zero exit is an error carrying the trimmed stderr.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (Output, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	c := cmd.NewCmdOptions(cmd.Options{Buffered: true}, name, args...)
	statusChan := c.Start()

	var status cmd.Status
	select {
	case status = <-statusChan:
	case <-ctx.Done():
		_ = c.Stop()
		<-c.Done()
		status = c.Status()
		return Output{Stdout: status.Stdout, Stderr: status.Stderr, Exit: status.Exit},
			fmt.Errorf("%s: %w", name, ctx.Err())
	}

	out := Output{Stdout: status.Stdout, Stderr: status.Stderr, Exit: status.Exit}
	if status.Error != nil {
		return out, fmt.Errorf("%s: %w", name, status.Error)
	}
	if status.Exit != 0 {
		msg := strings.TrimSpace(strings.Join(status.Stderr, "\n"))
		if msg == "" {
			msg = "no stderr output"
		}
		return out, fmt.Errorf("%s exited %d: %s", name, status.Exit, msg)
	}
	return out, nil
}
