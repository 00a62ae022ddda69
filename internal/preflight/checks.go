package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"dmagent/internal/agentapi"
	"dmagent/internal/desired"
	"dmagent/internal/ipc"
	"dmagent/internal/wire"
)

const probeTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDesiredFile parses the desired-state file when it exists.
func CheckDesiredFile(path string) Result {
	const name = "Desired document"
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Passed: true, Optional: true, Detail: fmt.Sprintf("%s (not present)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	doc, err := desired.Parse(data)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	detail := fmt.Sprintf("%s (%d sections)", path, len(doc.Sections()))
	if len(doc.Unknown) > 0 {
		detail = fmt.Sprintf("%s (%d sections, %d ignored)", path, len(doc.Sections()), len(doc.Unknown))
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckWorker performs one GetDeviceStatus exchange. A Failure response still
// proves the channel works.
func CheckWorker(ctx context.Context, channel *ipc.Client) Result {
	const name = "Worker"
	checkCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	resp, err := channel.Send(checkCtx, wire.Frame{Tag: wire.TagGetDeviceStatus, Version: wire.CurrentVersion})
	if err != nil {
		return Result{Name: name, Detail: summarizeProbeError(channel.Endpoint().String(), err)}
	}
	if !resp.OK() {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable (device status: %s)", channel.Endpoint(), resp.Message)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", channel.Endpoint())}
}

// CheckAgentAPI queries the agent's status endpoint.
func CheckAgentAPI(ctx context.Context, api *agentapi.Client) Result {
	const name = "Agent API"
	checkCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	status, err := api.Status(checkCtx)
	if err != nil {
		var apiErr *agentapi.APIError
		if errors.As(err, &apiErr) {
			return Result{Name: name, Detail: apiErr.Error()}
		}
		return Result{Name: name, Detail: summarizeProbeError("agent", err)}
	}
	if !status.Agent.Accepting {
		return Result{Name: name, Detail: "reachable but not accepting work"}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("session %s, %d queued", status.Agent.SessionID, status.Agent.QueueLength)}
}

func summarizeProbeError(target string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s timed out", target)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("%s timed out", target)
	}
	if errors.Is(err, unix.ENOENT) {
		return fmt.Sprintf("%s not running (socket missing)", target)
	}
	if errors.Is(err, unix.ECONNREFUSED) {
		return fmt.Sprintf("%s refused the connection", target)
	}
	return err.Error()
}
