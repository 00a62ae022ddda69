package preflight

import (
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// CommandStatus reports whether one platform command's binary resolves.
type CommandStatus struct {
	Operation string
	Command   string
	Available bool
	Detail    string
}

// Result converts the status into a preflight result.
func (s CommandStatus) Result() Result {
	name := "Command " + s.Operation
	if s.Available {
		return Result{Name: name, Passed: true, Detail: s.Command}
	}
	return Result{Name: name, Detail: s.Detail}
}

// CheckCommands resolves the binary of every configured command template, in
// operation order.
func CheckCommands(templates map[string]string) []CommandStatus {
	ops := make([]string, 0, len(templates))
	for op := range templates {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	results := make([]CommandStatus, 0, len(ops))
	for _, op := range ops {
		status := CommandStatus{Operation: op}
		fields := strings.Fields(templates[op])
		if len(fields) == 0 {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		status.Command = fields[0]
		if _, err := exec.LookPath(status.Command); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", status.Command)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}
