package preflight_test

import (
	"context"

	"dmagent/internal/agent"
	"dmagent/internal/desired"
	"dmagent/internal/taskqueue"
)

type stoppedAgent struct{}

func (stoppedAgent) Status() agent.Status { return agent.Status{SessionID: "s", Running: false} }

func (stoppedAgent) SubmitDesired(context.Context, desired.Document) (agent.Submission, error) {
	return agent.Submission{}, taskqueue.ErrQueueClosed
}

func (stoppedAgent) Reported(context.Context) (desired.Reported, error) {
	return desired.Reported{}, taskqueue.ErrQueueClosed
}

func (stoppedAgent) Invoke(context.Context, string) (any, error) {
	return nil, taskqueue.ErrQueueClosed
}
