package agent

import (
	"context"
	"errors"
	"time"

	"dmagent/internal/logging"
	"dmagent/internal/taskqueue"
	"dmagent/internal/wire"
)

// renewalLoop queues a credential renewal right away and then once per
// interval until ctx ends or the queue stops accepting work. It shares
// nothing with the worker except Enqueue.
func (a *Agent) renewalLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	validity := 2 * interval

	for {
		_, err := a.submit(ctx, "renewCredentials", "", func(taskCtx context.Context) (any, error) {
			return a.renewCredentials(taskCtx, validity)
		})
		if errors.Is(err, taskqueue.ErrQueueClosed) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *Agent) renewCredentials(ctx context.Context, validity time.Duration) (any, error) {
	var token wire.SASToken
	req := wire.SASTokenRequest{ValiditySeconds: int64(validity / time.Second)}
	if err := a.channel.Call(ctx, wire.TagTpmGetSASToken, req, &token); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	a.reported.Agent.LastRenewal = &now
	a.logger.Debug("credentials renewed", logging.String("expires_at", token.ExpiresAt.Format(time.RFC3339)))
	return token.ExpiresAt, nil
}
