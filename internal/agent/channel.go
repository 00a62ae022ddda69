package agent

import (
	"context"

	"dmagent/internal/wire"
)

// Channel performs one request/response exchange with the worker.
// *ipc.Client satisfies it.
type Channel interface {
	Call(ctx context.Context, tag wire.Tag, req any, out any) error
}

// channelInstaller exposes the worker's update commands to the engine.
type channelInstaller struct {
	ch Channel
}

func (i channelInstaller) Installed(ctx context.Context) ([]string, error) {
	var list wire.UpdateList
	if err := i.ch.Call(ctx, wire.TagListInstalledUpdates, nil, &list); err != nil {
		return nil, err
	}
	return list.Updates, nil
}

func (i channelInstaller) Install(ctx context.Context, req wire.InstallUpdateRequest) error {
	return i.ch.Call(ctx, wire.TagInstallUpdate, req, nil)
}
