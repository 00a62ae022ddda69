package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dmagent/internal/desired"
	"dmagent/internal/wire"
)

// Method names accepted by Invoke.
const (
	MethodImmediateReboot = "immediateReboot"
	MethodReportAll       = "reportAll"
	MethodFactoryReset    = "factoryReset"
	MethodCheckUpdates    = "checkUpdates"
)

// ErrUnknownMethod is returned by Invoke for unrecognized method names.
var ErrUnknownMethod = errors.New("unknown method")

// Invoke runs a named direct method and returns its JSON-friendly result.
func (a *Agent) Invoke(ctx context.Context, method string) (any, error) {
	switch method {
	case MethodImmediateReboot:
		return a.ImmediateReboot(ctx)
	case MethodReportAll:
		return a.ReportAll(ctx)
	case MethodFactoryReset:
		return nil, a.FactoryReset(ctx)
	case MethodCheckUpdates:
		updates, err := a.CheckUpdates(ctx)
		return wire.UpdateList{Updates: updates}, err
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
}

// Reported returns a copy of the reported document as of the moment the
// snapshot task ran, after every earlier task.
func (a *Agent) Reported(ctx context.Context) (desired.Reported, error) {
	result, err := a.call(ctx, "reportSnapshot", func(context.Context) (any, error) {
		return a.reported.Clone(), nil
	})
	if err != nil {
		return desired.Reported{}, err
	}
	return result.(desired.Reported), nil
}

// ImmediateReboot asks the worker to reboot now and records the attempt in
// the reported document.
func (a *Agent) ImmediateReboot(ctx context.Context) (wire.RebootResult, error) {
	result, err := a.call(ctx, MethodImmediateReboot, func(taskCtx context.Context) (any, error) {
		var res wire.RebootResult
		err := a.channel.Call(taskCtx, wire.TagImmediateReboot, nil, &res)
		now := time.Now().UTC()
		a.reported.Agent.LastRebootCmdTime = &now
		if err != nil {
			a.reported.Agent.LastRebootCmdStatus = "failed: " + err.Error()
			return nil, err
		}
		a.reported.Agent.LastRebootCmdStatus = "succeeded"
		return res, nil
	})
	if err != nil {
		return wire.RebootResult{}, err
	}
	return result.(wire.RebootResult), nil
}

// FactoryReset asks the worker to reset the device.
func (a *Agent) FactoryReset(ctx context.Context) error {
	_, err := a.call(ctx, MethodFactoryReset, func(taskCtx context.Context) (any, error) {
		return nil, a.channel.Call(taskCtx, wire.TagFactoryReset, nil, nil)
	})
	return err
}

// CheckUpdates lists updates the device reports as available.
func (a *Agent) CheckUpdates(ctx context.Context) ([]string, error) {
	result, err := a.call(ctx, MethodCheckUpdates, func(taskCtx context.Context) (any, error) {
		var list wire.UpdateList
		if err := a.channel.Call(taskCtx, wire.TagCheckUpdates, nil, &list); err != nil {
			return nil, err
		}
		return list.Updates, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// ReportAll refreshes every reported section from the device, then returns
// the document. Sections that fail keep their previous value and carry the
// error in agent.sectionErrors.
func (a *Agent) ReportAll(ctx context.Context) (desired.Reported, error) {
	result, err := a.call(ctx, MethodReportAll, func(taskCtx context.Context) (any, error) {
		errs := a.refreshAll(taskCtx)
		return a.reported.Clone(), errors.Join(errs...)
	})
	if result == nil {
		return desired.Reported{}, err
	}
	return result.(desired.Reported), err
}

func (a *Agent) refreshAll(ctx context.Context) []error {
	var errs []error
	note := func(section string, err error) {
		a.reported.SetSectionError(section, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}

	var reboot wire.RebootInfo
	err := a.channel.Call(ctx, wire.TagGetRebootInfo, nil, &reboot)
	if err == nil {
		a.reported.RebootInfo = &reboot
	}
	note(desired.SectionRebootInfo, err)

	var clock wire.TimeInfo
	err = a.channel.Call(ctx, wire.TagGetTimeInfo, nil, &clock)
	if err == nil {
		a.reported.TimeInfo = &clock
	}
	note(desired.SectionTimeInfo, err)

	if a.reported.Certificates != nil && len(a.reported.Certificates.Stores) > 0 {
		var certs wire.CertificateConfiguration
		err = a.channel.Call(ctx, wire.TagGetCertificateConfiguration, *a.reported.Certificates, &certs)
		if err == nil {
			a.reported.Certificates = &certs
		}
		note(desired.SectionCertificates, err)
	}

	var apps wire.AppList
	err = a.channel.Call(ctx, wire.TagListApps, nil, &apps)
	if err == nil {
		a.reported.SetApps(apps.Apps)
	}
	note(desired.SectionApps, err)

	var device wire.DeviceStatus
	if err := a.channel.Call(ctx, wire.TagGetDeviceStatus, nil, &device); err == nil {
		a.reported.Device = &device
	} else {
		errs = append(errs, fmt.Errorf("deviceStatus: %w", err))
	}

	note(desired.SectionUpdates, a.engine.RefreshInstalled(ctx))
	a.reported.SetUpdates(a.engine.Reported())
	return errs
}
