package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dmagent/internal/desired"
	"dmagent/internal/logging"
	"dmagent/internal/taskqueue"
	"dmagent/internal/wire"
)

// SubmitDesired queues one task per present section followed by a report
// task that stamps lastSync once every section has run. If the gate closes
// part way through, tasks already queued still run and the error wraps
// taskqueue.ErrQueueClosed.
func (a *Agent) SubmitDesired(ctx context.Context, doc desired.Document) (Submission, error) {
	sub := Submission{CorrelationID: uuid.NewString()}
	logger := logging.WithContext(logging.WithCorrelationID(ctx, sub.CorrelationID), a.logger)
	if len(doc.Unknown) > 0 {
		logger.Info("ignoring unhandled desired sections", logging.Any("sections", doc.Unknown))
	}

	for _, section := range doc.Sections() {
		fn := a.sectionTask(section, doc)
		task, err := a.submit(ctx, section, sub.CorrelationID, fn)
		if err != nil {
			return sub, err
		}
		sub.add(section, task)
	}
	task, err := a.submit(ctx, "syncComplete", sub.CorrelationID, a.syncComplete)
	if err != nil {
		return sub, err
	}
	sub.add("", task)
	logger.Info("desired document queued",
		logging.String(logging.FieldEventType, "desired_submitted"),
		logging.Any("sections", sub.Sections))
	return sub, nil
}

func (a *Agent) sectionTask(section string, doc desired.Document) taskqueue.Func {
	var fn func(ctx context.Context) error
	switch section {
	case desired.SectionRebootInfo:
		info := *doc.RebootInfo
		fn = func(ctx context.Context) error { return a.applyRebootInfo(ctx, info) }
	case desired.SectionTimeInfo:
		info := *doc.TimeInfo
		fn = func(ctx context.Context) error { return a.applyTimeInfo(ctx, info) }
	case desired.SectionCertificates:
		certs := *doc.Certificates
		fn = func(ctx context.Context) error { return a.applyCertificates(ctx, certs) }
	case desired.SectionApps:
		apps := doc.Apps
		fn = func(ctx context.Context) error { return a.applyApps(ctx, apps) }
	case desired.SectionUpdates:
		want := *doc.Updates
		fn = func(ctx context.Context) error {
			if problems := want.ProblemsError(); problems != nil {
				logging.WarnWithContext(a.logger, "malformed update entries skipped", "desired_updates_skipped",
					logging.Error(problems),
					logging.Int("skipped", len(want.Problems)),
					logging.String(logging.FieldImpact, "remaining update operations still apply"),
					logging.String(logging.FieldErrorHint, "fix the entries in the desired document"))
			}
			err := errors.Join(a.engine.Apply(ctx, want), want.ProblemsError())
			a.reported.SetUpdates(a.engine.Reported())
			return err
		}
	default:
		fn = func(context.Context) error { return fmt.Errorf("unhandled section %q", section) }
	}
	return func(ctx context.Context) (any, error) {
		err := fn(ctx)
		a.reported.SetSectionError(section, err)
		return nil, err
	}
}

func (a *Agent) applyRebootInfo(ctx context.Context, info wire.RebootInfo) error {
	var got wire.RebootInfo
	if err := a.channel.Call(ctx, wire.TagSetRebootInfo, info, &got); err != nil {
		return err
	}
	a.reported.RebootInfo = &got
	return nil
}

func (a *Agent) applyTimeInfo(ctx context.Context, info wire.TimeInfo) error {
	var got wire.TimeInfo
	if err := a.channel.Call(ctx, wire.TagSetTimeInfo, info, &got); err != nil {
		return err
	}
	a.reported.TimeInfo = &got
	return nil
}

func (a *Agent) applyCertificates(ctx context.Context, certs wire.CertificateConfiguration) error {
	var got wire.CertificateConfiguration
	if err := a.channel.Call(ctx, wire.TagSetCertificateConfiguration, certs, &got); err != nil {
		return err
	}
	a.reported.Certificates = &got
	return nil
}

// applyApps installs or removes each app independently; one failure does not
// stop the rest. The reported apps section is refreshed from the device.
func (a *Agent) applyApps(ctx context.Context, apps []desired.App) error {
	var errs []error
	for _, app := range apps {
		var err error
		if app.Spec.State == desired.AppAbsent {
			err = a.channel.Call(ctx, wire.TagUninstallApp, wire.AppName{PackageFamilyName: app.Name}, nil)
		} else {
			err = a.channel.Call(ctx, wire.TagInstallApp, app.Request(), nil)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", app.Name, err))
		}
	}
	var list wire.AppList
	if err := a.channel.Call(ctx, wire.TagListApps, nil, &list); err != nil {
		errs = append(errs, fmt.Errorf("list apps: %w", err))
	} else {
		a.reported.SetApps(list.Apps)
	}
	return errors.Join(errs...)
}

func (a *Agent) syncComplete(context.Context) (any, error) {
	now := time.Now().UTC()
	a.reported.Agent.LastSync = &now
	a.reported.SetUpdates(a.engine.Reported())
	return nil, nil
}

// loadLocalState reports whatever the registry scan found even when the
// installer query failed; the engine repeats that query on the next sync.
func (a *Agent) loadLocalState(ctx context.Context) (any, error) {
	err := a.engine.LoadLocalState(ctx)
	a.reported.SetUpdates(a.engine.Reported())
	a.reported.SetSectionError(desired.SectionUpdates, err)
	return nil, err
}
