package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"dmagent/internal/fileutil"
	"dmagent/internal/platform"
	"dmagent/internal/wire"
)

// Options tunes the worker handler set.
type Options struct {
	// TransferRoot confines TransferFile destinations when set.
	TransferRoot string
	// DefaultTokenValidity applies when a SAS token request omits validity.
	DefaultTokenValidity time.Duration
}

// NewWorker builds a dispatcher with every command the privileged worker
// serves, bound to the given platform capabilities.
func NewWorker(p platform.Provider, logger *slog.Logger, opts Options) *Dispatcher {
	if opts.DefaultTokenValidity <= 0 {
		opts.DefaultTokenValidity = time.Hour
	}
	h := &handlers{p: p, opts: opts}
	d := New(logger)
	v := wire.CurrentVersion

	d.Register(wire.TagFactoryReset, v, Typed(h.factoryReset))
	d.Register(wire.TagCheckUpdates, v, Typed(h.checkUpdates))
	d.Register(wire.TagListApps, v, Typed(h.listApps))
	d.Register(wire.TagInstallApp, v, Typed(h.installApp))
	d.Register(wire.TagUninstallApp, v, Typed(h.uninstallApp))
	d.Register(wire.TagGetStartupForegroundApp, v, Typed(h.startupForeground))
	d.Register(wire.TagListStartupBackgroundApps, v, Typed(h.startupBackground))
	d.Register(wire.TagAddStartupApp, v, Typed(h.addStartupApp))
	d.Register(wire.TagRemoveStartupApp, v, Typed(h.removeStartupApp))
	d.Register(wire.TagStartApp, v, Typed(h.startApp))
	d.Register(wire.TagStopApp, v, Typed(h.stopApp))
	d.Register(wire.TagTransferFile, v, Typed(h.transferFile))
	d.Register(wire.TagImmediateReboot, v, Typed(h.immediateReboot))
	d.Register(wire.TagGetRebootInfo, v, Typed(h.getRebootInfo))
	d.Register(wire.TagSetRebootInfo, v, Typed(h.setRebootInfo))
	d.Register(wire.TagGetTimeInfo, v, Typed(h.getTimeInfo))
	d.Register(wire.TagSetTimeInfo, v, Typed(h.setTimeInfo))
	d.Register(wire.TagGetCertificateConfiguration, v, Typed(h.getCertificates))
	d.Register(wire.TagSetCertificateConfiguration, v, Typed(h.setCertificates))
	d.Register(wire.TagGetCertificateDetails, v, Typed(h.certificateDetails))
	d.Register(wire.TagGetDeviceStatus, v, Typed(h.deviceStatus))
	d.Register(wire.TagTpmGetServiceURL, v, Typed(h.serviceURL))
	d.Register(wire.TagTpmGetSASToken, v, Typed(h.sasToken))
	d.Register(wire.TagListInstalledUpdates, v, Typed(h.listInstalledUpdates))
	d.Register(wire.TagInstallUpdate, v, Typed(h.installUpdate))
	return d
}

type handlers struct {
	p    platform.Provider
	opts Options
}

func unsupported(capability string) error {
	return fmt.Errorf("%s: %w", capability, platform.ErrUnsupported)
}

func requireName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: packageFamilyName is required", ErrInvalidRequest)
	}
	return nil
}

func (h *handlers) factoryReset(ctx context.Context, _ wire.Empty) (wire.Empty, error) {
	if h.p.Power == nil {
		return wire.Empty{}, unsupported("power")
	}
	return wire.Empty{}, h.p.Power.FactoryReset(ctx)
}

func (h *handlers) immediateReboot(ctx context.Context, _ wire.Empty) (wire.RebootResult, error) {
	if h.p.Power == nil {
		return wire.RebootResult{}, unsupported("power")
	}
	issued := time.Now().UTC()
	if err := h.p.Power.RebootNow(ctx); err != nil {
		return wire.RebootResult{}, err
	}
	return wire.RebootResult{IssuedAt: issued}, nil
}

func (h *handlers) getRebootInfo(ctx context.Context, _ wire.Empty) (wire.RebootInfo, error) {
	if h.p.Power == nil {
		return wire.RebootInfo{}, unsupported("power")
	}
	return h.p.Power.RebootSchedule(ctx)
}

func (h *handlers) setRebootInfo(ctx context.Context, req wire.RebootInfo) (wire.RebootInfo, error) {
	if h.p.Power == nil {
		return wire.RebootInfo{}, unsupported("power")
	}
	if req.SingleRebootTime != "" {
		if _, err := time.Parse(time.RFC3339, req.SingleRebootTime); err != nil {
			return wire.RebootInfo{}, fmt.Errorf("%w: singleRebootTime: %v", ErrInvalidRequest, err)
		}
	}
	if req.DailyRebootTime != "" {
		if _, err := time.Parse("15:04", req.DailyRebootTime); err != nil {
			if _, err2 := time.Parse(time.RFC3339, req.DailyRebootTime); err2 != nil {
				return wire.RebootInfo{}, fmt.Errorf("%w: dailyRebootTime: want HH:MM or RFC 3339", ErrInvalidRequest)
			}
		}
	}
	if err := h.p.Power.SetRebootSchedule(ctx, req); err != nil {
		return wire.RebootInfo{}, err
	}
	return h.p.Power.RebootSchedule(ctx)
}

func (h *handlers) getTimeInfo(ctx context.Context, _ wire.Empty) (wire.TimeInfo, error) {
	if h.p.Clock == nil {
		return wire.TimeInfo{}, unsupported("clock")
	}
	return h.p.Clock.TimeInfo(ctx)
}

func (h *handlers) setTimeInfo(ctx context.Context, req wire.TimeInfo) (wire.TimeInfo, error) {
	if h.p.Clock == nil {
		return wire.TimeInfo{}, unsupported("clock")
	}
	if req.TimeZone != "" {
		if _, err := time.LoadLocation(req.TimeZone); err != nil {
			return wire.TimeInfo{}, fmt.Errorf("%w: timeZone %q: %v", ErrInvalidRequest, req.TimeZone, err)
		}
	}
	if err := h.p.Clock.SetTimeInfo(ctx, req); err != nil {
		return wire.TimeInfo{}, err
	}
	return h.p.Clock.TimeInfo(ctx)
}

func (h *handlers) getCertificates(ctx context.Context, req wire.CertificateConfiguration) (wire.CertificateConfiguration, error) {
	if h.p.Certificates == nil {
		return wire.CertificateConfiguration{}, unsupported("certificates")
	}
	out := wire.CertificateConfiguration{Stores: make(map[string][]string, len(req.Stores))}
	for store := range req.Stores {
		hashes, err := h.p.Certificates.Hashes(ctx, store)
		if err != nil {
			return wire.CertificateConfiguration{}, fmt.Errorf("list %s: %w", store, err)
		}
		slices.Sort(hashes)
		out.Stores[store] = hashes
	}
	return out, nil
}

// setCertificates makes each store hold exactly the requested thumbprints.
// Thumbprints compare case-insensitively; a second delivery changes nothing.
func (h *handlers) setCertificates(ctx context.Context, req wire.CertificateConfiguration) (wire.CertificateConfiguration, error) {
	if h.p.Certificates == nil {
		return wire.CertificateConfiguration{}, unsupported("certificates")
	}
	for store, wanted := range req.Stores {
		current, err := h.p.Certificates.Hashes(ctx, store)
		if err != nil {
			return wire.CertificateConfiguration{}, fmt.Errorf("list %s: %w", store, err)
		}
		want := normalizeHashes(wanted)
		have := normalizeHashes(current)
		for _, hash := range current {
			if !slices.Contains(want, strings.ToUpper(strings.TrimSpace(hash))) {
				if err := h.p.Certificates.Remove(ctx, store, hash); err != nil {
					return wire.CertificateConfiguration{}, fmt.Errorf("remove %s from %s: %w", hash, store, err)
				}
			}
		}
		for _, hash := range want {
			if !slices.Contains(have, hash) {
				if err := h.p.Certificates.Add(ctx, store, hash); err != nil {
					return wire.CertificateConfiguration{}, fmt.Errorf("add %s to %s: %w", hash, store, err)
				}
			}
		}
	}
	return h.getCertificates(ctx, req)
}

func normalizeHashes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, hash := range in {
		hash = strings.ToUpper(strings.TrimSpace(hash))
		if hash != "" && !slices.Contains(out, hash) {
			out = append(out, hash)
		}
	}
	return out
}

func (h *handlers) certificateDetails(ctx context.Context, req wire.CertificateDetailsRequest) (wire.CertificateDetails, error) {
	if h.p.Certificates == nil {
		return wire.CertificateDetails{}, unsupported("certificates")
	}
	if req.Store == "" || req.Hash == "" {
		return wire.CertificateDetails{}, fmt.Errorf("%w: store and hash are required", ErrInvalidRequest)
	}
	return h.p.Certificates.Details(ctx, req.Store, req.Hash)
}

func (h *handlers) listApps(ctx context.Context, _ wire.Empty) (wire.AppList, error) {
	if h.p.Apps == nil {
		return wire.AppList{}, unsupported("apps")
	}
	apps, err := h.p.Apps.List(ctx)
	if err != nil {
		return wire.AppList{}, err
	}
	return wire.AppList{Apps: apps}, nil
}

func (h *handlers) findApp(ctx context.Context, name string) (wire.AppInfo, bool, error) {
	apps, err := h.p.Apps.List(ctx)
	if err != nil {
		return wire.AppInfo{}, false, err
	}
	for _, app := range apps {
		if strings.EqualFold(app.PackageFamilyName, name) {
			return app, true, nil
		}
	}
	return wire.AppInfo{}, false, nil
}

// installApp skips the install when the same version is already present, then
// applies the startup registration, which is itself re-appliable.
func (h *handlers) installApp(ctx context.Context, req wire.AppRequest) (wire.AppInfo, error) {
	if h.p.Apps == nil {
		return wire.AppInfo{}, unsupported("apps")
	}
	if err := requireName(req.PackageFamilyName); err != nil {
		return wire.AppInfo{}, err
	}
	existing, found, err := h.findApp(ctx, req.PackageFamilyName)
	if err != nil {
		return wire.AppInfo{}, err
	}
	if !found || (req.Version != "" && existing.Version != req.Version) {
		if req.Source == "" {
			return wire.AppInfo{}, fmt.Errorf("%w: appxSource is required to install %s", ErrInvalidRequest, req.PackageFamilyName)
		}
		if err := h.p.Apps.Install(ctx, req); err != nil {
			return wire.AppInfo{}, err
		}
	}
	switch req.StartUp {
	case wire.StartupForeground, wire.StartupBackground:
		if err := h.p.Apps.AddStartup(ctx, req.PackageFamilyName, req.StartUp); err != nil {
			return wire.AppInfo{}, fmt.Errorf("register startup: %w", err)
		}
	case wire.StartupNone:
		if err := h.p.Apps.RemoveStartup(ctx, req.PackageFamilyName); err != nil {
			return wire.AppInfo{}, fmt.Errorf("remove startup: %w", err)
		}
	}
	installed, _, err := h.findApp(ctx, req.PackageFamilyName)
	if err != nil {
		return wire.AppInfo{}, err
	}
	installed.StartUp = req.StartUp
	return installed, nil
}

func (h *handlers) uninstallApp(ctx context.Context, req wire.AppName) (wire.Empty, error) {
	if h.p.Apps == nil {
		return wire.Empty{}, unsupported("apps")
	}
	if err := requireName(req.PackageFamilyName); err != nil {
		return wire.Empty{}, err
	}
	_, found, err := h.findApp(ctx, req.PackageFamilyName)
	if err != nil || !found {
		return wire.Empty{}, err
	}
	return wire.Empty{}, h.p.Apps.Uninstall(ctx, req.PackageFamilyName)
}

func (h *handlers) startupForeground(ctx context.Context, _ wire.Empty) (wire.AppName, error) {
	if h.p.Apps == nil {
		return wire.AppName{}, unsupported("apps")
	}
	name, err := h.p.Apps.StartupForeground(ctx)
	return wire.AppName{PackageFamilyName: name}, err
}

func (h *handlers) startupBackground(ctx context.Context, _ wire.Empty) (wire.StartupBackgroundApps, error) {
	if h.p.Apps == nil {
		return wire.StartupBackgroundApps{}, unsupported("apps")
	}
	apps, err := h.p.Apps.StartupBackground(ctx)
	return wire.StartupBackgroundApps{Apps: apps}, err
}

func (h *handlers) addStartupApp(ctx context.Context, req wire.AppRequest) (wire.Empty, error) {
	if h.p.Apps == nil {
		return wire.Empty{}, unsupported("apps")
	}
	if err := requireName(req.PackageFamilyName); err != nil {
		return wire.Empty{}, err
	}
	mode := req.StartUp
	switch mode {
	case "":
		mode = wire.StartupBackground
	case wire.StartupForeground, wire.StartupBackground:
	default:
		return wire.Empty{}, fmt.Errorf("%w: startUp %q", ErrInvalidRequest, req.StartUp)
	}
	return wire.Empty{}, h.p.Apps.AddStartup(ctx, req.PackageFamilyName, mode)
}

func (h *handlers) removeStartupApp(ctx context.Context, req wire.AppName) (wire.Empty, error) {
	if h.p.Apps == nil {
		return wire.Empty{}, unsupported("apps")
	}
	if err := requireName(req.PackageFamilyName); err != nil {
		return wire.Empty{}, err
	}
	return wire.Empty{}, h.p.Apps.RemoveStartup(ctx, req.PackageFamilyName)
}

func (h *handlers) startApp(ctx context.Context, req wire.AppName) (wire.Empty, error) {
	if h.p.Apps == nil {
		return wire.Empty{}, unsupported("apps")
	}
	if err := requireName(req.PackageFamilyName); err != nil {
		return wire.Empty{}, err
	}
	return wire.Empty{}, h.p.Apps.Start(ctx, req.PackageFamilyName)
}

func (h *handlers) stopApp(ctx context.Context, req wire.AppName) (wire.Empty, error) {
	if h.p.Apps == nil {
		return wire.Empty{}, unsupported("apps")
	}
	if err := requireName(req.PackageFamilyName); err != nil {
		return wire.Empty{}, err
	}
	return wire.Empty{}, h.p.Apps.Stop(ctx, req.PackageFamilyName)
}

// transferFile copies into place atomically, so a repeated delivery rewrites
// identical content.
func (h *handlers) transferFile(_ context.Context, req wire.TransferFileRequest) (wire.TransferFileRequest, error) {
	if req.Source == "" || req.Destination == "" {
		return wire.TransferFileRequest{}, fmt.Errorf("%w: source and destination are required", ErrInvalidRequest)
	}
	if !filepath.IsAbs(req.Source) || !filepath.IsAbs(req.Destination) {
		return wire.TransferFileRequest{}, fmt.Errorf("%w: paths must be absolute", ErrInvalidRequest)
	}
	dest := filepath.Clean(req.Destination)
	if root := h.opts.TransferRoot; root != "" {
		rel, err := filepath.Rel(filepath.Clean(root), dest)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return wire.TransferFileRequest{}, fmt.Errorf("%w: destination %s outside %s", ErrInvalidRequest, dest, root)
		}
	}
	sum, err := fileutil.CopyFileVerified(filepath.Clean(req.Source), dest, req.SHA256)
	if err != nil {
		return wire.TransferFileRequest{}, err
	}
	return wire.TransferFileRequest{Source: req.Source, Destination: dest, SHA256: sum}, nil
}

func (h *handlers) deviceStatus(ctx context.Context, _ wire.Empty) (wire.DeviceStatus, error) {
	if h.p.System == nil {
		return wire.DeviceStatus{}, unsupported("system")
	}
	return h.p.System.Status(ctx)
}

func (h *handlers) serviceURL(ctx context.Context, _ wire.Empty) (wire.ServiceURL, error) {
	if h.p.Identity == nil {
		return wire.ServiceURL{}, unsupported("identity")
	}
	url, err := h.p.Identity.ServiceURL(ctx)
	return wire.ServiceURL{URL: url}, err
}

func (h *handlers) sasToken(ctx context.Context, req wire.SASTokenRequest) (wire.SASToken, error) {
	if h.p.Identity == nil {
		return wire.SASToken{}, unsupported("identity")
	}
	if req.ValiditySeconds < 0 {
		return wire.SASToken{}, fmt.Errorf("%w: validitySeconds must be positive", ErrInvalidRequest)
	}
	validity := time.Duration(req.ValiditySeconds) * time.Second
	if validity == 0 {
		validity = h.opts.DefaultTokenValidity
	}
	return h.p.Identity.SASToken(ctx, validity)
}

func (h *handlers) checkUpdates(ctx context.Context, _ wire.Empty) (wire.UpdateList, error) {
	if h.p.Packages == nil {
		return wire.UpdateList{}, unsupported("packages")
	}
	updates, err := h.p.Packages.CheckUpdates(ctx)
	return wire.UpdateList{Updates: updates}, err
}

func (h *handlers) listInstalledUpdates(ctx context.Context, _ wire.Empty) (wire.UpdateList, error) {
	if h.p.Packages == nil {
		return wire.UpdateList{}, unsupported("packages")
	}
	updates, err := h.p.Packages.Installed(ctx)
	return wire.UpdateList{Updates: updates}, err
}

func (h *handlers) installUpdate(ctx context.Context, req wire.InstallUpdateRequest) (wire.Empty, error) {
	if h.p.Packages == nil {
		return wire.Empty{}, unsupported("packages")
	}
	if req.ID == "" || req.Manifest == "" {
		return wire.Empty{}, fmt.Errorf("%w: id and manifest are required", ErrInvalidRequest)
	}
	installed, err := h.p.Packages.Installed(ctx)
	if err != nil {
		return wire.Empty{}, err
	}
	if slices.Contains(installed, req.ID) {
		return wire.Empty{}, nil
	}
	return wire.Empty{}, h.p.Packages.Install(ctx, req)
}
