package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"dmagent/internal/wire"
)

// Operation keys for command templates (config [platform.commands]).
const (
	OpRebootNow          = "reboot_now"
	OpFactoryReset       = "factory_reset"
	OpRebootSchedule     = "reboot_schedule"
	OpSetRebootSchedule  = "set_reboot_schedule"
	OpTimeInfo           = "time_info"
	OpSetTimeInfo        = "set_time_info"
	OpCertList           = "cert_list"
	OpCertAdd            = "cert_add"
	OpCertRemove         = "cert_remove"
	OpCertDetails        = "cert_details"
	OpAppsList           = "apps_list"
	OpAppInstall         = "app_install"
	OpAppUninstall       = "app_uninstall"
	OpStartupForeground  = "startup_foreground"
	OpStartupBackground  = "startup_background"
	OpStartupAdd         = "startup_add"
	OpStartupRemove      = "startup_remove"
	OpAppStart           = "app_start"
	OpAppStop            = "app_stop"
	OpUpdatesCheck       = "updates_check"
	OpUpdatesInstalled   = "updates_installed"
	OpUpdateInstall      = "update_install"
	OpIdentityServiceURL = "identity_service_url"
	OpIdentitySASToken   = "identity_sas_token"
	OpDeviceStatus       = "device_status"
)

// commandSet resolves operation keys to command lines and runs them.
type commandSet struct {
	templates map[string]string
	runner    Runner
}

// NewCommandProvider builds a Provider whose every capability shells out to
// the configured templates. Operations without a template fail with ErrUnsupported.
func NewCommandProvider(templates map[string]string, runner Runner) Provider {
	if runner == nil {
		runner = ExecRunner{}
	}
	set := &commandSet{templates: templates, runner: runner}
	return Provider{
		Power:        commandPower{set},
		Clock:        commandClock{set},
		Certificates: commandCertificates{set},
		Apps:         commandApps{set},
		Packages:     commandPackages{set},
		Identity:     commandIdentity{set},
		System:       commandSystem{set},
	}
}

// Expand splits template into argv and substitutes {name} placeholders. A
// field that is exactly one placeholder expands to every value for that name,
// so list arguments stay separate argv entries.
func Expand(template string, vars map[string][]string) (string, []string, error) {
	fields := strings.Fields(template)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("empty command template")
	}
	argv := make([]string, 0, len(fields))
	for _, field := range fields {
		if strings.HasPrefix(field, "{") && strings.HasSuffix(field, "}") {
			if values, ok := vars[field[1:len(field)-1]]; ok {
				argv = append(argv, values...)
				continue
			}
		}
		for key, values := range vars {
			field = strings.ReplaceAll(field, "{"+key+"}", strings.Join(values, ","))
		}
		argv = append(argv, field)
	}
	if len(argv) == 0 {
		return "", nil, fmt.Errorf("command template %q expanded to nothing", template)
	}
	return argv[0], argv[1:], nil
}

func (s *commandSet) run(ctx context.Context, op string, vars map[string][]string) (Output, error) {
	template, ok := s.templates[op]
	if !ok || strings.TrimSpace(template) == "" {
		return Output{}, fmt.Errorf("%s: %w", op, ErrUnsupported)
	}
	name, args, err := Expand(template, vars)
	if err != nil {
		return Output{}, fmt.Errorf("%s: %w", op, err)
	}
	out, err := s.runner.Run(ctx, name, args...)
	if err != nil {
		return out, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *commandSet) exec(ctx context.Context, op string, vars map[string][]string) error {
	_, err := s.run(ctx, op, vars)
	return err
}

func (s *commandSet) lines(ctx context.Context, op string, vars map[string][]string) ([]string, error) {
	out, err := s.run(ctx, op, vars)
	if err != nil {
		return nil, err
	}
	items := make([]string, 0, len(out.Stdout))
	for _, line := range out.Stdout {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items, nil
}

func (s *commandSet) decode(ctx context.Context, op string, vars map[string][]string, v any) error {
	out, err := s.run(ctx, op, vars)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(strings.Join(out.Stdout, "\n")), v); err != nil {
		return fmt.Errorf("%s: decode output: %w", op, err)
	}
	return nil
}

func vars(pairs ...string) map[string][]string {
	m := make(map[string][]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		m[pairs[i]] = []string{pairs[i+1]}
	}
	return m
}

type commandPower struct{ *commandSet }

func (p commandPower) RebootNow(ctx context.Context) error {
	return p.exec(ctx, OpRebootNow, nil)
}

func (p commandPower) FactoryReset(ctx context.Context) error {
	return p.exec(ctx, OpFactoryReset, nil)
}

func (p commandPower) RebootSchedule(ctx context.Context) (wire.RebootInfo, error) {
	var info wire.RebootInfo
	err := p.decode(ctx, OpRebootSchedule, nil, &info)
	return info, err
}

func (p commandPower) SetRebootSchedule(ctx context.Context, info wire.RebootInfo) error {
	return p.exec(ctx, OpSetRebootSchedule, vars("single", info.SingleRebootTime, "daily", info.DailyRebootTime))
}

type commandClock struct{ *commandSet }

func (c commandClock) TimeInfo(ctx context.Context) (wire.TimeInfo, error) {
	var info wire.TimeInfo
	err := c.decode(ctx, OpTimeInfo, nil, &info)
	return info, err
}

func (c commandClock) SetTimeInfo(ctx context.Context, info wire.TimeInfo) error {
	return c.exec(ctx, OpSetTimeInfo, vars("ntp_server", info.NTPServer, "time_zone", info.TimeZone))
}

type commandCertificates struct{ *commandSet }

func (c commandCertificates) Hashes(ctx context.Context, store string) ([]string, error) {
	return c.lines(ctx, OpCertList, vars("store", store))
}

func (c commandCertificates) Add(ctx context.Context, store, hash string) error {
	return c.exec(ctx, OpCertAdd, vars("store", store, "hash", hash))
}

func (c commandCertificates) Remove(ctx context.Context, store, hash string) error {
	return c.exec(ctx, OpCertRemove, vars("store", store, "hash", hash))
}

func (c commandCertificates) Details(ctx context.Context, store, hash string) (wire.CertificateDetails, error) {
	var details wire.CertificateDetails
	err := c.decode(ctx, OpCertDetails, vars("store", store, "hash", hash), &details)
	return details, err
}

type commandApps struct{ *commandSet }

func (a commandApps) List(ctx context.Context) ([]wire.AppInfo, error) {
	var apps []wire.AppInfo
	err := a.decode(ctx, OpAppsList, nil, &apps)
	return apps, err
}

func (a commandApps) Install(ctx context.Context, req wire.AppRequest) error {
	return a.exec(ctx, OpAppInstall, vars("name", req.PackageFamilyName, "version", req.Version, "source", req.Source))
}

func (a commandApps) Uninstall(ctx context.Context, name string) error {
	return a.exec(ctx, OpAppUninstall, vars("name", name))
}

func (a commandApps) StartupForeground(ctx context.Context) (string, error) {
	items, err := a.lines(ctx, OpStartupForeground, nil)
	if err != nil || len(items) == 0 {
		return "", err
	}
	return items[0], nil
}

func (a commandApps) StartupBackground(ctx context.Context) ([]string, error) {
	return a.lines(ctx, OpStartupBackground, nil)
}

func (a commandApps) AddStartup(ctx context.Context, name, mode string) error {
	return a.exec(ctx, OpStartupAdd, vars("name", name, "mode", mode))
}

func (a commandApps) RemoveStartup(ctx context.Context, name string) error {
	return a.exec(ctx, OpStartupRemove, vars("name", name))
}

func (a commandApps) Start(ctx context.Context, name string) error {
	return a.exec(ctx, OpAppStart, vars("name", name))
}

func (a commandApps) Stop(ctx context.Context, name string) error {
	return a.exec(ctx, OpAppStop, vars("name", name))
}

type commandPackages struct{ *commandSet }

func (p commandPackages) CheckUpdates(ctx context.Context) ([]string, error) {
	return p.lines(ctx, OpUpdatesCheck, nil)
}

func (p commandPackages) Installed(ctx context.Context) ([]string, error) {
	return p.lines(ctx, OpUpdatesInstalled, nil)
}

func (p commandPackages) Install(ctx context.Context, req wire.InstallUpdateRequest) error {
	v := vars("id", req.ID, "version", req.Version, "manifest", req.Manifest)
	v["artifacts"] = req.Artifacts
	return p.exec(ctx, OpUpdateInstall, v)
}

type commandIdentity struct{ *commandSet }

func (i commandIdentity) ServiceURL(ctx context.Context) (string, error) {
	items, err := i.lines(ctx, OpIdentityServiceURL, nil)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", fmt.Errorf("%s: empty output", OpIdentityServiceURL)
	}
	return items[0], nil
}

// SASToken accepts either a JSON wire.SASToken or a bare token line; a bare
// token is assumed valid for the requested duration.
func (i commandIdentity) SASToken(ctx context.Context, validity time.Duration) (wire.SASToken, error) {
	out, err := i.run(ctx, OpIdentitySASToken, vars("validity", strconv.FormatInt(int64(validity.Seconds()), 10)))
	if err != nil {
		return wire.SASToken{}, err
	}
	raw := strings.TrimSpace(strings.Join(out.Stdout, "\n"))
	if raw == "" {
		return wire.SASToken{}, fmt.Errorf("%s: empty output", OpIdentitySASToken)
	}
	var token wire.SASToken
	if strings.HasPrefix(raw, "{") {
		if err := json.Unmarshal([]byte(raw), &token); err != nil {
			return wire.SASToken{}, fmt.Errorf("%s: decode output: %w", OpIdentitySASToken, err)
		}
		return token, nil
	}
	return wire.SASToken{Token: raw, ExpiresAt: time.Now().Add(validity).UTC()}, nil
}

type commandSystem struct{ *commandSet }

// Status always reports host basics; the device_status command, when
// configured, contributes the free-form detail.
func (s commandSystem) Status(ctx context.Context) (wire.DeviceStatus, error) {
	host, err := os.Hostname()
	if err != nil {
		return wire.DeviceStatus{}, fmt.Errorf("hostname: %w", err)
	}
	status := wire.DeviceStatus{Hostname: host, OS: runtime.GOOS, Arch: runtime.GOARCH}
	if _, ok := s.templates[OpDeviceStatus]; ok {
		items, err := s.lines(ctx, OpDeviceStatus, nil)
		if err != nil {
			return wire.DeviceStatus{}, err
		}
		status.Detail = strings.Join(items, "; ")
	}
	return status, nil
}
