package platform

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"dmagent/internal/wire"
)

// Fake is an in-memory device used by tests and by `dmagent worker --fake`.
// Calls are counted by operation key; FailOn injects errors.
type Fake struct {
	mu sync.Mutex

	calls map[string]int
	fail  map[string]error

	Reboot           wire.RebootInfo
	Time             wire.TimeInfo
	Stores           map[string][]string
	Apps             map[string]wire.AppInfo
	Foreground       string
	Background       []string
	Running          map[string]bool
	Available        []string
	InstalledUpdates []string
	URL              string
	Token            string
}

// NewFake returns an empty fake device.
func NewFake() *Fake {
	return &Fake{
		calls:   make(map[string]int),
		fail:    make(map[string]error),
		Stores:  make(map[string][]string),
		Apps:    make(map[string]wire.AppInfo),
		Running: make(map[string]bool),
		URL:     "https://hub.example.invalid",
		Token:   "fake-token",
		Time:    wire.TimeInfo{TimeZone: "UTC"},
	}
}

// Provider exposes the fake through every capability interface.
func (f *Fake) Provider() Provider {
	return Provider{
		Power:        fakePower{f},
		Clock:        fakeClock{f},
		Certificates: fakeCertificates{f},
		Apps:         fakeApps{f},
		Packages:     fakePackages{f},
		Identity:     fakeIdentity{f},
		System:       fakeSystem{f},
	}
}

// FailOn makes op return err until cleared with a nil err.
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// enter records the call and holds the lock; callers must unlock.
func (f *Fake) enter(op string) error {
	f.mu.Lock()
	f.calls[op]++
	return f.fail[op]
}

type fakePower struct{ f *Fake }

func (p fakePower) RebootNow(context.Context) error {
	defer p.f.mu.Unlock()
	return p.f.enter(OpRebootNow)
}

func (p fakePower) FactoryReset(context.Context) error {
	defer p.f.mu.Unlock()
	if err := p.f.enter(OpFactoryReset); err != nil {
		return err
	}
	p.f.Apps = make(map[string]wire.AppInfo)
	p.f.Reboot = wire.RebootInfo{}
	return nil
}

func (p fakePower) RebootSchedule(context.Context) (wire.RebootInfo, error) {
	defer p.f.mu.Unlock()
	if err := p.f.enter(OpRebootSchedule); err != nil {
		return wire.RebootInfo{}, err
	}
	return p.f.Reboot, nil
}

func (p fakePower) SetRebootSchedule(_ context.Context, info wire.RebootInfo) error {
	defer p.f.mu.Unlock()
	if err := p.f.enter(OpSetRebootSchedule); err != nil {
		return err
	}
	p.f.Reboot = info
	return nil
}

type fakeClock struct{ f *Fake }

func (c fakeClock) TimeInfo(context.Context) (wire.TimeInfo, error) {
	defer c.f.mu.Unlock()
	if err := c.f.enter(OpTimeInfo); err != nil {
		return wire.TimeInfo{}, err
	}
	info := c.f.Time
	info.LocalTime = time.Now().Format(time.RFC3339)
	return info, nil
}

func (c fakeClock) SetTimeInfo(_ context.Context, info wire.TimeInfo) error {
	defer c.f.mu.Unlock()
	if err := c.f.enter(OpSetTimeInfo); err != nil {
		return err
	}
	c.f.Time = wire.TimeInfo{NTPServer: info.NTPServer, TimeZone: info.TimeZone}
	return nil
}

type fakeCertificates struct{ f *Fake }

func (c fakeCertificates) Hashes(_ context.Context, store string) ([]string, error) {
	defer c.f.mu.Unlock()
	if err := c.f.enter(OpCertList); err != nil {
		return nil, err
	}
	return slices.Clone(c.f.Stores[store]), nil
}

func (c fakeCertificates) Add(_ context.Context, store, hash string) error {
	defer c.f.mu.Unlock()
	if err := c.f.enter(OpCertAdd); err != nil {
		return err
	}
	if !slices.Contains(c.f.Stores[store], hash) {
		c.f.Stores[store] = append(c.f.Stores[store], hash)
	}
	return nil
}

func (c fakeCertificates) Remove(_ context.Context, store, hash string) error {
	defer c.f.mu.Unlock()
	if err := c.f.enter(OpCertRemove); err != nil {
		return err
	}
	c.f.Stores[store] = slices.DeleteFunc(c.f.Stores[store], func(h string) bool { return h == hash })
	return nil
}

func (c fakeCertificates) Details(_ context.Context, store, hash string) (wire.CertificateDetails, error) {
	defer c.f.mu.Unlock()
	if err := c.f.enter(OpCertDetails); err != nil {
		return wire.CertificateDetails{}, err
	}
	if !slices.Contains(c.f.Stores[store], hash) {
		return wire.CertificateDetails{}, fmt.Errorf("certificate %s not in store %s", hash, store)
	}
	return wire.CertificateDetails{Subject: "CN=" + hash, Issuer: "CN=fake", NotBefore: "2020-01-01T00:00:00Z", NotAfter: "2030-01-01T00:00:00Z"}, nil
}

type fakeApps struct{ f *Fake }

func (a fakeApps) List(context.Context) ([]wire.AppInfo, error) {
	defer a.f.mu.Unlock()
	if err := a.f.enter(OpAppsList); err != nil {
		return nil, err
	}
	out := make([]wire.AppInfo, 0, len(a.f.Apps))
	for _, app := range a.f.Apps {
		out = append(out, app)
	}
	slices.SortFunc(out, func(x, y wire.AppInfo) int {
		switch {
		case x.PackageFamilyName < y.PackageFamilyName:
			return -1
		case x.PackageFamilyName > y.PackageFamilyName:
			return 1
		}
		return 0
	})
	return out, nil
}

func (a fakeApps) Install(_ context.Context, req wire.AppRequest) error {
	defer a.f.mu.Unlock()
	if err := a.f.enter(OpAppInstall); err != nil {
		return err
	}
	a.f.Apps[req.PackageFamilyName] = wire.AppInfo{PackageFamilyName: req.PackageFamilyName, Version: req.Version}
	return nil
}

func (a fakeApps) Uninstall(_ context.Context, name string) error {
	defer a.f.mu.Unlock()
	if err := a.f.enter(OpAppUninstall); err != nil {
		return err
	}
	delete(a.f.Apps, name)
	return nil
}

func (a fakeApps) StartupForeground(context.Context) (string, error) {
	defer a.f.mu.Unlock()
	if err := a.f.enter(OpStartupForeground); err != nil {
		return "", err
	}
	return a.f.Foreground, nil
}

func (a fakeApps) StartupBackground(context.Context) ([]string, error) {
	defer a.f.mu.Unlock()
	if err := a.f.enter(OpStartupBackground); err != nil {
		return nil, err
	}
	return slices.Clone(a.f.Background), nil
}

func (a fakeApps) AddStartup(_ context.Context, name, mode string) error {
	defer a.f.mu.Unlock()
	if err := a.f.enter(OpStartupAdd); err != nil {
		return err
	}
	if mode == wire.StartupForeground {
		a.f.Foreground = name
		return nil
	}
	if !slices.Contains(a.f.Background, name) {
		a.f.Background = append(a.f.Background, name)
	}
	return nil
}

func (a fakeApps) RemoveStartup(_ context.Context, name string) error {
	defer a.f.mu.Unlock()
	if err := a.f.enter(OpStartupRemove); err != nil {
		return err
	}
	if a.f.Foreground == name {
		a.f.Foreground = ""
	}
	a.f.Background = slices.DeleteFunc(a.f.Background, func(n string) bool { return n == name })
	return nil
}

func (a fakeApps) Start(_ context.Context, name string) error {
	defer a.f.mu.Unlock()
	if err := a.f.enter(OpAppStart); err != nil {
		return err
	}
	a.f.Running[name] = true
	return nil
}

func (a fakeApps) Stop(_ context.Context, name string) error {
	defer a.f.mu.Unlock()
	if err := a.f.enter(OpAppStop); err != nil {
		return err
	}
	delete(a.f.Running, name)
	return nil
}

type fakePackages struct{ f *Fake }

func (p fakePackages) CheckUpdates(context.Context) ([]string, error) {
	defer p.f.mu.Unlock()
	if err := p.f.enter(OpUpdatesCheck); err != nil {
		return nil, err
	}
	return slices.Clone(p.f.Available), nil
}

func (p fakePackages) Installed(context.Context) ([]string, error) {
	defer p.f.mu.Unlock()
	if err := p.f.enter(OpUpdatesInstalled); err != nil {
		return nil, err
	}
	return slices.Clone(p.f.InstalledUpdates), nil
}

func (p fakePackages) Install(_ context.Context, req wire.InstallUpdateRequest) error {
	defer p.f.mu.Unlock()
	if err := p.f.enter(OpUpdateInstall); err != nil {
		return err
	}
	if !slices.Contains(p.f.InstalledUpdates, req.ID) {
		p.f.InstalledUpdates = append(p.f.InstalledUpdates, req.ID)
	}
	return nil
}

type fakeIdentity struct{ f *Fake }

func (i fakeIdentity) ServiceURL(context.Context) (string, error) {
	defer i.f.mu.Unlock()
	if err := i.f.enter(OpIdentityServiceURL); err != nil {
		return "", err
	}
	return i.f.URL, nil
}

func (i fakeIdentity) SASToken(_ context.Context, validity time.Duration) (wire.SASToken, error) {
	defer i.f.mu.Unlock()
	if err := i.f.enter(OpIdentitySASToken); err != nil {
		return wire.SASToken{}, err
	}
	return wire.SASToken{Token: i.f.Token, ExpiresAt: time.Now().Add(validity).UTC()}, nil
}

type fakeSystem struct{ f *Fake }

func (s fakeSystem) Status(context.Context) (wire.DeviceStatus, error) {
	defer s.f.mu.Unlock()
	if err := s.f.enter(OpDeviceStatus); err != nil {
		return wire.DeviceStatus{}, err
	}
	return wire.DeviceStatus{Hostname: "fake-device", OS: "fake", Arch: "none"}, nil
}
