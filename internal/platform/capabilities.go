package platform

import (
	"context"
	"errors"
	"time"

	"dmagent/internal/wire"
)

// ErrUnsupported is returned when no implementation is configured for an operation.
var ErrUnsupported = errors.New("platform: operation not supported")

// Power covers reboot and reset.
type Power interface {
	RebootNow(ctx context.Context) error
	FactoryReset(ctx context.Context) error
	RebootSchedule(ctx context.Context) (wire.RebootInfo, error)
	SetRebootSchedule(ctx context.Context, info wire.RebootInfo) error
}

// Clock covers time zone and time source.
type Clock interface {
	TimeInfo(ctx context.Context) (wire.TimeInfo, error)
	SetTimeInfo(ctx context.Context, info wire.TimeInfo) error
}

// Certificates covers certificate stores addressed by path.
type Certificates interface {
	Hashes(ctx context.Context, store string) ([]string, error)
	Add(ctx context.Context, store, hash string) error
	Remove(ctx context.Context, store, hash string) error
	Details(ctx context.Context, store, hash string) (wire.CertificateDetails, error)
}

// Apps covers application deployment and lifecycle.
type Apps interface {
	List(ctx context.Context) ([]wire.AppInfo, error)
	Install(ctx context.Context, req wire.AppRequest) error
	Uninstall(ctx context.Context, name string) error
	StartupForeground(ctx context.Context) (string, error)
	StartupBackground(ctx context.Context) ([]string, error)
	AddStartup(ctx context.Context, name, mode string) error
	RemoveStartup(ctx context.Context, name string) error
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
}

// Packages covers OS update packages.
type Packages interface {
	CheckUpdates(ctx context.Context) ([]string, error)
	Installed(ctx context.Context) ([]string, error)
	Install(ctx context.Context, req wire.InstallUpdateRequest) error
}

// Identity covers the device's hardware-backed cloud identity.
type Identity interface {
	ServiceURL(ctx context.Context) (string, error)
	SASToken(ctx context.Context, validity time.Duration) (wire.SASToken, error)
}

// System reports device status.
type System interface {
	Status(ctx context.Context) (wire.DeviceStatus, error)
}

// Provider bundles every capability the dispatcher needs.
type Provider struct {
	Power        Power
	Clock        Clock
	Certificates Certificates
	Apps         Apps
	Packages     Packages
	Identity     Identity
	System       System
}
