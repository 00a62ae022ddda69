package wire

import "time"

// Empty is the payload of commands that take no arguments.
type Empty struct{}

// RebootInfo is the reboot schedule. Times are RFC 3339 (single) or HH:MM (daily).
type RebootInfo struct {
	SingleRebootTime string `json:"singleRebootTime,omitempty"`
	DailyRebootTime  string `json:"dailyRebootTime,omitempty"`
}

// TimeInfo is the clock configuration.
type TimeInfo struct {
	NTPServer string `json:"ntpServer,omitempty"`
	TimeZone  string `json:"timeZone,omitempty"`
	LocalTime string `json:"localTime,omitempty"`
}

// CertificateConfiguration maps a certificate store path to the thumbprints it must hold.
type CertificateConfiguration struct {
	Stores map[string][]string `json:"stores"`
}

// CertificateDetailsRequest selects one certificate.
type CertificateDetailsRequest struct {
	Store string `json:"store"`
	Hash  string `json:"hash"`
}

// CertificateDetails describes one certificate.
type CertificateDetails struct {
	Subject   string `json:"subject"`
	Issuer    string `json:"issuer"`
	NotBefore string `json:"notBefore"`
	NotAfter  string `json:"notAfter"`
	Encoded   string `json:"encoded,omitempty"`
}

// Startup modes for AppRequest.StartUp.
const (
	StartupNone       = "none"
	StartupForeground = "foreground"
	StartupBackground = "background"
)

// AppRequest installs or reconfigures one application.
type AppRequest struct {
	PackageFamilyName string `json:"packageFamilyName"`
	Version           string `json:"version,omitempty"`
	Source            string `json:"appxSource,omitempty"`
	StartUp           string `json:"startUp,omitempty"`
}

// AppName selects one application.
type AppName struct {
	PackageFamilyName string `json:"packageFamilyName"`
}

// AppInfo describes an installed application.
type AppInfo struct {
	PackageFamilyName string `json:"packageFamilyName"`
	Version           string `json:"version"`
	StartUp           string `json:"startUp,omitempty"`
}

// AppList is the reply to ListApps.
type AppList struct {
	Apps []AppInfo `json:"apps"`
}

// StartupBackgroundApps is the reply to ListStartupBackgroundApps.
type StartupBackgroundApps struct {
	Apps []string `json:"apps"`
}

// TransferFileRequest copies a file into place on the device.
type TransferFileRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	SHA256      string `json:"sha256,omitempty"`
}

// DeviceStatus is a point-in-time snapshot of the device.
type DeviceStatus struct {
	Hostname      string `json:"hostname"`
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	UptimeSeconds int64  `json:"uptimeSeconds,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

// ServiceURL is the reply to TpmGetServiceURL.
type ServiceURL struct {
	URL string `json:"url"`
}

// SASTokenRequest asks for a token valid for at least Validity.
type SASTokenRequest struct {
	ValiditySeconds int64 `json:"validitySeconds"`
}

// SASToken is a shared-access credential.
type SASToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// UpdateList is the reply to CheckUpdates and ListInstalledUpdates.
type UpdateList struct {
	Updates []string `json:"updates"`
}

// InstallUpdateRequest installs one downloaded update unit.
type InstallUpdateRequest struct {
	ID        string   `json:"id"`
	Version   string   `json:"version,omitempty"`
	Manifest  string   `json:"manifest"`
	Artifacts []string `json:"artifacts"`
}

// RebootResult is the reply to ImmediateReboot.
type RebootResult struct {
	IssuedAt time.Time `json:"issuedAt"`
}
