package desired

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"dmagent/internal/updates"
	"dmagent/internal/wire"
)

// AgentStatus is the agent's own section of the reported document.
type AgentStatus struct {
	SessionID           string            `json:"sessionId,omitempty"`
	LastSync            *time.Time        `json:"lastSync,omitempty"`
	LastRenewal         *time.Time        `json:"lastRenewal,omitempty"`
	LastRebootCmdTime   *time.Time        `json:"lastRebootCmdTime,omitempty"`
	LastRebootCmdStatus string            `json:"lastRebootCmdStatus,omitempty"`
	SectionErrors       map[string]string `json:"sectionErrors,omitempty"`
}

// Reported is the reported-state document.
type Reported struct {
	RebootInfo   *wire.RebootInfo               `json:"rebootInfo,omitempty"`
	TimeInfo     *wire.TimeInfo                 `json:"timeInfo,omitempty"`
	Certificates *wire.CertificateConfiguration `json:"certificates,omitempty"`
	Apps         map[string]wire.AppInfo        `json:"apps,omitempty"`
	Updates      map[string]updates.UnitReport  `json:"updates,omitempty"`
	Device       *wire.DeviceStatus             `json:"deviceStatus,omitempty"`
	Agent        AgentStatus                    `json:"agent"`
}

// ReportKey maps a manifest name to its reported key. Dots are not allowed
// in reported property names, so they become underscores.
func ReportKey(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

// SectionUpdateKeys is the sectionErrors entry naming units whose report key
// had to be disambiguated.
const SectionUpdateKeys = "updateKeys"

// SetUpdates replaces the updates section from engine output. Names that
// already are valid keys keep them; a dotted name whose key is taken gets a
// numeric suffix and the collision is recorded under SectionUpdateKeys.
func (r *Reported) SetUpdates(units map[string]updates.UnitReport) {
	names := slices.Collect(maps.Keys(units))
	slices.SortFunc(names, func(a, b string) int {
		aClean, bClean := ReportKey(a) == a, ReportKey(b) == b
		if aClean != bClean {
			if aClean {
				return -1
			}
			return 1
		}
		return strings.Compare(a, b)
	})

	out := make(map[string]updates.UnitReport, len(units))
	var renamed []string
	for _, name := range names {
		key := ReportKey(name)
		if _, taken := out[key]; taken {
			base := key
			for n := 2; ; n++ {
				key = fmt.Sprintf("%s_%d", base, n)
				if _, taken := out[key]; !taken && !slices.Contains(names, key) {
					break
				}
			}
			renamed = append(renamed, fmt.Sprintf("%s reported as %s", name, key))
		}
		out[key] = units[name]
	}
	r.Updates = out
	if len(renamed) == 0 {
		r.SetSectionError(SectionUpdateKeys, nil)
		return
	}
	r.SetSectionError(SectionUpdateKeys, fmt.Errorf("report key collision: %s", strings.Join(renamed, "; ")))
}

// SetApps replaces the apps section from a device listing.
func (r *Reported) SetApps(apps []wire.AppInfo) {
	out := make(map[string]wire.AppInfo, len(apps))
	for _, app := range apps {
		out[app.PackageFamilyName] = app
	}
	r.Apps = out
}

// SetSectionError records err for section, or clears it when err is nil.
func (r *Reported) SetSectionError(section string, err error) {
	if err == nil {
		delete(r.Agent.SectionErrors, section)
		return
	}
	if r.Agent.SectionErrors == nil {
		r.Agent.SectionErrors = make(map[string]string)
	}
	r.Agent.SectionErrors[section] = err.Error()
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *Reported) Clone() Reported {
	out := *r
	if r.RebootInfo != nil {
		v := *r.RebootInfo
		out.RebootInfo = &v
	}
	if r.TimeInfo != nil {
		v := *r.TimeInfo
		out.TimeInfo = &v
	}
	if r.Certificates != nil {
		stores := make(map[string][]string, len(r.Certificates.Stores))
		for k, v := range r.Certificates.Stores {
			stores[k] = append([]string(nil), v...)
		}
		out.Certificates = &wire.CertificateConfiguration{Stores: stores}
	}
	if r.Device != nil {
		v := *r.Device
		out.Device = &v
	}
	out.Apps = maps.Clone(r.Apps)
	out.Updates = maps.Clone(r.Updates)
	out.Agent.SectionErrors = maps.Clone(r.Agent.SectionErrors)
	out.Agent.LastSync = cloneTime(r.Agent.LastSync)
	out.Agent.LastRenewal = cloneTime(r.Agent.LastRenewal)
	out.Agent.LastRebootCmdTime = cloneTime(r.Agent.LastRebootCmdTime)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
