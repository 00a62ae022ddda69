package desired

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"dmagent/internal/updates"
	"dmagent/internal/wire"
)

// Section names, in the order the agent submits their tasks.
const (
	SectionRebootInfo   = "rebootInfo"
	SectionTimeInfo     = "timeInfo"
	SectionCertificates = "certificates"
	SectionApps         = "apps"
	SectionUpdates      = "updates"
)

var sectionOrder = []string{SectionRebootInfo, SectionTimeInfo, SectionCertificates, SectionApps, SectionUpdates}

// App states in the desired document.
const (
	AppPresent = "present"
	AppAbsent  = "absent"
)

// AppSpec is one entry of the apps section.
type AppSpec struct {
	Version string `json:"version,omitempty"`
	Source  string `json:"appxSource,omitempty"`
	StartUp string `json:"startUp,omitempty"`
	State   string `json:"state,omitempty"`
}

// App pairs a package family name with its desired spec.
type App struct {
	Name string
	Spec AppSpec
}

// Request converts the app into the InstallApp payload.
func (a App) Request() wire.AppRequest {
	return wire.AppRequest{
		PackageFamilyName: a.Name,
		Version:           a.Spec.Version,
		Source:            a.Spec.Source,
		StartUp:           a.Spec.StartUp,
	}
}

// Document is a parsed desired-state document. Nil sections were absent.
type Document struct {
	RebootInfo   *wire.RebootInfo
	TimeInfo     *wire.TimeInfo
	Certificates *wire.CertificateConfiguration
	Apps         []App
	Updates      *updates.Desired

	// Unknown lists top-level keys the agent does not handle.
	Unknown []string
}

// Parse decodes a desired-state document. Every section is optional.
func Parse(data []byte) (Document, error) {
	var doc Document
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return doc, errors.New("desired document is empty")
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return doc, fmt.Errorf("decode desired document: %w", err)
	}

	for key, value := range raw {
		if isNull(value) {
			continue
		}
		var err error
		switch key {
		case SectionRebootInfo:
			doc.RebootInfo = new(wire.RebootInfo)
			err = strictDecode(value, doc.RebootInfo)
		case SectionTimeInfo:
			doc.TimeInfo = new(wire.TimeInfo)
			err = strictDecode(value, doc.TimeInfo)
		case SectionCertificates:
			doc.Certificates = new(wire.CertificateConfiguration)
			err = strictDecode(value, doc.Certificates)
		case SectionApps:
			doc.Apps, err = parseApps(value)
		case SectionUpdates:
			var u updates.Desired
			u, err = updates.ParseDesired(value)
			doc.Updates = &u
		default:
			doc.Unknown = append(doc.Unknown, key)
		}
		if err != nil {
			return Document{}, fmt.Errorf("%s: %w", key, err)
		}
	}
	sort.Strings(doc.Unknown)
	return doc, nil
}

// Sections lists the present sections in submission order.
func (d Document) Sections() []string {
	var out []string
	for _, name := range sectionOrder {
		if d.has(name) {
			out = append(out, name)
		}
	}
	return out
}

func (d Document) has(section string) bool {
	switch section {
	case SectionRebootInfo:
		return d.RebootInfo != nil
	case SectionTimeInfo:
		return d.TimeInfo != nil
	case SectionCertificates:
		return d.Certificates != nil
	case SectionApps:
		return d.Apps != nil
	case SectionUpdates:
		return d.Updates != nil
	}
	return false
}

func parseApps(value json.RawMessage) ([]App, error) {
	var specs map[string]AppSpec
	if err := strictDecode(value, &specs); err != nil {
		return nil, err
	}
	apps := make([]App, 0, len(specs))
	for name, spec := range specs {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.New("app name must not be empty")
		}
		switch spec.State {
		case "":
			spec.State = AppPresent
		case AppPresent, AppAbsent:
		default:
			return nil, fmt.Errorf("%s: state %q (want present or absent)", name, spec.State)
		}
		switch spec.StartUp {
		case "", wire.StartupNone, wire.StartupForeground, wire.StartupBackground:
		default:
			return nil, fmt.Errorf("%s: startUp %q", name, spec.StartUp)
		}
		apps = append(apps, App{Name: name, Spec: spec})
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })
	return apps, nil
}

func strictDecode(value json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func isNull(value json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(value), []byte("null"))
}
