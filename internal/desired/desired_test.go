package desired_test

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"dmagent/internal/desired"
	"dmagent/internal/updates"
	"dmagent/internal/wire"
)

const fullDocument = `{
  "rebootInfo":   {"dailyRebootTime": "03:00"},
  "timeInfo":     {"ntpServer": "time.example.net", "timeZone": "Europe/Berlin"},
  "certificates": {"stores": {"./Device/Root": ["AB12"]}},
  "apps": {
    "contoso.kiosk": {"version": "1.0.0", "appxSource": "https://blobs/kiosk.appx", "startUp": "foreground"},
    "contoso.legacy": {"state": "absent"}
  },
  "updates": {"g1": {"connStr": "BlobEndpoint=https://x", "container": "c", "manifests": {"a": "u1.manifest,download,install"}}},
  "telemetry": {"interval": 5}
}`

func TestParseFullDocument(t *testing.T) {
	doc, err := desired.Parse([]byte(fullDocument))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{desired.SectionRebootInfo, desired.SectionTimeInfo, desired.SectionCertificates, desired.SectionApps, desired.SectionUpdates}
	if got := doc.Sections(); !slices.Equal(got, want) {
		t.Fatalf("sections = %v, want %v", got, want)
	}
	if doc.TimeInfo.TimeZone != "Europe/Berlin" {
		t.Fatalf("timeInfo = %+v", doc.TimeInfo)
	}
	if len(doc.Apps) != 2 || doc.Apps[0].Name != "contoso.kiosk" || doc.Apps[1].Spec.State != desired.AppAbsent {
		t.Fatalf("apps = %+v", doc.Apps)
	}
	if doc.Apps[0].Spec.State != desired.AppPresent {
		t.Fatalf("default state = %q", doc.Apps[0].Spec.State)
	}
	req := doc.Apps[0].Request()
	if req.Source != "https://blobs/kiosk.appx" || req.StartUp != wire.StartupForeground {
		t.Fatalf("request = %+v", req)
	}
	if doc.Updates == nil || doc.Updates.Len() != 1 {
		t.Fatalf("updates = %+v", doc.Updates)
	}
	if !slices.Equal(doc.Unknown, []string{"telemetry"}) {
		t.Fatalf("unknown = %v", doc.Unknown)
	}
}

func TestParseOptionalSections(t *testing.T) {
	doc, err := desired.Parse([]byte(`{"timeInfo": {"timeZone": "UTC"}, "apps": null}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := doc.Sections(); !slices.Equal(got, []string{desired.SectionTimeInfo}) {
		t.Fatalf("sections = %v", got)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":         ``,
		"not object":    `[1,2]`,
		"unknown field": `{"timeInfo": {"tz": "UTC"}}`,
		"bad app state": `{"apps": {"a": {"state": "sideways"}}}`,
		"bad startup":   `{"apps": {"a": {"startUp": "always"}}}`,
		"updates array": `{"updates": ["u1.manifest,download"]}`,
	}
	for name, doc := range cases {
		if _, err := desired.Parse([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseSkipsMalformedManifestEntries(t *testing.T) {
	doc, err := desired.Parse([]byte(`{
		"timeInfo": {"ntpServer": "time.example.net", "timeZone": "UTC"},
		"updates": {"g": {"connStr": "c", "container": "k", "manifests": {"a": "u1.manifest,download", "b": 7, "c": ",install"}}}
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := doc.Sections(); !slices.Equal(got, []string{desired.SectionTimeInfo, desired.SectionUpdates}) {
		t.Fatalf("sections = %v", got)
	}
	if n := doc.Updates.Len(); n != 1 {
		t.Fatalf("operations = %d, want 1", n)
	}
	if len(doc.Updates.Problems) != 2 || doc.Updates.ProblemsError() == nil {
		t.Fatalf("problems = %v", doc.Updates.Problems)
	}
}

func TestReportedUpdatesKeys(t *testing.T) {
	var r desired.Reported
	r.SetUpdates(map[string]updates.UnitReport{"u1.manifest": {IsDownloaded: true}})
	if _, ok := r.Updates["u1_manifest"]; !ok {
		t.Fatalf("updates = %v", r.Updates)
	}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back struct {
		Updates map[string]map[string]any `json:"updates"`
	}
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Updates["u1_manifest"]["isDownloaded"] != true {
		t.Fatalf("json = %s", data)
	}
}

func TestReportedUpdatesKeyCollision(t *testing.T) {
	var r desired.Reported
	r.SetUpdates(map[string]updates.UnitReport{
		"u1.manifest": {IsDownloaded: true},
		"u1_manifest": {IsInstalled: true},
	})
	if len(r.Updates) != 2 {
		t.Fatalf("updates = %v, want both units", r.Updates)
	}
	if u := r.Updates["u1_manifest"]; !u.IsInstalled {
		t.Fatalf("u1_manifest = %+v, want the undotted unit", u)
	}
	if u := r.Updates["u1_manifest_2"]; !u.IsDownloaded {
		t.Fatalf("u1_manifest_2 = %+v", u)
	}
	msg := r.Agent.SectionErrors[desired.SectionUpdateKeys]
	if !strings.Contains(msg, "u1.manifest reported as u1_manifest_2") {
		t.Fatalf("section error = %q", msg)
	}

	r.SetUpdates(map[string]updates.UnitReport{"u1.manifest": {}})
	if _, ok := r.Agent.SectionErrors[desired.SectionUpdateKeys]; ok {
		t.Fatal("collision note kept after it cleared")
	}
}

func TestReportedCloneIsIndependent(t *testing.T) {
	now := time.Now()
	r := desired.Reported{
		Certificates: &wire.CertificateConfiguration{Stores: map[string][]string{"s": {"A"}}},
		Agent:        desired.AgentStatus{LastSync: &now},
	}
	r.SetSectionError(desired.SectionApps, errors.New("apps failed"))
	c := r.Clone()

	r.Certificates.Stores["s"][0] = "B"
	r.SetSectionError(desired.SectionApps, nil)
	*r.Agent.LastSync = now.Add(time.Hour)

	if c.Certificates.Stores["s"][0] != "A" {
		t.Fatal("clone shares certificate slices")
	}
	if c.Agent.SectionErrors[desired.SectionApps] != "apps failed" {
		t.Fatalf("clone errors = %v", c.Agent.SectionErrors)
	}
	if !c.Agent.LastSync.Equal(now) {
		t.Fatal("clone shares lastSync")
	}
}
