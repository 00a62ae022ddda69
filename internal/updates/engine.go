package updates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"dmagent/internal/fileutil"
	"dmagent/internal/logging"
	"dmagent/internal/wire"
)

// ErrNotDownloaded is recorded when Install is requested for a unit whose
// manifest and artifacts are not on disk.
var ErrNotDownloaded = errors.New("update not downloaded")

// Fetcher opens blobs from the store a Source names.
type Fetcher interface {
	Fetch(ctx context.Context, src Source, blob string) (io.ReadCloser, error)
}

// Installer is the privileged package installer reached over the command channel.
type Installer interface {
	Installed(ctx context.Context) ([]string, error)
	Install(ctx context.Context, req wire.InstallUpdateRequest) error
}

// Unit is the engine's view of one update.
type Unit struct {
	ManifestName      string
	LocalManifestPath string
	IsDownloaded      bool
	IsInstalled       bool
	LastError         string

	manifestID string
}

// UnitError reports a failed action on one unit.
type UnitError struct {
	ManifestName string
	Action       string
	Err          error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Action, e.ManifestName, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

// Options configures an Engine.
type Options struct {
	ManifestsDir string
	ArtifactsDir string
	Fetcher      Fetcher
	Installer    Installer
	Logger       *slog.Logger
	// Parallel bounds concurrent package fetches within one unit.
	Parallel int
}

// Engine tracks update units and applies desired operations to them.
type Engine struct {
	manifestsDir string
	artifactsDir string
	fetcher      Fetcher
	installer    Installer
	logger       *slog.Logger
	parallel     int

	units map[string]*Unit
	// installedKnown is false until an installer query succeeds; staleNote
	// is the LastError text written on units while it is false.
	installedKnown bool
	staleNote      string
}

// NewEngine validates options and returns an engine with no known units.
// Call LoadLocalState before the first Apply.
func NewEngine(opts Options) (*Engine, error) {
	if opts.ManifestsDir == "" || opts.ArtifactsDir == "" {
		return nil, errors.New("updates: manifests and artifacts directories are required")
	}
	if opts.Fetcher == nil || opts.Installer == nil {
		return nil, errors.New("updates: fetcher and installer are required")
	}
	if opts.Parallel <= 0 {
		opts.Parallel = 4
	}
	return &Engine{
		manifestsDir: opts.ManifestsDir,
		artifactsDir: opts.ArtifactsDir,
		fetcher:      opts.Fetcher,
		installer:    opts.Installer,
		logger:       logging.NewComponentLogger(opts.Logger, "updates"),
		parallel:     opts.Parallel,
		units:        make(map[string]*Unit),
	}, nil
}

// LoadLocalState rebuilds the unit set from the manifests directory. The
// installer is asked first; a unit is installed when its manifest id appears
// in that answer. Units already known in memory are replaced.
//
// A failed installer query does not stop the scan: downloaded state is still
// rebuilt from disk, every unit carries the query error, and the query is
// repeated by RefreshInstalled. The returned error wraps the query failure.
func (e *Engine) LoadLocalState(ctx context.Context) error {
	installed, queryErr := e.installer.Installed(ctx)
	if err := os.MkdirAll(e.manifestsDir, 0o755); err != nil {
		return fmt.Errorf("create manifests dir: %w", err)
	}
	entries, err := os.ReadDir(e.manifestsDir)
	if err != nil {
		return fmt.Errorf("list manifests: %w", err)
	}

	units := make(map[string]*Unit, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		unit := &Unit{
			ManifestName:      entry.Name(),
			LocalManifestPath: filepath.Join(e.manifestsDir, entry.Name()),
		}
		manifest, err := readManifestFile(unit.LocalManifestPath)
		if err != nil {
			unit.LastError = err.Error()
			logging.WarnWithContext(e.logger, "unreadable manifest in registry", "updates_manifest_unreadable",
				logging.String(logging.FieldManifest, unit.ManifestName),
				logging.Error(err),
				logging.String(logging.FieldImpact, "unit treated as not downloaded"),
				logging.String(logging.FieldErrorHint, "request download again to replace the manifest"))
			units[unit.ManifestName] = unit
			continue
		}
		unit.manifestID = manifest.ID
		unit.IsDownloaded = e.artifactsPresent(unit.ManifestName, manifest)
		unit.IsInstalled = queryErr == nil && slices.Contains(installed, manifest.ID)
		units[unit.ManifestName] = unit
	}
	e.units = units
	e.installedKnown = false
	e.staleNote = ""
	if queryErr != nil {
		return e.installedUnknown(queryErr)
	}
	e.installedKnown = true
	e.logger.Info("update registry loaded",
		logging.String(logging.FieldEventType, "updates_registry_loaded"),
		logging.Int("units", len(units)),
		logging.Int("installed_ids", len(installed)))
	return nil
}

// RefreshInstalled repeats the installer query after a failed one and
// applies the answer to every unit read from the registry. It does nothing
// once installed state is known.
func (e *Engine) RefreshInstalled(ctx context.Context) error {
	if e.installedKnown {
		return nil
	}
	installed, err := e.installer.Installed(ctx)
	if err != nil {
		return e.installedUnknown(err)
	}
	for _, u := range e.units {
		if u.manifestID != "" && slices.Contains(installed, u.manifestID) {
			u.IsInstalled = true
		}
		if e.staleNote != "" && u.LastError == e.staleNote {
			u.LastError = ""
		}
	}
	e.installedKnown = true
	e.staleNote = ""
	e.logger.Info("installed updates refreshed",
		logging.String(logging.FieldEventType, "updates_installed_refreshed"),
		logging.Int("units", len(e.units)),
		logging.Int("installed_ids", len(installed)))
	return nil
}

// InstalledKnown reports whether the last installer query succeeded.
func (e *Engine) InstalledKnown() bool { return e.installedKnown }

func (e *Engine) installedUnknown(cause error) error {
	err := fmt.Errorf("query installed updates: %w", cause)
	note := "installed state unknown: " + err.Error()
	for _, u := range e.units {
		if u.LastError == "" || u.LastError == e.staleNote {
			u.LastError = note
		}
	}
	e.staleNote = note
	logging.WarnWithContext(e.logger, "installed updates unavailable", "updates_installed_unknown",
		logging.Error(cause),
		logging.Int("units", len(e.units)),
		logging.String(logging.FieldImpact, "units keep downloaded state; install state retried on next sync"),
		logging.String(logging.FieldErrorHint, "check that the worker is running"))
	return err
}

// Apply runs every operation in document order. Download precedes install
// for the same unit and satisfied actions are skipped. A failing unit keeps
// its previous state and the pass continues; the returned error joins every
// *UnitError of the pass.
//
// When installed state is still unknown the installer is asked again first.
// If that fails too, requested installs still go to the installer, which
// skips packages it already has.
func (e *Engine) Apply(ctx context.Context, desired Desired) error {
	if desired.Len() > 0 {
		_ = e.RefreshInstalled(ctx)
	}
	var errs []error
	for _, group := range desired.Groups {
		for _, op := range group.Operations {
			if err := e.applyOne(ctx, group.Source, op); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) applyOne(ctx context.Context, src Source, op Operation) error {
	unit := e.unit(op.ManifestName)
	logger := e.logger.With(logging.String(logging.FieldManifest, op.ManifestName))
	unit.LastError = ""

	if op.Download && !unit.IsDownloaded {
		started := time.Now()
		if err := e.download(ctx, src, unit); err != nil {
			return e.fail(logger, unit, "download", err)
		}
		logger.Info("update downloaded",
			logging.String(logging.FieldEventType, "updates_downloaded"),
			logging.Duration("elapsed", time.Since(started)))
	}
	if op.Install && !unit.IsInstalled {
		if !unit.IsDownloaded {
			return e.fail(logger, unit, "install", ErrNotDownloaded)
		}
		if err := e.install(ctx, unit); err != nil {
			return e.fail(logger, unit, "install", err)
		}
		logger.Info("update installed", logging.String(logging.FieldEventType, "updates_installed"))
	}
	return nil
}

func (e *Engine) fail(logger *slog.Logger, unit *Unit, action string, err error) error {
	unitErr := &UnitError{ManifestName: unit.ManifestName, Action: action, Err: err}
	unit.LastError = unitErr.Error()
	logging.WarnWithContext(logger, "update "+action+" failed", "updates_"+action+"_failed",
		logging.Error(err),
		logging.String(logging.FieldImpact, "unit keeps its previous state"),
		logging.String(logging.FieldErrorHint, "retried on the next desired-state sync"))
	return unitErr
}

func (e *Engine) unit(name string) *Unit {
	if u, ok := e.units[name]; ok {
		return u
	}
	u := &Unit{ManifestName: name}
	e.units[name] = u
	return u
}

// download fetches the manifest, then every package, and writes the manifest
// into the registry last.
func (e *Engine) download(ctx context.Context, src Source, unit *Unit) error {
	data, err := e.fetchManifest(ctx, src, unit.ManifestName)
	if err != nil {
		return err
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return err
	}

	dir := e.unitArtifactsDir(unit.ManifestName)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallel)
	for _, pkg := range manifest.Packages {
		g.Go(func() error {
			return e.fetchPackage(gctx, src, dir, pkg)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	path := filepath.Join(e.manifestsDir, unit.ManifestName)
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("record manifest: %w", err)
	}
	unit.LocalManifestPath = path
	unit.manifestID = manifest.ID
	unit.IsDownloaded = true
	return nil
}

func (e *Engine) fetchManifest(ctx context.Context, src Source, name string) ([]byte, error) {
	rc, err := e.fetcher.Fetch(ctx, src, name)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxManifestBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if len(data) > maxManifestBytes {
		return nil, fmt.Errorf("manifest exceeds %d bytes", maxManifestBytes)
	}
	return data, nil
}

func (e *Engine) fetchPackage(ctx context.Context, src Source, dir string, pkg Package) error {
	dest := filepath.Join(dir, pkg.Name)
	if packagePresent(dest, pkg) {
		if sum, err := fileutil.FileSHA256(dest); err == nil && strings.EqualFold(sum, pkg.SHA256) {
			return nil
		}
	}
	rc, err := e.fetcher.Fetch(ctx, src, pkg.Name)
	if err != nil {
		return fmt.Errorf("fetch package %s: %w", pkg.Name, err)
	}
	defer rc.Close()
	_, n, err := fileutil.WriteStreamAtomic(dest, rc, 0o644, strings.ToLower(pkg.SHA256))
	if err != nil {
		return fmt.Errorf("store package %s: %w", pkg.Name, err)
	}
	if pkg.Size > 0 && n != pkg.Size {
		_ = os.Remove(dest)
		return fmt.Errorf("package %s: got %d bytes, manifest says %d", pkg.Name, n, pkg.Size)
	}
	return nil
}

func (e *Engine) install(ctx context.Context, unit *Unit) error {
	manifest, err := readManifestFile(unit.LocalManifestPath)
	if err != nil {
		unit.IsDownloaded = false
		return fmt.Errorf("%w: %v", ErrNotDownloaded, err)
	}
	if !e.artifactsPresent(unit.ManifestName, manifest) {
		unit.IsDownloaded = false
		return fmt.Errorf("%w: artifacts missing", ErrNotDownloaded)
	}
	dir := e.unitArtifactsDir(unit.ManifestName)
	artifacts := make([]string, 0, len(manifest.Packages))
	for _, pkg := range manifest.Packages {
		artifacts = append(artifacts, filepath.Join(dir, pkg.Name))
	}
	req := wire.InstallUpdateRequest{
		ID:        manifest.ID,
		Version:   manifest.Version,
		Manifest:  unit.LocalManifestPath,
		Artifacts: artifacts,
	}
	if err := e.installer.Install(ctx, req); err != nil {
		return err
	}
	unit.manifestID = manifest.ID
	unit.IsInstalled = true
	return nil
}

func (e *Engine) unitArtifactsDir(name string) string {
	return filepath.Join(e.artifactsDir, name)
}

// artifactsPresent checks existence and size; checksums were verified when
// the files were written.
func (e *Engine) artifactsPresent(name string, m Manifest) bool {
	dir := e.unitArtifactsDir(name)
	for _, pkg := range m.Packages {
		if !packagePresent(filepath.Join(dir, pkg.Name), pkg) {
			return false
		}
	}
	return true
}

func packagePresent(path string, pkg Package) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return pkg.Size <= 0 || info.Size() == pkg.Size
}

// Units returns a copy of every known unit sorted by manifest name.
func (e *Engine) Units() []Unit {
	out := make([]Unit, 0, len(e.units))
	for _, u := range e.units {
		out = append(out, *u)
	}
	slices.SortFunc(out, func(a, b Unit) int { return strings.Compare(a.ManifestName, b.ManifestName) })
	return out
}

// UnitReport is the reported-state entry for one unit.
type UnitReport struct {
	IsDownloaded bool   `json:"isDownloaded"`
	IsInstalled  bool   `json:"isInstalled"`
	LastError    string `json:"lastError,omitempty"`
}

// Reported returns one entry per known unit, including units the latest
// desired document no longer names.
func (e *Engine) Reported() map[string]UnitReport {
	out := make(map[string]UnitReport, len(e.units))
	for name, u := range e.units {
		out[name] = UnitReport{IsDownloaded: u.IsDownloaded, IsInstalled: u.IsInstalled, LastError: u.LastError}
	}
	return out
}
