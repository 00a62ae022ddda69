package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"dmagent/internal/logging"
	"dmagent/internal/updates"
)

// ErrNotFound is returned when the container has no blob with the requested name.
var ErrNotFound = errors.New("blob not found")

// Store reads blobs from one container.
type Store interface {
	Open(ctx context.Context, blob string) (io.ReadCloser, error)
}

// Options tunes backends built by Open.
type Options struct {
	HTTPClient *http.Client
	// Timeout bounds one blob download when HTTPClient is not set.
	Timeout time.Duration
	// Region applies to S3 connection strings that omit one.
	Region string
}

// Open builds the backend a connection string selects for container.
func Open(connStr, container string, opts Options) (Store, error) {
	if strings.TrimSpace(container) == "" {
		return nil, errors.New("blobstore: container is required")
	}
	cs, err := ParseConnectionString(connStr)
	if err != nil {
		return nil, err
	}
	switch backendOf(cs) {
	case "s3":
		return newS3Store(cs, container, opts)
	case "http":
		return newHTTPStore(cs, container, opts)
	default:
		return nil, fmt.Errorf("blobstore: cannot determine backend from keys %v", cs.Keys())
	}
}

func backendOf(cs ConnectionString) string {
	if b, ok := cs.Get("Backend"); ok {
		return strings.ToLower(b)
	}
	if _, ok := cs.Get("BlobEndpoint"); ok {
		return "http"
	}
	if _, ok := cs.Get("AccountName"); ok {
		return "http"
	}
	if _, ok := cs.Get("Region"); ok {
		return "s3"
	}
	return ""
}

// Fetcher resolves update sources to stores. It keeps one store per
// location (backend settings and container without credentials); a source
// whose credentials changed replaces the cached store for its location.
type Fetcher struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	stores map[string]cachedStore
}

type cachedStore struct {
	connStr string
	store   Store
}

// NewFetcher returns a fetcher that builds stores with opts.
func NewFetcher(opts Options, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "blobstore"),
		stores: make(map[string]cachedStore),
	}
}

// Fetch opens blob from the container src names.
func (f *Fetcher) Fetch(ctx context.Context, src updates.Source, blob string) (io.ReadCloser, error) {
	store, err := f.store(src)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	rc, err := store.Open(ctx, blob)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("blob opened",
		logging.String("container", src.Container),
		logging.String("blob", blob),
		logging.Duration("elapsed", time.Since(started)))
	return rc, nil
}

// Cached reports how many stores are held.
func (f *Fetcher) Cached() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stores)
}

func (f *Fetcher) store(src updates.Source) (Store, error) {
	cs, err := ParseConnectionString(src.ConnectionString)
	if err != nil {
		return nil, err
	}
	key := locationKey(cs, src.Container)

	f.mu.Lock()
	defer f.mu.Unlock()
	cached, ok := f.stores[key]
	if ok && cached.connStr == src.ConnectionString {
		return cached.store, nil
	}
	s, err := Open(src.ConnectionString, src.Container, f.opts)
	if err != nil {
		return nil, err
	}
	if ok {
		f.logger.Debug("blob store credentials replaced", logging.String("container", src.Container))
	}
	f.stores[key] = cachedStore{connStr: src.ConnectionString, store: s}
	return s, nil
}

// secretKeys never take part in a location key.
var secretKeys = map[string]bool{
	"sharedaccesssignature": true,
	"accountkey":            true,
	"accesskeyid":           true,
	"secretaccesskey":       true,
	"sessiontoken":          true,
}

func locationKey(cs ConnectionString, container string) string {
	var b strings.Builder
	for _, k := range cs.Keys() {
		if secretKeys[k] {
			continue
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(cs.Value(k))
		b.WriteByte(';')
	}
	b.WriteString("container=")
	b.WriteString(container)
	return b.String()
}
