package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StatusError is a non-success HTTP reply from the blob endpoint.
type StatusError struct {
	Blob       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: http %d %s", e.Blob, e.StatusCode, http.StatusText(e.StatusCode))
}

// Unwrap maps 404 to ErrNotFound.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

type httpStore struct {
	base      *url.URL
	container string
	signature string
	client    *http.Client
}

func newHTTPStore(cs ConnectionString, container string, opts Options) (*httpStore, error) {
	endpoint := cs.Value("BlobEndpoint")
	if endpoint == "" {
		account := cs.Value("AccountName")
		suffix := cs.Value("EndpointSuffix")
		if account == "" || suffix == "" {
			return nil, fmt.Errorf("blobstore: need BlobEndpoint or AccountName and EndpointSuffix")
		}
		protocol := cs.Value("DefaultEndpointsProtocol")
		if protocol == "" {
			protocol = "https"
		}
		endpoint = fmt.Sprintf("%s://%s.blob.%s", protocol, account, suffix)
	}
	base, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("blobstore: endpoint: %w", err)
	}
	if base.Scheme != "https" && base.Scheme != "http" {
		return nil, fmt.Errorf("blobstore: endpoint scheme %q not supported", base.Scheme)
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}
	return &httpStore{
		base:      base,
		container: container,
		signature: strings.TrimPrefix(cs.Value("SharedAccessSignature"), "?"),
		client:    client,
	}, nil
}

func (s *httpStore) blobURL(blob string) string {
	u := *s.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + s.container + "/" + blob
	u.RawPath = ""
	u.RawQuery = s.signature
	return u.String()
}

func (s *httpStore) Open(ctx context.Context, blob string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.blobURL(blob), nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", blob, err)
	}
	req.Header.Set("x-ms-version", "2021-08-06")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", blob, stripQuery(err))
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &StatusError{Blob: blob, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

// stripQuery drops the signature from url errors before they reach logs.
func stripQuery(err error) error {
	if ue, ok := err.(*url.Error); ok {
		if u, perr := url.Parse(ue.URL); perr == nil {
			u.RawQuery = ""
			return &url.Error{Op: ue.Op, URL: u.String(), Err: ue.Err}
		}
	}
	return err
}
