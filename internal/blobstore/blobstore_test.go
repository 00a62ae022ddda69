package blobstore_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"dmagent/internal/blobstore"
	"dmagent/internal/logging"
	"dmagent/internal/updates"
)

func TestParseConnectionString(t *testing.T) {
	cs, err := blobstore.ParseConnectionString("BlobEndpoint=https://acct.blob.example.net/;SharedAccessSignature=sv=2021&sig=abc%3D=;;")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := cs.Value("blobendpoint"); got != "https://acct.blob.example.net/" {
		t.Fatalf("BlobEndpoint = %q", got)
	}
	if got := cs.Value("SharedAccessSignature"); got != "sv=2021&sig=abc%3D=" {
		t.Fatalf("signature = %q", got)
	}
	if _, ok := cs.Get("Missing"); ok {
		t.Fatal("unexpected key")
	}

	for _, bad := range []string{"", ";;", "novalue", "=value"} {
		if _, err := blobstore.ParseConnectionString(bad); err == nil {
			t.Fatalf("parse %q succeeded", bad)
		}
	}
}

func TestParseErrorRedactsSecrets(t *testing.T) {
	_, err := blobstore.ParseConnectionString("AccountName=a;supersecretvaluewithoutequals")
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "supersecretvalue") {
		t.Fatalf("error leaks secret: %v", err)
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	if _, err := blobstore.Open("Foo=bar", "c", blobstore.Options{}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if _, err := blobstore.Open("BlobEndpoint=https://x.example", "", blobstore.Options{}); err == nil {
		t.Fatal("expected error for missing container")
	}
	if _, err := blobstore.Open("BlobEndpoint=ftp://x.example", "c", blobstore.Options{}); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
	if _, err := blobstore.Open("AccountName=acct;EndpointSuffix=core.example.net", "c", blobstore.Options{}); err != nil {
		t.Fatalf("account form: %v", err)
	}
	if _, err := blobstore.Open("Backend=s3", "bucket", blobstore.Options{}); err == nil {
		t.Fatal("expected error for s3 without region")
	}
}

func TestHTTPStoreFetch(t *testing.T) {
	var gotQuery, gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		gotQuery.Store(r.URL.RawQuery)
		if strings.HasSuffix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "blob body")
	}))
	t.Cleanup(srv.Close)

	store, err := blobstore.Open("BlobEndpoint="+srv.URL+";SharedAccessSignature=?sv=1&sig=xyz", "updates", blobstore.Options{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rc, err := store.Open(context.Background(), "u1.manifest")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != "blob body" {
		t.Fatalf("body = %q", body)
	}
	if p := gotPath.Load().(string); p != "/updates/u1.manifest" {
		t.Fatalf("path = %q", p)
	}
	if q := gotQuery.Load().(string); q != "sv=1&sig=xyz" {
		t.Fatalf("query = %q", q)
	}

	_, err = store.Open(context.Background(), "missing")
	if !errors.Is(err, blobstore.ErrNotFound) {
		t.Fatalf("missing blob err = %v", err)
	}
	if strings.Contains(err.Error(), "sig=xyz") {
		t.Fatalf("error leaks signature: %v", err)
	}
}

func TestS3StoreFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bucket/releases/u1.manifest":
			_, _ = io.WriteString(w, `{"id":"kb-1"}`)
		default:
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>gone</Message></Error>`)
		}
	}))
	t.Cleanup(srv.Close)

	conn := "Backend=s3;Region=us-west-2;Endpoint=" + srv.URL + ";AccessKeyId=AKID;SecretAccessKey=secret;Prefix=/releases/"
	store, err := blobstore.Open(conn, "bucket", blobstore.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rc, err := store.Open(context.Background(), "u1.manifest")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != `{"id":"kb-1"}` {
		t.Fatalf("body = %q", body)
	}

	if _, err := store.Open(context.Background(), "absent"); !errors.Is(err, blobstore.ErrNotFound) {
		t.Fatalf("absent err = %v", err)
	}
}

func TestFetcherCachesStores(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, r.URL.Path)
	}))
	t.Cleanup(srv.Close)

	f := blobstore.NewFetcher(blobstore.Options{HTTPClient: srv.Client()}, logging.NewNop())
	src := updates.Source{ConnectionString: "BlobEndpoint=" + srv.URL, Container: "c"}
	for _, blob := range []string{"a", "b"} {
		rc, err := f.Fetch(context.Background(), src, blob)
		if err != nil {
			t.Fatalf("fetch %s: %v", blob, err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		if string(body) != "/c/"+blob {
			t.Fatalf("body = %q", body)
		}
	}
	if hits.Load() != 2 {
		t.Fatalf("hits = %d", hits.Load())
	}

	if _, err := f.Fetch(context.Background(), updates.Source{ConnectionString: "junk", Container: "c"}, "a"); err == nil {
		t.Fatal("expected error for bad connection string")
	}
}

func TestFetcherReplacesStoreWhenCredentialsRotate(t *testing.T) {
	var lastSig atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastSig.Store(r.URL.Query().Get("sig"))
		_, _ = io.WriteString(w, "ok")
	}))
	t.Cleanup(srv.Close)

	f := blobstore.NewFetcher(blobstore.Options{HTTPClient: srv.Client()}, logging.NewNop())
	for i := range 5 {
		sig := "token" + string(rune('a'+i))
		src := updates.Source{ConnectionString: "BlobEndpoint=" + srv.URL + ";SharedAccessSignature=sv=1&sig=" + sig, Container: "c"}
		rc, err := f.Fetch(context.Background(), src, "blob")
		if err != nil {
			t.Fatalf("fetch with %s: %v", sig, err)
		}
		rc.Close()
		if got := lastSig.Load(); got != sig {
			t.Fatalf("server saw sig %v, want %s", got, sig)
		}
	}
	if n := f.Cached(); n != 1 {
		t.Fatalf("cached stores = %d, want 1", n)
	}

	other := updates.Source{ConnectionString: "BlobEndpoint=" + srv.URL, Container: "other"}
	rc, err := f.Fetch(context.Background(), other, "blob")
	if err != nil {
		t.Fatalf("fetch other container: %v", err)
	}
	rc.Close()
	if n := f.Cached(); n != 2 {
		t.Fatalf("cached stores = %d, want 2", n)
	}
}
