package ipc_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"dmagent/internal/ipc"
	"dmagent/internal/logging"
	"dmagent/internal/wire"
)

// shortSocketPath keeps socket paths under the sun_path limit.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "dmipc")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "w.sock")
}

type echoHandler struct{}

func (echoHandler) Dispatch(_ context.Context, req wire.Frame) wire.Response {
	switch req.Tag {
	case wire.TagFactoryReset:
		panic("handler exploded")
	case wire.TagGetTimeInfo, wire.TagListApps:
		return wire.Success(req.Tag, req.Payload)
	default:
		return wire.Failure(wire.TagError, "unknown tag %d", uint32(req.Tag))
	}
}

func startServer(t *testing.T, opts ipc.ServerOptions) (*ipc.Server, *ipc.Client) {
	t.Helper()
	ep := ipc.Endpoint{Network: "unix", Address: shortSocketPath(t)}
	srv, err := ipc.NewServer(context.Background(), ep, echoHandler{}, logging.NewNop(), opts)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping socket test: %v", err)
		}
		t.Fatalf("NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)
	return srv, ipc.NewClient(srv.Endpoint(), ipc.ClientOptions{DialTimeout: time.Second, ExchangeTimeout: 5 * time.Second})
}

func TestExchangeRoundTripSizes(t *testing.T) {
	_, client := startServer(t, ipc.ServerOptions{SocketMode: 0o600})
	for _, size := range []int{0, 1, 256 << 10} {
		payload := bytes.Repeat([]byte{0xAB}, size)
		resp, err := client.Send(context.Background(), wire.Frame{Tag: wire.TagGetTimeInfo, Version: wire.CurrentVersion, Payload: payload})
		if err != nil {
			t.Fatalf("Send(%d): %v", size, err)
		}
		if !resp.OK() || !bytes.Equal(resp.Body, payload) {
			t.Fatalf("size %d: unexpected response status=%s len=%d", size, resp.Status, len(resp.Body))
		}
	}
}

func TestSocketPermissions(t *testing.T) {
	srv, _ := startServer(t, ipc.ServerOptions{SocketMode: 0o600})
	info, err := os.Stat(srv.Endpoint().Address)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("socket mode = %o, want 600", perm)
	}
}

func TestUnknownTagDoesNotStopListener(t *testing.T) {
	_, client := startServer(t, ipc.ServerOptions{})
	resp, err := client.Send(context.Background(), wire.Frame{Tag: wire.Tag(4242), Version: wire.CurrentVersion})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.OK() || resp.Tag != wire.TagError {
		t.Fatalf("expected TagError failure, got %+v", resp)
	}
	resp, err = client.Send(context.Background(), wire.Frame{Tag: wire.TagListApps, Version: wire.CurrentVersion, Payload: []byte("next")})
	if err != nil || !resp.OK() {
		t.Fatalf("follow-up exchange failed: resp=%+v err=%v", resp, err)
	}
}

func TestHandlerPanicBecomesFailure(t *testing.T) {
	_, client := startServer(t, ipc.ServerOptions{})
	err := client.Call(context.Background(), wire.TagFactoryReset, nil, nil)
	var respErr *wire.ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("expected ResponseError, got %v", err)
	}
	if respErr.Tag != wire.TagFactoryReset {
		t.Fatalf("failure tag = %s", respErr.Tag)
	}
	if err := client.Call(context.Background(), wire.TagListApps, wire.Empty{}, nil); err != nil {
		t.Fatalf("listener did not survive panic: %v", err)
	}
}

func TestTruncatedRequestGetsProtocolFailure(t *testing.T) {
	srv, client := startServer(t, ipc.ServerOptions{ExchangeTimeout: 2 * time.Second})

	conn, err := net.Dial("unix", srv.Endpoint().Address)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	header := make([]byte, wire.HeaderSize)
	binary.BigEndian.PutUint32(header[0:4], uint32(wire.TagListApps))
	binary.BigEndian.PutUint32(header[4:8], wire.CurrentVersion)
	binary.BigEndian.PutUint32(header[8:12], 100)
	if _, err := conn.Write(append(header, []byte("only ten..")...)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.(*net.UnixConn).CloseWrite(); err != nil {
		t.Fatalf("close write: %v", err)
	}
	frame, err := wire.ReadFrame(conn)
	conn.Close()
	if err != nil {
		t.Fatalf("read protocol failure: %v", err)
	}
	resp, err := wire.DecodeResponse(frame)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if resp.OK() || resp.Tag != wire.TagError {
		t.Fatalf("expected TagError failure, got %+v", resp)
	}

	if _, err := client.Send(context.Background(), wire.Frame{Tag: wire.TagListApps, Version: wire.CurrentVersion}); err != nil {
		t.Fatalf("listener did not survive malformed frame: %v", err)
	}
}

func TestAbandonedConnectionDoesNotStopListener(t *testing.T) {
	srv, client := startServer(t, ipc.ServerOptions{})
	conn, err := net.Dial("unix", srv.Endpoint().Address)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()
	if _, err := client.Send(context.Background(), wire.Frame{Tag: wire.TagListApps, Version: wire.CurrentVersion}); err != nil {
		t.Fatalf("Send after abandoned connection: %v", err)
	}
}

func TestDialFailureIsTransportError(t *testing.T) {
	client := ipc.NewClient(ipc.Endpoint{Network: "unix", Address: shortSocketPath(t)}, ipc.ClientOptions{DialTimeout: 200 * time.Millisecond})
	_, err := client.Send(context.Background(), wire.Frame{Tag: wire.TagListApps})
	var te *ipc.TransportError
	if !errors.As(err, &te) || te.Op != "dial" {
		t.Fatalf("expected dial TransportError, got %v", err)
	}
	if !ipc.IsTransport(err) {
		t.Fatal("IsTransport should report true")
	}
}

func TestTCPEndpoint(t *testing.T) {
	srv, err := ipc.NewServer(context.Background(), ipc.Endpoint{Network: "tcp", Address: "127.0.0.1:0"}, echoHandler{}, logging.NewNop(), ipc.ServerOptions{})
	if err != nil {
		t.Skipf("loopback listen unavailable: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)
	client := ipc.NewClient(srv.Endpoint(), ipc.ClientOptions{})
	var out wire.TimeInfo
	if err := client.Call(context.Background(), wire.TagGetTimeInfo, wire.TimeInfo{TimeZone: "UTC"}, &out); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out.TimeZone != "UTC" {
		t.Fatalf("echoed time zone = %q", out.TimeZone)
	}
}

func TestServerRefusesNonLoopbackTCP(t *testing.T) {
	for _, addr := range []string{"0.0.0.0:0", "[::]:0", ":0"} {
		_, err := ipc.NewServer(context.Background(), ipc.Endpoint{Network: "tcp", Address: addr}, echoHandler{}, logging.NewNop(), ipc.ServerOptions{})
		if !errors.Is(err, ipc.ErrNotLocal) {
			t.Fatalf("NewServer(%s) error = %v, want ErrNotLocal", addr, err)
		}
	}
	_, err := ipc.NewServer(context.Background(), ipc.Endpoint{Network: "tcp", Address: "127.0.0.1:0"}, echoHandler{}, logging.NewNop(), ipc.ServerOptions{AllowedUIDs: []int{424242}})
	if err == nil {
		t.Fatal("expected error for allowed uids on tcp")
	}
}

func TestAllowListRejectsOtherUID(t *testing.T) {
	_, client := startServer(t, ipc.ServerOptions{AllowedUIDs: []int{os.Getuid() + 424242}})
	resp, err := client.Send(context.Background(), wire.Frame{Tag: wire.TagGetTimeInfo, Version: wire.CurrentVersion, Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.OK() || resp.Tag != wire.TagError || !strings.Contains(resp.Message, "not permitted") {
		t.Fatalf("response = %+v, want refusal", resp)
	}
}

func TestAllowListAdmitsOwnUID(t *testing.T) {
	_, client := startServer(t, ipc.ServerOptions{AllowedUIDs: []int{os.Getuid()}})
	var out wire.TimeInfo
	err := client.Call(context.Background(), wire.TagGetTimeInfo, wire.TimeInfo{TimeZone: "UTC"}, &out)
	if runtime.GOOS != "linux" {
		if err == nil {
			t.Fatal("expected refusal where peer credentials are unavailable")
		}
		return
	}
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		want ipc.Endpoint
	}{
		{"/run/dmagent.sock", ipc.Endpoint{Network: "unix", Address: "/run/dmagent.sock"}},
		{"unix:/tmp/x.sock", ipc.Endpoint{Network: "unix", Address: "/tmp/x.sock"}},
		{"tcp:127.0.0.1:9000", ipc.Endpoint{Network: "tcp", Address: "127.0.0.1:9000"}},
	}
	for _, tt := range tests {
		got, err := ipc.ParseEndpoint(tt.in)
		if err != nil || got != tt.want {
			t.Fatalf("ParseEndpoint(%q) = %+v, %v", tt.in, got, err)
		}
	}
	if _, err := ipc.ParseEndpoint("  "); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}
