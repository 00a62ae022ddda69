package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
)

func TestNewFanoutHandlerNilHandlers(t *testing.T) {
	h := newFanoutHandler(nil, nil)
	if _, ok := h.(NoopHandler); !ok {
		t.Errorf("expected NoopHandler for all nil handlers, got %T", h)
	}
}

func TestNewFanoutHandlerSingleHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := newFanoutHandler(nil, inner); h != inner {
		t.Error("expected single non-nil handler to be returned unwrapped")
	}
}

func TestFanoutHandlerRespectsLevels(t *testing.T) {
	var info, debug bytes.Buffer
	h := newFanoutHandler(
		slog.NewJSONHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected fanout enabled for debug")
	}
	logger := slog.New(h).With("component", "test")
	logger.Debug("debug only")
	logger.Info("both")

	if bytes.Contains(info.Bytes(), []byte("debug only")) {
		t.Fatal("info handler received debug record")
	}
	if !bytes.Contains(debug.Bytes(), []byte("debug only")) || !bytes.Contains(debug.Bytes(), []byte("both")) {
		t.Fatalf("debug handler missing records: %s", debug.String())
	}
	if !bytes.Contains(info.Bytes(), []byte(`"component":"test"`)) {
		t.Fatalf("attrs not propagated: %s", info.String())
	}
}

func TestTeeLogger(t *testing.T) {
	var a, b bytes.Buffer
	base := slog.New(slog.NewTextHandler(&a, nil))
	tee := TeeLogger(base, slog.NewTextHandler(&b, nil))
	tee.Info("tee message")
	if !bytes.Contains(a.Bytes(), []byte("tee message")) || !bytes.Contains(b.Bytes(), []byte("tee message")) {
		t.Fatalf("expected message in both outputs: %q / %q", a.String(), b.String())
	}
}
