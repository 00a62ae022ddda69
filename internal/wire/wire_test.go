package wire_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"dmagent/internal/wire"
)

func TestFrameRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 64 << 10}
	for _, size := range sizes {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i % 251)
		}
		in := wire.Frame{Tag: wire.TagSetTimeInfo, Version: 7, Payload: payload}

		var buf bytes.Buffer
		if err := wire.WriteFrame(&buf, in); err != nil {
			t.Fatalf("WriteFrame(%d): %v", size, err)
		}
		if buf.Len() != wire.HeaderSize+size {
			t.Fatalf("encoded size %d, want %d", buf.Len(), wire.HeaderSize+size)
		}
		out, err := wire.ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame(%d): %v", size, err)
		}
		if out.Tag != in.Tag || out.Version != in.Version || !bytes.Equal(out.Payload, in.Payload) {
			t.Fatalf("round trip mismatch for size %d", size)
		}
	}
}

// oneByteReader forces callers through many short reads.
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestReadFrameAcrossShortReads(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte("x"), 5000)
	if err := wire.WriteFrame(&buf, wire.Frame{Tag: wire.TagListApps, Version: 1, Payload: payload}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	out, err := wire.ReadFrame(oneByteReader{&buf})
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(out.Payload, payload) {
		t.Fatal("payload mismatch")
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := wire.WriteFrame(&buf, wire.Frame{Tag: wire.TagListApps, Version: 1, Payload: []byte("abcdef")}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	truncated := buf.Bytes()[:buf.Len()-2]
	_, err := wire.ReadFrame(bytes.NewReader(truncated))
	if !errors.Is(err, wire.ErrShortFrame) {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
	if !wire.IsProtocolError(err) {
		t.Fatal("expected protocol error classification")
	}
}

func TestReadFrameTruncatedHeaderAndEOF(t *testing.T) {
	if _, err := wire.ReadFrame(bytes.NewReader(nil)); !errors.Is(err, io.EOF) {
		t.Fatalf("empty stream: expected io.EOF, got %v", err)
	}
	if _, err := wire.ReadFrame(bytes.NewReader([]byte{0, 0, 0, 1, 0})); !errors.Is(err, wire.ErrShortFrame) {
		t.Fatalf("partial header: expected ErrShortFrame, got %v", err)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	header := []byte{0, 0, 0, 1, 0, 0, 0, 1, 0xFF, 0xFF, 0xFF, 0xFF}
	_, err := wire.ReadFrame(bytes.NewReader(header))
	if !errors.Is(err, wire.ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestResponseEnvelope(t *testing.T) {
	tests := []wire.Response{
		wire.Success(wire.TagGetTimeInfo, []byte(`{"timeZone":"UTC"}`)),
		wire.Failure(wire.TagSetTimeInfo, "set time zone: %s", "denied"),
		{Tag: wire.TagError, Version: wire.CurrentVersion, Status: wire.StatusFailure},
	}
	for _, in := range tests {
		var buf bytes.Buffer
		if err := wire.WriteFrame(&buf, in.Frame()); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		f, err := wire.ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		out, err := wire.DecodeResponse(f)
		if err != nil {
			t.Fatalf("DecodeResponse: %v", err)
		}
		if out.Tag != in.Tag || out.Status != in.Status || out.Message != in.Message || !bytes.Equal(out.Body, in.Body) {
			t.Fatalf("response mismatch: got %+v want %+v", out, in)
		}
	}
}

func TestResponseErr(t *testing.T) {
	resp := wire.Failure(wire.TagInstallApp, "disk full")
	err := resp.Err()
	var respErr *wire.ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("expected *ResponseError, got %T", err)
	}
	if respErr.Tag != wire.TagInstallApp || respErr.Message != "disk full" {
		t.Fatalf("unexpected error %+v", respErr)
	}
	if wire.Success(wire.TagListApps, nil).Err() != nil {
		t.Fatal("success should not produce error")
	}
}

func TestDecodeResponseRejectsBadEnvelope(t *testing.T) {
	if _, err := wire.DecodeResponse(wire.Frame{Payload: []byte{0, 0}}); !errors.Is(err, wire.ErrShortFrame) {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
	bad := []byte{0, 0, 0, 1, 0, 0, 0, 9, 'x'}
	if _, err := wire.DecodeResponse(wire.Frame{Payload: bad}); !errors.Is(err, wire.ErrShortFrame) {
		t.Fatalf("expected ErrShortFrame for oversize msgLen, got %v", err)
	}
}

func TestParseTag(t *testing.T) {
	if tag, ok := wire.ParseTag("GetTimeInfo"); !ok || tag != wire.TagGetTimeInfo {
		t.Fatalf("ParseTag by name = %v, %v", tag, ok)
	}
	if tag, ok := wire.ParseTag("13"); !ok || tag != wire.TagImmediateReboot {
		t.Fatalf("ParseTag by number = %v, %v", tag, ok)
	}
	if _, ok := wire.ParseTag("Nope"); ok {
		t.Fatal("expected unknown tag")
	}
	if wire.Tag(999).String() != "Tag(999)" {
		t.Fatalf("unexpected String for unknown tag: %s", wire.Tag(999))
	}
}
