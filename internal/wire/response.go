package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Status is the outcome carried by every response.
type Status uint32

const (
	StatusSuccess Status = 0
	StatusFailure Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	default:
		return fmt.Sprintf("status(%d)", uint32(s))
	}
}

// Response is a decoded response frame. Body holds the command's typed
// payload on success and is usually empty on failure.
type Response struct {
	Tag     Tag
	Version uint32
	Status  Status
	Message string
	Body    []byte
}

// Success builds a successful response around an already-encoded body.
func Success(tag Tag, body []byte) Response {
	return Response{Tag: tag, Version: CurrentVersion, Status: StatusSuccess, Body: body}
}

// Failure builds a failed response with a human readable message.
func Failure(tag Tag, format string, args ...any) Response {
	return Response{Tag: tag, Version: CurrentVersion, Status: StatusFailure, Message: fmt.Sprintf(format, args...)}
}

// OK reports whether the response carries StatusSuccess.
func (r Response) OK() bool { return r.Status == StatusSuccess }

// Err returns nil on success and a *ResponseError otherwise.
func (r Response) Err() error {
	if r.OK() {
		return nil
	}
	return &ResponseError{Tag: r.Tag, Status: r.Status, Message: r.Message}
}

// Decode unmarshals the JSON body into v. An empty body leaves v untouched.
func (r Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode %s response: %w", r.Tag, err)
	}
	return nil
}

// Frame encodes the response as [status][msgLen][msg][body].
func (r Response) Frame() Frame {
	payload := make([]byte, 8+len(r.Message)+len(r.Body))
	binary.BigEndian.PutUint32(payload[0:4], uint32(r.Status))
	binary.BigEndian.PutUint32(payload[4:8], uint32(len(r.Message)))
	copy(payload[8:], r.Message)
	copy(payload[8+len(r.Message):], r.Body)
	return Frame{Tag: r.Tag, Version: r.Version, Payload: payload}
}

// DecodeResponse parses a response frame.
func DecodeResponse(f Frame) (Response, error) {
	if len(f.Payload) < 8 {
		return Response{}, fmt.Errorf("%w: response envelope needs 8 bytes, got %d", ErrShortFrame, len(f.Payload))
	}
	msgLen := binary.BigEndian.Uint32(f.Payload[4:8])
	if uint64(msgLen) > uint64(len(f.Payload)-8) {
		return Response{}, fmt.Errorf("%w: message length %d exceeds payload", ErrShortFrame, msgLen)
	}
	end := 8 + int(msgLen)
	resp := Response{
		Tag:     f.Tag,
		Version: f.Version,
		Status:  Status(binary.BigEndian.Uint32(f.Payload[0:4])),
		Message: string(f.Payload[8:end]),
	}
	if end < len(f.Payload) {
		resp.Body = append([]byte(nil), f.Payload[end:]...)
	}
	return resp, nil
}

// ResponseError is a Failure response surfaced as a Go error on the caller side.
type ResponseError struct {
	Tag     Tag
	Status  Status
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Tag, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Message)
}

// NewRequest builds a request frame with a JSON payload. A nil v yields an
// empty payload.
func NewRequest(tag Tag, v any) (Frame, error) {
	f := Frame{Tag: tag, Version: CurrentVersion}
	if v == nil {
		return f, nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s request: %w", tag, err)
	}
	f.Payload = payload
	return f, nil
}
