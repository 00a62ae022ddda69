// Package wire defines the command channel's on-the-wire shapes: the
// [tag][version][length][payload] frame, the command tags, the status envelope
// carried by responses, and the JSON payload types for each command.
//
// All integers are big-endian uint32. A frame's length always equals its
// payload size; a reader that cannot obtain the full payload reports a
// protocol error rather than a partial frame.
package wire
