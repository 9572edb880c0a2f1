package peer

import "errors"

// ErrProtocolViolation marks a session-fatal contract breach: a
// handshake info-hash mismatch, an out-of-range HAVE index, or a
// malformed framed message. It terminates the offending session only.
var ErrProtocolViolation = errors.New("peer: protocol violation")

// ErrTransport marks a session-fatal I/O failure: socket read/write
// error, connection refused, or read timeout.
var ErrTransport = errors.New("peer: transport error")
