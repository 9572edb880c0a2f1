// Package peer implements the peer wire protocol: the 68-byte handshake,
// length-prefixed message framing, and a bidirectional session that
// drives the choke/interest state machine and a block request pump
// against a shared piece manager.
package peer

import (
	"bytes"
	"fmt"
	"io"
)

const protocolString = "BitTorrent protocol"

// Handshake is the fixed 68-byte preamble exchanged before any framed
// message: a pstr length byte, the protocol string, 8 reserved bytes,
// the info-hash, and the peer-id.
type Handshake struct {
	Pstr     string
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake builds the handshake this process sends for the given
// torrent and peer-id.
func NewHandshake(infoHash, peerID [20]byte) *Handshake {
	return &Handshake{Pstr: protocolString, InfoHash: infoHash, PeerID: peerID}
}

// Serialize returns the wire bytes for h.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, len(h.Pstr)+49)
	cursor := 1
	buf[0] = byte(len(h.Pstr))
	cursor += copy(buf[cursor:], h.Pstr)
	cursor += copy(buf[cursor:], make([]byte, 8))
	cursor += copy(buf[cursor:], h.InfoHash[:])
	copy(buf[cursor:], h.PeerID[:])
	return buf
}

// ReadHandshake reads and parses a handshake from r.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	var lenBuf [1]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("peer: read handshake pstrlen: %w", err)
	}
	pstrlen := int(lenBuf[0])
	rest := make([]byte, pstrlen+48)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, fmt.Errorf("peer: read handshake body: %w", err)
	}
	h := &Handshake{Pstr: string(rest[:pstrlen])}
	cursor := pstrlen + 8
	copy(h.InfoHash[:], rest[cursor:cursor+20])
	cursor += 20
	copy(h.PeerID[:], rest[cursor:cursor+20])
	return h, nil
}

// exchangeHandshake writes our handshake and reads the remote one,
// rejecting an info-hash mismatch per the protocol's one hard check.
func exchangeHandshake(rw io.ReadWriter, infoHash, peerID [20]byte) (*Handshake, error) {
	ours := NewHandshake(infoHash, peerID)
	if _, err := rw.Write(ours.Serialize()); err != nil {
		return nil, fmt.Errorf("peer: send handshake: %w", err)
	}
	theirs, err := ReadHandshake(rw)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(theirs.InfoHash[:], infoHash[:]) {
		return nil, fmt.Errorf("%w: handshake info-hash mismatch: got %x, want %x", ErrProtocolViolation, theirs.InfoHash, infoHash)
	}
	return theirs, nil
}
