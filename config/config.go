// Package config collects the protocol constants (block size, backlog,
// keep-alive interval, peer-id) into a record threaded through
// component constructors instead of module-level globals, so the peer
// engine, piece manager, and tracker carry no mutable process-wide state.
package config

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// BlockSize is the unit of REQUEST/PIECE exchange.
	BlockSize = 16384

	// MaxBacklog bounds the number of outstanding REQUESTs a session
	// keeps in flight against one peer.
	MaxBacklog = 5

	// KeepAliveInterval is how long a session waits with nothing sent
	// before transmitting a zero-length keep-alive frame.
	KeepAliveInterval = 120 * time.Second

	// ReadTimeout is how long a session waits with nothing received
	// before it is declared dead. Strictly greater than KeepAliveInterval.
	ReadTimeout = 300 * time.Second

	// AnnounceInterval is the interval (seconds) the tracker advertises
	// to callers in every announce response.
	AnnounceInterval = 120

	// PeerTimeout is how long a tracker record may go unrefreshed before
	// the reaper deletes it.
	PeerTimeout = 180 * time.Second

	// ReapInterval is how often the tracker reaper sweeps the swarm map.
	ReapInterval = 60 * time.Second

	peerIDPrefix = "-GS0001-"
)

// Config is threaded through the constructors of the peer engine, piece
// manager, and tracker.
type Config struct {
	PeerID     [20]byte
	Log        *logrus.Logger
	ListenPort uint16
}

// New builds a Config with a process-unique peer-id (an azureus-style
// prefix followed by a random suffix) and a logrus.Logger writing to
// the default output.
func New(listenPort uint16) *Config {
	return &Config{
		PeerID:     generatePeerID(),
		Log:        logrus.New(),
		ListenPort: listenPort,
	}
}

// generatePeerID builds a 20-byte azureus-style peer id: an 8-byte
// client/version prefix followed by 12 bytes derived from a random UUID.
func generatePeerID() [20]byte {
	var id [20]byte
	copy(id[:], peerIDPrefix)
	suffix := uuid.New()
	copy(id[len(peerIDPrefix):], suffix[:12])
	return id
}
