package peer

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ovidlat/goswarm/bitfield"
	"github.com/ovidlat/goswarm/config"
	"github.com/ovidlat/goswarm/message"
	"github.com/ovidlat/goswarm/piece"
)

// Session is one live peer-session, symmetric whether it was opened by
// dialing out or accepting an inbound connection: both converge here
// after the handshake/bitfield/interested exchange, each owning a
// reader goroutine (drives the state machine) and a requester goroutine
// (issues REQUESTs and keep-alives).
type Session struct {
	conn   net.Conn
	cfg    *config.Config
	mgr    *piece.Manager
	remote [20]byte

	sendMu sync.Mutex
	lastTx time.Time

	mu             sync.Mutex
	amChoking      bool
	amInterested   bool
	peerChoking    bool
	peerInterested bool
	peerHave       bitfield.Bitfield
	backlog        int

	done     chan struct{}
	closeErr error
	once     sync.Once
}

const maxBacklog = config.MaxBacklog

func newSession(conn net.Conn, remote [20]byte, mgr *piece.Manager, cfg *config.Config) *Session {
	return &Session{
		conn:        conn,
		cfg:         cfg,
		mgr:         mgr,
		remote:      remote,
		amChoking:   true,
		peerChoking: true,
		peerHave:    bitfield.New(mgr.NumPieces()),
		done:        make(chan struct{}),
	}
}

// Dial opens an outbound TCP connection to addr, completes the
// handshake and bitfield/interested exchange, and starts the session's
// goroutines.
func Dial(addr string, peerID, infoHash [20]byte, mgr *piece.Manager, cfg *config.Config) (*Session, error) {
	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, addr, err)
	}
	s, err := openSession(conn, peerID, infoHash, mgr, cfg, false)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Accept completes the handshake and bitfield exchange on an inbound
// connection already accepted by a listener, and starts the session's
// goroutines.
func Accept(conn net.Conn, peerID, infoHash [20]byte, mgr *piece.Manager, cfg *config.Config) (*Session, error) {
	s, err := openSession(conn, peerID, infoHash, mgr, cfg, true)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func openSession(conn net.Conn, peerID, infoHash [20]byte, mgr *piece.Manager, cfg *config.Config, inbound bool) (*Session, error) {
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	remote, err := exchangeHandshake(conn, infoHash, peerID)
	if err != nil {
		return nil, err
	}
	conn.SetDeadline(time.Time{})

	s := newSession(conn, remote.PeerID, mgr, cfg)

	if err := s.send(message.Bitfield(mgr.Bitfield())); err != nil {
		return nil, err
	}
	theirBitfield, err := message.Read(conn)
	if err != nil {
		return nil, fmt.Errorf("%w: read initial bitfield: %v", ErrTransport, err)
	}
	if theirBitfield != nil {
		if theirBitfield.ID != message.MsgBitField {
			return nil, fmt.Errorf("%w: expected BITFIELD as first message, got %s", ErrProtocolViolation, theirBitfield.ID)
		}
		s.mu.Lock()
		s.peerHave = bitfield.Bitfield(theirBitfield.Payload)
		s.mu.Unlock()
	}

	if inbound {
		if err := s.send(&message.Message{ID: message.MsgUnchoke}); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.amChoking = false
		s.mu.Unlock()
	}

	if s.wantsAnything() {
		if err := s.send(&message.Message{ID: message.MsgInterested}); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.amInterested = true
		s.mu.Unlock()
	}

	go s.readLoop(theirBitfield == nil)
	go s.requestLoop()
	return s, nil
}

func (s *Session) wantsAnything() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < s.mgr.NumPieces(); i++ {
		if !s.mgr.Have(i) && s.peerHave.CheckPiece(i) {
			return true
		}
	}
	return false
}

func (s *Session) log() *logrus.Entry {
	if s.cfg == nil || s.cfg.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return s.cfg.Log.WithField("remote", s.conn.RemoteAddr())
}

// send serializes and writes msg, guarding the connection against
// concurrent writers from the reader (serving PIECE) and requester
// (issuing REQUEST/keep-alive) goroutines.
func (s *Session) send(msg *message.Message) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if _, err := s.conn.Write(msg.Serialize()); err != nil {
		s.terminate(fmt.Errorf("%w: write: %v", ErrTransport, err))
		return fmt.Errorf("%w: write: %v", ErrTransport, err)
	}
	s.lastTx = time.Now()
	return nil
}

// SendHave advertises that the local side now has piece index, so the
// remote peer can REQUEST it. Safe to call after the session has
// terminated; the write simply fails and is reported to the caller.
func (s *Session) SendHave(index int) error {
	return s.send(message.Have(index))
}

// RemoteAddr returns the session's remote network address as a string.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Alive reports whether the session is still live.
func (s *Session) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Close terminates the session, closing its socket. Idempotent.
func (s *Session) Close() error {
	s.terminate(nil)
	return nil
}

func (s *Session) terminate(err error) {
	s.once.Do(func() {
		s.closeErr = err
		s.conn.Close()
		close(s.done)
		if err != nil {
			s.log().WithError(err).Debug("session terminated")
		}
	})
}

// readLoop drives the receive-side state machine. bitfieldAllowed is
// false once openSession has already consumed a non-keep-alive first
// message, so any later BITFIELD is a protocol violation.
func (s *Session) readLoop(bitfieldAllowed bool) {
	defer s.terminate(nil)
	first := bitfieldAllowed
	for {
		s.conn.SetReadDeadline(time.Now().Add(config.ReadTimeout))
		msg, err := message.Read(s.conn)
		if err != nil {
			s.terminate(fmt.Errorf("%w: %v", ErrTransport, err))
			return
		}
		if msg == nil {
			continue // keep-alive
		}
		if err := s.handle(msg, first); err != nil {
			s.terminate(err)
			return
		}
		first = false
	}
}

func (s *Session) handle(msg *message.Message, first bool) error {
	switch msg.ID {
	case message.MsgChoke:
		s.mu.Lock()
		s.peerChoking = true
		s.mu.Unlock()
	case message.MsgUnchoke:
		s.mu.Lock()
		s.peerChoking = false
		s.mu.Unlock()
	case message.MsgInterested:
		s.mu.Lock()
		s.peerInterested = true
		s.mu.Unlock()
	case message.MsgNotInterested:
		s.mu.Lock()
		s.peerInterested = false
		s.mu.Unlock()
	case message.MsgHave:
		index, err := message.ParseHave(msg)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
		}
		if index < 0 || index >= s.mgr.NumPieces() {
			return fmt.Errorf("%w: HAVE index %d out of range", ErrProtocolViolation, index)
		}
		s.mu.Lock()
		s.peerHave.SetPiece(index)
		needIt := !s.mgr.Have(index) && !s.amInterested
		s.mu.Unlock()
		if needIt {
			if err := s.send(&message.Message{ID: message.MsgInterested}); err != nil {
				return err
			}
			s.mu.Lock()
			s.amInterested = true
			s.mu.Unlock()
		}
	case message.MsgBitField:
		if !first {
			return fmt.Errorf("%w: BITFIELD received after first message", ErrProtocolViolation)
		}
		s.mu.Lock()
		s.peerHave = bitfield.Bitfield(msg.Payload)
		s.mu.Unlock()
	case message.MsgRequest:
		return s.serveRequest(msg)
	case message.MsgCancel:
		// Requests are served synchronously as they arrive; there is no
		// queued work to cancel.
	case message.MsgPiece:
		return s.acceptPiece(msg)
	default:
		// Unknown message ids are skipped per the wire protocol's
		// forward-compatibility rule.
	}
	return nil
}

func (s *Session) serveRequest(msg *message.Message) error {
	index, begin, length, err := message.ParseRequest(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	s.mu.Lock()
	choking := s.amChoking
	s.mu.Unlock()
	if choking {
		return nil
	}
	block, err := s.mgr.ReadBlock(index, begin, length)
	if err != nil {
		s.log().WithError(err).Debug("ignoring request for unavailable block")
		return nil
	}
	return s.send(message.Piece(index, begin, block))
}

func (s *Session) acceptPiece(msg *message.Message) error {
	index, begin, data, err := message.ParsePieceHeader(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}

	if err := s.mgr.AcceptBlock(index, begin, data); err != nil {
		s.log().WithError(err).WithField("piece", index).Debug("block rejected")
	}
	s.mu.Lock()
	if s.backlog > 0 {
		s.backlog--
	}
	s.mu.Unlock()
	return nil
}

// requestLoop issues REQUESTs while allowed and sends periodic
// keep-alives, until the session terminates.
func (s *Session) requestLoop() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		canRequest := s.amInterested && !s.peerChoking && s.backlog < maxBacklog
		s.mu.Unlock()

		if canRequest {
			index, begin, length, ok := s.mgr.NextRequest(s.snapshotPeerHave())
			if ok {
				if err := s.send(message.Request(index, begin, length)); err != nil {
					s.mgr.ReleaseBlock(index, begin)
					return
				}
				s.mu.Lock()
				s.backlog++
				s.mu.Unlock()
			}
		}

		s.sendMu.Lock()
		idle := time.Since(s.lastTx)
		s.sendMu.Unlock()
		if idle >= config.KeepAliveInterval {
			if err := s.send(nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) snapshotPeerHave() bitfield.Bitfield {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(bitfield.Bitfield, len(s.peerHave))
	copy(cp, s.peerHave)
	return cp
}
