// Package piece owns the on-disk download file and the per-piece state
// machine (missing, in-flight, have) that peer sessions drive: which
// blocks to request next, where to write a received block, and when a
// piece's hash checks out.
package piece

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ovidlat/goswarm/bitfield"
	"github.com/ovidlat/goswarm/config"
)

// ErrIntegrity is returned by AcceptBlock when a completed piece's hash
// does not match the expected value from the metainfo.
var ErrIntegrity = errors.New("piece: integrity check failed")

type blockState int

const (
	blockMissing blockState = iota
	blockInFlight
	blockHave
)

type pieceState struct {
	blocks   []blockState
	received int // bytes written for this piece so far
}

// Manager tracks the download of one torrent's pieces into a single
// pre-sized file on disk, verifying each piece's SHA-1 hash against the
// metainfo as its last block lands.
type Manager struct {
	mu sync.Mutex

	file        *os.File
	pieceLength int
	totalLength int
	hashes      [][20]byte

	bf     bitfield.Bitfield
	states []*pieceState

	done chan int
}

// NewManager creates (or truncates) path to totalLength bytes and
// returns a Manager ready to accept blocks for a torrent with the given
// piece layout and expected per-piece hashes.
func NewManager(path string, totalLength, pieceLength int, hashes [][20]byte, cfg *config.Config) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("piece: open %s: %w", path, err)
	}
	if err := f.Truncate(int64(totalLength)); err != nil {
		f.Close()
		return nil, fmt.Errorf("piece: truncate %s: %w", path, err)
	}

	m := &Manager{
		file:        f,
		pieceLength: pieceLength,
		totalLength: totalLength,
		hashes:      hashes,
		bf:          bitfield.New(len(hashes)),
		states:      make([]*pieceState, len(hashes)),
		done:        make(chan int, len(hashes)),
	}
	for i := range m.states {
		m.states[i] = &pieceState{blocks: make([]blockState, numBlocks(m.pieceBounds(i)))}
	}
	if cfg != nil && cfg.Log != nil {
		cfg.Log.WithField("pieces", len(hashes)).Debug("piece manager initialized")
	}
	return m, nil
}

func numBlocks(length int) int {
	return (length + config.BlockSize - 1) / config.BlockSize
}

func (m *Manager) pieceBounds(index int) int {
	begin := index * m.pieceLength
	end := begin + m.pieceLength
	if end > m.totalLength {
		end = m.totalLength
	}
	return end - begin
}

// Close releases the underlying file handle.
func (m *Manager) Close() error {
	return m.file.Close()
}

// NumPieces returns how many pieces this manager tracks.
func (m *Manager) NumPieces() int { return len(m.hashes) }

// Have reports whether piece index is fully downloaded and verified.
func (m *Manager) Have(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bf.CheckPiece(index)
}

// Bitfield returns a copy of the current completion bitmap.
func (m *Manager) Bitfield() bitfield.Bitfield {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(bitfield.Bitfield, len(m.bf))
	copy(cp, m.bf)
	return cp
}

// Complete reports whether every piece has been verified.
func (m *Manager) Complete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.hashes {
		if !m.bf.CheckPiece(i) {
			return false
		}
	}
	return true
}

// Progress returns (piecesHave, piecesTotal).
func (m *Manager) Progress() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	have := 0
	for i := range m.hashes {
		if m.bf.CheckPiece(i) {
			have++
		}
	}
	return have, len(m.hashes)
}

// Subscribe returns a channel that receives the index of every piece as
// it completes verification. The channel is buffered to hold one entry
// per piece so a slow reader cannot block AcceptBlock.
func (m *Manager) Subscribe() <-chan int {
	return m.done
}

// NextRequest picks a block to request next from a peer whose have-set
// is peerHave, skipping pieces already complete or fully in flight. It
// returns ok=false when there is nothing left to request from this peer.
func (m *Manager) NextRequest(peerHave bitfield.Bitfield) (index, begin, length int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, st := range m.states {
		if m.bf.CheckPiece(i) {
			continue
		}
		if !peerHave.CheckPiece(i) {
			continue
		}
		for b, bs := range st.blocks {
			if bs != blockMissing {
				continue
			}
			begin := b * config.BlockSize
			length := config.BlockSize
			if pieceLen := m.pieceBounds(i); begin+length > pieceLen {
				length = pieceLen - begin
			}
			st.blocks[b] = blockInFlight
			return i, begin, length, true
		}
	}
	return 0, 0, 0, false
}

// ReleaseBlock returns an in-flight block to missing. The peer session
// calls it when sending the REQUEST for the block fails; blocks already
// requested from a peer that later disconnects or chokes stay in flight.
func (m *Manager) ReleaseBlock(index, begin int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.states) {
		return
	}
	b := begin / config.BlockSize
	st := m.states[index]
	if b >= 0 && b < len(st.blocks) && st.blocks[b] == blockInFlight {
		st.blocks[b] = blockMissing
	}
}

// AcceptBlock writes a received block to disk at its piece offset. When
// the block completes its piece, the piece's hash is checked; on
// mismatch every block in the piece is reset to missing and
// ErrIntegrity is returned. On success the piece's bit is set and its
// index is published on Subscribe.
func (m *Manager) AcceptBlock(index, begin int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.states) {
		return fmt.Errorf("piece: block for out-of-range piece %d", index)
	}
	if m.bf.CheckPiece(index) {
		// Already verified; an unsolicited duplicate from a peer we
		// never asked (or asked twice) must not re-run verification
		// or re-publish the completion event.
		return nil
	}
	pieceLen := m.pieceBounds(index)
	if begin < 0 || begin+len(data) > pieceLen {
		return fmt.Errorf("piece: block [%d,%d) overruns piece %d of length %d", begin, begin+len(data), index, pieceLen)
	}

	offset := int64(index)*int64(m.pieceLength) + int64(begin)
	if _, err := m.file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("piece: write piece %d at %d: %w", index, begin, err)
	}

	st := m.states[index]
	b := begin / config.BlockSize
	if b >= 0 && b < len(st.blocks) {
		if st.blocks[b] != blockHave {
			st.received += len(data)
		}
		st.blocks[b] = blockHave
	}

	if st.received < pieceLen {
		return nil
	}

	buf := make([]byte, pieceLen)
	if _, err := m.file.ReadAt(buf, int64(index)*int64(m.pieceLength)); err != nil {
		return fmt.Errorf("piece: re-read piece %d for verification: %w", index, err)
	}
	sum := sha1.Sum(buf)
	if !bytes.Equal(sum[:], m.hashes[index][:]) {
		for b := range st.blocks {
			st.blocks[b] = blockMissing
		}
		st.received = 0
		return fmt.Errorf("%w: piece %d", ErrIntegrity, index)
	}

	m.bf.SetPiece(index)
	m.done <- index
	return nil
}

// ReadBlock returns the requested byte range of piece index, for serving
// REQUEST messages from other peers. The piece must already be complete.
func (m *Manager) ReadBlock(index, begin, length int) ([]byte, error) {
	m.mu.Lock()
	haveIt := m.bf.CheckPiece(index)
	m.mu.Unlock()
	if !haveIt {
		return nil, fmt.Errorf("piece: requested piece %d not yet complete", index)
	}
	pieceLen := m.pieceBounds(index)
	if begin < 0 || begin+length > pieceLen {
		return nil, fmt.Errorf("piece: requested range [%d,%d) overruns piece %d of length %d", begin, begin+length, index, pieceLen)
	}
	buf := make([]byte, length)
	offset := int64(index)*int64(m.pieceLength) + int64(begin)
	if _, err := m.file.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("piece: read piece %d at %d: %w", index, begin, err)
	}
	return buf, nil
}
