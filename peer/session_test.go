package peer

import (
	"crypto/sha1"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovidlat/goswarm/message"
	"github.com/ovidlat/goswarm/piece"
)

func makeManager(t *testing.T, content string, pieceLength int) *piece.Manager {
	t.Helper()
	hashes := hashesFor(t, content, pieceLength)
	path := filepath.Join(t.TempDir(), "out.bin")
	m, err := piece.NewManager(path, len(content), pieceLength, hashes, nil)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestHandshakeSerializeRoundTrip(t *testing.T) {
	var infoHash, peerID [20]byte
	copy(infoHash[:], "infohashinfohash1234")
	copy(peerID[:], "peeridpeeridpeerid12")

	h := NewHandshake(infoHash, peerID)
	r, w := net.Pipe()
	go func() { w.Write(h.Serialize()) }()

	got, err := ReadHandshake(r)
	require.NoError(t, err)
	assert.Equal(t, protocolString, got.Pstr)
	assert.Equal(t, infoHash, got.InfoHash)
	assert.Equal(t, peerID, got.PeerID)
}

func TestSessionTransfersCompletePiece(t *testing.T) {
	content := "hello world!!!!!"
	seederMgr := makeManager(t, content, 16)
	leecherMgr := makeManager(t, content, 16)

	require.NoError(t, seederMgr.AcceptBlock(0, 0, []byte(content)))
	require.True(t, seederMgr.Complete())
	require.False(t, leecherMgr.Complete())

	var infoHash [20]byte
	copy(infoHash[:], "infohashinfohash1234")
	var seederID, leecherID [20]byte
	copy(seederID[:], "seederidseederid1234")
	copy(leecherID[:], "leecheridleecherid12")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *Session, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s, err := Accept(conn, seederID, infoHash, seederMgr, nil)
		if err == nil {
			accepted <- s
		}
	}()

	dialed, err := Dial(ln.Addr().String(), leecherID, infoHash, leecherMgr, nil)
	require.NoError(t, err)
	defer dialed.Close()

	select {
	case s := <-accepted:
		defer s.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("inbound session never established")
	}

	require.Eventually(t, func() bool {
		return leecherMgr.Complete()
	}, 2*time.Second, 10*time.Millisecond)

	block, err := leecherMgr.ReadBlock(0, 0, len(content))
	require.NoError(t, err)
	assert.Equal(t, content, string(block))
}

func TestSendHaveWritesHaveMessage(t *testing.T) {
	mgr := makeManager(t, "abcdefgh", 4)
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	s := newSession(local, [20]byte{}, mgr, nil)
	go func() { s.SendHave(1) }()

	msg, err := message.Read(remote)
	require.NoError(t, err)
	require.NotNil(t, msg)
	index, err := message.ParseHave(msg)
	require.NoError(t, err)
	assert.Equal(t, 1, index)
}

func hashesFor(t *testing.T, content string, pieceLength int) [][20]byte {
	t.Helper()
	n := (len(content) + pieceLength - 1) / pieceLength
	hashes := make([][20]byte, n)
	for i := 0; i < n; i++ {
		begin := i * pieceLength
		end := begin + pieceLength
		if end > len(content) {
			end = len(content)
		}
		hashes[i] = sha1.Sum([]byte(content[begin:end]))
	}
	return hashes
}
