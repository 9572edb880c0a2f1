package metainfo

import (
	"bytes"
	"crypto/sha1"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovidlat/goswarm/bencode"
)

func buildMetainfo(t *testing.T, pieceData []string, length, pieceLength int) []byte {
	t.Helper()
	var pieces bytes.Buffer
	for _, p := range pieceData {
		h := sha1.Sum([]byte(p))
		pieces.Write(h[:])
	}

	info := bencode.NewDict()
	info.Set("name", bencode.Str("test.bin"))
	info.Set("piece length", bencode.Int64(int64(pieceLength)))
	info.Set("length", bencode.Int64(int64(length)))
	info.Set("pieces", bencode.Bytestring(pieces.Bytes()))

	root := bencode.NewDict()
	root.Set("announce", bencode.Str("http://tracker.example/announce"))
	root.Set("info", info)

	return root.EncodeToBytes()
}

func TestParseValidMetainfo(t *testing.T) {
	raw := buildMetainfo(t, []string{"aaaa", "bbbb"}, 8, 4)
	m, err := Parse(bytes.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, "http://tracker.example/announce", m.Announce)
	assert.Equal(t, "test.bin", m.Name)
	assert.Equal(t, 4, m.PieceLength)
	assert.Equal(t, 8, m.Length)
	assert.Len(t, m.PieceHashes, 2)
	assert.Equal(t, 2, m.NumPieces())
}

func TestParseComputesCanonicalInfoHash(t *testing.T) {
	raw := buildMetainfo(t, []string{"aaaa"}, 4, 4)
	m, err := Parse(bytes.NewReader(raw))
	require.NoError(t, err)

	info := bencode.NewDict()
	info.Set("name", bencode.Str("test.bin"))
	info.Set("piece length", bencode.Int64(4))
	info.Set("length", bencode.Int64(4))
	h := sha1.Sum([]byte("aaaa"))
	info.Set("pieces", bencode.Bytestring(h[:]))
	want := sha1.Sum(info.EncodeToBytes())

	assert.Equal(t, want, m.InfoHash)
}

func TestParseRejectsMismatchedPieceCount(t *testing.T) {
	raw := buildMetainfo(t, []string{"aaaa"}, 8, 4)
	_, err := Parse(bytes.NewReader(raw))
	assert.ErrorIs(t, err, bencode.ErrMalformed)
}

func TestParseRejectsTruncatedPieces(t *testing.T) {
	info := bencode.NewDict()
	info.Set("name", bencode.Str("test.bin"))
	info.Set("piece length", bencode.Int64(4))
	info.Set("length", bencode.Int64(4))
	info.Set("pieces", bencode.Bytestring([]byte("short")))
	root := bencode.NewDict()
	root.Set("announce", bencode.Str("http://tracker.example/announce"))
	root.Set("info", info)

	_, err := Parse(bytes.NewReader(root.EncodeToBytes()))
	assert.ErrorIs(t, err, bencode.ErrMalformed)
}

func TestParseRejectsMissingAnnounce(t *testing.T) {
	info := bencode.NewDict()
	info.Set("name", bencode.Str("test.bin"))
	info.Set("piece length", bencode.Int64(4))
	info.Set("length", bencode.Int64(4))
	info.Set("pieces", bencode.Bytestring(make([]byte, 20)))
	root := bencode.NewDict()
	root.Set("info", info)

	_, err := Parse(bytes.NewReader(root.EncodeToBytes()))
	assert.Error(t, err)
}

func TestParseRejectsNonDictTopLevel(t *testing.T) {
	_, err := Parse(strings.NewReader("i5e"))
	assert.ErrorIs(t, err, bencode.ErrMalformed)
}

func TestPieceLengthLastPieceShorter(t *testing.T) {
	raw := buildMetainfo(t, []string{"aaaa", "bb"}, 6, 4)
	m, err := Parse(bytes.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, 4, m.PieceLengthOf(0))
	assert.Equal(t, 2, m.PieceLengthOf(1))
}
