// Package metainfo parses .torrent files into the fields a peer needs to
// join a swarm: the tracker announce URL, the info-hash, and the piece
// layout, per BEP 3.
package metainfo

import (
	"crypto/sha1"
	"fmt"
	"io"
	"math"

	"github.com/ovidlat/goswarm/bencode"
)

const hashLen = 20

// Metainfo is the decoded content of a .torrent file.
type Metainfo struct {
	Announce    string
	InfoHash    [20]byte
	PieceHashes [][20]byte
	PieceLength int
	Length      int
	Name        string
}

// Parse decodes a bencoded metainfo document from r, validates its shape,
// and computes the info-hash by re-encoding the info dict canonically.
func Parse(r io.Reader) (*Metainfo, error) {
	root, err := bencode.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("metainfo: %w", err)
	}
	if root.Kind != bencode.KindDict {
		return nil, fmt.Errorf("%w: metainfo: top level is not a dict", bencode.ErrMalformed)
	}

	announce, err := root.GetString("announce")
	if err != nil {
		return nil, fmt.Errorf("%w: metainfo: %w", bencode.ErrMalformed, err)
	}

	info, err := root.GetDict("info")
	if err != nil {
		return nil, fmt.Errorf("%w: metainfo: %w", bencode.ErrMalformed, err)
	}

	name, err := info.GetString("name")
	if err != nil {
		return nil, fmt.Errorf("%w: metainfo: %w", bencode.ErrMalformed, err)
	}
	pieceLength, err := info.GetInt("piece length")
	if err != nil {
		return nil, fmt.Errorf("%w: metainfo: %w", bencode.ErrMalformed, err)
	}
	if pieceLength <= 0 {
		return nil, fmt.Errorf("%w: metainfo: non-positive piece length %d", bencode.ErrMalformed, pieceLength)
	}
	length, err := info.GetInt("length")
	if err != nil {
		return nil, fmt.Errorf("%w: metainfo: %w", bencode.ErrMalformed, err)
	}
	if length < 0 {
		return nil, fmt.Errorf("%w: metainfo: negative length %d", bencode.ErrMalformed, length)
	}
	piecesVal, ok := info.Get("pieces")
	if !ok || piecesVal.Kind != bencode.KindBytes {
		return nil, fmt.Errorf("%w: metainfo: missing or malformed pieces field", bencode.ErrMalformed)
	}
	if len(piecesVal.Bytes)%hashLen != 0 {
		return nil, fmt.Errorf("%w: metainfo: pieces length %d is not a multiple of %d", bencode.ErrMalformed, len(piecesVal.Bytes), hashLen)
	}

	numHashes := len(piecesVal.Bytes) / hashLen
	wantHashes := int(math.Ceil(float64(length) / float64(pieceLength)))
	if length == 0 {
		wantHashes = 0
	}
	if numHashes != wantHashes {
		return nil, fmt.Errorf("%w: metainfo: pieces holds %d hashes, want %d for length %d at piece length %d",
			bencode.ErrMalformed, numHashes, wantHashes, length, pieceLength)
	}

	pieceHashes := make([][20]byte, numHashes)
	for i := 0; i < numHashes; i++ {
		copy(pieceHashes[i][:], piecesVal.Bytes[i*hashLen:(i+1)*hashLen])
	}

	infoHash := sha1.Sum(info.EncodeToBytes())

	return &Metainfo{
		Announce:    announce,
		InfoHash:    infoHash,
		PieceHashes: pieceHashes,
		PieceLength: int(pieceLength),
		Length:      int(length),
		Name:        name,
	}, nil
}

// PieceLengthOf returns the byte length of piece i, accounting for the
// final piece being shorter than PieceLength whenever Length is not an
// exact multiple of it.
func (m *Metainfo) PieceLengthOf(i int) int {
	begin := i * m.PieceLength
	end := begin + m.PieceLength
	if end > m.Length {
		end = m.Length
	}
	return end - begin
}

// NumPieces returns the number of pieces this torrent is divided into.
func (m *Metainfo) NumPieces() int {
	return len(m.PieceHashes)
}
