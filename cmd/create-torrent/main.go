// Command create-torrent hashes a file into fixed-size pieces and
// writes a .torrent metainfo file pointing at a tracker.
package main

import (
	"crypto/sha1"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ovidlat/goswarm/bencode"
)

const pieceLength = 262144 // 256 KiB

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: create-torrent <file> <tracker-url> <output.torrent>")
	}
	flag.Parse()
	args := flag.Args()
	if len(args) != 3 {
		flag.Usage()
		os.Exit(2)
	}
	filePath, trackerURL, outputPath := args[0], args[1], args[2]

	if err := run(filePath, trackerURL, outputPath); err != nil {
		fmt.Fprintln(os.Stderr, "create-torrent:", err)
		os.Exit(1)
	}
}

func run(filePath, trackerURL, outputPath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", filePath, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", filePath, err)
	}

	var pieces []byte
	numPieces := 0
	buf := make([]byte, pieceLength)
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			hash := sha1.Sum(buf[:n])
			pieces = append(pieces, hash[:]...)
			numPieces++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", filePath, err)
		}
	}

	info := bencode.NewDict()
	info.Set("name", bencode.Str(stat.Name()))
	info.Set("piece length", bencode.Int64(pieceLength))
	info.Set("pieces", bencode.Bytestring(pieces))
	info.Set("length", bencode.Int64(stat.Size()))

	root := bencode.NewDict()
	root.Set("announce", bencode.Str(trackerURL))
	root.Set("info", info)

	infoHash := sha1.Sum(info.EncodeToBytes())

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outputPath, err)
	}
	defer out.Close()
	if err := root.Encode(out); err != nil {
		return fmt.Errorf("write %s: %w", outputPath, err)
	}

	fmt.Printf("Creating torrent for: %s\n", stat.Name())
	fmt.Printf("File size: %d bytes\n", stat.Size())
	fmt.Printf("Piece length: %d bytes\n", pieceLength)
	fmt.Printf("Number of pieces: %d\n", numPieces)
	fmt.Printf("Torrent created: %s\n", outputPath)
	fmt.Printf("Info hash: %x\n", infoHash)
	fmt.Printf("Tracker URL: %s\n", trackerURL)
	return nil
}
