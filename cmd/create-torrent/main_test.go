package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovidlat/goswarm/metainfo"
)

func TestRunProducesParseableMetainfo(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "payload.bin")
	content := make([]byte, pieceLength+1234)
	for i := range content {
		content[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(srcPath, content, 0o644))

	outPath := filepath.Join(dir, "out.torrent")
	require.NoError(t, run(srcPath, "http://tracker.example/announce", outPath))

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()

	mi, err := metainfo.Parse(f)
	require.NoError(t, err)
	assert.Equal(t, "payload.bin", mi.Name)
	assert.Equal(t, "http://tracker.example/announce", mi.Announce)
	assert.Equal(t, len(content), mi.Length)
	assert.Equal(t, 2, mi.NumPieces())
}
