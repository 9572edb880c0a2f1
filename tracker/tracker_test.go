package tracker

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/jackpal/bencode-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovidlat/goswarm/config"
)

func TestAnnounceReturnsOtherPeersNotSelf(t *testing.T) {
	tr := New(nil, nil)
	defer tr.Close()

	peers := tr.Announce("hash1", "peerA", "10.0.0.1", 6001, "started")
	assert.Empty(t, peers)

	peers = tr.Announce("hash1", "peerB", "10.0.0.2", 6002, "started")
	require.Len(t, peers, 1)
	assert.Equal(t, "peerA", peers[0].ID)

	peers = tr.Announce("hash1", "peerA", "10.0.0.1", 6001, "")
	require.Len(t, peers, 1)
	assert.Equal(t, "peerB", peers[0].ID)
}

func TestAnnounceStoppedRemovesPeer(t *testing.T) {
	tr := New(nil, nil)
	defer tr.Close()

	tr.Announce("hash1", "peerA", "10.0.0.1", 6001, "started")
	tr.Announce("hash1", "peerA", "10.0.0.1", 6001, "stopped")

	peers := tr.Announce("hash1", "peerB", "10.0.0.2", 6002, "started")
	assert.Empty(t, peers)
}

func TestStatsCountsSeedersAndLeechers(t *testing.T) {
	tr := New(nil, nil)
	defer tr.Close()

	tr.Announce("hash1", "peerA", "10.0.0.1", 6001, "completed")
	tr.Announce("hash1", "peerB", "10.0.0.2", 6002, "started")

	stats := tr.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].Peers)
	assert.Equal(t, 1, stats[0].Seeders)
	assert.Equal(t, 1, stats[0].Leechers)
}

func TestReapOnceEvictsStalePeers(t *testing.T) {
	tr := New(nil, nil)
	defer tr.Close()

	tr.Announce("hash1", "peerA", "10.0.0.1", 6001, "started")
	sw := tr.swarmFor("hash1", false)
	require.NotNil(t, sw)
	sw.mu.Lock()
	for _, rec := range sw.peers {
		rec.lastAnnounce = time.Now().Add(-1 * time.Hour)
	}
	sw.mu.Unlock()

	tr.reapOnce()

	stats := tr.Stats()
	assert.Empty(t, stats)
}

func TestHandleAnnounceHTTP(t *testing.T) {
	tr := New(nil, nil)
	defer tr.Close()
	router := tr.Router()

	q := url.Values{}
	q.Set("info_hash", string([]byte{1, 2, 3, 4}))
	q.Set("peer_id", "-GS0001-abcdefghijkl")
	q.Set("port", "6881")
	q.Set("event", "started")

	req := httptest.NewRequest(http.MethodGet, "/announce?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp announceResponse
	require.NoError(t, bencode.Unmarshal(rec.Body, &resp))
	assert.Equal(t, config.AnnounceInterval, resp.Interval)
	assert.Empty(t, resp.Peers)
}

func TestHandleAnnounceMissingParams(t *testing.T) {
	tr := New(nil, nil)
	defer tr.Close()
	router := tr.Router()

	req := httptest.NewRequest(http.MethodGet, "/announce", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStatsHTTP(t *testing.T) {
	tr := New(nil, nil)
	defer tr.Close()
	router := tr.Router()

	tr.Announce("hash1", "peerA", "10.0.0.1", 6001, "started")

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Total torrents: 1")
}
