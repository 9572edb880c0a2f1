// Package tracker implements the announce rendezvous service: a swarm
// registry keyed by info-hash, dictionary-format peer responses, and a
// reaper that evicts peers that stop announcing.
package tracker

import (
	"strconv"
	"sync"
	"time"

	"github.com/ovidlat/goswarm/config"
)

// Peer is one swarm member as advertised to other peers.
type Peer struct {
	ID   string
	IP   string
	Port uint16
}

type peerRecord struct {
	Peer
	completed    bool
	lastAnnounce time.Time
}

// swarm is the set of peers announced for one info-hash.
type swarm struct {
	mu    sync.RWMutex
	peers map[string]*peerRecord
}

func newSwarm() *swarm {
	return &swarm{peers: make(map[string]*peerRecord)}
}

func peerKey(ip string, port uint16) string {
	return ip + ":" + strconv.Itoa(int(port))
}

// Tracker holds the swarm registry. The outer mutex guards the map of
// swarms; each swarm guards its own peer set, matching the corpus's
// finer-grained locking over a single global lock.
type Tracker struct {
	cfg  *config.Config
	sink AnnounceSink
	hub  *Hub

	mu      sync.RWMutex
	swarms  map[string]*swarm
	stopped chan struct{}
}

// New builds a Tracker. sink may be nil, in which case announces are
// simply not recorded anywhere beyond in-memory swarm state.
func New(cfg *config.Config, sink AnnounceSink) *Tracker {
	if sink == nil {
		sink = noopSink{}
	}
	t := &Tracker{
		cfg:     cfg,
		sink:    sink,
		hub:     NewHub(),
		swarms:  make(map[string]*swarm),
		stopped: make(chan struct{}),
	}
	go t.reap()
	return t
}

// Close stops the tracker's background reaper.
func (t *Tracker) Close() {
	close(t.stopped)
}

// Announce records an announce event and returns the current peer set
// for infoHash, excluding the announcing peer itself.
func (t *Tracker) Announce(infoHash, peerID, ip string, port uint16, event string) []Peer {
	sw := t.swarmFor(infoHash, true)

	key := peerKey(ip, port)
	sw.mu.Lock()
	if event == "stopped" {
		delete(sw.peers, key)
	} else {
		sw.peers[key] = &peerRecord{
			Peer:         Peer{ID: peerID, IP: ip, Port: port},
			completed:    event == "completed",
			lastAnnounce: time.Now(),
		}
	}
	sw.mu.Unlock()

	t.sink.Record(AnnounceEvent{
		InfoHash: infoHash,
		PeerID:   peerID,
		IP:       ip,
		Port:     port,
		Event:    event,
		At:       time.Now(),
	})

	peers := t.peersExcluding(sw, ip, port)
	t.hub.Broadcast(t.snapshot())
	return peers
}

func (t *Tracker) swarmFor(infoHash string, create bool) *swarm {
	t.mu.RLock()
	sw, ok := t.swarms[infoHash]
	t.mu.RUnlock()
	if ok || !create {
		return sw
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if sw, ok := t.swarms[infoHash]; ok {
		return sw
	}
	sw = newSwarm()
	t.swarms[infoHash] = sw
	return sw
}

func (t *Tracker) peersExcluding(sw *swarm, ip string, port uint16) []Peer {
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	peers := make([]Peer, 0, len(sw.peers))
	for _, rec := range sw.peers {
		if rec.IP == ip && rec.Port == port {
			continue
		}
		peers = append(peers, rec.Peer)
	}
	return peers
}

// Stat is one swarm's summary as rendered by /stats.
type Stat struct {
	InfoHash string
	Peers    int
	Seeders  int
	Leechers int
}

// Stats returns one Stat per tracked swarm.
func (t *Tracker) Stats() []Stat {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := make([]Stat, 0, len(t.swarms))
	for infoHash, sw := range t.swarms {
		sw.mu.RLock()
		seeders := 0
		for _, rec := range sw.peers {
			if rec.completed {
				seeders++
			}
		}
		stat := Stat{
			InfoHash: infoHash,
			Peers:    len(sw.peers),
			Seeders:  seeders,
			Leechers: len(sw.peers) - seeders,
		}
		sw.mu.RUnlock()
		stats = append(stats, stat)
	}
	return stats
}

func (t *Tracker) snapshot() []Stat {
	return t.Stats()
}

// reap sweeps every ReapInterval, evicting peer records that have not
// announced within PeerTimeout, and drops swarms left with no peers.
func (t *Tracker) reap() {
	ticker := time.NewTicker(config.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopped:
			return
		case <-ticker.C:
			t.reapOnce()
		}
	}
}

func (t *Tracker) reapOnce() {
	now := time.Now()

	t.mu.Lock()
	swarms := make(map[string]*swarm, len(t.swarms))
	for k, v := range t.swarms {
		swarms[k] = v
	}
	t.mu.Unlock()

	emptied := make([]string, 0)
	for infoHash, sw := range swarms {
		sw.mu.Lock()
		for key, rec := range sw.peers {
			if now.Sub(rec.lastAnnounce) > config.PeerTimeout {
				delete(sw.peers, key)
			}
		}
		empty := len(sw.peers) == 0
		sw.mu.Unlock()
		if empty {
			emptied = append(emptied, infoHash)
		}
	}

	if len(emptied) > 0 {
		t.mu.Lock()
		for _, infoHash := range emptied {
			if sw, ok := t.swarms[infoHash]; ok {
				sw.mu.RLock()
				stillEmpty := len(sw.peers) == 0
				sw.mu.RUnlock()
				if stillEmpty {
					delete(t.swarms, infoHash)
				}
			}
		}
		t.mu.Unlock()
	}

	t.hub.Broadcast(t.snapshot())
	if t.cfg != nil && t.cfg.Log != nil {
		t.mu.RLock()
		numSwarms := len(t.swarms)
		t.mu.RUnlock()
		t.cfg.Log.WithField("swarms", numSwarms).Debug("reaper swept stale peers")
	}
}
