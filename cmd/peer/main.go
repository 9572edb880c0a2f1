// Command peer is the BitTorrent peer client bootstrap: parse a
// metainfo file, construct a piece manager, announce to the tracker,
// open a session per returned peer, and listen for inbound connections.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ovidlat/goswarm/config"
	"github.com/ovidlat/goswarm/metainfo"
	"github.com/ovidlat/goswarm/peer"
	"github.com/ovidlat/goswarm/piece"
	"github.com/ovidlat/goswarm/trackerclient"
	"github.com/ovidlat/goswarm/watchdir"
)

func main() {
	listenPort := flag.Uint("listen-port", 6881, "TCP port to accept inbound peer connections on")
	outputDir := flag.String("output-dir", ".", "directory to assemble downloaded files into")
	watchDir := flag.String("watch", "", "directory to watch for dropped .torrent files")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	cfg := config.New(uint16(*listenPort))
	if *verbose {
		cfg.Log.SetLevel(logrus.DebugLevel)
	}

	var running sync.Map // torrent path -> *torrentRun

	for _, path := range flag.Args() {
		r, err := startTorrent(cfg, path, *outputDir, uint16(*listenPort))
		if err != nil {
			cfg.Log.WithError(err).WithField("file", path).Error("failed to start torrent")
			continue
		}
		running.Store(path, r)
	}

	if *watchDir != "" {
		w, err := watchdir.New(*watchDir, cfg.Log)
		if err != nil {
			cfg.Log.WithError(err).Fatal("failed to watch directory")
		}
		defer w.Close()
		go func() {
			for path := range w.Events() {
				r, err := startTorrent(cfg, path, *outputDir, 0)
				if err != nil {
					cfg.Log.WithError(err).WithField("file", path).Error("failed to start watched torrent")
					continue
				}
				running.Store(path, r)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	cfg.Log.Info("shutting down, announcing stopped to trackers")
	running.Range(func(_, v interface{}) bool {
		v.(*torrentRun).shutdown()
		return true
	})
}

// torrentRun is one torrent's running state: its piece manager, its
// inbound listener, and the sessions it opened.
type torrentRun struct {
	cfg      *config.Config
	mi       *metainfo.Metainfo
	mgr      *piece.Manager
	peerID   [20]byte
	ln       net.Listener
	mu       sync.Mutex
	sessions []*peer.Session
	done     chan struct{}
}

func startTorrent(cfg *config.Config, torrentPath, outputDir string, listenPort uint16) (*torrentRun, error) {
	f, err := os.Open(torrentPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", torrentPath, err)
	}
	defer f.Close()

	mi, err := metainfo.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", torrentPath, err)
	}

	outPath := filepath.Join(outputDir, mi.Name)
	mgr, err := piece.NewManager(outPath, mi.Length, mi.PieceLength, mi.PieceHashes, cfg)
	if err != nil {
		return nil, fmt.Errorf("create piece manager for %s: %w", mi.Name, err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", listenPort))
	if err != nil {
		mgr.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	r := &torrentRun{cfg: cfg, mi: mi, mgr: mgr, peerID: cfg.PeerID, ln: ln, done: make(chan struct{})}

	go r.acceptLoop()
	go r.announceLoop()
	go r.watchCompletion()

	return r, nil
}

func (r *torrentRun) acceptLoop() {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			s, err := peer.Accept(conn, r.peerID, r.mi.InfoHash, r.mgr, r.cfg)
			if err != nil {
				r.cfg.Log.WithError(err).Debug("rejected inbound peer")
				return
			}
			r.mu.Lock()
			r.sessions = append(r.sessions, s)
			r.mu.Unlock()
		}()
	}
}

func (r *torrentRun) announceLoop() {
	r.announce("started")
	ticker := time.NewTicker(config.AnnounceInterval * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.announce("")
		}
	}
}

func (r *torrentRun) announce(event string) {
	port := uint16(0)
	if tcpAddr, ok := r.ln.Addr().(*net.TCPAddr); ok {
		port = uint16(tcpAddr.Port)
	}

	have, total := r.mgr.Progress()
	left := int64(0)
	if total > 0 {
		left = int64(r.mi.Length) * int64(total-have) / int64(total)
	}

	resp, err := trackerclient.Announce(r.mi.Announce, r.mi.InfoHash, r.peerID, port, 0, 0, left, event)
	if err != nil {
		r.cfg.Log.WithError(err).WithField("event", event).Warn("announce failed")
		return
	}

	for _, p := range resp.Peers {
		addr := net.JoinHostPort(p.IP, fmt.Sprintf("%d", p.Port))
		if r.haveSessionFor(addr) {
			continue
		}
		go func(addr string) {
			s, err := peer.Dial(addr, r.peerID, r.mi.InfoHash, r.mgr, r.cfg)
			if err != nil {
				r.cfg.Log.WithError(err).WithField("peer", addr).Debug("dial failed")
				return
			}
			r.mu.Lock()
			r.sessions = append(r.sessions, s)
			r.mu.Unlock()
		}(addr)
	}
}

func (r *torrentRun) haveSessionFor(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.Alive() && s.RemoteAddr() == addr {
			return true
		}
	}
	return false
}

func (r *torrentRun) watchCompletion() {
	for index := range r.mgr.Subscribe() {
		r.broadcastHave(index)
		if r.mgr.Complete() {
			r.cfg.Log.WithField("torrent", r.mi.Name).Info("download complete, continuing to seed")
			r.announce("completed")
		}
	}
}

// broadcastHave advertises a newly verified piece to every live session,
// so peers can REQUEST it from us instead of only ever seeing it in our
// initial handshake bitfield.
func (r *torrentRun) broadcastHave(index int) {
	r.mu.Lock()
	sessions := make([]*peer.Session, len(r.sessions))
	copy(sessions, r.sessions)
	r.mu.Unlock()

	for _, s := range sessions {
		if !s.Alive() {
			continue
		}
		if err := s.SendHave(index); err != nil {
			r.cfg.Log.WithError(err).WithField("peer", s.RemoteAddr()).Debug("failed to send have")
		}
	}
}

func (r *torrentRun) shutdown() {
	r.announce("stopped")
	r.ln.Close()
	r.mu.Lock()
	for _, s := range r.sessions {
		s.Close()
	}
	r.mu.Unlock()
	r.mgr.Close()
	close(r.done)
}
