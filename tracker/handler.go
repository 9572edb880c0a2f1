package tracker

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/jackpal/bencode-go"

	"github.com/ovidlat/goswarm/config"
)

// announcePeer is one entry of an announce response's peers list, in
// BitTorrent's dictionary (non-compact) format.
type announcePeer struct {
	PeerID string `bencode:"peer id"`
	IP     string `bencode:"ip"`
	Port   int    `bencode:"port"`
}

type announceResponse struct {
	Interval int            `bencode:"interval"`
	Peers    []announcePeer `bencode:"peers"`
}

type failureResponse struct {
	FailureReason string `bencode:"failure reason"`
}

// Router builds the tracker's HTTP routes: /announce, /stats, /ws.
func (t *Tracker) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/announce", t.handleAnnounce).Methods(http.MethodGet)
	r.HandleFunc("/stats", t.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/ws", t.handleWebSocket).Methods(http.MethodGet)
	return r
}

func (t *Tracker) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	infoHash := q.Get("info_hash")
	peerID := q.Get("peer_id")
	portStr := q.Get("port")
	event := q.Get("event")

	if infoHash == "" || peerID == "" || portStr == "" {
		writeFailure(w, "missing required parameter")
		return
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		writeFailure(w, "malformed port")
		return
	}

	ip := clientIP(r)

	peers := t.Announce(infoHash, peerID, ip, uint16(port), event)

	resp := announceResponse{Interval: config.AnnounceInterval}
	for _, p := range peers {
		resp.Peers = append(resp.Peers, announcePeer{PeerID: p.ID, IP: p.IP, Port: int(p.Port)})
	}

	w.Header().Set("Content-Type", "text/plain")
	if err := bencode.Marshal(w, resp); err != nil {
		if t.cfg != nil && t.cfg.Log != nil {
			t.cfg.Log.WithError(err).Error("failed to encode announce response")
		}
	}
}

func writeFailure(w http.ResponseWriter, reason string) {
	w.WriteHeader(http.StatusBadRequest)
	_ = bencode.Marshal(w, failureResponse{FailureReason: reason})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host := r.RemoteAddr
	if idx := lastColon(host); idx >= 0 {
		return host[:idx]
	}
	return host
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

func (t *Tracker) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := t.Stats()

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, "<html><head><title>Tracker Stats</title></head><body>")
	fmt.Fprint(w, "<h1>BitTorrent Tracker Statistics</h1>")
	fmt.Fprintf(w, "<p>Total torrents: %d</p>", len(stats))
	fmt.Fprint(w, "<table border='1'><tr><th>Info Hash</th><th>Peers</th><th>Seeders</th><th>Leechers</th></tr>")
	for _, s := range stats {
		fmt.Fprintf(w, "<tr><td>%x</td><td>%d</td><td>%d</td><td>%d</td></tr>", s.InfoHash, s.Peers, s.Seeders, s.Leechers)
	}
	fmt.Fprint(w, "</table></body></html>")
}

func (t *Tracker) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := t.hub.Subscribe(w, r); err != nil && t.cfg != nil && t.cfg.Log != nil {
		t.cfg.Log.WithError(err).Debug("websocket subscriber disconnected")
	}
}
