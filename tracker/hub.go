package tracker

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub rebroadcasts swarm snapshots to every subscribed /ws client,
// pushed once per announce and once per reaper sweep.
type Hub struct {
	mu   sync.Mutex
	subs map[*websocket.Conn]chan []Stat
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*websocket.Conn]chan []Stat)}
}

// Subscribe upgrades r/w to a websocket connection and registers it to
// receive snapshots until the client disconnects.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	ch := make(chan []Stat, 4)
	h.mu.Lock()
	h.subs[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.subs, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for snapshot := range ch {
		if err := conn.WriteJSON(snapshot); err != nil {
			return err
		}
	}
	return nil
}

// Broadcast pushes snapshot to every current subscriber, dropping it
// for any subscriber whose channel is full rather than blocking.
func (h *Hub) Broadcast(snapshot []Stat) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
}
