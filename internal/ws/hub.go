// Package ws fans match events out to connected players over websockets. The
// Hub doubles as the match "channel" backend: each match gets a room whose
// membership controls who receives its events.
package ws

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/yourname/beamnet/pkg/types"
)

type client struct {
	conn     *websocket.Conn
	playerID string
	admin    bool
	mu       sync.Mutex // guards conn writes
}

func (c *client) send(ev types.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(ev)
}

// Hub tracks connected clients and per-match rooms. It implements both the
// match notifier and the channel provisioner.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
	byID    map[string][]*client // playerID -> connections
	rooms   map[string]map[string]bool
	upgrade websocket.Upgrader
	log     zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: map[*client]bool{},
		byID:    map[string][]*client{},
		rooms:   map[string]map[string]bool{},
		upgrade: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		log:     log.With().Str("component", "ws").Logger(),
	}
}

// SendToPlayer delivers an event to every connection the player holds.
func (h *Hub) SendToPlayer(playerID string, ev types.Event) {
	h.mu.RLock()
	targets := append([]*client(nil), h.byID[playerID]...)
	h.mu.RUnlock()
	for _, c := range targets {
		h.write(c, ev)
	}
}

// SendToMatchChannel delivers an event to every member of a match's room.
func (h *Hub) SendToMatchChannel(matchID string, ev types.Event) {
	h.mu.RLock()
	room := h.rooms[matchID]
	var targets []*client
	for id := range room {
		targets = append(targets, h.byID[id]...)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.write(c, ev)
	}
}

// SendToAdminChannel delivers an event to every connected admin.
func (h *Hub) SendToAdminChannel(ev types.Event) {
	h.mu.RLock()
	var targets []*client
	for c := range h.clients {
		if c.admin {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.write(c, ev)
	}
}

func (h *Hub) write(c *client, ev types.Event) {
	if err := c.send(ev); err != nil {
		h.log.Warn().Err(err).Str("player", c.playerID).Msg("ws write failed, dropping client")
		c.conn.Close()
		h.drop(c)
	}
}

// Provision opens a match room with the given members.
func (h *Hub) Provision(_ context.Context, matchID string, playerIDs []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := make(map[string]bool, len(playerIDs))
	for _, id := range playerIDs {
		room[id] = true
	}
	h.rooms[matchID] = room
	return nil
}

// Release tears the room down.
func (h *Hub) Release(_ context.Context, matchID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, matchID)
	return nil
}

func (h *Hub) GrantAccess(_ context.Context, matchID, userID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[matchID]
	if !ok {
		return types.NewError(types.KindNotFound, "match room %s not found", matchID)
	}
	room[userID] = true
	return nil
}

func (h *Hub) RevokeAccess(_ context.Context, matchID, userID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[matchID]; ok {
		delete(room, userID)
	}
	return nil
}

// RoomMembers lists a room's membership, mainly for tests.
func (h *Hub) RoomMembers(matchID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []string
	for id := range h.rooms[matchID] {
		out = append(out, id)
	}
	return out
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	conns := h.byID[c.playerID]
	for i, other := range conns {
		if other == c {
			h.byID[c.playerID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.byID[c.playerID]) == 0 {
		delete(h.byID, c.playerID)
	}
}

// ServeWS upgrades the request and registers the connection under the
// authenticated identity. The read loop only watches for disconnects; clients
// never send application messages over the socket.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, playerID string, admin bool) {
	conn, err := h.upgrade.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c := &client{conn: conn, playerID: playerID, admin: admin}
	h.mu.Lock()
	h.clients[c] = true
	h.byID[playerID] = append(h.byID[playerID], c)
	h.mu.Unlock()
	h.log.Debug().Str("player", playerID).Bool("admin", admin).Msg("ws connected")

	go func() {
		defer func() {
			conn.Close()
			h.drop(c)
			h.log.Debug().Str("player", playerID).Msg("ws disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
