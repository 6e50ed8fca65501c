package sessions

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/careline/telehealth-platform/internal/booking"
	"github.com/careline/telehealth-platform/pkg/logging"
)

// PresenceRecorder keeps doctor presence fresh while a socket is open.
type PresenceRecorder interface {
	Heartbeat(ctx context.Context, doctorID uuid.UUID) error
	Disconnect(ctx context.Context, doctorID uuid.UUID) error
}

// signal is the envelope relayed between the two parties of a
// consultation. Payload is opaque to the server (SDP offers, ICE
// candidates, chat lines).
type signal struct {
	Type    string          `json:"type"` // "join", "signal", "end", "ping"
	Payload json.RawMessage `json:"payload,omitempty"`
	From    string          `json:"from,omitempty"`
}

type partyConn struct {
	conn *websocket.Conn
	mu   sync.Mutex // guards writes
}

func (p *partyConn) writeJSON(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return p.conn.WriteJSON(v)
}

type room struct {
	mu      sync.RWMutex
	parties map[string]*partyConn // role -> connection
}

// Gateway upgrades consultation websockets and relays signaling between
// the patient and doctor of a booking. Join/end frames also drive the
// session record; everything else passes through untouched.
type Gateway struct {
	service  *Service
	presence PresenceRecorder
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[uuid.UUID]*room // bookingID -> room
}

// NewGateway constructs the websocket gateway. presence may be nil.
func NewGateway(service *Service, presence PresenceRecorder, logger *logging.Logger) *Gateway {
	if service == nil {
		panic("sessions: service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Gateway{
		service:  service,
		presence: presence,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Auth happens on the JWT before upgrade; cross-origin
			// browsers are expected.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		rooms: make(map[uuid.UUID]*room),
	}
}

// Serve upgrades the request and pumps frames until the peer goes away.
// The caller has already authenticated the actor and parsed the booking
// id.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, bookingID uuid.UUID, actor booking.Actor) {
	ctx := r.Context()
	if _, err := g.service.Join(ctx, bookingID, actor); err != nil {
		status := http.StatusForbidden
		if err == ErrSessionNotFound || err == booking.ErrNotFound {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", "booking_id", bookingID, "error", err)
		return
	}
	party := &partyConn{conn: conn}
	g.register(bookingID, actor.Role, party)
	g.logger.Info("consultation socket open", "booking_id", bookingID, "role", actor.Role)

	defer func() {
		g.unregister(bookingID, actor.Role, party)
		_ = conn.Close()
		if g.presence != nil && actor.Role == "doctor" {
			_ = g.presence.Disconnect(context.Background(), actor.ID)
		}
	}()

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	})

	for {
		var msg signal
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Error("consultation socket error", "booking_id", bookingID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))

		switch msg.Type {
		case "ping":
			_ = party.writeJSON(signal{Type: "pong"})
			if g.presence != nil && actor.Role == "doctor" {
				_ = g.presence.Heartbeat(ctx, actor.ID)
			}
		case "end":
			if _, err := g.service.End(ctx, bookingID, actor); err != nil {
				g.logger.Error("could not end session", "booking_id", bookingID, "error", err)
			}
			msg.From = actor.Role
			g.relay(bookingID, actor.Role, msg)
			return
		default:
			msg.From = actor.Role
			g.relay(bookingID, actor.Role, msg)
		}
	}
}

func (g *Gateway) register(bookingID uuid.UUID, role string, p *partyConn) {
	g.mu.Lock()
	rm, ok := g.rooms[bookingID]
	if !ok {
		rm = &room{parties: make(map[string]*partyConn)}
		g.rooms[bookingID] = rm
	}
	g.mu.Unlock()

	rm.mu.Lock()
	if prev, ok := rm.parties[role]; ok && prev != p {
		_ = prev.conn.Close() // replaced by a reconnect
	}
	rm.parties[role] = p
	rm.mu.Unlock()
}

func (g *Gateway) unregister(bookingID uuid.UUID, role string, p *partyConn) {
	g.mu.Lock()
	rm, ok := g.rooms[bookingID]
	g.mu.Unlock()
	if !ok {
		return
	}
	rm.mu.Lock()
	if rm.parties[role] == p {
		delete(rm.parties, role)
	}
	empty := len(rm.parties) == 0
	rm.mu.Unlock()

	if empty {
		g.mu.Lock()
		if cur, ok := g.rooms[bookingID]; ok && cur == rm {
			delete(g.rooms, bookingID)
		}
		g.mu.Unlock()
	}
}

// relay forwards a frame to every other party in the room.
func (g *Gateway) relay(bookingID uuid.UUID, fromRole string, msg signal) {
	g.mu.Lock()
	rm, ok := g.rooms[bookingID]
	g.mu.Unlock()
	if !ok {
		return
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	for role, p := range rm.parties {
		if role == fromRole {
			continue
		}
		if err := p.writeJSON(msg); err != nil {
			g.logger.Error("relay write failed", "booking_id", bookingID, "to_role", role, "error", err)
		}
	}
}
