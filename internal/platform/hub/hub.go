// Package hub provides the real-time fan-out channel for the clinic
// dashboard. Clients connect over WebSocket, join clinic or case rooms by
// sending method invocations, and receive case events broadcast to those
// rooms.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Event names pushed to connected dashboards.
const (
	EventVitalsUpdated     = "VitalsUpdated"
	EventReportUpdated     = "ReportUpdated"
	EventCaseStatusChanged = "CaseStatusChanged"
)

// ClinicRoom returns the room key that carries every event for a clinic.
func ClinicRoom(clinicID string) string { return "clinic:" + clinicID }

// CaseRoom returns the room key scoped to a single patient case.
func CaseRoom(caseID string) string { return "case:" + caseID }

// Event is a real-time notification sent to WebSocket clients.
type Event struct {
	Event  string          `json:"event"`
	CaseID string          `json:"caseId"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Invocation is an inbound message from a WebSocket client. Method is one of
// JoinClinic or JoinPatientCase; Args carries the clinic or case id.
type Invocation struct {
	Method string   `json:"method"`
	Args   []string `json:"args"`
}

// Publisher defines the interface services use to push events to rooms.
type Publisher interface {
	Publish(ctx context.Context, room string, event Event) error
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client represents a single WebSocket connection.
type Client struct {
	ID    string
	Rooms []string
	Send  chan []byte
	hub   *Hub
	conn  Conn
}

// Hub is the central connection manager that tracks clients and their room
// memberships. All operations are thread-safe via sync.RWMutex.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{} // room -> set of clients
	all   map[*Client]struct{}            // all connected clients
}

// NewHub creates a new Hub ready to manage WebSocket clients.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
		all:   make(map[*Client]struct{}),
	}
}

// Register adds a client to the hub and joins it to its initial rooms.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}

	for _, room := range client.Rooms {
		if h.rooms[room] == nil {
			h.rooms[room] = make(map[*Client]struct{})
		}
		h.rooms[room][client] = struct{}{}
	}
}

// Unregister removes a client from the hub, all room memberships, and
// closes the client's Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}

	for _, room := range client.Rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}

	delete(h.all, client)
	close(client.Send)
}

// Join adds an already-registered client to a room. Joining a room the
// client is already in is a no-op.
func (h *Hub) Join(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	if _, ok := h.rooms[room][client]; ok {
		return
	}
	h.rooms[room][client] = struct{}{}
	client.Rooms = append(client.Rooms, room)
}

// ProcessInvocation handles an inbound client invocation. Unknown methods
// and malformed argument lists are ignored.
func (h *Hub) ProcessInvocation(client *Client, inv Invocation) {
	if len(inv.Args) != 1 || inv.Args[0] == "" {
		return
	}
	switch inv.Method {
	case "JoinClinic":
		h.Join(client, ClinicRoom(inv.Args[0]))
	case "JoinPatientCase":
		h.Join(client, CaseRoom(inv.Args[0]))
	}
}

// Broadcast sends an event to all clients in the given room.
func (h *Hub) Broadcast(room string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("hub: failed to marshal event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	members, ok := h.rooms[room]
	if !ok {
		return
	}

	for client := range members {
		select {
		case client.Send <- data:
		default:
			// Client buffer full; skip to avoid blocking.
		}
	}
}

// Publish implements the Publisher interface by broadcasting the event to
// the given room.
func (h *Hub) Publish(_ context.Context, room string, event Event) error {
	h.Broadcast(room, event)
	return nil
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// RoomCount returns the number of clients in a specific room.
func (h *Hub) RoomCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ---------------------------------------------------------------------------
// Handler: Echo HTTP handler for WebSocket connections
// ---------------------------------------------------------------------------

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// Handler handles HTTP-to-WebSocket upgrades and invocation routing.
type Handler struct {
	hub *Hub
}

// NewHandler creates a new handler bound to the given Hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes registers the hub endpoint on the provided Echo group.
func (hh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/clinic", hh.HandleConnect)
}

// HandleConnect upgrades an HTTP connection to WebSocket, registers the
// client with the hub, and starts read/write pumps.
func (hh *Handler) HandleConnect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:    uuid.New().String(),
		Rooms: []string{},
		Send:  make(chan []byte, 256),
		hub:   hh.hub,
		conn:  &gorillaConnAdapter{ws},
	}

	hh.hub.Register(client)

	go hh.writePump(client)
	go hh.readPump(client)

	return nil
}

// readPump reads invocations from the client's connection and processes them.
func (hh *Handler) readPump(client *Client) {
	defer func() {
		hh.hub.Unregister(client)
		client.conn.Close()
	}()

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			break
		}

		var inv Invocation
		if err := json.Unmarshal(message, &inv); err != nil {
			continue // Ignore malformed messages.
		}

		hh.hub.ProcessInvocation(client, inv)
	}
}

// writePump writes messages from the Send channel to the client's connection.
func (hh *Handler) writePump(client *Client) {
	defer client.conn.Close()

	for message := range client.Send {
		if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			break
		}
	}
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy the Conn interface.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
