// Package realtime maintains the dashboard's single live connection to the
// clinic event hub. It exposes room joins and typed event subscriptions;
// subscriptions return unsubscribe handles so a view can release its
// handlers on unmount without touching anyone else's.
//
// The connection auto-reconnects. The server does not remember room
// membership across a drop, so every join issued through this client is
// replayed after a successful reconnect. Events missed while disconnected
// are gone; the client does not re-fetch on the caller's behalf.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/pkg/caseflow"
	"github.com/clinicdesk/clinicdesk/pkg/session"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	}
	return "Disconnected"
}

// EventKind names the hub events the dashboard consumes.
type EventKind string

const (
	EventVitalsUpdated     EventKind = "VitalsUpdated"
	EventReportUpdated     EventKind = "ReportUpdated"
	EventCaseStatusChanged EventKind = "CaseStatusChanged"
)

// Conn abstracts the websocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a connection to the hub URL (token already in the query).
type Dialer func(ctx context.Context, hubURL string) (Conn, error)

// invocation is a client-to-server hub method call.
type invocation struct {
	Method string   `json:"method"`
	Args   []string `json:"args"`
}

// serverEvent is a hub-to-client notification.
type serverEvent struct {
	Event  EventKind       `json:"event"`
	CaseID string          `json:"caseId"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Handler receives one raw event. Decoding errors inside typed wrappers are
// logged, never propagated, so one bad payload cannot kill a subscription.
type Handler func(caseID string, data json.RawMessage)

// Client owns the process-wide hub connection. All methods are safe for
// concurrent use.
type Client struct {
	hubURL        string
	sess          *session.Session
	log           zerolog.Logger
	dial          Dialer
	reconnectWait time.Duration
	maxReconnects int

	mu        sync.Mutex
	state     State
	conn      Conn
	gen       int
	closed    bool
	rooms     []invocation
	subs      map[EventKind]map[int]Handler
	stateSubs map[int]func(State)
	nextSubID int

	stateCh chan State
	done    chan struct{}
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the logger used for dropped events and handler failures.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithDialer replaces the websocket dialer, mainly for tests.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// WithReconnectWait sets the delay between reconnect attempts.
func WithReconnectWait(d time.Duration) Option {
	return func(c *Client) { c.reconnectWait = d }
}

// New creates a client for the hub at hubURL (e.g. wss://host/hubs/clinic).
func New(hubURL string, sess *session.Session, opts ...Option) *Client {
	c := &Client{
		hubURL:        hubURL,
		sess:          sess,
		log:           zerolog.Nop(),
		dial:          gorillaDial,
		reconnectWait: 2 * time.Second,
		maxReconnects: 5,
		subs:          make(map[EventKind]map[int]Handler),
		stateSubs:     make(map[int]func(State)),
		stateCh:       make(chan State, 16),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.notifyLoop()
	return c
}

// notifyLoop delivers state transitions to observers in order, one at a
// time, off the caller's goroutine.
func (c *Client) notifyLoop() {
	for {
		select {
		case s := <-c.stateCh:
			c.mu.Lock()
			observers := make([]func(State), 0, len(c.stateSubs))
			for _, h := range c.stateSubs {
				observers = append(observers, h)
			}
			c.mu.Unlock()
			for _, h := range observers {
				h(s)
			}
		case <-c.done:
			return
		}
	}
}

func gorillaDial(ctx context.Context, hubURL string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, hubURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Connect establishes the hub connection. It is idempotent: calling while
// already connecting or connected is a no-op. A missing session token is
// also a no-op, not an error; the dashboard still works without live
// updates.
func (c *Client) Connect(ctx context.Context) error {
	token, err := c.sess.Token()
	if err != nil || token == "" {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("realtime client closed")
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	conn, err := c.dial(ctx, c.dialURL(token))
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return &caseflow.NetworkError{Op: "connect " + c.hubURL, Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.gen++
	gen := c.gen
	c.setStateLocked(StateConnected)
	pending := make([]invocation, len(c.rooms))
	copy(pending, c.rooms)
	c.mu.Unlock()

	c.replay(conn, pending)
	go c.readLoop(gen, conn)
	return nil
}

// dialURL appends the bearer credential as a query parameter, the websocket
// convention the hub expects.
func (c *Client) dialURL(token string) string {
	u, err := url.Parse(c.hubURL)
	if err != nil {
		return c.hubURL
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// JoinClinic joins the clinic-wide room. Joins are additive and replayed
// after every reconnect; there is no leave operation.
func (c *Client) JoinClinic(clinicID string) error {
	return c.join(invocation{Method: "JoinClinic", Args: []string{clinicID}})
}

// JoinPatientCase joins the room for one case so the caller receives
// targeted updates for it. Safe to call repeatedly for the same case.
func (c *Client) JoinPatientCase(caseID string) error {
	if caseID == "" {
		return nil
	}
	return c.join(invocation{Method: "JoinPatientCase", Args: []string{caseID}})
}

func (c *Client) join(inv invocation) error {
	c.mu.Lock()
	if !c.hasRoomLocked(inv) {
		c.rooms = append(c.rooms, inv)
	}
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return nil
	}
	return c.send(conn, inv)
}

func (c *Client) hasRoomLocked(inv invocation) bool {
	for _, r := range c.rooms {
		if r.Method == inv.Method && len(r.Args) == len(inv.Args) && r.Args[0] == inv.Args[0] {
			return true
		}
	}
	return false
}

func (c *Client) send(conn Conn, inv invocation) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("encode invocation: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &caseflow.NetworkError{Op: inv.Method, Err: err}
	}
	return nil
}

func (c *Client) replay(conn Conn, rooms []invocation) {
	for _, inv := range rooms {
		if err := c.send(conn, inv); err != nil {
			c.log.Warn().Str("method", inv.Method).Err(err).Msg("room re-join failed")
		}
	}
}

// Subscribe registers a raw handler for one event kind and returns its
// unsubscribe handle. Subscribers are independent: removing one never
// affects another listening to the same kind.
func (c *Client) Subscribe(kind EventKind, h Handler) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subs[kind] == nil {
		c.subs[kind] = make(map[int]Handler)
	}
	id := c.nextSubID
	c.nextSubID++
	c.subs[kind][id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[kind], id)
	}
}

// OnVitalsUpdated subscribes a typed vitals handler.
func (c *Client) OnVitalsUpdated(h func(caseID string, vitals caseflow.Vitals)) func() {
	return c.Subscribe(EventVitalsUpdated, func(caseID string, data json.RawMessage) {
		var v caseflow.Vitals
		if err := json.Unmarshal(data, &v); err != nil {
			c.log.Warn().Str("caseId", caseID).Err(err).Msg("malformed vitals event")
			return
		}
		h(caseID, v)
	})
}

// OnReportUpdated subscribes a typed report handler.
func (c *Client) OnReportUpdated(h func(caseID string, report caseflow.Report)) func() {
	return c.Subscribe(EventReportUpdated, func(caseID string, data json.RawMessage) {
		var r caseflow.Report
		if err := json.Unmarshal(data, &r); err != nil {
			c.log.Warn().Str("caseId", caseID).Err(err).Msg("malformed report event")
			return
		}
		h(caseID, r)
	})
}

// OnCaseStatusChanged subscribes a typed status handler. Events carrying an
// unknown status are dropped.
func (c *Client) OnCaseStatusChanged(h func(caseID string, status caseflow.Status)) func() {
	return c.Subscribe(EventCaseStatusChanged, func(caseID string, data json.RawMessage) {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			c.log.Warn().Str("caseId", caseID).Err(err).Msg("malformed status event")
			return
		}
		status, err := caseflow.ParseStatus(raw)
		if err != nil {
			c.log.Warn().Str("caseId", caseID).Str("status", raw).Msg("unknown status in event")
			return
		}
		h(caseID, status)
	})
}

// OnStateChange registers a connection-state observer (the "live updates"
// indicator) and returns its unsubscribe handle.
func (c *Client) OnStateChange(h func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	c.stateSubs[id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.stateSubs, id)
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setStateLocked transitions the state and queues the notification for the
// notifier goroutine. Callers hold c.mu.
func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	select {
	case c.stateCh <- s:
	default:
	}
}

// readLoop consumes events from one connection generation. On read failure
// it attempts to reconnect and replay room joins; after maxReconnects
// failures the client settles in Disconnected.
func (c *Client) readLoop(gen int, conn Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !c.current(gen) {
				return
			}
			if !c.reconnect(gen) {
				return
			}
			c.mu.Lock()
			gen = c.gen
			conn = c.conn
			c.mu.Unlock()
			continue
		}

		if !c.current(gen) {
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(message, &evt); err != nil {
			c.log.Warn().Err(err).Msg("malformed hub message")
			continue
		}
		c.dispatch(evt)
	}
}

func (c *Client) current(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && gen == c.gen
}

// dispatch delivers one event to a snapshot of the kind's subscribers.
// Handler panics are contained so one faulty view cannot tear down the
// connection.
func (c *Client) dispatch(evt serverEvent) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.subs[evt.Event]))
	for _, h := range c.subs[evt.Event] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error().Str("event", string(evt.Event)).Interface("panic", r).Msg("event handler panicked")
				}
			}()
			h(evt.CaseID, evt.Data)
		}()
	}
}

// reconnect re-dials after a dropped connection, replaying room joins on
// success. Returns false once reconnection is abandoned.
func (c *Client) reconnect(gen int) bool {
	token, err := c.sess.Token()
	if err != nil || token == "" {
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return false
	}

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	for attempt := 0; attempt < c.maxReconnects; attempt++ {
		time.Sleep(c.reconnectWait)

		c.mu.Lock()
		if c.closed || gen != c.gen {
			c.mu.Unlock()
			return false
		}
		c.mu.Unlock()

		conn, err := c.dial(context.Background(), c.dialURL(token))
		if err != nil {
			c.log.Warn().Int("attempt", attempt+1).Err(err).Msg("hub reconnect failed")
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.gen++
		c.setStateLocked(StateConnected)
		pending := make([]invocation, len(c.rooms))
		copy(pending, c.rooms)
		c.mu.Unlock()

		c.replay(conn, pending)
		return true
	}

	c.mu.Lock()
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
	return false
}

// Close tears the connection down for good. Registered subscriptions are
// dropped; the client cannot be reused.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		return conn.Close()
	}
	return nil
}
