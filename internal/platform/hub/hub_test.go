package hub

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// fakeConn satisfies Conn with a fixed inbound queue and recorded writes.
type fakeConn struct {
	mu      sync.Mutex
	reads   chan []byte
	written [][]byte
	types   []int
	closed  bool
}

func newFakeConn(messages ...[]byte) *fakeConn {
	c := &fakeConn{reads: make(chan []byte, len(messages))}
	for _, m := range messages {
		c.reads <- m
	}
	close(c.reads)
	return c
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-c.reads
	if !ok {
		return 0, nil, io.EOF
	}
	return gorillawebsocket.TextMessage, msg, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types = append(c.types, messageType)
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newTestClient(id string, rooms ...string) *Client {
	return &Client{
		ID:    id,
		Rooms: rooms,
		Send:  make(chan []byte, 256),
	}
}

// ---------------------------------------------------------------------------
// Hub tests
// ---------------------------------------------------------------------------

func TestHub_RegisterClient(t *testing.T) {
	h := NewHub()
	client := newTestClient("client-1", CaseRoom("case-1"))

	h.Register(client)

	if h.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", h.ClientCount())
	}
	if h.RoomCount(CaseRoom("case-1")) != 1 {
		t.Fatalf("expected 1 client in case room, got %d", h.RoomCount(CaseRoom("case-1")))
	}
}

func TestHub_UnregisterClient(t *testing.T) {
	h := NewHub()
	client := newTestClient("client-2", ClinicRoom("clinic-1"))

	h.Register(client)
	h.Unregister(client)

	if h.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", h.ClientCount())
	}
	if h.RoomCount(ClinicRoom("clinic-1")) != 0 {
		t.Fatalf("expected empty clinic room, got %d", h.RoomCount(ClinicRoom("clinic-1")))
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	h := NewHub()
	client := newTestClient("close-1", CaseRoom("a"))

	h.Register(client)
	h.Unregister(client)

	_, ok := <-client.Send
	if ok {
		t.Fatal("expected Send channel to be closed after unregister")
	}
}

func TestHub_BroadcastToRoom(t *testing.T) {
	h := NewHub()

	member := newTestClient("sub-1", CaseRoom("case-7"))
	outsider := newTestClient("non-sub-1", CaseRoom("case-8"))

	h.Register(member)
	h.Register(outsider)

	event := Event{
		Event:  EventVitalsUpdated,
		CaseID: "case-7",
		Data:   json.RawMessage(`{"heartRate":72}`),
	}

	h.Broadcast(CaseRoom("case-7"), event)

	select {
	case msg := <-member.Send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		if received.Event != EventVitalsUpdated {
			t.Fatalf("expected %s, got %s", EventVitalsUpdated, received.Event)
		}
		if received.CaseID != "case-7" {
			t.Fatalf("expected caseId case-7, got %s", received.CaseID)
		}
	case <-time.After(time.Second):
		t.Fatal("room member did not receive event")
	}

	select {
	case <-outsider.Send:
		t.Fatal("client in another room should not have received event")
	default:
		// expected
	}
}

func TestHub_BroadcastToEmptyRoom(t *testing.T) {
	h := NewHub()

	// Should not panic
	h.Broadcast(CaseRoom("nobody-here"), Event{Event: EventReportUpdated, CaseID: "x"})
}

func TestHub_BroadcastSkipsFullBuffer(t *testing.T) {
	h := NewHub()
	client := &Client{
		ID:    "slow-1",
		Rooms: []string{CaseRoom("case-1")},
		Send:  make(chan []byte, 1),
	}
	h.Register(client)

	event := Event{Event: EventVitalsUpdated, CaseID: "case-1"}
	h.Broadcast(CaseRoom("case-1"), event)
	// Second broadcast finds the buffer full and must not block.
	done := make(chan struct{})
	go func() {
		h.Broadcast(CaseRoom("case-1"), event)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}

	if got := len(client.Send); got != 1 {
		t.Fatalf("expected exactly 1 buffered message, got %d", got)
	}
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	h := NewHub()
	client := newTestClient("join-1")
	h.Register(client)

	h.Join(client, CaseRoom("case-3"))
	h.Join(client, CaseRoom("case-3"))

	if h.RoomCount(CaseRoom("case-3")) != 1 {
		t.Fatalf("expected 1 member, got %d", h.RoomCount(CaseRoom("case-3")))
	}
	if len(client.Rooms) != 1 {
		t.Fatalf("expected 1 room on client, got %d", len(client.Rooms))
	}
}

func TestHub_ClientInClinicAndCaseRooms(t *testing.T) {
	h := NewHub()
	client := newTestClient("multi-1")
	h.Register(client)

	h.Join(client, ClinicRoom("clinic-1"))
	h.Join(client, CaseRoom("case-1"))

	status, _ := json.Marshal("InProgress")
	h.Broadcast(ClinicRoom("clinic-1"), Event{Event: EventCaseStatusChanged, CaseID: "case-1", Data: status})

	select {
	case msg := <-client.Send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		var s string
		if err := json.Unmarshal(received.Data, &s); err != nil {
			t.Fatalf("status payload must be a JSON string: %v", err)
		}
		if s != "InProgress" {
			t.Fatalf("expected InProgress, got %s", s)
		}
	case <-time.After(time.Second):
		t.Fatal("did not receive clinic room event")
	}

	if h.RoomCount(ClinicRoom("clinic-1")) != 1 || h.RoomCount(CaseRoom("case-1")) != 1 {
		t.Fatal("client must be counted in both rooms")
	}
}

func TestHub_ProcessInvocation(t *testing.T) {
	h := NewHub()
	client := newTestClient("inv-1")
	h.Register(client)

	h.ProcessInvocation(client, Invocation{Method: "JoinClinic", Args: []string{"clinic-9"}})
	h.ProcessInvocation(client, Invocation{Method: "JoinPatientCase", Args: []string{"case-9"}})

	if h.RoomCount(ClinicRoom("clinic-9")) != 1 {
		t.Fatalf("expected clinic room membership, got %d", h.RoomCount(ClinicRoom("clinic-9")))
	}
	if h.RoomCount(CaseRoom("case-9")) != 1 {
		t.Fatalf("expected case room membership, got %d", h.RoomCount(CaseRoom("case-9")))
	}
}

func TestHub_ProcessInvocation_IgnoresMalformed(t *testing.T) {
	h := NewHub()
	client := newTestClient("inv-2")
	h.Register(client)

	h.ProcessInvocation(client, Invocation{Method: "JoinClinic", Args: nil})
	h.ProcessInvocation(client, Invocation{Method: "JoinClinic", Args: []string{""}})
	h.ProcessInvocation(client, Invocation{Method: "JoinClinic", Args: []string{"a", "b"}})
	h.ProcessInvocation(client, Invocation{Method: "LeaveClinic", Args: []string{"a"}})

	if len(client.Rooms) != 0 {
		t.Fatalf("expected no rooms joined, got %v", client.Rooms)
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	h := NewHub()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 2)

	clients := make([]*Client, n)
	for i := 0; i < n; i++ {
		clients[i] = newTestClient("concurrent", CaseRoom("shared"))
	}

	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			h.Register(clients[idx])
		}(i)
	}
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			h.Unregister(clients[idx])
		}(i)
	}

	wg.Wait()

	if h.ClientCount() < 0 {
		t.Fatalf("client count should not be negative, got %d", h.ClientCount())
	}
}

// ---------------------------------------------------------------------------
// Publisher tests
// ---------------------------------------------------------------------------

func TestHub_PublishEvent(t *testing.T) {
	h := NewHub()
	client := newTestClient("pub-1", CaseRoom("case-100"))
	h.Register(client)

	var publisher Publisher = h

	event := Event{
		Event:  EventReportUpdated,
		CaseID: "case-100",
		Data:   json.RawMessage(`{"diagnosis":"Flu","treatmentPlan":"Rest"}`),
	}

	if err := publisher.Publish(context.Background(), CaseRoom("case-100"), event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-client.Send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if received.CaseID != "case-100" {
			t.Fatalf("expected caseId case-100, got %s", received.CaseID)
		}
	case <-time.After(time.Second):
		t.Fatal("did not receive published event")
	}
}

func TestHub_PublishReachesAllRoomMembers(t *testing.T) {
	h := NewHub()

	c1 := newTestClient("multi-pub-1", ClinicRoom("clinic-2"))
	c2 := newTestClient("multi-pub-2", ClinicRoom("clinic-2"))
	c3 := newTestClient("multi-pub-3", ClinicRoom("clinic-3"))

	h.Register(c1)
	h.Register(c2)
	h.Register(c3)

	event := Event{Event: EventVitalsUpdated, CaseID: "case-200"}

	if err := h.Publish(context.Background(), ClinicRoom("clinic-2"), event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	for _, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.Send:
			var received Event
			if err := json.Unmarshal(msg, &received); err != nil {
				t.Fatalf("client %s: failed to unmarshal: %v", c.ID, err)
			}
			if received.Event != EventVitalsUpdated {
				t.Fatalf("client %s: expected %s, got %s", c.ID, EventVitalsUpdated, received.Event)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %s did not receive event", c.ID)
		}
	}

	select {
	case <-c3.Send:
		t.Fatal("client in another clinic should not have received event")
	default:
		// expected
	}
}

// ---------------------------------------------------------------------------
// Handler tests
// ---------------------------------------------------------------------------

func TestHandler_RegisterRoutes(t *testing.T) {
	h := NewHub()
	handler := NewHandler(h)

	e := echo.New()
	g := e.Group("/hubs")
	handler.RegisterRoutes(g)

	found := false
	for _, r := range e.Routes() {
		if r.Path == "/hubs/clinic" && r.Method == http.MethodGet {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("expected GET /hubs/clinic route to be registered")
	}
}

func TestHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	h := NewHub()
	handler := NewHandler(h)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/hubs/clinic", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.HandleConnect(c)

	// gorilla/websocket upgrader will reject non-WS requests
	if err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for non-websocket request")
	}
}

func TestHandler_ReadPumpJoinsThroughConn(t *testing.T) {
	h := NewHub()
	handler := NewHandler(h)

	join, _ := json.Marshal(Invocation{Method: "JoinClinic", Args: []string{"clinic-fc"}})
	conn := newFakeConn(join, []byte("not json"))
	client := &Client{ID: "fc-1", Rooms: []string{}, Send: make(chan []byte, 4), hub: h, conn: conn}
	h.Register(client)

	// Runs until the queue is drained and ReadMessage returns an error.
	handler.readPump(client)

	joined := false
	for _, room := range client.Rooms {
		if room == ClinicRoom("clinic-fc") {
			joined = true
		}
	}
	if !joined {
		t.Fatalf("expected join to be processed, rooms: %v", client.Rooms)
	}
	if h.ClientCount() != 0 {
		t.Fatalf("expected client unregistered after read loop, got %d", h.ClientCount())
	}
	if !conn.isClosed() {
		t.Fatal("expected the connection to be closed after the read loop")
	}
}

func TestHandler_WritePumpDrainsThroughConn(t *testing.T) {
	h := NewHub()
	handler := NewHandler(h)

	conn := newFakeConn()
	client := &Client{ID: "fc-2", Send: make(chan []byte, 2), hub: h, conn: conn}
	client.Send <- []byte(`{"event":"VitalsUpdated"}`)
	client.Send <- []byte(`{"event":"ReportUpdated"}`)
	close(client.Send)

	handler.writePump(client)

	if len(conn.written) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(conn.written))
	}
	if string(conn.written[0]) != `{"event":"VitalsUpdated"}` {
		t.Fatalf("unexpected first write: %s", conn.written[0])
	}
	for _, mt := range conn.types {
		if mt != gorillawebsocket.TextMessage {
			t.Fatalf("expected text frames, got type %d", mt)
		}
	}
	if !conn.isClosed() {
		t.Fatal("expected the connection to be closed after the send channel drained")
	}
}

func TestHandler_FullUpgradeWithDialer(t *testing.T) {
	h := NewHub()
	handler := NewHandler(h)

	e := echo.New()
	g := e.Group("/hubs")
	handler.RegisterRoutes(g)

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/hubs/clinic"

	dialer := gorillawebsocket.Dialer{}
	conn, resp, err := dialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	// Give the goroutine a moment to register
	time.Sleep(50 * time.Millisecond)
	if h.ClientCount() < 1 {
		t.Fatal("expected at least 1 client registered after connect")
	}

	join := Invocation{Method: "JoinPatientCase", Args: []string{"case-ws"}}
	if err := conn.WriteJSON(join); err != nil {
		t.Fatalf("failed to send join: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if h.RoomCount(CaseRoom("case-ws")) != 1 {
		t.Fatalf("expected 1 member in case room, got %d", h.RoomCount(CaseRoom("case-ws")))
	}

	event := Event{
		Event:  EventVitalsUpdated,
		CaseID: "case-ws",
		Data:   json.RawMessage(`{"heartRate":80}`),
	}
	h.Broadcast(CaseRoom("case-ws"), event)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Event != EventVitalsUpdated {
		t.Fatalf("expected %s, got %s", EventVitalsUpdated, received.Event)
	}
	if received.CaseID != "case-ws" {
		t.Fatalf("expected caseId case-ws, got %s", received.CaseID)
	}
}
