package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/uday68/VyaparMitra-sub002/internal/services/negotiation/protocol"
)

// Status is the coarse transport condition.
type Status string

const (
	StatusDisconnected Status = "DISCONNECTED"
	StatusConnecting   Status = "CONNECTING"
	StatusConnected    Status = "CONNECTED"
)

// ConnectionState is the observable transport condition, mirrored into the
// store snapshot so the UI can render reconnect affordances.
type ConnectionState struct {
	Status           Status
	Err              error
	PendingReconnect bool
}

// ErrAuthRejected reports a credential rejected during the websocket
// handshake. It is fatal to the session and never retried automatically.
var ErrAuthRejected = errors.New("negotiation: credential rejected")

// ErrNotConnected reports an emit attempted without a live connection.
var ErrNotConnected = errors.New("negotiation: transport not connected")

// Transport owns exactly one duplex websocket connection and exposes typed
// publish/subscribe semantics over it. A Transport is owned by one session
// view; it is injected, never shared through package state.
type Transport struct {
	url    string
	origin string

	// dispatchMu serializes inbound handler invocation and lets
	// Disconnect guarantee that no handler fires after it returns.
	dispatchMu sync.Mutex

	writeMu sync.Mutex
	encoder *json.Encoder

	mu         sync.Mutex
	conn       *websocket.Conn
	status     Status
	lastErr    error
	generation int
	handlers   map[string]func(json.RawMessage)
	observers  []func(ConnectionState)
}

// NewTransport creates a disconnected Transport for the given websocket
// endpoint (e.g. "ws://host:8087/ws").
func NewTransport(url, origin string) *Transport {
	return &Transport{
		url:      url,
		origin:   origin,
		status:   StatusDisconnected,
		handlers: make(map[string]func(json.RawMessage)),
	}
}

// On registers the handler for one inbound event type. Handlers are invoked
// one frame at a time by the read loop; they must not block.
func (t *Transport) On(event string, handler func(json.RawMessage)) {
	t.mu.Lock()
	t.handlers[event] = handler
	t.mu.Unlock()
}

// OnStateChange registers an observer for connection-state transitions.
func (t *Transport) OnStateChange(fn func(ConnectionState)) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// State returns the current connection state.
func (t *Transport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ConnectionState{Status: t.status, Err: t.lastErr}
}

// Connected reports whether the transport holds a live connection.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == StatusConnected
}

// Connect dials the server, presenting the credential as a bearer token on
// the handshake. A rejected handshake yields ErrAuthRejected; socket-level
// failures yield a wrapped network error. Calling Connect while a
// connection is live or in flight is a no-op.
func (t *Transport) Connect(ctx context.Context, credential string) error {
	t.mu.Lock()
	if t.status != StatusDisconnected {
		t.mu.Unlock()
		return nil
	}
	t.status = StatusConnecting
	t.mu.Unlock()
	t.notify(ConnectionState{Status: StatusConnecting})

	if err := ctx.Err(); err != nil {
		return t.failConnect(fmt.Errorf("negotiation: connect cancelled: %w", err))
	}

	config, err := websocket.NewConfig(t.url, t.origin)
	if err != nil {
		return t.failConnect(fmt.Errorf("negotiation: invalid server url %q: %w", t.url, err))
	}
	config.Header = make(http.Header)
	config.Header.Set("Authorization", "Bearer "+credential)

	conn, err := websocket.DialConfig(config)
	if err != nil {
		return t.failConnect(classifyDialError(err))
	}

	t.mu.Lock()
	t.conn = conn
	t.status = StatusConnected
	t.lastErr = nil
	t.generation++
	generation := t.generation
	t.mu.Unlock()

	t.writeMu.Lock()
	t.encoder = json.NewEncoder(conn)
	t.writeMu.Unlock()

	go t.readLoop(conn, generation)

	t.notify(ConnectionState{Status: StatusConnected})
	return nil
}

// Emit sends one outbound event. It is fire-and-forget: no per-message
// delivery tracking exists at this layer.
func (t *Transport) Emit(event string, payload any) error {
	t.mu.Lock()
	if t.status != StatusConnected {
		t.mu.Unlock()
		return ErrNotConnected
	}
	t.mu.Unlock()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("negotiation: encode %s payload: %w", event, err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.encoder == nil {
		return ErrNotConnected
	}
	if err := t.encoder.Encode(protocol.Frame{Type: event, Payload: body}); err != nil {
		return fmt.Errorf("negotiation: emit %s: %w", event, err)
	}
	return nil
}

// Disconnect tears down the connection and releases all handlers. No
// handler fires after Disconnect returns: the in-flight dispatch (if any)
// completes first, and the read loop generation is invalidated. State
// observers receive a final clean DISCONNECTED so store snapshots do not
// keep reporting a live connection after a deliberate teardown.
func (t *Transport) Disconnect() {
	t.dispatchMu.Lock()

	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	wasDown := t.status == StatusDisconnected
	t.status = StatusDisconnected
	t.lastErr = nil
	t.generation++
	t.handlers = make(map[string]func(json.RawMessage))
	t.mu.Unlock()

	t.writeMu.Lock()
	t.encoder = nil
	t.writeMu.Unlock()

	t.dispatchMu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if !wasDown {
		t.notify(ConnectionState{Status: StatusDisconnected})
	}
}

func (t *Transport) readLoop(conn *websocket.Conn, generation int) {
	decoder := json.NewDecoder(conn)
	for {
		var frame protocol.Frame
		if err := decoder.Decode(&frame); err != nil {
			t.handleReadError(generation, err)
			return
		}
		t.dispatch(generation, frame)
	}
}

func (t *Transport) dispatch(generation int, frame protocol.Frame) {
	t.dispatchMu.Lock()
	defer t.dispatchMu.Unlock()

	t.mu.Lock()
	if generation != t.generation || t.status != StatusConnected {
		t.mu.Unlock()
		return
	}
	handler := t.handlers[frame.Type]
	t.mu.Unlock()

	if handler == nil {
		log.Printf("negotiation client: unhandled event %q", frame.Type)
		return
	}
	handler(frame.Payload)
}

func (t *Transport) handleReadError(generation int, err error) {
	t.mu.Lock()
	if generation != t.generation {
		// Disconnect already tore this loop's connection down.
		t.mu.Unlock()
		return
	}
	conn := t.conn
	t.conn = nil
	t.status = StatusDisconnected
	readErr := fmt.Errorf("negotiation: connection lost: %w", err)
	t.lastErr = readErr
	t.generation++
	t.mu.Unlock()

	t.writeMu.Lock()
	t.encoder = nil
	t.writeMu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	t.notify(ConnectionState{Status: StatusDisconnected, Err: readErr})
}

func (t *Transport) failConnect(err error) error {
	t.mu.Lock()
	t.status = StatusDisconnected
	t.lastErr = err
	t.mu.Unlock()
	t.notify(ConnectionState{Status: StatusDisconnected, Err: err})
	return err
}

func (t *Transport) notify(state ConnectionState) {
	t.mu.Lock()
	observers := make([]func(ConnectionState), len(t.observers))
	copy(observers, t.observers)
	t.mu.Unlock()
	for _, observer := range observers {
		observer(state)
	}
}

// classifyDialError separates credential rejection from socket-level
// failure. The only handshake refusal this server issues is 401, so a
// completed-but-refused upgrade maps to ErrAuthRejected; everything else
// is a network failure the supervisor may retry.
func classifyDialError(err error) error {
	var dialErr *websocket.DialError
	if errors.As(err, &dialErr) && errors.Is(dialErr.Err, websocket.ErrBadStatus) {
		return fmt.Errorf("%w: %v", ErrAuthRejected, err)
	}
	return fmt.Errorf("negotiation: dial %w", err)
}
