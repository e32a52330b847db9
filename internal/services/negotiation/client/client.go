package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/uday68/VyaparMitra-sub002/internal/platform/clock"
	"github.com/uday68/VyaparMitra-sub002/internal/services/negotiation/protocol"
)

// Config carries everything needed to participate in one negotiation
// session.
type Config struct {
	// ServerURL is the websocket endpoint, e.g. ws://host/negotiation/ws.
	ServerURL string
	// Origin is the handshake origin header.
	Origin string
	// Credential is the bearer token presented during the handshake.
	Credential string

	SessionID string
	UserID    string
	Role      protocol.Role
	// Language is the caller's initial display language (BCP 47 tag).
	Language string

	// Clock is optional; the wall clock is used when nil.
	Clock clock.Clock
}

func (c Config) validate() error {
	if c.ServerURL == "" {
		return errors.New("negotiation: server url required")
	}
	if c.SessionID == "" {
		return errors.New("negotiation: session id required")
	}
	if c.UserID == "" {
		return errors.New("negotiation: user id required")
	}
	switch c.Role {
	case protocol.RoleVendor, protocol.RoleCustomer:
	default:
		return fmt.Errorf("negotiation: invalid role %q", c.Role)
	}
	if c.Language == "" {
		return errors.New("negotiation: language required")
	}
	return nil
}

// Client is the negotiation synchronization layer: one transport, one
// store, a reconciler applying server events, a gateway for outbound
// intents, and a supervisor owning the reconnect lifecycle. The UI reads
// snapshots and calls intent methods; it never touches the socket.
type Client struct {
	cfg        Config
	transport  *Transport
	store      *Store
	reconciler *Reconciler
	gateway    *Gateway
	supervisor *Supervisor
}

// New wires the synchronization layer together. It does not dial; call
// Connect.
func New(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	transport := NewTransport(cfg.ServerURL, cfg.Origin)
	store := NewStore()
	gateway := newGateway(transport, clk, cfg.SessionID, cfg.Role, cfg.Language)

	c := &Client{
		cfg:       cfg,
		transport: transport,
		store:     store,
		gateway:   gateway,
	}
	c.supervisor = newSupervisor(transport, gateway, clk, store.setPendingReconnect)
	c.reconciler = newReconciler(store, cfg.UserID, clk, func(reason string) {
		c.supervisor.MarkTerminal(reason)
	})
	c.reconciler.Bind(transport)

	transport.OnStateChange(store.setConnection)
	transport.OnStateChange(c.supervisor.onStateChange)
	return c, nil
}

// Connect dials the server and joins the session. The first snapshot with
// messages arrives via the room_state resync shortly after.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.supervisor.Connect(ctx, c.cfg.Credential); err != nil {
		return err
	}
	if !c.gateway.JoinSession(c.cfg.Language) {
		c.supervisor.Stop()
		c.transport.Disconnect()
		return errors.New("negotiation: join failed")
	}
	return nil
}

// Disconnect deliberately leaves the session. No reconnection follows.
func (c *Client) Disconnect() {
	c.supervisor.Stop()
	c.gateway.Close()
	c.reconciler.Close()
	c.transport.Disconnect()
}

// Snapshot returns the current synchronized view.
func (c *Client) Snapshot() Snapshot {
	return c.store.Snapshot()
}

// Subscribe registers fn for every state change and returns an
// unsubscribe func.
func (c *Client) Subscribe(fn func(Snapshot)) func() {
	return c.store.Subscribe(fn)
}

// SendMessage publishes a text or voice message. Returns false if the
// transport is down; nothing is queued.
func (c *Client) SendMessage(content string, messageType protocol.MessageType, lang string, audio string) bool {
	return c.gateway.SendMessage(content, messageType, lang, audio)
}

// SetTyping reports local typing activity. Bursts are debounced to one
// start and one trailing stop.
func (c *Client) SetTyping(isTyping bool) {
	c.gateway.SetTyping(isTyping)
}

// MarkRead reports locally read messages.
func (c *Client) MarkRead(messageIDs []string) bool {
	return c.gateway.MarkRead(messageIDs)
}

// ChangeLanguage switches the display language mid-session.
func (c *Client) ChangeLanguage(lang string) bool {
	return c.gateway.ChangeLanguage(lang)
}
