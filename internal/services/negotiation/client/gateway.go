package client

import (
	"log"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/uday68/VyaparMitra-sub002/internal/platform/clock"
	"github.com/uday68/VyaparMitra-sub002/internal/platform/id"
	"github.com/uday68/VyaparMitra-sub002/internal/services/negotiation/protocol"
)

// typingIdleWindow is how long after the last keystroke-triggered
// SetTyping(true) call the trailing typing_stop fires.
const typingIdleWindow = 3 * time.Second

// emitter is the slice of the transport the gateway needs.
type emitter interface {
	Emit(event string, payload any) error
	Connected() bool
}

// Gateway validates and forwards user intents to the transport. Action
// failures are soft: an intent attempted while disconnected returns false
// so the UI can offer an inline retry instead of crashing.
type Gateway struct {
	transport emitter
	clock     clock.Clock
	sessionID string
	role      protocol.Role

	mu           sync.Mutex
	language     string
	joined       bool
	typingActive bool
	typingStop   *clock.Timer
	closed       bool
}

func newGateway(transport emitter, clk clock.Clock, sessionID string, role protocol.Role, lang string) *Gateway {
	return &Gateway{
		transport: transport,
		clock:     clk,
		sessionID: sessionID,
		role:      role,
		language:  lang,
	}
}

// JoinSession emits a join intent carrying the caller's chosen display
// language and role. Returns false when the transport is disconnected or
// the language tag is invalid.
func (g *Gateway) JoinSession(lang string) bool {
	canonical, ok := canonicalLanguage(lang)
	if !ok {
		return false
	}
	if !g.transport.Connected() {
		return false
	}

	g.mu.Lock()
	g.language = canonical
	g.joined = true
	g.mu.Unlock()

	err := g.transport.Emit(protocol.IntentJoin, protocol.Join{
		SessionID: g.sessionID,
		Role:      g.role,
		Language:  canonical,
	})
	if err != nil {
		log.Printf("negotiation client: join intent failed: %v", err)
		return false
	}
	return true
}

// Rejoin re-emits the join intent with the last-known language. Used by the
// reconnection supervisor: reconnection is an explicit re-join, never
// transparent to the server.
func (g *Gateway) Rejoin() bool {
	g.mu.Lock()
	joined := g.joined
	lang := g.language
	g.mu.Unlock()
	if !joined {
		return false
	}
	return g.JoinSession(lang)
}

// SendMessage emits exactly one message intent. The message does not enter
// the store optimistically: it appears only once the server echoes it back,
// keeping the server the sole author of message identity and ordering.
// For voice messages the audio payload must already be normalized to a
// transport-safe encoding by the caller.
func (g *Gateway) SendMessage(content string, messageType protocol.MessageType, lang string, audio string) bool {
	if !g.transport.Connected() {
		return false
	}
	clientMessageID, err := id.NewID()
	if err != nil {
		log.Printf("negotiation client: generate client message id: %v", err)
		return false
	}

	err = g.transport.Emit(protocol.IntentMessage, protocol.Send{
		ClientMessageID: clientMessageID,
		Content:         content,
		Type:            messageType,
		Language:        lang,
		Audio:           audio,
	})
	if err != nil {
		log.Printf("negotiation client: message intent failed: %v", err)
		return false
	}
	return true
}

// SetTyping debounces typing intents: a burst of true calls collapses to a
// single typing_start, and one trailing typing_stop fires after the idle
// window elapses. An explicit false emits the stop immediately. At most one
// outbound event per edge transition.
func (g *Gateway) SetTyping(isTyping bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || !g.transport.Connected() {
		return
	}

	if isTyping {
		if !g.typingActive {
			g.typingActive = true
			g.emitTyping(protocol.IntentTypingStart)
		}
		if g.typingStop == nil {
			g.typingStop = g.clock.AfterFunc(typingIdleWindow, g.typingIdle)
		} else {
			g.typingStop.Reset(typingIdleWindow)
		}
		return
	}

	if g.typingActive {
		g.typingActive = false
		if g.typingStop != nil {
			g.typingStop.Stop()
			g.typingStop = nil
		}
		g.emitTyping(protocol.IntentTypingStop)
	}
}

// typingIdle is the trailing edge of the debounce window.
func (g *Gateway) typingIdle() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || !g.typingActive {
		return
	}
	g.typingActive = false
	g.typingStop = nil
	g.emitTyping(protocol.IntentTypingStop)
}

func (g *Gateway) emitTyping(intent string) {
	if err := g.transport.Emit(intent, struct{}{}); err != nil {
		log.Printf("negotiation client: typing intent failed: %v", err)
	}
}

// MarkRead reports locally read messages so the counterparty receives read
// receipts.
func (g *Gateway) MarkRead(messageIDs []string) bool {
	if len(messageIDs) == 0 {
		return true
	}
	if !g.transport.Connected() {
		return false
	}
	err := g.transport.Emit(protocol.IntentRead, protocol.Read{MessageIDs: messageIDs})
	if err != nil {
		log.Printf("negotiation client: read intent failed: %v", err)
		return false
	}
	return true
}

// ChangeLanguage switches the caller's display language mid-session.
func (g *Gateway) ChangeLanguage(lang string) bool {
	canonical, ok := canonicalLanguage(lang)
	if !ok {
		return false
	}
	if !g.transport.Connected() {
		return false
	}

	g.mu.Lock()
	g.language = canonical
	g.mu.Unlock()

	err := g.transport.Emit(protocol.IntentLanguage, protocol.Language{Language: canonical})
	if err != nil {
		log.Printf("negotiation client: language intent failed: %v", err)
		return false
	}
	return true
}

// Language returns the last chosen display language.
func (g *Gateway) Language() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.language
}

// Close cancels the pending typing debounce timer. No intent fires after
// Close returns.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	if g.typingStop != nil {
		g.typingStop.Stop()
		g.typingStop = nil
	}
}

// canonicalLanguage validates and normalizes a BCP 47 language tag.
func canonicalLanguage(lang string) (string, bool) {
	tag, err := language.Parse(lang)
	if err != nil {
		log.Printf("negotiation client: invalid language tag %q: %v", lang, err)
		return "", false
	}
	return tag.String(), true
}
