package client

import (
	"encoding/json"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/uday68/VyaparMitra-sub002/internal/platform/clock"
	"github.com/uday68/VyaparMitra-sub002/internal/services/negotiation/protocol"
)

// typingExpiry bounds how long a peer stays flagged as typing without a
// refreshing typing_start. Guards against a dropped typing_stop leaving a
// stuck indicator.
const typingExpiry = 5 * time.Second

// Reconciler translates each inbound transport event into exactly one
// store mutation. Every handler is idempotent under replayed delivery and
// degrades to a logged no-op instead of corrupting the store: no error
// escapes an event handler.
type Reconciler struct {
	store       *Store
	localUserID string
	clock       clock.Clock
	onShutdown  func(reason string)

	mu           sync.Mutex
	typingTimers map[string]*clock.Timer
	closed       bool
}

func newReconciler(store *Store, localUserID string, clk clock.Clock, onShutdown func(string)) *Reconciler {
	return &Reconciler{
		store:        store,
		localUserID:  localUserID,
		clock:        clk,
		onShutdown:   onShutdown,
		typingTimers: make(map[string]*clock.Timer),
	}
}

// Bind registers the reconciler's dispatch table on the transport.
func (r *Reconciler) Bind(t *Transport) {
	t.On(protocol.EventRoomState, r.handleRoomState)
	t.On(protocol.EventCustomerJoined, r.handleCustomerJoined)
	t.On(protocol.EventNewMessage, r.handleNewMessage)
	t.On(protocol.EventMessageTranslated, r.handleMessageTranslated)
	t.On(protocol.EventMessagesRead, r.handleMessagesRead)
	t.On(protocol.EventUserTyping, r.handleUserTyping)
	t.On(protocol.EventSessionUpdate, r.handleSessionUpdate)
	t.On(protocol.EventLanguageChanged, r.handleLanguageChanged)
	t.On(protocol.EventUserDisconnected, r.handleUserDisconnected)
	t.On(protocol.EventServerShutdown, r.handleServerShutdown)
}

// Close cancels every pending typing-expiry timer. Late timer callbacks
// after Close are no-ops.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	for userID, timer := range r.typingTimers {
		timer.Stop()
		delete(r.typingTimers, userID)
	}
	r.mu.Unlock()
}

// handleRoomState performs a full resync: session and message log are
// replaced wholesale, sorted ascending by timestamp.
func (r *Reconciler) handleRoomState(payload json.RawMessage) {
	var state protocol.RoomState
	if err := json.Unmarshal(payload, &state); err != nil {
		log.Printf("negotiation client: drop malformed room_state: %v", err)
		return
	}
	messages := make([]protocol.Message, len(state.Messages))
	copy(messages, state.Messages)
	sortMessages(messages)

	room := state.Room
	r.store.update(func() {
		r.store.session = &room
		r.store.messages = messages
	})
}

func (r *Reconciler) handleCustomerJoined(payload json.RawMessage) {
	var joined protocol.CustomerJoined
	if err := json.Unmarshal(payload, &joined); err != nil {
		log.Printf("negotiation client: drop malformed customer_joined: %v", err)
		return
	}
	r.store.update(func() {
		if r.store.session == nil {
			return
		}
		r.store.session.CustomerID = joined.CustomerID
		r.store.session.CustomerLanguage = joined.CustomerLanguage
		if r.store.session.Status == protocol.SessionPending {
			r.store.session.Status = protocol.SessionActive
		}
	})
}

// handleNewMessage upserts by id: a replayed or echoed message replaces the
// existing entry in place, a new one is inserted and the log re-sorted.
// For equal timestamps arrival order is preserved.
func (r *Reconciler) handleNewMessage(payload json.RawMessage) {
	message, ok := decodeMessage(payload, "new_message")
	if !ok {
		return
	}
	r.store.update(func() {
		for i := range r.store.messages {
			if r.store.messages[i].ID == message.ID {
				r.store.messages[i] = message
				return
			}
		}
		r.store.messages = append(r.store.messages, message)
		sortMessages(r.store.messages)
	})
}

// handleMessageTranslated is update-only. An unknown id means the event is
// stale relative to a room_state resync; it is dropped, not an error.
func (r *Reconciler) handleMessageTranslated(payload json.RawMessage) {
	message, ok := decodeMessage(payload, "message_translated")
	if !ok {
		return
	}
	r.store.update(func() {
		for i := range r.store.messages {
			if r.store.messages[i].ID == message.ID {
				r.store.messages[i].Content = message.Content
				r.store.messages[i].TranslationStatus = message.TranslationStatus
				r.store.messages[i].TargetLanguage = message.TargetLanguage
				return
			}
		}
		log.Printf("negotiation client: drop stale message_translated for unknown id %q", message.ID)
	})
}

// handleMessagesRead sets read receipts for the listed ids, skipping events
// authored by the local user so locally-generated reads are not processed
// twice.
func (r *Reconciler) handleMessagesRead(payload json.RawMessage) {
	var read protocol.MessagesRead
	if err := json.Unmarshal(payload, &read); err != nil {
		log.Printf("negotiation client: drop malformed messages_read: %v", err)
		return
	}
	if read.UserID == r.localUserID {
		return
	}
	readAt := read.Timestamp
	r.store.update(func() {
		for _, id := range read.MessageIDs {
			for i := range r.store.messages {
				if r.store.messages[i].ID == id {
					at := readAt
					r.store.messages[i].ReadAt = &at
					break
				}
			}
		}
	})
}

func (r *Reconciler) handleUserTyping(payload json.RawMessage) {
	var typing protocol.UserTyping
	if err := json.Unmarshal(payload, &typing); err != nil {
		log.Printf("negotiation client: drop malformed user_typing: %v", err)
		return
	}
	if typing.UserID == r.localUserID {
		return
	}
	if typing.IsTyping {
		r.setTyping(typing.UserID)
	} else {
		r.clearTyping(typing.UserID)
	}
}

// handleSessionUpdate shallow-merges a partial session patch.
func (r *Reconciler) handleSessionUpdate(payload json.RawMessage) {
	var patch protocol.SessionUpdate
	if err := json.Unmarshal(payload, &patch); err != nil {
		log.Printf("negotiation client: drop malformed session_update: %v", err)
		return
	}
	r.store.update(func() {
		if r.store.session == nil {
			return
		}
		if patch.Status != nil {
			r.store.session.Status = *patch.Status
		}
		if patch.VendorLanguage != nil {
			r.store.session.VendorLanguage = *patch.VendorLanguage
		}
		if patch.CustomerLanguage != nil {
			r.store.session.CustomerLanguage = *patch.CustomerLanguage
		}
	})
}

// handleLanguageChanged maps the user to the vendor or customer side and
// patches that side's language. The local user's own change arrives here
// too and is ignored; the gateway already knows it.
func (r *Reconciler) handleLanguageChanged(payload json.RawMessage) {
	var changed protocol.LanguageChanged
	if err := json.Unmarshal(payload, &changed); err != nil {
		log.Printf("negotiation client: drop malformed language_changed: %v", err)
		return
	}
	if changed.UserID == r.localUserID {
		return
	}
	r.store.update(func() {
		session := r.store.session
		if session == nil {
			return
		}
		switch changed.UserID {
		case session.VendorID:
			session.VendorLanguage = changed.NewLanguage
		case session.CustomerID:
			session.CustomerLanguage = changed.NewLanguage
		default:
			log.Printf("negotiation client: language_changed for unknown user %q", changed.UserID)
		}
	})
}

// handleUserDisconnected clears the typing flag only. A disconnect is not a
// session end; status transitions arrive via session_update.
func (r *Reconciler) handleUserDisconnected(payload json.RawMessage) {
	var disconnected protocol.UserDisconnected
	if err := json.Unmarshal(payload, &disconnected); err != nil {
		log.Printf("negotiation client: drop malformed user_disconnected: %v", err)
		return
	}
	r.clearTyping(disconnected.UserID)
}

// handleServerShutdown marks the connection as terminally errored. The
// session itself is left untouched.
func (r *Reconciler) handleServerShutdown(payload json.RawMessage) {
	var shutdown protocol.ServerShutdown
	if err := json.Unmarshal(payload, &shutdown); err != nil {
		log.Printf("negotiation client: drop malformed server_shutdown: %v", err)
		return
	}
	err := errors.New("negotiation: server shutdown: " + shutdown.Message)
	r.store.update(func() {
		r.store.connection.Err = err
		r.store.connection.PendingReconnect = false
	})
	if r.onShutdown != nil {
		r.onShutdown(shutdown.Message)
	}
}

func (r *Reconciler) setTyping(userID string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if timer, ok := r.typingTimers[userID]; ok {
		timer.Reset(typingExpiry)
	} else {
		r.typingTimers[userID] = r.clock.AfterFunc(typingExpiry, func() {
			r.expireTyping(userID)
		})
	}
	r.mu.Unlock()

	r.store.update(func() {
		r.store.typing[userID] = struct{}{}
	})
}

func (r *Reconciler) clearTyping(userID string) {
	r.mu.Lock()
	if timer, ok := r.typingTimers[userID]; ok {
		timer.Stop()
		delete(r.typingTimers, userID)
	}
	r.mu.Unlock()

	r.store.update(func() {
		delete(r.store.typing, userID)
	})
}

func (r *Reconciler) expireTyping(userID string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	delete(r.typingTimers, userID)
	r.mu.Unlock()

	r.store.update(func() {
		delete(r.store.typing, userID)
	})
}

func decodeMessage(payload json.RawMessage, event string) (protocol.Message, bool) {
	var envelope protocol.MessageEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		log.Printf("negotiation client: drop malformed %s: %v", event, err)
		return protocol.Message{}, false
	}
	if envelope.Message.ID == "" {
		log.Printf("negotiation client: drop %s without message id", event)
		return protocol.Message{}, false
	}
	return envelope.Message, true
}

// sortMessages orders ascending by timestamp. The sort is stable so equal
// timestamps keep arrival order.
func sortMessages(messages []protocol.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
}
