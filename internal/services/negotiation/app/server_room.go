package server

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uday68/VyaparMitra-sub002/internal/services/negotiation/protocol"
)

const (
	maxRoomMessages      = 1000
	maxIdempotencyRecord = 4000
)

type roomHub struct {
	mu    sync.Mutex
	rooms map[string]*negotiationRoom
}

func newRoomHub() *roomHub {
	return &roomHub{rooms: make(map[string]*negotiationRoom)}
}

func (h *roomHub) room(sessionID string) *negotiationRoom {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[sessionID]
	if ok {
		return room
	}

	room = newNegotiationRoom(sessionID)
	h.rooms[sessionID] = room
	return room
}

// allPeers snapshots every connected peer across every room, used for the
// shutdown broadcast.
func (h *roomHub) allPeers() []*wsPeer {
	h.mu.Lock()
	rooms := make([]*negotiationRoom, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	h.mu.Unlock()

	var peers []*wsPeer
	for _, room := range rooms {
		peers = append(peers, room.peers()...)
	}
	return peers
}

type roomMember struct {
	userID string
	role   protocol.Role
}

// negotiationRoom holds the authoritative state of one negotiation: the
// session record, the ordered message log, and the connected peers. The
// room is the sole author of message ids and ordering.
type negotiationRoom struct {
	mu               sync.Mutex
	session          protocol.Session
	messages         []protocol.Message
	idempotencyBy    map[string]protocol.Message
	idempotencyOrder []string
	members          map[*wsPeer]roomMember
}

func newNegotiationRoom(sessionID string) *negotiationRoom {
	return &negotiationRoom{
		session: protocol.Session{
			SessionID: sessionID,
			Status:    protocol.SessionPending,
		},
		idempotencyBy: make(map[string]protocol.Message),
		members:       make(map[*wsPeer]roomMember),
	}
}

// join registers the peer and records the party's identity on the session.
// The first customer join moves the session PENDING to ACTIVE; the returned
// flag reports whether this call made that transition.
func (r *negotiationRoom) join(peer *wsPeer, userID string, role protocol.Role, language string) (protocol.RoomState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	activated := false
	switch role {
	case protocol.RoleVendor:
		r.session.VendorID = userID
		if language != "" {
			r.session.VendorLanguage = language
		}
	case protocol.RoleCustomer:
		r.session.CustomerID = userID
		if language != "" {
			r.session.CustomerLanguage = language
		}
		if r.session.Status == protocol.SessionPending {
			r.session.Status = protocol.SessionActive
			activated = true
		}
	}
	r.members[peer] = roomMember{userID: userID, role: role}

	state := protocol.RoomState{
		Room:     r.session,
		Messages: make([]protocol.Message, len(r.messages)),
	}
	copy(state.Messages, r.messages)
	return state, activated
}

func (r *negotiationRoom) leave(peer *wsPeer) (roomMember, bool) {
	r.mu.Lock()
	member, ok := r.members[peer]
	delete(r.members, peer)
	r.mu.Unlock()
	return member, ok
}

func (r *negotiationRoom) peers() []*wsPeer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peersLocked()
}

func (r *negotiationRoom) peersLocked() []*wsPeer {
	peers := make([]*wsPeer, 0, len(r.members))
	for peer := range r.members {
		peers = append(peers, peer)
	}
	return peers
}

// peersExcept returns every peer except the given one.
func (r *negotiationRoom) peersExcept(exclude *wsPeer) []*wsPeer {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers := make([]*wsPeer, 0, len(r.members))
	for peer := range r.members {
		if peer != exclude {
			peers = append(peers, peer)
		}
	}
	return peers
}

func (r *negotiationRoom) currentSession() protocol.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// counterpartLanguage resolves the translation target for a sender: the
// other party's language, or empty when the other side is unknown or
// speaks the same language.
func (r *negotiationRoom) counterpartLanguage(role protocol.Role, sourceLanguage string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var target string
	switch role {
	case protocol.RoleVendor:
		target = r.session.CustomerLanguage
	case protocol.RoleCustomer:
		target = r.session.VendorLanguage
	}
	if target == "" || target == sourceLanguage {
		return ""
	}
	return target
}

// appendMessage records a message with a server-issued id. A replayed
// client_message_id returns the original record without appending again.
func (r *negotiationRoom) appendMessage(member roomMember, payload protocol.Send, targetLanguage string) (protocol.Message, bool, []*wsPeer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.idempotencyBy[payload.ClientMessageID]; ok {
		return existing, true, nil
	}

	status := protocol.TranslationPending
	if targetLanguage == "" {
		status = protocol.TranslationCompleted
	}
	msg := protocol.Message{
		ID:                uuid.NewString(),
		SessionID:         r.session.SessionID,
		SenderID:          member.userID,
		SenderType:        member.role,
		Type:              payload.Type,
		SourceLanguage:    payload.Language,
		TargetLanguage:    targetLanguage,
		OriginalContent:   payload.Content,
		Content:           payload.Content,
		TranslationStatus: status,
		Timestamp:         time.Now().UTC(),
		Audio:             payload.Audio,
		ClientMessageID:   payload.ClientMessageID,
	}

	r.messages = append(r.messages, msg)
	if len(r.messages) > maxRoomMessages {
		r.messages = r.messages[len(r.messages)-maxRoomMessages:]
	}

	r.idempotencyBy[payload.ClientMessageID] = msg
	r.idempotencyOrder = append(r.idempotencyOrder, payload.ClientMessageID)
	if len(r.idempotencyOrder) > maxIdempotencyRecord {
		evict := r.idempotencyOrder[0]
		r.idempotencyOrder = r.idempotencyOrder[1:]
		delete(r.idempotencyBy, evict)
	}

	return msg, false, r.peersLocked()
}

// applyTranslation patches the stored message after the translation worker
// finishes. Returns the updated record; ok is false when the message has
// been evicted from the log in the meantime.
func (r *negotiationRoom) applyTranslation(messageID string, content string, status protocol.TranslationStatus) (protocol.Message, bool, []*wsPeer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.messages {
		if r.messages[i].ID != messageID {
			continue
		}
		if status == protocol.TranslationCompleted && content != "" {
			r.messages[i].Content = content
		}
		r.messages[i].TranslationStatus = status
		if record, ok := r.idempotencyBy[r.messages[i].ClientMessageID]; ok && record.ID == messageID {
			r.idempotencyBy[r.messages[i].ClientMessageID] = r.messages[i]
		}
		return r.messages[i], true, r.peersLocked()
	}
	return protocol.Message{}, false, nil
}

// markRead sets read receipts and returns the ids that actually changed.
func (r *negotiationRoom) markRead(messageIDs []string, at time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	marked := make([]string, 0, len(messageIDs))
	for _, id := range messageIDs {
		for i := range r.messages {
			if r.messages[i].ID != id {
				continue
			}
			if r.messages[i].ReadAt == nil {
				readAt := at
				r.messages[i].ReadAt = &readAt
				marked = append(marked, id)
			}
			break
		}
	}
	return marked
}

// setLanguage updates the party's language on the session record. Returns
// false when the user matches neither side.
func (r *negotiationRoom) setLanguage(userID string, language string) bool {
	language = strings.TrimSpace(language)
	if language == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch userID {
	case r.session.VendorID:
		r.session.VendorLanguage = language
	case r.session.CustomerID:
		r.session.CustomerLanguage = language
	default:
		return false
	}
	return true
}
