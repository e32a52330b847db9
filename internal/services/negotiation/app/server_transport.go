package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/net/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/uday68/VyaparMitra-sub002/internal/platform/timeouts"
	"github.com/uday68/VyaparMitra-sub002/internal/services/negotiation/protocol"
)

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame protocol.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

func (p *wsPeer) writeEvent(event string, requestID string, payload any) error {
	return p.writeFrame(protocol.Frame{
		Type:      event,
		RequestID: requestID,
		Payload:   mustJSON(payload),
	})
}

type wsSession struct {
	mu     sync.Mutex
	userID string
	peer   *wsPeer
	room   *negotiationRoom
	member roomMember
}

func newWSSession(userID string, peer *wsPeer) *wsSession {
	return &wsSession{userID: userID, peer: peer}
}

func (s *wsSession) setRoom(next *negotiationRoom, member roomMember) *negotiationRoom {
	s.mu.Lock()
	previous := s.room
	s.room = next
	s.member = member
	s.mu.Unlock()
	return previous
}

func (s *wsSession) currentRoom() (*negotiationRoom, roomMember) {
	s.mu.Lock()
	room := s.room
	member := s.member
	s.mu.Unlock()
	return room, member
}

// wsTransport owns the websocket frame protocol: one connection loop per
// peer, intent dispatch, and fan-out of room events. Translation runs on a
// bounded worker pool so a slow translation service cannot pile up
// goroutines per message.
type wsTransport struct {
	hub          *roomHub
	translator   Translator
	translateSem *semaphore.Weighted
}

func newWSTransport(translator Translator, maxConcurrentTranslations int64) *wsTransport {
	if maxConcurrentTranslations <= 0 {
		maxConcurrentTranslations = defaultMaxConcurrentTranslations
	}
	return &wsTransport{
		hub:          newRoomHub(),
		translator:   translator,
		translateSem: semaphore.NewWeighted(maxConcurrentTranslations),
	}
}

func (t *wsTransport) handleConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	peer := newWSPeer(json.NewEncoder(conn))
	userID := "participant"
	if request := conn.Request(); request != nil {
		if resolved, ok := request.Context().Value(wsUserIDContextKey{}).(string); ok && strings.TrimSpace(resolved) != "" {
			userID = strings.TrimSpace(resolved)
		} else if header := strings.TrimSpace(request.Header.Get("X-User-ID")); header != "" {
			userID = header
		}
	}
	session := newWSSession(userID, peer)
	defer t.leaveRoom(session)

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame protocol.Frame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(session.peer, "", protocol.CodeInvalidArgument, "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(session.peer, frame.RequestID, protocol.CodeInvalidArgument, "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(session.peer, frame.RequestID, protocol.CodeResourceExhausted, "rate limit exceeded")
			return
		}

		switch frame.Type {
		case protocol.IntentJoin:
			t.handleJoinFrame(session, frame)
		case protocol.IntentMessage:
			t.handleMessageFrame(session, frame)
		case protocol.IntentTypingStart:
			t.handleTypingFrame(session, true)
		case protocol.IntentTypingStop:
			t.handleTypingFrame(session, false)
		case protocol.IntentRead:
			t.handleReadFrame(session, frame)
		case protocol.IntentLanguage:
			t.handleLanguageFrame(session, frame)
		default:
			_ = writeWSError(session.peer, frame.RequestID, protocol.CodeInvalidArgument, "unsupported frame type")
		}
	}
}

// leaveRoom removes the peer and tells the counterparty. A dropped socket
// is presence loss only; the session record is untouched so the party can
// rejoin.
func (t *wsTransport) leaveRoom(session *wsSession) {
	room, _ := session.currentRoom()
	if room == nil {
		return
	}
	member, ok := room.leave(session.peer)
	if !ok {
		return
	}
	broadcast(room.peers(), protocol.EventUserDisconnected, protocol.UserDisconnected{
		UserID: member.userID,
	})
}

func (t *wsTransport) handleJoinFrame(session *wsSession, frame protocol.Frame) {
	var payload protocol.Join
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, protocol.CodeInvalidArgument, "invalid join payload")
		return
	}

	sessionID := strings.TrimSpace(payload.SessionID)
	if sessionID == "" {
		_ = writeWSError(session.peer, frame.RequestID, protocol.CodeInvalidArgument, "session_id is required")
		return
	}
	switch payload.Role {
	case protocol.RoleVendor, protocol.RoleCustomer:
	default:
		_ = writeWSError(session.peer, frame.RequestID, protocol.CodeInvalidArgument, "role must be VENDOR or CUSTOMER")
		return
	}

	room := t.hub.room(sessionID)
	state, activated := room.join(session.peer, session.userID, payload.Role, strings.TrimSpace(payload.Language))
	member := roomMember{userID: session.userID, role: payload.Role}
	previous := session.setRoom(room, member)
	if previous != nil && previous != room {
		t.leavePrevious(previous, session.peer)
	}

	// Full resync for the joiner; the counterparty learns about a customer
	// through the dedicated event.
	_ = session.peer.writeEvent(protocol.EventRoomState, frame.RequestID, state)

	if payload.Role == protocol.RoleCustomer {
		joined := protocol.CustomerJoined{
			CustomerID:       session.userID,
			CustomerLanguage: state.Room.CustomerLanguage,
		}
		broadcast(room.peersExcept(session.peer), protocol.EventCustomerJoined, joined)
		if activated {
			log.Printf("negotiation session %s activated by customer %s", sessionID, session.userID)
		}
	}
}

func (t *wsTransport) leavePrevious(previous *negotiationRoom, peer *wsPeer) {
	member, ok := previous.leave(peer)
	if !ok {
		return
	}
	broadcast(previous.peers(), protocol.EventUserDisconnected, protocol.UserDisconnected{
		UserID: member.userID,
	})
}

func (t *wsTransport) handleMessageFrame(session *wsSession, frame protocol.Frame) {
	var payload protocol.Send
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, protocol.CodeInvalidArgument, "invalid message payload")
		return
	}

	payload.ClientMessageID = strings.TrimSpace(payload.ClientMessageID)
	if payload.ClientMessageID == "" {
		_ = writeWSError(session.peer, frame.RequestID, protocol.CodeInvalidArgument, "client_message_id is required")
		return
	}
	if utf8.RuneCountInString(payload.ClientMessageID) > maxClientMessageIDRunes {
		_ = writeWSError(session.peer, frame.RequestID, protocol.CodeInvalidArgument, "client_message_id must be at most 128 characters")
		return
	}

	switch payload.Type {
	case protocol.MessageText, "":
		payload.Type = protocol.MessageText
		payload.Content = strings.TrimSpace(payload.Content)
		if payload.Content == "" {
			_ = writeWSError(session.peer, frame.RequestID, protocol.CodeInvalidArgument, "content is required")
			return
		}
		if utf8.RuneCountInString(payload.Content) > maxMessageContentRunes {
			_ = writeWSError(session.peer, frame.RequestID, protocol.CodeInvalidArgument, "content must be at most 2000 characters")
			return
		}
	case protocol.MessageVoice:
		if strings.TrimSpace(payload.Audio) == "" {
			_ = writeWSError(session.peer, frame.RequestID, protocol.CodeInvalidArgument, "audio is required for voice messages")
			return
		}
	default:
		_ = writeWSError(session.peer, frame.RequestID, protocol.CodeInvalidArgument, "type must be TEXT or VOICE")
		return
	}

	room, member := session.currentRoom()
	if room == nil {
		_ = writeWSError(session.peer, frame.RequestID, protocol.CodeFailedPrecondition, "must join session before sending")
		return
	}

	if strings.TrimSpace(payload.Language) == "" {
		payload.Language = memberLanguage(room.currentSession(), member.role)
	}
	targetLanguage := room.counterpartLanguage(member.role, payload.Language)

	msg, duplicate, peers := room.appendMessage(member, payload, targetLanguage)
	if duplicate {
		// Replay after reconnect: re-echo to the sender only, the client
		// upserts by id so this converges without duplicating for others.
		_ = session.peer.writeEvent(protocol.EventNewMessage, frame.RequestID, protocol.MessageEnvelope{Message: msg})
		return
	}

	envelope := protocol.MessageEnvelope{Message: msg}
	for _, peer := range peers {
		requestID := ""
		if peer == session.peer {
			requestID = frame.RequestID
		}
		_ = peer.writeEvent(protocol.EventNewMessage, requestID, envelope)
	}

	if msg.TranslationStatus == protocol.TranslationPending && t.translator != nil {
		go t.translateAsync(room, msg)
	}
}

// translateAsync runs one translation and fans out the patch. Failure is a
// delivered FAILED status, never a lost message: the original content has
// already reached every peer.
func (t *wsTransport) translateAsync(room *negotiationRoom, msg protocol.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Translate)
	defer cancel()

	if err := t.translateSem.Acquire(ctx, 1); err != nil {
		log.Printf("negotiation: translation slot for message %s: %v", msg.ID, err)
		t.finishTranslation(room, msg.ID, "", protocol.TranslationFailed)
		return
	}
	defer t.translateSem.Release(1)

	translated, err := t.translator.Translate(ctx, msg.OriginalContent, msg.SourceLanguage, msg.TargetLanguage)
	if err != nil {
		log.Printf("negotiation: translate message %s: %v", msg.ID, err)
		t.finishTranslation(room, msg.ID, "", protocol.TranslationFailed)
		return
	}
	t.finishTranslation(room, msg.ID, translated, protocol.TranslationCompleted)
}

func (t *wsTransport) finishTranslation(room *negotiationRoom, messageID string, content string, status protocol.TranslationStatus) {
	updated, ok, peers := room.applyTranslation(messageID, content, status)
	if !ok {
		return
	}
	broadcast(peers, protocol.EventMessageTranslated, protocol.MessageEnvelope{Message: updated})
}

func (t *wsTransport) handleTypingFrame(session *wsSession, isTyping bool) {
	room, member := session.currentRoom()
	if room == nil {
		return
	}
	broadcast(room.peersExcept(session.peer), protocol.EventUserTyping, protocol.UserTyping{
		UserID:   member.userID,
		IsTyping: isTyping,
	})
}

func (t *wsTransport) handleReadFrame(session *wsSession, frame protocol.Frame) {
	var payload protocol.Read
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, protocol.CodeInvalidArgument, "invalid read payload")
		return
	}
	if len(payload.MessageIDs) == 0 {
		_ = writeWSError(session.peer, frame.RequestID, protocol.CodeInvalidArgument, "message_ids is required")
		return
	}

	room, member := session.currentRoom()
	if room == nil {
		_ = writeWSError(session.peer, frame.RequestID, protocol.CodeFailedPrecondition, "must join session before reading")
		return
	}

	now := time.Now().UTC()
	marked := room.markRead(payload.MessageIDs, now)
	if len(marked) == 0 {
		return
	}
	broadcast(room.peersExcept(session.peer), protocol.EventMessagesRead, protocol.MessagesRead{
		UserID:     member.userID,
		MessageIDs: marked,
		Timestamp:  now,
	})
}

func (t *wsTransport) handleLanguageFrame(session *wsSession, frame protocol.Frame) {
	var payload protocol.Language
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, protocol.CodeInvalidArgument, "invalid language payload")
		return
	}

	room, member := session.currentRoom()
	if room == nil {
		_ = writeWSError(session.peer, frame.RequestID, protocol.CodeFailedPrecondition, "must join session before changing language")
		return
	}
	if !room.setLanguage(member.userID, payload.Language) {
		_ = writeWSError(session.peer, frame.RequestID, protocol.CodeInvalidArgument, "language is required")
		return
	}

	// Everyone hears the change, including the sender; clients ignore their
	// own echo.
	broadcast(room.peers(), protocol.EventLanguageChanged, protocol.LanguageChanged{
		UserID:      member.userID,
		NewLanguage: strings.TrimSpace(payload.Language),
	})
}

// broadcastShutdown tells every connected peer the service is stopping so
// clients stop reconnecting.
func (t *wsTransport) broadcastShutdown(message string) {
	broadcast(t.hub.allPeers(), protocol.EventServerShutdown, protocol.ServerShutdown{
		Message: message,
	})
}

func memberLanguage(session protocol.Session, role protocol.Role) string {
	switch role {
	case protocol.RoleVendor:
		return session.VendorLanguage
	case protocol.RoleCustomer:
		return session.CustomerLanguage
	}
	return ""
}

func broadcast(peers []*wsPeer, event string, payload any) {
	for _, peer := range peers {
		_ = peer.writeEvent(event, "", payload)
	}
}

func writeWSError(peer *wsPeer, requestID string, code string, message string) error {
	return peer.writeEvent(protocol.EventError, requestID, protocol.ErrorPayload{
		Error: protocol.Error{
			Code:      code,
			Message:   message,
			Retryable: false,
		},
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
