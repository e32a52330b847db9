package client

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/uday68/VyaparMitra-sub002/internal/platform/clock"
	"github.com/uday68/VyaparMitra-sub002/internal/services/negotiation/protocol"
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func testMessage(id string, ts time.Time) protocol.Message {
	return protocol.Message{
		ID:                id,
		SessionID:         "sess-1",
		SenderID:          "vendor-1",
		SenderType:        protocol.RoleVendor,
		Type:              protocol.MessageText,
		SourceLanguage:    "hi",
		OriginalContent:   "content-" + id,
		Content:           "content-" + id,
		TranslationStatus: protocol.TranslationPending,
		Timestamp:         ts,
	}
}

func newTestReconciler(t *testing.T, localUserID string) (*Reconciler, *Store, *clock.FakeClock) {
	t.Helper()
	store := NewStore()
	fake := clock.NewFake(time.Unix(1000, 0))
	r := newReconciler(store, localUserID, fake, nil)
	t.Cleanup(r.Close)
	return r, store, fake
}

func TestRoomStateReplacesAndSorts(t *testing.T) {
	r, store, _ := newTestReconciler(t, "customer-1")

	base := time.Unix(0, 0)
	r.handleRoomState(mustJSON(t, protocol.RoomState{
		Room: protocol.Session{
			SessionID:      "sess-1",
			VendorID:       "vendor-1",
			VendorLanguage: "hi",
			Status:         protocol.SessionPending,
		},
		Messages: []protocol.Message{
			testMessage("a", base.Add(100*time.Millisecond)),
			testMessage("b", base.Add(50*time.Millisecond)),
		},
	}))

	snap := store.Snapshot()
	if snap.Session == nil || snap.Session.SessionID != "sess-1" {
		t.Fatalf("session = %+v, want sess-1", snap.Session)
	}
	if got := messageIDs(snap); !equalIDs(got, []string{"b", "a"}) {
		t.Fatalf("messages = %v, want [b a]", got)
	}

	// A second resync replaces the log wholesale, it does not merge.
	r.handleRoomState(mustJSON(t, protocol.RoomState{
		Room:     protocol.Session{SessionID: "sess-1"},
		Messages: []protocol.Message{testMessage("z", base)},
	}))
	if got := messageIDs(store.Snapshot()); !equalIDs(got, []string{"z"}) {
		t.Fatalf("messages after resync = %v, want [z]", got)
	}
}

func TestNewMessageInsertsInTimestampOrder(t *testing.T) {
	r, store, _ := newTestReconciler(t, "customer-1")

	base := time.Unix(0, 0)
	r.handleRoomState(mustJSON(t, protocol.RoomState{
		Room: protocol.Session{SessionID: "sess-1"},
		Messages: []protocol.Message{
			testMessage("a", base.Add(100*time.Millisecond)),
			testMessage("b", base.Add(50*time.Millisecond)),
		},
	}))

	r.handleNewMessage(mustJSON(t, protocol.MessageEnvelope{
		Message: testMessage("c", base.Add(75*time.Millisecond)),
	}))

	if got := messageIDs(store.Snapshot()); !equalIDs(got, []string{"b", "c", "a"}) {
		t.Fatalf("messages = %v, want [b c a]", got)
	}
}

func TestNewMessageReplayIsIdempotent(t *testing.T) {
	r, store, _ := newTestReconciler(t, "customer-1")

	msg := testMessage("m1", time.Unix(10, 0))
	payload := mustJSON(t, protocol.MessageEnvelope{Message: msg})
	r.handleNewMessage(payload)
	r.handleNewMessage(payload)

	snap := store.Snapshot()
	if len(snap.Messages) != 1 {
		t.Fatalf("len(messages) = %d, want 1", len(snap.Messages))
	}
	if snap.Messages[0].ID != "m1" {
		t.Fatalf("message id = %q, want m1", snap.Messages[0].ID)
	}
}

func TestNewMessageEqualTimestampsKeepArrivalOrder(t *testing.T) {
	r, store, _ := newTestReconciler(t, "customer-1")

	ts := time.Unix(10, 0)
	r.handleNewMessage(mustJSON(t, protocol.MessageEnvelope{Message: testMessage("first", ts)}))
	r.handleNewMessage(mustJSON(t, protocol.MessageEnvelope{Message: testMessage("second", ts)}))

	if got := messageIDs(store.Snapshot()); !equalIDs(got, []string{"first", "second"}) {
		t.Fatalf("messages = %v, want [first second]", got)
	}
}

func TestMessageTranslatedPatchesInPlace(t *testing.T) {
	r, store, _ := newTestReconciler(t, "customer-1")

	msg := testMessage("m1", time.Unix(10, 0))
	r.handleNewMessage(mustJSON(t, protocol.MessageEnvelope{Message: msg}))

	translated := msg
	translated.Content = "translated text"
	translated.TargetLanguage = "en"
	translated.TranslationStatus = protocol.TranslationCompleted
	r.handleMessageTranslated(mustJSON(t, protocol.MessageEnvelope{Message: translated}))

	snap := store.Snapshot()
	if len(snap.Messages) != 1 {
		t.Fatalf("len(messages) = %d, want 1 (patch must not duplicate)", len(snap.Messages))
	}
	got := snap.Messages[0]
	if got.Content != "translated text" {
		t.Fatalf("content = %q, want translated text", got.Content)
	}
	if got.OriginalContent != msg.OriginalContent {
		t.Fatalf("original content = %q, want %q", got.OriginalContent, msg.OriginalContent)
	}
	if got.TranslationStatus != protocol.TranslationCompleted {
		t.Fatalf("translation status = %q, want COMPLETED", got.TranslationStatus)
	}
}

func TestMessageTranslatedUnknownIDDropped(t *testing.T) {
	r, store, _ := newTestReconciler(t, "customer-1")

	r.handleNewMessage(mustJSON(t, protocol.MessageEnvelope{Message: testMessage("m1", time.Unix(10, 0))}))
	r.handleMessageTranslated(mustJSON(t, protocol.MessageEnvelope{Message: testMessage("ghost", time.Unix(5, 0))}))

	snap := store.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].ID != "m1" {
		t.Fatalf("messages = %v, want only m1", messageIDs(snap))
	}
}

func TestMessagesReadSetsReceiptsAndSkipsSelf(t *testing.T) {
	r, store, _ := newTestReconciler(t, "vendor-1")

	r.handleNewMessage(mustJSON(t, protocol.MessageEnvelope{Message: testMessage("m1", time.Unix(10, 0))}))

	readAt := time.Unix(20, 0)
	r.handleMessagesRead(mustJSON(t, protocol.MessagesRead{
		UserID:     "vendor-1",
		MessageIDs: []string{"m1"},
		Timestamp:  readAt,
	}))
	if got := store.Snapshot().Messages[0].ReadAt; got != nil {
		t.Fatalf("self read receipt applied, ReadAt = %v", got)
	}

	r.handleMessagesRead(mustJSON(t, protocol.MessagesRead{
		UserID:     "customer-1",
		MessageIDs: []string{"m1", "unknown"},
		Timestamp:  readAt,
	}))
	got := store.Snapshot().Messages[0].ReadAt
	if got == nil || !got.Equal(readAt) {
		t.Fatalf("ReadAt = %v, want %v", got, readAt)
	}
}

func TestUserTypingSkipsSelf(t *testing.T) {
	r, store, _ := newTestReconciler(t, "vendor-1")

	r.handleUserTyping(mustJSON(t, protocol.UserTyping{UserID: "vendor-1", IsTyping: true}))
	if got := store.Snapshot().TypingUserIDs; len(got) != 0 {
		t.Fatalf("typing = %v, want empty (own events must not echo)", got)
	}

	r.handleUserTyping(mustJSON(t, protocol.UserTyping{UserID: "customer-1", IsTyping: true}))
	if got := store.Snapshot().TypingUserIDs; !equalIDs(got, []string{"customer-1"}) {
		t.Fatalf("typing = %v, want [customer-1]", got)
	}

	r.handleUserTyping(mustJSON(t, protocol.UserTyping{UserID: "customer-1", IsTyping: false}))
	if got := store.Snapshot().TypingUserIDs; len(got) != 0 {
		t.Fatalf("typing = %v, want empty after stop", got)
	}
}

func TestUserTypingExpiresWithoutStop(t *testing.T) {
	r, store, fake := newTestReconciler(t, "vendor-1")

	r.handleUserTyping(mustJSON(t, protocol.UserTyping{UserID: "customer-1", IsTyping: true}))

	// A refreshing start resets the expiry window.
	fake.Advance(typingExpiry - time.Second)
	r.handleUserTyping(mustJSON(t, protocol.UserTyping{UserID: "customer-1", IsTyping: true}))
	fake.Advance(typingExpiry - time.Second)
	if got := store.Snapshot().TypingUserIDs; !equalIDs(got, []string{"customer-1"}) {
		t.Fatalf("typing = %v, want still flagged inside window", got)
	}

	fake.Advance(time.Second)
	if got := store.Snapshot().TypingUserIDs; len(got) != 0 {
		t.Fatalf("typing = %v, want expired after %s of silence", got, typingExpiry)
	}
}

func TestCustomerJoinedActivatesSession(t *testing.T) {
	r, store, _ := newTestReconciler(t, "vendor-1")

	r.handleRoomState(mustJSON(t, protocol.RoomState{
		Room: protocol.Session{
			SessionID:      "sess-1",
			VendorID:       "vendor-1",
			VendorLanguage: "hi",
			Status:         protocol.SessionPending,
		},
	}))
	r.handleCustomerJoined(mustJSON(t, protocol.CustomerJoined{
		CustomerID:       "customer-1",
		CustomerLanguage: "en",
	}))

	session := store.Snapshot().Session
	if session.Status != protocol.SessionActive {
		t.Fatalf("status = %q, want ACTIVE", session.Status)
	}
	if session.CustomerID != "customer-1" || session.CustomerLanguage != "en" {
		t.Fatalf("customer = %q/%q, want customer-1/en", session.CustomerID, session.CustomerLanguage)
	}
}

func TestSessionUpdateShallowMerge(t *testing.T) {
	r, store, _ := newTestReconciler(t, "vendor-1")

	r.handleRoomState(mustJSON(t, protocol.RoomState{
		Room: protocol.Session{
			SessionID:        "sess-1",
			VendorID:         "vendor-1",
			CustomerID:       "customer-1",
			VendorLanguage:   "hi",
			CustomerLanguage: "en",
			Status:           protocol.SessionActive,
		},
	}))

	closed := protocol.SessionClosed
	r.handleSessionUpdate(mustJSON(t, protocol.SessionUpdate{Status: &closed}))

	session := store.Snapshot().Session
	if session.Status != protocol.SessionClosed {
		t.Fatalf("status = %q, want CLOSED", session.Status)
	}
	if session.VendorLanguage != "hi" || session.CustomerLanguage != "en" {
		t.Fatalf("languages clobbered by partial patch: %q/%q", session.VendorLanguage, session.CustomerLanguage)
	}
}

func TestLanguageChangedPatchesMatchingSide(t *testing.T) {
	r, store, _ := newTestReconciler(t, "vendor-1")

	r.handleRoomState(mustJSON(t, protocol.RoomState{
		Room: protocol.Session{
			SessionID:        "sess-1",
			VendorID:         "vendor-1",
			CustomerID:       "customer-1",
			VendorLanguage:   "hi",
			CustomerLanguage: "en",
			Status:           protocol.SessionActive,
		},
	}))

	r.handleLanguageChanged(mustJSON(t, protocol.LanguageChanged{UserID: "customer-1", NewLanguage: "ta"}))
	if got := store.Snapshot().Session.CustomerLanguage; got != "ta" {
		t.Fatalf("customer language = %q, want ta", got)
	}

	// Own change is already known to the gateway and must not double-apply.
	r.handleLanguageChanged(mustJSON(t, protocol.LanguageChanged{UserID: "vendor-1", NewLanguage: "bn"}))
	if got := store.Snapshot().Session.VendorLanguage; got != "hi" {
		t.Fatalf("vendor language = %q, want hi (self event skipped)", got)
	}
}

func TestUserDisconnectedClearsTypingOnly(t *testing.T) {
	r, store, _ := newTestReconciler(t, "vendor-1")

	r.handleRoomState(mustJSON(t, protocol.RoomState{
		Room: protocol.Session{
			SessionID:  "sess-1",
			VendorID:   "vendor-1",
			CustomerID: "customer-1",
			Status:     protocol.SessionActive,
		},
	}))
	r.handleUserTyping(mustJSON(t, protocol.UserTyping{UserID: "customer-1", IsTyping: true}))

	r.handleUserDisconnected(mustJSON(t, protocol.UserDisconnected{UserID: "customer-1"}))

	snap := store.Snapshot()
	if len(snap.TypingUserIDs) != 0 {
		t.Fatalf("typing = %v, want cleared on disconnect", snap.TypingUserIDs)
	}
	if snap.Session.Status != protocol.SessionActive {
		t.Fatalf("status = %q, want ACTIVE (disconnect is not a session end)", snap.Session.Status)
	}
}

func TestServerShutdownMarksTerminal(t *testing.T) {
	store := NewStore()
	fake := clock.NewFake(time.Unix(1000, 0))
	var gotReason string
	r := newReconciler(store, "vendor-1", fake, func(reason string) {
		gotReason = reason
	})
	t.Cleanup(r.Close)

	r.handleServerShutdown(mustJSON(t, protocol.ServerShutdown{Message: "maintenance"}))

	snap := store.Snapshot()
	if snap.Connection.Err == nil {
		t.Fatal("connection error not set after server shutdown")
	}
	if snap.Connection.PendingReconnect {
		t.Fatal("pending reconnect after server shutdown")
	}
	if gotReason != "maintenance" {
		t.Fatalf("shutdown reason = %q, want maintenance", gotReason)
	}
}

func TestMalformedPayloadsAreDropped(t *testing.T) {
	r, store, _ := newTestReconciler(t, "vendor-1")

	r.handleRoomState(json.RawMessage(`{"room":`))
	r.handleNewMessage(json.RawMessage(`not json`))
	r.handleNewMessage(mustJSON(t, protocol.MessageEnvelope{})) // missing id
	r.handleUserTyping(json.RawMessage(`[]`))

	snap := store.Snapshot()
	if snap.Session != nil || len(snap.Messages) != 0 || len(snap.TypingUserIDs) != 0 {
		t.Fatalf("malformed payloads mutated the store: %+v", snap)
	}
}

func messageIDs(snap Snapshot) []string {
	ids := make([]string, len(snap.Messages))
	for i, m := range snap.Messages {
		ids[i] = m.ID
	}
	return ids
}

func equalIDs(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
