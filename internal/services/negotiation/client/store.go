package client

import (
	"sort"
	"sync"

	"github.com/uday68/VyaparMitra-sub002/internal/services/negotiation/protocol"
)

// Snapshot is an immutable view of the negotiation room. Readers never
// observe a torn intermediate state: every mutation replaces the whole
// snapshot atomically.
type Snapshot struct {
	Session       *protocol.Session
	Messages      []protocol.Message
	TypingUserIDs []string
	Connection    ConnectionState
}

// Store holds the in-memory state of one negotiation room. It has a single
// writer (the reconciler, plus connection-state observers) and any number
// of readers via Snapshot and Subscribe.
type Store struct {
	mu         sync.Mutex
	session    *protocol.Session
	messages   []protocol.Message
	typing     map[string]struct{}
	connection ConnectionState
	nextToken  int
	listeners  map[int]func(Snapshot)
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		typing:     make(map[string]struct{}),
		connection: ConnectionState{Status: StatusDisconnected},
		listeners:  make(map[int]func(Snapshot)),
	}
}

// Snapshot returns the current immutable view.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers a change listener and returns its cancel function.
// Listeners receive the post-mutation snapshot, outside the store lock.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	token := s.nextToken
	s.nextToken++
	s.listeners[token] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, token)
		s.mu.Unlock()
	}
}

// update runs one mutation under the store lock, then notifies listeners
// with the fresh snapshot.
func (s *Store) update(mutate func()) {
	s.mu.Lock()
	mutate()
	snapshot := s.snapshotLocked()
	listeners := make([]func(Snapshot), 0, len(s.listeners))
	for _, listener := range s.listeners {
		listeners = append(listeners, listener)
	}
	s.mu.Unlock()

	for _, listener := range listeners {
		listener(snapshot)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	snapshot := Snapshot{Connection: s.connection}
	if s.session != nil {
		session := *s.session
		snapshot.Session = &session
	}
	if len(s.messages) > 0 {
		snapshot.Messages = make([]protocol.Message, len(s.messages))
		copy(snapshot.Messages, s.messages)
	}
	if len(s.typing) > 0 {
		snapshot.TypingUserIDs = make([]string, 0, len(s.typing))
		for userID := range s.typing {
			snapshot.TypingUserIDs = append(snapshot.TypingUserIDs, userID)
		}
		sort.Strings(snapshot.TypingUserIDs)
	}
	return snapshot
}

// setConnection mirrors a transport state transition into the snapshot.
func (s *Store) setConnection(state ConnectionState) {
	s.update(func() {
		pending := s.connection.PendingReconnect
		s.connection = state
		if state.Status != StatusConnected {
			s.connection.PendingReconnect = pending
		}
	})
}

// setPendingReconnect flags (or clears) a scheduled reconnection attempt.
func (s *Store) setPendingReconnect(pending bool) {
	s.update(func() {
		s.connection.PendingReconnect = pending
	})
}
