package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/uday68/VyaparMitra-sub002/internal/platform/clock"
)

// supState is the supervisor lifecycle position.
type supState int

const (
	supIdle supState = iota
	supConnecting
	supConnected
	supRecovering
	supTerminal
)

// connector is the slice of the transport the supervisor drives.
type connector interface {
	Connect(ctx context.Context, credential string) error
}

// rejoiner restores session membership after a successful reconnect.
// Reconnection is an explicit re-join, never transparent to the server.
type rejoiner interface {
	Rejoin() bool
}

// Supervisor owns the connect/reconnect lifecycle. It retries dropped
// connections with exponential backoff, re-joins the session on recovery,
// and goes terminal on credential rejection or server shutdown.
type Supervisor struct {
	transport connector
	gateway   rejoiner
	clock     clock.Clock

	// onRecovering mirrors the pending-reconnect flag into the store so
	// the UI can distinguish "reconnecting" from "gave up".
	onRecovering func(bool)

	mu         sync.Mutex
	state      supState
	credential string
	policy     *backoff.ExponentialBackOff
	retry      *clock.Timer
	// dropped records a connection-lost notification delivered while a
	// dial was in flight. The dial result consumes it: the read loop can
	// report the loss before the dialing goroutine reacquires mu.
	dropped error
}

func newSupervisor(transport connector, gateway rejoiner, clk clock.Clock, onRecovering func(bool)) *Supervisor {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 3 * time.Second
	policy.RandomizationFactor = 0
	policy.Multiplier = 1.5
	policy.MaxInterval = 30 * time.Second
	return &Supervisor{
		transport:    transport,
		gateway:      gateway,
		clock:        clk,
		onRecovering: onRecovering,
		policy:       policy,
	}
}

// Connect performs the initial connection. A failure here is returned to
// the caller rather than retried: the user asked to connect now, and the
// answer is no.
func (s *Supervisor) Connect(ctx context.Context, credential string) error {
	s.mu.Lock()
	if s.state != supIdle {
		s.mu.Unlock()
		return errors.New("negotiation: supervisor already started")
	}
	s.state = supConnecting
	s.credential = credential
	s.mu.Unlock()

	err := s.transport.Connect(ctx, credential)

	s.mu.Lock()
	dropped := s.dropped
	s.dropped = nil
	if err == nil && dropped != nil {
		err = fmt.Errorf("negotiation: connection lost during connect: %w", dropped)
	}
	if err != nil {
		s.state = supIdle
		s.mu.Unlock()
		return err
	}
	s.state = supConnected
	s.policy.Reset()
	s.mu.Unlock()
	return nil
}

// onStateChange observes transport transitions. An established connection
// dropping with an error triggers recovery; a loss reported while a dial
// is in flight is recorded for the dial result to consume.
func (s *Supervisor) onStateChange(state ConnectionState) {
	if state.Status != StatusDisconnected || state.Err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case supConnected:
		if errors.Is(state.Err, ErrAuthRejected) {
			s.terminalLocked("credential rejected")
			return
		}
		s.enterRecoveringLocked()
	case supConnecting:
		s.dropped = state.Err
	}
}

// enterRecoveringLocked schedules exactly one retry attempt. Callers hold
// s.mu.
func (s *Supervisor) enterRecoveringLocked() {
	if s.state == supRecovering && s.retry != nil {
		return
	}
	s.state = supRecovering
	if s.onRecovering != nil {
		s.onRecovering(true)
	}
	delay := s.policy.NextBackOff()
	log.Printf("negotiation client: connection lost, retrying in %s", delay)
	s.retry = s.clock.AfterFunc(delay, s.attempt)
}

// attempt is one reconnection try.
func (s *Supervisor) attempt() {
	s.mu.Lock()
	if s.state != supRecovering {
		s.mu.Unlock()
		return
	}
	s.state = supConnecting
	s.retry = nil
	credential := s.credential
	s.mu.Unlock()

	err := s.transport.Connect(context.Background(), credential)

	s.mu.Lock()
	dropped := s.dropped
	s.dropped = nil
	if s.state != supConnecting {
		// Stopped or marked terminal while dialing.
		s.mu.Unlock()
		return
	}
	if err == nil && dropped != nil {
		// The dial succeeded but the connection died before this
		// goroutine observed the result.
		err = dropped
	}
	if err != nil {
		if errors.Is(err, ErrAuthRejected) {
			s.terminalLocked("credential rejected")
			s.mu.Unlock()
			return
		}
		s.enterRecoveringLocked()
		s.mu.Unlock()
		return
	}
	s.state = supConnected
	s.policy.Reset()
	if s.onRecovering != nil {
		s.onRecovering(false)
	}
	s.mu.Unlock()

	// Re-enter the room so the server sends a fresh room_state resync.
	if !s.gateway.Rejoin() {
		log.Printf("negotiation client: rejoin after reconnect failed")
	}
}

// MarkTerminal stops all recovery permanently. Used when the server
// announces shutdown: that notice is not a transient fault.
func (s *Supervisor) MarkTerminal(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminalLocked(reason)
}

func (s *Supervisor) terminalLocked(reason string) {
	if s.state == supTerminal {
		return
	}
	log.Printf("negotiation client: giving up reconnection: %s", reason)
	s.state = supTerminal
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.onRecovering != nil {
		s.onRecovering(false)
	}
}

// Stop halts recovery and returns the supervisor to idle. A deliberate
// disconnect must not fight the user by dialing back.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.state != supTerminal {
		s.state = supIdle
	}
	if s.onRecovering != nil {
		s.onRecovering(false)
	}
}
