// Package session orchestrates one practice call: media acquisition, the
// signaling dance, the peer transport, and teardown.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"prepmate/peerlink/internal/domain"
	"prepmate/peerlink/internal/signaling"
)

// State is the connection manager's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateAcquiringMedia
	StateNegotiating
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringMedia:
		return "acquiring-media"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Messages surfaced to the user; store and transport details stay in logs.
const (
	msgMediaDenied   = "Permission to access camera and microphone was denied."
	msgSignalFailure = "Could not connect to the matching/signaling service."
)

// AcquireFunc captures local media.
type AcquireFunc func(ctx context.Context) (domain.MediaSource, error)

// DialFunc creates the peer transport with the local media attached.
// media may be nil when acquisition never ran.
type DialFunc func(media domain.MediaSource) (domain.Transport, error)

// Manager owns one session: it drives Idle → AcquiringMedia → Negotiating →
// Connected and funnels every exit path through a single idempotent Close.
type Manager struct {
	entry   Entry
	channel *signaling.Channel
	acquire AcquireFunc
	dial    DialFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	connected      bool
	errMsg         string
	media          domain.MediaSource
	transport      domain.Transport
	stopCandidates func()
	onRemoteTrack  func(kind string)
	onStateChange  func(State)

	closeOnce sync.Once
}

// NewManager builds a manager for the given entry. Start runs the session.
func NewManager(entry Entry, channel *signaling.Channel, acquire AcquireFunc, dial DialFunc) *Manager {
	return &Manager{
		entry:   entry,
		channel: channel,
		acquire: acquire,
		dial:    dial,
		state:   StateIdle,
	}
}

// OnRemoteTrack registers the remote-media-arrived callback.
func (m *Manager) OnRemoteTrack(fn func(kind string)) {
	m.mu.Lock()
	m.onRemoteTrack = fn
	m.mu.Unlock()
}

// OnStateChange registers the state observer.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	m.onStateChange = fn
	m.mu.Unlock()
}

// Entry returns the immutable session entry.
func (m *Manager) Entry() Entry { return m.entry }

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports the simplified transport connectivity flag.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Err returns the user-facing error message, if any.
func (m *Manager) Err() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errMsg
}

// Start acquires media, dials the transport and runs the role-specific
// signaling dance. It returns once the local side of the handshake is done;
// the Connected state follows asynchronously from the transport. Media
// permission failure is terminal for the session.
func (m *Manager) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.ctx = ctx
	m.cancel = cancel
	m.mu.Unlock()

	m.setState(StateAcquiringMedia)
	media, err := m.acquire(m.ctx)
	if err != nil {
		m.fail(msgMediaDenied)
		return fmt.Errorf("acquire media: %w", err)
	}
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		media.Close()
		return fmt.Errorf("session closed")
	}
	m.media = media
	m.mu.Unlock()

	transport, err := m.dial(media)
	if err != nil {
		m.fail(msgSignalFailure)
		return fmt.Errorf("dial transport: %w", err)
	}
	m.mu.Lock()
	if m.state == StateClosed {
		// Close ran while dialing and never saw this transport.
		m.mu.Unlock()
		transport.Close()
		return fmt.Errorf("session closed")
	}
	m.transport = transport
	m.mu.Unlock()

	m.wireTransport(transport)

	stop, err := m.channel.WatchRemoteCandidates(m.ctx, m.entry.Role, func(cand domain.ICECandidatePayload) {
		if err := transport.AddRemoteCandidate(cand); err != nil {
			log.Printf("[session] add remote candidate: %v", err)
		}
	})
	if err != nil {
		m.fail(msgSignalFailure)
		return fmt.Errorf("watch remote candidates: %w", err)
	}
	m.mu.Lock()
	m.stopCandidates = stop
	m.mu.Unlock()

	m.setState(StateNegotiating)
	if err := m.negotiate(transport); err != nil {
		m.fail(msgSignalFailure)
		return err
	}
	return nil
}

// wireTransport routes transport events into the channel and the observers.
// Both roles produce and relay candidates from the moment the transport
// exists, regardless of handshake progress.
func (m *Manager) wireTransport(transport domain.Transport) {
	transport.OnCandidate(func(cand domain.ICECandidatePayload) {
		if err := m.channel.PublishCandidate(m.ctx, m.entry.Role, cand); err != nil {
			log.Printf("[session] publish candidate: %v", err)
		}
	})
	transport.OnRemoteTrack(func(kind string) {
		log.Printf("[session] remote %s track arrived", kind)
		m.mu.Lock()
		fn := m.onRemoteTrack
		m.mu.Unlock()
		if fn != nil {
			fn(kind)
		}
	})
	transport.OnConnectionChange(func(connected bool) {
		m.mu.Lock()
		m.connected = connected
		terminal := m.state == StateClosed || m.state == StateFailed
		m.mu.Unlock()
		if connected && !terminal {
			m.setState(StateConnected)
		}
		log.Printf("[session] connected=%v", connected)
	})
}

// negotiate runs the offer/answer exchange for this side's role. The caller
// waits for an answer with no deadline of its own: an inviter may sit alone
// in the room until the callee arrives or the session is closed.
func (m *Manager) negotiate(transport domain.Transport) error {
	switch m.entry.Role {
	case domain.RoleCaller:
		offer, err := transport.CreateOffer()
		if err != nil {
			return fmt.Errorf("create offer: %w", err)
		}
		if err := m.channel.PublishOffer(m.ctx, m.entry.UserID, offer); err != nil {
			return err
		}
		answer, err := m.channel.AwaitAnswer(m.ctx)
		if err != nil {
			return fmt.Errorf("await answer: %w", err)
		}
		if err := transport.SetRemoteDescription(answer); err != nil {
			return fmt.Errorf("apply answer: %w", err)
		}

	case domain.RoleCallee:
		offer, err := m.channel.AwaitOffer(m.ctx)
		if err != nil {
			return fmt.Errorf("await offer: %w", err)
		}
		if err := transport.SetRemoteDescription(offer); err != nil {
			return fmt.Errorf("apply offer: %w", err)
		}
		answer, err := transport.CreateAnswer()
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := m.channel.PublishAnswer(m.ctx, answer); err != nil {
			return err
		}

	default:
		return fmt.Errorf("entry has no role")
	}
	return nil
}

// SetTrackEnabled mutes or unmutes one local kind mid-call.
func (m *Manager) SetTrackEnabled(kind string, enabled bool) error {
	m.mu.Lock()
	transport := m.transport
	m.mu.Unlock()
	if transport == nil {
		return fmt.Errorf("no active transport")
	}
	return transport.SetTrackEnabled(kind, enabled)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == StateClosed || m.state == StateFailed {
		m.mu.Unlock()
		return
	}
	m.state = s
	fn := m.onStateChange
	m.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (m *Manager) fail(msg string) {
	m.mu.Lock()
	if m.state == StateClosed || m.state == StateFailed {
		m.mu.Unlock()
		return
	}
	m.state = StateFailed
	m.errMsg = msg
	m.connected = false
	fn := m.onStateChange
	m.mu.Unlock()
	if fn != nil {
		fn(StateFailed)
	}
}

// Close is the single teardown path for every exit: explicit hangup,
// navigation away, timeout and transport failure all funnel here. It is
// idempotent and never fails from the user's point of view; cleanup errors
// are logged and swallowed.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		prev := m.state
		m.state = StateClosed
		m.connected = false
		transport := m.transport
		media := m.media
		stop := m.stopCandidates
		cancel := m.cancel
		fn := m.onStateChange
		m.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if stop != nil {
			stop()
		}
		if transport != nil {
			if err := transport.Close(); err != nil {
				log.Printf("[session] close transport: %v", err)
			}
		}
		if media != nil {
			if err := media.Close(); err != nil {
				log.Printf("[session] stop media: %v", err)
			}
		}

		// Purge with a fresh context: the session context is already gone.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.channel.Purge(ctx)

		log.Printf("[session] closed (was %s), room %s purged", prev, m.channel.RoomID())
		if fn != nil {
			fn(StateClosed)
		}
	})
}
