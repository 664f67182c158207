// Package match pairs two independent seekers through the shared store.
// There is no central allocator: the queue collection is the only
// rendezvous point.
package match

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"prepmate/peerlink/internal/domain"
)

const queueCollection = "queue"

// DefaultWait is the random-match wait window.
const DefaultWait = 30 * time.Second

// ErrNoPeer is returned when no counterpart shows up within the wait window.
// The caller may search again.
var ErrNoPeer = errors.New("no peer found")

// Match is a resolved pairing. The seeker that claimed an existing queue
// entry is the caller; the participant that was waiting is the callee.
type Match struct {
	RoomID string
	Role   domain.Role
	PeerID string
}

// Matcher runs random-match searches against the queue collection.
type Matcher struct {
	store domain.Store
	wait  time.Duration
}

// NewMatcher creates a Matcher. wait <= 0 selects DefaultWait.
func NewMatcher(store domain.Store, wait time.Duration) *Matcher {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &Matcher{store: store, wait: wait}
}

// NewParticipantID mints a fresh opaque participant ID.
func NewParticipantID() string {
	return "user_" + uuid.NewString()
}

// FindMatch claims a waiting queue entry if one exists, otherwise enqueues
// the participant and waits for a match or the wait-window timeout.
//
// The claim is a best-effort read-then-merge, not a compare-and-swap; two
// simultaneous seekers can race for the same entry. Merge is atomic per
// document, so the waiting side still converges on a single counterpart.
func (m *Matcher) FindMatch(ctx context.Context, participantID string) (Match, error) {
	docs, err := m.store.List(ctx, queueCollection, 1)
	if err != nil {
		return Match{}, fmt.Errorf("read queue: %w", err)
	}

	for _, peer := range docs {
		if peer.ID == participantID {
			continue
		}
		return m.claim(ctx, participantID, peer)
	}
	return m.enqueue(ctx, participantID)
}

// claim marks the waiting peer's entry as matched and resolves the seeker
// as caller. The waiting participant deletes its own entry once it departs.
func (m *Matcher) claim(ctx context.Context, participantID string, peer domain.Document) (Match, error) {
	roomID, _ := peer.Fields["roomId"].(string)
	if roomID == "" {
		roomID = uuid.NewString()
	}

	err := m.store.Merge(ctx, queueCollection, peer.ID, map[string]any{
		"matchedWith": participantID,
		"roomId":      roomID,
	})
	if err != nil {
		return Match{}, fmt.Errorf("claim queue entry: %w", err)
	}

	log.Printf("[match] %s claimed waiting peer %s, room %s", participantID, peer.ID, roomID)
	return Match{RoomID: roomID, Role: domain.RoleCaller, PeerID: peer.ID}, nil
}

// enqueue creates the participant's own entry and waits for a counterpart
// to claim it.
func (m *Matcher) enqueue(ctx context.Context, participantID string) (Match, error) {
	roomID := uuid.NewString()
	err := m.store.Put(ctx, queueCollection, participantID, map[string]any{
		"waiting":   true,
		"createdAt": time.Now().UTC().Format(time.RFC3339Nano),
		"roomId":    roomID,
	})
	if err != nil {
		return Match{}, fmt.Errorf("enqueue: %w", err)
	}

	ch, stop, err := m.store.WatchDoc(ctx, queueCollection, participantID)
	if err != nil {
		m.removeEntry(participantID)
		return Match{}, fmt.Errorf("watch queue entry: %w", err)
	}
	defer stop()

	log.Printf("[match] %s waiting for a peer, room %s", participantID, roomID)

	timer := time.NewTimer(m.wait)
	defer timer.Stop()

	for {
		select {
		case doc, open := <-ch:
			if !open {
				m.removeEntry(participantID)
				return Match{}, errors.New("queue watch ended")
			}
			if match, ok := m.matched(participantID, roomID, doc); ok {
				return match, nil
			}

		case <-timer.C:
			// Re-check before giving up: a claim may have landed while the
			// timer fired.
			doc, ok, err := m.store.Get(ctx, queueCollection, participantID)
			if err == nil && ok {
				if match, matched := m.matched(participantID, roomID, doc); matched {
					return match, nil
				}
			}
			m.removeEntry(participantID)
			return Match{}, ErrNoPeer

		case <-ctx.Done():
			m.removeEntry(participantID)
			return Match{}, ctx.Err()
		}
	}
}

// matched resolves a watched queue document into a callee-side match. The
// waiting participant deletes its own entry as it departs.
func (m *Matcher) matched(participantID, ownRoomID string, doc map[string]any) (Match, bool) {
	if doc == nil {
		return Match{}, false
	}
	peerID, _ := doc["matchedWith"].(string)
	if peerID == "" {
		return Match{}, false
	}
	roomID, _ := doc["roomId"].(string)
	if roomID == "" {
		roomID = ownRoomID
	}
	m.removeEntry(participantID)
	log.Printf("[match] %s matched by %s, room %s", participantID, peerID, roomID)
	return Match{RoomID: roomID, Role: domain.RoleCallee, PeerID: peerID}, true
}

// removeEntry deletes the participant's queue entry, best-effort. Uses a
// fresh context so cleanup still runs when the search context is done.
func (m *Matcher) removeEntry(participantID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.Delete(ctx, queueCollection, participantID); err != nil {
		log.Printf("[match] delete queue entry %s: %v", participantID, err)
	}
}
