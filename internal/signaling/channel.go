// Package signaling exchanges one offer, one answer and two candidate
// streams per room over the shared document store.
package signaling

import (
	"context"
	"fmt"
	"log"

	"prepmate/peerlink/internal/domain"
)

const roomsCollection = "rooms"

// Channel is the signaling exchange for one room. Exactly two participants
// use it: the caller writes the offer and callerCandidates, the callee the
// answer and calleeCandidates.
type Channel struct {
	store  domain.Store
	roomID string
}

// NewChannel scopes a channel to roomID on the given store.
func NewChannel(store domain.Store, roomID string) *Channel {
	return &Channel{store: store, roomID: roomID}
}

// RoomID returns the room this channel is scoped to.
func (c *Channel) RoomID() string {
	return c.roomID
}

func (c *Channel) candidatePath(role domain.Role) string {
	return roomsCollection + "/" + c.roomID + "/" + role.CandidateCollection()
}

// PublishOffer writes the caller's offer and identity into the room
// document, creating it. Called by the caller exactly once.
func (c *Channel) PublishOffer(ctx context.Context, callerID string, offer domain.SDPPayload) error {
	err := c.store.Put(ctx, roomsCollection, c.roomID, map[string]any{
		"offer":    sdpFields(offer),
		"callerId": callerID,
	})
	if err != nil {
		return fmt.Errorf("publish offer: %w", err)
	}
	return nil
}

// PublishAnswer merges the callee's answer into the room document. Called by
// the callee exactly once, after the offer was observed.
func (c *Channel) PublishAnswer(ctx context.Context, answer domain.SDPPayload) error {
	err := c.store.Merge(ctx, roomsCollection, c.roomID, map[string]any{
		"answer": sdpFields(answer),
	})
	if err != nil {
		return fmt.Errorf("publish answer: %w", err)
	}
	return nil
}

// AwaitOffer blocks until the room document carries an offer, then delivers
// it exactly once and stops observing.
func (c *Channel) AwaitOffer(ctx context.Context) (domain.SDPPayload, error) {
	return c.awaitDescription(ctx, "offer")
}

// AwaitAnswer blocks until the room document carries an answer, then
// delivers it exactly once and stops observing.
func (c *Channel) AwaitAnswer(ctx context.Context) (domain.SDPPayload, error) {
	return c.awaitDescription(ctx, "answer")
}

func (c *Channel) awaitDescription(ctx context.Context, field string) (domain.SDPPayload, error) {
	ch, stop, err := c.store.WatchDoc(ctx, roomsCollection, c.roomID)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("watch room: %w", err)
	}
	defer stop()

	for {
		select {
		case doc, open := <-ch:
			if !open {
				return domain.SDPPayload{}, fmt.Errorf("await %s: watch ended", field)
			}
			if doc == nil {
				continue // room deleted; keep waiting until cancelled
			}
			if sdp, ok := sdpFromFields(doc[field]); ok {
				return sdp, nil
			}
		case <-ctx.Done():
			return domain.SDPPayload{}, ctx.Err()
		}
	}
}

// PublishCandidate appends one candidate record to the collection owned by
// role. Records are append-only; they are only ever removed by Purge.
func (c *Channel) PublishCandidate(ctx context.Context, role domain.Role, cand domain.ICECandidatePayload) error {
	if _, err := c.store.Add(ctx, c.candidatePath(role), candidateFields(cand)); err != nil {
		return fmt.Errorf("publish %s candidate: %w", role, err)
	}
	return nil
}

// WatchRemoteCandidates subscribes to the opposite role's candidate
// collection and invokes fn once per record, in publication order. Repeated
// change notifications for a record already seen are dropped. The returned
// stop func ends the subscription.
func (c *Channel) WatchRemoteCandidates(ctx context.Context, local domain.Role, fn func(domain.ICECandidatePayload)) (func(), error) {
	ch, stop, err := c.store.WatchCollection(ctx, c.candidatePath(local.Remote()))
	if err != nil {
		return nil, fmt.Errorf("watch remote candidates: %w", err)
	}

	go func() {
		seen := make(map[string]bool)
		for change := range ch {
			if change.Kind != domain.ChangeAdded || seen[change.Doc.ID] {
				continue
			}
			seen[change.Doc.ID] = true
			cand, ok := candidateFromFields(change.Doc.Fields)
			if !ok {
				log.Printf("[signal] skipping malformed candidate record %s", change.Doc.ID)
				continue
			}
			fn(cand)
		}
	}()

	return stop, nil
}

// Purge deletes the room document and both candidate collections. It is
// idempotent and best-effort: partial absence and store errors are logged,
// never surfaced.
func (c *Channel) Purge(ctx context.Context) {
	for _, role := range []domain.Role{domain.RoleCaller, domain.RoleCallee} {
		path := c.candidatePath(role)
		docs, err := c.store.List(ctx, path, 0)
		if err != nil {
			log.Printf("[signal] purge: list %s: %v", path, err)
			continue
		}
		for _, doc := range docs {
			if err := c.store.Delete(ctx, path, doc.ID); err != nil {
				log.Printf("[signal] purge: delete %s/%s: %v", path, doc.ID, err)
			}
		}
	}
	if err := c.store.Delete(ctx, roomsCollection, c.roomID); err != nil {
		log.Printf("[signal] purge: delete room %s: %v", c.roomID, err)
	}
}
