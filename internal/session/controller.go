package session

import (
	"context"
	"fmt"

	"prepmate/peerlink/internal/domain"
	"prepmate/peerlink/internal/match"
	"prepmate/peerlink/internal/signaling"
)

// Controller is the public face of the practice feature: it composes the
// matchmaking queue, the signaling channel and the connection manager for
// the three ways into a room.
type Controller struct {
	store       domain.Store
	matcher     *match.Matcher
	acquire     AcquireFunc
	dial        DialFunc
	featureRoot string
}

// NewController wires a controller. featureRoot is the room-link path root
// (e.g. "peer-practice").
func NewController(store domain.Store, matcher *match.Matcher, acquire AcquireFunc, dial DialFunc, featureRoot string) *Controller {
	return &Controller{
		store:       store,
		matcher:     matcher,
		acquire:     acquire,
		dial:        dial,
		featureRoot: featureRoot,
	}
}

// Random runs a random-match search and, on success, opens the session with
// the resolved role. A match.ErrNoPeer result is recoverable: the user may
// search again.
func (c *Controller) Random(ctx context.Context, userID string) (*Manager, error) {
	if userID == "" {
		userID = match.NewParticipantID()
	}
	res, err := c.matcher.FindMatch(ctx, userID)
	if err != nil {
		return nil, err
	}
	return c.open(ctx, EntryFromMatch(userID, res))
}

// Invite mints a private room for the given participant. The inviter shares
// the link, then joins its own room via EntryFromInvite as the caller and
// waits for the callee indefinitely.
func (c *Controller) Invite(userID string) match.Invite {
	if userID == "" {
		userID = match.NewParticipantID()
	}
	return match.CreateInvite(userID)
}

// Join opens a session for an already-decided entry (an opened room link).
func (c *Controller) Join(ctx context.Context, entry Entry) (*Manager, error) {
	return c.open(ctx, entry)
}

// InviteLink renders an invite under this controller's feature root.
func (c *Controller) InviteLink(inv match.Invite) string {
	return inv.URL(c.featureRoot)
}

// open starts the session. The manager is returned even when Start fails so
// the caller can read its state and user-facing message; it is already
// closed in that case.
func (c *Controller) open(ctx context.Context, entry Entry) (*Manager, error) {
	if entry.Role != domain.RoleCaller && entry.Role != domain.RoleCallee {
		return nil, fmt.Errorf("entry for room %s has no role", entry.RoomID)
	}
	mgr := NewManager(entry, signaling.NewChannel(c.store, entry.RoomID), c.acquire, c.dial)
	if err := mgr.Start(ctx); err != nil {
		mgr.Close()
		return mgr, err
	}
	return mgr, nil
}
