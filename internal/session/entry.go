package session

import (
	"fmt"
	"net/url"
	"strings"

	"prepmate/peerlink/internal/domain"
	"prepmate/peerlink/internal/match"
)

// Entry is the immutable record of how a participant entered a session.
// The role is decided here, once, and carried through the whole pipeline:
// a participant handed a peer ID joins as callee, everyone else is caller.
type Entry struct {
	RoomID string
	UserID string
	PeerID string
	Role   domain.Role
}

// EntryFromMatch converts a resolved random match into a session entry.
func EntryFromMatch(userID string, m match.Match) Entry {
	return Entry{RoomID: m.RoomID, UserID: userID, PeerID: m.PeerID, Role: m.Role}
}

// EntryFromInvite is the inviter's own entry: caller, waiting for whoever
// opens the link.
func EntryFromInvite(inv match.Invite) Entry {
	return Entry{RoomID: inv.RoomID, UserID: inv.InviterID, Role: domain.RoleCaller}
}

// ParseEntry decodes a room link of the form
// /<root>/<roomId>?userId=<id>&peerId=<id>. A missing userId is minted; a
// missing peerId marks the visitor as the caller.
func ParseEntry(raw string) (Entry, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Entry{}, fmt.Errorf("parse room link: %w", err)
	}

	path := strings.Trim(u.Path, "/")
	segs := strings.Split(path, "/")
	roomID := segs[len(segs)-1]
	if roomID == "" {
		return Entry{}, fmt.Errorf("room link %q has no room id", raw)
	}

	q := u.Query()
	entry := Entry{
		RoomID: roomID,
		UserID: q.Get("userId"),
		PeerID: q.Get("peerId"),
	}
	if entry.UserID == "" {
		entry.UserID = match.NewParticipantID()
	}
	if entry.PeerID == "" {
		entry.Role = domain.RoleCaller
	} else {
		entry.Role = domain.RoleCallee
	}
	return entry, nil
}
