package match

import (
	"net/url"

	"github.com/google/uuid"
)

// Invite is a private-room reference: the inviter proceeds as caller and
// waits; whoever opens the link joins as callee with the inviter as peer.
// Creating an invite never touches the queue.
type Invite struct {
	RoomID    string
	InviterID string
}

// CreateInvite mints a room for the given participant.
func CreateInvite(participantID string) Invite {
	return Invite{RoomID: uuid.NewString(), InviterID: participantID}
}

// URL renders the invite link under the given feature root, e.g.
// /peer-practice/<roomId>?peerId=<inviterId>. The visitor mints its own
// userId when opening the link.
func (inv Invite) URL(root string) string {
	u := url.URL{Path: "/" + root + "/" + inv.RoomID}
	q := url.Values{}
	q.Set("peerId", inv.InviterID)
	u.RawQuery = q.Encode()
	return u.String()
}
