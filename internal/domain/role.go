package domain

// Role identifies which half of the signaling dance a participant runs.
// It is decided exactly once at session entry and never changes: a
// participant that joins with a known peer ID is the callee, everyone
// else is the caller.
type Role int

const (
	RoleCaller Role = iota + 1
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	default:
		return "unknown"
	}
}

// Remote returns the opposite role.
func (r Role) Remote() Role {
	if r == RoleCaller {
		return RoleCallee
	}
	return RoleCaller
}

// CandidateCollection returns the name of the candidate sub-collection this
// role writes its own candidates to.
func (r Role) CandidateCollection() string {
	if r == RoleCaller {
		return "callerCandidates"
	}
	return "calleeCandidates"
}
