package redistore

import (
	"testing"

	"prepmate/peerlink/internal/domain"
)

func TestKeyLayout(t *testing.T) {
	if got := docKey("rooms", "r1"); got != "doc:rooms/r1" {
		t.Errorf("docKey = %s", got)
	}
	if got := docKey("rooms/r1/callerCandidates", "c1"); got != "doc:rooms/r1/callerCandidates/c1" {
		t.Errorf("nested docKey = %s", got)
	}
	if got := colKey("queue"); got != "col:queue" {
		t.Errorf("colKey = %s", got)
	}
	if got := colChan("queue"); got != "watch:queue" {
		t.Errorf("colChan = %s", got)
	}
	if got := docChan("rooms", "r1"); got != "watch:rooms/r1" {
		t.Errorf("docChan = %s", got)
	}
}

func TestParseKind(t *testing.T) {
	cases := map[string]domain.ChangeKind{
		"added":    domain.ChangeAdded,
		"modified": domain.ChangeModified,
		"removed":  domain.ChangeRemoved,
		"bogus":    0,
	}
	for in, want := range cases {
		if got := parseKind(in); got != want {
			t.Errorf("parseKind(%q) = %v, want %v", in, got, want)
		}
	}
}
