package signaling

import (
	"context"
	"sync"
	"testing"
	"time"

	"prepmate/peerlink/internal/domain"
	"prepmate/peerlink/internal/store/memstore"
)

func TestPublishOfferDeliveredOnce(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	caller := NewChannel(store, "r1")
	callee := NewChannel(store, "r1")

	offer := domain.SDPPayload{Type: "offer", SDP: "v=0\r\noffer-sdp"}
	if err := caller.PublishOffer(ctx, "u1", offer); err != nil {
		t.Fatalf("publish offer: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	got, err := callee.AwaitOffer(waitCtx)
	if err != nil {
		t.Fatalf("await offer: %v", err)
	}
	if got != offer {
		t.Errorf("expected %+v, got %+v", offer, got)
	}

	doc, ok, _ := store.Get(ctx, "rooms", "r1")
	if !ok || doc["callerId"] != "u1" {
		t.Errorf("expected room doc with callerId u1, got %v", doc)
	}
}

func TestAnswerAfterOffer(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	caller := NewChannel(store, "r1")
	callee := NewChannel(store, "r1")

	// Caller starts waiting for the answer before anything is written.
	answerCh := make(chan domain.SDPPayload, 1)
	go func() {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		answer, err := caller.AwaitAnswer(waitCtx)
		if err != nil {
			t.Errorf("await answer: %v", err)
			return
		}
		answerCh <- answer
	}()

	caller.PublishOffer(ctx, "u1", domain.SDPPayload{Type: "offer", SDP: "o"})

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if _, err := callee.AwaitOffer(waitCtx); err != nil {
		t.Fatalf("await offer: %v", err)
	}
	// Answer production happens-after offer observation.
	callee.PublishAnswer(ctx, domain.SDPPayload{Type: "answer", SDP: "a"})

	select {
	case answer := <-answerCh:
		if answer.SDP != "a" {
			t.Errorf("expected answer sdp 'a', got %q", answer.SDP)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("caller never observed the answer")
	}
}

func TestAwaitOfferCancelled(t *testing.T) {
	store := memstore.New()
	ch := NewChannel(store, "r1")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := ch.AwaitOffer(ctx); err == nil {
		t.Error("expected error when no offer arrives before cancellation")
	}
}

func TestCandidatesOrderedNoDuplicates(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	caller := NewChannel(store, "r1")
	callee := NewChannel(store, "r1")

	var mu sync.Mutex
	var got []string
	stop, err := callee.WatchRemoteCandidates(ctx, domain.RoleCallee, func(c domain.ICECandidatePayload) {
		mu.Lock()
		got = append(got, c.Candidate)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("watch remote candidates: %v", err)
	}
	defer stop()

	want := []string{"candidate:1", "candidate:2", "candidate:3"}
	for _, c := range want {
		if err := caller.PublishCandidate(ctx, domain.RoleCaller, domain.ICECandidatePayload{Candidate: c, SDPMid: "0"}); err != nil {
			t.Fatalf("publish candidate: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= len(want) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d candidates, got %d", len(want), n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("duplicate delivery: got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidate %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestCandidatesDoNotCrossRoles(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	ch := NewChannel(store, "r1")

	delivered := make(chan domain.ICECandidatePayload, 4)
	stop, _ := ch.WatchRemoteCandidates(ctx, domain.RoleCaller, func(c domain.ICECandidatePayload) {
		delivered <- c
	})
	defer stop()

	// The caller's own candidates must not come back to it.
	ch.PublishCandidate(ctx, domain.RoleCaller, domain.ICECandidatePayload{Candidate: "candidate:own"})
	ch.PublishCandidate(ctx, domain.RoleCallee, domain.ICECandidatePayload{Candidate: "candidate:remote"})

	select {
	case c := <-delivered:
		if c.Candidate != "candidate:remote" {
			t.Errorf("caller received its own candidate: %s", c.Candidate)
		}
	case <-time.After(time.Second):
		t.Fatal("remote candidate never delivered")
	}

	select {
	case c := <-delivered:
		t.Errorf("unexpected extra delivery: %s", c.Candidate)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPurgeIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	ch := NewChannel(store, "r1")

	ch.PublishOffer(ctx, "u1", domain.SDPPayload{Type: "offer", SDP: "o"})
	ch.PublishCandidate(ctx, domain.RoleCaller, domain.ICECandidatePayload{Candidate: "candidate:1"})
	ch.PublishCandidate(ctx, domain.RoleCallee, domain.ICECandidatePayload{Candidate: "candidate:2"})

	ch.Purge(ctx)
	ch.Purge(ctx) // second purge on an empty room must be a no-op

	if _, ok, _ := store.Get(ctx, "rooms", "r1"); ok {
		t.Error("room document survived purge")
	}
	for _, path := range []string{"rooms/r1/callerCandidates", "rooms/r1/calleeCandidates"} {
		docs, _ := store.List(ctx, path, 0)
		if len(docs) != 0 {
			t.Errorf("%s not emptied by purge: %v", path, docs)
		}
	}
}
