package webrtc

import (
	"strings"
	"testing"

	"prepmate/peerlink/internal/domain"
)

func newTestPeer(t *testing.T) *Peer {
	t.Helper()
	p, err := NewPeer(nil, nil)
	if err != nil {
		t.Fatalf("new peer: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestCreateOfferProducesUsableSDP(t *testing.T) {
	p := newTestPeer(t)

	offer, err := p.CreateOffer()
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if offer.Type != "offer" || offer.SDP == "" {
		t.Errorf("offer = %+v", offer)
	}
	// Receive-only peer still offers both kinds.
	if !strings.Contains(offer.SDP, "m=audio") || !strings.Contains(offer.SDP, "m=video") {
		t.Errorf("offer missing media sections:\n%s", offer.SDP)
	}
}

func TestCandidatesBufferedBeforeRemoteDescription(t *testing.T) {
	p := newTestPeer(t)

	cand := domain.ICECandidatePayload{Candidate: "candidate:1 1 udp 1 127.0.0.1 4242 typ host", SDPMid: "0"}
	if err := p.AddRemoteCandidate(cand); err != nil {
		t.Fatalf("buffering candidate should not fail: %v", err)
	}

	p.mu.Lock()
	buffered := len(p.pending)
	p.mu.Unlock()
	if buffered != 1 {
		t.Errorf("expected 1 buffered candidate, got %d", buffered)
	}
}

func TestBufferedCandidatesFlushOnRemoteDescription(t *testing.T) {
	offerer := newTestPeer(t)
	answerer := newTestPeer(t)

	offer, err := offerer.CreateOffer()
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if err := answerer.SetRemoteDescription(offer); err != nil {
		t.Fatalf("apply offer: %v", err)
	}
	answer, err := answerer.CreateAnswer()
	if err != nil {
		t.Fatalf("create answer: %v", err)
	}

	cand := domain.ICECandidatePayload{
		Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host",
		SDPMid:    "0",
	}
	if err := offerer.AddRemoteCandidate(cand); err != nil {
		t.Fatalf("buffer candidate: %v", err)
	}

	if err := offerer.SetRemoteDescription(answer); err != nil {
		t.Fatalf("apply answer: %v", err)
	}
	offerer.mu.Lock()
	buffered := len(offerer.pending)
	offerer.mu.Unlock()
	if buffered != 0 {
		t.Errorf("expected buffer drained after remote description, %d left", buffered)
	}

	// Later candidates apply directly, no buffering.
	if err := offerer.AddRemoteCandidate(cand); err != nil {
		t.Fatalf("add candidate after remote description: %v", err)
	}
	offerer.mu.Lock()
	buffered = len(offerer.pending)
	offerer.mu.Unlock()
	if buffered != 0 {
		t.Errorf("candidate buffered after remote description, %d pending", buffered)
	}
}

func TestSetTrackEnabledWithoutTrack(t *testing.T) {
	p := newTestPeer(t)
	if err := p.SetTrackEnabled("audio", false); err == nil {
		t.Error("expected error for missing local track")
	}
}

func TestCloseIdempotent(t *testing.T) {
	p := newTestPeer(t)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
