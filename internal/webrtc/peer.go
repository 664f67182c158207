// Package webrtc adapts a Pion peer connection to the transport port.
package webrtc

import (
	"fmt"
	"log"
	"sync"

	"github.com/pion/interceptor"
	pion "github.com/pion/webrtc/v4"

	"prepmate/peerlink/internal/domain"
)

// TrackProvider supplies captured local tracks and the codecs they were
// encoded with. *media.Capture satisfies it.
type TrackProvider interface {
	Tracks() []pion.TrackLocal
	PopulateMediaEngine(engine *pion.MediaEngine) error
}

type senderSlot struct {
	sender *pion.RTPSender
	track  pion.TrackLocal
}

// Peer wraps one Pion PeerConnection and implements domain.Transport.
type Peer struct {
	pc *pion.PeerConnection

	mu            sync.Mutex
	remoteDescSet bool
	pending       []domain.ICECandidatePayload
	senders       map[string]*senderSlot
	closed        bool
}

// NewPeer creates a peer connection against the given STUN-class servers and
// attaches the provided local tracks. media may be nil (receive-only peer).
func NewPeer(stunURLs []string, media TrackProvider) (*Peer, error) {
	m := &pion.MediaEngine{}
	if media != nil {
		if err := media.PopulateMediaEngine(m); err != nil {
			return nil, fmt.Errorf("populate media engine: %w", err)
		}
	} else if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
	)

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:           []pion.ICEServer{{URLs: stunURLs}},
		ICECandidatePoolSize: 10,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		pc:      pc,
		senders: make(map[string]*senderSlot),
	}

	if media != nil {
		for _, track := range media.Tracks() {
			sender, err := pc.AddTrack(track)
			if err != nil {
				pc.Close()
				return nil, fmt.Errorf("add %s track: %w", track.Kind(), err)
			}
			p.senders[track.Kind().String()] = &senderSlot{sender: sender, track: track}
			go drainRTCP(sender)
		}
	}

	// Kinds without a local track still need an m-line so the remote side
	// can send to us.
	for _, kind := range []pion.RTPCodecType{pion.RTPCodecTypeAudio, pion.RTPCodecTypeVideo} {
		if _, ok := p.senders[kind.String()]; ok {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(kind, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		log.Printf("[webrtc] ICE connection state: %s", state)
	})

	return p, nil
}

// drainRTCP keeps the interceptors fed; sender reports are not used.
func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// OnCandidate registers the callback for locally gathered candidates.
func (p *Peer) OnCandidate(fn func(domain.ICECandidatePayload)) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			log.Printf("[webrtc] ICE gathering complete")
			return
		}
		j := c.ToJSON()
		cand := domain.ICECandidatePayload{Candidate: j.Candidate}
		if j.SDPMid != nil {
			cand.SDPMid = *j.SDPMid
		}
		if j.SDPMLineIndex != nil {
			cand.SDPMLineIndex = int(*j.SDPMLineIndex)
		}
		fn(cand)
	})
}

// OnRemoteTrack registers the callback invoked when a remote track arrives.
// Incoming RTP is drained; rendering is the presentation layer's concern.
func (p *Peer) OnRemoteTrack(fn func(kind string)) {
	p.pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		codec := track.Codec()
		log.Printf("[webrtc] got remote track: kind=%s codec=%s", track.Kind(), codec.MimeType)
		fn(track.Kind().String())

		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					return
				}
			}
		}()
	})
}

// OnConnectionChange maps Pion's connection states onto the simplified
// connected/not-connected signal. Disconnected is not fatal, but it reads
// as not connected.
func (p *Peer) OnConnectionChange(fn func(connected bool)) {
	p.pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		log.Printf("[webrtc] peer connection state: %s", state)
		switch state {
		case pion.PeerConnectionStateConnected:
			fn(true)
		case pion.PeerConnectionStateFailed, pion.PeerConnectionStateDisconnected, pion.PeerConnectionStateClosed:
			fn(false)
		}
	})
}

// CreateOffer creates an offer and sets it as the local description.
func (p *Peer) CreateOffer() (domain.SDPPayload, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SDPPayload{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// CreateAnswer creates an answer and sets it as the local description.
func (p *Peer) CreateAnswer() (domain.SDPPayload, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SDPPayload{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// SetRemoteDescription applies the remote description and flushes any
// candidates that arrived before it.
func (p *Peer) SetRemoteDescription(desc domain.SDPPayload) error {
	remote := pion.SessionDescription{
		Type: pion.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	}
	if err := p.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	p.mu.Lock()
	p.remoteDescSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, cand := range pending {
		if err := p.addCandidate(cand); err != nil {
			log.Printf("[webrtc] flush buffered candidate: %v", err)
		}
	}
	return nil
}

// AddRemoteCandidate applies a remote candidate, buffering it when no
// remote description is set yet.
func (p *Peer) AddRemoteCandidate(cand domain.ICECandidatePayload) error {
	p.mu.Lock()
	if !p.remoteDescSet {
		p.pending = append(p.pending, cand)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.addCandidate(cand)
}

func (p *Peer) addCandidate(cand domain.ICECandidatePayload) error {
	mlineIndex := uint16(cand.SDPMLineIndex)
	init := pion.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        &cand.SDPMid,
		SDPMLineIndex: &mlineIndex,
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// SetTrackEnabled mutes or unmutes one local kind without renegotiation by
// swapping the sender's track out and back in.
func (p *Peer) SetTrackEnabled(kind string, enabled bool) error {
	p.mu.Lock()
	slot, ok := p.senders[kind]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("no local %s track", kind)
	}

	var track pion.TrackLocal
	if enabled {
		track = slot.track
	}
	if err := slot.sender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("toggle %s track: %w", kind, err)
	}
	return nil
}

// Close shuts down the peer connection. Safe to call more than once.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.pc.Close()
}
