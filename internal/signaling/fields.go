package signaling

import "prepmate/peerlink/internal/domain"

// Store documents hold plain key/value fields. After a JSON round trip
// (relay, Redis) numbers come back as float64, so decoding tolerates both.

func sdpFields(sdp domain.SDPPayload) map[string]any {
	return map[string]any{"type": sdp.Type, "sdp": sdp.SDP}
}

func sdpFromFields(v any) (domain.SDPPayload, bool) {
	fields, ok := v.(map[string]any)
	if !ok {
		return domain.SDPPayload{}, false
	}
	typ, _ := fields["type"].(string)
	sdp, _ := fields["sdp"].(string)
	if typ == "" || sdp == "" {
		return domain.SDPPayload{}, false
	}
	return domain.SDPPayload{Type: typ, SDP: sdp}, true
}

func candidateFields(cand domain.ICECandidatePayload) map[string]any {
	return map[string]any{
		"candidate":     cand.Candidate,
		"sdpMid":        cand.SDPMid,
		"sdpMLineIndex": cand.SDPMLineIndex,
	}
}

func candidateFromFields(fields map[string]any) (domain.ICECandidatePayload, bool) {
	candidate, _ := fields["candidate"].(string)
	if candidate == "" {
		return domain.ICECandidatePayload{}, false
	}
	mid, _ := fields["sdpMid"].(string)
	return domain.ICECandidatePayload{
		Candidate:     candidate,
		SDPMid:        mid,
		SDPMLineIndex: asInt(fields["sdpMLineIndex"]),
	}, true
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
