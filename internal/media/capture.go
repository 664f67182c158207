// Package media captures the local camera and microphone via
// pion/mediadevices.
package media

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	pion "github.com/pion/webrtc/v4"

	"prepmate/peerlink/internal/domain"
)

// ErrCapture is the fatal media error: no usable camera or microphone, or
// access was denied. There is no automatic retry.
var ErrCapture = errors.New("could not access camera and microphone")

// Capture is a captured local stream. It satisfies domain.MediaSource and
// the transport's TrackProvider.
type Capture struct {
	selector *mediadevices.CodecSelector
	tracks   []mediadevices.Track

	closeOnce sync.Once
}

var _ domain.MediaSource = (*Capture)(nil)

// Open captures local media with VP8+Opus encoding. GetUserMedia fails as a
// unit if either kind cannot be opened, so it degrades: video+audio, then
// video-only, then audio-only.
func Open() (*Capture, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	type attempt struct {
		video bool
		audio bool
		label string
	}
	var lastErr error
	for _, a := range []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	} {
		constraints := mediadevices.MediaStreamConstraints{Codec: selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw formats only: MJPEG nodes on some cameras emit broken
				// frames that poison the VP8 encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Printf("[media] GetUserMedia (%s): %v", a.label, err)
			lastErr = err
			continue
		}

		tracks := stream.GetTracks()
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					log.Printf("[media] local track ended: %v", err)
				}
			})
		}
		log.Printf("[media] captured local media (%s), %d tracks", a.label, len(tracks))
		return &Capture{selector: selector, tracks: tracks}, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrCapture, lastErr)
}

// Kinds reports the captured track kinds.
func (c *Capture) Kinds() []string {
	var kinds []string
	for _, t := range c.tracks {
		kinds = append(kinds, t.Kind().String())
	}
	return kinds
}

// Tracks returns the captured tracks for attachment to a peer connection.
func (c *Capture) Tracks() []pion.TrackLocal {
	out := make([]pion.TrackLocal, 0, len(c.tracks))
	for _, t := range c.tracks {
		out = append(out, t)
	}
	return out
}

// PopulateMediaEngine registers the capture codecs on the peer's engine.
func (c *Capture) PopulateMediaEngine(engine *pion.MediaEngine) error {
	c.selector.Populate(engine)
	return nil
}

// Close stops all captured tracks. Safe to call more than once.
func (c *Capture) Close() error {
	c.closeOnce.Do(func() {
		for _, t := range c.tracks {
			if err := t.Close(); err != nil {
				log.Printf("[media] close track: %v", err)
			}
		}
	})
	return nil
}
