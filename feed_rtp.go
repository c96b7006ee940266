package compose

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/sirupsen/logrus"
)

// RTPPacket is an alias to pion's rtp.Packet.
type RTPPacket = rtp.Packet

// videoRTPClockHz is the RTP clock rate mandated for video payloads.
const videoRTPClockHz = 90000

// IsRTPTimestampOlder reports whether ts1 is older than or equal to
// ts2 under 32-bit RTP timestamp wraparound rules.
func IsRTPTimestampOlder(ts1, ts2 uint32) bool {
	if ts1 == ts2 {
		return true
	}
	return ts2-ts1 < 0x80000000
}

// RTPFeedBridge turns a VP8 RTP stream into raw frames on a FrameFeed,
// so a live network source can participate in an export. Packets must
// arrive in order; a missing packet drops the frame under assembly and
// decoding resumes at the next partition start.
//
// The bridge owns a decoder, so the usual flow is:
//
//	feed := NewFrameFeed(w, h)
//	bridge, _ := NewRTPFeedBridge(feed, VideoCodecVP8, nil)
//	// push packets from the session...
//	bridge.Close() // flushes the decoder and ends the feed
type RTPFeedBridge struct {
	feed *FrameFeed
	dec  VideoDecoder
	log  *logrus.Entry

	assembling bool
	curTS      uint32
	buf        []byte

	clockSet bool
	lastTS   uint32
	clock90k uint64

	gotKeyframe bool
	frames      uint64
	dropped     uint64
	closed      bool
}

// NewRTPFeedBridge creates a bridge decoding the given codec into feed.
// Only VP8 payloads are handled; the decoder provider must be available
// at runtime.
func NewRTPFeedBridge(feed *FrameFeed, codec VideoCodec, logger *logrus.Logger) (*RTPFeedBridge, error) {
	if feed == nil {
		return nil, fmt.Errorf("rtp bridge requires a feed")
	}
	if codec != VideoCodecVP8 {
		return nil, fmt.Errorf("rtp bridge does not handle %s payloads", codec)
	}
	dec, err := NewVideoDecoder(VideoDecoderConfig{Codec: codec})
	if err != nil {
		return nil, fmt.Errorf("rtp bridge decoder: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RTPFeedBridge{
		feed: feed,
		dec:  dec,
		log:  logger.WithField("bridge", "rtp"),
	}, nil
}

// Push processes one RTP packet. Completed frames are decoded and
// delivered to the feed, blocking until the feed accepts them or ctx
// is done.
func (b *RTPFeedBridge) Push(ctx context.Context, pkt *RTPPacket) error {
	if b.closed {
		return fmt.Errorf("rtp bridge closed")
	}
	var vp8 codecs.VP8Packet
	payload, err := vp8.Unmarshal(pkt.Payload)
	if err != nil {
		return fmt.Errorf("vp8 depacketize: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}

	if b.assembling && pkt.Timestamp != b.curTS {
		// The closing packet of the previous frame never arrived.
		b.dropFrame("timestamp advanced mid-frame")
	}
	if !b.assembling {
		if vp8.S != 1 || vp8.PID != 0 {
			// Mid-frame packet with nothing to attach it to.
			return nil
		}
		b.assembling = true
		b.curTS = pkt.Timestamp
		b.buf = b.buf[:0]
	}
	b.buf = append(b.buf, payload...)
	if !pkt.Marker {
		return nil
	}

	frame := make([]byte, len(b.buf))
	copy(frame, b.buf)
	b.assembling = false

	key := isVP8Keyframe(frame)
	if !b.gotKeyframe {
		if !key {
			b.dropped++
			return nil
		}
		b.gotKeyframe = true
	}
	return b.decode(ctx, frame, b.advanceClock(pkt.Timestamp), key)
}

// advanceClock converts the RTP timestamp into microseconds since the
// first frame, accumulating across 32-bit wraparounds.
func (b *RTPFeedBridge) advanceClock(ts uint32) int64 {
	if !b.clockSet {
		b.clockSet = true
		b.lastTS = ts
		return 0
	}
	if !IsRTPTimestampOlder(ts, b.lastTS) {
		b.clock90k += uint64(ts - b.lastTS)
		b.lastTS = ts
	}
	return int64(b.clock90k) * 1e6 / videoRTPClockHz
}

func (b *RTPFeedBridge) decode(ctx context.Context, data []byte, ptsUs int64, key bool) error {
	for !b.dec.ReadyForInput() {
		if err := b.deliverDecoded(ctx); err != nil {
			return err
		}
	}
	if err := b.dec.QueueSample(&Sample{
		Data:  data,
		PTS:   ptsUs,
		Track: TrackVideo,
		Key:   key,
	}); err != nil {
		return fmt.Errorf("vp8 decode: %w", err)
	}
	b.frames++
	return b.deliverDecoded(ctx)
}

func (b *RTPFeedBridge) deliverDecoded(ctx context.Context) error {
	for {
		f, err := b.dec.NextFrame()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("vp8 decode: %w", err)
		}
		if f == nil {
			return nil
		}
		for !b.feed.QueueFrame(f) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Microsecond):
			}
		}
	}
}

func (b *RTPFeedBridge) dropFrame(reason string) {
	b.assembling = false
	b.buf = b.buf[:0]
	b.dropped++
	b.log.WithFields(logrus.Fields{"reason": reason, "dropped": b.dropped}).Debug("frame dropped")
}

// Frames returns how many complete frames reached the decoder.
func (b *RTPFeedBridge) Frames() uint64 { return b.frames }

// Dropped returns how many frames were discarded before decoding.
func (b *RTPFeedBridge) Dropped() uint64 { return b.dropped }

// Close flushes the decoder, delivers any remaining frames and signals
// end-of-input on the feed. Pending deliveries are abandoned after a
// short grace period if the consumer is gone.
func (b *RTPFeedBridge) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.dec.SignalEndOfInput()
	if err := b.deliverDecoded(ctx); err != nil {
		b.log.WithError(err).Debug("flush abandoned")
	}
	b.feed.SignalEndOfInput()
	return b.dec.Close()
}
