package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// FrameFeed bridges an external frame producer into an export. The
// producer pushes raw frames with explicit timestamps and signals
// end-of-input when done. The feed holds at most one unacknowledged
// frame: QueueFrame reports false until the pipeline has consumed the
// previous one, so a producer can pace itself without blocking.
type FrameFeed struct {
	width  int
	height int

	slot   chan *Frame
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

// NewFrameFeed creates a feed for frames of the given dimensions.
func NewFrameFeed(width, height int) *FrameFeed {
	return &FrameFeed{
		width:  width,
		height: height,
		slot:   make(chan *Frame, 1),
		done:   make(chan struct{}),
	}
}

// QueueFrame offers one frame to the pipeline. It returns true if the
// feed accepted the frame, false while the previous frame has not been
// consumed yet or after SignalEndOfInput. The frame's PTS must be set by
// the producer and be non-decreasing.
func (f *FrameFeed) QueueFrame(frame *Frame) bool {
	if f.closed.Load() {
		return false
	}
	select {
	case f.slot <- frame:
		return true
	default:
		return false
	}
}

// SignalEndOfInput marks the stream complete. A frame already queued is
// still delivered; further pushes are rejected.
func (f *FrameFeed) SignalEndOfInput() {
	f.once.Do(func() {
		f.closed.Store(true)
		close(f.done)
	})
}

// readFrame blocks until a frame is available, end-of-input is reached,
// or the context is done.
func (f *FrameFeed) readFrame(ctx context.Context) (*Frame, error) {
	select {
	case frame := <-f.slot:
		return frame, nil
	default:
	}
	select {
	case frame := <-f.slot:
		return frame, nil
	case <-f.done:
		// A producer may have raced a final frame in before closing.
		select {
		case frame := <-f.slot:
			return frame, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// feedLoader adapts a FrameFeed to the AssetLoader contract.
type feedLoader struct {
	feed *FrameFeed
	item Item

	lastPTS int64
	started bool
}

func newFeedLoader(src FeedSource, item Item) (*feedLoader, error) {
	if src.Feed == nil {
		return nil, errors.New("feed source has no feed")
	}
	if src.Feed.width < 2 || src.Feed.height < 2 {
		return nil, errors.New("feed dimensions too small")
	}
	return &feedLoader{feed: src.Feed, item: item, lastPTS: -1}, nil
}

func (l *feedLoader) Open(ctx context.Context) ([]TrackInfo, error) {
	return []TrackInfo{{
		Type:       TrackVideo,
		VideoCodec: VideoCodecRaw,
		Width:      l.feed.width,
		Height:     l.feed.height,
		FrameRate:  l.item.frameRate,
		DurationUs: l.item.durationUs,
	}}, nil
}

func (l *feedLoader) ReadSample(ctx context.Context, track TrackType) (*Sample, error) {
	if track != TrackVideo {
		return nil, io.EOF
	}
	frame, err := l.feed.readFrame(ctx)
	if err != nil {
		return nil, err
	}
	if frame.Width != l.feed.width || frame.Height != l.feed.height {
		return nil, fmt.Errorf("fed frame is %dx%d, feed is %dx%d",
			frame.Width, frame.Height, l.feed.width, l.feed.height)
	}
	if frame.PTS <= l.lastPTS && l.started {
		return nil, fmt.Errorf("fed frame PTS %dus not after %dus", frame.PTS, l.lastPTS)
	}
	l.started = true
	l.lastPTS = frame.PTS
	return &Sample{
		Data:  packI420(frame),
		PTS:   frame.PTS,
		Track: TrackVideo,
		Key:   true,
	}, nil
}

func (l *feedLoader) Close() error {
	// The producer owns the feed; reading stops here but pushes after an
	// abort are still safely rejected once end-of-input is signaled.
	return nil
}
