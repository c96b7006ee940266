package compose

import (
	"context"
	"fmt"
	"image"
	"io"
)

// SourceKind discriminates the supported source variants.
type SourceKind int

const (
	SourceKindFile SourceKind = iota
	SourceKindImage
	SourceKindFeed
)

func (k SourceKind) String() string {
	switch k {
	case SourceKindFile:
		return "file"
	case SourceKindImage:
		return "image"
	case SourceKindFeed:
		return "feed"
	default:
		return "unknown"
	}
}

// Source is a reference to the media an item reads from. It is a closed
// set: container files, still images, and externally fed frame streams.
type Source interface {
	Kind() SourceKind
	// Label is a short human-readable identifier for logs and errors.
	Label() string
}

// FileSource reads a local container file (IVF, WAV or CPX).
type FileSource struct {
	Path string
}

func (s FileSource) Kind() SourceKind { return SourceKindFile }
func (s FileSource) Label() string    { return s.Path }

// ImageSource synthesizes a video track from a single still image. The
// item's duration and frame rate determine the frame grid.
type ImageSource struct {
	Image image.Image
}

func (s ImageSource) Kind() SourceKind { return SourceKindImage }
func (s ImageSource) Label() string    { return "image" }

// FeedSource reads frames pushed by an external producer. The feed is
// handed in explicitly at construction; there is no global registry.
type FeedSource struct {
	Feed *FrameFeed
}

func (s FeedSource) Kind() SourceKind { return SourceKindFeed }
func (s FeedSource) Label() string    { return "feed" }

// TrackInfo describes one track of an opened asset.
type TrackInfo struct {
	Type TrackType

	// Video fields.
	VideoCodec VideoCodec
	Width      int
	Height     int
	FrameRate  int

	// Audio fields.
	AudioCodec AudioCodec
	SampleRate int
	Channels   int

	// DurationUs is the track duration as reported by the source,
	// 0 when unknown (unbounded feeds).
	DurationUs int64
}

// AssetLoader opens one item's source and produces its demultiplexed
// samples. Open must report the effective track set (present and not
// removed) before any sample is read. ReadSample returns samples of one
// track in non-decreasing PTS order and io.EOF after the last one.
type AssetLoader interface {
	io.Closer
	Open(ctx context.Context) ([]TrackInfo, error)
	ReadSample(ctx context.Context, track TrackType) (*Sample, error)
}

// newAssetLoader selects the loader implementation for an item's source.
// An unrecognized source variant is a source error, not a panic.
func newAssetLoader(item Item) (AssetLoader, error) {
	switch src := item.source.(type) {
	case FileSource:
		return newContainerLoader(src, item), nil
	case ImageSource:
		return newImageLoader(src, item)
	case FeedSource:
		return newFeedLoader(src, item)
	default:
		return nil, fmt.Errorf("unrecognized source kind %T", item.source)
	}
}

// trackSet is a convenience lookup over a loader's reported tracks.
type trackSet struct {
	audio *TrackInfo
	video *TrackInfo
}

func newTrackSet(infos []TrackInfo) trackSet {
	var ts trackSet
	for i := range infos {
		switch infos[i].Type {
		case TrackAudio:
			ts.audio = &infos[i]
		case TrackVideo:
			ts.video = &infos[i]
		}
	}
	return ts
}
