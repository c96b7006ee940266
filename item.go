package compose

import (
	"errors"
	"fmt"
)

// DefaultFrameRate is the frame grid used for image sources when the
// item does not set one.
const DefaultFrameRate = 30

// ItemConfig configures one edited item. The zero value is not valid;
// Source is required.
type ItemConfig struct {
	// Source is the media this item reads from.
	Source Source

	// ClipStartUs and ClipEndUs select a window of a container source.
	// Samples before the clip start are discarded and the item timeline
	// is rebased so its first sample presents at 0. ClipEndUs == 0 with
	// ClipStartUs == 0 means the full source.
	ClipStartUs int64
	ClipEndUs   int64

	// DurationUs forces the item duration. Required for image sources,
	// where it determines the synthesized frame count; optional for feed
	// sources (0 means unbounded).
	DurationUs int64

	// FrameRate sets the frame grid for image and feed sources.
	// Defaults to DefaultFrameRate.
	FrameRate int

	// RemoveAudio and RemoveVideo drop a track before processing.
	// Removing both is invalid.
	RemoveAudio bool
	RemoveVideo bool

	// AudioProcessors run in order over decoded PCM before re-encoding.
	AudioProcessors []AudioProcessor

	// VideoEffects run in order over decoded frames before re-encoding.
	VideoEffects []FrameEffect
}

// Item is one source plus its edit instructions. Items are immutable
// once built and owned by the Sequence that contains them.
type Item struct {
	source          Source
	clipStartUs     int64
	clipEndUs       int64
	durationUs      int64
	frameRate       int
	removeAudio     bool
	removeVideo     bool
	audioProcessors []AudioProcessor
	videoEffects    []FrameEffect
}

// NewItem validates the config and builds an immutable Item.
func NewItem(cfg ItemConfig) (Item, error) {
	if cfg.Source == nil {
		return Item{}, errors.New("item requires a source")
	}
	if cfg.ClipStartUs < 0 || cfg.ClipEndUs < 0 {
		return Item{}, errors.New("clip boundaries must be non-negative")
	}
	if cfg.ClipEndUs > 0 && cfg.ClipEndUs <= cfg.ClipStartUs {
		return Item{}, fmt.Errorf("clip end %dus not after clip start %dus", cfg.ClipEndUs, cfg.ClipStartUs)
	}
	if cfg.DurationUs < 0 {
		return Item{}, errors.New("duration must be non-negative")
	}
	if cfg.RemoveAudio && cfg.RemoveVideo {
		return Item{}, errors.New("cannot remove both audio and video")
	}

	frameRate := cfg.FrameRate
	switch cfg.Source.Kind() {
	case SourceKindImage:
		if cfg.DurationUs == 0 {
			return Item{}, errors.New("image source requires a duration")
		}
		if cfg.RemoveVideo {
			return Item{}, errors.New("image source has only a video track")
		}
		if frameRate == 0 {
			frameRate = DefaultFrameRate
		}
	case SourceKindFeed:
		if cfg.RemoveVideo {
			return Item{}, errors.New("feed source has only a video track")
		}
		if frameRate == 0 {
			frameRate = DefaultFrameRate
		}
	}
	if frameRate < 0 {
		return Item{}, errors.New("frame rate must be positive")
	}

	return Item{
		source:          cfg.Source,
		clipStartUs:     cfg.ClipStartUs,
		clipEndUs:       cfg.ClipEndUs,
		durationUs:      cfg.DurationUs,
		frameRate:       frameRate,
		removeAudio:     cfg.RemoveAudio,
		removeVideo:     cfg.RemoveVideo,
		audioProcessors: append([]AudioProcessor(nil), cfg.AudioProcessors...),
		videoEffects:    append([]FrameEffect(nil), cfg.VideoEffects...),
	}, nil
}

// Source returns the item's media source.
func (it Item) Source() Source { return it.source }

// RemovesAudio reports whether the audio track is dropped.
func (it Item) RemovesAudio() bool { return it.removeAudio }

// RemovesVideo reports whether the video track is dropped.
func (it Item) RemovesVideo() bool { return it.removeVideo }

// Clipped reports whether the item selects a sub-window of its source.
func (it Item) Clipped() bool { return it.clipStartUs > 0 || it.clipEndUs > 0 }

// hasEffects reports whether any transform is attached to the track.
func (it Item) hasEffects(track TrackType) bool {
	switch track {
	case TrackAudio:
		return len(it.audioProcessors) > 0
	case TrackVideo:
		return len(it.videoEffects) > 0
	default:
		return false
	}
}

// effectiveDurationUs returns the duration one traversal of the item
// contributes to its sequence timeline. probedUs is the duration reported
// by the opened source, used when the item neither clips nor forces one.
func (it Item) effectiveDurationUs(probedUs int64) int64 {
	if it.clipEndUs > 0 {
		return it.clipEndUs - it.clipStartUs
	}
	if it.durationUs > 0 {
		return it.durationUs
	}
	if it.clipStartUs > 0 && probedUs > it.clipStartUs {
		return probedUs - it.clipStartUs
	}
	return probedUs
}
