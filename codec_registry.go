package compose

import (
	"fmt"
	"io"
	"sync"
)

// Codecs follow a two-queue model: feed input while ReadyForInput
// reports true, pull output until the codec asks for more, and after
// SignalEndOfInput drain until io.EOF. Next* returns (nil, nil) when
// the codec needs more input before it can produce anything.

// VideoDecoder turns compressed samples into raw frames.
type VideoDecoder interface {
	io.Closer
	ReadyForInput() bool
	QueueSample(s *Sample) error
	SignalEndOfInput()
	NextFrame() (*Frame, error)
	Provider() Provider
}

// VideoEncoder turns raw frames into compressed samples.
type VideoEncoder interface {
	io.Closer
	ReadyForInput() bool
	QueueFrame(f *Frame) error
	SignalEndOfInput()
	NextSample() (*Sample, error)
	Provider() Provider
	Codec() VideoCodec
}

// AudioDecoder turns compressed samples into PCM chunks.
type AudioDecoder interface {
	io.Closer
	ReadyForInput() bool
	QueueSample(s *Sample) error
	SignalEndOfInput()
	NextChunk() (*AudioChunk, error)
	Provider() Provider
}

// AudioEncoder turns PCM chunks into compressed samples.
type AudioEncoder interface {
	io.Closer
	ReadyForInput() bool
	QueueChunk(c *AudioChunk) error
	SignalEndOfInput()
	NextSample() (*Sample, error)
	Provider() Provider
	Codec() AudioCodec
}

// VideoDecoderConfig configures a video decoder.
type VideoDecoderConfig struct {
	Codec    VideoCodec
	Provider Provider // ProviderAuto lets the library choose

	Width   int
	Height  int
	Threads int // 0 = auto
}

// VideoEncoderConfig configures a video encoder.
type VideoEncoderConfig struct {
	Codec    VideoCodec
	Provider Provider

	Width      int
	Height     int
	FPS        int
	BitrateBps int
	Threads    int // 0 = auto
	Quality    int // codec-specific, 0-63 for VP8/VP9
}

// DefaultVideoEncoderConfig returns a sensible encoder configuration.
func DefaultVideoEncoderConfig(codec VideoCodec, width, height int) VideoEncoderConfig {
	return VideoEncoderConfig{
		Codec:      codec,
		Provider:   ProviderAuto,
		Width:      width,
		Height:     height,
		FPS:        DefaultFrameRate,
		BitrateBps: 1500000,
		Quality:    32,
	}
}

// AudioDecoderConfig configures an audio decoder.
type AudioDecoderConfig struct {
	Codec    AudioCodec
	Provider Provider

	SampleRate int
	Channels   int
}

// AudioEncoderConfig configures an audio encoder.
type AudioEncoderConfig struct {
	Codec    AudioCodec
	Provider Provider

	SampleRate  int
	Channels    int
	BitrateBps  int
	FrameSizeMs int
}

// DefaultAudioEncoderConfig returns a sensible encoder configuration.
func DefaultAudioEncoderConfig(codec AudioCodec) AudioEncoderConfig {
	return AudioEncoderConfig{
		Codec:       codec,
		Provider:    ProviderAuto,
		SampleRate:  48000,
		Channels:    2,
		BitrateBps:  64000,
		FrameSizeMs: 20,
	}
}

// --- Registry ---

type videoDecoderFactory func(VideoDecoderConfig) (VideoDecoder, error)
type videoEncoderFactory func(VideoEncoderConfig) (VideoEncoder, error)
type audioDecoderFactory func(AudioDecoderConfig) (AudioDecoder, error)
type audioEncoderFactory func(AudioEncoderConfig) (AudioEncoder, error)

type codecRegistry struct {
	mu sync.RWMutex

	// codec -> provider -> factory
	videoDecoders map[VideoCodec]map[Provider]videoDecoderFactory
	videoEncoders map[VideoCodec]map[Provider]videoEncoderFactory
	audioDecoders map[AudioCodec]map[Provider]audioDecoderFactory
	audioEncoders map[AudioCodec]map[Provider]audioEncoderFactory

	// Default provider per codec.
	videoDecoderDefaults map[VideoCodec]Provider
	videoEncoderDefaults map[VideoCodec]Provider
	audioDecoderDefaults map[AudioCodec]Provider
	audioEncoderDefaults map[AudioCodec]Provider
}

var globalCodecRegistry = &codecRegistry{
	videoDecoders:        make(map[VideoCodec]map[Provider]videoDecoderFactory),
	videoEncoders:        make(map[VideoCodec]map[Provider]videoEncoderFactory),
	audioDecoders:        make(map[AudioCodec]map[Provider]audioDecoderFactory),
	audioEncoders:        make(map[AudioCodec]map[Provider]audioEncoderFactory),
	videoDecoderDefaults: make(map[VideoCodec]Provider),
	videoEncoderDefaults: make(map[VideoCodec]Provider),
	audioDecoderDefaults: make(map[AudioCodec]Provider),
	audioEncoderDefaults: make(map[AudioCodec]Provider),
}

// preferDefault decides whether a newly registered provider should
// replace the current default for a codec. Pure-Go providers win over
// native ones so exports stay runnable without host libraries.
func preferDefault(current Provider, exists bool, candidate Provider) bool {
	if !exists {
		return true
	}
	return candidate.PureGo() && !current.PureGo()
}

func registerVideoDecoder(codec VideoCodec, provider Provider, factory videoDecoderFactory) {
	r := globalCodecRegistry
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.videoDecoders[codec] == nil {
		r.videoDecoders[codec] = make(map[Provider]videoDecoderFactory)
	}
	r.videoDecoders[codec][provider] = factory
	if current, ok := r.videoDecoderDefaults[codec]; preferDefault(current, ok, provider) {
		r.videoDecoderDefaults[codec] = provider
	}
}

func registerVideoEncoder(codec VideoCodec, provider Provider, factory videoEncoderFactory) {
	r := globalCodecRegistry
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.videoEncoders[codec] == nil {
		r.videoEncoders[codec] = make(map[Provider]videoEncoderFactory)
	}
	r.videoEncoders[codec][provider] = factory
	if current, ok := r.videoEncoderDefaults[codec]; preferDefault(current, ok, provider) {
		r.videoEncoderDefaults[codec] = provider
	}
}

func registerAudioDecoder(codec AudioCodec, provider Provider, factory audioDecoderFactory) {
	r := globalCodecRegistry
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.audioDecoders[codec] == nil {
		r.audioDecoders[codec] = make(map[Provider]audioDecoderFactory)
	}
	r.audioDecoders[codec][provider] = factory
	if current, ok := r.audioDecoderDefaults[codec]; preferDefault(current, ok, provider) {
		r.audioDecoderDefaults[codec] = provider
	}
}

func registerAudioEncoder(codec AudioCodec, provider Provider, factory audioEncoderFactory) {
	r := globalCodecRegistry
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.audioEncoders[codec] == nil {
		r.audioEncoders[codec] = make(map[Provider]audioEncoderFactory)
	}
	r.audioEncoders[codec][provider] = factory
	if current, ok := r.audioEncoderDefaults[codec]; preferDefault(current, ok, provider) {
		r.audioEncoderDefaults[codec] = provider
	}
}

// NewVideoDecoder creates a video decoder for the configured codec.
func NewVideoDecoder(config VideoDecoderConfig) (VideoDecoder, error) {
	r := globalCodecRegistry
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := r.videoDecoders[config.Codec]
	if providers == nil {
		return nil, fmt.Errorf("%w: no decoders for %s", ErrCodecNotSupported, config.Codec)
	}
	p := config.Provider
	if p == ProviderAuto {
		p = r.videoDecoderDefaults[config.Codec]
	}
	factory, ok := providers[p]
	if !ok || !p.Available() {
		return nil, fmt.Errorf("%w: %s for %s decode", ErrProviderNotFound, p, config.Codec)
	}
	return factory(config)
}

// NewVideoEncoder creates a video encoder for the configured codec.
func NewVideoEncoder(config VideoEncoderConfig) (VideoEncoder, error) {
	r := globalCodecRegistry
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := r.videoEncoders[config.Codec]
	if providers == nil {
		return nil, fmt.Errorf("%w: no encoders for %s", ErrCodecNotSupported, config.Codec)
	}
	p := config.Provider
	if p == ProviderAuto {
		p = r.videoEncoderDefaults[config.Codec]
	}
	factory, ok := providers[p]
	if !ok || !p.Available() {
		return nil, fmt.Errorf("%w: %s for %s encode", ErrProviderNotFound, p, config.Codec)
	}
	return factory(config)
}

// NewAudioDecoder creates an audio decoder for the configured codec.
func NewAudioDecoder(config AudioDecoderConfig) (AudioDecoder, error) {
	r := globalCodecRegistry
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := r.audioDecoders[config.Codec]
	if providers == nil {
		return nil, fmt.Errorf("%w: no decoders for %s", ErrCodecNotSupported, config.Codec)
	}
	p := config.Provider
	if p == ProviderAuto {
		p = r.audioDecoderDefaults[config.Codec]
	}
	factory, ok := providers[p]
	if !ok || !p.Available() {
		return nil, fmt.Errorf("%w: %s for %s decode", ErrProviderNotFound, p, config.Codec)
	}
	return factory(config)
}

// NewAudioEncoder creates an audio encoder for the configured codec.
func NewAudioEncoder(config AudioEncoderConfig) (AudioEncoder, error) {
	r := globalCodecRegistry
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := r.audioEncoders[config.Codec]
	if providers == nil {
		return nil, fmt.Errorf("%w: no encoders for %s", ErrCodecNotSupported, config.Codec)
	}
	p := config.Provider
	if p == ProviderAuto {
		p = r.audioEncoderDefaults[config.Codec]
	}
	factory, ok := providers[p]
	if !ok || !p.Available() {
		return nil, fmt.Errorf("%w: %s for %s encode", ErrProviderNotFound, p, config.Codec)
	}
	return factory(config)
}

// VideoDecoderProviders returns available providers for a video codec.
func VideoDecoderProviders(codec VideoCodec) []Provider {
	r := globalCodecRegistry
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.videoDecoders[codec]))
	for p := range r.videoDecoders[codec] {
		if p.Available() {
			result = append(result, p)
		}
	}
	return result
}

// VideoEncoderProviders returns available providers for a video codec.
func VideoEncoderProviders(codec VideoCodec) []Provider {
	r := globalCodecRegistry
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.videoEncoders[codec]))
	for p := range r.videoEncoders[codec] {
		if p.Available() {
			result = append(result, p)
		}
	}
	return result
}

// AudioDecoderProviders returns available providers for an audio codec.
func AudioDecoderProviders(codec AudioCodec) []Provider {
	r := globalCodecRegistry
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.audioDecoders[codec]))
	for p := range r.audioDecoders[codec] {
		if p.Available() {
			result = append(result, p)
		}
	}
	return result
}

// AudioEncoderProviders returns available providers for an audio codec.
func AudioEncoderProviders(codec AudioCodec) []Provider {
	r := globalCodecRegistry
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.audioEncoders[codec]))
	for p := range r.audioEncoders[codec] {
		if p.Available() {
			result = append(result, p)
		}
	}
	return result
}
