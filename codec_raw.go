package compose

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Builtin passthrough codecs for raw I420 video and PCM audio. They
// give uncompressed tracks the same two-queue shape as real codecs, so
// the track pipeline never special-cases raw input.

type rawVideoDecoder struct {
	width       int
	height      int
	pending     *Frame
	inputClosed bool
}

func newRawVideoDecoder(config VideoDecoderConfig) (VideoDecoder, error) {
	if config.Width < 2 || config.Height < 2 {
		return nil, fmt.Errorf("raw video decoder needs dimensions, got %dx%d",
			config.Width, config.Height)
	}
	return &rawVideoDecoder{width: config.Width, height: config.Height}, nil
}

func (d *rawVideoDecoder) ReadyForInput() bool {
	return d.pending == nil && !d.inputClosed
}

func (d *rawVideoDecoder) QueueSample(s *Sample) error {
	if d.inputClosed {
		return ErrInputClosed
	}
	if d.pending != nil {
		return ErrCodecBusy
	}
	if len(s.Data) != I420Size(d.width, d.height) {
		return fmt.Errorf("raw sample size %d does not match %dx%d I420",
			len(s.Data), d.width, d.height)
	}
	f := unpackI420(s.Data, d.width, d.height)
	f.PTS = s.PTS
	d.pending = f
	return nil
}

func (d *rawVideoDecoder) SignalEndOfInput() { d.inputClosed = true }

func (d *rawVideoDecoder) NextFrame() (*Frame, error) {
	if d.pending != nil {
		f := d.pending
		d.pending = nil
		return f, nil
	}
	if d.inputClosed {
		return nil, io.EOF
	}
	return nil, nil
}

func (d *rawVideoDecoder) Provider() Provider { return ProviderBuiltin }
func (d *rawVideoDecoder) Close() error       { return nil }

type rawVideoEncoder struct {
	frameDurUs  int64
	pending     *Sample
	inputClosed bool
}

func newRawVideoEncoder(config VideoEncoderConfig) (VideoEncoder, error) {
	fps := config.FPS
	if fps <= 0 {
		fps = DefaultFrameRate
	}
	return &rawVideoEncoder{frameDurUs: 1_000_000 / int64(fps)}, nil
}

func (e *rawVideoEncoder) ReadyForInput() bool {
	return e.pending == nil && !e.inputClosed
}

func (e *rawVideoEncoder) QueueFrame(f *Frame) error {
	if e.inputClosed {
		return ErrInputClosed
	}
	if e.pending != nil {
		return ErrCodecBusy
	}
	e.pending = &Sample{
		Data:     packI420(f),
		PTS:      f.PTS,
		Duration: e.frameDurUs,
		Track:    TrackVideo,
		Key:      true,
	}
	return nil
}

func (e *rawVideoEncoder) SignalEndOfInput() { e.inputClosed = true }

func (e *rawVideoEncoder) NextSample() (*Sample, error) {
	if e.pending != nil {
		s := e.pending
		e.pending = nil
		return s, nil
	}
	if e.inputClosed {
		return nil, io.EOF
	}
	return nil, nil
}

func (e *rawVideoEncoder) Provider() Provider { return ProviderBuiltin }
func (e *rawVideoEncoder) Codec() VideoCodec  { return VideoCodecRaw }
func (e *rawVideoEncoder) Close() error       { return nil }

type pcmDecoder struct {
	sampleRate  int
	channels    int
	pending     *AudioChunk
	inputClosed bool
}

func newPCMDecoder(config AudioDecoderConfig) (AudioDecoder, error) {
	if config.SampleRate <= 0 || config.Channels <= 0 {
		return nil, fmt.Errorf("pcm decoder needs a stream format, got %dHz %dch",
			config.SampleRate, config.Channels)
	}
	return &pcmDecoder{sampleRate: config.SampleRate, channels: config.Channels}, nil
}

func (d *pcmDecoder) ReadyForInput() bool {
	return d.pending == nil && !d.inputClosed
}

func (d *pcmDecoder) QueueSample(s *Sample) error {
	if d.inputClosed {
		return ErrInputClosed
	}
	if d.pending != nil {
		return ErrCodecBusy
	}
	if len(s.Data)%2 != 0 {
		return fmt.Errorf("pcm sample has odd byte length %d", len(s.Data))
	}
	data := make([]int16, len(s.Data)/2)
	for i := range data {
		data[i] = int16(binary.LittleEndian.Uint16(s.Data[i*2:]))
	}
	d.pending = &AudioChunk{
		Data:       data,
		SampleRate: d.sampleRate,
		Channels:   d.channels,
		PTS:        s.PTS,
	}
	return nil
}

func (d *pcmDecoder) SignalEndOfInput() { d.inputClosed = true }

func (d *pcmDecoder) NextChunk() (*AudioChunk, error) {
	if d.pending != nil {
		c := d.pending
		d.pending = nil
		return c, nil
	}
	if d.inputClosed {
		return nil, io.EOF
	}
	return nil, nil
}

func (d *pcmDecoder) Provider() Provider { return ProviderBuiltin }
func (d *pcmDecoder) Close() error       { return nil }

type pcmEncoder struct {
	pending     *Sample
	inputClosed bool
}

func newPCMEncoder(config AudioEncoderConfig) (AudioEncoder, error) {
	return &pcmEncoder{}, nil
}

func (e *pcmEncoder) ReadyForInput() bool {
	return e.pending == nil && !e.inputClosed
}

func (e *pcmEncoder) QueueChunk(c *AudioChunk) error {
	if e.inputClosed {
		return ErrInputClosed
	}
	if e.pending != nil {
		return ErrCodecBusy
	}
	data := make([]byte, len(c.Data)*2)
	for i, v := range c.Data {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	e.pending = &Sample{
		Data:     data,
		PTS:      c.PTS,
		Duration: c.DurationUs(),
		Track:    TrackAudio,
		Key:      true,
	}
	return nil
}

func (e *pcmEncoder) SignalEndOfInput() { e.inputClosed = true }

func (e *pcmEncoder) NextSample() (*Sample, error) {
	if e.pending != nil {
		s := e.pending
		e.pending = nil
		return s, nil
	}
	if e.inputClosed {
		return nil, io.EOF
	}
	return nil, nil
}

func (e *pcmEncoder) Provider() Provider { return ProviderBuiltin }
func (e *pcmEncoder) Codec() AudioCodec  { return AudioCodecPCM }
func (e *pcmEncoder) Close() error       { return nil }

func init() {
	setProviderAvailable(ProviderBuiltin)
	registerVideoDecoder(VideoCodecRaw, ProviderBuiltin, newRawVideoDecoder)
	registerVideoEncoder(VideoCodecRaw, ProviderBuiltin, newRawVideoEncoder)
	registerAudioDecoder(AudioCodecPCM, ProviderBuiltin, newPCMDecoder)
	registerAudioEncoder(AudioCodecPCM, ProviderBuiltin, newPCMEncoder)
}
