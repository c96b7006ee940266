package compose

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pion/opus"
)

// opusAudioDecoder decodes Opus frames with the pure-Go pion decoder.
// Decoding is synchronous, one frame per queued sample. There is no
// matching encoder: exports that request Opus output fail with an
// unsupported-format error unless fallback is allowed.
type opusAudioDecoder struct {
	dec         opus.Decoder
	channels    int
	out         []byte
	pending     *AudioChunk
	inputClosed bool
}

func newOpusAudioDecoder(config AudioDecoderConfig) (AudioDecoder, error) {
	channels := config.Channels
	if channels <= 0 {
		channels = 1
	}
	if channels > 2 {
		return nil, fmt.Errorf("opus decoder supports mono or stereo, got %d channels", channels)
	}
	return &opusAudioDecoder{
		dec:      opus.NewDecoder(),
		channels: channels,
		// 1920 samples per channel covers the longest Opus frame.
		out: make([]byte, 1920*2*2),
	}, nil
}

func (d *opusAudioDecoder) ReadyForInput() bool {
	return d.pending == nil && !d.inputClosed
}

func (d *opusAudioDecoder) QueueSample(s *Sample) error {
	if d.inputClosed {
		return ErrInputClosed
	}
	if d.pending != nil {
		return ErrCodecBusy
	}
	if len(s.Data) == 0 {
		return fmt.Errorf("empty opus frame")
	}

	bandwidth, isStereo, err := d.dec.Decode(s.Data, d.out)
	if err != nil {
		return fmt.Errorf("opus decode failed: %w", err)
	}

	rate := bandwidth.SampleRate()
	if rate <= 0 {
		rate = 48000
	}
	channels := 1
	if isStereo {
		channels = 2
	}

	// Standard 20ms frame; pion/opus does not report sample counts.
	perChannel := rate / 50
	total := perChannel * channels
	if total*2 > len(d.out) {
		total = len(d.out) / 2
	}

	data := make([]int16, total)
	for i := range data {
		data[i] = int16(binary.LittleEndian.Uint16(d.out[i*2:]))
	}
	d.pending = &AudioChunk{
		Data:       data,
		SampleRate: rate,
		Channels:   channels,
		PTS:        s.PTS,
	}
	return nil
}

func (d *opusAudioDecoder) SignalEndOfInput() { d.inputClosed = true }

func (d *opusAudioDecoder) NextChunk() (*AudioChunk, error) {
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

func (d *opusAudioDecoder) Provider() Provider { return ProviderPion }
func (d *opusAudioDecoder) Close() error       { return nil }

func init() {
	setProviderAvailable(ProviderPion)
	registerAudioDecoder(AudioCodecOpus, ProviderPion, newOpusAudioDecoder)
}
