package compose

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"time"
)

// PatternType selects the synthetic video pattern.
type PatternType int

const (
	PatternColorBars    PatternType = iota // SMPTE-style color bars
	PatternGradient                        // Horizontal luma gradient
	PatternCheckerboard                    // Checkerboard
	PatternSolidColor                      // Single color
	PatternNoise                           // Per-frame random noise
	PatternMovingBox                       // Box orbiting the center
)

func (p PatternType) String() string {
	switch p {
	case PatternColorBars:
		return "ColorBars"
	case PatternGradient:
		return "Gradient"
	case PatternCheckerboard:
		return "Checkerboard"
	case PatternSolidColor:
		return "SolidColor"
	case PatternNoise:
		return "Noise"
	case PatternMovingBox:
		return "MovingBox"
	default:
		return "Unknown"
	}
}

// PatternConfig configures a synthetic video source.
type PatternConfig struct {
	Width     int         // default 1280
	Height    int         // default 720
	FrameRate int         // default 30
	Pattern   PatternType // default ColorBars

	// For SolidColor.
	SolidR, SolidG, SolidB uint8

	// For Checkerboard; square edge in pixels, default 32.
	CheckerSize int

	// Seed for the Noise pattern. Zero picks a fixed seed so fixtures
	// stay reproducible.
	Seed uint64
}

func (cfg PatternConfig) withDefaults() PatternConfig {
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.Height <= 0 {
		cfg.Height = 720
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if cfg.CheckerSize <= 0 {
		cfg.CheckerSize = 32
	}
	if cfg.Seed == 0 {
		cfg.Seed = 0x9e3779b97f4a7c15
	}
	return cfg
}

// PatternRenderer draws synthetic I420 frames. Frames are rendered on
// demand by index, so the same renderer serves offline fixture writing
// and live feeds alike.
type PatternRenderer struct {
	cfg PatternConfig
	rng uint64
}

// NewPatternRenderer creates a renderer with defaults applied.
func NewPatternRenderer(cfg PatternConfig) *PatternRenderer {
	cfg = cfg.withDefaults()
	return &PatternRenderer{cfg: cfg, rng: cfg.Seed}
}

// Config returns the effective configuration.
func (r *PatternRenderer) Config() PatternConfig { return r.cfg }

// Render allocates and draws frame n. The frame's PTS is n places into
// the renderer's frame grid.
func (r *PatternRenderer) Render(n int) *Frame {
	f := NewFrame(r.cfg.Width, r.cfg.Height)
	r.RenderInto(f, n)
	return f
}

// RenderInto draws frame n into an existing frame of matching size.
func (r *PatternRenderer) RenderInto(f *Frame, n int) {
	switch r.cfg.Pattern {
	case PatternGradient:
		r.drawGradient(f)
	case PatternCheckerboard:
		r.drawCheckerboard(f)
	case PatternSolidColor:
		r.drawSolid(f, r.cfg.SolidR, r.cfg.SolidG, r.cfg.SolidB)
	case PatternNoise:
		r.drawNoise(f)
	case PatternMovingBox:
		r.drawMovingBox(f, n)
	default:
		r.drawColorBars(f)
	}
	f.PTS = framePTS(n, r.cfg.FrameRate)
}

var colorBarsRGB = [8][3]uint8{
	{192, 192, 192}, // white (75%)
	{192, 192, 0},   // yellow
	{0, 192, 192},   // cyan
	{0, 192, 0},     // green
	{192, 0, 192},   // magenta
	{192, 0, 0},     // red
	{0, 0, 192},     // blue
	{16, 16, 16},    // black
}

func (r *PatternRenderer) drawColorBars(f *Frame) {
	w, h := f.Width, f.Height
	barWidth := w / 8
	if barWidth == 0 {
		barWidth = 1
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			bar := min(x/barWidth, 7)
			rgb := colorBarsRGB[bar]
			yv, u, v := rgbToYUV(rgb[0], rgb[1], rgb[2])
			f.Data[0][y*f.Stride[0]+x] = yv
			if x%2 == 0 && y%2 == 0 {
				f.Data[1][(y/2)*f.Stride[1]+x/2] = u
				f.Data[2][(y/2)*f.Stride[2]+x/2] = v
			}
		}
	}
}

func (r *PatternRenderer) drawGradient(f *Frame) {
	w, h := f.Width, f.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.Data[0][y*f.Stride[0]+x] = uint8((x * 255) / w)
		}
	}
	neutralChroma(f)
}

func (r *PatternRenderer) drawCheckerboard(f *Frame) {
	size := r.cfg.CheckerSize
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			yv := uint8(16)
			if ((x/size)+(y/size))%2 == 0 {
				yv = 235
			}
			f.Data[0][y*f.Stride[0]+x] = yv
		}
	}
	neutralChroma(f)
}

func (r *PatternRenderer) drawSolid(f *Frame, red, green, blue uint8) {
	yv, u, v := rgbToYUV(red, green, blue)
	fillPlane(f.Data[0], yv)
	fillPlane(f.Data[1], u)
	fillPlane(f.Data[2], v)
}

func (r *PatternRenderer) drawNoise(f *Frame) {
	for i := range f.Data[0] {
		r.rng ^= r.rng << 13
		r.rng ^= r.rng >> 7
		r.rng ^= r.rng << 17
		f.Data[0][i] = uint8(r.rng)
	}
	neutralChroma(f)
}

func (r *PatternRenderer) drawMovingBox(f *Frame, n int) {
	fillPlane(f.Data[0], 16)
	neutralChroma(f)

	w, h := f.Width, f.Height
	boxSize := min(w, h) / 4
	if boxSize < 2 {
		boxSize = 2
	}
	radius := float64(min(w, h)) / 4
	angle := float64(n) * 0.05
	boxX := w/2 + int(radius*math.Cos(angle)) - boxSize/2
	boxY := h/2 + int(radius*math.Sin(angle)) - boxSize/2

	for y := max(boxY, 0); y < boxY+boxSize && y < h; y++ {
		for x := max(boxX, 0); x < boxX+boxSize && x < w; x++ {
			f.Data[0][y*f.Stride[0]+x] = 235
		}
	}
}

func neutralChroma(f *Frame) {
	fillPlane(f.Data[1], 128)
	fillPlane(f.Data[2], 128)
}

func fillPlane(p []byte, v byte) {
	for i := range p {
		p[i] = v
	}
}

// StreamPattern renders count frames into a feed, honoring its
// single-slot backpressure, and signals end-of-input when done. It is
// meant for one-shot feeding; live producers should pace themselves
// against their own clock instead.
func StreamPattern(ctx context.Context, feed *FrameFeed, cfg PatternConfig, count int) error {
	r := NewPatternRenderer(cfg)
	for n := 0; n < count; n++ {
		f := r.Render(n)
		for !feed.QueueFrame(f) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Microsecond):
			}
		}
	}
	feed.SignalEndOfInput()
	return nil
}

// ToneType selects the synthetic audio waveform.
type ToneType int

const (
	ToneSine ToneType = iota
	ToneSilence
	ToneSquare
	ToneNoise
)

func (t ToneType) String() string {
	switch t {
	case ToneSilence:
		return "Silence"
	case ToneSine:
		return "Sine"
	case ToneSquare:
		return "Square"
	case ToneNoise:
		return "Noise"
	default:
		return "Unknown"
	}
}

// ToneConfig configures a synthetic audio source.
type ToneConfig struct {
	SampleRate int      // default 48000
	Channels   int      // default 2
	Tone       ToneType // default Sine
	Frequency  float64  // Hz, default 440
	Amplitude  float64  // 0..1, default 0.5
	Seed       uint64   // for Noise, zero picks a fixed seed
}

func (cfg ToneConfig) withDefaults() ToneConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 2
	}
	if cfg.Frequency <= 0 {
		cfg.Frequency = 440
	}
	if cfg.Amplitude <= 0 {
		cfg.Amplitude = 0.5
	}
	if cfg.Amplitude > 1 {
		cfg.Amplitude = 1
	}
	if cfg.Seed == 0 {
		cfg.Seed = 0x9e3779b97f4a7c15
	}
	return cfg
}

// ToneGenerator produces phase-continuous S16 audio. Chunks carry
// running timestamps, so consecutive calls form one gapless stream.
type ToneGenerator struct {
	cfg     ToneConfig
	phase   float64
	emitted int64
	rng     uint64
}

// NewToneGenerator creates a generator with defaults applied.
func NewToneGenerator(cfg ToneConfig) *ToneGenerator {
	cfg = cfg.withDefaults()
	return &ToneGenerator{cfg: cfg, rng: cfg.Seed}
}

// Config returns the effective configuration.
func (g *ToneGenerator) Config() ToneConfig { return g.cfg }

// NextChunk produces the next frames samples of the waveform.
func (g *ToneGenerator) NextChunk(frames int) *AudioChunk {
	cfg := g.cfg
	c := &AudioChunk{
		Data:       make([]int16, frames*cfg.Channels),
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		PTS:        g.emitted * 1e6 / int64(cfg.SampleRate),
	}
	inc := 2 * math.Pi * cfg.Frequency / float64(cfg.SampleRate)
	amp := cfg.Amplitude * 32767

	for i := 0; i < frames; i++ {
		var s int16
		switch cfg.Tone {
		case ToneSine:
			s = int16(amp * math.Sin(g.phase))
		case ToneSquare:
			if math.Sin(g.phase) >= 0 {
				s = int16(amp)
			} else {
				s = int16(-amp)
			}
		case ToneNoise:
			g.rng ^= g.rng << 13
			g.rng ^= g.rng >> 7
			g.rng ^= g.rng << 17
			s = int16(float64(int16(g.rng)) * cfg.Amplitude)
		}
		g.phase += inc
		if g.phase > 2*math.Pi {
			g.phase -= 2 * math.Pi
		}
		for ch := 0; ch < cfg.Channels; ch++ {
			c.Data[i*cfg.Channels+ch] = s
		}
	}
	g.emitted += int64(frames)
	return c
}

// SolidImage returns a single-color RGBA image, handy as an ImageSource.
func SolidImage(width, height int, r, g, b uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	c := color.RGBA{R: r, G: g, B: b, A: 255}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// WriteToneWAV renders a tone of the given duration into a WAV file.
func WriteToneWAV(path string, cfg ToneConfig, durationUs int64) error {
	return writeFixture(path, ContainerWAV, nil, &cfg, durationUs)
}

// WritePatternCPX renders a pattern clip, and optionally a tone, into a
// CPX file with raw video and PCM audio. No codecs are involved, which
// keeps fixtures byte-reproducible.
func WritePatternCPX(path string, video PatternConfig, audio *ToneConfig, durationUs int64) error {
	return writeFixture(path, ContainerCPX, &video, audio, durationUs)
}

func writeFixture(path string, format ContainerFormat, video *PatternConfig, audio *ToneConfig, durationUs int64) error {
	if durationUs <= 0 {
		return fmt.Errorf("fixture duration must be positive, got %dus", durationUs)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	mux := NewMuxer(newSink(format, f))

	var renderer *PatternRenderer
	var tone *ToneGenerator
	videoTrack, audioTrack := -1, -1
	if video != nil {
		renderer = NewPatternRenderer(*video)
		cfg := renderer.Config()
		videoTrack, err = mux.AddTrack(TrackInfo{
			Type:       TrackVideo,
			VideoCodec: VideoCodecRaw,
			Width:      cfg.Width,
			Height:     cfg.Height,
			FrameRate:  cfg.FrameRate,
			DurationUs: durationUs,
		})
		if err != nil {
			return err
		}
	}
	if audio != nil {
		tone = NewToneGenerator(*audio)
		cfg := tone.Config()
		audioTrack, err = mux.AddTrack(TrackInfo{
			Type:       TrackAudio,
			AudioCodec: AudioCodecPCM,
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
			DurationUs: durationUs,
		})
		if err != nil {
			return err
		}
	}

	frameCount := 0
	if renderer != nil {
		frameCount = frameCountFor(durationUs, renderer.Config().FrameRate)
	}
	var audioFrames, chunkFrames int64
	if tone != nil {
		audioFrames = durationUs * int64(tone.Config().SampleRate) / 1e6
		chunkFrames = int64(tone.Config().SampleRate / 50) // 20ms
		if chunkFrames < 1 {
			chunkFrames = 1
		}
	}

	// Interleave by presentation time so the muxer never buffers more
	// than a couple of samples.
	nextFrame := 0
	var audioDone int64
	for nextFrame < frameCount || audioDone < audioFrames {
		videoPTS := int64(math.MaxInt64)
		if nextFrame < frameCount {
			videoPTS = framePTS(nextFrame, renderer.Config().FrameRate)
		}
		audioPTS := int64(math.MaxInt64)
		if audioDone < audioFrames {
			audioPTS = audioDone * 1e6 / int64(tone.Config().SampleRate)
		}

		if videoPTS <= audioPTS {
			fr := renderer.Render(nextFrame)
			s := &Sample{
				Data:     packI420(fr),
				PTS:      fr.PTS,
				Duration: 1e6 / int64(renderer.Config().FrameRate),
				Track:    TrackVideo,
				Key:      true,
			}
			if err := mux.WriteSample(videoTrack, s); err != nil {
				return err
			}
			nextFrame++
			if nextFrame == frameCount {
				if err := mux.EndTrack(videoTrack); err != nil {
					return err
				}
			}
			continue
		}

		n := min(chunkFrames, audioFrames-audioDone)
		c := tone.NextChunk(int(n))
		data := make([]byte, len(c.Data)*2)
		for i, v := range c.Data {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
		}
		s := &Sample{
			Data:     data,
			PTS:      c.PTS,
			Duration: c.DurationUs(),
			Track:    TrackAudio,
			Key:      true,
		}
		if err := mux.WriteSample(audioTrack, s); err != nil {
			return err
		}
		audioDone += n
		if audioDone == audioFrames {
			if err := mux.EndTrack(audioTrack); err != nil {
				return err
			}
		}
	}

	if err := mux.Finalize(); err != nil {
		return err
	}
	return f.Close()
}
