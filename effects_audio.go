package compose

import (
	"errors"
	"fmt"
)

// AudioFormat describes a PCM stream entering or leaving a processor.
type AudioFormat struct {
	SampleRate int
	Channels   int
}

// AudioProcessor transforms interleaved signed 16-bit PCM. Processors
// run in declared order over a track's decoded audio before mixing and
// re-encoding. Configure is called once with the incoming format and
// returns the outgoing one, so processors can change the sample rate or
// channel layout for everything downstream.
type AudioProcessor interface {
	Configure(in AudioFormat) (AudioFormat, error)
	Process(samples []int16) ([]int16, error)
	// Flush drains any buffered tail after the final Process call.
	Flush() []int16
	Name() string
}

// GainProcessor scales amplitude with clipping protection.
type GainProcessor struct {
	gain float64
}

// NewGainProcessor creates a gain stage. Gain must be non-negative;
// 1.0 is unity.
func NewGainProcessor(gain float64) (*GainProcessor, error) {
	if gain < 0 {
		return nil, fmt.Errorf("gain must be non-negative, got %f", gain)
	}
	return &GainProcessor{gain: gain}, nil
}

func (g *GainProcessor) Configure(in AudioFormat) (AudioFormat, error) { return in, nil }

func (g *GainProcessor) Process(samples []int16) ([]int16, error) {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = clampS16(float64(s) * g.gain)
	}
	return out, nil
}

func (g *GainProcessor) Flush() []int16 { return nil }
func (g *GainProcessor) Name() string   { return "gain" }

// ChannelMixer remaps channels through a weight matrix. Row i of the
// matrix produces output channel i as a weighted sum of the input
// channels, so a [[1],[1]] matrix spreads mono across stereo.
type ChannelMixer struct {
	matrix      [][]float64
	inChannels  int
	outChannels int
}

// NewChannelMixer validates the weight matrix and creates the mixer.
func NewChannelMixer(matrix [][]float64) (*ChannelMixer, error) {
	if len(matrix) == 0 {
		return nil, errors.New("channel matrix needs at least one output row")
	}
	cols := len(matrix[0])
	if cols == 0 {
		return nil, errors.New("channel matrix needs at least one input column")
	}
	for _, row := range matrix {
		if len(row) != cols {
			return nil, errors.New("channel matrix rows must have equal length")
		}
	}
	return &ChannelMixer{matrix: matrix, inChannels: cols, outChannels: len(matrix)}, nil
}

// MonoToStereo builds a mixer that duplicates a mono input to both
// stereo channels.
func MonoToStereo() *ChannelMixer {
	m, _ := NewChannelMixer([][]float64{{1}, {1}})
	return m
}

func (c *ChannelMixer) Configure(in AudioFormat) (AudioFormat, error) {
	if in.Channels != c.inChannels {
		return AudioFormat{}, fmt.Errorf("channel matrix expects %d input channels, stream has %d",
			c.inChannels, in.Channels)
	}
	return AudioFormat{SampleRate: in.SampleRate, Channels: c.outChannels}, nil
}

func (c *ChannelMixer) Process(samples []int16) ([]int16, error) {
	if len(samples)%c.inChannels != 0 {
		return nil, errors.New("sample run not aligned to channel count")
	}
	frames := len(samples) / c.inChannels
	out := make([]int16, frames*c.outChannels)
	for f := 0; f < frames; f++ {
		in := samples[f*c.inChannels : (f+1)*c.inChannels]
		for o, row := range c.matrix {
			var acc float64
			for i, w := range row {
				acc += float64(in[i]) * w
			}
			out[f*c.outChannels+o] = clampS16(acc)
		}
	}
	return out, nil
}

func (c *ChannelMixer) Flush() []int16 { return nil }
func (c *ChannelMixer) Name() string   { return "channel-mix" }

// Resampler converts the sample rate by linear interpolation.
type Resampler struct {
	targetRate int
	inRate     int
	channels   int
}

// NewResampler creates a resampling stage to the given rate.
func NewResampler(targetRate int) (*Resampler, error) {
	if targetRate <= 0 {
		return nil, fmt.Errorf("target rate must be positive, got %d", targetRate)
	}
	return &Resampler{targetRate: targetRate}, nil
}

func (r *Resampler) Configure(in AudioFormat) (AudioFormat, error) {
	if in.SampleRate <= 0 || in.Channels <= 0 {
		return AudioFormat{}, errors.New("resampler needs a configured input format")
	}
	r.inRate = in.SampleRate
	r.channels = in.Channels
	return AudioFormat{SampleRate: r.targetRate, Channels: in.Channels}, nil
}

func (r *Resampler) Process(samples []int16) ([]int16, error) {
	if r.inRate == r.targetRate {
		return samples, nil
	}
	return resampleLinear(samples, r.channels, r.inRate, r.targetRate), nil
}

func (r *Resampler) Flush() []int16 { return nil }
func (r *Resampler) Name() string   { return "resample" }

// SpeedProcessor changes playback speed by resampling the time axis:
// 2.0 halves the duration, 0.5 doubles it. Pitch shifts with speed.
type SpeedProcessor struct {
	speed    float64
	channels int
}

// NewSpeedProcessor creates a speed-change stage.
func NewSpeedProcessor(speed float64) (*SpeedProcessor, error) {
	if speed <= 0 {
		return nil, fmt.Errorf("speed must be positive, got %f", speed)
	}
	return &SpeedProcessor{speed: speed}, nil
}

func (p *SpeedProcessor) Configure(in AudioFormat) (AudioFormat, error) {
	if in.Channels <= 0 {
		return AudioFormat{}, errors.New("speed processor needs a configured input format")
	}
	p.channels = in.Channels
	return in, nil
}

func (p *SpeedProcessor) Process(samples []int16) ([]int16, error) {
	if p.speed == 1.0 {
		return samples, nil
	}
	inFrames := len(samples) / p.channels
	outFrames := int(float64(inFrames) / p.speed)
	if outFrames == 0 && inFrames > 0 {
		outFrames = 1
	}
	return resampleFrames(samples, p.channels, inFrames, outFrames), nil
}

func (p *SpeedProcessor) Flush() []int16 { return nil }
func (p *SpeedProcessor) Name() string   { return "speed" }

// resampleLinear converts a run between sample rates.
func resampleLinear(samples []int16, channels, inRate, outRate int) []int16 {
	inFrames := len(samples) / channels
	outFrames := inFrames * outRate / inRate
	return resampleFrames(samples, channels, inFrames, outFrames)
}

// resampleFrames maps inFrames onto outFrames with per-channel linear
// interpolation.
func resampleFrames(samples []int16, channels, inFrames, outFrames int) []int16 {
	if inFrames == 0 || outFrames == 0 {
		return nil
	}
	out := make([]int16, outFrames*channels)
	for f := 0; f < outFrames; f++ {
		srcPos := float64(f) * float64(inFrames-1) / float64(max(outFrames-1, 1))
		i0 := int(srcPos)
		frac := srcPos - float64(i0)
		i1 := i0 + 1
		if i1 >= inFrames {
			i1 = inFrames - 1
		}
		for ch := 0; ch < channels; ch++ {
			s0 := float64(samples[i0*channels+ch])
			s1 := float64(samples[i1*channels+ch])
			out[f*channels+ch] = clampS16(s0 + (s1-s0)*frac)
		}
	}
	return out
}

// clampS16 bounds a value to the int16 range.
func clampS16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
