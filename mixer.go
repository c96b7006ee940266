package compose

import (
	"fmt"
	"math"
	"sync"
)

// ClipMode selects how the mixer bounds summed samples that exceed the
// 16-bit range.
type ClipMode int

const (
	// ClipHard truncates overflowing samples at the int16 limits.
	ClipHard ClipMode = iota
	// ClipSoft compresses peaks with a tanh curve instead of truncating.
	ClipSoft
)

func (c ClipMode) String() string {
	switch c {
	case ClipHard:
		return "hard"
	case ClipSoft:
		return "soft"
	default:
		return "unknown"
	}
}

// mixContributor buffers one sequence's PCM ahead of the commit point.
type mixContributor struct {
	buf   []int16
	ended bool
}

// AudioMixer sums the audio of concurrently running sequences into a
// single stream. All contributors must be registered before the first
// push and must deliver PCM in the mixer's rate and channel layout.
//
// Mixed audio becomes readable once every live contributor has covered
// a region; contributors that have ended contribute silence and no
// longer hold the mix back. Summing never changes the channel count.
type AudioMixer struct {
	mu         sync.Mutex
	sampleRate int
	channels   int
	clip       ClipMode

	contributors []*mixContributor
	started      bool
	emitted      int64 // frames emitted so far
}

// NewAudioMixer creates a mixer for the given output format.
func NewAudioMixer(sampleRate, channels int, clip ClipMode) (*AudioMixer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("mixer needs a valid format, got %dHz %dch", sampleRate, channels)
	}
	return &AudioMixer{sampleRate: sampleRate, channels: channels, clip: clip}, nil
}

// AddContributor registers a source stream and returns its id.
func (m *AudioMixer) AddContributor() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return 0, fmt.Errorf("cannot add contributor after mixing started")
	}
	m.contributors = append(m.contributors, &mixContributor{})
	return len(m.contributors) - 1, nil
}

// PushChunk appends a contributor's PCM. Gaps in the contributor's
// timeline are filled with silence based on the chunk timestamp.
func (m *AudioMixer) PushChunk(id int, c *AudioChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	con, err := m.contributorLocked(id)
	if err != nil {
		return err
	}
	if con.ended {
		return fmt.Errorf("push on ended contributor %d", id)
	}
	if c.SampleRate != m.sampleRate || c.Channels != m.channels {
		return fmt.Errorf("contributor %d format %dHz %dch does not match mix %dHz %dch",
			id, c.SampleRate, c.Channels, m.sampleRate, m.channels)
	}
	m.started = true

	data := c.Data
	have := m.emitted + int64(len(con.buf)/m.channels)
	at := c.PTS * int64(m.sampleRate) / 1_000_000
	if at > have {
		con.buf = append(con.buf, make([]int16, (at-have)*int64(m.channels))...)
	} else if at < have {
		// Overlapping region was already committed or buffered; keep
		// only the new tail.
		skip := (have - at) * int64(m.channels)
		if skip >= int64(len(data)) {
			return nil
		}
		data = data[skip:]
	}
	con.buf = append(con.buf, data...)
	return nil
}

// EndContributor marks a stream as complete. From here on it counts as
// silence.
func (m *AudioMixer) EndContributor(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	con, err := m.contributorLocked(id)
	if err != nil {
		return err
	}
	con.ended = true
	return nil
}

// ReadMixed returns the next region where the mix is decided, or nil
// when more input is needed. The returned chunk carries the mix-stream
// timestamp.
func (m *AudioMixer) ReadMixed() *AudioChunk {
	m.mu.Lock()
	defer m.mu.Unlock()

	frames := m.commitableLocked()
	if frames == 0 {
		return nil
	}
	n := int(frames) * m.channels
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		var acc int32
		for _, con := range m.contributors {
			if i < len(con.buf) {
				acc += int32(con.buf[i])
			}
		}
		out[i] = m.clipSample(acc)
	}
	for _, con := range m.contributors {
		if n >= len(con.buf) {
			con.buf = con.buf[:0]
		} else {
			con.buf = con.buf[n:]
		}
	}

	chunk := &AudioChunk{
		Data:       out,
		SampleRate: m.sampleRate,
		Channels:   m.channels,
		PTS:        m.emitted * 1_000_000 / int64(m.sampleRate),
	}
	m.emitted += frames
	return chunk
}

// Done reports whether every contributor has ended and all buffered
// audio has been read.
func (m *AudioMixer) Done() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, con := range m.contributors {
		if !con.ended || len(con.buf) > 0 {
			return false
		}
	}
	return true
}

// commitableLocked returns how many frames can be mixed now: the
// shortest live buffer, or the longest remaining tail when everyone
// has ended.
func (m *AudioMixer) commitableLocked() int64 {
	live := false
	minLive := int64(math.MaxInt64)
	maxTail := int64(0)
	for _, con := range m.contributors {
		frames := int64(len(con.buf) / m.channels)
		if con.ended {
			if frames > maxTail {
				maxTail = frames
			}
			continue
		}
		live = true
		if frames < minLive {
			minLive = frames
		}
	}
	if live {
		return minLive
	}
	return maxTail
}

func (m *AudioMixer) contributorLocked(id int) (*mixContributor, error) {
	if id < 0 || id >= len(m.contributors) {
		return nil, fmt.Errorf("unknown contributor %d", id)
	}
	return m.contributors[id], nil
}

func (m *AudioMixer) clipSample(v int32) int16 {
	switch m.clip {
	case ClipSoft:
		if v > 32767 || v < -32768 {
			return int16(32767 * math.Tanh(float64(v)/32767))
		}
		return int16(v)
	default:
		if v > 32767 {
			return 32767
		}
		if v < -32768 {
			return -32768
		}
		return int16(v)
	}
}
