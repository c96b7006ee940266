package compose

import (
	"fmt"
	"sync"
)

// MuxerSink writes samples for registered tracks into a container.
// Implementations are not safe for concurrent use; the Muxer serializes
// access.
type MuxerSink interface {
	// AddTrack registers a track and returns its index. All tracks must
	// be added before the first WriteSample.
	AddTrack(info TrackInfo) (int, error)

	// WriteSample appends one sample to a track.
	WriteSample(track int, s *Sample) error

	// Finalize patches headers and flushes. No writes may follow.
	Finalize() error
}

// muxTrack tracks interleaving state for one registered track.
type muxTrack struct {
	id      int
	info    TrackInfo
	pending []*Sample
	ended   bool
	lastPTS int64
	written uint64
}

// Muxer interleaves per-track sample streams into a sink in global
// presentation order. Samples buffer per track until every live track
// has output available, which keeps the emitted order deterministic
// when producers run on different goroutines.
type Muxer struct {
	mu        sync.Mutex
	sink      MuxerSink
	tracks    []*muxTrack
	started   bool
	finalized bool
	lastPTSUs int64
}

// NewMuxer creates a muxer over a container sink.
func NewMuxer(sink MuxerSink) *Muxer {
	return &Muxer{sink: sink, lastPTSUs: -1}
}

// AddTrack registers a track with the sink.
func (m *Muxer) AddTrack(info TrackInfo) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalized {
		return 0, ErrMuxerFinalized
	}
	if m.started {
		return 0, fmt.Errorf("cannot add track after first sample")
	}
	id, err := m.sink.AddTrack(info)
	if err != nil {
		return 0, err
	}
	m.tracks = append(m.tracks, &muxTrack{id: id, info: info, lastPTS: -1})
	return len(m.tracks) - 1, nil
}

// WriteSample queues one sample for a track and drains whatever has
// become writable. Per-track timestamps must be non-decreasing.
func (m *Muxer) WriteSample(track int, s *Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalized {
		return ErrMuxerFinalized
	}
	t, err := m.trackLocked(track)
	if err != nil {
		return err
	}
	if t.ended {
		return muxingError(fmt.Errorf("sample on ended track %d", track))
	}
	if s.PTS < t.lastPTS {
		return muxingError(fmt.Errorf("track %d timestamp went backwards: %dus after %dus",
			track, s.PTS, t.lastPTS))
	}
	t.lastPTS = s.PTS
	t.pending = append(t.pending, s)
	m.started = true
	return m.drainLocked(false)
}

// EndTrack marks a track as complete so it no longer holds back
// interleaving.
func (m *Muxer) EndTrack(track int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalized {
		return ErrMuxerFinalized
	}
	t, err := m.trackLocked(track)
	if err != nil {
		return err
	}
	t.ended = true
	return m.drainLocked(false)
}

// Finalize drains all buffered samples and finalizes the sink.
func (m *Muxer) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalized {
		return ErrMuxerFinalized
	}
	if err := m.drainLocked(true); err != nil {
		return err
	}
	m.finalized = true
	if err := m.sink.Finalize(); err != nil {
		return muxingError(err)
	}
	return nil
}

// LastPTSUs returns the presentation time of the last sample written to
// the sink, or -1 when nothing has been written.
func (m *Muxer) LastPTSUs() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPTSUs
}

// SamplesWritten returns the number of samples written for a track.
func (m *Muxer) SamplesWritten(track int) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if track < 0 || track >= len(m.tracks) {
		return 0
	}
	return m.tracks[track].written
}

func (m *Muxer) trackLocked(track int) (*muxTrack, error) {
	if track < 0 || track >= len(m.tracks) {
		return nil, fmt.Errorf("unknown track %d", track)
	}
	return m.tracks[track], nil
}

// drainLocked writes samples in ascending timestamp order for as long
// as the order is decided: every track either has a sample buffered or
// has ended. With force set, tracks that are merely empty no longer
// block, which is only safe once producers have stopped.
func (m *Muxer) drainLocked(force bool) error {
	for {
		best := -1
		for i, t := range m.tracks {
			if len(t.pending) == 0 {
				if t.ended || force {
					continue
				}
				return nil // order not decided yet
			}
			if best < 0 || t.pending[0].PTS < m.tracks[best].pending[0].PTS {
				best = i
			}
		}
		if best < 0 {
			return nil
		}

		t := m.tracks[best]
		s := t.pending[0]
		t.pending = t.pending[1:]
		if err := m.sink.WriteSample(t.id, s); err != nil {
			return muxingError(err)
		}
		t.written++
		// A video track's duration runs to its last frame's timestamp;
		// an audio sample covers time, so it counts to its end.
		end := s.PTS
		if t.info.Type == TrackAudio {
			end += s.Duration
		}
		if end > m.lastPTSUs {
			m.lastPTSUs = end
		}
	}
}
