package compose

import (
	"sort"
	"sync"
)

// ProcessedInput records how one scheduled item traversal was handled.
// A looping sequence produces one entry per traversal of each item.
type ProcessedInput struct {
	Sequence int // sequence index in the composition
	Item     int // item index within the sequence
	Ordinal  int // traversal number in schedule order

	VideoMode  CodecMode
	AudioMode  CodecMode
	VideoCodec VideoCodec
	AudioCodec AudioCodec

	VideoFrames  uint64
	AudioSamples uint64
	DurationUs   int64

	// FallbackApplied is set when the requested output codec was not
	// encodable and a permitted substitute was used instead.
	FallbackApplied bool
}

// ExportResult is the immutable outcome of a completed export. It is
// assembled once, when the export reaches a terminal state, and never
// mutated afterwards.
type ExportResult struct {
	OutputPath string
	Format     ContainerFormat

	// DurationMs is the presentation time of the last sample written.
	DurationMs int64

	VideoTracks  int
	AudioTracks  int
	VideoFrames  uint64
	AudioSamples uint64
	BytesWritten int64

	// SampleRate and Channels describe the output audio track, zero
	// when the export carries no audio.
	SampleRate int
	Channels   int

	ProcessedInputs []ProcessedInput
}

// FallbackApplied reports whether any input needed a codec substitute.
func (r *ExportResult) FallbackApplied() bool {
	for _, pi := range r.ProcessedInputs {
		if pi.FallbackApplied {
			return true
		}
	}
	return false
}

// resultRecorder accumulates per-input records while track pipelines
// run concurrently. Each item runner reports exactly once, after its
// own counters stop moving, so entries are complete when added.
type resultRecorder struct {
	mu     sync.Mutex
	inputs []ProcessedInput
}

func (r *resultRecorder) add(pi ProcessedInput) {
	r.mu.Lock()
	r.inputs = append(r.inputs, pi)
	r.mu.Unlock()
}

// freeze snapshots the recorder into a final result. Entries are
// ordered by schedule position so concurrent completion order does not
// leak into the result.
func (r *resultRecorder) freeze(outputPath string, format ContainerFormat,
	durationUs, bytes int64, videoTracks int, audio *audioPlan) *ExportResult {

	r.mu.Lock()
	inputs := make([]ProcessedInput, len(r.inputs))
	copy(inputs, r.inputs)
	r.mu.Unlock()

	sort.Slice(inputs, func(i, j int) bool {
		if inputs[i].Sequence != inputs[j].Sequence {
			return inputs[i].Sequence < inputs[j].Sequence
		}
		return inputs[i].Ordinal < inputs[j].Ordinal
	})

	res := &ExportResult{
		OutputPath:      outputPath,
		Format:          format,
		VideoTracks:     videoTracks,
		BytesWritten:    bytes,
		ProcessedInputs: inputs,
	}
	if audio != nil {
		res.AudioTracks = 1
		res.SampleRate = audio.sampleRate
		res.Channels = audio.channels
	}
	if durationUs > 0 {
		res.DurationMs = durationUs / 1000
	}
	for _, pi := range inputs {
		res.VideoFrames += pi.VideoFrames
		res.AudioSamples += pi.AudioSamples
	}
	return res
}
