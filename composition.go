package compose

import "errors"

// CompositionConfig configures a composition.
type CompositionConfig struct {
	// Sequences run in parallel on the export timeline. At least one is
	// required. Each sequence that emits video contributes its own output
	// video track; audio from all sequences is mixed into one track.
	Sequences []Sequence

	// TransmuxVideo copies compressed video samples to the output even
	// when the requested output video codec differs, as long as the
	// container accepts the source codec. Effects and clipping still
	// force a transcode.
	TransmuxVideo bool

	// TransmuxAudio is the audio counterpart of TransmuxVideo.
	TransmuxAudio bool
}

// Composition is a full set of sequences to combine into one export.
type Composition struct {
	sequences     []Sequence
	transmuxVideo bool
	transmuxAudio bool
}

// NewComposition validates the config and builds a Composition.
func NewComposition(cfg CompositionConfig) (*Composition, error) {
	if len(cfg.Sequences) == 0 {
		return nil, errors.New("composition requires at least one sequence")
	}
	return &Composition{
		sequences:     append([]Sequence(nil), cfg.Sequences...),
		transmuxVideo: cfg.TransmuxVideo,
		transmuxAudio: cfg.TransmuxAudio,
	}, nil
}

// CompositionOf wraps items into a single non-looping sequence.
func CompositionOf(items ...Item) (*Composition, error) {
	seq, err := NewSequence(items...)
	if err != nil {
		return nil, err
	}
	return NewComposition(CompositionConfig{Sequences: []Sequence{seq}})
}

// CompositionOfSource is the single-source convenience form: one item,
// no edits.
func CompositionOfSource(src Source) (*Composition, error) {
	item, err := NewItem(ItemConfig{Source: src})
	if err != nil {
		return nil, err
	}
	return CompositionOf(item)
}

// Sequences returns a copy of the sequence list.
func (c *Composition) Sequences() []Sequence {
	return append([]Sequence(nil), c.sequences...)
}
