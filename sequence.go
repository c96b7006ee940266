package compose

import (
	"errors"
	"fmt"
)

// Sequence is an ordered list of items contributing one logical track
// lineage to a composition. A looping sequence repeats its item list
// until it reaches the composition's target duration.
type Sequence struct {
	items   []Item
	looping bool
}

// NewSequence builds a non-looping sequence. At least one item is required.
func NewSequence(items ...Item) (Sequence, error) {
	if len(items) == 0 {
		return Sequence{}, errors.New("sequence requires at least one item")
	}
	return Sequence{items: append([]Item(nil), items...)}, nil
}

// NewLoopingSequence builds a sequence that repeats its items until the
// composition's target duration is reached. At least one item is required;
// a looping sequence with no items is invalid. Feed-backed items cannot
// loop: a live stream has no second traversal.
func NewLoopingSequence(items ...Item) (Sequence, error) {
	if len(items) == 0 {
		return Sequence{}, errors.New("looping sequence requires at least one item")
	}
	for i, item := range items {
		if item.source.Kind() == SourceKindFeed {
			return Sequence{}, fmt.Errorf("item %d: feed sources cannot loop", i)
		}
	}
	return Sequence{items: append([]Item(nil), items...), looping: true}, nil
}

// Items returns a copy of the item list.
func (s Sequence) Items() []Item {
	return append([]Item(nil), s.items...)
}

// Looping reports whether the sequence repeats to the target duration.
func (s Sequence) Looping() bool { return s.looping }

// scheduledItem is one traversal of an item on a resolved timeline.
// Looping sequences schedule the same item multiple times; each traversal
// is a distinct processed input.
type scheduledItem struct {
	item Item
	// seq and itemIndex locate the declared item; ordinal numbers the
	// traversal among all processed inputs of the export.
	seq       int
	itemIndex int
	ordinal   int
	// offsetUs is where this traversal starts on the sequence timeline.
	offsetUs int64
	// limitUs caps the duration this traversal may contribute; 0 means
	// the item runs to its natural end. A non-zero limit truncates the
	// final repetition of a looping sequence so the cumulative duration
	// lands exactly on the target.
	limitUs int64
}

// durationUs returns the scheduled contribution of this traversal.
func (si scheduledItem) durationUs(effective int64) int64 {
	if si.limitUs > 0 && si.limitUs < effective {
		return si.limitUs
	}
	return effective
}

// timeline is one sequence resolved against the composition target.
type timeline struct {
	index      int
	looping    bool
	items      []scheduledItem
	durationUs int64
}

// resolveTimelines expands every sequence into its scheduled item list.
// itemDurations[s][i] must hold the effective duration of one traversal
// of item i in sequence s (clip length, forced duration, or probed source
// duration). The returned target is the composition duration all looping
// sequences are bounded by.
func resolveTimelines(seqs []Sequence, itemDurations [][]int64) ([]timeline, int64, error) {
	// Target: longest non-looping sequence; if every sequence loops, the
	// longest single traversal, first declared winning ties.
	var targetUs int64
	anyNonLooping := false
	anyLooping := false
	for _, seq := range seqs {
		if seq.looping {
			anyLooping = true
		}
	}
	onePass := make([]int64, len(seqs))
	for s, seq := range seqs {
		var sum int64
		for i := range seq.items {
			d := itemDurations[s][i]
			if d <= 0 {
				if seq.looping {
					return nil, 0, fmt.Errorf("sequence %d: item %d has unknown duration, cannot loop", s, i)
				}
				// An unbounded item leaves this sequence's duration open.
				// Fine on its own (it runs to its natural end), but a
				// looping sequence elsewhere needs an exact target.
				if anyLooping {
					return nil, 0, fmt.Errorf("sequence %d: item %d has unknown duration, target for looping sequences unresolvable", s, i)
				}
			}
			sum += d
		}
		onePass[s] = sum
		if !seq.looping {
			anyNonLooping = true
			if sum > targetUs {
				targetUs = sum
			}
		}
	}
	if !anyNonLooping {
		for _, d := range onePass {
			if d > targetUs {
				targetUs = d
			}
		}
	}

	timelines := make([]timeline, len(seqs))
	ordinal := 0
	for s, seq := range seqs {
		tl := timeline{index: s, looping: seq.looping}
		if !seq.looping {
			var offset int64
			for i, item := range seq.items {
				tl.items = append(tl.items, scheduledItem{
					item:      item,
					seq:       s,
					itemIndex: i,
					ordinal:   ordinal,
					offsetUs:  offset,
				})
				ordinal++
				offset += itemDurations[s][i]
			}
			tl.durationUs = offset
		} else {
			if targetUs <= 0 {
				return nil, 0, fmt.Errorf("sequence %d: cannot resolve looping against zero target", s)
			}
			var offset int64
			for offset < targetUs {
				for i, item := range seq.items {
					remaining := targetUs - offset
					if remaining <= 0 {
						break
					}
					d := itemDurations[s][i]
					si := scheduledItem{
						item:      item,
						seq:       s,
						itemIndex: i,
						ordinal:   ordinal,
						offsetUs:  offset,
					}
					if d >= remaining {
						// Final traversal: cut so the cumulative duration
						// equals the target exactly, never past it.
						si.limitUs = remaining
						d = remaining
					}
					tl.items = append(tl.items, si)
					ordinal++
					offset += d
				}
			}
			tl.durationUs = offset
		}
		timelines[s] = tl
	}
	return timelines, targetUs, nil
}
