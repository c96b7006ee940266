package compose

import (
	"strings"
	"testing"
)

func imageItem(t *testing.T, durationUs int64) Item {
	t.Helper()
	it, err := NewItem(ItemConfig{
		Source:     ImageSource{Image: SolidImage(16, 16, 200, 40, 40)},
		DurationUs: durationUs,
	})
	if err != nil {
		t.Fatalf("NewItem: %v", err)
	}
	return it
}

func fileItem(t *testing.T, path string) Item {
	t.Helper()
	it, err := NewItem(ItemConfig{Source: FileSource{Path: path}})
	if err != nil {
		t.Fatalf("NewItem: %v", err)
	}
	return it
}

func TestNewSequence_RequiresItems(t *testing.T) {
	if _, err := NewSequence(); err == nil {
		t.Error("expected error for empty sequence")
	}
	if _, err := NewLoopingSequence(); err == nil {
		t.Error("expected error for empty looping sequence")
	}
}

func TestNewLoopingSequence_RejectsFeeds(t *testing.T) {
	feed := NewFrameFeed(320, 240)
	it, err := NewItem(ItemConfig{Source: FeedSource{Feed: feed}})
	if err != nil {
		t.Fatalf("NewItem: %v", err)
	}
	_, err = NewLoopingSequence(it)
	if err == nil {
		t.Fatal("expected error for feed item in looping sequence")
	}
	if !strings.Contains(err.Error(), "feed") {
		t.Errorf("error should name the feed, got %q", err)
	}
}

func TestResolveTimelines_NonLoopingOffsets(t *testing.T) {
	a := imageItem(t, 1_000_000)
	b := imageItem(t, 500_000)
	seq, err := NewSequence(a, b)
	if err != nil {
		t.Fatalf("NewSequence: %v", err)
	}

	tls, target, err := resolveTimelines([]Sequence{seq}, [][]int64{{1_000_000, 500_000}})
	if err != nil {
		t.Fatalf("resolveTimelines: %v", err)
	}
	if target != 1_500_000 {
		t.Errorf("target = %d, want 1500000", target)
	}
	tl := tls[0]
	if len(tl.items) != 2 {
		t.Fatalf("scheduled %d items, want 2", len(tl.items))
	}
	if tl.items[0].offsetUs != 0 || tl.items[1].offsetUs != 1_000_000 {
		t.Errorf("offsets = %d, %d, want 0, 1000000", tl.items[0].offsetUs, tl.items[1].offsetUs)
	}
	if tl.items[0].ordinal != 0 || tl.items[1].ordinal != 1 {
		t.Errorf("ordinals = %d, %d, want 0, 1", tl.items[0].ordinal, tl.items[1].ordinal)
	}
	if tl.items[0].limitUs != 0 || tl.items[1].limitUs != 0 {
		t.Error("non-looping traversals should not carry limits")
	}
	if tl.durationUs != 1_500_000 {
		t.Errorf("timeline duration = %d, want 1500000", tl.durationUs)
	}
}

func TestResolveTimelines_LoopingTruncation(t *testing.T) {
	tests := []struct {
		name         string
		itemUs       int64
		targetUs     int64
		wantCount    int
		wantLastCut  int64 // limitUs on the final traversal
		wantDuration int64
	}{
		{"mid item cut", 267_000, 1_000_000, 4, 199_000, 1_000_000},
		{"exactly divisible", 500_000, 1_500_000, 3, 500_000, 1_500_000},
		{"single partial", 2_000_000, 1_500_000, 1, 1_500_000, 1_500_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			long := imageItem(t, tt.targetUs)
			base, err := NewSequence(long)
			if err != nil {
				t.Fatalf("NewSequence: %v", err)
			}
			item := imageItem(t, tt.itemUs)
			loop, err := NewLoopingSequence(item)
			if err != nil {
				t.Fatalf("NewLoopingSequence: %v", err)
			}

			tls, target, err := resolveTimelines(
				[]Sequence{base, loop},
				[][]int64{{tt.targetUs}, {tt.itemUs}},
			)
			if err != nil {
				t.Fatalf("resolveTimelines: %v", err)
			}
			if target != tt.targetUs {
				t.Errorf("target = %d, want %d", target, tt.targetUs)
			}
			tl := tls[1]
			if len(tl.items) != tt.wantCount {
				t.Fatalf("scheduled %d traversals, want %d", len(tl.items), tt.wantCount)
			}
			last := tl.items[len(tl.items)-1]
			if last.limitUs != tt.wantLastCut {
				t.Errorf("last traversal limit = %d, want %d", last.limitUs, tt.wantLastCut)
			}
			if tl.durationUs != tt.wantDuration {
				t.Errorf("timeline duration = %d, want %d", tl.durationUs, tt.wantDuration)
			}
			for i, si := range tl.items[:len(tl.items)-1] {
				if si.limitUs != 0 {
					t.Errorf("traversal %d carries limit %d, want none", i, si.limitUs)
				}
			}
		})
	}
}

func TestResolveTimelines_LoopingMultiItem(t *testing.T) {
	a := imageItem(t, 1_000_000)
	b := imageItem(t, 500_000)
	loop, err := NewLoopingSequence(a, b)
	if err != nil {
		t.Fatalf("NewLoopingSequence: %v", err)
	}
	base, err := NewSequence(imageItem(t, 2_200_000))
	if err != nil {
		t.Fatalf("NewSequence: %v", err)
	}

	tls, _, err := resolveTimelines(
		[]Sequence{base, loop},
		[][]int64{{2_200_000}, {1_000_000, 500_000}},
	)
	if err != nil {
		t.Fatalf("resolveTimelines: %v", err)
	}
	tl := tls[1]
	// a(1.0) b(0.5) a(cut to 0.7); the next b would start at the target
	// and is dropped.
	if len(tl.items) != 3 {
		t.Fatalf("scheduled %d traversals, want 3", len(tl.items))
	}
	if tl.items[2].itemIndex != 0 {
		t.Errorf("final traversal is item %d, want 0", tl.items[2].itemIndex)
	}
	if tl.items[2].limitUs != 700_000 {
		t.Errorf("final traversal limit = %d, want 700000", tl.items[2].limitUs)
	}
	if tl.durationUs != 2_200_000 {
		t.Errorf("timeline duration = %d, want 2200000", tl.durationUs)
	}
}

func TestResolveTimelines_AllLoopingUsesLongestPass(t *testing.T) {
	shorter, err := NewLoopingSequence(imageItem(t, 400_000))
	if err != nil {
		t.Fatalf("NewLoopingSequence: %v", err)
	}
	longer, err := NewLoopingSequence(imageItem(t, 1_000_000))
	if err != nil {
		t.Fatalf("NewLoopingSequence: %v", err)
	}

	tls, target, err := resolveTimelines(
		[]Sequence{shorter, longer},
		[][]int64{{400_000}, {1_000_000}},
	)
	if err != nil {
		t.Fatalf("resolveTimelines: %v", err)
	}
	if target != 1_000_000 {
		t.Errorf("target = %d, want 1000000 (longest single traversal)", target)
	}
	// 400k loops to 1.0s: 400+400+200.
	if len(tls[0].items) != 3 {
		t.Errorf("shorter sequence scheduled %d traversals, want 3", len(tls[0].items))
	}
	if len(tls[1].items) != 1 {
		t.Errorf("longer sequence scheduled %d traversals, want 1", len(tls[1].items))
	}
}

func TestResolveTimelines_OrdinalsSpanSequences(t *testing.T) {
	s0, err := NewSequence(imageItem(t, 1_000_000), imageItem(t, 1_000_000))
	if err != nil {
		t.Fatalf("NewSequence: %v", err)
	}
	s1, err := NewLoopingSequence(imageItem(t, 600_000))
	if err != nil {
		t.Fatalf("NewLoopingSequence: %v", err)
	}

	tls, _, err := resolveTimelines(
		[]Sequence{s0, s1},
		[][]int64{{1_000_000, 1_000_000}, {600_000}},
	)
	if err != nil {
		t.Fatalf("resolveTimelines: %v", err)
	}
	var got []int
	for _, tl := range tls {
		for _, si := range tl.items {
			got = append(got, si.ordinal)
		}
	}
	for i, ord := range got {
		if ord != i {
			t.Fatalf("ordinals = %v, want 0..%d in scheduling order", got, len(got)-1)
		}
	}
}

func TestResolveTimelines_UnknownDurations(t *testing.T) {
	feedItem, err := NewItem(ItemConfig{Source: FeedSource{Feed: NewFrameFeed(320, 240)}})
	if err != nil {
		t.Fatalf("NewItem: %v", err)
	}

	t.Run("non-looping alone is fine", func(t *testing.T) {
		seq, err := NewSequence(feedItem)
		if err != nil {
			t.Fatalf("NewSequence: %v", err)
		}
		if _, _, err := resolveTimelines([]Sequence{seq}, [][]int64{{0}}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("blocks looping elsewhere", func(t *testing.T) {
		open, err := NewSequence(feedItem)
		if err != nil {
			t.Fatalf("NewSequence: %v", err)
		}
		loop, err := NewLoopingSequence(imageItem(t, 500_000))
		if err != nil {
			t.Fatalf("NewLoopingSequence: %v", err)
		}
		if _, _, err := resolveTimelines(
			[]Sequence{open, loop},
			[][]int64{{0}, {500_000}},
		); err == nil {
			t.Error("expected error: looping target unresolvable with unbounded item")
		}
	})
}
