package compose

import "testing"

func TestNewItemValidation(t *testing.T) {
	img := ImageSource{Image: SolidImage(16, 16, 0, 0, 0)}
	feed := FeedSource{Feed: NewFrameFeed(32, 24)}

	tests := []struct {
		name string
		cfg  ItemConfig
	}{
		{"no source", ItemConfig{}},
		{"negative clip start", ItemConfig{Source: FileSource{Path: "x"}, ClipStartUs: -1}},
		{"negative clip end", ItemConfig{Source: FileSource{Path: "x"}, ClipEndUs: -1}},
		{"clip end before start", ItemConfig{Source: FileSource{Path: "x"}, ClipStartUs: 200, ClipEndUs: 100}},
		{"clip end equals start", ItemConfig{Source: FileSource{Path: "x"}, ClipStartUs: 100, ClipEndUs: 100}},
		{"negative duration", ItemConfig{Source: FileSource{Path: "x"}, DurationUs: -1}},
		{"both tracks removed", ItemConfig{Source: FileSource{Path: "x"}, RemoveAudio: true, RemoveVideo: true}},
		{"image without duration", ItemConfig{Source: img}},
		{"image removing video", ItemConfig{Source: img, DurationUs: 1000, RemoveVideo: true}},
		{"feed removing video", ItemConfig{Source: feed, RemoveVideo: true}},
		{"negative frame rate", ItemConfig{Source: FileSource{Path: "x"}, FrameRate: -30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewItem(tt.cfg); err == nil {
				t.Errorf("NewItem(%+v) succeeded, want error", tt.cfg)
			}
		})
	}
}

func TestNewItemDefaults(t *testing.T) {
	imgItem, err := NewItem(ItemConfig{
		Source:     ImageSource{Image: SolidImage(16, 16, 0, 0, 0)},
		DurationUs: 500_000,
	})
	if err != nil {
		t.Fatalf("NewItem image: %v", err)
	}
	if imgItem.frameRate != DefaultFrameRate {
		t.Errorf("image frame rate = %d, want %d", imgItem.frameRate, DefaultFrameRate)
	}

	feedItem, err := NewItem(ItemConfig{Source: FeedSource{Feed: NewFrameFeed(32, 24)}})
	if err != nil {
		t.Fatalf("NewItem feed: %v", err)
	}
	if feedItem.frameRate != DefaultFrameRate {
		t.Errorf("feed frame rate = %d, want %d", feedItem.frameRate, DefaultFrameRate)
	}

	fileIt, err := NewItem(ItemConfig{
		Source:      FileSource{Path: "clip.cpx"},
		ClipStartUs: 1000,
		RemoveAudio: true,
	})
	if err != nil {
		t.Fatalf("NewItem file: %v", err)
	}
	if fileIt.frameRate != 0 {
		t.Errorf("file frame rate = %d, container sources carry their own", fileIt.frameRate)
	}
	if src, ok := fileIt.Source().(FileSource); !ok || src.Path != "clip.cpx" {
		t.Errorf("Source() = %+v", fileIt.Source())
	}
	if !fileIt.RemovesAudio() || fileIt.RemovesVideo() {
		t.Errorf("removals = audio:%v video:%v", fileIt.RemovesAudio(), fileIt.RemovesVideo())
	}
	if !fileIt.Clipped() {
		t.Error("Clipped() = false with a clip start set")
	}
}

func TestItemEffectiveDuration(t *testing.T) {
	tests := []struct {
		name       string
		cfg        ItemConfig
		probedUs   int64
		want       int64
	}{
		{
			name:     "clip window wins",
			cfg:      ItemConfig{Source: FileSource{Path: "x"}, ClipStartUs: 100_000, ClipEndUs: 400_000, DurationUs: 900_000},
			probedUs: 2_000_000,
			want:     300_000,
		},
		{
			name:     "forced duration",
			cfg:      ItemConfig{Source: FileSource{Path: "x"}, DurationUs: 700_000},
			probedUs: 1_000_000,
			want:     700_000,
		},
		{
			name:     "open clip end uses probed remainder",
			cfg:      ItemConfig{Source: FileSource{Path: "x"}, ClipStartUs: 200_000},
			probedUs: 1_000_000,
			want:     800_000,
		},
		{
			name:     "probed duration",
			cfg:      ItemConfig{Source: FileSource{Path: "x"}},
			probedUs: 1_234_567,
			want:     1_234_567,
		},
		{
			name:     "unknown stays unknown",
			cfg:      ItemConfig{Source: FileSource{Path: "x"}},
			probedUs: 0,
			want:     0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it, err := NewItem(tt.cfg)
			if err != nil {
				t.Fatalf("NewItem: %v", err)
			}
			if got := it.effectiveDurationUs(tt.probedUs); got != tt.want {
				t.Errorf("effectiveDurationUs(%d) = %d, want %d", tt.probedUs, got, tt.want)
			}
		})
	}
}

func TestItemHasEffects(t *testing.T) {
	gain, err := NewGainProcessor(1.5)
	if err != nil {
		t.Fatalf("NewGainProcessor: %v", err)
	}
	brightness, err := NewBrightnessEffect(10)
	if err != nil {
		t.Fatalf("NewBrightnessEffect: %v", err)
	}

	plain, err := NewItem(ItemConfig{Source: FileSource{Path: "x"}})
	if err != nil {
		t.Fatalf("NewItem: %v", err)
	}
	if plain.hasEffects(TrackAudio) || plain.hasEffects(TrackVideo) {
		t.Error("plain item reports effects")
	}

	edited, err := NewItem(ItemConfig{
		Source:          FileSource{Path: "x"},
		AudioProcessors: []AudioProcessor{gain},
		VideoEffects:    []FrameEffect{brightness},
	})
	if err != nil {
		t.Fatalf("NewItem: %v", err)
	}
	if !edited.hasEffects(TrackAudio) || !edited.hasEffects(TrackVideo) {
		t.Error("edited item reports no effects")
	}
	if edited.hasEffects(TrackUnknown) {
		t.Error("unknown track reports effects")
	}
}
