package compose

import (
	"context"
	"io"
	"testing"
)

func openImageLoader(t *testing.T, width, height int, durationUs int64, frameRate int) (AssetLoader, []TrackInfo) {
	t.Helper()
	it, err := NewItem(ItemConfig{
		Source:     ImageSource{Image: SolidImage(width, height, 200, 40, 40)},
		DurationUs: durationUs,
		FrameRate:  frameRate,
	})
	if err != nil {
		t.Fatalf("NewItem: %v", err)
	}
	loader, err := newAssetLoader(it)
	if err != nil {
		t.Fatalf("newAssetLoader: %v", err)
	}
	t.Cleanup(func() { loader.Close() })
	infos, err := loader.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return loader, infos
}

// One second at 40 fps yields exactly 40 frames, the last presenting at
// 975 ms. The requested duration bounds the grid; the final frame's
// timestamp is what a reader of the output will measure.
func TestImageLoaderFrameGrid(t *testing.T) {
	loader, infos := openImageLoader(t, 32, 24, 1_000_000, 40)

	want := TrackInfo{
		Type: TrackVideo, VideoCodec: VideoCodecRaw,
		Width: 32, Height: 24, FrameRate: 40, DurationUs: 1_000_000,
	}
	if len(infos) != 1 || infos[0] != want {
		t.Fatalf("tracks = %+v, want [%+v]", infos, want)
	}

	ctx := context.Background()
	for k := 0; k < 40; k++ {
		s, err := loader.ReadSample(ctx, TrackVideo)
		if err != nil {
			t.Fatalf("frame %d: %v", k, err)
		}
		if wantPTS := int64(k) * 25000; s.PTS != wantPTS {
			t.Errorf("frame %d pts = %d, want %d", k, s.PTS, wantPTS)
		}
		if s.Duration != 25000 || !s.Key || s.Track != TrackVideo {
			t.Errorf("frame %d = dur=%d key=%v track=%s", k, s.Duration, s.Key, s.Track)
		}
		if wantLen := 32 * 24 * 3 / 2; len(s.Data) != wantLen {
			t.Errorf("frame %d data = %d bytes, want %d", k, len(s.Data), wantLen)
		}
	}
	if _, err := loader.ReadSample(ctx, TrackVideo); err != io.EOF {
		t.Errorf("past end: err = %v, want io.EOF", err)
	}
	if _, err := loader.ReadSample(ctx, TrackAudio); err != io.EOF {
		t.Errorf("audio from image: err = %v, want io.EOF", err)
	}
}

func TestFrameGridMath(t *testing.T) {
	counts := []struct {
		durationUs int64
		fps        int
		want       int
	}{
		{1_000_000, 40, 40},
		{1_000_000, 30, 30},
		{999_999, 30, 30}, // partial trailing interval still gets a frame
		{966_667, 30, 30},
		{966_666, 30, 29},
		{100_000, 30, 3},
		{1, 30, 1},
	}
	for _, tt := range counts {
		if got := frameCountFor(tt.durationUs, tt.fps); got != tt.want {
			t.Errorf("frameCountFor(%d, %d) = %d, want %d", tt.durationUs, tt.fps, got, tt.want)
		}
	}

	pts := []struct {
		k, fps int
		want   int64
	}{
		{0, 30, 0},
		{29, 30, 966_666},
		{39, 40, 975_000},
		{1, 25, 40_000},
	}
	for _, tt := range pts {
		if got := framePTS(tt.k, tt.fps); got != tt.want {
			t.Errorf("framePTS(%d, %d) = %d, want %d", tt.k, tt.fps, got, tt.want)
		}
	}
}

// Odd dimensions round down so chroma planes subsample cleanly.
func TestImageLoaderEvenDimensions(t *testing.T) {
	loader, infos := openImageLoader(t, 17, 9, 100_000, 30)
	if infos[0].Width != 16 || infos[0].Height != 8 {
		t.Fatalf("dimensions = %dx%d, want 16x8", infos[0].Width, infos[0].Height)
	}
	s, err := loader.ReadSample(context.Background(), TrackVideo)
	if err != nil {
		t.Fatalf("ReadSample: %v", err)
	}
	if wantLen := 16 * 8 * 3 / 2; len(s.Data) != wantLen {
		t.Errorf("data = %d bytes, want %d", len(s.Data), wantLen)
	}
}

func TestImageLoaderColorConversion(t *testing.T) {
	loader, _ := openImageLoader(t, 16, 16, 100_000, 30)
	s, err := loader.ReadSample(context.Background(), TrackVideo)
	if err != nil {
		t.Fatalf("ReadSample: %v", err)
	}

	wantY, wantU, wantV := rgbToYUV(200, 40, 40)
	const ySize = 16 * 16
	const cSize = 8 * 8
	for i := 0; i < ySize; i++ {
		if s.Data[i] != wantY {
			t.Fatalf("Y[%d] = %d, want %d", i, s.Data[i], wantY)
		}
	}
	for i := 0; i < cSize; i++ {
		if s.Data[ySize+i] != wantU {
			t.Fatalf("U[%d] = %d, want %d", i, s.Data[ySize+i], wantU)
		}
		if s.Data[ySize+cSize+i] != wantV {
			t.Fatalf("V[%d] = %d, want %d", i, s.Data[ySize+cSize+i], wantV)
		}
	}
}

func TestRGBToYUV(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b uint8
		y, u, v uint8
	}{
		{"black", 0, 0, 0, 0, 128, 128},
		{"white", 255, 255, 255, 255, 128, 128},
		{"red", 255, 0, 0, 76, 85, 255},
		{"green", 0, 255, 0, 150, 44, 21},
		{"blue", 0, 0, 255, 29, 255, 107},
		{"grey", 128, 128, 128, 128, 128, 128},
	}
	within := func(got, want uint8) bool {
		d := int(got) - int(want)
		return d >= -1 && d <= 1
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			y, u, v := rgbToYUV(tt.r, tt.g, tt.b)
			if !within(y, tt.y) || !within(u, tt.u) || !within(v, tt.v) {
				t.Errorf("rgbToYUV(%d,%d,%d) = %d,%d,%d, want %d,%d,%d (within 1)",
					tt.r, tt.g, tt.b, y, u, v, tt.y, tt.u, tt.v)
			}
		})
	}
}

func TestImageLoaderRejects(t *testing.T) {
	t.Run("no image", func(t *testing.T) {
		it, err := NewItem(ItemConfig{Source: ImageSource{}, DurationUs: 100_000})
		if err != nil {
			t.Fatalf("NewItem: %v", err)
		}
		if _, err := newAssetLoader(it); err == nil {
			t.Error("loader built without an image")
		}
	})

	t.Run("image too small", func(t *testing.T) {
		it, err := NewItem(ItemConfig{
			Source:     ImageSource{Image: SolidImage(1, 1, 0, 0, 0)},
			DurationUs: 100_000,
		})
		if err != nil {
			t.Fatalf("NewItem: %v", err)
		}
		loader, err := newAssetLoader(it)
		if err != nil {
			t.Fatalf("newAssetLoader: %v", err)
		}
		if _, err := loader.Open(context.Background()); err == nil {
			t.Error("opened a 1x1 image")
		}
	})

	t.Run("double open", func(t *testing.T) {
		loader, _ := openImageLoader(t, 16, 16, 100_000, 30)
		if _, err := loader.Open(context.Background()); err == nil {
			t.Error("second Open succeeded")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		loader, _ := openImageLoader(t, 16, 16, 100_000, 30)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := loader.ReadSample(ctx, TrackVideo); err != context.Canceled {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}
