package compose

import (
	"testing"
)

func TestI420Size(t *testing.T) {
	tests := []struct {
		width, height int
		want          int
	}{
		{1920, 1080, 1920*1080 + 2*(960*540)},
		{1280, 720, 1280*720 + 2*(640*360)},
		{640, 480, 640*480 + 2*(320*240)},
		{320, 240, 320*240 + 2*(160*120)},
	}

	for _, tt := range tests {
		if got := I420Size(tt.width, tt.height); got != tt.want {
			t.Errorf("I420Size(%d, %d) = %v, want %v", tt.width, tt.height, got, tt.want)
		}
	}
}

func TestNewFrame(t *testing.T) {
	f := NewFrame(640, 480)

	if f.Width != 640 || f.Height != 480 {
		t.Errorf("dimensions = %dx%d, want 640x480", f.Width, f.Height)
	}
	if f.Format != PixelFormatI420 {
		t.Errorf("format = %v, want I420", f.Format)
	}
	if len(f.Data) != 3 {
		t.Fatalf("plane count = %d, want 3", len(f.Data))
	}
	if len(f.Data[0]) != 640*480 {
		t.Errorf("Y plane size = %d, want %d", len(f.Data[0]), 640*480)
	}
	if len(f.Data[1]) != 320*240 || len(f.Data[2]) != 320*240 {
		t.Errorf("chroma plane sizes = %d/%d, want %d", len(f.Data[1]), len(f.Data[2]), 320*240)
	}
	if f.Stride[0] != 640 || f.Stride[1] != 320 || f.Stride[2] != 320 {
		t.Errorf("strides = %v, want [640 320 320]", f.Stride)
	}
}

func TestFrameClone(t *testing.T) {
	original := NewFrame(2, 2)
	original.PTS = 12345
	original.Data[0][0] = 1
	original.Data[1][0] = 5
	original.Data[2][0] = 7

	clone := original.Clone()

	if clone.Width != original.Width || clone.Height != original.Height {
		t.Error("clone dimensions mismatch")
	}
	if clone.PTS != original.PTS {
		t.Error("clone timing mismatch")
	}
	for i := range original.Data {
		for j := range original.Data[i] {
			if clone.Data[i][j] != original.Data[i][j] {
				t.Errorf("clone data mismatch at plane %d, index %d", i, j)
			}
		}
	}

	// Verify independence (modify clone, original unchanged)
	clone.Data[0][0] = 99
	if original.Data[0][0] == 99 {
		t.Error("clone is not independent from original")
	}
}

func TestPackI420HonorsStrides(t *testing.T) {
	// Decoder output commonly carries padded rows; packing must drop the
	// padding and emit tight Y||U||V planes.
	f := &Frame{
		Data: [][]byte{
			make([]byte, 8*2),
			make([]byte, 4*1),
			make([]byte, 4*1),
		},
		Stride: []int{8, 4, 4},
		Width:  4,
		Height: 2,
		Format: PixelFormatI420,
	}
	for row := 0; row < 2; row++ {
		for x := 0; x < 4; x++ {
			f.Data[0][row*8+x] = byte(10*row + x)
		}
	}
	for x := 0; x < 2; x++ {
		f.Data[1][x] = byte(100 + x)
		f.Data[2][x] = byte(200 + x)
	}

	buf := packI420(f)
	if len(buf) != I420Size(4, 2) {
		t.Fatalf("packed size = %d, want %d", len(buf), I420Size(4, 2))
	}
	wantY := []byte{0, 1, 2, 3, 10, 11, 12, 13}
	for i, want := range wantY {
		if buf[i] != want {
			t.Errorf("Y[%d] = %d, want %d", i, buf[i], want)
		}
	}
	if buf[8] != 100 || buf[9] != 101 {
		t.Errorf("U plane = %v, want [100 101]", buf[8:10])
	}
	if buf[10] != 200 || buf[11] != 201 {
		t.Errorf("V plane = %v, want [200 201]", buf[10:12])
	}

	back := unpackI420(buf, 4, 2)
	rt := packI420(back)
	for i := range buf {
		if rt[i] != buf[i] {
			t.Fatalf("round trip diverged at byte %d", i)
		}
	}
}

func TestSampleClone(t *testing.T) {
	original := &Sample{
		Data:     []byte{0x00, 0x01, 0x02, 0x03},
		PTS:      90000,
		Duration: 33333,
		Track:    TrackVideo,
		Key:      true,
	}

	clone := original.Clone()

	if clone.PTS != original.PTS || clone.Duration != original.Duration {
		t.Error("clone timing mismatch")
	}
	if clone.Track != original.Track || clone.Key != original.Key {
		t.Error("clone metadata mismatch")
	}
	if len(clone.Data) != len(original.Data) {
		t.Error("clone data length mismatch")
	}

	// Verify independence
	clone.Data[0] = 0xFF
	if original.Data[0] == 0xFF {
		t.Error("clone is not independent from original")
	}
}

func TestAudioChunkMath(t *testing.T) {
	tests := []struct {
		name      string
		samples   int
		rate      int
		channels  int
		wantCount int
		wantDurUs int64
	}{
		{"20ms stereo 48k", 960 * 2, 48000, 2, 960, 20000},
		{"20ms mono 8k", 160, 8000, 1, 160, 20000},
		{"one second mono", 44100, 44100, 1, 44100, 1000000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &AudioChunk{
				Data:       make([]int16, tt.samples),
				SampleRate: tt.rate,
				Channels:   tt.channels,
			}
			if got := c.SampleCount(); got != tt.wantCount {
				t.Errorf("SampleCount() = %d, want %d", got, tt.wantCount)
			}
			if got := c.DurationUs(); got != tt.wantDurUs {
				t.Errorf("DurationUs() = %d, want %d", got, tt.wantDurUs)
			}
		})
	}
}

func TestAudioChunkClone(t *testing.T) {
	original := &AudioChunk{
		Data:       []int16{100, -100, 200, -200},
		SampleRate: 48000,
		Channels:   2,
		PTS:        12345,
	}

	clone := original.Clone()

	if clone.SampleRate != original.SampleRate || clone.Channels != original.Channels {
		t.Error("clone format mismatch")
	}
	if len(clone.Data) != len(original.Data) {
		t.Error("clone data length mismatch")
	}

	// Verify independence
	clone.Data[0] = 9999
	if original.Data[0] == 9999 {
		t.Error("clone is not independent from original")
	}
}

func BenchmarkFrameClone(b *testing.B) {
	// Simulate a 720p I420 frame
	frame := NewFrame(1280, 720)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = frame.Clone()
	}
}

func BenchmarkPackI420(b *testing.B) {
	frame := NewFrame(1280, 720)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = packI420(frame)
	}
}
