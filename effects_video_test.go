package compose

import (
	"testing"
)

func gradientFrame(width, height int) *Frame {
	f := NewFrame(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			f.Data[0][y*f.Stride[0]+x] = byte(x * 255 / width)
		}
	}
	for i := range f.Data[1] {
		f.Data[1][i] = 128
		f.Data[2][i] = 128
	}
	return f
}

func flatFrame(width, height int, luma byte) *Frame {
	f := NewFrame(width, height)
	for i := range f.Data[0] {
		f.Data[0][i] = luma
	}
	for i := range f.Data[1] {
		f.Data[1][i] = 128
		f.Data[2][i] = 128
	}
	return f
}

func TestBrightnessEffect(t *testing.T) {
	tests := []struct {
		name   string
		delta  int
		luma   byte
		expect byte
	}{
		{"raise", 40, 100, 140},
		{"lower", -40, 100, 60},
		{"clamp high", 200, 200, 255},
		{"clamp low", -200, 50, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eff, err := NewBrightnessEffect(tt.delta)
			if err != nil {
				t.Fatalf("NewBrightnessEffect: %v", err)
			}
			out, err := eff.Apply(flatFrame(16, 16, tt.luma))
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if got := out.Data[0][0]; got != tt.expect {
				t.Errorf("Expected luma %d, got %d", tt.expect, got)
			}
		})
	}
}

func TestBrightnessEffect_RangeCheck(t *testing.T) {
	if _, err := NewBrightnessEffect(300); err == nil {
		t.Error("Expected error for out-of-range delta")
	}
	if _, err := NewBrightnessEffect(-300); err == nil {
		t.Error("Expected error for out-of-range delta")
	}
}

func TestContrastEffect(t *testing.T) {
	eff, err := NewContrastEffect(2.0)
	if err != nil {
		t.Fatalf("NewContrastEffect: %v", err)
	}

	out, err := eff.Apply(flatFrame(16, 16, 160))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// (160-128)*2 + 128 = 192
	if got := out.Data[0][0]; got != 192 {
		t.Errorf("Expected luma 192, got %d", got)
	}

	flat, _ := NewContrastEffect(0)
	out, _ = flat.Apply(flatFrame(16, 16, 200))
	if got := out.Data[0][0]; got != 128 {
		t.Errorf("Expected zero contrast to flatten to 128, got %d", got)
	}
}

func TestWindowedEffect(t *testing.T) {
	eff, _ := NewBrightnessEffect(50)
	windowed := Windowed(eff, 100_000, 200_000)

	tests := []struct {
		name   string
		pts    int64
		expect byte
	}{
		{"before window", 50_000, 100},
		{"at start", 100_000, 150},
		{"inside", 150_000, 150},
		{"at end", 200_000, 100},
		{"after window", 250_000, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := flatFrame(16, 16, 100)
			f.PTS = tt.pts
			out, err := windowed.Apply(f)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if got := out.Data[0][0]; got != tt.expect {
				t.Errorf("Expected luma %d at pts %d, got %d", tt.expect, tt.pts, got)
			}
		})
	}
}

func TestWindowedEffect_OpenEnded(t *testing.T) {
	eff, _ := NewBrightnessEffect(50)
	windowed := Windowed(eff, 100_000, 0)

	f := flatFrame(16, 16, 100)
	f.PTS = 5_000_000
	out, _ := windowed.Apply(f)
	if got := out.Data[0][0]; got != 150 {
		t.Errorf("Expected open-ended window to stay active, got luma %d", got)
	}
}

func TestScaleEffect_Passthrough(t *testing.T) {
	eff, err := NewScaleEffect(640, 480, ScaleModeStretch)
	if err != nil {
		t.Fatalf("NewScaleEffect: %v", err)
	}
	frame := gradientFrame(640, 480)
	out, err := eff.Apply(frame)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out != frame {
		t.Error("Expected same frame when dimensions already match")
	}
}

func TestScaleEffect_Stretch(t *testing.T) {
	eff, _ := NewScaleEffect(640, 360, ScaleModeStretch)
	out, err := eff.Apply(gradientFrame(1280, 720))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Width != 640 || out.Height != 360 {
		t.Errorf("Expected 640x360, got %dx%d", out.Width, out.Height)
	}
	if len(out.Data[0]) != 640*360 {
		t.Errorf("Y plane size mismatch: expected %d, got %d", 640*360, len(out.Data[0]))
	}
	if len(out.Data[1]) != 320*180 {
		t.Error("U plane size mismatch")
	}
}

func TestScaleEffect_FitLetterboxes(t *testing.T) {
	// 16:9 source into a 4:3 target leaves bars above and below.
	eff, _ := NewScaleEffect(640, 480, ScaleModeFit)
	out, err := eff.Apply(flatFrame(1280, 720, 200))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Width != 640 || out.Height != 480 {
		t.Errorf("Expected 640x480, got %dx%d", out.Width, out.Height)
	}

	// Content occupies 640x360 centered, so rows 0..59 are border.
	if got := out.Data[0][0]; got != 16 {
		t.Errorf("Expected black border luma 16, got %d", got)
	}
	center := out.Data[0][240*out.Stride[0]+320]
	if center < 190 || center > 210 {
		t.Errorf("Expected content luma near 200 at center, got %d", center)
	}
}

func TestScaleEffect_FillCrops(t *testing.T) {
	eff, _ := NewScaleEffect(640, 480, ScaleModeFill)
	out, err := eff.Apply(gradientFrame(1920, 1080))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Width != 640 || out.Height != 480 {
		t.Errorf("Expected 640x480, got %dx%d", out.Width, out.Height)
	}
	// Cropped region starts at x=240 of 1920, so column 0 is well above
	// the uncropped gradient's leftmost value.
	if got := out.Data[0][0]; got < 20 {
		t.Errorf("Expected crop to cut the left gradient edge, got luma %d", got)
	}
}

func TestScaleEffect_Validation(t *testing.T) {
	if _, err := NewScaleEffect(641, 480, ScaleModeFit); err == nil {
		t.Error("Expected error for odd width")
	}
	if _, err := NewScaleEffect(0, 480, ScaleModeFit); err == nil {
		t.Error("Expected error for zero width")
	}
}

func TestScaleEffect_PreservesPTS(t *testing.T) {
	eff, _ := NewScaleEffect(320, 240, ScaleModeStretch)
	frame := gradientFrame(640, 480)
	frame.PTS = 42_000
	out, _ := eff.Apply(frame)
	if out.PTS != 42_000 {
		t.Errorf("Expected pts 42000 to survive scaling, got %d", out.PTS)
	}
}

func BenchmarkScaleEffect_720pTo480p(b *testing.B) {
	eff, _ := NewScaleEffect(640, 480, ScaleModeFill)
	frame := gradientFrame(1280, 720)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := eff.Apply(frame); err != nil {
			b.Fatal(err)
		}
	}
}
