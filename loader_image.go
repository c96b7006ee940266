package compose

import (
	"context"
	"errors"
	"image"
	"io"

	"github.com/sirupsen/logrus"
)

// imageLoader synthesizes a video-only stream from a single still image.
// The frame count is ceil(durationUs * fps / 1e6) and frame k presents at
// k*(1e6/fps). The last frame's timestamp, not the requested duration,
// governs the measured output duration: one second at 40 fps yields 40
// frames ending at 975ms.
type imageLoader struct {
	src  ImageSource
	item Item

	frame  *Frame
	packed []byte
	next   int
	count  int
	opened bool
}

func newImageLoader(src ImageSource, item Item) (*imageLoader, error) {
	if src.Image == nil {
		return nil, errors.New("image source has no image")
	}
	return &imageLoader{src: src, item: item}, nil
}

func (l *imageLoader) Open(ctx context.Context) ([]TrackInfo, error) {
	if l.opened {
		return nil, errors.New("loader already open")
	}
	bounds := l.src.Image.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < 2 || h < 2 {
		return nil, errors.New("image too small")
	}
	// YUV planes need even dimensions.
	w &^= 1
	h &^= 1

	l.frame = frameFromImage(l.src.Image, w, h)
	l.packed = packI420(l.frame)
	l.count = frameCountFor(l.item.durationUs, l.item.frameRate)
	l.opened = true

	logrus.WithFields(logrus.Fields{
		"width":      w,
		"height":     h,
		"frame_rate": l.item.frameRate,
		"frames":     l.count,
	}).Debug("image loader open")

	return []TrackInfo{{
		Type:       TrackVideo,
		VideoCodec: VideoCodecRaw,
		Width:      w,
		Height:     h,
		FrameRate:  l.item.frameRate,
		DurationUs: l.item.durationUs,
	}}, nil
}

func (l *imageLoader) ReadSample(ctx context.Context, track TrackType) (*Sample, error) {
	if track != TrackVideo {
		return nil, io.EOF
	}
	if l.next >= l.count {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pts := framePTS(l.next, l.item.frameRate)
	l.next++
	return &Sample{
		Data:     l.packed,
		PTS:      pts,
		Duration: 1e6 / int64(l.item.frameRate),
		Track:    TrackVideo,
		Key:      true,
	}, nil
}

func (l *imageLoader) Close() error {
	l.frame = nil
	l.packed = nil
	return nil
}

// frameCountFor returns ceil(durationUs * fps / 1e6).
func frameCountFor(durationUs int64, fps int) int {
	return int((durationUs*int64(fps) + 1e6 - 1) / 1e6)
}

// framePTS returns the presentation timestamp of frame k on the grid.
func framePTS(k, fps int) int64 {
	return int64(k) * 1e6 / int64(fps)
}

// frameFromImage converts an image to an I420 frame using BT.601
// coefficients, subsampling chroma 2x2.
func frameFromImage(img image.Image, w, h int) *Frame {
	f := NewFrame(w, h)
	bounds := img.Bounds()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			yy, u, v := rgbToYUV(uint8(r>>8), uint8(g>>8), uint8(b>>8))
			f.Data[0][y*f.Stride[0]+x] = yy
			if x%2 == 0 && y%2 == 0 {
				f.Data[1][(y/2)*f.Stride[1]+x/2] = u
				f.Data[2][(y/2)*f.Stride[2]+x/2] = v
			}
		}
	}
	return f
}

// rgbToYUV converts RGB to YUV using BT.601 coefficients.
func rgbToYUV(r, g, b uint8) (y, u, v uint8) {
	rf, gf, bf := float64(r), float64(g), float64(b)

	yf := 0.299*rf + 0.587*gf + 0.114*bf
	uf := -0.169*rf - 0.331*gf + 0.5*bf + 128
	vf := 0.5*rf - 0.419*gf - 0.081*bf + 128

	return clampU8(yf), clampU8(uf), clampU8(vf)
}

func clampU8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
