package compose

import (
	"fmt"
)

// FrameEffect transforms decoded video frames. Effects run in declared
// order between the decoder and the encoder; an effect may mutate the
// frame in place or return a replacement.
type FrameEffect interface {
	Apply(f *Frame) (*Frame, error)
	Name() string
}

// Windowed restricts an effect to frames whose presentation time falls
// in [startUs, endUs) on the owning item's output timeline. An endUs of
// zero leaves the window open-ended.
func Windowed(e FrameEffect, startUs, endUs int64) FrameEffect {
	return &windowedEffect{inner: e, startUs: startUs, endUs: endUs}
}

type windowedEffect struct {
	inner   FrameEffect
	startUs int64
	endUs   int64
}

func (w *windowedEffect) Apply(f *Frame) (*Frame, error) {
	if f.PTS < w.startUs {
		return f, nil
	}
	if w.endUs > 0 && f.PTS >= w.endUs {
		return f, nil
	}
	return w.inner.Apply(f)
}

func (w *windowedEffect) Name() string { return w.inner.Name() }

// BrightnessEffect shifts the luma plane by a fixed delta.
type BrightnessEffect struct {
	delta int
}

// NewBrightnessEffect creates a brightness adjustment. Delta is added
// to every luma sample and must lie in [-255, 255].
func NewBrightnessEffect(delta int) (*BrightnessEffect, error) {
	if delta < -255 || delta > 255 {
		return nil, fmt.Errorf("brightness delta %d out of range [-255, 255]", delta)
	}
	return &BrightnessEffect{delta: delta}, nil
}

func (b *BrightnessEffect) Apply(f *Frame) (*Frame, error) {
	plane, stride := f.Data[0], f.Stride[0]
	for y := 0; y < f.Height; y++ {
		row := plane[y*stride : y*stride+f.Width]
		for x, v := range row {
			row[x] = clampLuma(int(v) + b.delta)
		}
	}
	return f, nil
}

func (b *BrightnessEffect) Name() string { return "brightness" }

// ContrastEffect scales luma around the mid-point.
type ContrastEffect struct {
	factor float64
}

// NewContrastEffect creates a contrast adjustment. A factor of 1.0 is
// identity; 0 flattens to gray.
func NewContrastEffect(factor float64) (*ContrastEffect, error) {
	if factor < 0 || factor > 10 {
		return nil, fmt.Errorf("contrast factor %f out of range [0, 10]", factor)
	}
	return &ContrastEffect{factor: factor}, nil
}

func (c *ContrastEffect) Apply(f *Frame) (*Frame, error) {
	plane, stride := f.Data[0], f.Stride[0]
	for y := 0; y < f.Height; y++ {
		row := plane[y*stride : y*stride+f.Width]
		for x, v := range row {
			row[x] = clampLuma(int((float64(v)-128)*c.factor) + 128)
		}
	}
	return f, nil
}

func (c *ContrastEffect) Name() string { return "contrast" }

func clampLuma(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// ScaleMode defines how scaling handles aspect ratio mismatches.
type ScaleMode int

const (
	// ScaleModeFit preserves aspect ratio inside the target, adding
	// black bars where the aspect differs.
	ScaleModeFit ScaleMode = iota
	// ScaleModeFill preserves aspect ratio by cropping the source to
	// cover the target.
	ScaleModeFill
	// ScaleModeStretch matches the target exactly, distorting if the
	// aspect differs.
	ScaleModeStretch
)

// ScaleEffect resizes frames to fixed output dimensions.
type ScaleEffect struct {
	width  int
	height int
	mode   ScaleMode
	scaler *videoScaler
}

// NewScaleEffect creates a resize stage. Dimensions must be even and at
// least 2x2 to keep I420 chroma alignment.
func NewScaleEffect(width, height int, mode ScaleMode) (*ScaleEffect, error) {
	if width < 2 || height < 2 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("scale target %dx%d must be even and at least 2x2", width, height)
	}
	return &ScaleEffect{width: width, height: height, mode: mode}, nil
}

func (s *ScaleEffect) Apply(f *Frame) (*Frame, error) {
	if f.Width == s.width && f.Height == s.height {
		return f, nil
	}
	if s.scaler == nil || s.scaler.srcWidth != f.Width || s.scaler.srcHeight != f.Height {
		s.scaler = newVideoScaler(f.Width, f.Height, s.width, s.height, s.mode)
	}
	return s.scaler.scale(f), nil
}

func (s *ScaleEffect) Name() string { return "scale" }

// videoScaler resizes I420 frames with bilinear filtering. Output
// buffers are allocated once and reused across frames.
type videoScaler struct {
	srcWidth, srcHeight int
	dstWidth, dstHeight int
	mode                ScaleMode

	// Destination sub-rectangle; smaller than the output in fit mode.
	rectX, rectY, rectW, rectH int

	outY, outU, outV []byte
}

func newVideoScaler(srcWidth, srcHeight, dstWidth, dstHeight int, mode ScaleMode) *videoScaler {
	s := &videoScaler{
		srcWidth:  srcWidth,
		srcHeight: srcHeight,
		dstWidth:  dstWidth,
		dstHeight: dstHeight,
		mode:      mode,
		outY:      make([]byte, dstWidth*dstHeight),
		outU:      make([]byte, (dstWidth/2)*(dstHeight/2)),
		outV:      make([]byte, (dstWidth/2)*(dstHeight/2)),
	}
	s.rectX, s.rectY, s.rectW, s.rectH = 0, 0, dstWidth, dstHeight
	if mode == ScaleModeFit {
		w, h := fittedSize(srcWidth, srcHeight, dstWidth, dstHeight)
		s.rectX = ((dstWidth - w) / 2) &^ 1
		s.rectY = ((dstHeight - h) / 2) &^ 1
		s.rectW, s.rectH = w, h
		if w != dstWidth || h != dstHeight {
			s.fillBlack()
		}
	}
	return s
}

// fillBlack paints the output buffers so fit-mode borders come out as
// black bars.
func (s *videoScaler) fillBlack() {
	for i := range s.outY {
		s.outY[i] = 16
	}
	for i := range s.outU {
		s.outU[i] = 128
	}
	for i := range s.outV {
		s.outV[i] = 128
	}
}

func (s *videoScaler) scale(frame *Frame) *Frame {
	srcX, srcY, srcW, srcH := s.sourceRegion(frame.Width, frame.Height)

	yOff := s.rectY*s.dstWidth + s.rectX
	scalePlane(frame.Data[0], frame.Stride[0], srcX, srcY, srcW, srcH,
		s.outY[yOff:], s.dstWidth, s.rectW, s.rectH)

	uvStride := s.dstWidth / 2
	uvOff := (s.rectY/2)*uvStride + s.rectX/2
	scalePlane(frame.Data[1], frame.Stride[1], srcX/2, srcY/2, srcW/2, srcH/2,
		s.outU[uvOff:], uvStride, s.rectW/2, s.rectH/2)
	scalePlane(frame.Data[2], frame.Stride[2], srcX/2, srcY/2, srcW/2, srcH/2,
		s.outV[uvOff:], uvStride, s.rectW/2, s.rectH/2)

	return &Frame{
		Data:   [][]byte{s.outY, s.outU, s.outV},
		Stride: []int{s.dstWidth, uvStride, uvStride},
		Width:  s.dstWidth,
		Height: s.dstHeight,
		Format: PixelFormatI420,
		PTS:    frame.PTS,
	}
}

// sourceRegion picks the part of the source to sample from.
func (s *videoScaler) sourceRegion(srcW, srcH int) (x, y, w, h int) {
	if s.mode != ScaleModeFill {
		return 0, 0, srcW, srcH
	}
	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(s.dstWidth) / float64(s.dstHeight)
	switch {
	case srcAspect > dstAspect:
		// Wider than the target, crop horizontally.
		newW := int(float64(srcH) * dstAspect)
		return (srcW - newW) / 2, 0, newW, srcH
	case srcAspect < dstAspect:
		// Taller than the target, crop vertically.
		newH := int(float64(srcW) / dstAspect)
		return 0, (srcH - newH) / 2, srcW, newH
	default:
		return 0, 0, srcW, srcH
	}
}

// fittedSize returns the largest even dimensions with the source aspect
// ratio that fit inside the target.
func fittedSize(srcW, srcH, maxW, maxH int) (w, h int) {
	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(maxW) / float64(maxH)
	if srcAspect > dstAspect {
		w = maxW
		h = int(float64(maxW) / srcAspect)
	} else {
		h = maxH
		w = int(float64(maxH) * srcAspect)
	}
	w = (w + 1) &^ 1
	h = (h + 1) &^ 1
	if w > maxW {
		w = maxW
	}
	if h > maxH {
		h = maxH
	}
	return w, h
}

// scalePlane resizes a single plane with bilinear interpolation using
// 16.16 fixed-point coordinates.
func scalePlane(src []byte, srcStride, srcX, srcY, srcW, srcH int,
	dst []byte, dstStride, dstW, dstH int) {

	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return
	}

	xRatio := (srcW << 16) / dstW
	yRatio := (srcH << 16) / dstH

	for y := 0; y < dstH; y++ {
		srcYFP := y * yRatio
		srcYInt := srcYFP >> 16
		srcYFrac := srcYFP & 0xFFFF

		y0 := srcYInt + srcY
		y1 := y0 + 1
		if y1 >= srcY+srcH {
			y1 = y0
		}

		for x := 0; x < dstW; x++ {
			srcXFP := x * xRatio
			srcXInt := srcXFP >> 16
			srcXFrac := srcXFP & 0xFFFF

			x0 := srcXInt + srcX
			x1 := x0 + 1
			if x1 >= srcX+srcW {
				x1 = x0
			}

			p00 := int(src[y0*srcStride+x0])
			p10 := int(src[y0*srcStride+x1])
			p01 := int(src[y1*srcStride+x0])
			p11 := int(src[y1*srcStride+x1])

			top := (p00*(0x10000-srcXFrac) + p10*srcXFrac) >> 16
			bottom := (p01*(0x10000-srcXFrac) + p11*srcXFrac) >> 16
			dst[y*dstStride+x] = byte((top*(0x10000-srcYFrac) + bottom*srcYFrac) >> 16)
		}
	}
}
