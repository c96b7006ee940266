//go:build (darwin || linux) && !noav1

// AV1 support via libmedia_av1 loaded with purego. libmedia_av1 is a
// thin C wrapper around libaom with a primitive-only API, loaded
// dynamically at runtime so the package builds and runs without it.
//
// Library locations checked (in order):
//   - COMPOSE_AV1_LIB_PATH environment variable
//   - The module root's build/ directory (development)
//   - System library paths

package compose

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	mediaAV1Once    sync.Once
	mediaAV1Handle  uintptr
	mediaAV1InitErr error
	mediaAV1Loaded  bool
)

// libmedia_av1 function pointers
var (
	mediaAV1EncoderCreate        func(width, height, fps, bitrateKbps, usage, threads int32) uint64
	mediaAV1EncoderEncode        func(encoder uint64, yPlane, uPlane, vPlane uintptr, yStride, uvStride, forceKeyframe int32, outData uintptr, outCapacity int32, outFrameType, outPts uintptr) int32
	mediaAV1EncoderMaxOutputSize func(encoder uint64) int32
	mediaAV1EncoderRequestKF     func(encoder uint64)
	mediaAV1EncoderDestroy       func(encoder uint64)

	mediaAV1DecoderCreate  func(threads int32) uint64
	mediaAV1DecoderDecode  func(decoder uint64, data uintptr, dataLen int32, outY, outU, outV, outYStride, outUVStride, outWidth, outHeight uintptr) int32
	mediaAV1DecoderDestroy func(decoder uint64)

	mediaAV1GetError         func() uintptr
	mediaAV1EncoderAvailable func() int32
	mediaAV1DecoderAvailable func() int32
)

// Constants from media_av1.h
const (
	mediaAV1FrameKey      = 0
	mediaAV1UsageRealtime = 1
)

func loadMediaAV1() error {
	mediaAV1Once.Do(func() {
		mediaAV1InitErr = loadMediaAV1Lib()
		if mediaAV1InitErr == nil {
			mediaAV1Loaded = true
		}
	})
	return mediaAV1InitErr
}

func loadMediaAV1Lib() error {
	paths := mediaAV1LibPaths()

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			mediaAV1Handle = handle
			loadMediaAV1Symbols()
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libmedia_av1: %w", lastErr)
	}
	return errors.New("libmedia_av1 not found in any standard location")
}

func mediaAV1LibPaths() []string {
	libName := "libmedia_av1.so"
	if runtime.GOOS == "darwin" {
		libName = "libmedia_av1.dylib"
	}

	var paths []string
	if envPath := os.Getenv("COMPOSE_AV1_LIB_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}
	if root := findModuleRoot(); root != "" {
		paths = append(paths,
			filepath.Join(root, "build", libName),
			filepath.Join(root, "build", "ffi", libName),
		)
	}
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/opt/homebrew/lib/"+libName,
		)
	case "linux":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/usr/lib/"+libName,
		)
	}
	return paths
}

func loadMediaAV1Symbols() {
	purego.RegisterLibFunc(&mediaAV1EncoderCreate, mediaAV1Handle, "media_av1_encoder_create")
	purego.RegisterLibFunc(&mediaAV1EncoderEncode, mediaAV1Handle, "media_av1_encoder_encode")
	purego.RegisterLibFunc(&mediaAV1EncoderMaxOutputSize, mediaAV1Handle, "media_av1_encoder_max_output_size")
	purego.RegisterLibFunc(&mediaAV1EncoderRequestKF, mediaAV1Handle, "media_av1_encoder_request_keyframe")
	purego.RegisterLibFunc(&mediaAV1EncoderDestroy, mediaAV1Handle, "media_av1_encoder_destroy")

	purego.RegisterLibFunc(&mediaAV1DecoderCreate, mediaAV1Handle, "media_av1_decoder_create")
	purego.RegisterLibFunc(&mediaAV1DecoderDecode, mediaAV1Handle, "media_av1_decoder_decode")
	purego.RegisterLibFunc(&mediaAV1DecoderDestroy, mediaAV1Handle, "media_av1_decoder_destroy")

	purego.RegisterLibFunc(&mediaAV1GetError, mediaAV1Handle, "media_av1_get_error")
	purego.RegisterLibFunc(&mediaAV1EncoderAvailable, mediaAV1Handle, "media_av1_encoder_available")
	purego.RegisterLibFunc(&mediaAV1DecoderAvailable, mediaAV1Handle, "media_av1_decoder_available")
}

// IsAV1Available checks if libmedia_av1 is available.
func IsAV1Available() bool {
	if err := loadMediaAV1(); err != nil {
		return false
	}
	return mediaAV1Loaded
}

// IsAV1EncoderAvailable checks if the AV1 encoder is available.
func IsAV1EncoderAvailable() bool {
	return IsAV1Available() && mediaAV1EncoderAvailable() != 0
}

// IsAV1DecoderAvailable checks if the AV1 decoder is available.
func IsAV1DecoderAvailable() bool {
	return IsAV1Available() && mediaAV1DecoderAvailable() != 0
}

func getAV1Error() string {
	ptr := mediaAV1GetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// AV1Encoder implements VideoEncoder using libmedia_av1 via purego.
type AV1Encoder struct {
	config VideoEncoderConfig

	handle     uint64
	outputBuf  []byte
	frameDurUs int64

	keyframeReq atomic.Bool

	mu          sync.Mutex
	pending     *Sample
	inputClosed bool
}

// NewAV1Encoder creates a new AV1 encoder.
func NewAV1Encoder(config VideoEncoderConfig) (*AV1Encoder, error) {
	if err := loadMediaAV1(); err != nil {
		return nil, fmt.Errorf("AV1 encoder not available: %w", err)
	}
	if mediaAV1EncoderAvailable() == 0 {
		return nil, errors.New("AV1 encoder not available (libaom not compiled)")
	}

	threads := config.Threads
	if threads <= 0 {
		threads = 4
	}
	bitrateKbps := config.BitrateBps / 1000
	if bitrateKbps <= 0 {
		bitrateKbps = 1000
	}
	fps := config.FPS
	if fps <= 0 {
		fps = DefaultFrameRate
	}

	handle := mediaAV1EncoderCreate(
		int32(config.Width),
		int32(config.Height),
		int32(fps),
		int32(bitrateKbps),
		mediaAV1UsageRealtime,
		int32(threads),
	)
	if handle == 0 {
		return nil, fmt.Errorf("failed to create AV1 encoder: %s", getAV1Error())
	}

	maxOutput := mediaAV1EncoderMaxOutputSize(handle)
	if maxOutput <= 0 {
		maxOutput = int32(config.Width * config.Height * 3 / 2)
	}

	enc := &AV1Encoder{
		config:     config,
		handle:     handle,
		outputBuf:  make([]byte, maxOutput),
		frameDurUs: 1_000_000 / int64(fps),
	}
	enc.keyframeReq.Store(true)
	return enc, nil
}

func (e *AV1Encoder) ReadyForInput() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending == nil && !e.inputClosed && e.handle != 0
}

// QueueFrame encodes the frame immediately; output becomes available
// through NextSample.
func (e *AV1Encoder) QueueFrame(f *Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle == 0 {
		return fmt.Errorf("encoder not initialized")
	}
	if e.inputClosed {
		return ErrInputClosed
	}
	if e.pending != nil {
		return ErrCodecBusy
	}

	forceKeyframe := int32(0)
	if e.keyframeReq.Swap(false) {
		forceKeyframe = 1
	}

	var frameType int32
	var cPts int64
	result := mediaAV1EncoderEncode(
		e.handle,
		uintptr(unsafe.Pointer(&f.Data[0][0])),
		uintptr(unsafe.Pointer(&f.Data[1][0])),
		uintptr(unsafe.Pointer(&f.Data[2][0])),
		int32(f.Stride[0]),
		int32(f.Stride[1]),
		forceKeyframe,
		uintptr(unsafe.Pointer(&e.outputBuf[0])),
		int32(len(e.outputBuf)),
		uintptr(unsafe.Pointer(&frameType)),
		uintptr(unsafe.Pointer(&cPts)),
	)
	runtime.KeepAlive(f)

	if result < 0 {
		return fmt.Errorf("encode failed: %s", getAV1Error())
	}
	if result == 0 {
		// Encoder buffered the frame.
		return nil
	}

	data := make([]byte, result)
	copy(data, e.outputBuf[:result])
	e.pending = &Sample{
		Data:     data,
		PTS:      f.PTS,
		Duration: e.frameDurUs,
		Track:    TrackVideo,
		Key:      frameType == mediaAV1FrameKey,
	}
	return nil
}

func (e *AV1Encoder) SignalEndOfInput() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inputClosed = true
}

func (e *AV1Encoder) NextSample() (*Sample, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending != nil {
		s := e.pending
		e.pending = nil
		return s, nil
	}
	if e.inputClosed {
		return nil, io.EOF
	}
	return nil, nil
}

// RequestKeyframe forces the next frame to be a keyframe.
func (e *AV1Encoder) RequestKeyframe() {
	e.keyframeReq.Store(true)
	if e.handle != 0 {
		mediaAV1EncoderRequestKF(e.handle)
	}
}

func (e *AV1Encoder) Provider() Provider { return ProviderLibaom }

func (e *AV1Encoder) Codec() VideoCodec { return VideoCodecAV1 }

// Config returns the encoder configuration.
func (e *AV1Encoder) Config() VideoEncoderConfig { return e.config }

func (e *AV1Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != 0 {
		mediaAV1EncoderDestroy(e.handle)
		e.handle = 0
	}
	return nil
}

// AV1Decoder implements VideoDecoder using libmedia_av1 via purego.
type AV1Decoder struct {
	config VideoDecoderConfig

	handle uint64

	mu          sync.Mutex
	pending     *Frame
	inputClosed bool
}

// NewAV1Decoder creates a new AV1 decoder.
func NewAV1Decoder(config VideoDecoderConfig) (*AV1Decoder, error) {
	if err := loadMediaAV1(); err != nil {
		return nil, fmt.Errorf("AV1 decoder not available: %w", err)
	}
	if mediaAV1DecoderAvailable() == 0 {
		return nil, errors.New("AV1 decoder not available (libaom not compiled)")
	}

	threads := int32(4)
	if config.Threads > 0 {
		threads = int32(config.Threads)
	}

	handle := mediaAV1DecoderCreate(threads)
	if handle == 0 {
		return nil, fmt.Errorf("failed to create AV1 decoder: %s", getAV1Error())
	}

	return &AV1Decoder{
		config: config,
		handle: handle,
	}, nil
}

func (d *AV1Decoder) ReadyForInput() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending == nil && !d.inputClosed && d.handle != 0
}

// QueueSample decodes the sample immediately; the frame becomes
// available through NextFrame once the decoder has output.
func (d *AV1Decoder) QueueSample(s *Sample) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == 0 {
		return fmt.Errorf("decoder not initialized")
	}
	if d.inputClosed {
		return ErrInputClosed
	}
	if d.pending != nil {
		return ErrCodecBusy
	}
	if len(s.Data) == 0 {
		return fmt.Errorf("empty encoded data")
	}

	var outY, outU, outV uintptr
	var outYStride, outUVStride, outWidth, outHeight int32

	result := mediaAV1DecoderDecode(
		d.handle,
		uintptr(unsafe.Pointer(&s.Data[0])),
		int32(len(s.Data)),
		uintptr(unsafe.Pointer(&outY)),
		uintptr(unsafe.Pointer(&outU)),
		uintptr(unsafe.Pointer(&outV)),
		uintptr(unsafe.Pointer(&outYStride)),
		uintptr(unsafe.Pointer(&outUVStride)),
		uintptr(unsafe.Pointer(&outWidth)),
		uintptr(unsafe.Pointer(&outHeight)),
	)
	runtime.KeepAlive(s.Data)

	if result < 0 {
		return fmt.Errorf("decode failed: %s", getAV1Error())
	}
	if result == 0 {
		// Buffering, no frame yet.
		return nil
	}

	w := int(outWidth)
	h := int(outHeight)
	if w <= 0 || h <= 0 || outY == 0 || outYStride <= 0 || outUVStride <= 0 {
		return fmt.Errorf("invalid decoder output: stride=%d/%d, size=%dx%d",
			outYStride, outUVStride, w, h)
	}

	frame := NewFrame(w, h)
	frame.PTS = s.PTS
	uvW := w / 2
	uvH := h / 2
	for row := 0; row < h; row++ {
		src := unsafe.Slice((*byte)(unsafe.Pointer(outY+uintptr(row*int(outYStride)))), w)
		copy(frame.Data[0][row*frame.Stride[0]:], src)
	}
	for row := 0; row < uvH; row++ {
		src := unsafe.Slice((*byte)(unsafe.Pointer(outU+uintptr(row*int(outUVStride)))), uvW)
		copy(frame.Data[1][row*frame.Stride[1]:], src)
	}
	for row := 0; row < uvH; row++ {
		src := unsafe.Slice((*byte)(unsafe.Pointer(outV+uintptr(row*int(outUVStride)))), uvW)
		copy(frame.Data[2][row*frame.Stride[2]:], src)
	}

	d.pending = frame
	return nil
}

func (d *AV1Decoder) SignalEndOfInput() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inputClosed = true
}

func (d *AV1Decoder) NextFrame() (*Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending != nil {
		f := d.pending
		d.pending = nil
		return f, nil
	}
	if d.inputClosed {
		return nil, io.EOF
	}
	return nil, nil
}

func (d *AV1Decoder) Provider() Provider { return ProviderLibaom }

// Codec returns the codec type.
func (d *AV1Decoder) Codec() VideoCodec { return VideoCodecAV1 }

func (d *AV1Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != 0 {
		mediaAV1DecoderDestroy(d.handle)
		d.handle = 0
	}
	return nil
}

// Register the AV1 encoder and decoder (libaom)
func init() {
	if err := loadMediaAV1(); err != nil {
		return
	}

	if mediaAV1EncoderAvailable() != 0 {
		setProviderAvailable(ProviderLibaom)
		registerVideoEncoder(VideoCodecAV1, ProviderLibaom, func(config VideoEncoderConfig) (VideoEncoder, error) {
			return NewAV1Encoder(config)
		})
	}
	if mediaAV1DecoderAvailable() != 0 {
		setProviderAvailable(ProviderLibaom)
		registerVideoDecoder(VideoCodecAV1, ProviderLibaom, func(config VideoDecoderConfig) (VideoDecoder, error) {
			return NewAV1Decoder(config)
		})
	}
}
