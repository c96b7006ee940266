//go:build (darwin || linux) && !novpx

// VP8/VP9 support via libmedia_vpx loaded with purego. libmedia_vpx is
// a thin C wrapper around libvpx with a primitive-only API, loaded
// dynamically at runtime so the package builds and runs without it.
//
// Library locations checked (in order):
//   - COMPOSE_VPX_LIB_PATH environment variable
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
	mediaVPXOnce    sync.Once
	mediaVPXHandle  uintptr
	mediaVPXInitErr error
	mediaVPXLoaded  bool
)

// libmedia_vpx function pointers
var (
	mediaVPXEncoderCreate        func(codec, width, height, fps, bitrateKbps, threads int32) uint64
	mediaVPXEncoderEncode        func(encoder uint64, yPlane, uPlane, vPlane uintptr, yStride, uvStride, forceKeyframe int32, outData uintptr, outCapacity int32, outFrameType, outPts uintptr) int32
	mediaVPXEncoderMaxOutputSize func(encoder uint64) int32
	mediaVPXEncoderRequestKF     func(encoder uint64)
	mediaVPXEncoderDestroy       func(encoder uint64)

	mediaVPXDecoderCreate   func(codec, threads int32) uint64
	mediaVPXDecoderDecodeV2 func(decoder uint64, data uintptr, dataLen int32, resultOut uintptr) int32
	mediaVPXDecoderDestroy  func(decoder uint64)

	mediaVPXGetError       func() uintptr
	mediaVPXCodecAvailable func(codec int32) int32
)

// mediaVPXDecodeResult matches media_vpx_decode_result_t in C.
// Heap-allocated because purego mishandles output pointer parameters
// on arm64 otherwise.
type mediaVPXDecodeResult struct {
	YPtr     uint64
	UPtr     uint64
	VPtr     uint64
	YStride  int32
	UVStride int32
	Width    int32
	Height   int32
	Result   int32 // 1=decoded, 0=buffering, <0=error
	Reserved int32
}

// Constants from media_vpx.h
const (
	mediaVPXCodecVP8 = 0
	mediaVPXCodecVP9 = 1

	mediaVPXFrameKey = 0

	mediaVPXOK = 0
)

func loadMediaVPX() error {
	mediaVPXOnce.Do(func() {
		mediaVPXInitErr = loadMediaVPXLib()
		if mediaVPXInitErr == nil {
			mediaVPXLoaded = true
		}
	})
	return mediaVPXInitErr
}

func loadMediaVPXLib() error {
	paths := mediaVPXLibPaths()

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			mediaVPXHandle = handle
			loadMediaVPXSymbols()
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libmedia_vpx: %w", lastErr)
	}
	return errors.New("libmedia_vpx not found in any standard location")
}

func mediaVPXLibPaths() []string {
	libName := "libmedia_vpx.so"
	if runtime.GOOS == "darwin" {
		libName = "libmedia_vpx.dylib"
	}

	var paths []string
	if envPath := os.Getenv("COMPOSE_VPX_LIB_PATH"); envPath != "" {
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

func loadMediaVPXSymbols() {
	purego.RegisterLibFunc(&mediaVPXEncoderCreate, mediaVPXHandle, "media_vpx_encoder_create")
	purego.RegisterLibFunc(&mediaVPXEncoderEncode, mediaVPXHandle, "media_vpx_encoder_encode")
	purego.RegisterLibFunc(&mediaVPXEncoderMaxOutputSize, mediaVPXHandle, "media_vpx_encoder_max_output_size")
	purego.RegisterLibFunc(&mediaVPXEncoderRequestKF, mediaVPXHandle, "media_vpx_encoder_request_keyframe")
	purego.RegisterLibFunc(&mediaVPXEncoderDestroy, mediaVPXHandle, "media_vpx_encoder_destroy")

	purego.RegisterLibFunc(&mediaVPXDecoderCreate, mediaVPXHandle, "media_vpx_decoder_create")
	purego.RegisterLibFunc(&mediaVPXDecoderDecodeV2, mediaVPXHandle, "media_vpx_decoder_decode_v2")
	purego.RegisterLibFunc(&mediaVPXDecoderDestroy, mediaVPXHandle, "media_vpx_decoder_destroy")

	purego.RegisterLibFunc(&mediaVPXGetError, mediaVPXHandle, "media_vpx_get_error")
	purego.RegisterLibFunc(&mediaVPXCodecAvailable, mediaVPXHandle, "media_vpx_codec_available")
}

// IsVPXAvailable checks if libmedia_vpx is available.
func IsVPXAvailable() bool {
	if err := loadMediaVPX(); err != nil {
		return false
	}
	return mediaVPXLoaded
}

// IsVP8Available checks if VP8 codec is available.
func IsVP8Available() bool {
	return IsVPXAvailable() && mediaVPXCodecAvailable(mediaVPXCodecVP8) != 0
}

// IsVP9Available checks if VP9 codec is available.
func IsVP9Available() bool {
	return IsVPXAvailable() && mediaVPXCodecAvailable(mediaVPXCodecVP9) != 0
}

func getVPXError() string {
	ptr := mediaVPXGetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// VPXEncoder implements VideoEncoder using libmedia_vpx via purego.
type VPXEncoder struct {
	config VideoEncoderConfig
	codec  VideoCodec

	handle     uint64
	outputBuf  []byte
	frameDurUs int64

	keyframeReq atomic.Bool

	mu          sync.Mutex
	pending     *Sample
	inputClosed bool
}

// NewVP8Encoder creates a new VP8 encoder.
func NewVP8Encoder(config VideoEncoderConfig) (*VPXEncoder, error) {
	return newVPXEncoder(config, VideoCodecVP8)
}

// NewVP9Encoder creates a new VP9 encoder.
func NewVP9Encoder(config VideoEncoderConfig) (*VPXEncoder, error) {
	return newVPXEncoder(config, VideoCodecVP9)
}

func newVPXEncoder(config VideoEncoderConfig, codec VideoCodec) (*VPXEncoder, error) {
	if err := loadMediaVPX(); err != nil {
		return nil, fmt.Errorf("%s encoder not available: %w", codec, err)
	}

	var codecType int32
	switch codec {
	case VideoCodecVP8:
		codecType = mediaVPXCodecVP8
	case VideoCodecVP9:
		codecType = mediaVPXCodecVP9
	default:
		return nil, fmt.Errorf("unsupported codec: %s", codec)
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

	handle := mediaVPXEncoderCreate(
		codecType,
		int32(config.Width),
		int32(config.Height),
		int32(fps),
		int32(bitrateKbps),
		int32(threads),
	)
	if handle == 0 {
		return nil, fmt.Errorf("failed to create %s encoder: %s", codec, getVPXError())
	}

	maxOutput := mediaVPXEncoderMaxOutputSize(handle)
	if maxOutput <= 0 {
		maxOutput = int32(config.Width * config.Height * 3 / 2)
	}

	enc := &VPXEncoder{
		config:     config,
		codec:      codec,
		handle:     handle,
		outputBuf:  make([]byte, maxOutput),
		frameDurUs: 1_000_000 / int64(fps),
	}
	enc.keyframeReq.Store(true)
	return enc, nil
}

func (e *VPXEncoder) ReadyForInput() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending == nil && !e.inputClosed && e.handle != 0
}

// QueueFrame encodes the frame immediately; output becomes available
// through NextSample.
func (e *VPXEncoder) QueueFrame(f *Frame) error {
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
	result := mediaVPXEncoderEncode(
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
		return fmt.Errorf("encode failed: %s", getVPXError())
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
		Key:      frameType == mediaVPXFrameKey,
	}
	return nil
}

func (e *VPXEncoder) SignalEndOfInput() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inputClosed = true
}

func (e *VPXEncoder) NextSample() (*Sample, error) {
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
func (e *VPXEncoder) RequestKeyframe() {
	e.keyframeReq.Store(true)
	if e.handle != 0 {
		mediaVPXEncoderRequestKF(e.handle)
	}
}

func (e *VPXEncoder) Provider() Provider { return ProviderLibvpx }

func (e *VPXEncoder) Codec() VideoCodec { return e.codec }

// Config returns the encoder configuration.
func (e *VPXEncoder) Config() VideoEncoderConfig { return e.config }

func (e *VPXEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != 0 {
		mediaVPXEncoderDestroy(e.handle)
		e.handle = 0
	}
	return nil
}

// VPXDecoder implements VideoDecoder using libmedia_vpx via purego.
type VPXDecoder struct {
	config VideoDecoderConfig
	codec  VideoCodec

	handle uint64

	// Heap-allocated for the purego v2 decode API; layout must match
	// media_vpx_decode_result_t exactly.
	decodeResult *mediaVPXDecodeResult

	mu          sync.Mutex
	pending     *Frame
	inputClosed bool
}

// NewVP8Decoder creates a new VP8 decoder.
func NewVP8Decoder(config VideoDecoderConfig) (*VPXDecoder, error) {
	return newVPXDecoder(config, VideoCodecVP8)
}

// NewVP9Decoder creates a new VP9 decoder.
func NewVP9Decoder(config VideoDecoderConfig) (*VPXDecoder, error) {
	return newVPXDecoder(config, VideoCodecVP9)
}

func newVPXDecoder(config VideoDecoderConfig, codec VideoCodec) (*VPXDecoder, error) {
	if err := loadMediaVPX(); err != nil {
		return nil, fmt.Errorf("%s decoder not available: %w", codec, err)
	}

	var codecType int32
	switch codec {
	case VideoCodecVP8:
		codecType = mediaVPXCodecVP8
	case VideoCodecVP9:
		codecType = mediaVPXCodecVP9
	default:
		return nil, fmt.Errorf("unsupported codec: %s", codec)
	}

	threads := int32(4)
	if config.Threads > 0 {
		threads = int32(config.Threads)
	}

	handle := mediaVPXDecoderCreate(codecType, threads)
	if handle == 0 {
		return nil, fmt.Errorf("failed to create %s decoder: %s", codec, getVPXError())
	}

	return &VPXDecoder{
		config:       config,
		codec:        codec,
		handle:       handle,
		decodeResult: &mediaVPXDecodeResult{},
	}, nil
}

func (d *VPXDecoder) ReadyForInput() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending == nil && !d.inputClosed && d.handle != 0
}

// QueueSample decodes the sample immediately; the frame becomes
// available through NextFrame once the decoder has output.
func (d *VPXDecoder) QueueSample(s *Sample) error {
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

	out := d.decodeResult
	result := mediaVPXDecoderDecodeV2(
		d.handle,
		uintptr(unsafe.Pointer(&s.Data[0])),
		int32(len(s.Data)),
		uintptr(unsafe.Pointer(out)),
	)
	runtime.KeepAlive(s.Data)
	runtime.KeepAlive(out)

	if result < 0 {
		return fmt.Errorf("decode failed: %s", getVPXError())
	}
	if result == 0 {
		// Buffering, no frame yet.
		return nil
	}

	w := int(out.Width)
	h := int(out.Height)
	if w <= 0 || h <= 0 || out.YPtr == 0 || out.YStride <= 0 || out.UVStride <= 0 {
		return fmt.Errorf("invalid decoder output: stride=%d/%d, size=%dx%d",
			out.YStride, out.UVStride, w, h)
	}

	frame := NewFrame(w, h)
	frame.PTS = s.PTS
	uvW := w / 2
	uvH := h / 2
	for row := 0; row < h; row++ {
		src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(out.YPtr)+uintptr(row*int(out.YStride)))), w)
		copy(frame.Data[0][row*frame.Stride[0]:], src)
	}
	for row := 0; row < uvH; row++ {
		src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(out.UPtr)+uintptr(row*int(out.UVStride)))), uvW)
		copy(frame.Data[1][row*frame.Stride[1]:], src)
	}
	for row := 0; row < uvH; row++ {
		src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(out.VPtr)+uintptr(row*int(out.UVStride)))), uvW)
		copy(frame.Data[2][row*frame.Stride[2]:], src)
	}

	d.pending = frame
	return nil
}

func (d *VPXDecoder) SignalEndOfInput() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inputClosed = true
}

func (d *VPXDecoder) NextFrame() (*Frame, error) {
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

func (d *VPXDecoder) Provider() Provider { return ProviderLibvpx }

// Codec returns the codec type.
func (d *VPXDecoder) Codec() VideoCodec { return d.codec }

func (d *VPXDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != 0 {
		mediaVPXDecoderDestroy(d.handle)
		d.handle = 0
	}
	return nil
}

// Register VP8/VP9 encoders and decoders (libvpx)
func init() {
	if err := loadMediaVPX(); err != nil {
		return
	}

	if mediaVPXCodecAvailable(mediaVPXCodecVP8) != 0 {
		setProviderAvailable(ProviderLibvpx)
		registerVideoEncoder(VideoCodecVP8, ProviderLibvpx, func(config VideoEncoderConfig) (VideoEncoder, error) {
			return NewVP8Encoder(config)
		})
		registerVideoDecoder(VideoCodecVP8, ProviderLibvpx, func(config VideoDecoderConfig) (VideoDecoder, error) {
			return NewVP8Decoder(config)
		})
	}

	if mediaVPXCodecAvailable(mediaVPXCodecVP9) != 0 {
		setProviderAvailable(ProviderLibvpx)
		registerVideoEncoder(VideoCodecVP9, ProviderLibvpx, func(config VideoEncoderConfig) (VideoEncoder, error) {
			return NewVP9Encoder(config)
		})
		registerVideoDecoder(VideoCodecVP9, ProviderLibvpx, func(config VideoDecoderConfig) (VideoDecoder, error) {
			return NewVP9Decoder(config)
		})
	}
}
