package compose

// PixelFormat describes the memory layout of a raw video frame.
type PixelFormat int

const (
	// PixelFormatI420 is planar YUV 4:2:0 (Y plane + quarter-size U and V planes).
	PixelFormatI420 PixelFormat = iota
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatI420:
		return "I420"
	default:
		return "unknown"
	}
}

// Sample is one compressed (or raw-packed) media payload on a track.
// Samples flow in non-decreasing PTS order within a track; the muxer
// treats a violation as a protocol error.
type Sample struct {
	Data []byte
	// PTS is the presentation timestamp in microseconds.
	PTS int64
	// Duration of the sample in microseconds, 0 when unknown.
	Duration int64
	Track    TrackType
	Key      bool
}

// Clone returns a deep copy of the sample.
func (s *Sample) Clone() *Sample {
	c := *s
	c.Data = make([]byte, len(s.Data))
	copy(c.Data, s.Data)
	return &c
}

// Frame is one raw video frame in I420 layout.
type Frame struct {
	// Data holds the Y, U and V planes.
	Data [][]byte
	// Stride holds bytes-per-row for each plane.
	Stride []int
	Width  int
	Height int
	Format PixelFormat
	// PTS is the presentation timestamp in microseconds.
	PTS int64
}

// NewFrame allocates an I420 frame of the given dimensions.
func NewFrame(width, height int) *Frame {
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	return &Frame{
		Data:   [][]byte{make([]byte, ySize), make([]byte, uvSize), make([]byte, uvSize)},
		Stride: []int{width, width / 2, width / 2},
		Width:  width,
		Height: height,
		Format: PixelFormatI420,
	}
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	c := &Frame{
		Data:   make([][]byte, len(f.Data)),
		Stride: make([]int, len(f.Stride)),
		Width:  f.Width,
		Height: f.Height,
		Format: f.Format,
		PTS:    f.PTS,
	}
	copy(c.Stride, f.Stride)
	for i, plane := range f.Data {
		c.Data[i] = make([]byte, len(plane))
		copy(c.Data[i], plane)
	}
	return c
}

// I420Size returns the buffer size for an I420 frame of the given dimensions.
func I420Size(width, height int) int {
	return width*height + 2*((width/2)*(height/2))
}

// packI420 serializes the frame planes into a contiguous Y||U||V buffer,
// honoring per-plane strides.
func packI420(f *Frame) []byte {
	buf := make([]byte, 0, I420Size(f.Width, f.Height))
	dims := [3][2]int{
		{f.Width, f.Height},
		{f.Width / 2, f.Height / 2},
		{f.Width / 2, f.Height / 2},
	}
	for i := 0; i < 3; i++ {
		w, h := dims[i][0], dims[i][1]
		stride := f.Stride[i]
		plane := f.Data[i]
		for y := 0; y < h; y++ {
			buf = append(buf, plane[y*stride:y*stride+w]...)
		}
	}
	return buf
}

// unpackI420 rebuilds a frame from a contiguous Y||U||V buffer.
func unpackI420(buf []byte, width, height int) *Frame {
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	f := &Frame{
		Data:   make([][]byte, 3),
		Stride: []int{width, width / 2, width / 2},
		Width:  width,
		Height: height,
		Format: PixelFormatI420,
	}
	f.Data[0] = append([]byte(nil), buf[:ySize]...)
	f.Data[1] = append([]byte(nil), buf[ySize:ySize+uvSize]...)
	f.Data[2] = append([]byte(nil), buf[ySize+uvSize:ySize+2*uvSize]...)
	return f
}

// AudioChunk is a run of interleaved signed 16-bit PCM samples. Every
// decoder normalizes into this representation before effects and mixing,
// so processors share one numeric contract regardless of source encoding.
type AudioChunk struct {
	// Data holds interleaved samples, Channels values per sample instant.
	Data       []int16
	SampleRate int
	Channels   int
	// PTS is the presentation timestamp in microseconds.
	PTS int64
}

// SampleCount returns the number of per-channel sample instants.
func (c *AudioChunk) SampleCount() int {
	if c.Channels == 0 {
		return 0
	}
	return len(c.Data) / c.Channels
}

// DurationUs returns the chunk duration in microseconds.
func (c *AudioChunk) DurationUs() int64 {
	if c.SampleRate == 0 {
		return 0
	}
	return int64(c.SampleCount()) * 1e6 / int64(c.SampleRate)
}

// Clone returns a deep copy of the chunk.
func (c *AudioChunk) Clone() *AudioChunk {
	d := *c
	d.Data = make([]int16, len(c.Data))
	copy(d.Data, c.Data)
	return &d
}
