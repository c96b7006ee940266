package compose

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// CPX is this package's multitrack interchange container: an IVF-style
// fixed header and track table followed by length-framed, timestamped
// samples interleaved across tracks. It exists so multi-sequence exports
// (several video tracks plus a mixed audio track) and transmux round
// trips are byte-real without an external container dependency.
//
// Layout, all little-endian:
//
//	header: "CPX1" | version u16 | track count u16
//	track entry (32 bytes each):
//	    type u8 | codec u8 | reserved u16
//	    width/sampleRate u32 | height/channels u32 | frameRate u32
//	    durationUs i64 | sampleCount u32 | reserved u32
//	sample record: track u16 | flags u16 (bit0 key) | size u32 | pts i64 | data
const (
	cpxSignature  = "CPX1"
	cpxVersion    = 1
	cpxHeaderSize = 8
	cpxTrackSize  = 32
	cpxFrameSize  = 16

	cpxTrackAudio = 1
	cpxTrackVideo = 2
)

// CPXWriter writes the CPX container. It implements MuxerSink. All
// tracks must be added before the first sample; per-track durations and
// sample counts are patched on Finalize.
type CPXWriter struct {
	w       io.WriteSeeker
	tracks  []TrackInfo
	counts  []uint32
	lastPTS []int64
	lastDur []int64

	headerWritten bool
	finalized     bool
}

// NewCPXWriter creates a writer over w.
func NewCPXWriter(w io.WriteSeeker) *CPXWriter {
	return &CPXWriter{w: w}
}

func (cw *CPXWriter) AddTrack(info TrackInfo) (int, error) {
	if cw.headerWritten {
		return 0, errors.New("cannot add tracks after the first sample")
	}
	switch info.Type {
	case TrackVideo:
		if info.VideoCodec == VideoCodecUnknown {
			return 0, errors.New("video track needs a codec")
		}
	case TrackAudio:
		if info.AudioCodec == AudioCodecUnknown {
			return 0, errors.New("audio track needs a codec")
		}
	default:
		return 0, fmt.Errorf("unknown track type %d", info.Type)
	}
	cw.tracks = append(cw.tracks, info)
	cw.counts = append(cw.counts, 0)
	cw.lastPTS = append(cw.lastPTS, 0)
	cw.lastDur = append(cw.lastDur, 0)
	return len(cw.tracks) - 1, nil
}

func (cw *CPXWriter) writeHeader() error {
	var hdr [cpxHeaderSize]byte
	copy(hdr[0:4], cpxSignature)
	binary.LittleEndian.PutUint16(hdr[4:6], cpxVersion)
	binary.LittleEndian.PutUint16(hdr[6:8], uint16(len(cw.tracks)))
	if _, err := cw.w.Write(hdr[:]); err != nil {
		return err
	}
	for _, info := range cw.tracks {
		var entry [cpxTrackSize]byte
		switch info.Type {
		case TrackAudio:
			entry[0] = cpxTrackAudio
			entry[1] = byte(info.AudioCodec)
			binary.LittleEndian.PutUint32(entry[4:8], uint32(info.SampleRate))
			binary.LittleEndian.PutUint32(entry[8:12], uint32(info.Channels))
		case TrackVideo:
			entry[0] = cpxTrackVideo
			entry[1] = byte(info.VideoCodec)
			binary.LittleEndian.PutUint32(entry[4:8], uint32(info.Width))
			binary.LittleEndian.PutUint32(entry[8:12], uint32(info.Height))
			binary.LittleEndian.PutUint32(entry[12:16], uint32(info.FrameRate))
		}
		// durationUs at 16:24 and sampleCount at 24:28 patched on Finalize.
		if _, err := cw.w.Write(entry[:]); err != nil {
			return err
		}
	}
	cw.headerWritten = true
	return nil
}

func (cw *CPXWriter) WriteSample(track int, s *Sample) error {
	if cw.finalized {
		return ErrMuxerFinalized
	}
	if track < 0 || track >= len(cw.tracks) {
		return fmt.Errorf("unknown CPX track %d", track)
	}
	if !cw.headerWritten {
		if err := cw.writeHeader(); err != nil {
			return err
		}
	}
	var fh [cpxFrameSize]byte
	binary.LittleEndian.PutUint16(fh[0:2], uint16(track))
	var flags uint16
	if s.Key {
		flags |= 1
	}
	binary.LittleEndian.PutUint16(fh[2:4], flags)
	binary.LittleEndian.PutUint32(fh[4:8], uint32(len(s.Data)))
	binary.LittleEndian.PutUint64(fh[8:16], uint64(s.PTS))
	if _, err := cw.w.Write(fh[:]); err != nil {
		return err
	}
	if _, err := cw.w.Write(s.Data); err != nil {
		return err
	}
	cw.counts[track]++
	cw.lastPTS[track] = s.PTS
	cw.lastDur[track] = s.Duration
	return nil
}

func (cw *CPXWriter) Finalize() error {
	if cw.finalized {
		return ErrMuxerFinalized
	}
	cw.finalized = true
	if !cw.headerWritten {
		if err := cw.writeHeader(); err != nil {
			return err
		}
	}
	for i := range cw.tracks {
		base := int64(cpxHeaderSize + i*cpxTrackSize)
		if _, err := cw.w.Seek(base+16, io.SeekStart); err != nil {
			return err
		}
		duration := cw.lastPTS[i] + cw.lastDur[i]
		if err := binary.Write(cw.w, binary.LittleEndian, duration); err != nil {
			return err
		}
		if err := binary.Write(cw.w, binary.LittleEndian, cw.counts[i]); err != nil {
			return err
		}
	}
	_, err := cw.w.Seek(0, io.SeekEnd)
	return err
}

// cpxReader demultiplexes a CPX file. ReadSample may be called for the
// audio and video tracks from different goroutines; the shared seek
// position is guarded.
type cpxReader struct {
	mu    sync.Mutex
	r     io.ReadSeeker
	infos []TrackInfo
	// index and cursor per container track.
	index  [][]frameIndexEntry
	cursor []int
}

func newCPXReader(r io.ReadSeeker) (*cpxReader, error) {
	var hdr [cpxHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("short CPX header: %w", err)
	}
	if string(hdr[0:4]) != cpxSignature {
		return nil, errors.New("not a CPX file")
	}
	if v := binary.LittleEndian.Uint16(hdr[4:6]); v != cpxVersion {
		return nil, fmt.Errorf("unsupported CPX version %d", v)
	}
	count := int(binary.LittleEndian.Uint16(hdr[6:8]))
	if count == 0 {
		return nil, errors.New("CPX file has no tracks")
	}

	cr := &cpxReader{
		r:      r,
		infos:  make([]TrackInfo, count),
		index:  make([][]frameIndexEntry, count),
		cursor: make([]int, count),
	}
	for i := 0; i < count; i++ {
		var entry [cpxTrackSize]byte
		if _, err := io.ReadFull(r, entry[:]); err != nil {
			return nil, err
		}
		info := TrackInfo{DurationUs: int64(binary.LittleEndian.Uint64(entry[16:24]))}
		switch entry[0] {
		case cpxTrackAudio:
			info.Type = TrackAudio
			info.AudioCodec = AudioCodec(entry[1])
			info.SampleRate = int(binary.LittleEndian.Uint32(entry[4:8]))
			info.Channels = int(binary.LittleEndian.Uint32(entry[8:12]))
		case cpxTrackVideo:
			info.Type = TrackVideo
			info.VideoCodec = VideoCodec(entry[1])
			info.Width = int(binary.LittleEndian.Uint32(entry[4:8]))
			info.Height = int(binary.LittleEndian.Uint32(entry[8:12]))
			info.FrameRate = int(binary.LittleEndian.Uint32(entry[12:16]))
		default:
			return nil, fmt.Errorf("unknown CPX track type %d", entry[0])
		}
		cr.infos[i] = info
	}
	if err := cr.buildIndex(int64(cpxHeaderSize + count*cpxTrackSize)); err != nil {
		return nil, err
	}
	return cr, nil
}

func (cr *cpxReader) buildIndex(start int64) error {
	off := start
	for {
		if _, err := cr.r.Seek(off, io.SeekStart); err != nil {
			return err
		}
		var fh [cpxFrameSize]byte
		if _, err := io.ReadFull(cr.r, fh[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}
		track := int(binary.LittleEndian.Uint16(fh[0:2]))
		flags := binary.LittleEndian.Uint16(fh[2:4])
		size := binary.LittleEndian.Uint32(fh[4:8])
		pts := int64(binary.LittleEndian.Uint64(fh[8:16]))
		if track >= len(cr.infos) {
			return fmt.Errorf("sample references unknown track %d", track)
		}
		cr.index[track] = append(cr.index[track], frameIndexEntry{
			offset: off + cpxFrameSize,
			size:   size,
			pts:    pts,
			key:    flags&1 != 0,
		})
		off += cpxFrameSize + int64(size)
	}
}

func (cr *cpxReader) tracks() []TrackInfo {
	return append([]TrackInfo(nil), cr.infos...)
}

// trackFor maps a track type to the first container track of that type.
func (cr *cpxReader) trackFor(t TrackType) int {
	for i, info := range cr.infos {
		if info.Type == t {
			return i
		}
	}
	return -1
}

func (cr *cpxReader) readSample(track TrackType) (*Sample, error) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	i := cr.trackFor(track)
	if i < 0 {
		return nil, io.EOF
	}
	if cr.cursor[i] >= len(cr.index[i]) {
		return nil, io.EOF
	}
	entry := cr.index[i][cr.cursor[i]]
	cr.cursor[i]++
	if _, err := cr.r.Seek(entry.offset, io.SeekStart); err != nil {
		return nil, err
	}
	data := make([]byte, entry.size)
	if _, err := io.ReadFull(cr.r, data); err != nil {
		return nil, err
	}
	var duration int64
	if cr.cursor[i] < len(cr.index[i]) {
		duration = cr.index[i][cr.cursor[i]].pts - entry.pts
	}
	return &Sample{
		Data:     data,
		PTS:      entry.pts,
		Duration: duration,
		Track:    track,
		Key:      entry.key,
	}, nil
}

// seekToSyncBefore positions a track cursor at the latest key sample at
// or before the given PTS.
func (cr *cpxReader) seekToSyncBefore(track TrackType, ptsUs int64) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	i := cr.trackFor(track)
	if i < 0 {
		return
	}
	sync := 0
	for j, e := range cr.index[i] {
		if e.pts > ptsUs {
			break
		}
		if e.key || j == 0 {
			sync = j
		}
	}
	cr.cursor[i] = sync
}
