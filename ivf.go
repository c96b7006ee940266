package compose

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ivfSignature opens every IVF file.
const ivfSignature = "DKIF"

// ivfTimebase is the tick rate this package writes: one tick per
// microsecond, so sample PTS values round-trip without conversion.
const ivfTimebase = 1_000_000

func ivfFourCC(c VideoCodec) (string, error) {
	switch c {
	case VideoCodecVP8:
		return "VP80", nil
	case VideoCodecVP9:
		return "VP90", nil
	case VideoCodecAV1:
		return "AV01", nil
	default:
		return "", fmt.Errorf("codec %s cannot be stored in IVF", c)
	}
}

func ivfCodec(fourCC string) VideoCodec {
	switch fourCC {
	case "VP80":
		return VideoCodecVP8
	case "VP90":
		return VideoCodecVP9
	case "AV01":
		return VideoCodecAV1
	default:
		return VideoCodecUnknown
	}
}

// IVFWriter writes a single compressed video track in IVF framing.
// It implements MuxerSink; the frame count in the header is patched
// on Finalize.
type IVFWriter struct {
	w         io.WriteSeeker
	haveTrack bool
	count     uint32
	finalized bool
}

// NewIVFWriter creates a writer over w. The header is emitted when the
// video track is added.
func NewIVFWriter(w io.WriteSeeker) *IVFWriter {
	return &IVFWriter{w: w}
}

func (iw *IVFWriter) AddTrack(info TrackInfo) (int, error) {
	if info.Type != TrackVideo {
		return 0, fmt.Errorf("IVF cannot carry %s tracks", info.Type)
	}
	if iw.haveTrack {
		return 0, errors.New("IVF carries exactly one video track")
	}
	fourCC, err := ivfFourCC(info.VideoCodec)
	if err != nil {
		return 0, err
	}

	var hdr [32]byte
	copy(hdr[0:4], ivfSignature)
	binary.LittleEndian.PutUint16(hdr[4:6], 0)  // version
	binary.LittleEndian.PutUint16(hdr[6:8], 32) // header size
	copy(hdr[8:12], fourCC)
	binary.LittleEndian.PutUint16(hdr[12:14], uint16(info.Width))
	binary.LittleEndian.PutUint16(hdr[14:16], uint16(info.Height))
	binary.LittleEndian.PutUint32(hdr[16:20], ivfTimebase) // timebase denominator
	binary.LittleEndian.PutUint32(hdr[20:24], 1)           // timebase numerator
	binary.LittleEndian.PutUint32(hdr[24:28], 0)           // frame count, patched later
	if _, err := iw.w.Write(hdr[:]); err != nil {
		return 0, err
	}
	iw.haveTrack = true
	return 0, nil
}

func (iw *IVFWriter) WriteSample(track int, s *Sample) error {
	if iw.finalized {
		return ErrMuxerFinalized
	}
	if !iw.haveTrack || track != 0 {
		return fmt.Errorf("unknown IVF track %d", track)
	}
	var fh [12]byte
	binary.LittleEndian.PutUint32(fh[0:4], uint32(len(s.Data)))
	binary.LittleEndian.PutUint64(fh[4:12], uint64(s.PTS))
	if _, err := iw.w.Write(fh[:]); err != nil {
		return err
	}
	if _, err := iw.w.Write(s.Data); err != nil {
		return err
	}
	iw.count++
	return nil
}

func (iw *IVFWriter) Finalize() error {
	if iw.finalized {
		return ErrMuxerFinalized
	}
	iw.finalized = true
	if !iw.haveTrack {
		return errors.New("IVF finalized with no track")
	}
	if _, err := iw.w.Seek(24, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(iw.w, binary.LittleEndian, iw.count); err != nil {
		return err
	}
	_, err := iw.w.Seek(0, io.SeekEnd)
	return err
}

// ivfReader demultiplexes an IVF file.
type ivfReader struct {
	r     io.ReadSeeker
	info  TrackInfo
	num   uint64
	den   uint64
	index []frameIndexEntry
	next  int
}

type frameIndexEntry struct {
	offset int64
	size   uint32
	pts    int64
	key    bool
}

func newIVFReader(r io.ReadSeeker) (*ivfReader, error) {
	var hdr [32]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("short IVF header: %w", err)
	}
	if string(hdr[0:4]) != ivfSignature {
		return nil, errors.New("not an IVF file")
	}
	headerSize := binary.LittleEndian.Uint16(hdr[6:8])
	codec := ivfCodec(string(hdr[8:12]))
	if codec == VideoCodecUnknown {
		return nil, fmt.Errorf("unknown IVF fourCC %q", string(hdr[8:12]))
	}
	ir := &ivfReader{
		r:   r,
		den: uint64(binary.LittleEndian.Uint32(hdr[16:20])),
		num: uint64(binary.LittleEndian.Uint32(hdr[20:24])),
	}
	if ir.den == 0 {
		return nil, errors.New("IVF timebase denominator is zero")
	}
	if ir.num == 0 {
		ir.num = 1
	}
	ir.info = TrackInfo{
		Type:       TrackVideo,
		VideoCodec: codec,
		Width:      int(binary.LittleEndian.Uint16(hdr[12:14])),
		Height:     int(binary.LittleEndian.Uint16(hdr[14:16])),
	}
	if err := ir.buildIndex(int64(headerSize)); err != nil {
		return nil, err
	}
	return ir, nil
}

// buildIndex walks the frame headers once so clipping can discard and
// seek without decoding, and so the track duration is known up front.
func (ir *ivfReader) buildIndex(start int64) error {
	off := start
	var lastPTS, tick int64
	tick = int64(ir.num * 1e6 / ir.den)
	for {
		if _, err := ir.r.Seek(off, io.SeekStart); err != nil {
			return err
		}
		var fh [12]byte
		if _, err := io.ReadFull(ir.r, fh[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return err
		}
		size := binary.LittleEndian.Uint32(fh[0:4])
		ticks := binary.LittleEndian.Uint64(fh[4:12])
		pts := int64(ticks * ir.num * 1e6 / ir.den)

		// IVF has no key flag; sniff the payload head. Only VP8 carries a
		// cheap marker, so other codecs treat frame 0 as the lone sync
		// point and clipping decode-discards from the start.
		key := len(ir.index) == 0
		if ir.info.VideoCodec == VideoCodecVP8 && size > 0 {
			prefix := make([]byte, min(10, int(size)))
			if _, err := io.ReadFull(ir.r, prefix); err == nil {
				key = isVP8Keyframe(prefix)
			}
		}

		ir.index = append(ir.index, frameIndexEntry{
			offset: off + 12,
			size:   size,
			pts:    pts,
			key:    key,
		})
		lastPTS = pts
		off += 12 + int64(size)
	}
	if len(ir.index) == 0 {
		return errors.New("IVF file has no frames")
	}
	if len(ir.index) >= 2 {
		tick = ir.index[1].pts - ir.index[0].pts
	}
	ir.info.DurationUs = lastPTS + tick
	if tick > 0 {
		ir.info.FrameRate = int((1e6 + tick/2) / tick)
	}
	return nil
}

func (ir *ivfReader) tracks() []TrackInfo {
	return []TrackInfo{ir.info}
}

func (ir *ivfReader) readSample(track TrackType) (*Sample, error) {
	if track != TrackVideo {
		return nil, io.EOF
	}
	if ir.next >= len(ir.index) {
		return nil, io.EOF
	}
	entry := ir.index[ir.next]
	ir.next++
	if _, err := ir.r.Seek(entry.offset, io.SeekStart); err != nil {
		return nil, err
	}
	data := make([]byte, entry.size)
	if _, err := io.ReadFull(ir.r, data); err != nil {
		return nil, err
	}
	return &Sample{
		Data:  data,
		PTS:   entry.pts,
		Track: TrackVideo,
		Key:   entry.key,
	}, nil
}

// seekToSyncBefore positions the cursor at the latest keyframe at or
// before the given PTS. Returns the index position selected.
func (ir *ivfReader) seekToSyncBefore(ptsUs int64) int {
	sync := 0
	for i, e := range ir.index {
		if e.pts > ptsUs {
			break
		}
		if e.key || i == 0 {
			sync = i
		}
	}
	ir.next = sync
	return sync
}
