package compose

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// wavChunkUs is the chunk size the reader slices PCM data into.
const wavChunkUs = 20_000

// WAVWriter writes a single PCM16 audio track in RIFF framing.
// It implements MuxerSink; the RIFF and data sizes are patched on
// Finalize.
type WAVWriter struct {
	w         io.WriteSeeker
	haveTrack bool
	dataBytes uint32
	finalized bool
}

// NewWAVWriter creates a writer over w.
func NewWAVWriter(w io.WriteSeeker) *WAVWriter {
	return &WAVWriter{w: w}
}

func (ww *WAVWriter) AddTrack(info TrackInfo) (int, error) {
	if info.Type != TrackAudio {
		return 0, fmt.Errorf("WAV cannot carry %s tracks", info.Type)
	}
	if info.AudioCodec != AudioCodecPCM {
		return 0, fmt.Errorf("WAV carries PCM only, not %s", info.AudioCodec)
	}
	if ww.haveTrack {
		return 0, errors.New("WAV carries exactly one audio track")
	}
	if info.SampleRate <= 0 || info.Channels <= 0 {
		return 0, errors.New("WAV track needs sample rate and channels")
	}

	byteRate := uint32(info.SampleRate * info.Channels * 2)
	blockAlign := uint16(info.Channels * 2)

	var hdr [44]byte
	copy(hdr[0:4], "RIFF")
	// bytes 4:8 riff size, patched later
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(hdr[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(info.Channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(info.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], byteRate)
	binary.LittleEndian.PutUint16(hdr[32:34], blockAlign)
	binary.LittleEndian.PutUint16(hdr[34:36], 16) // bits per sample
	copy(hdr[36:40], "data")
	// bytes 40:44 data size, patched later

	if _, err := ww.w.Write(hdr[:]); err != nil {
		return 0, err
	}
	ww.haveTrack = true
	return 0, nil
}

func (ww *WAVWriter) WriteSample(track int, s *Sample) error {
	if ww.finalized {
		return ErrMuxerFinalized
	}
	if !ww.haveTrack || track != 0 {
		return fmt.Errorf("unknown WAV track %d", track)
	}
	if _, err := ww.w.Write(s.Data); err != nil {
		return err
	}
	ww.dataBytes += uint32(len(s.Data))
	return nil
}

func (ww *WAVWriter) Finalize() error {
	if ww.finalized {
		return ErrMuxerFinalized
	}
	ww.finalized = true
	if !ww.haveTrack {
		return errors.New("WAV finalized with no track")
	}
	if _, err := ww.w.Seek(4, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(ww.w, binary.LittleEndian, 36+ww.dataBytes); err != nil {
		return err
	}
	if _, err := ww.w.Seek(40, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(ww.w, binary.LittleEndian, ww.dataBytes); err != nil {
		return err
	}
	_, err := ww.w.Seek(0, io.SeekEnd)
	return err
}

// wavReader demultiplexes a PCM WAV file into fixed-duration chunks.
type wavReader struct {
	r    io.ReadSeeker
	info TrackInfo

	dataStart int64
	dataLen   int64
	offset    int64 // bytes consumed within the data chunk
}

func newWAVReader(r io.ReadSeeker) (*wavReader, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("short WAV header: %w", err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return nil, errors.New("not a WAV file")
	}

	wr := &wavReader{r: r}
	// Walk chunks; only fmt and data matter here.
	off := int64(12)
	var haveFmt bool
	for {
		if _, err := r.Seek(off, io.SeekStart); err != nil {
			return nil, err
		}
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, err
		}
		id := string(ch[0:4])
		size := int64(binary.LittleEndian.Uint32(ch[4:8]))
		switch id {
		case "fmt ":
			var fmtc [16]byte
			if _, err := io.ReadFull(r, fmtc[:]); err != nil {
				return nil, err
			}
			if binary.LittleEndian.Uint16(fmtc[0:2]) != 1 {
				return nil, errors.New("WAV is not PCM")
			}
			if binary.LittleEndian.Uint16(fmtc[14:16]) != 16 {
				return nil, errors.New("WAV is not 16-bit")
			}
			wr.info = TrackInfo{
				Type:       TrackAudio,
				AudioCodec: AudioCodecPCM,
				Channels:   int(binary.LittleEndian.Uint16(fmtc[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(fmtc[4:8])),
			}
			haveFmt = true
		case "data":
			wr.dataStart = off + 8
			wr.dataLen = size
		}
		off += 8 + size
		if size%2 == 1 {
			off++ // RIFF chunks are word aligned
		}
	}
	if !haveFmt || wr.dataStart == 0 {
		return nil, errors.New("WAV missing fmt or data chunk")
	}
	frameBytes := int64(wr.info.Channels * 2)
	wr.dataLen -= wr.dataLen % frameBytes
	wr.info.DurationUs = wr.dataLen / frameBytes * 1e6 / int64(wr.info.SampleRate)
	return wr, nil
}

func (wr *wavReader) tracks() []TrackInfo {
	return []TrackInfo{wr.info}
}

func (wr *wavReader) readSample(track TrackType) (*Sample, error) {
	if track != TrackAudio {
		return nil, io.EOF
	}
	if wr.offset >= wr.dataLen {
		return nil, io.EOF
	}
	frameBytes := int64(wr.info.Channels * 2)
	chunkBytes := int64(wr.info.SampleRate) * wavChunkUs / 1e6 * frameBytes
	if rem := wr.dataLen - wr.offset; chunkBytes > rem {
		chunkBytes = rem
	}
	if _, err := wr.r.Seek(wr.dataStart+wr.offset, io.SeekStart); err != nil {
		return nil, err
	}
	data := make([]byte, chunkBytes)
	if _, err := io.ReadFull(wr.r, data); err != nil {
		return nil, err
	}
	pts := wr.offset / frameBytes * 1e6 / int64(wr.info.SampleRate)
	wr.offset += chunkBytes
	return &Sample{
		Data:     data,
		PTS:      pts,
		Duration: chunkBytes / frameBytes * 1e6 / int64(wr.info.SampleRate),
		Track:    TrackAudio,
		Key:      true,
	}, nil
}

// seekToUs positions the cursor at the PCM frame covering the given
// timestamp. PCM needs no sync points, so the seek is exact.
func (wr *wavReader) seekToUs(ptsUs int64) {
	frameBytes := int64(wr.info.Channels * 2)
	frame := ptsUs * int64(wr.info.SampleRate) / 1e6
	wr.offset = frame * frameBytes
	if wr.offset > wr.dataLen {
		wr.offset = wr.dataLen
	}
}
