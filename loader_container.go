package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// containerReader is the demux side of one container format.
type containerReader interface {
	tracks() []TrackInfo
	readSample(track TrackType) (*Sample, error)
}

// containerLoader demultiplexes a local container file, honoring the
// item's track removals and clip window. Clipping discards samples
// before the clip start (seeking compressed video back to the nearest
// sync point, leaving decode-discard to the pipeline) and rebases
// timestamps so the first in-window sample presents at 0.
type containerLoader struct {
	src  FileSource
	item Item

	file   *os.File
	format ContainerFormat
	reader containerReader

	// effective holds the reported (present and not removed) tracks.
	effective trackSet

	clipStartUs int64
	clipLenUs   int64 // 0 means unbounded
	// audioDone marks precise PCM end-of-window.
	audioDone bool
	videoDone bool
}

func newContainerLoader(src FileSource, item Item) *containerLoader {
	l := &containerLoader{src: src, item: item, clipStartUs: item.clipStartUs}
	if item.clipEndUs > 0 {
		l.clipLenUs = item.clipEndUs - item.clipStartUs
	}
	return l
}

func (l *containerLoader) Open(ctx context.Context) ([]TrackInfo, error) {
	if l.file != nil {
		return nil, errors.New("loader already open")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.src.Path)
	if err != nil {
		return nil, err
	}

	format, err := detectContainer(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	var reader containerReader
	switch format {
	case ContainerIVF:
		reader, err = newIVFReader(f)
	case ContainerWAV:
		reader, err = newWAVReader(f)
	case ContainerCPX:
		reader, err = newCPXReader(f)
	default:
		err = fmt.Errorf("unrecognized container in %s", l.src.Path)
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	var infos []TrackInfo
	for _, info := range reader.tracks() {
		if info.Type == TrackAudio && l.item.removeAudio {
			continue
		}
		if info.Type == TrackVideo && l.item.removeVideo {
			continue
		}
		infos = append(infos, info)
	}
	if len(infos) == 0 {
		f.Close()
		return nil, errors.New("source has no usable tracks")
	}

	l.file = f
	l.format = format
	l.reader = reader
	l.effective = newTrackSet(infos)
	l.seekToClipStart()

	logrus.WithFields(logrus.Fields{
		"path":      l.src.Path,
		"container": format.String(),
		"tracks":    len(infos),
	}).Debug("container loader open")
	return infos, nil
}

// seekToClipStart positions every effective track at the clip start.
// PCM audio seeks exactly; compressed tracks rewind to the preceding
// sync point and rely on decode-discard downstream.
func (l *containerLoader) seekToClipStart() {
	if l.clipStartUs == 0 {
		return
	}
	switch r := l.reader.(type) {
	case *ivfReader:
		r.seekToSyncBefore(l.clipStartUs)
	case *wavReader:
		r.seekToUs(l.clipStartUs)
	case *cpxReader:
		if l.effective.video != nil {
			r.seekToSyncBefore(TrackVideo, l.clipStartUs)
		}
		if l.effective.audio != nil {
			r.seekToSyncBefore(TrackAudio, l.clipStartUs)
		}
	}
}

func (l *containerLoader) ReadSample(ctx context.Context, track TrackType) (*Sample, error) {
	if l.reader == nil {
		return nil, errors.New("loader not open")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch track {
	case TrackAudio:
		if l.effective.audio == nil || l.audioDone {
			return nil, io.EOF
		}
	case TrackVideo:
		if l.effective.video == nil || l.videoDone {
			return nil, io.EOF
		}
	default:
		return nil, io.EOF
	}

	for {
		s, err := l.reader.readSample(track)
		if err != nil {
			return nil, err
		}
		s.PTS -= l.clipStartUs

		if track == TrackAudio && l.effective.audio.AudioCodec == AudioCodecPCM {
			s, err = l.trimPCM(s)
			if err != nil {
				return nil, err
			}
			if s == nil {
				continue
			}
			if l.clipLenUs > 0 && s.PTS+s.Duration >= l.clipLenUs {
				l.audioDone = true
			}
			return s, nil
		}

		// Compressed tracks: negative timestamps are pre-roll the decoder
		// discards; the window end cuts at sample granularity.
		if l.clipLenUs > 0 && s.PTS >= l.clipLenUs {
			if track == TrackAudio {
				l.audioDone = true
			} else {
				l.videoDone = true
			}
			return nil, io.EOF
		}
		return s, nil
	}
}

// trimPCM cuts a rebased PCM sample to the clip window exactly. Returns
// nil when the sample lies entirely before the window.
func (l *containerLoader) trimPCM(s *Sample) (*Sample, error) {
	info := l.effective.audio
	frameBytes := int64(info.Channels * 2)
	if frameBytes == 0 || info.SampleRate == 0 {
		return nil, errors.New("PCM track missing format")
	}
	bytesPerUs := func(us int64) int64 {
		frames := us * int64(info.SampleRate) / 1e6
		return frames * frameBytes
	}

	if s.PTS < 0 {
		cut := bytesPerUs(-s.PTS)
		if cut >= int64(len(s.Data)) {
			return nil, nil
		}
		s.Data = s.Data[cut:]
		s.Duration -= -s.PTS
		s.PTS = 0
	}
	if l.clipLenUs > 0 && s.PTS+s.Duration > l.clipLenUs {
		keep := bytesPerUs(l.clipLenUs - s.PTS)
		if keep <= 0 {
			return nil, io.EOF
		}
		if keep < int64(len(s.Data)) {
			s.Data = s.Data[:keep]
			s.Duration = l.clipLenUs - s.PTS
		}
	}
	return s, nil
}

func (l *containerLoader) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.reader = nil
	return err
}
