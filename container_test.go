package compose

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func createContainerFile(t *testing.T, name string) (*os.File, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return f, path
}

func openContainerFile(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestCPXRoundTrip(t *testing.T) {
	f, path := createContainerFile(t, "roundtrip.cpx")
	cw := NewCPXWriter(f)

	video, err := cw.AddTrack(TrackInfo{
		Type: TrackVideo, VideoCodec: VideoCodecVP8,
		Width: 320, Height: 180, FrameRate: 30,
	})
	if err != nil {
		t.Fatalf("add video track: %v", err)
	}
	audio, err := cw.AddTrack(TrackInfo{
		Type: TrackAudio, AudioCodec: AudioCodecPCM,
		SampleRate: 48000, Channels: 2,
	})
	if err != nil {
		t.Fatalf("add audio track: %v", err)
	}
	if video != 0 || audio != 1 {
		t.Fatalf("track ids = %d, %d, want 0, 1", video, audio)
	}

	writes := []struct {
		track int
		s     Sample
	}{
		{video, Sample{Data: []byte("key0"), PTS: 0, Duration: 33333, Key: true}},
		{audio, Sample{Data: []byte("pcm0"), PTS: 0, Duration: 20000, Key: true}},
		{audio, Sample{Data: []byte("pcm1"), PTS: 20000, Duration: 20000, Key: true}},
		{video, Sample{Data: []byte("delta1"), PTS: 33333, Duration: 33333}},
		{video, Sample{Data: []byte("key2"), PTS: 66666, Duration: 33334, Key: true}},
	}
	for _, w := range writes {
		if err := cw.WriteSample(w.track, &w.s); err != nil {
			t.Fatalf("write sample pts=%d: %v", w.s.PTS, err)
		}
	}
	if err := cw.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	cr, err := newCPXReader(openContainerFile(t, path))
	if err != nil {
		t.Fatalf("newCPXReader: %v", err)
	}

	infos := cr.tracks()
	if len(infos) != 2 {
		t.Fatalf("tracks = %d, want 2", len(infos))
	}
	wantVideo := TrackInfo{
		Type: TrackVideo, VideoCodec: VideoCodecVP8,
		Width: 320, Height: 180, FrameRate: 30,
		DurationUs: 100000, // last PTS + last duration
	}
	if infos[0] != wantVideo {
		t.Errorf("video info = %+v, want %+v", infos[0], wantVideo)
	}
	wantAudio := TrackInfo{
		Type: TrackAudio, AudioCodec: AudioCodecPCM,
		SampleRate: 48000, Channels: 2,
		DurationUs: 40000,
	}
	if infos[1] != wantAudio {
		t.Errorf("audio info = %+v, want %+v", infos[1], wantAudio)
	}

	wantVideoSamples := []struct {
		data     string
		pts, dur int64
		key      bool
	}{
		{"key0", 0, 33333, true},
		{"delta1", 33333, 33333, false},
		{"key2", 66666, 0, true}, // last sample has unknown duration
	}
	for i, want := range wantVideoSamples {
		s, err := cr.readSample(TrackVideo)
		if err != nil {
			t.Fatalf("video sample %d: %v", i, err)
		}
		if string(s.Data) != want.data || s.PTS != want.pts || s.Duration != want.dur || s.Key != want.key {
			t.Errorf("video sample %d = %q pts=%d dur=%d key=%v, want %q pts=%d dur=%d key=%v",
				i, s.Data, s.PTS, s.Duration, s.Key, want.data, want.pts, want.dur, want.key)
		}
		if s.Track != TrackVideo {
			t.Errorf("video sample %d track = %s", i, s.Track)
		}
	}
	if _, err := cr.readSample(TrackVideo); err != io.EOF {
		t.Errorf("video past end: err = %v, want io.EOF", err)
	}

	for i, wantPTS := range []int64{0, 20000} {
		s, err := cr.readSample(TrackAudio)
		if err != nil {
			t.Fatalf("audio sample %d: %v", i, err)
		}
		if s.PTS != wantPTS {
			t.Errorf("audio sample %d pts = %d, want %d", i, s.PTS, wantPTS)
		}
	}
	if _, err := cr.readSample(TrackAudio); err != io.EOF {
		t.Errorf("audio past end: err = %v, want io.EOF", err)
	}
}

func TestCPXWriterTrackValidation(t *testing.T) {
	tests := []struct {
		name string
		info TrackInfo
	}{
		{"video without codec", TrackInfo{Type: TrackVideo}},
		{"audio without codec", TrackInfo{Type: TrackAudio}},
		{"unknown track type", TrackInfo{Type: TrackUnknown}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := createContainerFile(t, "invalid.cpx")
			defer f.Close()
			if _, err := NewCPXWriter(f).AddTrack(tt.info); err == nil {
				t.Errorf("AddTrack(%+v) succeeded, want error", tt.info)
			}
		})
	}
}

func TestCPXWriterLifecycle(t *testing.T) {
	f, _ := createContainerFile(t, "lifecycle.cpx")
	defer f.Close()
	cw := NewCPXWriter(f)
	track, err := cw.AddTrack(TrackInfo{Type: TrackVideo, VideoCodec: VideoCodecVP8, Width: 16, Height: 16})
	if err != nil {
		t.Fatalf("add track: %v", err)
	}

	if err := cw.WriteSample(track+1, &Sample{Data: []byte("x")}); err == nil {
		t.Error("write to unknown track succeeded")
	}
	if err := cw.WriteSample(track, &Sample{Data: []byte("x"), Key: true}); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	if _, err := cw.AddTrack(TrackInfo{Type: TrackAudio, AudioCodec: AudioCodecPCM, SampleRate: 48000, Channels: 2}); err == nil {
		t.Error("AddTrack after first sample succeeded")
	}

	if err := cw.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := cw.WriteSample(track, &Sample{Data: []byte("x")}); !errors.Is(err, ErrMuxerFinalized) {
		t.Errorf("write after finalize: err = %v, want ErrMuxerFinalized", err)
	}
	if err := cw.Finalize(); !errors.Is(err, ErrMuxerFinalized) {
		t.Errorf("double finalize: err = %v, want ErrMuxerFinalized", err)
	}
}

// Empty tracks still produce a readable file: the header is emitted on
// Finalize even when no sample ever arrived.
func TestCPXWriterFinalizeWithoutSamples(t *testing.T) {
	f, path := createContainerFile(t, "empty.cpx")
	cw := NewCPXWriter(f)
	if _, err := cw.AddTrack(TrackInfo{Type: TrackAudio, AudioCodec: AudioCodecPCM, SampleRate: 8000, Channels: 1}); err != nil {
		t.Fatalf("add track: %v", err)
	}
	if err := cw.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	cr, err := newCPXReader(openContainerFile(t, path))
	if err != nil {
		t.Fatalf("newCPXReader: %v", err)
	}
	if got := cr.tracks()[0].DurationUs; got != 0 {
		t.Errorf("empty track duration = %d, want 0", got)
	}
	if _, err := cr.readSample(TrackAudio); err != io.EOF {
		t.Errorf("readSample on empty track: err = %v, want io.EOF", err)
	}
}

func TestCPXReaderSeekToSyncBefore(t *testing.T) {
	f, path := createContainerFile(t, "seek.cpx")
	cw := NewCPXWriter(f)
	track, err := cw.AddTrack(TrackInfo{Type: TrackVideo, VideoCodec: VideoCodecVP8, Width: 16, Height: 16})
	if err != nil {
		t.Fatalf("add track: %v", err)
	}
	frames := []struct {
		pts int64
		key bool
	}{
		{0, true}, {33333, false}, {66666, false}, {100000, true}, {133333, false},
	}
	for _, fr := range frames {
		if err := cw.WriteSample(track, &Sample{Data: []byte{0xAA}, PTS: fr.pts, Key: fr.key}); err != nil {
			t.Fatalf("write pts=%d: %v", fr.pts, err)
		}
	}
	if err := cw.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	cr, err := newCPXReader(openContainerFile(t, path))
	if err != nil {
		t.Fatalf("newCPXReader: %v", err)
	}

	tests := []struct {
		target  int64
		wantPTS int64
	}{
		{0, 0},
		{50000, 0},
		{99999, 0},
		{100000, 100000},
		{120000, 100000},
		{999999, 100000},
	}
	for _, tt := range tests {
		cr.seekToSyncBefore(TrackVideo, tt.target)
		s, err := cr.readSample(TrackVideo)
		if err != nil {
			t.Fatalf("seek %d: read: %v", tt.target, err)
		}
		if s.PTS != tt.wantPTS {
			t.Errorf("seek %d: pts = %d, want %d", tt.target, s.PTS, tt.wantPTS)
		}
		if !s.Key {
			t.Errorf("seek %d: landed on non-key sample pts=%d", tt.target, s.PTS)
		}
	}

	// Reads continue sequentially from the sync point.
	cr.seekToSyncBefore(TrackVideo, 120000)
	if s, _ := cr.readSample(TrackVideo); s.PTS != 100000 {
		t.Fatalf("resync pts = %d, want 100000", s.PTS)
	}
	if s, _ := cr.readSample(TrackVideo); s.PTS != 133333 {
		t.Errorf("next pts = %d, want 133333", s.PTS)
	}

	// Seeking a type the file does not carry is a no-op.
	cr.seekToSyncBefore(TrackAudio, 50000)
	if _, err := cr.readSample(TrackAudio); err != io.EOF {
		t.Errorf("absent track: err = %v, want io.EOF", err)
	}
}

// Tracks with no keyframes fall back to the first sample as the lone
// sync point.
func TestCPXReaderSeekKeylessFallback(t *testing.T) {
	f, path := createContainerFile(t, "keyless.cpx")
	cw := NewCPXWriter(f)
	track, _ := cw.AddTrack(TrackInfo{Type: TrackVideo, VideoCodec: VideoCodecVP8, Width: 16, Height: 16})
	for _, pts := range []int64{0, 33333, 66666} {
		if err := cw.WriteSample(track, &Sample{Data: []byte{0x01}, PTS: pts}); err != nil {
			t.Fatalf("write pts=%d: %v", pts, err)
		}
	}
	if err := cw.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	cr, err := newCPXReader(openContainerFile(t, path))
	if err != nil {
		t.Fatalf("newCPXReader: %v", err)
	}
	cr.seekToSyncBefore(TrackVideo, 66666)
	if s, _ := cr.readSample(TrackVideo); s.PTS != 0 {
		t.Errorf("keyless seek pts = %d, want 0", s.PTS)
	}
}

func TestCPXReaderBadFiles(t *testing.T) {
	header := func(version, count uint16) []byte {
		hdr := make([]byte, cpxHeaderSize)
		copy(hdr[0:4], cpxSignature)
		binary.LittleEndian.PutUint16(hdr[4:6], version)
		binary.LittleEndian.PutUint16(hdr[6:8], count)
		return hdr
	}
	badEntry := make([]byte, cpxTrackSize)
	badEntry[0] = 9 // neither audio nor video

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated header", []byte("CPX")},
		{"wrong signature", append([]byte("NOPE"), 1, 0, 1, 0)},
		{"unsupported version", header(99, 1)},
		{"no tracks", header(cpxVersion, 0)},
		{"unknown track type", append(header(cpxVersion, 1), badEntry...)},
		{"truncated track table", header(cpxVersion, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.cpx")
			if err := os.WriteFile(path, tt.data, 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := newCPXReader(openContainerFile(t, path)); err == nil {
				t.Error("newCPXReader succeeded on malformed input")
			}
		})
	}
}

// Samples on both tracks can be pulled from separate goroutines, the
// way the exporter demuxes one asset for video and audio runners.
func TestCPXReaderConcurrentTracks(t *testing.T) {
	f, path := createContainerFile(t, "concurrent.cpx")
	cw := NewCPXWriter(f)
	video, _ := cw.AddTrack(TrackInfo{Type: TrackVideo, VideoCodec: VideoCodecVP8, Width: 16, Height: 16})
	audio, _ := cw.AddTrack(TrackInfo{Type: TrackAudio, AudioCodec: AudioCodecPCM, SampleRate: 8000, Channels: 1})
	const n = 50
	for i := 0; i < n; i++ {
		pts := int64(i) * 20000
		if err := cw.WriteSample(video, &Sample{Data: []byte{byte(i)}, PTS: pts, Key: i == 0}); err != nil {
			t.Fatalf("write video %d: %v", i, err)
		}
		if err := cw.WriteSample(audio, &Sample{Data: []byte{byte(i), 0}, PTS: pts, Duration: 20000}); err != nil {
			t.Fatalf("write audio %d: %v", i, err)
		}
	}
	if err := cw.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	cr, err := newCPXReader(openContainerFile(t, path))
	if err != nil {
		t.Fatalf("newCPXReader: %v", err)
	}

	read := func(track TrackType, errCh chan<- error) {
		var last int64 = -1
		for {
			s, err := cr.readSample(track)
			if err == io.EOF {
				errCh <- nil
				return
			}
			if err != nil {
				errCh <- err
				return
			}
			if s.PTS <= last {
				errCh <- errors.New("timestamps regressed")
				return
			}
			last = s.PTS
		}
	}
	errCh := make(chan error, 2)
	go read(TrackVideo, errCh)
	go read(TrackAudio, errCh)
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("concurrent read: %v", err)
		}
	}
}
