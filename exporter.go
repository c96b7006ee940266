package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// ExportState represents the lifecycle stage of an export.
type ExportState int32

const (
	StateIdle          ExportState = iota // Not started
	StateLoadingAssets                    // Opening and probing sources
	StateProcessing                       // Decoding, transforming, encoding
	StateMuxing                           // Finalizing the container
	StateCompleted                        // Terminal success
	StateFailed                           // Terminal failure, result carries the cause
)

func (s ExportState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoadingAssets:
		return "loading_assets"
	case StateProcessing:
		return "processing"
	case StateMuxing:
		return "muxing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProgressState reports whether a meaningful completion percentage
// exists for an export.
type ProgressState int

const (
	// ProgressNotStarted: the export has not begun processing.
	ProgressNotStarted ProgressState = iota
	// ProgressUnavailable: running, but the total duration is unknown
	// (an unbounded feed contributes) so no percentage can be given.
	ProgressUnavailable
	// ProgressAvailable: the percentage is meaningful.
	ProgressAvailable
)

// ExporterConfig configures one export session.
type ExporterConfig struct {
	Composition *Composition
	OutputPath  string

	// Format selects the output container. Zero means derive it from
	// the OutputPath extension (.ivf, .wav, .cpx).
	Format ContainerFormat

	// VideoCodec and AudioCodec are the requested output codecs.
	// Defaults: VP8 and PCM.
	VideoCodec VideoCodec
	AudioCodec AudioCodec

	// Width and Height force the output video size; zero means the
	// first video item of each sequence decides. FrameRate, SampleRate
	// and Channels follow the same rule.
	Width     int
	Height    int
	FrameRate int

	SampleRate int
	Channels   int

	VideoBitrateBps int // default 1500000
	AudioBitrateBps int // default 64000
	VideoQuality    int // codec-specific, default 32

	// Policy decides between failing and substituting when the
	// requested codec cannot be produced. Default FormatFallback.
	Policy FormatPolicy

	// Clip selects the mixer's overflow behavior. Default ClipHard.
	Clip ClipMode

	Logger *logrus.Logger
}

func (cfg *ExporterConfig) withDefaults() (ExporterConfig, error) {
	c := *cfg
	if c.Composition == nil {
		return c, errors.New("exporter requires a composition")
	}
	if c.OutputPath == "" {
		return c, errors.New("exporter requires an output path")
	}
	if c.Format == ContainerUnknown {
		c.Format = formatForPath(c.OutputPath)
		if c.Format == ContainerUnknown {
			return c, fmt.Errorf("cannot infer container format from %q, set Format", c.OutputPath)
		}
	}
	if (c.Width > 0) != (c.Height > 0) {
		return c, errors.New("width and height must be set together")
	}
	if c.Width < 0 || c.Height < 0 || c.FrameRate < 0 || c.SampleRate < 0 || c.Channels < 0 {
		return c, errors.New("output parameters must be non-negative")
	}
	if c.VideoCodec == VideoCodecUnknown {
		c.VideoCodec = VideoCodecVP8
	}
	if c.AudioCodec == AudioCodecUnknown {
		c.AudioCodec = AudioCodecPCM
	}
	if c.VideoBitrateBps == 0 {
		c.VideoBitrateBps = 1500000
	}
	if c.AudioBitrateBps == 0 {
		c.AudioBitrateBps = 64000
	}
	if c.VideoQuality == 0 {
		c.VideoQuality = 32
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c, nil
}

// formatForPath maps an output file extension to its container format.
func formatForPath(path string) ContainerFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ivf":
		return ContainerIVF
	case ".wav":
		return ContainerWAV
	case ".cpx":
		return ContainerCPX
	default:
		return ContainerUnknown
	}
}

// Exporter runs one composition to one output file. An exporter is
// single-use: configure, Start (or Run), then Wait for the terminal
// state. A failed or cancelled export removes its partial output file.
type Exporter struct {
	cfg  ExporterConfig
	id   string
	log  *logrus.Entry
	rec  resultRecorder
	sawn atomic.Int32 // ExportState

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	started bool
	result  *ExportResult
	err     error
	file    *os.File
	mux     *Muxer
	probes  [][]*probedItem
	totalUs int64
}

// NewExporter validates the config and prepares an export session.
func NewExporter(cfg ExporterConfig) (*Exporter, error) {
	full, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Exporter{
		cfg:    full,
		id:     id,
		log:    full.Logger.WithFields(logrus.Fields{"export": id, "output": full.OutputPath}),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.sawn.Store(int32(StateIdle))
	return e, nil
}

// ID returns the session identifier used in logs.
func (e *Exporter) ID() string { return e.id }

// State returns the current lifecycle stage.
func (e *Exporter) State() ExportState { return ExportState(e.sawn.Load()) }

func (e *Exporter) setState(s ExportState) {
	old := ExportState(e.sawn.Swap(int32(s)))
	if old != s {
		e.log.WithFields(logrus.Fields{"from": old.String(), "to": s.String()}).Info("export state")
	}
}

// Start launches the export in the background. It can be called once.
func (e *Exporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrExporterStarted
	}
	e.started = true
	go e.runExport()
	return nil
}

// Cancel aborts a running export. The export transitions to FAILED
// with a cancellation cause and the partial output file is removed.
func (e *Exporter) Cancel() { e.cancel() }

// Wait blocks until the export reaches a terminal state and returns
// the frozen result or the terminal error.
func (e *Exporter) Wait() (*ExportResult, error) {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		return nil, errors.New("export not started")
	}
	<-e.done
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result, e.err
}

// Run starts the export and waits for it, cancelling when ctx is done.
func (e *Exporter) Run(ctx context.Context) (*ExportResult, error) {
	if err := e.Start(); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		e.Cancel()
		<-e.done
	case <-e.done:
	}
	return e.Wait()
}

// Progress reports a completion percentage derived from the highest
// presentation time written against the resolved composition duration.
func (e *Exporter) Progress() (ProgressState, float64) {
	switch e.State() {
	case StateIdle:
		return ProgressNotStarted, 0
	case StateCompleted:
		return ProgressAvailable, 100
	case StateFailed:
		return ProgressUnavailable, 0
	}
	e.mu.Lock()
	total := e.totalUs
	mux := e.mux
	e.mu.Unlock()
	if total <= 0 || mux == nil {
		return ProgressUnavailable, 0
	}
	pct := float64(mux.LastPTSUs()) / float64(total) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return ProgressAvailable, pct
}

func (e *Exporter) runExport() {
	defer close(e.done)

	res, err := e.export(e.ctx)
	teardownErr := e.teardown()
	if err == nil && teardownErr != nil {
		err = muxingError(teardownErr)
	}

	if err != nil {
		var ee *ExportError
		if !errors.As(err, &ee) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				err = cancelledError(err)
			} else {
				err = &ExportError{Kind: KindUnknown, Item: -1, Err: err}
			}
		}
		e.removeOutput()
		e.mu.Lock()
		e.err = err
		e.mu.Unlock()
		e.setState(StateFailed)
		e.log.WithError(err).Error("export failed")
		return
	}

	e.mu.Lock()
	e.result = res
	e.mu.Unlock()
	e.setState(StateCompleted)
	e.log.WithFields(logrus.Fields{
		"duration_ms": res.DurationMs,
		"bytes":       res.BytesWritten,
		"inputs":      len(res.ProcessedInputs),
	}).Info("export completed")
}

func (e *Exporter) export(ctx context.Context) (*ExportResult, error) {
	comp := e.cfg.Composition
	seqs := comp.Sequences()

	e.setState(StateLoadingAssets)
	probes, unknownDur, err := e.openProbes(ctx, seqs)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.probes = probes
	e.mu.Unlock()

	durations := make([][]int64, len(probes))
	for s := range probes {
		durations[s] = make([]int64, len(probes[s]))
		for i, p := range probes[s] {
			durations[s][i] = p.durationUs
		}
	}
	timelines, _, err := resolveTimelines(seqs, durations)
	if err != nil {
		return nil, sourceError(-1, TrackUnknown, err)
	}
	var totalUs int64
	for _, tl := range timelines {
		if tl.durationUs > totalUs {
			totalUs = tl.durationUs
		}
	}
	if !unknownDur {
		e.mu.Lock()
		e.totalUs = totalUs
		e.mu.Unlock()
	}

	vplans := make([]*videoPlan, len(timelines))
	videoCount := 0
	for s, tl := range timelines {
		plan, err := resolveVideoPlan(tl, probes[s], &e.cfg, e.cfg.Format, comp.transmuxVideo)
		if err != nil {
			return nil, err
		}
		if plan != nil {
			vplans[s] = plan
			videoCount++
		}
	}
	aplan, err := resolveAudioPlan(timelines, probes, &e.cfg, e.cfg.Format, comp.transmuxAudio)
	if err != nil {
		return nil, err
	}
	if videoCount == 0 && aplan == nil {
		return nil, unsupportedFormatError(TrackUnknown, DirectionEncode,
			errors.New("composition emits no tracks"))
	}
	if e.cfg.Format == ContainerIVF && videoCount > 1 {
		return nil, unsupportedFormatError(TrackVideo, DirectionEncode,
			fmt.Errorf("IVF carries one video track, composition emits %d", videoCount))
	}

	f, err := os.Create(e.cfg.OutputPath)
	if err != nil {
		return nil, muxingError(err)
	}
	e.mu.Lock()
	e.file = f
	e.mu.Unlock()

	mux := NewMuxer(newSink(e.cfg.Format, f))
	e.mu.Lock()
	e.mux = mux
	e.mu.Unlock()

	for s, plan := range vplans {
		if plan == nil {
			continue
		}
		id, err := mux.AddTrack(TrackInfo{
			Type:       TrackVideo,
			VideoCodec: plan.codec,
			Width:      plan.width,
			Height:     plan.height,
			FrameRate:  plan.frameRate,
			DurationUs: timelines[s].durationUs,
		})
		if err != nil {
			return nil, muxingError(err)
		}
		plan.track = id
	}

	var mixer *AudioMixer
	var aenc AudioEncoder
	var kickCh chan struct{}
	kick := func() {}
	if aplan != nil {
		var audioDurUs int64
		for s, tl := range timelines {
			if sequenceHasAudio(probes[s]) && tl.durationUs > audioDurUs {
				audioDurUs = tl.durationUs
			}
		}
		id, err := mux.AddTrack(TrackInfo{
			Type:       TrackAudio,
			AudioCodec: aplan.codec,
			SampleRate: aplan.sampleRate,
			Channels:   aplan.channels,
			DurationUs: audioDurUs,
		})
		if err != nil {
			return nil, muxingError(err)
		}
		aplan.track = id

		if !aplan.transmux {
			mixer, err = NewAudioMixer(aplan.sampleRate, aplan.channels, e.cfg.Clip)
			if err != nil {
				return nil, muxingError(err)
			}
			aenc, err = NewAudioEncoder(AudioEncoderConfig{
				Codec:       aplan.codec,
				SampleRate:  aplan.sampleRate,
				Channels:    aplan.channels,
				BitrateBps:  aplan.bitrate,
				FrameSizeMs: 20,
			})
			if err != nil {
				return nil, encoderInitError(-1, TrackAudio, err)
			}
			defer aenc.Close()
			kickCh = make(chan struct{}, 1)
			kick = func() {
				select {
				case kickCh <- struct{}{}:
				default:
				}
			}
		}
	}
	return e.process(ctx, timelines, probes, vplans, aplan, mux, mixer, aenc, kickCh, kick, f)
}

// process runs the sequence runners (and the mixed-audio drain when
// mixing) to completion, then finalizes the container.
func (e *Exporter) process(ctx context.Context, timelines []timeline, probes [][]*probedItem,
	vplans []*videoPlan, aplan *audioPlan, mux *Muxer, mixer *AudioMixer, aenc AudioEncoder,
	kickCh chan struct{}, kick func(), f *os.File) (*ExportResult, error) {

	e.setState(StateProcessing)

	runners := make([]*sequenceRunner, 0, len(timelines))
	for s, tl := range timelines {
		r := &sequenceRunner{
			tl:     tl,
			probes: probes[s],
			vplan:  vplans[s],
			mux:    mux,
			mixer:  mixer,
			mixID:  -1,
			kick:   kick,
			rec:    &e.rec,
			log:    e.log.WithField("sequence", s),
		}
		if aplan != nil && sequenceHasAudio(probes[s]) {
			if aplan.transmux {
				if aplan.mixSeq == s {
					r.aplan = aplan
				}
			} else {
				id, err := mixer.AddContributor()
				if err != nil {
					return nil, muxingError(err)
				}
				r.aplan = aplan
				r.mixID = id
			}
		}
		runners = append(runners, r)
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	errCh := make(chan error, len(runners)+1)
	report := func(err error) {
		if err == nil {
			return
		}
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			select {
			case errCh <- err:
			default:
			}
		}
		runCancel()
	}

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r *sequenceRunner) {
			defer wg.Done()
			report(r.run(runCtx))
		}(r)
	}

	producersDone := make(chan struct{})
	var drainWg sync.WaitGroup
	if mixer != nil {
		drainWg.Add(1)
		go func() {
			defer drainWg.Done()
			report(e.drainMixedAudio(runCtx, mixer, aenc, mux, aplan, kickCh, producersDone))
		}()
	}

	wg.Wait()
	close(producersDone)
	drainWg.Wait()

	select {
	case err := <-errCh:
		return nil, err
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.setState(StateMuxing)
	if err := mux.Finalize(); err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		return nil, muxingError(err)
	}

	videoCount := 0
	for _, p := range vplans {
		if p != nil {
			videoCount++
		}
	}
	return e.rec.freeze(e.cfg.OutputPath, e.cfg.Format, mux.LastPTSUs(), st.Size(), videoCount, aplan), nil
}

// drainMixedAudio moves committed mixer output through the audio
// encoder into the muxer. It wakes on contributor pushes and performs
// the final drain once every sequence runner has returned.
func (e *Exporter) drainMixedAudio(ctx context.Context, mixer *AudioMixer, enc AudioEncoder,
	mux *Muxer, plan *audioPlan, kickCh <-chan struct{}, producersDone <-chan struct{}) error {

	flush := func() error {
		for {
			c := mixer.ReadMixed()
			if c == nil {
				return nil
			}
			if err := e.encodeMixedChunk(enc, mux, plan, c); err != nil {
				return err
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-kickCh:
			if err := flush(); err != nil {
				return err
			}
		case <-producersDone:
			if err := flush(); err != nil {
				return err
			}
			enc.SignalEndOfInput()
			if err := e.drainAudioEncoder(enc, mux, plan); err != nil {
				return err
			}
			return mux.EndTrack(plan.track)
		}
	}
}

func (e *Exporter) encodeMixedChunk(enc AudioEncoder, mux *Muxer, plan *audioPlan, c *AudioChunk) error {
	for !enc.ReadyForInput() {
		if err := e.drainAudioEncoder(enc, mux, plan); err != nil {
			return err
		}
	}
	if err := enc.QueueChunk(c); err != nil {
		return muxingError(fmt.Errorf("audio encode: %w", err))
	}
	return e.drainAudioEncoder(enc, mux, plan)
}

func (e *Exporter) drainAudioEncoder(enc AudioEncoder, mux *Muxer, plan *audioPlan) error {
	for {
		s, err := enc.NextSample()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return muxingError(fmt.Errorf("audio encode: %w", err))
		}
		if s == nil {
			return nil
		}
		s.Track = TrackAudio
		if err := mux.WriteSample(plan.track, s); err != nil {
			return err
		}
	}
}

// openProbes opens every declared item's loader and reports its tracks
// and effective duration. The bool result marks a composition whose
// total duration cannot be known up front.
func (e *Exporter) openProbes(ctx context.Context, seqs []Sequence) ([][]*probedItem, bool, error) {
	probes := make([][]*probedItem, len(seqs))
	unknown := false
	declared := 0
	for s, seq := range seqs {
		items := seq.Items()
		probes[s] = make([]*probedItem, len(items))
		for i, item := range items {
			loader, err := newAssetLoader(item)
			if err != nil {
				return probes, false, sourceError(declared, TrackUnknown, err)
			}
			infos, err := loader.Open(ctx)
			if err != nil {
				loader.Close()
				if ctx.Err() != nil {
					return probes, false, err
				}
				return probes, false, sourceError(declared, TrackUnknown, err)
			}
			var probedUs int64
			for _, info := range infos {
				if info.DurationUs > probedUs {
					probedUs = info.DurationUs
				}
			}
			effective := item.effectiveDurationUs(probedUs)
			if effective <= 0 {
				unknown = true
			}
			probes[s][i] = &probedItem{
				loader:     loader,
				tracks:     newTrackSet(infos),
				durationUs: effective,
			}
			declared++
		}
	}
	e.log.WithField("items", declared).Debug("assets loaded")
	return probes, unknown, nil
}

func sequenceHasAudio(probes []*probedItem) bool {
	for _, p := range probes {
		if p.tracks.audio != nil {
			return true
		}
	}
	return false
}

// newSink selects the container writer for the output format.
func newSink(format ContainerFormat, f *os.File) MuxerSink {
	switch format {
	case ContainerIVF:
		return NewIVFWriter(f)
	case ContainerWAV:
		return NewWAVWriter(f)
	default:
		return NewCPXWriter(f)
	}
}

// teardown releases everything the export still holds: probe loaders
// no traversal consumed and the output file handle.
func (e *Exporter) teardown() error {
	e.mu.Lock()
	probes := e.probes
	f := e.file
	e.file = nil
	e.mu.Unlock()

	var result *multierror.Error
	for _, row := range probes {
		for _, p := range row {
			if p != nil && !p.used {
				if err := p.loader.Close(); err != nil {
					result = multierror.Append(result, err)
				}
			}
		}
	}
	if f != nil {
		if err := f.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// removeOutput deletes the partial output file of a failed export.
func (e *Exporter) removeOutput() {
	if _, err := os.Stat(e.cfg.OutputPath); err == nil {
		if err := os.Remove(e.cfg.OutputPath); err != nil {
			e.log.WithError(err).Warn("could not remove partial output")
		}
	}
}

// Export is the one-call convenience form: build an exporter, run it
// on ctx and wait for the result.
func Export(ctx context.Context, cfg ExporterConfig) (*ExportResult, error) {
	e, err := NewExporter(cfg)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx)
}
