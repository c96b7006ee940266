package compose

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// FormatPolicy decides what happens when the requested output codec
// cannot be produced.
type FormatPolicy int

const (
	// FormatFallback substitutes the nearest codec the container accepts
	// and an encoder exists for, recording the substitution per item.
	FormatFallback FormatPolicy = iota
	// FormatStrict fails the export with an unsupported-format error.
	FormatStrict
)

func (p FormatPolicy) String() string {
	switch p {
	case FormatFallback:
		return "fallback"
	case FormatStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// Fallback candidates, tried in order after the requested codec.
var (
	videoFallbackOrder = []VideoCodec{VideoCodecVP8, VideoCodecVP9, VideoCodecAV1, VideoCodecH264, VideoCodecRaw}
	audioFallbackOrder = []AudioCodec{AudioCodecPCM, AudioCodecOpus, AudioCodecAAC}
)

func videoEncodable(c VideoCodec) bool { return len(VideoEncoderProviders(c)) > 0 }
func audioEncodable(c AudioCodec) bool { return len(AudioEncoderProviders(c)) > 0 }

// probedItem is one declared item with the loader opened during asset
// loading and the track set it reported. The probe loader serves the
// item's first traversal; later traversals of a looping sequence open
// fresh loaders.
type probedItem struct {
	loader AssetLoader
	tracks trackSet
	used   bool
	// durationUs is the effective duration of one traversal.
	durationUs int64
}

// videoPlan is the resolved configuration of one sequence's output
// video track.
type videoPlan struct {
	seq       int
	track     int // muxer track index, assigned at registration
	codec     VideoCodec
	width     int
	height    int
	frameRate int
	bitrate   int
	quality   int
	// fallback marks that codec is a substitute for the requested one.
	fallback bool
}

// audioPlan is the resolved configuration of the single output audio
// track shared by all audio-emitting sequences.
type audioPlan struct {
	track      int
	codec      AudioCodec
	sampleRate int
	channels   int
	bitrate    int
	// transmux means the one contributing sequence copies compressed
	// samples straight to the muxer. Mixing always forces a decode, so
	// this is only possible with a single contributor.
	transmux bool
	mixSeq   int // contributing sequence when transmux, else -1
	fallback bool
}

// canTransmuxVideoItem reports whether one item's video track can be
// copied into the output track without a codec. A leading clip would
// need re-keyed sync points; effects and a size change need raw frames.
// Container acceptance is checked at plan level.
func canTransmuxVideoItem(item Item, info *TrackInfo, plan *videoPlan) bool {
	return info.VideoCodec == plan.codec &&
		!item.hasEffects(TrackVideo) &&
		item.clipStartUs == 0 &&
		info.Width == plan.width &&
		info.Height == plan.height
}

// canTransmuxAudioItem is the audio counterpart. Rate and channel
// conformance is checked at plan level.
func canTransmuxAudioItem(item Item, info *TrackInfo, codec AudioCodec) bool {
	return info != nil &&
		info.AudioCodec == codec &&
		!item.hasEffects(TrackAudio) &&
		item.clipStartUs == 0
}

// resolveVideoPlan fixes one sequence's output video track: dimensions,
// frame rate and codec. Codec candidates are tried in order: the first
// item's source codec when the composition prefers transmuxing, then
// the requested codec, then (under FormatFallback) anything the
// container accepts. A candidate is viable when either every scheduled
// item can be copied as-is or an encoder exists for it. Returns nil
// when the sequence emits no video.
func resolveVideoPlan(tl timeline, probes []*probedItem, cfg *ExporterConfig, format ContainerFormat, pref bool) (*videoPlan, error) {
	var first *TrackInfo
	for _, p := range probes {
		if p.tracks.video != nil {
			first = p.tracks.video
			break
		}
	}
	if first == nil {
		return nil, nil
	}

	plan := &videoPlan{
		seq:     tl.index,
		track:   -1,
		width:   first.Width,
		height:  first.Height,
		bitrate: cfg.VideoBitrateBps,
		quality: cfg.VideoQuality,
	}
	if cfg.Width > 0 && cfg.Height > 0 {
		plan.width, plan.height = cfg.Width, cfg.Height
	}
	plan.width &^= 1
	plan.height &^= 1
	if plan.width < 2 || plan.height < 2 {
		return nil, unsupportedFormatError(TrackVideo, DirectionEncode,
			fmt.Errorf("output size %dx%d too small", plan.width, plan.height))
	}
	plan.frameRate = cfg.FrameRate
	if plan.frameRate == 0 {
		plan.frameRate = first.FrameRate
	}
	if plan.frameRate == 0 {
		plan.frameRate = DefaultFrameRate
	}

	requested := cfg.VideoCodec
	var candidates []VideoCodec
	if pref && first.VideoCodec != requested {
		candidates = append(candidates, first.VideoCodec)
	}
	candidates = append(candidates, requested)
	if cfg.Policy == FormatFallback {
		for _, c := range videoFallbackOrder {
			if c != requested && !(pref && c == first.VideoCodec) {
				candidates = append(candidates, c)
			}
		}
	}

	for _, cand := range candidates {
		if !format.acceptsVideo(cand) {
			continue
		}
		plan.codec = cand
		needsEncoder := false
		for i := range tl.items {
			si := &tl.items[i]
			info := probes[si.itemIndex].tracks.video
			if info == nil {
				continue
			}
			if !canTransmuxVideoItem(si.item, info, plan) {
				needsEncoder = true
				break
			}
		}
		if needsEncoder && !videoEncodable(cand) {
			continue
		}
		plan.fallback = cand != requested && !(pref && cand == first.VideoCodec)
		return plan, nil
	}
	return nil, unsupportedFormatError(TrackVideo, DirectionEncode,
		fmt.Errorf("no usable video codec for %s output (requested %s)", format, requested))
}

// resolveAudioPlan fixes the single output audio track across all
// sequences. With more than one contributing sequence the audio is
// always decoded and mixed; with exactly one, a codec every scheduled
// item can be copied in makes the whole track a transmux. Returns nil
// when no sequence emits audio.
func resolveAudioPlan(timelines []timeline, probes [][]*probedItem, cfg *ExporterConfig, format ContainerFormat, pref bool) (*audioPlan, error) {
	var contributing []int
	var first *TrackInfo
	for s := range timelines {
		for _, p := range probes[s] {
			if p.tracks.audio != nil {
				contributing = append(contributing, s)
				if first == nil {
					first = p.tracks.audio
				}
				break
			}
		}
	}
	if first == nil {
		return nil, nil
	}

	plan := &audioPlan{
		track:      -1,
		mixSeq:     -1,
		bitrate:    cfg.AudioBitrateBps,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
	}
	if plan.sampleRate == 0 {
		plan.sampleRate = first.SampleRate
	}
	if plan.sampleRate == 0 {
		plan.sampleRate = 48000
	}
	if plan.channels == 0 {
		plan.channels = first.Channels
	}
	if plan.channels == 0 {
		plan.channels = 2
	}

	// Copying keeps the source clock, so a transmux is off the table
	// when the config pins a different one.
	copyable := len(contributing) == 1 &&
		(cfg.SampleRate == 0 || cfg.SampleRate == first.SampleRate) &&
		(cfg.Channels == 0 || cfg.Channels == first.Channels)

	requested := cfg.AudioCodec
	var candidates []AudioCodec
	if pref && first.AudioCodec != requested {
		candidates = append(candidates, first.AudioCodec)
	}
	candidates = append(candidates, requested)
	if cfg.Policy == FormatFallback {
		for _, c := range audioFallbackOrder {
			if c != requested && !(pref && c == first.AudioCodec) {
				candidates = append(candidates, c)
			}
		}
	}

	for _, cand := range candidates {
		if !format.acceptsAudio(cand) {
			continue
		}
		plan.codec = cand
		plan.fallback = cand != requested && !(pref && cand == first.AudioCodec)
		if copyable && allAudioTransmuxable(timelines[contributing[0]], probes[contributing[0]], cand, first) {
			plan.transmux = true
			plan.mixSeq = contributing[0]
			plan.sampleRate = first.SampleRate
			plan.channels = first.Channels
			return plan, nil
		}
		if audioEncodable(cand) {
			plan.transmux = false
			plan.mixSeq = -1
			return plan, nil
		}
	}
	return nil, unsupportedFormatError(TrackAudio, DirectionEncode,
		fmt.Errorf("no usable audio codec for %s output (requested %s)", format, requested))
}

// allAudioTransmuxable reports whether every scheduled item of the
// sequence can be copied into one audio track of the given codec. A
// gap (an item with no audio) or a clock change would need synthesis
// or resampling, which means decoding.
func allAudioTransmuxable(tl timeline, probes []*probedItem, codec AudioCodec, first *TrackInfo) bool {
	for i := range tl.items {
		si := &tl.items[i]
		info := probes[si.itemIndex].tracks.audio
		if info == nil ||
			!canTransmuxAudioItem(si.item, info, codec) ||
			info.SampleRate != first.SampleRate ||
			info.Channels != first.Channels {
			return false
		}
	}
	return true
}

// sequenceRunner drives one sequence's scheduled items through decode,
// effects and encode (or a straight copy) into the muxer and mixer. One
// goroutine runs both tracks, alternating on whichever is furthest
// behind, so the item's loader is never read concurrently and the
// cross-track skew entering the muxer stays within one sample.
type sequenceRunner struct {
	tl     timeline
	probes []*probedItem
	vplan  *videoPlan // nil: no video from this sequence
	aplan  *audioPlan // nil: no audio from this sequence
	mux    *Muxer
	mixer  *AudioMixer // nil when the audio track is a transmux
	mixID  int
	kick   func()
	rec    *resultRecorder
	log    *logrus.Entry

	// venc spans items so mid-sequence item boundaries only cost a
	// keyframe, not an encoder re-init.
	venc        VideoEncoder
	lastVideoUs int64
	lastAudioUs int64
}

// itemRun is the per-traversal processing state.
type itemRun struct {
	si     *scheduledItem
	loader AssetLoader
	tracks trackSet

	// cutUs bounds the item-local output timeline (loop truncation or a
	// forced duration), 0 when unbounded.
	cutUs int64

	videoDone bool
	vTransmux bool
	vdec      VideoDecoder
	effects   []FrameEffect
	vFrames   uint64

	audioDone   bool
	aTransmux   bool
	adec        AudioDecoder
	srcFormat   AudioFormat
	chainFormat AudioFormat
	limitFrames int64
	outFrames   int64 // emitted frames at the plan rate, for PTS and trimming
	aFrames     uint64
}

func (ir *itemRun) close() {
	if ir.vdec != nil {
		ir.vdec.Close()
	}
	if ir.adec != nil {
		ir.adec.Close()
	}
	if ir.loader != nil {
		ir.loader.Close()
	}
}

// itemCutUs returns where the item-local output timeline must stop:
// the loop truncation limit or the item's forced duration, whichever
// comes first.
func itemCutUs(si *scheduledItem) int64 {
	cut := si.limitUs
	if d := si.item.durationUs; d > 0 && (cut == 0 || d < cut) {
		cut = d
	}
	return cut
}

func (r *sequenceRunner) run(ctx context.Context) error {
	defer func() {
		if r.venc != nil {
			r.venc.Close()
		}
	}()

	for idx := range r.tl.items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.runItem(ctx, &r.tl.items[idx]); err != nil {
			return err
		}
	}

	if r.venc != nil {
		r.venc.SignalEndOfInput()
		if err := r.drainVideoEncoder(nil); err != nil {
			return err
		}
	}
	if r.vplan != nil {
		if err := r.mux.EndTrack(r.vplan.track); err != nil {
			return err
		}
	}
	if r.aplan != nil {
		if r.aplan.transmux {
			if err := r.mux.EndTrack(r.aplan.track); err != nil {
				return err
			}
		} else if r.mixID >= 0 {
			if err := r.mixer.EndContributor(r.mixID); err != nil {
				return muxingError(err)
			}
			r.kick()
		}
	}
	r.log.WithFields(logrus.Fields{
		"duration_us": r.tl.durationUs,
		"items":       len(r.tl.items),
	}).Debug("sequence finished")
	return nil
}

func (r *sequenceRunner) runItem(ctx context.Context, si *scheduledItem) error {
	ir, err := r.openItem(ctx, si)
	if err != nil {
		return err
	}
	defer ir.close()

	for !ir.videoDone || !ir.audioDone {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !ir.videoDone && (ir.audioDone || r.lastVideoUs <= r.lastAudioUs) {
			err = r.stepVideo(ctx, ir)
		} else {
			err = r.stepAudio(ctx, ir)
		}
		if err != nil {
			return err
		}
	}
	r.record(ir)
	return nil
}

// openItem acquires the traversal's loader (the probe for the first
// pass, a fresh one after) and sets up its per-track machinery.
func (r *sequenceRunner) openItem(ctx context.Context, si *scheduledItem) (*itemRun, error) {
	probe := r.probes[si.itemIndex]
	ir := &itemRun{si: si, cutUs: itemCutUs(si)}
	if !probe.used {
		probe.used = true
		ir.loader = probe.loader
		ir.tracks = probe.tracks
	} else {
		loader, err := newAssetLoader(si.item)
		if err != nil {
			return nil, sourceError(si.ordinal, TrackUnknown, err)
		}
		infos, err := loader.Open(ctx)
		if err != nil {
			loader.Close()
			if ctx.Err() != nil {
				return nil, err
			}
			return nil, sourceError(si.ordinal, TrackUnknown, err)
		}
		ir.loader = loader
		ir.tracks = newTrackSet(infos)
	}

	if info := ir.tracks.video; info != nil && r.vplan != nil {
		ir.vTransmux = canTransmuxVideoItem(si.item, info, r.vplan)
		if !ir.vTransmux {
			dec, err := NewVideoDecoder(VideoDecoderConfig{
				Codec:  info.VideoCodec,
				Width:  info.Width,
				Height: info.Height,
			})
			if err != nil {
				ir.close()
				return nil, decoderInitError(si.ordinal, TrackVideo, err)
			}
			ir.vdec = dec
			ir.effects = buildVideoChain(si.item, r.vplan)
			if r.venc != nil {
				// A fresh item mid-track must start decodable on its own.
				requestKeyframe(r.venc)
			}
		}
	} else {
		ir.videoDone = true
	}

	if info := ir.tracks.audio; info != nil && r.aplan != nil {
		if r.aplan.transmux {
			ir.aTransmux = true
		} else {
			dec, err := NewAudioDecoder(AudioDecoderConfig{
				Codec:      info.AudioCodec,
				SampleRate: info.SampleRate,
				Channels:   info.Channels,
			})
			if err != nil {
				ir.close()
				return nil, decoderInitError(si.ordinal, TrackAudio, err)
			}
			ir.adec = dec
			ir.srcFormat = AudioFormat{SampleRate: info.SampleRate, Channels: info.Channels}
			format := ir.srcFormat
			for _, p := range si.item.audioProcessors {
				if format, err = p.Configure(format); err != nil {
					ir.close()
					return nil, unsupportedFormatError(TrackAudio, DirectionDecode,
						fmt.Errorf("%s processor: %w", p.Name(), err))
				}
			}
			ir.chainFormat = format
			if ir.cutUs > 0 {
				ir.limitFrames = ir.cutUs * int64(r.aplan.sampleRate) / 1e6
			}
		}
	} else {
		ir.audioDone = true
	}
	return ir, nil
}

// buildVideoChain appends a conforming scaler to the item's effect
// chain. The scaler passes frames through untouched once dimensions
// already match, so it also covers user effects that change the size.
func buildVideoChain(item Item, plan *videoPlan) []FrameEffect {
	effects := append([]FrameEffect(nil), item.videoEffects...)
	if sc, err := NewScaleEffect(plan.width, plan.height, ScaleModeFit); err == nil {
		effects = append(effects, sc)
	}
	return effects
}

func requestKeyframe(enc VideoEncoder) {
	if kr, ok := enc.(interface{ RequestKeyframe() }); ok {
		kr.RequestKeyframe()
	}
}

// readErr classifies a loader read failure, letting cancellation pass
// through undressed so the export can report it as such.
func (r *sequenceRunner) readErr(ctx context.Context, ir *itemRun, track TrackType, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return sourceError(ir.si.ordinal, track, err)
}

// --- video ---

func (r *sequenceRunner) stepVideo(ctx context.Context, ir *itemRun) error {
	if ir.vTransmux {
		return r.stepVideoTransmux(ctx, ir)
	}

	s, err := ir.loader.ReadSample(ctx, TrackVideo)
	endOfInput := err == io.EOF || (err == nil && ir.cutUs > 0 && s.PTS >= ir.cutUs)
	if endOfInput {
		ir.vdec.SignalEndOfInput()
		if err := r.pumpVideoDecoder(ir); err != nil {
			return err
		}
		ir.videoDone = true
		return nil
	}
	if err != nil {
		return r.readErr(ctx, ir, TrackVideo, err)
	}

	for !ir.vdec.ReadyForInput() {
		if err := r.pumpVideoDecoder(ir); err != nil {
			return err
		}
		if ir.videoDone {
			return nil
		}
	}
	if err := ir.vdec.QueueSample(s); err != nil {
		return sourceError(ir.si.ordinal, TrackVideo, err)
	}
	return r.pumpVideoDecoder(ir)
}

// pumpVideoDecoder pulls every frame the decoder has ready and sends
// it through effects into the encoder. Frames before the clip window
// (negative timestamps) and past the cut are dropped.
func (r *sequenceRunner) pumpVideoDecoder(ir *itemRun) error {
	for {
		f, err := ir.vdec.NextFrame()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return sourceError(ir.si.ordinal, TrackVideo, err)
		}
		if f == nil {
			return nil
		}
		if ir.videoDone || f.PTS < 0 {
			continue
		}
		if ir.cutUs > 0 && f.PTS >= ir.cutUs {
			ir.videoDone = true
			continue
		}
		if err := r.encodeFrame(ir, f); err != nil {
			return err
		}
	}
}

func (r *sequenceRunner) encodeFrame(ir *itemRun, f *Frame) error {
	var err error
	for _, e := range ir.effects {
		if f, err = e.Apply(f); err != nil {
			return sourceError(ir.si.ordinal, TrackVideo, fmt.Errorf("%s effect: %w", e.Name(), err))
		}
	}
	f.PTS += ir.si.offsetUs

	if r.venc == nil {
		enc, err := NewVideoEncoder(VideoEncoderConfig{
			Codec:      r.vplan.codec,
			Width:      r.vplan.width,
			Height:     r.vplan.height,
			FPS:        r.vplan.frameRate,
			BitrateBps: r.vplan.bitrate,
			Quality:    r.vplan.quality,
		})
		if err != nil {
			return encoderInitError(ir.si.ordinal, TrackVideo, err)
		}
		r.venc = enc
	}
	for !r.venc.ReadyForInput() {
		if err := r.drainVideoEncoder(ir); err != nil {
			return err
		}
	}
	if err := r.venc.QueueFrame(f); err != nil {
		return muxingError(fmt.Errorf("video encode: %w", err))
	}
	return r.drainVideoEncoder(ir)
}

// drainVideoEncoder moves whatever the encoder has produced into the
// muxer. ir is nil during the final flush, after the last item has
// already been recorded.
func (r *sequenceRunner) drainVideoEncoder(ir *itemRun) error {
	for {
		s, err := r.venc.NextSample()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return muxingError(fmt.Errorf("video encode: %w", err))
		}
		if s == nil {
			return nil
		}
		s.Track = TrackVideo
		if err := r.mux.WriteSample(r.vplan.track, s); err != nil {
			return err
		}
		if ir != nil {
			ir.vFrames++
		}
		if s.PTS > r.lastVideoUs {
			r.lastVideoUs = s.PTS
		}
	}
}

func (r *sequenceRunner) stepVideoTransmux(ctx context.Context, ir *itemRun) error {
	s, err := ir.loader.ReadSample(ctx, TrackVideo)
	if err == io.EOF {
		ir.videoDone = true
		return nil
	}
	if err != nil {
		return r.readErr(ctx, ir, TrackVideo, err)
	}
	if ir.cutUs > 0 && s.PTS >= ir.cutUs {
		ir.videoDone = true
		return nil
	}
	s.PTS += ir.si.offsetUs
	if err := r.mux.WriteSample(r.vplan.track, s); err != nil {
		return err
	}
	ir.vFrames++
	if s.PTS > r.lastVideoUs {
		r.lastVideoUs = s.PTS
	}
	return nil
}

// --- audio ---

func (r *sequenceRunner) stepAudio(ctx context.Context, ir *itemRun) error {
	if ir.aTransmux {
		return r.stepAudioTransmux(ctx, ir)
	}

	s, err := ir.loader.ReadSample(ctx, TrackAudio)
	endOfInput := err == io.EOF || (err == nil && ir.cutUs > 0 && s.PTS >= ir.cutUs)
	if endOfInput {
		ir.adec.SignalEndOfInput()
		if err := r.pumpAudioDecoder(ir); err != nil {
			return err
		}
		if err := r.flushAudioChain(ir); err != nil {
			return err
		}
		ir.audioDone = true
		return nil
	}
	if err != nil {
		return r.readErr(ctx, ir, TrackAudio, err)
	}

	for !ir.adec.ReadyForInput() {
		if err := r.pumpAudioDecoder(ir); err != nil {
			return err
		}
		if ir.audioDone {
			return nil
		}
	}
	if err := ir.adec.QueueSample(s); err != nil {
		return sourceError(ir.si.ordinal, TrackAudio, err)
	}
	return r.pumpAudioDecoder(ir)
}

func (r *sequenceRunner) pumpAudioDecoder(ir *itemRun) error {
	for {
		c, err := ir.adec.NextChunk()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return sourceError(ir.si.ordinal, TrackAudio, err)
		}
		if c == nil {
			return nil
		}
		if ir.audioDone {
			continue
		}
		if err := r.contribute(ir, c.Data, AudioFormat{SampleRate: c.SampleRate, Channels: c.Channels}, false); err != nil {
			return err
		}
	}
}

// contribute runs decoded PCM through the item's processors, conforms
// it to the mix format, trims it at the cut and pushes it to the mixer.
// The output timestamp is rebuilt from the count of emitted frames so
// rate and speed changes stay continuous. flushed data has already been
// through the chain.
func (r *sequenceRunner) contribute(ir *itemRun, data []int16, format AudioFormat, flushed bool) error {
	var err error
	if !flushed {
		if data, err = conformPCM(data, format, ir.srcFormat); err != nil {
			return unsupportedFormatError(TrackAudio, DirectionDecode, err)
		}
		for _, p := range ir.si.item.audioProcessors {
			if data, err = p.Process(data); err != nil {
				return sourceError(ir.si.ordinal, TrackAudio, fmt.Errorf("%s processor: %w", p.Name(), err))
			}
		}
	}
	mixFormat := AudioFormat{SampleRate: r.aplan.sampleRate, Channels: r.aplan.channels}
	if data, err = conformPCM(data, ir.chainFormat, mixFormat); err != nil {
		return unsupportedFormatError(TrackAudio, DirectionEncode, err)
	}

	frames := int64(len(data) / r.aplan.channels)
	if frames == 0 {
		return nil
	}
	if ir.limitFrames > 0 {
		remaining := ir.limitFrames - ir.outFrames
		if remaining <= 0 {
			ir.audioDone = true
			return nil
		}
		if frames > remaining {
			frames = remaining
			data = data[:frames*int64(r.aplan.channels)]
		}
	}

	pts := ir.si.offsetUs + ir.outFrames*1e6/int64(r.aplan.sampleRate)
	err = r.mixer.PushChunk(r.mixID, &AudioChunk{
		Data:       data,
		SampleRate: r.aplan.sampleRate,
		Channels:   r.aplan.channels,
		PTS:        pts,
	})
	if err != nil {
		return muxingError(err)
	}
	ir.outFrames += frames
	ir.aFrames += uint64(frames)
	if ir.limitFrames > 0 && ir.outFrames >= ir.limitFrames {
		ir.audioDone = true
	}
	if end := ir.si.offsetUs + ir.outFrames*1e6/int64(r.aplan.sampleRate); end > r.lastAudioUs {
		r.lastAudioUs = end
	}
	r.kick()
	return nil
}

// flushAudioChain drains whatever the processors have buffered, running
// each flush through the rest of the chain.
func (r *sequenceRunner) flushAudioChain(ir *itemRun) error {
	procs := ir.si.item.audioProcessors
	var tail []int16
	for i, p := range procs {
		out := p.Flush()
		for j := i + 1; j < len(procs) && len(out) > 0; j++ {
			var err error
			if out, err = procs[j].Process(out); err != nil {
				return sourceError(ir.si.ordinal, TrackAudio, fmt.Errorf("%s processor: %w", procs[j].Name(), err))
			}
		}
		tail = append(tail, out...)
	}
	if len(tail) == 0 {
		return nil
	}
	return r.contribute(ir, tail, ir.chainFormat, true)
}

func (r *sequenceRunner) stepAudioTransmux(ctx context.Context, ir *itemRun) error {
	s, err := ir.loader.ReadSample(ctx, TrackAudio)
	if err == io.EOF {
		ir.audioDone = true
		return nil
	}
	if err != nil {
		return r.readErr(ctx, ir, TrackAudio, err)
	}
	if ir.cutUs > 0 {
		if s.PTS >= ir.cutUs {
			ir.audioDone = true
			return nil
		}
		// PCM can be cut to the exact frame; compressed audio stops at
		// sample granularity.
		if r.aplan.codec == AudioCodecPCM && s.PTS+s.Duration > ir.cutUs {
			trimPCMSample(s, ir.cutUs, r.aplan.sampleRate, r.aplan.channels)
			ir.audioDone = true
		}
	}
	s.PTS += ir.si.offsetUs
	if err := r.mux.WriteSample(r.aplan.track, s); err != nil {
		return err
	}
	if r.aplan.codec == AudioCodecPCM {
		ir.aFrames += uint64(len(s.Data) / 2 / r.aplan.channels)
	} else if s.Duration > 0 {
		ir.aFrames += uint64(s.Duration * int64(r.aplan.sampleRate) / 1e6)
	}
	if end := s.PTS + s.Duration; end > r.lastAudioUs {
		r.lastAudioUs = end
	}
	return nil
}

// trimPCMSample cuts a PCM sample so it ends exactly at cutUs.
func trimPCMSample(s *Sample, cutUs int64, rate, channels int) {
	keep := (cutUs - s.PTS) * int64(rate) / 1e6
	frameBytes := int64(channels * 2)
	if keep*frameBytes < int64(len(s.Data)) {
		s.Data = s.Data[:keep*frameBytes]
		s.Duration = cutUs - s.PTS
	}
}

// conformPCM converts interleaved PCM between formats. Only mono and
// stereo layouts convert implicitly; anything else needs an explicit
// ChannelMixer on the item.
func conformPCM(data []int16, from, to AudioFormat) ([]int16, error) {
	if from.Channels != to.Channels {
		var err error
		if data, err = convertChannels(data, from.Channels, to.Channels); err != nil {
			return nil, err
		}
	}
	if from.SampleRate != to.SampleRate {
		data = resampleLinear(data, to.Channels, from.SampleRate, to.SampleRate)
	}
	return data, nil
}

func convertChannels(samples []int16, in, out int) ([]int16, error) {
	switch {
	case in == out:
		return samples, nil
	case in == 1:
		res := make([]int16, len(samples)*out)
		for i, s := range samples {
			for c := 0; c < out; c++ {
				res[i*out+c] = s
			}
		}
		return res, nil
	case out == 1:
		frames := len(samples) / in
		res := make([]int16, frames)
		for i := 0; i < frames; i++ {
			var acc int32
			for c := 0; c < in; c++ {
				acc += int32(samples[i*in+c])
			}
			res[i] = int16(acc / int32(in))
		}
		return res, nil
	default:
		return nil, fmt.Errorf("no implicit %d to %d channel conversion, attach a ChannelMixer", in, out)
	}
}

// record reports the finished traversal to the result aggregator.
func (r *sequenceRunner) record(ir *itemRun) {
	pi := ProcessedInput{
		Sequence:   ir.si.seq,
		Item:       ir.si.itemIndex,
		Ordinal:    ir.si.ordinal,
		DurationUs: ir.si.durationUs(r.probes[ir.si.itemIndex].durationUs),
	}
	if ir.tracks.video != nil && r.vplan != nil {
		pi.VideoCodec = r.vplan.codec
		if ir.vTransmux {
			pi.VideoMode = ModeTransmuxed
		}
		pi.VideoFrames = ir.vFrames
		pi.FallbackApplied = pi.FallbackApplied || r.vplan.fallback
	}
	if ir.tracks.audio != nil && r.aplan != nil {
		pi.AudioCodec = r.aplan.codec
		if ir.aTransmux {
			pi.AudioMode = ModeTransmuxed
		}
		pi.AudioSamples = ir.aFrames
		pi.FallbackApplied = pi.FallbackApplied || r.aplan.fallback
	}
	r.rec.add(pi)
	r.log.WithFields(logrus.Fields{
		"item":    ir.si.itemIndex,
		"ordinal": ir.si.ordinal,
		"frames":  ir.vFrames,
		"samples": ir.aFrames,
	}).Debug("item finished")
}
