// Package compose renders compositions of media sources into a single
// container file.
//
// Key pieces include:
//   - Composition/Sequence/Item (the edit model: clipping, looping,
//     effects, track removal)
//   - AssetLoader over container files, still images, and live frame
//     feeds (FrameFeed, RTPFeedBridge)
//   - Video/Audio encoders and decoders behind a provider registry
//   - AudioMixer for additive cross-sequence mixing
//   - Muxer with IVF, WAV and CPX container sinks
//   - Exporter, the state machine driving one composition to one file
//
// # Architecture
//
//	Video: Source -> AssetLoader -> Decoder -> FrameEffects -> Encoder -> Muxer
//	Audio: Source -> AssetLoader -> Decoder -> AudioProcessors -> Mixer -> Encoder -> Muxer
//	Transmux: Source -> AssetLoader -> Muxer (no codecs touched)
//
// Each sequence becomes one video track; audio from all sequences is
// mixed into one track. The Exporter runs sequences concurrently and
// interleaves samples by presentation time.
//
// # Native Libraries
//
// VP8/VP9 bindings load the libmedia_vpx wrapper at runtime via purego
// (CGO_ENABLED=0 works), AV1 loads libmedia_av1 the same way. Set
// COMPOSE_VPX_LIB_PATH or COMPOSE_AV1_LIB_PATH to the directory
// containing the library. When a wrapper is absent its providers report
// unavailable; exports then fall back to another codec or fail,
// depending on FormatPolicy.
//
// # Supported Codecs
//
// Video: VP8/VP9 (libvpx), AV1 (libaom), raw I420 (builtin); H.264
// samples pass through when transmuxing.
// Audio: PCM S16LE (builtin), Opus decode (pure Go).
// Availability depends on which native libraries are present at runtime.
package compose
