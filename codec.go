package compose

// TrackType identifies the media kind of a track.
type TrackType int

const (
	TrackUnknown TrackType = iota
	TrackAudio
	TrackVideo
)

func (t TrackType) String() string {
	switch t {
	case TrackAudio:
		return "audio"
	case TrackVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Direction identifies which side of a codec an operation concerns.
type Direction int

const (
	DirectionDecode Direction = iota
	DirectionEncode
)

func (d Direction) String() string {
	switch d {
	case DirectionDecode:
		return "decode"
	case DirectionEncode:
		return "encode"
	default:
		return "unknown"
	}
}

// VideoCodec identifies the video codec type.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecRaw     // uncompressed I420 planes
	VideoCodecVP8
	VideoCodecVP9
	VideoCodecH264
	VideoCodecAV1
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecRaw:
		return "RAW"
	case VideoCodecVP8:
		return "VP8"
	case VideoCodecVP9:
		return "VP9"
	case VideoCodecH264:
		return "H264"
	case VideoCodecAV1:
		return "AV1"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecRaw:
		return "video/raw"
	case VideoCodecVP8:
		return "video/VP8"
	case VideoCodecVP9:
		return "video/VP9"
	case VideoCodecH264:
		return "video/H264"
	case VideoCodecAV1:
		return "video/AV1"
	default:
		return ""
	}
}

// ClockRate returns the RTP clock rate for this codec.
func (c VideoCodec) ClockRate() uint32 {
	// All video codecs use 90kHz clock
	return 90000
}

// Compressed reports whether samples of this codec are entropy-coded.
// Uncompressed samples can never be transmuxed; they must pass through
// an encoder to enter an output container as a compressed track.
func (c VideoCodec) Compressed() bool {
	switch c {
	case VideoCodecVP8, VideoCodecVP9, VideoCodecH264, VideoCodecAV1:
		return true
	default:
		return false
	}
}

// AudioCodec identifies the audio codec type.
type AudioCodec int

const (
	AudioCodecUnknown AudioCodec = iota
	AudioCodecPCM     // signed 16-bit little-endian interleaved
	AudioCodecOpus
	AudioCodecAAC
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecPCM:
		return "PCM"
	case AudioCodecOpus:
		return "Opus"
	case AudioCodecAAC:
		return "AAC"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c AudioCodec) MimeType() string {
	switch c {
	case AudioCodecPCM:
		return "audio/L16"
	case AudioCodecOpus:
		return "audio/opus"
	case AudioCodecAAC:
		return "audio/AAC"
	default:
		return ""
	}
}

// Compressed reports whether samples of this codec are entropy-coded.
func (c AudioCodec) Compressed() bool {
	switch c {
	case AudioCodecOpus, AudioCodecAAC:
		return true
	default:
		return false
	}
}

// CodecMode records how an item's track reached the output container.
type CodecMode int

const (
	// ModeTranscoded means the track went through decode, effects and encode.
	ModeTranscoded CodecMode = iota
	// ModeTransmuxed means compressed samples were copied without a codec.
	ModeTransmuxed
)

func (m CodecMode) String() string {
	switch m {
	case ModeTranscoded:
		return "transcoded"
	case ModeTransmuxed:
		return "transmuxed"
	default:
		return "unknown"
	}
}

// ContainerFormat identifies a container an asset or export can use.
type ContainerFormat int

const (
	ContainerUnknown ContainerFormat = iota
	ContainerIVF                     // single video track (DKIF framing)
	ContainerWAV                     // single PCM audio track (RIFF framing)
	ContainerCPX                     // multitrack interchange container
)

func (f ContainerFormat) String() string {
	switch f {
	case ContainerIVF:
		return "ivf"
	case ContainerWAV:
		return "wav"
	case ContainerCPX:
		return "cpx"
	default:
		return "unknown"
	}
}

// acceptsVideo reports whether the container can carry the given video codec.
func (f ContainerFormat) acceptsVideo(c VideoCodec) bool {
	switch f {
	case ContainerIVF:
		return c == VideoCodecVP8 || c == VideoCodecVP9 || c == VideoCodecAV1
	case ContainerCPX:
		return c != VideoCodecUnknown
	default:
		return false
	}
}

// acceptsAudio reports whether the container can carry the given audio codec.
func (f ContainerFormat) acceptsAudio(c AudioCodec) bool {
	switch f {
	case ContainerWAV:
		return c == AudioCodecPCM
	case ContainerCPX:
		return c != AudioCodecUnknown
	default:
		return false
	}
}
