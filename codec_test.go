package compose

import (
	"testing"
)

func TestVideoCodecString(t *testing.T) {
	tests := []struct {
		codec VideoCodec
		want  string
	}{
		{VideoCodecRaw, "RAW"},
		{VideoCodecVP8, "VP8"},
		{VideoCodecVP9, "VP9"},
		{VideoCodecH264, "H264"},
		{VideoCodecAV1, "AV1"},
		{VideoCodecUnknown, "Unknown"},
		{VideoCodec(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.codec.String(); got != tt.want {
				t.Errorf("VideoCodec.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVideoCodecMimeType(t *testing.T) {
	tests := []struct {
		codec VideoCodec
		want  string
	}{
		{VideoCodecRaw, "video/raw"},
		{VideoCodecVP8, "video/VP8"},
		{VideoCodecVP9, "video/VP9"},
		{VideoCodecH264, "video/H264"},
		{VideoCodecAV1, "video/AV1"},
		{VideoCodecUnknown, ""},
	}

	for _, tt := range tests {
		if got := tt.codec.MimeType(); got != tt.want {
			t.Errorf("%s.MimeType() = %q, want %q", tt.codec, got, tt.want)
		}
	}
}

func TestVideoCodecCompressed(t *testing.T) {
	tests := []struct {
		codec VideoCodec
		want  bool
	}{
		{VideoCodecRaw, false},
		{VideoCodecVP8, true},
		{VideoCodecVP9, true},
		{VideoCodecH264, true},
		{VideoCodecAV1, true},
		{VideoCodecUnknown, false},
	}

	for _, tt := range tests {
		if got := tt.codec.Compressed(); got != tt.want {
			t.Errorf("%s.Compressed() = %v, want %v", tt.codec, got, tt.want)
		}
	}
}

func TestAudioCodecString(t *testing.T) {
	tests := []struct {
		codec AudioCodec
		want  string
	}{
		{AudioCodecPCM, "PCM"},
		{AudioCodecOpus, "Opus"},
		{AudioCodecAAC, "AAC"},
		{AudioCodecUnknown, "Unknown"},
		{AudioCodec(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.codec.String(); got != tt.want {
				t.Errorf("AudioCodec.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAudioCodecCompressed(t *testing.T) {
	tests := []struct {
		codec AudioCodec
		want  bool
	}{
		{AudioCodecPCM, false},
		{AudioCodecOpus, true},
		{AudioCodecAAC, true},
		{AudioCodecUnknown, false},
	}

	for _, tt := range tests {
		if got := tt.codec.Compressed(); got != tt.want {
			t.Errorf("%s.Compressed() = %v, want %v", tt.codec, got, tt.want)
		}
	}
}

func TestContainerFormatString(t *testing.T) {
	tests := []struct {
		format ContainerFormat
		want   string
	}{
		{ContainerIVF, "ivf"},
		{ContainerWAV, "wav"},
		{ContainerCPX, "cpx"},
		{ContainerUnknown, "unknown"},
	}

	for _, tt := range tests {
		if got := tt.format.String(); got != tt.want {
			t.Errorf("ContainerFormat.String() = %q, want %q", got, tt.want)
		}
	}
}

func TestContainerAcceptsVideo(t *testing.T) {
	tests := []struct {
		format ContainerFormat
		codec  VideoCodec
		want   bool
	}{
		{ContainerIVF, VideoCodecVP8, true},
		{ContainerIVF, VideoCodecVP9, true},
		{ContainerIVF, VideoCodecAV1, true},
		{ContainerIVF, VideoCodecRaw, false},
		{ContainerIVF, VideoCodecH264, false},
		{ContainerCPX, VideoCodecRaw, true},
		{ContainerCPX, VideoCodecH264, true},
		{ContainerCPX, VideoCodecUnknown, false},
		{ContainerWAV, VideoCodecVP8, false},
	}

	for _, tt := range tests {
		if got := tt.format.acceptsVideo(tt.codec); got != tt.want {
			t.Errorf("%s.acceptsVideo(%s) = %v, want %v", tt.format, tt.codec, got, tt.want)
		}
	}
}

func TestContainerAcceptsAudio(t *testing.T) {
	tests := []struct {
		format ContainerFormat
		codec  AudioCodec
		want   bool
	}{
		{ContainerWAV, AudioCodecPCM, true},
		{ContainerWAV, AudioCodecOpus, false},
		{ContainerWAV, AudioCodecAAC, false},
		{ContainerCPX, AudioCodecPCM, true},
		{ContainerCPX, AudioCodecOpus, true},
		{ContainerCPX, AudioCodecUnknown, false},
		{ContainerIVF, AudioCodecPCM, false},
	}

	for _, tt := range tests {
		if got := tt.format.acceptsAudio(tt.codec); got != tt.want {
			t.Errorf("%s.acceptsAudio(%s) = %v, want %v", tt.format, tt.codec, got, tt.want)
		}
	}
}

func TestCodecModeString(t *testing.T) {
	if got := ModeTranscoded.String(); got != "transcoded" {
		t.Errorf("ModeTranscoded.String() = %q", got)
	}
	if got := ModeTransmuxed.String(); got != "transmuxed" {
		t.Errorf("ModeTransmuxed.String() = %q", got)
	}
}
