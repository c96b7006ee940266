package compose

import (
	"io"
)

// DetectContainerFormat sniffs the container format from the first bytes
// of a file. Supported:
//   - IVF: WebM project container, "DKIF" signature
//   - WAV: RIFF/WAVE PCM container
//   - CPX: this package's multitrack interchange container
//
// Returns ContainerUnknown if the signature matches none of them.
func DetectContainerFormat(head []byte) ContainerFormat {
	if len(head) < 12 {
		return ContainerUnknown
	}
	switch {
	case string(head[0:4]) == ivfSignature:
		return ContainerIVF
	case string(head[0:4]) == "RIFF" && string(head[8:12]) == "WAVE":
		return ContainerWAV
	case string(head[0:4]) == cpxSignature:
		return ContainerCPX
	default:
		return ContainerUnknown
	}
}

// detectContainer reads the sniff window from r and rewinds it.
func detectContainer(r io.ReadSeeker) (ContainerFormat, error) {
	var head [12]byte
	n, err := io.ReadFull(r, head[:])
	if err != nil && err != io.ErrUnexpectedEOF {
		return ContainerUnknown, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return ContainerUnknown, err
	}
	return DetectContainerFormat(head[:n]), nil
}

// DetectVideoCodec detects the video codec from raw bitstream data.
// Supports VP8 (RFC 6386 frame tag), VP9 (frame marker), and H.264
// Annex-B start codes. Returns VideoCodecUnknown if the codec cannot
// be determined.
func DetectVideoCodec(data []byte) VideoCodec {
	if len(data) < 4 {
		return VideoCodecUnknown
	}
	if isAnnexBStartCode(data) {
		return VideoCodecH264
	}
	if isVP8Keyframe(data) {
		return VideoCodecVP8
	}
	if isVP9Frame(data) {
		return VideoCodecVP9
	}
	return VideoCodecUnknown
}

// isAnnexBStartCode checks for H.264/H.265 Annex-B start codes.
// Per ITU-T H.264 Annex B, NAL units are prefixed with:
//   - 4-byte start code: 0x00000001
//   - 3-byte start code: 0x000001
func isAnnexBStartCode(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return true
	}
	if data[0] == 0 && data[1] == 0 && data[2] == 1 {
		return true
	}
	return false
}

// isVP8Keyframe reports whether data starts a VP8 keyframe: frame tag
// bit 0 clear plus the 0x9D012A start code after the 3-byte frame tag.
func isVP8Keyframe(data []byte) bool {
	if len(data) < 10 {
		return false
	}
	frameTag := data[0]
	if frameTag&0x01 != 0 { // Not a keyframe
		return false
	}
	if len(data) >= 6 && data[3] == 0x9D && data[4] == 0x01 && data[5] == 0x2A {
		return true
	}
	return false
}

// isVP9Frame reports whether data looks like a VP9 frame: the 2-bit
// frame marker 0b10 in the top bits of the first byte.
func isVP9Frame(data []byte) bool {
	if len(data) < 3 {
		return false
	}
	frameMarker := (data[0] >> 6) & 0x03
	return frameMarker == 0x02
}
