package compose

import (
	"errors"
	"fmt"
)

var (
	// ErrCodecNotSupported is returned when no provider can service a codec.
	ErrCodecNotSupported = errors.New("codec not supported")

	// ErrProviderNotFound is returned when a specific provider is requested
	// but not registered or not available.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrCodecBusy is returned when a sample is queued while the codec's
	// input queue is full. Callers must drain output first.
	ErrCodecBusy = errors.New("codec input queue full")

	// ErrInputClosed is returned when queueing input after SignalEndOfInput.
	ErrInputClosed = errors.New("codec input already closed")

	// ErrMuxerFinalized is returned when writing to a muxer after Finalize.
	ErrMuxerFinalized = errors.New("muxer already finalized")

	// ErrExporterStarted is returned when Start is called more than once.
	ErrExporterStarted = errors.New("export already started")
)

// ErrorKind classifies the terminal failure of an export.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindSourceUnreadable: an asset could not be opened or parsed.
	KindSourceUnreadable
	// KindDecoderInitFailed: a decoder could not be created for a track.
	KindDecoderInitFailed
	// KindEncoderInitFailed: an encoder could not be created for a track.
	KindEncoderInitFailed
	// KindUnsupportedFormat: a format is unsupported in the given direction
	// and no fallback was permitted.
	KindUnsupportedFormat
	// KindMuxingFailed: the output container rejected a track or sample.
	KindMuxingFailed
	// KindCancelled: the export was aborted before completion.
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindSourceUnreadable:
		return "source unreadable"
	case KindDecoderInitFailed:
		return "decoder init failed"
	case KindEncoderInitFailed:
		return "encoder init failed"
	case KindUnsupportedFormat:
		return "unsupported format"
	case KindMuxingFailed:
		return "muxing failed"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ExportError is the terminal error of a failed export. It carries enough
// context (track type, direction, item ordinal, cause) for the caller to
// decide on a fallback: reconfigure and restart the whole export. The
// pipeline itself never retries.
type ExportError struct {
	Kind      ErrorKind
	Track     TrackType // TrackUnknown when not track-specific
	Direction Direction // meaningful for codec and format errors
	Item      int       // item ordinal within the composition, -1 when not item-specific
	Err       error
}

func (e *ExportError) Error() string {
	msg := e.Kind.String()
	switch e.Kind {
	case KindDecoderInitFailed, KindEncoderInitFailed:
		msg = fmt.Sprintf("%s for %s track", msg, e.Track)
	case KindUnsupportedFormat:
		msg = fmt.Sprintf("%s for %s track (%s)", msg, e.Track, e.Direction)
	case KindSourceUnreadable:
		if e.Item >= 0 {
			msg = fmt.Sprintf("%s (item %d)", msg, e.Item)
		}
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ExportError) Unwrap() error { return e.Err }

// Is lets errors.Is match two ExportErrors by kind.
func (e *ExportError) Is(target error) bool {
	var t *ExportError
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// IsKind reports whether err is an ExportError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *ExportError
	return errors.As(err, &e) && e.Kind == kind
}

func sourceError(item int, track TrackType, err error) *ExportError {
	return &ExportError{Kind: KindSourceUnreadable, Track: track, Item: item, Err: err}
}

func decoderInitError(item int, track TrackType, err error) *ExportError {
	return &ExportError{Kind: KindDecoderInitFailed, Track: track, Direction: DirectionDecode, Item: item, Err: err}
}

func encoderInitError(item int, track TrackType, err error) *ExportError {
	return &ExportError{Kind: KindEncoderInitFailed, Track: track, Direction: DirectionEncode, Item: item, Err: err}
}

func unsupportedFormatError(track TrackType, dir Direction, err error) *ExportError {
	return &ExportError{Kind: KindUnsupportedFormat, Track: track, Direction: dir, Item: -1, Err: err}
}

func muxingError(err error) *ExportError {
	return &ExportError{Kind: KindMuxingFailed, Item: -1, Err: err}
}

func cancelledError(err error) *ExportError {
	return &ExportError{Kind: KindCancelled, Item: -1, Err: err}
}
