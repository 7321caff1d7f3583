// Package stream models the real-time media source for one meeting: a
// signaling connection that authenticates and negotiates the media server,
// and a media connection that delivers raw per-participant video data. The
// orchestration core consumes it only through the Source and Handler
// interfaces so the state machine stays testable without a live transport.
package stream

import (
	"context"
)

// Codec identifies how the source delivers video data.
type Codec string

const (
	// CodecH264 delivers raw H.264 chunks that need batch decoding.
	CodecH264 Codec = "h264"
	// CodecPNG delivers pre-decoded still images, one per message.
	CodecPNG Codec = "png"
)

// Descriptor identifies one meeting's stream.
type Descriptor struct {
	MeetingID  string
	StreamID   string
	ServerURLs []string
	Codec      Codec
}

// SystemParticipantID is the sentinel identifier the platform uses for the
// host/system stream; data carrying it is never routed to a pipeline.
const SystemParticipantID = "0"

// Handler receives inbound stream events. All methods are invoked from the
// source's read loop, one event at a time.
type Handler interface {
	// OnJoinConfirm reports the join result. A non-zero status is fatal.
	OnJoinConfirm(statusCode int)
	// OnParticipantJoin announces a participant before any data arrives.
	// Sources that cannot observe joins may never call it; pipelines are
	// created lazily on first data either way.
	OnParticipantJoin(participantID, name string)
	// OnRawData delivers one chunk of video data for a participant.
	OnRawData(data []byte, participantID, name string, timestampMs int64)
	// OnLeave reports that the stream ended; always session-fatal.
	OnLeave(reasonCode int)
	// OnSessionUpdate reports a mid-session state change operation.
	OnSessionUpdate(opCode int)
}

// Source is one meeting's stream connection. Connect blocks until the
// connection is established (or fails); events are then delivered to the
// handler from a background read loop. Close is idempotent.
type Source interface {
	Connect(ctx context.Context, h Handler) error
	Close() error
}

// Dialer constructs Sources from descriptors. Injected into the orchestrator
// so tests can substitute a fake transport.
type Dialer interface {
	Dial(desc Descriptor) Source
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(desc Descriptor) Source

// Dial implements Dialer.
func (f DialerFunc) Dial(desc Descriptor) Source { return f(desc) }
