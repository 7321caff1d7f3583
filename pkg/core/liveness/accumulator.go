package liveness

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/verilive/livenessd/pkg/core"
	"github.com/verilive/livenessd/pkg/core/media"
)

// framePolicy turns asynchronously arriving raw chunks into the fixed batch
// of encoded frames the scoring contract requires. Both accumulation
// policies implement it: produce exactly RequiredFrames usable frames or
// fail with a typed timeout/insufficiency error.
type framePolicy interface {
	// Add buffers one inbound chunk.
	Add(chunk []byte, timestampMs int64)
	// Ready reports that enough evidence is buffered to produce a batch.
	Ready() bool
	// TimedOut reports that the pipeline should give up waiting.
	TimedOut() bool
	// TimeoutError describes why TimedOut fired, with diagnostic context.
	TimeoutError() error
	// Progress reports elapsed accumulation time against the target.
	Progress() (elapsed, target time.Duration)
	// Produce builds the batch. Called at most once, after Ready.
	Produce(ctx context.Context) ([]media.EncodedFrame, error)
}

// Decoder is the batch-decode dependency of the time-window policy.
type Decoder interface {
	DecodeTimed(ctx context.Context, data []byte) ([]*image.RGBA, time.Duration, error)
}

// Accumulator is the time-window policy: buffer every chunk from first byte
// until the accumulation window elapses, then decode the concatenated buffer
// in one batch and select the middle consecutive run of frames.
type Accumulator struct {
	cfg     PipelineConfig
	decoder Decoder
	now     func() time.Time

	start      time.Time
	firstChunk time.Time
	lastChunk  time.Time
	chunks     int
	buf        []byte
}

// NewAccumulator creates a time-window accumulator. start marks when the
// participant was first seen, anchoring the overall timeout.
func NewAccumulator(cfg PipelineConfig, decoder Decoder, now func() time.Time) *Accumulator {
	if now == nil {
		now = time.Now
	}
	return &Accumulator{cfg: cfg, decoder: decoder, now: now, start: now()}
}

// Add implements framePolicy.
func (a *Accumulator) Add(chunk []byte, _ int64) {
	t := a.now()
	if a.firstChunk.IsZero() {
		a.firstChunk = t
	}
	a.lastChunk = t
	a.chunks++
	a.buf = append(a.buf, chunk...)
}

// Ready is true once the accumulation window has elapsed since the first
// chunk.
func (a *Accumulator) Ready() bool {
	if a.firstChunk.IsZero() {
		return false
	}
	return a.now().Sub(a.firstChunk) >= a.cfg.AccumulationWindow
}

// TimedOut is true when the participant went silent mid-accumulation, or
// never produced a byte within the overall timeout.
func (a *Accumulator) TimedOut() bool {
	t := a.now()
	if a.firstChunk.IsZero() {
		return t.Sub(a.start) >= a.cfg.OverallTimeout
	}
	return t.Sub(a.lastChunk) >= a.cfg.InactivityTimeout
}

// TimeoutError implements framePolicy.
func (a *Accumulator) TimeoutError() error {
	if a.firstChunk.IsZero() {
		return core.NewAccumulationError(core.CodeNoData,
			fmt.Sprintf("no data received within %s", a.cfg.OverallTimeout))
	}
	return core.NewAccumulationError(core.CodeStreamTimeout,
		fmt.Sprintf("stream went silent after %d chunks (%d bytes, %s accumulated)",
			a.chunks, len(a.buf), a.lastChunk.Sub(a.firstChunk).Round(time.Millisecond)))
}

// Progress implements framePolicy.
func (a *Accumulator) Progress() (elapsed, target time.Duration) {
	if a.firstChunk.IsZero() {
		return 0, a.cfg.AccumulationWindow
	}
	elapsed = a.now().Sub(a.firstChunk)
	if elapsed > a.cfg.AccumulationWindow {
		elapsed = a.cfg.AccumulationWindow
	}
	return elapsed, a.cfg.AccumulationWindow
}

// Produce batch-decodes the accumulated buffer and selects the middle
// consecutive RequiredFrames frames. The insufficiency error carries enough
// context to tell "too little data" apart from a decoder fault.
func (a *Accumulator) Produce(ctx context.Context) ([]media.EncodedFrame, error) {
	frames, decodeTime, err := a.decoder.DecodeTimed(ctx, a.buf)
	if err != nil && len(frames) == 0 {
		return nil, core.NewDecodeError(core.CodeDecodeFailed,
			fmt.Sprintf("batch decode failed after %d chunks (%d bytes, decode took %s): %v",
				a.chunks, len(a.buf), decodeTime.Round(time.Millisecond), err))
	}

	selected, err := media.SelectConsecutive(frames, a.cfg.RequiredFrames)
	if err != nil {
		return nil, core.NewDecodeError(core.CodeInsufficientFrames,
			fmt.Sprintf("%v (from %d chunks, %d bytes, decode took %s)",
				err, a.chunks, len(a.buf), decodeTime.Round(time.Millisecond)))
	}

	encoded, err := media.EncodeFrames(selected, a.cfg.CropSize)
	if err != nil {
		return nil, core.NewDecodeError(core.CodeDecodeFailed, fmt.Sprintf("encode frames: %v", err))
	}
	return encoded, nil
}
