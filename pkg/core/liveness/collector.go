package liveness

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"time"

	_ "image/jpeg" // chunk decoding
	_ "image/png"

	"github.com/verilive/livenessd/pkg/core"
	"github.com/verilive/livenessd/pkg/core/media"
)

// Collector is the frame-count policy, for sources that deliver pre-decoded
// still images one per chunk. Each frame passes a sharpness filter before
// joining a fixed-capacity batch; blurry or undecodable chunks are skipped.
// Lower latency than the time-window policy, at the cost of relying on the
// upstream to deliver decodable stills.
type Collector struct {
	cfg PipelineConfig
	now func() time.Time

	start     time.Time
	firstSeen time.Time
	lastChunk time.Time
	seen      int
	rejected  int
	frames    []*image.RGBA
}

// NewCollector creates a frame-count collector.
func NewCollector(cfg PipelineConfig, now func() time.Time) *Collector {
	if now == nil {
		now = time.Now
	}
	return &Collector{cfg: cfg, now: now, start: now()}
}

// Add decodes one still image chunk and keeps it if it passes the sharpness
// filter. Full collectors ignore further chunks.
func (c *Collector) Add(chunk []byte, _ int64) {
	t := c.now()
	if c.firstSeen.IsZero() {
		c.firstSeen = t
	}
	c.lastChunk = t
	c.seen++

	if len(c.frames) >= c.cfg.RequiredFrames {
		return
	}

	img, _, err := image.Decode(bytes.NewReader(chunk))
	if err != nil {
		c.rejected++
		return
	}
	rgba := toRGBA(img)
	if media.Sharpness(rgba) <= c.cfg.SharpnessThreshold {
		c.rejected++
		return
	}
	c.frames = append(c.frames, rgba)
}

// Ready is true once the batch is full.
func (c *Collector) Ready() bool {
	return len(c.frames) >= c.cfg.RequiredFrames
}

// TimedOut mirrors the time-window policy: inactivity after the first chunk,
// or the overall timeout with nothing collected.
func (c *Collector) TimedOut() bool {
	t := c.now()
	if c.firstSeen.IsZero() {
		return t.Sub(c.start) >= c.cfg.OverallTimeout
	}
	if t.Sub(c.lastChunk) >= c.cfg.InactivityTimeout {
		return true
	}
	return t.Sub(c.start) >= c.cfg.OverallTimeout
}

// TimeoutError implements framePolicy.
func (c *Collector) TimeoutError() error {
	if c.firstSeen.IsZero() {
		return core.NewAccumulationError(core.CodeNoData,
			fmt.Sprintf("no frames received within %s", c.cfg.OverallTimeout))
	}
	return core.NewAccumulationError(core.CodeInsufficientFrames,
		fmt.Sprintf("collected %d/%d quality frames (%d seen, %d rejected)",
			len(c.frames), c.cfg.RequiredFrames, c.seen, c.rejected))
}

// Progress reports collected frames scaled onto the accumulation window so
// both policies present the same elapsed/target shape to observers.
func (c *Collector) Progress() (elapsed, target time.Duration) {
	target = c.cfg.AccumulationWindow
	if c.cfg.RequiredFrames > 0 {
		elapsed = target * time.Duration(len(c.frames)) / time.Duration(c.cfg.RequiredFrames)
	}
	return elapsed, target
}

// Produce encodes the collected batch.
func (c *Collector) Produce(_ context.Context) ([]media.EncodedFrame, error) {
	if len(c.frames) < c.cfg.RequiredFrames {
		return nil, core.NewDecodeError(core.CodeInsufficientFrames,
			fmt.Sprintf("collected %d/%d frames", len(c.frames), c.cfg.RequiredFrames))
	}
	encoded, err := media.EncodeFrames(c.frames[:c.cfg.RequiredFrames], c.cfg.CropSize)
	if err != nil {
		return nil, core.NewDecodeError(core.CodeDecodeFailed, fmt.Sprintf("encode frames: %v", err))
	}
	return encoded, nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
