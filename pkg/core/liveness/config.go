package liveness

import (
	"time"
)

// PipelineConfig controls per-participant accumulation and batching.
type PipelineConfig struct {
	// AccumulationWindow is how long raw chunks are buffered after the
	// first byte before the batch is decoded.
	AccumulationWindow time.Duration
	// InactivityTimeout fails the pipeline when no chunk has arrived for
	// this long after the first one — a participant going silent
	// mid-accumulation.
	InactivityTimeout time.Duration
	// OverallTimeout fails the pipeline when no usable batch has been
	// produced this long after the participant was first seen.
	OverallTimeout time.Duration
	// PollInterval is the tick at which the readiness and timeout
	// predicates are evaluated.
	PollInterval time.Duration
	// RequiredFrames is the exact batch size the scoring contract needs.
	RequiredFrames int
	// CropSize is the output resolution (square) of submitted frames.
	CropSize int
	// SharpnessThreshold rejects blurry frames in the frame-count policy.
	SharpnessThreshold float64
	// ChunkQueueSize bounds the per-participant inbound chunk channel;
	// chunks beyond it are dropped.
	ChunkQueueSize int
}

// DefaultPipelineConfig returns the production defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		AccumulationWindow: 4 * time.Second,
		InactivityTimeout:  5 * time.Second,
		OverallTimeout:     30 * time.Second,
		PollInterval:       250 * time.Millisecond,
		RequiredFrames:     10,
		CropSize:           224,
		SharpnessThreshold: 50.0,
		ChunkQueueSize:     100,
	}
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	def := DefaultPipelineConfig()
	if c.AccumulationWindow <= 0 {
		c.AccumulationWindow = def.AccumulationWindow
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = def.InactivityTimeout
	}
	if c.OverallTimeout <= 0 {
		c.OverallTimeout = def.OverallTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.RequiredFrames <= 0 {
		c.RequiredFrames = def.RequiredFrames
	}
	if c.CropSize <= 0 {
		c.CropSize = def.CropSize
	}
	if c.SharpnessThreshold <= 0 {
		c.SharpnessThreshold = def.SharpnessThreshold
	}
	if c.ChunkQueueSize <= 0 {
		c.ChunkQueueSize = def.ChunkQueueSize
	}
	return c
}
