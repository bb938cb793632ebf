package lib

import (
	"math/rand"
	"sync"
	"time"
)

// Fault is what the injector did to an outbound frame.
type Fault int

const (
	FaultNone Fault = iota
	FaultDropped
	FaultCorrupted
)

func (f Fault) String() string {
	switch f {
	case FaultDropped:
		return "drop"
	case FaultCorrupted:
		return "corrupt"
	}
	return "none"
}

// FaultInjector degrades outbound frames to model an unreliable channel.
// Every call draws fresh random numbers, so retransmissions are judged
// independently. It is safe for concurrent use.
type FaultInjector struct {
	loss, corrupt float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewFaultInjector clamps both probabilities to [0,1]. A nil src seeds from the clock.
func NewFaultInjector(loss, corrupt float64, src rand.Source) *FaultInjector {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &FaultInjector{
		loss:    clamp01(loss),
		corrupt: clamp01(corrupt),
		rng:     rand.New(src),
	}
}

func clamp01(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

func (f *FaultInjector) draw() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Float64()
}

// ShouldDrop returns true with the loss probability.
func (f *FaultInjector) ShouldDrop() bool {
	return f.loss > 0 && f.draw() < f.loss
}

// ShouldCorrupt returns true with the corruption probability.
func (f *FaultInjector) ShouldCorrupt() bool {
	return f.corrupt > 0 && f.draw() < f.corrupt
}

// Apply decides the fate of one transmission attempt. A dropped frame must
// not be sent. A corrupted frame is a copy whose last byte, part of the
// checksum field, is overwritten; the caller's slice is never modified.
func (f *FaultInjector) Apply(frame []byte) ([]byte, Fault) {
	if f == nil {
		return frame, FaultNone
	}
	if f.ShouldDrop() {
		return nil, FaultDropped
	}
	if f.ShouldCorrupt() && len(frame) > 0 {
		out := make([]byte, len(frame))
		copy(out, frame)
		out[len(out)-1] = corruptionByte
		return out, FaultCorrupted
	}
	return frame, FaultNone
}
