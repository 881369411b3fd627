package render

import (
	"context"
	"time"
)

// DefaultQuantum is the pause between overlay batches when no idle signal is
// available.
const DefaultQuantum = 4 * time.Millisecond

// Yielder hands control back to the interactive side between overlay batches.
type Yielder interface {
	Yield(ctx context.Context) error
}

// QuantumYielder sleeps for a fixed quantum.
type QuantumYielder struct {
	Quantum time.Duration
}

// Yield implements Yielder.
func (y QuantumYielder) Yield(ctx context.Context) error {
	q := y.Quantum
	if q <= 0 {
		q = DefaultQuantum
	}
	t := time.NewTimer(q)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IdleYielder waits for the host to signal idle time.
type IdleYielder struct {
	Idle <-chan struct{}
}

// Yield implements Yielder.
func (y IdleYielder) Yield(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-y.Idle:
		return nil
	}
}

// NewYielder returns an IdleYielder when idle is non-nil and a QuantumYielder
// otherwise.
func NewYielder(idle <-chan struct{}, quantum time.Duration) Yielder {
	if idle != nil {
		return IdleYielder{Idle: idle}
	}
	return QuantumYielder{Quantum: quantum}
}
