// Package instrument implements the protocol adapters for the classifiers
// and particle counters a tandem scan drives. Each model speaks its own
// line-oriented command set over a serial or network transport; the shared
// request/response plumbing lives in Client and the per-model wire formats
// in the individual adapters.
package instrument

import (
	"context"
	"time"
)

// Role identifies an instrument's position in a tandem scan.
type Role string

const (
	RoleClassifier1 Role = "classifier-1"
	RoleClassifier2 Role = "classifier-2"
	RoleCounter     Role = "counter"
)

// ConnState represents the stages of an instrument connection.
type ConnState uint32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Faulted
)

// String returns the string representation of the state.
func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Instrument is the capability set every adapter provides.
type Instrument interface {
	// Model returns the vendor/model tag, e.g. "cpma" or "cpc-tsi-377x".
	Model() string

	// Connect opens the transport and verifies the device identity.
	// It returns ErrConnect on timeout or a malformed identification
	// response; the caller may retry.
	Connect(ctx context.Context) error

	// Close tears down the transport. Idempotent.
	Close() error

	// State reports the current connection state.
	State() ConnState
}

// Classifier selects particles by a size or mass setpoint.
type Classifier interface {
	Instrument

	// Prepare applies the flow settings and, on models that run/stop,
	// starts classification. Called once after Connect.
	Prepare(ctx context.Context) error

	// SetSetpoint commands a new size or mass value in the model's native
	// units. Returns ErrSetpointRejected if the device refuses the value,
	// ErrComms on timeout or link failure.
	SetSetpoint(ctx context.Context, value float64) error

	// Ready reports whether the classifier output has stabilised on the
	// last commanded setpoint.
	Ready(ctx context.Context) (bool, error)

	// Stop halts classification on models that run/stop.
	Stop(ctx context.Context) error
}

// Counter measures particle concentration.
type Counter interface {
	Instrument

	// ReadAveraged samples concentration over the requested window and
	// returns the mean. The call blocks for approximately the window plus
	// protocol overhead.
	ReadAveraged(ctx context.Context, window time.Duration) (float64, error)
}

// FlowSettings parameterises a classifier sweep. RorQsh is the resolution
// (CPMA Rm) or sheath flow in lpm (AAC, DMA) depending on the model; the
// two interpretations are mutually exclusive per classifier and the
// conversion is instrument-specific.
type FlowSettings struct {
	SampleFlow float64 // lpm
	RorQsh     float64
}
