// Package xerrors implements the fluxmeter's error-handling design: a
// small set of typed error kinds and an installable handler, following
// the sentinel-error style of sbinet-tmvl/pumas's package (ErrConfig,
// ErrIndex, ErrIO, ErrValue) but wrapped so callers can use errors.Is
// and errors.As against the Kind.
package xerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error raised by the fluxmeter.
type Kind int

const (
	// BadInput marks a caller-supplied value that is out of domain,
	// e.g. a non-positive kinetic energy.
	BadInput Kind = iota
	// IO marks a failure to read a physics table, DEM, reference table
	// or geomagnet file.
	IO
	// Format marks a structurally inconsistent file (bad header, wrong
	// body size).
	Format
	// Resource marks an allocation failure.
	Resource
	// PhysicsSetup marks an unknown material or a physics-file load
	// refused by the transport driver.
	PhysicsSetup
)

func (k Kind) String() string {
	switch k {
	case BadInput:
		return "bad input"
	case IO:
		return "io"
	case Format:
		return "format"
	case Resource:
		return "resource"
	case PhysicsSetup:
		return "physics setup"
	default:
		return "unknown"
	}
}

// Error is the wrapped error type raised through a Handler.
type Error struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "flux", "layer.New"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("mulder: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("mulder: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is lets errors.Is(err, BadInput) work by comparing kinds through a
// sentinel wrapper, since Kind itself is not an error.
func (k Kind) Is(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// Handler is a process- or instance-level sink for signalled errors. It
// never panics or exits; it observes.
type Handler func(*Error)

// defaultHandler is consulted for construction-time errors raised before
// any Fluxmeter exists. It is swappable, never a hard-coded exit(1).
var defaultHandler Handler = func(e *Error) {
	// Deliberately silent; callers that care install their own handler.
	// The teacher's pumas package never installed a logger at package
	// scope either, leaving diagnostics to its callers.
	_ = e
}

// SetDefaultHandler installs the process-level handler used for
// construction errors (before a Fluxmeter's own handler exists) and
// returns the previous one so it can be restored.
func SetDefaultHandler(h Handler) Handler {
	prev := defaultHandler
	if h == nil {
		h = func(*Error) {}
	}
	defaultHandler = h
	return prev
}

// Signal wraps err in an *Error of the given kind, raises that through
// the default handler and returns it, for use in a single
// `return xerrors.Signal(...)` line.
func Signal(kind Kind, op string, err error) *Error {
	e := New(kind, op, err)
	defaultHandler(e)
	return e
}
