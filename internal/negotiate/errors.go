package negotiate

import (
	"errors"
	"fmt"
)

// Negotiation errors. Match with errors.Is; decoder failures arrive wrapped in
// a *NegotiationError that records where the round stopped.
var (
	// ErrMalformed means the parameter object is structurally invalid.
	ErrMalformed = errors.New("malformed parameter object")
	// ErrWrongMediaType means the object is not video; skip it.
	ErrWrongMediaType = errors.New("wrong media type")
	// ErrWrongSubtype means the object is video but not raw; skip it.
	ErrWrongSubtype = errors.New("wrong media subtype")
	// ErrUnsupportedFormat means the pixel format has no mapping.
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	// ErrInvalidRange is a configuration error in a CapabilityRange.
	ErrInvalidRange = errors.New("invalid capability range")
	// ErrNoFormat means none of the offered objects was usable.
	ErrNoFormat = errors.New("no usable format offered")
)

// State is a step of one negotiation round.
type State int

// Round states, in order.
const (
	StateReceived State = iota
	StateTypeChecked
	StateSubtypeChecked
	StatePayloadParsed
	StateFormatMapped
	StateDone
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateTypeChecked:
		return "type-checked"
	case StateSubtypeChecked:
		return "subtype-checked"
	case StatePayloadParsed:
		return "payload-parsed"
	case StateFormatMapped:
		return "format-mapped"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// NegotiationError reports which gate of the decoder rejected a parameter
// object.
type NegotiationError struct {
	Stage  State
	Err    error
	Detail string
}

func (e *NegotiationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("negotiation %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("negotiation %s: %v: %s", e.Stage, e.Err, e.Detail)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the round must be abandoned. Only payload failures
// are fatal: by then the header has committed the object to video/raw. Every
// earlier rejection means "not this object, keep looking".
func (e *NegotiationError) Fatal() bool {
	return e.Stage >= StatePayloadParsed
}

// IsFatal reports whether err ends the negotiation round.
func IsFatal(err error) bool {
	var ne *NegotiationError
	if errors.As(err, &ne) {
		return ne.Fatal()
	}
	return err != nil
}

func reject(stage State, err error, format string, args ...any) error {
	return &NegotiationError{Stage: stage, Err: err, Detail: fmt.Sprintf(format, args...)}
}
