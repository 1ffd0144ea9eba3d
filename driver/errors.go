package driver

import (
	"errors"
	"fmt"
)

// Kind classifies a driver failure into the stable taxonomy callers map to
// response codes.
type Kind int

const (
	// KindValidation is a business-rule rejection: date window, age bounds,
	// policyholder/insured identity mismatch.
	KindValidation Kind = iota + 1
	// KindTransport is an unreachable carrier, a non-2xx response or a
	// malformed body.
	KindTransport
	// KindNotFound is an unknown carrier code or a missing program.
	KindNotFound
	// KindCarrierRejected is an explicit decline by the carrier.
	KindCarrierRejected
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	case KindNotFound:
		return "not_found"
	case KindCarrierRejected:
		return "carrier_rejected"
	default:
		return "unknown"
	}
}

// Error is the normalized driver failure. Method names the lifecycle
// operation, Code and Message keep the original carrier values.
type Error struct {
	Kind    Kind
	Method  string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("driver: %s: %s", e.Method, e.Kind)
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validation builds a business-rule rejection.
func Validation(method, message string) *Error {
	return &Error{Kind: KindValidation, Method: method, Message: message}
}

// Validationf builds a business-rule rejection with a formatted message.
func Validationf(method, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Method: method, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds an unknown-carrier/program failure.
func NotFound(method, message string) *Error {
	return &Error{Kind: KindNotFound, Method: method, Message: message}
}

// Transport wraps a carrier transport failure.
func Transport(method string, err error) *Error {
	return &Error{Kind: KindTransport, Method: method, Err: err}
}

// CarrierRejected builds an explicit carrier decline keeping its code and
// message.
func CarrierRejected(method, code, message string) *Error {
	return &Error{Kind: KindCarrierRejected, Method: method, Code: code, Message: message}
}

// KindOf extracts the taxonomy kind, or zero for untyped errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

// IsValidation reports whether err is a business-rule rejection.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is an unknown carrier or program.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsCarrierRejected reports whether the carrier explicitly declined.
func IsCarrierRejected(err error) bool { return KindOf(err) == KindCarrierRejected }
