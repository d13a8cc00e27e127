package status

import (
	"errors"
	"fmt"
)

const (
	// MissingInput indicates that a required input file (build output, key, certificate) is absent
	MissingInput Type = 1

	// KeyLoad indicates that a key file exists but is not a usable signing key
	KeyLoad Type = 2

	// InvalidPayload indicates an empty or otherwise degenerate firmware payload
	InvalidPayload Type = 3

	// Signing indicates that the key was usable but the signature operation failed
	Signing Type = 4

	// MalformedArtifact indicates artifact bytes that cannot be split into payload and signature
	MalformedArtifact Type = 5

	// TransportConfig indicates that the distribution transport cannot be established as configured
	TransportConfig Type = 6

	// Verification indicates that a signature did not verify against the payload
	Verification Type = 7
)

// Type is a type of the Error
type Type int32

func (t Type) String() string {
	switch t {
	case MissingInput:
		return "missing input"
	case KeyLoad:
		return "key load"
	case InvalidPayload:
		return "invalid payload"
	case Signing:
		return "signing"
	case MalformedArtifact:
		return "malformed artifact"
	case TransportConfig:
		return "transport config"
	case Verification:
		return "verification"
	default:
		return fmt.Sprintf("unknown(%d)", int32(t))
	}
}

// Error is a typed error raised by the signing and distribution core.
// Path names the file the error relates to, if any.
type Error struct {
	ErrorType Type
	Message   string
	Path      string
	Err       error
}

// Type returns the Type of the error
func (e *Error) Type() Type {
	return e.ErrorType
}

// Error is an error string
func (e *Error) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf returns Error(ErrorType, fmt.Sprintf(format, a...)).
func Errorf(errorType Type, format string, a ...interface{}) error {
	return &Error{
		ErrorType: errorType,
		Message:   fmt.Sprintf(format, a...),
	}
}

// Wrap returns an Error of the given type that carries the file path and the cause.
func Wrap(errorType Type, path string, err error, format string, a ...interface{}) error {
	return &Error{
		ErrorType: errorType,
		Message:   fmt.Sprintf(format, a...),
		Path:      path,
		Err:       err,
	}
}

// FromError returns Error, true if the provided error is of type of Error. nil, false otherwise
func FromError(err error) (s *Error, ok bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsType reports whether err (or anything it wraps) is an Error of type t.
func IsType(err error, t Type) bool {
	e, ok := FromError(err)
	return ok && e.ErrorType == t
}

// NewMissingInputError creates a new Error with MissingInput type for an absent file
func NewMissingInputError(path string, err error) error {
	return Wrap(MissingInput, path, err, "required input not found")
}

// NewKeyLoadError creates a new Error with KeyLoad type for an unusable key file
func NewKeyLoadError(path string, err error) error {
	return Wrap(KeyLoad, path, err, "failed to load signing key")
}

// NewInvalidPayloadError creates a new Error with InvalidPayload type
func NewInvalidPayloadError(reason string) error {
	return Errorf(InvalidPayload, "invalid firmware payload: %s", reason)
}

// NewSigningError creates a new Error with Signing type
func NewSigningError(err error) error {
	return Wrap(Signing, "", err, "failed to sign firmware payload")
}

// NewMalformedArtifactError creates a new Error with MalformedArtifact type
func NewMalformedArtifactError(format string, a ...interface{}) error {
	return Errorf(MalformedArtifact, "malformed artifact: "+format, a...)
}

// NewTransportConfigError creates a new Error with TransportConfig type
func NewTransportConfigError(path string, err error, format string, a ...interface{}) error {
	return Wrap(TransportConfig, path, err, "transport config: "+format, a...)
}
