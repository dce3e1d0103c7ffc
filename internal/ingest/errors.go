package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a terminal pipeline failure
type Kind string

const (
	KindIdentityMissing      Kind = "missing_identity"
	KindDeviceUnknown        Kind = "unknown_device"
	KindDirectoryUnavailable Kind = "directory_unavailable"
	KindPayloadMalformed     Kind = "malformed_payload"
	KindValidationFailed     Kind = "invalid_payload"
	KindUnroutable           Kind = "unroutable_event"
	KindWriteFailed          Kind = "write_failed"
)

// ClientError reports whether the failure was caused by the request itself.
// Client errors must not be retried unchanged.
func (k Kind) ClientError() bool {
	switch k {
	case KindDirectoryUnavailable, KindWriteFailed:
		return false
	}
	return true
}

// Stage is a step of the ingestion state machine
type Stage string

const (
	StageReceivingIdentity Stage = "receiving_identity"
	StageResolvingDevice   Stage = "resolving_device"
	StageValidating        Stage = "validating"
	StageEnriching         Stage = "enriching"
	StageRouting           Stage = "routing"
	StageWriting           Stage = "writing"
	StageResponded         Stage = "responded"
)

var (
	// ErrDeviceNotFound is returned by a directory when the device is not registered
	ErrDeviceNotFound = errors.New("device not found")
	// ErrUnroutable is returned by the router for classifiers without a stream
	ErrUnroutable = errors.New("unroutable event")
	// ErrMissingIdentity is returned when a request carries no device identity
	ErrMissingIdentity = errors.New("missing device identity")
	// ErrMalformedPayload is returned when the body is not a JSON object
	ErrMalformedPayload = errors.New("malformed payload")
)

// Error is the classified outcome of a failed ingestion
type Error struct {
	Kind     Kind
	Stage    Stage
	Failures []FieldFailure
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s at %s", e.Kind, e.Stage)
	}
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Reason is a machine readable field failure code
type Reason string

const (
	ReasonMissing          Reason = "missing"
	ReasonInvalidType      Reason = "invalid_type"
	ReasonNotFinite        Reason = "not_finite"
	ReasonNotAllowed       Reason = "not_allowed"
	ReasonInvalidTimestamp Reason = "invalid_timestamp"
)

// FieldFailure names one field that failed validation
type FieldFailure struct {
	Field  string `json:"field"`
	Reason Reason `json:"reason"`
}

// ValidationError carries every field failure found in one payload
type ValidationError struct {
	Failures []FieldFailure
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Field+": "+string(f.Reason))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}
