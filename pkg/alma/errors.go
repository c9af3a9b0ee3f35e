package alma

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingTotalCount is returned when a listing response parses cleanly
// but never carries the total_record_count attribute the caller required.
var ErrMissingTotalCount = errors.New("listing response missing total_record_count")

// APIError is one structured error reported by the Alma API. A single failed
// response can carry several of them; all share the response's status code.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	TrackingID string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("alma api error (status %d, code %s): %s [tracking id %s]",
		e.StatusCode, e.Code, e.Message, e.TrackingID)
}

// APIErrors is the batch of structured errors extracted from one failed
// response.
type APIErrors []*APIError

// Error implements the error interface.
func (e APIErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// ProtocolError reports a failed response whose error body could not be
// classified: an unrecognized content type, or a body that does not parse as
// its declared type. The HTTP failure still surfaces, only the detail is
// lost.
type ProtocolError struct {
	StatusCode  int
	ContentType string
	Err         error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("alma api error %d with unclassifiable %q error body: %v",
			e.StatusCode, e.ContentType, e.Err)
	}
	return fmt.Sprintf("alma api error %d with unclassifiable %q error body",
		e.StatusCode, e.ContentType)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// TransportError reports a connection-level failure: DNS, timeout, refused
// connection, or a malformed request. Transport failures are never retried
// automatically.
type TransportError struct {
	Op  string
	URL string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s %s: %v", e.Op, e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError reports a malformed or incomplete body on an otherwise
// successful response.
type DecodeError struct {
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response: %v", e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *DecodeError) Unwrap() error {
	return e.Err
}
