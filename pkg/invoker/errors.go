package invoker

import (
	"errors"
	"fmt"
	"strings"
)

// TransportError reports a request that never produced an HTTP response:
// dial failures, TLS failures, timeouts, connection resets.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

// Unwrap returns the underlying transport error.
func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError reports an API response whose status fell outside the 2xx range.
// Body carries a bounded copy of the response for diagnosis, and the content
// headers are kept as the API sent them so a rejection can be relayed intact.
type HTTPError struct {
	Status             int
	Body               []byte
	ContentType        string
	ContentDisposition string
}

func (e *HTTPError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("api responded with status %d", e.Status)
	}
	return fmt.Sprintf("api responded with status %d: %s", e.Status, snippet(e.Body))
}

// CancelledError reports an invocation abandoned because the caller's context
// ended before the API answered.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("invocation cancelled: %v", e.Err)
}

// Unwrap returns the context error that ended the invocation.
func (e *CancelledError) Unwrap() error { return e.Err }

// CandidateFailure records how one probed base path failed. Err is either an
// *HTTPError or a *TransportError.
type CandidateFailure struct {
	Candidate string
	Err       error
}

// Status returns the HTTP status the candidate answered with, or 0 when the
// failure happened below HTTP.
func (f CandidateFailure) Status() int {
	var httpErr *HTTPError
	if errors.As(f.Err, &httpErr) {
		return httpErr.Status
	}
	return 0
}

func (f CandidateFailure) String() string {
	return fmt.Sprintf("%s: %v", f.Candidate, f.Err)
}

// AllCandidatesFailedError reports a probe in which no candidate base path
// produced a success. Failures holds every attempt in probe order.
type AllCandidatesFailedError struct {
	Failures []CandidateFailure
}

func (e *AllCandidatesFailedError) Error() string {
	if len(e.Failures) == 0 {
		return "no candidate base paths to probe"
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.String()
	}
	return fmt.Sprintf("all %d candidate base paths failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

const snippetLimit = 240

func snippet(body []byte) string {
	if len(body) <= snippetLimit {
		return string(body)
	}
	return string(body[:snippetLimit]) + "..."
}
