package broker

import "fmt"

// AuthRejectedError reports a token authority that answered the exchange with
// a non-2xx status. Body carries the authority's response so operators can
// see the rejection reason (invalid_grant, consent_required, and so on).
type AuthRejectedError struct {
	Status int
	Body   string
}

func (e *AuthRejectedError) Error() string {
	return fmt.Sprintf("token authority rejected the grant: status %d: %s", e.Status, snippet(e.Body))
}

// MalformedResponseError reports a success status whose body could not be
// used as a token response.
type MalformedResponseError struct {
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed token response: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed token response: %s", e.Reason)
}

// Unwrap returns the underlying decode error.
func (e *MalformedResponseError) Unwrap() error { return e.Err }

const snippetLimit = 240

// snippet keeps error messages readable when an endpoint answers with a full
// HTML error page.
func snippet(body string) string {
	if len(body) <= snippetLimit {
		return body
	}
	return body[:snippetLimit] + "..."
}
