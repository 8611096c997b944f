// Package invoker performs bearer-authenticated calls against a signing
// API host.
//
// Calls run in one of two modes. Do sends a single request to a known path.
// Probe walks an ordered list of candidate base paths for hosts whose API
// root differs between deployments, trying each in turn until one answers
// with a success status. Probing is strictly sequential so a candidate that
// would succeed is never raced against one that would not.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opensigning/signbridge/pkg/logging"
)

const (
	defaultClientTimeout  = 30 * time.Second
	defaultAttemptTimeout = 10 * time.Second

	// responseBodyLimit caps how much of a response is read. Document
	// downloads are the largest payloads that pass through here.
	responseBodyLimit = 64 << 20 // 64MiB

	// errorBodyLimit caps how much of a failure response is kept on the
	// error for diagnosis.
	errorBodyLimit = 8 << 10 // 8KiB
)

// Request describes one API call, relative to the invoker's host.
type Request struct {
	// Method defaults to GET.
	Method string
	// Path is joined onto the host (and onto the candidate base path when
	// probing). It may carry a query string.
	Path string
	// Body, when non-nil, is JSON-encoded into the request.
	Body interface{}
	// RawBody, when non-nil, is sent as-is and takes precedence over Body.
	RawBody []byte
	// ContentType overrides the Content-Type header. JSON bodies default
	// to application/json.
	ContentType string
}

// Result is a successful API response.
type Result struct {
	Status int
	Header http.Header
	Body   []byte

	// Candidate is the base path that answered, when the call was probed.
	Candidate string
	// Prior holds the failures of the candidates tried before the winner,
	// in probe order.
	Prior []CandidateFailure
}

// ContentType returns the response Content-Type as the API sent it.
func (r *Result) ContentType() string {
	return r.Header.Get("Content-Type")
}

// ContentDisposition returns the response Content-Disposition as the API
// sent it.
func (r *Result) ContentDisposition() string {
	return r.Header.Get("Content-Disposition")
}

// Decode unmarshals the JSON response body into v.
func (r *Result) Decode(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// Invoker sends authenticated requests to one API host.
type Invoker struct {
	host           string
	client         *http.Client
	attemptTimeout time.Duration
	logger         zerolog.Logger
}

// New creates an Invoker for the given host, such as
// https://api.signing.example.com.
func New(host string) *Invoker {
	return NewWithClient(host, &http.Client{Timeout: defaultClientTimeout})
}

// NewWithClient creates an Invoker that sends requests through the given
// HTTP client.
func NewWithClient(host string, client *http.Client) *Invoker {
	return &Invoker{
		host:           strings.TrimSuffix(host, "/"),
		client:         client,
		attemptTimeout: defaultAttemptTimeout,
		logger:         logging.GetLogger("invoker"),
	}
}

// Host returns the API host requests are sent to.
func (inv *Invoker) Host() string {
	return inv.host
}

// SetAttemptTimeout bounds each probe attempt. Zero disables the bound and
// leaves only the client timeout.
func (inv *Invoker) SetAttemptTimeout(d time.Duration) {
	inv.attemptTimeout = d
}

// Do sends a single bearer-authenticated request.
//
// A response outside the 2xx range fails with *HTTPError. A request that
// never produced a response fails with *TransportError, or with
// *CancelledError when the caller's context ended it.
func (inv *Invoker) Do(ctx context.Context, token string, r Request) (*Result, error) {
	return inv.send(ctx, ctx, token, "", r)
}

// Probe tries each candidate base path in order and returns the first
// success.
//
// The winning Result names its Candidate and carries the failures of every
// candidate tried before it. Candidates that fail, whether with a non-2xx
// status or below HTTP, are recorded and probing moves on. When the caller's
// context ends, probing stops immediately with *CancelledError. When every
// candidate fails, Probe fails with *AllCandidatesFailedError holding the
// full history.
func (inv *Invoker) Probe(ctx context.Context, token string, candidates []string, r Request) (*Result, error) {
	var failures []CandidateFailure

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, &CancelledError{Err: err}
		}

		res, err := inv.attempt(ctx, token, candidate, r)
		if err == nil {
			res.Candidate = candidate
			res.Prior = failures
			inv.logger.Debug().
				Str("candidate", candidate).
				Int("status", res.Status).
				Int("prior_failures", len(failures)).
				Msg("candidate answered")
			return res, nil
		}

		var cancelled *CancelledError
		if errors.As(err, &cancelled) {
			return nil, err
		}

		failures = append(failures, CandidateFailure{Candidate: candidate, Err: err})
		inv.logger.Debug().
			Str("candidate", candidate).
			Err(err).
			Msg("candidate failed, moving on")
	}

	return nil, &AllCandidatesFailedError{Failures: failures}
}

// attempt bounds one probe attempt so a hanging candidate cannot starve the
// ones after it.
func (inv *Invoker) attempt(parent context.Context, token, basePath string, r Request) (*Result, error) {
	ctx := parent
	if inv.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, inv.attemptTimeout)
		defer cancel()
	}
	return inv.send(ctx, parent, token, basePath, r)
}

// send performs one HTTP round trip. parent distinguishes a caller
// cancellation from a per-attempt timeout: only the former becomes
// *CancelledError.
func (inv *Invoker) send(ctx, parent context.Context, token, basePath string, r Request) (*Result, error) {
	var body io.Reader
	contentType := r.ContentType
	switch {
	case r.RawBody != nil:
		body = bytes.NewReader(r.RawBody)
	case r.Body != nil:
		encoded, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
		if contentType == "" {
			contentType = "application/json"
		}
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, joinURL(inv.host, basePath, r.Path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := inv.client.Do(req)
	if err != nil {
		return nil, inv.classify(parent, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return nil, inv.classify(parent, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(payload) > errorBodyLimit {
			payload = payload[:errorBodyLimit]
		}
		return nil, &HTTPError{
			Status:             resp.StatusCode,
			Body:               payload,
			ContentType:        resp.Header.Get("Content-Type"),
			ContentDisposition: resp.Header.Get("Content-Disposition"),
		}
	}

	return &Result{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   payload,
	}, nil
}

// classify turns a failed round trip into the error kind callers switch on.
func (inv *Invoker) classify(parent context.Context, err error) error {
	if parentErr := parent.Err(); parentErr != nil {
		return &CancelledError{Err: parentErr}
	}
	return &TransportError{Err: err}
}

// joinURL joins the host and path segments without doubling slashes. Empty
// segments are skipped.
func joinURL(host string, segments ...string) string {
	u := host
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s == "" {
			continue
		}
		u += "/" + s
	}
	return u
}
