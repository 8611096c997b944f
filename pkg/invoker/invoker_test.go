package invoker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "at-test-token"

func TestDo(t *testing.T) {
	t.Run("bearer-authenticated JSON call", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer "+testToken, r.Header.Get("Authorization"))
			assert.Equal(t, "/api/rest/v6/agreements/agr-1", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"agr-1","status":"OUT_FOR_SIGNATURE"}`)
		}))
		defer srv.Close()

		res, err := New(srv.URL).Do(context.Background(), testToken, Request{
			Path: "/api/rest/v6/agreements/agr-1",
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.Status)
		assert.Equal(t, "application/json", res.ContentType())

		var agreement struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		require.NoError(t, res.Decode(&agreement))
		assert.Equal(t, "agr-1", agreement.ID)
		assert.Equal(t, "OUT_FOR_SIGNATURE", agreement.Status)
	})

	t.Run("JSON request body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			body, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			assert.JSONEq(t, `{"name":"NDA"}`, string(body))
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"id":"agr-2"}`)
		}))
		defer srv.Close()

		res, err := New(srv.URL).Do(context.Background(), testToken, Request{
			Method: http.MethodPost,
			Path:   "/api/rest/v6/agreements",
			Body:   map[string]string{"name": "NDA"},
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, res.Status)
	})

	t.Run("raw body overrides JSON body", func(t *testing.T) {
		raw := []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0x01}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
			body, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			assert.Equal(t, raw, body)
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"documentId":"doc-1"}`)
		}))
		defer srv.Close()

		_, err := New(srv.URL).Do(context.Background(), testToken, Request{
			Method:      http.MethodPost,
			Path:        "/documents",
			RawBody:     raw,
			ContentType: "application/pdf",
		})
		require.NoError(t, err)
	})
}

func TestDoBinaryPassThrough(t *testing.T) {
	pdf := []byte("%PDF-1.7 fake document bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="agreement.pdf"`)
		w.Write(pdf)
	}))
	defer srv.Close()

	res, err := New(srv.URL).Do(context.Background(), testToken, Request{
		Path: "/documents/doc-1",
	})
	require.NoError(t, err)
	assert.Equal(t, pdf, res.Body)
	assert.Equal(t, "application/pdf", res.ContentType())
	assert.Equal(t, `attachment; filename="agreement.pdf"`, res.ContentDisposition())
}

func TestDoHTTPError(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError} {
		t.Run(fmt.Sprintf("status %d", status), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Content-Disposition", "inline")
				w.WriteHeader(status)
				fmt.Fprint(w, `{"code":"UPSTREAM_SAID_NO"}`)
			}))
			defer srv.Close()

			_, err := New(srv.URL).Do(context.Background(), testToken, Request{Path: "/agreements/missing"})

			var httpErr *HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, status, httpErr.Status)
			assert.Contains(t, string(httpErr.Body), "UPSTREAM_SAID_NO")
			assert.Equal(t, "application/json", httpErr.ContentType)
			assert.Equal(t, "inline", httpErr.ContentDisposition)

			var transportErr *TransportError
			assert.False(t, errors.As(err, &transportErr))
			// One request, no retries.
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestDoTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	host := srv.URL
	srv.Close()

	_, err := New(host).Do(context.Background(), testToken, Request{Path: "/agreements"})

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	var httpErr *HTTPError
	assert.False(t, errors.As(err, &httpErr))
}

func TestDoCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(srv.URL).Do(ctx, testToken, Request{Path: "/agreements"})

	var cancelled *CancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

// probeRecorder serves a fixed status per base path and remembers the order
// requests arrived in.
type probeRecorder struct {
	mu    sync.Mutex
	seen  []string
	codes map[string]int
	body  string
}

func (p *probeRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.seen = append(p.seen, r.URL.Path)
	p.mu.Unlock()

	for prefix, code := range p.codes {
		if !strings.HasPrefix(r.URL.Path, prefix) {
			continue
		}
		if code >= 200 && code <= 299 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			fmt.Fprint(w, p.body)
		} else {
			w.WriteHeader(code)
			fmt.Fprint(w, `{"code":"NOT_HERE"}`)
		}
		return
	}
	w.WriteHeader(http.StatusTeapot)
}

func (p *probeRecorder) order() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

func TestProbeFirstSuccessWins(t *testing.T) {
	rec := &probeRecorder{
		codes: map[string]int{
			"/api/rest/v6":  http.StatusNotFound,
			"/api/rest/v5":  http.StatusInternalServerError,
			"/api/2023":     http.StatusOK,
			"/api/fallback": http.StatusOK,
		},
		body: `{"userAgreementList":[]}`,
	}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	candidates := []string{"/api/rest/v6", "/api/rest/v5", "/api/2023", "/api/fallback"}
	res, err := New(srv.URL).Probe(context.Background(), testToken, candidates, Request{Path: "/agreements"})
	require.NoError(t, err)

	assert.Equal(t, "/api/2023", res.Candidate)
	assert.Equal(t, http.StatusOK, res.Status)

	// Failures ahead of the winner, in probe order.
	require.Len(t, res.Prior, 2)
	assert.Equal(t, "/api/rest/v6", res.Prior[0].Candidate)
	assert.Equal(t, http.StatusNotFound, res.Prior[0].Status())
	assert.Equal(t, "/api/rest/v5", res.Prior[1].Candidate)
	assert.Equal(t, http.StatusInternalServerError, res.Prior[1].Status())

	// Strictly sequential, and nothing after the winner.
	assert.Equal(t, []string{
		"/api/rest/v6/agreements",
		"/api/rest/v5/agreements",
		"/api/2023/agreements",
	}, rec.order())
}

func TestProbeAllCandidatesFail(t *testing.T) {
	rec := &probeRecorder{
		codes: map[string]int{
			"/api/rest/v6": http.StatusNotFound,
			"/api/rest/v5": http.StatusUnauthorized,
			"/api/2023":    http.StatusBadGateway,
		},
	}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	candidates := []string{"/api/rest/v6", "/api/rest/v5", "/api/2023"}
	_, err := New(srv.URL).Probe(context.Background(), testToken, candidates, Request{Path: "/agreements"})

	var allFailed *AllCandidatesFailedError
	require.ErrorAs(t, err, &allFailed)
	require.Len(t, allFailed.Failures, 3)
	assert.Equal(t, "/api/rest/v6", allFailed.Failures[0].Candidate)
	assert.Equal(t, http.StatusNotFound, allFailed.Failures[0].Status())
	assert.Equal(t, "/api/rest/v5", allFailed.Failures[1].Candidate)
	assert.Equal(t, http.StatusUnauthorized, allFailed.Failures[1].Status())
	assert.Equal(t, "/api/2023", allFailed.Failures[2].Candidate)
	assert.Equal(t, http.StatusBadGateway, allFailed.Failures[2].Status())
}

func TestProbeContinuesPastTransportFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/broken/agreements", func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		conn.Close()
	})
	mux.HandleFunc("/api/rest/v6/agreements", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"userAgreementList":[]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := New(srv.URL).Probe(context.Background(), testToken,
		[]string{"/broken", "/api/rest/v6"}, Request{Path: "/agreements"})
	require.NoError(t, err)

	assert.Equal(t, "/api/rest/v6", res.Candidate)
	require.Len(t, res.Prior, 1)
	assert.Equal(t, "/broken", res.Prior[0].Candidate)
	assert.Equal(t, 0, res.Prior[0].Status())
	var transportErr *TransportError
	assert.True(t, errors.As(res.Prior[0].Err, &transportErr))
}

func TestProbeStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var second atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/first/agreements", func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/second/agreements", func(w http.ResponseWriter, r *http.Request) {
		second.Add(1)
		fmt.Fprint(w, `{}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := New(srv.URL).Probe(ctx, testToken, []string{"/first", "/second"}, Request{Path: "/agreements"})

	var cancelled *CancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.ErrorIs(t, err, context.Canceled)
	// The remaining candidate was never tried.
	assert.Equal(t, int32(0), second.Load())
}

func TestProbeAttemptTimeoutMovesOn(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/slow/agreements", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	mux.HandleFunc("/fast/agreements", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"userAgreementList":[]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	inv := New(srv.URL)
	inv.SetAttemptTimeout(100 * time.Millisecond)

	res, err := inv.Probe(context.Background(), testToken, []string{"/slow", "/fast"}, Request{Path: "/agreements"})
	require.NoError(t, err)

	assert.Equal(t, "/fast", res.Candidate)
	require.Len(t, res.Prior, 1)
	var transportErr *TransportError
	assert.True(t, errors.As(res.Prior[0].Err, &transportErr))
}

func TestProbeNoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be sent")
	}))
	defer srv.Close()

	_, err := New(srv.URL).Probe(context.Background(), testToken, nil, Request{Path: "/agreements"})

	var allFailed *AllCandidatesFailedError
	require.ErrorAs(t, err, &allFailed)
	assert.Empty(t, allFailed.Failures)
	assert.Contains(t, err.Error(), "no candidate base paths")
}

func TestJoinURL(t *testing.T) {
	cases := []struct {
		host     string
		segments []string
		want     string
	}{
		{"https://api.example.com", []string{"/api/rest/v6", "/agreements"}, "https://api.example.com/api/rest/v6/agreements"},
		{"https://api.example.com", []string{"", "/agreements"}, "https://api.example.com/agreements"},
		{"https://api.example.com", []string{"api/rest/v6/", "agreements/agr-1"}, "https://api.example.com/api/rest/v6/agreements/agr-1"},
		{"https://api.example.com", []string{"/agreements?query=recent"}, "https://api.example.com/agreements?query=recent"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, joinURL(tc.host, tc.segments...))
	}
}
