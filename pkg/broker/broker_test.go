package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensigning/signbridge/pkg/invoker"
)

const testAssertion = "eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9.payload.signature"

func TestExchange(t *testing.T) {
	t.Run("sends a single form-encoded grant", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, GrantType, r.PostFormValue("grant_type"))
			assert.Equal(t, testAssertion, r.PostFormValue("assertion"))

			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"at-123","token_type":"Bearer","expires_in":3600,"scope":"agreement_read"}`)
		}))
		defer srv.Close()

		token, err := New(srv.URL).Exchange(context.Background(), testAssertion)
		require.NoError(t, err)
		assert.Equal(t, "at-123", token.AccessToken)
		assert.Equal(t, "Bearer", token.TokenType)
		assert.Equal(t, int64(3600), token.ExpiresIn)
		assert.Equal(t, "agreement_read", token.Scope)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("accepts any 2xx status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"access_token":"at-201","token_type":"Bearer"}`)
		}))
		defer srv.Close()

		token, err := New(srv.URL).Exchange(context.Background(), testAssertion)
		require.NoError(t, err)
		assert.Equal(t, "at-201", token.AccessToken)
	})

	t.Run("every call is a fresh exchange", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := calls.Add(1)
			fmt.Fprintf(w, `{"access_token":"at-%d","token_type":"Bearer"}`, n)
		}))
		defer srv.Close()

		b := New(srv.URL)
		first, err := b.Exchange(context.Background(), testAssertion)
		require.NoError(t, err)
		second, err := b.Exchange(context.Background(), testAssertion)
		require.NoError(t, err)

		assert.Equal(t, int32(2), calls.Load())
		assert.NotEqual(t, first.AccessToken, second.AccessToken)
	})
}

func TestExchangeAuthRejected(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError} {
		t.Run(fmt.Sprintf("status %d", status), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(status)
				fmt.Fprint(w, `{"error":"invalid_grant"}`)
			}))
			defer srv.Close()

			_, err := New(srv.URL).Exchange(context.Background(), testAssertion)

			var rejected *AuthRejectedError
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, status, rejected.Status)
			assert.Contains(t, rejected.Body, "invalid_grant")
			// Rejections are terminal, never retried.
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestExchangeMalformedResponse(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		reason string
	}{
		{"empty object", `{}`, "no access_token"},
		{"error inside success status", `{"error":"invalid_scope"}`, "invalid_scope"},
		{"not JSON at all", `<html>gateway error</html>`, "decode token response"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			_, err := New(srv.URL).Exchange(context.Background(), testAssertion)

			var malformed *MalformedResponseError
			require.ErrorAs(t, err, &malformed)
			assert.Contains(t, err.Error(), tc.reason)
		})
	}
}

func TestExchangeTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	_, err := New(endpoint).Exchange(context.Background(), testAssertion)

	var transport *invoker.TransportError
	require.ErrorAs(t, err, &transport)
	var rejected *AuthRejectedError
	assert.False(t, errors.As(err, &rejected))
	var malformed *MalformedResponseError
	assert.False(t, errors.As(err, &malformed))
}

func TestExchangeCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"at-x","token_type":"Bearer"}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(srv.URL).Exchange(ctx, testAssertion)

	var cancelled *invoker.CancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAuthRejectedErrorSnippet(t *testing.T) {
	long := make([]byte, 2*snippetLimit)
	for i := range long {
		long[i] = 'x'
	}
	err := &AuthRejectedError{Status: http.StatusBadGateway, Body: string(long)}
	assert.Less(t, len(err.Error()), snippetLimit+64)
	assert.Contains(t, err.Error(), "502")
}
