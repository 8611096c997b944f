// Package broker exchanges signed grant assertions for bearer access tokens.
//
// The exchange is a single form-encoded POST to the authority's token
// endpoint, one round trip per call. Tokens are never cached and failed
// exchanges are never retried here; callers decide whether a fresh exchange
// is worth another signature.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opensigning/signbridge/pkg/invoker"
	"github.com/opensigning/signbridge/pkg/logging"
)

// GrantType is the RFC 7523 grant type sent with every exchange.
const GrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

const (
	defaultTimeout = 10 * time.Second

	// responseBodyLimit caps how much of the authority's answer is read.
	// Token responses are small; anything larger is a misconfigured
	// endpoint.
	responseBodyLimit = 1 << 20 // 1MiB
)

// Token is a bearer access token issued by the token authority.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

// Broker performs assertion-for-token exchanges against one token endpoint.
type Broker struct {
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

// New creates a Broker for the given token endpoint URL.
func New(endpoint string) *Broker {
	return NewWithClient(endpoint, &http.Client{Timeout: defaultTimeout})
}

// NewWithClient creates a Broker that sends exchanges through the given HTTP
// client.
func NewWithClient(endpoint string, client *http.Client) *Broker {
	return &Broker{
		endpoint: endpoint,
		client:   client,
		logger:   logging.GetLogger("broker"),
	}
}

// Endpoint returns the token endpoint URL exchanges are sent to.
func (b *Broker) Endpoint() string {
	return b.endpoint
}

// Exchange trades a signed assertion for an access token.
//
// A non-2xx answer fails with *AuthRejectedError carrying the authority's
// status and body. A success status without a usable token fails with
// *MalformedResponseError. Failures before any response arrives wear
// *invoker.TransportError, or *invoker.CancelledError when the caller's
// context ended the attempt.
func (b *Broker) Exchange(ctx context.Context, assertion string) (*Token, error) {
	form := url.Values{
		"grant_type": {GrantType},
		"assertion":  {assertion},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer func() {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("failed to read token response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b.logger.Warn().
			Int("status", resp.StatusCode).
			Msg("token authority rejected the grant")
		return nil, &AuthRejectedError{Status: resp.StatusCode, Body: string(body)}
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, &MalformedResponseError{Reason: "decode token response", Err: err}
	}
	if token.AccessToken == "" {
		reason := "response carries no access_token"
		// Some authorities report errors inside a success status.
		var oauthErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &oauthErr) == nil && oauthErr.Error != "" {
			reason = fmt.Sprintf("response carries no access_token (authority reported %q)", oauthErr.Error)
		}
		return nil, &MalformedResponseError{Reason: reason}
	}

	b.logger.Debug().
		Str("token", logging.Fingerprint(token.AccessToken)).
		Int64("expires_in", token.ExpiresIn).
		Str("scope", token.Scope).
		Msg("exchanged assertion for access token")

	return &token, nil
}

// classify separates the caller giving up from the authority being
// unreachable.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &invoker.CancelledError{Err: err}
	}
	return &invoker.TransportError{Err: err}
}
