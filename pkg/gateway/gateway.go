// Package gateway serves the HTTP bridge in front of a signing API.
//
// Every inbound request pays for its own credentials: the gateway signs a
// fresh grant assertion, exchanges it at the token authority, and invokes
// the upstream API with the resulting bearer token. Nothing about a request
// is cached, so revocation at the authority takes effect on the very next
// call.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	openchami_logger "github.com/openchami/chi-middleware/log"
	"github.com/rs/zerolog"

	"github.com/opensigning/signbridge/pkg/assertion"
	"github.com/opensigning/signbridge/pkg/broker"
	"github.com/opensigning/signbridge/pkg/config"
	"github.com/opensigning/signbridge/pkg/discovery"
	"github.com/opensigning/signbridge/pkg/invoker"
	"github.com/opensigning/signbridge/pkg/logging"
	"github.com/opensigning/signbridge/pkg/metrics"
)

// Gateway bridges inbound HTTP calls onto the signing API.
type Gateway struct {
	cfg     *config.FileConfig
	builder *assertion.Builder
	broker  *broker.Broker
	invoker *invoker.Invoker
	routes  *discovery.Memory
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New wires a Gateway from configuration and a ready assertion builder.
func New(cfg *config.FileConfig, builder *assertion.Builder) (*Gateway, error) {
	m := metrics.New()

	routes, err := discovery.NewMemory(cfg.RouteMemorySize)
	if err != nil {
		return nil, err
	}

	inv := invoker.NewWithClient(cfg.APIHost, m.NewClient("signing-api", 30*time.Second))
	inv.SetAttemptTimeout(cfg.ProbeAttemptTimeout())

	return &Gateway{
		cfg:     cfg,
		builder: builder,
		broker:  broker.NewWithClient(cfg.TokenEndpoint, m.NewClient("authority", 10*time.Second)),
		invoker: inv,
		routes:  routes,
		metrics: m,
		logger:  logging.GetLogger("gateway"),
	}, nil
}

// Router builds the gateway's HTTP surface.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(openchami_logger.OpenCHAMILogger(g.logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Get("/routes", g.handleRoutes)
	r.Handle("/metrics", g.metrics.Handler())

	r.Route("/agreements", func(r chi.Router) {
		r.Post("/", g.handleSendAgreement)
		r.Get("/", g.handleListAgreements)
		r.Route("/{agreementID}", func(r chi.Router) {
			r.Post("/documents", g.handleUploadDocument)
			r.Get("/documents/{documentID}", g.handleDownloadDocument)
		})
	})

	return r
}

// Start serves the gateway until the listener fails.
func (g *Gateway) Start() error {
	srv := &http.Server{
		Addr:              g.cfg.Listen,
		Handler:           g.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.logger.Info().
		Str("listen", g.cfg.Listen).
		Str("api_host", g.cfg.APIHost).
		Str("authority", g.cfg.Identity.Authority).
		Msg("starting gateway")

	return srv.ListenAndServe()
}

// token signs a fresh assertion and exchanges it. One exchange per inbound
// request, even when the request fans out into a probe.
func (g *Gateway) token(ctx context.Context) (string, error) {
	signed, err := g.builder.BuildNow()
	if err != nil {
		return "", &exchangeError{err: fmt.Errorf("failed to build assertion: %w", err)}
	}

	tok, err := g.broker.Exchange(ctx, signed)
	if err != nil {
		g.metrics.ObserveExchange(exchangeOutcome(err))
		return "", &exchangeError{err: err}
	}
	g.metrics.ObserveExchange(metrics.ExchangeIssued)
	return tok.AccessToken, nil
}

// exchangeError marks failures from the token leg. Handlers use the mark to
// blame the authority instead of the signing API.
type exchangeError struct {
	err error
}

func (e *exchangeError) Error() string { return e.err.Error() }
func (e *exchangeError) Unwrap() error { return e.err }

// call performs a single-target invocation with a fresh token.
func (g *Gateway) call(ctx context.Context, req invoker.Request) (*invoker.Result, error) {
	tok, err := g.token(ctx)
	if err != nil {
		return nil, err
	}
	return g.invoker.Do(ctx, tok, req)
}

// probe walks the configured candidate base paths with a fresh token and
// records the winner for /routes.
func (g *Gateway) probe(ctx context.Context, capability string, req invoker.Request) (*invoker.Result, error) {
	tok, err := g.token(ctx)
	if err != nil {
		return nil, err
	}

	res, err := g.invoker.Probe(ctx, tok, g.cfg.CandidateBasePaths, req)
	if err != nil {
		var allFailed *invoker.AllCandidatesFailedError
		switch {
		case errors.As(err, &allFailed):
			g.metrics.ObserveProbe(capability, metrics.ProbeExhausted, len(allFailed.Failures))
		default:
			g.metrics.ObserveProbe(capability, metrics.ProbeCancelled, 0)
		}
		return nil, err
	}

	g.routes.Record(capability, res.Candidate, len(res.Prior))
	g.metrics.ObserveProbe(capability, metrics.ProbeHit, len(res.Prior))
	return res, nil
}

// apiPath prefixes p with the configured single-target base path.
func (g *Gateway) apiPath(p string) string {
	return strings.TrimSuffix(g.cfg.APIBasePath, "/") + p
}

// exchangeOutcome labels a failed exchange for the metrics counter.
func exchangeOutcome(err error) string {
	var rejected *broker.AuthRejectedError
	if errors.As(err, &rejected) {
		return metrics.ExchangeRejected
	}
	var malformed *broker.MalformedResponseError
	if errors.As(err, &malformed) {
		return metrics.ExchangeMalformed
	}
	return metrics.ExchangeTransport
}
