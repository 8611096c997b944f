package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/opensigning/signbridge/pkg/broker"
	"github.com/opensigning/signbridge/pkg/invoker"
)

// Capabilities name the operations whose winning base path is remembered.
const (
	capabilityList     = "agreements.list"
	capabilityDownload = "agreements.download"
	capabilityUpload   = "agreements.upload"
)

// inboundBodyLimit caps what callers can push through the bridge.
const inboundBodyLimit = 32 << 20 // 32MiB

// Response headers describing how a probed request was resolved.
const (
	headerBasePath    = "X-SignBridge-Base-Path"
	headerProbeMisses = "X-SignBridge-Probe-Misses"
)

// errorResponse is the JSON shape every gateway-originated failure uses.
// Upstream API failures are relayed verbatim instead.
type errorResponse struct {
	Code           string            `json:"code"`
	Message        string            `json:"message"`
	UpstreamStatus int               `json:"upstreamStatus,omitempty"`
	Candidates     []candidateStatus `json:"candidates,omitempty"`
}

// candidateStatus reports one entry of a probe's failure history.
type candidateStatus struct {
	BasePath string `json:"basePath"`
	Status   int    `json:"status,omitempty"`
	Error    string `json:"error"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "signbridge",
	})
}

// handleRoutes reports the configured candidate order and where recent
// probes landed.
func (g *Gateway) handleRoutes(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]interface{}{
		"candidateBasePaths": g.cfg.CandidateBasePaths,
		"observed":           g.routes.Snapshot(),
	})
}

// handleSendAgreement relays a send request to the known API base path. A
// payload without document content gets a generated sample document so the
// flow can be exercised end to end.
func (g *Gateway) handleSendAgreement(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, inboundBodyLimit))
	if err != nil {
		g.respondError(w, r, http.StatusBadRequest, "INVALID_INPUT", "failed to read request body")
		return
	}

	var payload map[string]interface{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			g.respondError(w, r, http.StatusBadRequest, "INVALID_INPUT", "request body is not JSON")
			return
		}
	}
	// A JSON null decodes into a nil map, same as an absent body.
	if payload == nil {
		payload = sampleSendPayload(time.Now())
	}
	attachSampleDocument(payload, time.Now())

	res, err := g.call(r.Context(), invoker.Request{
		Method: http.MethodPost,
		Path:   g.apiPath("/agreements"),
		Body:   payload,
	})
	if err != nil {
		g.respondUpstreamError(w, r, err)
		return
	}
	g.relay(w, res)
}

// handleListAgreements probes the candidate base paths for the agreement
// listing.
func (g *Gateway) handleListAgreements(w http.ResponseWriter, r *http.Request) {
	path := "/agreements"
	if q := r.URL.RawQuery; q != "" {
		path += "?" + q
	}

	res, err := g.probe(r.Context(), capabilityList, invoker.Request{Path: path})
	if err != nil {
		g.respondUpstreamError(w, r, err)
		return
	}
	g.relayProbed(w, res)
}

// handleDownloadDocument probes for a document and passes the bytes through
// untouched.
func (g *Gateway) handleDownloadDocument(w http.ResponseWriter, r *http.Request) {
	path := fmt.Sprintf("/agreements/%s/documents/%s",
		chi.URLParam(r, "agreementID"), chi.URLParam(r, "documentID"))

	res, err := g.probe(r.Context(), capabilityDownload, invoker.Request{Path: path})
	if err != nil {
		g.respondUpstreamError(w, r, err)
		return
	}
	g.relayProbed(w, res)
}

// handleUploadDocument probes the candidate base paths with the caller's
// bytes and content type.
func (g *Gateway) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, inboundBodyLimit))
	if err != nil {
		g.respondError(w, r, http.StatusBadRequest, "INVALID_INPUT", "failed to read request body")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	res, err := g.probe(r.Context(), capabilityUpload, invoker.Request{
		Method:      http.MethodPost,
		Path:        fmt.Sprintf("/agreements/%s/documents", chi.URLParam(r, "agreementID")),
		RawBody:     raw,
		ContentType: contentType,
	})
	if err != nil {
		g.respondUpstreamError(w, r, err)
		return
	}
	g.relayProbed(w, res)
}

// relay writes an upstream success to the caller, passing the content
// headers through untouched.
func (g *Gateway) relay(w http.ResponseWriter, res *invoker.Result) {
	if ct := res.ContentType(); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if cd := res.ContentDisposition(); cd != "" {
		w.Header().Set("Content-Disposition", cd)
	}
	w.WriteHeader(res.Status)
	_, _ = w.Write(res.Body)
}

// relayProbed is relay plus the headers describing how the probe resolved.
func (g *Gateway) relayProbed(w http.ResponseWriter, res *invoker.Result) {
	w.Header().Set(headerBasePath, res.Candidate)
	w.Header().Set(headerProbeMisses, strconv.Itoa(len(res.Prior)))
	g.relay(w, res)
}

// respondUpstreamError translates a failed invocation into the caller-facing
// response. Upstream API rejections are relayed verbatim; everything the
// bridge could not get an answer for becomes a gateway error.
func (g *Gateway) respondUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	logger := g.logger.With().Str("request_id", chimiddleware.GetReqID(r.Context())).Logger()

	var httpErr *invoker.HTTPError
	if errors.As(err, &httpErr) {
		logger.Warn().Int("upstream_status", httpErr.Status).Msg("relaying upstream rejection")
		if httpErr.ContentType != "" {
			w.Header().Set("Content-Type", httpErr.ContentType)
		}
		if httpErr.ContentDisposition != "" {
			w.Header().Set("Content-Disposition", httpErr.ContentDisposition)
		}
		w.WriteHeader(httpErr.Status)
		_, _ = w.Write(httpErr.Body)
		return
	}

	var allFailed *invoker.AllCandidatesFailedError
	if errors.As(err, &allFailed) {
		history := make([]candidateStatus, len(allFailed.Failures))
		for i, f := range allFailed.Failures {
			history[i] = candidateStatus{
				BasePath: f.Candidate,
				Status:   f.Status(),
				Error:    f.Err.Error(),
			}
		}
		logger.Error().Int("candidates", len(history)).Msg("no candidate base path answered")
		g.writeJSON(w, http.StatusBadGateway, errorResponse{
			Code:       "ALL_CANDIDATES_FAILED",
			Message:    "no candidate base path answered",
			Candidates: history,
		})
		return
	}

	var rejected *broker.AuthRejectedError
	if errors.As(err, &rejected) {
		logger.Error().Int("authority_status", rejected.Status).Msg("token authority rejected the grant")
		g.writeJSON(w, http.StatusBadGateway, errorResponse{
			Code:           "AUTH_REJECTED",
			Message:        "token authority rejected the grant",
			UpstreamStatus: rejected.Status,
		})
		return
	}

	var malformed *broker.MalformedResponseError
	if errors.As(err, &malformed) {
		logger.Error().Err(err).Msg("token authority answered with an unusable response")
		g.writeJSON(w, http.StatusBadGateway, errorResponse{
			Code:    "AUTH_MALFORMED",
			Message: "token authority answered with an unusable response",
		})
		return
	}

	var cancelled *invoker.CancelledError
	if errors.As(err, &cancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status := 499 // client closed request, nginx convention
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		logger.Warn().Err(err).Msg("invocation abandoned")
		g.writeJSON(w, status, errorResponse{
			Code:    "CANCELLED",
			Message: "request ended before the upstream answered",
		})
		return
	}

	// Checked before the plain transport case so the response names the
	// right remote.
	var exchange *exchangeError
	if errors.As(err, &exchange) {
		logger.Error().Err(err).Msg("token authority unreachable")
		g.writeJSON(w, http.StatusBadGateway, errorResponse{
			Code:    "AUTHORITY_UNREACHABLE",
			Message: "token authority unreachable",
		})
		return
	}

	var transport *invoker.TransportError
	if errors.As(err, &transport) {
		logger.Error().Err(err).Msg("signing api unreachable")
		g.writeJSON(w, http.StatusBadGateway, errorResponse{
			Code:    "UPSTREAM_UNREACHABLE",
			Message: "signing api unreachable",
		})
		return
	}

	logger.Error().Err(err).Msg("bridge failure")
	g.writeJSON(w, http.StatusBadGateway, errorResponse{
		Code:    "BRIDGE_FAILURE",
		Message: err.Error(),
	})
}

func (g *Gateway) respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	g.logger.Warn().
		Str("request_id", chimiddleware.GetReqID(r.Context())).
		Str("code", code).
		Msg(message)
	g.writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error().Err(err).Msg("failed to encode response")
	}
}
