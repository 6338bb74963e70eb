// Package proxy implements the API gateway: every browser request under
// /api/proxy/* is forwarded verbatim to the backend, with a hard forward
// deadline and upstream failures mapped onto a small, stable status
// vocabulary the frontend can branch on.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/utils"
)

// ErrorBody is the structured error the gateway emits when a forward fails.
// The frontend branches on the status code; the body carries enough context
// to debug which upstream call went wrong.
type ErrorBody struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Error     string `json:"error"`
	TargetURL string `json:"targetUrl"`
	Timestamp string `json:"timestamp"`
}

// maxNormalizeBody caps how much of an upstream response is buffered for
// content-type normalization; anything larger streams through unrelabeled.
const maxNormalizeBody = 10 << 20

// hop-by-hop headers are stripped in both directions per RFC 7230 §6.1.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Gateway forwards requests to one backend base URL.
type Gateway struct {
	base    string
	timeout time.Duration
	client  *http.Client
}

// New returns a gateway forwarding to base with the given per-request
// timeout. A zero timeout disables the deadline, which no caller should
// want outside tests.
func New(base string, timeout time.Duration, hc *http.Client) *Gateway {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Gateway{base: strings.TrimRight(base, "/"), timeout: timeout, client: hc}
}

// Register mounts the gateway on r under /api/proxy/.
func (g *Gateway) Register(r *mux.Router) {
	r.PathPrefix("/api/proxy/").Handler(http.HandlerFunc(g.ServeHTTP))
}

// JoinTargetURL resolves the backend URL for a proxied path. Joining is
// idempotent with respect to slashes: any combination of trailing slash on
// base and leading slash on path yields the same single-slash join.
func JoinTargetURL(base, path string) string {
	b := strings.TrimRight(base, "/")
	p := strings.TrimLeft(path, "/")
	if p == "" {
		return b
	}
	return b + "/" + p
}

// writeCORS applies the permissive CORS policy. Every response through the
// gateway carries these, success and error alike, so browser callers can
// always read the outcome.
func writeCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeCORS(w.Header())

	// preflight is answered locally, never forwarded
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/proxy")
	target := JoinTargetURL(g.base, rest)
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	if _, err := url.Parse(target); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid proxy target")
		return
	}

	ctx := r.Context()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	out, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid proxy request")
		return
	}
	copyHeaders(out.Header, r.Header)
	// the backend speaks JSON on every route, GET included
	out.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(out)
	if err != nil {
		status, msg := classify(err)
		logger.Warn("proxy_forward_failed", "method", r.Method, "target", target, "status", status, "error", err, "elapsed", time.Since(start).String())
		outcomesTotal.WithLabelValues(outcomeLabel(status)).Inc()
		_ = utils.JSONWrite(w, status, ErrorBody{
			Message:   msg,
			Error:     err.Error(),
			TargetURL: target,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	writeCORS(w.Header()) // upstream must not override the gateway policy

	// backends disagree on response labeling, so the body decides: valid
	// JSON goes out as application/json, anything else as plain text
	body, rerr := io.ReadAll(io.LimitReader(resp.Body, maxNormalizeBody+1))
	if rerr != nil {
		logger.Warn("proxy_body_read_failed", "target", target, "error", rerr)
	}
	if len(body) > 0 && len(body) <= maxNormalizeBody {
		if json.Valid(body) {
			w.Header().Set("Content-Type", "application/json")
		} else {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
	if len(body) > maxNormalizeBody {
		if _, err := io.Copy(w, resp.Body); err != nil {
			logger.Warn("proxy_body_copy_failed", "target", target, "error", err)
		}
	}
	outcomesTotal.WithLabelValues("forwarded").Inc()
	forwardSeconds.Observe(time.Since(start).Seconds())
}

// classify maps a forward error onto the gateway's status vocabulary:
// deadline expiry is 504, an unreachable backend is 502, anything else 500.
func classify(err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "Request timeout"
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return http.StatusGatewayTimeout, "Request timeout"
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return http.StatusBadGateway, "Backend service unavailable"
	}
	var de *net.DNSError
	if errors.As(err, &de) {
		return http.StatusBadGateway, "Backend service unavailable"
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return http.StatusBadGateway, "Backend service unavailable"
	}
	return http.StatusInternalServerError, "Proxy error"
}

func outcomeLabel(status int) string {
	switch status {
	case http.StatusGatewayTimeout:
		return "timeout"
	case http.StatusBadGateway:
		return "unreachable"
	default:
		return "error"
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if isHopHeader(k) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isHopHeader(k string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(h, k) {
			return true
		}
	}
	return false
}
