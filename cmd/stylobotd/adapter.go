package main

import (
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/scottgal/stylobot-sub004/internal/kernel"
	"github.com/scottgal/stylobot-sub004/internal/reqview"
)

// httpRequest adapts *http.Request to reqview.Request.
type httpRequest struct {
	r       *http.Request
	traceID string
}

func (h *httpRequest) Method() string         { return h.r.Method }
func (h *httpRequest) Path() string           { return h.r.URL.Path }
func (h *httpRequest) RawQuery() string       { return h.r.URL.RawQuery }
func (h *httpRequest) Header() http.Header    { return h.r.Header }
func (h *httpRequest) TLSFingerprint() string { return "" }
func (h *httpRequest) TraceID() string        { return h.traceID }
func (h *httpRequest) RemoteIP() string {
	host, _, err := net.SplitHostPort(h.r.RemoteAddr)
	if err != nil {
		return h.r.RemoteAddr
	}
	return host
}

// httpResponse adapts http.ResponseWriter to reqview.ResponseHandle.
type httpResponse struct {
	w       http.ResponseWriter
	r       *http.Request
	written bool
}

func (h *httpResponse) SetStatus(code int) {
	if !h.written {
		h.w.WriteHeader(code)
		h.written = true
	}
}

func (h *httpResponse) SetHeader(key, value string) { h.w.Header().Set(key, value) }
func (h *httpResponse) SetBody(body []byte)          { h.w.Write(body) }
func (h *httpResponse) Redirect(url string, permanent bool) {
	status := http.StatusFound
	if permanent {
		status = http.StatusMovedPermanently
	}
	http.Redirect(h.w, h.r, url, status)
}

var _ reqview.Request = (*httpRequest)(nil)
var _ reqview.ResponseHandle = (*httpResponse)(nil)

func demoHandler(engine *kernel.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &httpRequest{r: r, traceID: uuid.NewString()}
		resp := &httpResponse{w: w, r: r}

		v := engine.Evaluate(r.Context(), req, resp, "", "")
		log.Info().
			Str("trace_id", req.traceID).
			Str("policy", v.PolicyName).
			Str("action", string(v.Action)).
			Float64("risk", v.Risk).
			Msg("request evaluated")

		if !resp.written {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok\n"))
		}
	}
}
