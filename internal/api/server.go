// Package api exposes the evidence store over HTTP: session management,
// verified record ingest, chain verification, rule evaluation, and report
// rendering. The receiver never sees raw audio or light samples; only the
// minute descriptors ever cross this boundary.
package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/avsafe-data/avsafe.report/internal/httputil"
	"github.com/avsafe-data/avsafe.report/internal/integrity"
	"github.com/avsafe-data/avsafe.report/internal/minute"
	"github.com/avsafe-data/avsafe.report/internal/report"
	"github.com/avsafe-data/avsafe.report/internal/rules"
	"github.com/avsafe-data/avsafe.report/internal/store"
	"github.com/avsafe-data/avsafe.report/internal/version"
)

// ANSI escape codes for request log lines
const (
	colorCyan      = "\033[36m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
	colorReset     = "\033[0m"
)

type Server struct {
	store   *store.Store
	profile *rules.Profile
	// strict rejects demo-scheme signatures on ingest and verification.
	strict bool
}

func NewServer(st *store.Store, profile *rules.Profile, strict bool) *Server {
	return &Server{store: st, profile: profile, strict: strict}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("POST /api/sessions", s.createSession)
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.getSession)
	mux.HandleFunc("POST /api/sessions/{id}/records", s.appendRecord)
	mux.HandleFunc("GET /api/sessions/{id}/records", s.listRecords)
	mux.HandleFunc("GET /api/sessions/{id}/verify", s.verifySession)
	mux.HandleFunc("POST /api/sessions/{id}/evaluate", s.evaluateSession)
	mux.HandleFunc("GET /api/sessions/{id}/report", s.renderReport)
	mux.HandleFunc("GET /api/sessions/{id}/spectrum.png", s.renderSpectrum)
	return mux
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

type createSessionRequest struct {
	DeviceID string `json:"device_id"`
	Locale   string `json:"locale"`
	Note     string `json:"note"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Locale != "" {
		if _, err := s.profile.Locale(req.Locale); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}
	sess, err := s.store.CreateSession(r.Context(), req.DeviceID, req.Locale, req.Note)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sess)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	httputil.WriteJSON(w, http.StatusOK, sessions)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "session not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

// appendRecord ingests one sealed minute record. The chain is re-verified
// against the stored tail before anything is written: a record that does not
// extend the chain is rejected, whatever it claims about itself.
func (s *Server) appendRecord(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var rec minute.Record
	if err := httputil.DecodeJSON(r, &rec); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	prevHash, prevIdx, ok, err := s.store.LastChainHash(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	expectIdx := 0
	if ok {
		expectIdx = prevIdx + 1
	}
	if err := integrity.VerifyAppend(prevHash, rec, expectIdx); err != nil {
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	}
	if s.strict {
		if status := integrity.VerifySignature(rec.Payload, rec.Chain, true); status != integrity.SignatureValid {
			httputil.WriteJSONError(w, http.StatusConflict, "signature "+string(status))
			return
		}
	}

	err = s.store.AppendRecord(r.Context(), id, rec)
	var appendErr *store.AppendError
	switch {
	case errors.Is(err, store.ErrNotFound):
		httputil.NotFound(w, "session not found")
	case errors.As(err, &appendErr):
		httputil.WriteJSONError(w, http.StatusConflict, appendErr.Error())
	case err != nil:
		httputil.InternalServerError(w, err.Error())
	default:
		httputil.WriteJSON(w, http.StatusCreated, map[string]any{
			"idx":  rec.Idx,
			"hash": rec.Chain.Hash,
		})
	}
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	records, ok := s.sessionRecords(w, r)
	if !ok {
		return
	}
	if records == nil {
		records = []minute.Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}

func (s *Server) verifySession(w http.ResponseWriter, r *http.Request) {
	records, ok := s.sessionRecords(w, r)
	if !ok {
		return
	}
	vr := integrity.Verify(r.Context(), records, integrity.VerifyOptions{Strict: s.strict})
	httputil.WriteJSON(w, http.StatusOK, verifyResponse(vr))
}

type verifyJSON struct {
	Records     int      `json:"records"`
	ChainIntact bool     `json:"chain_intact"`
	BrokenIndex *int     `json:"broken_index,omitempty"`
	BreakReason string   `json:"break_reason,omitempty"`
	Signatures  []string `json:"signatures"`
}

func verifyResponse(vr integrity.VerifyResult) verifyJSON {
	out := verifyJSON{
		Records:     vr.Records,
		ChainIntact: vr.ChainIntact(),
		Signatures:  make([]string, len(vr.Signatures)),
	}
	for i, s := range vr.Signatures {
		out.Signatures[i] = string(s)
	}
	if vr.Break != nil {
		idx := vr.BrokenIndex
		out.BrokenIndex = &idx
		out.BreakReason = vr.Break.Reason
	}
	return out
}

// evaluateSession runs the rule profile over the stored session and persists
// the findings.
func (s *Server) evaluateSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.store.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "session not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	records, err := s.store.Records(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	result, err := rules.Evaluate(payloads(records), s.profile, sess.Locale)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.store.SaveFlags(r.Context(), id, result.Flags); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) renderReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.store.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "session not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	records, err := s.store.Records(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	vr := integrity.Verify(r.Context(), records, integrity.VerifyOptions{Strict: s.strict})
	in := report.Input{
		SessionID:    sess.ID,
		DeviceID:     sess.DeviceID,
		Locale:       sess.Locale,
		Records:      records,
		Verification: &vr,
		Profile:      s.profile,
	}
	if result, err := rules.Evaluate(payloads(records), s.profile, sess.Locale); err == nil {
		in.Evaluation = result
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.RenderHTML(w, in); err != nil {
		log.Printf("api: render report for %s: %v", id, err)
	}
}

func (s *Server) renderSpectrum(w http.ResponseWriter, r *http.Request) {
	records, ok := s.sessionRecords(w, r)
	if !ok {
		return
	}
	png, err := report.SpectrumPNG(records)
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// sessionRecords loads a session's records, writing the error response
// itself when the session is missing or the store fails.
func (s *Server) sessionRecords(w http.ResponseWriter, r *http.Request) ([]minute.Record, bool) {
	id := r.PathValue("id")
	if _, err := s.store.GetSession(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "session not found")
		return nil, false
	} else if err != nil {
		httputil.InternalServerError(w, err.Error())
		return nil, false
	}
	records, err := s.store.Records(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return nil, false
	}
	return records, true
}

func payloads(records []minute.Record) []minute.Payload {
	out := make([]minute.Payload, len(records))
	for i, rec := range records {
		out[i] = rec.Payload
	}
	return out
}
