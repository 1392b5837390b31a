package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentworkforce/relaydebate/internal/debate"
	"github.com/agentworkforce/relaydebate/internal/logging"
)

// DefaultBodySlack is the room left in a request body for JSON framing and
// the fields around the content.
const DefaultBodySlack = 1024

type ServerConfig struct {
	AuthToken       string
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	// MaxBodyBytes of zero derives the limit from the service's content limit.
	MaxBodyBytes int64
	Logger       *logging.Logger
	Now          func() time.Time
}

type Server struct {
	service     *debate.Service
	hub         *debate.Hub
	cfg         ServerConfig
	auth        authenticator
	schemas     *schemaSet
	rateLimiter *rateLimiter
	log         *logging.Logger
	tracer      trace.Tracer
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

// NewServer builds the HTTP handler. hub may be nil, in which case the push
// channel route answers 404.
func NewServer(service *debate.Service, hub *debate.Hub, cfg ServerConfig) (*Server, error) {
	if service == nil {
		return nil, errors.New("httpapi: service is required")
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = int64(service.MaxContentLength())*utf8.UTFMax + DefaultBodySlack
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		service:     service,
		hub:         hub,
		cfg:         cfg,
		auth:        authenticator{staticToken: cfg.AuthToken, jwtSecret: cfg.JWTSecret, now: cfg.Now},
		schemas:     schemas,
		rateLimiter: limiter,
		log:         cfg.Logger.With("component", "httpapi"),
		tracer:      otel.Tracer("github.com/agentworkforce/relaydebate/internal/httpapi"),
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := s.tracer.Start(ctx, "http "+r.Method, trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	if correlationID := getCorrelationID(r); correlationID != "" {
		rec.Header().Set("X-Correlation-Id", correlationID)
	}
	s.route(rec, r.WithContext(ctx))

	span.SetAttributes(
		attribute.String("http.method", r.Method),
		attribute.String("http.path", r.URL.Path),
		attribute.Int("http.status_code", rec.status),
	)
	fields := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration_ms", time.Since(started).Milliseconds(),
		"correlation_id", getCorrelationID(r),
	}
	switch {
	case rec.status >= http.StatusInternalServerError:
		s.log.Warn("request failed", fields...)
	case r.URL.Path == "/health":
		s.log.Debug("request", fields...)
	default:
		s.log.Info("request", fields...)
	}
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		s.handleHealth(w, r)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	var route string
	switch {
	case len(parts) == 1 && parts[0] == "ws" && r.Method == http.MethodGet && s.hub != nil:
		route = "ws"
	case len(parts) == 1 && parts[0] == "debates" && r.Method == http.MethodGet:
		route = "list_debates"
	case len(parts) == 1 && parts[0] == "debates" && r.Method == http.MethodPost:
		route = "create_debate"
	case len(parts) == 2 && parts[0] == "debates" && parts[1] != "" && r.Method == http.MethodGet:
		route = "get_debate"
	case len(parts) == 2 && parts[0] == "debates" && parts[1] != "" && r.Method == http.MethodDelete:
		route = "delete_debate"
	case len(parts) == 3 && parts[0] == "debates" && parts[2] == "arguments" && r.Method == http.MethodPost:
		route = "submit_claim"
	case len(parts) == 3 && parts[0] == "debates" && parts[2] == "appeal" && r.Method == http.MethodPost:
		route = "submit_appeal"
	case len(parts) == 3 && parts[0] == "debates" && parts[2] == "resolution" && r.Method == http.MethodPost:
		route = "submit_resolution"
	case len(parts) == 3 && parts[0] == "debates" && parts[2] == "intervention" && r.Method == http.MethodPost:
		route = "submit_intervention"
	case len(parts) == 3 && parts[0] == "debates" && parts[2] == "ruling" && r.Method == http.MethodPost:
		route = "submit_ruling"
	case len(parts) == 3 && parts[0] == "debates" && parts[2] == "wait" && r.Method == http.MethodGet:
		route = "wait"
	default:
		writeError(w, http.StatusNotFound, debate.CodeNotFound, "Route not found", getCorrelationID(r))
		return
	}

	if authErr := s.auth.authorize(r, route == "ws"); authErr != nil {
		s.writeDebateError(w, r, authErr)
		return
	}
	if s.rateLimiter != nil && !s.rateLimiter.allow(clientKey(r), s.cfg.Now()) {
		retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded", getCorrelationID(r))
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("http.route", route))

	var debateID string
	if len(parts) >= 2 {
		debateID = parts[1]
	}
	switch route {
	case "ws":
		s.handleWebSocket(w, r)
	case "list_debates":
		s.handleListDebates(w, r)
	case "create_debate":
		s.handleCreateDebate(w, r)
	case "get_debate":
		s.handleGetDebate(w, r, debateID)
	case "delete_debate":
		s.handleDeleteDebate(w, r, debateID)
	case "submit_claim":
		s.handleSubmitClaim(w, r, debateID)
	case "submit_appeal":
		s.handleSubmitTargeted(w, r, debateID, s.service.SubmitAppeal)
	case "submit_resolution":
		s.handleSubmitTargeted(w, r, debateID, s.service.SubmitResolution)
	case "submit_intervention":
		s.handleSubmitIntervention(w, r, debateID)
	case "submit_ruling":
		s.handleSubmitRuling(w, r, debateID)
	case "wait":
		s.handleWait(w, r, debateID)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	data := map[string]any{
		"status":      "ok",
		"coordinator": s.service.Coordinator().Stats(),
	}
	if s.hub != nil {
		data["subscribers"] = s.hub.SubscriberCount()
	}
	writeSuccess(w, http.StatusOK, data)
}

func (s *Server) handleListDebates(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := parseOptionalBoundedInt(query.Get("limit"), 0, 0, math.MaxInt32)
	if err != nil {
		s.writeDebateError(w, r, debate.InvalidInput("limit must be a non-negative integer"))
		return
	}
	offset, err := parseOptionalBoundedInt(query.Get("offset"), 0, 0, math.MaxInt32)
	if err != nil {
		s.writeDebateError(w, r, debate.InvalidInput("offset must be a non-negative integer"))
		return
	}
	filter := debate.ListFilter{Limit: limit, Offset: offset}
	if raw := strings.TrimSpace(query.Get("state")); raw != "" {
		filter.State = debate.State(raw)
		if state, ok := debate.ParseState(raw); ok {
			filter.State = state
		}
	}
	list, err := s.service.ListDebates(r.Context(), filter)
	if err != nil {
		s.writeDebateError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, list)
}

func (s *Server) handleCreateDebate(w http.ResponseWriter, r *http.Request) {
	var in debate.CreateDebateInput
	if !s.decodeJSONBody(w, r, schemaCreateDebate, &in) {
		return
	}
	result, err := s.service.CreateDebate(r.Context(), in)
	if err != nil {
		s.writeDebateError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, result)
}

func (s *Server) handleGetDebate(w http.ResponseWriter, r *http.Request, debateID string) {
	var limit *int
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := parseOptionalBoundedInt(raw, 0, 0, math.MaxInt32)
		if err != nil {
			s.writeDebateError(w, r, debate.InvalidInput("limit must be a non-negative integer"))
			return
		}
		limit = &parsed
	}
	view, err := s.service.GetDebateWithArguments(r.Context(), debateID, limit)
	if err != nil {
		s.writeDebateError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, view)
}

func (s *Server) handleDeleteDebate(w http.ResponseWriter, r *http.Request, debateID string) {
	if err := s.service.DeleteDebate(r.Context(), debateID); err != nil {
		s.writeDebateError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"debate_id": debateID, "deleted": true})
}

func (s *Server) handleSubmitClaim(w http.ResponseWriter, r *http.Request, debateID string) {
	var in debate.SubmitClaimInput
	if !s.decodeJSONBody(w, r, schemaSubmitClaim, &in) {
		return
	}
	in.DebateID = debateID
	s.writeResult(w, r)(s.service.SubmitClaim(r.Context(), in))
}

func (s *Server) handleSubmitTargeted(w http.ResponseWriter, r *http.Request, debateID string, submit func(context.Context, debate.TargetedInput) (debate.Result, error)) {
	var in debate.TargetedInput
	if !s.decodeJSONBody(w, r, schemaSubmitTargeted, &in) {
		return
	}
	in.DebateID = debateID
	s.writeResult(w, r)(submit(r.Context(), in))
}

func (s *Server) handleSubmitIntervention(w http.ResponseWriter, r *http.Request, debateID string) {
	var in debate.SubmitInterventionInput
	if !s.decodeJSONBody(w, r, schemaSubmitIntervention, &in) {
		return
	}
	in.DebateID = debateID
	s.writeResult(w, r)(s.service.SubmitIntervention(r.Context(), in))
}

func (s *Server) handleSubmitRuling(w http.ResponseWriter, r *http.Request, debateID string) {
	var in debate.SubmitRulingInput
	if !s.decodeJSONBody(w, r, schemaSubmitRuling, &in) {
		return
	}
	in.DebateID = debateID
	s.writeResult(w, r)(s.service.SubmitRuling(r.Context(), in))
}

func (s *Server) writeResult(w http.ResponseWriter, r *http.Request) func(debate.Result, error) {
	return func(result debate.Result, err error) {
		if err != nil {
			s.writeDebateError(w, r, err)
			return
		}
		writeSuccess(w, http.StatusCreated, result)
	}
}

func (s *Server) handleWait(w http.ResponseWriter, r *http.Request, debateID string) {
	query := r.URL.Query()
	role, ok := debate.ParseRole(query.Get("role"))
	if !ok {
		s.writeDebateError(w, r, debate.InvalidInput("role must be proposer or opponent"))
		return
	}
	maxTimeout := int(s.service.PollTimeout() / time.Millisecond)
	timeoutMS, err := parseOptionalBoundedInt(query.Get("timeout_ms"), 0, 1, maxTimeout)
	if err != nil {
		s.writeDebateError(w, r, debate.InvalidInput(fmt.Sprintf("timeout_ms must be between 1 and %d", maxTimeout)))
		return
	}
	result, err := s.service.WaitForResponse(r.Context(), debate.WaitRequest{
		DebateID:           debateID,
		LastSeenArgumentID: query.Get("argument_id"),
		Role:               role,
		Timeout:            time.Duration(timeoutMS) * time.Millisecond,
	})
	if err != nil {
		s.writeDebateError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

// writeDebateError maps service errors onto the flat error envelope. Errors
// that are not *debate.Error are logged and reported without detail.
func (s *Server) writeDebateError(w http.ResponseWriter, r *http.Request, err error) {
	correlationID := getCorrelationID(r)
	var apiErr *debate.Error
	if !errors.As(err, &apiErr) {
		if r.Context().Err() != nil {
			s.log.Debug("client went away", "path", r.URL.Path, "error", err)
			return
		}
		s.log.Error("request failed", "path", r.URL.Path, "correlation_id", correlationID, "error", err)
		writeError(w, http.StatusInternalServerError, debate.CodeInternal, "Internal error", correlationID)
		return
	}
	status := statusForError(apiErr)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeFailure(w, status, apiErr.Payload(), correlationID)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, debate.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, debate.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, debate.ErrActionNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, debate.ErrContentTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, debate.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, debate.ErrStoreBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeFailure(w, http.StatusRequestEntityTooLarge, map[string]any{
				"code":       debate.CodeContentTooLarge,
				"message":    fmt.Sprintf("Request body exceeds %d bytes", s.cfg.MaxBodyBytes),
				"max_length": s.service.MaxContentLength(),
			}, getCorrelationID(r))
			return nil, false
		}
		writeError(w, http.StatusBadRequest, debate.CodeInvalidInput, "failed to read request body", getCorrelationID(r))
		return nil, false
	}
	return body, true
}

// decodeJSONBody reads the body, checks it against the named schema and
// decodes it into dst. It writes the error response itself on failure.
func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return false
	}
	if message, valid := s.schemas.validate(schema, body); !valid {
		s.writeDebateError(w, r, debate.InvalidInput(message))
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		s.writeDebateError(w, r, debate.InvalidInput("invalid json body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeFailure(w, status, map[string]any{"code": code, "message": message}, correlationID)
}

func writeFailure(w http.ResponseWriter, status int, payload map[string]any, correlationID string) {
	if correlationID != "" {
		payload["correlation_id"] = correlationID
	}
	writeJSON(w, status, map[string]any{"success": false, "error": payload})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, entry := range r.entries {
		if now.After(entry.resetAt) {
			delete(r.entries, k)
		}
	}
	entry, ok := r.entries[key]
	if !ok {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseOptionalBoundedInt(raw string, fallback, min, max int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, err
	}
	if parsed < min || parsed > max {
		return 0, fmt.Errorf("out of range")
	}
	return parsed, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack lets the WebSocket upgrade take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("httpapi: response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}
