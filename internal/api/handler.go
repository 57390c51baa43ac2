package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/gnn-trainconf/internal/registry"
	"github.com/eugenenazirov/gnn-trainconf/internal/schedule"
	"github.com/eugenenazirov/gnn-trainconf/internal/trainconfig"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

const (
	defaultMaxBodyBytes = 1 << 20
	defaultEventLimit   = 100
	maxEventLimit       = 10000
)

// Handler wires the loader, registry, and planner into HTTP handlers.
type Handler struct {
	registry registry.Registry
	planner  schedule.Planner
	logger   *zap.Logger

	checkPaths      bool
	strictBatchSize bool
	maxBodyBytes    int64

	clock func() time.Time

	mu                  sync.RWMutex
	componentsUpdatedAt time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithHandlerLogger sets the logger passed to the document loader.
func WithHandlerLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithPathCheck sets the default for eager data_dirs checks; requests may override it.
func WithPathCheck(enabled bool) HandlerOption {
	return func(h *Handler) {
		h.checkPaths = enabled
	}
}

// WithStrictBatchSize sets the default for sampler batch size reconciliation.
func WithStrictBatchSize(enabled bool) HandlerOption {
	return func(h *Handler) {
		h.strictBatchSize = enabled
	}
}

// WithMaxBodyBytes limits the size of uploaded documents.
func WithMaxBodyBytes(limit int64) HandlerOption {
	return func(h *Handler) {
		if limit > 0 {
			h.maxBodyBytes = limit
		}
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(reg registry.Registry, planner schedule.Planner, opts ...HandlerOption) *Handler {
	h := &Handler{
		registry:     reg,
		planner:      planner,
		logger:       zap.NewNop(),
		maxBodyBytes: defaultMaxBodyBytes,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.componentsUpdatedAt = h.clock()
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	opts, err := h.loadOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	resolve, err := queryBool(r, "resolve", false)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	doc, ok := h.parseDocument(w, r, opts)
	if !ok {
		return
	}

	if resolve {
		if err := registry.Resolve(doc, h.registry); err != nil {
			writeIssues(w, "Unresolved components", err)
			return
		}
	}

	resp := validateResponse{
		Valid:    true,
		Document: doc,
		Warnings: doc.Lint(),
	}
	if plan, err := h.planner.Plan(doc.Training, doc.IOTool.BatchSize); err == nil {
		resp.Plan = &plan
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePlan(w http.ResponseWriter, r *http.Request) {
	opts, err := h.loadOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	withEvents, err := queryBool(r, "events", false)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxEventLimit {
			writeError(w, http.StatusBadRequest, "Invalid request", "limit must be an integer between 1 and 10000")
			return
		}
	}

	doc, ok := h.parseDocument(w, r, opts)
	if !ok {
		return
	}

	plan, err := h.planner.Plan(doc.Training, doc.IOTool.BatchSize)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Cannot plan training run", err.Error())
		return
	}

	resp := planResponse{Plan: plan}
	if withEvents {
		resp.Events = make([]schedule.Event, 0, min(limit, max(plan.ReportCount, plan.CheckpointCount)))
		for ev := range plan.Events() {
			if len(resp.Events) == limit {
				resp.EventsTruncated = true
				break
			}
			resp.Events = append(resp.Events, ev)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListComponents(w http.ResponseWriter, r *http.Request) {
	_ = r
	out := make(map[registry.Kind][]string, len(registry.Kinds()))
	for _, kind := range registry.Kinds() {
		names, err := h.registry.Components(kind)
		if err != nil {
			writeInternalError(w, err)
			return
		}
		out[kind] = names
	}
	writeJSON(w, http.StatusOK, componentsResponse{
		Components: out,
		UpdatedAt:  h.currentComponentsUpdatedAt(),
	})
}

func (h *Handler) handleGetComponents(w http.ResponseWriter, r *http.Request) {
	kind, err := registry.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Unknown component kind", err.Error())
		return
	}
	names, err := h.registry.Components(kind)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kindComponentsResponse{
		Kind:      kind,
		Names:     names,
		UpdatedAt: h.currentComponentsUpdatedAt(),
	})
}

func (h *Handler) handlePutComponents(w http.ResponseWriter, r *http.Request) {
	kind, err := registry.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Unknown component kind", err.Error())
		return
	}

	var req componentsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}

	if err := h.registry.Register(kind, req.Names); err != nil {
		if errors.Is(err, registry.ErrInvalidComponents) {
			writeError(w, http.StatusBadRequest, "Invalid components", err.Error())
			return
		}
		writeInternalError(w, err)
		return
	}

	h.markComponentsUpdated()

	names, err := h.registry.Components(kind)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kindComponentsResponse{
		Kind:      kind,
		Names:     names,
		UpdatedAt: h.currentComponentsUpdatedAt(),
		Message:   "Components registered successfully",
	})
}

func (h *Handler) loadOptions(r *http.Request) ([]trainconfig.Option, error) {
	checkPaths, err := queryBool(r, "check_paths", h.checkPaths)
	if err != nil {
		return nil, err
	}
	strict, err := queryBool(r, "strict", h.strictBatchSize)
	if err != nil {
		return nil, err
	}
	logger := h.logger.With(zap.String("request_id", requestIDFromContext(r.Context())))
	return []trainconfig.Option{
		trainconfig.WithLogger(logger),
		trainconfig.WithPathCheck(checkPaths),
		trainconfig.WithStrictBatchSize(strict),
	}, nil
}

// parseDocument reads and loads the request body, writing the error response itself on failure.
func (h *Handler) parseDocument(w http.ResponseWriter, r *http.Request, opts []trainconfig.Option) (*trainconfig.Document, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Document too large",
				"limit is "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to read request body")
		return nil, false
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "Invalid request", "request body must contain a YAML document")
		return nil, false
	}

	doc, err := trainconfig.NewLoader(opts...).Parse(body)
	if err != nil {
		if errors.Is(err, trainconfig.ErrSyntax) {
			writeError(w, http.StatusBadRequest, "Invalid YAML", err.Error())
			return nil, false
		}
		writeIssues(w, "Invalid configuration", err)
		return nil, false
	}
	return doc, true
}

func (h *Handler) currentComponentsUpdatedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.componentsUpdatedAt
}

func (h *Handler) markComponentsUpdated() {
	h.mu.Lock()
	h.componentsUpdatedAt = h.clock()
	h.mu.Unlock()
}

func queryBool(r *http.Request, key string, def bool) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New(key + " must be a boolean")
	}
	return v, nil
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type componentsRequest struct {
	Names []string `json:"names"`
}

type validateResponse struct {
	Valid    bool                  `json:"valid"`
	Document *trainconfig.Document `json:"document"`
	Plan     *schedule.Plan        `json:"plan,omitempty"`
	Warnings []trainconfig.Warning `json:"warnings"`
}

type planResponse struct {
	Plan            schedule.Plan    `json:"plan"`
	Events          []schedule.Event `json:"events,omitempty"`
	EventsTruncated bool             `json:"eventsTruncated,omitempty"`
}

type componentsResponse struct {
	Components map[registry.Kind][]string `json:"components"`
	UpdatedAt  time.Time                  `json:"updatedAt"`
}

type kindComponentsResponse struct {
	Kind      registry.Kind `json:"kind"`
	Names     []string      `json:"names"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Message   string        `json:"message,omitempty"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error      string              `json:"error"`
	Details    string              `json:"details,omitempty"`
	Suggestion string              `json:"suggestion,omitempty"`
	Issues     []trainconfig.Issue `json:"issues,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeIssues(w http.ResponseWriter, message string, err error) {
	issues := trainconfig.Issues(err)
	writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
		Error:   message,
		Details: issues[0].Message,
		Issues:  issues,
	})
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
