package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/gnn-trainconf/internal/registry"
	"github.com/eugenenazirov/gnn-trainconf/internal/schedule"
	"github.com/eugenenazirov/gnn-trainconf/internal/trainconfig"
)

const fixturePath = "../trainconfig/testdata/edge_only.yaml"

type controllableClock struct {
	mu  sync.RWMutex
	now time.Time
}

func newControllableClock(initial time.Time) *controllableClock {
	return &controllableClock{now: initial}
}

func (c *controllableClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *controllableClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupTestRouter(t *testing.T, opts ...HandlerOption) (http.Handler, *controllableClock) {
	t.Helper()

	clock := newControllableClock(time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC))
	logger := zaptest.NewLogger(t)

	opts = append([]HandlerOption{WithClock(clock.Now), WithHandlerLogger(logger)}, opts...)
	handler := NewHandler(registry.NewMemoryRegistry(), schedule.New(), opts...)
	router := NewRouter(handler, logger, WithLogging(false))

	return router, clock
}

func fixture(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(fixturePath)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}

func post(t *testing.T, router http.Handler, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/yaml")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type issuesBody struct {
	Error  string              `json:"error"`
	Issues []trainconfig.Issue `json:"issues"`
}

func TestRequestIDHelpers(t *testing.T) {
	ctx := contextWithRequestID(context.Background(), "abc")
	if got := requestIDFromContext(ctx); got != "abc" {
		t.Fatalf("expected abc, got %s", got)
	}
	resp := httptest.NewRecorder()
	writeInternalError(resp, assertError("boom"))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.Code)
	}
}

type assertError string

func (a assertError) Error() string { return string(a) }

func TestHealthEndpoint(t *testing.T) {
	router, clock := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if body.Status != "ok" {
		t.Fatalf("expected status ok, got %s", body.Status)
	}
	if !body.Timestamp.Equal(clock.Now()) {
		t.Fatalf("expected timestamp %s, got %s", clock.Now(), body.Timestamp)
	}
}

func TestValidateEndpointSuccess(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := post(t, router, "/api/validate?resolve=true", fixture(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Valid    bool                  `json:"valid"`
		Document trainconfig.Document  `json:"document"`
		Plan     *schedule.Plan        `json:"plan"`
		Warnings []trainconfig.Warning `json:"warnings"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if !body.Valid {
		t.Fatalf("expected valid document")
	}
	if body.Document.IOTool.BatchSize != 8 || body.Document.Model.Modules["clust_edge_model"].Name != "edge_only" {
		t.Fatalf("unexpected document: %+v", body.Document)
	}
	if body.Plan == nil || body.Plan.CheckpointCount != 10 || !body.Plan.MinibatchDisabled {
		t.Fatalf("unexpected plan: %+v", body.Plan)
	}
	if len(body.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", body.Warnings)
	}
}

func TestValidateEndpointReportsIssues(t *testing.T) {
	router, _ := setupTestRouter(t)

	tests := []struct {
		name string
		old  string
		new  string
		path string
		kind string
	}{
		{name: "missing dataset name", old: "    name: LArCVDataset\n", new: "", path: "iotool.dataset.name", kind: trainconfig.KindMissingField},
		{name: "batch size as word", old: "  batch_size: 8\n  shuffle", new: "  batch_size: eight\n  shuffle", path: "iotool.batch_size", kind: trainconfig.KindTypeMismatch},
		{name: "unknown loss", old: "      loss: CE\n", new: "      loss: focal\n", path: "model.modules.clust_edge_model.loss", kind: trainconfig.KindConstraint},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc := strings.Replace(string(fixture(t)), tc.old, tc.new, 1)
			rec := post(t, router, "/api/validate", []byte(doc))

			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected status 422, got %d", rec.Code)
			}
			var body issuesBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if len(body.Issues) != 1 || body.Issues[0].Path != tc.path || body.Issues[0].Kind != tc.kind {
				t.Fatalf("unexpected issues: %+v", body.Issues)
			}
		})
	}
}

func TestValidateEndpointResolvesIdentifiers(t *testing.T) {
	router, _ := setupTestRouter(t)
	doc := strings.Replace(string(fixture(t)), "collate_fn: CollateSparse", "collate_fn: CollateGraph", 1)

	rec := post(t, router, "/api/validate", []byte(doc))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected identifiers to be ignored without resolve, got %d", rec.Code)
	}

	rec = post(t, router, "/api/validate?resolve=true", []byte(doc))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}
	var body issuesBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Issues) != 1 || body.Issues[0].Kind != trainconfig.KindUnknownIdentifier || body.Issues[0].Path != "iotool.collate_fn" {
		t.Fatalf("unexpected issues: %+v", body.Issues)
	}
}

func TestValidateEndpointPathCheck(t *testing.T) {
	router, _ := setupTestRouter(t, WithPathCheck(true))

	rec := post(t, router, "/api/validate", fixture(t))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected missing data dir to fail, got %d", rec.Code)
	}

	rec = post(t, router, "/api/validate?check_paths=false", fixture(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected query to disable path check, got %d", rec.Code)
	}
}

func TestValidateEndpointRejectsBadInput(t *testing.T) {
	router, _ := setupTestRouter(t, WithMaxBodyBytes(64))

	tests := []struct {
		name   string
		target string
		body   []byte
		status int
	}{
		{name: "empty body", target: "/api/validate", body: nil, status: http.StatusBadRequest},
		{name: "malformed YAML", target: "/api/validate", body: []byte("iotool: [oops\n"), status: http.StatusBadRequest},
		{name: "bad flag", target: "/api/validate?strict=maybe", body: []byte("iotool: {}\n"), status: http.StatusBadRequest},
		{name: "too large", target: "/api/validate", body: bytes.Repeat([]byte("#"), 128), status: http.StatusRequestEntityTooLarge},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := post(t, router, tc.target, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rec.Code)
			}
		})
	}
}

func TestPlanEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := post(t, router, "/api/plan?events=true&limit=3", fixture(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Plan            schedule.Plan    `json:"plan"`
		Events          []schedule.Event `json:"events"`
		EventsTruncated bool             `json:"eventsTruncated"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if body.Plan.CheckpointCount != 10 || !body.Plan.CleanFinalCheckpoint {
		t.Fatalf("unexpected plan: %+v", body.Plan)
	}
	if body.Plan.WeightFiles[0] != "weights/edge_gnn/snapshot-99.ckpt" {
		t.Fatalf("unexpected first weight file: %s", body.Plan.WeightFiles[0])
	}
	if len(body.Events) != 3 || !body.EventsTruncated || body.Events[2].Step != 3 {
		t.Fatalf("unexpected events: %+v (truncated=%v)", body.Events, body.EventsTruncated)
	}

	rec = post(t, router, "/api/plan?limit=0", fixture(t))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad limit, got %d", rec.Code)
	}
}

func TestPlanEndpointLargeIterationCounts(t *testing.T) {
	router, _ := setupTestRouter(t)

	tests := []struct {
		name       string
		iterations string
		stepLine   string
		reportLine string
		wantEvents int
		wantFirst  int
	}{
		{
			name:       "SparseEvents",
			iterations: "iterations: 3000000000",
			stepLine:   "checkpoint_step: 3000000000",
			reportLine: "report_step: 3000000000",
			wantEvents: 1,
			wantFirst:  3000000000,
		},
		{
			name:       "MaxIterations",
			iterations: "iterations: 9223372036854775807",
			stepLine:   "checkpoint_step: 1",
			reportLine: "report_step: 1",
			wantEvents: 5,
			wantFirst:  1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc := string(fixture(t))
			doc = strings.Replace(doc, "iterations: 1000", tc.iterations, 1)
			doc = strings.Replace(doc, "checkpoint_step: 100", tc.stepLine, 1)
			doc = strings.Replace(doc, "report_step: 1\n", tc.reportLine+"\n", 1)

			start := time.Now()
			rec := post(t, router, "/api/plan?events=true&limit=5", []byte(doc))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Fatalf("plan took %v", elapsed)
			}

			var body struct {
				Plan   schedule.Plan    `json:"plan"`
				Events []schedule.Event `json:"events"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if len(body.Events) != tc.wantEvents || body.Events[0].Step != tc.wantFirst {
				t.Fatalf("unexpected events: %+v", body.Events)
			}
			if body.Plan.SamplesSeen < 0 {
				t.Fatalf("sample count overflowed: %d", body.Plan.SamplesSeen)
			}
		})
	}
}

func TestComponentsEndpoints(t *testing.T) {
	router, clock := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/components", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var all struct {
		Components map[string][]string `json:"components"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&all); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(all.Components) != len(registry.Kinds()) {
		t.Fatalf("expected %d kinds, got %d", len(registry.Kinds()), len(all.Components))
	}

	clock.Advance(time.Minute)
	payload, _ := json.Marshal(map[string][]string{"names": {"parse_custom"}})
	req = httptest.NewRequest(http.MethodPut, "/api/components/parser", bytes.NewReader(payload))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var updated struct {
		Names     []string  `json:"names"`
		UpdatedAt time.Time `json:"updatedAt"`
		Message   string    `json:"message"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&updated); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !updated.UpdatedAt.Equal(clock.Now()) || updated.Message == "" {
		t.Fatalf("unexpected update response: %+v", updated)
	}
	found := false
	for _, name := range updated.Names {
		found = found || name == "parse_custom"
	}
	if !found {
		t.Fatalf("expected parse_custom in %v", updated.Names)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/components/parser", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestComponentsEndpointsRejectBadInput(t *testing.T) {
	router, _ := setupTestRouter(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{name: "unknown kind get", method: http.MethodGet, target: "/api/components/optimizer", status: http.StatusNotFound},
		{name: "unknown kind put", method: http.MethodPut, target: "/api/components/optimizer", body: `{"names":["adam"]}`, status: http.StatusNotFound},
		{name: "invalid json", method: http.MethodPut, target: "/api/components/model", body: `{`, status: http.StatusBadRequest},
		{name: "empty names", method: http.MethodPut, target: "/api/components/model", body: `{"names":[]}`, status: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rec.Code)
			}
		})
	}
}

func TestCorsPreflight(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/validate", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected Access-Control-Allow-Origin header to be set")
	}
}

func TestRequestIDPropagation(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "test-request-id")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "test-request-id" {
		t.Fatalf("expected X-Request-ID header to be echoed, got %s", got)
	}
}
