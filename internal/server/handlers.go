package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/splitclass/splitclass/internal/engine"
	"github.com/splitclass/splitclass/internal/store"
)

type HealthResponse struct {
	Status        string `json:"status"`
	TestsCount    int    `json:"tests_count"`
	DBSizeBytes   int64  `json:"db_size_bytes"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tests, err := s.store.ListTests(r.Context(), "", "")
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var dbSize int64
	row := s.store.DB().QueryRow("SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
	_ = row.Scan(&dbSize)

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		TestsCount:    len(tests),
		DBSizeBytes:   dbSize,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}

// AssignRequest identifies a test and an identity to bucket
type AssignRequest struct {
	TestID    string `json:"test_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type AssignResponse struct {
	Assigned bool                     `json:"assigned"`
	Variant  *engine.AssignmentResult `json:"variant,omitempty"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "POST, OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.TestID == "" {
		http.Error(w, "test_id is required", http.StatusBadRequest)
		return
	}

	identity := store.Identity{UserID: req.UserID, SessionID: req.SessionID}
	result, err := s.engine.GetAssignment(r.Context(), req.TestID, identity)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	// Exclusion is a defined outcome, not an error
	writeJSON(w, http.StatusOK, AssignResponse{Assigned: result != nil, Variant: result})
}

// ConvertRequest records a metric event against an assigned identity
type ConvertRequest struct {
	TestID    string  `json:"test_id"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	UserID    string  `json:"user_id"`
	SessionID string  `json:"session_id"`
}

type ConvertResponse struct {
	Recorded bool `json:"recorded"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "POST, OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.TestID == "" {
		http.Error(w, "test_id is required", http.StatusBadRequest)
		return
	}

	identity := store.Identity{UserID: req.UserID, SessionID: req.SessionID}
	event, err := s.engine.RecordConversion(r.Context(), req.TestID, req.Metric, req.Value, identity)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ConvertResponse{Recorded: event != nil})
}

func (s *Server) handleActiveTests(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "GET, OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	page := r.URL.Query().Get("page")
	if page == "" {
		http.Error(w, "page parameter required", http.StatusBadRequest)
		return
	}

	tests, err := s.engine.GetActiveTestsForPage(r.Context(), page)
	if err != nil {
		http.Error(w, "Failed to fetch tests", http.StatusInternalServerError)
		return
	}

	response := make([]TestResponse, 0, len(tests))
	for _, t := range tests {
		response = append(response, toTestResponse(t))
	}

	writeJSON(w, http.StatusOK, response)
}

type AssignmentResponse struct {
	TestID    string    `json:"test_id"`
	VariantID string    `json:"variant_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleUserAssignments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id parameter required", http.StatusBadRequest)
		return
	}

	assignments, err := s.engine.GetUserAssignments(r.Context(), userID)
	if err != nil {
		http.Error(w, "Failed to fetch assignments", http.StatusInternalServerError)
		return
	}

	response := make([]AssignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		response = append(response, AssignmentResponse{
			TestID:    a.TestID,
			VariantID: a.VariantID,
			CreatedAt: a.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, response)
}

// CreateTestRequest is the authoring payload for a new experiment
type CreateTestRequest struct {
	Name             string                 `json:"name"`
	Description      string                 `json:"description"`
	Type             string                 `json:"type"`
	TargetPage       string                 `json:"target_page"`
	TrafficPercent   *float64               `json:"traffic_percent"`
	PrimaryMetric    string                 `json:"primary_metric"`
	SecondaryMetrics []string               `json:"secondary_metrics"`
	StartDate        *time.Time             `json:"start_date"`
	EndDate          *time.Time             `json:"end_date"`
	Variants         []CreateVariantRequest `json:"variants"`
}

type CreateVariantRequest struct {
	Name      string                 `json:"name"`
	IsControl bool                   `json:"is_control"`
	Weight    int                    `json:"weight"`
	Config    map[string]interface{} `json:"config"`
}

func (s *Server) handleTests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListTests(w, r)
	case http.MethodPost:
		s.handleCreateTest(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	status := store.TestStatus(r.URL.Query().Get("status"))
	testType := store.TestType(r.URL.Query().Get("type"))

	tests, err := s.engine.ListTests(r.Context(), status, testType)
	if err != nil {
		http.Error(w, "Failed to list tests", http.StatusInternalServerError)
		return
	}

	response := make([]TestResponse, 0, len(tests))
	for _, t := range tests {
		response = append(response, toTestResponse(t))
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	var req CreateTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	trafficPercent := 100.0
	if req.TrafficPercent != nil {
		trafficPercent = *req.TrafficPercent
	}

	test := &store.Test{
		Name:             req.Name,
		Description:      req.Description,
		Type:             store.TestType(req.Type),
		TargetPage:       req.TargetPage,
		TrafficPercent:   trafficPercent,
		PrimaryMetric:    store.Metric(req.PrimaryMetric),
		SecondaryMetrics: req.SecondaryMetrics,
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
	}
	for _, v := range req.Variants {
		test.Variants = append(test.Variants, &store.Variant{
			Name:      v.Name,
			IsControl: v.IsControl,
			Weight:    v.Weight,
			Config:    v.Config,
		})
	}

	created, err := s.engine.CreateTest(r.Context(), test)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTestResponse(created))
}

func (s *Server) handleTestByID(w http.ResponseWriter, r *http.Request) {
	rest := r.URL.Path[len("/api/tests/"):]
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Test id required", http.StatusBadRequest)
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleGetTest(w, r, id)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.handleDeleteTest(w, r, id)
	case len(parts) == 2 && parts[1] == "results" && r.Method == http.MethodGet:
		s.handleResults(w, r, id)
	case len(parts) == 2 && parts[1] == "status" && (r.Method == http.MethodPut || r.Method == http.MethodPost):
		s.handleUpdateStatus(w, r, id)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (s *Server) handleGetTest(w http.ResponseWriter, r *http.Request, id string) {
	test, err := s.engine.GetTest(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTestResponse(test))
}

func (s *Server) handleDeleteTest(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.engine.DeleteTest(r.Context(), id); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request, id string) {
	results, err := s.engine.GetResults(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request, id string) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	test, err := s.engine.UpdateStatus(r.Context(), id, store.TestStatus(req.Status))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTestResponse(test))
}

// TestResponse is the wire shape of a test definition
type TestResponse struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Type             string            `json:"type"`
	TargetPage       string            `json:"target_page,omitempty"`
	TrafficPercent   float64           `json:"traffic_percent"`
	PrimaryMetric    string            `json:"primary_metric"`
	SecondaryMetrics []string          `json:"secondary_metrics,omitempty"`
	StartDate        *time.Time        `json:"start_date,omitempty"`
	EndDate          *time.Time        `json:"end_date,omitempty"`
	Status           string            `json:"status"`
	Variants         []VariantResponse `json:"variants"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

type VariantResponse struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	IsControl   bool                   `json:"is_control"`
	Config      map[string]interface{} `json:"config,omitempty"`
	Weight      int                    `json:"weight"`
	Impressions int64                  `json:"impressions"`
	Conversions int64                  `json:"conversions"`
}

func toTestResponse(t *store.Test) TestResponse {
	resp := TestResponse{
		ID:               t.ID,
		Name:             t.Name,
		Description:      t.Description,
		Type:             string(t.Type),
		TargetPage:       t.TargetPage,
		TrafficPercent:   t.TrafficPercent,
		PrimaryMetric:    string(t.PrimaryMetric),
		SecondaryMetrics: t.SecondaryMetrics,
		StartDate:        t.StartDate,
		EndDate:          t.EndDate,
		Status:           string(t.Status),
		Variants:         make([]VariantResponse, 0, len(t.Variants)),
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
	for _, v := range t.Variants {
		resp.Variants = append(resp.Variants, VariantResponse{
			ID:          v.ID,
			Name:        v.Name,
			IsControl:   v.IsControl,
			Config:      v.Config,
			Weight:      v.Weight,
			Impressions: v.Impressions,
			Conversions: v.Conversions,
		})
	}
	return resp
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, engine.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrIllegalTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.log.Error("request failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func setCORS(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}
