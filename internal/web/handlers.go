package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"pricecast/internal/chart"
	"pricecast/internal/pipeline"
	"pricecast/internal/runner"
	"pricecast/internal/store"
)

const dateLayout = "2006-01-02"

// RunRequest is the body of POST /api/runs. Zero fields take configured defaults.
type RunRequest struct {
	Symbol       string `json:"symbol"`
	WindowLength int    `json:"window_length,omitempty"`
	Epochs       int    `json:"epochs,omitempty"`
	BatchSize    int    `json:"batch_size,omitempty"`
	TrainStart   string `json:"train_start,omitempty"`
	TrainEnd     string `json:"train_end,omitempty"`
	TestEnd      string `json:"test_end,omitempty"`
}

// ErrorResponse is returned for every failed API call
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ListResponse is returned by GET /api/runs
type ListResponse struct {
	Active  []runner.Status `json:"active"`
	History []store.Run     `json:"history"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

// toPipelineRequest merges the body over configured defaults
func (s *Server) toPipelineRequest(body RunRequest) (pipeline.Request, error) {
	req, err := runner.RequestFromConfig(s.config, body.Symbol, s.now())
	if err != nil {
		return req, err
	}
	if body.WindowLength != 0 {
		req.WindowLength = body.WindowLength
	}
	if body.Epochs != 0 {
		req.Epochs = body.Epochs
	}
	if body.BatchSize != 0 {
		req.BatchSize = body.BatchSize
	}

	dates := []struct {
		name  string
		value string
		dst   *time.Time
	}{
		{"train_start", body.TrainStart, &req.TrainStart},
		{"train_end", body.TrainEnd, &req.TrainEnd},
		{"test_end", body.TestEnd, &req.TestEnd},
	}
	for _, d := range dates {
		if d.value == "" {
			continue
		}
		t, err := time.Parse(dateLayout, d.value)
		if err != nil {
			return req, fmt.Errorf("%w: %s must be a YYYY-MM-DD date", pipeline.ErrInvalidRequest, d.name)
		}
		*d.dst = t
	}
	return req, nil
}

// handleSubmit starts an async run; clients poll GET /api/runs/{id}
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body RunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, string(pipeline.CodeInvalidRequest), fmt.Errorf("invalid JSON body: %w", err))
		return
	}

	req, err := s.toPipelineRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(pipeline.CodeInvalidRequest), err)
		return
	}

	id, err := s.runs.Submit(req, "api")
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, string(pipeline.CodeInvalidRequest), err)
		return
	case errors.Is(err, runner.ErrTooManyRuns):
		writeError(w, http.StatusTooManyRequests, "", err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}

	s.logger.Info().Str("run_id", id).Str("symbol", req.Symbol).Msg("run accepted")
	w.Header().Set("Location", "/api/runs/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "started"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "", fmt.Errorf("limit must be a positive integer"))
			return
		}
		limit = n
	}

	history, err := s.runs.Store().List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	if history == nil {
		history = []store.Run{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Active: s.runs.List(), History: history})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if st, ok := s.runs.Status(id); ok {
		writeJSON(w, http.StatusOK, st)
		return
	}

	rec, err := s.runs.Store().Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.runs.Cancel(id) {
		writeError(w, http.StatusNotFound, "", store.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "canceling"})
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, err := s.runs.Result(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "", fmt.Errorf("no result for run %s", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}

	var buf bytes.Buffer
	if err := chart.WritePNG(&buf, result); err != nil {
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", chart.FileName(result.Symbol)))
	w.Write(buf.Bytes())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
