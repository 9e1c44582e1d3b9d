package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikindex/internal/store"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

type listRunsResponse struct {
	Runs   []store.Run `json:"runs"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var status *store.RunStatus
	if raw := q.Get("status"); raw != "" {
		st := store.RunStatus(raw)
		if !st.Valid() {
			s.writeError(w, http.StatusBadRequest, "status must be one of running, success, error")
			return
		}
		status = &st
	}
	limit, err := queryInt(q.Get("limit"), defaultRunsLimit)
	if err != nil || limit < 1 || limit > maxRunsLimit {
		s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		s.writeError(w, http.StatusBadRequest, "offset must be >= 0")
		return
	}

	runs, err := s.runs.ListRuns(r.Context(), status, limit, offset)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	s.writeJSON(w, http.StatusOK, listRunsResponse{Runs: runs, Limit: limit, Offset: offset})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.String("run_id", id.String()), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "get run failed")
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
