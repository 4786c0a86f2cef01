package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/renderlite/renderlite/pkg/errdefs"
	"github.com/renderlite/renderlite/pkg/types"
)

// defaultDeploymentLimit bounds GET /services/{id}/deployments when no
// limit query parameter is given.
const defaultDeploymentLimit = 20

func (s *Server) handleTriggerDeployment(w http.ResponseWriter, r *http.Request) {
	dep, err := s.mgr.TriggerDeployment(r.Context(), chi.URLParam(r, "serviceID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	// The pipeline runs in the worker process; the client polls or
	// subscribes to the event stream.
	writeJSON(w, http.StatusAccepted, dep)
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	limit := defaultDeploymentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, errdefs.Validation("limit %q is not a positive integer", raw))
			return
		}
		limit = n
	}

	deps, err := s.mgr.ListDeployments(r.Context(), chi.URLParam(r, "serviceID"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if deps == nil {
		deps = []*types.Deployment{}
	}
	writeJSON(w, http.StatusOK, deps)
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	dep, err := s.mgr.GetDeployment(r.Context(), chi.URLParam(r, "deploymentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

func (s *Server) handleCancelDeployment(w http.ResponseWriter, r *http.Request) {
	dep, err := s.mgr.CancelDeployment(r.Context(), chi.URLParam(r, "deploymentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	dep, err := s.mgr.TriggerRollback(r.Context(), chi.URLParam(r, "deploymentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, dep)
}
