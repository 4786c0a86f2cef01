package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/renderlite/renderlite/pkg/manager"
	"github.com/renderlite/renderlite/pkg/secrets"
	"github.com/renderlite/renderlite/pkg/types"
)

// createServiceRequest is the body of POST /api/v1/services. Struct
// validation is the fast gate; the manager stays authoritative for URL
// normalization, slug rules, and subdomain allocation.
type createServiceRequest struct {
	Name      string            `json:"name" validate:"required,max=63"`
	ProjectID string            `json:"projectId" validate:"required"`
	UserID    string            `json:"userId" validate:"required"`
	RepoURL   string            `json:"repoUrl" validate:"required,url"`
	Branch    string            `json:"branch" validate:"required"`
	Runtime   string            `json:"runtime" validate:"omitempty,max=32"`
	Env       map[string]string `json:"env"`
	GitToken  string            `json:"gitToken"`

	HealthCheckPath        string `json:"healthCheckPath" validate:"omitempty,startswith=/"`
	HealthCheckIntervalSec int    `json:"healthCheckIntervalSec" validate:"omitempty,min=1,max=3600"`
	HealthCheckTimeoutSec  int    `json:"healthCheckTimeoutSec" validate:"omitempty,min=1,max=600"`
}

// serviceResponse is a service as the API returns it: env values masked,
// git token never present. The webhook secret is echoed exactly once, on
// create, so the owner can configure the push webhook.
type serviceResponse struct {
	*types.Service
	// URL is the public address under the base domain. It is known before
	// the first deploy finishes.
	URL           string            `json:"url"`
	Env           map[string]string `json:"env"`
	WebhookSecret string            `json:"webhookSecret,omitempty"`
}

func (s *Server) serviceView(svc *types.Service) serviceResponse {
	scheme := "http"
	if s.cfg.EnableTLS {
		scheme = "https"
	}
	return serviceResponse{
		Service: svc,
		URL:     fmt.Sprintf("%s://%s.%s", scheme, svc.Subdomain, s.cfg.BaseDomain),
		Env:     secrets.MaskMap(svc.Env),
	}
}

func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var req createServiceRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	svc, err := s.mgr.CreateService(r.Context(), manager.CreateServiceInput{
		Name:                   req.Name,
		ProjectID:              req.ProjectID,
		UserID:                 req.UserID,
		RepoURL:                req.RepoURL,
		Branch:                 req.Branch,
		Runtime:                req.Runtime,
		Env:                    req.Env,
		GitToken:               req.GitToken,
		HealthCheckPath:        req.HealthCheckPath,
		HealthCheckIntervalSec: req.HealthCheckIntervalSec,
		HealthCheckTimeoutSec:  req.HealthCheckTimeoutSec,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := s.serviceView(svc)
	resp.WebhookSecret = svc.WebhookSecret
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	svcs, err := s.mgr.ListServices(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]serviceResponse, 0, len(svcs))
	for _, svc := range svcs {
		out = append(out, s.serviceView(svc))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	svc, err := s.mgr.GetService(r.Context(), chi.URLParam(r, "serviceID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.serviceView(svc))
}
