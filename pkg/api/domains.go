package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/renderlite/renderlite/pkg/types"
)

type addDomainRequest struct {
	Hostname string `json:"hostname" validate:"required,fqdn"`
}

func (s *Server) handleAddDomain(w http.ResponseWriter, r *http.Request) {
	var req addDomainRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	d, err := s.mgr.AddDomain(r.Context(), chi.URLParam(r, "serviceID"), req.Hostname)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleVerifyDomain(w http.ResponseWriter, r *http.Request) {
	d, err := s.mgr.VerifyDomain(r.Context(), chi.URLParam(r, "domainID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := s.mgr.ListDomains(r.Context(), chi.URLParam(r, "serviceID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if domains == nil {
		domains = []*types.Domain{}
	}
	writeJSON(w, http.StatusOK, domains)
}
