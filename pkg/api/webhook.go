package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/renderlite/renderlite/pkg/errdefs"
	"github.com/renderlite/renderlite/pkg/metrics"
)

// maxWebhookBody bounds a push payload; real ones are a few KB.
const maxWebhookBody = 1 << 20

// signatureHeader carries the HMAC of the raw body, GitHub style.
const signatureHeader = "X-Hub-Signature-256"

// handleWebhook accepts a source-control push. The signature is verified
// against the raw body before any JSON is trusted. A push to a branch the
// service does not track is acknowledged without creating anything.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues("rejected").Inc()
		writeError(w, r, errdefs.Validation("failed to read webhook body: %v", err))
		return
	}

	dep, err := s.mgr.HandleWebhook(r.Context(), chi.URLParam(r, "serviceID"), body, r.Header.Get(signatureHeader))
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues("rejected").Inc()
		writeError(w, r, err)
		return
	}
	if dep == nil {
		metrics.WebhooksTotal.WithLabelValues("ignored").Inc()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	metrics.WebhooksTotal.WithLabelValues("deployed").Inc()
	writeJSON(w, http.StatusAccepted, dep)
}
