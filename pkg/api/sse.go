package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/renderlite/renderlite/pkg/events"
)

// heartbeatInterval paces the comment frames that keep idle streams from
// being reaped by proxies.
const heartbeatInterval = 15 * time.Second

// handleDeploymentEvents streams log and status events for one deployment.
func (s *Server) handleDeploymentEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deploymentID")
	if _, err := s.mgr.GetDeployment(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	s.stream(w, r, events.DeploymentTopic(id))
}

// handleServiceEvents streams status and metrics events for one service.
// Subscribing is what makes the sampler start polling the service.
func (s *Server) handleServiceEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "serviceID")
	if _, err := s.mgr.GetService(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	s.stream(w, r, events.ServiceTopic(id))
}

// handleUserEvents streams terminal-deployment notifications for one user.
// Users are external identities, not rows, so there is nothing to check
// before subscribing; an unknown id just yields a silent stream.
func (s *Server) handleUserEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userID")
	s.stream(w, r, events.UserTopic(id))
}

// stream subscribes to one hub topic and relays envelopes as SSE data
// frames until the client goes away or the hub shuts down. Every frame is
// flushed immediately; a buffered frame helps nobody watching a deploy.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, topic string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := s.hub.Subscribe(topic)
	defer s.hub.Unsubscribe(sub)

	// Comment frame so the client can tell an open stream from a request
	// hanging in a proxy.
	fmt.Fprintf(w, ": stream %s\n\n", topic)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, open := <-sub.C:
			if !open {
				// Hub shut down; the server is going away.
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				hlog.FromRequest(r).Error().Err(err).Str("topic", topic).Msg("Failed to encode event")
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
