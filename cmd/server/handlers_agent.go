package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/jokelbaf/proxyko/pkg/agenthub"
	"github.com/jokelbaf/proxyko/pkg/httpx"
	"github.com/jokelbaf/proxyko/pkg/models"

	"github.com/google/uuid"
)

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.Status.Get(r.Context())
	if err != nil {
		httpx.Error(w, 500, "failed to load status")
		return
	}
	httpx.WriteJSON(w, 200, status)
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request) {
	var status models.GlobalStatus
	if err := json.NewDecoder(r.Body).Decode(&status); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if status.PublicPort < 0 || status.PublicPort > 65535 {
		httpx.Error(w, 400, "public_port must be between 0 and 65535")
		return
	}
	if err := s.Status.Set(r.Context(), status); err != nil {
		httpx.Error(w, 500, "failed to update status")
		return
	}
	delivered := s.Hub.BroadcastStatus(r.Context(), status)
	s.Metrics.Add("status_notify_delivered", int64(delivered))
	httpx.WriteJSON(w, 200, status)
}

func (s *Server) getAgents(w http.ResponseWriter, r *http.Request) {
	lastSeen, known := s.Heartbeat.LastSeen()
	resp := map[string]interface{}{
		"connections":       s.Hub.Count(),
		"heartbeat_healthy": s.Heartbeat.Healthy(time.Now()),
	}
	if known {
		resp["last_heartbeat"] = lastSeen.UTC().Format(time.RFC3339)
	}
	httpx.WriteJSON(w, 200, resp)
}

func (s *Server) internalStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.Status.Get(r.Context())
	if err != nil {
		httpx.Error(w, 500, "failed to load status")
		return
	}
	httpx.WriteJSON(w, 200, status)
}

// handleAgentWS upgrades the connection and hands it to the hub. The hub
// enforces the login handshake; an unauthenticated socket never reaches
// any state.
func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	conn, err := agenthub.Accept(w, r, s.WSOriginPatterns)
	if err != nil {
		log.Printf("agent ws accept failed: %v", err)
		return
	}
	id := uuid.New().String()
	s.Metrics.Inc("agent_ws_accepted")
	s.Hub.Serve(r.Context(), id, conn)
}

func (s *Server) listAccessRecords(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	records, err := s.Access.List(r.Context(), limit, offset)
	if err != nil {
		httpx.Error(w, 500, "failed to list access records")
		return
	}
	httpx.WriteJSON(w, 200, records)
}
