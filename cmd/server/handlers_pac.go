package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jokelbaf/proxyko/pkg/httpx"
	"github.com/jokelbaf/proxyko/pkg/models"
	"github.com/jokelbaf/proxyko/pkg/policyeval"
	"github.com/jokelbaf/proxyko/pkg/store"

	"github.com/go-chi/chi/v5"
)

const maxDeviceTokenLen = 64

// handlePAC serves the proxy auto-config script. It always answers 200 with
// a valid script; backend trouble degrades to the default directive rather
// than an error the client cannot interpret.
func (s *Server) handlePAC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientIP := s.clientIP(r)

	token := strings.TrimSpace(r.URL.Query().Get("device_token"))
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		token = strings.TrimSpace(chi.URLParam(r, "token"))
	}
	var device *models.Device
	if token != "" && len(token) <= maxDeviceTokenLen {
		if d, err := s.deviceByToken(ctx, token); err == nil {
			device = &d
		} else if !errors.Is(err, store.ErrNotFound) {
			log.Printf("pac: device lookup failed: %v", err)
		}
	}

	status, err := s.Status.Get(ctx)
	if err != nil {
		log.Printf("pac: status load failed: %v", err)
		status = models.GlobalStatus{EnableProxy: true}
	}

	var userAgent *string
	if ua := r.Header.Get("User-Agent"); ua != "" {
		userAgent = &ua
	}
	var deviceID *int64
	if device != nil {
		deviceID = &device.ID
	}
	s.Recorder.Record(clientIP, userAgent, deviceID)

	configs, err := s.Configs.ListActive(ctx)
	if err != nil {
		log.Printf("pac: config load failed: %v", err)
		configs = nil
	}
	directive := s.Evaluator.Evaluate(configs, policyeval.Request{
		ClientIP:    clientIP,
		Device:      device,
		RequireAuth: status.RequireAuth,
	}, status)
	s.Metrics.Inc("pac_" + directive.Kind)
	httpx.WritePAC(w, directive.Script)
}

// deviceByToken looks up a device, caching hits so PAC traffic does not
// hammer the devices table.
func (s *Server) deviceByToken(ctx context.Context, token string) (models.Device, error) {
	key := "proxyko:device:" + token
	if raw, err := s.Cache.Get(ctx, key); err == nil {
		var d models.Device
		if err := json.Unmarshal([]byte(raw), &d); err == nil {
			return d, nil
		}
	}
	d, err := s.Devices.GetByToken(ctx, token)
	if err != nil {
		return models.Device{}, err
	}
	if encoded, err := json.Marshal(d); err == nil {
		_ = s.Cache.Set(ctx, key, string(encoded), s.deviceCacheTTL())
	}
	return d, nil
}

func (s *Server) invalidateDeviceCache(ctx context.Context, tokens ...string) {
	for _, token := range tokens {
		if token != "" {
			_ = s.Cache.Del(ctx, "proxyko:device:"+token)
		}
	}
}

func (s *Server) deviceCacheTTL() time.Duration {
	if s.DeviceCacheTTL <= 0 {
		return time.Minute
	}
	return s.DeviceCacheTTL
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, 200, map[string]interface{}{
		"status":          "ok",
		"service":         "proxyko",
		"agents":          s.Hub.Count(),
		"agent_heartbeat": s.Heartbeat.Healthy(time.Now()),
	})
}
