package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/jokelbaf/proxyko/pkg/httpx"
	"github.com/jokelbaf/proxyko/pkg/models"
	"github.com/jokelbaf/proxyko/pkg/store"

	"github.com/go-chi/chi/v5"
)

type configInput struct {
	Name            string            `json:"name"`
	Description     *string           `json:"description"`
	IPFilter        *string           `json:"ip_filter"`
	Function        string            `json:"function"`
	UseBuiltinProxy bool              `json:"use_builtin_proxy"`
	IsActive        *bool             `json:"is_active"`
	Mode            models.ConfigMode `json:"mode"`
	DeviceIDs       []int64           `json:"device_ids"`
}

func (in configInput) toModel() models.Config {
	c := models.Config{
		Name:            in.Name,
		Description:     in.Description,
		IPFilter:        in.IPFilter,
		Function:        in.Function,
		UseBuiltinProxy: in.UseBuiltinProxy,
		IsActive:        true,
		Mode:            in.Mode,
		DeviceIDs:       in.DeviceIDs,
	}
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}
	if c.Mode == "" {
		c.Mode = models.ModeOR
	}
	if c.DeviceIDs == nil {
		c.DeviceIDs = []int64{}
	}
	return c
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) listConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.Configs.List(r.Context())
	if err != nil {
		httpx.Error(w, 500, "failed to list configs")
		return
	}
	httpx.WriteJSON(w, 200, configs)
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Error(w, 400, "invalid id")
		return
	}
	config, err := s.Configs.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(w, 404, "config not found")
		return
	}
	if err != nil {
		httpx.Error(w, 500, "failed to load config")
		return
	}
	httpx.WriteJSON(w, 200, config)
}

func (s *Server) createConfig(w http.ResponseWriter, r *http.Request) {
	var in configInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	config := in.toModel()
	if errs := models.ValidateConfig(config); len(errs) > 0 {
		httpx.Errors(w, 400, errs)
		return
	}
	created, err := s.Configs.Create(r.Context(), config)
	if err != nil {
		httpx.Error(w, 500, "failed to create config")
		return
	}
	httpx.WriteJSON(w, 201, created)
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Error(w, 400, "invalid id")
		return
	}
	var in configInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	config := in.toModel()
	if errs := models.ValidateConfig(config); len(errs) > 0 {
		httpx.Errors(w, 400, errs)
		return
	}
	updated, err := s.Configs.Update(r.Context(), id, config)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(w, 404, "config not found")
		return
	}
	if err != nil {
		httpx.Error(w, 500, "failed to update config")
		return
	}
	httpx.WriteJSON(w, 200, updated)
}

func (s *Server) deleteConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Error(w, 400, "invalid id")
		return
	}
	err := s.Configs.Delete(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(w, 404, "config not found")
		return
	}
	if err != nil {
		httpx.Error(w, 500, "failed to delete config")
		return
	}
	httpx.WriteJSON(w, 200, map[string]string{"status": "deleted"})
}

func (s *Server) moveConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Error(w, 400, "invalid id")
		return
	}
	var req struct {
		Priority int `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	err := s.Configs.Move(r.Context(), id, req.Priority)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(w, 404, "config not found")
		return
	}
	if err != nil {
		httpx.Error(w, 500, "failed to move config")
		return
	}
	configs, err := s.Configs.List(r.Context())
	if err != nil {
		httpx.Error(w, 500, "failed to list configs")
		return
	}
	httpx.WriteJSON(w, 200, configs)
}

func (s *Server) setConfigActive(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Error(w, 400, "invalid id")
		return
	}
	var req struct {
		IsActive bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	err := s.Configs.SetActive(r.Context(), id, req.IsActive)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(w, 404, "config not found")
		return
	}
	if err != nil {
		httpx.Error(w, 500, "failed to update config")
		return
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{"id": id, "is_active": req.IsActive})
}
