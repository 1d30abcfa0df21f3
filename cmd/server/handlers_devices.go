package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jokelbaf/proxyko/pkg/httpx"
	"github.com/jokelbaf/proxyko/pkg/models"
	"github.com/jokelbaf/proxyko/pkg/store"
)

type deviceInput struct {
	Name  string            `json:"name"`
	Type  models.DeviceType `json:"type"`
	Token string            `json:"token"`
}

func (in deviceInput) toModel() models.Device {
	d := models.Device{Name: in.Name, Type: in.Type, Token: in.Token}
	if d.Type == "" {
		d.Type = models.DeviceOther
	}
	return d
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.Devices.List(r.Context())
	if err != nil {
		httpx.Error(w, 500, "failed to list devices")
		return
	}
	httpx.WriteJSON(w, 200, devices)
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Error(w, 400, "invalid id")
		return
	}
	device, err := s.Devices.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(w, 404, "device not found")
		return
	}
	if err != nil {
		httpx.Error(w, 500, "failed to load device")
		return
	}
	httpx.WriteJSON(w, 200, device)
}

func (s *Server) createDevice(w http.ResponseWriter, r *http.Request) {
	var in deviceInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	device := in.toModel()
	if errs := models.ValidateDevice(device); len(errs) > 0 {
		httpx.Errors(w, 400, errs)
		return
	}
	created, err := s.Devices.Create(r.Context(), device)
	if err != nil {
		httpx.Error(w, 500, "failed to create device")
		return
	}
	httpx.WriteJSON(w, 201, created)
}

func (s *Server) updateDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Error(w, 400, "invalid id")
		return
	}
	var in deviceInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	device := in.toModel()
	if errs := models.ValidateDevice(device); len(errs) > 0 {
		httpx.Errors(w, 400, errs)
		return
	}
	previous, err := s.Devices.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(w, 404, "device not found")
		return
	}
	if err != nil {
		httpx.Error(w, 500, "failed to load device")
		return
	}
	updated, err := s.Devices.Update(r.Context(), id, device)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(w, 404, "device not found")
		return
	}
	if err != nil {
		httpx.Error(w, 500, "failed to update device")
		return
	}
	s.invalidateDeviceCache(r.Context(), previous.Token, updated.Token)
	httpx.WriteJSON(w, 200, updated)
}

func (s *Server) deleteDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Error(w, 400, "invalid id")
		return
	}
	previous, err := s.Devices.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(w, 404, "device not found")
		return
	}
	if err != nil {
		httpx.Error(w, 500, "failed to load device")
		return
	}
	if err := s.Devices.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.Error(w, 404, "device not found")
			return
		}
		httpx.Error(w, 500, "failed to delete device")
		return
	}
	s.invalidateDeviceCache(r.Context(), previous.Token)
	httpx.WriteJSON(w, 200, map[string]string{"status": "deleted"})
}
