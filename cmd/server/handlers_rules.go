package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/jokelbaf/proxyko/pkg/httpx"
	"github.com/jokelbaf/proxyko/pkg/models"
	"github.com/jokelbaf/proxyko/pkg/store"
)

type ruleInput struct {
	Name            string               `json:"name"`
	Description     *string              `json:"description"`
	IsEnabled       *bool                `json:"is_enabled"`
	IPFilter        *string              `json:"ip_filter"`
	ProtocolMatches *models.ProtocolType `json:"protocol_matches"`
	HostMatches     *string              `json:"host_matches"`
	PortMatches     *string              `json:"port_matches"`
	PathMatches     *string              `json:"path_matches"`
	QueryStrMatches *string              `json:"query_str_matches"`
	Action          models.ProxyAction   `json:"action"`
	ForwardProtocol *string              `json:"forward_protocol"`
	ForwardHost     *string              `json:"forward_host"`
	ForwardPort     *int                 `json:"forward_port"`
}

func (in ruleInput) toModel() models.ProxyRule {
	rule := models.ProxyRule{
		Name:            in.Name,
		Description:     in.Description,
		IsEnabled:       true,
		IPFilter:        in.IPFilter,
		ProtocolMatches: in.ProtocolMatches,
		HostMatches:     in.HostMatches,
		PortMatches:     in.PortMatches,
		PathMatches:     in.PathMatches,
		QueryStrMatches: in.QueryStrMatches,
		Action:          in.Action,
		ForwardProtocol: in.ForwardProtocol,
		ForwardHost:     in.ForwardHost,
		ForwardPort:     in.ForwardPort,
	}
	if in.IsEnabled != nil {
		rule.IsEnabled = *in.IsEnabled
	}
	return rule
}

// broadcastRules pushes the current rule list to every connected agent.
// Push failure never fails the admin request that triggered it.
func (s *Server) broadcastRules(ctx context.Context) {
	rules, err := s.Rules.List(ctx)
	if err != nil {
		log.Printf("rules broadcast skipped, list failed: %v", err)
		return
	}
	delivered := s.Hub.BroadcastRules(ctx, rules)
	s.Metrics.Add("rules_notify_delivered", int64(delivered))
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.Rules.List(r.Context())
	if err != nil {
		httpx.Error(w, 500, "failed to list rules")
		return
	}
	httpx.WriteJSON(w, 200, rules)
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Error(w, 400, "invalid id")
		return
	}
	rule, err := s.Rules.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(w, 404, "rule not found")
		return
	}
	if err != nil {
		httpx.Error(w, 500, "failed to load rule")
		return
	}
	httpx.WriteJSON(w, 200, rule)
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var in ruleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	rule := in.toModel()
	if errs := models.ValidateRule(rule); len(errs) > 0 {
		httpx.Errors(w, 400, errs)
		return
	}
	created, err := s.Rules.Create(r.Context(), rule)
	if err != nil {
		httpx.Error(w, 500, "failed to create rule")
		return
	}
	s.broadcastRules(r.Context())
	httpx.WriteJSON(w, 201, created)
}

func (s *Server) updateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Error(w, 400, "invalid id")
		return
	}
	var in ruleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	rule := in.toModel()
	if errs := models.ValidateRule(rule); len(errs) > 0 {
		httpx.Errors(w, 400, errs)
		return
	}
	updated, err := s.Rules.Update(r.Context(), id, rule)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(w, 404, "rule not found")
		return
	}
	if err != nil {
		httpx.Error(w, 500, "failed to update rule")
		return
	}
	s.broadcastRules(r.Context())
	httpx.WriteJSON(w, 200, updated)
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Error(w, 400, "invalid id")
		return
	}
	err := s.Rules.Delete(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(w, 404, "rule not found")
		return
	}
	if err != nil {
		httpx.Error(w, 500, "failed to delete rule")
		return
	}
	s.broadcastRules(r.Context())
	httpx.WriteJSON(w, 200, map[string]string{"status": "deleted"})
}

func (s *Server) moveRule(w http.ResponseWriter, r *http.Request) {
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
	err := s.Rules.Move(r.Context(), id, req.Priority)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(w, 404, "rule not found")
		return
	}
	if err != nil {
		httpx.Error(w, 500, "failed to move rule")
		return
	}
	s.broadcastRules(r.Context())
	rules, err := s.Rules.List(r.Context())
	if err != nil {
		httpx.Error(w, 500, "failed to list rules")
		return
	}
	httpx.WriteJSON(w, 200, rules)
}

func (s *Server) setRuleEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		httpx.Error(w, 400, "invalid id")
		return
	}
	var req struct {
		IsEnabled bool `json:"is_enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	err := s.Rules.SetEnabled(r.Context(), id, req.IsEnabled)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(w, 404, "rule not found")
		return
	}
	if err != nil {
		httpx.Error(w, 500, "failed to update rule")
		return
	}
	s.broadcastRules(r.Context())
	httpx.WriteJSON(w, 200, map[string]interface{}{"id": id, "is_enabled": req.IsEnabled})
}

func (s *Server) exportRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.Rules.List(r.Context())
	if err != nil {
		httpx.Error(w, 500, "failed to list rules")
		return
	}
	httpx.WriteJSON(w, 200, models.NewRuleExport(rules))
}

// importRules replaces the whole rule set from an export document. The
// payload is schema-checked and every rule validated before anything is
// written; a bad import leaves the current set untouched.
func (s *Server) importRules(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		httpx.Error(w, 400, "failed to read body")
		return
	}
	export, userErrs, err := models.ParseRuleExport(raw)
	if err != nil {
		httpx.Error(w, 400, "invalid rule export document")
		return
	}
	if len(userErrs) > 0 {
		httpx.Errors(w, 400, userErrs)
		return
	}
	replaced, err := s.Rules.ReplaceAll(r.Context(), export.Rules)
	if err != nil {
		httpx.Error(w, 500, "failed to import rules")
		return
	}
	s.broadcastRules(r.Context())
	httpx.WriteJSON(w, 200, replaced)
}

func (s *Server) internalRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.Rules.List(r.Context())
	if err != nil {
		httpx.Error(w, 500, "failed to list rules")
		return
	}
	httpx.WriteJSON(w, 200, rules)
}
