package agenthub

import (
	"encoding/json"
	"fmt"

	"github.com/jokelbaf/proxyko/pkg/models"
)

// Wire actions. The envelope is a tagged union: exactly one action per
// message, payload shape fixed per action.
const (
	ActionLoginReq      = "login_req"
	ActionLoginRes      = "login_res"
	ActionError         = "error"
	ActionStatusNotify  = "status_notify"
	ActionRulesNotify   = "rules_notify"
	ActionHeartbeatPush = "heartbeat_push"
)

// Message is the envelope exchanged with agents in both directions.
type Message struct {
	Action  string          `json:"action"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// LoginData is the login_req payload.
type LoginData struct {
	APIKey string `json:"api_key"`
}

// StatusData is the status_notify payload.
type StatusData struct {
	Enabled     bool `json:"enabled"`
	RequireAuth bool `json:"require_auth"`
}

func NewLoginReq(apiKey string) Message {
	data, _ := json.Marshal(LoginData{APIKey: apiKey})
	return Message{Action: ActionLoginReq, Data: data}
}

func NewLoginRes() Message {
	return Message{Action: ActionLoginRes, Message: "OK"}
}

func NewError(msg string) Message {
	return Message{Action: ActionError, Message: msg}
}

func NewHeartbeatPush() Message {
	return Message{Action: ActionHeartbeatPush}
}

func NewStatusNotify(status models.GlobalStatus, note string) Message {
	data, _ := json.Marshal(StatusData{Enabled: status.EnableProxy, RequireAuth: status.RequireAuth})
	return Message{Action: ActionStatusNotify, Message: note, Data: data}
}

func NewRulesNotify(rules []models.ProxyRule, note string) Message {
	if rules == nil {
		rules = []models.ProxyRule{}
	}
	data, _ := json.Marshal(rules)
	return Message{Action: ActionRulesNotify, Message: note, Data: data}
}

// DecodeLogin extracts the api key from a login_req payload.
func DecodeLogin(msg Message) (LoginData, error) {
	if msg.Action != ActionLoginReq {
		return LoginData{}, fmt.Errorf("not a login_req: %s", msg.Action)
	}
	var data LoginData
	if len(msg.Data) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return LoginData{}, fmt.Errorf("decode login_req data: %w", err)
	}
	return data, nil
}

// DecodeStatus extracts the status_notify payload.
func DecodeStatus(msg Message) (StatusData, error) {
	var data StatusData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return StatusData{}, fmt.Errorf("decode status_notify data: %w", err)
	}
	return data, nil
}

// DecodeRules extracts the rules_notify payload.
func DecodeRules(msg Message) ([]models.ProxyRule, error) {
	var rules []models.ProxyRule
	if err := json.Unmarshal(msg.Data, &rules); err != nil {
		return nil, fmt.Errorf("decode rules_notify data: %w", err)
	}
	return rules, nil
}
