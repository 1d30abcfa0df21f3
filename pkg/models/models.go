package models

import (
	"time"
)

// ConfigMode combines the IP and device predicates of a Config.
type ConfigMode string

const (
	ModeOR  ConfigMode = "OR"
	ModeAND ConfigMode = "AND"
)

// ProxyAction decides what an agent does with matched traffic.
type ProxyAction string

const (
	ActionForward ProxyAction = "FORWARD"
	ActionDirect  ProxyAction = "DIRECT"
	ActionBlock   ProxyAction = "BLOCK"
)

// ProtocolType restricts a rule to a transport protocol.
type ProtocolType string

const (
	ProtocolHTTP  ProtocolType = "http"
	ProtocolHTTPS ProtocolType = "https"
	ProtocolTCP   ProtocolType = "tcp"
)

// DeviceType is informational grouping for the dashboard.
type DeviceType string

const (
	DeviceDesktop DeviceType = "DESKTOP"
	DeviceApple   DeviceType = "APPLE"
	DeviceAndroid DeviceType = "ANDROID"
	DeviceTV      DeviceType = "TV"
	DeviceOther   DeviceType = "OTHER"
)

// Config is a priority-ordered PAC matching entry. A nil IPFilter matches
// any client IP; an empty DeviceIDs set matches any device. When
// UseBuiltinProxy is set the inline Function is ignored and the directive is
// rendered from the configured public proxy host and port.
type Config struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Description     *string    `json:"description,omitempty"`
	Priority        int        `json:"priority"`
	IPFilter        *string    `json:"ip_filter,omitempty"`
	Function        string     `json:"function"`
	UseBuiltinProxy bool       `json:"use_builtin_proxy"`
	IsActive        bool       `json:"is_active"`
	Mode            ConfigMode `json:"mode"`
	DeviceIDs       []int64    `json:"device_ids"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ProxyRule is a priority-ordered traffic rule distributed to agents.
// Match fields are "don't care" when nil. The forward target is required
// iff Action is FORWARD.
type ProxyRule struct {
	ID              int64         `json:"id"`
	Name            string        `json:"name"`
	Description     *string       `json:"description,omitempty"`
	Priority        int           `json:"priority"`
	IsEnabled       bool          `json:"is_enabled"`
	IPFilter        *string       `json:"ip_filter,omitempty"`
	ProtocolMatches *ProtocolType `json:"protocol_matches,omitempty"`
	HostMatches     *string       `json:"host_matches,omitempty"`
	PortMatches     *string       `json:"port_matches,omitempty"`
	PathMatches     *string       `json:"path_matches,omitempty"`
	QueryStrMatches *string       `json:"query_str_matches,omitempty"`
	Action          ProxyAction   `json:"action"`
	ForwardProtocol *string       `json:"forward_protocol,omitempty"`
	ForwardHost     *string       `json:"forward_host,omitempty"`
	ForwardPort     *int          `json:"forward_port,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Device is a named client identity resolved from the PAC token.
type Device struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Type      DeviceType `json:"type"`
	Token     string     `json:"token"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// AccessRecord is one PAC request observation.
type AccessRecord struct {
	ID        string    `json:"id"`
	IP        string    `json:"ip"`
	UserAgent *string   `json:"user_agent,omitempty"`
	DeviceID  *int64    `json:"device_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// GlobalStatus is the single-row process-wide proxy state. PublicHost and
// PublicPort feed the built-in proxy directive template.
type GlobalStatus struct {
	EnableProxy bool   `json:"enable_proxy"`
	RequireAuth bool   `json:"require_auth"`
	PublicHost  string `json:"public_host,omitempty"`
	PublicPort  int    `json:"public_port,omitempty"`
}

// StrPtr returns a pointer to s, or nil when s is empty. Form and JSON
// inputs use empty string for "absent".
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
