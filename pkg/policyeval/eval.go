// Package policyeval decides which PAC directive a client receives. It
// walks active configs in priority order and returns on the first match;
// entry-level failures degrade to "no match" and never surface as errors.
package policyeval

import (
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/jokelbaf/proxyko/pkg/models"
)

// Directive kinds, for metrics and tests.
const (
	KindConfig       = "config"
	KindBuiltin      = "builtin"
	KindDefault      = "default"
	KindUnauthorized = "unauthorized"
)

// Templates are the fixed directive scripts. BuiltinProxy must carry two
// %s verbs for public host and port.
type Templates struct {
	Default      string
	Unauthorized string
	BuiltinProxy string
}

// DefaultTemplates mirror the stock PAC responses; each is overridable via
// server configuration.
func DefaultTemplates() Templates {
	return Templates{
		Default: `function FindProxyForURL(url, host) {
    return "DIRECT";
}
`,
		Unauthorized: `function FindProxyForURL(url, host) {
    alert("Unauthorized device. Proxy access denied.");
    return "DIRECT";
}
`,
		BuiltinProxy: `function FindProxyForURL(url, host) {
    // Use built-in proxy
    return "PROXY %s:%s";
}
`,
	}
}

// Request is a client's resolved identity.
type Request struct {
	ClientIP    string
	Device      *models.Device
	RequireAuth bool
}

// Directive is the routing instruction handed back to the client.
type Directive struct {
	Script   string
	Kind     string
	ConfigID int64
}

// Evaluator walks configs against client identities. Status supplies the
// public host/port used by built-in proxy configs.
type Evaluator struct {
	Templates Templates
}

func New(tpl Templates) *Evaluator {
	def := DefaultTemplates()
	if tpl.Default == "" {
		tpl.Default = def.Default
	}
	if tpl.Unauthorized == "" {
		tpl.Unauthorized = def.Unauthorized
	}
	if tpl.BuiltinProxy == "" {
		tpl.BuiltinProxy = def.BuiltinProxy
	}
	return &Evaluator{Templates: tpl}
}

// Unauthorized returns the fixed denial directive.
func (e *Evaluator) Unauthorized() Directive {
	return Directive{Script: e.Templates.Unauthorized, Kind: KindUnauthorized}
}

// Default returns the fixed "go direct" directive.
func (e *Evaluator) Default() Directive {
	return Directive{Script: e.Templates.Default, Kind: KindDefault}
}

// Evaluate returns the directive for req given the active configs in
// ascending priority order. It never fails: config-level problems are
// logged and treated as non-matches, and a missing built-in proxy target
// falls back to the default directive.
func (e *Evaluator) Evaluate(configs []models.Config, req Request, status models.GlobalStatus) Directive {
	if req.RequireAuth && req.Device == nil {
		return e.Unauthorized()
	}
	for _, cfg := range configs {
		if !cfg.IsActive {
			continue
		}
		ipMatched := cfg.IPFilter == nil || IPMatched(req.ClientIP, *cfg.IPFilter)
		deviceMatched := len(cfg.DeviceIDs) == 0 || deviceInSet(req.Device, cfg.DeviceIDs)

		matched := false
		switch cfg.Mode {
		case models.ModeAND:
			matched = ipMatched && deviceMatched
		default:
			matched = ipMatched || deviceMatched
		}
		if !matched {
			continue
		}
		if cfg.UseBuiltinProxy {
			if status.PublicHost == "" || status.PublicPort == 0 {
				log.Printf("policyeval: config %d uses builtin proxy but no public host/port is configured", cfg.ID)
				return e.Default()
			}
			script := fmt.Sprintf(e.Templates.BuiltinProxy, status.PublicHost, fmt.Sprint(status.PublicPort))
			return Directive{Script: script, Kind: KindBuiltin, ConfigID: cfg.ID}
		}
		return Directive{Script: cfg.Function, Kind: KindConfig, ConfigID: cfg.ID}
	}
	return e.Default()
}

// IPMatched reports whether ip is contained in any entry of the
// comma-separated filter. Unparseable entries are logged and skipped, not
// fatal; an unparseable client IP never matches.
func IPMatched(ip, filter string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		log.Printf("policyeval: invalid client IP %q", ip)
		return false
	}
	for _, entry := range strings.Split(filter, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		network, ok := models.ParseFilterEntry(entry)
		if !ok {
			log.Printf("policyeval: invalid IP filter entry %q", entry)
			continue
		}
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

func deviceInSet(device *models.Device, ids []int64) bool {
	if device == nil {
		return false
	}
	for _, id := range ids {
		if id == device.ID {
			return true
		}
	}
	return false
}
