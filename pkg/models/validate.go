package models

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

var (
	hostPatternRe = regexp.MustCompile(`^[\w\-\*\.]+$`)
	pacFunctionRe = regexp.MustCompile(`function\s+FindProxyForURL\s*\(\s*\w+\s*,\s*\w+\s*\)\s*\{`)
)

var forwardProtocols = map[string]struct{}{
	"http":   {},
	"https":  {},
	"socks5": {},
}

// ValidIPFilter reports whether every non-empty entry of a comma-separated
// filter parses as an IP address or CIDR range.
func ValidIPFilter(filter string) bool {
	for _, entry := range strings.Split(filter, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, ok := ParseFilterEntry(entry); !ok {
			return false
		}
	}
	return true
}

// ParseFilterEntry parses one IP filter entry. Bare addresses become
// single-host networks.
func ParseFilterEntry(entry string) (*net.IPNet, bool) {
	if strings.Contains(entry, "/") {
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, false
		}
		return network, true
	}
	ip := net.ParseIP(entry)
	if ip == nil {
		return nil, false
	}
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, true
}

// ValidPortMatches reports whether a comma-separated list of ports and port
// ranges (e.g. "80, 443, 8080-8090") is well formed.
func ValidPortMatches(matches string) bool {
	for _, entry := range strings.Split(matches, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "-") {
			parts := strings.Split(entry, "-")
			if len(parts) != 2 {
				return false
			}
			start, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
			end, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
			if err1 != nil || err2 != nil {
				return false
			}
			if start < 1 || start > 65535 || end < 1 || end > 65535 || start > end {
				return false
			}
			continue
		}
		port, err := strconv.Atoi(entry)
		if err != nil || port < 1 || port > 65535 {
			return false
		}
	}
	return true
}

// ValidHostPattern reports whether a host match pattern (wildcards allowed,
// e.g. "*.example.com") is acceptable.
func ValidHostPattern(pattern string) bool {
	if len(pattern) > 255 {
		return false
	}
	return hostPatternRe.MatchString(pattern)
}

// ValidPACFunction reports whether the script contains a FindProxyForURL
// definition.
func ValidPACFunction(script string) bool {
	return pacFunctionRe.MatchString(script)
}

// ValidateRule returns the user-facing error list for a proxy rule. An empty
// list means the rule is acceptable.
func ValidateRule(r ProxyRule) []string {
	var errs []string

	if len(r.Name) < 3 || len(r.Name) > 64 {
		errs = append(errs, "Rule name must be between 3 and 64 characters long.")
	}
	if r.Description != nil && len(*r.Description) > 256 {
		errs = append(errs, "Description cannot exceed 256 characters.")
	}
	if r.IPFilter != nil {
		switch {
		case len(*r.IPFilter) > 500:
			errs = append(errs, "IP filter cannot exceed 500 characters.")
		case !ValidIPFilter(*r.IPFilter):
			errs = append(errs, "IP filter format is invalid. Use comma-separated IP addresses or CIDR ranges (e.g., 192.168.1.0/24, 10.0.0.1).")
		}
	}
	switch r.Action {
	case ActionForward, ActionDirect, ActionBlock:
	default:
		errs = append(errs, "Invalid proxy action selected.")
	}
	if r.ProtocolMatches != nil {
		switch *r.ProtocolMatches {
		case ProtocolHTTP, ProtocolHTTPS, ProtocolTCP:
		default:
			errs = append(errs, "Invalid protocol type selected.")
		}
	}
	if r.HostMatches != nil {
		switch {
		case len(*r.HostMatches) > 255:
			errs = append(errs, "Host matches cannot exceed 255 characters.")
		case !ValidHostPattern(*r.HostMatches):
			errs = append(errs, "Host matches format is invalid. Use valid hostnames with optional wildcards.")
		}
	}
	if r.PortMatches != nil {
		switch {
		case len(*r.PortMatches) > 255:
			errs = append(errs, "Port matches cannot exceed 255 characters.")
		case !ValidPortMatches(*r.PortMatches):
			errs = append(errs, "Port matches format is invalid. Use comma-separated ports or port ranges (e.g., 80, 443, 8080-8090).")
		}
	}
	if r.PathMatches != nil && len(*r.PathMatches) > 255 {
		errs = append(errs, "Path matches cannot exceed 255 characters.")
	}
	if r.QueryStrMatches != nil && len(*r.QueryStrMatches) > 255 {
		errs = append(errs, "Query string matches cannot exceed 255 characters.")
	}

	if r.Action == ActionForward {
		if r.ForwardHost == nil || *r.ForwardHost == "" {
			errs = append(errs, "Forward host is required when action is set to Forward.")
		} else if len(*r.ForwardHost) > 255 {
			errs = append(errs, "Forward host cannot exceed 255 characters.")
		}
		if r.ForwardPort == nil {
			errs = append(errs, "Forward port is required when action is set to Forward.")
		} else if *r.ForwardPort < 1 || *r.ForwardPort > 65535 {
			errs = append(errs, "Forward port must be between 1 and 65535.")
		}
		if r.ForwardProtocol != nil {
			if _, ok := forwardProtocols[*r.ForwardProtocol]; !ok {
				errs = append(errs, "Invalid forward protocol. Use http, https, or socks5.")
			}
		}
	}
	return errs
}

// ValidateConfig returns the user-facing error list for a PAC config.
func ValidateConfig(c Config) []string {
	var errs []string

	if len(c.Name) < 3 || len(c.Name) > 64 {
		errs = append(errs, "Config name must be between 3 and 64 characters long.")
	}
	if c.Description != nil && len(*c.Description) > 256 {
		errs = append(errs, "Description cannot exceed 256 characters.")
	}
	if c.IPFilter != nil {
		switch {
		case len(*c.IPFilter) > 500:
			errs = append(errs, "IP filter cannot exceed 500 characters.")
		case !ValidIPFilter(*c.IPFilter):
			errs = append(errs, "IP filter format is invalid. Use comma-separated IP addresses or CIDR ranges (e.g., 192.168.1.0/24, 10.0.0.1).")
		}
	}
	switch c.Mode {
	case ModeOR, ModeAND:
	default:
		errs = append(errs, fmt.Sprintf("Invalid config mode %q.", string(c.Mode)))
	}
	if !c.UseBuiltinProxy && !ValidPACFunction(c.Function) {
		errs = append(errs, "PAC file content is invalid. Ensure it contains a valid FindProxyForURL function.")
	}
	return errs
}

// ValidateDevice returns the user-facing error list for a device.
func ValidateDevice(d Device) []string {
	var errs []string
	if len(d.Name) < 1 || len(d.Name) > 255 {
		errs = append(errs, "Device name must be between 1 and 255 characters long.")
	}
	if len(d.Token) < 1 || len(d.Token) > 64 {
		errs = append(errs, "Device token must be between 1 and 64 characters long.")
	}
	switch d.Type {
	case DeviceDesktop, DeviceApple, DeviceAndroid, DeviceTV, DeviceOther:
	default:
		errs = append(errs, "Invalid device type selected.")
	}
	return errs
}
