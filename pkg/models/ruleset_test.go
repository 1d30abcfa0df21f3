package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewRuleExport(t *testing.T) {
	export := NewRuleExport(nil)
	if export.Version != 1 {
		t.Fatalf("version = %d, want 1", export.Version)
	}
	if export.Rules == nil || len(export.Rules) != 0 {
		t.Fatalf("nil rules should export as an empty list, got %#v", export.Rules)
	}
}

func TestParseRuleExportRoundTrip(t *testing.T) {
	original := NewRuleExport([]ProxyRule{
		{Name: "block-ads", Action: ActionBlock, HostMatches: StrPtr("*.ads.example.com")},
		{Name: "office-forward", Action: ActionForward, ForwardHost: StrPtr("proxy.internal"), ForwardPort: intPtr(3128)},
	})
	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, userErrs, err := ParseRuleExport(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(userErrs) != 0 {
		t.Fatalf("unexpected user errors: %v", userErrs)
	}
	if len(parsed.Rules) != 2 || parsed.Rules[0].Name != "block-ads" {
		t.Fatalf("unexpected document: %+v", parsed)
	}
}

func TestParseRuleExportRejectsGarbage(t *testing.T) {
	_, userErrs, err := ParseRuleExport([]byte("{nope"))
	if err != nil {
		t.Fatalf("garbage should be a user error, not an internal one: %v", err)
	}
	if len(userErrs) == 0 {
		t.Fatal("expected a user-facing error for invalid JSON")
	}
}

func TestParseRuleExportSchemaErrors(t *testing.T) {
	cases := []string{
		`{"rules": []}`,
		`{"version": 2, "rules": []}`,
		`{"version": 1, "rules": [{"action": "BLOCK"}]}`,
		`{"version": 1, "rules": [{"name": "ok-rule", "action": "MAYBE"}]}`,
		`{"version": 1, "rules": [{"name": "ok-rule", "action": "FORWARD", "forward_port": 0}]}`,
	}
	for _, raw := range cases {
		_, userErrs, err := ParseRuleExport([]byte(raw))
		if err != nil {
			t.Fatalf("%s: unexpected internal error: %v", raw, err)
		}
		if len(userErrs) == 0 {
			t.Fatalf("%s: expected schema errors", raw)
		}
	}
}

func TestParseRuleExportFieldValidationAfterSchema(t *testing.T) {
	// Passes the schema but fails field validation: forward action with no
	// target.
	raw := `{"version": 1, "rules": [{"name": "fwd-rule", "action": "FORWARD"}]}`
	_, userErrs, err := ParseRuleExport([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected internal error: %v", err)
	}
	if len(userErrs) == 0 {
		t.Fatal("expected field validation errors")
	}
	for _, msg := range userErrs {
		if !strings.HasPrefix(msg, "rules[0]: ") {
			t.Fatalf("field errors should carry the rule index, got %q", msg)
		}
	}
}
