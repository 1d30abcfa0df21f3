package models

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// RuleExport is the portable rule-set document produced by the export
// endpoint and accepted by import. Rules apply in slice order; priorities
// are reassigned contiguously on import.
type RuleExport struct {
	Version int         `json:"version"`
	Rules   []ProxyRule `json:"rules"`
}

const ruleExportVersion = 1

const ruleExportSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "rules"],
  "properties": {
    "version": {"type": "integer", "enum": [1]},
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "action"],
        "properties": {
          "name": {"type": "string", "minLength": 3, "maxLength": 64},
          "description": {"type": ["string", "null"], "maxLength": 256},
          "is_enabled": {"type": "boolean"},
          "ip_filter": {"type": ["string", "null"], "maxLength": 500},
          "protocol_matches": {"type": ["string", "null"], "enum": ["http", "https", "tcp", null]},
          "host_matches": {"type": ["string", "null"], "maxLength": 255},
          "port_matches": {"type": ["string", "null"], "maxLength": 255},
          "path_matches": {"type": ["string", "null"], "maxLength": 255},
          "query_str_matches": {"type": ["string", "null"], "maxLength": 255},
          "action": {"type": "string", "enum": ["FORWARD", "DIRECT", "BLOCK"]},
          "forward_protocol": {"type": ["string", "null"], "enum": ["http", "https", "socks5", null]},
          "forward_host": {"type": ["string", "null"], "maxLength": 255},
          "forward_port": {"type": ["integer", "null"], "minimum": 1, "maximum": 65535}
        }
      }
    }
  }
}`

var (
	ruleSchema     *gojsonschema.Schema
	ruleSchemaOnce sync.Once
	ruleSchemaErr  error
)

func compiledRuleSchema() (*gojsonschema.Schema, error) {
	ruleSchemaOnce.Do(func() {
		ruleSchema, ruleSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(ruleExportSchema))
	})
	return ruleSchema, ruleSchemaErr
}

// NewRuleExport wraps rules in the current document version.
func NewRuleExport(rules []ProxyRule) RuleExport {
	if rules == nil {
		rules = []ProxyRule{}
	}
	return RuleExport{Version: ruleExportVersion, Rules: rules}
}

// ParseRuleExport validates raw JSON against the rule-set schema, then runs
// per-rule field validation. Schema or field problems come back as a
// user-facing error list with a nil document.
func ParseRuleExport(raw []byte) (RuleExport, []string, error) {
	schema, err := compiledRuleSchema()
	if err != nil {
		return RuleExport{}, nil, fmt.Errorf("compile rule export schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return RuleExport{}, []string{"Document is not valid JSON."}, nil
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return RuleExport{}, errs, nil
	}
	var doc RuleExport
	if err := json.Unmarshal(raw, &doc); err != nil {
		return RuleExport{}, []string{"Document is not valid JSON."}, nil
	}
	var errs []string
	for i, rule := range doc.Rules {
		for _, msg := range ValidateRule(rule) {
			errs = append(errs, fmt.Sprintf("rules[%d]: %s", i, msg))
		}
	}
	if len(errs) > 0 {
		return RuleExport{}, errs, nil
	}
	return doc, nil, nil
}
