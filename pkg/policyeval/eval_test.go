package policyeval

import (
	"strings"
	"testing"

	"github.com/jokelbaf/proxyko/pkg/models"
)

const officePAC = `function FindProxyForURL(url, host) { return "PROXY office:8080"; }`

func activeConfig(id int64, priority int) models.Config {
	return models.Config{
		ID:       id,
		Name:     "cfg",
		Priority: priority,
		Function: officePAC,
		IsActive: true,
		Mode:     models.ModeOR,
	}
}

func TestEvaluateDefaultWhenNothingMatches(t *testing.T) {
	e := New(Templates{})
	d := e.Evaluate(nil, Request{ClientIP: "10.0.0.1"}, models.GlobalStatus{})
	if d.Kind != KindDefault {
		t.Fatalf("kind = %q, want %q", d.Kind, KindDefault)
	}
	if !strings.Contains(d.Script, "DIRECT") {
		t.Fatalf("default script should go direct, got %q", d.Script)
	}
}

func TestEvaluateRequireAuthWithoutDevice(t *testing.T) {
	e := New(Templates{})
	cfg := activeConfig(1, 1)
	d := e.Evaluate([]models.Config{cfg}, Request{ClientIP: "10.0.0.1", RequireAuth: true}, models.GlobalStatus{})
	if d.Kind != KindUnauthorized {
		t.Fatalf("kind = %q, want %q", d.Kind, KindUnauthorized)
	}
	if !strings.Contains(d.Script, "Unauthorized") {
		t.Fatalf("unexpected script: %q", d.Script)
	}
}

func TestEvaluateRequireAuthWithDevice(t *testing.T) {
	e := New(Templates{})
	cfg := activeConfig(1, 1)
	device := &models.Device{ID: 7, Token: "tok"}
	d := e.Evaluate([]models.Config{cfg}, Request{ClientIP: "10.0.0.1", Device: device, RequireAuth: true}, models.GlobalStatus{})
	if d.Kind != KindConfig || d.ConfigID != 1 {
		t.Fatalf("authenticated device should evaluate configs, got %+v", d)
	}
}

func TestEvaluateSkipsInactive(t *testing.T) {
	e := New(Templates{})
	inactive := activeConfig(1, 1)
	inactive.IsActive = false
	fallback := activeConfig(2, 2)
	d := e.Evaluate([]models.Config{inactive, fallback}, Request{ClientIP: "10.0.0.1"}, models.GlobalStatus{})
	if d.ConfigID != 2 {
		t.Fatalf("inactive config must never win, got %+v", d)
	}
}

func TestEvaluateFirstMatchByPriority(t *testing.T) {
	e := New(Templates{})
	first := activeConfig(1, 1)
	second := activeConfig(2, 2)
	d := e.Evaluate([]models.Config{first, second}, Request{ClientIP: "10.0.0.1"}, models.GlobalStatus{})
	if d.ConfigID != 1 {
		t.Fatalf("lowest priority number wins, got %+v", d)
	}
}

func TestEvaluateORMode(t *testing.T) {
	e := New(Templates{})
	cfg := activeConfig(1, 1)
	cfg.IPFilter = models.StrPtr("192.168.0.0/16")
	cfg.DeviceIDs = []int64{7}

	// IP misses but device matches: OR passes.
	device := &models.Device{ID: 7}
	d := e.Evaluate([]models.Config{cfg}, Request{ClientIP: "10.0.0.1", Device: device}, models.GlobalStatus{})
	if d.ConfigID != 1 {
		t.Fatalf("OR mode should match on device alone, got %+v", d)
	}

	// Both miss.
	stranger := &models.Device{ID: 8}
	d = e.Evaluate([]models.Config{cfg}, Request{ClientIP: "10.0.0.1", Device: stranger}, models.GlobalStatus{})
	if d.Kind != KindDefault {
		t.Fatalf("OR mode with both predicates failing should fall through, got %+v", d)
	}
}

func TestEvaluateANDMode(t *testing.T) {
	e := New(Templates{})
	cfg := activeConfig(1, 1)
	cfg.Mode = models.ModeAND
	cfg.IPFilter = models.StrPtr("192.168.0.0/16")
	cfg.DeviceIDs = []int64{7}
	device := &models.Device{ID: 7}

	d := e.Evaluate([]models.Config{cfg}, Request{ClientIP: "10.0.0.1", Device: device}, models.GlobalStatus{})
	if d.Kind != KindDefault {
		t.Fatalf("AND mode needs both predicates, got %+v", d)
	}
	d = e.Evaluate([]models.Config{cfg}, Request{ClientIP: "192.168.4.4", Device: device}, models.GlobalStatus{})
	if d.ConfigID != 1 {
		t.Fatalf("AND mode with both matching should win, got %+v", d)
	}
}

func TestEvaluateNilFilterMatchesAnyIP(t *testing.T) {
	e := New(Templates{})
	cfg := activeConfig(1, 1)
	d := e.Evaluate([]models.Config{cfg}, Request{ClientIP: "totally-not-an-ip"}, models.GlobalStatus{})
	if d.ConfigID != 1 {
		t.Fatalf("nil filter matches everything, got %+v", d)
	}
}

func TestEvaluateBuiltinProxy(t *testing.T) {
	e := New(Templates{})
	cfg := activeConfig(1, 1)
	cfg.UseBuiltinProxy = true
	status := models.GlobalStatus{PublicHost: "proxy.example.com", PublicPort: 3128}

	d := e.Evaluate([]models.Config{cfg}, Request{ClientIP: "10.0.0.1"}, status)
	if d.Kind != KindBuiltin {
		t.Fatalf("kind = %q, want %q", d.Kind, KindBuiltin)
	}
	if !strings.Contains(d.Script, "PROXY proxy.example.com:3128") {
		t.Fatalf("script should target the public proxy, got %q", d.Script)
	}
}

func TestEvaluateBuiltinProxyUnconfiguredFallsBack(t *testing.T) {
	e := New(Templates{})
	cfg := activeConfig(1, 1)
	cfg.UseBuiltinProxy = true
	d := e.Evaluate([]models.Config{cfg}, Request{ClientIP: "10.0.0.1"}, models.GlobalStatus{})
	if d.Kind != KindDefault {
		t.Fatalf("missing public host/port must degrade to default, got %+v", d)
	}
}

func TestIPMatched(t *testing.T) {
	cases := []struct {
		ip     string
		filter string
		want   bool
	}{
		{"192.168.1.5", "192.168.1.0/24", true},
		{"192.168.2.5", "192.168.1.0/24", false},
		{"10.0.0.1", "10.0.0.1", true},
		{"10.0.0.2", "10.0.0.1", false},
		{"10.0.0.2", "192.168.1.0/24, 10.0.0.2", true},
		{"2001:db8::5", "2001:db8::/32", true},
		{"not-an-ip", "10.0.0.0/8", false},
		// Bad entries are skipped, later good entries still apply.
		{"10.0.0.1", "garbage, 10.0.0.0/8", true},
		{"10.0.0.1", "garbage", false},
		{"10.0.0.1", "", false},
	}
	for _, tc := range cases {
		if got := IPMatched(tc.ip, tc.filter); got != tc.want {
			t.Errorf("IPMatched(%q, %q) = %v, want %v", tc.ip, tc.filter, got, tc.want)
		}
	}
}

func TestNewFillsTemplateDefaults(t *testing.T) {
	custom := New(Templates{Default: "function FindProxyForURL(u, h) { return \"DIRECT\"; } // custom"})
	if !strings.Contains(custom.Templates.Default, "custom") {
		t.Fatal("explicit template should survive")
	}
	if custom.Templates.Unauthorized == "" || custom.Templates.BuiltinProxy == "" {
		t.Fatal("unset templates should fall back to defaults")
	}
}
