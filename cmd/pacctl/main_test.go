package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp rules: %v", err)
	}
	return path
}

const goodExport = `{"version":1,"rules":[{"name":"block-ads","action":"BLOCK","host_matches":"*.ads.example.com"}]}`

func TestRunRequiresCommand(t *testing.T) {
	var out bytes.Buffer
	if err := run(nil, &out); err == nil {
		t.Fatal("no command should fail")
	}
	if !strings.Contains(out.String(), "pacctl commands") {
		t.Fatalf("usage not printed: %s", out.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"destroy"}, &out)
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateCommand(t *testing.T) {
	var out bytes.Buffer
	path := writeTempRules(t, goodExport)
	if err := run([]string{"validate", "--file", path}, &out); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out.String(), "ok: 1 rules") {
		t.Fatalf("out = %s", out.String())
	}
}

func TestValidateCommandRejectsBadDocument(t *testing.T) {
	var out bytes.Buffer
	path := writeTempRules(t, `{"version":2,"rules":[]}`)
	err := run([]string{"validate", "--file", path}, &out)
	if err == nil || !strings.Contains(err.Error(), "invalid rules") {
		t.Fatalf("err = %v", err)
	}

	if err := run([]string{"validate"}, &out); err == nil {
		t.Fatal("missing file flag should fail")
	}
}

func TestRulesListAndStatusAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer admin-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/rules":
			w.Write([]byte(`[{"id":1,"name":"block-ads"}]`))
		case "/api/status":
			w.Write([]byte(`{"enable_proxy":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	t.Setenv("PROXYKO_URL", srv.URL)
	t.Setenv("PROXYKO_ADMIN_TOKEN", "admin-token")

	var out bytes.Buffer
	if err := run([]string{"rules", "list"}, &out); err != nil {
		t.Fatalf("rules list: %v", err)
	}
	if !strings.Contains(out.String(), `"block-ads"`) {
		t.Fatalf("out = %s", out.String())
	}

	out.Reset()
	if err := run([]string{"status"}, &out); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out.String(), `"enable_proxy": true`) {
		t.Fatalf("out = %s", out.String())
	}
}

func TestRulesImportValidatesBeforePost(t *testing.T) {
	posted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posted = true
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()
	t.Setenv("PROXYKO_URL", srv.URL)
	t.Setenv("PROXYKO_ADMIN_TOKEN", "")

	var out bytes.Buffer
	bad := writeTempRules(t, `{"version":1,"rules":[{"name":"x","action":"BLOCK"}]}`)
	if err := run([]string{"rules", "import", "--file", bad}, &out); err == nil {
		t.Fatal("invalid document should fail locally")
	}
	if posted {
		t.Fatal("invalid document must not reach the server")
	}

	good := writeTempRules(t, goodExport)
	if err := run([]string{"rules", "import", "--file", good}, &out); err != nil {
		t.Fatalf("import: %v", err)
	}
	if !posted {
		t.Fatal("valid document should be posted")
	}
}

func TestRulesExportToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(goodExport))
	}))
	defer srv.Close()
	t.Setenv("PROXYKO_URL", srv.URL)
	t.Setenv("PROXYKO_ADMIN_TOKEN", "")

	path := filepath.Join(t.TempDir(), "export.json")
	var out bytes.Buffer
	if err := run([]string{"rules", "export", "--file", path}, &out); err != nil {
		t.Fatalf("export: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(raw), `"block-ads"`) {
		t.Fatalf("export = %s", raw)
	}

	if err := run([]string{"rules", "bogus"}, &out); err == nil {
		t.Fatal("unknown rules subcommand should fail")
	}
}
