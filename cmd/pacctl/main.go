package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jokelbaf/proxyko/pkg/models"
	"github.com/jokelbaf/proxyko/pkg/telemetry"
)

// Testable variables for main()
var osExit = os.Exit

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Print(err)
		osExit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return errors.New("command required")
	}
	switch args[0] {
	case "rules":
		return rulesCmd(args[1:], out)
	case "status":
		return statusCmd(args[1:], out)
	case "health":
		return healthCmd(args[1:], out)
	case "validate":
		return validateCmd(args[1:], out)
	default:
		usage(out)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "pacctl commands:")
	fmt.Fprintln(out, "  rules list|export|import [--file rules.json]")
	fmt.Fprintln(out, "  status")
	fmt.Fprintln(out, "  health")
	fmt.Fprintln(out, "  validate --file rules.json")
	fmt.Fprintln(out, "server and token come from PROXYKO_URL and PROXYKO_ADMIN_TOKEN")
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

type apiClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func newAPIClient() apiClient {
	return apiClient{
		baseURL: strings.TrimSuffix(envOr("PROXYKO_URL", "http://localhost:8080"), "/"),
		token:   os.Getenv("PROXYKO_ADMIN_TOKEN"),
		client:  telemetry.InstrumentClient(&http.Client{Timeout: 10 * time.Second}),
	}
}

func (c apiClient) do(method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s failed status=%d body=%s", method, path, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func rulesCmd(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("rules subcommand required: list, export, import")
	}
	switch args[0] {
	case "list":
		body, err := newAPIClient().do(http.MethodGet, "/api/rules", nil)
		if err != nil {
			return err
		}
		return printJSON(out, body)
	case "export":
		fs := newFlagSet("rules export")
		file := fs.String("file", "", "write the export here instead of stdout")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		body, err := newAPIClient().do(http.MethodGet, "/api/rules/export", nil)
		if err != nil {
			return err
		}
		if *file != "" {
			if err := os.WriteFile(*file, body, 0o600); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			fmt.Fprintf(out, "wrote %s\n", *file)
			return nil
		}
		return printJSON(out, body)
	case "import":
		fs := newFlagSet("rules import")
		file := fs.String("file", "", "rule export document")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *file == "" {
			return errors.New("file required")
		}
		raw, err := os.ReadFile(*file)
		if err != nil {
			return fmt.Errorf("read rules: %w", err)
		}
		if _, userErrs, err := models.ParseRuleExport(raw); err != nil {
			return fmt.Errorf("parse rules: %w", err)
		} else if len(userErrs) > 0 {
			return fmt.Errorf("invalid rules:\n  %s", strings.Join(userErrs, "\n  "))
		}
		body, err := newAPIClient().do(http.MethodPost, "/api/rules/import", raw)
		if err != nil {
			return err
		}
		return printJSON(out, body)
	default:
		return fmt.Errorf("unknown rules subcommand: %s", args[0])
	}
}

func statusCmd(_ []string, out io.Writer) error {
	body, err := newAPIClient().do(http.MethodGet, "/api/status", nil)
	if err != nil {
		return err
	}
	return printJSON(out, body)
}

func healthCmd(_ []string, out io.Writer) error {
	body, err := newAPIClient().do(http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	return printJSON(out, body)
}

// validateCmd checks a rule export document locally without touching the
// server.
func validateCmd(args []string, out io.Writer) error {
	fs := newFlagSet("validate")
	file := fs.String("file", "", "rule export document")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("file required")
	}
	raw, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read rules: %w", err)
	}
	export, userErrs, err := models.ParseRuleExport(raw)
	if err != nil {
		return fmt.Errorf("parse rules: %w", err)
	}
	if len(userErrs) > 0 {
		return fmt.Errorf("invalid rules:\n  %s", strings.Join(userErrs, "\n  "))
	}
	fmt.Fprintf(out, "ok: %d rules\n", len(export.Rules))
	return nil
}

func printJSON(out io.Writer, body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		_, werr := out.Write(body)
		return werr
	}
	buf.WriteByte('\n')
	_, err := out.Write(buf.Bytes())
	return err
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
