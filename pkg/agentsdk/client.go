package agentsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/jokelbaf/proxyko/pkg/agenthub"
	"github.com/jokelbaf/proxyko/pkg/auth"
	"github.com/jokelbaf/proxyko/pkg/models"
)

// Client reads proxy state over the internal HTTP surface.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	APIKey     string
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		APIKey: apiKey,
	}
}

func (c *Client) Rules(ctx context.Context) ([]models.ProxyRule, error) {
	var out []models.ProxyRule
	if err := c.get(ctx, "/api/internal/proxy/rules", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context) (models.GlobalStatus, error) {
	var out models.GlobalStatus
	if err := c.get(ctx, "/api/internal/proxy/status", &out); err != nil {
		return models.GlobalStatus{}, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set(auth.InternalKeyHeader, c.APIKey)
	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("get %s failed status=%d body=%s", path, resp.StatusCode, string(respBody))
	}
	return json.Unmarshal(respBody, out)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 5 * time.Second}
}

// SessionConfig drives a live websocket session against the hub.
type SessionConfig struct {
	WSURL             string
	APIKey            string
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration

	OnStatus func(agenthub.StatusData)
	OnRules  func([]models.ProxyRule)
	OnError  func(string)
}

// Session holds one authenticated websocket connection.
type Session struct {
	cfg  SessionConfig
	conn *websocket.Conn
}

// Dial connects and performs the login handshake. State pushed by the
// hub before login_res arrives is delivered through the callbacks.
func Dial(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if strings.TrimSpace(cfg.WSURL) == "" {
		return nil, fmt.Errorf("ws url is required")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	conn, _, err := websocket.Dial(ctx, cfg.WSURL, &websocket.DialOptions{
		HTTPClient: &http.Client{Timeout: 8 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	s := &Session{cfg: cfg, conn: conn}
	if err := wsjson.Write(ctx, conn, agenthub.NewLoginReq(cfg.APIKey)); err != nil {
		conn.Close(websocket.StatusNormalClosure, "closed")
		return nil, err
	}
	if err := s.awaitLogin(ctx); err != nil {
		conn.Close(websocket.StatusNormalClosure, "closed")
		return nil, err
	}
	return s, nil
}

func (s *Session) awaitLogin(ctx context.Context) error {
	deadline, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for {
		var msg agenthub.Message
		if err := wsjson.Read(deadline, s.conn, &msg); err != nil {
			return err
		}
		switch msg.Action {
		case agenthub.ActionLoginRes:
			return nil
		case agenthub.ActionError:
			return fmt.Errorf("login rejected: %s", msg.Message)
		default:
			s.dispatch(msg)
		}
	}
}

// Run reads notifications and sends heartbeats until the context is
// canceled or the connection drops.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.heartbeatLoop(ctx)
	for {
		var msg agenthub.Message
		if err := wsjson.Read(ctx, s.conn, &msg); err != nil {
			return err
		}
		s.dispatch(msg)
	}
}

func (s *Session) dispatch(msg agenthub.Message) {
	switch msg.Action {
	case agenthub.ActionStatusNotify:
		status, err := agenthub.DecodeStatus(msg)
		if err == nil && s.cfg.OnStatus != nil {
			s.cfg.OnStatus(status)
		}
	case agenthub.ActionRulesNotify:
		rules, err := agenthub.DecodeRules(msg)
		if err == nil && s.cfg.OnRules != nil {
			s.cfg.OnRules(rules)
		}
	case agenthub.ActionError:
		if s.cfg.OnError != nil {
			s.cfg.OnError(msg.Message)
		}
	}
}

func (s *Session) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, s.conn, agenthub.NewHeartbeatPush())
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Session) Close() {
	s.conn.Close(websocket.StatusNormalClosure, "closed")
}

// Connect runs sessions in a reconnect loop until the context ends.
func Connect(ctx context.Context, cfg SessionConfig, logf func(format string, args ...interface{})) {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	for {
		if ctx.Err() != nil {
			return
		}
		s, err := Dial(ctx, cfg)
		if err != nil {
			logf("agent connect: %v", err)
		} else {
			if err := s.Run(ctx); err != nil && ctx.Err() == nil {
				logf("agent disconnected: %v", err)
			}
			s.Close()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.ReconnectDelay):
		}
	}
}
