// Package agenthub implements the push protocol between the admin server
// and external proxy agents: shared-secret handshake, full-state resync on
// login, and best-effort broadcast of rule and status changes to every
// authenticated connection.
package agenthub

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jokelbaf/proxyko/pkg/heartbeat"
	"github.com/jokelbaf/proxyko/pkg/models"
)

// Conn is one agent transport. Implemented by WSConn; tests substitute
// in-memory fakes.
type Conn interface {
	Read(ctx context.Context) (Message, error)
	Write(ctx context.Context, msg Message) error
	Close(reason string)
}

// StateSource supplies the current distributed state for resync pushes.
type StateSource interface {
	GlobalStatus(ctx context.Context) (models.GlobalStatus, error)
	Rules(ctx context.Context) ([]models.ProxyRule, error)
}

// Hub owns the registry of authenticated agent connections. Create one at
// startup and share it by reference; it lives for the process lifetime.
type Hub struct {
	APIKey       string
	State        StateSource
	Heartbeat    *heartbeat.Monitor
	WriteTimeout time.Duration

	// OnUnknownAction observes ignored post-auth actions. Optional.
	OnUnknownAction func(action string)

	mu    sync.Mutex
	conns map[string]Conn
}

func NewHub(apiKey string, state StateSource, monitor *heartbeat.Monitor) *Hub {
	return &Hub{
		APIKey:       apiKey,
		State:        state,
		Heartbeat:    monitor,
		WriteTimeout: 5 * time.Second,
		conns:        map[string]Conn{},
	}
}

// Count reports the number of authenticated connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) register(id string, conn Conn) {
	h.mu.Lock()
	h.conns[id] = conn
	h.mu.Unlock()
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
}

// Serve runs the connection state machine until disconnect. The connection
// starts unauthenticated; the only acceptable first message is a login_req
// carrying the shared key. On success the hub registers the connection and
// pushes status_notify, rules_notify, login_res in that order.
func (h *Hub) Serve(ctx context.Context, id string, conn Conn) {
	authenticated := false
	defer func() {
		if authenticated {
			h.unregister(id)
		}
	}()

	for {
		msg, err := conn.Read(ctx)
		if err != nil {
			return
		}

		if !authenticated {
			if msg.Action != ActionLoginReq {
				h.rejectUnauthorized(ctx, conn, "Not authenticated")
				return
			}
			login, err := DecodeLogin(msg)
			if err != nil || h.APIKey == "" || login.APIKey != h.APIKey {
				h.rejectUnauthorized(ctx, conn, "Authentication failed")
				return
			}
			authenticated = true
			h.register(id, conn)
			if err := h.resync(ctx, conn); err != nil {
				log.Printf("agenthub: resync to %s failed: %v", id, err)
				conn.Close("resync_failed")
				return
			}
			continue
		}

		switch msg.Action {
		case ActionLoginReq:
			// A repeat login is honored: re-verify the key and resend
			// the full state snapshot.
			login, err := DecodeLogin(msg)
			if err != nil || login.APIKey != h.APIKey {
				h.rejectUnauthorized(ctx, conn, "Authentication failed")
				return
			}
			if err := h.resync(ctx, conn); err != nil {
				log.Printf("agenthub: resync to %s failed: %v", id, err)
				conn.Close("resync_failed")
				return
			}
		case ActionHeartbeatPush:
			if h.Heartbeat != nil {
				h.Heartbeat.Beat(time.Now())
			}
		default:
			// Ignored without a state transition.
			if h.OnUnknownAction != nil {
				h.OnUnknownAction(msg.Action)
			}
		}
	}
}

func (h *Hub) rejectUnauthorized(ctx context.Context, conn Conn, reason string) {
	writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout())
	_ = conn.Write(writeCtx, NewError(reason))
	cancel()
	conn.Close("unauthorized")
}

// resync pushes the full current state to a freshly authenticated
// connection. Message order is part of the protocol contract.
func (h *Hub) resync(ctx context.Context, conn Conn) error {
	status, err := h.State.GlobalStatus(ctx)
	if err != nil {
		return err
	}
	rules, err := h.State.Rules(ctx)
	if err != nil {
		return err
	}
	for _, msg := range []Message{
		NewStatusNotify(status, "OK"),
		NewRulesNotify(rules, "OK"),
		NewLoginRes(),
	} {
		writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout())
		err := conn.Write(writeCtx, msg)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

// BroadcastStatus pushes a status_notify to every registered connection.
// Returns the number of recipients that got the message.
func (h *Hub) BroadcastStatus(ctx context.Context, status models.GlobalStatus) int {
	return h.broadcast(ctx, NewStatusNotify(status, "Proxy status changed"))
}

// BroadcastRules pushes the full ordered rule list to every registered
// connection.
func (h *Hub) BroadcastRules(ctx context.Context, rules []models.ProxyRule) int {
	return h.broadcast(ctx, NewRulesNotify(rules, "Proxy rules changed"))
}

// broadcast is best-effort and failure-isolated: a failed send prunes that
// one connection and never affects the others or the caller. Snapshot first
// so concurrent register/unregister cannot upset iteration.
func (h *Hub) broadcast(ctx context.Context, msg Message) int {
	h.mu.Lock()
	snapshot := make(map[string]Conn, len(h.conns))
	for id, conn := range h.conns {
		snapshot[id] = conn
	}
	h.mu.Unlock()

	delivered := 0
	for id, conn := range snapshot {
		writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout())
		err := conn.Write(writeCtx, msg)
		cancel()
		if err != nil {
			log.Printf("agenthub: dropping connection %s: %v", id, err)
			h.unregister(id)
			conn.Close("write_failed")
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) writeTimeout() time.Duration {
	if h.WriteTimeout <= 0 {
		return 5 * time.Second
	}
	return h.WriteTimeout
}
