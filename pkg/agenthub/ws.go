package agenthub

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// WSConn adapts a coder/websocket connection to the hub's Conn interface.
type WSConn struct {
	conn *websocket.Conn
}

// Accept upgrades an HTTP request to an agent websocket connection.
// originPatterns is empty for same-process agents; set it when the dashboard
// is served from another origin.
func Accept(w http.ResponseWriter, r *http.Request, originPatterns []string) (*WSConn, error) {
	opts := &websocket.AcceptOptions{}
	if len(originPatterns) > 0 {
		opts.OriginPatterns = originPatterns
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return &WSConn{conn: conn}, nil
}

func (c *WSConn) Read(ctx context.Context) (Message, error) {
	var msg Message
	if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (c *WSConn) Write(ctx context.Context, msg Message) error {
	return wsjson.Write(ctx, c.conn, msg)
}

func (c *WSConn) Close(reason string) {
	code := websocket.StatusNormalClosure
	if reason == "unauthorized" {
		code = websocket.StatusPolicyViolation
	}
	_ = c.conn.Close(code, reason)
}
