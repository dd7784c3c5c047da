package listener

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type wsResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// subscribeAll registers the contract-log subscription and the newHeads
// heartbeat on the current connection. Must run before the read pump; the
// confirmation replies are read inline.
func (l *Listener) subscribeAll() error {
	logFilter := map[string]any{
		"address": l.contract.Hex(),
		"topics":  []any{lifecycleTopics()},
	}

	subLogs, err := l.subscribe("logs", logFilter)
	if err != nil {
		return fmt.Errorf("subscribing to logs: %w", err)
	}
	subHeads, err := l.subscribe("newHeads")
	if err != nil {
		return fmt.Errorf("subscribing to newHeads: %w", err)
	}

	l.mu.Lock()
	l.subLogs = subLogs
	l.subHeads = subHeads
	l.mu.Unlock()
	return nil
}

func (l *Listener) subscribe(params ...any) (string, error) {
	l.mu.Lock()
	conn := l.conn
	l.reqID++
	id := l.reqID
	l.mu.Unlock()
	if conn == nil {
		return "", errors.New("not connected")
	}

	req := wsRequest{JSONRPC: "2.0", ID: id, Method: "eth_subscribe", Params: params}

	l.writeMu.Lock()
	err := conn.WriteJSON(req)
	l.writeMu.Unlock()
	if err != nil {
		return "", err
	}

	conn.SetReadDeadline(time.Now().Add(l.cfg.HandshakeTimeout))
	var resp wsResponse
	if err := conn.ReadJSON(&resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("eth_subscribe rejected: %d %s", resp.Error.Code, resp.Error.Message)
	}

	var subID string
	if err := json.Unmarshal(resp.Result, &subID); err != nil {
		return "", fmt.Errorf("bad subscription id: %w", err)
	}
	return subID, nil
}

// ping keeps intermediaries from idling the socket out. Errors surface on
// the read side, so they are ignored here.
func (l *Listener) ping() {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return
	}
	l.writeMu.Lock()
	_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
	l.writeMu.Unlock()
}
