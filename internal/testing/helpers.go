// helpers.go - Shared test helpers for internal packages.
// FakeExtension dials the bridge WebSocket the way the browser extension does,
// so gateway and front-end tests can script replies. This file is NOT a test
// file so it can be imported by tests in other packages.
package testing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Identity is the identity string the fake presents by default.
const Identity = "gasoline-extension"

// Command is one decoded outbound command frame.
type Command map[string]any

// Type returns the wire endpoint of the command.
func (c Command) Type() string {
	s, _ := c["type"].(string)
	return s
}

// CorrelationID returns the join key of the command.
func (c Command) CorrelationID() string {
	s, _ := c["correlationId"].(string)
	return s
}

// FakeExtension is a scripted extension peer.
type FakeExtension struct {
	t         *testing.T
	conn      *websocket.Conn
	SessionID string

	writeMu sync.Mutex
}

// WebSocketURL converts an httptest server URL to the bridge WebSocket URL.
func WebSocketURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

// DialExtension connects, sends the hello frame and waits for the welcome.
// The connection is closed when the test ends.
func DialExtension(t *testing.T, wsURL, identity string) *FakeExtension {
	t.Helper()
	conn, err := dial(wsURL, identity)
	if err != nil {
		t.Fatalf("DialExtension: %v", err)
	}
	f := &FakeExtension{t: t, conn: conn}
	t.Cleanup(func() { conn.CloseNow() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var welcome struct {
		Type      string `json:"type"`
		SessionID string `json:"sessionId"`
	}
	if err := wsjson.Read(ctx, conn, &welcome); err != nil {
		t.Fatalf("DialExtension: read welcome: %v", err)
	}
	if welcome.Type != "welcome" || welcome.SessionID == "" {
		t.Fatalf("DialExtension: unexpected first frame %+v", welcome)
	}
	f.SessionID = welcome.SessionID
	return f
}

// DialRejected performs a handshake expected to fail and returns the close
// status the bridge sent.
func DialRejected(t *testing.T, wsURL, identity string) websocket.StatusCode {
	t.Helper()
	conn, err := dial(wsURL, identity)
	if err != nil {
		t.Fatalf("DialRejected: %v", err)
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err = conn.Read(ctx)
	if err == nil {
		t.Fatal("DialRejected: expected the bridge to close the connection")
	}
	return websocket.CloseStatus(err)
}

func dial(wsURL, identity string) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": {"chrome-extension://fakeextensionid"}},
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(32 << 20)
	hello := map[string]string{"type": "hello", "identity": identity, "version": "test"}
	if err := wsjson.Write(ctx, conn, hello); err != nil {
		conn.CloseNow()
		return nil, err
	}
	return conn, nil
}

// QueryIdentityURL appends ?identity= to a WebSocket URL.
func QueryIdentityURL(wsURL, identity string) string {
	return wsURL + "?identity=" + url.QueryEscape(identity)
}

// NextCommand reads the next command frame, skipping pong frames. Call it
// from the test goroutine only; use ReadCommand elsewhere.
func (f *FakeExtension) NextCommand() Command {
	f.t.Helper()
	cmd, err := f.ReadCommand()
	if err != nil {
		f.t.Fatalf("NextCommand: %v", err)
	}
	return cmd
}

// ReadCommand reads the next command frame, skipping pong frames.
func (f *FakeExtension) ReadCommand() (Command, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var cmd Command
		if err := wsjson.Read(ctx, f.conn, &cmd); err != nil {
			return nil, err
		}
		if cmd.Type() != "pong" {
			return cmd, nil
		}
	}
}

// ReadFrame reads one raw frame of any type.
func (f *FakeExtension) ReadFrame() (map[string]any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var frame map[string]any
	err := wsjson.Read(ctx, f.conn, &frame)
	return frame, err
}

// Send writes v as one JSON text frame.
func (f *FakeExtension) Send(v any) {
	f.t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		f.t.Errorf("Send: %v", err)
		return
	}
	f.SendRaw(data)
}

// SendRaw writes data as one text frame unchanged.
func (f *FakeExtension) SendRaw(data []byte) {
	f.t.Helper()
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.conn.Write(ctx, websocket.MessageText, data); err != nil {
		f.t.Errorf("SendRaw: %v", err)
	}
}

// Reply answers cmd with a "<endpoint>Result" frame carrying fields.
func (f *FakeExtension) Reply(cmd Command, fields map[string]any) {
	f.t.Helper()
	frame := map[string]any{
		"type":          cmd.Type() + "Result",
		"correlationId": cmd.CorrelationID(),
	}
	for k, v := range fields {
		frame[k] = v
	}
	f.Send(frame)
}

// ReplyError answers cmd with an "error" frame.
func (f *FakeExtension) ReplyError(cmd Command, message string) {
	f.t.Helper()
	f.Send(map[string]any{
		"type":          "error",
		"correlationId": cmd.CorrelationID(),
		"error":         message,
	})
}

// Close closes the socket with a normal closure.
func (f *FakeExtension) Close() {
	_ = f.conn.Close(websocket.StatusNormalClosure, "bye")
}

// Closed waits for the bridge to close the socket and returns the status.
func (f *FakeExtension) Closed() (websocket.StatusCode, error) {
	for {
		_, err := f.ReadFrame()
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 {
				return status, err
			}
			return status, nil
		}
	}
}
