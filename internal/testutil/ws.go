package testutil

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cory-johannsen/plaza/internal/protocol"
)

// WSClient is a websocket test client speaking the room event protocol.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// NewWSClient dials url (ws:// or wss://) with optional request headers.
//
// Precondition: url must point at a listening websocket endpoint.
// Postcondition: Returns a connected WSClient or fails the test.
func NewWSClient(t *testing.T, url string, header http.Header) *WSClient {
	t.Helper()
	start := time.Now()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dialing %s: %v (status %d) [%s]", url, err, status, time.Since(start))
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("websocket client connected to %s [%s]", url, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// Send writes one event frame.
//
// Postcondition: The encoded envelope is written, or the test fails.
func (c *WSClient) Send(eventType string, payload any) {
	c.t.Helper()
	frame, err := protocol.Encode(eventType, payload)
	if err != nil {
		c.t.Fatalf("encoding %s: %v", eventType, err)
	}
	c.SendRaw(frame)
}

// SendRaw writes data as a single text frame.
func (c *WSClient) SendRaw(data []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.t.Fatalf("sending frame: %v", err)
	}
}

// ReadUntil reads frames until one of the given type arrives or timeout
// elapses, discarding others.
//
// Postcondition: Returns the matching envelope, or fails on timeout.
func (c *WSClient) ReadUntil(eventType string, timeout time.Duration) protocol.Envelope {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))

	var seen []string
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("reading until %q: saw %v, error: %v", eventType, seen, err)
		}
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			c.t.Fatalf("decoding frame %q: %v", data, err)
		}
		if env.Type == eventType {
			return env
		}
		seen = append(seen, env.Type)
	}
}

// ReadPayload is ReadUntil followed by decoding the payload into out.
func (c *WSClient) ReadPayload(eventType string, timeout time.Duration, out any) {
	c.t.Helper()
	env := c.ReadUntil(eventType, timeout)
	if err := json.Unmarshal(env.Payload, out); err != nil {
		c.t.Fatalf("decoding %s payload: %v", eventType, err)
	}
}

// Conn exposes the underlying connection for transport-level assertions.
func (c *WSClient) Conn() *websocket.Conn {
	return c.conn
}

// Close closes the underlying connection.
func (c *WSClient) Close() {
	c.conn.Close()
}
