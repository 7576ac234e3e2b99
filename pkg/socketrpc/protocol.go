// Package socketrpc carries the event bus between cooperating processes:
// a relay server owning one shared bus, and a client that plugs into
// eventing.HostBus as its host facility.
package socketrpc

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// JSON-RPC 2.0 Method Reference
//
// Requests are newline-delimited JSON objects over a Unix domain socket.
//
//   Method        Params                                   Result
//   ───────────   ──────────────────────────────────────   ────────────────────
//   Signon        {InstanceID: string}                     {InstanceID: string}
//   Publish       {Channel: string, Message: any}          true
//   Subscribe     {Channel: string}                        true
//   Unsubscribe   {Channel: string}                        true
//   Channels      (none)                                   []string
//
// Signon is optional and must precede the first Subscribe; without it the
// server assigns a random instance id. Subscribe replaces the connection's
// previous subscription on the channel.
//
// The server pushes deliveries as notifications (no id):
//
//   Deliver       {Channel: string, Sender: string, Message: any}
//
// A connection never receives messages it published itself.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeApplication    = -32000
)

const methodDeliver = "Deliver"

// ErrClosed is returned by calls on a closed client.
var ErrClosed = errors.New("socketrpc: connection closed")

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Notification is a JSON-RPC 2.0 request without an id, sent by the server.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// Delivery is one message on the relay bus. The relay publishes Delivery
// values on its LocalBus so every surface (socket, SSE, websocket) sees the
// original sender.
type Delivery struct {
	Channel string          `json:"Channel"`
	Sender  string          `json:"Sender"`
	Message json.RawMessage `json:"Message"`
}

// envelope is what the client reads: either a response or a notification.
type envelope struct {
	ID     *int            `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/dashwire/relay.sock, falling back to
// ~/.local/state/dashwire/relay.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "dashwire", "relay.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/dashwire-relay.sock"
	}
	return filepath.Join(home, ".local", "state", "dashwire", "relay.sock")
}
