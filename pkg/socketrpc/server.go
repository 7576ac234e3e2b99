package socketrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinytelemetry/dashwire/pkg/eventing"
)

const (
	// scannerInitBufSize is the initial buffer size for the per-connection scanner (64 KB).
	scannerInitBufSize = 64 * 1024
	// scannerMaxTokenSize is the maximum token size the scanner will accept (10 MB).
	scannerMaxTokenSize = 10 * 1024 * 1024
	// writeTimeout bounds a single write to a peer so one stalled reader
	// cannot hold up publishers.
	writeTimeout = 5 * time.Second
)

// Hooks observe relay traffic. Any field may be nil.
type Hooks struct {
	Connected    func()
	Disconnected func()
	Published    func(channel string)
	Delivered    func(channel string)
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithHooks installs traffic hooks.
func WithHooks(h Hooks) ServerOption {
	return func(s *Server) { s.hooks = h }
}

// Server shares an eventing.LocalBus with peers over a Unix domain socket
// using JSON-RPC 2.0.
type Server struct {
	socketPath string
	bus        *eventing.LocalBus
	logger     *slog.Logger
	hooks      Hooks
	listener   net.Listener
	wg         sync.WaitGroup
	quit       chan struct{}

	mu    sync.Mutex
	peers map[*peer]struct{}
}

// NewServer creates a new socket RPC server publishing onto bus.
func NewServer(socketPath string, bus *eventing.LocalBus, opts ...ServerOption) *Server {
	s := &Server{
		socketPath: socketPath,
		bus:        bus,
		logger:     slog.Default(),
		quit:       make(chan struct{}),
		peers:      make(map[*peer]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start begins listening on the Unix socket and accepting connections.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("socketrpc: mkdir: %w", err)
	}

	// Remove stale socket if it exists.
	if _, err := os.Stat(s.socketPath); err == nil {
		conn, dialErr := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
		if dialErr != nil {
			os.Remove(s.socketPath)
		} else {
			conn.Close()
			return fmt.Errorf("socketrpc: another server is already listening on %s", s.socketPath)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("socketrpc: listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("socketrpc: listening", "path", s.socketPath)
	return nil
}

// Stop closes the listener and every peer, waits for them to drain, and
// removes the socket file.
func (s *Server) Stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for p := range s.peers {
		p.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	os.Remove(s.socketPath)
}

// Peers returns the number of connected peers.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.logger.Warn("socketrpc: accept error", "error", err)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// peer is the server side of one connection.
type peer struct {
	conn net.Conn

	wmu sync.Mutex
	enc *json.Encoder

	// instanceID and subs are only touched by the connection's own
	// goroutine.
	instanceID string
	subs       map[string]*eventing.Subscription
}

func newPeer(conn net.Conn, w io.Writer) *peer {
	return &peer{
		conn:       conn,
		enc:        json.NewEncoder(w),
		instanceID: uuid.NewString(),
		subs:       make(map[string]*eventing.Subscription),
	}
}

func (p *peer) write(v any) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if p.conn != nil {
		p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	return p.enc.Encode(v)
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	p := newPeer(conn, conn)
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()
	if s.hooks.Connected != nil {
		s.hooks.Connected()
	}
	defer func() {
		for _, sub := range p.subs {
			s.bus.Remove(sub)
		}
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		if s.hooks.Disconnected != nil {
			s.hooks.Disconnected()
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)

	for scanner.Scan() {
		select {
		case <-s.quit:
			return
		default:
		}

		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			p.write(Response{JSONRPC: "2.0", ID: 0, Error: &RPCError{Code: codeParseError, Message: "parse error"}})
			continue
		}

		resp := s.dispatch(p, req)
		if err := p.write(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(p *peer, req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	marshalResult := func(v any, err error) Response {
		if err != nil {
			resp.Error = &RPCError{Code: codeApplication, Message: err.Error()}
			return resp
		}
		data, merr := json.Marshal(v)
		if merr != nil {
			resp.Error = &RPCError{Code: codeInternal, Message: merr.Error()}
			return resp
		}
		resp.Result = data
		return resp
	}

	invalidParams := func(err error) Response {
		resp.Error = &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
		return resp
	}

	switch req.Method {
	case "Signon":
		var params struct{ InstanceID string }
		if err := json.Unmarshal(req.Params, &params); err != nil && len(req.Params) > 0 {
			return invalidParams(err)
		}
		return marshalResult(s.signon(p, params.InstanceID))

	case "Publish":
		var params struct {
			Channel string
			Message json.RawMessage
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return invalidParams(err)
		}
		if params.Channel == "" {
			return invalidParams(fmt.Errorf("missing channel"))
		}
		s.Publish(params.Channel, p.instanceID, params.Message)
		return marshalResult(true, nil)

	case "Subscribe":
		var params struct{ Channel string }
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return invalidParams(err)
		}
		if params.Channel == "" {
			return invalidParams(fmt.Errorf("missing channel"))
		}
		s.subscribe(p, params.Channel)
		return marshalResult(true, nil)

	case "Unsubscribe":
		var params struct{ Channel string }
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return invalidParams(err)
		}
		if sub, ok := p.subs[params.Channel]; ok {
			s.bus.Remove(sub)
			delete(p.subs, params.Channel)
		}
		return marshalResult(true, nil)

	case "Channels":
		return marshalResult(s.bus.Channels(), nil)

	default:
		resp.Error = &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return resp
	}
}

type signonResult struct {
	InstanceID string
}

func (s *Server) signon(p *peer, id string) (signonResult, error) {
	if len(p.subs) > 0 {
		return signonResult{}, fmt.Errorf("signon after subscribe")
	}
	if id != "" {
		p.instanceID = id
	}
	return signonResult{InstanceID: p.instanceID}, nil
}

func (s *Server) subscribe(p *peer, channel string) {
	if old, ok := p.subs[channel]; ok {
		s.bus.Remove(old)
	}
	p.subs[channel] = s.bus.Subscribe(channel, func(msg any) {
		d, ok := msg.(Delivery)
		if !ok {
			return
		}
		if err := p.write(Notification{JSONRPC: "2.0", Method: methodDeliver, Params: d}); err != nil {
			s.logger.Debug("socketrpc: deliver failed", "channel", channel, "error", err)
			return
		}
		if s.hooks.Delivered != nil {
			s.hooks.Delivered(channel)
		}
	}, p.instanceID)
}

// Publish puts message on the shared bus as sender. The HTTP surface of the
// relay publishes through here too.
func (s *Server) Publish(channel, sender string, message json.RawMessage) {
	if len(message) == 0 {
		message = json.RawMessage("null")
	}
	if s.hooks.Published != nil {
		s.hooks.Published(channel)
	}
	s.bus.Publish(channel, Delivery{Channel: channel, Sender: sender, Message: message}, sender)
}
