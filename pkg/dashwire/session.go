// Package dashwire wires configuration, transport, event bus and services
// into a Session for one dashboard process.
package dashwire

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/dashwire/internal/logging"
	"github.com/tinytelemetry/dashwire/pkg/config"
	"github.com/tinytelemetry/dashwire/pkg/connection"
	"github.com/tinytelemetry/dashwire/pkg/eventing"
	"github.com/tinytelemetry/dashwire/pkg/service"
	"github.com/tinytelemetry/dashwire/pkg/socketrpc"
	"github.com/tinytelemetry/dashwire/pkg/transport"
	"github.com/tinytelemetry/dashwire/pkg/widget"
)

// Option configures Open.
type Option func(*Session)

// WithLogger replaces the logger built from the configuration.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithBus shares an existing bus, typically one LocalBus for every Session
// in the process. It overrides the configured bus kind.
func WithBus(bus eventing.EventTransport) Option {
	return func(s *Session) { s.bus = bus }
}

// WithHTTPClient sets the HTTP client for service requests and the dataset
// listener.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Session) { s.httpClient = hc }
}

// Session is the entry point for a dashboard: it owns the transport client,
// the bus, the Connection and the widget services.
type Session struct {
	cfg        config.Config
	logger     *slog.Logger
	httpClient *http.Client
	client     *transport.Client
	urls       service.URLs
	bus        eventing.EventTransport
	relay      *socketrpc.Client
	conn       *connection.Connection
	widgets    *widget.Service

	mu         sync.Mutex
	messengers []*eventing.Messenger
	closed     bool
}

// Open builds a Session from cfg. When cfg names a host the Connection is
// connected to it right away.
func Open(cfg config.Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{cfg: cfg, urls: service.New(cfg.ServerURL)}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = logging.New(os.Stderr, logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	}

	topts := []transport.Option{transport.WithLogger(s.logger), transport.WithTimeout(cfg.RequestTimeout)}
	if s.httpClient != nil {
		topts = append(topts, transport.WithHTTPClient(s.httpClient))
	}
	s.client = transport.New(topts...)

	var wopts []widget.Option
	if s.bus == nil {
		switch cfg.Bus {
		case config.BusRelay:
			relay, err := socketrpc.Dial(cfg.SocketPath, socketrpc.WithClientLogger(s.logger))
			if err != nil {
				return nil, fmt.Errorf("dashwire: relay: %w", err)
			}
			s.relay = relay
			s.bus = eventing.NewHostBus(relay, s.logger)
			wopts = append(wopts, widget.WithHostInstance(relay.InstanceID()))
		default:
			s.bus = eventing.NewLocalBus()
		}
	}
	s.widgets = widget.New(s.client, s.urls, wopts...)

	copts := []connection.Option{connection.WithLogger(s.logger), connection.WithUpdateRetry(cfg.UpdateRetry)}
	if s.httpClient != nil {
		copts = append(copts, connection.WithStreamClient(s.httpClient))
	}
	s.conn = connection.New(s.client, s.urls, s.NewMessenger(), copts...)
	if cfg.Host != "" {
		s.conn.Connect(cfg.DatabaseType, cfg.Host, cfg.ListenForUpdates)
	}

	s.logger.Debug("dashwire: session open", "server", s.urls.Server(), "bus", cfg.Bus, "host", cfg.Host)
	return s, nil
}

// NewMessenger returns a Messenger on the session bus, able to make filter
// and selection service calls. Close unsubscribes every Messenger it made.
func (s *Session) NewMessenger() *eventing.Messenger {
	m := eventing.NewMessenger(s.bus,
		eventing.WithService(s.client, s.urls),
		eventing.WithLogger(s.logger),
	)
	s.mu.Lock()
	s.messengers = append(s.messengers, m)
	s.mu.Unlock()
	return m
}

func (s *Session) Connection() *connection.Connection { return s.conn }

func (s *Session) Widgets() *widget.Service { return s.widgets }

func (s *Session) Bus() eventing.EventTransport { return s.bus }

func (s *Session) Client() *transport.Client { return s.client }

// Close unsubscribes all messengers, then stops the dataset listener and
// disconnects from the relay.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	messengers := s.messengers
	s.messengers = nil
	s.mu.Unlock()

	for _, m := range messengers {
		m.UnsubscribeAll()
	}

	var g errgroup.Group
	g.Go(func() error {
		s.conn.Close()
		return nil
	})
	if s.relay != nil {
		g.Go(func() error {
			if err := s.relay.Close(); err != nil {
				return fmt.Errorf("dashwire: close relay: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}
