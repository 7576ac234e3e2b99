package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tinytelemetry/dashwire/internal/metrics"
	"github.com/tinytelemetry/dashwire/pkg/eventing"
)

// SenderHeader names the publisher of a message posted over HTTP.
const SenderHeader = "X-Dashwire-Sender"

// maxMessageBytes bounds a published message body.
const maxMessageBytes = 1 << 20

// Publisher puts a message on the relay bus. socketrpc.Server implements it.
type Publisher interface {
	Publish(channel, sender string, message json.RawMessage)
}

// Config configures the HTTP surface of the relay.
type Config struct {
	Addr string
	// PublishRate is the per-client publish limit in requests per second.
	// Zero disables limiting.
	PublishRate  float64
	PublishBurst int
	// Metrics, when set, is updated and served on /metrics.
	Metrics *metrics.Relay
	Logger  *slog.Logger
}

// Server exposes the relay bus over HTTP: publishing, SSE streams and a
// websocket endpoint.
type Server struct {
	cfg       Config
	bus       *eventing.LocalBus
	pub       Publisher
	logger    *slog.Logger
	limiter   *rateLimiter
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(cfg Config, bus *eventing.LocalBus, pub Publisher) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8090"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		bus:    bus,
		pub:    pub,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.PublishRate > 0 {
		s.limiter = newRateLimiter(cfg.PublishRate, cfg.PublishBurst)
	}
	return s
}

// Handler builds the gin engine.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	if s.cfg.Metrics != nil {
		r.Use(s.countRequests)
	}

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/channels", s.handleChannels)
	r.POST("/api/channels/:channel", s.rateLimit, s.handlePublish)
	r.GET("/api/channels/:channel/stream", s.handleStream)
	r.GET("/api/ws", s.handleWebsocket)
	if s.cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.cfg.Metrics.Handler()))
	}
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	s.startTime = time.Now()
	s.logger.Info("httpserver: listening", "addr", listener.Addr().String())

	go s.server.Serve(listener)
	return nil
}

// Stop gracefully shuts down the HTTP server. Cancelling the base context
// ends open streams.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) countRequests(c *gin.Context) {
	c.Next()
	path := c.FullPath()
	if path == "" {
		path = "unmatched"
	}
	s.cfg.Metrics.RequestTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"uptime":   time.Since(s.startTime).String(),
		"channels": len(s.bus.Channels()),
	})
}

type channelInfo struct {
	Channel     string `json:"channel"`
	Subscribers int    `json:"subscribers"`
}

func (s *Server) handleChannels(c *gin.Context) {
	names := s.bus.Channels()
	channels := make([]channelInfo, 0, len(names))
	for _, name := range names {
		channels = append(channels, channelInfo{Channel: name, Subscribers: s.bus.SubscriberCount(name)})
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

func (s *Server) handlePublish(c *gin.Context) {
	channel := c.Param("channel")
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxMessageBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if len(body) > maxMessageBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "message too large"})
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message must be JSON"})
		return
	}

	sender := c.GetHeader(SenderHeader)
	if sender == "" {
		sender = uuid.NewString()
	}
	s.pub.Publish(channel, sender, body)

	c.JSON(http.StatusAccepted, gin.H{"channel": channel, "sender": sender})
}
