package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tinytelemetry/dashwire/internal/metrics"
	"github.com/tinytelemetry/dashwire/pkg/eventing"
	"github.com/tinytelemetry/dashwire/pkg/socketrpc"
)

const (
	// streamBuffer is the number of undelivered events a stream subscriber
	// may hold before new ones are dropped.
	streamBuffer   = 64
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// streamEvent is what SSE and websocket subscribers receive.
type streamEvent struct {
	Channel string          `json:"channel"`
	Sender  string          `json:"sender,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// wsFrame is a client-to-relay websocket message.
type wsFrame struct {
	Op      string          `json:"op"`
	Channel string          `json:"channel"`
	Message json.RawMessage `json:"message,omitempty"`
}

var upgrader = websocket.Upgrader{}

// attach subscribes owner to channel, forwarding deliveries to out until done
// is closed. A full out drops the event.
func (s *Server) attach(channel, owner, surface string, out chan<- streamEvent, done <-chan struct{}) *eventing.Subscription {
	return s.bus.Subscribe(channel, func(msg any) {
		d, ok := msg.(socketrpc.Delivery)
		if !ok {
			return
		}
		ev := streamEvent{Channel: d.Channel, Sender: d.Sender, Payload: d.Message}
		select {
		case <-done:
			return
		default:
		}
		select {
		case out <- ev:
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.Delivered.WithLabelValues(surface).Inc()
			}
		default:
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.Dropped.WithLabelValues(surface).Inc()
			}
			s.logger.Debug("httpserver: subscriber behind, dropping", "channel", channel, "owner", owner)
		}
	}, owner)
}

func ownerID(c *gin.Context) string {
	if id := c.Query("sender"); id != "" {
		return id
	}
	return uuid.NewString()
}

func (s *Server) handleStream(c *gin.Context) {
	channel := c.Param("channel")
	ctx := c.Request.Context()

	events := make(chan streamEvent, streamBuffer)
	sub := s.attach(channel, ownerID(c), metrics.SurfaceSSE, events, ctx.Done())
	defer s.bus.Remove(sub)

	if s.cfg.Metrics != nil {
		peers := s.cfg.Metrics.Peers.WithLabelValues(metrics.SurfaceSSE)
		peers.Inc()
		defer peers.Dec()
	}

	c.Header("Content-Type", sse.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	var seq int
	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-events:
			seq++
			err := sse.Encode(w, sse.Event{
				Id:    strconv.Itoa(seq),
				Event: "message",
				Data:  ev,
			})
			return err == nil
		case <-ctx.Done():
			return false
		}
	})
}

// wsConn is one websocket client. Only the handler goroutine touches subs;
// only the writer goroutine writes to wc.
type wsConn struct {
	id   string
	wc   *websocket.Conn
	send chan streamEvent
	done chan struct{}
	subs map[string]*eventing.Subscription
}

func (s *Server) handleWebsocket(c *gin.Context) {
	wc, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("httpserver: websocket upgrade failed", "error", err)
		return
	}

	conn := &wsConn{
		id:   ownerID(c),
		wc:   wc,
		send: make(chan streamEvent, streamBuffer),
		done: make(chan struct{}),
		subs: make(map[string]*eventing.Subscription),
	}
	if s.cfg.Metrics != nil {
		peers := s.cfg.Metrics.Peers.WithLabelValues(metrics.SurfaceWebsocket)
		peers.Inc()
		defer peers.Dec()
	}

	written := make(chan struct{})
	go func() {
		defer close(written)
		s.wsWrite(conn)
	}()
	// Shutdown does not close hijacked connections.
	go func() {
		select {
		case <-s.ctx.Done():
			wc.Close()
		case <-conn.done:
		}
	}()

	if err := s.wsRead(conn); err != nil {
		s.logger.Warn("httpserver: websocket read failed", "id", conn.id, "error", err)
	}
	for _, sub := range conn.subs {
		s.bus.Remove(sub)
	}
	close(conn.done)
	<-written
	wc.Close()
}

func (s *Server) wsRead(conn *wsConn) error {
	for {
		var f wsFrame
		if err := conn.wc.ReadJSON(&f); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}

		switch {
		case f.Channel == "":
			s.wsReply(conn, streamEvent{Error: "missing channel"})
		case f.Op == "subscribe":
			if old, ok := conn.subs[f.Channel]; ok {
				s.bus.Remove(old)
			}
			conn.subs[f.Channel] = s.attach(f.Channel, conn.id, metrics.SurfaceWebsocket, conn.send, conn.done)
		case f.Op == "unsubscribe":
			if sub, ok := conn.subs[f.Channel]; ok {
				s.bus.Remove(sub)
				delete(conn.subs, f.Channel)
			}
		case f.Op == "publish":
			s.pub.Publish(f.Channel, conn.id, f.Message)
		default:
			s.wsReply(conn, streamEvent{Channel: f.Channel, Error: "unknown op " + f.Op})
		}
	}
}

func (s *Server) wsReply(conn *wsConn, ev streamEvent) {
	select {
	case conn.send <- ev:
	default:
	}
}

func (s *Server) wsWrite(conn *wsConn) {
	t := time.NewTicker(wsPingInterval)
	defer t.Stop()
	for {
		select {
		case ev := <-conn.send:
			conn.wc.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.wc.WriteJSON(ev); err != nil {
				// The reader sees the broken connection and cleans up.
				conn.wc.Close()
				<-conn.done
				return
			}
		case <-t.C:
			conn.wc.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.wc.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.wc.Close()
				<-conn.done
				return
			}
		case <-conn.done:
			conn.wc.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			conn.wc.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
