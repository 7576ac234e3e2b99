package socketrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

const callTimeout = 30 * time.Second

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithInstanceID sets the id sent in Signon. The default is a random UUID.
func WithInstanceID(id string) ClientOption {
	return func(c *Client) { c.instanceID = id }
}

// WithClientLogger sets the client logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// Client implements eventing.HostEventing against a relay Server.
//
// Responses are matched to calls by id so callers may share one Client.
// Deliveries run on a single goroutine in arrival order; a handler may call
// back into the Client.
type Client struct {
	conn       net.Conn
	logger     *slog.Logger
	instanceID string

	wmu     sync.Mutex
	encoder *json.Encoder

	mu       sync.Mutex
	nextID   int
	pending  map[int]chan Response
	handlers map[string]func(sender string, message any)
	closed   bool

	queue   deliveryQueue
	readErr error
	done    chan struct{}
	wg      sync.WaitGroup
}

// Dial connects to the relay at socketPath and signs on.
func Dial(socketPath string, opts ...ClientOption) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	c := &Client{
		conn:       conn,
		logger:     slog.Default(),
		instanceID: uuid.NewString(),
		encoder:    json.NewEncoder(conn),
		pending:    make(map[int]chan Response),
		handlers:   make(map[string]func(string, any)),
		done:       make(chan struct{}),
	}
	c.queue.init()
	for _, o := range opts {
		o(c)
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.deliverLoop()

	var res signonResult
	if err := c.call("Signon", map[string]any{"InstanceID": c.instanceID}, &res); err != nil {
		c.Close()
		return nil, err
	}
	c.instanceID = res.InstanceID
	return c, nil
}

// InstanceID returns the id the relay stamps on this client's messages.
func (c *Client) InstanceID() string { return c.instanceID }

// Publish sends message to every other subscriber of channel.
func (c *Client) Publish(channel string, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal message: %w", err)
	}
	return c.call("Publish", map[string]any{"Channel": channel, "Message": json.RawMessage(data)}, nil)
}

// Subscribe sets fn as the only callback for channel.
func (c *Client) Subscribe(channel string, fn func(sender string, message any)) error {
	c.mu.Lock()
	c.handlers[channel] = fn
	c.mu.Unlock()
	if err := c.call("Subscribe", map[string]any{"Channel": channel}, nil); err != nil {
		c.mu.Lock()
		delete(c.handlers, channel)
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Client) Unsubscribe(channel string) error {
	c.mu.Lock()
	delete(c.handlers, channel)
	c.mu.Unlock()
	return c.call("Unsubscribe", map[string]any{"Channel": channel}, nil)
}

// Channels lists the channels with at least one subscriber on the relay.
func (c *Client) Channels() ([]string, error) {
	var result []string
	err := c.call("Channels", map[string]any{}, &result)
	return result, err
}

// Close closes the connection and waits for the reader and delivery
// goroutines to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.conn.Close()
	c.queue.close()
	c.wg.Wait()
	return err
}

// call performs a JSON-RPC call and unmarshals the result into dest.
func (c *Client) call(method string, params any, dest any) error {
	paramsData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal params: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.nextID++
	id := c.nextID
	ch := make(chan Response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  paramsData,
	}

	c.wmu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(callTimeout))
	err = c.encoder.Encode(req)
	c.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}

	timer := time.NewTimer(callTimeout)
	defer timer.Stop()

	var resp Response
	select {
	case resp = <-ch:
	case <-c.done:
		if c.readErr != nil {
			return fmt.Errorf("socketrpc: read: %w", c.readErr)
		}
		return ErrClosed
	case <-timer.C:
		return fmt.Errorf("socketrpc: %s: timed out", method)
	}

	if resp.Error != nil {
		return resp.Error
	}

	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.done)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)

	for scanner.Scan() {
		var env envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			c.logger.Warn("socketrpc: unreadable message", "error", err)
			continue
		}

		if env.ID == nil {
			if env.Method != methodDeliver {
				continue
			}
			var d Delivery
			if err := json.Unmarshal(env.Params, &d); err != nil {
				c.logger.Warn("socketrpc: bad delivery", "error", err)
				continue
			}
			c.queue.push(d)
			continue
		}

		c.mu.Lock()
		ch := c.pending[*env.ID]
		c.mu.Unlock()
		if ch != nil {
			ch <- Response{JSONRPC: "2.0", ID: *env.ID, Result: env.Result, Error: env.Error}
		}
	}
	// readErr is published by close(c.done).
	c.readErr = scanner.Err()
	c.queue.close()
}

func (c *Client) deliverLoop() {
	defer c.wg.Done()
	for {
		d, ok := c.queue.pop()
		if !ok {
			return
		}
		c.mu.Lock()
		fn := c.handlers[d.Channel]
		c.mu.Unlock()
		if fn == nil {
			continue
		}
		var msg any
		if len(d.Message) > 0 {
			if err := json.Unmarshal(d.Message, &msg); err != nil {
				c.logger.Warn("socketrpc: bad message", "channel", d.Channel, "error", err)
				continue
			}
		}
		fn(d.Sender, msg)
	}
}

// deliveryQueue is an unbounded FIFO so the reader never blocks on a slow
// handler.
type deliveryQueue struct {
	mu     sync.Mutex
	items  []Delivery
	closed bool
	ready  chan struct{}
}

func (q *deliveryQueue) init() {
	q.ready = make(chan struct{}, 1)
}

func (q *deliveryQueue) push(d Delivery) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()
	q.signal()
}

func (q *deliveryQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *deliveryQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop blocks until an item is available. It reports false once the queue is
// closed and drained.
func (q *deliveryQueue) pop() (Delivery, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			d := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return d, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Delivery{}, false
		}
		<-q.ready
	}
}
