package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"hotkeyd/internal/workerutil"
)

const (
	defaultReconnectInitial = 250 * time.Millisecond
	defaultReconnectMax     = 10 * time.Second
	clientQueueSize         = 128

	// maxQueueAge drops notifications that waited too long for a connection.
	maxQueueAge = 5 * time.Second
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// URL of an existing bus, e.g. ws://127.0.0.1:8181/core.
	URL string
	// Subscribe restricts incoming frames to these types. Empty: all.
	Subscribe []string
	// OnMessage receives every non-control frame read from the bus. Runs on
	// the client's read goroutine. May be nil.
	OnMessage func(Message)
	// ReconnectInitial and ReconnectMax bound the redial backoff.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	Dialer           *websocket.Dialer
	Header           http.Header
}

type queuedFrame struct {
	payload []byte
	at      time.Time
}

// Client joins an existing bus, redialing with backoff until stopped.
type Client struct {
	opts  ClientOptions
	queue chan queuedFrame

	connected atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewClient creates a client. It does not dial until Start.
func NewClient(opts ClientOptions) *Client {
	if opts.ReconnectInitial <= 0 {
		opts.ReconnectInitial = defaultReconnectInitial
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = defaultReconnectMax
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{
		opts:  opts,
		queue: make(chan queuedFrame, clientQueueSize),
	}
}

// Start begins the connect loop. It returns immediately; an unreachable bus
// is retried in the background.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("bus: client already started")
	}
	if c.opts.URL == "" {
		return errors.New("bus: client URL is empty")
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	workerutil.RunWithPanicRecovery(runCtx, "bus-client", &c.wg, c.run, workerutil.RecoveryOptions{})
	slog.Info("[DEBUG-BUS] client started", "url", c.opts.URL)
	return nil
}

// Stop closes the connection and waits for the client goroutines.
// Idempotent.
func (c *Client) Stop() error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	c.wg.Wait()
	slog.Info("[DEBUG-BUS] client stopped", "url", c.opts.URL)
	return nil
}

// Connected reports whether a bus connection is currently up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Publish queues the notification id. Never blocks; a full queue drops it.
func (c *Client) Publish(id string) {
	if err := c.Send(NewMessage(id, nil)); err != nil {
		slog.Warn("[DEBUG-BUS] notification dropped", "type", id, "error", err)
		return
	}
	if !c.Connected() {
		slog.Debug("[DEBUG-BUS] bus offline, notification queued", "type", id)
	}
}

// Send queues msg for delivery.
func (c *Client) Send(msg Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	select {
	case c.queue <- queuedFrame{payload: payload, at: time.Now()}:
		return nil
	default:
		return fmt.Errorf("bus: send queue full (%d frames)", clientQueueSize)
	}
}

func (c *Client) run(ctx context.Context) {
	delay := c.opts.ReconnectInitial
	for {
		conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("[DEBUG-BUS] bus unreachable, retrying", "url", c.opts.URL, "retryIn", delay, "error", err)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			delay = workerutil.NextBackoff(delay, c.opts.ReconnectMax)
			continue
		}

		delay = c.opts.ReconnectInitial
		slog.Info("[DEBUG-BUS] connected to bus", "url", c.opts.URL)
		c.connected.Store(true)
		err = c.serve(ctx, conn)
		c.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("[DEBUG-BUS] bus connection lost", "url", c.opts.URL, "error", err)
	}
}

// serve pumps one connection until it fails or ctx ends.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxReadMessageSize)
	readDone := make(chan error, 1)
	go func() {
		readDone <- c.readLoop(conn)
	}()
	defer func() {
		_ = conn.Close()
		<-readDone
	}()

	if len(c.opts.Subscribe) > 0 {
		payload, err := SubscribeMessage(c.opts.Subscribe...).Encode()
		if err != nil {
			return err
		}
		if err := writeFrame(conn, websocket.TextMessage, payload); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
			return ctx.Err()
		case err := <-readDone:
			readDone <- err
			return err
		case frame := <-c.queue:
			if age := time.Since(frame.at); age > maxQueueAge {
				slog.Debug("[DEBUG-BUS] dropping stale frame", "age", age)
				continue
			}
			if err := writeFrame(conn, websocket.TextMessage, frame.payload); err != nil {
				return err
			}
		case <-ticker.C:
			if err := writeFrame(conn, websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := Decode(raw)
		if err != nil {
			slog.Debug("[DEBUG-BUS] ignoring invalid frame", "error", err)
			continue
		}
		if msg.IsControl() {
			if msg.Type == ErrorType {
				slog.Warn("[DEBUG-BUS] bus reported error", "message", msg.Data["message"])
			}
			continue
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(msg)
		}
	}
}
