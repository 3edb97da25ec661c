// Package broker maintains a shared pool of AMQP connections keyed by
// broker URL. Callers acquire a *Conn; the underlying network connection
// and channel are established once per URL and reference-counted across
// acquirers. On an unexpected disconnect the manager reconnects
// automatically and re-declares the contract topology bound to that
// connection.
package broker

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"sync"
	"time"

	driver "github.com/rabbitmq/amqp091-go"
	"go.bryk.io/contractq/contract"
	"go.bryk.io/contractq/errors"
	xlog "go.bryk.io/contractq/log"
	"go.bryk.io/contractq/topology"
)

// Reconnect tuning, mirroring the single-connection session's defaults.
const (
	reconnectDelay = 3 * time.Second
	ackDelay       = 10 * time.Millisecond
)

// Option adjusts a Manager or a single Conn at acquisition time.
type Option func(*connOptions)

type connOptions struct {
	tlsConf       *tls.Config
	prefetchCount int
	prefetchSize  int
	logger        xlog.Logger
	contract      *contract.Contract
}

// WithTLS sets the TLS configuration used to dial AMQPS endpoints.
func WithTLS(conf *tls.Config) Option {
	return func(o *connOptions) { o.tlsConf = conf }
}

// WithPrefetch sets the channel QoS prefetch count and size.
func WithPrefetch(count, size int) Option {
	return func(o *connOptions) { o.prefetchCount = count; o.prefetchSize = size }
}

// WithLogger attaches a logger to the connection's background event loop.
func WithLogger(l xlog.Logger) Option {
	return func(o *connOptions) { o.logger = l }
}

// WithTopology binds a contract to the connection: on (re)connect the
// manager synthesizes this contract's exchanges, queues and bindings before
// marking the connection ready.
func WithTopology(c *contract.Contract) Option {
	return func(o *connOptions) { o.contract = c }
}

// Manager is a URL-keyed, reference-counted pool of broker connections.
type Manager struct {
	mu    sync.Mutex
	conns map[string]*Conn
}

// NewManager returns an empty connection manager.
func NewManager() *Manager {
	return &Manager{conns: map[string]*Conn{}}
}

// fingerprint identifies a broker endpoint independent of option ordering;
// two Acquire calls for the same addr share the same *Conn.
func fingerprint(addr string) string {
	sum := sha256.Sum256([]byte(addr))
	return hex.EncodeToString(sum[:8])
}

// Acquire returns the shared *Conn for addr, creating and dialing it on
// first use. Release must be called exactly once per Acquire.
func (m *Manager) Acquire(addr string, opts ...Option) (*Conn, error) {
	key := fingerprint(addr)

	m.mu.Lock()
	c, ok := m.conns[key]
	if ok {
		c.mu.Lock()
		c.refCount++
		c.mu.Unlock()
		m.mu.Unlock()
		return c, nil
	}

	o := connOptions{prefetchCount: 1, logger: xlog.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	c = &Conn{
		addr:      addr,
		opts:      o,
		refCount:  1,
		reconnect: make(chan bool, 5),
		status:    make(chan bool, 1),
	}
	ctx, halt := context.WithCancel(context.Background())
	c.ctx, c.halt = ctx, halt
	m.conns[key] = c
	m.mu.Unlock()

	go c.eventLoop()
	c.reconnect <- true
	return c, nil
}

// Release decrements the reference count on the *Conn for addr, closing the
// underlying connection once it reaches zero.
func (m *Manager) Release(addr string) error {
	key := fingerprint(addr)
	m.mu.Lock()
	c, ok := m.conns[key]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	c.mu.Lock()
	c.refCount--
	remaining := c.refCount
	c.mu.Unlock()
	if remaining > 0 {
		m.mu.Unlock()
		return nil
	}
	delete(m.conns, key)
	m.mu.Unlock()
	return c.close()
}

// Conn is a shared, reconnecting AMQP connection plus one channel.
type Conn struct {
	addr     string
	opts     connOptions
	refCount int

	conn            *driver.Connection
	channel         *driver.Channel
	notifyConnClose chan *driver.Error
	notifyChanClose chan *driver.Error

	reconnect chan bool
	status    chan bool
	ready     bool

	ctx  context.Context
	halt context.CancelFunc
	mu   sync.RWMutex
	wg   sync.WaitGroup
}

// Channel returns the connection's current AMQP channel. Callers must not
// retain it across a reconnect; re-fetch via Channel() after a disruption.
func (c *Conn) Channel() *driver.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// IsReady reports whether the connection is currently usable.
func (c *Conn) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// WaitReady blocks until the connection becomes ready or ctx is done.
func (c *Conn) WaitReady(ctx context.Context) error {
	if c.IsReady() {
		return nil
	}
	for {
		select {
		case v, ok := <-c.status:
			if !ok {
				return errors.New("connection closed")
			}
			if v {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Conn) updateStatus(v bool) {
	c.mu.Lock()
	c.ready = v
	c.mu.Unlock()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case c.status <- v:
		case <-c.ctx.Done():
		case <-time.After(ackDelay):
		}
	}()
}

func (c *Conn) init() error {
	if c.conn == nil || c.conn.IsClosed() {
		conn, err := driver.DialTLS(c.addr, c.opts.tlsConf)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.conn = conn
		c.notifyConnClose = make(chan *driver.Error)
		c.conn.NotifyClose(c.notifyConnClose)
		c.mu.Unlock()
		c.opts.logger.Info("connected")
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	if err := ch.Qos(c.opts.prefetchCount, c.opts.prefetchSize, false); err != nil {
		return err
	}
	if err := ch.Confirm(false); err != nil {
		return err
	}

	if c.opts.contract != nil {
		if err := topology.Synthesize(c.ctx, ch, c.opts.contract); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.channel = ch
	c.notifyChanClose = make(chan *driver.Error)
	c.channel.NotifyClose(c.notifyChanClose)
	c.mu.Unlock()

	c.updateStatus(true)
	c.opts.logger.Info("ready")
	return nil
}

func (c *Conn) close() error {
	if !c.IsReady() {
		return nil
	}
	c.halt()
	<-c.ctx.Done()
	if c.channel != nil {
		_ = c.channel.Close()
	}
	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	c.updateStatus(false)
	c.wg.Wait()
	close(c.status)
	return err
}

func (c *Conn) eventLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case _, ok := <-c.notifyConnClose:
			if ok && c.IsReady() {
				c.opts.logger.Warning("connection closed")
				c.reconnect <- true
			}
		case _, ok := <-c.notifyChanClose:
			if ok && c.IsReady() {
				c.opts.logger.Warning("channel closed")
				c.reconnect <- true
			}
		case <-c.reconnect:
			c.updateStatus(false)
			if err := c.init(); err != nil {
				c.opts.logger.Warning("failed to connect")
				select {
				case <-time.After(reconnectDelay):
					c.reconnect <- true
				case <-c.ctx.Done():
				}
			}
		}
	}
}
