// Package resourceclient is a Go client library for the admission
// broker, ported from original_source/dvid_resource_manager/client.py.
// It is out of scope for the broker itself (spec.md §1 Non-goals), but
// any Go service that calls the broker needs one, so it ships here as
// a real, usable package.
package resourceclient

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dvid-broker/resourcebroker/internal/wire"
)

// DefaultTimeout is the deadline applied to every REQ/REP round trip
// except the final wait for a queued grant's "hold" reply, which has
// no deadline (spec.md §6: a client that gave up before its grant
// arrived would leave the broker thinking it still holds the slot).
const DefaultTimeout = 4 * time.Second

// Client talks to one broker instance. It is safe for concurrent use:
// each Access call borrows a private connection from an internal pool
// for the duration of its own request/hold/release sequence, so
// concurrent callers never interleave bytes on the same socket the way
// two goroutines sharing one zmq REQ socket would.
type Client struct {
	reqAddr string
	pubAddr string
	debug   bool
	timeout time.Duration

	pool sync.Pool
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithDebug sets a debug flag on the Client and on the connections it
// dials. No code path reads the flag: outbound messages are sent
// without JSON Schema validation either way.
func WithDebug() Option { return func(c *Client) { c.debug = true } }

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New builds a Client for the broker listening on host:commPort (its
// REQ_EP); the broker's PUB_EP is always commPort+1, per spec.md §3.
func New(host string, commPort int, opts ...Option) *Client {
	c := &Client{
		reqAddr: net.JoinHostPort(host, strconv.Itoa(commPort)),
		pubAddr: net.JoinHostPort(host, strconv.Itoa(commPort+1)),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) getConn() (*conn, error) {
	if v := c.pool.Get(); v != nil {
		return v.(*conn), nil
	}
	return dial(c.reqAddr, c.pubAddr, c.debug, c.timeout)
}

func (c *Client) putConn(cn *conn) {
	if cn.netConn == nil {
		return
	}
	c.pool.Put(cn)
}

// Lease is a granted reservation. The caller must call Release exactly
// once, or prefer Do, which releases automatically.
type Lease struct {
	client *Client
	conn   *conn
	id     int64

	released bool
}

// ID is the broker-assigned reservation id, exposed for logging.
func (l *Lease) ID() int64 { return l.id }

// Release relinquishes the reservation. It is safe to call more than
// once; only the first call does anything.
func (l *Lease) Release(ctx context.Context) error {
	if l.released || l.client == nil {
		return nil
	}
	l.released = true
	defer l.client.putConn(l.conn)

	_, err := roundTrip[wire.EmptyReply](ctx, l.conn, "release", wire.InMessage{
		Type: wire.TypeRelease,
		ID:   l.id,
	}, l.client.timeout)
	return err
}

// Access requests admission for resource and blocks until it is
// granted, then returns a Lease the caller must Release. If the
// broker reports the request can never be satisfied under its current
// config, Access returns an *InfeasibleError instead of blocking
// forever.
func (c *Client) Access(ctx context.Context, resource string, isRead bool, numOpts, dataSize int) (*Lease, error) {
	cn, err := c.getConn()
	if err != nil {
		return nil, err
	}

	reply, err := roundTrip[wire.RequestReply](ctx, cn, "request", wire.InMessage{
		Type:     wire.TypeRequest,
		Resource: resource,
		Read:     isRead,
		NumOpts:  numOpts,
		DataSize: dataSize,
	}, c.timeout)
	if err != nil {
		c.putConn(cn)
		return nil, err
	}

	if reply.Invalid {
		c.putConn(cn)
		cfg, cfgErr := c.ReadConfig(ctx)
		return nil, &InfeasibleError{
			Resource: resource, Read: isRead, NumOpts: numOpts, DataSize: dataSize,
			Config: firstOr(cfg, wire.DefaultConfig, cfgErr),
		}
	}

	if reply.Available {
		// Admitted directly: the request/reply exchange alone moves this
		// id straight to HELD. No "hold" round trip is involved -- that
		// handshake only closes the loop for a grant delivered over the
		// lossy publish channel.
		return &Lease{client: c, conn: cn, id: reply.ID}, nil
	}

	if err := waitForGrant(ctx, c.pubAddr, reply.ID); err != nil {
		c.putConn(cn)
		return nil, err
	}

	// The reply to "hold" after a queued grant has no deadline: we
	// already know the broker granted it, so we wait as long as it
	// takes to get the acknowledgment through.
	if _, err := roundTrip[wire.EmptyReply](ctx, cn, "hold", wire.InMessage{
		Type: wire.TypeHold,
		ID:   reply.ID,
	}, 0); err != nil {
		c.putConn(cn)
		return nil, err
	}

	return &Lease{client: c, conn: cn, id: reply.ID}, nil
}

func firstOr(cfg wire.Config, fallback wire.Config, err error) wire.Config {
	if err != nil {
		return fallback
	}
	return cfg
}

// Do runs fn while holding a lease on resource, releasing it
// unconditionally afterwards -- the Go analogue of the original
// client's AccessContext context manager.
func (c *Client) Do(ctx context.Context, resource string, isRead bool, numOpts, dataSize int, fn func(ctx context.Context) error) error {
	lease, err := c.Access(ctx, resource, isRead, numOpts, dataSize)
	if err != nil {
		return err
	}
	defer lease.Release(ctx)
	return fn(ctx)
}

// ReadConfig fetches the broker's current config.
func (c *Client) ReadConfig(ctx context.Context) (wire.Config, error) {
	cn, err := c.getConn()
	if err != nil {
		return wire.Config{}, err
	}
	defer c.putConn(cn)

	reply, err := roundTrip[wire.ReadConfigReply](ctx, cn, "read-config", wire.InMessage{
		Type: wire.TypeReadConfig,
	}, c.timeout)
	if err != nil {
		return wire.Config{}, err
	}
	return reply.Config, nil
}

// ReconfigureServer pushes a new config to the broker and verifies the
// echoed config matches what was sent, raising
// *ConfigApplyMismatchError if it doesn't (the broker echoes back the
// config it applied).
func (c *Client) ReconfigureServer(ctx context.Context, cfg wire.Config) error {
	cn, err := c.getConn()
	if err != nil {
		return err
	}
	defer c.putConn(cn)

	echoed, err := roundTrip[wire.Config](ctx, cn, "config", wire.InMessage{
		Type:   wire.TypeConfig,
		Config: &cfg,
	}, c.timeout)
	if err != nil {
		return err
	}
	if !cmp.Equal(cfg, echoed) {
		return &ConfigApplyMismatchError{Sent: cfg, Echoed: echoed}
	}
	return nil
}

// Close releases resources held by idle pooled connections. It does
// not affect connections currently on loan to an in-flight Access.
func (c *Client) Close() error {
	var firstErr error
	for {
		v := c.pool.Get()
		if v == nil {
			return firstErr
		}
		if err := v.(*conn).close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
}
