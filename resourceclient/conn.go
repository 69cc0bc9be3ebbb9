package resourceclient

import (
	"context"
	"fmt"
	"net"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/dvid-broker/resourcebroker/internal/wire"
)

var jsonLib = jsoniter.ConfigCompatibleWithStandardLibrary

// conn is the Go analogue of _ResourceManagerClient: one persistent
// REQ_EP connection. It is NOT safe for concurrent use -- exactly like
// the zmq REQ socket it replaces, a conn must finish one round trip
// before starting the next. Client lends each Access call its own conn
// from a pool, so concurrent Access calls never share one.
type conn struct {
	reqAddr string
	pubAddr string
	debug   bool
	timeout time.Duration

	netConn net.Conn
	dec     decoderIface
	enc     encoderIface
}

type decoderIface interface{ Decode(v any) error }
type encoderIface interface{ Encode(v any) error }

func dial(reqAddr, pubAddr string, debug bool, timeout time.Duration) (*conn, error) {
	c := &conn{reqAddr: reqAddr, pubAddr: pubAddr, debug: debug, timeout: timeout}
	if err := c.open(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *conn) open() error {
	nc, err := net.Dial("tcp", c.reqAddr)
	if err != nil {
		return fmt.Errorf("resourceclient: connecting to %s: %w", c.reqAddr, err)
	}
	c.netConn = nc
	c.dec = jsonLib.NewDecoder(nc)
	c.enc = jsonLib.NewEncoder(nc)
	return nil
}

func (c *conn) close() error {
	if c.netConn == nil {
		return nil
	}
	err := c.netConn.Close()
	c.netConn = nil
	return err
}

// reopen implements the zmq "lazy pirate" pattern: after a timed-out
// REQ/REP exchange, the socket must be torn down and rebuilt before
// any further request, since strict REQ/REP framing forbids a second
// receive on a socket that never got its reply.
func (c *conn) reopen() error {
	_ = c.close()
	return c.open()
}

// roundTrip sends msg and decodes a reply of type T, applying deadline
// (zero means no deadline -- used only for the final hold after a
// queued grant, per spec.md §6). On timeout it rebuilds the connection
// before returning the error.
func roundTrip[T any](ctx context.Context, c *conn, op string, msg wire.InMessage, deadline time.Duration) (T, error) {
	var zero T

	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	if err := c.netConn.SetDeadline(deadlineFor(ctx)); err != nil {
		return zero, err
	}

	if err := c.enc.Encode(msg); err != nil {
		return zero, c.timeoutOrErr(op, err)
	}

	var reply T
	if err := c.dec.Decode(&reply); err != nil {
		return zero, c.timeoutOrErr(op, err)
	}
	return reply, nil
}

func deadlineFor(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return time.Time{}
}

func (c *conn) timeoutOrErr(op string, err error) error {
	var netErr net.Error
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		netErr = ne
	}
	if netErr != nil {
		if reopenErr := c.reopen(); reopenErr != nil {
			return fmt.Errorf("resourceclient: %s timed out, and failed to reconnect: %w", op, reopenErr)
		}
		return &TimeoutError{Op: op}
	}
	return fmt.Errorf("resourceclient: %s: %w", op, err)
}
