// Package broker implements the admission engine: the single-threaded
// event loop described in spec.md §4.3 and §5. All mutable state
// (config, per-resource stats, the granted set, the pending-grant set,
// and the FIFO wait queue) is held in Engine fields that only the Run
// goroutine touches; other goroutines reach it only through commands
// sent on a channel, so none of it needs a lock.
package broker

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/dvid-broker/resourcebroker/internal/accounting"
	"github.com/dvid-broker/resourcebroker/internal/wire"
)

// PubDelay is the re-publish interval for unacknowledged grants
// (spec.md glossary: PUBDELAY).
const PubDelay = 2 * time.Second

// Publisher delivers a one-way grant notification for id. The broker
// calls it from the single engine goroutine; implementations must not
// block it for long, since a blocked publish stalls admission.
type Publisher interface {
	Publish(id int64)
}

// Recorder observes admission-engine state transitions for metrics.
// A nil Recorder is valid.
type Recorder interface {
	Granted(resource string)
	Queued(resource string)
	Released(resource string)
	Invalid(resource string)
}

// Engine is the admission engine. Construct with New and run its loop
// with Run; every other method submits a command to that loop and
// blocks for the reply, so Engine is safe to call concurrently from
// many goroutines (typically one per accepted REQ_EP connection).
type Engine struct {
	clock     clockwork.Clock
	pub       Publisher
	rec       Recorder
	log       logrus.FieldLogger
	cmds      chan command
	nextID    int64
	cfg       wire.Config
	stats     map[string]*accounting.Stats
	granted   map[int64]accounting.Request
	pending   map[int64]struct{}
	waitQueue fifoQueue
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithClock overrides the clock used for PUBDELAY ticking. Tests use a
// clockwork.FakeClock to avoid sleeping for real.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.rec = r }
}

// WithLogger overrides the default logrus logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// New builds an Engine with the given initial config and publisher.
// Call Run in its own goroutine to start serving commands.
func New(cfg wire.Config, pub Publisher, opts ...Option) *Engine {
	e := &Engine{
		clock:   clockwork.NewRealClock(),
		pub:     pub,
		log:     logrus.StandardLogger(),
		cmds:    make(chan command),
		cfg:     cfg,
		stats:   make(map[string]*accounting.Stats),
		granted: make(map[int64]accounting.Request),
		pending: make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run is the server loop of spec.md §4.3. It returns when ctx is
// canceled; in-flight callers of Request/Hold/Release/Reconfigure/
// ReadConfig that are still waiting on the cmds channel at that point
// never receive a reply, matching the "fatal if a reply is never sent"
// transport contract only insofar as shutdown is the one case the
// engine does not try to paper over.
func (e *Engine) Run(ctx context.Context) {
	for {
		var timeoutCh <-chan time.Time
		var timer clockwork.Timer
		if len(e.pending) > 0 {
			timer = e.clock.NewTimer(PubDelay)
			timeoutCh = timer.Chan()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case cmd := <-e.cmds:
			if timer != nil {
				timer.Stop()
			}
			cmd.run(e)
		case <-timeoutCh:
			e.republishPending()
		}
	}
}

func (e *Engine) republishPending() {
	for id := range e.pending {
		e.pub.Publish(id)
	}
}

func (e *Engine) statsFor(resource string) *accounting.Stats {
	s, ok := e.stats[resource]
	if !ok {
		s = &accounting.Stats{}
		e.stats[resource] = s
	}
	return s
}

// drain repeatedly pops the head of the wait queue; if it is
// admissible it is granted and the loop continues, otherwise it is
// reinserted at the head and draining stops (spec.md §4.3 "Drain
// semantics" -- strict FIFO, never best-fit).
func (e *Engine) drain() {
	for {
		req, ok := e.waitQueue.popFront()
		if !ok {
			return
		}
		stats := e.statsFor(req.Resource)
		if !accounting.Admissible(req, *stats, e.cfg) {
			e.waitQueue.pushFront(req)
			return
		}
		accounting.Commit(req, stats)
		e.granted[req.ID] = req
		e.pending[req.ID] = struct{}{}
		if e.rec != nil {
			e.rec.Granted(req.Resource)
		}
		e.pub.Publish(req.ID)
	}
}

// --- public API: one method per wire message type, each a blocking
// round trip onto the engine goroutine. ---

// Request submits a new admission request and assigns its id.
func (e *Engine) Request(ctx context.Context, resource string, read bool, numOpts, dataSize int) (wire.RequestReply, error) {
	reply := make(chan wire.RequestReply, 1)
	cmd := requestCmd{resource: resource, read: read, numOpts: numOpts, dataSize: dataSize, reply: reply}
	return submit(ctx, e.cmds, cmd, reply)
}

// Hold acknowledges receipt of a grant notification for id.
func (e *Engine) Hold(ctx context.Context, id int64) (wire.EmptyReply, error) {
	reply := make(chan wire.EmptyReply, 1)
	cmd := holdCmd{id: id, reply: reply}
	return submit(ctx, e.cmds, cmd, reply)
}

// Release relinquishes a held reservation.
func (e *Engine) Release(ctx context.Context, id int64) (wire.EmptyReply, error) {
	reply := make(chan wire.EmptyReply, 1)
	cmd := releaseCmd{id: id, reply: reply}
	return submit(ctx, e.cmds, cmd, reply)
}

// Reconfigure replaces the active config and drains the wait queue
// under the new ceilings.
func (e *Engine) Reconfigure(ctx context.Context, cfg wire.Config) (wire.Config, error) {
	reply := make(chan wire.Config, 1)
	cmd := configCmd{cfg: cfg, reply: reply}
	return submit(ctx, e.cmds, cmd, reply)
}

// ReadConfig fetches the current config.
func (e *Engine) ReadConfig(ctx context.Context) (wire.ReadConfigReply, error) {
	reply := make(chan wire.ReadConfigReply, 1)
	cmd := readConfigCmd{reply: reply}
	return submit(ctx, e.cmds, cmd, reply)
}

// submit sends cmd to the engine loop and waits for either the reply
// or ctx cancellation.
func submit[T any](ctx context.Context, cmds chan<- command, cmd command, reply <-chan T) (T, error) {
	var zero T
	select {
	case cmds <- cmd:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
