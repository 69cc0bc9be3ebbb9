package broker

import (
	"github.com/dvid-broker/resourcebroker/internal/accounting"
	"github.com/dvid-broker/resourcebroker/internal/wire"
)

// command is one dispatch-by-type branch of spec.md §4.3 step 2,
// reified as a value so it can travel over Engine.cmds and run on the
// single loop goroutine.
type command interface {
	run(e *Engine)
}

type requestCmd struct {
	resource string
	read     bool
	numOpts  int
	dataSize int
	reply    chan<- wire.RequestReply
}

func (c requestCmd) run(e *Engine) {
	id := e.nextID
	e.nextID++

	req := accounting.Request{ID: id, Resource: c.resource, Read: c.read, NumOpts: c.numOpts, DataSize: c.dataSize}

	if accounting.Infeasible(req, e.cfg) {
		if e.rec != nil {
			e.rec.Invalid(c.resource)
		}
		e.reply(c.reply, wire.RequestReply{ID: id, Invalid: true})
		return
	}

	stats := e.statsFor(c.resource)
	if accounting.Admissible(req, *stats, e.cfg) {
		accounting.Commit(req, stats)
		e.granted[id] = req
		if e.rec != nil {
			e.rec.Granted(c.resource)
		}
		e.reply(c.reply, wire.RequestReply{ID: id, Available: true})
		return
	}

	e.waitQueue.pushBack(req)
	if e.rec != nil {
		e.rec.Queued(c.resource)
	}
	e.reply(c.reply, wire.RequestReply{ID: id, Available: false})
}

type holdCmd struct {
	id    int64
	reply chan<- wire.EmptyReply
}

func (c holdCmd) run(e *Engine) {
	if _, ok := e.pending[c.id]; !ok {
		e.log.WithField("id", c.id).Warn("hold for id not in pending-grant set; protocol violation")
	}
	delete(e.pending, c.id)
	e.replyEmpty(c.reply, wire.EmptyReply{})
}

type releaseCmd struct {
	id    int64
	reply chan<- wire.EmptyReply
}

func (c releaseCmd) run(e *Engine) {
	req, ok := e.granted[c.id]
	if !ok {
		e.log.WithField("id", c.id).Warn("release for id not in granted set; protocol violation")
		e.replyEmpty(c.reply, wire.EmptyReply{})
		return
	}
	stats := e.statsFor(req.Resource)
	accounting.Release(req, stats)
	delete(e.granted, c.id)
	if e.rec != nil {
		e.rec.Released(req.Resource)
	}
	e.replyEmpty(c.reply, wire.EmptyReply{})
	e.drain()
}

type configCmd struct {
	cfg   wire.Config
	reply chan<- wire.Config
}

func (c configCmd) run(e *Engine) {
	e.cfg = c.cfg
	e.replyConfig(c.reply, e.cfg)
	// Looser ceilings should take effect immediately rather than
	// waiting for a natural release (spec.md §4.3 "config").
	e.drain()
}

type readConfigCmd struct {
	reply chan<- wire.ReadConfigReply
}

func (c readConfigCmd) run(e *Engine) {
	e.replyReadConfig(c.reply, wire.NewReadConfigReply(e.cfg))
}

// reply, replyConfig, and replyReadConfig exist only so the non-generic
// chan<- field types above don't need a reflection-based helper; they
// are trivial sends that never block because every reply channel is
// created with capacity 1.
func (e *Engine) reply(ch chan<- wire.RequestReply, r wire.RequestReply) { ch <- r }

func (e *Engine) replyEmpty(ch chan<- wire.EmptyReply, r wire.EmptyReply) { ch <- r }

func (e *Engine) replyConfig(ch chan<- wire.Config, r wire.Config) { ch <- r }

func (e *Engine) replyReadConfig(ch chan<- wire.ReadConfigReply, r wire.ReadConfigReply) { ch <- r }
