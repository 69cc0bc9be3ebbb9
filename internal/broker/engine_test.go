package broker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dvid-broker/resourcebroker/internal/broker"
	"github.com/dvid-broker/resourcebroker/internal/wire"
)

// recordingPublisher captures every published id in order, the way a
// test double for a lossy pub/sub fan-out should: it never blocks the
// engine goroutine.
type recordingPublisher struct {
	mu  sync.Mutex
	ids []int64
}

func (p *recordingPublisher) Publish(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
}

func (p *recordingPublisher) count(id int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, x := range p.ids {
		if x == id {
			n++
		}
	}
	return n
}

func startEngine(t *testing.T, cfg wire.Config, pub broker.Publisher, opts ...broker.Option) (*broker.Engine, context.CancelFunc) {
	t.Helper()
	e := broker.New(cfg, pub, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	return e, cancel
}

// S1 — Basic admit: request is granted immediately, release zeroes
// the resource's stats back out.
func TestBasicAdmitAndRelease(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := wire.Config{ReadReqs: 96, ReadData: 200_000_000, WriteReqs: 2, WriteData: 150_000_000}
	pub := &recordingPublisher{}
	e, cancel := startEngine(t, cfg, pub)
	defer cancel()

	ctx := context.Background()
	reply, err := e.Request(ctx, "R", false, 1, 1000)
	require.NoError(t, err)
	assert.Equal(t, wire.RequestReply{ID: 0, Available: true}, reply)

	empty, err := e.Release(ctx, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, wire.EmptyReply{}, empty)
}

// S2 — Exclusive serialization: a second writer queues behind the
// first and is granted (via publish) only once the first releases.
func TestExclusiveSerializationQueuesAndDrains(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := wire.Config{WriteReqs: 1, WriteData: 1_000_000_000, ReadReqs: 100, ReadData: 1_000_000_000}
	pub := &recordingPublisher{}
	e, cancel := startEngine(t, cfg, pub)
	defer cancel()

	ctx := context.Background()
	a, err := e.Request(ctx, "R", false, 1, 10)
	require.NoError(t, err)
	assert.True(t, a.Available)

	b, err := e.Request(ctx, "R", false, 1, 10)
	require.NoError(t, err)
	assert.False(t, b.Available)
	assert.Equal(t, 0, pub.count(b.ID))

	_, err = e.Release(ctx, a.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return pub.count(b.ID) >= 1 }, time.Second, time.Millisecond)

	_, err = e.Hold(ctx, b.ID)
	require.NoError(t, err)
	_, err = e.Release(ctx, b.ID)
	require.NoError(t, err)
}

// S3 — Parallel read+write: independent directions never block each
// other even with both ceilings at 1.
func TestParallelReadAndWriteDoNotBlockEachOther(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := wire.Config{ReadReqs: 1, ReadData: 1_000, WriteReqs: 1, WriteData: 1_000}
	pub := &recordingPublisher{}
	e, cancel := startEngine(t, cfg, pub)
	defer cancel()

	ctx := context.Background()
	readReply, err := e.Request(ctx, "R", true, 1, 1)
	require.NoError(t, err)
	writeReply, err := e.Request(ctx, "R", false, 1, 1)
	require.NoError(t, err)

	assert.True(t, readReply.Available)
	assert.True(t, writeReply.Available)
}

// S4 — Infeasible request: never enters the wait queue, reply carries
// invalid:true.
func TestInfeasibleRequestIsRejectedNotQueued(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := wire.Config{ReadData: 100}
	pub := &recordingPublisher{}
	e, cancel := startEngine(t, cfg, pub)
	defer cancel()

	reply, err := e.Request(context.Background(), "R", true, 1, 1000)
	require.NoError(t, err)
	assert.True(t, reply.Invalid)
	assert.False(t, reply.Available)
}

// S5 — Live reconfigure: echo equals what was sent, read-config
// afterwards returns the same values.
func TestReconfigureRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)
	pub := &recordingPublisher{}
	e, cancel := startEngine(t, wire.DefaultConfig, pub)
	defer cancel()

	ctx := context.Background()
	want := wire.Config{ReadReqs: 123, ReadData: 10, WriteReqs: 456, WriteData: 20}
	echoed, err := e.Reconfigure(ctx, want)
	require.NoError(t, err)
	assert.Equal(t, want, echoed)

	got, err := e.ReadConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got.Config)
	assert.Equal(t, wire.TypeReadConfig, got.Type)
}

// Reconfiguring to looser ceilings drains the wait queue immediately,
// without waiting for a natural release (spec.md §4.3 "config").
func TestReconfigureDrainsQueueImmediately(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := wire.Config{WriteReqs: 1, WriteData: 1000, ReadReqs: 100, ReadData: 1000}
	pub := &recordingPublisher{}
	e, cancel := startEngine(t, cfg, pub)
	defer cancel()

	ctx := context.Background()
	a, err := e.Request(ctx, "R", false, 1, 10)
	require.NoError(t, err)
	assert.True(t, a.Available)

	b, err := e.Request(ctx, "R", false, 1, 10)
	require.NoError(t, err)
	assert.False(t, b.Available)

	_, err = e.Reconfigure(ctx, wire.Config{WriteReqs: 2, WriteData: 1000, ReadReqs: 100, ReadData: 1000})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return pub.count(b.ID) >= 1 }, time.Second, time.Millisecond)
}

// S6 — Lost publish recovery: with the fake clock advanced past
// PUBDELAY, an unacknowledged grant is republished.
func TestUnacknowledgedGrantIsRepublishedAfterPubDelay(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := wire.Config{WriteReqs: 1, WriteData: 1000, ReadReqs: 1, ReadData: 1000}
	pub := &recordingPublisher{}
	clock := clockwork.NewFakeClock()
	e := broker.New(cfg, pub, broker.WithClock(clock))
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	defer cancel()

	a, err := e.Request(ctx, "R", false, 1, 10)
	require.NoError(t, err)
	require.True(t, a.Available)

	b, err := e.Request(ctx, "R", false, 1, 10)
	require.NoError(t, err)
	require.False(t, b.Available)

	_, err = e.Release(ctx, a.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return pub.count(b.ID) >= 1 }, time.Second, time.Millisecond)
	first := pub.count(b.ID)

	clock.BlockUntil(1)
	clock.Advance(broker.PubDelay + time.Millisecond)

	require.Eventually(t, func() bool { return pub.count(b.ID) > first }, time.Second, time.Millisecond)

	_, err = e.Hold(ctx, b.ID)
	require.NoError(t, err)
}
