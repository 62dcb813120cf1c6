package bridge

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ghostbridge/internal/ir"
	"github.com/roach88/ghostbridge/internal/transport"
)

func newTestChannel(t *testing.T, opts ...Option) (*Channel, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	base := []Option{
		WithLogger(logger),
		WithSessionGenerator(NewFixedGenerator("s1", "s2", "s3")),
	}
	return New(append(base, opts...)...), &logs
}

type coalescerFunc func(string, ir.MutationID, ir.IRValue) (ir.IRValue, error)

func (f coalescerFunc) Apply(name string, reported ir.MutationID, raw ir.IRValue) (ir.IRValue, error) {
	return f(name, reported, raw)
}

func TestRegister_FanOutInOrder(t *testing.T) {
	ch, _ := newTestChannel(t)

	var calls []string
	ch.Register("E", func(Broadcast) { calls = append(calls, "first") })
	ch.Register("E", func(Broadcast) { calls = append(calls, "second") })
	ch.Register("OTHER", func(Broadcast) { calls = append(calls, "other") })

	assert.True(t, ch.Dispatch("E", ir.NoMutation, ir.IRInt(1)))
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestDispatch_CachesCoalescedPayload(t *testing.T) {
	double := coalescerFunc(func(_ string, _ ir.MutationID, raw ir.IRValue) (ir.IRValue, error) {
		n, _ := ir.AsInt64(raw)
		return ir.IRInt(n * 2), nil
	})
	ch, _ := newTestChannel(t, WithCoalescer(double))

	var got Broadcast
	ch.Register("E", func(b Broadcast) { got = b })
	ch.Dispatch("E", ir.MutationID(4), ir.IRInt(21))

	assert.Equal(t, Broadcast{Name: "E", ReportedID: 4, Payload: ir.IRInt(42)}, got)
	cached, ok := ch.GetCached("E")
	require.True(t, ok)
	assert.Equal(t, got, cached)
}

func TestDispatch_CoalescerErrorDrops(t *testing.T) {
	failing := coalescerFunc(func(string, ir.MutationID, ir.IRValue) (ir.IRValue, error) {
		return nil, errors.New("bad")
	})
	ch, logs := newTestChannel(t)
	ch.Dispatch("E", ir.NoMutation, ir.IRInt(1))
	ch.SetCoalescer(failing)

	called := false
	ch.Register("E", func(Broadcast) { called = true })

	assert.False(t, ch.Dispatch("E", ir.NoMutation, ir.IRInt(2)))
	assert.False(t, called)
	cached, _ := ch.GetCached("E")
	assert.Equal(t, ir.IRInt(1), cached.Payload, "cache unchanged")
	assert.Contains(t, logs.String(), "COALESCE_FAILED")
}

func TestDispatch_UnknownNameIsCachedSilently(t *testing.T) {
	ch, _ := newTestChannel(t)

	assert.True(t, ch.Dispatch("NOBODY_LISTENS", ir.NoMutation, ir.IRBool(true)))
	cached, ok := ch.GetCached("NOBODY_LISTENS")
	assert.True(t, ok)
	assert.Equal(t, ir.IRBool(true), cached.Payload)
}

func TestDispatch_HandlerPanicIsolated(t *testing.T) {
	ch, logs := newTestChannel(t)

	var after bool
	ch.Register("E", func(Broadcast) { panic("boom") })
	ch.Register("E", func(Broadcast) { after = true })

	assert.True(t, ch.Dispatch("E", ir.NoMutation, nil))
	assert.True(t, after, "later handlers still run")
	assert.Contains(t, logs.String(), "HANDLER_PANIC")
}

func TestSubscription_RemoveIdempotent(t *testing.T) {
	ch, _ := newTestChannel(t)

	count := 0
	sub := ch.Register("E", func(Broadcast) { count++ })
	ch.Dispatch("E", ir.NoMutation, nil)
	sub.Remove()
	sub.Remove()
	ch.Dispatch("E", ir.NoMutation, nil)

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, ch.HandlerCount("E"))
}

func TestSubscription_RemovedDuringFanOutIsSkipped(t *testing.T) {
	ch, _ := newTestChannel(t)

	var second *Subscription
	secondCalled := false
	ch.Register("E", func(Broadcast) { second.Remove() })
	second = ch.Register("E", func(Broadcast) { secondCalled = true })

	ch.Dispatch("E", ir.NoMutation, nil)
	assert.False(t, secondCalled)
}

func TestHandlerMayRegisterAndSend(t *testing.T) {
	ch, _ := newTestChannel(t)

	ch.Register("E", func(b Broadcast) {
		ch.Register("LATE", func(Broadcast) {})
		ch.Send(ir.OutgoingEvent{Name: "ACK"})
		_, _ = ch.GetCached("E")
	})

	ch.Dispatch("E", ir.NoMutation, nil)
	assert.Equal(t, 1, ch.HandlerCount("LATE"))
	assert.Equal(t, 1, ch.Pending())
}

func TestPublish_FromHandler(t *testing.T) {
	ch, _ := newTestChannel(t)

	var derived Broadcast
	ch.Register("RAW", func(b Broadcast) {
		ch.Publish(Broadcast{Name: "DERIVED", ReportedID: b.ReportedID, Payload: ir.IRString("shaped")})
	})
	ch.Register("DERIVED", func(b Broadcast) { derived = b })

	ch.Dispatch("RAW", ir.MutationID(9), nil)
	assert.Equal(t, ir.MutationID(9), derived.ReportedID)
	cached, ok := ch.GetCached("DERIVED")
	assert.True(t, ok)
	assert.Equal(t, ir.IRString("shaped"), cached.Payload)
}

func TestReset_ClearsCacheRegistrationsAndRotatesSession(t *testing.T) {
	ch, _ := newTestChannel(t)
	assert.Equal(t, "s1", ch.Session())

	called := false
	ch.Register("E", func(Broadcast) { called = true })
	ch.Dispatch("E", ir.NoMutation, nil)
	called = false

	hookRuns := 0
	ch.OnReset(func() { hookRuns++ })
	ch.Reset()

	_, ok := ch.GetCached("E")
	assert.False(t, ok)
	ch.Dispatch("E", ir.NoMutation, nil)
	assert.False(t, called)
	assert.Equal(t, "s2", ch.Session())
	assert.Equal(t, 1, hookRuns)

	ch.Reset()
	assert.Equal(t, 1, hookRuns, "hooks run once")
}

func TestReset_FromHandlerSkipsRemainingHandlers(t *testing.T) {
	ch, _ := newTestChannel(t)

	later := false
	ch.Register("E", func(Broadcast) { ch.Reset() })
	ch.Register("E", func(Broadcast) { later = true })

	ch.Dispatch("E", ir.NoMutation, nil)
	assert.False(t, later)
}

func TestSessionEndEventResets(t *testing.T) {
	ch, _ := newTestChannel(t)
	ch.Dispatch("E", ir.NoMutation, nil)

	assert.True(t, ch.Dispatch(DefaultSessionEndEvent, ir.NoMutation, nil))
	_, ok := ch.GetCached("E")
	assert.False(t, ok)
	_, ok = ch.GetCached(DefaultSessionEndEvent)
	assert.False(t, ok)
	assert.Equal(t, "s2", ch.Session())
}

func TestSessionEndEventDisabled(t *testing.T) {
	ch, _ := newTestChannel(t, WithSessionEndEvent(""))

	ch.Dispatch(DefaultSessionEndEvent, ir.NoMutation, nil)
	_, ok := ch.GetCached(DefaultSessionEndEvent)
	assert.True(t, ok)
	assert.Equal(t, "s1", ch.Session())
}

func TestMinterPerSubChannel(t *testing.T) {
	ch, _ := newTestChannel(t)

	tools := ch.Minter("tools")
	assert.Same(t, tools, ch.Minter("tools"))
	assert.NotSame(t, tools, ch.Minter("inspector"))

	assert.Equal(t, ir.MutationID(1), tools.Next())
	ch.Reset()
	assert.Equal(t, ir.MutationID(2), ch.Minter("tools").Next(), "minters survive reset")
}

func TestDispatchFrame(t *testing.T) {
	ch, logs := newTestChannel(t)

	var got Broadcast
	ch.Register("E", func(b Broadcast) { got = b })

	assert.True(t, ch.DispatchFrame([]byte(`{"name":"E","eventId":3,"params":{"v":1}}`)))
	assert.Equal(t, ir.MutationID(3), got.ReportedID)
	assert.True(t, ir.Equal(ir.IRObject{"v": ir.IRInt(1)}, got.Payload))

	assert.False(t, ch.DispatchFrame([]byte(`{"name":`)))
	assert.False(t, ch.DispatchFrame([]byte(`{"eventId":1}`)))
	assert.Contains(t, logs.String(), "MALFORMED_FRAME")
}

func TestSendFlushFIFO(t *testing.T) {
	local, remote := transport.Pipe()
	ch, _ := newTestChannel(t, WithTransport(local))

	ch.Send(ir.OutgoingEvent{Name: "A", Params: ir.IRObject{"n": ir.IRInt(1)}})
	ch.Send(ir.OutgoingEvent{Name: "B"})
	require.NoError(t, ch.Flush(context.Background()))
	assert.Equal(t, 0, ch.Pending())

	ctx := context.Background()
	first, err := remote.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"A","params":{"n":1}}`, string(first))
	second, err := remote.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"B"}`, string(second))
}

func TestFlush_NoTransport(t *testing.T) {
	ch, _ := newTestChannel(t)
	assert.NoError(t, ch.Flush(context.Background()))

	ch.Send(ir.OutgoingEvent{Name: "A"})
	err := ch.Flush(context.Background())
	assert.True(t, IsTransportFailed(err))
}

func TestClose_DropsSendsAndDispatches(t *testing.T) {
	ch, _ := newTestChannel(t)
	ch.Close()
	ch.Close()

	ch.Send(ir.OutgoingEvent{Name: "A"})
	assert.Equal(t, 0, ch.Pending())
	assert.False(t, ch.Dispatch("E", ir.NoMutation, nil))

	err := ch.Run(context.Background())
	assert.True(t, IsClosed(err))
}

type memJournal struct {
	mu         sync.Mutex
	broadcasts []string
	sends      []string
}

func (j *memJournal) RecordBroadcast(_ context.Context, session string, ev ir.IncomingEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.broadcasts = append(j.broadcasts, session+"/"+ev.Name)
	return nil
}

func (j *memJournal) RecordSend(_ context.Context, session string, ev ir.OutgoingEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sends = append(j.sends, session+"/"+ev.Name)
	return nil
}

func (j *memJournal) snapshot() ([]string, []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.broadcasts...), append([]string(nil), j.sends...)
}

func TestRun_DispatchesAndFlushes(t *testing.T) {
	local, remote := transport.Pipe()
	journal := &memJournal{}
	ch, _ := newTestChannel(t, WithTransport(local), WithJournal(journal))

	received := make(chan Broadcast, 1)
	ch.Register("PING", func(b Broadcast) {
		ch.Send(ir.OutgoingEvent{Name: "PONG", Params: b.Payload})
		received <- b
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()

	require.NoError(t, remote.Send(ctx, []byte(`{"name":"PING","eventId":null,"params":7}`)))

	select {
	case b := <-received:
		assert.Equal(t, ir.IRInt(7), b.Payload)
	case <-ctx.Done():
		t.Fatal("broadcast not dispatched")
	}

	reply, err := remote.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"PONG","params":7}`, string(reply))

	ch.Close()
	require.NoError(t, <-done)

	broadcasts, sends := journal.snapshot()
	assert.Equal(t, []string{"s1/PING"}, broadcasts)
	assert.Equal(t, []string{"s1/PONG"}, sends)
}

func TestRun_TransportCloseResets(t *testing.T) {
	local, remote := transport.Pipe()
	ch, _ := newTestChannel(t, WithTransport(local))
	ch.Dispatch("E", ir.NoMutation, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()

	require.NoError(t, remote.Close())

	err := <-done
	assert.True(t, IsTransportFailed(err))
	assert.ErrorIs(t, err, transport.ErrClosed)
	_, ok := ch.GetCached("E")
	assert.False(t, ok)
	assert.Equal(t, "s2", ch.Session())
}

func TestRun_ContextCancel(t *testing.T) {
	ch, _ := newTestChannel(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestConcurrentRegisterAndDispatch(t *testing.T) {
	ch, _ := newTestChannel(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sub := ch.Register("E", func(Broadcast) {})
				sub.Remove()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ch.Dispatch("E", ir.MutationID(j), ir.IRInt(j))
				ch.GetCached("E")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, ch.HandlerCount("E"))
}
