package sim

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ghostbridge/internal/bridge"
	"github.com/roach88/ghostbridge/internal/ir"
	"github.com/roach88/ghostbridge/internal/toolui"
	"github.com/roach88/ghostbridge/internal/transport"
	"github.com/roach88/ghostbridge/internal/tree"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

type session struct {
	ch    *bridge.Channel
	tools *toolui.Tools
	done  chan error
}

func startSession(t *testing.T, ctx context.Context, tr transport.Transport) *session {
	t.Helper()
	ch := bridge.New(bridge.WithTransport(tr))
	s := &session{ch: ch, tools: toolui.New(ch), done: make(chan error, 1)}
	go func() { s.done <- ch.Run(ctx) }()
	return s
}

func TestEndToEnd_CheckboxOverPipe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := New(WithRoot(seed(t)))
	client, server := transport.Pipe()
	go a.Serve(ctx, server)

	s := startSession(t, ctx, client)
	require.Eventually(t, func() bool {
		_, ok := s.tools.FindByPathID("p2/cb")
		return ok
	}, waitFor, tick, "initial tree")

	field, err := s.tools.Field("p2/cb", "checked", "onChange")
	require.NoError(t, err)
	assert.Equal(t, ir.IRBool(true), field.Value())

	id := field.Commit(ir.IRBool(false))
	assert.Equal(t, ir.IRBool(false), field.Value())

	require.Eventually(t, func() bool {
		return field.TrackedID() == id && len(field.Pending()) == 0
	}, waitFor, tick, "echo of the commit")
	assert.Equal(t, ir.IRBool(false), field.Value())

	cb, ok := tree.FindByPathID(a.Root(), "p2/cb")
	require.True(t, ok)
	assert.Equal(t, id, cb.LastReportedEventID())

	// An engine-side change to the same element is adopted.
	require.NoError(t, a.SetProp("p2/cb", "checked", ir.IRBool(true)))
	require.Eventually(t, func() bool {
		return ir.Equal(ir.IRBool(true), field.Value())
	}, waitFor, tick)

	s.ch.Close()
	assert.NoError(t, <-s.done)
}

func TestEndToEnd_SessionEndClearsTools(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := New(WithRoot(seed(t)))
	client, server := transport.Pipe()
	go a.Serve(ctx, server)

	s := startSession(t, ctx, client)
	require.Eventually(t, s.tools.Visible, waitFor, tick)

	require.NoError(t, a.EndSession())
	require.Eventually(t, func() bool {
		return len(s.tools.Root()) == 0
	}, waitFor, tick)

	// The mirror re-attached; a resync repopulates it.
	s.tools.RequestSync()
	require.Eventually(t, s.tools.Visible, waitFor, tick)
}

func TestEndToEnd_WebSocket(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := New(WithRoot(seed(t)))
	srv := httptest.NewServer(a.Handler(transport.Options{}))
	defer srv.Close()

	ws, err := transport.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), transport.Options{})
	require.NoError(t, err)
	defer ws.Close()

	s := startSession(t, ctx, ws)
	require.Eventually(t, s.tools.Visible, waitFor, tick)

	id := s.tools.SendEvent("p2/cb", ir.IRObject{"type": ir.IRString("onChange"), "checked": ir.IRBool(false)})
	require.Eventually(t, func() bool {
		n, ok := s.tools.FindByPathID("p2/cb")
		return ok && n.LastReportedEventID() == id
	}, waitFor, tick)

	applied := a.Applied()
	require.Len(t, applied, 1)
	assert.Equal(t, "p2/cb", applied[0].PathID)
}
