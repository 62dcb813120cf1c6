package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/ghostbridge/internal/bridge"
	"github.com/roach88/ghostbridge/internal/coalesce"
	"github.com/roach88/ghostbridge/internal/ir"
	"github.com/roach88/ghostbridge/internal/optimistic"
	"github.com/roach88/ghostbridge/internal/store"
	"github.com/roach88/ghostbridge/internal/testutil"
	"github.com/roach88/ghostbridge/internal/toolui"
	"github.com/roach88/ghostbridge/internal/wire"
)

// DefaultSession is the initial session id when a scenario names none.
const DefaultSession = "test-session"

// Harness holds the state of one scenario run.
type Harness struct {
	ch      *bridge.Channel
	journal *store.Store
	rt      *testutil.RecordingTransport
	tools   *toolui.Tools
	fields  map[string]*optimistic.Field
	logger  *slog.Logger

	result   *Result
	step     int
	lastSend int64
}

// Run executes a scenario and returns the result.
//
// Each scenario runs on a fresh channel and in-memory journal. Failed
// expectations are reported in the result; an error is returned only when
// the scenario cannot be set up.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with channel logs sent to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
	}
	defer st.Close()

	session := scenario.Session
	if session == "" {
		session = DefaultSession
	}

	opts := []bridge.Option{
		bridge.WithLogger(logger),
		bridge.WithJournal(st),
		bridge.WithSessionGenerator(newScenarioSessions(session)),
	}
	var reg *coalesce.Registry
	if scenario.Rules != "" {
		if reg, err = coalesce.LoadRulesFile(scenario.Rules); err != nil {
			return nil, fmt.Errorf("failed to load rules: %w", err)
		}
	}
	if needsTools(scenario) {
		reg = toolui.Coalescer(reg)
	}
	if reg != nil {
		opts = append(opts, bridge.WithCoalescer(reg))
	}

	rt := testutil.NewRecordingTransport()
	opts = append(opts, bridge.WithTransport(rt))

	h := &Harness{
		ch:      bridge.New(opts...),
		journal: st,
		rt:      rt,
		fields:  make(map[string]*optimistic.Field),
		logger:  logger,
		result:  NewResult(),
	}
	h.result.Session = h.ch.Session()

	if err := h.bind(scenario); err != nil {
		return nil, err
	}

	ctx := context.Background()
	for i, step := range scenario.Steps {
		h.step = i
		h.execute(ctx, step)
	}
	h.step = len(scenario.Steps)
	h.collectSends(ctx)

	return h.result, nil
}

func needsTools(scenario *Scenario) bool {
	for _, f := range scenario.Fields {
		if f.toolBound() {
			return true
		}
	}
	return scenario.Tools
}

func (h *Harness) bind(scenario *Scenario) error {
	if needsTools(scenario) {
		h.tools = toolui.New(h.ch, toolui.WithLogger(h.logger))
	}

	for _, fd := range scenario.Fields {
		f, err := h.bindField(fd)
		if err != nil {
			return fmt.Errorf("bind field %q: %w", fd.Name, err)
		}
		h.fields[fd.Name] = f
	}
	return nil
}

func (h *Harness) bindField(fd FieldSpec) (*optimistic.Field, error) {
	if fd.toolBound() {
		eventType := fd.EventType
		if eventType == "" {
			eventType = "onChange"
		}
		return h.tools.Field(fd.PathID, fd.Prop, eventType)
	}

	var initial ir.IRValue
	if fd.Initial != nil {
		v, err := ir.FromGo(fd.Initial)
		if err != nil {
			return nil, fmt.Errorf("initial: %w", err)
		}
		initial = v
	}
	minter := fd.Minter
	if minter == "" {
		minter = fd.Name
	}

	return optimistic.Bind(h.ch, optimistic.Config{
		Event:   fd.Event,
		Extract: optimistic.FromPayload(fd.Key),
		Outgoing: func(id ir.MutationID, v ir.IRValue) ir.OutgoingEvent {
			return ir.OutgoingEvent{
				Name:       fd.Outgoing,
				Params:     ir.IRObject{fd.Key: v, "eventId": id.Value()},
				MutationID: id,
			}
		},
		Minter:  h.ch.Minter(minter),
		Initial: initial,
		OnAdopt: func(v ir.IRValue, reported ir.MutationID) {
			h.result.addTrace(TraceEvent{Step: h.step, Type: TraceAdopt, Field: fd.Name, ID: int64(reported), Value: v})
		},
	})
}

func (h *Harness) execute(ctx context.Context, step Step) {
	switch {
	case step.Dispatch != nil:
		h.dispatch(step.Dispatch)
	case step.Frame != "":
		h.frame(step.Frame)
	case step.Commit != nil:
		h.commit(step.Commit)
	case step.Reset:
		h.result.addTrace(TraceEvent{Step: h.step, Type: TraceReset})
		h.ch.Reset()
	case step.ExpectField != nil:
		h.expectField(step.ExpectField)
	case step.ExpectCache != nil:
		h.expectCache(step.ExpectCache)
	case step.ExpectSent != nil:
		h.expectSent(ctx, step.ExpectSent)
	case step.ExpectJournal != nil:
		h.expectJournal(ctx, step.ExpectJournal)
	}
}

func (h *Harness) errorf(format string, args ...any) {
	h.result.AddError(fmt.Sprintf("step %d: ", h.step) + fmt.Sprintf(format, args...))
}

func (h *Harness) dispatch(d *DispatchStep) {
	params, err := ir.FromGo(d.Params)
	if err != nil {
		h.errorf("dispatch %s: params: %v", d.Name, err)
		return
	}
	if d.Params == nil {
		params = nil
	}
	// Traced before dispatching so adoptions follow their broadcast.
	idx := h.result.addTrace(TraceEvent{Step: h.step, Type: TraceDispatch, Name: d.Name, ID: d.EventID})
	if !h.ch.Dispatch(d.Name, ir.MutationID(d.EventID), params) {
		h.result.Trace[idx].Dropped = true
	}
}

func (h *Harness) frame(frame string) {
	name := ""
	if ev, err := wire.DecodeIncoming([]byte(frame)); err == nil {
		name = ev.Name
	}
	idx := h.result.addTrace(TraceEvent{Step: h.step, Type: TraceFrame, Name: name})
	if !h.ch.DispatchFrame([]byte(frame)) {
		h.result.Trace[idx].Dropped = true
	}
}

func (h *Harness) commit(c *CommitStep) {
	v, err := ir.FromGo(c.Value)
	if err != nil {
		h.errorf("commit %s: value: %v", c.Field, err)
		return
	}
	id := h.fields[c.Field].Commit(v)
	h.result.addTrace(TraceEvent{Step: h.step, Type: TraceCommit, Field: c.Field, ID: int64(id), Value: v})
	if c.ExpectID != 0 && int64(id) != c.ExpectID {
		h.errorf("commit %s: minted id %d, expected %d", c.Field, id, c.ExpectID)
	}
}

// collectSends flushes the channel and traces sends journaled since the
// previous call.
func (h *Harness) collectSends(ctx context.Context) []ir.OutgoingEvent {
	if err := h.ch.Flush(ctx); err != nil {
		h.errorf("flush: %v", err)
	}

	var out []ir.OutgoingEvent
	sessions, err := h.journal.ListSessions(ctx)
	if err != nil {
		h.errorf("read journal: %v", err)
		return nil
	}
	var fresh []sendEntry
	for _, s := range sessions {
		recs, err := h.journal.ReadSends(ctx, s.ID)
		if err != nil {
			h.errorf("read journal: %v", err)
			return nil
		}
		for _, r := range recs {
			if r.Seq > h.lastSend {
				fresh = append(fresh, sendEntry{seq: r.Seq, ev: r.Event})
			}
		}
	}
	sortEntries(fresh)
	for _, e := range fresh {
		h.lastSend = e.seq
		out = append(out, e.ev)
		h.result.addTrace(TraceEvent{Step: h.step, Type: TraceSend, Name: e.ev.Name, ID: int64(e.ev.MutationID), Value: e.ev.Params})
	}
	h.rt.Clear()
	return out
}

// scenarioSessions names the first session after the scenario and numbers
// the sessions drawn on reset.
type scenarioSessions struct {
	base string
	n    int
}

func newScenarioSessions(base string) *scenarioSessions {
	return &scenarioSessions{base: base}
}

func (g *scenarioSessions) Generate() string {
	g.n++
	if g.n == 1 {
		return g.base
	}
	return fmt.Sprintf("%s-%d", g.base, g.n)
}
