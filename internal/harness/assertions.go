package harness

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/ghostbridge/internal/ir"
)

type sendEntry struct {
	seq int64
	ev  ir.OutgoingEvent
}

func sortEntries(entries []sendEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
}

func (h *Harness) expectField(e *ExpectFieldStep) {
	f := h.fields[e.Field]
	if e.Value != nil {
		want, err := ir.FromGo(e.Value.V)
		if err != nil {
			h.errorf("expect_field %s: value: %v", e.Field, err)
			return
		}
		if got := f.Value(); !ir.Equal(want, got) {
			h.errorf("expect_field %s: value = %s, expected %s", e.Field, show(got), show(want))
		}
	}
	if e.TrackedID != nil && int64(f.TrackedID()) != *e.TrackedID {
		h.errorf("expect_field %s: tracked id = %d, expected %d", e.Field, f.TrackedID(), *e.TrackedID)
	}
	if e.Pending != nil && len(f.Pending()) != *e.Pending {
		h.errorf("expect_field %s: pending = %d, expected %d", e.Field, len(f.Pending()), *e.Pending)
	}
}

func (h *Harness) expectCache(e *ExpectCacheStep) {
	b, ok := h.ch.GetCached(e.Name)
	if e.Absent {
		if ok {
			h.errorf("expect_cache %s: expected no cached broadcast", e.Name)
		}
		return
	}
	if !ok {
		h.errorf("expect_cache %s: nothing cached", e.Name)
		return
	}
	if e.ReportedID != nil && int64(b.ReportedID) != *e.ReportedID {
		h.errorf("expect_cache %s: reported id = %d, expected %d", e.Name, b.ReportedID, *e.ReportedID)
	}
	if e.Payload != nil {
		want, err := ir.FromGo(e.Payload.V)
		if err != nil {
			h.errorf("expect_cache %s: payload: %v", e.Name, err)
			return
		}
		if !matchSubset(want, b.Payload) {
			h.errorf("expect_cache %s: payload = %s, expected to contain %s", e.Name, show(b.Payload), show(want))
		}
	}
}

func (h *Harness) expectSent(ctx context.Context, e *ExpectSentStep) {
	sent := h.collectSends(ctx)

	if e.Count != nil && len(sent) != *e.Count {
		h.errorf("expect_sent: %d events sent, expected %d", len(sent), *e.Count)
	}
	for i, want := range e.Events {
		if i >= len(sent) {
			h.errorf("expect_sent: missing event %d (%s)", i, want.Name)
			continue
		}
		got := sent[i]
		if got.Name != want.Name {
			h.errorf("expect_sent: event %d is %s, expected %s", i, got.Name, want.Name)
			continue
		}
		if want.MutationID != nil && int64(got.MutationID) != *want.MutationID {
			h.errorf("expect_sent: event %d mutation id = %d, expected %d", i, got.MutationID, *want.MutationID)
		}
		if want.Params != nil {
			params, err := ir.FromGo(want.Params.V)
			if err != nil {
				h.errorf("expect_sent: event %d params: %v", i, err)
				continue
			}
			if !matchSubset(params, got.Params) {
				h.errorf("expect_sent: event %d params = %s, expected to contain %s", i, show(got.Params), show(params))
			}
		}
	}
}

func (h *Harness) expectJournal(ctx context.Context, e *ExpectJournalStep) {
	session := h.ch.Session()
	if e.Broadcasts != nil {
		recs, err := h.journal.ReadBroadcasts(ctx, session)
		if err != nil {
			h.errorf("expect_journal: %v", err)
			return
		}
		if len(recs) != *e.Broadcasts {
			h.errorf("expect_journal: %d broadcasts in session %s, expected %d", len(recs), session, *e.Broadcasts)
		}
	}
	if e.Sends != nil {
		recs, err := h.journal.ReadSends(ctx, session)
		if err != nil {
			h.errorf("expect_journal: %v", err)
			return
		}
		if len(recs) != *e.Sends {
			h.errorf("expect_journal: %d sends in session %s, expected %d", len(recs), session, *e.Sends)
		}
	}
}

// matchSubset reports whether actual contains expected: objects match when
// every expected key matches, arrays element-wise with equal length, and
// scalars by ir.Equal.
func matchSubset(expected, actual ir.IRValue) bool {
	switch exp := expected.(type) {
	case ir.IRObject:
		act, ok := actual.(ir.IRObject)
		if !ok {
			return false
		}
		for k, v := range exp {
			av, ok := act[k]
			if !ok || !matchSubset(v, av) {
				return false
			}
		}
		return true
	case ir.IRArray:
		act, ok := actual.(ir.IRArray)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !matchSubset(exp[i], act[i]) {
				return false
			}
		}
		return true
	default:
		return ir.Equal(expected, actual)
	}
}

func show(v ir.IRValue) string {
	if v == nil {
		return "<absent>"
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
