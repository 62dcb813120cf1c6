package bridge

import (
	"sync/atomic"

	"github.com/roach88/ghostbridge/internal/ir"
)

// Minter issues mutation ids for one logical sub-channel.
//
// Ids start at 1 and strictly increase; they are never reused unless Reset
// is called explicitly. Minter is safe for concurrent use.
type Minter struct {
	seq atomic.Int64
}

// NewMinter creates a minter whose first id is 1.
func NewMinter() *Minter {
	return &Minter{}
}

// NewMinterAt creates a minter whose next id is start+1.
// Used by replay to continue after the last journaled id.
func NewMinterAt(start ir.MutationID) *Minter {
	m := &Minter{}
	m.seq.Store(int64(start))
	return m
}

// Next returns a fresh mutation id.
func (m *Minter) Next() ir.MutationID {
	return ir.MutationID(m.seq.Add(1))
}

// Current returns the last id issued, or ir.NoMutation.
func (m *Minter) Current() ir.MutationID {
	return ir.MutationID(m.seq.Load())
}

// Reset restarts the sequence so the next id is 1.
func (m *Minter) Reset() {
	m.seq.Store(0)
}
