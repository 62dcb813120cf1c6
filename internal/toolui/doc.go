// Package toolui keeps the engine-authored tools tree in sync and sends
// tool events back to the engine.
//
// The engine broadcasts CASTLE_TOOLS_UPDATE whose params are a JSON string
// holding a diff against the previous root. Tools applies each diff and
// republishes the whole root on the channel under RootEvent, so consumers
// (and optimistic fields) that mount late read the current tree from the
// channel cache.
//
// Tool elements echo the id of the last event they applied in
// lastReportedEventId; Tools.Field binds an element property to an
// optimistic.Field using that id as the reported id.
package toolui
