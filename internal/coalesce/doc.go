// Package coalesce reshapes raw broadcast payloads before they are cached.
//
// A coalescer is a pure function of (name, reported id, raw payload). The
// Registry maps exact event names, or the segment of a name before a
// delimiter, to coalescers. Rules can be declared in CUE and compiled with
// LoadRules.
package coalesce
