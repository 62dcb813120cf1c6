// Package tree provides read-only views over the tools document broadcast by
// the engine, and the ordered child list encoding it uses.
//
// A node is an object {type, props, pathId, lastReportedEventId, children}.
// Children are a singly linked list stored in a hash map:
//
//	{"lastId": "c3", "count": 3,
//	 "c1": {"prevId": null, ...},
//	 "c2": {"prevId": "c1", ...},
//	 "c3": {"prevId": "c2", ...}}
//
// The newest child is reachable through lastId and each child points back to
// its predecessor. OrderedChildren reconstructs insertion order. Arena is the
// writer-side representation with stable integer handles and O(1) append.
package tree
