// Package patch implements the tree patch format broadcast by the engine.
//
// A wire patch has the same nested shape as the tree it patches. Each leaf is
// either a literal replacement or the string sentinel "__NIL", which deletes
// the key from its parent. An object carrying a truthy "__exact" marker
// replaces its whole subtree verbatim. A null patch is a no-op.
//
// In memory a patch is a tagged variant (None, Set, Delete, Merge, Exact) so
// callers never inspect sentinels directly. Decode and Encode convert between
// the two forms; Apply merges a patch onto a base value and always returns a
// fresh value, leaving the base untouched.
package patch
