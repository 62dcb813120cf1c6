// Package ir provides the value model and wire event types shared by every
// ghostbridge package.
//
// This package contains type definitions and codecs only. All other internal
// packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Payloads are untyped JSON from the engine: IRValue covers null,
//     strings, integers, floats, booleans, arrays and objects
//   - Integer literals stay IRInt so mutation ids never lose precision
//   - Patch sentinels ("__NIL", "__exact") are ordinary strings/keys here and
//     are written back byte-for-byte
//   - Published values are immutable; transforms build new values
package ir
