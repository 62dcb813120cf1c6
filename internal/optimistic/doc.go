// Package optimistic reconciles locally edited values against the values
// the engine broadcasts.
//
// A Field shows the user's edit immediately. Every commit mints a mutation
// id and sends it with the edit. The engine echoes the id of the last
// mutation it applied (the reported id) in later broadcasts.
//
// Reconciliation uses a correlated echo: a broadcast is adopted only when
// the field has nothing in flight, or when the broadcast reports exactly the
// id of the field's latest commit. Broadcasts reflecting older or unrelated
// mutations never overwrite a newer local edit.
package optimistic
