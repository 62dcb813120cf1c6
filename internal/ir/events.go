package ir

// MutationID correlates an outgoing mutation with the broadcast that
// reflects its effect. Ids are minted by the sender, start at 1 and
// strictly increase within one minter.
type MutationID int64

// NoMutation is the reported id of a broadcast that carries no id
// (JSON null or absent eventId). It is never minted.
const NoMutation MutationID = 0

// Valid reports whether id refers to a minted mutation.
func (id MutationID) Valid() bool {
	return id > 0
}

// Value renders id as it appears inside payloads: an integer, or null
// when no mutation is referenced.
func (id MutationID) Value() IRValue {
	if !id.Valid() {
		return IRNull{}
	}
	return IRInt(id)
}

// MutationIDFrom reads a reported id from a payload value.
// Null, absent and non-integral values map to NoMutation.
func MutationIDFrom(v IRValue) MutationID {
	n, ok := AsInt64(v)
	if !ok || n <= 0 {
		return NoMutation
	}
	return MutationID(n)
}

// OutgoingEvent is a message from the client to the engine.
//
// Wire form: {"name": Name, "params": Params}. MutationID is local metadata
// (journaling, pending tracking); whoever builds the event embeds the id in
// Params where the engine expects it.
type OutgoingEvent struct {
	Name       string
	Params     IRValue
	MutationID MutationID
}

// IncomingEvent is a message from the engine to the client.
//
// Wire form: {"name": Name, "eventId": EventID|null, "params": Params}.
// EventID is the id the engine echoes back and is surfaced to consumers as
// the reported id.
type IncomingEvent struct {
	Name    string
	EventID MutationID
	Params  IRValue
}
