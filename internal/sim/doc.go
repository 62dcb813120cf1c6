// Package sim is an in-process reference authority for the tools protocol.
//
// It owns an authoritative tools tree, applies CASTLE_TOOL_EVENT mutations
// to the addressed element, stamps lastReportedEventId with the event's id
// and broadcasts the change as a CASTLE_TOOLS_UPDATE diff carrying that id.
// It is what the bridge is tested against and what `ghostbridge sim`
// serves.
package sim
