package protocol

// EventKind enumerates the client events the server understands.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventSendDirect
	EventSendGroup
	EventJoinGroup
	EventLeaveGroup
	EventTyping
	EventStopTyping
	EventMarkDelivered
	EventMarkRead

	eventAmbiguous EventKind = -1
)

var eventNames = map[EventKind]string{
	EventSendDirect:    "sendDirectMessage",
	EventSendGroup:     "sendGroupMessage",
	EventJoinGroup:     "joinGroupRoom",
	EventLeaveGroup:    "leaveGroupRoom",
	EventTyping:        "typing",
	EventStopTyping:    "stopTyping",
	EventMarkDelivered: "markDelivered",
	EventMarkRead:      "markRead",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// AllEventKinds lists every dispatchable kind in declaration order.
func AllEventKinds() []EventKind {
	return []EventKind{
		EventSendDirect,
		EventSendGroup,
		EventJoinGroup,
		EventLeaveGroup,
		EventTyping,
		EventStopTyping,
		EventMarkDelivered,
		EventMarkRead,
	}
}
