package core

// ProtocolVersion is bumped whenever Message changes incompatibly
const ProtocolVersion = 1

// Message types exchanged between a session and the relay
const (
	MsgAppend           = "append"
	MsgRecords          = "records"
	MsgPresence         = "presence"
	MsgPresenceSnapshot = "presence_snapshot"
	MsgPresenceLeave    = "presence_leave"
	MsgError            = "error"
)

// PresenceUpdate is one peer's cursor as carried on the wire
type PresenceUpdate struct {
	Peer     string      `json:"peer"`
	Cursor   CursorEntry `json:"cursor"`
	LastSeen int64       `json:"lastSeen,omitempty"` // unix millis, stamped by the relay
}

// Message is the envelope for every websocket frame.
// Records carries a contiguous run of log records starting at From.
type Message struct {
	Ver      int                       `json:"ver"`
	Type     string                    `json:"type"`
	World    string                    `json:"world,omitempty"`
	Peer     string                    `json:"peer,omitempty"`
	From     uint64                    `json:"from,omitempty"`
	Total    uint64                    `json:"total,omitempty"`
	Record   *LogRecord                `json:"record,omitempty"`
	Records  []LogRecord               `json:"records,omitempty"`
	Presence *PresenceUpdate           `json:"presence,omitempty"`
	Cursors  map[string]PresenceUpdate `json:"cursors,omitempty"`
	Error    string                    `json:"error,omitempty"`
}

// WorldInfo describes a world as reported by the relay
type WorldInfo struct {
	ID     string `json:"id"`
	Length uint64 `json:"length"`
}
