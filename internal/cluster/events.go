package cluster

import (
	"encoding/json"

	"github.com/disgoorg/snowflake/v2"
)

// EventKind names a domain event emitted to pool listeners.
type EventKind string

const (
	EventReady         EventKind = "ready"
	EventRaw           EventKind = "raw"
	EventDisconnect    EventKind = "disconnect"
	EventError         EventKind = "error"
	EventReconnecting  EventKind = "reconnecting"
	EventDebug         EventKind = "debug"
	EventStart         EventKind = "start"
	EventEnd           EventKind = "end"
	EventException     EventKind = "exception"
	EventStuck         EventKind = "struck"
	EventWarn          EventKind = "warn"
	EventPlayerDestroy EventKind = "playerDestroy"
)

// Event is a domain event. Which fields are set depends on Kind:
// node events carry NodeID, player events carry GuildID and usually Track,
// raw and exception/stuck events carry the originating Packet.
type Event struct {
	Kind    EventKind
	NodeID  string
	GuildID snowflake.ID
	Track   *Track
	Packet  json.RawMessage
	Code    int
	Reason  string
	Message string
	Err     error
}
