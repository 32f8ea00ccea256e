package cluster

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/disgoorg/snowflake/v2"
)

// Lifecycle event type tags carried in "event" packets.
const (
	TypeTrackStart      = "TrackStartEvent"
	TypeTrackEnd        = "TrackEndEvent"
	TypeTrackException  = "TrackExceptionEvent"
	TypeTrackStuck      = "TrackStuckEvent"
	TypeWebSocketClosed = "WebSocketClosedEvent"
)

// Track end reasons.
const (
	ReasonFinished = "FINISHED"
	ReasonReplaced = "REPLACED"
	ReasonCleanup  = "CLEANUP"
)

// LifecycleEvent is the closed set of track lifecycle events a node reports.
// The concrete types are TrackStart, TrackEnd, TrackException, TrackStuck,
// WebSocketClosed and UnknownEvent.
type LifecycleEvent interface {
	lifecycleEvent()
	Guild() snowflake.ID
}

type eventHeader struct {
	Type    string       `json:"type"`
	GuildID snowflake.ID `json:"guildId"`
}

func (h eventHeader) Guild() snowflake.ID { return h.GuildID }

type TrackStart struct {
	eventHeader
	Track string `json:"track"`
}

type TrackEnd struct {
	eventHeader
	Track  string `json:"track"`
	Reason string `json:"reason"`
}

// Finished reports whether the track ended because it played to completion.
func (e TrackEnd) Finished() bool {
	return strings.EqualFold(e.Reason, ReasonFinished)
}

// MayStartNext reports whether a track that ended for reason leaves the
// player free to start the next queued track. A replaced or cleaned up
// track does not.
func MayStartNext(reason string) bool {
	return !strings.EqualFold(reason, ReasonReplaced) && !strings.EqualFold(reason, ReasonCleanup)
}

type TrackException struct {
	eventHeader
	Track     string          `json:"track"`
	Error     string          `json:"error"`
	Exception json.RawMessage `json:"exception,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

type TrackStuck struct {
	eventHeader
	Track       string          `json:"track"`
	ThresholdMs int64           `json:"thresholdMs"`
	Raw         json.RawMessage `json:"-"`
}

type WebSocketClosed struct {
	eventHeader
	Code     int    `json:"code"`
	Reason   string `json:"reason"`
	ByRemote bool   `json:"byRemote"`
}

// UnknownEvent carries an event type this client does not recognise.
type UnknownEvent struct {
	eventHeader
	Raw json.RawMessage `json:"-"`
}

func (TrackStart) lifecycleEvent()      {}
func (TrackEnd) lifecycleEvent()        {}
func (TrackException) lifecycleEvent()  {}
func (TrackStuck) lifecycleEvent()      {}
func (WebSocketClosed) lifecycleEvent() {}
func (UnknownEvent) lifecycleEvent()    {}

// Type returns the unrecognised type tag.
func (e UnknownEvent) Type() string { return e.eventHeader.Type }

// DecodeLifecycleEvent turns the raw body of an "event" packet into one of
// the LifecycleEvent variants. Unrecognised tags decode to UnknownEvent.
func DecodeLifecycleEvent(raw json.RawMessage) (LifecycleEvent, error) {
	var h eventHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("decode event header: %w", err)
	}

	var (
		ev  LifecycleEvent
		err error
	)
	switch h.Type {
	case TypeTrackStart:
		var e TrackStart
		err = json.Unmarshal(raw, &e)
		ev = e
	case TypeTrackEnd:
		var e TrackEnd
		err = json.Unmarshal(raw, &e)
		ev = e
	case TypeTrackException:
		var e TrackException
		err = json.Unmarshal(raw, &e)
		e.Raw = raw
		ev = e
	case TypeTrackStuck:
		var e TrackStuck
		err = json.Unmarshal(raw, &e)
		e.Raw = raw
		ev = e
	case TypeWebSocketClosed:
		var e WebSocketClosed
		err = json.Unmarshal(raw, &e)
		ev = e
	default:
		ev = UnknownEvent{eventHeader: h, Raw: raw}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", h.Type, err)
	}
	return ev, nil
}

// DecodeStats parses a "stats" packet into a fresh snapshot.
func DecodeStats(raw json.RawMessage) (NodeStats, error) {
	var s NodeStats
	if err := json.Unmarshal(raw, &s); err != nil {
		return NodeStats{}, fmt.Errorf("decode stats: %w", err)
	}
	return s, nil
}
