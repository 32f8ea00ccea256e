package cluster

import "fmt"

// Load types reported by the loadtracks endpoint.
const (
	LoadTrackLoaded    = "TRACK_LOADED"
	LoadPlaylistLoaded = "PLAYLIST_LOADED"
	LoadSearchResult   = "SEARCH_RESULT"
	LoadNoMatches      = "NO_MATCHES"
	LoadFailed         = "LOAD_FAILED"
)

// TrackInfo is the metadata a node returns for a track.
type TrackInfo struct {
	Identifier string `json:"identifier"`
	IsSeekable bool   `json:"isSeekable"`
	Author     string `json:"author"`
	Length     int64  `json:"length"`
	IsStream   bool   `json:"isStream"`
	Position   int64  `json:"position"`
	Title      string `json:"title"`
	URI        string `json:"uri"`
	SourceName string `json:"sourceName,omitempty"`
}

// Track is a playable track reference. Encoded is the opaque token the node plays.
type Track struct {
	Encoded   string    `json:"track"`
	Info      TrackInfo `json:"info"`
	Requester string    `json:"requester,omitempty"`
}

// Thumbnail returns the artwork URL for YouTube-hosted tracks, or "" otherwise.
func (t *Track) Thumbnail() string {
	if t == nil || t.Info.Identifier == "" {
		return ""
	}
	if t.Info.SourceName != "" && t.Info.SourceName != "youtube" {
		return ""
	}
	return fmt.Sprintf("https://i.ytimg.com/vi/%s/maxresdefault.jpg", t.Info.Identifier)
}

type PlaylistInfo struct {
	Name          string `json:"name"`
	SelectedTrack int    `json:"selectedTrack"`
}

// LoadResult is the body returned by loadtracks.
type LoadResult struct {
	LoadType     string       `json:"loadType"`
	PlaylistInfo PlaylistInfo `json:"playlistInfo"`
	Tracks       []*Track     `json:"tracks"`
	Exception    *struct {
		Message  string `json:"message"`
		Severity string `json:"severity"`
	} `json:"exception,omitempty"`
}

// RoutePlannerStatus is the body returned by /routeplanner/status.
type RoutePlannerStatus struct {
	Class   string `json:"class"`
	Details struct {
		IPBlock struct {
			Type string `json:"type"`
			Size string `json:"size"`
		} `json:"ipBlock"`
		FailingAddresses    []FailingAddress `json:"failingAddresses"`
		BlockIndex          string           `json:"blockIndex"`
		CurrentAddressIndex string           `json:"currentAddressIndex"`
	} `json:"details"`
}

type FailingAddress struct {
	Address          string `json:"address"`
	FailingTimestamp int64  `json:"failingTimestamp"`
	FailingTime      string `json:"failingTime"`
}
