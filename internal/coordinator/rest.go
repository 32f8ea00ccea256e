package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/dreamware/lavapool/internal/cluster"
	"github.com/dreamware/lavapool/internal/node"
)

var urlPattern = regexp.MustCompile(`^https?://`)

// Request performs one REST call against conn. The scheme follows the node's
// Secure flag and the node password is sent as Authorization. The call waits
// for the node's rate limiter and is bounded by both ctx and the pool's HTTP
// client timeout. Transport failures are returned as is and never retried.
//
// The status code is returned for every response. out is decoded only for
// 2xx responses with a body.
func (p *Pool) Request(ctx context.Context, conn *node.Connection, method, endpoint string, query url.Values, body, out any) (int, error) {
	if err := conn.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit %s: %w", conn.Key(), err)
	}

	return cluster.Do(ctx, p.httpClient, method, endpointURL(conn, endpoint, query), conn.Descriptor().Password, body, out)
}

func endpointURL(conn *node.Connection, endpoint string, query url.Values) string {
	target := conn.Descriptor().BaseURL() + "/" + strings.TrimPrefix(endpoint, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}

// get issues a GET against the least loaded node.
func (p *Pool) get(ctx context.Context, endpoint string, query url.Values, out any) (*node.Connection, int, error) {
	conn, err := p.leastLoaded()
	if err != nil {
		return nil, 0, err
	}
	status, err := p.Request(ctx, conn, http.MethodGet, endpoint, query, nil, out)
	return conn, status, err
}

// LoadTracks resolves query on the least loaded node. Anything that is not
// an http(s) URL is turned into a search with the given source, or the
// pool's default source, e.g. "ytsearch:never gonna give you up".
func (p *Pool) LoadTracks(ctx context.Context, query, source string) (*cluster.LoadResult, error) {
	if !urlPattern.MatchString(query) {
		if source == "" {
			source = p.cfg.DefaultSource
		}
		query = source + "search:" + query
	}

	var result cluster.LoadResult
	conn, status, err := p.get(ctx, "loadtracks", url.Values{"identifier": {query}}, &result)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("%w: loadtracks on %s: %d", cluster.ErrUnexpectedStatus, conn.Key(), status)
	}

	p.emit(cluster.Event{
		Kind:    cluster.EventDebug,
		NodeID:  conn.Key(),
		Message: fmt.Sprintf("loadtracks %q: %s, %d track(s)", query, result.LoadType, len(result.Tracks)),
	})
	return &result, nil
}

// DecodeTrack returns the info behind an encoded track. A node answering
// 500 does not know the track; that yields nil without an error.
func (p *Pool) DecodeTrack(ctx context.Context, encoded string) (*cluster.TrackInfo, error) {
	var info cluster.TrackInfo
	conn, status, err := p.get(ctx, "decodetrack", url.Values{"track": {encoded}}, &info)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusInternalServerError:
		return nil, nil
	case status >= 300:
		return nil, fmt.Errorf("%w: decodetrack on %s: %d", cluster.ErrUnexpectedStatus, conn.Key(), status)
	}
	return &info, nil
}

// RoutePlannerStatus returns the route planner state of the least loaded
// node. A node without a route planner answers 204, which yields an empty
// status.
func (p *Pool) RoutePlannerStatus(ctx context.Context) (*cluster.RoutePlannerStatus, error) {
	conn, err := p.leastLoaded()
	if err != nil {
		return nil, err
	}
	if err := conn.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", conn.Key(), err)
	}

	var status cluster.RoutePlannerStatus
	target := endpointURL(conn, "routeplanner/status", nil)
	if err := cluster.GetJSON(ctx, p.httpClient, target, conn.Descriptor().Password, &status); err != nil {
		return nil, fmt.Errorf("routeplanner/status on %s: %w", conn.Key(), err)
	}
	return &status, nil
}

// FreeAddress unmarks a failing address on the least loaded node. It
// reports true only when the node answers 204.
func (p *Pool) FreeAddress(ctx context.Context, address string) (bool, error) {
	return p.routeFree(ctx, "address", map[string]string{"address": address})
}

// FreeAllAddresses unmarks every failing address on the least loaded node.
func (p *Pool) FreeAllAddresses(ctx context.Context) (bool, error) {
	return p.routeFree(ctx, "all", nil)
}

func (p *Pool) routeFree(ctx context.Context, which string, body any) (bool, error) {
	conn, err := p.leastLoaded()
	if err != nil {
		return false, err
	}
	status, err := p.Request(ctx, conn, http.MethodPost, "routeplanner/free/"+which, nil, body, nil)
	if err != nil {
		return false, err
	}
	return status == http.StatusNoContent, nil
}
