// Package multinode is the client-side routing core: it glues sessions to
// endpoints, selects servers for new sessions under a load-aware policy,
// reacts to failures and keeps the fleet view travelling on every RPC.
package multinode

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openjproxy/ojp/internal/core/domain"
)

// Target is a parsed proxy connection URL.
type Target struct {
	Endpoints  []*domain.Endpoint
	Underlying string
	// Multinode is true when more than one endpoint was supplied.
	Multinode bool
}

const urlPrefix = "ojp["

// ParseURL parses `ojp[host1:port1,host2:port2]_<underlying-url>`. An
// optional per-endpoint datasource name may follow the port after a slash,
// e.g. `ojp[db1:1059/main,db2:1059/replica]_postgresql://...`. The
// underlying URL is forwarded to the backend adapter unchanged.
func ParseURL(raw string) (*Target, error) {
	start := strings.Index(raw, urlPrefix)
	if start < 0 {
		return nil, fmt.Errorf("not an ojp url: %q", raw)
	}

	rest := raw[start+len(urlPrefix):]
	end := strings.IndexByte(rest, ']')
	if end < 0 {
		return nil, fmt.Errorf("unterminated endpoint list in %q", raw)
	}

	list := rest[:end]
	tail := rest[end+1:]
	if !strings.HasPrefix(tail, "_") {
		return nil, fmt.Errorf("missing underlying url separator in %q", raw)
	}
	underlying := tail[1:]
	if underlying == "" {
		return nil, fmt.Errorf("empty underlying url in %q", raw)
	}

	parts := strings.Split(list, ",")
	endpoints := make([]*domain.Endpoint, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		datasource := ""
		if slash := strings.IndexByte(part, '/'); slash >= 0 {
			datasource = part[slash+1:]
			part = part[:slash]
		}

		host, portStr, found := strings.Cut(part, ":")
		if !found || host == "" {
			return nil, fmt.Errorf("malformed endpoint %q", part)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("malformed port in endpoint %q", part)
		}

		endpoint := domain.NewEndpoint(host, port, datasource)
		if _, dup := seen[endpoint.Key()]; dup {
			continue
		}
		seen[endpoint.Key()] = struct{}{}
		endpoints = append(endpoints, endpoint)
	}

	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints in %q", raw)
	}

	return &Target{
		Endpoints:  endpoints,
		Underlying: underlying,
		Multinode:  len(endpoints) > 1,
	}, nil
}
