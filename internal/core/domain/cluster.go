package domain

import (
	"fmt"
	"strings"
)

// Cluster health strings travel on every request and reflect the client's
// current view of the fleet, e.g. "host1:5059(UP);host2:5059(DOWN)".
const (
	clusterStateUp   = "UP"
	clusterStateDown = "DOWN"
)

// FormatClusterHealth renders the outbound cluster-health field.
func FormatClusterHealth(endpoints []*Endpoint) string {
	if len(endpoints) == 0 {
		return ""
	}
	parts := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		state := clusterStateDown
		if e.Healthy() {
			state = clusterStateUp
		}
		parts = append(parts, fmt.Sprintf("%s(%s)", e.Key(), state))
	}
	return strings.Join(parts, ";")
}

// ParseClusterHealth decodes a cluster-health string into key -> up.
// Malformed entries are skipped; the field is advisory.
func ParseClusterHealth(s string) map[string]bool {
	out := make(map[string]bool)
	if s == "" {
		return out
	}
	for _, part := range strings.Split(s, ";") {
		open := strings.IndexByte(part, '(')
		if open <= 0 || !strings.HasSuffix(part, ")") {
			continue
		}
		key := part[:open]
		state := part[open+1 : len(part)-1]
		out[key] = state == clusterStateUp
	}
	return out
}
