// Package model defines shared types for the tunnel.
package model

import "time"

// Direction identifies one half of a pair's traffic.
type Direction int

const (
	// ToUpstream is traffic read from the client and written to the upstream.
	ToUpstream Direction = iota
	// ToClient is traffic read from the upstream and written to the client.
	ToClient
)

func (d Direction) String() string {
	switch d {
	case ToUpstream:
		return "to_upstream"
	case ToClient:
		return "to_client"
	default:
		return "unknown"
	}
}

// PairInfo is a point-in-time view of a live connection pair.
type PairInfo struct {
	ID                string    `json:"id"`
	State             string    `json:"state"`
	ClientAddr        string    `json:"client_addr"`
	UpstreamAddr      string    `json:"upstream_addr"`
	OpenedAt          time.Time `json:"opened_at"`
	BytesToUpstream   int64     `json:"bytes_to_upstream"`
	BytesToClient     int64     `json:"bytes_to_client"`
	RequestRewritten  bool      `json:"request_rewritten"`
	ResponseRewritten bool      `json:"response_rewritten"`
}
