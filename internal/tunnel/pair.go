// Package tunnel implements the connection-pairing relay: the listener that
// admits clients, the registry of live pairs and the engine that forwards bytes
// between the two endpoints of each pair.
package tunnel

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"web-tunnel-go/internal/model"
)

// State is the lifecycle state of a Pair.
type State int32

const (
	// Connecting: the client is accepted and the upstream dial is in progress.
	Connecting State = iota
	// Established: both endpoints are registered and relaying.
	Established
	// HalfClosed: one direction has ended and teardown is in progress.
	HalfClosed
	// Closed: both endpoints are closed and the pair is no longer tracked.
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Established:
		return "established"
	case HalfClosed:
		return "half_closed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Pair links one client connection to its upstream connection.
type Pair struct {
	id       uuid.UUID
	client   net.Conn
	upstream net.Conn
	openedAt time.Time

	state     atomic.Int32
	rewritten [2]atomic.Bool
	bytes     [2]atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// NewPair links client and upstream under a fresh identifier.
func NewPair(client, upstream net.Conn) *Pair {
	p := &Pair{
		id:       uuid.New(),
		client:   client,
		upstream: upstream,
		openedAt: time.Now(),
	}
	p.state.Store(int32(Connecting))
	return p
}

// ID returns the stable identifier of the pair.
func (p *Pair) ID() uuid.UUID { return p.id }

// State returns the current lifecycle state.
func (p *Pair) State() State { return State(p.state.Load()) }

// Client returns the client endpoint.
func (p *Pair) Client() net.Conn { return p.client }

// Upstream returns the upstream endpoint.
func (p *Pair) Upstream() net.Conn { return p.upstream }

// Peer returns the endpoint linked to c, or nil when c is not part of the pair.
func (p *Pair) Peer(c net.Conn) net.Conn {
	switch c {
	case p.client:
		return p.upstream
	case p.upstream:
		return p.client
	default:
		return nil
	}
}

// Info returns a snapshot of the pair.
func (p *Pair) Info() model.PairInfo {
	return model.PairInfo{
		ID:                p.id.String(),
		State:             p.State().String(),
		ClientAddr:        addrString(p.client.RemoteAddr()),
		UpstreamAddr:      addrString(p.upstream.RemoteAddr()),
		OpenedAt:          p.openedAt,
		BytesToUpstream:   p.bytes[model.ToUpstream].Load(),
		BytesToClient:     p.bytes[model.ToClient].Load(),
		RequestRewritten:  p.rewritten[model.ToUpstream].Load(),
		ResponseRewritten: p.rewritten[model.ToClient].Load(),
	}
}

// Rewritten reports whether the head rewrite fired for dir.
func (p *Pair) Rewritten(dir model.Direction) bool { return p.rewritten[dir].Load() }

func (p *Pair) markRewritten(dir model.Direction) { p.rewritten[dir].Store(true) }

func (p *Pair) addBytes(dir model.Direction, n int) { p.bytes[dir].Add(int64(n)) }

func (p *Pair) transition(from, to State) bool {
	return p.state.CompareAndSwap(int32(from), int32(to))
}

// close shuts both endpoints. It is idempotent and always leaves the pair Closed.
func (p *Pair) close() error {
	p.closeOnce.Do(func() {
		p.transition(Established, HalfClosed)
		p.closeErr = errors.Join(ignoreClosed(p.client.Close()), ignoreClosed(p.upstream.Close()))
		p.state.Store(int32(Closed))
	})
	return p.closeErr
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
