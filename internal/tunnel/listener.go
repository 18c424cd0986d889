package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"web-tunnel-go/internal/config"
	"web-tunnel-go/internal/metrics"
	"web-tunnel-go/internal/sockopt"
)

// Dialer opens the upstream side of a new pair.
type Dialer interface {
	DialUpstream(ctx context.Context) (net.Conn, error)
	Addr() string
}

// Accept retry backoff bounds.
const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Listener accepts clients, dials the upstream for each one and hands the
// resulting pair to the Engine.
type Listener struct {
	addr         string
	socketBuffer int
	dialer       Dialer
	engine       *Engine
	logger       *slog.Logger
	verbose      verbose
	metrics      *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// NewListener creates a Listener for the configured local address.
// The metrics parameter is optional; pass nil to disable accept metrics recording.
func NewListener(cfg *config.Config, d Dialer, e *Engine, logger *slog.Logger, m *metrics.Metrics) *Listener {
	logger = logger.With("component", "listener")
	ctx, cancel := context.WithCancel(context.Background())

	return &Listener{
		addr:         cfg.Listen.Addr(),
		socketBuffer: cfg.Listen.SocketBufferBytes,
		dialer:       d,
		engine:       e,
		logger:       logger,
		verbose:      verbose{logger: logger, level: cfg.Log.Verbosity},
		metrics:      m,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start binds the local address and begins accepting clients in the background.
func (l *Listener) Start() error {
	lc := net.ListenConfig{
		Control: sockopt.Control(sockopt.Options{ReuseAddr: true, BufferBytes: l.socketBuffer}),
	}
	ln, err := lc.Listen(l.ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", l.addr, err)
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	l.verbose.event("listening", "addr", ln.Addr().String(), "upstream", l.dialer.Addr())

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.acceptLoop(ln)
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *Listener) acceptLoop(ln net.Listener) {
	retry := newAcceptBackoff()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || l.ctx.Err() != nil {
				return
			}
			delay := retry.NextBackOff()
			l.verbose.event("accept failed", "err", err, "retry_in", delay)
			select {
			case <-time.After(delay):
				continue
			case <-l.ctx.Done():
				return
			}
		}
		retry.Reset()

		if l.metrics != nil {
			l.metrics.ConnectionsAccepted.Inc()
		}
		l.wg.Add(1)
		go l.admit(conn)
	}
}

// admit dials the upstream for client and registers the pair. A failed dial
// closes the client; no pair is created.
func (l *Listener) admit(client net.Conn) {
	defer l.wg.Done()

	clientAddr := addrString(client.RemoteAddr())
	upstream, err := l.dialer.DialUpstream(l.ctx)
	if err != nil {
		_ = client.Close()
		l.verbose.event("cannot reach upstream, closing client",
			"client", clientAddr,
			"upstream", l.dialer.Addr(),
			"err", err,
		)
		return
	}

	if err := l.engine.Serve(NewPair(client, upstream)); err != nil {
		l.verbose.event("pair rejected", "client", clientAddr, "err", err)
	}
}

// Close stops accepting, aborts in-flight upstream dials and waits for the
// accept loop to exit. Live pairs belong to the Engine and are left running.
func (l *Listener) Close() error {
	l.cancel()

	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()

	var err error
	if ln != nil {
		err = ignoreClosed(ln.Close())
	}
	l.wg.Wait()
	return err
}

// newAcceptBackoff doubles from minAcceptBackoff up to maxAcceptBackoff without
// jitter and never gives up.
func newAcceptBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minAcceptBackoff
	b.MaxInterval = maxAcceptBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
