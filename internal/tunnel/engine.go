package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"web-tunnel-go/internal/config"
	"web-tunnel-go/internal/metrics"
	"web-tunnel-go/internal/model"
	"web-tunnel-go/internal/rewrite"
)

// ErrEngineClosed is returned by Serve once Shutdown has begun.
var ErrEngineClosed = errors.New("relay engine closed")

const defaultBufferSize = 32 * 1024

// Engine forwards bytes between the endpoints of every registered pair.
//
// Each pair runs one goroutine per direction plus a watcher. When either
// direction ends, the watcher closes both endpoints and removes the pair from
// the registry, which unblocks the other direction.
type Engine struct {
	registry       *Registry
	rule           rewrite.Rule
	maxHeaderBytes int
	idleTimeout    time.Duration
	logger         *slog.Logger
	verbose        verbose
	metrics        *metrics.Metrics
	buffers        sync.Pool

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewEngine creates an Engine from the relay and rewrite settings.
// The metrics parameter is optional; pass nil to disable relay metrics recording.
func NewEngine(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Engine {
	size := cfg.Relay.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}

	logger = logger.With("component", "relay_engine")
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		registry: NewRegistry(),
		rule: rewrite.Rule{
			ReplaceHostname: cfg.Rewrite.ReplaceHostname,
			DowngradeHTTP:   cfg.Rewrite.DowngradeHTTP,
		},
		maxHeaderBytes: cfg.Rewrite.MaxHeaderBytes,
		idleTimeout:    cfg.Relay.IdleTimeout(),
		logger:         logger,
		verbose:        verbose{logger: logger, level: cfg.Log.Verbosity},
		metrics:        m,
		ctx:            ctx,
		cancel:         cancel,
	}
	e.buffers.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return e
}

// Serve registers p and starts relaying it. On error the pair is closed and
// never registered.
func (e *Engine) Serve(p *Pair) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		_ = p.close()
		return ErrEngineClosed
	}
	if err := e.registry.Add(p); err != nil {
		e.mu.Unlock()
		_ = p.close()
		return fmt.Errorf("register pair %s: %w", p.id, err)
	}
	e.wg.Add(3)
	e.mu.Unlock()

	p.transition(Connecting, Established)
	if e.metrics != nil {
		e.metrics.PairsActive.Inc()
	}
	e.verbose.event("connected",
		"pair_id", p.id.String(),
		"client", addrString(p.client.RemoteAddr()),
		"upstream", addrString(p.upstream.RemoteAddr()),
	)

	ctx, cancel := context.WithCancel(e.ctx)
	link := &pairLink{pair: p}

	toUpstream := rewrite.NewStream(e.rule.Request(), e.maxHeaderBytes, e.onRewrite(p, model.ToUpstream))
	toClient := rewrite.NewStream(e.rule.Response(), e.maxHeaderBytes, e.onRewrite(p, model.ToClient))

	go e.forward(cancel, link, model.ToUpstream, p.client, p.upstream, toUpstream)
	go e.forward(cancel, link, model.ToClient, p.upstream, p.client, toClient)
	go func() {
		defer e.wg.Done()
		<-ctx.Done()
		e.teardown(p)
	}()

	return nil
}

// pairLink carries the per-pair state shared by both forwarding goroutines.
type pairLink struct {
	pair       *Pair
	lastActive atomic.Int64
}

func (l *pairLink) touch() { l.lastActive.Store(time.Now().UnixNano()) }

func (l *pairLink) idleFor() time.Duration {
	return time.Since(time.Unix(0, l.lastActive.Load()))
}

// forward runs the read, rewrite, write cycle for one direction until the
// source ends or either endpoint fails, then signals the pair watcher.
func (e *Engine) forward(end context.CancelFunc, link *pairLink, dir model.Direction, src, dst net.Conn, s *rewrite.Stream) {
	defer e.wg.Done()
	defer end()

	p := link.pair
	bufp := e.buffers.Get().(*[]byte)
	defer e.buffers.Put(bufp)
	buf := *bufp

	link.touch()
	for {
		if e.idleTimeout > 0 {
			_ = src.SetReadDeadline(time.Now().Add(e.idleTimeout))
		}

		n, err := src.Read(buf)
		if n > 0 {
			link.touch()
			if werr := e.relay(p, dir, dst, s.Feed(buf[:n])); werr != nil {
				e.ended(p, dir, werr)
				return
			}
		}
		if err != nil {
			// The other direction may still be busy; only a pair idle in both
			// directions times out.
			if errors.Is(err, os.ErrDeadlineExceeded) && link.idleFor() < e.idleTimeout {
				continue
			}
			_ = e.relay(p, dir, dst, s.Flush())
			e.ended(p, dir, err)
			return
		}
	}
}

// relay writes b to dst in full.
func (e *Engine) relay(p *Pair, dir model.Direction, dst io.Writer, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	e.verbose.payload(p, dir, b)

	if err := writeAll(dst, b); err != nil {
		return err
	}

	p.addBytes(dir, len(b))
	if e.metrics != nil {
		e.metrics.BytesRelayed.WithLabelValues(dir.String()).Add(float64(len(b)))
	}
	return nil
}

// writeAll loops until b is fully written or the writer fails.
func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}

// ended records why one direction of p stopped.
func (e *Engine) ended(p *Pair, dir model.Direction, err error) {
	p.transition(Established, HalfClosed)

	switch {
	case errors.Is(err, net.ErrClosed):
		// Closed by teardown of the other direction or by shutdown.
	case errors.Is(err, io.EOF):
		e.verbose.event("stream ended", "pair_id", p.id.String(), "direction", dir.String())
	case errors.Is(err, os.ErrDeadlineExceeded):
		e.verbose.event("idle timeout", "pair_id", p.id.String(), "direction", dir.String())
	default:
		e.verbose.event("relay error", "pair_id", p.id.String(), "direction", dir.String(), "err", err)
	}
}

// teardown closes both endpoints of p and removes it from the registry.
func (e *Engine) teardown(p *Pair) {
	if err := p.close(); err != nil {
		e.logger.Debug("close pair", "pair_id", p.id.String(), "err", err)
	}
	if _, ok := e.registry.Remove(p.id); !ok {
		return
	}

	if e.metrics != nil {
		e.metrics.PairsActive.Dec()
		e.metrics.PairDuration.Observe(time.Since(p.openedAt).Seconds())
	}

	info := p.Info()
	e.verbose.event("disconnected",
		"pair_id", info.ID,
		"client", info.ClientAddr,
		"bytes_to_upstream", info.BytesToUpstream,
		"bytes_to_client", info.BytesToClient,
	)
}

func (e *Engine) onRewrite(p *Pair, dir model.Direction) func(rewrite.Result) {
	return func(res rewrite.Result) {
		p.markRewritten(dir)
		if e.metrics != nil {
			e.metrics.Rewrites.WithLabelValues(res.Rule).Inc()
		}
		e.verbose.event("rewrote http head",
			"pair_id", p.id.String(),
			"rule", res.Rule,
			"from", res.From,
			"to", res.To,
		)
	}
}

// Len returns the number of live pairs.
func (e *Engine) Len() int { return e.registry.Len() }

// Pairs returns a snapshot of every live pair.
func (e *Engine) Pairs() []model.PairInfo { return e.registry.Snapshot() }

// Registry exposes the pair registry for inspection.
func (e *Engine) Registry() *Registry { return e.registry }

// Shutdown stops admitting pairs, closes every live pair and waits for the
// forwarding goroutines to exit or ctx to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()

	if n := e.registry.CloseAll(); n > 0 {
		e.logger.Debug("closed live pairs", "pairs", n)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("relay shutdown: %w", ctx.Err())
	}
}
