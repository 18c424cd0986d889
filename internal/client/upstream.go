// Package client provides the outbound connector to the fixed upstream.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"web-tunnel-go/internal/config"
	"web-tunnel-go/internal/metrics"
	"web-tunnel-go/internal/sockopt"
)

// ErrDial wraps every failed upstream connection attempt.
var ErrDial = errors.New("dial upstream")

// UpstreamDialer opens one outbound TCP connection per accepted client.
type UpstreamDialer struct {
	addr    string
	dialer  *net.Dialer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewUpstreamDialer creates an UpstreamDialer with connect timeout and keepalive.
// The metrics parameter is optional; pass nil to disable dial metrics recording.
func NewUpstreamDialer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamDialer {
	return &UpstreamDialer{
		addr: cfg.Upstream.Addr(),
		dialer: &net.Dialer{
			Timeout:   cfg.Upstream.DialTimeout(),
			KeepAlive: 30 * time.Second,
			Control:   sockopt.Control(sockopt.Options{BufferBytes: cfg.Listen.SocketBufferBytes}),
		},
		logger:  logger.With("component", "upstream_dialer"),
		metrics: m,
	}
}

// Addr returns the upstream address as host:port.
func (d *UpstreamDialer) Addr() string { return d.addr }

// DialUpstream connects to the upstream. The context bounds the attempt in
// addition to the configured timeout.
func (d *UpstreamDialer) DialUpstream(ctx context.Context) (net.Conn, error) {
	start := time.Now()
	conn, err := d.dialer.DialContext(ctx, "tcp", d.addr)
	duration := time.Since(start).Seconds()

	if d.metrics != nil {
		d.metrics.UpstreamDialDuration.Observe(duration)
		if err != nil {
			d.metrics.UpstreamDialFailures.Inc()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrDial, d.addr, err)
	}

	d.logger.Debug("upstream connected",
		"upstream", d.addr,
		"local", conn.LocalAddr().String(),
	)
	return conn, nil
}
