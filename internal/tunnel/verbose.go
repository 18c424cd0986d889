package tunnel

import (
	"log/slog"

	"web-tunnel-go/internal/model"
)

// verbose gates per-connection reporting on the configured verbosity:
// 0 reports nothing, 1 reports lifecycle events, 2 and above also echoes payloads.
type verbose struct {
	logger *slog.Logger
	level  int
}

func (v verbose) event(msg string, args ...any) {
	if v.level >= 1 {
		v.logger.Info(msg, args...)
	}
}

func (v verbose) payload(p *Pair, dir model.Direction, b []byte) {
	if v.level >= 2 {
		v.logger.Info("payload",
			"pair_id", p.id.String(),
			"direction", dir.String(),
			"bytes", len(b),
			"data", string(b),
		)
	}
}
