package tunnel

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"web-tunnel-go/internal/model"
)

func TestVerboseLevels(t *testing.T) {
	p, _, _ := pipePair(t)

	tests := []struct {
		level       int
		wantEvent   bool
		wantPayload bool
	}{
		{0, false, false},
		{1, true, false},
		{2, true, true},
		{3, true, true},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		v := verbose{logger: slog.New(slog.NewTextHandler(&buf, nil)), level: tt.level}

		v.event("connected", "pair_id", p.ID().String())
		v.payload(p, model.ToClient, []byte("HTTP/1.0 200 OK"))

		out := buf.String()
		if got := strings.Contains(out, "msg=connected"); got != tt.wantEvent {
			t.Errorf("level %d: event logged = %v, want %v", tt.level, got, tt.wantEvent)
		}
		if got := strings.Contains(out, "direction=to_client"); got != tt.wantPayload {
			t.Errorf("level %d: payload logged = %v, want %v", tt.level, got, tt.wantPayload)
		}
	}
}
