package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestProductionLoggerSkipsDebug(t *testing.T) {
	var buf bytes.Buffer
	l := New("production", &buf)
	l.Debug().Msg("hidden")
	l.Info().Str("draft_id", "d1").Msg("visible")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked: %s", out)
	}
	if !strings.Contains(out, `"draft_id":"d1"`) {
		t.Fatalf("expected json field, got %s", out)
	}
}

func TestWithLevel(t *testing.T) {
	var buf bytes.Buffer
	l := WithLevel(New("production", &buf), "warn")
	l.Info().Msg("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn: %s", buf.String())
	}
	l = WithLevel(l, "nonsense")
	l.Warn().Msg("loud")
	if !strings.Contains(buf.String(), "loud") {
		t.Fatalf("unknown level must keep the current one")
	}
}
