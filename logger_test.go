package sidekiq

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlogLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	l.Debugf("hidden %d", 1)
	l.Infof("processed class=%s", "Mailer")
	l.Errorf("failed jid=%s", "abc")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "processed class=Mailer")
	require.Contains(t, out, "level=ERROR")
}

func TestSlogLogger_NilUsesDefault(t *testing.T) {
	require.NotPanics(t, func() { NewSlogLogger(nil).Infof("x") })
}
