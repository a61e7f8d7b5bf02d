package testutil

import (
	"log/slog"
	"os"
	"testing"
)

func TestLogger(t testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})).
		With("test", t.Name())
}
