package telemetry

import (
	"io"
	"log/slog"
	"os"
)

// InitSlog installs a text handler writing progress lines to stdout.
func InitSlog(debug bool) {
	slog.SetDefault(slog.New(NewHandler(os.Stdout, debug)))
}

func NewHandler(w io.Writer, debug bool) slog.Handler {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}
