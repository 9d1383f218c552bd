package proxy

import "log/slog"

// Config configures a Dispatcher.
type Config struct {
	Logger *slog.Logger // optional
	Port   int          // UDP listen port; binds 0.0.0.0:Port
}

// clientFrameMax bounds the client-facing UDP buffer.
const clientFrameMax = 1024
