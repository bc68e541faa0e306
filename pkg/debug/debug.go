// Package debug gates per-frame diagnostics. Frame events fire at camera
// rate, so they stay off unless --debug-frames is set.
package debug

import "log/slog"

// Frames enables per-frame events (capture, embedding, collection, prediction).
var Frames bool

// Frame logs one pipeline stage for frame seq.
func Frame(stage string, seq uint64, args ...any) {
	if !Frames {
		return
	}
	slog.Info("frame", append([]any{"stage", stage, "seq", seq}, args...)...)
}
