package logging

import (
	"context"
	"log/slog"

	"github.com/nikicat/decky-sunshine/internal/sunshine"
)

// Audit records controller actions requested through the API.
type Audit struct {
	*slog.Logger
}

// NewAudit wraps logger for action records.
func NewAudit(logger *slog.Logger) *Audit {
	return &Audit{Logger: logger}
}

// LogAction logs one action with its outcome. Failed actions are logged at
// warn level with the error kind.
func (a *Audit) LogAction(ctx context.Context, requestID, action, result string, err error) {
	attrs := []slog.Attr{
		slog.String("action", action),
		slog.String("request_id", requestID),
		slog.String("result", result),
	}
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("error_kind", sunshine.Kind(err)),
			slog.String("error", err.Error()),
		)
	}
	a.LogAttrs(ctx, level, "action", attrs...)
}
