package sunshine

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// logWriter forwards each complete output line of a child process to the
// logger at debug level.
type logWriter struct {
	logger *slog.Logger
	source string

	mu  sync.Mutex
	buf []byte
}

func newLogWriter(logger *slog.Logger, source string) *logWriter {
	return &logWriter{logger: logger, source: source}
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits a trailing partial line, if any.
func (w *logWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(w.buf)
	w.buf = nil
}

func (w *logWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.logger.LogAttrs(context.Background(), slog.LevelDebug, string(line), slog.String("source", w.source))
}
