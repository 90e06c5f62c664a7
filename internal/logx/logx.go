// Package logx writes one JSON object per line through a standard logger.
package logx

import (
	"encoding/json"
	"io"
	"log"
	"time"
)

type Fields map[string]any

// New returns a logger suited for JSON lines: no prefix, no flags.
func New(w io.Writer) *log.Logger {
	return log.New(w, "", 0)
}

func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func Info(logger *log.Logger, msg string, f Fields) {
	write(logger, "info", msg, f)
}

func Warn(logger *log.Logger, msg string, f Fields) {
	write(logger, "warn", msg, f)
}

func Error(logger *log.Logger, msg string, f Fields) {
	write(logger, "error", msg, f)
}

func write(logger *log.Logger, level, msg string, f Fields) {
	if logger == nil {
		return
	}
	payload := make(map[string]any, len(f)+3)
	for k, v := range f {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		payload[k] = v
	}
	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	payload["level"] = level
	payload["msg"] = msg

	b, err := json.Marshal(payload)
	if err != nil {
		logger.Printf(`{"level":"error","msg":"log_marshal_failed","error":%q}`, err.Error())
		return
	}
	logger.Print(string(b))
}
