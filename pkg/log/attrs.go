package log

import (
	"log/slog"
	"time"
)

func RunID[T ~string](id T) slog.Attr {
	return slog.String("run_id", string(id))
}

func FlowID[T ~string](id T) slog.Attr {
	return slog.String("flow_id", string(id))
}

func StepName(name string) slog.Attr {
	return slog.String("step", name)
}

func Capability(name string) slog.Attr {
	return slog.String("capability", name)
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Duration(d time.Duration) slog.Attr {
	return slog.Int64("duration_ms", d.Milliseconds())
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
