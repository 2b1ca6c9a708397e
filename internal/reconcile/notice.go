// ABOUTME: User-visible notices raised when a reconciler operation fails

package reconcile

import (
	"context"
	"fmt"
	"log/slog"
)

// Level is the severity of a Notice.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Notice is a transient message for the operator.
type Notice struct {
	Level   Level
	Message string
	Err     error
}

func (n Notice) String() string {
	if n.Err == nil {
		return n.Message
	}
	return fmt.Sprintf("%s: %v", n.Message, n.Err)
}

// Notifier receives notices. It is called without the reconciler lock held.
type Notifier func(Notice)

// LogNotifier writes notices to logger.
func LogNotifier(logger *slog.Logger) Notifier {
	return func(n Notice) {
		level := slog.LevelInfo
		switch n.Level {
		case LevelWarn:
			level = slog.LevelWarn
		case LevelError:
			level = slog.LevelError
		}
		if n.Err != nil {
			logger.Log(context.Background(), level, n.Message, "error", n.Err)
			return
		}
		logger.Log(context.Background(), level, n.Message)
	}
}
