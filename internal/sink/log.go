package sink

import (
	"log/slog"

	"github.com/ChuLiYu/lapboard/pkg/types"
)

// Log writes every cycle outcome to a structured logger.
type Log struct {
	log *slog.Logger
}

// NewLog logs to logger, or slog.Default() when nil.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{log: logger}
}

func (l *Log) OnLoadingStart() {
	l.log.Debug("loading leaderboard")
}

func (l *Log) OnResult(board types.Leaderboard) {
	args := []any{
		"event", board.Query.EventID,
		"session", board.Query.SessionID,
		"ranked", len(board.Results),
		"missing", board.Missing,
	}
	if len(board.Results) > 0 {
		lead := board.Results[0]
		args = append(args, "leader", lead.Name, "average", lead.Average)
	}
	l.log.Info("leaderboard updated", args...)
}

func (l *Log) OnError(err error) {
	l.log.Error("leaderboard refresh failed", "error", err)
}

func (l *Log) OnLoadingEnd() {
	l.log.Debug("loading finished")
}
