// Package sink holds the ResultSink implementations the scheduler delivers to:
// a terminal table, an in-memory board, a structured log, and a fan-out that
// combines them.
package sink

import (
	"github.com/ChuLiYu/lapboard/internal/scheduler"
	"github.com/ChuLiYu/lapboard/pkg/types"
)

var (
	_ scheduler.Sink = (*Table)(nil)
	_ scheduler.Sink = (*Board)(nil)
	_ scheduler.Sink = (*Log)(nil)
	_ scheduler.Sink = Fanout(nil)
)

// Fanout forwards every call to each sink in order.
type Fanout []scheduler.Sink

func (f Fanout) OnLoadingStart() {
	for _, s := range f {
		s.OnLoadingStart()
	}
}

func (f Fanout) OnResult(board types.Leaderboard) {
	for _, s := range f {
		s.OnResult(board)
	}
}

func (f Fanout) OnError(err error) {
	for _, s := range f {
		s.OnError(err)
	}
}

func (f Fanout) OnLoadingEnd() {
	for _, s := range f {
		s.OnLoadingEnd()
	}
}
