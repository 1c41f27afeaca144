// ============================================================================
// lapboard Board - latest leaderboard state
// ============================================================================
//
// Package: internal/sink
// File: board.go
// Function: Keeps the most recent cycle outcome for readers such as the HTTP
//           API and the exporters.
//
// State transitions per cycle:
//   OnLoadingStart -> Loading = true
//   OnResult       -> Board replaced, LastError cleared
//   OnError        -> LastError set, previous Board kept
//   OnLoadingEnd   -> Loading = false, Cycles++
//
// Concurrency:
//   - sync.RWMutex guards every field
//   - readers get a copy via Snapshot(), never a pointer into the Board
//
// ============================================================================

package sink

import (
	"sync"
	"time"

	"github.com/ChuLiYu/lapboard/pkg/types"
)

// BoardState is a point-in-time copy of a Board.
type BoardState struct {
	Leaderboard *types.Leaderboard `json:"leaderboard,omitempty"`
	LastError   string             `json:"last_error,omitempty"`
	ErrorAt     time.Time          `json:"error_at"`
	Loading     bool               `json:"loading"`
	Cycles      int                `json:"cycles"`
}

// Board is a Sink that remembers the latest outcome.
type Board struct {
	mu      sync.RWMutex
	board   *types.Leaderboard
	lastErr error
	errAt   time.Time
	loading bool
	cycles  int
}

// NewBoard creates an empty Board
func NewBoard() *Board {
	return &Board{}
}

func (b *Board) OnLoadingStart() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loading = true
}

func (b *Board) OnResult(board types.Leaderboard) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.board = &board
	b.lastErr = nil
	b.errAt = time.Time{}
}

func (b *Board) OnError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastErr = err
	b.errAt = time.Now()
}

func (b *Board) OnLoadingEnd() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loading = false
	b.cycles++
}

// Snapshot returns a copy of the current state.
func (b *Board) Snapshot() BoardState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	state := BoardState{
		Loading: b.loading,
		Cycles:  b.cycles,
		ErrorAt: b.errAt,
	}
	if b.board != nil {
		lb := *b.board
		lb.Results = append([]types.RankedResult(nil), b.board.Results...)
		state.Leaderboard = &lb
	}
	if b.lastErr != nil {
		state.LastError = b.lastErr.Error()
	}
	return state
}

// Err returns the error of the latest failed cycle, or nil after a success.
func (b *Board) Err() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr
}
