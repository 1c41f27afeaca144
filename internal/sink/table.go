package sink

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ChuLiYu/lapboard/pkg/types"
)

const nameWidth = 20

var (
	posStyle   = lipgloss.NewStyle().Align(lipgloss.Left).Width(10)
	nameStyle  = lipgloss.NewStyle().Align(lipgloss.Left).Width(nameWidth+2).Padding(0, 1, 0, 1)
	timeStyle  = lipgloss.NewStyle().Align(lipgloss.Right).Width(20)
	titleStyle = lipgloss.NewStyle().Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	leadColor  = lipgloss.Color("#00FF00")
	separator  = strings.Repeat("-", 80)
)

// Table renders each leaderboard as a fixed-width text table, replacing the
// previous one the way a results pane would.
type Table struct {
	mu      sync.Mutex
	w       io.Writer
	clear   bool
	loading bool
}

// NewTable writes to w. With clear set, the terminal is cleared before every
// board.
func NewTable(w io.Writer, clear bool) *Table {
	return &Table{w: w, clear: clear}
}

func (t *Table) OnLoadingStart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loading = true
}

func (t *Table) OnResult(board types.Leaderboard) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.clear {
		fmt.Fprint(t.w, "\033[H\033[2J")
	}
	fmt.Fprint(t.w, RenderTable(board))
}

func (t *Table) OnError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, errStyle.Render("Error: "+err.Error()))
}

func (t *Table) OnLoadingEnd() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loading = false
}

// Loading reports whether a cycle is in progress.
func (t *Table) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading
}

// RenderTable formats a leaderboard: Position, Name, Average Lap Time, Best Time.
func RenderTable(board types.Leaderboard) string {
	var b strings.Builder

	title := fmt.Sprintf("Event %s, Session %s: average of %s %d laps, updated %s",
		board.Query.EventID,
		board.Query.SessionID,
		board.Query.Method,
		board.Query.Laps,
		board.UpdatedAt.Format(time.TimeOnly))
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		posStyle.Render("Position"),
		nameStyle.Render("Name"),
		timeStyle.Render("Average Lap Time"),
		timeStyle.Render("Best Time")))
	b.WriteString("\n")
	b.WriteString(separator)
	b.WriteString("\n")

	for _, r := range board.Results {
		name := nameStyle
		if r.Position == 1 {
			name = name.Foreground(leadColor)
		}
		best := r.BestTime
		if best == "" {
			best = "-"
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			posStyle.Render(fmt.Sprintf("%d", r.Position)),
			name.Render(truncate(r.Name, nameWidth)),
			timeStyle.Render(r.Average),
			timeStyle.Render(best)))
		b.WriteString("\n")
	}

	if board.Missing > 0 {
		fmt.Fprintf(&b, "%d competitor(s) no longer available\n", board.Missing)
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
