// Package standings turns raw lap lists into a ranked leaderboard.
package standings

import (
	"sort"
	"time"

	"github.com/ChuLiYu/lapboard/internal/laptime"
	"github.com/ChuLiYu/lapboard/pkg/types"
)

// SelectAndAverage averages the n best (MethodBest) or n most recent (MethodLast)
// valid laps. Malformed or out-of-range laps are dropped without error. ok is
// false when nothing is left to average.
func SelectAndAverage(raw []string, n int, method types.Method) (avg float64, count int, ok bool) {
	if n < 1 {
		return 0, 0, false
	}

	valid := make([]int64, 0, len(raw))
	for _, r := range raw {
		if ms, ok := laptime.ParseMillis(r); ok {
			valid = append(valid, ms)
		}
	}

	var selected []int64
	switch method {
	case types.MethodBest:
		sort.Slice(valid, func(i, j int) bool { return valid[i] < valid[j] })
		selected = valid[:min(n, len(valid))]
	case types.MethodLast:
		selected = valid[max(0, len(valid)-n):]
	default:
		return 0, 0, false
	}

	if len(selected) == 0 {
		return 0, 0, false
	}

	var sum int64
	for _, ms := range selected {
		sum += ms
	}
	return float64(sum) / float64(len(selected)) / 1000, len(selected), true
}

// Rank builds the leaderboard for a snapshot, fastest average first. Competitors
// without a single valid lap are left out.
func Rank(snap types.SessionSnapshot, q types.Query) types.Leaderboard {
	results := make([]types.RankedResult, 0, len(snap.Competitors))
	for _, c := range snap.Competitors {
		avg, count, ok := SelectAndAverage(c.RawLapTimes, q.Laps, q.Method)
		if !ok {
			continue
		}
		results = append(results, types.RankedResult{
			CompetitorID:   c.ID,
			Name:           c.Name,
			AverageSeconds: avg,
			Average:        laptime.Format(avg),
			BestTime:       c.BestTimeRaw,
			LapsCounted:    count,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].AverageSeconds < results[j].AverageSeconds
	})
	for i := range results {
		results[i].Position = i + 1
	}

	return types.Leaderboard{
		Query:     q,
		Results:   results,
		Missing:   len(snap.Missing),
		UpdatedAt: time.Now(),
	}
}
