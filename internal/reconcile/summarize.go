package reconcile

import (
	"sort"
	"time"

	"github.com/lampioni/lampioni/internal/model"
)

// LeaderboardSize is the number of contributors kept in the summary.
const LeaderboardSize = 20

// Summarize derives the summary from the catalog. It depends only on the
// baseline ids, the new entities and now.
func Summarize(c model.Catalog, now time.Time) model.Summary {
	return model.Summary{
		BaselineCount:  len(c.BaselineIDs),
		NewCount:       len(c.NewEntities),
		LastUpdated:    now.UTC().Format(time.RFC3339),
		Leaderboard:    Leaderboard(c.NewEntities, LeaderboardSize),
		DailyAdditions: DailyAdditions(c.NewEntities),
	}
}

// Leaderboard counts entities per contributor, highest first. Equal counts
// are ordered by contributor name. n <= 0 keeps every contributor.
func Leaderboard(entities []model.Entity, n int) []model.LeaderboardEntry {
	counts := make(map[string]int)
	for _, e := range entities {
		user := e.Contributor
		if user == "" {
			user = model.UnknownContributor
		}
		counts[user]++
	}

	board := make([]model.LeaderboardEntry, 0, len(counts))
	for user, count := range counts {
		board = append(board, model.LeaderboardEntry{User: user, Count: count})
	}
	sort.Slice(board, func(i, j int) bool {
		if board[i].Count != board[j].Count {
			return board[i].Count > board[j].Count
		}
		return board[i].User < board[j].User
	})
	if n > 0 && len(board) > n {
		board = board[:n]
	}
	return board
}

// DailyAdditions counts entities per date_added.
func DailyAdditions(entities []model.Entity) map[string]int {
	daily := make(map[string]int)
	for _, e := range entities {
		date := e.DateAdded
		if date == "" {
			date = "unknown"
		}
		daily[date]++
	}
	return daily
}

// SortedDays returns the histogram keys in ascending order.
func SortedDays(daily map[string]int) []string {
	days := make([]string, 0, len(daily))
	for d := range daily {
		days = append(days, d)
	}
	sort.Strings(days)
	return days
}
