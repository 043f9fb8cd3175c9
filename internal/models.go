package internal

import "time"

// RawEntry is one leaderboard entry exactly as the API returned it.
type RawEntry map[string]interface{}

const (
	ColPlayerName = "player_name"
	ColSummonerID = "summoner_id"
	ColLP         = "lp"
	ColWins       = "wins"
	ColLosses     = "losses"
	ColTotalGames = "total_games"
	ColWinRate    = "win_rate"
)

// UnknownPlayerName fills player_name when the source omits it.
const UnknownPlayerName = "Unknown"

type PlayerRecord struct {
	PlayerName string    `json:"player_name"`
	SummonerID string    `json:"summoner_id"`
	LP         int       `json:"lp"`
	Wins       int       `json:"wins"`
	Losses     int       `json:"losses"`
	TotalGames int       `json:"total_games"`
	WinRate    float64   `json:"win_rate"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// PipelineRunTask is published on the run subject by the scheduler.
type PipelineRunTask struct {
	RunID       string    `json:"run_id"`
	Mode        RunMode   `json:"mode"`
	Region      string    `json:"region"`
	RequestedAt time.Time `json:"requested_at"`
}

// Snapshot is the dashboard-facing copy of the last successful load.
type Snapshot struct {
	RunID      string         `json:"run_id"`
	Region     string         `json:"region"`
	LoadedAt   time.Time      `json:"loaded_at"`
	TotalCount int            `json:"total_count"`
	Players    []PlayerRecord `json:"players"`
}
