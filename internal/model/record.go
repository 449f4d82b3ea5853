package model

// Record is one retired player on the leaderboard. PlayTime is in seconds.
type Record struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	PlayTime float64 `json:"playTime"`
}

// MaxRecordsPage is the largest page the records endpoint serves.
const MaxRecordsPage = 100
