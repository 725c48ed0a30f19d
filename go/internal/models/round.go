package models

import "time"

// RoundResult is one participant's outcome in an archived round.
type RoundResult struct {
	Token       string  `json:"token"`
	DisplayName string  `json:"displayName"`
	Color       string  `json:"color"`
	Prompt      string  `json:"prompt"`
	ImageURL    *string `json:"imageUrl"`
	Votes       int     `json:"votes"`
	Winner      bool    `json:"winner"`
}

// RoundRecord is the archive of a finished round.
type RoundRecord struct {
	ID        string        `json:"id"`
	SessionID string        `json:"sessionId"`
	Round     int           `json:"round"`
	Theme     string        `json:"theme"`
	Results   []RoundResult `json:"results"`
	EndedAt   time.Time     `json:"endedAt"`
}

// Winners returns the tokens marked as winners.
func (r *RoundRecord) Winners() []string {
	var out []string
	for _, res := range r.Results {
		if res.Winner {
			out = append(out, res.Token)
		}
	}
	return out
}
