package storage

import "time"

// RequestRecord is one finished bot request
type RequestRecord struct {
	ID         string    `db:"id" json:"id"`
	Network    string    `db:"network" json:"network"`
	Requester  string    `db:"requester" json:"requester"`
	Query      string    `db:"query" json:"query"`
	Outcome    string    `db:"outcome" json:"outcome"`
	Collected  int       `db:"collected" json:"collected"`
	Matched    int       `db:"matched" json:"matched"`
	DurationMS int64     `db:"duration_ms" json:"duration_ms"`
	Timestamp  time.Time `db:"timestamp" json:"timestamp"`
}

// OutcomeCount is the number of requests that ended with Outcome
type OutcomeCount struct {
	Outcome string `db:"outcome" json:"outcome"`
	Count   int    `db:"count" json:"count"`
}
