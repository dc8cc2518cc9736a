package model

import "time"

// Stats is the aggregate snapshot returned by MemoryStore.Stats.
type Stats struct {
	TotalEntries int       `json:"total_entries"`
	ThreadCount  int       `json:"thread_count"`
	LastUpdated  time.Time `json:"last_updated"`
}
