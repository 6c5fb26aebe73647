// Package models defines the values exchanged between the index manager, the search engine,
// the HTTP API and the CLI.
package models

import "time"

// Photo is one indexed photo as returned by list operations.
type Photo struct {
	Path    string `json:"path"`
	Caption string `json:"caption"`
}

// Hit is one nearest-neighbour result. Distance is the index metric distance (smaller is
// closer). Score is only set by the search engine, where larger is better.
type Hit struct {
	Path     string  `json:"path"`
	Caption  string  `json:"caption"`
	Distance float32 `json:"distance"`
	Score    float64 `json:"score,omitempty"`
}

// IndexStats summarizes one user's resident index.
type IndexStats struct {
	UserID     string    `json:"user_id"`
	Photos     int       `json:"photos"`
	Dimension  int       `json:"dimension"`
	Backend    string    `json:"backend"`
	Metric     string    `json:"metric"`
	DiskBytes  int64     `json:"disk_bytes"`
	LoadedFrom string    `json:"loaded_from"`
	LastUsed   time.Time `json:"last_used"`
}
