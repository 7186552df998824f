package model

import (
	"strconv"
	"time"
)

// BoardEvent announces a committed board. Version identifies it: the feed
// delivers each (RunID, Version) at most once.
type BoardEvent struct {
	RunID   string    `json:"run_id"`
	Version int64     `json:"version"`
	Op      string    `json:"op"`
	Outcome Outcome   `json:"outcome"`
	Board   Board     `json:"board"`
	At      time.Time `json:"at"`
}

// Key is the delivery identity of the event.
func (e BoardEvent) Key() string {
	return e.RunID + "@" + strconv.FormatInt(e.Version, 10)
}
