package handler

import (
	"net/http"
)

// RoomStats reports websocket audience sizes.
type RoomStats interface {
	TotalSubscribers() int
	Rooms() map[string]int
}

// CountdownStats reports how many countdowns are running.
type CountdownStats interface {
	Active() int
}

// StatsHandler serves live audience and countdown counters.
type StatsHandler struct {
	Mode       string
	rooms      RoomStats
	countdowns CountdownStats
}

// NewStatsHandler creates a StatsHandler. countdowns may be nil when this
// instance runs no scheduler.
func NewStatsHandler(mode string, rooms RoomStats, countdowns CountdownStats) *StatsHandler {
	return &StatsHandler{Mode: mode, rooms: rooms, countdowns: countdowns}
}

// GetStats responds with online subscriber count, per-auction room sizes and
// the number of running countdowns.
// GET /api/stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	active := 0
	if h.countdowns != nil {
		active = h.countdowns.Active()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":              h.Mode,
		"online_users":      h.rooms.TotalSubscribers(),
		"rooms":             h.rooms.Rooms(),
		"active_countdowns": active,
	})
}
