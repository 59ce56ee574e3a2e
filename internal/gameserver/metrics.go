package gameserver

import "sync/atomic"

// Metrics counts gateway activity. All fields are updated atomically.
type Metrics struct {
	ConnectionsOpen  atomic.Int64
	ConnectionsTotal atomic.Int64
	EventsAccepted   atomic.Int64
	EventsRejected   atomic.Int64
	ChatRateLimited  atomic.Int64
	Moves            atomic.Int64
	PushFailures     atomic.Int64
	InternalErrors   atomic.Int64
}

// Snapshot returns a point-in-time copy suitable for JSON output.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"connections_open":  m.ConnectionsOpen.Load(),
		"connections_total": m.ConnectionsTotal.Load(),
		"events_accepted":   m.EventsAccepted.Load(),
		"events_rejected":   m.EventsRejected.Load(),
		"chat_rate_limited": m.ChatRateLimited.Load(),
		"moves":             m.Moves.Load(),
		"push_failures":     m.PushFailures.Load(),
		"internal_errors":   m.InternalErrors.Load(),
	}
}
