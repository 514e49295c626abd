package db

import (
	"database/sql"
	"fmt"
)

// CadenceEvent is one recorded cadence observation. Only violations are
// stored by the pipeline, but any state may be inserted.
type CadenceEvent struct {
	EventID      int64
	SessionID    string
	PacketIndex  uint64
	PacketTimeUs uint64
	// IntervalUs is nil for the first packet of a session.
	IntervalUs *int64
	State      string
	Forgivable bool
}

// InsertCadenceEvent stores e and returns its event id.
func (db *DB) InsertCadenceEvent(e CadenceEvent) (int64, error) {
	var interval sql.NullInt64
	if e.IntervalUs != nil {
		interval = sql.NullInt64{Int64: *e.IntervalUs, Valid: true}
	}
	res, err := db.Exec(`
		INSERT INTO cadence_events
			(session_id, packet_index, packet_time_us, interval_us, state, forgivable)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.SessionID, int64(e.PacketIndex), int64(e.PacketTimeUs), interval, e.State, e.Forgivable)
	if err != nil {
		return 0, fmt.Errorf("insert cadence event: %w", err)
	}
	return res.LastInsertId()
}

// ListCadenceEvents returns the events of a session in packet order.
// A non-empty state filters to that state only.
func (db *DB) ListCadenceEvents(sessionID, state string) ([]CadenceEvent, error) {
	query := `
		SELECT event_id, session_id, packet_index, packet_time_us, interval_us, state, forgivable
		FROM cadence_events WHERE session_id = ?`
	args := []any{sessionID}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY packet_index, event_id`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cadence events: %w", err)
	}
	defer rows.Close()

	var events []CadenceEvent
	for rows.Next() {
		var (
			e        CadenceEvent
			idx, ts  int64
			interval sql.NullInt64
		)
		if err := rows.Scan(&e.EventID, &e.SessionID, &idx, &ts, &interval, &e.State, &e.Forgivable); err != nil {
			return nil, fmt.Errorf("list cadence events: %w", err)
		}
		e.PacketIndex = uint64(idx)
		e.PacketTimeUs = uint64(ts)
		if interval.Valid {
			v := interval.Int64
			e.IntervalUs = &v
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountCadenceEvents returns the number of events per state for a session.
func (db *DB) CountCadenceEvents(sessionID string) (map[string]uint64, error) {
	rows, err := db.Query(`
		SELECT state, COUNT(*) FROM cadence_events
		WHERE session_id = ? GROUP BY state`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count cadence events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("count cadence events: %w", err)
		}
		counts[state] = uint64(n)
	}
	return counts, rows.Err()
}
