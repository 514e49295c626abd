package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session id has no row.
var ErrSessionNotFound = errors.New("session not found")

// Session describes one decode run over a single packet source.
// Times are microseconds since the Unix epoch.
type Session struct {
	SessionID string
	Source    string
	Model     string
	StartedAt int64
	// FinishedAt is zero until FinishSession is called.
	FinishedAt int64
	Summary    SessionSummary
}

// SessionSummary carries the counters recorded when a session finishes.
type SessionSummary struct {
	FiringPackets          uint64
	PositionPackets        uint64
	UnknownPackets         uint64
	DecodeErrors           uint64
	Points                 uint64
	ClampedBlocks          uint64
	GoodPackets            uint64
	MonotonicityViolations uint64
	TimingViolations       uint64
	// FirstPacketUs and LastPacketUs are zero when no firing packet was seen.
	FirstPacketUs uint64
	LastPacketUs  uint64
}

// CreateSession inserts a new open session.
func (db *DB) CreateSession(s Session) error {
	if s.SessionID == "" {
		return fmt.Errorf("create session: empty session id")
	}
	_, err := db.Exec(`
		INSERT INTO sessions (session_id, source, model, started_at)
		VALUES (?, ?, ?, ?)`,
		s.SessionID, s.Source, s.Model, s.StartedAt)
	if err != nil {
		return fmt.Errorf("create session %s: %w", s.SessionID, err)
	}
	return nil
}

// FinishSession stamps the finish time and stores the summary counters.
func (db *DB) FinishSession(sessionID string, finishedAt int64, sum SessionSummary) error {
	res, err := db.Exec(`
		UPDATE sessions SET
			finished_at = ?,
			firing_packets = ?,
			position_packets = ?,
			unknown_packets = ?,
			decode_errors = ?,
			points = ?,
			clamped_blocks = ?,
			good_packets = ?,
			monotonicity_violations = ?,
			timing_violations = ?,
			first_packet_us = ?,
			last_packet_us = ?
		WHERE session_id = ?`,
		finishedAt,
		int64(sum.FiringPackets),
		int64(sum.PositionPackets),
		int64(sum.UnknownPackets),
		int64(sum.DecodeErrors),
		int64(sum.Points),
		int64(sum.ClampedBlocks),
		int64(sum.GoodPackets),
		int64(sum.MonotonicityViolations),
		int64(sum.TimingViolations),
		nullableUs(sum.FirstPacketUs),
		nullableUs(sum.LastPacketUs),
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("finish session %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish session %s: %w", sessionID, err)
	}
	if n == 0 {
		return fmt.Errorf("finish session %s: %w", sessionID, ErrSessionNotFound)
	}
	return nil
}

// GetSession loads a session by id.
func (db *DB) GetSession(sessionID string) (*Session, error) {
	var (
		s          Session
		finishedAt sql.NullInt64
		first      sql.NullInt64
		last       sql.NullInt64
		counts     [9]int64
	)
	err := db.QueryRow(`
		SELECT session_id, source, model, started_at, finished_at,
			firing_packets, position_packets, unknown_packets, decode_errors,
			points, clamped_blocks, good_packets,
			monotonicity_violations, timing_violations,
			first_packet_us, last_packet_us
		FROM sessions WHERE session_id = ?`, sessionID).Scan(
		&s.SessionID, &s.Source, &s.Model, &s.StartedAt, &finishedAt,
		&counts[0], &counts[1], &counts[2], &counts[3],
		&counts[4], &counts[5], &counts[6],
		&counts[7], &counts[8],
		&first, &last,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get session %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}

	s.FinishedAt = finishedAt.Int64
	s.Summary = SessionSummary{
		FiringPackets:          uint64(counts[0]),
		PositionPackets:        uint64(counts[1]),
		UnknownPackets:         uint64(counts[2]),
		DecodeErrors:           uint64(counts[3]),
		Points:                 uint64(counts[4]),
		ClampedBlocks:          uint64(counts[5]),
		GoodPackets:            uint64(counts[6]),
		MonotonicityViolations: uint64(counts[7]),
		TimingViolations:       uint64(counts[8]),
		FirstPacketUs:          uint64(first.Int64),
		LastPacketUs:           uint64(last.Int64),
	}
	return &s, nil
}

// ListSessions returns the most recent sessions first, up to limit rows.
func (db *DB) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT session_id FROM sessions
		ORDER BY started_at DESC, session_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	// Close before issuing more queries on the single connection.
	rows.Close()

	sessions := make([]Session, 0, len(ids))
	for _, id := range ids {
		s, err := db.GetSession(id)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, nil
}

func nullableUs(us uint64) sql.NullInt64 {
	if us == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(us), Valid: true}
}
