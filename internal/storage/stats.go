package storage

import (
	"database/sql"
	"fmt"
)

// ReactionRow is one reactions_log row in wire-friendly form.
type ReactionRow struct {
	ID              int64    `json:"id"`
	UserID          string   `json:"userId"`
	Timestamp       int64    `json:"timestamp"`
	IsSmiling       bool     `json:"isSmiling"`
	IsSurprised     bool     `json:"isSurprised"`
	IsConcentrating bool     `json:"isConcentrating"`
	IsHandUp        bool     `json:"isHandUp"`
	NodCount        int      `json:"nodCount"`
	SwayVertical    int      `json:"swayVerticalCount"`
	SwayHorizontal  int      `json:"swayHorizontalCount"`
	ShakeHead       int      `json:"shakeHeadCount"`
	CheerCount      int      `json:"cheerCount"`
	ClapCount       int      `json:"clapCount"`
	VideoTime       *float64 `json:"videoTime"`
	SessionID       *string  `json:"sessionId"`
}

// EffectRow is one effects_log row in wire-friendly form.
type EffectRow struct {
	ID          int64    `json:"id"`
	Timestamp   int64    `json:"timestamp"`
	EffectType  string   `json:"effectType"`
	Intensity   float64  `json:"intensity"`
	DurationMS  int      `json:"durationMs"`
	SessionID   *string  `json:"sessionId"`
	VideoTime   *float64 `json:"videoTime"`
	ActiveUsers *int     `json:"activeUsers"`
}

// EffectTypeStat aggregates effects_log per effect type.
type EffectTypeStat struct {
	EffectType    string  `json:"effectType"`
	Count         int     `json:"count"`
	AvgIntensity  float64 `json:"avgIntensity"`
	MinIntensity  float64 `json:"minIntensity"`
	MaxIntensity  float64 `json:"maxIntensity"`
	AvgDurationMS float64 `json:"avgDurationMs"`
}

// TableCounts returns per-table row counts for the debug endpoint.
func (s *Store) TableCounts() (map[string]int, error) {
	counts := make(map[string]int, 4)
	for _, table := range []string{"users", "sessions", "reactions_log", "effects_log"} {
		var n int
		// Table names come from the fixed list above, never from input.
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// RecentReactions returns the newest n reactions_log rows, newest first.
func (s *Store) RecentReactions(n int) ([]ReactionRow, error) {
	rows, err := s.db.Query(s.rebind(
		`SELECT id, user_id, timestamp,
			is_smiling, is_surprised, is_concentrating, is_hand_up,
			nod_count, sway_vertical_count, sway_horizontal_count,
			shake_head_count, cheer_count, clap_count,
			video_time, session_id
		 FROM reactions_log ORDER BY id DESC LIMIT ?`), n)
	if err != nil {
		return nil, fmt.Errorf("recent reactions: %w", err)
	}
	defer rows.Close()

	out := make([]ReactionRow, 0, n)
	for rows.Next() {
		var r ReactionRow
		var videoTime sql.NullFloat64
		var sessionID sql.NullString
		if err := rows.Scan(&r.ID, &r.UserID, &r.Timestamp,
			&r.IsSmiling, &r.IsSurprised, &r.IsConcentrating, &r.IsHandUp,
			&r.NodCount, &r.SwayVertical, &r.SwayHorizontal,
			&r.ShakeHead, &r.CheerCount, &r.ClapCount,
			&videoTime, &sessionID); err != nil {
			return nil, fmt.Errorf("scan reaction row: %w", err)
		}
		if videoTime.Valid {
			r.VideoTime = &videoTime.Float64
		}
		if sessionID.Valid {
			r.SessionID = &sessionID.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentEffects returns the newest n effects_log rows, newest first.
func (s *Store) RecentEffects(n int) ([]EffectRow, error) {
	rows, err := s.db.Query(s.rebind(
		`SELECT id, timestamp, effect_type, intensity, duration_ms,
			session_id, video_time, active_users
		 FROM effects_log ORDER BY id DESC LIMIT ?`), n)
	if err != nil {
		return nil, fmt.Errorf("recent effects: %w", err)
	}
	defer rows.Close()

	out := make([]EffectRow, 0, n)
	for rows.Next() {
		var e EffectRow
		var sessionID sql.NullString
		var videoTime sql.NullFloat64
		var activeUsers sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EffectType, &e.Intensity,
			&e.DurationMS, &sessionID, &videoTime, &activeUsers); err != nil {
			return nil, fmt.Errorf("scan effect row: %w", err)
		}
		if sessionID.Valid {
			e.SessionID = &sessionID.String
		}
		if videoTime.Valid {
			e.VideoTime = &videoTime.Float64
		}
		if activeUsers.Valid {
			v := int(activeUsers.Int64)
			e.ActiveUsers = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EffectTypeStats aggregates effects_log per effect type, most frequent first.
func (s *Store) EffectTypeStats() ([]EffectTypeStat, error) {
	rows, err := s.db.Query(
		`SELECT effect_type, COUNT(*),
			AVG(intensity), MIN(intensity), MAX(intensity),
			AVG(duration_ms)
		 FROM effects_log GROUP BY effect_type ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, fmt.Errorf("effect type stats: %w", err)
	}
	defer rows.Close()

	var out []EffectTypeStat
	for rows.Next() {
		var st EffectTypeStat
		if err := rows.Scan(&st.EffectType, &st.Count,
			&st.AvgIntensity, &st.MinIntensity, &st.MaxIntensity,
			&st.AvgDurationMS); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
