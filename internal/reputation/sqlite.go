package reputation

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver; the kernel must not force cgo on embedders
)

// SQLitePersistence is an alternative Persistence backend for
// deployments that want queryable reputation history instead of an
// opaque JSON blob (spec §6.2 treats the snapshot schema as opaque to
// the rest of the system, so either backend satisfies the contract).
type SQLitePersistence struct {
	DB *sql.DB
}

// OpenSQLitePersistence opens (and migrates) a sqlite-backed reputation
// store at path.
func OpenSQLitePersistence(path string) (*SQLitePersistence, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("reputation: open sqlite: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS reputation_entries (
	pattern_id      TEXT PRIMARY KEY,
	pattern_type    TEXT NOT NULL,
	pattern         TEXT NOT NULL,
	bot_score       REAL NOT NULL,
	evidence_count  REAL NOT NULL,
	last_update     INTEGER NOT NULL,
	first_seen      INTEGER NOT NULL,
	state           TEXT NOT NULL,
	gc_eligible_at  INTEGER
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("reputation: migrate sqlite: %w", err)
	}
	return &SQLitePersistence{DB: db}, nil
}

// Save replaces the table contents with entries inside a single
// transaction.
func (p *SQLitePersistence) Save(entries map[string]Entry) error {
	tx, err := p.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM reputation_entries`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO reputation_entries
		(pattern_id, pattern_type, pattern, bot_score, evidence_count, last_update, first_seen, state, gc_eligible_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		var gcAt interface{}
		if !e.GCEligibleAt.IsZero() {
			gcAt = e.GCEligibleAt.UnixNano()
		}
		if _, err := stmt.Exec(e.PatternID, string(e.PatternType), e.Pattern, e.BotScore,
			e.EvidenceCount, e.LastUpdate.UnixNano(), e.FirstSeen.UnixNano(), string(e.State), gcAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Load reads every row back into the in-memory entry map.
func (p *SQLitePersistence) Load() (map[string]Entry, error) {
	rows, err := p.DB.Query(`SELECT pattern_id, pattern_type, pattern, bot_score, evidence_count,
		last_update, first_seen, state, gc_eligible_at FROM reputation_entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Entry)
	for rows.Next() {
		var e Entry
		var patternType, state string
		var lastUpdate, firstSeen int64
		var gcAt sql.NullInt64
		if err := rows.Scan(&e.PatternID, &patternType, &e.Pattern, &e.BotScore, &e.EvidenceCount,
			&lastUpdate, &firstSeen, &state, &gcAt); err != nil {
			return nil, err
		}
		e.PatternType = PatternType(patternType)
		e.State = State(state)
		e.LastUpdate = time.Unix(0, lastUpdate)
		e.FirstSeen = time.Unix(0, firstSeen)
		if gcAt.Valid {
			e.GCEligibleAt = time.Unix(0, gcAt.Int64)
		}
		out[e.PatternID] = e
	}
	return out, rows.Err()
}
