package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maestro-ai/maestro/pkg/models"
)

// CreateRun inserts a new run record.
func (db *DB) CreateRun(r *models.Run) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO runs (id, goal, status, created_at)
		VALUES (?, ?, ?, ?)
	`, r.ID, r.Goal, string(r.Status), r.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create run %s: %w", r.ID, err)
	}
	return nil
}

// UpdateRunStatus records a run's status transition. For terminal statuses
// the finish time is recorded as well.
func (db *DB) UpdateRunStatus(id string, status models.RunStatus) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var finishedAt any
	if status.Terminal() {
		finishedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	_, err := db.conn.Exec(`
		UPDATE runs SET status = ?, finished_at = COALESCE(?, finished_at) WHERE id = ?
	`, string(status), finishedAt, id)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	return nil
}

// GetRun fetches a single run by ID.
func (db *DB) GetRun(id string) (*models.Run, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRow(`
		SELECT id, goal, status, created_at, finished_at FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

// ListRuns returns all runs, newest first.
func (db *DB) ListRuns() ([]models.Run, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT id, goal, status, created_at, finished_at FROM runs
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanRun.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*models.Run, error) {
	var (
		r          models.Run
		status     string
		createdAt  string
		finishedAt sql.NullString
	)
	if err := s.Scan(&r.ID, &r.Goal, &status, &createdAt, &finishedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found")
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Status = models.RunStatus(status)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		r.CreatedAt = t
	}
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAt.String); err == nil {
			r.FinishedAt = &t
		}
	}
	return &r, nil
}

// AppendEvent records one event in the run's journal. The sequence number
// assigned by the bus is the primary key, so replays are idempotent.
func (db *DB) AppendEvent(runID string, ev models.Event) error {
	content, err := json.Marshal(ev.Content)
	if err != nil {
		return fmt.Errorf("marshal %s content: %w", ev.Type, err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	_, err = db.conn.Exec(`
		INSERT OR IGNORE INTO events (run_id, seq, type, agent, ts, content_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, ev.Seq, string(ev.Type), ev.Agent, ev.Timestamp.UTC().Format(time.RFC3339Nano), string(content))
	if err != nil {
		return fmt.Errorf("append event %s/%d: %w", runID, ev.Seq, err)
	}
	return nil
}

// ListEvents returns a run's journal in sequence order, starting at fromSeq.
func (db *DB) ListEvents(runID string, fromSeq uint64) ([]models.Event, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT seq, type, agent, ts, content_json FROM events
		WHERE run_id = ? AND seq >= ?
		ORDER BY seq ASC
	`, runID, fromSeq)
	if err != nil {
		return nil, fmt.Errorf("list events %s: %w", runID, err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var (
			seq     uint64
			evType  string
			agent   string
			ts      string
			content string
		)
		if err := rows.Scan(&seq, &evType, &agent, &ts, &content); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		// Re-encode through the envelope so the tagged payload decodes
		// into its concrete type.
		envelope := fmt.Sprintf(`{"seq":%d,"type":%q,"agent":%q,"ts":%q,"content":%s}`,
			seq, evType, agent, ts, content)
		var ev models.Event
		if err := json.Unmarshal([]byte(envelope), &ev); err != nil {
			return nil, fmt.Errorf("decode event %s/%d: %w", runID, seq, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
