package store

import (
	"database/sql"
	"errors"
	"time"
)

// Attempt sources.
const (
	SourceLive  = "live"
	SourceStill = "still"
)

// Attempt is one finished authentication attempt.
type Attempt struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"room_id"`
	Source     string    `json:"source"`
	Outcome    string    `json:"outcome"`
	UserID     string    `json:"user_id,omitempty"`
	Similarity float64   `json:"similarity"`
	Failures   int       `json:"failures"`
	Frames     int       `json:"frames"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// AttemptRepository records and lists attempts.
type AttemptRepository struct {
	db *sql.DB
}

// Attempts returns the attempt repository for this store.
func (s *Store) Attempts() *AttemptRepository {
	return &AttemptRepository{db: s.db}
}

// Create inserts a new attempt. FinishedAt defaults to now.
func (r *AttemptRepository) Create(a *Attempt) error {
	if a.FinishedAt.IsZero() {
		a.FinishedAt = time.Now()
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = a.FinishedAt
	}

	_, err := r.db.Exec(
		`INSERT INTO attempts (id, room_id, source, outcome, user_id, similarity, failures, frames, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RoomID, a.Source, a.Outcome, a.UserID, a.Similarity, a.Failures, a.Frames, a.StartedAt, a.FinishedAt,
	)
	return err
}

// GetByID retrieves an attempt by its ID.
func (r *AttemptRepository) GetByID(id string) (*Attempt, error) {
	a := &Attempt{}
	err := r.db.QueryRow(
		`SELECT id, room_id, source, outcome, user_id, similarity, failures, frames, started_at, finished_at
		 FROM attempts WHERE id = ?`,
		id,
	).Scan(&a.ID, &a.RoomID, &a.Source, &a.Outcome, &a.UserID, &a.Similarity, &a.Failures, &a.Frames, &a.StartedAt, &a.FinishedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// ListByRoom returns the most recent attempts in a room, newest first.
// A limit of zero or less returns all of them.
func (r *AttemptRepository) ListByRoom(roomID string, limit int) ([]*Attempt, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT id, room_id, source, outcome, user_id, similarity, failures, frames, started_at, finished_at
		 FROM attempts WHERE room_id = ? ORDER BY finished_at DESC, id LIMIT ?`,
		roomID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []*Attempt{}
	for rows.Next() {
		a := &Attempt{}
		err := rows.Scan(&a.ID, &a.RoomID, &a.Source, &a.Outcome, &a.UserID, &a.Similarity, &a.Failures, &a.Frames, &a.StartedAt, &a.FinishedAt)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return attempts, nil
}

// DeleteByRoom removes a room's history and returns how many rows went.
func (r *AttemptRepository) DeleteByRoom(roomID string) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM attempts WHERE room_id = ?`, roomID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
