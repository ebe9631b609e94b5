package sqlite

import (
	"context"
	"errors"
	"fmt"

	"agroscan/internal/model"

	"github.com/google/uuid"
)

// ErrMissingUser is returned when a call has no user id to namespace under.
var ErrMissingUser = errors.New("user id is required")

// DetectionRepository implements repository.DetectionRepository for SQLite.
// It is the offline record store; rows are keyed by a random push id.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// Append adds a new detection record for the user and returns its id.
func (r *DetectionRepository) Append(ctx context.Context, user *model.User, record model.DetectionRecord) (string, error) {
	if user == nil || user.ID == "" {
		return "", ErrMissingUser
	}

	r.db.Lock()
	defer r.db.Unlock()

	id := uuid.NewString()
	_, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO detections (id, user_id, class, confidence, severity, recommendation, timestamp, date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, user.ID, record.Class, record.Confidence, string(record.Severity), record.Recommendation, record.Timestamp, record.Date)
	if err != nil {
		return "", fmt.Errorf("failed to save detection: %w", err)
	}

	return id, nil
}

// FetchRecent returns at most limit records for the user, newest first.
func (r *DetectionRepository) FetchRecent(ctx context.Context, user *model.User, limit int) ([]model.DetectionRecord, error) {
	if user == nil || user.ID == "" {
		return nil, ErrMissingUser
	}
	if limit <= 0 {
		return []model.DetectionRecord{}, nil
	}

	r.db.RLock()
	defer r.db.RUnlock()

	return r.query(ctx, `
		SELECT id, class, confidence, severity, recommendation, timestamp, date
		FROM detections WHERE user_id = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?
	`, user.ID, limit)
}

// FetchAll returns every record for the user, oldest first. Used by the migrate tool.
func (r *DetectionRepository) FetchAll(ctx context.Context, userID string) ([]model.DetectionRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	return r.query(ctx, `
		SELECT id, class, confidence, severity, recommendation, timestamp, date
		FROM detections WHERE user_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`, userID)
}

// Count returns the number of records stored for the user.
func (r *DetectionRepository) Count(ctx context.Context, userID string) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	if err := r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM detections WHERE user_id = ?`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count detections: %w", err)
	}
	return count, nil
}

// DeleteByID removes a single record. Used after a record has been migrated.
func (r *DetectionRepository) DeleteByID(ctx context.Context, id string) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().ExecContext(ctx, `DELETE FROM detections WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete detection: %w", err)
	}
	return nil
}

func (r *DetectionRepository) query(ctx context.Context, query string, args ...interface{}) ([]model.DetectionRecord, error) {
	rows, err := r.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	records := []model.DetectionRecord{}
	for rows.Next() {
		var rec model.DetectionRecord
		var severity string
		if err := rows.Scan(&rec.ID, &rec.Class, &rec.Confidence, &severity, &rec.Recommendation, &rec.Timestamp, &rec.Date); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		rec.Severity = model.Severity(severity)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read detections: %w", err)
	}
	return records, nil
}
