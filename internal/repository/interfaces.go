package repository

import (
	"context"
	"errors"
	"sort"

	"agroscan/internal/model"
)

// ErrNotAuthorized is returned when the store rejects the user's credentials.
var ErrNotAuthorized = errors.New("record store rejected credentials")

// DetectionRepository stores detection records under a user's namespace.
type DetectionRepository interface {
	// Append stores the record and returns its id. Durable on success.
	Append(ctx context.Context, user *model.User, record model.DetectionRecord) (string, error)

	// FetchRecent returns at most limit records, newest first.
	FetchRecent(ctx context.Context, user *model.User, limit int) ([]model.DetectionRecord, error)
}

// NewestFirst orders records by timestamp ascending, keeps the last limit and
// reverses them. Stores must not rely on server-side ordering.
func NewestFirst(records []model.DetectionRecord, limit int) []model.DetectionRecord {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp < records[j].Timestamp
	})
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}

	out := make([]model.DetectionRecord, len(records))
	for i, r := range records {
		out[len(records)-1-i] = r
	}
	return out
}
