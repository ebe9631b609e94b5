package repository

import (
	"testing"

	"agroscan/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestNewestFirst(t *testing.T) {
	records := []model.DetectionRecord{
		{ID: "b", Timestamp: 20},
		{ID: "d", Timestamp: 40},
		{ID: "a", Timestamp: 10},
		{ID: "c", Timestamp: 30},
	}

	ids := func(rs []model.DetectionRecord) []string {
		var out []string
		for _, r := range rs {
			out = append(out, r.ID)
		}
		return out
	}

	assert.Equal(t, []string{"d", "c", "b", "a"}, ids(NewestFirst(append([]model.DetectionRecord(nil), records...), 0)))
	assert.Equal(t, []string{"d", "c"}, ids(NewestFirst(append([]model.DetectionRecord(nil), records...), 2)))
	assert.Empty(t, NewestFirst(nil, 5))
}
