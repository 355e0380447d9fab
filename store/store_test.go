package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clinical-Copilot/Medical-Deep-Research/model"
)

func TestInMemoryStore(t *testing.T) {
	s := NewInMemoryStore()

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	older := RunRecord{
		ID:          "run-1",
		Query:       "aspirin interactions",
		Messages:    []model.Message{{Role: "user", Content: "aspirin interactions"}},
		FinalReport: "# Report",
		Started:     time.Now().Add(-time.Hour),
	}
	newer := RunRecord{ID: "run-2", Query: "statin trials", Started: time.Now()}

	require.NoError(t, s.Save(newer))
	require.NoError(t, s.Save(older))

	got, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "aspirin interactions", got.Query)
	assert.Equal(t, "# Report", got.FinalReport)

	// Mutating the returned copy must not affect the stored record.
	got.Messages[0].Content = "mutated"
	again, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "aspirin interactions", again.Messages[0].Content)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "run-1", list[0].ID) // oldest first
	assert.Equal(t, "run-2", list[1].ID)
}
