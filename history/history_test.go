package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := &Run{
		Command:     "run",
		Source:      "statue.mp4",
		StartedAt:   started,
		Duration:    4500 * time.Millisecond,
		Target:      60,
		TotalFrames: 1800,
		Selected:    60,
		Policy:      "normal",
		QualityMin:  0.41,
		QualityMax:  0.87,
		Segmented:   57,
		Unsegmented: 3,
		Diagnostics: []string{"frame 12: unreadable candidate"},
		Stages: map[string]time.Duration{
			"frames":  3 * time.Second,
			"segment": 1500 * time.Millisecond,
		},
	}

	id, err := s.Record(ctx, run)
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	if diff := cmp.Diff(*run, got); diff != "" {
		t.Errorf("run mismatch (-want +got):\n%s", diff)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, cmd := range []string{"frames", "segment", "run"} {
		_, err := s.Record(ctx, &Run{Command: cmd, Source: "x", StartedAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run", runs[0].Command)
	assert.Equal(t, "frames", runs[2].Command)
	assert.Empty(t, runs[0].Diagnostics)
	assert.Empty(t, runs[0].Stages)

	runs, err = s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestGetUnknown(t *testing.T) {
	s := openStore(t)
	_, err := s.Get(context.Background(), uuid.NewString())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Record(context.Background(), &Run{Command: "frames", Source: "a.mp4", FellBack: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].FellBack)
}
