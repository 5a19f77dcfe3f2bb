package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fvfm-analyzer/internal/results"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenMigrates(t *testing.T) {
	s := openTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// running again is a no-op
	require.NoError(t, s.MigrateUp())
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)

	meta := results.Metadata{
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Images:    map[string]string{"fmin": "a.tif", "fmax": "b.tif"},
	}
	id, err := s.BeginRun(meta)
	require.NoError(t, err)
	assert.Len(t, id, 36)

	obs := []results.Observation{
		{Variable: "fvfm_median", Trait: "Fv/Fm median", Datatype: "<class 'float'>", Value: 0.75, Label: "none"},
		{Variable: "fvfm_hist", Value: []interface{}{1.0, 2.0}, Label: []interface{}{0.25, 0.75}},
		{Sample: "leaf", Variable: "area", Value: 42.0, Label: "pixels"},
	}
	require.NoError(t, s.SaveObservations(id, obs))
	require.NoError(t, s.FinishRun(id, nil))

	runs, err := s.Runs(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, StatusOK, runs[0].Status)
	assert.Equal(t, "a.tif", runs[0].FminPath)
	assert.Empty(t, runs[0].FdarkPath)
	assert.NotNil(t, runs[0].FinishedAt)

	got, err := s.Observations(id)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, results.DefaultSample, got[0].Sample)
	assert.Equal(t, "fvfm_hist", got[0].Variable)
	assert.Equal(t, []interface{}{1.0, 2.0}, got[0].Value)
	assert.Equal(t, "fvfm_median", got[1].Variable)
	assert.Equal(t, 0.75, got[1].Value)
	assert.Equal(t, "leaf", got[2].Sample)
}

func TestFinishRunFailed(t *testing.T) {
	s := openTestStore(t)

	id, err := s.BeginRun(results.Metadata{RunID: "fixed-id"})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)

	require.NoError(t, s.FinishRun(id, errors.New("stage threshold: boom")))

	runs, err := s.Runs(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.Equal(t, "stage threshold: boom", runs[0].Error)

	assert.ErrorIs(t, s.FinishRun("missing", nil), ErrRunNotFound)
}

func TestSaveObservationsUnknownRun(t *testing.T) {
	s := openTestStore(t)

	err := s.SaveObservations("nope", []results.Observation{{Variable: "area", Value: 1.0}})
	assert.Error(t, err)
}
