package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avsafe-data/avsafe.report/internal/integrity"
	"github.com/avsafe-data/avsafe.report/internal/minute"
	"github.com/avsafe-data/avsafe.report/internal/monitoring"
	"github.com/avsafe-data/avsafe.report/internal/rules"
	"github.com/avsafe-data/avsafe.report/internal/sim"
)

func init() {
	monitoring.SetLogger(nil)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "avsafe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func simRecords(t *testing.T, n int) []minute.Record {
	t.Helper()
	records, err := sim.NewGenerator(sim.Config{
		Minutes: n,
		Start:   time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC),
		Seed:    7,
	}).Generate(context.Background())
	require.NoError(t, err)
	return records
}

func TestMigrations(t *testing.T) {
	s := openTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	// Down one step drops only rule_flags; sessions survive.
	ctx := context.Background()
	_, err = s.CreateSession(ctx, "dev", "default", "")
	require.NoError(t, err)
	require.NoError(t, s.MigrateDown())

	version, _, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	require.NoError(t, s.MigrateUp())
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "DEV-001", "berlin", "street-facing bedroom")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "berlin", sess.Locale)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, "DEV-001", got.DeviceID)
	assert.Equal(t, "street-facing bedroom", got.Note)
	assert.Equal(t, 0, got.NMinutes)

	_, err = s.GetSession(ctx, "no-such-session")
	assert.ErrorIs(t, err, ErrNotFound)

	// Empty locale falls back to "default".
	other, err := s.CreateSession(ctx, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, "default", other.Locale)

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestAppendAndReplay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "DEV-001", "default", "")
	require.NoError(t, err)

	records := simRecords(t, 10)
	for _, rec := range records {
		require.NoError(t, s.AppendRecord(ctx, sess.ID, rec))
	}

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.NMinutes)

	// The stored session replays exactly and still verifies.
	replay, err := s.Records(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, replay, 10)
	assert.Equal(t, records, replay)

	vr := integrity.Verify(ctx, replay, integrity.VerifyOptions{})
	assert.True(t, vr.ChainIntact(), "chain broken at %d", vr.BrokenIndex)

	hash, idx, ok, err := s.LastChainHash(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 9, idx)
	assert.Equal(t, records[9].Chain.Hash, hash)
}

func TestAppendEnforcesOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "", "default", "")
	require.NoError(t, err)
	records := simRecords(t, 3)

	// Skipping idx 0 is rejected.
	err = s.AppendRecord(ctx, sess.ID, records[1])
	var appendErr *AppendError
	require.True(t, errors.As(err, &appendErr))
	assert.Equal(t, 1, appendErr.Got)
	assert.Equal(t, 0, appendErr.Want)

	require.NoError(t, s.AppendRecord(ctx, sess.ID, records[0]))

	// Replaying idx 0 is rejected too; the session is append-only.
	err = s.AppendRecord(ctx, sess.ID, records[0])
	require.True(t, errors.As(err, &appendErr))
	assert.Equal(t, 0, appendErr.Got)
	assert.Equal(t, 1, appendErr.Want)

	replay, err := s.Records(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, replay, 1)

	// Appends to unknown sessions never create rows.
	err = s.AppendRecord(ctx, "no-such-session", records[0])
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLastChainHashEmptySession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "", "default", "")
	require.NoError(t, err)

	_, _, ok, err := s.LastChainHash(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveAndLoadFlags(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "", "default", "")
	require.NoError(t, err)

	flags := []rules.Flag{
		{
			RuleID:   rules.RuleNightLAeqExceed,
			Severity: rules.SeverityHigh,
			Detail:   "LAeq above 40 dB in 15.0% of night minutes (threshold 10.0%)",
			Evidence: rules.Evidence{
				Indices: []int{2, 5, 9},
				Metrics: map[string]float64{"exceedance_pct": 15, "limit_db": 40},
			},
		},
		{
			RuleID:   rules.RuleIncompleteData,
			Severity: rules.SeverityInfo,
			Detail:   "1 minutes lacked the descriptors or curve coverage a rule needed",
			Evidence: rules.Evidence{Indices: []int{7}},
		},
	}
	require.NoError(t, s.SaveFlags(ctx, sess.ID, flags))

	got, err := s.Flags(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, flags, got)

	// A re-evaluation replaces the stored findings.
	require.NoError(t, s.SaveFlags(ctx, sess.ID, flags[:1]))
	got, err = s.Flags(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
