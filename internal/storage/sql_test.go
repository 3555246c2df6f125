package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLStore(context.Background(), ModeSQLite, filepath.Join(t.TempDir(), "dialer.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLStoreAttemptRecords(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	rec := types.AttemptRecord{
		CampaignID:  "c1",
		AttemptID:   "att-1",
		DateKey:     "2026-10-17",
		LeadID:      "lead-1",
		PhoneNumber: "+4930123",
		Outcome:     types.OutcomeAbandoned,
		IssuedAt:    "2026-10-17T09:00:00Z",
		CompletedAt: "2026-10-17T09:00:12Z",
		RingSecs:    12,
	}
	require.NoError(t, s.SaveAttemptRecord(ctx, rec))
	// duplicate saves are ignored
	require.NoError(t, s.SaveAttemptRecord(ctx, rec))

	other := rec
	other.AttemptID, other.CampaignID = "att-2", "c2"
	require.NoError(t, s.SaveAttemptRecord(ctx, other))

	got, err := s.GetAttemptRecords(ctx, "c1", "2026-10-17")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec, got[0])

	all, err := s.GetAttemptRecords(ctx, "", "2026-10-17")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := s.GetAttemptRecords(ctx, "c1", "2026-10-16")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLStorePacingConfigs(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	cfg := types.DefaultPacingConfig()
	cfg.DialMethod = types.DialRatio
	cfg.TargetRatio = 2.5
	require.NoError(t, s.SavePacingConfig(ctx, "c1", cfg))

	cfg.TargetRatio = 3.0
	require.NoError(t, s.SavePacingConfig(ctx, "c1", cfg))

	configs, err := s.LoadPacingConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, 3.0, configs["c1"].TargetRatio)
	assert.Equal(t, types.DialRatio, configs["c1"].DialMethod)
}

func TestSQLStoreLeadBacklog(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	added, err := s.AddLeads(ctx, "c1", []types.HopperEntry{
		{LeadID: "a", PhoneNumber: "+491"},
		{LeadID: "b", PhoneNumber: "+492"},
		{LeadID: "c", PhoneNumber: "+493"},
		{LeadID: "no-phone"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	added, err = s.AddLeads(ctx, "c1", []types.HopperEntry{{LeadID: "a", PhoneNumber: "+491"}})
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	first, err := s.FetchLeads(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0].LeadID)
	assert.Equal(t, "b", first[1].LeadID)
	assert.Equal(t, "c1", first[0].CampaignID)

	rest, err := s.FetchLeads(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", rest[0].LeadID)

	empty, err := s.FetchLeads(ctx, "c1", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSQLStoreTruncateAll(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.SavePacingConfig(ctx, "c1", types.DefaultPacingConfig()))
	_, err := s.AddLeads(ctx, "c1", []types.HopperEntry{{LeadID: "a", PhoneNumber: "+491"}})
	require.NoError(t, err)

	require.NoError(t, s.TruncateAll(ctx))

	configs, err := s.LoadPacingConfigs(ctx)
	require.NoError(t, err)
	assert.Empty(t, configs)
	leads, err := s.FetchLeads(ctx, "c1", 5)
	require.NoError(t, err)
	assert.Empty(t, leads)
}

func TestRebindPostgres(t *testing.T) {
	s := &SQLStore{dialect: ModePostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", s.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	s.dialect = ModeSQLite
	assert.Equal(t, "a = ?", s.rebind("a = ?"))
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORE_MODE", "")
	t.Setenv("DYNAMO_MODE", "")
	cfg := LoadConfig()
	assert.Equal(t, ModeNone, cfg.Mode)
	assert.Equal(t, DynamoModeLocal, cfg.Dynamo.Mode)
	assert.Equal(t, "monti-dialer-attempts", cfg.Dynamo.AttemptsTable)

	t.Setenv("STORE_MODE", "SQLite")
	assert.Equal(t, ModeSQLite, LoadConfig().Mode)

	t.Setenv("STORE_MODE", "mongo")
	assert.Equal(t, ModeNone, LoadConfig().Mode)
}

func TestNoopStoreSatisfiesStore(t *testing.T) {
	var s Store = NewNoopStore()
	recs, err := s.GetAttemptRecords(context.Background(), "c1", "2026-10-17")
	assert.NoError(t, err)
	assert.Nil(t, recs)
}
