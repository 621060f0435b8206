package store

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/resourceswap/internal/config"
	"github.com/xtrntr/resourceswap/internal/exchange"
	"github.com/xtrntr/resourceswap/internal/models"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.Config{StoreDriver: "mongo"}, quietLogger())
	assert.Error(t, err)
}

func TestRestore_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{StoreDriver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "swap.db")}
	policy := exchange.DefaultPolicy()
	now := time.Unix(1_700_000_000, 0).UTC()

	s, err := Open(ctx, cfg, quietLogger())
	require.NoError(t, err)
	ex, err := Restore(ctx, s, policy, quietLogger())
	require.NoError(t, err)

	id, err := ex.MintResource(ctx, "alice", models.Metadata{Name: "Lapin", Type: "animal", Tier: 1}, now)
	require.NoError(t, err)
	require.NoError(t, ex.Approve(ctx, "alice", id, policy.Operator, now))
	require.NoError(t, s.Close())

	s, err = Open(ctx, cfg, quietLogger())
	require.NoError(t, err)
	defer s.Close()
	restored, err := Restore(ctx, s, policy, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, ex.Snapshot(), restored.Snapshot())

	// The restored exchange keeps journaling where the old one stopped
	_, err = restored.MintResource(ctx, "bob", models.Metadata{Name: "Singe"}, now)
	require.NoError(t, err)
	events, err := s.LoadEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(3), events[2].Seq)
}
