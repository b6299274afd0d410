package config

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsInMockMode(t *testing.T) {
	t.Setenv("PAYPAL_MODE", "mock")
	t.Setenv("BLUEPRINT_DB_HOST", "db.internal")
	t.Setenv("RECONCILE_INTERVAL", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.HTTPAddress)
	assert.True(t, cfg.MockProvider())
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Contains(t, cfg.DB.DSN(), "@db.internal:5432/unlocker")
	assert.Len(t, cfg.CORSOrigins, 2)
}

func TestLoadRequiresPayPalCredentials(t *testing.T) {
	t.Setenv("PAYPAL_MODE", "live")
	t.Setenv("PAYPAL_CLIENT_ID", "")
	t.Setenv("PAYPAL_CLIENT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Setenv("PAYPAL_MODE", "stripe")
	_, err := Load()
	assert.ErrorContains(t, err, "unknown PAYPAL_MODE")
}

func TestLocationFallsBack(t *testing.T) {
	cfg := &Config{DisplayTimezone: "Not/AZone"}
	_, offset := time.Date(2025, 1, 1, 0, 0, 0, 0, cfg.Location()).Zone()
	assert.Equal(t, 3*60*60, offset)
}

func TestDSNEscapesCredentials(t *testing.T) {
	db := DB{
		Host: "db.internal", Port: "5432", Database: "unlocker",
		Username: "svc@unlock", Password: "p@ss/w:rd?#", Schema: "orders",
	}

	cfg, err := pgconn.ParseConfig(db.DSN())
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, uint16(5432), cfg.Port)
	assert.Equal(t, "unlocker", cfg.Database)
	assert.Equal(t, "svc@unlock", cfg.User)
	assert.Equal(t, "p@ss/w:rd?#", cfg.Password)
	assert.Equal(t, "orders", cfg.RuntimeParams["search_path"])
}
