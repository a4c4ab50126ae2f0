package runstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	store, err := Open(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(ctx))
	return store
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.Migrate(ctx))

	var version int
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&version))
	assert.Equal(t, SchemaVersion, version)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle", Path: ":memory:"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported run store driver")
}

func TestOpenPostgresRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "postgres"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a url")
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{name: "memory", cfg: Config{Path: ":memory:"}, want: ":memory:"},
		{name: "url with token", cfg: Config{URL: "libsql://db.example.io", AuthToken: "tok"}, want: "libsql://db.example.io?authToken=tok"},
		{name: "url keeps existing token", cfg: Config{URL: "libsql://db.example.io?authToken=a", AuthToken: "b"}, want: "libsql://db.example.io?authToken=a"},
		{name: "empty", cfg: Config{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRebind(t *testing.T) {
	query := `SELECT * FROM t WHERE a = ? AND b = '?' AND c IN (?, ?)`

	assert.Equal(t, query, Rebind(DialectSQLite, query))
	assert.Equal(t, `SELECT * FROM t WHERE a = $1 AND b = '?' AND c IN ($2, $3)`, Rebind(DialectPostgres, query))
}

func TestCheckHealth(t *testing.T) {
	store := openTestStore(t)
	assert.NoError(t, store.CheckHealth(context.Background()))

	var empty *Store
	assert.Error(t, empty.CheckHealth(context.Background()))
}
