package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(strings.NewReader(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.AsyncWorkerThreadNumber)
	assert.Equal(t, StoreTypeMemory, cfg.Store.StoreType)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(strings.NewReader(`{
		"async_worker_thread_number": 4,
		"store": {
			"store_type": "postgres",
			"postgres": {"database_url": "postgres://localhost/actflow"}
		}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.AsyncWorkerThreadNumber)
	assert.Equal(t, StoreTypePostgres, cfg.Store.StoreType)
	assert.Equal(t, "postgres://localhost/actflow", cfg.Store.Postgres.DatabaseURL)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(strings.NewReader(`{"async_worker_thread_numbre": 4}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{
			name:    "postgres without dsn",
			input:   `{"store": {"store_type": "postgres"}}`,
			wantErr: "database_url is required",
		},
		{
			name:    "unknown store type",
			input:   `{"store": {"store_type": "redis"}}`,
			wantErr: "unknown store.store_type",
		},
		{
			name:    "non-positive workers",
			input:   `{"async_worker_thread_number": 0}`,
			wantErr: "must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
