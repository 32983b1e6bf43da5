package database

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-query/pkg/config"
)

func TestNewRedisClient_Disabled(t *testing.T) {
	client, err := NewRedisClient(context.Background(), &config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestNewConnection_InvalidURL(t *testing.T) {
	_, err := NewConnection(context.Background(), &Config{URL: "postgres://%zz"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse database URL")
}

func TestApplyPoolDefaults(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		cfg     Config
		maxConn int32
		minConn int32
		appName string
	}{
		{
			name:    "zero config",
			url:     "postgres://readonly@localhost:5432/shop",
			maxConn: 10,
			appName: ApplicationName,
		},
		{
			name:    "min clamped to max",
			url:     "postgres://readonly@localhost:5432/shop",
			cfg:     Config{MaxConnections: 4, MinConnections: 9},
			maxConn: 4,
			minConn: 4,
			appName: ApplicationName,
		},
		{
			name:    "application name from URL kept",
			url:     "postgres://readonly@localhost:5432/shop?application_name=reports",
			cfg:     Config{MaxConnections: 2, MinConnections: 1},
			maxConn: 2,
			minConn: 1,
			appName: "reports",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poolConfig, err := pgxpool.ParseConfig(tt.url)
			require.NoError(t, err)

			applyPoolDefaults(poolConfig, &tt.cfg)

			assert.Equal(t, tt.maxConn, poolConfig.MaxConns)
			assert.Equal(t, tt.minConn, poolConfig.MinConns)
			assert.Equal(t, 30*time.Second, poolConfig.HealthCheckPeriod)
			assert.Equal(t, tt.appName, poolConfig.ConnConfig.RuntimeParams["application_name"])
			assert.Equal(t, "on", poolConfig.ConnConfig.RuntimeParams["default_transaction_read_only"])
		})
	}
}

func TestMigrateLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := migrateLogger{zap.New(core).Sugar()}

	assert.True(t, l.Verbose())
	l.Printf("Start buffering %d/u %s\n", 1, "shop")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Start buffering 1/u shop", logs.All()[0].Message)

	quiet := migrateLogger{zap.NewNop().Sugar()}
	assert.False(t, quiet.Verbose())
}
