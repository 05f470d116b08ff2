package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyang/task-mesh/internal/config"
)

func env(kv map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "task-mesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.NewLoader().WithEnv(env(nil)).Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Cluster.HeartbeatInterval)
	assert.Equal(t, 15*time.Second, cfg.Cluster.EffectiveSuspectGrace())
	assert.Equal(t, "8080", cfg.Master.Port)
	assert.Equal(t, "json", cfg.Link.Codec)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, `
cluster:
  heartbeat_interval: 2s
  heartbeat_timeout: 6s
  max_retries: 5
  worker_pool_size: 8
master:
  port: "9000"
link:
  codec: msgpack
`)
	cfg, err := config.NewLoader().
		WithFile(path).
		WithEnv(env(map[string]string{
			"TASK_MESH_MAX_RETRIES": "7",
			"PORT":                  "9100",
			"DATABASE_URL":          "postgres://localhost/tm",
		})).
		WithOverride("master.port", "9200").
		Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Cluster.HeartbeatInterval, "yaml over default")
	assert.Equal(t, 6*time.Second, cfg.Cluster.EffectiveSuspectGrace())
	assert.Equal(t, 7, cfg.Cluster.MaxRetries, "env over yaml")
	assert.Equal(t, "9200", cfg.Master.Port, "override over env")
	assert.Equal(t, "postgres://localhost/tm", cfg.Master.DatabaseURL)
	assert.Equal(t, 8, cfg.Cluster.WorkerPoolSize)
	assert.Equal(t, "msgpack", cfg.Link.Codec)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		env      map[string]string
		override [2]string
		invalid  bool
	}{
		{name: "pool too large", env: map[string]string{"TASK_MESH_WORKER_POOL_SIZE": "1001"}, invalid: true},
		{name: "pool negative", override: [2]string{"cluster.worker_pool_size", "-1"}, invalid: true},
		{name: "timeout not above interval", file: "cluster:\n  heartbeat_interval: 10s\n  heartbeat_timeout: 10s\n", invalid: true},
		{name: "unknown codec", override: [2]string{"link.codec", "xml"}, invalid: true},
		{name: "bad duration in env", env: map[string]string{"TASK_MESH_HEARTBEAT_INTERVAL": "often"}},
		{name: "unknown override path", override: [2]string{"cluster.nope", "1"}},
		{name: "malformed yaml", file: "cluster: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := config.NewLoader().WithEnv(env(tt.env))
			if tt.file != "" {
				l.WithFile(writeFile(t, tt.file))
			}
			if tt.override[0] != "" {
				l.WithOverride(tt.override[0], tt.override[1])
			}
			_, err := l.Load()
			require.Error(t, err)
			assert.Equal(t, tt.invalid, errors.Is(err, config.ErrInvalid), "got %v", err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.NewLoader().WithFile(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := config.Default()
	cfg.Cluster.MaxRetries = -1
	cfg.Logging.Format = "xml"
	err := cfg.Validate()

	var verrs config.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 2)
}
