package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagsOverrideConfig(t *testing.T) {
	root := newRootCmd()
	cmd, _, err := root.Find([]string{"master"})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags([]string{"--port", "9191", "--max-retries", "7", "--heartbeat-timeout", "40s"}))

	cfg, closer, err := loadConfig(cmd)
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, "9191", cfg.Master.Port)
	assert.Equal(t, 7, cfg.Cluster.MaxRetries)
	assert.Equal(t, "40s", cfg.Cluster.HeartbeatTimeout.String())
	assert.Equal(t, 0, cfg.Master.LocalControllers, "unset flags leave config alone")
}

func TestSubmitFromFile(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 2 {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"task id already active"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"x"}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "tasks.jsonl")
	lines := strings.Join([]string{
		`# two echoes and a sleep`,
		`{"id":"a","type":"echo","properties":{"k":"v"}}`,
		`{"id":"a","type":"echo","properties":{"k":"v"}}`,
		``,
		`{"id":"b","type":"sleep","properties":{"duration":"1ms"},"timeout":"1s"}`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o600))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"submit", "--server", srv.URL, "-f", path})
	require.NoError(t, root.Execute())

	assert.Equal(t, "submitted 2, skipped 1\n", out.String())
	assert.Equal(t, int32(3), calls.Load())
}
