package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/datasync/internal/config"
	"github.com/zeusync/datasync/internal/node"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunAppliesFlagsOverConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node:
  hostname: kitchen
  group: house
  port: 5000
  objects: [lights]
log:
  level: debug
`), 0o600))

	var captured *config.Config
	prev := startNode
	startNode = func(_ context.Context, cfg *config.Config) error {
		captured = cfg
		return nil
	}
	t.Cleanup(func() { startNode = prev })

	_, err := execute(t, "run", "--config", path,
		"--port", "5100", "--format", "json", "--object", "heater",
		"--peer", "10.0.0.2:4210", "--no-discovery", "--log-level", "warn")
	require.NoError(t, err)
	require.NotNil(t, captured)

	assert.Equal(t, "kitchen", captured.Node.Hostname)
	assert.Equal(t, "house", captured.Node.Group)
	assert.Equal(t, uint16(5100), captured.Node.Port)
	assert.Equal(t, "json", captured.Node.Format)
	assert.Equal(t, []string{"lights", "heater"}, captured.Node.Objects)
	assert.Equal(t, []string{"10.0.0.2:4210"}, captured.Node.Peers)
	assert.False(t, captured.Discovery.Enabled)
	assert.Equal(t, "warn", captured.Log.Level)
}

func TestRunRejectsInvalidFlags(t *testing.T) {
	called := false
	prev := startNode
	startNode = func(context.Context, *config.Config) error {
		called = true
		return nil
	}
	t.Cleanup(func() { startNode = prev })

	_, err := execute(t, "run", "--transport", "tcp")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.False(t, called)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, node.Version+"\n", out)
}

func TestInspectorCommands(t *testing.T) {
	var lastPut string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"hostname":"kitchen"}`))
	})
	mux.HandleFunc("GET /objects/{name}", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("peer") == "10.0.0.9:1" {
			http.Error(w, `{"error":"unknown peer"}`, http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`true`))
	})
	mux.HandleFunc("PUT /objects/{name}", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		lastPut = r.PathValue("name") + "=" + string(body)
		w.WriteHeader(http.StatusNoContent)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	out, err := execute(t, "status", "--inspector", ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "{\"hostname\":\"kitchen\"}\n", out)

	out, err = execute(t, "get", "lights", "--inspector", ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	_, err = execute(t, "get", "lights", "--peer", "10.0.0.9:1", "--inspector", ts.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	out, err = execute(t, "set", "lights", `{"on":true}`, "--inspector", ts.URL)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, `lights={"on":true}`, lastPut)
}
