package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Suhaibinator/SRack/pkg/builder"
	"github.com/Suhaibinator/SRack/pkg/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testScript = `
use("recovery")
use("logging", { slow_threshold = "1s" })
use("metrics", { pipeline = "test" })
run_before("no_store")
warmup("probe")
run("hello")
`

func writeFiles(t *testing.T, script string) (configPath, scriptPath string) {
	t.Helper()
	dir := t.TempDir()
	scriptPath = filepath.Join(dir, "config.lua")
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o600))
	configPath = filepath.Join(dir, "srack.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log:\n  level: error\nscript:\n  path: "+scriptPath+"\n"), 0o600))
	return configPath, scriptPath
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCheckPrintsPipeline(t *testing.T) {
	configPath, scriptPath := writeFiles(t, testScript)

	out, err := execute("check", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "script:     "+scriptPath)
	assert.Contains(t, out, "layers:     recovery -> logging -> metrics")
	assert.Contains(t, out, "pre_hooks:  1")
	assert.Contains(t, out, "post_hooks: 0")
}

func TestCheckScriptFlagOverridesConfig(t *testing.T) {
	configPath, _ := writeFiles(t, testScript)
	other := filepath.Join(t.TempDir(), "other.lua")
	require.NoError(t, os.WriteFile(other, []byte(`run("not_found")`), 0o600))

	out, err := execute("check", "--config", configPath, "--script", other)
	require.NoError(t, err)
	assert.Contains(t, out, "layers:     (none)")
}

func TestCheckFailures(t *testing.T) {
	configPath, _ := writeFiles(t, `use("recovery")`)
	_, err := execute("check", "--config", configPath)
	assert.ErrorIs(t, err, builder.ErrMissingApplication)

	_, err = execute("check", "--config", configPath, "--script", filepath.Join(t.TempDir(), "absent.lua"))
	assert.ErrorContains(t, err, "could not be read")
}

func TestBuiltins(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cfg := config.Default()
	cfg.Metrics.Enabled = false
	rt, err := newRuntime(&cfg, zap.New(core))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.lua")
	require.NoError(t, os.WriteFile(path, []byte(`run_before("no_store") warmup("probe") run("hello")`), 0o600))
	p, ok, err := rt.loader.Load(context.Background(), rt.server, path)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, rt.server.Mount(p))

	rr := httptest.NewRecorder()
	rt.server.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "Hello from srack\n", rr.Body.String())
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	probes := logs.FilterMessage("Warmup probe").All()
	require.Len(t, probes, 1)
	assert.Equal(t, int64(http.StatusOK), probes[0].ContextMap()["status"])
}

func TestMetricsDisabledRejectsMetricsMiddleware(t *testing.T) {
	configPath, _ := writeFiles(t, testScript)
	t.Setenv("SRACK_METRICS__ENABLED", "false")

	_, err := execute("check", "--config", configPath)
	assert.ErrorContains(t, err, "metrics are disabled")
}

func TestServeUntilCancelled(t *testing.T) {
	_, scriptPath := writeFiles(t, testScript)
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Script.Path = scriptPath
	cfg.Script.Watch = true
	rt, err := newRuntime(&cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- rt.serve(cmd) }()

	require.Eventually(t, func() bool { return rt.server.Pipeline() != nil }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
