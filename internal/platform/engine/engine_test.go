package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/forge-api/internal/config"
	"github.com/phrazzld/forge-api/internal/domain"
)

// writeScript drops a shell script standing in for the Python entrypoint.
// Flags land in its positional parameters, so runs can record or fake
// whatever a test needs.
func writeScript(t *testing.T, dir, body string) string {
	t.Helper()

	path := filepath.Join(dir, "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestEngine(t *testing.T, workdir, script string) *CommandEngine {
	t.Helper()

	cfg := config.EngineConfig{
		Python:       "/bin/sh",
		Script:       script,
		WorkDir:      workdir,
		WarehouseDir: "WareHouse",
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCommandEngine(cfg, log)
}

func testRequest(t *testing.T) domain.GenerateRequest {
	t.Helper()

	req := domain.GenerateRequest{
		Task: "Build a calculator application",
		Name: "Calculator",
	}
	req.ApplyDefaults()
	return req
}

func TestCommandEngineArgsAndEnv(t *testing.T) {
	t.Parallel()

	workdir := t.TempDir()
	script := writeScript(t, workdir, strings.Join([]string{
		`printf '%s\n' "$@" > cli_args.txt`,
		`printf '%s' "$OPENAI_API_KEY" > api_key.txt`,
		`printf '%s' "$BASE_URL" > base_url.txt`,
		`exit 0`,
	}, "\n"))

	cfg := config.EngineConfig{
		Python:       "/bin/sh",
		Script:       script,
		WorkDir:      workdir,
		WarehouseDir: "WareHouse",
		APIBaseURL:   "https://proxy.example.com/v1",
	}
	eng := NewCommandEngine(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := testRequest(t)
	req.Path = "WareHouse/Calculator_DefaultOrganization_20240101_000000"

	_, err := eng.Generate(context.Background(), req, "sk-ABCDEFGHIJKLMNOPQRSTUVWXYZabcdef")
	require.NoError(t, err)

	args, err := os.ReadFile(filepath.Join(workdir, "cli_args.txt"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"--task", "Build a calculator application",
		"--name", "Calculator",
		"--config", domain.DefaultConfig,
		"--org", domain.DefaultOrganization,
		"--model", domain.DefaultModel,
		"--path", "WareHouse/Calculator_DefaultOrganization_20240101_000000",
	}, strings.Split(strings.TrimSpace(string(args)), "\n"))

	key, err := os.ReadFile(filepath.Join(workdir, "api_key.txt"))
	require.NoError(t, err)
	assert.Equal(t, "sk-ABCDEFGHIJKLMNOPQRSTUVWXYZabcdef", string(key))

	baseURL, err := os.ReadFile(filepath.Join(workdir, "base_url.txt"))
	require.NoError(t, err)
	assert.Equal(t, "https://proxy.example.com/v1", string(baseURL))
}

func TestCommandEngineResolvesNewestProjectDir(t *testing.T) {
	t.Parallel()

	workdir := t.TempDir()
	warehouse := filepath.Join(workdir, "WareHouse")
	for _, dir := range []string{
		"Calculator_DefaultOrganization_20240101_120000",
		"Calculator_DefaultOrganization_20240301_090000",
		"Other_DefaultOrganization_20250101_000000",
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(warehouse, dir), 0o755))
	}
	// A plain file with a matching prefix must not win the scan.
	require.NoError(t, os.WriteFile(
		filepath.Join(warehouse, "Calculator_DefaultOrganization_20240401.log"),
		[]byte("x"), 0o644))

	script := writeScript(t, workdir, `exit 0`)
	eng := newTestEngine(t, workdir, script)

	resultPath, err := eng.Generate(context.Background(), testRequest(t), "sk-ABCDEFGHIJKLMNOPQRSTUVWXYZabcdef")
	require.NoError(t, err)
	assert.Equal(t,
		filepath.Join(warehouse, "Calculator_DefaultOrganization_20240301_090000"),
		resultPath)
}

func TestCommandEnginePredictsPathWhenScanFindsNothing(t *testing.T) {
	t.Parallel()

	workdir := t.TempDir()
	script := writeScript(t, workdir, `exit 0`)
	eng := newTestEngine(t, workdir, script)

	resultPath, err := eng.Generate(context.Background(), testRequest(t), "sk-ABCDEFGHIJKLMNOPQRSTUVWXYZabcdef")
	require.NoError(t, err)

	prefix := filepath.Join(workdir, "WareHouse", "Calculator_DefaultOrganization_")
	require.True(t, strings.HasPrefix(resultPath, prefix),
		"predicted path %q should start with %q", resultPath, prefix)
	assert.Len(t, strings.TrimPrefix(resultPath, prefix), len("20060102_150405"))
}

func TestCommandEngineFailureCarriesStderrTail(t *testing.T) {
	t.Parallel()

	workdir := t.TempDir()
	script := writeScript(t, workdir, `echo "engine exploded" >&2; exit 3`)
	eng := newTestEngine(t, workdir, script)

	_, err := eng.Generate(context.Background(), testRequest(t), "sk-ABCDEFGHIJKLMNOPQRSTUVWXYZabcdef")
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, 3, runErr.ExitCode)
	assert.Contains(t, runErr.Output, "engine exploded")
	assert.Contains(t, err.Error(), "engine exploded")
}

func TestCommandEngineFailureTruncatesLongOutput(t *testing.T) {
	t.Parallel()

	workdir := t.TempDir()
	script := writeScript(t, workdir,
		`i=0; while [ $i -lt 300 ]; do echo "0123456789" >&2; i=$((i+1)); done; exit 1`)
	eng := newTestEngine(t, workdir, script)

	_, err := eng.Generate(context.Background(), testRequest(t), "sk-ABCDEFGHIJKLMNOPQRSTUVWXYZabcdef")

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.LessOrEqual(t, len(runErr.Output), outputTailLimit)
	assert.True(t, strings.HasSuffix(runErr.Output, "0123456789"),
		"tail should keep the end of the stream, got %q", runErr.Output[len(runErr.Output)-20:])
}

func TestCommandEngineFailureFallsBackToStdout(t *testing.T) {
	t.Parallel()

	workdir := t.TempDir()
	script := writeScript(t, workdir, `echo "wrote only to stdout"; exit 2`)
	eng := newTestEngine(t, workdir, script)

	_, err := eng.Generate(context.Background(), testRequest(t), "sk-ABCDEFGHIJKLMNOPQRSTUVWXYZabcdef")

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, 2, runErr.ExitCode)
	assert.Contains(t, runErr.Output, "wrote only to stdout")
}

func TestCommandEngineCancellationKillsProcess(t *testing.T) {
	t.Parallel()

	workdir := t.TempDir()
	script := writeScript(t, workdir, `sleep 5`)
	eng := newTestEngine(t, workdir, script)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := eng.Generate(ctx, testRequest(t), "sk-ABCDEFGHIJKLMNOPQRSTUVWXYZabcdef")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 3*time.Second,
		"cancellation should kill the subprocess, not wait it out")
}

func TestCommandEngineInterpreterMissing(t *testing.T) {
	t.Parallel()

	workdir := t.TempDir()
	cfg := config.EngineConfig{
		Python:       filepath.Join(workdir, "missing-python"),
		Script:       "run.py",
		WorkDir:      workdir,
		WarehouseDir: "WareHouse",
	}
	eng := NewCommandEngine(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := eng.Generate(context.Background(), testRequest(t), "sk-ABCDEFGHIJKLMNOPQRSTUVWXYZabcdef")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to run generation engine")

	var runErr *RunError
	assert.False(t, errors.As(err, &runErr), "a start failure is not an engine exit")
}

func TestWarehouseRoot(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join("/opt", "chatdev", "WareHouse"), WarehouseRoot(config.EngineConfig{
		WorkDir:      filepath.Join("/opt", "chatdev"),
		WarehouseDir: "WareHouse",
	}))
	assert.Equal(t, filepath.Join("/data", "warehouse"), WarehouseRoot(config.EngineConfig{
		WorkDir:      filepath.Join("/opt", "chatdev"),
		WarehouseDir: filepath.Join("/data", "warehouse"),
	}))
}

func TestTailWriterKeepsOnlyTheTail(t *testing.T) {
	t.Parallel()

	w := &tailWriter{limit: 8}

	n, err := w.Write([]byte("01234567"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	_, err = w.Write([]byte("89abcdef"))
	require.NoError(t, err)

	assert.Equal(t, "89abcdef", w.String())
}
