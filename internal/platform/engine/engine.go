// Package engine invokes the external generation program as a subprocess and
// resolves the project directory each run produces.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/phrazzld/forge-api/internal/config"
	"github.com/phrazzld/forge-api/internal/domain"
	"github.com/phrazzld/forge-api/internal/platform/logger"
)

// outputTailLimit caps how much engine output is kept for diagnostics. Only
// the last bytes matter; the engine logs the actual failure at the end.
const outputTailLimit = 2000

// RunError reports an engine run that exited non-zero. Output holds the
// stderr tail, or the stdout tail when stderr was empty.
type RunError struct {
	ExitCode int
	Output   string
}

func (e *RunError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("generation engine exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("generation engine exited with code %d: %s", e.ExitCode, e.Output)
}

// WarehouseRoot resolves the configured warehouse directory against the
// engine workdir. Result paths are anchored here so the packaging side can
// consume them regardless of the server's own working directory.
func WarehouseRoot(cfg config.EngineConfig) string {
	if filepath.IsAbs(cfg.WarehouseDir) {
		return cfg.WarehouseDir
	}
	return filepath.Join(cfg.WorkDir, cfg.WarehouseDir)
}

// CommandEngine runs the engine through its Python entrypoint. The command
// inherits the process environment plus the credentials the engine reads.
type CommandEngine struct {
	python        string
	script        string
	workdir       string
	warehouseRoot string
	baseURL       string
	logger        *slog.Logger
}

// NewCommandEngine creates an engine bound to the configured interpreter,
// entrypoint, and warehouse layout.
func NewCommandEngine(cfg config.EngineConfig, log *slog.Logger) *CommandEngine {
	if log == nil {
		log = slog.Default()
	}

	return &CommandEngine{
		python:        cfg.Python,
		script:        cfg.Script,
		workdir:       cfg.WorkDir,
		warehouseRoot: WarehouseRoot(cfg),
		baseURL:       cfg.APIBaseURL,
		logger:        log.With(slog.String("component", "engine")),
	}
}

// Generate runs one generation to completion and returns the produced
// project directory. Cancelling the context kills the subprocess; the
// returned error is then the context's, not the signal exit.
func (e *CommandEngine) Generate(ctx context.Context, req domain.GenerateRequest, apiKey string) (string, error) {
	log := logger.FromContextOrDefault(ctx, e.logger)

	started := time.Now()

	cmd := exec.CommandContext(ctx, e.python, buildArgs(e.script, req)...)
	cmd.Dir = e.workdir
	cmd.Env = e.environ(apiKey)

	stdout := &tailWriter{limit: outputTailLimit}
	stderr := &tailWriter{limit: outputTailLimit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	log.Info("starting generation engine",
		slog.String("name", req.Name),
		slog.String("organization", req.Organization),
		slog.String("model", req.Model))

	err := cmd.Run()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			output := strings.TrimSpace(stderr.String())
			if output == "" {
				output = strings.TrimSpace(stdout.String())
			}
			runErr := &RunError{ExitCode: exitErr.ExitCode(), Output: output}
			log.Error("generation engine failed",
				slog.String("name", req.Name),
				slog.Int("exit_code", runErr.ExitCode))
			return "", runErr
		}
		return "", fmt.Errorf("failed to run generation engine: %w", err)
	}

	resultPath := e.resolveResultPath(req.Name, req.Organization, started)
	log.Info("generation engine finished",
		slog.String("name", req.Name),
		slog.String("result_path", resultPath),
		slog.Duration("elapsed", time.Since(started)))

	return resultPath, nil
}

// buildArgs assembles the engine CLI. The entrypoint comes first because the
// interpreter is the executable.
func buildArgs(script string, req domain.GenerateRequest) []string {
	args := []string{
		script,
		"--task", req.Task,
		"--name", req.Name,
		"--config", req.Config,
		"--org", req.Organization,
		"--model", req.Model,
	}
	if req.Path != "" {
		args = append(args, "--path", req.Path)
	}
	return args
}

// environ builds the subprocess environment. OPENAI_API_KEY and BASE_URL are
// the names the engine reads; PYTHONIOENCODING keeps its output UTF-8.
func (e *CommandEngine) environ(apiKey string) []string {
	env := append(os.Environ(),
		"OPENAI_API_KEY="+apiKey,
		"PYTHONIOENCODING=utf-8",
	)
	if e.baseURL != "" {
		env = append(env, "BASE_URL="+e.baseURL)
	}
	return env
}

// resolveResultPath locates the directory the run produced. The engine names
// it <name>_<org>_<timestamp> using its own start time, so the newest prefix
// match wins. When the scan finds nothing the path is predicted from the
// run start observed here.
func (e *CommandEngine) resolveResultPath(name, organization string, started time.Time) string {
	prefix := name + "_" + organization + "_"

	if dir := newestMatch(e.warehouseRoot, prefix); dir != "" {
		return filepath.Join(e.warehouseRoot, dir)
	}

	return filepath.Join(e.warehouseRoot, prefix+started.Format("20060102_150405"))
}

// newestMatch returns the lexicographically greatest directory entry with
// the given prefix. The suffix is a sortable timestamp, so greatest means
// newest.
func newestMatch(root, prefix string) string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return ""
	}

	newest := ""
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		if entry.Name() > newest {
			newest = entry.Name()
		}
	}
	return newest
}

// tailWriter keeps the last limit bytes written through it, bounding what a
// chatty engine can pin in memory.
type tailWriter struct {
	limit int
	buf   []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.limit {
		w.buf = w.buf[len(w.buf)-w.limit:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	return string(w.buf)
}
