// Package act packages generated projects into installable Android artifacts
// by running a GitHub Actions workflow locally through the act CLI.
package act

import (
	"archive/zip"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/phrazzld/forge-api/internal/config"
	"github.com/phrazzld/forge-api/internal/platform/logger"
)

//go:embed workflow/build.yml
var defaultWorkflow []byte

// preferredAPK is the artifact the Android build emits for modern devices;
// it wins when the archive holds several APKs.
const preferredAPK = "app-arm64-v8a-release.apk"

// outputTailLimit caps captured workflow output.
const outputTailLimit = 2000

// ErrNoEntrypoint reports a project directory with no Python file to build.
var ErrNoEntrypoint = errors.New("project has no python entrypoint")

// pyprojectTemplate is the minimal poetry manifest a bare generated project
// needs before flet can build it.
const pyprojectTemplate = `[tool.poetry]
name = "%s"
version = "0.1.0"
description = "Generated application"
authors = ["forge-api <builds@forge.local>"]

[tool.poetry.dependencies]
python = ">=3.8,<4.0"
flet = ">=0.20.0"

[build-system]
requires = ["poetry-core"]
build-backend = "poetry.core.masonry.api"
`

// RunError reports a workflow run that exited non-zero. Output holds the
// stderr tail, or the stdout tail when stderr was empty.
type RunError struct {
	ExitCode int
	Output   string
}

func (e *RunError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("build workflow exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("build workflow exited with code %d: %s", e.ExitCode, e.Output)
}

// BuildResult describes what a packaging run produced.
type BuildResult struct {
	// APKPath is the primary artifact, empty when the build produced none.
	APKPath string

	// Artifacts maps artifact file names to their collected locations.
	Artifacts map[string]string
}

// Runner drives the act CLI against one generated project at a time.
type Runner struct {
	bin         string
	artifactDir string
	outputDir   string
	logger      *slog.Logger
}

// NewRunner creates a workflow runner bound to the configured act binary and
// artifact layout.
func NewRunner(cfg config.BuilderConfig, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}

	return &Runner{
		bin:         cfg.Bin,
		artifactDir: cfg.ArtifactDir,
		outputDir:   cfg.OutputDir,
		logger:      log.With(slog.String("component", "builder")),
	}
}

// Build runs one full packaging pass: scaffold the project, ensure the
// workflow, execute it, harvest the APKs.
func (r *Runner) Build(ctx context.Context, projectDir string) (*BuildResult, error) {
	if err := r.PrepareProject(projectDir); err != nil {
		return nil, err
	}
	if err := r.EnsureWorkflow(projectDir); err != nil {
		return nil, err
	}
	if err := r.Run(ctx, projectDir); err != nil {
		return nil, err
	}
	return r.CollectArtifacts(projectDir)
}

// PrepareProject fills in the build scaffolding the generation engine does
// not emit: a requirements file, a main.py entrypoint, and a poetry manifest.
// Files the project already carries are left alone.
func (r *Runner) PrepareProject(projectDir string) error {
	if _, err := os.Stat(projectDir); err != nil {
		return fmt.Errorf("project directory unavailable: %w", err)
	}

	reqFile := filepath.Join(projectDir, "requirements.txt")
	if _, err := os.Stat(reqFile); os.IsNotExist(err) {
		if err := os.WriteFile(reqFile, []byte("flet>=0.20.0\n"), 0o644); err != nil {
			return fmt.Errorf("failed to write requirements.txt: %w", err)
		}
	}

	if err := ensureEntrypoint(projectDir); err != nil {
		return err
	}

	pyprojectFile := filepath.Join(projectDir, "pyproject.toml")
	if _, err := os.Stat(pyprojectFile); os.IsNotExist(err) {
		manifest := fmt.Sprintf(pyprojectTemplate, filepath.Base(projectDir))
		if err := os.WriteFile(pyprojectFile, []byte(manifest), 0o644); err != nil {
			return fmt.Errorf("failed to write pyproject.toml: %w", err)
		}
	}

	return nil
}

// ensureEntrypoint guarantees main.py exists, copying app.py or the first
// Python file in the project when it does not.
func ensureEntrypoint(projectDir string) error {
	mainFile := filepath.Join(projectDir, "main.py")
	if _, err := os.Stat(mainFile); err == nil {
		return nil
	}

	appFile := filepath.Join(projectDir, "app.py")
	if _, err := os.Stat(appFile); err == nil {
		return copyFile(appFile, mainFile)
	}

	entries, err := os.ReadDir(projectDir)
	if err != nil {
		return fmt.Errorf("failed to scan project directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".py") {
			continue
		}
		return copyFile(filepath.Join(projectDir, entry.Name()), mainFile)
	}

	return fmt.Errorf("%w: %s", ErrNoEntrypoint, projectDir)
}

// EnsureWorkflow writes the embedded build workflow unless the project
// already carries one.
func (r *Runner) EnsureWorkflow(projectDir string) error {
	workflowsDir := filepath.Join(projectDir, ".github", "workflows")
	if err := os.MkdirAll(workflowsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create workflows directory: %w", err)
	}

	workflowFile := filepath.Join(workflowsDir, "build.yml")
	if _, err := os.Stat(workflowFile); err == nil {
		return nil
	}

	if err := os.WriteFile(workflowFile, defaultWorkflow, 0o644); err != nil {
		return fmt.Errorf("failed to write workflow file: %w", err)
	}
	return nil
}

// Run executes the build workflow with act. The artifact server path keeps
// uploads inside the project directory for CollectArtifacts to harvest.
// Cancelling the context kills the run.
func (r *Runner) Run(ctx context.Context, projectDir string) error {
	log := logger.FromContextOrDefault(ctx, r.logger)

	cmd := exec.CommandContext(ctx, r.bin,
		"workflow_dispatch",
		"-W", filepath.Join(".github", "workflows", "build.yml"),
		"--artifact-server-path", r.artifactDir,
	)
	cmd.Dir = projectDir

	stdout := &tailWriter{limit: outputTailLimit}
	stderr := &tailWriter{limit: outputTailLimit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	log.Info("running build workflow",
		slog.String("project_dir", projectDir),
		slog.String("bin", r.bin))

	err := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			output := strings.TrimSpace(stderr.String())
			if output == "" {
				output = strings.TrimSpace(stdout.String())
			}
			runErr := &RunError{ExitCode: exitErr.ExitCode(), Output: output}
			log.Error("build workflow failed",
				slog.String("project_dir", projectDir),
				slog.Int("exit_code", runErr.ExitCode))
			return runErr
		}
		return fmt.Errorf("failed to run workflow runner: %w", err)
	}

	return nil
}

// CollectArtifacts pulls APKs out of the artifact archive the workflow
// uploaded, falling back to the raw build output directory when no archive
// exists. An empty result is not an error; the caller decides what a
// build without artifacts means.
func (r *Runner) CollectArtifacts(projectDir string) (*BuildResult, error) {
	buildDir := filepath.Join(projectDir, r.outputDir)
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	artifacts := map[string]string{}

	zipPath := filepath.Join(projectDir, r.artifactDir, "1", "artifact", "artifact.zip")
	if _, err := os.Stat(zipPath); err == nil {
		extracted, err := extractAPKs(zipPath, buildDir)
		if err != nil {
			return nil, err
		}
		artifacts = extracted
	}

	if len(artifacts) == 0 {
		copied, err := copyRawAPKs(filepath.Join(buildDir, "apk"), buildDir)
		if err != nil {
			return nil, err
		}
		artifacts = copied
	}

	return &BuildResult{
		APKPath:   primaryArtifact(artifacts),
		Artifacts: artifacts,
	}, nil
}

// extractAPKs copies APK entries from the archive into destDir. When the
// preferred release APK is present only it is taken; otherwise every APK is.
func extractAPKs(zipPath, destDir string) (map[string]string, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		// Insecure entry names are tolerated: extraction flattens every
		// entry to its base name, so they cannot escape destDir.
		return nil, fmt.Errorf("failed to open artifact archive: %w", err)
	}
	defer func() { _ = reader.Close() }()

	for _, f := range reader.File {
		if f.FileInfo().IsDir() || filepath.Base(f.Name) != preferredAPK {
			continue
		}
		dest, err := extractFile(f, destDir)
		if err != nil {
			return nil, err
		}
		return map[string]string{preferredAPK: dest}, nil
	}

	artifacts := map[string]string{}
	for _, f := range reader.File {
		name := filepath.Base(f.Name)
		if f.FileInfo().IsDir() || !strings.HasSuffix(name, ".apk") {
			continue
		}
		dest, err := extractFile(f, destDir)
		if err != nil {
			return nil, err
		}
		artifacts[name] = dest
	}
	return artifacts, nil
}

// extractFile writes one archive entry into destDir under its base name.
func extractFile(f *zip.File, destDir string) (string, error) {
	dest := filepath.Join(destDir, filepath.Base(f.Name))

	src, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open archive entry %s: %w", f.Name, err)
	}
	defer func() { _ = src.Close() }()

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, src); err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return dest, nil
}

// copyRawAPKs copies loose APKs from the workflow's build output into
// destDir. A missing source directory yields an empty map.
func copyRawAPKs(apkDir, destDir string) (map[string]string, error) {
	entries, err := os.ReadDir(apkDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to scan %s: %w", apkDir, err)
	}

	artifacts := map[string]string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".apk") {
			continue
		}
		dest := filepath.Join(destDir, entry.Name())
		if err := copyFile(filepath.Join(apkDir, entry.Name()), dest); err != nil {
			return nil, err
		}
		artifacts[entry.Name()] = dest
	}
	return artifacts, nil
}

// primaryArtifact picks the APK reported as the build's main output.
func primaryArtifact(artifacts map[string]string) string {
	if path, ok := artifacts[preferredAPK]; ok {
		return path
	}

	names := make([]string, 0, len(artifacts))
	for name := range artifacts {
		names = append(names, name)
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return artifacts[names[0]]
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return nil
}

// tailWriter keeps the last limit bytes written through it.
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
