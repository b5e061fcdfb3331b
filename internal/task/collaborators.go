package task

import (
	"context"

	"github.com/phrazzld/forge-api/internal/domain"
	"github.com/phrazzld/forge-api/internal/platform/act"
)

// GenerationEngine runs the external program that turns a request into a
// generated source tree and reports where the tree landed.
type GenerationEngine interface {
	// Generate blocks until the engine run finishes or ctx ends. The API
	// key is handed to the subprocess environment and never stored.
	Generate(ctx context.Context, req domain.GenerateRequest, apiKey string) (string, error)
}

// ArtifactBuilder packages a generated project directory into installable
// artifacts.
type ArtifactBuilder interface {
	Build(ctx context.Context, projectDir string) (*act.BuildResult, error)
}
