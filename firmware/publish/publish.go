package publish

import (
	"context"
	"path/filepath"

	"github.com/otaguard/otaguard/firmware/artifact"
)

// Publisher copies a written artifact and its manifest to a distribution location
type Publisher interface {
	// Publish returns the location the artifact was published to
	Publish(ctx context.Context, artifactPath string) (string, error)
}

// files lists the artifact and its sidecar in upload order. The manifest goes last so a
// reader never finds a manifest describing an artifact that is not there yet.
func files(artifactPath string) []string {
	return []string{artifactPath, artifact.ManifestPath(artifactPath)}
}

func baseName(path string) string {
	return filepath.Base(path)
}
