package delivery

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/otaguard/otaguard/firmware/artifact"
)

const reloadDelay = 250 * time.Millisecond

// Watch reloads the handler whenever the artifact or its manifest is replaced on disk, until
// ctx is done. Events are coalesced so that an artifact and manifest written back to back
// trigger a single reload. A failed reload keeps serving the previous snapshot.
func (h *Handler) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			log.Debugf("close watcher: %v", err)
		}
	}()

	// atomic writes rename over the target, so watch the directory rather than the file
	dir := filepath.Dir(h.cfg.ArtifactPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	artifactName := filepath.Clean(h.cfg.ArtifactPath)
	manifestName := filepath.Clean(artifact.ManifestPath(h.cfg.ArtifactPath))

	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Clean(event.Name)
			if name != artifactName && name != manifestName {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			log.Debugf("artifact change: %s", event)
			timer.Reset(reloadDelay)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("artifact watcher: %v", err)
		case <-timer.C:
			if err := h.Reload(); err != nil {
				log.Errorf("failed to reload %s, still serving the previous artifact: %v", h.cfg.ArtifactPath, err)
			}
		}
	}
}
