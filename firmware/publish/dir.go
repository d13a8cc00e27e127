package publish

import (
	"context"
	"fmt"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/otaguard/otaguard/util"
)

// DirPublisher copies the artifact into a local directory, for example a web root or
// a mounted share
type DirPublisher struct {
	dir string
}

// NewDirPublisher creates the target directory if needed
func NewDirPublisher(dir string) (*DirPublisher, error) {
	if dir == "" {
		return nil, fmt.Errorf("publish directory is empty")
	}
	if err := util.EnsureDir(dir, 0o750); err != nil {
		return nil, err
	}
	return &DirPublisher{dir: dir}, nil
}

// Publish implements Publisher
func (p *DirPublisher) Publish(ctx context.Context, artifactPath string) (string, error) {
	dst := filepath.Join(p.dir, baseName(artifactPath))
	if same, err := samePath(artifactPath, dst); err == nil && same {
		log.Debugf("artifact %s already in publish dir", artifactPath)
		return dst, nil
	}

	for _, src := range files(artifactPath) {
		target := filepath.Join(p.dir, baseName(src))
		if err := util.CopyFileAtomic(ctx, src, target, 0o644); err != nil {
			return "", fmt.Errorf("publish %s: %w", src, err)
		}
	}

	log.Infof("published %s to %s", baseName(artifactPath), p.dir)
	return dst, nil
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return absA == absB, nil
}
