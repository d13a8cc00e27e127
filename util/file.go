package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// WriteBytesAtomic writes bs to file using a temporary file in the same directory followed by a rename.
// Readers observe either the previous content or the complete new content, never a partial write.
// The parent directory is created with 0750 if it does not exist.
func WriteBytesAtomic(ctx context.Context, file string, bs []byte, perm os.FileMode) error {
	dir, name, err := prepareFileDir(file, 0750)
	if err != nil {
		return fmt.Errorf("prepare dir: %w", err)
	}
	return writeBytes(ctx, file, dir, name, bs, perm)
}

// WriteJsonAtomic writes a JSON object to a file with the same guarantees as WriteBytesAtomic.
// The output JSON is pretty-formatted
func WriteJsonAtomic(ctx context.Context, file string, obj interface{}, perm os.FileMode) error {
	if ctx.Err() != nil {
		return fmt.Errorf("write json start: %w", ctx.Err())
	}

	bs, err := json.MarshalIndent(obj, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	bs = append(bs, '\n')

	return WriteBytesAtomic(ctx, file, bs, perm)
}

// writeBytes writes bytes to a temp file, syncs it and renames it over the target.
// The temp file is removed on every failure path.
func writeBytes(ctx context.Context, file, dir, name string, bs []byte, perm os.FileMode) (err error) {
	if ctx.Err() != nil {
		return fmt.Errorf("write bytes start: %w", ctx.Err())
	}

	tempFile, err := os.CreateTemp(dir, ".*"+name)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tempFileName := tempFile.Name()

	defer func() {
		if err == nil {
			return
		}
		if rmErr := os.Remove(tempFileName); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warnf("failed to remove temp file %s: %v", tempFileName, rmErr)
		}
	}()

	if err = tempFile.Chmod(perm); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("set temp file permissions: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if dErr := tempFile.SetDeadline(deadline); dErr != nil && !errors.Is(dErr, os.ErrNoDeadline) {
			log.Debugf("failed to set deadline on %s: %v", tempFileName, dErr)
		}
	}

	if _, err = tempFile.Write(bs); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write: %w", err)
	}

	if err = tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync %s: %w", tempFileName, err)
	}

	if err = tempFile.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tempFileName, err)
	}

	if ctx.Err() != nil {
		err = fmt.Errorf("after temp file: %w", ctx.Err())
		return err
	}

	if err = os.Rename(tempFileName, file); err != nil {
		return fmt.Errorf("move %s to %s: %w", tempFileName, file, err)
	}

	return nil
}

// ReadJson reads a JSON file and maps it to the provided value
func ReadJson(file string, res interface{}) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	bs, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	return json.Unmarshal(bs, res)
}

// CopyFileAtomic copies the contents of src to dst through WriteBytesAtomic.
func CopyFileAtomic(ctx context.Context, src, dst string, perm os.FileMode) error {
	bs, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	return WriteBytesAtomic(ctx, dst, bs, perm)
}

// EnsureDir creates dir with perm if it does not exist. An existing directory that is
// writable by others is reported with a warning.
func EnsureDir(dir string, perm os.FileMode) error {
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, perm); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
		log.Infof("created directory %s", dir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists and is not a directory", dir)
	}
	if info.Mode().Perm()&0o002 != 0 {
		log.Warnf("directory %s is world-writable (mode %v)", dir, info.Mode().Perm())
	}
	return nil
}

// prepareFileDir creates the parent directory of file if needed.
func prepareFileDir(file string, perm os.FileMode) (string, string, error) {
	dir, name := filepath.Split(file)
	if dir == "" {
		return filepath.Dir(file), name, nil
	}

	if err := os.MkdirAll(dir, perm); err != nil {
		return "", "", err
	}

	return dir, name, nil
}
