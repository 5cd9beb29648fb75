package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// remoteFS lists filesystem names on which SQLite file locking is unreliable.
var remoteFS = []string{"nfs", "cifs", "smbfs", "smb2", "afpfs", "webdav"}

// ErrRemoteFilesystem is returned when the database would live on a network mount.
var ErrRemoteFilesystem = errors.New("sqlite database on network filesystem")

type fsDetector func(path string) (string, error)

// CheckLocalFilesystem fails when path (or its closest existing parent) is on
// a network filesystem. Platforms without detection always pass.
func CheckLocalFilesystem(path string) error {
	return checkLocalFilesystem(path, filesystemType)
}

func checkLocalFilesystem(path string, detect fsDetector) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}
	existing, err := closestExisting(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}
	fsType, err := detect(existing)
	if err != nil {
		if errors.Is(err, errors.ErrUnsupported) {
			return nil
		}
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if isRemote(fsType) {
		return fmt.Errorf("%w: %q is on %s; set state.path to a local disk", ErrRemoteFilesystem, path, fsType)
	}
	return nil
}

func closestExisting(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(p)
		switch {
		case err == nil:
			return p, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing parent directory")
		}
		p = parent
	}
}

func isRemote(fsType string) bool {
	fsType = strings.ToLower(strings.TrimSpace(fsType))
	for _, name := range remoteFS {
		if fsType == name {
			return true
		}
	}
	return false
}
