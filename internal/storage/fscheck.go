package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// remoteFilesystems lists filesystem types on which SQLite locking is unreliable.
var remoteFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

func checkLocalFilesystem(path string) error {
	return checkLocalFilesystemWith(path, detectFilesystemType)
}

// checkLocalFilesystemWith rejects ledger paths that live on a network
// filesystem. The path itself need not exist yet; its closest existing
// ancestor is inspected instead.
func checkLocalFilesystemWith(path string, detect func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	existing, err := closestExistingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve ledger path %q: %w", path, err)
	}

	fsType, err := detect(existing)
	if err != nil {
		// Unknown platforms cannot be checked; let SQLite try.
		return nil
	}

	if isRemoteFilesystem(fsType) {
		return fmt.Errorf("ledger path %q is on network filesystem %q; SQLite needs a local filesystem for locking, set ledger.path to a local file", path, fsType)
	}
	return nil
}

func closestExistingAncestor(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing ancestor")
		}
		candidate = parent
	}
}

func isRemoteFilesystem(fsType string) bool {
	_, ok := remoteFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return ok
}
