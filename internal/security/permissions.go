package security

import (
	"fmt"
	"os"
)

const (
	// PermConfigFile is for projects.yaml and .PublishSettings files (rw-r-----).
	PermConfigFile os.FileMode = 0640

	// PermLogFile is for the deployment log (rw-r-----).
	PermLogFile os.FileMode = 0640

	// PermDBFile is for the history database (rw-r-----).
	PermDBFile os.FileMode = 0640

	// PermDirectory is for directories created for logs and history (rwxr-x---).
	PermDirectory os.FileMode = 0750
)

// OpenAppendFile opens path for appending, creating it with perm. The mode is
// set explicitly so the umask does not widen or narrow it on creation.
func OpenAppendFile(path string, perm os.FileMode) (*os.File, error) {
	_, statErr := os.Stat(path)
	created := os.IsNotExist(statErr)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, perm)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	if created {
		if err := os.Chmod(path, perm); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to set permissions on %s: %w", path, err)
		}
	}

	return file, nil
}

// IsWorldReadable reports whether others may read a file with perm.
func IsWorldReadable(perm os.FileMode) bool {
	return perm&0004 != 0
}

// IsWorldWritable reports whether others may write a file with perm.
func IsWorldWritable(perm os.FileMode) bool {
	return perm&0002 != 0
}

// ValidateSecurePermissions fails when a file holding credentials can be
// read or written by other users.
func ValidateSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	perm := info.Mode().Perm()
	if IsWorldWritable(perm) {
		return fmt.Errorf("file %s is world-writable (%04o), which is a serious security risk", path, perm)
	}
	if IsWorldReadable(perm) {
		return fmt.Errorf("file %s is world-readable (%04o), which is insecure for credentials", path, perm)
	}

	return nil
}
