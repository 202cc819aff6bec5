package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rendis/envsync/pkg/schema"
)

// BackupDir is the sibling directory backups are written to.
const BackupDir = ".env.backups"

const backupStamp = "2006-01-02-150405"

// maxBackupSuffix bounds the collision suffix when several runs land in the
// same second.
const maxBackupSuffix = 100

// Backup copies the target file into BackupDir next to it before the run
// mutates it. Returns the backup path, or "" when the target does not exist
// yet (first run, nothing to protect).
func Backup(target string) (string, error) {
	data, err := os.ReadFile(target)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", schema.NewError(schema.ErrCodeIO, "read target for backup").WithCause(err)
	}

	dir := filepath.Join(filepath.Dir(target), BackupDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", schema.NewError(schema.ErrCodeIO, "create backup directory").WithCause(err)
	}

	stem := filepath.Base(target) + "-" + time.Now().Format(backupStamp)
	path := filepath.Join(dir, stem)
	for i := 1; ; i++ {
		err := writeExclusive(path, data)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", schema.NewError(schema.ErrCodeIO, "write backup file").WithCause(err)
		}
		if i >= maxBackupSuffix {
			return "", schema.NewErrorf(schema.ErrCodeIO, "backup name collision for %s", stem)
		}
		path = filepath.Join(dir, fmt.Sprintf("%s-%d", stem, i))
	}
}

// writeExclusive writes data to a file that must not exist yet, so two runs
// in the same second cannot clobber each other's backup.
func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
