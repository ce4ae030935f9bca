// Package updater replaces the loopcast binary with a newer GitHub release,
// keeping one backup for rollback.
package updater

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/smazurov/loopcast/internal/logging"
)

// Updater checks for, applies and rolls back binary updates.
type Updater struct {
	source         Source
	backups        *backupStore
	currentVersion string
	executable     func() (string, error)
	logger         logging.Logger
}

// New creates an Updater for the running binary at currentVersion.
func New(source Source, currentVersion string, opts *Options) (*Updater, error) {
	if opts == nil {
		opts = &Options{}
	}

	backupDir := opts.BackupDir
	if backupDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		backupDir = filepath.Join(home, ".cache", "loopcast", "backup")
	}

	logger := logging.GetLogger("updater")
	backups, err := newBackupStore(backupDir, logger)
	if err != nil {
		return nil, err
	}

	return &Updater{
		source:         source,
		backups:        backups,
		currentVersion: currentVersion,
		executable:     ExecutablePath,
		logger:         logger,
	}, nil
}

// Check queries the source for the latest release without downloading it.
func (u *Updater) Check(ctx context.Context) (*UpdateInfo, error) {
	_, info, err := u.latest(ctx)
	return info, err
}

func (u *Updater) latest(ctx context.Context) (Release, *UpdateInfo, error) {
	rel, found, err := u.source.Latest(ctx, u.currentVersion)
	if err != nil {
		return Release{}, nil, newError(ErrCodeCheckFailed, "failed to check for updates", err)
	}
	if !found {
		return Release{}, nil, newError(ErrCodeNotFound, "repository not found or has no releases", nil)
	}

	info := &UpdateInfo{
		CurrentVersion:  u.currentVersion,
		LatestVersion:   rel.Version,
		UpdateAvailable: rel.Newer,
	}
	if rel.Newer {
		info.ReleaseNotes = rel.Notes
		info.ReleaseURL = rel.URL
		info.PublishedAt = rel.PublishedAt
		info.AssetSize = rel.AssetSize
	}
	return rel, info, nil
}

// Apply backs up the running binary and replaces it with the latest
// release. A failed replacement restores the backup. The new binary takes
// effect on the next start.
func (u *Updater) Apply(ctx context.Context) (*UpdateInfo, error) {
	rel, info, err := u.latest(ctx)
	if err != nil {
		return nil, err
	}
	if !info.UpdateAvailable {
		return info, newError(ErrCodeNoUpdate, "no update available", nil)
	}

	exe, err := u.executable()
	if err != nil {
		return nil, newError(ErrCodeApplyFailed, "failed to get executable path", err)
	}

	if err := u.backups.create(exe, u.currentVersion); err != nil {
		return nil, newError(ErrCodeBackupFailed, "failed to create backup", err)
	}

	if err := u.source.Apply(ctx, rel, exe); err != nil {
		if restoreErr := u.backups.restore(); restoreErr != nil {
			u.logger.Error("Automatic rollback failed", "error", restoreErr)
		} else {
			u.logger.Info("Automatic rollback completed")
		}
		return nil, newError(ErrCodeApplyFailed, "failed to apply update", err)
	}

	u.logger.Info("Update applied", "from", u.currentVersion, "to", rel.Version)
	return info, nil
}

// Rollback restores the binary saved by the last Apply and returns its version.
func (u *Updater) Rollback(_ context.Context) (string, error) {
	if !u.backups.available() {
		return "", newError(ErrCodeNoBackup, "no backup available for rollback", nil)
	}
	if err := u.backups.restore(); err != nil {
		return "", newError(ErrCodeRollbackFailed, "failed to restore backup", err)
	}
	return u.backups.version(), nil
}

// BackupVersion returns the version of the saved backup, or "".
func (u *Updater) BackupVersion() string {
	return u.backups.version()
}
