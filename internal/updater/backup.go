package updater

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/smazurov/loopcast/internal/logging"
)

const (
	backupFilename     = "loopcast.backup"
	backupInfoFilename = "backup.json"
)

type backupInfo struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	ExecPath  string    `json:"exec_path"`
}

// backupStore keeps a single copy of a previous binary.
type backupStore struct {
	mu     sync.RWMutex
	dir    string
	info   *backupInfo
	logger logging.Logger
}

func newBackupStore(dir string, logger logging.Logger) (*backupStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	s := &backupStore{dir: dir, logger: logger}
	s.load()
	return s, nil
}

func (s *backupStore) load() {
	data, err := os.ReadFile(filepath.Join(s.dir, backupInfoFilename))
	if err != nil {
		return
	}

	var info backupInfo
	if err := json.Unmarshal(data, &info); err != nil {
		s.logger.Warn("Failed to parse backup info", "error", err)
		return
	}

	backupPath := filepath.Join(s.dir, backupFilename)
	if _, err := os.Stat(backupPath); err != nil {
		s.logger.Warn("Backup file missing", "path", backupPath)
		return
	}

	s.mu.Lock()
	s.info = &info
	s.mu.Unlock()
}

// create copies execPath into the store, replacing any earlier backup.
func (s *backupStore) create(execPath, version string) error {
	backupPath := filepath.Join(s.dir, backupFilename)
	if err := copyFile(execPath, backupPath); err != nil {
		return err
	}

	info := backupInfo{
		Version:   version,
		CreatedAt: time.Now(),
		ExecPath:  execPath,
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal backup info: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, backupInfoFilename), data, 0o644); err != nil {
		return fmt.Errorf("failed to write backup info: %w", err)
	}

	s.mu.Lock()
	s.info = &info
	s.mu.Unlock()

	s.logger.Info("Backup created", "version", version, "path", backupPath)
	return nil
}

// restore puts the backup back at its original path. The file is staged
// next to the target and renamed over it, since a running executable
// cannot be opened for writing.
func (s *backupStore) restore() error {
	s.mu.RLock()
	info := s.info
	s.mu.RUnlock()

	if info == nil {
		return fmt.Errorf("no backup available")
	}

	staged := info.ExecPath + ".restore"
	if err := copyFile(filepath.Join(s.dir, backupFilename), staged); err != nil {
		return err
	}
	if err := os.Rename(staged, info.ExecPath); err != nil {
		_ = os.Remove(staged)
		return fmt.Errorf("failed to replace executable: %w", err)
	}

	s.logger.Info("Backup restored", "version", info.Version)
	return nil
}

func (s *backupStore) available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info != nil
}

func (s *backupStore) version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.info == nil {
		return ""
	}
	return s.info.Version
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
