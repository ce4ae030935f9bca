package updater

import (
	"context"
	"time"
)

// DefaultRepository is the GitHub slug releases are published under.
const DefaultRepository = "smazurov/loopcast"

// Release is a published build that can replace the running binary.
type Release struct {
	Version     string    `json:"version"`
	Notes       string    `json:"release_notes,omitempty"`
	URL         string    `json:"release_url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	AssetSize   int       `json:"asset_size"`
	Newer       bool      `json:"newer"` // newer than the version asked about

	handle any // source-specific release handle passed back to Apply
}

// Source finds and installs releases.
type Source interface {
	// Latest returns the newest release and whether one was found.
	// Newer is computed against current.
	Latest(ctx context.Context, current string) (Release, bool, error)

	// Apply replaces the binary at exePath with rel.
	Apply(ctx context.Context, rel Release, exePath string) error
}

// UpdateInfo describes the outcome of a check.
type UpdateInfo struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version"`
	ReleaseNotes    string    `json:"release_notes,omitempty"`
	ReleaseURL      string    `json:"release_url,omitempty"`
	PublishedAt     time.Time `json:"published_at"`
	AssetSize       int       `json:"asset_size"`
	UpdateAvailable bool      `json:"update_available"`
}

// Options configures an Updater.
type Options struct {
	BackupDir string // defaults to ~/.cache/loopcast/backup
}
