package updater

import (
	"context"
	"fmt"

	"github.com/creativeprojects/go-selfupdate"
)

// githubSource reads releases of one GitHub repository.
type githubSource struct {
	updater *selfupdate.Updater
	repo    selfupdate.Repository
}

// NewGitHubSource creates a Source backed by GitHub releases of slug.
func NewGitHubSource(slug string, prerelease bool) (Source, error) {
	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub source: %w", err)
	}

	updater, err := selfupdate.NewUpdater(selfupdate.Config{
		Source:     source,
		Prerelease: prerelease,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create updater: %w", err)
	}

	return &githubSource{
		updater: updater,
		repo:    selfupdate.ParseSlug(slug),
	}, nil
}

func (g *githubSource) Latest(ctx context.Context, current string) (Release, bool, error) {
	rel, found, err := g.updater.DetectLatest(ctx, g.repo)
	if err != nil || !found {
		return Release{}, found, err
	}

	return Release{
		Version:     rel.Version(),
		Notes:       rel.ReleaseNotes,
		URL:         rel.URL,
		PublishedAt: rel.PublishedAt,
		AssetSize:   rel.AssetByteSize,
		// dev builds are always outdated
		Newer:  current == "dev" || rel.GreaterThan(current),
		handle: rel,
	}, true, nil
}

func (g *githubSource) Apply(ctx context.Context, rel Release, exePath string) error {
	handle, ok := rel.handle.(*selfupdate.Release)
	if !ok || handle == nil {
		return fmt.Errorf("release %s was not found by this source", rel.Version)
	}
	return g.updater.UpdateTo(ctx, handle, exePath)
}

// ExecutablePath returns the resolved path of the running binary.
func ExecutablePath() (string, error) {
	return selfupdate.ExecutablePath()
}
