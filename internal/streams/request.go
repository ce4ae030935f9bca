package streams

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/smazurov/loopcast/internal/ffmpeg"
)

// ResolveRequest validates params and turns them into a builder request.
// Relative source paths are joined to mediaDir when it is set. The key is
// passed through untouched.
func ResolveRequest(params StartParams, mediaDir string) (ffmpeg.Request, error) {
	source := strings.TrimSpace(params.SourcePath)
	if source == "" {
		return ffmpeg.Request{}, NewStreamError(ErrCodeInvalidRequest, "source path is required", nil)
	}
	if strings.TrimSpace(params.DestinationKey) == "" {
		return ffmpeg.Request{}, NewStreamError(ErrCodeInvalidRequest, "destination key is required", nil)
	}

	if !filepath.IsAbs(source) && mediaDir != "" {
		source = filepath.Join(mediaDir, source)
	}

	fi, err := os.Stat(source)
	switch {
	case err != nil:
		return ffmpeg.Request{}, NewStreamError(ErrCodeSourceNotFound, "source file not found: "+source, err)
	case fi.IsDir():
		return ffmpeg.Request{}, NewStreamError(ErrCodeSourceNotFound, "source is a directory: "+source, nil)
	}

	return ffmpeg.Request{
		SourcePath:     source,
		DestinationKey: params.DestinationKey,
		Vertical:       ParseMode(params.Mode),
	}, nil
}
