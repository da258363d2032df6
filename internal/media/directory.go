package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog/log"
)

// SupportedVideoExtensions are the library file types eligible for posting.
var SupportedVideoExtensions = map[string]string{
	".mp4": "video/mp4",
	".mov": "video/quicktime",
	".mkv": "video/x-matroska",
}

// IsVideo reports whether ext (with dot, any case) is a supported video.
func IsVideo(ext string) bool {
	_, ok := SupportedVideoExtensions[strings.ToLower(ext)]
	return ok
}

// VideoFile is one file in the local video library.
type VideoFile struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// ScanLibrary lists supported videos directly inside dirPath (no
// recursion), sorted by name. A missing directory is created and yields
// an empty list. Symlinks to files are followed; symlinks to directories
// are skipped.
func ScanLibrary(dirPath string) ([]VideoFile, error) {
	info, err := os.Stat(dirPath)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dirPath, 0o755); err != nil {
			return nil, fmt.Errorf("create library directory: %w", err)
		}
		log.Info().Str("path", dirPath).Msg("Library directory created")
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to stat directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("path is not a directory: %s", dirPath)
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []VideoFile
	for _, d := range entries {
		if d.IsDir() || !IsVideo(filepath.Ext(d.Name())) {
			continue
		}
		path := filepath.Join(dirPath, d.Name())

		// os.Stat follows symlinks.
		fi, err := os.Stat(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to stat library file, skipping")
			continue
		}
		if fi.IsDir() {
			log.Debug().Str("path", path).Msg("Skipping symlink to directory")
			continue
		}
		files = append(files, VideoFile{
			Name:    d.Name(),
			Path:    path,
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})

	log.Info().Int("total_videos", len(files)).Str("directory", dirPath).Msg("Library scan complete")
	return files, nil
}

// TagsFromName turns a file name such as "misty_forest-river 2.mp4" into
// comma-separated tags ("misty, forest, river"), dropping the extension
// and words without letters.
func TagsFromName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	words := strings.FieldsFunc(base, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var tags []string
	for _, w := range words {
		if strings.IndexFunc(w, unicode.IsLetter) < 0 {
			continue
		}
		tags = append(tags, strings.ToLower(w))
	}
	return strings.Join(tags, ", ")
}
