// Package crawler discovers image files below a folder for import and
// watched-folder scans.
package crawler

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/prismon/photo-library/pkg/logger"
	"github.com/prismon/photo-library/pkg/pathutil"
	"github.com/sirupsen/logrus"
)

var log *logrus.Entry

func init() {
	log = logger.WithName("crawler")
}

// imageExtensions are the file types the library imports, lowercased without the dot
var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "bmp": true,
	"tif": true, "tiff": true, "webp": true, "heic": true, "heif": true,
	"dng": true, "cr2": true, "cr3": true, "nef": true, "arw": true,
	"raf": true, "orf": true, "rw2": true,
}

// IsImageFile reports whether the path has an importable image extension
func IsImageFile(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	return imageExtensions[ext]
}

// Options configures a crawl
type Options struct {
	// IncludeHidden descends into dot directories and returns dot files
	IncludeHidden bool
	// MaxDepth limits recursion; 0 means unlimited, 1 means only the root folder
	MaxDepth int
}

// Stats summarizes a crawl
type Stats struct {
	FilesFound           int
	FilesSkipped         int
	DirectoriesProcessed int
	Errors               int
	Duration             time.Duration
}

type frame struct {
	path  string
	depth int
}

// FindImages walks root depth-first and returns the image files it finds in
// lexical order. Unreadable directories are logged and skipped.
func FindImages(ctx context.Context, root string, opts Options) ([]string, *Stats, error) {
	start := time.Now()
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, nil, err
	}

	stats := &Stats{}
	if !info.IsDir() {
		if IsImageFile(abs) {
			stats.FilesFound = 1
			return []string{abs}, stats, nil
		}
		stats.FilesSkipped = 1
		return []string{}, stats, nil
	}

	log.WithField("root", abs).Info("Starting image discovery")

	found := []string{}
	stack := []frame{{path: abs, depth: 1}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}

		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(current.path)
		if err != nil {
			stats.Errors++
			log.WithFields(logrus.Fields{
				"path":  current.path,
				"error": err,
			}).Error("Failed to read directory")
			continue
		}
		stats.DirectoriesProcessed++

		for _, entry := range entries {
			name := entry.Name()
			if !opts.IncludeHidden && strings.HasPrefix(name, ".") {
				continue
			}
			path := filepath.Join(current.path, name)

			switch {
			case entry.IsDir():
				if opts.MaxDepth == 0 || current.depth < opts.MaxDepth {
					stack = append(stack, frame{path: path, depth: current.depth + 1})
				}
			case entry.Type().IsRegular() && IsImageFile(name):
				found = append(found, path)
				stats.FilesFound++
			default:
				stats.FilesSkipped++
			}
		}
	}

	slices.Sort(found)
	stats.Duration = time.Since(start)

	log.WithFields(logrus.Fields{
		"root":        abs,
		"images":      stats.FilesFound,
		"skipped":     stats.FilesSkipped,
		"directories": stats.DirectoriesProcessed,
		"errors":      stats.Errors,
		"duration":    stats.Duration,
	}).Info("Image discovery complete")

	return found, stats, nil
}

// CollectImages expands user-supplied paths into image files: folders are
// crawled, files are kept when they have an image extension. The result is
// de-duplicated and keeps input order. Inputs that do not exist are an error.
func CollectImages(ctx context.Context, inputs []string, opts Options) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, input := range inputs {
		path, err := pathutil.ExpandAndValidatePath(input)
		if err != nil {
			return nil, err
		}
		found, _, err := FindImages(ctx, path, opts)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out, nil
}
