package workers

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format
	"image/jpeg"
	_ "image/png"  // Register PNG format
	"os"
	"path/filepath"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/tasks"
	_ "golang.org/x/image/bmp"  // Register BMP format
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // Register TIFF format
	_ "golang.org/x/image/webp" // Register WebP format
)

// ThumbnailConfig controls thumbnail output
type ThumbnailConfig struct {
	Dir       string
	MaxWidth  int
	MaxHeight int
	Quality   int
}

func DefaultThumbnailConfig(dir string) ThumbnailConfig {
	return ThumbnailConfig{Dir: dir, MaxWidth: 320, MaxHeight: 320, Quality: 80}
}

// ThumbnailWorker decodes the image, scales it to fit the configured box and
// writes it as JPEG named after the asset
type ThumbnailWorker struct {
	fs  Opener
	cfg ThumbnailConfig
}

func NewThumbnailWorker(fs Opener, cfg ThumbnailConfig) *ThumbnailWorker {
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = 320
	}
	if cfg.MaxHeight <= 0 {
		cfg.MaxHeight = 320
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 80
	}
	return &ThumbnailWorker{fs: fs, cfg: cfg}
}

func (w *ThumbnailWorker) Kinds() []models.TaskKind {
	return []models.TaskKind{models.TaskThumbnail}
}

func (w *ThumbnailWorker) Execute(ctx context.Context, job *tasks.Job) (tasks.Outcome, error) {
	r, err := openJob(w.fs, job)
	if err != nil {
		return nil, err
	}
	img, format, err := image.Decode(r)
	r.Close()
	if err != nil {
		return nil, tasks.Permanent(fmt.Errorf("failed to decode image: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.WithField("format", format).WithField("assetID", job.Task.AssetID).Debug("Decoded image")

	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return nil, tasks.Retry(fmt.Errorf("failed to create thumbnail directory: %w", err))
	}
	out := filepath.Join(w.cfg.Dir, job.Task.AssetID+".jpg")
	scaled := resizeImage(img, w.cfg.MaxWidth, w.cfg.MaxHeight)
	if err := writeJPEG(out, scaled, w.cfg.Quality); err != nil {
		return nil, tasks.Retry(fmt.Errorf("failed to write thumbnail: %w", err))
	}

	b := img.Bounds()
	return tasks.ThumbnailResult{
		Ref:        out,
		Dimensions: &models.Dimensions{Width: b.Dx(), Height: b.Dy()},
	}, nil
}

// resizeImage fits img into maxWidth x maxHeight preserving aspect ratio; it never upscales
func resizeImage(img image.Image, maxWidth, maxHeight int) image.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return img
	}

	targetW, targetH := width, height
	if targetW > maxWidth {
		targetW = maxWidth
		targetH = max(1, height*maxWidth/width)
	}
	if targetH > maxHeight {
		targetH = maxHeight
		targetW = max(1, width*maxHeight/height)
	}

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

func writeJPEG(path string, img image.Image, quality int) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: quality}); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
