package workers

import (
	"bytes"
	"context"
	"image"
	"io"
	"strconv"
	"strings"

	"github.com/prismon/photo-library/internal/models"
	"github.com/prismon/photo-library/pkg/tasks"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/mknote"
	"github.com/sirupsen/logrus"
)

func init() {
	exif.RegisterParsers(mknote.All...)
}

// ExifWorker reads capture date, camera, lens and orientation. Images without
// EXIF data complete with whatever the image header exposes.
type ExifWorker struct {
	fs Opener
}

func NewExifWorker(fs Opener) *ExifWorker {
	return &ExifWorker{fs: fs}
}

func (w *ExifWorker) Kinds() []models.TaskKind {
	return []models.TaskKind{models.TaskExif}
}

func (w *ExifWorker) Execute(ctx context.Context, job *tasks.Job) (tasks.Outcome, error) {
	r, err := openJob(w.fs, job)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(&ctxReader{ctx: ctx, r: r})
	r.Close()
	if err != nil {
		return nil, tasks.Retry(err)
	}

	var result tasks.ExifResult
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		result.Dimensions = &models.Dimensions{Width: cfg.Width, Height: cfg.Height}
	}

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		log.WithFields(logrus.Fields{
			"assetID": job.Task.AssetID,
			"error":   err,
		}).Debug("No EXIF data")
		return result, nil
	}
	return exifResult(x, result), nil
}

func exifResult(x *exif.Exif, result tasks.ExifResult) tasks.ExifResult {
	if t, err := x.DateTime(); err == nil {
		utc := t.UTC()
		result.ExifDate = &utc
	}

	maker, _ := stringTag(x, exif.Make)
	model, _ := stringTag(x, exif.Model)
	if camera := cameraName(maker, model); camera != "" {
		result.Camera = &camera
	}
	if lens, ok := stringTag(x, exif.LensModel); ok {
		result.Lens = &lens
	}
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			o := OrientationName(v)
			result.Orientation = &o
		}
	}
	if result.Dimensions == nil {
		w, werr := intTag(x, exif.PixelXDimension)
		h, herr := intTag(x, exif.PixelYDimension)
		if werr == nil && herr == nil {
			result.Dimensions = &models.Dimensions{Width: w, Height: h}
		}
	}
	return result
}

func stringTag(x *exif.Exif, name exif.FieldName) (string, bool) {
	tag, err := x.Get(name)
	if err != nil {
		return "", false
	}
	s, err := tag.StringVal()
	if err != nil {
		return "", false
	}
	s = strings.TrimSpace(strings.TrimRight(s, "\x00"))
	return s, s != ""
}

func intTag(x *exif.Exif, name exif.FieldName) (int, error) {
	tag, err := x.Get(name)
	if err != nil {
		return 0, err
	}
	return tag.Int(0)
}

// cameraName joins make and model, dropping the make when the model already starts with it
func cameraName(maker, model string) string {
	switch {
	case model == "":
		return maker
	case maker == "" || strings.HasPrefix(strings.ToLower(model), strings.ToLower(maker)):
		return model
	}
	return maker + " " + model
}

var orientationNames = map[int]string{
	1: "up",
	2: "upMirrored",
	3: "down",
	4: "downMirrored",
	5: "leftMirrored",
	6: "right",
	7: "rightMirrored",
	8: "left",
}

// OrientationName maps an EXIF orientation value to its name
func OrientationName(v int) string {
	if name, ok := orientationNames[v]; ok {
		return name
	}
	return strconv.Itoa(v)
}
