package yoloprep

import (
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/spf13/afero"
	_ "golang.org/x/image/webp" // Register the WebP decoder.
)

// probeImageSize decodes the image at path and returns its size as displayed, i.e. with the EXIF
// orientation applied. Annotation tools show and label the oriented image.
func probeImageSize(fs afero.Fs, path string) (width, height int, err error) {
	f, err := fs.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer closeWithErrCheck(f, &err)

	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return 0, 0, err
	}

	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}

// imageFormat is the image encoding name for path, based on its file extension.
func imageFormat(path string) string {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".jpg", ".jpeg":
		return "jpeg"
	case "":
		return ""
	default:
		return ext[1:]
	}
}
