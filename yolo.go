package yoloprep

// YOLO text label specific functionality.

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// coordPrecision is the number of decimal digits written for normalised coordinates.
const coordPrecision = 6

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', coordPrecision, 64)
}

// yoloLine formats shape s as a YOLO label line for an image of the given width and height.
//
// Rectangles with two points become "class cx cy w h", polygons "class x1 y1 x2 y2 ...". All
// coordinates are normalised by the image size but not clamped. Returns false for shapes that have
// no YOLO representation.
func yoloLine(s Shape, class int, width, height float64) (string, bool) {
	var fields []string
	switch s.Kind {
	case ShapeRectangle:
		if len(s.Points) != 2 {
			return "", false
		}
		p1, p2 := s.Points[0], s.Points[1]
		fields = []string{
			strconv.Itoa(class),
			formatCoord((p1.X + p2.X) / 2 / width),
			formatCoord((p1.Y + p2.Y) / 2 / height),
			formatCoord(math.Abs(p2.X-p1.X) / width),
			formatCoord(math.Abs(p2.Y-p1.Y) / height),
		}
	case ShapePolygon:
		if len(s.Points) == 0 {
			return "", false
		}
		fields = make([]string, 0, 1+2*len(s.Points))
		fields = append(fields, strconv.Itoa(class))
		for _, p := range s.Points {
			fields = append(fields, formatCoord(p.X/width), formatCoord(p.Y/height))
		}
	default:
		return "", false
	}
	return strings.Join(fields, " "), true
}

// ToYOLO converts the shapes of f to YOLO label lines, using the class indices from registry.
//
// Shapes with a label that is not in the registry are skipped with a warning. Shapes without a
// YOLO representation are skipped silently. Returns the lines and the number of skipped shapes.
func ToYOLO(f AnnotatedFile, registry ClassRegistry) (lines []string, skipped int) {
	lines = make([]string, 0, len(f.Shapes))
	for _, s := range f.Shapes {
		class, ok := registry.Index(s.Label)
		if !ok {
			log.WithFields(log.Fields{"file": f.FilePath, "label": s.Label}).
				Warn("Unknown label, skipping shape")
			skipped++
			continue
		}

		line, ok := yoloLine(s, class, f.ImageWidth, f.ImageHeight)
		if !ok {
			skipped++
			continue
		}
		lines = append(lines, line)
	}
	return lines, skipped
}

// WriteYOLO writes the label lines for f to labelDir, as a file named after f's stem with a .txt
// extension. The directory is created if necessary. Returns the path of the written file.
func WriteYOLO(fs afero.Fs, labelDir string, f AnnotatedFile, lines []string) (string, error) {
	if err := fs.MkdirAll(labelDir, os.ModePerm); err != nil {
		return "", errors.Wrapf(err, "cannot create directory %q", labelDir)
	}

	_, baseNoExt, _, err := splitPath(f.FilePath)
	if err != nil {
		return "", err
	}
	path := filepath.Join(labelDir, baseNoExt+".txt")

	if err := afero.WriteFile(fs, path, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return "", errors.Wrapf(err, "cannot write file %q", path)
	}
	return path, nil
}
