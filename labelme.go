package yoloprep

// LabelMe specific functionality.

import (
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// LabelMeShape is a single annotated region within a LabelMe file.
type LabelMeShape struct {
	Label     *string         `json:"label"`
	Points    [][]float64     `json:"points"`
	ShapeType *string         `json:"shape_type"`
	GroupID   *int            `json:"group_id,omitempty"`
	Flags     map[string]bool `json:"flags,omitempty"`

	// ShapeTypeNull is set when shape_type is present but null, which a nil ShapeType cannot
	// tell apart from an absent key.
	ShapeTypeNull bool `json:"-"`
}

// UnmarshalJSON decodes a shape and records an explicit null shape_type.
func (s *LabelMeShape) UnmarshalJSON(data []byte) error {
	type plain LabelMeShape
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	v, ok := fields["shape_type"]

	*s = LabelMeShape(p)
	s.ShapeTypeNull = ok && v == nil
	return nil
}

// kind is the ShapeKind of s. An absent shape_type is a polygon, a null one is not a known type.
func (s LabelMeShape) kind() ShapeKind {
	if s.ShapeTypeNull {
		return ShapeOther
	}
	return shapeKindFrom(s.ShapeType)
}

// LabelMeFile defines the LabelMe annotation structure for a single image. The embedded image
// data is not decoded.
type LabelMeFile struct {
	Version     string         `json:"version,omitempty"`
	Shapes      []LabelMeShape `json:"shapes"`
	ImagePath   string         `json:"imagePath,omitempty"`
	ImageHeight *float64       `json:"imageHeight"`
	ImageWidth  *float64       `json:"imageWidth"`
}

// ParseOptions control how LabelMe files are read into the intermediate representation.
type ParseOptions struct {
	LabelMappings []LabelMapping // Applied to every label as it is read.

	// ProbeImageSize enables reading the image size from ImageDir when a file lacks a valid
	// imageWidth or imageHeight.
	ProbeImageSize bool
	ImageDir       string
}

// readLabelMe reads and decodes the LabelMe file at path.
func readLabelMe(fs afero.Fs, path string) (LabelMeFile, error) {
	enc, err := afero.ReadFile(fs, path)
	if err != nil {
		return LabelMeFile{}, err
	}

	var data LabelMeFile
	if err := json.Unmarshal(enc, &data); err != nil {
		return LabelMeFile{}, errors.Wrapf(err, "failed to parse LabelMe input from %q", path)
	}
	return data, nil
}

// labelsInLabelMe returns the labels of all shapes in the LabelMe file at path, after mapping.
// A shape without a label is an error.
func labelsInLabelMe(fs afero.Fs, path string, mappings []LabelMapping) ([]string, error) {
	data, err := readLabelMe(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read %q", path)
	}

	labels := make([]string, 0, len(data.Shapes))
	for i, s := range data.Shapes {
		if s.Label == nil || *s.Label == "" {
			return nil, errors.Errorf("shape %d in %q has no label", i, path)
		}
		labels = append(labels, mapLabel(*s.Label, mappings))
	}
	return labels, nil
}

// FromLabelMe reads and parses the LabelMe file at path.
//
// The image size and, for every shape, the label and points are required. Missing values fail the
// whole file.
func FromLabelMe(fs afero.Fs, path string, opts ParseOptions) (AnnotatedFile, error) {
	data, err := readLabelMe(fs, path)
	if err != nil {
		return AnnotatedFile{}, err
	}

	f := AnnotatedFile{
		FilePath: path,
		Shapes:   make([]Shape, 0, len(data.Shapes)),
	}

	// Image size.
	if data.ImageWidth != nil {
		f.ImageWidth = *data.ImageWidth
	}
	if data.ImageHeight != nil {
		f.ImageHeight = *data.ImageHeight
	}
	if f.ImageWidth <= 0 || f.ImageHeight <= 0 {
		if !opts.ProbeImageSize {
			return AnnotatedFile{}, errors.Errorf("missing or invalid imageWidth/imageHeight in %q", path)
		}
		imagePath := findImageByStem(fs, opts.ImageDir, f.Stem())
		if imagePath == "" {
			return AnnotatedFile{}, errors.Errorf(
				"missing imageWidth/imageHeight in %q and no image to read the size from", path)
		}
		w, h, err := probeImageSize(fs, imagePath)
		if err != nil {
			return AnnotatedFile{}, errors.Wrapf(err, "failed to read the image size of %q", imagePath)
		}
		log.WithFields(log.Fields{"file": path, "image": imagePath, "width": w, "height": h}).
			Debug("Image size read from the image")
		f.ImagePath = imagePath
		f.ImageWidth, f.ImageHeight = float64(w), float64(h)
	}

	// Shapes.
	for i, s := range data.Shapes {
		if s.Label == nil || *s.Label == "" {
			return AnnotatedFile{}, errors.Errorf("shape %d in %q has no label", i, path)
		}
		if s.Points == nil {
			return AnnotatedFile{}, errors.Errorf("shape %d in %q has no points", i, path)
		}

		shape := Shape{
			Kind:   s.kind(),
			Label:  *s.Label,
			Points: make([]Point, len(s.Points)),
		}
		for j, p := range s.Points {
			if len(p) < 2 {
				return AnnotatedFile{}, errors.Errorf("point %d of shape %d in %q has %d coordinates",
					j, i, path, len(p))
			}
			shape.Points[j] = Point{X: p[0], Y: p[1]}
		}
		f.Shapes = append(f.Shapes, shape)
	}

	f.MapLabels(opts.LabelMappings)
	return f, nil
}
