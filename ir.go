package yoloprep

// The intermediate annotation representation.

import (
	"fmt"
	"math"
	"strings"
)

// ShapeKind is the geometry type of an annotated region.
type ShapeKind int

// The known shape kinds.
const (
	ShapeOther ShapeKind = iota // Any shape type other than rectangle and polygon.
	ShapeRectangle
	ShapePolygon
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeRectangle:
		return "rectangle"
	case ShapePolygon:
		return "polygon"
	}
	return "other"
}

// shapeKindFrom maps a LabelMe shape_type to a ShapeKind. An absent shape type is a polygon.
func shapeKindFrom(shapeType *string) ShapeKind {
	if shapeType == nil {
		return ShapePolygon
	}
	switch *shapeType {
	case "rectangle":
		return ShapeRectangle
	case "polygon":
		return ShapePolygon
	}
	return ShapeOther
}

// Point is a position in pixels from the top-left corner of the image.
type Point struct {
	X, Y float64
}

// Shape is the intermediate representation of one labelled region.
type Shape struct {
	Kind   ShapeKind
	Label  string
	Points []Point // Two opposite corners for rectangles, the vertices in order for polygons.
}

// Bounds is the axis-aligned bounding box x1, y1, x2, y2 of all points.
func (s Shape) Bounds() [4]float64 {
	b := [4]float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, p := range s.Points {
		b[0] = math.Min(b[0], p.X)
		b[1] = math.Min(b[1], p.Y)
		b[2] = math.Max(b[2], p.X)
		b[3] = math.Max(b[3], p.Y)
	}
	return b
}

// AnnotatedFile is the intermediate representation of one annotation record.
type AnnotatedFile struct {
	FilePath    string  // The annotation file.
	ImagePath   string  // The annotated image, if known.
	ImageWidth  float64 // In pixels.
	ImageHeight float64 // In pixels.
	Shapes      []Shape
}

// Stem is the base name of the annotation file without extension. Output records use it as their
// name.
func (f AnnotatedFile) Stem() string {
	return stem(f.FilePath)
}

// LabelMapping is a label (sub-)string replacement.
type LabelMapping struct {
	Old, New string
}

// ParseLabelMappings parses mappings of the format old=new.
func ParseLabelMappings(mappings []string) ([]LabelMapping, error) {
	replacements := make([]LabelMapping, 0, len(mappings))
	for _, v := range mappings {
		if v == "" {
			continue
		}
		a := strings.Split(v, "=")
		if len(a) != 2 {
			return nil, fmt.Errorf("invalid mapping: %v", v)
		}
		replacements = append(replacements, LabelMapping{Old: a[0], New: a[1]})
	}
	return replacements, nil
}

// mapLabel applies the replacements, in order, to label.
func mapLabel(label string, mappings []LabelMapping) string {
	for _, r := range mappings {
		label = strings.Replace(label, r.Old, r.New, -1)
	}
	return label
}

// MapLabels applies the label mappings to all shapes and returns the number of changed labels.
func (f *AnnotatedFile) MapLabels(mappings []LabelMapping) int {
	if len(mappings) == 0 {
		return 0
	}

	count := 0
	for i := range f.Shapes {
		s := &f.Shapes[i]
		old := s.Label
		s.Label = mapLabel(s.Label, mappings)
		if s.Label != old {
			count++
		}
	}
	return count
}
