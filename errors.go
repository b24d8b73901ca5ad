package yoloprep

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Errors returned by the conversion and split stages. Use errors.Is to test for them; the
// returned errors wrap these with the offending path.
var (
	ErrNotFound      = errors.New("not found")
	ErrEmptyCorpus   = errors.New("no annotation files")
	ErrNoLabelsFound = errors.New("no labels found in any annotation file")

	ErrMissingDirectory = errors.New("missing directory")
	ErrNoImages         = errors.New("no supported image files")
	ErrNoLabels         = errors.New("no label files")
	ErrNoMatch          = errors.New("no image matches a label file")
)

// maxMismatchExamples is the number of example stems listed per side in a NoMatchError.
const maxMismatchExamples = 3

// NoMatchError is returned when none of the images in a dataset has a label file with the same
// base name.
type NoMatchError struct {
	ImageDir, LabelDir string
	NumImages          int      // Distinct image stems.
	NumLabels          int      // Distinct label stems.
	LabelsOnly         []string // Example stems with a label but no image.
	ImagesOnly         []string // Example stems with an image but no label.
}

func (e *NoMatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no image in %q matches a label file in %q (found %d images, %d labels)",
		e.ImageDir, e.LabelDir, e.NumImages, e.NumLabels)
	if len(e.LabelsOnly) > 0 {
		fmt.Fprintf(&b, "; labels without image, e.g. %s", strings.Join(e.LabelsOnly, ", "))
	}
	if len(e.ImagesOnly) > 0 {
		fmt.Fprintf(&b, "; images without label, e.g. %s", strings.Join(e.ImagesOnly, ", "))
	}
	b.WriteString("; check that file names are identical apart from the extension")
	return b.String()
}

// Is reports whether target is ErrNoMatch.
func (e *NoMatchError) Is(target error) bool {
	return target == ErrNoMatch
}

// RecordError is the failure to convert a single annotation file. It is reported per record and
// never aborts a batch.
type RecordError struct {
	Path string
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("failed to convert %q: %v", e.Path, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
