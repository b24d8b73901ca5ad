package yoloprep

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// DefaultTrainFraction is the share of matched images assigned to the training set.
const DefaultTrainFraction = 0.9

// Fraction returns a pointer to f, for SplitOptions.TrainFraction and Options.TrainFraction.
func Fraction(f float64) *float64 {
	return &f
}

// Shuffler randomises the order of n elements. *rand.Rand implements it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// SplitOptions configure SplitDataset.
type SplitOptions struct {
	TrainFraction *float64 // In [0, 1]; nil selects DefaultTrainFraction.
	Rand          Shuffler // Nil selects a time-seeded source, so splits differ between runs.
}

// DatasetSplit is the result of SplitDataset.
type DatasetSplit struct {
	Train        []string // Training image paths, in list file order.
	Val          []string // Validation image paths, in list file order.
	TrainList    string   // Path of the training list file.
	ValList      string   // Path of the validation list file.
	ManifestPath string
	Manifest     Manifest
}

// SplitDataset matches the images in the "images" directory under root to the label files in the
// "labels" directory by base name, and randomly splits the matched images into a training and a
// validation set.
//
// The sets are written as list files of relative image paths, the validation images are copied to
// the "val_images" directory, and a manifest describing the dataset with the given classes is
// written to root.
func SplitDataset(fs afero.Fs, root string, classes []string, opts SplitOptions) (
	DatasetSplit, error) {

	fraction := DefaultTrainFraction
	if opts.TrainFraction != nil {
		fraction = *opts.TrainFraction
	}
	if fraction < 0 || fraction > 1 || math.IsNaN(fraction) {
		return DatasetSplit{}, errors.Errorf("invalid train fraction %v, must be in [0, 1]", fraction)
	}

	imageDir := filepath.Join(root, ImageDirName)
	labelDir := filepath.Join(root, LabelDirName)
	imageDirOK, _ := afero.DirExists(fs, imageDir)
	labelDirOK, _ := afero.DirExists(fs, labelDir)
	if !imageDirOK || !labelDirOK {
		return DatasetSplit{}, errors.Wrapf(ErrMissingDirectory,
			"both %q and %q must exist", imageDir, labelDir)
	}

	images, err := imageFilesInDir(fs, imageDir)
	if err != nil {
		return DatasetSplit{}, err
	}
	if len(images) == 0 {
		return DatasetSplit{}, errors.Wrapf(ErrNoImages, "in %q (supported: %v)", imageDir,
			ImageExtensions)
	}

	labels, err := filesByExtInDir(fs, labelDir, ".txt")
	if err != nil {
		return DatasetSplit{}, err
	}
	if len(labels) == 0 {
		return DatasetSplit{}, errors.Wrapf(ErrNoLabels, "no .txt files in %q", labelDir)
	}

	matched, err := matchImagesToLabels(images, labels, imageDir, labelDir)
	if err != nil {
		return DatasetSplit{}, err
	}

	// Shuffle and split.
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	rng.Shuffle(len(matched), func(i, j int) { matched[i], matched[j] = matched[j], matched[i] })

	splitIdx := int(math.Floor(float64(len(matched)) * fraction))
	split := DatasetSplit{
		Train:     matched[:splitIdx],
		Val:       matched[splitIdx:],
		TrainList: filepath.Join(root, TrainListName),
		ValList:   filepath.Join(root, ValListName),
	}
	log.Printf("Split %d matched images into %d training and %d validation images",
		len(matched), len(split.Train), len(split.Val))

	// Write the list files.
	if err := writeLines(fs, split.TrainList, relativeImagePaths(split.Train)); err != nil {
		return DatasetSplit{}, err
	}
	if err := writeLines(fs, split.ValList, relativeImagePaths(split.Val)); err != nil {
		return DatasetSplit{}, err
	}

	// Copy the validation images.
	if len(split.Val) > 0 {
		valImageDir := filepath.Join(root, ValImageDirName)
		if err := fs.MkdirAll(valImageDir, os.ModePerm); err != nil {
			return DatasetSplit{}, errors.Wrapf(err, "cannot create directory %q", valImageDir)
		}
		for _, src := range split.Val {
			dst := filepath.Join(valImageDir, filepath.Base(src))
			if err := copyFile(fs, src, dst); err != nil {
				return DatasetSplit{}, errors.Wrapf(err, "cannot copy %q", src)
			}
		}
	}

	// Write the manifest.
	split.Manifest = NewManifest(split.TrainList, split.ValList, classes)
	split.ManifestPath = filepath.Join(root, ManifestName)
	if err := WriteManifest(fs, split.ManifestPath, split.Manifest); err != nil {
		return DatasetSplit{}, err
	}

	return split, nil
}

// matchImagesToLabels returns the images whose stem equals the stem of a label file, in the order
// of images. If there are none, the error is a *NoMatchError.
func matchImagesToLabels(images, labels []string, imageDir, labelDir string) ([]string, error) {
	labelStems := stemSet(labels)

	matched := make([]string, 0, len(images))
	for _, p := range images {
		if _, ok := labelStems[stem(p)]; ok {
			matched = append(matched, p)
		}
	}
	if len(matched) > 0 {
		return matched, nil
	}

	imageStems := stemSet(images)
	return nil, &NoMatchError{
		ImageDir:   imageDir,
		LabelDir:   labelDir,
		NumImages:  len(imageStems),
		NumLabels:  len(labelStems),
		LabelsOnly: exampleStems(labelStems, imageStems),
		ImagesOnly: exampleStems(imageStems, labelStems),
	}
}

// exampleStems returns up to maxMismatchExamples sorted stems that are in a but not in b.
func exampleStems(a, b map[string][]string) []string {
	var diff []string
	for s := range a {
		if _, ok := b[s]; !ok {
			diff = append(diff, s)
		}
	}
	sort.Strings(diff)
	if len(diff) > maxMismatchExamples {
		diff = diff[:maxMismatchExamples]
	}
	return diff
}

// relativeImagePaths converts image paths to the "./images/<name>" form used in list files.
func relativeImagePaths(images []string) []string {
	rel := make([]string, len(images))
	for i, p := range images {
		rel[i] = "./" + ImageDirName + "/" + filepath.Base(p)
	}
	return rel
}
