package yoloprep

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// The dataset layout under the dataset root.
const (
	JSONDirName     = "jsons"      // LabelMe annotation files (input).
	ImageDirName    = "images"     // Images (input).
	LabelDirName    = "labels"     // YOLO label files.
	ValImageDirName = "val_images" // Copies of the validation images.
	TrainListName   = "train.txt"
	ValListName     = "val.txt"
	ManifestName    = "data.yaml"

	TFRecordTrainName    = "train.record"
	TFRecordValName      = "val.record"
	TFRecordLabelMapName = "label_map.pbtxt"
)

// Options configure ConvertAndSplit. The zero value is usable.
type Options struct {
	TrainFraction  *float64 // See SplitOptions.
	Workers        int      // See ConvertOptions.
	LabelMappings  []string // Label replacements of the form old=new.
	KeepLabels     []string // Labels to keep after mapping; empty keeps all.
	ProbeImageSize bool     // See ParseOptions.
	TFRecord       bool     // Also write the split as TFRecord files.
	NumShards      int      // TFRecord shards per set.
	Rand           Shuffler // See SplitOptions.

	// Progress receives human readable stage messages. May be nil.
	Progress func(msg string)
}

func (o Options) progress(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Debug(msg)
	if o.Progress != nil {
		o.Progress(msg)
	}
}

// ConvertAndSplit converts the LabelMe dataset at root to the YOLO format and splits it into a
// training and a validation set. Returns the path of the dataset manifest.
//
// The stages run in order: class discovery, parallel label conversion, split (and the optional
// TFRecord export). The first failing stage ends the run; files written by earlier stages are
// kept. Failures to convert single annotation files do not fail the run.
func ConvertAndSplit(ctx context.Context, fs afero.Fs, root string, opts Options) (
	manifestPath string, err error) {

	defer func() {
		if err != nil {
			opts.progress("[ERROR] Dataset conversion failed: %v", err)
		}
	}()

	mappings, err := ParseLabelMappings(opts.LabelMappings)
	if err != nil {
		return "", err
	}

	opts.progress("Processing dataset %s", root)

	// Discovery must complete before conversion, as any file may add a class.
	opts.progress("[step 1/3] Converting LabelMe JSON files to YOLO labels")
	registry, jsonFiles, err := DiscoverClasses(fs, root, mappings, opts.KeepLabels)
	if err != nil {
		return "", err
	}
	opts.progress("Found %d classes: %s", registry.Len(), strings.Join(registry.Names(), ", "))
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, "conversion cancelled")
	}

	convertOpts := ConvertOptions{
		ParseOptions: ParseOptions{
			LabelMappings:  mappings,
			ProbeImageSize: opts.ProbeImageSize,
			ImageDir:       filepath.Join(root, ImageDirName),
		},
		Workers:     opts.Workers,
		KeepRecords: opts.TFRecord,
	}
	summary, err := ConvertAll(ctx, fs, jsonFiles, filepath.Join(root, LabelDirName), registry,
		convertOpts)
	if err != nil {
		return "", err
	}
	opts.progress("[done] Converted %d of %d files into %s", summary.Converted, summary.Total,
		summary.LabelDir)
	if summary.Failed > 0 {
		opts.progress("%d files could not be converted, see the log for details", summary.Failed)
	}

	opts.progress("[step 2/3] Splitting into training and validation sets")
	split, err := SplitDataset(fs, root, summary.Classes, SplitOptions{
		TrainFraction: opts.TrainFraction,
		Rand:          opts.Rand,
	})
	if err != nil {
		return "", err
	}
	opts.progress("[done] %d training and %d validation images, manifest written to %s",
		len(split.Train), len(split.Val), split.ManifestPath)

	if !opts.TFRecord {
		if len(split.Val) > 0 {
			opts.progress("[step 3/3] Validation images copied to %s",
				filepath.Join(root, ValImageDirName))
		} else {
			opts.progress("[step 3/3] No validation images to copy")
		}
		return split.ManifestPath, nil
	}

	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, "conversion cancelled")
	}
	opts.progress("[step 3/3] Writing TFRecord files")
	if err := exportTFRecords(fs, root, split, summary, registry, opts.NumShards); err != nil {
		return "", err
	}
	opts.progress("[done] TFRecord files written to %s", root)

	return split.ManifestPath, nil
}

// exportTFRecords writes the training and validation sets of split as TFRecord files, along with
// the label map.
func exportTFRecords(fs afero.Fs, root string, split DatasetSplit, summary ConversionSummary,
	registry ClassRegistry, numShards int) error {

	records := make(map[string]*AnnotatedFile, len(summary.Results))
	for _, r := range summary.Results {
		if r.Record != nil {
			records[r.Record.Stem()] = r.Record
		}
	}

	// Pairs the images with the records converted in this run.
	recordsFor := func(images []string) []AnnotatedFile {
		data := make([]AnnotatedFile, 0, len(images))
		for _, img := range images {
			r, ok := records[stem(img)]
			if !ok {
				log.WithField("image", img).Debug("No annotation record from this run, skipping")
				continue
			}
			f := *r
			f.ImagePath = img
			data = append(data, f)
		}
		return data
	}

	for _, set := range []struct {
		name   string
		images []string
	}{
		{TFRecordTrainName, split.Train},
		{TFRecordValName, split.Val},
	} {
		path := filepath.Join(root, set.name)
		n, err := WriteTFRecord(fs, path, recordsFor(set.images), registry, numShards)
		if err != nil {
			return errors.Wrapf(err, "failed to write %q", path)
		}
		log.Printf("Wrote %d examples to %s", n, path)
	}

	return WriteTFRecordLabelMap(fs, filepath.Join(root, TFRecordLabelMapName), registry)
}
