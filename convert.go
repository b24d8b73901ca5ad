package yoloprep

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// minWorkers is the lower bound for the size of the conversion worker pool.
const minWorkers = 4

// DefaultWorkers is the number of parallel conversion tasks: the number of CPUs, at least 4.
func DefaultWorkers() int {
	if n := runtime.NumCPU(); n > minWorkers {
		return n
	}
	return minWorkers
}

// RecordResult is the outcome of converting one annotation file.
type RecordResult struct {
	Path      string         // The annotation file.
	LabelPath string         // The written label file, empty on failure.
	Lines     int            // Number of label lines written.
	Skipped   int            // Number of shapes without a label line.
	Record    *AnnotatedFile // The parsed record, if requested with ConvertOptions.KeepRecords.
	Err       error          // A *RecordError on failure.
}

// ConversionSummary is the report for a batch conversion.
type ConversionSummary struct {
	Total     int // Number of annotation files attempted.
	Converted int
	Failed    int
	LabelDir  string
	Classes   []string
	Results   []RecordResult // In the order of the input files.
}

// ConvertOptions configure ConvertAll.
type ConvertOptions struct {
	ParseOptions
	Workers     int  // Pool size; DefaultWorkers() if <= 0.
	KeepRecords bool // Keep the parsed records in the results.
}

// ConvertRecord converts the LabelMe file at path to a YOLO label file in labelDir.
func ConvertRecord(fs afero.Fs, path, labelDir string, registry ClassRegistry, opts ParseOptions,
) RecordResult {
	res := RecordResult{Path: path}

	f, err := FromLabelMe(fs, path, opts)
	if err != nil {
		res.Err = &RecordError{Path: path, Err: err}
		return res
	}

	lines, skipped := ToYOLO(f, registry)
	labelPath, err := WriteYOLO(fs, labelDir, f, lines)
	if err != nil {
		res.Err = &RecordError{Path: path, Err: err}
		return res
	}

	res.LabelPath = labelPath
	res.Lines = len(lines)
	res.Skipped = skipped
	res.Record = &f
	return res
}

// ConvertAll converts all jsonFiles to YOLO label files in labelDir, in parallel.
//
// The conversion of each file is independent: failures are logged and reported in the summary
// without affecting other files. The registry is only read. Cancelling ctx prevents tasks that
// have not started yet from running, and ConvertAll then returns the context error; label files
// being written are always completed.
func ConvertAll(ctx context.Context, fs afero.Fs, jsonFiles []string, labelDir string,
	registry ClassRegistry, opts ConvertOptions) (ConversionSummary, error) {

	summary := ConversionSummary{
		Total:    len(jsonFiles),
		LabelDir: labelDir,
		Classes:  registry.Names(),
		Results:  make([]RecordResult, len(jsonFiles)),
	}

	if err := fs.MkdirAll(labelDir, os.ModePerm); err != nil {
		return summary, errors.Wrapf(err, "cannot create directory %q", labelDir)
	}

	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = DefaultWorkers()
	}
	pool, err := ants.NewPool(numWorkers)
	if err != nil {
		return summary, errors.Wrap(err, "cannot create the worker pool")
	}
	defer pool.Release()

	log.Printf("Converting %d files with %d workers", len(jsonFiles), numWorkers)

	// Every task writes to its own slot in summary.Results.
	var wg sync.WaitGroup
	for i, path := range jsonFiles {
		i, path := i, path
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if e := recover(); e != nil {
					summary.Results[i] = RecordResult{
						Path: path,
						Err:  &RecordError{Path: path, Err: fmt.Errorf("panic: %v", e)},
					}
				}
			}()

			if ctx.Err() != nil {
				summary.Results[i] = RecordResult{Path: path, Err: &RecordError{Path: path, Err: ctx.Err()}}
				return
			}
			res := ConvertRecord(fs, path, labelDir, registry, opts.ParseOptions)
			if !opts.KeepRecords {
				res.Record = nil
			}
			summary.Results[i] = res
		})
		if err != nil {
			wg.Done()
			summary.Results[i] = RecordResult{Path: path, Err: &RecordError{Path: path, Err: err}}
		}
	}
	wg.Wait()

	for _, r := range summary.Results {
		if r.Err != nil {
			summary.Failed++
			if !errors.Is(r.Err, context.Canceled) && !errors.Is(r.Err, context.DeadlineExceeded) {
				log.WithField("file", r.Path).WithError(r.Err).Warn("Conversion failed")
			}
			continue
		}
		summary.Converted++
	}

	if err := ctx.Err(); err != nil {
		return summary, errors.Wrap(err, "conversion cancelled")
	}
	log.Printf("Converted %d of %d files (%d failed)", summary.Converted, summary.Total,
		summary.Failed)
	return summary, nil
}
