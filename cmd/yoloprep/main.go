// Converts LabelMe datasets to the YOLO label format, splits them into training and validation
// sets, and runs the external detection tool on them.
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sensorable/yoloprep"
	"github.com/sensorable/yoloprep/runner"
)

func main() {
	parser := argparse.NewParser("yoloprep",
		"Prepares LabelMe datasets for YOLO and runs the detection tool")
	configPath := parser.String("c", "config", &argparse.Options{
		Help: "The config file path (default " + defaultConfigPath + " if present)"})

	// Dataset conversion.
	convertCmd := parser.NewCommand("convert",
		"Convert the LabelMe files in <dataset>/jsons to YOLO labels and split the dataset")
	datasetRoot := convertCmd.String("d", "dataset", &argparse.Options{Required: true,
		Help: "The dataset root with the jsons and images directories"})
	trainFraction := convertCmd.String("r", "train-fraction", &argparse.Options{
		Help: "The share of images for the training set, in [0, 1] (default from config)"})
	workers := convertCmd.Int("w", "workers", &argparse.Options{
		Help: "The number of parallel conversions (default from config)"})
	labelMappings := convertCmd.String("m", "map-labels", &argparse.Options{
		Help: "Comma-separated list of old=new label (sub-)string replacements"})
	keepLabels := convertCmd.String("k", "keep-labels", &argparse.Options{
		Help: "Comma-separated list of labels to keep (after map-labels; empty keeps all)"})
	probeSize := convertCmd.Flag("p", "probe-image-size", &argparse.Options{
		Help: "Read the image size from the image when an annotation file lacks it"})
	tfRecord := convertCmd.Flag("t", "tfrecord", &argparse.Options{
		Help: "Also write the training and validation sets as TFRecord files"})
	numShards := convertCmd.Int("n", "num-shards", &argparse.Options{Default: 1,
		Help: "The number of TFRecord shard files per set"})
	force := convertCmd.Flag("f", "force", &argparse.Options{
		Help: "Convert even if data conversion is disabled in the config"})

	// Detection tool tasks.
	taskCmds := make(map[string]*argparse.Command)
	taskPaths := make(map[string]map[string]*string)
	for _, id := range runner.TaskIDs() {
		task, _ := runner.LookupTask(id)
		cmd := parser.NewCommand(id, task.Name+" with the detection tool")
		paths := make(map[string]*string)
		for _, k := range task.RequiredPaths {
			paths[k] = cmd.String(taskPathShortNames[k], k, &argparse.Options{Required: true,
				Help: taskPathHelp[k]})
		}
		taskCmds[id] = cmd
		taskPaths[id] = paths
	}

	if err := parser.Parse(os.Args); err != nil {
		fmt.Fprint(os.Stderr, parser.Usage(err))
		os.Exit(1)
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load the configuration")
	}
	if err := cfg.setupLogging(); err != nil {
		log.WithError(err).Fatal("Invalid logging configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if convertCmd.Happened() {
		if !cfg.Features.EnableDataConversion && !*force {
			log.Fatal("Data conversion is disabled (features.enable_data_conversion), use -f to" +
				" override")
		}

		opts := yoloprep.Options{
			TrainFraction:  yoloprep.Fraction(cfg.Dataset.TrainFraction),
			Workers:        cfg.Dataset.Workers,
			LabelMappings:  splitList(*labelMappings),
			KeepLabels:     splitList(*keepLabels),
			ProbeImageSize: cfg.Dataset.ProbeImageSize || *probeSize,
			TFRecord:       *tfRecord,
			NumShards:      *numShards,
			Progress:       func(msg string) { fmt.Println(msg) },
		}
		if *trainFraction != "" {
			f, err := parseFraction(*trainFraction)
			if err != nil {
				log.WithError(err).Fatal("Invalid train fraction")
			}
			opts.TrainFraction = &f
		}
		if *workers > 0 {
			opts.Workers = *workers
		}

		manifestPath, err := yoloprep.ConvertAndSplit(ctx, afero.NewOsFs(), *datasetRoot, opts)
		if err != nil {
			log.WithError(err).Fatal("Dataset conversion failed")
		}
		log.Print("Dataset manifest: ", manifestPath)
		return
	}

	for id, cmd := range taskCmds {
		if !cmd.Happened() {
			continue
		}
		paths := make(map[string]string, len(taskPaths[id]))
		for k, v := range taskPaths[id] {
			paths[k] = *v
		}
		if err := runTask(ctx, cfg, id, paths); err != nil {
			log.WithError(err).Fatalf("Task %s failed", id)
		}
		return
	}
}

var taskPathShortNames = map[string]string{
	runner.PathConfig:  "y",
	runner.PathDataset: "d",
	runner.PathWeights: "w",
	runner.PathSource:  "s",
}

var taskPathHelp = map[string]string{
	runner.PathConfig:  "The detection tool's YAML config file",
	runner.PathDataset: "The converted dataset root containing data.yaml",
	runner.PathWeights: "The trained model weights",
	runner.PathSource:  "The image directory to predict on",
}

// runTask runs the detection tool task id and streams its output to stdout.
func runTask(ctx context.Context, cfg *Config, id string, paths map[string]string) error {
	cmd, err := runner.BuildCommand(id, cfg.Environment.PythonExecutable,
		cfg.Environment.ToolScript, paths)
	if err != nil {
		return err
	}

	// Catch an unconverted dataset before the tool starts up.
	if dataset := paths[runner.PathDataset]; dataset != "" {
		m, err := yoloprep.ReadManifest(afero.NewOsFs(), filepath.Join(dataset, yoloprep.ManifestName))
		if err != nil {
			return err
		}
		log.WithField("task", id).Infof("Dataset with %d classes: %s", m.NC,
			strings.Join(m.Names, ", "))
	}

	log.WithField("task", id).Info("[COMMAND] ", cmd)
	res, err := runner.Run(ctx, cmd, func(line string) { fmt.Println(line) })
	if res.Cancelled {
		log.WithField("task", id).Warn("Task stopped by the user")
	}
	if err != nil {
		return err
	}
	log.WithField("task", id).Info("Task completed")
	return nil
}

// parseFraction parses a train fraction in [0, 1].
func parseFraction(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.Wrapf(err, "cannot parse %q", s)
	}
	if f < 0 || f > 1 || math.IsNaN(f) {
		return 0, errors.Errorf("%v is not in [0, 1]", f)
	}
	return f, nil
}

// splitList splits a comma-separated list, dropping empty elements.
func splitList(s string) []string {
	var list []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			list = append(list, v)
		}
	}
	return list
}
