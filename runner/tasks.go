package runner

import (
	"sort"

	"github.com/pkg/errors"
)

// Path keys for task inputs.
const (
	PathConfig  = "cfg"     // The tool's YAML configuration.
	PathDataset = "dataset" // A converted dataset root containing data.yaml.
	PathWeights = "weights" // Trained model weights.
	PathSource  = "source"  // Images to run predictions on.
)

// Task is an operation of the external detection tool.
type Task struct {
	ID            string
	Name          string
	RequiredPaths []string

	args func(paths map[string]string) []string
}

var tasks = map[string]Task{
	"train": {
		ID:            "train",
		Name:          "Train",
		RequiredPaths: []string{PathConfig, PathDataset},
		args: func(p map[string]string) []string {
			return []string{"cfg=" + p[PathConfig], "train",
				"data=" + p[PathDataset] + "/data.yaml", "name=train_results", "batch=-1"}
		},
	},
	"validate": {
		ID:            "validate",
		Name:          "Validate",
		RequiredPaths: []string{PathConfig, PathWeights, PathSource},
		args: func(p map[string]string) []string {
			return []string{"cfg=" + p[PathConfig], "predict", "model=" + p[PathWeights],
				"source=" + p[PathSource], "name=val_results", "retina_masks=True", "batch=1"}
		},
	},
	"export": {
		ID:            "export",
		Name:          "Export ONNX",
		RequiredPaths: []string{PathWeights, PathConfig},
		args: func(p map[string]string) []string {
			return []string{"cfg=" + p[PathConfig], "export", "model=" + p[PathWeights], "batch=1"}
		},
	},
}

// TaskIDs lists the known task IDs in sorted order.
func TaskIDs() []string {
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LookupTask returns the task with the given ID.
func LookupTask(id string) (Task, error) {
	t, ok := tasks[id]
	if !ok {
		return Task{}, errors.Errorf("unknown task %q", id)
	}
	return t, nil
}

// BuildCommand returns the command that runs task id with the given interpreter and tool script.
// Every path the task requires must be present and non-empty in paths.
func BuildCommand(id, python, script string, paths map[string]string) (Command, error) {
	t, err := LookupTask(id)
	if err != nil {
		return Command{}, err
	}
	if python == "" || script == "" {
		return Command{}, errors.Errorf("task %q needs the python executable and the tool script",
			t.Name)
	}
	for _, k := range t.RequiredPaths {
		if paths[k] == "" {
			return Command{}, errors.Errorf("task %q requires the %q path", t.Name, k)
		}
	}

	return Command{
		Path: python,
		Args: append([]string{script}, t.args(paths)...),
	}, nil
}
