package yoloprep

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Manifest is the dataset descriptor read by the detection tool. The field order is the key order
// in the written file.
type Manifest struct {
	Train string   `yaml:"train"` // Path of the training list file.
	Val   string   `yaml:"val"`   // Path of the validation list file.
	NC    int      `yaml:"nc"`    // Number of classes.
	Names []string `yaml:"names"` // Class names in class index order.
}

// NewManifest returns the manifest for the given list files and classes.
func NewManifest(trainList, valList string, classes []string) Manifest {
	return Manifest{
		Train: trainList,
		Val:   valList,
		NC:    len(classes),
		Names: append([]string{}, classes...),
	}
}

// WriteManifest writes m to path as YAML.
func WriteManifest(fs afero.Fs, path string, m Manifest) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return errors.Wrap(err, "failed to encode the manifest")
	}
	if err := enc.Close(); err != nil {
		return err
	}

	if err := afero.WriteFile(fs, path, buf.Bytes(), 0644); err != nil {
		return errors.Wrapf(err, "cannot write file %q", path)
	}
	return nil
}

// ReadManifest reads the manifest at path.
func ReadManifest(fs afero.Fs, path string) (Manifest, error) {
	enc, err := afero.ReadFile(fs, path)
	if err != nil {
		return Manifest{}, err
	}

	var m Manifest
	if err := yaml.Unmarshal(enc, &m); err != nil {
		return Manifest{}, errors.Wrapf(err, "failed to parse the manifest %q", path)
	}
	return m, nil
}
