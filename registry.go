package yoloprep

import (
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ClassRegistry maps labels to class indices. The index of a label is its position in the sorted
// list of distinct labels. A registry is immutable once built and safe for concurrent use.
type ClassRegistry struct {
	names []string
	index map[string]int
}

// NewClassRegistry builds the registry for the given labels. Duplicates are removed.
func NewClassRegistry(labels []string) ClassRegistry {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}

	names := make([]string, 0, len(set))
	for l := range set {
		names = append(names, l)
	}
	sort.Strings(names)

	index := make(map[string]int, len(names))
	for i, l := range names {
		index[l] = i
	}
	return ClassRegistry{names: names, index: index}
}

// Index returns the class index of label, and false if the label is not registered.
func (r ClassRegistry) Index(label string) (int, bool) {
	i, ok := r.index[label]
	return i, ok
}

// Names returns a copy of the class names in index order.
func (r ClassRegistry) Names() []string {
	return append([]string(nil), r.names...)
}

// Len is the number of classes.
func (r ClassRegistry) Len() int {
	return len(r.names)
}

// DiscoverClasses reads every annotation file in the "jsons" directory under root and builds the
// class registry from all labels found. It returns the registry and the annotation file paths.
//
// Labels are mapped before registration. If keepLabels is not empty, only the labels listed in it
// are registered.
//
// Every file must be readable and every shape must have a label; otherwise no registry can be
// built and the error names the offending file.
func DiscoverClasses(fs afero.Fs, root string, mappings []LabelMapping, keepLabels []string) (
	ClassRegistry, []string, error) {

	jsonDir := filepath.Join(root, JSONDirName)
	if ok, _ := afero.DirExists(fs, jsonDir); !ok {
		return ClassRegistry{}, nil,
			errors.Wrapf(ErrNotFound, "no %q directory in %q", JSONDirName, root)
	}

	jsonFiles, err := filesByExtInDir(fs, jsonDir, ".json")
	if err != nil {
		return ClassRegistry{}, nil, err
	}
	if len(jsonFiles) == 0 {
		return ClassRegistry{}, nil, errors.Wrapf(ErrEmptyCorpus, "no .json files in %q", jsonDir)
	}
	log.Printf("Discovering classes in %d annotation files", len(jsonFiles))

	var keep map[string]bool
	if len(keepLabels) > 0 {
		keep = make(map[string]bool, len(keepLabels))
		for _, l := range keepLabels {
			keep[l] = true
		}
	}

	var labels []string
	for _, path := range jsonFiles {
		fileLabels, err := labelsInLabelMe(fs, path, mappings)
		if err != nil {
			return ClassRegistry{}, nil, errors.Wrap(err, "class discovery failed")
		}
		for _, l := range fileLabels {
			if keep != nil && !keep[l] {
				continue
			}
			labels = append(labels, l)
		}
	}

	registry := NewClassRegistry(labels)
	if registry.Len() == 0 {
		return ClassRegistry{}, nil,
			errors.Wrapf(ErrNoLabelsFound, "%d files in %q", len(jsonFiles), jsonDir)
	}

	return registry, jsonFiles, nil
}
