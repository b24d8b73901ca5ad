package yoloprep

import (
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// writePairs writes n images with label files to /ds.
func writePairs(t *testing.T, fs afero.Fs, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		writeFile(t, fs, fmt.Sprintf("/ds/images/img%02d.jpg", i), fmt.Sprintf("image %d", i))
		writeFile(t, fs, fmt.Sprintf("/ds/labels/img%02d.txt", i), "0 0.5 0.5 0.1 0.1")
	}
}

func TestSplitDataset(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePairs(t, fs, 10)
	writeFile(t, fs, "/ds/images/unlabelled.png", "x")
	writeFile(t, fs, "/ds/labels/orphan.txt", "")
	writeFile(t, fs, "/ds/images/notes.md", "not an image")

	split, err := SplitDataset(fs, "/ds", []string{"cat", "dog"}, SplitOptions{
		TrainFraction: Fraction(0.9),
		Rand:          identityShuffler{},
	})
	require.NoError(t, err)
	require.Len(t, split.Train, 9)
	require.Equal(t, []string{"/ds/images/img09.jpg"}, split.Val)

	var want strings.Builder
	for i := 0; i < 9; i++ {
		fmt.Fprintf(&want, "./images/img%02d.jpg\n", i)
	}
	require.Equal(t, want.String(), readFile(t, fs, "/ds/train.txt"))
	require.Equal(t, "./images/img09.jpg\n", readFile(t, fs, "/ds/val.txt"))

	copied, err := afero.ReadDir(fs, "/ds/val_images")
	require.NoError(t, err)
	require.Len(t, copied, 1)
	require.Equal(t, "img09.jpg", copied[0].Name())
	require.Equal(t, "image 9", readFile(t, fs, "/ds/val_images/img09.jpg"))

	require.Equal(t, "/ds/data.yaml", split.ManifestPath)
	m, err := ReadManifest(fs, split.ManifestPath)
	require.NoError(t, err)
	require.Equal(t, Manifest{Train: "/ds/train.txt", Val: "/ds/val.txt", NC: 2,
		Names: []string{"cat", "dog"}}, m)
}

func TestSplitDatasetShufflerOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePairs(t, fs, 4)

	split, err := SplitDataset(fs, "/ds", []string{"cat"}, SplitOptions{
		TrainFraction: Fraction(0.5),
		Rand:          reverseShuffler{},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"/ds/images/img03.jpg", "/ds/images/img02.jpg"}, split.Train)
	require.Equal(t, []string{"/ds/images/img01.jpg", "/ds/images/img00.jpg"}, split.Val)
	require.Equal(t, "./images/img01.jpg\n./images/img00.jpg\n", readFile(t, fs, "/ds/val.txt"))
}

func TestSplitDatasetPartition(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7, 10, 33} {
		for _, f := range []float64{0.1, 0.5, 0.75, 0.9, 1} {
			fs := afero.NewMemMapFs()
			writePairs(t, fs, n)

			split, err := SplitDataset(fs, "/ds", []string{"cat"}, SplitOptions{
				TrainFraction: Fraction(f),
				Rand:          rand.New(rand.NewSource(int64(n))),
			})
			require.NoError(t, err)

			wantTrain := int(math.Floor(float64(n) * f))
			require.Len(t, split.Train, wantTrain, "n=%d f=%v", n, f)
			require.Len(t, split.Val, n-wantTrain, "n=%d f=%v", n, f)

			all := append(append([]string(nil), split.Train...), split.Val...)
			sort.Strings(all)
			images, err := imageFilesInDir(fs, "/ds/images")
			require.NoError(t, err)
			require.Equal(t, images, all, "n=%d f=%v", n, f)

			valCopies, _ := afero.ReadDir(fs, "/ds/val_images")
			require.Len(t, valCopies, len(split.Val))
		}
	}
}

func TestSplitDatasetSingleImage(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePairs(t, fs, 1)

	split, err := SplitDataset(fs, "/ds", []string{"cat"}, SplitOptions{})
	require.NoError(t, err)
	require.Empty(t, split.Train)
	require.Equal(t, []string{"/ds/images/img00.jpg"}, split.Val)
	require.Equal(t, "", readFile(t, fs, "/ds/train.txt"))
}

func TestSplitDatasetExtensionCase(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/ds/images/a.JPG", "a")
	writeFile(t, fs, "/ds/images/b.Png", "b")
	writeFile(t, fs, "/ds/images/c.bmp", "c")
	writeFile(t, fs, "/ds/labels/a.txt", "")
	writeFile(t, fs, "/ds/labels/b.txt", "")
	writeFile(t, fs, "/ds/labels/c.txt", "")

	split, err := SplitDataset(fs, "/ds", nil, SplitOptions{TrainFraction: Fraction(1)})
	require.NoError(t, err)
	sort.Strings(split.Train)
	require.Equal(t, []string{"/ds/images/a.JPG", "/ds/images/b.Png", "/ds/images/c.bmp"},
		split.Train)
	require.Empty(t, split.Val)
}

func TestSplitDatasetNoMatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/ds/images/c.jpg", "")
	writeFile(t, fs, "/ds/images/d.jpg", "")
	writeFile(t, fs, "/ds/labels/a.txt", "")
	writeFile(t, fs, "/ds/labels/b.txt", "")

	_, err := SplitDataset(fs, "/ds", nil, SplitOptions{})
	require.True(t, errors.Is(err, ErrNoMatch), "%v", err)

	var noMatch *NoMatchError
	require.True(t, errors.As(err, &noMatch))
	require.Equal(t, 2, noMatch.NumImages)
	require.Equal(t, 2, noMatch.NumLabels)
	require.Equal(t, []string{"a", "b"}, noMatch.LabelsOnly)
	require.Equal(t, []string{"c", "d"}, noMatch.ImagesOnly)

	msg := err.Error()
	require.Contains(t, msg, "found 2 images, 2 labels")
	require.Contains(t, msg, "a, b")
	require.Contains(t, msg, "c, d")

	ok, _ := afero.Exists(fs, "/ds/data.yaml")
	require.False(t, ok)
}

func TestSplitDatasetErrors(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := SplitDataset(fs, "/ds", nil, SplitOptions{})
	require.True(t, errors.Is(err, ErrMissingDirectory), "%v", err)

	require.NoError(t, fs.MkdirAll("/ds/images", 0755))
	_, err = SplitDataset(fs, "/ds", nil, SplitOptions{})
	require.True(t, errors.Is(err, ErrMissingDirectory), "%v", err)
	require.Contains(t, err.Error(), filepath.Join("/ds", "labels"))

	require.NoError(t, fs.MkdirAll("/ds/labels", 0755))
	writeFile(t, fs, "/ds/images/readme.txt", "")
	_, err = SplitDataset(fs, "/ds", nil, SplitOptions{})
	require.True(t, errors.Is(err, ErrNoImages), "%v", err)

	writeFile(t, fs, "/ds/images/a.jpg", "")
	_, err = SplitDataset(fs, "/ds", nil, SplitOptions{})
	require.True(t, errors.Is(err, ErrNoLabels), "%v", err)

	writeFile(t, fs, "/ds/labels/a.txt", "")
	for _, f := range []float64{-0.1, 1.5, math.NaN()} {
		_, err = SplitDataset(fs, "/ds", nil, SplitOptions{TrainFraction: Fraction(f)})
		require.Error(t, err, "%v", f)
	}
}

func TestSplitDatasetOverwritesValCopies(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePairs(t, fs, 1)
	writeFile(t, fs, "/ds/val_images/img00.jpg", "stale")

	mtime := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, fs.Chtimes("/ds/images/img00.jpg", mtime, mtime))
	require.NoError(t, fs.Chmod("/ds/images/img00.jpg", 0640))

	split, err := SplitDataset(fs, "/ds", nil, SplitOptions{TrainFraction: Fraction(0)})
	require.NoError(t, err)
	require.Equal(t, []string{"/ds/images/img00.jpg"}, split.Val)

	require.Equal(t, "image 0", readFile(t, fs, "/ds/val_images/img00.jpg"))
	info, err := fs.Stat("/ds/val_images/img00.jpg")
	require.NoError(t, err)
	require.True(t, info.ModTime().Equal(mtime), "mtime %v", info.ModTime())
	require.Equal(t, 0640, int(info.Mode().Perm()))
}

func TestSplitDatasetFractionBounds(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePairs(t, fs, 4)

	split, err := SplitDataset(fs, "/ds", nil, SplitOptions{TrainFraction: Fraction(0)})
	require.NoError(t, err)
	require.Empty(t, split.Train)
	require.Len(t, split.Val, 4)
	require.Equal(t, "", readFile(t, fs, "/ds/train.txt"))

	// Nil selects the default.
	split, err = SplitDataset(fs, "/ds", nil, SplitOptions{Rand: identityShuffler{}})
	require.NoError(t, err)
	require.Len(t, split.Train, int(math.Floor(4*DefaultTrainFraction)))
}
